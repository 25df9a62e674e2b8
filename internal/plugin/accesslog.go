package plugin

import (
	"net"

	"go.uber.org/zap"

	pinglog "github.com/zhu327/pingsix/internal/log"

	"github.com/zhu327/pingsix/internal/catalog"
)

// accessLog is the built-in log-phase plugin: it renders the $variable
// format from spec.md §6 through internal/log.Render and writes one
// line per request through the shared logger. It is the in-process
// stand-in for the external "file log sink" collaborator spec.md
// describes — a real deployment redirects the process's log output,
// the plugin only produces the line.
type accessLog struct {
	format string
	logger *zap.SugaredLogger
}

// newAccessLogFactory closes over the process logger so every
// access-log instance built from route/service/global config shares
// it, the same way other components receive their logger at
// construction time rather than through a package global.
func newAccessLogFactory(logger *zap.SugaredLogger) Factory {
	return func(cfg catalog.PluginConfig) (Plugin, error) {
		a := &accessLog{format: pinglog.DefaultFormat, logger: logger}
		if v, ok := cfg["format"].(string); ok && v != "" {
			a.format = v
		}
		return a, nil
	}
}

func (a *accessLog) Name() string { return "access-log" }

func (a *accessLog) Log(s *Session, c *Ctx) {
	if a.logger == nil {
		return
	}

	host, port, err := net.SplitHostPort(s.RemoteAddr)
	if err != nil {
		host = s.RemoteAddr
	}

	errMsg := ""
	if c.Err != nil {
		errMsg = c.Err.Error()
	}

	vars := pinglog.Vars{
		RemoteAddr:    host,
		RemotePort:    port,
		HTTPHost:      s.Host,
		Request:       s.Method + " " + s.URI,
		RequestMethod: s.Method,
		RequestID:     c.RequestID,
		Status:        s.StatusCode,
		BodyBytesSent: s.BodyBytesSent,
		HTTPReferer:   s.Headers.Get("Referer"),
		HTTPUserAgent: s.Headers.Get("User-Agent"),
		RequestTime:   c.Elapsed().Seconds(),
		URI:           s.URI,
		Error:         errMsg,
	}
	a.logger.Info(pinglog.Render(a.format, vars))
}
