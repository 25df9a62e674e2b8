// Package log constructs the process-wide zap logger and renders the
// access-log variable format described in spec.md §6.
package log

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a *zap.Logger (callers take .Sugar() from it). dev selects a human-readable console
// encoder at debug level; production builds JSON at info level.
func New(dev bool) (*zap.Logger, error) {
	if dev {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return cfg.Build()
	}
	return zap.NewProduction()
}

// Vars holds the values substituted into a log format string. Fields left
// at their zero value render as "-", matching nginx/APISIX log conventions.
type Vars struct {
	RemoteAddr     string
	RemotePort     string
	RemoteUser     string
	TimeLocal      string
	Request        string
	RequestMethod  string
	RequestID      string
	Status         int
	BodyBytesSent  int64
	HTTPHost       string
	HTTPReferer    string
	HTTPUserAgent  string
	RequestTime    float64
	ServerAddr     string
	ServerProtocol string
	URI            string
	QueryString    string
	Error          string
}

// fieldNames lists "request_method", "request_id" and "request_time"
// before "request", so Render does not replace the "$request" prefix of
// those longer tokens.
var fieldNames = []string{
	"remote_addr", "remote_port", "remote_user", "time_local",
	"request_method", "request_id", "request_time", "request",
	"status", "body_bytes_sent", "http_host",
	"http_referer", "http_user_agent", "server_addr",
	"server_protocol", "uri", "query_string", "error",
}

func (v Vars) lookup(name string) string {
	switch name {
	case "remote_addr":
		return dash(v.RemoteAddr)
	case "remote_port":
		return dash(v.RemotePort)
	case "remote_user":
		return dash(v.RemoteUser)
	case "time_local":
		return dash(v.TimeLocal)
	case "request":
		return dash(v.Request)
	case "request_method":
		return dash(v.RequestMethod)
	case "request_id":
		return dash(v.RequestID)
	case "status":
		if v.Status == 0 {
			return "-"
		}
		return fmt.Sprintf("%d", v.Status)
	case "body_bytes_sent":
		return fmt.Sprintf("%d", v.BodyBytesSent)
	case "http_host":
		return dash(v.HTTPHost)
	case "http_referer":
		return dash(v.HTTPReferer)
	case "http_user_agent":
		return dash(v.HTTPUserAgent)
	case "request_time":
		return fmt.Sprintf("%.3f", v.RequestTime)
	case "server_addr":
		return dash(v.ServerAddr)
	case "server_protocol":
		return dash(v.ServerProtocol)
	case "uri":
		return dash(v.URI)
	case "query_string":
		return dash(v.QueryString)
	case "error":
		return dash(v.Error)
	default:
		return "-"
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// Render substitutes every "$name" token in format that matches a known
// field with its value from v. Unknown tokens are left untouched.
func Render(format string, v Vars) string {
	out := format
	for _, name := range fieldNames {
		out = strings.ReplaceAll(out, "$"+name, v.lookup(name))
	}
	return out
}

// DefaultFormat matches the combined-log-like default APISIX/nginx use.
const DefaultFormat = `$remote_addr - $remote_user [$time_local] "$request" $status $body_bytes_sent "$http_referer" "$http_user_agent" $request_time request_id=$request_id`
