package plugin

import (
	"crypto/rand"
	"fmt"

	"github.com/google/uuid"

	"github.com/zhu327/pingsix/internal/catalog"
)

const defaultRangeCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// requestID generates a request id if one is not already present,
// propagating it to both the upstream request and the response, per
// spec.md §4.5. Two generators are supported: "uuid" (default) and
// "range_id" (configurable charset/length).
type requestID struct {
	headerName string
	generator  string
	charset    string
	length     int
}

func newRequestID(cfg catalog.PluginConfig) (Plugin, error) {
	r := &requestID{
		headerName: "X-Request-Id",
		generator:  "uuid",
		charset:    defaultRangeCharset,
		length:     16,
	}
	if v, ok := cfg["header_name"].(string); ok && v != "" {
		r.headerName = v
	}
	if v, ok := cfg["generator"].(string); ok && v != "" {
		r.generator = v
	}
	if v, ok := cfg["range_charset"].(string); ok && v != "" {
		r.charset = v
	}
	if v, ok := cfg["range_length"]; ok {
		r.length = toInt(v)
	}
	if r.length <= 0 {
		r.length = 16
	}
	return r, nil
}

func (r *requestID) Name() string { return "request-id" }

func (r *requestID) generate() (string, error) {
	if r.generator == "range_id" {
		return r.rangeID()
	}
	return uuid.NewString(), nil
}

func (r *requestID) rangeID() (string, error) {
	buf := make([]byte, r.length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("request-id: %w", err)
	}
	out := make([]byte, r.length)
	n := len(r.charset)
	for i, b := range buf {
		out[i] = r.charset[int(b)%n]
	}
	return string(out), nil
}

func (r *requestID) AccessFilter(s *Session, c *Ctx) Result {
	id := s.Headers.Get(r.headerName)
	if id == "" {
		generated, err := r.generate()
		if err != nil {
			return fail(err)
		}
		id = generated
	}
	c.RequestID = id
	s.UpstreamHeaders.Set(r.headerName, id)
	return ok()
}

func (r *requestID) UpstreamResponseFilter(s *Session, c *Ctx) Result {
	s.ResponseHeaders.Set(r.headerName, c.RequestID)
	return ok()
}
