package plugin

import (
	"bytes"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"

	"github.com/zhu327/pingsix/internal/catalog"
)

// compression enables gzip or brotli content-encoding on the response
// body when the client accepts it, operating as a response body
// filter per spec.md §4.5: it buffers the full body (compression
// needs the complete stream) and emits one compressed chunk at
// end-of-stream.
type compression struct {
	minLength int
}

func newCompression(cfg catalog.PluginConfig) (Plugin, error) {
	c := &compression{minLength: 256}
	if v, ok := cfg["min_length"]; ok {
		c.minLength = toInt(v)
	}
	return c, nil
}

func (c *compression) Name() string { return "compression" }

func (c *compression) UpstreamResponseFilter(s *Session, ctx *Ctx) Result {
	if s.ResponseHeaders.Get("Content-Encoding") != "" {
		return ok()
	}
	accept := s.Headers.Get("Accept-Encoding")
	switch {
	case strings.Contains(accept, "br"):
		ctx.Set("compression_alg", "br")
	case strings.Contains(accept, "gzip"):
		ctx.Set("compression_alg", "gzip")
	}
	return ok()
}

func (c *compression) ResponseBodyFilter(s *Session, ctx *Ctx, chunk *BodyChunk) Result {
	algAny, ok2 := ctx.Get("compression_alg")
	if !ok2 {
		return ok()
	}
	alg := algAny.(string)

	bufAny, _ := ctx.Get("compression_buf")
	buf, _ := bufAny.([]byte)
	buf = append(buf, chunk.Data...)

	if !chunk.EndOfStream {
		ctx.Set("compression_buf", buf)
		chunk.Data = nil
		return ok()
	}

	if len(buf) < c.minLength {
		chunk.Data = buf
		return ok()
	}

	var out bytes.Buffer
	switch alg {
	case "br":
		w := brotli.NewWriter(&out)
		_, _ = w.Write(buf)
		_ = w.Close()
		s.ResponseHeaders.Set("Content-Encoding", "br")
	case "gzip":
		w := gzip.NewWriter(&out)
		_, _ = w.Write(buf)
		_ = w.Close()
		s.ResponseHeaders.Set("Content-Encoding", "gzip")
	default:
		out.Write(buf)
	}
	s.ResponseHeaders.Del("Content-Length")
	chunk.Data = out.Bytes()
	return ok()
}
