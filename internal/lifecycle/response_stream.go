package lifecycle

import (
	"io"

	"github.com/zhu327/pingsix/internal/plugin"
)

// filteredReader streams an upstream response body through
// response_body_filter one chunk at a time, per spec.md §4.6 step 9,
// and runs Log hooks exactly once — right after the end-of-stream chunk
// is filtered, or from Close if the body is closed before its end. This
// is the final step of the lifecycle for the non-terminal (streamed) path.
type filteredReader struct {
	upstream io.ReadCloser
	pipe     *plugin.Pipeline
	sess     *plugin.Session
	pctx     *plugin.Ctx

	buf       []byte
	raw       []byte
	eof       bool
	loggedEOS bool
}

// newFilteredReader wraps an upstream response body so every read from
// it has already passed through response_body_filter, including the
// empty end-of-stream call plugins rely on to flush buffered output
// (e.g. compression).
func newFilteredReader(upstream io.ReadCloser, pipe *plugin.Pipeline, sess *plugin.Session, pctx *plugin.Ctx) io.ReadCloser {
	return &filteredReader{
		upstream: upstream,
		pipe:     pipe,
		sess:     sess,
		pctx:     pctx,
		raw:      make([]byte, 32*1024),
	}
}

func (f *filteredReader) Read(p []byte) (int, error) {
	for len(f.buf) == 0 {
		if f.eof {
			return 0, io.EOF
		}
		n, err := f.upstream.Read(f.raw)
		chunk := &plugin.BodyChunk{}
		if n > 0 {
			chunk.Data = append([]byte(nil), f.raw[:n]...)
		}
		if err == io.EOF {
			f.eof = true
			chunk.EndOfStream = true
		} else if err != nil {
			f.eof = true
			chunk.EndOfStream = true
			f.runFiltersAndLog(chunk)
			return 0, err
		}
		f.runFiltersAndLog(chunk)
		f.buf = chunk.Data
	}

	n := copy(p, f.buf)
	f.buf = f.buf[n:]
	return n, nil
}

// runFiltersAndLog invokes response_body_filter for one chunk and, on
// the end-of-stream call, runs Log exactly once — matching the
// guarantee that every participating plugin's Log hook fires once per
// request regardless of how the body finished.
func (f *filteredReader) runFiltersAndLog(chunk *plugin.BodyChunk) {
	f.pipe.RunResponseBodyFilter(f.sess, f.pctx, chunk)
	f.sess.BodyBytesSent += int64(len(chunk.Data))
	if chunk.EndOfStream && !f.loggedEOS {
		f.loggedEOS = true
		f.pipe.RunLog(f.sess, f.pctx)
	}
}

func (f *filteredReader) Close() error {
	if !f.loggedEOS {
		f.loggedEOS = true
		f.pipe.RunLog(f.sess, f.pctx)
	}
	return f.upstream.Close()
}
