package proxy

import (
	"bufio"

	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/hub-gateway/internal/stream"
)

// ctxStreamSink adapts fasthttp's streaming body writer to stream.Sink.
// Connected relies on RequestCtx implementing context.Context: once the
// client connection drops, fasthttp cancels ctx and Err() stops being nil.
type ctxStreamSink struct {
	w   *bufio.Writer
	ctx *fasthttp.RequestCtx
}

func newCtxStreamSink(w *bufio.Writer, ctx *fasthttp.RequestCtx) *ctxStreamSink {
	return &ctxStreamSink{w: w, ctx: ctx}
}

func (s *ctxStreamSink) Write(p []byte) (int, error) { return s.w.Write(p) }
func (s *ctxStreamSink) Flush() error                 { return s.w.Flush() }
func (s *ctxStreamSink) Connected() bool              { return s.ctx.Err() == nil }

var _ stream.Sink = (*ctxStreamSink)(nil)
