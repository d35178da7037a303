package stream

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/sse"
)

// SSEEmitter writes text/event-stream frames and flushes after each one.
type SSEEmitter struct {
	w     *errWriter
	flush func()
}

// NewSSEEmitter wraps w. When w implements http.Flusher every frame is
// flushed immediately.
func NewSSEEmitter(w io.Writer) *SSEEmitter {
	e := &SSEEmitter{w: &errWriter{w: w}, flush: func() {}}
	if f, ok := w.(http.Flusher); ok {
		e.flush = f.Flush
	}
	return e
}

// Event encodes one event. Struct, map and slice data are JSON encoded.
func (e *SSEEmitter) Event(name, id string, data any) error {
	if err := sse.Encode(e.w, sse.Event{Event: name, Id: id, Data: data}); err != nil {
		return err
	}
	return e.done()
}

// Comment writes ":text\n\n".
func (e *SSEEmitter) Comment(text string) error {
	if _, err := io.WriteString(e.w, ":"+text+"\n\n"); err != nil {
		return err
	}
	return e.done()
}

func (e *SSEEmitter) done() error {
	if e.w.err != nil {
		return e.w.err
	}
	e.flush()
	return nil
}

// WriteHeaders sets the event-stream response headers.
func WriteHeaders(h http.Header) {
	h.Set("Content-Type", sse.ContentType)
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// errWriter remembers the first write error. sse.Encode discards errors from
// individual field writes.
type errWriter struct {
	w   io.Writer
	err error
}

func (w *errWriter) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	n, err := w.w.Write(p)
	if err != nil {
		w.err = err
	}
	return n, err
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
