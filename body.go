package piaf

import (
	"bytes"
	"io"
)

// Body is the response payload handle. The payload is consumed in full via
// Drain; partial or streaming reads are not exposed.
type Body struct {
	rc      io.ReadCloser
	drained bool
}

func newBody(rc io.ReadCloser) *Body { return &Body{rc: rc} }

// Drain pulls fragments off the body handle until end-of-stream,
// accumulating them in arrival order into a single buffer, then releases
// the handle and with it the underlying transport. It resolves exactly
// once: a second call returns ErrBodyConsumed. No size cap is applied, so
// an unbounded response grows the buffer without limit.
func (b *Body) Drain() ([]byte, error) {
	if b.drained {
		return nil, ErrBodyConsumed
	}
	b.drained = true
	var buf bytes.Buffer
	chunk := make([]byte, 4096)
	for {
		n, err := b.rc.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			_ = b.rc.Close()
			return nil, translateEngineError(err)
		}
	}
	if err := b.rc.Close(); err != nil {
		return nil, translateEngineError(err)
	}
	return buf.Bytes(), nil
}

// Close releases the handle without reading the remaining payload. Safe to
// call after Drain.
func (b *Body) Close() error {
	if b.drained {
		return nil
	}
	b.drained = true
	return b.rc.Close()
}
