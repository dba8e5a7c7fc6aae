package espat

import (
	"context"

	"github.com/amken3d/espat/host/serial"
)

// Transport is the wire-level contract the engine drives (SPEC_FULL.md §6).
// host/serial.Port satisfies it via portTransport below; tests substitute
// serial.MockPort through the same adapter.
type Transport interface {
	Send(ctx context.Context, b []byte) (int, error)
	Reset(level serial.ResetLevel) error
}

// InputSink is the push-mode counterpart: a reader goroutine feeds bytes in
// as they arrive rather than the engine pulling from a ring buffer.
type InputSink interface {
	ProcessInput(b []byte)
}

// portTransport adapts a serial.Port to Transport.
type portTransport struct {
	port serial.Port
}

func newPortTransport(port serial.Port) *portTransport {
	return &portTransport{port: port}
}

func (t *portTransport) Send(ctx context.Context, b []byte) (int, error) {
	_ = ctx // plain io.Writer has no deadline hook; cancellation is caller's job
	return t.port.Write(b)
}

func (t *portTransport) Reset(level serial.ResetLevel) error {
	if r, ok := t.port.(serial.ResettablePort); ok {
		return r.Reset(level)
	}
	return serial.ErrNotSupported
}
