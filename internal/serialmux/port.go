package serialmux

import (
	"io"
	"time"
)

// SerialPorter is the minimal byte transport the reader needs. Real serial
// ports, test doubles and the frame simulator all satisfy it.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// TimeoutSerialPorter is implemented by ports whose reads can be bounded.
// Monitor sets the timeout so that Close and context cancellation are
// observed promptly. go.bug.st/serial ports satisfy it.
type TimeoutSerialPorter interface {
	SerialPorter
	SetReadTimeout(timeout time.Duration) error
}

// PortOpener opens the transport for a named port. The device controller is
// given one so tests can substitute a MockSerialPortFactory.
type PortOpener interface {
	Open(path string, opts PortOptions) (SerialPorter, error)
}

// PortOpenerFunc adapts a plain function to PortOpener.
type PortOpenerFunc func(path string, opts PortOptions) (SerialPorter, error)

// Open calls f.
func (f PortOpenerFunc) Open(path string, opts PortOptions) (SerialPorter, error) {
	return f(path, opts)
}
