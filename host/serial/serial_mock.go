package serial

import "net"

// MockPort is an in-memory Port backed by net.Pipe, used to script device
// behaviour in tests without a real serial cable.
type MockPort struct {
	net.Conn
}

// NewMockPort returns a connected pair of MockPorts: one for the engine
// under test, one for the test goroutine that plays the device's side of
// the conversation.
func NewMockPort() (host *MockPort, device *MockPort) {
	a, b := net.Pipe()
	return &MockPort{Conn: a}, &MockPort{Conn: b}
}

// Flush is a no-op on an in-memory pipe: there is no OS buffer to drain.
func (m *MockPort) Flush() error {
	return nil
}
