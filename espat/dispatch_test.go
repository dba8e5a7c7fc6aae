package espat

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/amken3d/espat/config"
	"github.com/amken3d/espat/host/serial"
	"github.com/stretchr/testify/require"
)

// eventCollector is a thread-safe EventSink sink for assertions; the parser
// goroutine delivers events synchronously and concurrently with the test
// goroutine's Submit calls.
type eventCollector struct {
	mu     sync.Mutex
	events []Event
}

func (c *eventCollector) sink(ev Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *eventCollector) snapshot() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

// newMockEngine wires an Engine to one end of a net.Pipe-backed MockPort
// pair and starts the reader goroutine that feeds arriving bytes into the
// parser, mirroring what cmd/espat-shell's pumpInput does for a real port.
func newMockEngine(t *testing.T, cfg *config.Config) (*Engine, *serial.MockPort, *eventCollector) {
	t.Helper()
	if cfg == nil {
		cfg = config.Default()
	}
	host, device := serial.NewMockPort()
	coll := &eventCollector{}
	eng := NewWithPort(cfg, host, coll.sink, nil, nil)
	eng.Start()

	go func() {
		buf := make([]byte, 1024)
		for {
			n, err := host.Read(buf)
			if n > 0 {
				eng.ProcessInput(buf[:n])
			}
			if err != nil {
				return
			}
		}
	}()

	t.Cleanup(func() {
		eng.Close()
		host.Close()
		device.Close()
	})

	return eng, device, coll
}

// runDeviceScript plays the device side of the conversation: each Read call
// corresponds to exactly one Engine-side transport.Send, since every AT
// line and every CIPSEND payload segment is written in a single Write call.
func runDeviceScript(t *testing.T, device *serial.MockPort, respond func(received string) []byte) {
	t.Helper()
	go func() {
		buf := make([]byte, 1024)
		for {
			n, err := device.Read(buf)
			if err != nil {
				return
			}
			reply := respond(string(buf[:n]))
			if len(reply) > 0 {
				if _, werr := device.Write(reply); werr != nil {
					return
				}
			}
		}
	}()
}

func TestDispatch_ResetSequence_HappyPath(t *testing.T) {
	cfg := config.Default()
	cfg.CommandTimeout = 2 * time.Second
	eng, device, coll := newMockEngine(t, cfg)

	runDeviceScript(t, device, func(line string) []byte {
		if strings.HasPrefix(line, "AT+RST") {
			return []byte("ready\r\n")
		}
		return []byte("OK\r\n")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := eng.Reset(ctx, 0)

	require.NoError(t, err)
	require.Equal(t, Ok, res)

	events := coll.snapshot()
	require.Len(t, events, 1)
	resetEv, ok := events[0].(ResetEvent)
	require.True(t, ok)
	require.Equal(t, Ok, resetEv.Result)
}

func TestDispatch_OpenAndSend_HappyPath(t *testing.T) {
	cfg := config.Default()
	cfg.CommandTimeout = 2 * time.Second
	eng, device, _ := newMockEngine(t, cfg)

	runDeviceScript(t, device, func(line string) []byte {
		switch {
		case strings.HasPrefix(line, "AT+CIPSTARTEX"):
			return []byte("+LINK_CONN:0,0,\"TCP\",0,\"10.0.0.5\",80,0\r\nOK\r\n")
		case strings.HasPrefix(line, "AT+CIPSEND="):
			return []byte("OK\r\n\r\n> ")
		case line == "hi":
			return []byte("\r\nSEND OK\r\n")
		default:
			return []byte("OK\r\n")
		}
	})

	ctx := context.Background()
	res, err := eng.Open(ctx, 0, ConnTCP, "10.0.0.5", 80, nil, 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, Ok, res)
	require.True(t, eng.IsActive(0))
	require.True(t, eng.IsClient(0))

	res, err = eng.Send(ctx, 0, []byte("hi"), 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, Ok, res)
}

func TestDispatch_SendFail_RetriesThenSucceeds(t *testing.T) {
	cfg := config.Default()
	cfg.CommandTimeout = 2 * time.Second
	cfg.MaxSendRetries = 3
	eng, device, _ := newMockEngine(t, cfg)

	var attempts int
	var mu sync.Mutex
	runDeviceScript(t, device, func(line string) []byte {
		switch {
		case strings.HasPrefix(line, "AT+CIPSTARTEX"):
			return []byte("+LINK_CONN:0,1,\"TCP\",0,\"10.0.0.5\",80,0\r\nOK\r\n")
		case strings.HasPrefix(line, "AT+CIPSEND="):
			return []byte("OK\r\n\r\n> ")
		case line == "hi":
			mu.Lock()
			attempts++
			n := attempts
			mu.Unlock()
			if n == 1 {
				return []byte("\r\nSEND FAIL\r\n")
			}
			return []byte("\r\nSEND OK\r\n")
		default:
			return []byte("OK\r\n")
		}
	})

	ctx := context.Background()
	res, err := eng.Open(ctx, 1, ConnTCP, "10.0.0.5", 80, nil, 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, Ok, res)

	res, err = eng.Send(ctx, 1, []byte("hi"), 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, Ok, res)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 2, attempts)
}

func TestDispatch_StaleSendAfterClose_RejectedWithoutWritingWire(t *testing.T) {
	cfg := config.Default()
	eng, device, _ := newMockEngine(t, cfg)

	runDeviceScript(t, device, func(line string) []byte {
		switch {
		case strings.HasPrefix(line, "AT+CIPSTARTEX"):
			return []byte("+LINK_CONN:0,2,\"TCP\",0,\"10.0.0.5\",80,0\r\nOK\r\n")
		case strings.HasPrefix(line, "AT+CIPCLOSE"):
			return []byte("2,CLOSED\r\nOK\r\n")
		default:
			return []byte("OK\r\n")
		}
	})

	ctx := context.Background()
	res, err := eng.Open(ctx, 2, ConnTCP, "10.0.0.5", 80, nil, 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, Ok, res)

	res, err = eng.CloseConn(ctx, 2, 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, Ok, res)

	res, err = eng.Send(ctx, 2, []byte("late"), 2*time.Second)
	require.Error(t, err)
	require.Equal(t, Closed, res)
}

func TestDispatch_UnsolicitedReset_ClearsConnectionsAndRearms(t *testing.T) {
	cfg := config.Default()
	cfg.CommandTimeout = 2 * time.Second
	eng, device, coll := newMockEngine(t, cfg)

	var resetCount int
	var mu sync.Mutex
	runDeviceScript(t, device, func(line string) []byte {
		if strings.HasPrefix(line, "AT+CIPSTARTEX") {
			return []byte("+LINK_CONN:0,3,\"TCP\",0,\"10.0.0.5\",80,0\r\nOK\r\n")
		}
		if strings.HasPrefix(line, "AT+RST") {
			mu.Lock()
			resetCount++
			mu.Unlock()
			return []byte("ready\r\n")
		}
		return []byte("OK\r\n")
	})

	ctx := context.Background()
	res, err := eng.Open(ctx, 3, ConnTCP, "10.0.0.5", 80, nil, 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, Ok, res)
	require.True(t, eng.IsActive(3))

	// Device reboots on its own: an unprompted "ready" with no command in
	// flight must close every open connection and raise ResetDetected, then
	// re-run the init sequence automatically.
	device.Write([]byte("ready\r\n"))

	require.Eventually(t, func() bool {
		return !eng.IsActive(3)
	}, time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return resetCount >= 1
	}, time.Second, 10*time.Millisecond)

	var sawResetDetected, sawConnClosed bool
	for _, ev := range coll.snapshot() {
		switch e := ev.(type) {
		case ResetDetectedEvent:
			sawResetDetected = true
		case ConnClosedEvent:
			if e.Conn == 3 {
				sawConnClosed = true
			}
		}
	}
	require.True(t, sawResetDetected)
	require.True(t, sawConnClosed)
}

func TestDispatch_DNSResolve(t *testing.T) {
	cfg := config.Default()
	eng, device, _ := newMockEngine(t, cfg)

	runDeviceScript(t, device, func(line string) []byte {
		if strings.HasPrefix(line, "AT+CIPDOMAIN") {
			return []byte("+CIPDOMAIN:\"93.184.216.34\"\r\nOK\r\n")
		}
		return []byte("OK\r\n")
	})

	ctx := context.Background()
	res, err := eng.ResolveHost(ctx, "example.com", 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, Ok, res)
}

func TestSubmit_QueueFullReturnsImmediately(t *testing.T) {
	cfg := config.Default()
	host, _ := serial.NewMockPort()
	eng := NewWithPort(cfg, host, func(Event) {}, nil, nil)
	t.Cleanup(func() { host.Close() })
	// Deliberately never call Start(): nothing drains e.requests, so it
	// fills up exactly like a dispatcher wedged on a stalled transport.

	for i := 0; i < requestQueueDepth; i++ {
		select {
		case eng.requests <- NewFireAndForget(CmdPassthrough, &PassthroughParams{Suffix: "+GMR"}):
		default:
			t.Fatalf("queue unexpectedly full after %d requests", i)
		}
	}

	res, err := eng.Submit(context.Background(), NewRequest(CmdPassthrough, &PassthroughParams{Suffix: "+GMR"}), time.Second)
	require.Error(t, err)
	require.Equal(t, QueueFull, res)
}
