package espat

import (
	"context"
	"testing"

	"github.com/amken3d/espat/config"
	"github.com/amken3d/espat/host/serial"
	"github.com/stretchr/testify/require"
)

// nullTransport discards every write; parser tests feed bytes directly via
// ProcessInput and never need a real reply path.
type nullTransport struct {
	sent [][]byte
}

func (t *nullTransport) Send(_ context.Context, b []byte) (int, error) {
	cp := append([]byte(nil), b...)
	t.sent = append(t.sent, cp)
	return len(b), nil
}

func (t *nullTransport) Reset(level serial.ResetLevel) error { return nil }

func newTestEngine(t *testing.T) (*Engine, *nullTransport) {
	t.Helper()
	trans := &nullTransport{}
	cfg := config.Default()
	var events []Event
	eng := New(cfg, trans, func(ev Event) { events = append(events, ev) }, nil, nil)
	return eng, trans
}

func TestParser_SimpleOKLine(t *testing.T) {
	eng, _ := newTestEngine(t)

	eng.ProcessInput([]byte("OK\r\n"))

	select {
	case got := <-eng.stepDone:
		require.True(t, got.OK)
	default:
		t.Fatal("expected OK to resolve stepDone")
	}
}

func TestParser_IPDUnsolicited_SingleConnRecv(t *testing.T) {
	eng, _ := newTestEngine(t)
	var recvd []Event
	eng.conns.activate(0, ConnTCP, true, [4]byte{}, 0, 0, func(ev Event) { recvd = append(recvd, ev) })

	eng.ProcessInput([]byte("+IPD,0,5,\"10.0.0.1\",1234:hello"))

	require.Len(t, recvd, 1)
	rec, ok := recvd[0].(ConnRecvEvent)
	require.True(t, ok)
	require.Equal(t, 0, rec.Conn)
	require.Equal(t, "hello", string(rec.Buf.Flatten()))
}

func TestParser_IPDSplitAcrossReads(t *testing.T) {
	eng, _ := newTestEngine(t)
	var recvd []Event
	eng.conns.activate(2, ConnTCP, true, [4]byte{}, 0, 0, func(ev Event) { recvd = append(recvd, ev) })

	header := []byte("+IPD,2,10,\"10.0.0.1\",1234:")
	eng.ProcessInput(header)
	eng.ProcessInput([]byte("hel"))
	eng.ProcessInput([]byte("lowor"))
	eng.ProcessInput([]byte("ld"))

	require.Len(t, recvd, 1)
	rec := recvd[0].(ConnRecvEvent)
	require.Equal(t, "helloworld", string(rec.Buf.Flatten()))
}

func TestParser_IPDDiscardedWhenConnInactive(t *testing.T) {
	eng, _ := newTestEngine(t)
	// Slot 3 never activated: bytes should be discarded, not delivered.
	eng.ProcessInput([]byte("+IPD,3,4,\"10.0.0.1\",1:data"))
	require.Equal(t, modeLine, eng.mode)
}

func TestParser_ManualRecvData(t *testing.T) {
	eng, _ := newTestEngine(t)
	var recvd []Event
	eng.conns.activate(1, ConnTCP, true, [4]byte{}, 0, 0, func(ev Event) { recvd = append(recvd, ev) })
	eng.mu.Lock()
	eng.current = &Request{Default: CmdManualRecv, Current: CmdCIPRECVDATA, Payload: &ManualRecvParams{Conn: 1, Length: 4}}
	eng.mu.Unlock()

	eng.ProcessInput([]byte("+CIPRECVDATA:4,\"10.0.0.1\",80,abcd"))

	require.Len(t, recvd, 1)
	rec := recvd[0].(ConnRecvEvent)
	require.Equal(t, 1, rec.Conn)
	require.Equal(t, "abcd", string(rec.Buf.Flatten()))
}

func TestParser_PromptDetectionDuringAwait(t *testing.T) {
	eng, _ := newTestEngine(t)
	eng.awaitingPrompt.Store(true)

	eng.ProcessInput([]byte("\n> "))

	select {
	case <-eng.promptCh:
	default:
		t.Fatal("expected prompt to be signalled")
	}
	require.False(t, eng.awaitingPrompt.Load())
}

func TestParser_UnsolicitedReadyWithNoInFlightRequest(t *testing.T) {
	eng, _ := newTestEngine(t)
	eng.conns.activate(0, ConnTCP, true, [4]byte{}, 0, 0, nil)

	eng.ProcessInput([]byte("ready\r\n"))

	require.False(t, eng.conns.IsActive(0))
	select {
	case req := <-eng.requests:
		require.Equal(t, CmdReset, req.Default)
	default:
		t.Fatal("expected an auto-reset request to be queued")
	}
}
