package espat

import (
	"testing"

	"github.com/amken3d/espat/config"
	"github.com/amken3d/espat/host/serial"
	"github.com/stretchr/testify/require"
)

func newSequenceTestEngine(t *testing.T) *Engine {
	t.Helper()
	host, _ := serial.NewMockPort()
	t.Cleanup(func() { host.Close() })
	return NewWithPort(config.Default(), host, func(Event) {}, nil, nil)
}

func TestSequence_Reset_FullTable(t *testing.T) {
	eng := newSequenceTestEngine(t)
	req := NewFireAndForget(CmdReset, nil)

	first := eng.firstCommand(req)
	require.Equal(t, CmdRST, first)

	seq := eng.sequenceFor(CmdReset)
	require.Equal(t, []Cmd{
		CmdRST, CmdATE0, CmdGMR, CmdSYSMSG, CmdRFPOWER, CmdCWMODE,
		CmdCWDHCPGet, CmdCIPMUX, CmdCIPRECVMODE, CmdCWLAPOPT, CmdCIPSTATUS,
		CmdCIPAPGet, CmdCIPAPMACGet, CmdCIPDINFO,
	}, seq)
}

func TestSequence_Reset_UsesATE1WhenEchoConfigured(t *testing.T) {
	eng := newSequenceTestEngine(t)
	eng.cfg.ATEcho = true

	seq := eng.sequenceFor(CmdReset)
	require.Equal(t, CmdATE1, seq[1])
}

func TestSequence_ConnOpen_UsesDetectedStatusVerb(t *testing.T) {
	eng := newSequenceTestEngine(t)
	eng.setDeviceInfo(DeviceInfo{Variant: VariantModern})

	seq := eng.sequenceFor(CmdConnOpen)
	require.Equal(t, []Cmd{CmdCIPSTATE, CmdCIPSTART, CmdCIPSTATE}, seq)
}

func TestSequence_Next_StopsOnFailure(t *testing.T) {
	eng := newSequenceTestEngine(t)
	req := NewFireAndForget(CmdReset, nil)
	req.Step = 0

	next := eng.next(req, Outcome{Err: true})
	require.Equal(t, CmdIdle, next)
}

func TestSequence_Next_AdvancesThroughTable(t *testing.T) {
	eng := newSequenceTestEngine(t)
	req := NewFireAndForget(CmdJoinAP, &JoinAPParams{SSID: "net"})
	req.Step = 0

	next := eng.next(req, Outcome{OK: true})
	require.Equal(t, CmdCWDHCPGet, next)

	req.Step = 1
	next = eng.next(req, Outcome{OK: true})
	require.Equal(t, CmdCIPSTAGet, next)

	req.Step = 2
	next = eng.next(req, Outcome{OK: true})
	require.Equal(t, CmdCIPSTAMACGet, next)

	req.Step = 3
	next = eng.next(req, Outcome{OK: true})
	require.Equal(t, CmdIdle, next)
}

func TestSequence_ConnSend_ReentersUntilDataExhausted(t *testing.T) {
	eng := newSequenceTestEngine(t)
	eng.conns.activate(0, ConnTCP, true, [4]byte{}, 0, 0, nil)
	p := &ConnSendParams{Conn: 0, Data: []byte("hello"), validationAtSubmit: eng.conns.validationID(0)}
	req := NewFireAndForget(CmdConnSend, p)

	require.Equal(t, CmdCIPSEND, eng.firstCommand(req))

	next := eng.next(req, Outcome{OK: true})
	require.Equal(t, CmdCIPSEND, next) // nothing has been marked sent yet

	p.sent = len(p.Data)
	next = eng.next(req, Outcome{OK: true})
	require.Equal(t, CmdIdle, next)
}

func TestSequence_ConnSend_StopsIfSlotWentStale(t *testing.T) {
	eng := newSequenceTestEngine(t)
	id := eng.conns.activate(0, ConnTCP, true, [4]byte{}, 0, 0, nil)
	p := &ConnSendParams{Conn: 0, Data: []byte("hello"), validationAtSubmit: id}
	req := NewFireAndForget(CmdConnSend, p)

	eng.conns.deactivate(0)

	next := eng.next(req, Outcome{OK: true})
	require.Equal(t, CmdIdle, next)
}

func TestSequence_Passthrough_SingleOpaqueCommand(t *testing.T) {
	eng := newSequenceTestEngine(t)
	req := NewFireAndForget(CmdPassthrough, &PassthroughParams{Suffix: "+GMR"})

	require.Equal(t, CmdPassthrough, eng.firstCommand(req))
	require.Nil(t, eng.sequenceFor(CmdPassthrough))
}
