package espat

import "time"

// Cmd names either a user-visible default command or one of the AT verbs
// a default command decomposes into (spec.md §4.1, "Sub-command
// sequencing"). Using one enum for both, rather than two, mirrors how the
// original C library's esp_cmd_t numbers every AT verb in a single space
// and lets Request.Current walk through Request.Default's sub-command DAG
// without a second lookup table.
type Cmd int

const (
	CmdNone Cmd = iota

	// Default (user-visible) commands.
	CmdReset
	CmdRestore
	CmdJoinAP
	CmdQuitAP
	CmdListAP
	CmdGetAPInfo
	CmdPing
	CmdDNS
	CmdSNTPQuery
	CmdConnOpen
	CmdConnSend
	CmdConnClose
	CmdServerStart
	CmdServerStop
	CmdManualRecv
	CmdPassthrough

	// AT sub-verbs driven by the sequencer.
	CmdRST
	CmdATE0
	CmdATE1
	CmdGMR
	CmdSYSMSG
	CmdRFPOWER
	CmdCWMODE
	CmdCWDHCPGet
	CmdCIPMUX
	CmdCIPRECVMODE
	CmdCWLAPOPT
	CmdCIPSTATUS
	CmdCIPSTATE
	CmdCIPAPGet
	CmdCIPAPMACGet
	CmdCIPDINFO
	CmdCWJAP
	CmdCIPSTAGet
	CmdCIPSTAMACGet
	CmdCWQAP
	CmdCWLAP
	CmdCIPSTART
	CmdCIPSERVERMAXCONN
	CmdCIPSERVER
	CmdCIPSTO
	CmdCIPRECVLEN
	CmdCIPRECVDATA
	CmdCIPSEND
	CmdCIPCLOSE
	CmdCIPDOMAIN
	CmdPING
	CmdCIPSNTPCFG
	CmdCIPSNTPTIME
)

var cmdNames = map[Cmd]string{
	CmdNone: "None", CmdReset: "Reset", CmdRestore: "Restore",
	CmdJoinAP: "JoinAP", CmdQuitAP: "QuitAP", CmdListAP: "ListAP",
	CmdGetAPInfo: "GetAPInfo", CmdPing: "Ping", CmdDNS: "DNS",
	CmdSNTPQuery: "SNTPQuery", CmdConnOpen: "ConnOpen", CmdConnSend: "ConnSend",
	CmdConnClose: "ConnClose", CmdServerStart: "ServerStart",
	CmdServerStop: "ServerStop", CmdManualRecv: "ManualRecv",
	CmdPassthrough: "Passthrough",
	CmdRST:          "RST", CmdATE0: "ATE0", CmdATE1: "ATE1", CmdGMR: "GMR",
	CmdSYSMSG: "SYSMSG", CmdRFPOWER: "RFPOWER", CmdCWMODE: "CWMODE",
	CmdCWDHCPGet: "CWDHCP?", CmdCIPMUX: "CIPMUX", CmdCIPRECVMODE: "CIPRECVMODE",
	CmdCWLAPOPT: "CWLAPOPT", CmdCIPSTATUS: "CIPSTATUS", CmdCIPSTATE: "CIPSTATE",
	CmdCIPAPGet: "CIPAP?", CmdCIPAPMACGet: "CIPAPMAC?", CmdCIPDINFO: "CIPDINFO",
	CmdCWJAP: "CWJAP", CmdCIPSTAGet: "CIPSTA?", CmdCIPSTAMACGet: "CIPSTAMAC?",
	CmdCWQAP: "CWQAP", CmdCWLAP: "CWLAP", CmdCIPSTART: "CIPSTART",
	CmdCIPSERVERMAXCONN: "CIPSERVERMAXCONN", CmdCIPSERVER: "CIPSERVER",
	CmdCIPSTO: "CIPSTO", CmdCIPRECVLEN: "CIPRECVLEN?", CmdCIPRECVDATA: "CIPRECVDATA",
	CmdCIPSEND: "CIPSEND", CmdCIPCLOSE: "CIPCLOSE", CmdCIPDOMAIN: "CIPDOMAIN",
	CmdPING: "PING", CmdCIPSNTPCFG: "CIPSNTPCFG", CmdCIPSNTPTIME: "CIPSNTPTIME",
}

// String names the command (default command or sub-verb) for metrics/log
// labels; values without an entry in cmdNames, such as CmdIdle, all map to
// "Cmd".
func (c Cmd) String() string {
	if name, ok := cmdNames[c]; ok {
		return name
	}
	return "Cmd"
}

// ConnType enumerates the connection kinds the device supports (spec.md §3).
type ConnType int

const (
	ConnTCP ConnType = iota
	ConnUDP
	ConnSSL
	ConnTCPv6
	ConnUDPv6
	ConnSSLv6
)

// ConnOpenParams parametrizes CmdConnOpen.
type ConnOpenParams struct {
	Conn      int // slot to open into; caller picks an unused one
	Type      ConnType
	Host      string
	Port      uint16
	LocalPort uint16 // UDP only
	KeepAlive int    // seconds, TCP/SSL only
	Callback  EventSink
}

// ConnSendParams parametrizes CmdConnSend.
type ConnSendParams struct {
	Conn      int
	Data      []byte
	RemoteIP  [4]byte // UDP sendto destination, optional
	RemotePort uint16
	UseRemote bool

	// validationAtSubmit pins the slot's validation id as observed when
	// the request was enqueued (spec.md §3 invariant); the dispatcher
	// refuses to emit if the slot has since been reused.
	validationAtSubmit uint16
	sent               int
	retries            int
}

// ConnCloseParams parametrizes CmdConnClose.
type ConnCloseParams struct {
	Conn               int
	validationAtSubmit uint16
}

// JoinAPParams parametrizes CmdJoinAP.
type JoinAPParams struct {
	SSID     string
	Password string
	MAC      *[6]byte
}

// ServerParams parametrizes CmdServerStart / CmdServerStop.
type ServerParams struct {
	Enable     bool
	Port       uint16
	MaxConns   int
	TimeoutSec int
}

// PingParams parametrizes CmdPing.
type PingParams struct {
	Host string
}

// DNSParams parametrizes CmdDNS.
type DNSParams struct {
	Host string
}

// SNTPParams parametrizes CmdSNTPQuery / the SNTP config sub-step.
type SNTPParams struct {
	Enable   bool
	Timezone int
	Server1  string
	Server2  string
	Server3  string
}

// ManualRecvParams parametrizes CmdManualRecv.
type ManualRecvParams struct {
	Conn   int
	Length int
}

// PassthroughParams carries an opaque command suffix for single-command
// features the spec scopes out of detailed design (IPv6 detail, mDNS,
// WPS, webserver — spec.md §1 Non-goals / SPEC_FULL.md §"Non-goals").
type PassthroughParams struct {
	Suffix string
}

// Request is the discriminated union submitted to Engine.Submit
// (spec.md §3, "Request"). Ownership transfers to the dispatcher goroutine
// once placed on the request channel; the dispatcher (not the caller)
// closes out done/Result.
type Request struct {
	Default Cmd
	Current Cmd
	Step    int

	Payload any

	blocking bool
	done     chan Result
	Result   Result

	// submittedAt is stamped by Engine.Submit, for the command-latency
	// histogram (SPEC_FULL.md §4.1).
	submittedAt time.Time

	// ctxErr is never assigned: when the caller's context expires, Submit
	// returns ctx.Err() directly instead of recording it here.
	ctxErr error
}

// NewRequest builds a blocking request for the given default command and
// payload. Use NewFireAndForget for a request whose result is delivered
// only via the event callback.
func NewRequest(cmd Cmd, payload any) *Request {
	return &Request{
		Default:  cmd,
		Current:  cmd,
		Payload:  payload,
		blocking: true,
		done:     make(chan Result, 1),
	}
}

// NewFireAndForget builds a non-blocking request.
func NewFireAndForget(cmd Cmd, payload any) *Request {
	return &Request{
		Default: cmd,
		Current: cmd,
		Payload: payload,
	}
}

// complete resolves the request's blocking channel, if any. Safe to call
// exactly once per request; the dispatcher enforces that.
func (r *Request) complete(res Result) {
	r.Result = res
	if r.done != nil {
		r.done <- res
	}
}
