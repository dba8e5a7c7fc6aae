package espat

// Outcome is the terminal-response classification the parser hands to the
// sub-command sequencer (spec.md §4.1: "on each terminal response it calls
// a pure function next(current_cmd, request_state, ok/err) -> next_cmd |
// Idle").
type Outcome struct {
	OK    bool
	Err   bool
	Ready bool
}

// CmdIdle is the sequencer's "no more sub-commands, conclude the request"
// sentinel.
const CmdIdle Cmd = -1

// sequenceFor returns the fixed sub-command DAG for a default command
// (spec.md §4.1 table). ateChoice and statusVerb are resolved per-engine
// (config.ATEcho, detected device Variant) rather than baked into the
// table, since both depend on runtime state the pure sequence table
// shouldn't need to know about.
func (e *Engine) sequenceFor(cmd Cmd) []Cmd {
	statusVerb := e.deviceInfo().StatusQueryVerb()
	ateChoice := CmdATE0
	if e.cfg.ATEcho {
		ateChoice = CmdATE1
	}

	switch cmd {
	case CmdReset, CmdRestore:
		return []Cmd{
			CmdRST, ateChoice, CmdGMR, CmdSYSMSG, CmdRFPOWER, CmdCWMODE,
			CmdCWDHCPGet, CmdCIPMUX, CmdCIPRECVMODE, CmdCWLAPOPT, statusVerb,
			CmdCIPAPGet, CmdCIPAPMACGet, CmdCIPDINFO,
		}
	case CmdJoinAP:
		return []Cmd{CmdCWJAP, CmdCWDHCPGet, CmdCIPSTAGet, CmdCIPSTAMACGet}
	case CmdConnOpen:
		return []Cmd{statusVerb, CmdCIPSTART, statusVerb}
	case CmdServerStart, CmdServerStop:
		return []Cmd{CmdCIPSERVERMAXCONN, CmdCIPSERVER, CmdCIPSTO}
	case CmdManualRecv:
		return []Cmd{CmdCIPRECVLEN, CmdCIPRECVDATA, CmdCIPRECVLEN}
	case CmdQuitAP:
		return []Cmd{CmdCWQAP}
	case CmdListAP:
		return []Cmd{CmdCWLAP}
	case CmdGetAPInfo:
		return []Cmd{CmdCIPSTAGet}
	case CmdPing:
		return []Cmd{CmdPING}
	case CmdDNS:
		return []Cmd{CmdCIPDOMAIN}
	case CmdSNTPQuery:
		return []Cmd{CmdCIPSNTPCFG, CmdCIPSNTPTIME}
	case CmdConnClose:
		return []Cmd{CmdCIPCLOSE}
	case CmdConnSend:
		return []Cmd{CmdCIPSEND} // re-entered per segment, see dispatch.go
	case CmdPassthrough:
		return nil // single opaque command, no decomposition
	default:
		return nil
	}
}

// next advances the sequencer after a terminal response. Returns CmdIdle
// when the request is complete. A non-OK outcome always concludes the
// sequence (the dispatcher has already recorded the failing Result).
func (e *Engine) next(req *Request, outcome Outcome) Cmd {
	if !outcome.OK {
		return CmdIdle
	}
	seq := e.sequenceFor(req.Default)
	if req.Default == CmdConnSend {
		return e.nextSendSegment(req)
	}
	next := req.Step + 1
	if next >= len(seq) {
		return CmdIdle
	}
	return seq[next]
}

// firstCommand returns the first AT verb to emit for a freshly submitted
// request, or CmdIdle if the default command has no sub-commands. A
// passthrough always starts with CmdPassthrough, whatever its suffix.
func (e *Engine) firstCommand(req *Request) Cmd {
	seq := e.sequenceFor(req.Default)
	if req.Default == CmdPassthrough {
		return CmdPassthrough
	}
	if len(seq) == 0 {
		return CmdIdle
	}
	return seq[0]
}
