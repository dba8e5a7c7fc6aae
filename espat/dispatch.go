package espat

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/amken3d/espat/atproto"
)

// defaultStepTimeout bounds a single AT sub-command's wait for a terminal
// response, independent of the caller's overall Submit budget (spec.md §5,
// "each blocking submit carries a per-call millisecond budget" governs the
// whole request; a wedged single line shouldn't be able to hang it
// indefinitely when the caller did pass a budget of its own).
const defaultStepTimeout = 5 * time.Second

// Submit enqueues req for dispatch (spec.md §4.1 unchanged contract, folded
// into one call taking ctx and a budget rather than a separate blocking
// bool: whether the call blocks is decided by how req was built, via
// NewRequest vs NewFireAndForget). A full request queue resolves
// immediately to QueueFull, the Go analogue of the original's pool
// allocation failure (SPEC_FULL.md §4.1, Open Question resolved).
func (e *Engine) Submit(ctx context.Context, req *Request, timeout time.Duration) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if req.blocking && e.isCallbackGoroutine() {
		return BlockingNotAllowed, BlockingNotAllowed
	}

	req.submittedAt = time.Now()
	select {
	case e.requests <- req:
	default:
		return QueueFull, QueueFull
	}

	if !req.blocking {
		return Ok, nil
	}

	if timeout <= 0 {
		select {
		case res := <-req.done:
			return res, nil
		case <-ctx.Done():
			return Timeout, ctx.Err()
		}
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case res := <-req.done:
		return res, nil
	case <-ctx.Done():
		return Timeout, ctx.Err()
	case <-t.C:
		return Timeout, nil
	}
}

func (e *Engine) isCallbackGoroutine() bool {
	g := e.callbackGID.Load()
	return g != 0 && g == goroutineID()
}

func (e *Engine) dispatchLoop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.stopCh:
			return
		case req := <-e.requests:
			e.runRequest(req)
		}
	}
}

// runRequest walks req's sub-command sequence to completion, one terminal
// response at a time (spec.md §4.1, "single-command-in-flight is the
// central serialisation point").
func (e *Engine) runRequest(req *Request) {
	e.mu.Lock()
	e.current = req
	e.mu.Unlock()
	e.out = pendingOutputs{}

	cmd := e.firstCommand(req)
	req.Step = 0
	if cmd == CmdIdle {
		e.finishRequest(req, Outcome{OK: true})
		return
	}

	var lastOutcome Outcome
	for cmd != CmdIdle {
		req.Current = cmd
		outcome, ok := e.runStep(req, cmd)
		if !ok {
			return // timeout/reset/shutdown already finalized the request
		}
		lastOutcome = outcome
		if !outcome.OK {
			break
		}
		n := e.next(req, outcome)
		if n == CmdIdle {
			break
		}
		req.Step++
		cmd = n
	}
	e.finishRequest(req, lastOutcome)
}

func (e *Engine) runStep(req *Request, cmd Cmd) (Outcome, bool) {
	if cmd == CmdCIPSEND {
		return e.runSendStep(req)
	}
	if cmd == CmdCIPCLOSE {
		if p, ok := req.Payload.(*ConnCloseParams); ok && !e.conns.checkValid(p.Conn, p.validationAtSubmit) {
			return Outcome{Err: true}, true
		}
	}

	e.emitCommand(req, cmd)

	timeout := e.cfg.CommandTimeout
	if timeout <= 0 {
		timeout = defaultStepTimeout
	}
	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case outcome := <-e.stepDone:
		return outcome, true
	case <-e.resetCh:
		return Outcome{}, false
	case <-t.C:
		e.handleTimeout(req, cmd)
		return Outcome{}, false
	case <-e.stopCh:
		return Outcome{}, false
	}
}

// runSendStep implements the CIPSEND bulk flow (spec.md §4.1): emit the
// header, wait for the mid-line prompt, write exactly one segment, then
// wait for SEND OK/SEND FAIL, retrying a failed segment up to
// cfg.MaxSendRetries times before giving up.
func (e *Engine) runSendStep(req *Request) (Outcome, bool) {
	p := req.Payload.(*ConnSendParams)
	if !e.conns.checkValid(p.Conn, p.validationAtSubmit) {
		return Outcome{Err: true}, true
	}
	remaining := len(p.Data) - p.sent
	if remaining <= 0 {
		return Outcome{OK: true}, true
	}
	segLen := remaining
	if segLen > e.cfg.ConnMaxDataLen {
		segLen = e.cfg.ConnMaxDataLen
	}

	timeout := e.cfg.CommandTimeout
	if timeout <= 0 {
		timeout = defaultStepTimeout
	}

	e.awaitingPrompt.Store(true)
	e.emitCIPSENDHeader(p.Conn, segLen, p)

	promptTimer := time.NewTimer(timeout)
	select {
	case <-e.promptCh:
		promptTimer.Stop()
	case <-e.resetCh:
		promptTimer.Stop()
		return Outcome{}, false
	case <-promptTimer.C:
		e.awaitingPrompt.Store(false)
		e.handleTimeout(req, CmdCIPSEND)
		return Outcome{}, false
	case <-e.stopCh:
		promptTimer.Stop()
		return Outcome{}, false
	}

	segment := p.Data[p.sent : p.sent+segLen]
	if _, err := e.trans.Send(context.Background(), segment); err != nil {
		e.log.Error("transport send failed", "cmd", "CIPSEND payload", "err", err)
	}

	sendTimer := time.NewTimer(timeout)
	defer sendTimer.Stop()
	select {
	case outcome := <-e.stepDone:
		if outcome.OK {
			p.sent += segLen
			p.retries = 0
			return Outcome{OK: true}, true
		}
		p.retries++
		if p.retries > e.cfg.MaxSendRetries {
			return Outcome{Err: true}, true
		}
		return Outcome{OK: true}, true // retry: next() re-enters CIPSEND for the same unsent slice
	case <-e.resetCh:
		return Outcome{}, false
	case <-sendTimer.C:
		e.handleTimeout(req, CmdCIPSEND)
		return Outcome{}, false
	case <-e.stopCh:
		return Outcome{}, false
	}
}

func (e *Engine) handleTimeout(req *Request, cmd Cmd) {
	ev, _ := e.buildCompletionEvent(req, Outcome{Err: true})
	e.finalizeRequest(req, Timeout, ev)
}

func (e *Engine) finishRequest(req *Request, outcome Outcome) {
	ev, result := e.buildCompletionEvent(req, outcome)
	e.finalizeRequest(req, result, ev)
}

func (e *Engine) finalizeRequest(req *Request, result Result, ev Event) {
	e.mu.Lock()
	if e.current == req {
		e.current = nil
	}
	e.mu.Unlock()

	var seconds float64
	if !req.submittedAt.IsZero() {
		seconds = time.Since(req.submittedAt).Seconds()
	}
	e.met.observeCommand(req.Default, seconds, result)
	if ev != nil {
		e.emit(ev)
	}
	req.complete(result)
}

// buildCompletionEvent derives the one event+result every submitted
// command raises on conclusion (spec.md §4.4), success or failure.
func (e *Engine) buildCompletionEvent(req *Request, outcome Outcome) (Event, Result) {
	if !outcome.OK {
		result := Error
		if e.out.errCode == 0x01090000 {
			result = CommandNotSupported
		}
		switch req.Default {
		case CmdReset:
			return ResetEvent{Result: result}, result
		case CmdRestore:
			return RestoreEvent{Result: result}, result
		case CmdJoinAP:
			return StaJoinApEvent{Result: result}, result
		case CmdQuitAP:
			return StaJoinApEvent{Result: result}, result
		case CmdListAP:
			return StaListApEvent{Result: result}, result
		case CmdGetAPInfo:
			return StaInfoApEvent{Result: result}, result
		case CmdPing:
			p := req.Payload.(*PingParams)
			return PingEvent{Host: p.Host, Result: result}, result
		case CmdDNS:
			p := req.Payload.(*DNSParams)
			return DnsHostByNameEvent{Host: p.Host, Result: result}, result
		case CmdSNTPQuery:
			return SntpTimeEvent{Result: result}, result
		case CmdConnOpen:
			p := req.Payload.(*ConnOpenParams)
			return ConnErrorEvent{Host: p.Host, Port: p.Port, Type: p.Type, Result: ConnFail}, ConnFail
		case CmdConnSend:
			p := req.Payload.(*ConnSendParams)
			r := result
			if !e.conns.checkValid(p.Conn, p.validationAtSubmit) {
				r = Closed
			}
			return ConnSendEvent{Conn: p.Conn, Sent: p.sent, Result: r}, r
		case CmdConnClose:
			p := req.Payload.(*ConnCloseParams)
			return ConnClosedEvent{Conn: p.Conn, Forced: false, Result: result}, result
		case CmdServerStart, CmdServerStop:
			p := req.Payload.(*ServerParams)
			return ServerEvent{Enabled: p.Enable, Port: p.Port, Result: result}, result
		case CmdManualRecv, CmdPassthrough:
			return nil, result
		default:
			return nil, result
		}
	}

	switch req.Default {
	case CmdReset:
		return ResetEvent{Result: Ok}, Ok
	case CmdRestore:
		return RestoreEvent{Result: Ok}, Ok
	case CmdJoinAP, CmdQuitAP:
		return StaJoinApEvent{Result: Ok}, Ok
	case CmdListAP:
		return StaListApEvent{List: e.out.apList, Result: Ok}, Ok
	case CmdGetAPInfo:
		return StaInfoApEvent{Info: e.out.station, Result: Ok}, Ok
	case CmdPing:
		p := req.Payload.(*PingParams)
		return PingEvent{Host: p.Host, TimeMs: e.out.pingMs, Result: Ok}, Ok
	case CmdDNS:
		p := req.Payload.(*DNSParams)
		return DnsHostByNameEvent{Host: p.Host, IP: e.out.dnsIP, Result: Ok}, Ok
	case CmdSNTPQuery:
		return SntpTimeEvent{DateTime: e.out.sntpStr, Result: Ok}, Ok
	case CmdConnOpen:
		p := req.Payload.(*ConnOpenParams)
		if e.out.connActive {
			return ConnActiveEvent{Conn: p.Conn, RemoteIP: e.out.connRemoteIP, RemotePort: e.out.connRemotePort}, Ok
		}
		return ConnErrorEvent{Host: p.Host, Port: p.Port, Type: p.Type, Result: ConnFail}, ConnFail
	case CmdConnSend:
		p := req.Payload.(*ConnSendParams)
		return ConnSendEvent{Conn: p.Conn, Sent: p.sent, Result: Ok}, Ok
	case CmdConnClose:
		p := req.Payload.(*ConnCloseParams)
		return ConnClosedEvent{Conn: p.Conn, Forced: false, Result: Ok}, Ok
	case CmdServerStart, CmdServerStop:
		p := req.Payload.(*ServerParams)
		return ServerEvent{Enabled: p.Enable, Port: p.Port, Result: Ok}, Ok
	case CmdManualRecv, CmdPassthrough:
		return nil, Ok
	default:
		return nil, Ok
	}
}

// nextSendSegment decides whether another CIPSEND segment is needed,
// referenced from sequence.go's next() for the CmdConnSend family.
func (e *Engine) nextSendSegment(req *Request) Cmd {
	p := req.Payload.(*ConnSendParams)
	if !e.conns.checkValid(p.Conn, p.validationAtSubmit) {
		return CmdIdle
	}
	if p.sent >= len(p.Data) {
		return CmdIdle
	}
	return CmdCIPSEND
}

// emitCommand assembles and writes the AT line for cmd (everything except
// CIPSEND, whose bulk flow runSendStep drives directly).
func (e *Engine) emitCommand(req *Request, cmd Cmd) {
	line := e.commandBytes(cmd, req)
	if _, err := e.trans.Send(context.Background(), line); err != nil {
		e.log.Error("transport send failed", "cmd", cmd.String(), "err", err)
	}
}

func (e *Engine) emitCIPSENDHeader(conn, length int, p *ConnSendParams) {
	e.scratch.Reset()
	e.scratch.Output([]byte("AT+CIPSEND="))
	w := atproto.NewArgWriter(e.scratch)
	w.Number(int64(conn))
	w.Number(int64(length))
	if p.UseRemote {
		w.IPv4(p.RemoteIP)
		w.Number(int64(p.RemotePort))
	}
	e.scratch.Output([]byte(atproto.CRLF))
	line := append([]byte(nil), e.scratch.Result()...)
	e.suppressNextOK.Store(true)
	if _, err := e.trans.Send(context.Background(), line); err != nil {
		e.log.Error("transport send failed", "cmd", "CIPSEND header", "err", err)
	}
}

// commandBytes renders cmd (plus req.Payload's fields where the verb takes
// arguments) as "AT<suffix><CR><LF>", grounded on
// original_source/src/esp/esp_int.c's per-command send_* helpers.
func (e *Engine) commandBytes(cmd Cmd, req *Request) []byte {
	e.scratch.Reset()
	e.scratch.Output([]byte("AT"))
	w := atproto.NewArgWriter(e.scratch)

	switch cmd {
	case CmdRST:
		e.scratch.Output([]byte("+RST"))
	case CmdATE0:
		e.scratch.Output([]byte("E0"))
	case CmdATE1:
		e.scratch.Output([]byte("E1"))
	case CmdGMR:
		e.scratch.Output([]byte("+GMR"))
	case CmdSYSMSG:
		e.scratch.Output([]byte("+SYSMSG=1"))
	case CmdRFPOWER:
		e.scratch.Output([]byte("+RFPOWER?"))
	case CmdCWMODE:
		e.scratch.Output([]byte("+CWMODE=1"))
	case CmdCWDHCPGet:
		e.scratch.Output([]byte("+CWDHCP?"))
	case CmdCIPMUX:
		e.scratch.Output([]byte("+CIPMUX=1"))
	case CmdCIPRECVMODE:
		e.scratch.Output([]byte("+CIPRECVMODE="))
		mode := int64(0)
		if e.cfg.ManualTCPRecv {
			mode = 1
		}
		w.Number(mode)
	case CmdCWLAPOPT:
		e.scratch.Output([]byte("+CWLAPOPT=1,31"))
	case CmdCIPSTATUS:
		e.scratch.Output([]byte("+CIPSTATUS"))
	case CmdCIPSTATE:
		e.scratch.Output([]byte("+CIPSTATE?"))
	case CmdCIPAPGet:
		e.scratch.Output([]byte("+CIPAP?"))
	case CmdCIPAPMACGet:
		e.scratch.Output([]byte("+CIPAPMAC?"))
	case CmdCIPDINFO:
		e.scratch.Output([]byte("+CIPDINFO=1"))
	case CmdCWJAP:
		p := req.Payload.(*JoinAPParams)
		e.scratch.Output([]byte("+CWJAP="))
		w.String(p.SSID, true, true)
		w.String(p.Password, true, true)
		if p.MAC != nil {
			w.MAC(*p.MAC)
		}
	case CmdCIPSTAGet:
		e.scratch.Output([]byte("+CIPSTA?"))
	case CmdCIPSTAMACGet:
		e.scratch.Output([]byte("+CIPSTAMAC?"))
	case CmdCWQAP:
		e.scratch.Output([]byte("+CWQAP"))
	case CmdCWLAP:
		e.scratch.Output([]byte("+CWLAP"))
	case CmdCIPSTART:
		p := req.Payload.(*ConnOpenParams)
		e.scratch.Output([]byte("+CIPSTARTEX="))
		w.Number(int64(p.Conn))
		w.String(connTypeName(p.Type), true, false)
		w.String(p.Host, true, false)
		w.Number(int64(p.Port))
		if p.Type == ConnUDP || p.Type == ConnUDPv6 {
			w.Number(int64(p.LocalPort))
		} else {
			w.Number(int64(p.KeepAlive))
		}
	case CmdCIPSERVERMAXCONN:
		p := req.Payload.(*ServerParams)
		e.scratch.Output([]byte("+CIPSERVERMAXCONN="))
		w.Number(int64(p.MaxConns))
	case CmdCIPSERVER:
		p := req.Payload.(*ServerParams)
		e.scratch.Output([]byte("+CIPSERVER="))
		if p.Enable {
			w.Number(1)
		} else {
			w.Number(0)
		}
		w.Number(int64(p.Port))
	case CmdCIPSTO:
		p := req.Payload.(*ServerParams)
		e.scratch.Output([]byte("+CIPSTO="))
		w.Number(int64(p.TimeoutSec))
	case CmdCIPRECVLEN:
		e.scratch.Output([]byte("+CIPRECVLEN?"))
	case CmdCIPRECVDATA:
		p := req.Payload.(*ManualRecvParams)
		e.scratch.Output([]byte("+CIPRECVDATA="))
		w.Number(int64(p.Conn))
		w.Number(int64(p.Length))
	case CmdCIPCLOSE:
		p := req.Payload.(*ConnCloseParams)
		e.scratch.Output([]byte("+CIPCLOSE="))
		w.Number(int64(p.Conn))
	case CmdCIPDOMAIN:
		p := req.Payload.(*DNSParams)
		e.scratch.Output([]byte("+CIPDOMAIN="))
		w.String(p.Host, true, false)
	case CmdPING:
		p := req.Payload.(*PingParams)
		e.scratch.Output([]byte("+PING="))
		w.String(p.Host, true, false)
	case CmdCIPSNTPCFG:
		p := req.Payload.(*SNTPParams)
		e.scratch.Output([]byte("+CIPSNTPCFG="))
		if p.Enable {
			w.Number(1)
		} else {
			w.Number(0)
		}
		w.Number(int64(p.Timezone))
		if p.Server1 != "" {
			w.String(p.Server1, true, false)
		}
		if p.Server2 != "" {
			w.String(p.Server2, true, false)
		}
		if p.Server3 != "" {
			w.String(p.Server3, true, false)
		}
	case CmdCIPSNTPTIME:
		e.scratch.Output([]byte("+CIPSNTPTIME?"))
	case CmdPassthrough:
		p := req.Payload.(*PassthroughParams)
		e.scratch.Output([]byte(p.Suffix))
	}

	e.scratch.Output([]byte(atproto.CRLF))
	return append([]byte(nil), e.scratch.Result()...)
}

func connTypeName(t ConnType) string {
	switch t {
	case ConnUDP:
		return "UDP"
	case ConnSSL:
		return "SSL"
	case ConnTCPv6:
		return "TCPv6"
	case ConnUDPv6:
		return "UDPv6"
	case ConnSSLv6:
		return "SSLv6"
	default:
		return "TCP"
	}
}

func connTypeFromName(s string) ConnType {
	switch strings.ToUpper(s) {
	case "UDP":
		return ConnUDP
	case "SSL":
		return ConnSSL
	case "TCPV6":
		return ConnTCPv6
	case "UDPV6":
		return ConnUDPv6
	case "SSLV6":
		return ConnSSLv6
	default:
		return ConnTCP
	}
}

// handleLine is the line-parse dispatch table (spec.md §4.2), reached
// whenever the byte-mode FSM completes an ordinary line.
func (e *Engine) handleLine(s string) {
	switch {
	case s == "":
		return
	case s == "OK":
		e.resolveStep(Outcome{OK: true})
	case s == "ERROR" || s == "FAIL":
		e.resolveStep(Outcome{Err: true})
	case s == "ready":
		e.handleReady()
	case s == "SEND OK":
		e.resolveSendSegment(true)
	case s == "SEND FAIL":
		e.resolveSendSegment(false)
	case strings.HasPrefix(s, "ERR CODE:"):
		e.handleErrCode(s)
	case strings.HasPrefix(s, "+LINK_CONN:"):
		e.handleLinkConn(s)
	case strings.HasPrefix(s, "+CIPRECVLEN:"):
		e.handleCIPRECVLEN(s)
	case strings.HasSuffix(s, ",CLOSED"):
		e.handleConnClosedLine(s, false)
	case strings.HasSuffix(s, ",CONNECT FAIL"):
		e.handleConnClosedLine(s, true)
	case strings.HasPrefix(s, "+STA_CONNECTED:"), strings.HasPrefix(s, "+STA_DISCONNECTED:"), strings.HasPrefix(s, "+DIST_STA_IP:"):
		e.log.Debug("parser: AP-side station event", "line", s)
	case s == "WIFI CONNECTED" || s == "WIFI DISCONNECT" || s == "WIFI GOT IP":
		e.log.Debug("parser: station wifi state", "line", s)
	case strings.HasPrefix(s, "+CWLAP:"):
		e.handleCWLAP(s)
	case strings.HasPrefix(s, "+CIPSTA") && !strings.HasPrefix(s, "+CIPSTAMAC"):
		e.handleCIPSTA(s)
	case strings.HasPrefix(s, "+CIPSTAMAC"):
		e.handleStationMAC(s)
	case strings.HasPrefix(s, "+CIPAPMAC"):
		e.handleSoftAPMAC(s)
	case strings.HasPrefix(s, "+CIPAP:"):
		e.handleSoftAPAddr(s)
	case strings.HasPrefix(s, "+CWHOSTNAME:"):
		e.handleCWHostname(s)
	case strings.HasPrefix(s, "+CWDHCP:"):
		e.handleCWDHCP(s)
	case strings.HasPrefix(s, "+CWMODE:"):
		e.handleCWMode(s)
	case strings.HasPrefix(s, "+CIPDOMAIN:"):
		e.handleCIPDOMAIN(s)
	case strings.HasPrefix(s, "+PING:"):
		e.handlePING(s)
	case strings.HasPrefix(s, "+CIPSNTPTIME:"):
		e.handleSNTPTime(s)
	case strings.HasPrefix(s, "+CIPSNTPCFG:"), strings.HasPrefix(s, "+CIPSNTPINTV:"), strings.HasPrefix(s, "+CIPDNS:"):
		e.log.Debug("parser: config echo line", "line", s)
	case strings.HasPrefix(s, "AT version"), strings.HasPrefix(s, "SDK version"), strings.HasPrefix(s, "compile time"):
		e.setDeviceInfo(ParseVersionBanner(e.deviceInfo(), s))
	default:
		e.log.Debug("parser: discarding unrecognized line", "line", s)
	}
}

func (e *Engine) resolveStep(o Outcome) {
	if o.OK && e.suppressNextOK.CompareAndSwap(true, false) {
		return // the CIPSEND header's intercepted OK ack, spec.md §4.1
	}
	select {
	case e.stepDone <- o:
	default:
	}
}

func (e *Engine) resolveSendSegment(ok bool) {
	select {
	case e.stepDone <- Outcome{OK: ok, Err: !ok}:
	default:
	}
}

func (e *Engine) handleErrCode(s string) {
	hexPart := strings.TrimPrefix(s, "ERR CODE:")
	hexPart = strings.TrimPrefix(hexPart, "0x")
	hexPart = strings.TrimPrefix(hexPart, "0X")
	code, err := strconv.ParseUint(strings.TrimSpace(hexPart), 16, 32)
	if err != nil {
		e.log.Debug("parser: malformed ERR CODE line", "line", s)
		return
	}
	e.out.errCode = uint32(code)
}

// handleReady reacts to a bare "ready" line: the expected terminal
// response of an in-flight RST/RESTORE sub-command, or — outside that
// context — an unsolicited device reset (spec.md §8 scenario 5).
func (e *Engine) handleReady() {
	e.mu.Lock()
	cur := e.current
	e.mu.Unlock()

	if cur != nil && cur.Current == CmdRST {
		select {
		case e.stepDone <- Outcome{OK: true, Ready: true}:
		default:
		}
		return
	}

	e.log.Debug("parser: unsolicited ready, device reset detected")

	for _, c := range e.conns.Snapshot() {
		if c.Active {
			e.connCallback(c.Number, ConnClosedEvent{Conn: c.Number, Forced: false, Result: Closed})
			e.conns.deactivate(c.Number)
		}
	}

	if cur != nil {
		ev, _ := e.buildCompletionEvent(cur, Outcome{Err: true})
		e.finalizeRequest(cur, Error, ev)
		select {
		case e.resetCh <- struct{}{}:
		default:
		}
	}

	e.emit(ResetDetectedEvent{Forced: false})

	select {
	case e.requests <- NewFireAndForget(CmdReset, nil):
	default:
		e.log.Debug("parser: request queue full, dropping auto reset re-run")
	}
}

func (e *Engine) handleLinkConn(s string) {
	body := strings.TrimPrefix(s, "+LINK_CONN:")
	fields := strings.Split(body, ",")
	if len(fields) < 7 {
		e.log.Debug("parser: malformed +LINK_CONN line", "line", s)
		return
	}
	status, err1 := strconv.Atoi(fields[0])
	n, err2 := strconv.Atoi(fields[1])
	typ := connTypeFromName(strings.Trim(fields[2], `"`))
	isServer, _ := strconv.Atoi(fields[3])
	ip, _ := atproto.ParseIPv4(strings.Trim(fields[4], `"`))
	port, _ := strconv.Atoi(fields[5])
	localPort, _ := strconv.Atoi(fields[6])
	if err1 != nil || err2 != nil {
		e.log.Debug("parser: malformed +LINK_CONN line", "line", s)
		return
	}

	if status != 0 {
		if e.conns.IsActive(n) {
			e.connCallback(n, ConnClosedEvent{Conn: n, Forced: false, Result: Error})
			e.conns.deactivate(n)
		}
		return
	}

	e.mu.Lock()
	cur := e.current
	e.mu.Unlock()

	isClient := isServer == 0
	var cb EventSink
	if isClient && cur != nil {
		if p, ok := cur.Payload.(*ConnOpenParams); ok {
			cb = p.Callback
		}
	}

	e.conns.activate(n, typ, isClient, ip, uint16(port), uint16(localPort), cb)

	if isClient {
		e.out.connActive = true
		e.out.connRemoteIP = ip
		e.out.connRemotePort = uint16(port)
		return
	}
	e.connCallback(n, ConnActiveEvent{Conn: n, RemoteIP: ip, RemotePort: uint16(port)})
}

func (e *Engine) handleConnClosedLine(s string, connectFail bool) {
	idx := strings.IndexByte(s, ',')
	if idx < 0 {
		return
	}
	n, err := strconv.Atoi(s[:idx])
	if err != nil {
		return
	}
	result := Closed
	if connectFail {
		result = ConnFail
	}
	if e.conns.IsActive(n) {
		e.connCallback(n, ConnClosedEvent{Conn: n, Forced: false, Result: result})
		e.conns.deactivate(n)
	}
}

func (e *Engine) handleCIPRECVLEN(s string) {
	body := strings.TrimPrefix(s, "+CIPRECVLEN:")
	for i, f := range strings.Split(body, ",") {
		n, err := strconv.ParseUint(strings.TrimSpace(f), 10, 32)
		if err != nil {
			continue
		}
		e.conns.setAvailable(i, uint32(n))
	}
}

func (e *Engine) handleCWLAP(s string) {
	body := strings.TrimPrefix(s, "+CWLAP:")
	body = strings.TrimPrefix(body, "(")
	body = strings.TrimSuffix(body, ")")
	fields := splitQuotedCSV(body)
	if len(fields) < 5 {
		e.log.Debug("parser: malformed +CWLAP line", "line", s)
		return
	}
	rssi, _ := strconv.Atoi(fields[2])
	channel, _ := strconv.Atoi(fields[4])
	mac, _ := atproto.ParseMAC(strings.Trim(fields[3], `"`))
	e.out.apList = append(e.out.apList, APInfo{
		SSID:    strings.Trim(fields[1], `"`),
		BSSID:   mac,
		Channel: channel,
		RSSI:    rssi,
	})
}

func splitQuotedCSV(s string) []string {
	var fields []string
	var cur strings.Builder
	inQuotes := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"':
			inQuotes = !inQuotes
			cur.WriteByte(c)
		case c == ',' && !inQuotes:
			fields = append(fields, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	fields = append(fields, cur.String())
	return fields
}

// handleCIPSTA tolerates both the "+CIPSTA:" and versioned "+CIPSTA_CUR:"/
// "+CIPSTA_DEF:" prefixes via a shared suffix-stripping step (SPEC_FULL.md
// §4.2 Open Question resolution, see DESIGN.md). Populates the station IP,
// gateway, and netmask into the current request's output slots (spec.md
// §4.2 line-parse table, "+CIPSTA:ip=/… populate station IP info").
func (e *Engine) handleCIPSTA(s string) {
	rest := stripCipstaPrefix(s)
	if rest == "" {
		return
	}
	parts := strings.SplitN(rest, ":", 2)
	if len(parts) != 2 {
		return
	}
	ip, err := atproto.ParseIPv4(strings.Trim(parts[1], `"`))
	if err != nil {
		return
	}
	switch parts[0] {
	case "ip":
		e.out.station.IP = ip
	case "gateway":
		e.out.station.Gateway = ip
	case "netmask":
		e.out.station.Netmask = ip
	}
}

func stripCipstaPrefix(s string) string {
	for _, prefix := range []string{"+CIPSTA_CUR:", "+CIPSTA_DEF:", "+CIPSTA:"} {
		if strings.HasPrefix(s, prefix) {
			return s[len(prefix):]
		}
	}
	return ""
}

// handleStationMAC parses "+CIPSTAMAC:<mac>" into the current request's
// station output slot (spec.md §4.2, queried by the Join AP sequence).
func (e *Engine) handleStationMAC(s string) {
	val := strings.Trim(strings.TrimPrefix(stripMACPrefix(s, "+CIPSTAMAC"), ":"), `"`)
	if mac, err := atproto.ParseMAC(val); err == nil {
		e.out.station.MAC = mac
	}
}

// handleSoftAPMAC parses "+CIPAPMAC:<mac>", the device's own soft-AP MAC
// (queried once per reset sequence), into DeviceInfo rather than the
// per-request station slot since it describes the device, not the request.
func (e *Engine) handleSoftAPMAC(s string) {
	val := strings.Trim(strings.TrimPrefix(stripMACPrefix(s, "+CIPAPMAC"), ":"), `"`)
	mac, err := atproto.ParseMAC(val)
	if err != nil {
		return
	}
	d := e.deviceInfo()
	d.SoftAPMAC = mac
	e.setDeviceInfo(d)
}

// handleSoftAPAddr parses "+CIPAP:ip:<addr>" (and ignores the gateway: and
// netmask: lines, since only the device's own address is tracked) into
// DeviceInfo, the soft-AP counterpart of handleCIPSTA.
func (e *Engine) handleSoftAPAddr(s string) {
	rest := strings.TrimPrefix(s, "+CIPAP:")
	parts := strings.SplitN(rest, ":", 2)
	if len(parts) != 2 || parts[0] != "ip" {
		return
	}
	ip, err := atproto.ParseIPv4(strings.Trim(parts[1], `"`))
	if err != nil {
		return
	}
	d := e.deviceInfo()
	d.SoftAPIP = ip
	e.setDeviceInfo(d)
}

// stripMACPrefix tolerates the same _CUR/_DEF variant suffixing handleCIPSTA
// does, for the MAC-getter family of lines.
func stripMACPrefix(s, base string) string {
	for _, suffix := range []string{"_CUR", "_DEF", ""} {
		prefix := base + suffix
		if strings.HasPrefix(s, prefix) {
			return s[len(prefix):]
		}
	}
	return s
}

// handleCWHostname parses "+CWHOSTNAME:<name>" into the current request's
// station output slot.
func (e *Engine) handleCWHostname(s string) {
	e.out.station.Hostname = strings.Trim(strings.TrimPrefix(s, "+CWHOSTNAME:"), `"`)
}

// handleCWDHCP parses "+CWDHCP:<bitmask>" (queried by both the reset and
// Join AP sequences) into the current request's station output slot,
// verbatim, as the device reports it.
func (e *Engine) handleCWDHCP(s string) {
	val := strings.TrimSpace(strings.TrimPrefix(s, "+CWDHCP:"))
	if n, err := strconv.Atoi(val); err == nil {
		e.out.station.DHCP = n
	}
}

// handleCWMode parses "+CWMODE:<mode>" into the current request's station
// output slot.
func (e *Engine) handleCWMode(s string) {
	val := strings.TrimSpace(strings.TrimPrefix(s, "+CWMODE:"))
	if n, err := strconv.Atoi(val); err == nil {
		e.out.station.Mode = n
	}
}

func (e *Engine) handleCIPDOMAIN(s string) {
	val := strings.Trim(strings.TrimPrefix(s, "+CIPDOMAIN:"), `"`)
	if ip, err := atproto.ParseIPv4(val); err == nil {
		e.out.dnsIP = ip
	}
}

func (e *Engine) handlePING(s string) {
	val := strings.TrimSpace(strings.TrimPrefix(s, "+PING:"))
	if ms, err := strconv.Atoi(val); err == nil {
		e.out.pingMs = ms
	}
}

func (e *Engine) handleSNTPTime(s string) {
	e.out.sntpStr = strings.TrimPrefix(s, "+CIPSNTPTIME:")
}
