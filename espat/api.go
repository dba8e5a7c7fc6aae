package espat

import (
	"context"
	"time"
)

// The methods in this file are the public surface most callers use instead
// of building a *Request and calling Submit directly: each validates its
// arguments fail-fast (ParErr, spec.md §7, "parameter validation happens
// before a command is ever queued, not after it fails on the wire") and
// submits a blocking request with the engine's default per-call timeout
// when the caller passes 0.

func (e *Engine) timeoutOrDefault(timeout time.Duration) time.Duration {
	if timeout > 0 {
		return timeout
	}
	return e.cfg.CommandTimeout
}

// Reset issues AT+RST and re-runs the full device init sequence.
func (e *Engine) Reset(ctx context.Context, timeout time.Duration) (Result, error) {
	req := NewRequest(CmdReset, nil)
	return e.Submit(ctx, req, e.timeoutOrDefault(timeout))
}

// Restore runs the same sub-command sequence as Reset (AT+RST followed by
// the init sequence) and reports it as a RestoreEvent. It does not emit
// AT+RESTORE, so the device's stored settings are not reset to factory
// defaults.
func (e *Engine) Restore(ctx context.Context, timeout time.Duration) (Result, error) {
	req := NewRequest(CmdRestore, nil)
	return e.Submit(ctx, req, e.timeoutOrDefault(timeout))
}

// JoinAP issues AT+CWJAP to associate with an access point. mac may be nil.
func (e *Engine) JoinAP(ctx context.Context, ssid, password string, mac *[6]byte, timeout time.Duration) (Result, error) {
	if ssid == "" {
		return ParErr, ParErr
	}
	req := NewRequest(CmdJoinAP, &JoinAPParams{SSID: ssid, Password: password, MAC: mac})
	return e.Submit(ctx, req, e.timeoutOrDefault(timeout))
}

// QuitAP issues AT+CWQAP to disassociate from the current access point.
func (e *Engine) QuitAP(ctx context.Context, timeout time.Duration) (Result, error) {
	req := NewRequest(CmdQuitAP, nil)
	return e.Submit(ctx, req, e.timeoutOrDefault(timeout))
}

// ListAP issues AT+CWLAP and scans nearby access points.
func (e *Engine) ListAP(ctx context.Context, timeout time.Duration) (Result, error) {
	req := NewRequest(CmdListAP, nil)
	return e.Submit(ctx, req, e.timeoutOrDefault(timeout))
}

// GetAPInfo issues AT+CIPSTA? and reports the current association's details.
func (e *Engine) GetAPInfo(ctx context.Context, timeout time.Duration) (Result, error) {
	req := NewRequest(CmdGetAPInfo, nil)
	return e.Submit(ctx, req, e.timeoutOrDefault(timeout))
}

// Ping issues AT+PING against host.
func (e *Engine) Ping(ctx context.Context, host string, timeout time.Duration) (Result, error) {
	if host == "" {
		return ParErr, ParErr
	}
	req := NewRequest(CmdPing, &PingParams{Host: host})
	return e.Submit(ctx, req, e.timeoutOrDefault(timeout))
}

// ResolveHost issues AT+CIPDOMAIN to resolve host to an IPv4 address.
func (e *Engine) ResolveHost(ctx context.Context, host string, timeout time.Duration) (Result, error) {
	if host == "" {
		return ParErr, ParErr
	}
	req := NewRequest(CmdDNS, &DNSParams{Host: host})
	return e.Submit(ctx, req, e.timeoutOrDefault(timeout))
}

// SNTPTime configures and queries SNTP time, issuing AT+CIPSNTPCFG followed
// by AT+CIPSNTPTIME?.
func (e *Engine) SNTPTime(ctx context.Context, enable bool, timezone int, servers []string, timeout time.Duration) (Result, error) {
	p := &SNTPParams{Enable: enable, Timezone: timezone}
	if len(servers) > 0 {
		p.Server1 = servers[0]
	}
	if len(servers) > 1 {
		p.Server2 = servers[1]
	}
	if len(servers) > 2 {
		p.Server3 = servers[2]
	}
	req := NewRequest(CmdSNTPQuery, p)
	return e.Submit(ctx, req, e.timeoutOrDefault(timeout))
}

// Open issues AT+CIPSTARTEX to open conn as the given type against
// host:port. cb receives every subsequent event for this connection
// (ConnRecv, ConnClosed) until it closes; may be nil, in which case those
// events go to the engine's EventSink.
func (e *Engine) Open(ctx context.Context, conn int, typ ConnType, host string, port uint16, cb EventSink, timeout time.Duration) (Result, error) {
	if conn < 0 || conn >= e.conns.Size() {
		return ParErr, ParErr
	}
	if host == "" || port == 0 {
		return ParErr, ParErr
	}
	if e.conns.IsActive(conn) {
		return ConnAlreadyActive, ConnAlreadyActive
	}
	p := &ConnOpenParams{Conn: conn, Type: typ, Host: host, Port: port, Callback: cb}
	req := NewRequest(CmdConnOpen, p)
	return e.Submit(ctx, req, e.timeoutOrDefault(timeout))
}

// OpenUDP is Open specialized for ConnUDP, taking the local port the device
// should bind for replies.
func (e *Engine) OpenUDP(ctx context.Context, conn int, host string, port, localPort uint16, cb EventSink, timeout time.Duration) (Result, error) {
	if conn < 0 || conn >= e.conns.Size() {
		return ParErr, ParErr
	}
	if host == "" || port == 0 {
		return ParErr, ParErr
	}
	p := &ConnOpenParams{Conn: conn, Type: ConnUDP, Host: host, Port: port, LocalPort: localPort, Callback: cb}
	req := NewRequest(CmdConnOpen, p)
	return e.Submit(ctx, req, e.timeoutOrDefault(timeout))
}

// Send writes data to conn, splitting it into CIPSEND segments no larger
// than cfg.ConnMaxDataLen and retrying a failed segment up to
// cfg.MaxSendRetries times (spec.md §4.1).
func (e *Engine) Send(ctx context.Context, conn int, data []byte, timeout time.Duration) (Result, error) {
	return e.sendImpl(ctx, conn, data, [4]byte{}, 0, false, timeout)
}

// SendTo is Send for a UDP slot addressing a specific remote peer.
func (e *Engine) SendTo(ctx context.Context, conn int, data []byte, remoteIP [4]byte, remotePort uint16, timeout time.Duration) (Result, error) {
	return e.sendImpl(ctx, conn, data, remoteIP, remotePort, true, timeout)
}

func (e *Engine) sendImpl(ctx context.Context, conn int, data []byte, remoteIP [4]byte, remotePort uint16, useRemote bool, timeout time.Duration) (Result, error) {
	if conn < 0 || conn >= e.conns.Size() || len(data) == 0 {
		return ParErr, ParErr
	}
	if !e.conns.IsActive(conn) {
		return Closed, Closed
	}
	p := &ConnSendParams{
		Conn: conn, Data: data, RemoteIP: remoteIP, RemotePort: remotePort, UseRemote: useRemote,
		validationAtSubmit: e.conns.validationID(conn),
	}
	req := NewRequest(CmdConnSend, p)
	return e.Submit(ctx, req, e.timeoutOrDefault(timeout))
}

// CloseConn issues AT+CIPCLOSE for conn.
func (e *Engine) CloseConn(ctx context.Context, conn int, timeout time.Duration) (Result, error) {
	if conn < 0 || conn >= e.conns.Size() {
		return ParErr, ParErr
	}
	if !e.conns.IsActive(conn) {
		return Closed, Closed
	}
	e.conns.markClosing(conn)
	p := &ConnCloseParams{Conn: conn, validationAtSubmit: e.conns.validationID(conn)}
	req := NewRequest(CmdConnClose, p)
	return e.Submit(ctx, req, e.timeoutOrDefault(timeout))
}

// ManualRecv issues AT+CIPRECVDATA for conn, pulling up to length bytes
// buffered by the device in manual receive mode (cfg.ManualTCPRecv).
// length is clamped to cfg.ConnMaxDataLen.
func (e *Engine) ManualRecv(ctx context.Context, conn, length int, timeout time.Duration) (Result, error) {
	if conn < 0 || conn >= e.conns.Size() || length <= 0 {
		return ParErr, ParErr
	}
	if length > e.cfg.ConnMaxDataLen {
		length = e.cfg.ConnMaxDataLen
	}
	req := NewRequest(CmdManualRecv, &ManualRecvParams{Conn: conn, Length: length})
	return e.Submit(ctx, req, e.timeoutOrDefault(timeout))
}

// ServerStart issues AT+CIPSERVER=1 on port, accepting up to maxConns
// concurrent clients with the given idle timeout in seconds.
func (e *Engine) ServerStart(ctx context.Context, port uint16, maxConns, timeoutSec int, timeout time.Duration) (Result, error) {
	if port == 0 {
		return ParErr, ParErr
	}
	p := &ServerParams{Enable: true, Port: port, MaxConns: maxConns, TimeoutSec: timeoutSec}
	req := NewRequest(CmdServerStart, p)
	return e.Submit(ctx, req, e.timeoutOrDefault(timeout))
}

// ServerStop issues AT+CIPSERVER=0 on port.
func (e *Engine) ServerStop(ctx context.Context, port uint16, timeout time.Duration) (Result, error) {
	p := &ServerParams{Enable: false, Port: port}
	req := NewRequest(CmdServerStop, p)
	return e.Submit(ctx, req, e.timeoutOrDefault(timeout))
}

// Passthrough emits "AT"+suffix verbatim for single-shot features the
// engine doesn't model structurally (spec.md §1 Non-goals).
func (e *Engine) Passthrough(ctx context.Context, suffix string, timeout time.Duration) (Result, error) {
	if suffix == "" {
		return ParErr, ParErr
	}
	req := NewRequest(CmdPassthrough, &PassthroughParams{Suffix: suffix})
	return e.Submit(ctx, req, e.timeoutOrDefault(timeout))
}

// IsActive, IsClient, IsServer, IsClosed, SetArg, GetArg delegate to the
// connection table for callers that would rather not hold onto Conns().
func (e *Engine) IsActive(conn int) bool    { return e.conns.IsActive(conn) }
func (e *Engine) IsClient(conn int) bool    { return e.conns.IsClient(conn) }
func (e *Engine) IsServer(conn int) bool    { return e.conns.IsServer(conn) }
func (e *Engine) IsClosed(conn int) bool    { return e.conns.IsClosed(conn) }
func (e *Engine) SetArg(conn int, arg any)  { e.conns.SetArg(conn, arg) }
func (e *Engine) GetArg(conn int) any       { return e.conns.GetArg(conn) }
