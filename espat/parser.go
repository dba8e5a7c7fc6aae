package espat

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/amken3d/espat/atproto"
	"github.com/amken3d/espat/config"
)

type parserMode int

const (
	modeLine parserMode = iota
	modeIPD
)

// maxLineLen bounds the line accumulator; a line longer than this is
// almost certainly noise on the wire rather than a real response.
const maxLineLen = 4096

// parserState is the byte-stream parser's framing state, embedded in
// Engine. Grounded on original_source/src/esp/esp_parser.c's line/IPD mode
// switch and the three dispatch triggers spec.md §4.2 names.
type parserState struct {
	mode parserMode

	line      []byte
	promptWin [3]byte

	ipdConn    int
	ipdRemote  [4]byte
	ipdPort    uint16
	ipdHasAddr bool
	ipdRemain  int
	ipdHead    *PacketBuffer
	ipdTail    *PacketBuffer
	ipdTailOff int
}

func newParserState(*config.Config) parserState {
	return parserState{mode: modeLine}
}

// drainParser pulls every available byte out of the ring buffer and feeds
// the state machine one byte at a time: the AT dialect is a low-rate
// control channel, not a bulk pipe, so per-byte dispatch costs nothing in
// practice and mirrors original_source's own byte-at-a-time parser.
func (e *Engine) drainParser() {
	var b [1]byte
	for e.in.Available() > 0 {
		if e.in.Read(b[:]) == 0 {
			return
		}
		e.feedByte(b[0])
	}
}

func (e *Engine) feedByte(b byte) {
	e.promptWin[0], e.promptWin[1], e.promptWin[2] = e.promptWin[1], e.promptWin[2], b
	if e.mode == modeLine && e.awaitingPrompt.Load() && e.promptWin == [3]byte{'\n', '>', ' '} {
		e.awaitingPrompt.Store(false)
		e.line = e.line[:0] // discard the partial ">"/" " fragment the prompt bytes left behind
		select {
		case e.promptCh <- struct{}{}:
		default:
		}
		return
	}

	if e.mode == modeIPD {
		e.feedIPDByte(b)
		return
	}

	if b == '\r' {
		return
	}
	if b == '\n' {
		e.handleLine(string(e.line))
		e.line = e.line[:0]
		return
	}

	e.line = append(e.line, b)
	if len(e.line) > maxLineLen {
		e.log.Debug("parser: discarding oversized line", "len", len(e.line))
		e.line = e.line[:0]
		return
	}

	if b == ':' && bytes.HasPrefix(e.line, []byte("+IPD")) {
		e.enterIPDFromUnsolicited(string(e.line))
		e.line = e.line[:0]
		return
	}
	if b == ',' && bytes.HasPrefix(e.line, []byte("+CIPRECVDATA")) && bytes.Count(e.line, []byte(",")) == 3 {
		e.enterIPDFromManualRecv(string(e.line))
		e.line = e.line[:0]
		return
	}
}

// enterIPDFromUnsolicited parses "+IPD,<conn>,<len>,<ip>,<port>:" and
// switches to IPD mode (spec.md §4.2, GLOSSARY "IPD").
func (e *Engine) enterIPDFromUnsolicited(line string) {
	body := strings.TrimSuffix(line, ":")
	body = strings.TrimPrefix(body, "+IPD")
	body = strings.TrimPrefix(body, ",")
	fields := strings.Split(body, ",")
	if len(fields) < 2 {
		e.log.Debug("parser: discarding malformed +IPD header", "line", line)
		return
	}
	conn, err1 := strconv.Atoi(fields[0])
	length, err2 := strconv.ParseUint(fields[1], 10, 32)
	if err1 != nil || err2 != nil {
		e.log.Debug("parser: discarding malformed +IPD header", "line", line)
		return
	}
	e.ipdConn = conn
	e.ipdRemain = int(length)
	e.ipdHasAddr = false
	if len(fields) >= 4 {
		if ip, err := atproto.ParseIPv4(strings.Trim(fields[2], `"`)); err == nil {
			e.ipdRemote = ip
			e.ipdHasAddr = true
		}
		if port, err := strconv.Atoi(fields[3]); err == nil {
			e.ipdPort = uint16(port)
		}
	}
	e.beginIPDMode()
}

// enterIPDFromManualRecv parses "+CIPRECVDATA:<len>,<ip>,<port>," (the
// trailing comma is the trigger byte already consumed into line). The
// connection number isn't part of this header; it's the connection the
// in-flight CIPRECVDATA request addressed.
func (e *Engine) enterIPDFromManualRecv(line string) {
	body := strings.TrimSuffix(line, ",")
	body = strings.TrimPrefix(body, "+CIPRECVDATA:")
	fields := strings.Split(body, ",")
	if len(fields) == 0 {
		e.log.Debug("parser: discarding malformed +CIPRECVDATA header", "line", line)
		return
	}
	length, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		e.log.Debug("parser: discarding malformed +CIPRECVDATA header", "line", line)
		return
	}
	e.mu.Lock()
	conn := -1
	if e.current != nil {
		if p, ok := e.current.Payload.(*ManualRecvParams); ok {
			conn = p.Conn
		}
	}
	e.mu.Unlock()
	e.ipdConn = conn
	e.ipdRemain = int(length)
	e.ipdHasAddr = false
	if len(fields) >= 3 {
		if ip, err := atproto.ParseIPv4(strings.Trim(fields[1], `"`)); err == nil {
			e.ipdRemote = ip
			e.ipdHasAddr = true
		}
		if port, err := strconv.Atoi(fields[2]); err == nil {
			e.ipdPort = uint16(port)
		}
	}
	e.beginIPDMode()
}

func (e *Engine) beginIPDMode() {
	e.ipdHead, e.ipdTail, e.ipdTailOff = nil, nil, 0
	e.mode = modeIPD
	if e.ipdRemain == 0 {
		e.completeIPD()
		return
	}
	e.allocIPDFollowOn()
}

// allocIPDFollowOn allocates the next pbuf node in the chain, sized
// min(remaining, ipd_max_buff_size), unless the target connection has gone
// inactive or into closing state, in which case remaining bytes are
// discarded without allocating (spec.md §4.2 IPD mode).
func (e *Engine) allocIPDFollowOn() {
	if e.ipdRemain <= 0 {
		return
	}
	if e.ipdConn >= 0 && (!e.conns.IsActive(e.ipdConn) || e.conns.IsClosing(e.ipdConn)) {
		e.ipdTail = nil
		return
	}
	size := e.ipdRemain
	if e.cfg != nil && size > e.cfg.IPDMaxBuffSize {
		size = e.cfg.IPDMaxBuffSize
	}
	node := NewPacketBuffer(size)
	if e.ipdHead == nil {
		e.ipdHead = node
	} else {
		e.ipdHead.Cat(node)
	}
	e.ipdTail = node
	e.ipdTailOff = 0
}

func (e *Engine) feedIPDByte(b byte) {
	if e.ipdTail == nil || e.ipdTailOff >= len(e.ipdTail.payload) {
		e.allocIPDFollowOn()
	}
	if e.ipdTail != nil {
		e.ipdTail.payload[e.ipdTailOff] = b
		e.ipdTailOff++
	}
	e.ipdRemain--
	if e.ipdRemain <= 0 {
		e.completeIPD()
	}
}

// completeIPD tears down the IPD-mode context, returns to line mode, and
// raises exactly one ConnRecv event for the assembled chain (spec.md §8,
// "exactly one ConnRecv event ... whose pbuf chain length equals L").
func (e *Engine) completeIPD() {
	head := e.ipdHead
	conn := e.ipdConn
	remote := e.ipdRemote
	port := e.ipdPort
	hasAddr := e.ipdHasAddr

	e.ipdHead, e.ipdTail, e.ipdTailOff, e.ipdRemain = nil, nil, 0, 0
	e.mode = modeLine

	if head == nil {
		return
	}
	if hasAddr {
		head.SetIP(remote, port)
	}
	e.conns.addRecved(conn, uint64(head.Length()))
	e.met.addConnRecvBytes(conn, head.Length())
	e.connCallback(conn, ConnRecvEvent{Conn: conn, Buf: head})
}
