package espat

import (
	"sync"
)

// Connection is one slot of the connection table (spec.md §3). Slot
// memory is reused across activations; identity is preserved only by
// ValidationID, never by pointer or by Number alone (spec.md §9,
// "Validation id defeats use-after-reuse").
type Connection struct {
	Number int

	Type       ConnType
	RemoteIP   [4]byte
	RemotePort uint16
	LocalPort  uint16

	Callback EventSink
	arg      any

	ValidationID uint16
	Active       bool
	IsClient     bool
	InClosing    bool
	DataReceived bool

	writeStaging []byte

	TotalRecved        uint64
	TCPNotAckBytes     uint32
	TCPAvailableBytes  uint32
}

// ConnInfo is a read-only snapshot of a slot, for diagnostics and metrics
// (SPEC_FULL.md §4.3 "ConnectionTable.Snapshot").
type ConnInfo struct {
	Number       int
	Type         ConnType
	RemoteIP     [4]byte
	RemotePort   uint16
	Active       bool
	IsClient     bool
	ValidationID uint16
	TotalRecved  uint64
}

// ConnectionTable owns the fixed-capacity slot array (spec.md §4.3).
// Mutations happen from either the dispatcher goroutine (Open/Send/Close
// issuing commands) or the parser goroutine (+LINK_CONN, CLOSED, IPD
// arrival); the table's own mutex is the single serialization point for
// both, standing in for the "library-wide lock" of spec.md §5 scoped down
// to just the slot array.
type ConnectionTable struct {
	mu    sync.Mutex
	slots []Connection
}

// NewConnectionTable creates a table with the given slot count
// (config.MaxConns, 1..32, default 5 per spec.md §6).
func NewConnectionTable(size int) *ConnectionTable {
	t := &ConnectionTable{slots: make([]Connection, size)}
	for i := range t.slots {
		t.slots[i].Number = i
	}
	return t
}

// Size returns the slot count.
func (t *ConnectionTable) Size() int {
	return len(t.slots)
}

// Get returns a copy of slot n's current state plus whether n is in range.
func (t *ConnectionTable) Get(n int) (Connection, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n < 0 || n >= len(t.slots) {
		return Connection{}, false
	}
	return t.slots[n], true
}

// Snapshot returns a read-only copy of every slot.
func (t *ConnectionTable) Snapshot() []ConnInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ConnInfo, len(t.slots))
	for i, s := range t.slots {
		out[i] = ConnInfo{
			Number: s.Number, Type: s.Type, RemoteIP: s.RemoteIP,
			RemotePort: s.RemotePort, Active: s.Active, IsClient: s.IsClient,
			ValidationID: s.ValidationID, TotalRecved: s.TotalRecved,
		}
	}
	return out
}

// IsActive, IsClient, IsServer, IsClosed are the narrow read-only
// predicates spec.md §4.3 names explicitly.
func (t *ConnectionTable) IsActive(n int) bool {
	c, ok := t.Get(n)
	return ok && c.Active
}

func (t *ConnectionTable) IsClient(n int) bool {
	c, ok := t.Get(n)
	return ok && c.Active && c.IsClient
}

func (t *ConnectionTable) IsServer(n int) bool {
	c, ok := t.Get(n)
	return ok && c.Active && !c.IsClient
}

func (t *ConnectionTable) IsClosed(n int) bool {
	c, ok := t.Get(n)
	return !ok || !c.Active
}

// IsClosing reports whether slot n has a CIPCLOSE in flight (markClosing
// called, deactivate not yet observed) — the window in which the slot is
// still `Active` but the IPD data pump must discard arriving bytes rather
// than deliver them (spec.md §4.2 IPD mode, §7 "connection callbacks are
// suppressed once in_closing unless the event itself is ConnClosed").
func (t *ConnectionTable) IsClosing(n int) bool {
	c, ok := t.Get(n)
	return ok && c.InClosing
}

// SetArg / GetArg attach an opaque user value to a slot, replacing the
// spec's void* user argument (spec.md §9).
func (t *ConnectionTable) SetArg(n int, arg any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n >= 0 && n < len(t.slots) {
		t.slots[n].arg = arg
	}
}

func (t *ConnectionTable) GetArg(n int) any {
	c, ok := t.Get(n)
	if !ok {
		return nil
	}
	return c.arg
}

// activate initializes slot n on a +LINK_CONN activation, bumping its
// validation id (never to 0 — spec.md §4.2 numeric semantics) and
// returning the new id.
func (t *ConnectionTable) activate(n int, typ ConnType, isClient bool, remoteIP [4]byte, remotePort, localPort uint16, cb EventSink) uint16 {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := &t.slots[n]
	s.Type = typ
	s.IsClient = isClient
	s.RemoteIP = remoteIP
	s.RemotePort = remotePort
	s.LocalPort = localPort
	s.Active = true
	s.InClosing = false
	s.DataReceived = false
	s.TotalRecved = 0
	s.Callback = cb
	s.ValidationID++
	if s.ValidationID == 0 {
		s.ValidationID = 1
	}
	return s.ValidationID
}

// deactivate marks slot n inactive (on CLOSED / CONNECT FAIL / reset).
// It does not reset ValidationID: the id only ever increases, on the next
// activation (spec.md §3 invariant, "validation_id never decreases").
func (t *ConnectionTable) deactivate(n int) (Connection, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n < 0 || n >= len(t.slots) {
		return Connection{}, false
	}
	was := t.slots[n]
	t.slots[n].Active = false
	t.slots[n].InClosing = false
	t.slots[n].Callback = nil
	return was, was.Active
}

// markClosing flags slot n as closing without deactivating it yet, so the
// parser can suppress further ConnRecv delivery per-slot while CIPCLOSE is
// in flight (spec.md §7, connection callbacks are suppressed once
// in_closing unless the event itself is ConnClosed).
func (t *ConnectionTable) markClosing(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n >= 0 && n < len(t.slots) {
		t.slots[n].InClosing = true
	}
}

// validationID returns the current validation id of slot n, used to pin a
// send/close request at submission time (spec.md §3 invariant).
func (t *ConnectionTable) validationID(n int) uint16 {
	c, ok := t.Get(n)
	if !ok {
		return 0
	}
	return c.ValidationID
}

// checkValid reports whether id still matches slot n's current validation
// id and the slot is active — the single check every send/close dispatch
// performs before emitting anything on the wire.
func (t *ConnectionTable) checkValid(n int, id uint16) bool {
	c, ok := t.Get(n)
	return ok && c.Active && c.ValidationID == id
}

// addRecved accumulates bytes delivered to this slot (monotonic while
// active, per spec.md §3 invariant).
func (t *ConnectionTable) addRecved(n int, n64 uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n >= 0 && n < len(t.slots) {
		t.slots[n].TotalRecved += n64
		t.slots[n].DataReceived = true
	}
}

// setAvailable updates the CIPRECVLEN-reported backlog for manual receive
// mode (spec.md §4.3).
func (t *ConnectionTable) setAvailable(n int, avail uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n >= 0 && n < len(t.slots) {
		t.slots[n].TCPAvailableBytes = avail
	}
}

// callback returns the slot's registered event callback, if any.
func (t *ConnectionTable) callback(n int) EventSink {
	c, ok := t.Get(n)
	if !ok {
		return nil
	}
	return c.Callback
}
