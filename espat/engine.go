package espat

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/amken3d/espat/atproto"
	"github.com/amken3d/espat/config"
	"github.com/amken3d/espat/espat/osiface"
	"github.com/amken3d/espat/host/serial"
	"github.com/prometheus/client_golang/prometheus"
)

// pollInterval is the connection-table poll tick (spec.md §4.3, "500ms").
const pollInterval = 500 * time.Millisecond

// requestQueueDepth bounds the dispatcher's inbound request channel; a full
// queue resolves to QueueFull (SPEC_FULL.md §4.1, the Go analogue of the
// original's pool-allocation failure).
const requestQueueDepth = 16

// Engine is the host-side AT-command engine: dispatcher, parser, and
// connection table bound to one serial transport. Grounded on the
// teacher's HostTransport, generalized from a single Klipper MCU link to
// the AT dialect's request/response/event model.
type Engine struct {
	cfg   *config.Config
	trans Transport
	log   *slog.Logger
	met   *metrics
	clock osiface.Clock

	conns *ConnectionTable

	requests chan *Request
	stopCh   chan struct{}
	wg       sync.WaitGroup

	// mu guards current and the dispatcher's sequencing bookkeeping; it is
	// never held while a user EventSink callback runs (see callbackGID).
	mu      sync.Mutex
	current *Request

	deviceMu sync.Mutex
	device   DeviceInfo

	// callbackGID holds the id of the goroutine currently inside a user
	// callback, 0 when none. Entry points compare their own goroutine id
	// against it to reject a blocking Submit called back into the engine
	// from its own parser/dispatch goroutine, which would otherwise
	// deadlock (Go mutexes don't support self-relock, and more
	// fundamentally the parser can't produce the response the caller is
	// waiting for while it's blocked on that very wait).
	callbackGID atomic.Int64

	events EventSink

	in      *atproto.RingBuffer
	scratch *atproto.ScratchOutput

	// stepDone carries the terminal outcome of the command currently in
	// flight from the parser goroutine to the dispatcher goroutine.
	stepDone chan Outcome
	// promptCh signals prompt ("\n> ") detection to a CIPSEND step.
	promptCh chan struct{}
	// resetCh signals an unsolicited "ready" abort to whichever step is
	// currently waiting on stepDone/promptCh.
	resetCh chan struct{}

	awaitingPrompt atomic.Bool
	suppressNextOK atomic.Bool

	out pendingOutputs

	parserState
}

// pendingOutputs accumulates the unsolicited/getter lines belonging to the
// request currently in flight (spec.md §4.2 getter-line table), consumed
// by buildCompletionEvent when the request's sub-command sequence
// concludes.
type pendingOutputs struct {
	apList  []APInfo
	station StationInfo
	pingMs  int
	dnsIP   [4]byte
	sntpStr string
	errCode uint32

	connActive     bool
	connRemoteIP   [4]byte
	connRemotePort uint16
}

// New constructs an Engine bound to trans, using cfg for tunables and
// delivering events to sink. If reg is non-nil, Prometheus collectors are
// registered against it. A nil logger falls back to atlog.Default()-style
// discard-free stderr logging via slog's default handler.
func New(cfg *config.Config, trans Transport, sink EventSink, reg prometheus.Registerer, log *slog.Logger) *Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{
		cfg:      cfg,
		trans:    trans,
		log:      log,
		met:      newMetrics(reg),
		clock:    osiface.NewClock(),
		conns:    NewConnectionTable(cfg.MaxConns),
		requests: make(chan *Request, requestQueueDepth),
		stopCh:   make(chan struct{}),
		events:   sink,
		in:       atproto.NewRingBuffer(4096),
		scratch:  atproto.NewScratchOutput(),
		stepDone: make(chan Outcome, 1),
		promptCh: make(chan struct{}, 1),
		resetCh:  make(chan struct{}, 1),
	}
	e.parserState = newParserState(cfg)
	return e
}

// NewWithPort is a convenience constructor wrapping a host/serial.Port in
// the default Transport adapter.
func NewWithPort(cfg *config.Config, port serial.Port, sink EventSink, reg prometheus.Registerer, log *slog.Logger) *Engine {
	return New(cfg, newPortTransport(port), sink, reg, log)
}

// Start launches the dispatch and poll goroutines. The engine starts no
// parser goroutine: the parser runs inside ProcessInput, which the caller
// feeds (e.g. a goroutine reading from serial.Port), matching the push-mode
// InputSink contract of SPEC_FULL.md §6.
func (e *Engine) Start() {
	e.wg.Add(2)
	go e.dispatchLoop()
	go e.pollLoop()
}

// Close stops all engine goroutines. Safe to call more than once; calls
// after the first return nil without doing anything.
func (e *Engine) Close() error {
	select {
	case <-e.stopCh:
		return nil
	default:
		close(e.stopCh)
	}
	e.wg.Wait()
	return nil
}

// ProcessInput feeds newly-arrived transport bytes into the parser. The
// caller (typically a small reader goroutine wrapping the serial port) is
// the ring buffer's sole writer; the parser, invoked synchronously here, is
// its sole reader — no lock needed (SPEC_FULL.md §5).
func (e *Engine) ProcessInput(b []byte) {
	e.in.Write(b)
	e.drainParser()
}

// Conns exposes the connection table for host-side queries
// (IsActive/IsClient/IsServer/IsClosed/Snapshot).
func (e *Engine) Conns() *ConnectionTable {
	return e.conns
}

// DeviceInfo returns the most recently parsed AT/SDK version banner.
func (e *Engine) DeviceInfo() DeviceInfo {
	return e.deviceInfo()
}

func (e *Engine) deviceInfo() DeviceInfo {
	e.deviceMu.Lock()
	defer e.deviceMu.Unlock()
	return e.device
}

func (e *Engine) setDeviceInfo(d DeviceInfo) {
	e.deviceMu.Lock()
	e.device = d
	e.deviceMu.Unlock()
}

func (e *Engine) pollLoop() {
	defer e.wg.Done()
	t := e.clock.NewTicker(pollInterval)
	defer t.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-t.Chan():
			active := 0
			for _, c := range e.conns.Snapshot() {
				if c.Active {
					active++
				}
			}
			e.met.setConnsActive(active)
		}
	}
}

func (e *Engine) emit(ev Event) {
	gid := goroutineID()
	e.callbackGID.Store(gid)
	defer e.callbackGID.Store(0)
	if e.events != nil {
		e.events(ev)
	}
}

func (e *Engine) connCallback(n int, ev Event) {
	cb := e.conns.callback(n)
	if cb == nil {
		cb = e.events
	}
	gid := goroutineID()
	e.callbackGID.Store(gid)
	defer e.callbackGID.Store(0)
	if cb != nil {
		cb(ev)
	}
}

// goroutineID extracts the calling goroutine's numeric id by parsing the
// header line of runtime.Stack, the same trick net/http's httptest and
// various debugging tools use since the runtime exposes no public
// accessor. Used only for the reentrancy check above, never for scheduling.
func goroutineID() int64 {
	buf := make([]byte, 64)
	n := runtime.Stack(buf, false)
	buf = buf[:n]
	var id int64
	_, err := fmt.Sscanf(string(bytes.TrimPrefix(buf, []byte("goroutine "))), "%d", &id)
	if err != nil {
		return -1
	}
	return id
}
