// Package mstp implements the BACnet MS/TP data-link core: the receive
// frame state machine, the manager node state machine, the two CRC
// codecs and the silence timer that drives every transition between
// them, wrapped up as an Engine with a packet-oriented application
// interface (§1-§6).
package mstp

import (
	"sync"
	"time"

	"github.com/samsamfire/mstpd/internal/queue"
	"github.com/samsamfire/mstpd/pkg/uart"
	"github.com/sirupsen/logrus"
)

// defaultRxQueueDepth bounds the RX queue; the TX queue is capped at
// nmaxInfoFrames per §6 ("enqueues if the TX queue has room (<
// Nmax_info_frames)").
const defaultRxQueueDepth = 32

// Engine owns one half-duplex EIA-485 bus: the RFSM/MNSM pair, the
// shared silence timer, both frame queues and the UART it drives. All
// protocol state is mutated only while holding mu, which is the
// mutual-exclusion primitive §5 requires between the RX path and the
// tick path.
type Engine struct {
	mu sync.Mutex

	log  *logrus.Entry
	uart uart.Driver

	timer SilenceTimer
	rfsm  *rfsm
	mnsm  *mnsm

	txQueue *queue.Queue[Frame]
	rxQueue *queue.Queue[Frame]
	stats   Counters

	thisStation    uint8
	nmaxManager    uint8
	nmaxInfoFrames uint8
	baud           int
	tusageTimeout  time.Duration

	closed bool
}

// Config carries the engine's configurable tunables (§3 lifecycle,
// §6 "Tunable constants").
type Config struct {
	ThisStation    uint8
	NmaxManager    uint8
	NmaxInfoFrames uint8
	Baud           int
	TusageTimeout  time.Duration
}

// NewEngine creates an Engine bound to driver, applies cfg (clamped per
// §7), and subscribes to the driver's receive callback. The engine is
// created in MNSM Initialize / RFSM Idle, per §3's lifecycle.
func NewEngine(driver uart.Driver, cfg Config, log *logrus.Entry) *Engine {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	e := &Engine{
		log:     log.WithField("component", "engine"),
		uart:    driver,
		rxQueue: queue.New[Frame](defaultRxQueueDepth),
	}
	e.applyConfig(cfg)
	driver.Subscribe(e.onOctets)
	return e
}

func (e *Engine) applyConfig(cfg Config) {
	e.thisStation = cfg.ThisStation
	e.nmaxManager = ClampNmaxManager(int(cfg.NmaxManager))
	if cfg.NmaxInfoFrames < 1 {
		cfg.NmaxInfoFrames = 1
	}
	e.nmaxInfoFrames = cfg.NmaxInfoFrames
	e.baud = cfg.Baud
	if !ValidBaud(e.baud) {
		e.log.WithField("requested_baud", cfg.Baud).Warn("unsupported baud, defaulting to 76800")
		e.baud = 76800
	}
	e.tusageTimeout = ClampTusageTimeout(cfg.TusageTimeout)

	e.txQueue = queue.New[Frame](int(e.nmaxInfoFrames))
	e.rfsm = newRFSM(e.thisStation, e.rxQueue, &e.stats, e.log)
	e.mnsm = newMNSM(e.thisStation, e.nmaxManager, e.nmaxInfoFrames, e.tusageTimeout, e.rfsm, e.txQueue, &e.stats, e.transmit, e.log)
	e.timer.SetAbove(TframeAbort)
}

// Configure applies a new configuration, forcing RFSM to Idle and MNSM
// to Initialize per §3's "On configuration change" lifecycle clause.
func (e *Engine) Configure(cfg Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.applyConfig(cfg)
}

// onOctets is the UART driver's receive callback; it is the RX path of
// §5 and must never be invoked concurrently with the tick path observing
// the same engine, which mu guarantees.
func (e *Engine) onOctets(octets []byte, flag uart.LineFlag) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	lineError := flag != uart.Normal
	for _, ch := range octets {
		e.rfsm.Step(ch, lineError, &e.timer)
		e.mnsm.eventCount++
	}
	if lineError {
		// A line-error notification with no payload octets still counts
		// as one RFSM invocation per §7.
		if len(octets) == 0 {
			e.rfsm.Step(0, true, &e.timer)
			e.mnsm.eventCount++
		}
	}
}

// Tick advances the silence timer by elapsed and drives MNSM while the
// transmitter is idle and the timer remains positive (§4.5, §5).
func (e *Engine) Tick(elapsed time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.timer.Advance(elapsed)
	for e.timer.Positive() {
		if !e.mnsm.Step(&e.timer) {
			break
		}
	}
}

// transmit serializes and sends f, observing invariant 6 (never transmit
// to this_station) and the turnaround delay of §4.2/§6. It is passed
// into the MNSM as its send callback; SubmitTX never calls it —
// application frames always flow through the TX queue.
func (e *Engine) transmit(f Frame) {
	if f.Destination == e.thisStation {
		// Open Question #1: codified as a hard no-op, never on the wire.
		return
	}
	e.awaitTurnaround()

	out := Serialize(f, false)
	if _, err := e.uart.Transmit(out); err != nil {
		e.log.WithError(err).WithField("frame_type", f.Type.String()).Warn("transmit failed")
		return
	}
	e.stats.FramesTransmitted.Add(1)
	e.timer.Reset()
	e.timer.Charge(-transmitDuration(len(out), e.baud))
}

// awaitTurnaround busy-waits until the silence timer reaches the
// per-baud turnaround delay, per §4.2 ("if the silence timer is below
// Tturnaround, busy-wait the remainder") and §9's design note: a tight
// sleep loop below 38400 baud, a single sleep above.
func (e *Engine) awaitTurnaround() {
	want := Turnaround(e.baud)
	if e.baud > 38400 {
		if need := want - e.timer.Duration(); need > 0 {
			time.Sleep(need)
			e.timer.Advance(need)
		}
		return
	}
	for e.timer.Duration() < want {
		start := time.Now()
		time.Sleep(time.Millisecond)
		e.timer.Advance(time.Since(start))
	}
}

// transmitDuration estimates the wall-time the UART will spend pushing
// n bytes out at baud, 10 bit-times per byte (8N1 plus start/stop bit).
func transmitDuration(n int, baud int) time.Duration {
	if baud <= 0 {
		return 0
	}
	bits := n * 10
	return time.Duration(bits) * time.Second / time.Duration(baud)
}

// SubmitTX enqueues a frame for transmission once this station owns the
// token. Per §6, a call made before the engine has joined the ring (and
// is not sole manager) is treated as success with no side effect — the
// application is expected to retry once Status().Joined is true.
func (e *Engine) SubmitTX(frameType FrameType, destination, source uint8, payload []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if destination == e.thisStation {
		return nil
	}
	if !e.mnsm.online {
		return nil
	}
	ok := e.txQueue.Push(Frame{Type: frameType, Destination: destination, Source: source, Data: payload})
	if !ok {
		e.stats.TxQueueRejects.Add(1)
		return ErrQueueFull
	}
	return nil
}

// ReceiveRX pops the oldest received application frame, if any. Only
// DER/DNER frames addressed to this station or broadcast ever appear
// here (invariant 5), by construction of the RFSM.
func (e *Engine) ReceiveRX() (Frame, bool) {
	f, ok := e.rxQueue.Pop()
	if ok {
		e.stats.FramesReceived.Add(1)
	}
	return f, ok
}

// Status returns a point-in-time snapshot of engine state for
// observability (§6).
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		ThisStation: e.thisStation,
		NmaxManager: e.nmaxManager,
		NextStation: e.mnsm.ns,
		PollStation: e.mnsm.ps,
		Joined:      e.mnsm.joined,
		SoleManager: e.mnsm.soleManager,
		RFSMState:   e.rfsm.state.String(),
		MNSMState:   e.mnsm.state.String(),
		SilenceMs:   e.timer.Milliseconds(),
		TxQueueLen:  e.txQueue.Len(),
		RxQueueLen:  e.rxQueue.Len(),
		Counters:    e.stats.Snapshot(),
	}
}

// Close tears the engine down: it stops accepting new work, drains both
// queues and releases the UART, per §5's "Cancellation / teardown".
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.txQueue.Drain()
	e.rxQueue.Drain()
	return e.uart.Close()
}
