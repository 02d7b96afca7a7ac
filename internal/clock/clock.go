// Package clock implements the MIDI clock core: a master/worker pair
// coordinated over an explicit control protocol, MIDI realtime byte
// emission, tap tempo, and a dedicated adjuster-driven filter for
// remote tempo/transport control.
//
// The worker's tick loop and the master/worker split itself are
// grounded on zurustar-son-et's pkg/engine/midi_player.go (the
// goroutine + stopChan/finishedChan control-channel shape) and
// pkg/engine/tick_generator.go (the tempo/tick math, generalized from
// audio-sample-count timing to the wall-clock nanosecond sleep loop
// spec.md §4.5 specifies). The worker runs on a locked OS thread
// (runtime.LockOSThread) standing in for the spec's "isolated
// scheduling context" - the Open Question resolution recorded in
// DESIGN.md: Go has no cheap OS-process spawn primitive, so a
// dedicated, thread-pinned goroutine is the idiomatic substitute, and
// nanosecond time.Sleep via a timer is used in place of a literal
// nsleep syscall.
package clock

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/pimidbox/pimidbox/internal/message"
	"github.com/pimidbox/pimidbox/internal/registry"
	"github.com/pimidbox/pimidbox/pkg/logger"
)

var log = logger.Component("clock")

// BPMMin and BPMMax bound the tempo per spec.md §4.5.
const (
	BPMMin = 60
	BPMMax = 300
)

// ClipTempo clamps bpm into [BPMMin, BPMMax].
func ClipTempo(bpm int) int {
	if bpm < BPMMin {
		return BPMMin
	}
	if bpm > BPMMax {
		return BPMMax
	}
	return bpm
}

// TickLength returns the exact tick period for bpm/ppqn, per spec.md
// §3's invariant tickLengthNs = 60e9 / (bpm * ppqn).
func TickLength(bpm, ppqn int) time.Duration {
	return time.Duration(60_000_000_000 / int64(bpm*ppqn))
}

// Tick is a derived position, reported once per tick and usable to
// derive whole/half/quarter/eighth/sixteenth-note boundaries, both
// absolute and within the current pattern.
type Tick struct {
	Position      int
	PPQN          int
	PatternLength int // quarter notes
}

func (t Tick) noteDivisor(quarterFraction int) int {
	d := t.PPQN / quarterFraction
	if d == 0 {
		d = 1
	}
	return d
}

func (t Tick) WholeNote() int     { return t.Position / (t.PPQN * 4) }
func (t Tick) HalfNote() int      { return t.Position / (t.PPQN * 2) }
func (t Tick) QuarterNote() int   { return t.Position / t.PPQN }
func (t Tick) EighthNote() int    { return t.Position / t.noteDivisor(2) }
func (t Tick) SixteenthNote() int { return t.Position / t.noteDivisor(4) }

func (t Tick) IsQuarterNote() bool { return t.PPQN > 0 && t.Position%t.PPQN == 0 }

// PatternTicks is the pattern length expressed in ticks.
func (t Tick) PatternTicks() int { return t.PatternLength * t.PPQN }

// PositionInPattern wraps Position into [0, PatternTicks).
func (t Tick) PositionInPattern() int {
	total := t.PatternTicks()
	if total <= 0 {
		return t.Position
	}
	return t.Position % total
}

// worker owns the tick loop exclusively: it shares nothing with the
// master but the control channels. It implements the algorithm from
// spec.md §4.5 verbatim, using a monotonic nextAt so drift is measured
// against the absolute schedule rather than accumulated elapsed time.
func worker(cfgCh <-chan time.Duration, ctrlCh <-chan bool, destroyCh <-chan struct{}, readyCh chan<- struct{}, tickCh chan<- struct{}, stateCh chan<- bool, errCh chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	tickLength := TickLength(BPMMin, 24)

	readyCh <- struct{}{}

	for {
		select {
		case tl := <-cfgCh:
			tickLength = tl
			continue
		case start := <-ctrlCh:
			if !start {
				continue
			}
		case <-destroyCh:
			return
		}

		nextAt := time.Now()
		tickCh <- struct{}{}
		stateCh <- true
		nextAt = nextAt.Add(tickLength)

	runLoop:
		for {
			diff := time.Until(nextAt)
			if diff <= 0 {
				select {
				case errCh <- fmt.Errorf("clock: missed tick deadline by %s", -diff):
				default:
				}
				stateCh <- false
				break runLoop
			}

			timer := time.NewTimer(diff)
			select {
			case <-timer.C:
				tickCh <- struct{}{}
				nextAt = nextAt.Add(tickLength)
			case tl := <-cfgCh:
				timer.Stop()
				tickLength = tl
			case start := <-ctrlCh:
				timer.Stop()
				if !start {
					stateCh <- false
					break runLoop
				}
			case <-destroyCh:
				timer.Stop()
				return
			}
		}
	}
}

// Clock is the master: it owns tempo, pattern length, play/pause/stop/
// tap state, and the output list, and translates those into the
// control protocol sent to the worker goroutine.
type Clock struct {
	mu            sync.Mutex
	ppqn          int
	bpm           int
	patternLength int
	tickCount     int
	position      int
	started       bool
	paused        bool
	outputs       []registry.Output
	onTick        func(Tick)

	tapTimes []time.Time

	cfgCh     chan time.Duration
	ctrlCh    chan bool
	destroyCh chan struct{}
	readyCh   chan struct{}
	tickCh    chan struct{}
	stateCh   chan bool
	errCh     chan error

	workerLive   bool
	eventsDone   chan struct{}
	stopAckCh    chan struct{}
	shutdownOnce sync.Once

	announceCh chan announceRequest
}

// announceRequest asks eventLoop to emit a realtime byte on its own
// goroutine; done is closed once the send has completed, so the
// caller can block until the byte is actually on the wire.
type announceRequest struct {
	kind message.Type
	done chan struct{}
}

// New constructs a Clock. bpm is clipped into [BPMMin, BPMMax].
func New(ppqn, bpm, patternLength int, outputs []registry.Output) *Clock {
	return &Clock{
		ppqn:          ppqn,
		bpm:           ClipTempo(bpm),
		patternLength: patternLength,
		outputs:       outputs,
		cfgCh:         make(chan time.Duration, 1),
		ctrlCh:        make(chan bool, 1),
		destroyCh:     make(chan struct{}),
		readyCh:       make(chan struct{}, 1),
		tickCh:        make(chan struct{}, 32),
		stateCh:       make(chan bool, 1),
		errCh:         make(chan error, 1),
		eventsDone:    make(chan struct{}),
		stopAckCh:     make(chan struct{}, 1),
		announceCh:    make(chan announceRequest, 1),
	}
}

// OnTick installs a hook fired in-process after every tick is
// broadcast, for higher-level consumers (pattern triggers, LED
// blinkers) per spec.md §4.5.
func (c *Clock) OnTick(fn func(Tick)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTick = fn
}

func (c *Clock) tickLengthLocked() time.Duration {
	return TickLength(c.bpm, c.ppqn)
}

func (c *Clock) ensureWorker() {
	c.mu.Lock()
	if c.workerLive {
		c.mu.Unlock()
		return
	}
	c.workerLive = true
	c.mu.Unlock()

	go worker(c.cfgCh, c.ctrlCh, c.destroyCh, c.readyCh, c.tickCh, c.stateCh, c.errCh)
	go c.eventLoop()
}

// eventLoop is the master's side of the control protocol: it applies
// queued config on clock.ready, advances position on clock.tick,
// tracks clock.state, and logs clock.error.
func (c *Clock) eventLoop() {
	defer close(c.eventsDone)
	for {
		select {
		case <-c.readyCh:
			select {
			case c.cfgCh <- c.currentTickLength():
			default:
			}
		case <-c.tickCh:
			c.advance()
		case req := <-c.announceCh:
			c.drainTicks()
			c.sendRealtime(req.kind)
			close(req.done)
		case started := <-c.stateCh:
			c.mu.Lock()
			c.started = started
			c.mu.Unlock()
			if !started {
				select {
				case c.stopAckCh <- struct{}{}:
				default:
				}
			}
		case err := <-c.errCh:
			log.Error().Err(err).Msg("clock worker reported a timing fault")
		case <-c.destroyCh:
			return
		}
	}
}

func (c *Clock) currentTickLength() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tickLengthLocked()
}

func (c *Clock) advance() {
	c.mu.Lock()
	c.position++
	c.tickCount++
	tick := Tick{Position: c.position, PPQN: c.ppqn, PatternLength: c.patternLength}
	outputs := c.outputs
	hook := c.onTick
	c.mu.Unlock()

	data := clockByte()
	for _, out := range outputs {
		if err := out.Send(data); err != nil {
			log.Error().Err(err).Str("device", out.Name()).Msg("clock send failed")
		}
	}
	if hook != nil {
		hook(tick)
	}
}

func clockByte() []byte { return []byte{0xF8} }

func (c *Clock) sendRealtime(kind message.Type) {
	m, err := message.FromProperties(kind, message.Fields{})
	if err != nil {
		log.Error().Err(err).Msg("clock: failed to build realtime message")
		return
	}
	data := m.Bytes()
	for _, out := range c.outputs {
		if err := out.Send(data); err != nil {
			log.Error().Err(err).Str("device", out.Name()).Msg("clock realtime send failed")
		}
	}
}

// drainTicks applies any tick already queued on tickCh without
// blocking. announce calls this before emitting a realtime byte so a
// Clock the worker already produced is sent before a trailing Stop,
// keeping the two in the order the worker generated them.
func (c *Clock) drainTicks() {
	for {
		select {
		case <-c.tickCh:
			c.advance()
		default:
			return
		}
	}
}

// announce asks eventLoop to emit kind and blocks until it has. Routing
// the send through eventLoop - the same goroutine that drains tickCh -
// makes the ordering spec.md §5 requires (Start before the first
// Clock of a run, Stop after the last) structural: once announce
// returns, the byte is already on the wire, so a caller that only then
// signals the worker to start ticking can't race it. If the worker has
// never been started there is no tick to race against, so it sends
// directly instead of blocking on a goroutine that doesn't exist yet.
func (c *Clock) announce(kind message.Type) {
	c.mu.Lock()
	live := c.workerLive
	c.mu.Unlock()
	if !live {
		c.sendRealtime(kind)
		return
	}

	done := make(chan struct{})
	c.announceCh <- announceRequest{kind: kind, done: done}
	<-done
}

// Play starts or resumes the clock. If the worker isn't live yet it
// is spawned and the start is queued for clock.ready; otherwise
// control:start is sent directly. MIDI Start is emitted on the very
// first transition out of the stopped state; Continue on unpause. The
// announce happens before control:start reaches the worker, so the
// worker cannot produce its first tick until the realtime byte is
// already sent - see announce.
func (c *Clock) Play() {
	c.mu.Lock()
	resuming := c.paused
	wasStopped := !c.started && !c.paused
	c.paused = false
	c.mu.Unlock()

	c.ensureWorker()

	switch {
	case resuming:
		c.announce(message.TypeContinue)
	case wasStopped:
		c.announce(message.TypeStart)
	}

	select {
	case c.cfgCh <- c.currentTickLength():
	default:
	}
	select {
	case c.ctrlCh <- true:
	default:
	}
}

// Pause sends control:stop to the worker but preserves position; a
// following Play emits MIDI Continue instead of Start.
func (c *Clock) Pause() {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()

	select {
	case c.ctrlCh <- false:
	default:
	}
}

// Stop sends control:stop and emits MIDI Stop, resetting position and
// tickCount to 0. The announce drains any tick the worker already
// queued before the Stop byte goes out, per spec.md §5.
func (c *Clock) Stop() {
	c.mu.Lock()
	c.paused = false
	c.position = 0
	c.tickCount = 0
	c.mu.Unlock()

	select {
	case c.ctrlCh <- false:
	default:
	}
	c.announce(message.TypeStop)
}

// Shutdown implements router.Clock: stop, await the worker's
// state:false echo, and terminate the worker, per spec.md §5.
func (c *Clock) Shutdown() {
	c.Stop()

	c.mu.Lock()
	live := c.workerLive
	c.mu.Unlock()
	if !live {
		return
	}

	select {
	case <-c.stopAckCh:
	case <-time.After(2 * time.Second):
	}
	c.shutdownOnce.Do(func() { close(c.destroyCh) })
	<-c.eventsDone
}

// SetTempo clips and applies a new tempo; it takes effect at the next
// tick boundary via clock.config.
func (c *Clock) SetTempo(bpm int) {
	c.mu.Lock()
	c.bpm = ClipTempo(bpm)
	tl := c.tickLengthLocked()
	c.mu.Unlock()

	select {
	case c.cfgCh <- tl:
	default:
	}
}

// Tempo returns the current BPM.
func (c *Clock) Tempo() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bpm
}

// Position returns the current tick position.
func (c *Clock) Position() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position
}

// PPQN returns the configured pulses-per-quarter-note.
func (c *Clock) PPQN() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ppqn
}

// PatternLength returns the configured pattern length in quarter notes.
func (c *Clock) PatternLength() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.patternLength
}

const maxTapEntries = 5
const maxTapGap = 3 * time.Second

// Tap records a tap-tempo timestamp and, once at least three taps are
// present, derives a new tempo from the average of the kept pairwise
// intervals (discarding any gap exceeding maxTapGap), per spec.md
// §4.5. now is supplied by the caller so the algorithm stays
// deterministic and testable.
func (c *Clock) Tap(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tapTimes = append(c.tapTimes, now)
	if len(c.tapTimes) > maxTapEntries {
		c.tapTimes = c.tapTimes[len(c.tapTimes)-maxTapEntries:]
	}
	if len(c.tapTimes) < 3 {
		return
	}

	var kept []time.Duration
	for i := len(c.tapTimes) - 1; i > 0; i-- {
		gap := c.tapTimes[i].Sub(c.tapTimes[i-1])
		if gap > maxTapGap {
			continue
		}
		kept = append(kept, gap)
	}
	if len(kept) < 2 {
		return
	}

	var total time.Duration
	for _, d := range kept {
		total += d
	}
	avg := total / time.Duration(len(kept))
	if avg <= 0 {
		return
	}

	bpm := int(roundDiv(60_000_000_000, avg.Nanoseconds()))
	c.bpm = ClipTempo(bpm)
	tl := c.tickLengthLocked()
	select {
	case c.cfgCh <- tl:
	default:
	}
}

func roundDiv(num, den int64) int64 {
	if den == 0 {
		return 0
	}
	return (num + den/2) / den
}
