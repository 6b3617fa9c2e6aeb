// Package fade implements the fade state machine and transmission scheduler:
// it converts a (start, target, duration) triple into a time-ordered sequence
// of rate-limited, per-channel bus events with exact end-state convergence.
package fade

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"k8s.io/utils/clock"

	"github.com/dokzlo13/fadectl/internal/light"
)

// DefaultMinTxInterval is the minimum time between transmission round starts.
// Lower values mean smoother fades but more bus traffic.
const DefaultMinTxInterval = 10 * time.Millisecond

// State is the phase of the fade state machine.
type State int

const (
	// StateIdle means no fade is in progress.
	StateIdle State = iota
	// StateFading means the controller is interpolating and/or transmitting.
	StateFading
	// StateComplete means the target was reached and fully transmitted.
	// It is transient: the next Tick consumes it and returns to StateIdle.
	StateComplete
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFading:
		return "fading"
	case StateComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Params describes a fade request.
type Params struct {
	Target light.State
	// Duration is the total fade time. Zero applies the target immediately
	// (a single transmission round, no interpolation frames).
	Duration time.Duration
}

// Progress is a snapshot of the active or most recent fade.
type Progress struct {
	State   State
	Current light.State
	Elapsed time.Duration // clamped to Total
	Total   time.Duration
	Percent int
}

// Controller drives a single fade session. There is never more than one fade
// in flight; a new Start re-targets from the live interpolated value. All
// methods are safe for concurrent use, guarded by one coarse mutex around the
// whole session.
type Controller struct {
	mu sync.Mutex

	sink          Sink
	clk           clock.PassiveClock
	minTxInterval time.Duration
	notify        func(Event)

	sessionID uuid.UUID
	state     State
	current   light.State
	start     light.State
	target    light.State
	duration  time.Duration
	startedAt time.Time
	lastTxAt  time.Time

	// Unrounded per-channel values, recomputed from start/target/elapsed
	// every tick. Never accumulated incrementally: long fades must land
	// exactly on target regardless of tick-rate jitter.
	channels [light.ParamCount]float64

	nextParam int // round cursor into light.TxOrder
	txPending bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces the monotonic clock, used by tests.
func WithClock(c clock.PassiveClock) Option {
	return func(ctrl *Controller) { ctrl.clk = c }
}

// WithMinTxInterval overrides the minimum interval between transmission
// round starts.
func WithMinTxInterval(d time.Duration) Option {
	return func(ctrl *Controller) { ctrl.minTxInterval = d }
}

// WithNotifier registers a callback for fade lifecycle events. The callback
// must not block and must not call back into the controller.
func WithNotifier(fn func(Event)) Option {
	return func(ctrl *Controller) { ctrl.notify = fn }
}

// New creates an idle controller writing to the given sink.
func New(sink Sink, opts ...Option) *Controller {
	c := &Controller{
		sink:          sink,
		clk:           clock.RealClock{},
		minTxInterval: DefaultMinTxInterval,
		state:         StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start begins a fade towards params.Target over params.Duration. If a fade
// is already in flight it is discarded and the new fade starts from the
// current interpolated value, so re-targeting never causes a visible jump.
func (c *Controller) Start(params *Params) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sink == nil {
		return ErrNotInitialized
	}
	if params == nil {
		return ErrInvalidArgument
	}
	if params.Duration < 0 {
		return fmt.Errorf("%w: negative duration", ErrInvalidArgument)
	}

	if c.state == StateFading {
		log.Info().
			Str("session_id", c.sessionID.String()).
			Msg("Cancelling active fade, re-targeting from current state")
	}

	c.sessionID = uuid.New()
	c.start = c.current
	c.target = params.Target
	c.duration = params.Duration

	// Resync the float accumulators from the committed state.
	for i := 0; i < light.ParamCount; i++ {
		c.channels[i] = float64(c.current.Param(light.Param(i)))
	}

	c.startedAt = c.clk.Now()
	c.nextParam = 0
	c.txPending = true
	c.state = StateFading

	if params.Duration == 0 {
		// Immediate apply: commit the target now, the scheduler still has
		// to flush one round before the fade is complete.
		c.current = params.Target
		log.Info().
			Str("session_id", c.sessionID.String()).
			Uint8("brightness", params.Target.Brightness).
			Uint8("red", params.Target.Red).
			Uint8("green", params.Target.Green).
			Uint8("blue", params.Target.Blue).
			Uint8("white", params.Target.White).
			Msg("Immediate apply")
	} else {
		log.Info().
			Str("session_id", c.sessionID.String()).
			Dur("duration", params.Duration).
			Uint8("brightness", params.Target.Brightness).
			Uint8("red", params.Target.Red).
			Uint8("green", params.Target.Green).
			Uint8("blue", params.Target.Blue).
			Uint8("white", params.Target.White).
			Msg("Starting fade")
	}

	c.emit(EventFadeStarted)
	return nil
}

// ApplyImmediate is shorthand for a zero-duration fade to state.
func (c *Controller) ApplyImmediate(state light.State) error {
	return c.Start(&Params{Target: state, Duration: 0})
}

// Tick advances the fade by one step. It never blocks: a sink that is
// momentarily unready defers work to a later tick. Calling Tick faster than
// the minimum transmit interval only samples progress more finely, it never
// violates the rate limit.
func (c *Controller) Tick() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sink == nil {
		return ErrNotInitialized
	}

	switch c.state {
	case StateIdle:
		return nil
	case StateComplete:
		c.state = StateIdle
		return nil
	}

	now := c.clk.Now()
	elapsed := now.Sub(c.startedAt)

	progress := 1.0
	if c.duration > 0 {
		progress = float64(elapsed) / float64(c.duration)
		if progress < 0 {
			progress = 0
		}
		if progress > 1 {
			progress = 1
		}
	}

	// Interpolate every channel from the original start/target, not from the
	// previous tick. A channel counts as changed only when its rounded value
	// moves.
	changed := false
	for i := 0; i < light.ParamCount; i++ {
		p := light.Param(i)
		startVal := float64(c.start.Param(p))
		targetVal := float64(c.target.Param(p))
		val := startVal + (targetVal-startVal)*progress

		oldInt := uint8(math.Round(c.channels[i]))
		newInt := uint8(math.Round(val))
		if oldInt != newInt {
			changed = true
		}

		c.channels[i] = val
		c.current.SetParam(p, newInt)
	}

	// An observed change stays pending until a full round flushes, so a
	// rate-limited tick can never drop the final value on the floor.
	if changed {
		c.txPending = true
	}

	// A round interrupted mid-way must be finished even when nothing moved
	// this tick.
	needFinish := progress >= 1 && c.nextParam != 0

	if c.txPending || needFinish {
		if now.Sub(c.lastTxAt) >= c.minTxInterval {
			c.transmitRound(now)
		}
	}

	// Fade is complete once time is up, the round cursor is reset and the
	// last transmitted snapshot equals the exact target.
	if progress >= 1 && !c.txPending && c.nextParam == 0 {
		if c.current == c.target {
			log.Info().
				Str("session_id", c.sessionID.String()).
				Msg("Fade complete")
			c.state = StateComplete
			c.emit(EventFadeCompleted)
		} else {
			// Rounding never quite reached the target, or a round was
			// interrupted. Force one final round carrying the exact target.
			c.current = c.target
			c.txPending = true
		}
	}

	return nil
}

// transmitRound bursts the remaining channels of the current round in fixed
// order. Caller holds c.mu.
func (c *Controller) transmitRound(now time.Time) {
	anySent := false
burst:
	for c.nextParam < light.ParamCount {
		param := light.TxOrder[c.nextParam]
		value := c.current.Param(param)

		err := c.sink.SendLightingEvent(param, value)
		switch {
		case err == nil:
			anySent = true
			c.nextParam++
		case errors.Is(err, ErrSinkNotReady):
			// Bus not ready: halt the round, keep the cursor for the next
			// tick. Nothing is lost and nothing is reordered.
			log.Debug().
				Str("param", param.String()).
				Msg("Sink not ready, deferring transmission")
			break burst
		default:
			// Single-channel failure: skip it so one bad channel never
			// blocks the remaining ones.
			log.Warn().
				Err(err).
				Str("param", param.String()).
				Uint8("value", value).
				Msg("Channel transmission failed, skipping")
			c.nextParam++
		}
	}

	if anySent {
		// Rate limit is measured round-start to round-start.
		c.lastTxAt = now
	}
	if c.nextParam >= light.ParamCount {
		c.nextParam = 0
		c.txPending = false
	}
}

// Abort immediately forces the controller idle and clears pending
// transmission state. The committed current value is kept: no rollback to
// start, no fast-forward to target.
func (c *Controller) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sink == nil || c.state == StateIdle {
		return
	}

	if c.state == StateFading {
		log.Info().
			Str("session_id", c.sessionID.String()).
			Uint8("brightness", c.current.Brightness).
			Uint8("red", c.current.Red).
			Uint8("green", c.current.Green).
			Uint8("blue", c.current.Blue).
			Uint8("white", c.current.White).
			Msg("Fade aborted")
		c.emit(EventFadeAborted)
	}

	c.state = StateIdle
	c.txPending = false
	c.nextParam = 0
}

// IsActive reports whether a fade is in flight.
func (c *Controller) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateFading
}

// Progress returns a snapshot of the session.
func (c *Controller) Progress() Progress {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := Progress{
		State:   c.state,
		Current: c.current,
		Total:   c.duration,
	}

	switch c.state {
	case StateFading:
		p.Elapsed = c.clk.Now().Sub(c.startedAt)
		if p.Elapsed > p.Total {
			p.Elapsed = p.Total
		}
		if p.Total > 0 {
			p.Percent = int(p.Elapsed * 100 / p.Total)
		} else {
			p.Percent = 100
		}
	case StateComplete:
		p.Elapsed = p.Total
		p.Percent = 100
	}

	return p
}

// Current returns the authoritative logical state: the last value committed
// by interpolation, independent of what has been transmitted.
func (c *Controller) Current() light.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// SetCurrent overwrites the logical state, e.g. to reflect a state asserted
// by another source. The float accumulators are resynced so the next fade
// does not jump from a stale value.
func (c *Controller) SetCurrent(state light.State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.current = state
	for i := 0; i < light.ParamCount; i++ {
		c.channels[i] = float64(state.Param(light.Param(i)))
	}

	log.Info().
		Uint8("brightness", state.Brightness).
		Uint8("red", state.Red).
		Uint8("green", state.Green).
		Uint8("blue", state.Blue).
		Uint8("white", state.White).
		Msg("Current state set")
}

// emit delivers a lifecycle event to the notifier, if any. Caller holds c.mu;
// notifiers must be non-blocking.
func (c *Controller) emit(typ EventType) {
	if c.notify == nil {
		return
	}
	c.notify(Event{
		Type:      typ,
		SessionID: c.sessionID,
		Target:    c.target,
		Current:   c.current,
		Duration:  c.duration,
	})
}
