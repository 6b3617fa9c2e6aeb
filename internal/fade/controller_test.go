package fade

import (
	"errors"
	"testing"
	"time"

	clocktesting "k8s.io/utils/clock/testing"

	"github.com/dokzlo13/fadectl/internal/light"
)

type sendRecord struct {
	Param light.Param
	Value uint8
	At    time.Time
	Err   error
}

// fakeSink records every send attempt. An optional respond callback injects
// sink failures.
type fakeSink struct {
	clk     *clocktesting.FakeClock
	records []sendRecord
	respond func(p light.Param, v uint8) error
	last    map[light.Param]uint8
}

func newFakeSink(clk *clocktesting.FakeClock) *fakeSink {
	return &fakeSink{clk: clk, last: make(map[light.Param]uint8)}
}

func (s *fakeSink) SendLightingEvent(p light.Param, v uint8) error {
	var err error
	if s.respond != nil {
		err = s.respond(p, v)
	}
	s.records = append(s.records, sendRecord{Param: p, Value: v, At: s.clk.Now(), Err: err})
	if err != nil {
		return err
	}
	s.last[p] = v
	return nil
}

// sent returns only the successful sends.
func (s *fakeSink) sent() []sendRecord {
	var out []sendRecord
	for _, r := range s.records {
		if r.Err == nil {
			out = append(out, r)
		}
	}
	return out
}

func newTestController(t *testing.T, opts ...Option) (*Controller, *fakeSink, *clocktesting.FakeClock) {
	t.Helper()
	clk := clocktesting.NewFakeClock(time.Unix(1000, 0))
	sink := newFakeSink(clk)
	opts = append([]Option{WithClock(clk)}, opts...)
	return New(sink, opts...), sink, clk
}

// tickToComplete ticks the controller, stepping the clock between ticks,
// until the session reports complete.
func tickToComplete(t *testing.T, c *Controller, clk *clocktesting.FakeClock, step time.Duration) {
	t.Helper()
	for i := 0; i < 100000; i++ {
		if err := c.Tick(); err != nil {
			t.Fatalf("Tick failed: %v", err)
		}
		if c.Progress().State == StateComplete {
			return
		}
		clk.Step(step)
	}
	t.Fatal("fade never reached complete")
}

func TestExactEndpointDelivery(t *testing.T) {
	tests := []struct {
		name     string
		start    light.State
		target   light.State
		duration time.Duration
	}{
		{
			name:     "zero_to_full",
			start:    light.State{},
			target:   light.State{Brightness: 255, Red: 255, Green: 255, Blue: 255, White: 255},
			duration: 1 * time.Second,
		},
		{
			name:     "awkward_rounding_deltas",
			start:    light.State{Brightness: 3, Red: 200, Green: 7, Blue: 31, White: 255},
			target:   light.State{Brightness: 254, Red: 1, Green: 99, Blue: 32, White: 0},
			duration: 1300 * time.Millisecond,
		},
		{
			name:     "no_movement",
			start:    light.State{Brightness: 100, Red: 50},
			target:   light.State{Brightness: 100, Red: 50},
			duration: 500 * time.Millisecond,
		},
		{
			name:     "long_fade",
			start:    light.State{Brightness: 1},
			target:   light.State{Brightness: 2},
			duration: 30 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, sink, clk := newTestController(t)
			c.SetCurrent(tt.start)

			if err := c.Start(&Params{Target: tt.target, Duration: tt.duration}); err != nil {
				t.Fatalf("Start failed: %v", err)
			}
			tickToComplete(t, c, clk, 10*time.Millisecond)

			for i := 0; i < light.ParamCount; i++ {
				p := light.Param(i)
				if got, want := sink.last[p], tt.target.Param(p); got != want {
					t.Errorf("last transmitted %v = %d, want %d", p, got, want)
				}
			}
			if got := c.Current(); got != tt.target {
				t.Errorf("Current() = %+v, want %+v", got, tt.target)
			}
		})
	}
}

func TestMonotonicRateLimiting(t *testing.T) {
	c, sink, clk := newTestController(t)

	err := c.Start(&Params{
		Target:   light.State{Brightness: 255},
		Duration: 200 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Tick far faster than the minimum transmit interval.
	tickToComplete(t, c, clk, time.Millisecond)

	// Round starts are the brightness sends (first channel of every round,
	// no failures injected).
	var starts []time.Time
	for _, r := range sink.sent() {
		if r.Param == light.ParamBrightness {
			starts = append(starts, r.At)
		}
	}
	if len(starts) < 2 {
		t.Fatalf("expected multiple transmission rounds, got %d", len(starts))
	}
	for i := 1; i < len(starts); i++ {
		if gap := starts[i].Sub(starts[i-1]); gap < DefaultMinTxInterval {
			t.Errorf("rounds %d and %d started %v apart, want >= %v", i-1, i, gap, DefaultMinTxInterval)
		}
	}
}

func TestFixedTransmissionOrder(t *testing.T) {
	c, sink, clk := newTestController(t)

	if err := c.ApplyImmediate(light.State{Brightness: 10, Red: 20, Green: 30, Blue: 40, White: 50}); err != nil {
		t.Fatalf("ApplyImmediate failed: %v", err)
	}
	tickToComplete(t, c, clk, 10*time.Millisecond)

	want := []light.Param{light.ParamBrightness, light.ParamRed, light.ParamGreen, light.ParamBlue, light.ParamWhite}
	sent := sink.sent()
	if len(sent) != len(want) {
		t.Fatalf("sent %d events, want %d", len(sent), len(want))
	}
	for i, r := range sent {
		if r.Param != want[i] {
			t.Errorf("send %d was %v, want %v", i, r.Param, want[i])
		}
	}
}

func TestSkippedChannelPreservesOrder(t *testing.T) {
	c, sink, clk := newTestController(t)

	failGreen := errors.New("tx queue rejected frame")
	sink.respond = func(p light.Param, v uint8) error {
		if p == light.ParamGreen {
			return failGreen
		}
		return nil
	}

	if err := c.ApplyImmediate(light.State{Brightness: 1, Red: 2, Green: 3, Blue: 4, White: 5}); err != nil {
		t.Fatalf("ApplyImmediate failed: %v", err)
	}
	tickToComplete(t, c, clk, 10*time.Millisecond)

	// Green fails on every attempt, the rest still go out in order.
	want := []light.Param{light.ParamBrightness, light.ParamRed, light.ParamBlue, light.ParamWhite}
	sent := sink.sent()
	if len(sent) != len(want) {
		t.Fatalf("sent %d events, want %d: %+v", len(sent), len(want), sent)
	}
	for i, r := range sent {
		if r.Param != want[i] {
			t.Errorf("send %d was %v, want %v", i, r.Param, want[i])
		}
	}
}

func TestImmediateApplySingleRound(t *testing.T) {
	c, sink, clk := newTestController(t)
	target := light.State{Brightness: 200, Red: 100, Green: 50, Blue: 25, White: 12}

	if err := c.ApplyImmediate(target); err != nil {
		t.Fatalf("ApplyImmediate failed: %v", err)
	}
	tickToComplete(t, c, clk, 10*time.Millisecond)

	// Exactly one round, and no interpolation frames: every transmitted
	// value already equals the target.
	sent := sink.sent()
	if len(sent) != light.ParamCount {
		t.Fatalf("sent %d events, want %d", len(sent), light.ParamCount)
	}
	for _, r := range sent {
		if r.Value != target.Param(r.Param) {
			t.Errorf("transmitted %v=%d, want %d", r.Param, r.Value, target.Param(r.Param))
		}
	}
	if got := c.Current(); got != target {
		t.Errorf("Current() = %+v, want %+v", got, target)
	}
}

func TestRetargetContinuity(t *testing.T) {
	c, _, clk := newTestController(t)

	err := c.Start(&Params{
		Target:   light.State{Brightness: 200},
		Duration: 1 * time.Second,
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Advance halfway through the fade.
	for i := 0; i < 50; i++ {
		if err := c.Tick(); err != nil {
			t.Fatalf("Tick failed: %v", err)
		}
		clk.Step(10 * time.Millisecond)
	}
	mid := c.Current()
	if mid.Brightness == 0 || mid.Brightness == 200 {
		t.Fatalf("expected a mid-fade brightness, got %d", mid.Brightness)
	}

	// Re-target: the new fade must start from the live interpolated value,
	// not the old start or target.
	err = c.Start(&Params{
		Target:   light.State{Brightness: 0},
		Duration: 1 * time.Second,
	})
	if err != nil {
		t.Fatalf("re-target Start failed: %v", err)
	}

	if got := c.Current(); got != mid {
		t.Errorf("after re-target Current() = %+v, want %+v", got, mid)
	}
	tickToComplete(t, c, clk, 10*time.Millisecond)
	if got := c.Current().Brightness; got != 0 {
		t.Errorf("after re-targeted fade Brightness = %d, want 0", got)
	}
}

func TestTransientNotReadyResumesMidRound(t *testing.T) {
	c, sink, clk := newTestController(t)

	// Third channel of the round (green) is momentarily not ready.
	blocked := true
	sink.respond = func(p light.Param, v uint8) error {
		if blocked && p == light.ParamGreen {
			return ErrSinkNotReady
		}
		return nil
	}

	if err := c.ApplyImmediate(light.State{Brightness: 11, Red: 22, Green: 33, Blue: 44, White: 55}); err != nil {
		t.Fatalf("ApplyImmediate failed: %v", err)
	}
	if err := c.Tick(); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}

	if got := len(sink.sent()); got != 2 {
		t.Fatalf("after interrupted round sent %d events, want 2", got)
	}
	if c.Progress().State != StateFading {
		t.Fatalf("state = %v, want fading while transmission is pending", c.Progress().State)
	}

	// Sink recovers: the next round resumes at green without re-sending
	// brightness or red.
	blocked = false
	clk.Step(10 * time.Millisecond)
	tickToComplete(t, c, clk, 10*time.Millisecond)

	want := []light.Param{
		light.ParamBrightness, light.ParamRed,
		light.ParamGreen, light.ParamBlue, light.ParamWhite,
	}
	sent := sink.sent()
	if len(sent) != len(want) {
		t.Fatalf("sent %d events, want %d: %+v", len(sent), len(want), sent)
	}
	for i, r := range sent {
		if r.Param != want[i] {
			t.Errorf("send %d was %v, want %v", i, r.Param, want[i])
		}
	}
}

func TestDeferredFinalRoundStillDeliversTarget(t *testing.T) {
	c, sink, clk := newTestController(t)

	// Brightness is not ready exactly when the fade tries to flush its
	// final values.
	failAt := 20 * time.Millisecond
	sink.respond = func(p light.Param, v uint8) error {
		if p == light.ParamBrightness && clk.Now().Sub(time.Unix(1000, 0)) == failAt {
			return ErrSinkNotReady
		}
		return nil
	}

	if err := c.Start(&Params{Target: light.State{Brightness: 255}, Duration: 20 * time.Millisecond}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	tickToComplete(t, c, clk, 10*time.Millisecond)

	if got := sink.last[light.ParamBrightness]; got != 255 {
		t.Errorf("last transmitted brightness = %d, want 255", got)
	}
}

func TestMidpointRounding(t *testing.T) {
	c, _, clk := newTestController(t)

	err := c.Start(&Params{
		Target:   light.State{Brightness: 255},
		Duration: 1 * time.Second,
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	clk.Step(500 * time.Millisecond)
	if err := c.Tick(); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}

	// 127.5 rounds half away from zero.
	if got := c.Current().Brightness; got != 128 {
		t.Errorf("brightness at 500ms = %d, want 128", got)
	}

	tickToComplete(t, c, clk, 10*time.Millisecond)
	if got := c.Current().Brightness; got != 255 {
		t.Errorf("final brightness = %d, want 255", got)
	}
}

func TestCompleteIsTransient(t *testing.T) {
	c, _, clk := newTestController(t)

	if err := c.ApplyImmediate(light.State{Brightness: 5}); err != nil {
		t.Fatalf("ApplyImmediate failed: %v", err)
	}
	tickToComplete(t, c, clk, 10*time.Millisecond)

	if got := c.Progress().State; got != StateComplete {
		t.Fatalf("state = %v, want complete", got)
	}
	if err := c.Tick(); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if got := c.Progress().State; got != StateIdle {
		t.Errorf("state after consuming complete = %v, want idle", got)
	}
}

func TestAbortKeepsCurrent(t *testing.T) {
	c, sink, clk := newTestController(t)

	err := c.Start(&Params{
		Target:   light.State{Brightness: 200},
		Duration: 1 * time.Second,
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	for i := 0; i < 30; i++ {
		if err := c.Tick(); err != nil {
			t.Fatalf("Tick failed: %v", err)
		}
		clk.Step(10 * time.Millisecond)
	}

	mid := c.Current()
	c.Abort()

	if c.IsActive() {
		t.Error("IsActive() = true after abort")
	}
	if got := c.Progress().State; got != StateIdle {
		t.Errorf("state after abort = %v, want idle", got)
	}
	if got := c.Current(); got != mid {
		t.Errorf("Current() after abort = %+v, want %+v (no rollback, no fast-forward)", got, mid)
	}

	// Abort clears pending transmission: further ticks send nothing.
	before := len(sink.records)
	clk.Step(time.Second)
	if err := c.Tick(); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if len(sink.records) != before {
		t.Error("tick after abort transmitted events")
	}
}

func TestProgressReporting(t *testing.T) {
	c, _, clk := newTestController(t)

	p := c.Progress()
	if p.State != StateIdle || p.Percent != 0 {
		t.Errorf("idle progress = %+v", p)
	}

	err := c.Start(&Params{
		Target:   light.State{Brightness: 100},
		Duration: 1 * time.Second,
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	clk.Step(250 * time.Millisecond)
	p = c.Progress()
	if p.State != StateFading {
		t.Errorf("state = %v, want fading", p.State)
	}
	if p.Percent != 25 {
		t.Errorf("percent at 250ms = %d, want 25", p.Percent)
	}
	if p.Total != time.Second {
		t.Errorf("total = %v, want 1s", p.Total)
	}

	// Elapsed is clamped to the total even when ticks lag behind.
	clk.Step(5 * time.Second)
	p = c.Progress()
	if p.Elapsed != time.Second || p.Percent != 100 {
		t.Errorf("overdue progress = %+v, want elapsed=1s percent=100", p)
	}
}

func TestStartValidation(t *testing.T) {
	c, _, _ := newTestController(t)

	if err := c.Start(nil); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Start(nil) = %v, want ErrInvalidArgument", err)
	}
	err := c.Start(&Params{Target: light.State{}, Duration: -time.Second})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Start with negative duration = %v, want ErrInvalidArgument", err)
	}
}

func TestZeroValueControllerNotInitialized(t *testing.T) {
	var c Controller

	if err := c.Tick(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Tick on zero value = %v, want ErrNotInitialized", err)
	}
	if err := c.Start(&Params{}); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Start on zero value = %v, want ErrNotInitialized", err)
	}
}

func TestSetCurrentResyncsAccumulators(t *testing.T) {
	c, _, clk := newTestController(t)

	c.SetCurrent(light.State{Brightness: 100})

	err := c.Start(&Params{
		Target:   light.State{Brightness: 200},
		Duration: 1 * time.Second,
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	clk.Step(500 * time.Millisecond)
	if err := c.Tick(); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if got := c.Current().Brightness; got != 150 {
		t.Errorf("brightness at 500ms = %d, want 150 (fade must start from SetCurrent value)", got)
	}
}

func TestLifecycleEvents(t *testing.T) {
	var events []Event
	clk := clocktesting.NewFakeClock(time.Unix(1000, 0))
	sink := newFakeSink(clk)
	c := New(sink, WithClock(clk), WithNotifier(func(ev Event) {
		events = append(events, ev)
	}))

	if err := c.ApplyImmediate(light.State{Brightness: 42}); err != nil {
		t.Fatalf("ApplyImmediate failed: %v", err)
	}
	tickToComplete(t, c, clk, 10*time.Millisecond)

	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Type != EventFadeStarted || events[1].Type != EventFadeCompleted {
		t.Errorf("event sequence = [%s %s], want [fade_started fade_completed]", events[0].Type, events[1].Type)
	}
	if events[0].SessionID != events[1].SessionID {
		t.Error("lifecycle events of one fade carry different session IDs")
	}
	if events[1].Current != (light.State{Brightness: 42}) {
		t.Errorf("completion event current = %+v", events[1].Current)
	}
}
