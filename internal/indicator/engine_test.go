package indicator

import (
	"context"
	"errors"
	"testing"
	"time"
)

func nextCall(t *testing.T, f *FakeActuator, timeout time.Duration) Call {
	t.Helper()
	select {
	case c := <-f.Notify:
		return c
	case <-time.After(timeout):
		t.Fatalf("no actuator call within %v", timeout)
		return Call{}
	}
}

func expectNoCall(t *testing.T, f *FakeActuator, within time.Duration) {
	t.Helper()
	select {
	case c := <-f.Notify:
		t.Fatalf("unexpected actuator call: %+v", c)
	case <-time.After(within):
	}
}

// startEngine runs an engine and waits for its initial Off render.
func startEngine(t *testing.T) (*Engine, *FakeActuator) {
	t.Helper()
	act := NewFakeActuator()
	e := NewEngine(act, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	c := nextCall(t, act, time.Second)
	if c.Ramp || c.Percent != DutyOff {
		t.Fatalf("initial render: got %+v, want SetDuty(0)", c)
	}
	return e, act
}

func TestEngineStartsOff(t *testing.T) {
	e, act := startEngine(t)
	if e.Current().Pattern != Off {
		t.Errorf("Current: got %s, want off", e.Current().Pattern)
	}
	// Off waits unbounded: nothing else is rendered.
	expectNoCall(t, act, 50*time.Millisecond)
}

func TestEngineOn(t *testing.T) {
	e, act := startEngine(t)
	e.SetPattern(OnSpec())

	c := nextCall(t, act, time.Second)
	if c.Ramp || c.Percent != DutyFull {
		t.Errorf("got %+v, want SetDuty(100)", c)
	}
	expectNoCall(t, act, 50*time.Millisecond)
}

func TestEngineFlashToggles(t *testing.T) {
	e, act := startEngine(t)
	e.SetPattern(FlashSpec(10 * time.Millisecond))

	want := []float64{DutyFull, DutyOff, DutyFull, DutyOff}
	for i, w := range want {
		c := nextCall(t, act, time.Second)
		if c.Ramp {
			t.Fatalf("call %d: unexpected ramp", i)
		}
		if c.Percent != w {
			t.Errorf("call %d: got %.0f%%, want %.0f%%", i, c.Percent, w)
		}
	}
}

func TestEngineFadeInRampsThenHolds(t *testing.T) {
	e, act := startEngine(t)
	e.SetPattern(FadeInSpec(20 * time.Millisecond))

	c := nextCall(t, act, time.Second)
	if !c.Ramp || c.Percent != DutyFull || c.Duration != 20*time.Millisecond {
		t.Errorf("got %+v, want RampDuty(100, 20ms)", c)
	}
	// Hold: the ramp is not re-issued.
	expectNoCall(t, act, 100*time.Millisecond)
}

func TestEngineFadeOutRampsThenHolds(t *testing.T) {
	e, act := startEngine(t)
	e.SetPattern(FadeOutSpec(20 * time.Millisecond))

	c := nextCall(t, act, time.Second)
	if !c.Ramp || c.Percent != DutyOff || c.Duration != 20*time.Millisecond {
		t.Errorf("got %+v, want RampDuty(0, 20ms)", c)
	}
	expectNoCall(t, act, 100*time.Millisecond)
}

func TestEngineFadeInOutReusesOnTime(t *testing.T) {
	e, act := startEngine(t)
	e.SetPattern(FadeInOutSpec(15*time.Millisecond, 500*time.Millisecond))

	up := nextCall(t, act, time.Second)
	if !up.Ramp || up.Percent != DutyFull || up.Duration != 15*time.Millisecond {
		t.Errorf("ramp up: got %+v", up)
	}
	down := nextCall(t, act, time.Second)
	if !down.Ramp || down.Percent != DutyOff || down.Duration != 15*time.Millisecond {
		t.Errorf("ramp down: got %+v, want on-time duration", down)
	}
	again := nextCall(t, act, time.Second)
	if !again.Ramp || again.Percent != DutyFull {
		t.Errorf("cycle repeat: got %+v", again)
	}
}

func TestEngineSetPatternPreemptsWait(t *testing.T) {
	e, act := startEngine(t)
	e.SetPattern(FadeInOutSpec(time.Hour, time.Hour))

	c := nextCall(t, act, time.Second)
	if !c.Ramp {
		t.Fatalf("expected ramp, got %+v", c)
	}

	start := time.Now()
	e.SetPattern(OffSpec())
	c = nextCall(t, act, time.Second)
	if c.Ramp || c.Percent != DutyOff {
		t.Errorf("got %+v, want SetDuty(0)", c)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("preemption took %v", elapsed)
	}
}

func TestEngineFlashPreemptedByOn(t *testing.T) {
	e, act := startEngine(t)
	e.SetPattern(FlashSpec(time.Hour))
	nextCall(t, act, time.Second)

	e.SetPattern(OnSpec())
	c := nextCall(t, act, time.Second)
	if c.Ramp || c.Percent != DutyFull {
		t.Errorf("got %+v, want SetDuty(100)", c)
	}
	if e.Current().Pattern != On {
		t.Errorf("Current: got %s, want on", e.Current().Pattern)
	}
}

func TestEngineLastPatternWins(t *testing.T) {
	e, act := startEngine(t)
	e.SetPattern(FlashSpec(time.Hour))
	e.SetPattern(FadeInSpec(time.Hour))
	e.SetPattern(OnSpec())

	// Whatever was rendered in between, the engine settles on On.
	deadline := time.After(time.Second)
	for {
		select {
		case c := <-act.Notify:
			if !c.Ramp && c.Percent == DutyFull && e.Current().Pattern == On {
				expectNoCall(t, act, 50*time.Millisecond)
				return
			}
		case <-deadline:
			t.Fatal("engine did not settle on On")
		}
	}
}

func TestEngineZeroDurationDoesNotSpin(t *testing.T) {
	e, act := startEngine(t)
	e.SetPattern(FlashSpec(0))

	time.Sleep(50 * time.Millisecond)
	e.SetPattern(OffSpec())
	time.Sleep(10 * time.Millisecond)

	// With a minimum period of 10ms, 50ms yields only a handful of toggles.
	if n := len(act.Calls()); n > 20 {
		t.Errorf("flash(0) rendered %d calls in 50ms", n)
	}
}

func TestEngineActuatorErrorsAreIgnored(t *testing.T) {
	act := NewFakeActuator()
	act.Err = errors.New("pwm write failed")
	e := NewEngine(act, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()

	nextCall(t, act, time.Second)
	e.SetPattern(OnSpec())
	nextCall(t, act, time.Second)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestPatternString(t *testing.T) {
	want := map[Pattern]string{
		Off: "off", On: "on", Flash: "flash",
		FadeIn: "fade-in", FadeOut: "fade-out", FadeInOut: "fade-in-out",
	}
	for p, s := range want {
		if p.String() != s {
			t.Errorf("%d: got %q, want %q", int(p), p.String(), s)
		}
	}
}

func TestSpecConstructors(t *testing.T) {
	s := FadeInOutSpec(time.Second, 2*time.Second)
	if s.Pattern != FadeInOut || s.OnTime != time.Second || s.OffTime != 2*time.Second {
		t.Errorf("FadeInOutSpec: got %+v", s)
	}
	if f := FlashSpec(300 * time.Millisecond); f.Pattern != Flash || f.OnTime != 300*time.Millisecond {
		t.Errorf("FlashSpec: got %+v", f)
	}
	if f := FadeOutSpec(time.Second); f.OffTime != time.Second {
		t.Errorf("FadeOutSpec: got %+v", f)
	}
}
