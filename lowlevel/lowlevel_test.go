package lowlevel

import (
	"math"
	"testing"

	"github.com/tkoval83/cplot-sub000/planner"
)

func TestMMToStepsRoundsAndScales(t *testing.T) {
	if got := MMToSteps(10, 80); got != 800 {
		t.Fatalf("got %d, want 800", got)
	}
	if got := MMToSteps(-10, 80); got != -800 {
		t.Fatalf("got %d, want -800", got)
	}
}

func TestMMToStepsZeroStepsPerMM(t *testing.T) {
	if got := MMToSteps(10, 0); got != 0 {
		t.Fatalf("got %d, want 0", got)
	}
}

func TestMMToStepsRejectsNonFinite(t *testing.T) {
	if got := MMToSteps(math.NaN(), 80); got != 0 {
		t.Fatalf("got %d, want 0", got)
	}
	if got := MMToSteps(math.Inf(1), 80); got != 0 {
		t.Fatalf("got %d, want 0", got)
	}
	if got := MMToSteps(2e300, 80); got != 0 {
		t.Fatalf("got %d, want 0", got)
	}
}

func TestCoreXYRoundTrip(t *testing.T) {
	a, b := CoreXY(100, 40)
	if a != 140 || b != 60 {
		t.Fatalf("got a=%d b=%d", a, b)
	}
	x, y := CoreXYInverse(a, b)
	if x != 100 || y != 40 {
		t.Fatalf("got x=%d y=%d", x, y)
	}
}

func TestEncodePhaseSkipsDegenerateInputs(t *testing.T) {
	if _, ok := EncodePhase(0, 10, 20, 100, 0, 1); ok {
		t.Fatal("expected skip for zero distance")
	}
	if _, ok := EncodePhase(10, 10, 20, 100, 0, 0); ok {
		t.Fatal("expected skip for zero duration")
	}
}

func TestEncodePhaseZeroStepsAxisIsZeroRateAccel(t *testing.T) {
	ph, ok := EncodePhase(10, 0, 50, 800, 0, 0.2)
	if !ok {
		t.Fatal("expected ok")
	}
	if ph.Rate2 != 0 || ph.Accel2 != 0 {
		t.Fatalf("got rate2=%d accel2=%d, want 0,0", ph.Rate2, ph.Accel2)
	}
	if ph.Accel1 == 0 {
		t.Fatalf("expected a non-zero accel1, got %+v", ph)
	}
}

func TestEncodePhaseIntervalsFloorOneTick(t *testing.T) {
	ph, ok := EncodePhase(1, 1000, 1000, 1000, 100, 1e-9)
	if !ok {
		t.Fatal("expected ok")
	}
	if ph.Intervals != 1 {
		t.Fatalf("got intervals=%d, want 1", ph.Intervals)
	}
}

func TestEncodePhaseMonotonicAccelSign(t *testing.T) {
	ph, ok := EncodePhase(10, 0, 100, 800, 0, 0.2)
	if !ok {
		t.Fatal("expected ok")
	}
	if ph.Accel1 <= 0 {
		t.Fatalf("expected a positive accel1 for an accelerating phase, got %d", ph.Accel1)
	}
	ph2, ok := EncodePhase(10, 100, 0, 800, 0, 0.2)
	if !ok {
		t.Fatal("expected ok")
	}
	if ph2.Accel1 >= 0 {
		t.Fatalf("expected a negative accel1 for a decelerating phase, got %d", ph2.Accel1)
	}
}

// fakeCommander records the move commands it receives, standing in for
// axidraw.Session.
type fakeCommander struct {
	llSteps []llStepsCall
	xy      []xyCall
}

type llStepsCall struct {
	rate1, rate2   uint32
	steps1, steps2 int32
	accel1, accel2 int32
}

type xyCall struct {
	durMS          int
	stepsX, stepsY int32
}

func (f *fakeCommander) MoveLLSteps(rate1 uint32, steps1 int32, accel1 int32, rate2 uint32, steps2 int32, accel2 int32, clearFlags uint8) error {
	f.llSteps = append(f.llSteps, llStepsCall{rate1, rate2, steps1, steps2, accel1, accel2})
	return nil
}

func (f *fakeCommander) MoveXY(durMS int, stepsX, stepsY int32) error {
	f.xy = append(f.xy, xyCall{durMS, stepsX, stepsY})
	return nil
}

func TestEmitBlockOneCommandPerNonZeroPhase(t *testing.T) {
	f := &fakeCommander{}
	enc := Encoder{Move: f, StepsPerMM: 80}
	b := planner.Block{
		UnitX: 1, UnitY: 0,
		StartSpeedMMS: 0, CruiseSpeedMMS: 100, EndSpeedMMS: 0,
		AccelDistMM: 5, CruiseDistMM: 0, DecelDistMM: 5,
	}
	if err := enc.EmitBlock(b); err != nil {
		t.Fatal(err)
	}
	if len(f.llSteps) != 2 {
		t.Fatalf("got %d LM commands, want 2 (cruise phase is zero-length)", len(f.llSteps))
	}
}

func TestMoveMMDispatchesXY(t *testing.T) {
	f := &fakeCommander{}
	enc := Encoder{Move: f, StepsPerMM: 80}
	if err := enc.MoveMM(10, 0, 50); err != nil {
		t.Fatal(err)
	}
	if len(f.xy) != 1 {
		t.Fatalf("got %d XY commands, want 1", len(f.xy))
	}
	if f.xy[0].stepsX != 800 {
		t.Fatalf("got stepsX=%d, want 800", f.xy[0].stepsX)
	}
}

func TestMoveMMZeroDistanceIsNoop(t *testing.T) {
	f := &fakeCommander{}
	enc := Encoder{Move: f, StepsPerMM: 80}
	if err := enc.MoveMM(0, 0, 50); err != nil {
		t.Fatal(err)
	}
	if len(f.xy) != 0 {
		t.Fatalf("got %d XY commands, want 0", len(f.xy))
	}
}

func TestMoveMMRejectsNonPositiveSpeed(t *testing.T) {
	f := &fakeCommander{}
	enc := Encoder{Move: f, StepsPerMM: 80}
	if err := enc.MoveMM(10, 0, 0); err == nil {
		t.Fatal("expected an error for zero speed")
	}
}
