// Package lowlevel turns a planner block's accel/cruise/decel phases,
// expressed in millimetres and millimetres per second, into the
// controller's fixed-point step-rate/acceleration units for the LM
// command, including the CoreXY kinematic mapping. It also offers
// MMToSteps and a high-level move helper for callers that don't need
// phase-level control.
package lowlevel

import (
	"math"

	"github.com/tkoval83/cplot-sub000/errs"
	"github.com/tkoval83/cplot-sub000/planner"
)

// intervalSeconds is the controller's step-rate tick: 40 microseconds.
const intervalSeconds = 40e-6

// rateFixedScale converts a steps/s rate into the controller's 32-bit
// fixed-point encoding: round(steps_per_sec * 2^31 * 40us).
const rateFixedScale = (1 << 31) * intervalSeconds

// maxFiniteMM bounds the millimetre values MMToSteps will convert;
// anything larger (or non-finite) silently yields zero steps rather
// than overflowing.
const maxFiniteMM = 1e300

// MMToSteps converts a millimetre distance into a signed step count,
// saturating to the int32 range. It returns 0 for a non-positive
// steps-per-mm (the caller has not applied a profile) and for
// non-finite or absurdly large mm values.
func MMToSteps(mm, stepsPerMM float64) int32 {
	if stepsPerMM <= 0 {
		return 0
	}
	if math.IsNaN(mm) || math.IsInf(mm, 0) || math.Abs(mm) >= maxFiniteMM {
		return 0
	}
	return clampI32(math.Round(mm * stepsPerMM))
}

func clampI32(v float64) int32 {
	switch {
	case v >= math.MaxInt32:
		return math.MaxInt32
	case v <= math.MinInt32:
		return math.MinInt32
	default:
		return int32(v)
	}
}

func clampU31(v float64) uint32 {
	const max31 = (1 << 31) - 1
	switch {
	case v <= 0:
		return 0
	case v >= max31:
		return max31
	default:
		return uint32(v)
	}
}

// CoreXY maps cartesian step counts to the belt-driven A/B axes: motor A
// displacement is X+Y, motor B is X-Y.
func CoreXY(stepsX, stepsY int32) (a, b int32) {
	return stepsX + stepsY, stepsX - stepsY
}

// CoreXYInverse recovers cartesian step counts from A/B motor steps.
func CoreXYInverse(a, b int32) (x, y int32) {
	return (a + b) / 2, (a - b) / 2
}

// Phase is one LM command's worth of encoded motion: a start rate and a
// per-tick acceleration on each axis, already in the controller's
// fixed-point units, plus the signed step counts to send alongside them.
type Phase struct {
	Steps1, Steps2 int32
	Rate1, Rate2   uint32
	Accel1, Accel2 int32
	Intervals      uint32
}

// EncodePhase encodes one accel/cruise/decel phase of a block into a
// Phase. It returns ok=false when the phase should be skipped: a
// non-positive distance or duration is degenerate numerical noise, not
// an error.
func EncodePhase(distanceMM, startVMMS, endVMMS float64, stepsA, stepsB int32, durationS float64) (Phase, bool) {
	if distanceMM <= 0 || durationS <= 0 {
		return Phase{}, false
	}
	intervals := uint32(math.Round(durationS / intervalSeconds))
	if intervals < 1 {
		intervals = 1
	}
	rate1, accel1 := encodeAxis(distanceMM, startVMMS, endVMMS, stepsA, intervals)
	rate2, accel2 := encodeAxis(distanceMM, startVMMS, endVMMS, stepsB, intervals)
	return Phase{
		Steps1: stepsA, Steps2: stepsB,
		Rate1: rate1, Rate2: rate2,
		Accel1: accel1, Accel2: accel2,
		Intervals: intervals,
	}, true
}

// encodeAxis implements the per-axis fixed-point conversion: a signed
// steps-per-mm ratio (direction preserved), absolute start/end rates,
// and a minimum non-zero acceleration nudge when rounding would
// otherwise erase a real rate change.
func encodeAxis(distanceMM, startVMMS, endVMMS float64, steps int32, intervals uint32) (rate uint32, accel int32) {
	if steps == 0 {
		return 0, 0
	}
	stepsPerMM := float64(steps) / distanceMM
	startRate := math.Abs(startVMMS * stepsPerMM)
	endRate := math.Abs(endVMMS * stepsPerMM)
	rateStart := clampU31(math.Round(startRate * rateFixedScale))
	rateEnd := clampU31(math.Round(endRate * rateFixedScale))
	accel = clampI32(float64(int64(rateEnd)-int64(rateStart)) / float64(intervals))
	if accel == 0 && rateEnd != rateStart {
		if rateEnd > rateStart {
			accel = 1
		} else {
			accel = -1
		}
	}
	return rateStart, accel
}

// phaseDuration derives a phase's wall-clock duration from its average
// speed: a phase with zero average speed (both endpoints at rest) moves
// nowhere and has no duration.
func phaseDuration(distanceMM, startVMMS, endVMMS float64) float64 {
	avg := (startVMMS + endVMMS) / 2
	if avg <= 0 {
		return 0
	}
	return distanceMM / avg
}

// MoveCommander is the subset of the device session the encoder
// dispatches to. *axidraw.Session satisfies it.
type MoveCommander interface {
	MoveLLSteps(rate1 uint32, steps1 int32, accel1 int32, rate2 uint32, steps2 int32, accel2 int32, clearFlags uint8) error
	MoveXY(durMS int, stepsX, stepsY int32) error
}

// Encoder drives a MoveCommander with the phases of planner blocks.
type Encoder struct {
	Move       MoveCommander
	StepsPerMM float64
}

// EmitBlock sends one LM command per non-zero phase of b.
func (e Encoder) EmitBlock(b planner.Block) error {
	phases := [3]struct {
		distance, startV, endV float64
	}{
		{b.AccelDistMM, b.StartSpeedMMS, b.CruiseSpeedMMS},
		{b.CruiseDistMM, b.CruiseSpeedMMS, b.CruiseSpeedMMS},
		{b.DecelDistMM, b.CruiseSpeedMMS, b.EndSpeedMMS},
	}
	for _, ph := range phases {
		if ph.distance <= 0 {
			continue
		}
		duration := phaseDuration(ph.distance, ph.startV, ph.endV)
		if duration <= 0 {
			continue
		}
		dxMM := ph.distance * b.UnitX
		dyMM := ph.distance * b.UnitY
		stepsX := MMToSteps(dxMM, e.StepsPerMM)
		stepsY := MMToSteps(dyMM, e.StepsPerMM)
		stepsA, stepsB := CoreXY(stepsX, stepsY)
		enc, ok := EncodePhase(ph.distance, ph.startV, ph.endV, stepsA, stepsB, duration)
		if !ok {
			continue
		}
		if err := e.Move.MoveLLSteps(enc.Rate1, enc.Steps1, enc.Accel1, enc.Rate2, enc.Steps2, enc.Accel2, 0); err != nil {
			return err
		}
	}
	return nil
}

// controllerDurationLimitMS is the widest duration the SM/XM commands'
// 24-bit millisecond field can carry.
const controllerDurationLimitMS = 1<<24 - 1

// MoveMM issues a single SM-class move of (dxMM, dyMM) at speedMMS,
// for callers that don't need phase-level rate control.
func (e Encoder) MoveMM(dxMM, dyMM, speedMMS float64) error {
	distance := math.Hypot(dxMM, dyMM)
	if distance <= 0 {
		return nil
	}
	if speedMMS <= 0 {
		return errs.New(errs.InvalidInput, "lowlevel.MoveMM", nil)
	}
	durMS := int(math.Ceil(distance / speedMMS * 1000))
	if durMS < 1 {
		durMS = 1
	}
	if durMS > controllerDurationLimitMS {
		durMS = controllerDurationLimitMS
	}
	stepsX := MMToSteps(dxMM, e.StepsPerMM)
	stepsY := MMToSteps(dyMM, e.StepsPerMM)
	return e.Move.MoveXY(durMS, stepsX, stepsY)
}
