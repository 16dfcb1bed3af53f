// Package planner implements the look-ahead trapezoidal motion profiler:
// it turns an ordered sequence of absolute-target line segments into
// blocks with realizable start/cruise/end velocities, honoring a global
// speed cap, a single shared acceleration cap, and a cornering-deviation
// junction-speed heuristic. The approach follows the classic hobby-CNC
// reverse/forward look-ahead pass; inputs are already polylines, so no
// arc or bezier interpolation happens here.
package planner

import "math"

// Limits are the global caps a single Plan call honors.
type Limits struct {
	MaxSpeedMMS     float64
	MaxAccelMMS2    float64
	CorneringMM     float64 // 0 disables corner smoothing
	MinSegmentMM    float64
}

// Valid reports whether the limits are usable: both caps strictly
// positive, cornering and min-segment non-negative.
func (l Limits) Valid() bool {
	return l.MaxSpeedMMS > 0 && l.MaxAccelMMS2 > 0 && l.CorneringMM >= 0 && l.MinSegmentMM >= 0
}

// Point is an absolute position in millimetres.
type Point struct {
	X, Y float64
}

// Segment is one input move: an absolute target, a nominal feed rate,
// and whether the pen is down for the move.
type Segment struct {
	Target  Point
	FeedMMS float64
	PenDown bool
}

// Block is one trapezoidal motion profile: a straight displacement with
// an accel/cruise/decel speed profile, ready for the low-level encoder.
type Block struct {
	Seq int

	DX, DY   float64
	LengthMM float64
	UnitX    float64
	UnitY    float64

	StartSpeedMMS   float64
	CruiseSpeedMMS  float64
	EndSpeedMMS     float64
	NominalSpeedMMS float64
	AccelMMS2       float64

	AccelDistMM float64
	CruiseDistMM float64
	DecelDistMM  float64

	PenDown bool
}

// cornerCosineThreshold bounds the near-colinear / near-reversal cases
// that bypass the cornering-deviation formula.
const cornerCosineThreshold = 0.999999999

// Plan turns segments into a contiguous sequence of Blocks, starting
// from start (the origin if nil). It returns (nil, false) when limits
// are invalid; an empty segment list is not a failure and yields a nil
// slice with ok=true.
func Plan(limits Limits, start *Point, segments []Segment) ([]Block, bool) {
	if !limits.Valid() {
		return nil, false
	}
	if len(segments) == 0 {
		return nil, true
	}
	cursor := Point{}
	if start != nil {
		cursor = *start
	}

	type accepted struct {
		dx, dy, length, ux, uy, feed float64
		penDown                      bool
	}
	var acc []accepted
	for i, s := range segments {
		dx := s.Target.X - cursor.X
		dy := s.Target.Y - cursor.Y
		length := math.Hypot(dx, dy)
		isLast := i == len(segments)-1

		if length == 0 {
			// Zero-length block after merging is never emitted; the
			// cursor is already at the target so there's nothing to
			// merge forward either.
			cursor = s.Target
			continue
		}
		if length < limits.MinSegmentMM {
			isOnly := len(acc) == 0
			if !isLast || !isOnly {
				// Merge into the following segment: keep the cursor
				// where it was so the next delta absorbs this hop.
				continue
			}
			// The only segment in the whole plan: keep it despite
			// being undersized rather than emit nothing.
		}

		ux, uy := 0.0, 0.0
		if length > 0 {
			ux, uy = dx/length, dy/length
		}
		feed := s.FeedMMS
		if feed <= 0 {
			feed = limits.MaxSpeedMMS
		} else if feed > limits.MaxSpeedMMS {
			feed = limits.MaxSpeedMMS
		}
		acc = append(acc, accepted{dx, dy, length, ux, uy, feed, s.PenDown})
		cursor = s.Target
	}

	n := len(acc)
	if n == 0 {
		return nil, true
	}

	// Junction speed at the boundary between block i and i+1.
	junction := make([]float64, n-1)
	for i := 0; i < n-1; i++ {
		a, b := acc[i], acc[i+1]
		vmin := math.Min(a.feed, b.feed)
		if a.penDown != b.penDown {
			junction[i] = 0
			continue
		}
		if limits.CorneringMM == 0 {
			junction[i] = vmin
			continue
		}
		cosTheta := a.ux*b.ux + a.uy*b.uy
		if cosTheta > 1 {
			cosTheta = 1
		} else if cosTheta < -1 {
			cosTheta = -1
		}
		if cosTheta <= -cornerCosineThreshold || cosTheta >= cornerCosineThreshold {
			junction[i] = vmin
			continue
		}
		sinHalf := math.Sqrt((1 - cosTheta) / 2)
		if sinHalf >= 1 {
			junction[i] = vmin
			continue
		}
		r := limits.CorneringMM * sinHalf / (1 - sinHalf)
		vj := math.Sqrt(limits.MaxAccelMMS2 * r)
		if vj > vmin {
			vj = vmin
		}
		junction[i] = vj
	}

	// boundary[k] is the speed crossing the kth vertex: entry of the
	// first block and exit of the last are pinned to zero.
	boundary := make([]float64, n+1)
	for k := 1; k < n; k++ {
		boundary[k] = junction[k-1]
	}

	// Reverse pass: cap each boundary speed by what the following
	// block can still decelerate from, given the already-capped speed
	// at the next boundary.
	revCap := make([]float64, n+1)
	revCap[n] = 0
	for k := n - 1; k >= 0; k-- {
		feasible := math.Sqrt(revCap[k+1]*revCap[k+1] + 2*limits.MaxAccelMMS2*acc[k].length)
		revCap[k] = math.Min(boundary[k], feasible)
	}
	revCap[0] = 0

	// Forward pass: accelerate as much as physically possible without
	// exceeding the reverse-pass cap or the block's own nominal feed.
	entry := make([]float64, n+1)
	entry[0] = 0
	for i := 0; i < n; i++ {
		feasible := math.Sqrt(entry[i]*entry[i] + 2*limits.MaxAccelMMS2*acc[i].length)
		exit := math.Min(revCap[i+1], feasible)
		if exit > acc[i].feed {
			exit = acc[i].feed
		}
		entry[i+1] = exit
	}

	blocks := make([]Block, n)
	for i, a := range acc {
		start := clamp(entry[i], 0, limits.MaxSpeedMMS)
		end := clamp(entry[i+1], 0, limits.MaxSpeedMMS)
		nominal := clamp(a.feed, 0, limits.MaxSpeedMMS)
		accelD, cruiseD, decelD, cruiseSpeed := trapezoid(start, end, nominal, limits.MaxAccelMMS2, a.length)

		blocks[i] = Block{
			Seq:             i,
			DX:              a.dx,
			DY:              a.dy,
			LengthMM:        a.length,
			UnitX:           a.ux,
			UnitY:           a.uy,
			StartSpeedMMS:   start,
			CruiseSpeedMMS:  cruiseSpeed,
			EndSpeedMMS:     end,
			NominalSpeedMMS: nominal,
			AccelMMS2:       limits.MaxAccelMMS2,
			AccelDistMM:     accelD,
			CruiseDistMM:    cruiseD,
			DecelDistMM:     decelD,
			PenDown:         a.penDown,
		}
	}
	return blocks, true
}

// trapezoid computes the accel/cruise/decel distances and the cruise
// speed for one block, falling back to a triangular profile (no cruise
// phase) when the block is too short to reach nominal speed.
func trapezoid(start, end, nominal, accel, length float64) (accelD, cruiseD, decelD, cruiseSpeed float64) {
	if length <= 0 {
		return 0, 0, 0, start
	}
	accelD = clamp((nominal*nominal-start*start)/(2*accel), 0, length)
	decelD = clamp((nominal*nominal-end*end)/(2*accel), 0, length)
	if accelD+decelD > length {
		vPeak2 := accel*length + (start*start+end*end)/2
		if vPeak2 < 0 {
			vPeak2 = 0
		}
		accelD = clamp((vPeak2-start*start)/(2*accel), 0, length)
		decelD = length - accelD
		cruiseD = 0
		cruiseSpeed = math.Sqrt(vPeak2)
		return
	}
	cruiseD = length - accelD - decelD
	cruiseSpeed = nominal
	return
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
