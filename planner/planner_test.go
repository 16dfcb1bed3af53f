package planner

import (
	"math"
	"testing"
)

func almostEqual(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

// TestSingleSegmentTrapezoid matches scenario S1 from the driver's test
// vectors: a single 10mm move at feed 100 under accel 1000 never
// reaches cruise, so start/end stay at zero and the block is a clean
// symmetric triangle.
func TestSingleSegmentTrapezoid(t *testing.T) {
	limits := Limits{MaxSpeedMMS: 100, MaxAccelMMS2: 1000, CorneringMM: 0.5, MinSegmentMM: 0.1}
	segs := []Segment{{Target: Point{10, 0}, FeedMMS: 100, PenDown: true}}
	blocks, ok := Plan(limits, nil, segs)
	if !ok {
		t.Fatal("expected ok")
	}
	if len(blocks) != 1 {
		t.Fatalf("expected 1 block, got %d", len(blocks))
	}
	b := blocks[0]
	if !almostEqual(b.LengthMM, 10, 1e-9) {
		t.Fatalf("length = %v", b.LengthMM)
	}
	if b.StartSpeedMMS != 0 || b.EndSpeedMMS != 0 {
		t.Fatalf("expected zero endpoints, got start=%v end=%v", b.StartSpeedMMS, b.EndSpeedMMS)
	}
	wantCruise := math.Sqrt(2 * 1000 * 5)
	if !almostEqual(b.CruiseSpeedMMS, wantCruise, 1e-6) {
		t.Fatalf("cruise = %v want %v", b.CruiseSpeedMMS, wantCruise)
	}
	if !almostEqual(b.AccelDistMM, 5, 1e-6) || !almostEqual(b.DecelDistMM, 5, 1e-6) {
		t.Fatalf("accel=%v decel=%v", b.AccelDistMM, b.DecelDistMM)
	}
	if !almostEqual(b.CruiseDistMM, 0, 1e-6) {
		t.Fatalf("cruise dist = %v", b.CruiseDistMM)
	}
}

// TestRightAngleJunctionStops matches scenario S2: a pen-down right
// angle turn forces the junction speed to zero.
func TestRightAngleJunctionStops(t *testing.T) {
	limits := Limits{MaxSpeedMMS: 100, MaxAccelMMS2: 1000, CorneringMM: 0.5, MinSegmentMM: 0.1}
	segs := []Segment{
		{Target: Point{10, 0}, FeedMMS: 100, PenDown: true},
		{Target: Point{10, 10}, FeedMMS: 100, PenDown: true},
	}
	blocks, ok := Plan(limits, nil, segs)
	if !ok || len(blocks) != 2 {
		t.Fatalf("ok=%v blocks=%d", ok, len(blocks))
	}
	if blocks[0].EndSpeedMMS != 0 {
		t.Fatalf("expected junction speed 0, got %v", blocks[0].EndSpeedMMS)
	}
	if blocks[1].StartSpeedMMS != 0 {
		t.Fatalf("expected junction speed 0, got %v", blocks[1].StartSpeedMMS)
	}
	want := math.Sqrt(2 * 1000 * 5)
	for i, b := range blocks {
		if !almostEqual(b.CruiseSpeedMMS, want, 1e-6) {
			t.Fatalf("block %d cruise = %v want %v", i, b.CruiseSpeedMMS, want)
		}
	}
}

func TestInvalidLimitsFail(t *testing.T) {
	bad := []Limits{
		{MaxSpeedMMS: 0, MaxAccelMMS2: 1000, CorneringMM: 0, MinSegmentMM: 0},
		{MaxSpeedMMS: 100, MaxAccelMMS2: 0, CorneringMM: 0, MinSegmentMM: 0},
		{MaxSpeedMMS: 100, MaxAccelMMS2: 1000, CorneringMM: -1, MinSegmentMM: 0},
		{MaxSpeedMMS: 100, MaxAccelMMS2: 1000, CorneringMM: 0, MinSegmentMM: -1},
	}
	for i, l := range bad {
		if _, ok := Plan(l, nil, []Segment{{Target: Point{1, 0}, FeedMMS: 10}}); ok {
			t.Fatalf("case %d: expected failure", i)
		}
	}
}

func TestEmptyInputIsNotAFailure(t *testing.T) {
	limits := Limits{MaxSpeedMMS: 100, MaxAccelMMS2: 1000, CorneringMM: 0.5, MinSegmentMM: 0.1}
	blocks, ok := Plan(limits, nil, nil)
	if !ok {
		t.Fatal("expected ok")
	}
	if len(blocks) != 0 {
		t.Fatalf("expected no blocks, got %d", len(blocks))
	}
}

// TestEndpointContinuity checks property 1: the sum of deltas of the
// first k blocks equals target_k minus the start position.
func TestEndpointContinuity(t *testing.T) {
	limits := Limits{MaxSpeedMMS: 150, MaxAccelMMS2: 2000, CorneringMM: 1, MinSegmentMM: 0.05}
	start := Point{5, 5}
	segs := []Segment{
		{Target: Point{20, 5}, FeedMMS: 80},
		{Target: Point{20, 40}, FeedMMS: 120, PenDown: true},
		{Target: Point{-10, 40}, FeedMMS: 90, PenDown: true},
	}
	blocks, ok := Plan(limits, &start, segs)
	if !ok {
		t.Fatal("expected ok")
	}
	x, y := start.X, start.Y
	for i, b := range blocks {
		x += b.DX
		y += b.DY
		want := segs[i].Target
		if !almostEqual(x, want.X, 1e-6) || !almostEqual(y, want.Y, 1e-6) {
			t.Fatalf("block %d: got (%v,%v) want %v", i, x, y, want)
		}
	}
}

// TestBlockInvariants checks property 2: distances sum to length and
// speeds are well ordered.
func TestBlockInvariants(t *testing.T) {
	limits := Limits{MaxSpeedMMS: 150, MaxAccelMMS2: 2000, CorneringMM: 1, MinSegmentMM: 0.05}
	segs := []Segment{
		{Target: Point{20, 5}, FeedMMS: 80},
		{Target: Point{20, 40}, FeedMMS: 120, PenDown: true},
		{Target: Point{45, 70}, FeedMMS: 90, PenDown: true},
		{Target: Point{45, 1}, FeedMMS: 60, PenDown: true},
	}
	blocks, ok := Plan(limits, nil, segs)
	if !ok {
		t.Fatal("expected ok")
	}
	for i, b := range blocks {
		sum := b.AccelDistMM + b.CruiseDistMM + b.DecelDistMM
		if !almostEqual(sum, b.LengthMM, 1e-6) {
			t.Fatalf("block %d: accel+cruise+decel=%v length=%v", i, sum, b.LengthMM)
		}
		if b.StartSpeedMMS < 0 || b.StartSpeedMMS > limits.MaxSpeedMMS {
			t.Fatalf("block %d: start speed out of range %v", i, b.StartSpeedMMS)
		}
		if b.EndSpeedMMS < 0 || b.EndSpeedMMS > limits.MaxSpeedMMS {
			t.Fatalf("block %d: end speed out of range %v", i, b.EndSpeedMMS)
		}
		if b.CruiseSpeedMMS < b.StartSpeedMMS-1e-6 || b.CruiseSpeedMMS < b.EndSpeedMMS-1e-6 {
			t.Fatalf("block %d: cruise %v not >= max(start,end) (%v,%v)", i, b.CruiseSpeedMMS, b.StartSpeedMMS, b.EndSpeedMMS)
		}
	}
	if blocks[0].StartSpeedMMS != 0 {
		t.Fatalf("first block start speed = %v, want 0", blocks[0].StartSpeedMMS)
	}
	if blocks[len(blocks)-1].EndSpeedMMS != 0 {
		t.Fatalf("last block end speed = %v, want 0", blocks[len(blocks)-1].EndSpeedMMS)
	}
}

func TestPenTransitionForcesJunctionStop(t *testing.T) {
	limits := Limits{MaxSpeedMMS: 150, MaxAccelMMS2: 2000, CorneringMM: 1, MinSegmentMM: 0.05}
	segs := []Segment{
		{Target: Point{20, 0}, FeedMMS: 80, PenDown: false},
		{Target: Point{40, 0}, FeedMMS: 80, PenDown: true},
	}
	blocks, ok := Plan(limits, nil, segs)
	if !ok || len(blocks) != 2 {
		t.Fatalf("ok=%v len=%d", ok, len(blocks))
	}
	if blocks[0].EndSpeedMMS != 0 || blocks[1].StartSpeedMMS != 0 {
		t.Fatalf("expected a full stop at the pen transition, got end=%v start=%v",
			blocks[0].EndSpeedMMS, blocks[1].StartSpeedMMS)
	}
}

func TestUndersizedSegmentMergesForward(t *testing.T) {
	limits := Limits{MaxSpeedMMS: 100, MaxAccelMMS2: 1000, CorneringMM: 0, MinSegmentMM: 1}
	segs := []Segment{
		{Target: Point{0.5, 0}, FeedMMS: 50}, // undersized, merges forward
		{Target: Point{10, 0}, FeedMMS: 50},
	}
	blocks, ok := Plan(limits, nil, segs)
	if !ok {
		t.Fatal("expected ok")
	}
	if len(blocks) != 1 {
		t.Fatalf("expected the undersized hop to merge away, got %d blocks", len(blocks))
	}
	if !almostEqual(blocks[0].LengthMM, 10, 1e-9) {
		t.Fatalf("length = %v, want 10", blocks[0].LengthMM)
	}
}

func TestLastUndersizedSegmentDropped(t *testing.T) {
	limits := Limits{MaxSpeedMMS: 100, MaxAccelMMS2: 1000, CorneringMM: 0, MinSegmentMM: 1}
	segs := []Segment{
		{Target: Point{10, 0}, FeedMMS: 50},
		{Target: Point{10.2, 0}, FeedMMS: 50}, // undersized, last, not the only one
	}
	blocks, ok := Plan(limits, nil, segs)
	if !ok {
		t.Fatal("expected ok")
	}
	if len(blocks) != 1 {
		t.Fatalf("expected the trailing undersized hop to be dropped, got %d blocks", len(blocks))
	}
}

func TestSoleUndersizedSegmentIsKept(t *testing.T) {
	limits := Limits{MaxSpeedMMS: 100, MaxAccelMMS2: 1000, CorneringMM: 0, MinSegmentMM: 1}
	segs := []Segment{{Target: Point{0.2, 0}, FeedMMS: 50}}
	blocks, ok := Plan(limits, nil, segs)
	if !ok {
		t.Fatal("expected ok")
	}
	if len(blocks) != 1 {
		t.Fatalf("expected the sole segment to survive despite being undersized, got %d", len(blocks))
	}
}

func TestZeroCorneringFallsBackToMinFeed(t *testing.T) {
	limits := Limits{MaxSpeedMMS: 100, MaxAccelMMS2: 1000, CorneringMM: 0, MinSegmentMM: 0}
	segs := []Segment{
		{Target: Point{20, 0}, FeedMMS: 60, PenDown: true},
		{Target: Point{20, 0.001}, FeedMMS: 40, PenDown: true},
	}
	blocks, ok := Plan(limits, nil, segs)
	if !ok || len(blocks) != 2 {
		t.Fatalf("ok=%v len=%d", ok, len(blocks))
	}
	if blocks[0].EndSpeedMMS > 40+1e-9 {
		t.Fatalf("expected junction capped at min(60,40)=40, got %v", blocks[0].EndSpeedMMS)
	}
}
