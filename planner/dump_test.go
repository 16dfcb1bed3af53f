package planner

import "testing"

func TestDumpRoundTrip(t *testing.T) {
	limits := Limits{MaxSpeedMMS: 100, MaxAccelMMS2: 1000, CorneringMM: 0.5, MinSegmentMM: 0.1}
	segs := []Segment{
		{Target: Point{10, 0}, FeedMMS: 100, PenDown: true},
		{Target: Point{10, 10}, FeedMMS: 100, PenDown: true},
	}
	blocks, ok := Plan(limits, nil, segs)
	if !ok {
		t.Fatal("expected ok")
	}
	data, err := Dump(blocks)
	if err != nil {
		t.Fatal(err)
	}
	back, err := LoadDump(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(back) != len(blocks) {
		t.Fatalf("got %d blocks, want %d", len(back), len(blocks))
	}
	for i := range blocks {
		if back[i].LengthMM != blocks[i].LengthMM || back[i].PenDown != blocks[i].PenDown {
			t.Fatalf("block %d mismatch: got %+v want %+v", i, back[i], blocks[i])
		}
	}
}
