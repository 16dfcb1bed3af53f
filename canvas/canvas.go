// Package canvas lowers an ordered collection of polylines in
// millimetres into planner segments, inserting pen-up traversals between
// disjoint paths and pen-down moves within a path, then hands the result
// to the planner.
package canvas

import (
	"math"

	"github.com/tkoval83/cplot-sub000/planner"
	"github.com/tkoval83/cplot-sub000/profile"
)

// Polyline is an ordered list of vertices in millimetres, traced with
// the pen down from the first vertex to the last.
type Polyline []planner.Point

// upTraversalEpsilonMM is the tolerance below which two points are
// considered the same position, so no pen-up traversal is inserted.
const upTraversalEpsilonMM = 1e-3 // 1 micrometre

// degenerateEpsilonMM is the tolerance below which a within-path hop is
// skipped as a duplicate vertex.
const degenerateEpsilonMM = 1e-6 // 1 nanometre, expressed in mm

// DefaultLimits derives planner limits from a device profile, for
// callers that don't supply their own.
func DefaultLimits(p profile.DeviceProfile) planner.Limits {
	return planner.Limits{
		MaxSpeedMMS:  p.SpeedMMS,
		MaxAccelMMS2: p.AccelMMS2,
		CorneringMM:  0.5,
		MinSegmentMM: 0.1,
	}
}

// Lower converts paths into planner segments and feeds them to
// planner.Plan. nominalSpeedMMS is used for both pen-up traversals and
// pen-down moves; limits, when nil, fall back to DefaultLimits(dp).
func Lower(paths []Polyline, nominalSpeedMMS float64, limits *planner.Limits, dp profile.DeviceProfile) ([]planner.Block, bool) {
	l := DefaultLimits(dp)
	if limits != nil {
		l = *limits
	}
	segments := ToSegments(paths, nominalSpeedMMS)
	return planner.Plan(l, nil, segments)
}

// ToSegments builds the planner segment sequence for paths without
// invoking the planner, so callers can inspect or mutate it first.
func ToSegments(paths []Polyline, nominalSpeedMMS float64) []planner.Segment {
	var segments []planner.Segment
	pos := planner.Point{}
	havePos := false

	for _, path := range paths {
		if len(path) == 0 {
			continue
		}
		first := path[0]
		if !havePos || dist(pos, first) > upTraversalEpsilonMM {
			segments = append(segments, planner.Segment{Target: first, FeedMMS: nominalSpeedMMS, PenDown: false})
			pos = first
			havePos = true
		}
		for _, v := range path[1:] {
			if dist(pos, v) < degenerateEpsilonMM {
				continue
			}
			segments = append(segments, planner.Segment{Target: v, FeedMMS: nominalSpeedMMS, PenDown: true})
			pos = v
		}
	}
	return segments
}

func dist(a, b planner.Point) float64 {
	dx, dy := b.X-a.X, b.Y-a.Y
	return math.Hypot(dx, dy)
}
