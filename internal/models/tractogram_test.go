package models

import (
	"testing"

	"go.viam.com/test"
	"gonum.org/v1/gonum/spatial/r3"

	"connectomeutils/pkg/orientation"
)

func TestNewTractogramDefaultsToIdentity(t *testing.T) {
	tg := NewTractogram(nil, nil)
	test.That(t, tg.Len(), test.ShouldEqual, 0)
	test.That(t, orientation.IsIdentity(tg.AffineToRASMM), test.ShouldBeTrue)
}

func TestPointCounts(t *testing.T) {
	tg := NewTractogram([][]r3.Vec{
		{{X: 0}, {X: 1}},
		{{X: 0}},
		{{X: 0}, {X: 1}, {X: 2}},
	}, nil)
	test.That(t, tg.PointCounts(), test.ShouldResemble, []int{2, 1, 3})
}

func TestToRASMM(t *testing.T) {
	in := [][]r3.Vec{{{X: 1, Y: 2, Z: 3}, {X: -4, Y: 5, Z: 6}}}
	tg := NewTractogram(in, orientation.LPSToRAS())

	ras := tg.ToRASMM()
	test.That(t, orientation.IsIdentity(ras.AffineToRASMM), test.ShouldBeTrue)
	test.That(t, ras.Streamlines[0][0], test.ShouldResemble, r3.Vec{X: -1, Y: -2, Z: 3})
	test.That(t, ras.Streamlines[0][1], test.ShouldResemble, r3.Vec{X: 4, Y: -5, Z: 6})

	// source untouched
	test.That(t, tg.Streamlines[0][0], test.ShouldResemble, r3.Vec{X: 1, Y: 2, Z: 3})
}

func TestStats(t *testing.T) {
	tg := NewTractogram([][]r3.Vec{
		{{X: 0}, {X: 3}, {X: 3, Y: 4}},
		{{X: 0}, {X: 0, Z: 2}},
	}, nil)
	s := tg.Stats()
	test.That(t, s.Count, test.ShouldEqual, 2)
	test.That(t, s.TotalPoints, test.ShouldEqual, 5)
	test.That(t, s.MeanPoints, test.ShouldAlmostEqual, 2.5)
	test.That(t, s.MeanLength, test.ShouldAlmostEqual, 4.5)

	test.That(t, NewTractogram(nil, nil).Stats(), test.ShouldResemble, TractogramStats{})
}
