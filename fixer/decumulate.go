/*
Copyright © 2026 the AQUA authors.
This file is part of AQUA.

AQUA is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

AQUA is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with AQUA.  If not, see <http://www.gnu.org/licenses/>.
*/

package fixer

import (
	"math"
	"time"

	"github.com/ctessum/sparse"
	"github.com/spatialmodel/aqua/dataset"
)

// resetBoundary returns whether the sample at t is the first one after
// an accumulation reset, given the time of the previous sample.
func resetBoundary(prev, t time.Time, jump string) bool {
	if jump != "month" {
		return false
	}
	return prev.Year() != t.Year() || prev.Month() != t.Month()
}

// decumulate converts a running accumulation along the time axis into
// per-interval increments. Samples that follow a reset keep their
// value. The first sample keeps its value if it follows a reset and is
// NaN otherwise, because the preceding accumulation is unknown.
// step is the interval between samples.
func decumulate(v *dataset.Variable, axis int, times []time.Time, step time.Duration, jump string) *dataset.Variable {
	if len(times) == 0 {
		return v
	}
	times = append([]time.Time(nil), times...)
	return v.Map(func(a *sparse.DenseArray) (*sparse.DenseArray, error) {
		in := dataset.MoveAxisLast(a, axis)
		out := sparse.ZerosDense(append([]int(nil), in.Shape...)...)
		n := len(times)
		first := math.NaN()
		firstRaw := step > 0 && resetBoundary(times[0].Add(-step), times[0], jump)
		for o := 0; o < len(in.Elements)/n; o++ {
			x := in.Elements[o*n : (o+1)*n]
			y := out.Elements[o*n : (o+1)*n]
			if firstRaw {
				y[0] = x[0]
			} else {
				y[0] = first
			}
			for i := 1; i < n; i++ {
				if resetBoundary(times[i-1], times[i], jump) {
					y[i] = x[i]
				} else {
					y[i] = x[i] - x[i-1]
				}
			}
		}
		return dataset.MoveLastAxis(out, axis), nil
	})
}

// maskBefore sets all values at times before min to NaN.
func maskBefore(v *dataset.Variable, axis int, times []time.Time, min time.Time) *dataset.Variable {
	var idx []int
	for i, t := range times {
		if t.Before(min) {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		return v
	}
	return v.Map(func(a *sparse.DenseArray) (*sparse.DenseArray, error) {
		in := dataset.MoveAxisLast(a, axis)
		n := len(times)
		for o := 0; o < len(in.Elements)/n; o++ {
			for _, i := range idx {
				in.Elements[o*n+i] = math.NaN()
			}
		}
		return dataset.MoveLastAxis(in, axis), nil
	})
}
