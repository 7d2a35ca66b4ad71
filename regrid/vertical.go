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

package regrid

import (
	"fmt"
	"math"
	"sort"

	"github.com/ctessum/sparse"
	"github.com/spatialmodel/aqua/dataset"
	"github.com/spatialmodel/aqua/units"
)

// LevelOutOfRangeError is returned when none of the requested levels
// lie within the vertical coordinate.
type LevelOutOfRangeError struct {
	Coord    string
	Levels   []float64
	Min, Max float64
}

func (e *LevelOutOfRangeError) Error() string {
	return fmt.Sprintf("regrid: levels %v are all outside of the range [%g, %g] of coordinate %s",
		e.Levels, e.Min, e.Max, e.Coord)
}

// bracket holds the interpolation stencil for one output level.
type bracket struct {
	lo, hi int
	w      float64
}

// VerticalInterpolate interpolates v along coord to levels, which are
// given in levelUnits (or in the units of coord if levelUnits is empty).
// method is "linear", "log" (linear in the logarithm of the coordinate)
// or "nearest". Levels outside of the coordinate range produce NaN; if
// all of them are outside, a *LevelOutOfRangeError is returned. The
// returned coordinate holds the levels in the units of coord. The
// interpolation is lazy.
func VerticalInterpolate(v *dataset.Variable, coord *dataset.Coord, levels []float64, levelUnits, method string, p *units.Parser) (*dataset.Variable, *dataset.Coord, error) {
	axis := v.DimIndex(coord.Name)
	if axis < 0 {
		return nil, nil, fmt.Errorf("regrid: variable %s does not have vertical dimension %s", v.Name, coord.Name)
	}
	if len(levels) == 0 {
		return nil, nil, fmt.Errorf("regrid: no levels requested")
	}
	if len(coord.Values) == 0 {
		return nil, nil, fmt.Errorf("regrid: vertical coordinate %s is empty", coord.Name)
	}
	if p == nil {
		p = &units.Parser{}
	}
	lv := append([]float64(nil), levels...)
	if levelUnits != "" && coord.Units() != "" && levelUnits != coord.Units() {
		conv, err := p.Convert(levelUnits, coord.Units(), 0)
		if err != nil {
			if ue, ok := err.(*units.UnitConversionError); ok {
				ue.Variable = coord.Name
			}
			return nil, nil, err
		}
		for i, l := range lv {
			lv[i] = conv.Apply(l)
		}
	}

	order := make([]int, len(coord.Values))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool { return coord.Values[order[i]] < coord.Values[order[j]] })
	lo, hi := coord.Values[order[0]], coord.Values[order[len(order)-1]]

	tr := func(x float64) float64 { return x }
	switch method {
	case "", "linear", "nearest":
	case "log":
		if lo <= 0 {
			return nil, nil, fmt.Errorf("regrid: log interpolation needs a positive coordinate; %s has minimum %g", coord.Name, lo)
		}
		tr = math.Log
	default:
		return nil, nil, fmt.Errorf("regrid: unknown vertical interpolation method %q", method)
	}

	stencil := make([]bracket, len(lv))
	inRange := 0
	for k, l := range lv {
		stencil[k] = bracket{lo: -1}
		if l < lo-tolerance(lo) || l > hi+tolerance(hi) {
			continue
		}
		inRange++
		j := sort.Search(len(order), func(i int) bool { return coord.Values[order[i]] >= l })
		switch {
		case j < len(order) && math.Abs(coord.Values[order[j]]-l) <= tolerance(l):
			stencil[k] = bracket{lo: order[j], hi: order[j]}
		case j == 0:
			stencil[k] = bracket{lo: order[0], hi: order[0]}
		case j == len(order):
			stencil[k] = bracket{lo: order[j-1], hi: order[j-1]}
		default:
			a, b := order[j-1], order[j]
			if method == "nearest" {
				if l-coord.Values[a] <= coord.Values[b]-l {
					b = a
				} else {
					a = b
				}
				stencil[k] = bracket{lo: a, hi: b}
				continue
			}
			x0, x1 := tr(coord.Values[a]), tr(coord.Values[b])
			stencil[k] = bracket{lo: a, hi: b, w: (tr(l) - x0) / (x1 - x0)}
		}
	}
	if inRange == 0 {
		return nil, nil, &LevelOutOfRangeError{Coord: coord.Name, Levels: levels, Min: lo, Max: hi}
	}

	shape := append([]int(nil), v.Shape...)
	shape[axis] = len(lv)
	out := v.Transform(v.Dims, shape, func(a *sparse.DenseArray) (*sparse.DenseArray, error) {
		in := dataset.MoveAxisLast(a, axis)
		n, m := a.Shape[axis], len(stencil)
		res := make([]float64, len(in.Elements)/n*m)
		for o := 0; o < len(in.Elements)/n; o++ {
			x := in.Elements[o*n : (o+1)*n]
			y := res[o*m : (o+1)*m]
			for k, s := range stencil {
				switch {
				case s.lo < 0:
					y[k] = math.NaN()
				case s.lo == s.hi:
					y[k] = x[s.lo]
				default:
					y[k] = (1-s.w)*x[s.lo] + s.w*x[s.hi]
				}
			}
		}
		rshape := append([]int(nil), in.Shape...)
		rshape[len(rshape)-1] = m
		return dataset.MoveLastAxis(dataset.Wrap(res, rshape...), axis), nil
	})
	c := &dataset.Coord{Name: coord.Name, Values: lv, Attrs: coord.Attrs.Clone()}
	return out, c, nil
}

func tolerance(x float64) float64 {
	return 1e-9 * math.Max(1, math.Abs(x))
}
