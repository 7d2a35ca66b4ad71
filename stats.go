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

package aqua

import (
	"fmt"
	"math"
	"time"

	"github.com/ctessum/sparse"
	"github.com/spatialmodel/aqua/dataset"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// hasTrailing returns whether dims ends with tail.
func hasTrailing(dims, tail []string) bool {
	if len(dims) < len(tail) {
		return false
	}
	off := len(dims) - len(tail)
	for i, d := range tail {
		if dims[off+i] != d {
			return false
		}
	}
	return true
}

// FldMean returns the mean of every variable of ds over the dimensions
// of areas, weighted by areas. Those dimensions must be the last ones of
// each variable they appear in. Missing values are ignored; a field
// with no valid values has a NaN mean. Variables without the dimensions
// are kept unchanged. The result is lazy.
func FldMean(ds *dataset.Dataset, areas *dataset.Variable) (*dataset.Dataset, error) {
	nd := len(areas.Dims)
	o := ds.Copy()
	for _, name := range ds.VarNames() {
		v := ds.Vars[name]
		if !hasTrailing(v.Dims, areas.Dims) {
			continue
		}
		lead := len(v.Dims) - nd
		for i, s := range areas.Shape {
			if v.Shape[lead+i] != s {
				return nil, fmt.Errorf("aqua: variable %s has shape %v; cell areas have shape %v", name, v.Shape, areas.Shape)
			}
		}
		shape := append([]int(nil), v.Shape[:lead]...)
		o.Vars[name] = v.Transform(v.Dims[:lead], shape, func(a *sparse.DenseArray) (*sparse.DenseArray, error) {
			w, err := areas.Values()
			if err != nil {
				return nil, err
			}
			n := len(w.Elements)
			out := make([]float64, len(a.Elements)/n)
			x := make([]float64, 0, n)
			ww := make([]float64, 0, n)
			for i := range out {
				x, ww = x[:0], ww[:0]
				for j, val := range a.Elements[i*n : (i+1)*n] {
					if !math.IsNaN(val) {
						x = append(x, val)
						ww = append(ww, w.Elements[j])
					}
				}
				if len(x) == 0 || floats.Sum(ww) == 0 {
					out[i] = math.NaN()
					continue
				}
				out[i] = stat.Mean(x, ww)
			}
			return dataset.Wrap(out, shape...), nil
		})
	}
	for _, d := range areas.Dims {
		delete(o.Coords, d)
	}
	return o, nil
}

// period returns the start of the period of length freq that contains t.
func period(t time.Time, freq string) (time.Time, error) {
	switch freq {
	case "":
		return time.Time{}, nil
	case "H", "h", "hour", "hourly":
		return t.Truncate(time.Hour), nil
	case "D", "day", "daily":
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location()), nil
	case "M", "MS", "mon", "month", "monthly":
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location()), nil
	case "Y", "YS", "year", "yearly", "annual":
		return time.Date(t.Year(), 1, 1, 0, 0, 0, 0, t.Location()), nil
	default:
		return time.Time{}, fmt.Errorf("aqua: unsupported frequency %q", freq)
	}
}

// reducers compute a statistic of the valid values of a series.
var reducers = map[string]func(x []float64) float64{
	"mean": func(x []float64) float64 { return stat.Mean(x, nil) },
	"min":  floats.Min,
	"max":  floats.Max,
	"std":  func(x []float64) float64 { return stat.PopStdDev(x, nil) },
}

// TimeStat reduces every time-dependent variable of ds with statistic,
// which is "mean", "min", "max" or "std". If freq is empty the whole
// period is reduced to a single sample at the first time; otherwise samples are
// grouped by hour ("H"), day ("D"), month ("M") or year ("Y") and each
// group is labeled with the start of its period. Missing values are
// ignored. The result is lazy.
func TimeStat(ds *dataset.Dataset, statistic, freq string) (*dataset.Dataset, error) {
	f, ok := reducers[statistic]
	if !ok {
		return nil, fmt.Errorf("aqua: unsupported statistic %q", statistic)
	}
	if len(ds.Time) == 0 {
		return nil, fmt.Errorf("aqua: dataset has no time dimension")
	}
	var labels []time.Time
	group := make([]int, len(ds.Time))
	for i, t := range ds.Time {
		p, err := period(t, freq)
		if err != nil {
			return nil, err
		}
		if freq == "" {
			p = ds.Time[0]
		}
		if len(labels) == 0 || !labels[len(labels)-1].Equal(p) {
			labels = append(labels, p)
		}
		group[i] = len(labels) - 1
	}
	ng := len(labels)

	o := ds.Copy()
	o.Time = labels
	delete(o.Coords, ds.TimeDim)
	for _, name := range ds.VarNames() {
		v := ds.Vars[name]
		axis := v.DimIndex(ds.TimeDim)
		if axis < 0 {
			continue
		}
		shape := append([]int(nil), v.Shape...)
		shape[axis] = ng
		o.Vars[name] = v.Transform(v.Dims, shape, func(a *sparse.DenseArray) (*sparse.DenseArray, error) {
			in := dataset.MoveAxisLast(a, axis)
			n := in.Shape[len(in.Shape)-1]
			outShape := append(append([]int(nil), in.Shape[:len(in.Shape)-1]...), ng)
			out := sparse.ZerosDense(outShape...)
			buf := make([][]float64, ng)
			for k := 0; k < len(in.Elements)/n; k++ {
				for g := range buf {
					buf[g] = buf[g][:0]
				}
				for i, x := range in.Elements[k*n : (k+1)*n] {
					if !math.IsNaN(x) {
						buf[group[i]] = append(buf[group[i]], x)
					}
				}
				for g, x := range buf {
					if len(x) == 0 {
						out.Elements[k*ng+g] = math.NaN()
						continue
					}
					out.Elements[k*ng+g] = f(x)
				}
			}
			return dataset.MoveLastAxis(out, axis), nil
		})
	}
	o.Attrs["time_stat"] = statistic
	return o, nil
}

// Detrend removes the least-squares linear trend in time from every
// time-dependent variable of ds. Missing values are ignored in the fit
// and stay missing. The result is lazy.
func Detrend(ds *dataset.Dataset) (*dataset.Dataset, error) {
	if len(ds.Time) == 0 {
		return nil, fmt.Errorf("aqua: dataset has no time dimension")
	}
	t := make([]float64, len(ds.Time))
	for i, ti := range ds.Time {
		t[i] = ti.Sub(ds.Time[0]).Hours()
	}
	o := ds.Copy()
	for _, name := range ds.VarNames() {
		v := ds.Vars[name]
		axis := v.DimIndex(ds.TimeDim)
		if axis < 0 {
			continue
		}
		o.Vars[name] = v.Map(func(a *sparse.DenseArray) (*sparse.DenseArray, error) {
			in := dataset.MoveAxisLast(a, axis)
			n := len(t)
			x := make([]float64, 0, n)
			y := make([]float64, 0, n)
			for k := 0; k < len(in.Elements)/n; k++ {
				series := in.Elements[k*n : (k+1)*n]
				x, y = x[:0], y[:0]
				for i, val := range series {
					if !math.IsNaN(val) {
						x = append(x, t[i])
						y = append(y, val)
					}
				}
				if len(x) < 2 {
					continue
				}
				alpha, beta := stat.LinearRegression(x, y, nil, false)
				for i := range series {
					series[i] -= alpha + beta*t[i]
				}
			}
			return dataset.MoveLastAxis(in, axis), nil
		})
	}
	return o, nil
}
