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

package ncio

import (
	"math"
	"strings"
	"time"

	"github.com/ctessum/sparse"
	"github.com/pkg/errors"
	"github.com/spatialmodel/aqua/dataset"
)

// Attributes that are consumed while decoding values.
var packingAttrs = []string{"scale_factor", "add_offset", "_FillValue", "missing_value"}

// Decode returns a lazy dataset backed by the file returned by open.
// The header is read immediately; each variable reopens the file the
// first time its values are requested and reads only the records with
// times in [start, end). Zero times leave that side of the window
// unbounded. Packed values and fill values are decoded, with missing
// values set to NaN.
func Decode(open func() (File, error), start, end time.Time) (*dataset.Dataset, error) {
	f, err := open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ds := dataset.New()
	ds.Attrs = f.Attributes("")

	vars := f.Variables()
	isCoord := make(map[string]bool)
	for _, v := range vars {
		if d := f.Dims(v); len(d) == 1 && d[0] == v {
			isCoord[v] = true
		}
	}

	timeDim := findTimeDim(f, vars, isCoord)
	r0, r1 := 0, 0
	if timeDim != "" {
		a := f.Attributes(timeDim)
		n := f.Shape(timeDim)[0]
		raw, err := f.Read(timeDim, 0, n)
		if err != nil {
			return nil, err
		}
		times, err := dataset.DecodeTimes(raw, a.String("units"), a.String("calendar"))
		if err != nil {
			return nil, errors.Wrapf(err, "ncio: decoding %s", timeDim)
		}
		r0, r1 = window(times, start, end)
		ds.TimeDim = timeDim
		ds.Time = append([]time.Time{}, times[r0:r1]...)
	}

	for _, v := range vars {
		if v == timeDim {
			continue
		}
		dims := f.Dims(v)
		shape := f.Shape(v)
		if len(dims) == 0 {
			continue
		}
		attrs := f.Attributes(v)
		if isCoord[v] {
			raw, err := f.Read(v, 0, shape[0])
			if err != nil {
				return nil, err
			}
			vals := unpack(raw, attrs)
			ds.SetCoord(&dataset.Coord{Name: v, Values: vals, Attrs: stripPacking(attrs)})
			continue
		}
		axis := -1
		for i, d := range dims {
			if d == timeDim {
				axis = i
			}
		}
		if axis >= 0 {
			shape[axis] = r1 - r0
		}
		ds.AddVar(dataset.NewVariable(v, dims, shape, stripPacking(attrs), loader(open, v, axis, r0, r1, attrs)))
	}
	return ds, nil
}

// findTimeDim returns the name of the coordinate variable holding CF
// times, or "".
func findTimeDim(f File, vars []string, isCoord map[string]bool) string {
	var found string
	for _, v := range vars {
		if !isCoord[v] || !strings.Contains(f.Attributes(v).String("units"), " since ") {
			continue
		}
		if v == dataset.TimeDim {
			return v
		}
		if found == "" {
			found = v
		}
	}
	return found
}

// window returns the index range of sorted times within [start, end).
func window(times []time.Time, start, end time.Time) (int, int) {
	i0, i1 := 0, len(times)
	for i0 < len(times) && !start.IsZero() && times[i0].Before(start) {
		i0++
	}
	for i1 > i0 && !end.IsZero() && !times[i1-1].Before(end) {
		i1--
	}
	return i0, i1
}

func loader(open func() (File, error), v string, axis, r0, r1 int, attrs dataset.Attributes) dataset.Loader {
	return func() (*sparse.DenseArray, error) {
		f, err := open()
		if err != nil {
			return nil, err
		}
		defer f.Close()
		shape := f.Shape(v)
		var raw []float64
		if axis == 0 {
			raw, err = f.Read(v, r0, r1)
			shape[0] = r1 - r0
		} else {
			raw, err = f.Read(v, 0, shape[0])
		}
		if err != nil {
			return nil, err
		}
		a := dataset.Wrap(unpack(raw, attrs), shape...)
		if axis > 0 {
			a = dataset.Slice(a, axis, r0, r1)
		}
		return a, nil
	}
}

// unpack applies CF packing and fill value conventions to raw values.
func unpack(raw []float64, attrs dataset.Attributes) []float64 {
	scale, hasScale := attrs.Float("scale_factor")
	offset, hasOffset := attrs.Float("add_offset")
	fill, hasFill := attrs.Float("_FillValue")
	missing, hasMissing := attrs.Float("missing_value")
	if !hasScale && !hasOffset && !hasFill && !hasMissing {
		return raw
	}
	if !hasScale {
		scale = 1
	}
	o := make([]float64, len(raw))
	for i, x := range raw {
		if (hasFill && x == fill) || (hasMissing && x == missing) {
			o[i] = math.NaN()
			continue
		}
		o[i] = x*scale + offset
	}
	return o
}

func stripPacking(a dataset.Attributes) dataset.Attributes {
	o := a.Clone()
	for _, k := range packingAttrs {
		delete(o, k)
	}
	return o
}
