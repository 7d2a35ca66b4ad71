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
	"fmt"
	"sort"

	"github.com/ctessum/cdf"
	"github.com/spatialmodel/aqua/dataset"
)

// TimeUnits are the units used to encode times.
const TimeUnits = "hours since 1970-01-01 00:00:00"

// Var is a variable to be written by Write.
type Var struct {
	Name string
	Dims []string

	// Data is a []float64, []float32 or []int32 holding the values in
	// row-major order.
	Data  interface{}
	Attrs dataset.Attributes
}

// Write encodes a NetCDF classic file. All dimensions must have
// non-zero length.
func Write(dims []string, lengths []int, vars []Var, attrs dataset.Attributes) (b []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ncio: writing NetCDF: %v", r)
		}
	}()
	for i, l := range lengths {
		if l <= 0 {
			return nil, fmt.Errorf("ncio: dimension %s has length %d", dims[i], l)
		}
	}
	h := cdf.NewHeader(dims, lengths)
	for _, k := range attrs.Keys() {
		if val := attrValue(attrs[k]); val != nil {
			h.AddAttribute("", k, val)
		}
	}
	for _, v := range vars {
		var proto interface{}
		switch v.Data.(type) {
		case []float64:
			proto = []float64{0}
		case []float32:
			proto = []float32{0}
		case []int32:
			proto = []int32{0}
		default:
			return nil, fmt.Errorf("ncio: variable %s has unsupported type %T", v.Name, v.Data)
		}
		h.AddVariable(v.Name, v.Dims, proto)
		for _, k := range v.Attrs.Keys() {
			if val := attrValue(v.Attrs[k]); val != nil {
				h.AddAttribute(v.Name, k, val)
			}
		}
	}
	h.Define()
	for _, err := range h.Check() {
		return nil, fmt.Errorf("ncio: invalid NetCDF header: %v", err)
	}
	buf := NewBuffer(nil)
	f, err := cdf.Create(buf, h)
	if err != nil {
		return nil, err
	}
	for _, v := range vars {
		if _, err := f.Writer(v.Name, nil, nil).Write(v.Data); err != nil {
			return nil, fmt.Errorf("ncio: writing %s: %v", v.Name, err)
		}
	}
	return buf.Bytes(), nil
}

// attrValue converts an attribute to one of the types supported by the
// NetCDF classic format, or nil if it cannot be stored.
func attrValue(v interface{}) interface{} {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		return t
	case []float64, []float32, []int32, []int16:
		return t
	case []uint8:
		if len(t) == 0 {
			return nil
		}
		return t
	case float64:
		return []float64{t}
	case float32:
		return []float32{t}
	case int:
		return []int32{int32(t)}
	case int32:
		return []int32{t}
	case int64:
		return []int32{int32(t)}
	case nil:
		return nil
	default:
		return fmt.Sprint(t)
	}
}

// Encode writes ds as a NetCDF classic file. Times are encoded in
// TimeUnits.
func Encode(ds *dataset.Dataset) ([]byte, error) {
	if err := ds.Load(); err != nil {
		return nil, err
	}
	var dims []string
	lengths := make(map[string]int)
	addDim := func(d string) error {
		if _, ok := lengths[d]; ok {
			return nil
		}
		n, ok := ds.DimLen(d)
		if !ok {
			return fmt.Errorf("ncio: unknown length of dimension %s", d)
		}
		dims = append(dims, d)
		lengths[d] = n
		return nil
	}
	var vars []Var
	if ds.Time != nil {
		if err := addDim(ds.TimeDim); err != nil {
			return nil, err
		}
		t, err := dataset.EncodeTimes(ds.Time, TimeUnits)
		if err != nil {
			return nil, err
		}
		vars = append(vars, Var{Name: ds.TimeDim, Dims: []string{ds.TimeDim}, Data: t,
			Attrs: dataset.Attributes{"units": TimeUnits, "calendar": "standard", "standard_name": "time"}})
	}
	for _, name := range sortedCoords(ds) {
		c := ds.Coords[name]
		if name == ds.TimeDim && ds.Time != nil {
			continue
		}
		if err := addDim(name); err != nil {
			return nil, err
		}
		vars = append(vars, Var{Name: name, Dims: []string{name}, Data: c.Values, Attrs: c.Attrs})
	}
	for _, name := range ds.VarNames() {
		v := ds.Vars[name]
		for _, d := range v.Dims {
			if err := addDim(d); err != nil {
				return nil, err
			}
		}
		a, err := v.Values()
		if err != nil {
			return nil, err
		}
		vars = append(vars, Var{Name: name, Dims: v.Dims, Data: a.Elements, Attrs: v.Attrs})
	}
	l := make([]int, len(dims))
	for i, d := range dims {
		l[i] = lengths[d]
	}
	return Write(dims, l, vars, ds.Attrs)
}

func sortedCoords(ds *dataset.Dataset) []string {
	n := make([]string, 0, len(ds.Coords))
	for k := range ds.Coords {
		n = append(n, k)
	}
	sort.Strings(n)
	return n
}
