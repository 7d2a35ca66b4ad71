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

package dataset

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/ctessum/sparse"
)

// TimeDim is the default name of the time dimension.
const TimeDim = "time"

// Coord is a one-dimensional coordinate.
type Coord struct {
	Name   string
	Values []float64
	Attrs  Attributes
}

// Units returns the value of the "units" attribute.
func (c *Coord) Units() string { return c.Attrs.String("units") }

// Dataset is a collection of variables that share coordinates.
// Datasets are treated as immutable: operations return new datasets
// that share unchanged variables with their parent.
type Dataset struct {
	Vars   map[string]*Variable
	Coords map[string]*Coord

	// TimeDim is the name of the time dimension and Time holds its
	// decoded values.
	TimeDim string
	Time    []time.Time

	Attrs Attributes
}

// New returns an empty dataset.
func New() *Dataset {
	return &Dataset{
		Vars:    make(map[string]*Variable),
		Coords:  make(map[string]*Coord),
		TimeDim: TimeDim,
		Attrs:   make(Attributes),
	}
}

// Copy returns a shallow copy of d.
func (d *Dataset) Copy() *Dataset {
	o := &Dataset{
		Vars:    make(map[string]*Variable, len(d.Vars)),
		Coords:  make(map[string]*Coord, len(d.Coords)),
		TimeDim: d.TimeDim,
		Time:    d.Time,
		Attrs:   d.Attrs.Clone(),
	}
	for k, v := range d.Vars {
		o.Vars[k] = v
	}
	for k, c := range d.Coords {
		o.Coords[k] = c
	}
	return o
}

// Var returns the named variable.
func (d *Dataset) Var(name string) (*Variable, bool) {
	v, ok := d.Vars[name]
	return v, ok
}

// AddVar adds v to d, replacing any variable with the same name.
func (d *Dataset) AddVar(v *Variable) { d.Vars[v.Name] = v }

// DropVar removes the named variable or coordinate if it exists.
func (d *Dataset) DropVar(name string) {
	delete(d.Vars, name)
	delete(d.Coords, name)
}

// VarNames returns the sorted names of the variables in d.
func (d *Dataset) VarNames() []string {
	n := make([]string, 0, len(d.Vars))
	for k := range d.Vars {
		n = append(n, k)
	}
	sort.Strings(n)
	return n
}

// Coord returns the named coordinate.
func (d *Dataset) Coord(name string) (*Coord, bool) {
	c, ok := d.Coords[name]
	return c, ok
}

// SetCoord adds or replaces a coordinate.
func (d *Dataset) SetCoord(c *Coord) { d.Coords[c.Name] = c }

// DimLen returns the length of dim, determined from its coordinate or
// from any variable that uses it.
func (d *Dataset) DimLen(dim string) (int, bool) {
	if dim == d.TimeDim && d.Time != nil {
		return len(d.Time), true
	}
	if c, ok := d.Coords[dim]; ok {
		return len(c.Values), true
	}
	for _, v := range d.Vars {
		if i := v.DimIndex(dim); i >= 0 {
			return v.Shape[i], true
		}
	}
	return 0, false
}

// RenameVar renames a variable. The result shares data with d.
func (d *Dataset) RenameVar(from, to string) (*Dataset, error) {
	v, ok := d.Vars[from]
	if !ok {
		return nil, fmt.Errorf("dataset: no variable %q to rename", from)
	}
	o := d.Copy()
	delete(o.Vars, from)
	o.Vars[to] = v.Renamed(to)
	return o, nil
}

// RenameDim renames a dimension, its coordinate, and the dimension
// labels of every variable that uses it.
func (d *Dataset) RenameDim(from, to string) *Dataset {
	if from == to {
		return d
	}
	o := d.Copy()
	if c, ok := o.Coords[from]; ok {
		delete(o.Coords, from)
		o.Coords[to] = &Coord{Name: to, Values: c.Values, Attrs: c.Attrs}
	}
	if o.TimeDim == from {
		o.TimeDim = to
	}
	for name, v := range o.Vars {
		if v.DimIndex(from) < 0 {
			continue
		}
		dims := append([]string(nil), v.Dims...)
		for i, dd := range dims {
			if dd == from {
				dims[i] = to
			}
		}
		o.Vars[name] = v.withDims(name, dims)
	}
	return o
}

// Select returns a dataset containing only the named variables.
func (d *Dataset) Select(names ...string) (*Dataset, error) {
	o := d.Copy()
	o.Vars = make(map[string]*Variable, len(names))
	for _, n := range names {
		v, ok := d.Vars[n]
		if !ok {
			return nil, fmt.Errorf("dataset: variable %q not found; available variables are %v", n, d.VarNames())
		}
		o.Vars[n] = v
	}
	return o, nil
}

// SelIndex lazily selects positions idx along dim in every variable and
// coordinate that uses it.
func (d *Dataset) SelIndex(dim string, idx []int) *Dataset {
	o := d.Copy()
	if c, ok := d.Coords[dim]; ok {
		vals := make([]float64, len(idx))
		for i, j := range idx {
			vals[i] = c.Values[j]
		}
		o.Coords[dim] = &Coord{Name: dim, Values: vals, Attrs: c.Attrs}
	}
	if dim == d.TimeDim && d.Time != nil {
		t := make([]time.Time, len(idx))
		for i, j := range idx {
			t[i] = d.Time[j]
		}
		o.Time = t
	}
	idx = append([]int(nil), idx...)
	for name, v := range d.Vars {
		axis := v.DimIndex(dim)
		if axis < 0 {
			continue
		}
		shape := append([]int(nil), v.Shape...)
		shape[axis] = len(idx)
		v := v
		o.Vars[name] = NewVariable(name, v.Dims, shape, v.Attrs.Clone(), func() (*sparse.DenseArray, error) {
			a, err := v.Values()
			if err != nil {
				return nil, err
			}
			return Take(a, axis, idx), nil
		})
	}
	return o
}

// SelTime returns the part of d with times in [start, end). A zero
// start or end leaves that side unbounded.
func (d *Dataset) SelTime(start, end time.Time) *Dataset {
	var idx []int
	for i, t := range d.Time {
		if !start.IsZero() && t.Before(start) {
			continue
		}
		if !end.IsZero() && !t.Before(end) {
			continue
		}
		idx = append(idx, i)
	}
	if len(idx) == len(d.Time) {
		return d
	}
	return d.SelIndex(d.TimeDim, idx)
}

// SelCoord selects the positions along dim whose coordinate values
// match values.
func (d *Dataset) SelCoord(dim string, values []float64) (*Dataset, error) {
	c, ok := d.Coords[dim]
	if !ok {
		return nil, fmt.Errorf("dataset: no coordinate %q", dim)
	}
	idx := make([]int, len(values))
	for i, v := range values {
		idx[i] = -1
		for j, cv := range c.Values {
			if closeTo(v, cv) {
				idx[i] = j
				break
			}
		}
		if idx[i] < 0 {
			return nil, fmt.Errorf("dataset: value %g not found in coordinate %q %v", v, dim, c.Values)
		}
	}
	return d.SelIndex(dim, idx), nil
}

func closeTo(a, b float64) bool {
	return math.Abs(a-b) <= 1e-6*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}

// Load computes the values of all variables in d.
func (d *Dataset) Load() error {
	for _, n := range d.VarNames() {
		if _, err := d.Vars[n].Values(); err != nil {
			return err
		}
	}
	return nil
}

// Concat joins datasets along the time dimension. Variables missing
// from any of the datasets are dropped.
func Concat(ds ...*Dataset) (*Dataset, error) {
	if len(ds) == 0 {
		return nil, fmt.Errorf("dataset: nothing to concatenate")
	}
	if len(ds) == 1 {
		return ds[0], nil
	}
	o := ds[0].Copy()
	o.Time = nil
	for _, d := range ds {
		o.Time = append(o.Time, d.Time...)
	}
	tDim := ds[0].TimeDim
	o.Vars = make(map[string]*Variable)
	for name, v0 := range ds[0].Vars {
		axis := v0.DimIndex(tDim)
		parts := []*Variable{v0}
		complete := true
		for _, d := range ds[1:] {
			v, ok := d.Vars[name]
			if !ok {
				complete = false
				break
			}
			parts = append(parts, v)
		}
		if !complete {
			continue
		}
		if axis < 0 {
			o.Vars[name] = v0
			continue
		}
		shape := append([]int(nil), v0.Shape...)
		shape[axis] = 0
		for _, p := range parts {
			shape[axis] += p.Shape[axis]
		}
		o.Vars[name] = NewVariable(name, v0.Dims, shape, v0.Attrs.Clone(), func() (*sparse.DenseArray, error) {
			arrays := make([]*sparse.DenseArray, len(parts))
			for i, p := range parts {
				a, err := p.Values()
				if err != nil {
					return nil, err
				}
				arrays[i] = a
			}
			return ConcatArrays(axis, arrays...)
		})
	}
	if c, ok := ds[0].Coords[tDim]; ok {
		var vals []float64
		for _, d := range ds {
			if dc, ok := d.Coords[tDim]; ok {
				vals = append(vals, dc.Values...)
			}
		}
		o.Coords[tDim] = &Coord{Name: tDim, Values: vals, Attrs: c.Attrs}
	}
	return o, nil
}
