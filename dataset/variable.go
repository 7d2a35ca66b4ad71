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

// Package dataset holds the lazily evaluated labeled arrays that flow
// between the data accessors, the fixer, and the regridder.
package dataset

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ctessum/sparse"
	"github.com/spf13/cast"
)

// Attributes holds metadata for a variable, coordinate, or dataset.
type Attributes map[string]interface{}

// String returns the attribute as a string, or "" if it is absent.
func (a Attributes) String(key string) string {
	v, ok := a[key]
	if !ok {
		return ""
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return s
}

// Float returns the attribute as a float64 and whether it could be
// interpreted as a number. Single element slices, as produced by NetCDF
// readers, are unwrapped.
func (a Attributes) Float(key string) (float64, bool) {
	v, ok := a[key]
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case []float64:
		if len(t) == 1 {
			return t[0], true
		}
		return 0, false
	case []float32:
		if len(t) == 1 {
			return float64(t[0]), true
		}
		return 0, false
	case []int16:
		if len(t) == 1 {
			return float64(t[0]), true
		}
		return 0, false
	case []int32:
		if len(t) == 1 {
			return float64(t[0]), true
		}
		return 0, false
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Clone returns a shallow copy of a.
func (a Attributes) Clone() Attributes {
	o := make(Attributes, len(a))
	for k, v := range a {
		o[k] = v
	}
	return o
}

// Keys returns the sorted attribute names.
func (a Attributes) Keys() []string {
	k := make([]string, 0, len(a))
	for n := range a {
		k = append(k, n)
	}
	sort.Strings(k)
	return k
}

// Loader produces the values of a variable. Loaders must not modify
// arrays that were produced by other loaders.
type Loader func() (*sparse.DenseArray, error)

// Variable is a named, dimensioned array whose values are computed
// on demand and then memoized.
type Variable struct {
	Name  string
	Dims  []string
	Shape []int
	Attrs Attributes

	load Loader
	once sync.Once
	data *sparse.DenseArray
	err  error
}

// NewVariable returns a lazy variable. The array returned by load must
// have the given shape.
func NewVariable(name string, dims []string, shape []int, attrs Attributes, load Loader) *Variable {
	if attrs == nil {
		attrs = make(Attributes)
	}
	return &Variable{
		Name:  name,
		Dims:  append([]string(nil), dims...),
		Shape: append([]int(nil), shape...),
		Attrs: attrs,
		load:  load,
	}
}

// FromArray returns a variable backed by an array that is already in memory.
func FromArray(name string, dims []string, data *sparse.DenseArray, attrs Attributes) *Variable {
	v := NewVariable(name, dims, data.Shape, attrs, nil)
	v.once.Do(func() { v.data = data })
	return v
}

// Values returns the variable's data, loading it the first time it is
// called. The returned array is shared and must not be modified.
func (v *Variable) Values() (*sparse.DenseArray, error) {
	v.once.Do(func() {
		if v.load == nil {
			v.err = fmt.Errorf("dataset: variable %s has no data", v.Name)
			return
		}
		v.data, v.err = v.load()
		if v.err == nil && !sameShape(v.data.Shape, v.Shape) {
			v.err = fmt.Errorf("dataset: variable %s: loaded shape %v does not match declared shape %v",
				v.Name, v.data.Shape, v.Shape)
		}
	})
	return v.data, v.err
}

// Loaded returns whether the variable's values have been computed.
func (v *Variable) Loaded() bool {
	return v.data != nil
}

// Units returns the value of the "units" attribute.
func (v *Variable) Units() string { return v.Attrs.String("units") }

// DimIndex returns the position of dim within v's dimensions, or -1.
func (v *Variable) DimIndex(dim string) int {
	for i, d := range v.Dims {
		if d == dim {
			return i
		}
	}
	return -1
}

// Size returns the number of elements in v.
func (v *Variable) Size() int {
	n := 1
	for _, s := range v.Shape {
		n *= s
	}
	return n
}

// Map returns a new lazy variable whose values are f applied to a copy
// of v's values. f may modify the array it receives.
func (v *Variable) Map(f func(*sparse.DenseArray) (*sparse.DenseArray, error)) *Variable {
	return v.Transform(v.Dims, v.Shape, f)
}

// Transform is like Map but allows the result to have different
// dimensions.
func (v *Variable) Transform(dims []string, shape []int, f func(*sparse.DenseArray) (*sparse.DenseArray, error)) *Variable {
	return NewVariable(v.Name, dims, shape, v.Attrs.Clone(), func() (*sparse.DenseArray, error) {
		d, err := v.Values()
		if err != nil {
			return nil, err
		}
		return f(d.Copy())
	})
}

// Renamed returns a copy of v with a new name that shares v's data.
func (v *Variable) Renamed(name string) *Variable {
	return v.withDims(name, v.Dims)
}

// withDims returns a copy of v with new dimension labels that shares
// v's data.
func (v *Variable) withDims(name string, dims []string) *Variable {
	o := NewVariable(name, dims, v.Shape, v.Attrs.Clone(), v.Values)
	return o
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
