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

// Package ncio reads NetCDF classic and NetCDF-4 files through a common
// interface and writes NetCDF classic files.
package ncio

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"reflect"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/ctessum/cdf"
	"github.com/pkg/errors"
	"github.com/spatialmodel/aqua/dataset"
)

// File is an open NetCDF file.
type File interface {
	// Variables returns the names of the variables in the file.
	Variables() []string

	// Dims returns the dimension names of v.
	Dims(v string) []string

	// Shape returns the dimension lengths of v.
	Shape(v string) []int

	// Attributes returns the attributes of v, or the global attributes
	// if v is empty.
	Attributes(v string) dataset.Attributes

	// Read returns the values of v for positions [start, end) along
	// its first dimension. Scalar variables ignore start and end.
	Read(v string, start, end int) ([]float64, error)

	Close() error
}

// Magic numbers at the start of NetCDF files.
const (
	magicClassic = 'C'
	magicHDF5    = 0x89
)

// Open opens the named file.
func Open(path string) (File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	var magic [1]byte
	if _, err := f.ReadAt(magic[:], 0); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "ncio: reading %s", path)
	}
	switch magic[0] {
	case magicClassic:
		fi, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, err
		}
		cf, err := openClassic(f, fi.Size(), f)
		if err != nil {
			return nil, errors.Wrapf(err, "ncio: opening %s", path)
		}
		return cf, nil
	case magicHDF5:
		f.Close()
		g, err := netcdf.Open(path)
		if err != nil {
			return nil, errors.Wrapf(err, "ncio: opening %s", path)
		}
		return &hdfFile{g: g}, nil
	default:
		f.Close()
		return nil, fmt.Errorf("ncio: %s is not a NetCDF file", path)
	}
}

// FromBytes opens a NetCDF file held in memory.
func FromBytes(b []byte) (File, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("ncio: empty NetCDF data")
	}
	switch b[0] {
	case magicClassic:
		return openClassic(NewBuffer(b), int64(len(b)), nil)
	case magicHDF5:
		g, err := netcdf.New(bytes.NewReader(b))
		if err != nil {
			return nil, errors.Wrap(err, "ncio: reading NetCDF-4 data")
		}
		return &hdfFile{g: g}, nil
	default:
		return nil, fmt.Errorf("ncio: data is not in NetCDF format")
	}
}

type classicFile struct {
	f       *cdf.File
	numRecs int
	closer  io.Closer
}

func openClassic(rw cdf.ReaderWriterAt, size int64, closer io.Closer) (*classicFile, error) {
	f, err := cdf.Open(rw)
	if err != nil {
		if closer != nil {
			closer.Close()
		}
		return nil, err
	}
	return &classicFile{f: f, numRecs: int(f.Header.NumRecs(size)), closer: closer}, nil
}

func (c *classicFile) Variables() []string { return c.f.Header.Variables() }

func (c *classicFile) Dims(v string) []string { return c.f.Header.Dimensions(v) }

func (c *classicFile) Shape(v string) []int {
	l := append([]int(nil), c.f.Header.Lengths(v)...)
	if c.f.Header.IsRecordVariable(v) {
		l[0] = c.numRecs
	}
	return l
}

func (c *classicFile) Attributes(v string) dataset.Attributes {
	a := make(dataset.Attributes)
	for _, name := range c.f.Header.Attributes(v) {
		a[name] = c.f.Header.GetAttribute(v, name)
	}
	return a
}

func (c *classicFile) Read(v string, start, end int) ([]float64, error) {
	shape := c.Shape(v)
	if shape == nil {
		return nil, fmt.Errorf("ncio: no variable %q", v)
	}
	n := 1
	var begin, last []int
	if len(shape) > 0 {
		if start < 0 || end > shape[0] || start > end {
			return nil, fmt.Errorf("ncio: range [%d, %d) out of bounds for %s with shape %v", start, end, v, shape)
		}
		if start == end {
			return nil, nil
		}
		begin = make([]int, len(shape))
		last = make([]int, len(shape))
		begin[0], last[0] = start, end-1
		n = end - start
		for i := 1; i < len(shape); i++ {
			last[i] = shape[i] - 1
			n *= shape[i]
		}
	}
	r := c.f.Reader(v, begin, last)
	if r == nil {
		return nil, fmt.Errorf("ncio: no variable %q", v)
	}
	buf := r.Zero(n)
	if _, err := r.Read(buf); err != nil && err != io.EOF {
		return nil, errors.Wrapf(err, "ncio: reading %s", v)
	}
	return Float64s(buf)
}

func (c *classicFile) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

type hdfFile struct {
	g api.Group
}

func (h *hdfFile) Variables() []string { return h.g.ListVariables() }

func (h *hdfFile) Dims(v string) []string {
	vg, err := h.g.GetVarGetter(v)
	if err != nil {
		return nil
	}
	return vg.Dimensions()
}

func (h *hdfFile) Shape(v string) []int {
	vg, err := h.g.GetVarGetter(v)
	if err != nil {
		return nil
	}
	s := vg.Shape()
	o := make([]int, len(s))
	for i, x := range s {
		o[i] = int(x)
	}
	return o
}

func (h *hdfFile) Attributes(v string) dataset.Attributes {
	var am api.AttributeMap
	if v == "" {
		am = h.g.Attributes()
	} else {
		vg, err := h.g.GetVarGetter(v)
		if err != nil {
			return make(dataset.Attributes)
		}
		am = vg.Attributes()
	}
	a := make(dataset.Attributes)
	if am == nil {
		return a
	}
	for _, k := range am.Keys() {
		val, _ := am.Get(k)
		a[k] = val
	}
	return a
}

func (h *hdfFile) Read(v string, start, end int) ([]float64, error) {
	vg, err := h.g.GetVarGetter(v)
	if err != nil {
		return nil, errors.Wrapf(err, "ncio: reading %s", v)
	}
	var vals interface{}
	if len(vg.Shape()) == 0 {
		vals, err = vg.Values()
	} else {
		if start == end {
			return nil, nil
		}
		vals, err = vg.GetSlice(int64(start), int64(end))
	}
	if err != nil {
		return nil, errors.Wrapf(err, "ncio: reading %s", v)
	}
	return Float64s(vals)
}

func (h *hdfFile) Close() error {
	h.g.Close()
	return nil
}

// Float64s flattens a numeric scalar, slice, or nested slice into a
// slice of float64.
func Float64s(v interface{}) ([]float64, error) {
	switch t := v.(type) {
	case []float64:
		return t, nil
	case []float32:
		o := make([]float64, len(t))
		for i, x := range t {
			o[i] = float64(x)
		}
		return o, nil
	}
	var o []float64
	var walk func(reflect.Value) error
	walk = func(rv reflect.Value) error {
		switch rv.Kind() {
		case reflect.Slice, reflect.Array:
			for i := 0; i < rv.Len(); i++ {
				if err := walk(rv.Index(i)); err != nil {
					return err
				}
			}
		case reflect.Float32, reflect.Float64:
			o = append(o, rv.Float())
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			o = append(o, float64(rv.Int()))
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			o = append(o, float64(rv.Uint()))
		case reflect.Interface:
			return walk(rv.Elem())
		default:
			return fmt.Errorf("ncio: cannot convert %v to float64", rv.Type())
		}
		return nil
	}
	if err := walk(reflect.ValueOf(v)); err != nil {
		return nil, err
	}
	return o, nil
}
