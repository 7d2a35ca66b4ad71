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
	"sort"

	"github.com/spatialmodel/aqua/dataset"
	"github.com/spatialmodel/aqua/internal/ncio"
)

// Matrix is a sparse matrix in coordinate format. Entry k maps source
// cell Cols[k] to destination cell Rows[k] with weight Vals[k]. Entries
// are sorted by row.
type Matrix struct {
	Rows, Cols []int
	Vals       []float64
}

// Len returns the number of non-zero entries.
func (m *Matrix) Len() int { return len(m.Vals) }

func (m *Matrix) add(row, col int, val float64) {
	m.Rows = append(m.Rows, row)
	m.Cols = append(m.Cols, col)
	m.Vals = append(m.Vals, val)
}

type byRow Matrix

func (m *byRow) Len() int { return len(m.Vals) }
func (m *byRow) Less(i, j int) bool {
	if m.Rows[i] != m.Rows[j] {
		return m.Rows[i] < m.Rows[j]
	}
	return m.Cols[i] < m.Cols[j]
}
func (m *byRow) Swap(i, j int) {
	m.Rows[i], m.Rows[j] = m.Rows[j], m.Rows[i]
	m.Cols[i], m.Cols[j] = m.Cols[j], m.Cols[i]
	m.Vals[i], m.Vals[j] = m.Vals[j], m.Vals[i]
}

func (m *Matrix) sort() { sort.Sort((*byRow)(m)) }

// WeightSet maps values on a source grid to a target grid.
type WeightSet struct {
	Key    string
	Method string

	// SrcShape and DstShape are the horizontal shapes of the grids,
	// as [nlat, nlon] for rectilinear grids or [ncells] otherwise.
	SrcShape, DstShape []int

	Weights Matrix

	// Masked, if not nil, excludes source cells that are outside the
	// domain of masked variables.
	Masked *Matrix

	// SrcArea and DstArea are the cell areas in m².
	SrcArea, DstArea []float64

	// DstLon and DstLat are the cell centers of a rectilinear target.
	DstLon, DstLat []float64
}

func size(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

// WeightGenerationError reports a failure to compute weights.
type WeightGenerationError struct {
	Key string
	Err error
}

func (e *WeightGenerationError) Error() string {
	return fmt.Sprintf("regrid: generating weights %s: %v", e.Key, e.Err)
}

func (e *WeightGenerationError) Unwrap() error { return e.Err }

func int32s(v []int, offset int) []int32 {
	o := make([]int32, len(v))
	for i, x := range v {
		o[i] = int32(x + offset)
	}
	return o
}

func ints(v []float64, offset int) []int {
	o := make([]int, len(v))
	for i, x := range v {
		o[i] = int(x) + offset
	}
	return o
}

// MarshalNetCDF encodes ws in the layout of ESMF weight files, with
// 1-based row and column indices.
func (ws *WeightSet) MarshalNetCDF() ([]byte, error) {
	if ws.Weights.Len() == 0 {
		return nil, fmt.Errorf("regrid: weight set %s is empty", ws.Key)
	}
	dims := []string{"n_s", "n_a", "n_b", "src_rank", "dst_rank"}
	lengths := []int{ws.Weights.Len(), size(ws.SrcShape), size(ws.DstShape), len(ws.SrcShape), len(ws.DstShape)}
	vars := []ncio.Var{
		{Name: "row", Dims: []string{"n_s"}, Data: int32s(ws.Weights.Rows, 1)},
		{Name: "col", Dims: []string{"n_s"}, Data: int32s(ws.Weights.Cols, 1)},
		{Name: "S", Dims: []string{"n_s"}, Data: ws.Weights.Vals},
		{Name: "src_grid_dims", Dims: []string{"src_rank"}, Data: int32s(ws.SrcShape, 0)},
		{Name: "dst_grid_dims", Dims: []string{"dst_rank"}, Data: int32s(ws.DstShape, 0)},
	}
	if ws.SrcArea != nil {
		vars = append(vars, ncio.Var{Name: "area_a", Dims: []string{"n_a"}, Data: ws.SrcArea,
			Attrs: dataset.Attributes{"units": "m2"}})
	}
	if ws.DstArea != nil {
		vars = append(vars, ncio.Var{Name: "area_b", Dims: []string{"n_b"}, Data: ws.DstArea,
			Attrs: dataset.Attributes{"units": "m2"}})
	}
	if ws.DstLon != nil && ws.DstLat != nil {
		dims = append(dims, "ni_b", "nj_b")
		lengths = append(lengths, len(ws.DstLon), len(ws.DstLat))
		vars = append(vars,
			ncio.Var{Name: "lon_b", Dims: []string{"ni_b"}, Data: ws.DstLon, Attrs: dataset.Attributes{"units": "degrees_east"}},
			ncio.Var{Name: "lat_b", Dims: []string{"nj_b"}, Data: ws.DstLat, Attrs: dataset.Attributes{"units": "degrees_north"}},
		)
	}
	if ws.Masked != nil && ws.Masked.Len() > 0 {
		dims = append(dims, "n_m")
		lengths = append(lengths, ws.Masked.Len())
		vars = append(vars,
			ncio.Var{Name: "row_m", Dims: []string{"n_m"}, Data: int32s(ws.Masked.Rows, 1)},
			ncio.Var{Name: "col_m", Dims: []string{"n_m"}, Data: int32s(ws.Masked.Cols, 1)},
			ncio.Var{Name: "S_m", Dims: []string{"n_m"}, Data: ws.Masked.Vals},
		)
	}
	return ncio.Write(dims, lengths, vars, dataset.Attributes{
		"title":      "regridding weights",
		"map_method": ws.Method,
		"key":        ws.Key,
	})
}

// UnmarshalNetCDF decodes a weight set written by MarshalNetCDF.
func UnmarshalNetCDF(b []byte) (*WeightSet, error) {
	f, err := ncio.FromBytes(b)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	read := func(v string) ([]float64, error) {
		s := f.Shape(v)
		if s == nil {
			return nil, nil
		}
		return f.Read(v, 0, s[0])
	}
	ws := new(WeightSet)
	attrs := f.Attributes("")
	ws.Key = attrs.String("key")
	ws.Method = attrs.String("map_method")

	vals := make(map[string][]float64)
	for _, v := range []string{"row", "col", "S", "src_grid_dims", "dst_grid_dims",
		"area_a", "area_b", "lon_b", "lat_b", "row_m", "col_m", "S_m"} {
		if vals[v], err = read(v); err != nil {
			return nil, err
		}
	}
	if vals["S"] == nil || vals["row"] == nil || vals["col"] == nil {
		return nil, fmt.Errorf("regrid: weight file is missing row, col or S")
	}
	ws.Weights = Matrix{Rows: ints(vals["row"], -1), Cols: ints(vals["col"], -1), Vals: vals["S"]}
	ws.Weights.sort()
	ws.SrcShape = ints(vals["src_grid_dims"], 0)
	ws.DstShape = ints(vals["dst_grid_dims"], 0)
	ws.SrcArea, ws.DstArea = vals["area_a"], vals["area_b"]
	ws.DstLon, ws.DstLat = vals["lon_b"], vals["lat_b"]
	if vals["S_m"] != nil {
		ws.Masked = &Matrix{Rows: ints(vals["row_m"], -1), Cols: ints(vals["col_m"], -1), Vals: vals["S_m"]}
		ws.Masked.sort()
	}
	return ws, nil
}
