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
	"context"
	"fmt"
	"io/ioutil"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spatialmodel/aqua/internal/ncio"
)

// CDOCommand is the command used to launch CDO. It is looked up in the
// system path on each invocation.
var CDOCommand = "cdo"

// cdoOperators maps interpolation methods to CDO weight operators.
var cdoOperators = map[string]string{
	"conservative":  "gencon",
	"conservative2": "gencon2",
	"bilinear":      "genbil",
	"bicubic":       "genbic",
	"nearest":       "gennn",
	"distance":      "gendis",
	"laf":           "genlaf",
}

// CDOGenerator computes weights by running CDO on the grid description
// file of the source grid.
type CDOGenerator struct {
	// TempDir holds intermediate files. The system default is used if
	// it is empty.
	TempDir string
}

// Generate implements Generator. It blocks until CDO exits.
func (g CDOGenerator) Generate(ctx context.Context, req *Request) (*WeightSet, error) {
	op, ok := cdoOperators[req.Method]
	if !ok {
		return nil, fmt.Errorf("method %q is not supported by CDO", req.Method)
	}
	src := req.Grid.Path
	if src == "" {
		src = req.Grid.Spec
	}
	if src == "" {
		return nil, fmt.Errorf("grid %q has no path or spec", req.Grid.Name)
	}
	target := req.Target.CDO
	if target == "" {
		target = fmt.Sprintf("r%dx%d", req.Target.NLon, req.Target.NLat)
	}

	dir, err := ioutil.TempDir(g.TempDir, "aqua-weights")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)
	out := filepath.Join(dir, "weights.nc")

	cmd := exec.CommandContext(ctx, CDOCommand, "-f", "nc", op+","+target, src, out)
	if b, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("%s %s: %v: %s", CDOCommand, strings.Join(cmd.Args[1:], " "), err,
			strings.TrimSpace(string(b)))
	}
	f, err := ncio.Open(out)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	ws, err := readSCRIP(f)
	if err != nil {
		return nil, fmt.Errorf("reading CDO output: %v", err)
	}
	ws.Method = req.Method
	if req.SrcMask != nil {
		ws.Masked = maskMatrix(&ws.Weights, req.SrcMask)
	}
	return ws, nil
}

// readSCRIP reads a weight file in the SCRIP format written by CDO.
func readSCRIP(f ncio.File) (*WeightSet, error) {
	readAll := func(v string) ([]float64, error) {
		s := f.Shape(v)
		if s == nil {
			return nil, fmt.Errorf("missing variable %s", v)
		}
		return f.Read(v, 0, s[0])
	}
	vals := make(map[string][]float64)
	for _, v := range []string{"src_address", "dst_address", "remap_matrix", "src_grid_dims",
		"dst_grid_dims", "src_grid_area", "dst_grid_area", "dst_grid_center_lon", "dst_grid_center_lat"} {
		var err error
		if vals[v], err = readAll(v); err != nil {
			return nil, err
		}
	}
	nLinks := len(vals["src_address"])
	nWgts := 1
	if s := f.Shape("remap_matrix"); len(s) == 2 {
		nWgts = s[1]
	}
	ws := new(WeightSet)
	for k := 0; k < nLinks; k++ {
		ws.Weights.add(int(vals["dst_address"][k])-1, int(vals["src_address"][k])-1, vals["remap_matrix"][k*nWgts])
	}
	ws.Weights.sort()
	// SCRIP stores grid dimensions fastest-varying first.
	ws.SrcShape = reverse(ints(vals["src_grid_dims"], 0))
	ws.DstShape = reverse(ints(vals["dst_grid_dims"], 0))

	toM2 := EarthRadius * EarthRadius
	for _, a := range []string{"src_grid_area", "dst_grid_area"} {
		for i := range vals[a] {
			vals[a][i] *= toM2
		}
	}
	ws.SrcArea, ws.DstArea = vals["src_grid_area"], vals["dst_grid_area"]

	if len(ws.DstShape) == 2 {
		nlat, nlon := ws.DstShape[0], ws.DstShape[1]
		lon, lat := vals["dst_grid_center_lon"], vals["dst_grid_center_lat"]
		scale := 1.
		if strings.HasPrefix(f.Attributes("dst_grid_center_lon").String("units"), "rad") {
			scale = 180 / math.Pi
		}
		ws.DstLon = make([]float64, nlon)
		ws.DstLat = make([]float64, nlat)
		for i := range ws.DstLon {
			ws.DstLon[i] = lon[i] * scale
		}
		for j := range ws.DstLat {
			ws.DstLat[j] = lat[j*nlon] * scale
		}
	}
	return ws, nil
}

// maskMatrix returns the entries of m whose source cells are valid.
func maskMatrix(m *Matrix, valid []bool) *Matrix {
	o := new(Matrix)
	for k := range m.Vals {
		if c := m.Cols[k]; c < len(valid) && valid[c] {
			o.add(m.Rows[k], c, m.Vals[k])
		}
	}
	return o
}

func reverse(v []int) []int {
	o := make([]int, len(v))
	for i, x := range v {
		o[len(v)-1-i] = x
	}
	return o
}
