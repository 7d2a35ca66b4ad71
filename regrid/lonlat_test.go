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
	"math"
	"reflect"
	"testing"

	"gonum.org/v1/gonum/floats"
)

func different(a, b, tolerance float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.IsNaN(a) != math.IsNaN(b)
	}
	if a == b {
		return false
	}
	return 2*math.Abs(a-b)/math.Abs(a+b) > tolerance
}

func rowSums(m *Matrix, n int) []float64 {
	s := make([]float64, n)
	for k, v := range m.Vals {
		s[m.Rows[k]] += v
	}
	return s
}

func TestConservative(t *testing.T) {
	req := &Request{Grid: &Grid{Name: "src", Spec: "r72x36"}, Target: ParseTarget("r36x18"), Method: "conservative"}
	ws, err := LonLatGenerator{}.Generate(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if ws.SrcShape[0] != 36 || ws.SrcShape[1] != 72 || ws.DstShape[0] != 18 || ws.DstShape[1] != 36 {
		t.Fatalf("shapes %v -> %v", ws.SrcShape, ws.DstShape)
	}
	for i, s := range rowSums(&ws.Weights, size(ws.DstShape)) {
		if different(s, 1, 1e-9) {
			t.Fatalf("row %d sums to %g", i, s)
		}
	}
	sphere := 4 * math.Pi * EarthRadius * EarthRadius
	if a := floats.Sum(ws.SrcArea); different(a, sphere, 1e-9) {
		t.Errorf("source area %g, want %g", a, sphere)
	}
	if a := floats.Sum(ws.DstArea); different(a, sphere, 1e-9) {
		t.Errorf("target area %g, want %g", a, sphere)
	}

	// The area-weighted integral of a field is conserved.
	src := make([]float64, size(ws.SrcShape))
	for j := 0; j < 36; j++ {
		for i := 0; i < 72; i++ {
			src[j*72+i] = 280 + 20*math.Cos(float64(j)/6) + float64(i%7)
		}
	}
	dst := make([]float64, size(ws.DstShape))
	for k, w := range ws.Weights.Vals {
		dst[ws.Weights.Rows[k]] += w * src[ws.Weights.Cols[k]]
	}
	have, want := floats.Dot(dst, ws.DstArea), floats.Dot(src, ws.SrcArea)
	if different(have, want, 1e-9) {
		t.Errorf("integral %g, want %g", have, want)
	}
}

func TestNearestIdentity(t *testing.T) {
	req := &Request{Grid: &Grid{Name: "src", Spec: "r36x18"}, Target: ParseTarget("r36x18"), Method: "nearest"}
	ws, err := LonLatGenerator{}.Generate(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if ws.Weights.Len() != 36*18 {
		t.Fatalf("%d weights", ws.Weights.Len())
	}
	for k := range ws.Weights.Vals {
		if ws.Weights.Rows[k] != ws.Weights.Cols[k] || ws.Weights.Vals[k] != 1 {
			t.Fatalf("entry %d: %d, %d, %g", k, ws.Weights.Rows[k], ws.Weights.Cols[k], ws.Weights.Vals[k])
		}
	}
}

func TestMaskedWeights(t *testing.T) {
	mask := make([]bool, 18*36)
	for i := range mask {
		mask[i] = i%36 < 18
	}
	req := &Request{Grid: &Grid{Name: "src", Spec: "r36x18"}, Target: ParseTarget("r18x9"),
		Method: "conservative", SrcMask: mask}
	ws, err := LonLatGenerator{}.Generate(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if ws.Masked == nil || ws.Masked.Len() == 0 || ws.Masked.Len() >= ws.Weights.Len() {
		t.Fatalf("masked matrix has %d of %d entries", ws.Masked.Len(), ws.Weights.Len())
	}
	for k, c := range ws.Masked.Cols {
		if !mask[c] {
			t.Fatalf("masked entry %d uses undefined source cell %d", k, c)
		}
	}
}

func TestGenerateErrors(t *testing.T) {
	tests := []struct {
		name string
		req  *Request
	}{
		{"no lon-lat description", &Request{Grid: &Grid{Name: "tco79", Path: "tco79.nc"}, Target: ParseTarget("r100"), Method: "conservative"}},
		{"irregular target", &Request{Grid: &Grid{Name: "src", Spec: "r100"}, Target: ParseTarget("n128"), Method: "conservative"}},
		{"unsupported method", &Request{Grid: &Grid{Name: "src", Spec: "r36x18"}, Target: ParseTarget("r18x9"), Method: "bicubic"}},
		{"bad mask", &Request{Grid: &Grid{Name: "src", Spec: "r36x18"}, Target: ParseTarget("r18x9"), Method: "conservative", SrcMask: []bool{true}}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if _, err := (LonLatGenerator{}).Generate(context.Background(), test.req); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestCDOMissing(t *testing.T) {
	old := CDOCommand
	CDOCommand = "/nonexistent/cdo"
	defer func() { CDOCommand = old }()
	req := &Request{Grid: &Grid{Name: "tco79", Path: "tco79.nc"}, Target: ParseTarget("r100"), Method: "conservative"}
	if _, err := (CDOGenerator{}).Generate(context.Background(), req); err == nil {
		t.Error("expected an error")
	}
	req.Method = "spline"
	if _, err := (CDOGenerator{}).Generate(context.Background(), req); err == nil {
		t.Error("expected an error for an unknown method")
	}
}

func TestAutoGenerator(t *testing.T) {
	old := CDOCommand
	CDOCommand = "/nonexistent/cdo"
	defer func() { CDOCommand = old }()
	ctx := context.Background()

	req := &Request{Grid: &Grid{Name: "src", Lon: []float64{45, 135, 225, 315}, Lat: []float64{-45, 45}},
		Target: ParseTarget("r2x1"), Method: "conservative"}
	ws, err := (AutoGenerator{}).Generate(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(ws.DstShape, []int{1, 2}) {
		t.Errorf("destination shape %v", ws.DstShape)
	}

	req = &Request{Grid: &Grid{Name: "tco79", Path: "tco79.nc"}, Target: ParseTarget("r100"), Method: "conservative"}
	if _, err := (AutoGenerator{}).Generate(ctx, req); err == nil {
		t.Error("unstructured grids should be sent to cdo")
	}
}

func TestCellAreas(t *testing.T) {
	a, err := CellAreas([]float64{90, 270}, []float64{-45, 45})
	if err != nil {
		t.Fatal(err)
	}
	want := math.Pi * EarthRadius * EarthRadius
	for i, v := range a {
		if different(v, want, 1e-9) {
			t.Errorf("cell %d: have %g, want %g", i, v, want)
		}
	}
	if _, err := CellAreas(nil, []float64{0}); err == nil {
		t.Error("expected an error for an empty grid")
	}
}
