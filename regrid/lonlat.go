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
	"math"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"
)

// EarthRadius is the radius of the Earth in m.
const EarthRadius = 6371000.

const deg2rad = math.Pi / 180

// Request describes a set of weights to be computed.
type Request struct {
	Grid   *Grid
	Target Target
	Method string

	// SrcMask, if not nil, marks the source cells that are defined for
	// masked variables.
	SrcMask []bool
}

// Generator computes interpolation weights.
type Generator interface {
	Generate(ctx context.Context, req *Request) (*WeightSet, error)
}

// rectilinear is a grid whose cells are bounded by lines of constant
// longitude and latitude.
type rectilinear struct {
	lon, lat       []float64
	lonBnd, latBnd [][2]float64
}

func newRectilinear(lon, lat []float64) (*rectilinear, error) {
	if len(lon) == 0 || len(lat) == 0 {
		return nil, fmt.Errorf("empty grid")
	}
	r := &rectilinear{lon: lon, lat: lat, lonBnd: cellBounds(lon), latBnd: cellBounds(lat)}
	for i, b := range r.latBnd {
		for k := range b {
			r.latBnd[i][k] = math.Max(-90, math.Min(90, b[k]))
		}
	}
	return r, nil
}

// cellBounds returns the edges of cells centered on c, placed halfway
// between neighboring centers.
func cellBounds(c []float64) [][2]float64 {
	b := make([][2]float64, len(c))
	if len(c) == 1 {
		return [][2]float64{{c[0] - 0.5, c[0] + 0.5}}
	}
	for i := range c {
		var lo, hi float64
		if i == 0 {
			lo = c[0] - (c[1]-c[0])/2
		} else {
			lo = (c[i-1] + c[i]) / 2
		}
		if i == len(c)-1 {
			hi = c[i] + (c[i]-c[i-1])/2
		} else {
			hi = (c[i] + c[i+1]) / 2
		}
		if lo > hi {
			lo, hi = hi, lo
		}
		b[i] = [2]float64{lo, hi}
	}
	return b
}

// cell is a grid cell in (longitude, sin(latitude)) space, where areas
// on the sphere are proportional to planar areas.
type cell struct {
	*geom.Bounds
	index int
}

func (r *rectilinear) cells() []cell {
	o := make([]cell, 0, len(r.lon)*len(r.lat))
	for j, lb := range r.latBnd {
		for i, xb := range r.lonBnd {
			o = append(o, cell{
				Bounds: &geom.Bounds{
					Min: geom.Point{X: xb[0], Y: math.Sin(lb[0] * deg2rad)},
					Max: geom.Point{X: xb[1], Y: math.Sin(lb[1] * deg2rad)},
				},
				index: j*len(r.lon) + i,
			})
		}
	}
	return o
}

// area returns the area of c in m².
func (c cell) area() float64 {
	return (c.Max.X - c.Min.X) * deg2rad * (c.Max.Y - c.Min.Y) * EarthRadius * EarthRadius
}

func (r *rectilinear) areas() []float64 {
	cells := r.cells()
	o := make([]float64, len(cells))
	for _, c := range cells {
		o[c.index] = c.area()
	}
	return o
}

// CellAreas returns the areas in m² of the cells of the rectilinear grid
// with the given centers, in [lat, lon] order.
func CellAreas(lon, lat []float64) ([]float64, error) {
	r, err := newRectilinear(lon, lat)
	if err != nil {
		return nil, err
	}
	return r.areas(), nil
}

// overlap returns the area in m² shared by a and b shifted east by
// shift degrees.
func overlap(a, b *geom.Bounds, shift float64) float64 {
	dx := math.Min(a.Max.X, b.Max.X+shift) - math.Max(a.Min.X, b.Min.X+shift)
	dy := math.Min(a.Max.Y, b.Max.Y) - math.Max(a.Min.Y, b.Min.Y)
	if dx <= 0 || dy <= 0 {
		return 0
	}
	return dx * deg2rad * dy * EarthRadius * EarthRadius
}

// LonLatGenerator computes weights in-process between rectilinear
// lon-lat grids. It supports the "conservative" and "nearest" methods.
type LonLatGenerator struct{}

// Generate implements Generator.
func (LonLatGenerator) Generate(ctx context.Context, req *Request) (*WeightSet, error) {
	src, err := sourceGrid(req.Grid)
	if err != nil {
		return nil, err
	}
	if !req.Target.Regular() {
		return nil, fmt.Errorf("target %q is not a regular lon-lat grid", req.Target.Name)
	}
	dst, err := newRectilinear(req.Target.Lon(), req.Target.Lat())
	if err != nil {
		return nil, err
	}
	if req.SrcMask != nil && len(req.SrcMask) != len(src.lon)*len(src.lat) {
		return nil, fmt.Errorf("source mask has %d cells; grid has %d", len(req.SrcMask), len(src.lon)*len(src.lat))
	}

	tree := rtree.NewTree(25, 50)
	srcCells := src.cells()
	for i := range srcCells {
		tree.Insert(&srcCells[i])
	}

	ws := &WeightSet{
		Method:   req.Method,
		SrcShape: []int{len(src.lat), len(src.lon)},
		DstShape: []int{len(dst.lat), len(dst.lon)},
		SrcArea:  src.areas(),
		DstArea:  dst.areas(),
		DstLon:   dst.lon,
		DstLat:   dst.lat,
	}
	var masked *Matrix
	if req.SrcMask != nil {
		masked = new(Matrix)
	}
	for _, dc := range dst.cells() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		switch req.Method {
		case "conservative":
			conservativeRow(tree, dc, ws.DstArea[dc.index], &ws.Weights, masked, req.SrcMask)
		case "nearest":
			nearestRow(tree, dc, src, &ws.Weights, masked, req.SrcMask)
		default:
			return nil, fmt.Errorf("method %q is not supported for lon-lat grids", req.Method)
		}
	}
	if ws.Weights.Len() == 0 {
		return nil, fmt.Errorf("source and target grids do not overlap")
	}
	ws.Weights.sort()
	if masked != nil {
		masked.sort()
		ws.Masked = masked
	}
	return ws, nil
}

// shifts are the longitude offsets needed to match cells across the
// periodic boundary.
var shifts = []float64{-360, 0, 360}

func search(tree *rtree.Rtree, b *geom.Bounds, shift float64) []*cell {
	q := &geom.Bounds{
		Min: geom.Point{X: b.Min.X - shift, Y: b.Min.Y},
		Max: geom.Point{X: b.Max.X - shift, Y: b.Max.Y},
	}
	var o []*cell
	for _, s := range tree.SearchIntersect(q) {
		o = append(o, s.(*cell))
	}
	return o
}

func conservativeRow(tree *rtree.Rtree, dc cell, dstArea float64, w, masked *Matrix, mask []bool) {
	for _, shift := range shifts {
		for _, sc := range search(tree, dc.Bounds, shift) {
			a := overlap(dc.Bounds, sc.Bounds, shift)
			if a <= 0 {
				continue
			}
			w.add(dc.index, sc.index, a/dstArea)
			if masked != nil && mask[sc.index] {
				masked.add(dc.index, sc.index, a/dstArea)
			}
		}
	}
}

func nearestRow(tree *rtree.Rtree, dc cell, src *rectilinear, w, masked *Matrix, mask []bool) {
	cx := (dc.Min.X + dc.Max.X) / 2
	cy := (dc.Min.Y + dc.Max.Y) / 2
	p := &geom.Bounds{Min: geom.Point{X: cx, Y: cy}, Max: geom.Point{X: cx, Y: cy}}
	best, bestMasked := -1, -1
	bestD, bestMaskedD := math.Inf(1), math.Inf(1)
	for _, shift := range shifts {
		for _, sc := range search(tree, p, shift) {
			lon := src.lon[sc.index%len(src.lon)] + shift
			lat := src.lat[sc.index/len(src.lon)]
			d := math.Hypot(lon-cx, math.Asin(math.Max(-1, math.Min(1, cy)))/deg2rad-lat)
			if d < bestD || (d == bestD && sc.index < best) {
				best, bestD = sc.index, d
			}
			if mask != nil && mask[sc.index] && (d < bestMaskedD || (d == bestMaskedD && sc.index < bestMasked)) {
				bestMasked, bestMaskedD = sc.index, d
			}
		}
	}
	if best >= 0 {
		w.add(dc.index, best, 1)
	}
	if masked != nil && bestMasked >= 0 {
		masked.add(dc.index, bestMasked, 1)
	}
}

// sourceGrid returns the rectilinear description of g.
func sourceGrid(g *Grid) (*rectilinear, error) {
	if g.Spec != "" {
		t := ParseTarget(g.Spec)
		if !t.Regular() {
			return nil, fmt.Errorf("grid %q: spec %q is not a regular lon-lat grid", g.Name, g.Spec)
		}
		return newRectilinear(t.Lon(), t.Lat())
	}
	if len(g.Lon) > 0 && len(g.Lat) > 0 {
		return newRectilinear(g.Lon, g.Lat)
	}
	return nil, fmt.Errorf("grid %q has no lon-lat description; it requires the CDO generator", g.Name)
}

// AutoGenerator computes weights with LonLatGenerator when the source
// and target are both rectilinear and the method is supported there, and
// with CDO otherwise.
type AutoGenerator struct {
	CDO CDOGenerator
}

// Generate implements Generator.
func (g AutoGenerator) Generate(ctx context.Context, req *Request) (*WeightSet, error) {
	if _, err := sourceGrid(req.Grid); err == nil && req.Target.Regular() &&
		(req.Method == "conservative" || req.Method == "nearest") {
		return LonLatGenerator{}.Generate(ctx, req)
	}
	return g.CDO.Generate(ctx, req)
}
