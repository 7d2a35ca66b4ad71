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
	"math"

	"github.com/ctessum/sparse"
	"github.com/spatialmodel/aqua/dataset"
)

// Names of the horizontal dimensions of regridded variables.
const (
	LatDim  = "lat"
	LonDim  = "lon"
	CellDim = "cell"
)

// Apply returns v interpolated to the target grid of ws. The horizontal
// dimensions latDim and lonDim (or lonDim alone, for unstructured grids
// with a single cell dimension) must be the trailing dimensions of v.
// Missing source values are skipped and the result is normalized by the
// sum of the weights that contributed; destination cells with no
// contribution are NaN. If masked is true and ws has masked weights,
// those are used. The result is computed when its values are requested.
func Apply(ws *WeightSet, v *dataset.Variable, latDim, lonDim string, masked bool) (*dataset.Variable, error) {
	m := &ws.Weights
	if masked && ws.Masked != nil {
		m = ws.Masked
	}
	nSpace := len(ws.SrcShape)
	if len(v.Dims) < nSpace {
		return nil, fmt.Errorf("regrid: variable %s has dimensions %v; want trailing %v", v.Name, v.Dims, spaceDims(nSpace, latDim, lonDim))
	}
	want := spaceDims(nSpace, latDim, lonDim)
	lead := len(v.Dims) - nSpace
	for i, d := range want {
		if v.Dims[lead+i] != d {
			return nil, fmt.Errorf("regrid: variable %s has dimensions %v; want trailing %v", v.Name, v.Dims, want)
		}
	}
	nSrc, nDst := size(ws.SrcShape), size(ws.DstShape)
	if got := size(v.Shape[lead:]); got != nSrc {
		return nil, fmt.Errorf("regrid: variable %s has %d horizontal cells; weights expect %d", v.Name, got, nSrc)
	}

	dims := append([]string(nil), v.Dims[:lead]...)
	shape := append([]int(nil), v.Shape[:lead]...)
	if len(ws.DstShape) == 2 {
		dims = append(dims, LatDim, LonDim)
	} else {
		dims = append(dims, CellDim)
	}
	shape = append(shape, ws.DstShape...)

	o := v.Transform(dims, shape, func(a *sparse.DenseArray) (*sparse.DenseArray, error) {
		out := sparse.ZerosDense(shape...)
		sums := make([]float64, nDst)
		for b := 0; b < len(a.Elements)/nSrc; b++ {
			x := a.Elements[b*nSrc : (b+1)*nSrc]
			y := out.Elements[b*nDst : (b+1)*nDst]
			for i := range sums {
				sums[i] = 0
			}
			for k, w := range m.Vals {
				xv := x[m.Cols[k]]
				if math.IsNaN(xv) {
					continue
				}
				y[m.Rows[k]] += w * xv
				sums[m.Rows[k]] += w
			}
			for i := range y {
				if sums[i] == 0 {
					y[i] = math.NaN()
				} else {
					y[i] /= sums[i]
				}
			}
		}
		return out, nil
	})
	return o, nil
}

func spaceDims(n int, latDim, lonDim string) []string {
	if n == 2 {
		return []string{latDim, lonDim}
	}
	return []string{lonDim}
}

// Dataset interpolates every variable of ds that has the horizontal
// dimensions of g. Other variables are kept unchanged. The horizontal
// coordinates are replaced with those of the target.
// The result is lazy.
func (ws *WeightSet) Dataset(ds *dataset.Dataset, g *Grid) (*dataset.Dataset, error) {
	latDim, lonDim := g.LatDim(), g.LonDim()
	o := ds.Copy()
	for _, name := range ds.VarNames() {
		v := ds.Vars[name]
		if v.DimIndex(lonDim) < 0 {
			continue
		}
		r, err := Apply(ws, v, latDim, lonDim, g.IsMasked(v))
		if err != nil {
			return nil, err
		}
		o.Vars[name] = r
	}
	delete(o.Coords, latDim)
	delete(o.Coords, lonDim)
	if ws.DstLon != nil && ws.DstLat != nil {
		o.SetCoord(&dataset.Coord{Name: LonDim, Values: ws.DstLon,
			Attrs: dataset.Attributes{"units": "degrees_east", "standard_name": "longitude"}})
		o.SetCoord(&dataset.Coord{Name: LatDim, Values: ws.DstLat,
			Attrs: dataset.Attributes{"units": "degrees_north", "standard_name": "latitude"}})
	}
	return o, nil
}
