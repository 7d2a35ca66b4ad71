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

package fixer

import (
	"sort"

	"github.com/ctessum/sparse"
	"github.com/spatialmodel/aqua/dataset"
	"github.com/spatialmodel/aqua/units"
)

// CoordSpec describes one canonical coordinate.
type CoordSpec struct {
	// Names lists the names the coordinate may have in raw data.
	Names []string `yaml:"names"`

	// Units, if set, are the canonical units of the coordinate values.
	Units string `yaml:"units"`

	// Direction is "increasing", "decreasing", or empty.
	Direction string `yaml:"direction"`

	StandardName string `yaml:"standard_name"`
}

// DataModel is a canonical coordinate convention.
type DataModel struct {
	Name   string               `yaml:"-"`
	Coords map[string]CoordSpec `yaml:"coords"`
}

// DefaultDataModel is the built-in canonical convention.
var DefaultDataModel = &DataModel{
	Name: "aqua",
	Coords: map[string]CoordSpec{
		"lon": {
			Names:        []string{"lon", "longitude", "nav_lon"},
			Units:        "degrees_east",
			StandardName: "longitude",
		},
		"lat": {
			Names:        []string{"lat", "latitude", "nav_lat"},
			Units:        "degrees_north",
			Direction:    "increasing",
			StandardName: "latitude",
		},
		"plev": {
			Names:        []string{"plev", "pressure_level", "isobaricInhPa", "level"},
			Units:        "Pa",
			Direction:    "decreasing",
			StandardName: "air_pressure",
		},
		"time": {
			Names:        []string{"time", "valid_time"},
			StandardName: "time",
		},
	},
}

func (m *DataModel) canonicalNames() []string {
	n := make([]string, 0, len(m.Coords))
	for k := range m.Coords {
		n = append(n, k)
	}
	sort.Strings(n)
	return n
}

// hasDim returns whether name is a dimension or coordinate of ds.
func hasDim(ds *dataset.Dataset, name string) bool {
	if name == ds.TimeDim {
		return true
	}
	_, ok := ds.DimLen(name)
	return ok
}

// Apply renames coordinates to their canonical names, converts their
// units, and reorders them to the canonical direction.
func (m *DataModel) Apply(ds *dataset.Dataset, p *units.Parser) (*dataset.Dataset, error) {
	for _, canonical := range m.canonicalNames() {
		spec := m.Coords[canonical]
		found := ""
		for _, n := range append([]string{canonical}, spec.Names...) {
			if hasDim(ds, n) {
				found = n
				break
			}
		}
		if found == "" {
			continue
		}
		ds = ds.RenameDim(found, canonical)
		c, ok := ds.Coord(canonical)
		if !ok {
			continue
		}
		var err error
		if c, err = convertCoord(c, c.Units(), spec.Units, p); err != nil {
			return nil, err
		}
		if spec.StandardName != "" && c.Attrs.String("standard_name") == "" {
			c.Attrs["standard_name"] = spec.StandardName
		}
		ds = ds.Copy()
		ds.SetCoord(c)
		if needsFlip(c.Values, spec.Direction) {
			ds = flipDim(ds, canonical)
		}
	}
	return ds, nil
}

// convertCoord returns a copy of c with values converted from src to
// dst units. Angular units are only relabeled.
func convertCoord(c *dataset.Coord, src, dst string, p *units.Parser) (*dataset.Coord, error) {
	o := &dataset.Coord{Name: c.Name, Values: c.Values, Attrs: c.Attrs.Clone()}
	if dst == "" || src == dst {
		return o, nil
	}
	if src == "" {
		o.Attrs["units"] = dst
		return o, nil
	}
	conv, err := p.Convert(src, dst, 0)
	if err != nil {
		if ue, ok := err.(*units.UnitConversionError); ok {
			ue.Variable = c.Name
		}
		return nil, err
	}
	if !conv.Identity() {
		vals := make([]float64, len(c.Values))
		for i, v := range c.Values {
			vals[i] = conv.Apply(v)
		}
		o.Values = vals
	}
	o.Attrs["units"] = dst
	return o, nil
}

func needsFlip(vals []float64, direction string) bool {
	if len(vals) < 2 {
		return false
	}
	switch direction {
	case "increasing":
		return vals[0] > vals[len(vals)-1]
	case "decreasing":
		return vals[0] < vals[len(vals)-1]
	default:
		return false
	}
}

// flipDim reverses dim in the coordinate and in every variable.
func flipDim(ds *dataset.Dataset, dim string) *dataset.Dataset {
	o := ds.Copy()
	if c, ok := ds.Coord(dim); ok {
		vals := make([]float64, len(c.Values))
		for i, v := range c.Values {
			vals[len(vals)-1-i] = v
		}
		o.SetCoord(&dataset.Coord{Name: dim, Values: vals, Attrs: c.Attrs})
	}
	for name, v := range ds.Vars {
		axis := v.DimIndex(dim)
		if axis < 0 {
			continue
		}
		o.Vars[name] = v.Map(func(a *sparse.DenseArray) (*sparse.DenseArray, error) {
			return dataset.Flip(a, axis), nil
		})
	}
	return o
}
