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

// Package regrid computes, caches and applies sparse interpolation
// weights between horizontal grids, and interpolates along vertical
// coordinates.
package regrid

import (
	"fmt"
	"io/ioutil"
	"math"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spatialmodel/aqua/dataset"
	"gopkg.in/yaml.v2"
)

// Masked declares the variables of a grid that are only defined on part
// of the domain, such as ocean fields. A variable is masked if it is
// listed in Vars or if its attribute Attribute equals Value.
type Masked struct {
	Vars      []string `yaml:"vars"`
	Attribute string   `yaml:"attribute"`
	Value     string   `yaml:"value"`
}

// Grid describes the horizontal and vertical layout of a source.
type Grid struct {
	Name string `yaml:"-"`

	// Spec is a regular lon-lat grid token such as "r100" or
	// "r360x180".
	Spec string `yaml:"spec"`

	// Path is a grid description file for the external weight generator.
	Path string `yaml:"path"`

	// SpaceCoord holds the names of the horizontal dimensions, longitude
	// first. Unstructured grids have a single cell dimension. The default
	// is [lon, lat].
	SpaceCoord []string `yaml:"space_coord"`

	VertCoord []string `yaml:"vert_coord"`
	Masked    *Masked  `yaml:"masked"`

	// CellAreas is a file holding the source cell areas in variable
	// CellAreasVar.
	CellAreas    string `yaml:"cellareas"`
	CellAreasVar string `yaml:"cellareas_var"`

	// RegridMethod is the default method for this grid.
	RegridMethod string `yaml:"regrid_method"`

	// Lon and Lat hold the cell centers of a rectilinear grid that is
	// described by the data itself rather than by Spec or Path.
	Lon []float64 `yaml:"-"`
	Lat []float64 `yaml:"-"`
}

// LonDim returns the name of the longitude dimension, or of the single
// cell dimension of an unstructured grid.
func (g *Grid) LonDim() string {
	if len(g.SpaceCoord) > 0 {
		return g.SpaceCoord[0]
	}
	return "lon"
}

// LatDim returns the name of the latitude dimension.
func (g *Grid) LatDim() string {
	if len(g.SpaceCoord) == 2 {
		return g.SpaceCoord[1]
	}
	return "lat"
}

// IsMasked returns whether variable v uses the masked weights.
func (g *Grid) IsMasked(v *dataset.Variable) bool {
	if g.Masked == nil {
		return false
	}
	for _, m := range g.Masked.Vars {
		if m == v.Name {
			return true
		}
	}
	if g.Masked.Attribute == "" {
		return false
	}
	val, ok := v.Attrs[g.Masked.Attribute]
	return ok && fmt.Sprint(val) == g.Masked.Value
}

// Method returns method, or the grid's default method if method is
// empty, or DefaultMethod.
func (g *Grid) Method(method string) string {
	switch {
	case method != "":
		return method
	case g.RegridMethod != "":
		return g.RegridMethod
	default:
		return DefaultMethod
	}
}

// DefaultMethod is the interpolation method used when none is given.
const DefaultMethod = "conservative"

// Target is a destination grid.
type Target struct {
	// Name is the token the target was requested with.
	Name string

	// NLon and NLat are the dimensions of a regular global lon-lat
	// grid; both are zero for other targets.
	NLon, NLat int

	// CDO holds a grid specification that is passed unchanged to the
	// external weight generator.
	CDO string
}

// Regular returns whether t is a regular global lon-lat grid.
func (t Target) Regular() bool { return t.NLon > 0 && t.NLat > 0 }

// Lon returns the cell center longitudes of a regular target, starting
// at 0.
func (t Target) Lon() []float64 {
	o := make([]float64, t.NLon)
	for i := range o {
		o[i] = float64(i) * 360 / float64(t.NLon)
	}
	return o
}

// Lat returns the cell center latitudes of a regular target, south to
// north.
func (t Target) Lat() []float64 {
	o := make([]float64, t.NLat)
	for j := range o {
		o[j] = -90 + (float64(j)+0.5)*180/float64(t.NLat)
	}
	return o
}

var (
	resolutionToken = regexp.MustCompile(`^r([0-9]{3})$`)
	sizeToken       = regexp.MustCompile(`^r([0-9]+)x([0-9]+)$`)
)

// ParseTarget interprets a target grid token. "rNNN" is a regular grid
// with a spacing of NNN/100 degrees, and "r<nlon>x<nlat>" is a regular
// grid of the given size. Anything else is passed to the external
// generator unchanged.
func ParseTarget(s string) Target {
	if m := resolutionToken.FindStringSubmatch(s); m != nil {
		res, _ := strconv.Atoi(m[1])
		if res > 0 {
			d := float64(res) / 100
			return Target{Name: s, NLon: int(math.Round(360 / d)), NLat: int(math.Round(180 / d))}
		}
	}
	if m := sizeToken.FindStringSubmatch(s); m != nil {
		nlon, _ := strconv.Atoi(m[1])
		nlat, _ := strconv.Atoi(m[2])
		if nlon > 0 && nlat > 0 {
			return Target{Name: s, NLon: nlon, NLat: nlat}
		}
	}
	return Target{Name: s, CDO: s}
}

// Registry holds the grid descriptions and target aliases known to the
// regridder.
type Registry struct {
	Grids   map[string]*Grid
	Targets map[string]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{Grids: make(map[string]*Grid), Targets: make(map[string]string)}
}

type gridDoc struct {
	Grids   map[string]*Grid  `yaml:"grids"`
	Targets map[string]string `yaml:"targets"`
}

// LoadGrids reads every grid document in dir. A grid document has the
// form
//
//	grids:
//	  tco79:
//	    path: /data/grids/tco79.nc
//	    masked: {vars: [sst]}
//	targets:
//	  era5: r025
func LoadGrids(dir string) (*Registry, error) {
	r := NewRegistry()
	files, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	for _, f := range files {
		b, err := ioutil.ReadFile(f)
		if err != nil {
			return nil, errors.Wrap(err, "regrid: loading grids")
		}
		var d gridDoc
		if err := yaml.Unmarshal(b, &d); err != nil {
			return nil, errors.Wrapf(err, "regrid: parsing %s", f)
		}
		for name, g := range d.Grids {
			if _, ok := r.Grids[name]; ok {
				return nil, fmt.Errorf("regrid: grid %q is defined more than once (again in %s)", name, f)
			}
			if g == nil {
				g = new(Grid)
			}
			g.Name = name
			if g.Path != "" && !filepath.IsAbs(g.Path) {
				g.Path = filepath.Join(dir, g.Path)
			}
			if g.CellAreas != "" && !filepath.IsAbs(g.CellAreas) {
				g.CellAreas = filepath.Join(dir, g.CellAreas)
			}
			r.Grids[name] = g
		}
		for alias, spec := range d.Targets {
			r.Targets[alias] = spec
		}
	}
	return r, nil
}

// Grid returns the named grid.
func (r *Registry) Grid(name string) (*Grid, error) {
	g, ok := r.Grids[name]
	if !ok {
		return nil, fmt.Errorf("regrid: unknown grid %q", name)
	}
	return g, nil
}

// Target resolves aliases and parses the target token.
func (r *Registry) Target(name string) Target {
	if spec, ok := r.Targets[name]; ok {
		t := ParseTarget(spec)
		t.Name = name
		return t
	}
	return ParseTarget(name)
}
