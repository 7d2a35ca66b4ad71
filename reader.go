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

package aqua

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/aqua/accessor"
	"github.com/spatialmodel/aqua/catalog"
	"github.com/spatialmodel/aqua/dataset"
	"github.com/spatialmodel/aqua/fixer"
	"github.com/spatialmodel/aqua/internal/ncio"
	"github.com/spatialmodel/aqua/regrid"
)

// RegridAttr is the dataset attribute that records the target grid of
// regridded data.
const RegridAttr = "regrid"

// Options select the source of a Reader and how it is read.
type Options struct {
	// Catalog may be empty, in which case the first catalog that
	// contains the source is used.
	Catalog, Model, Exp, Source string

	// Regrid is the target grid used by Reader.Regrid, and Method
	// overrides the interpolation method of the source grid.
	Regrid, Method string

	// NoFix disables the fixer, including the data model.
	NoFix bool

	// Streaming makes Retrieve return consecutive chunks of the source.
	// StreamGenerator makes Generator available instead. They cannot
	// both be set.
	Streaming, StreamGenerator bool

	// Aggregation is the length of a streamed chunk, such as "D" or
	// "6h". The default is the aggregation declared by the source, or
	// else its timestep.
	Aggregation string

	// StartDate and EndDate bound the data returned by the reader. The
	// end is exclusive: samples at EndDate are not returned.
	StartDate, EndDate string
}

// Request selects part of the data of a Reader.
type Request struct {
	// Variables are fixed variable names. If empty, every variable is
	// returned.
	Variables []string

	// StartDate and EndDate narrow the dates given when the reader was
	// opened. They are ignored when streaming.
	StartDate, EndDate string

	// Levels selects vertical levels, in the units of the source.
	Levels []float64
}

// Reader retrieves the data of one source. A Reader holds caches that
// are specific to its source and must not be used concurrently.
type Reader struct {
	Source *catalog.Source

	// Rule is the fixer rule of the source, or nil if only the data
	// model is applied or fixing is disabled.
	Rule *fixer.Rule

	// Grid describes the source grid. It is nil when the source
	// declares no grid.
	Grid *regrid.Grid

	// Target is the grid used by Regrid.
	Target regrid.Target

	Log logrus.FieldLogger

	env      *Env
	opts     Options
	backend  accessor.Backend
	timestep accessor.Step
	start    time.Time
	end      time.Time

	stream   *accessor.Stream
	seqTaken bool

	weights  *regrid.WeightSet
	srcGrid  *regrid.Grid
	areaOnce sync.Once
	areas    *dataset.Variable
	areaErr  error
}

// Open resolves a source and prepares it for reading. Weights are not
// computed until the first call to Regrid.
func (e *Env) Open(ctx context.Context, opts Options) (*Reader, error) {
	if opts.Streaming && opts.StreamGenerator {
		return nil, errors.New("aqua: Streaming and StreamGenerator cannot both be set")
	}
	src, err := e.Catalogs.Resolve(opts.Catalog, opts.Model, opts.Exp, opts.Source)
	if err != nil {
		return nil, err
	}
	r := &Reader{
		Source: src,
		Log:    e.Log.WithFields(logrus.Fields{"source": src.Key()}),
		env:    e,
		opts:   opts,
	}
	if r.start, err = parseDate(opts.StartDate); err != nil {
		return nil, err
	}
	if r.end, err = parseDate(opts.EndDate); err != nil {
		return nil, err
	}
	if r.backend, err = accessor.New(src, e.backends); err != nil {
		return nil, err
	}
	if r.timestep, err = r.backend.Timestep(ctx); err != nil {
		return nil, err
	}

	if !opts.NoFix {
		if r.Rule, err = e.Fixers.Resolve(src.Metadata.FixerName, src.Model, src.Metadata.Fixes); err != nil {
			return nil, err
		}
	}
	if name := src.Metadata.SourceGridName; name != "" {
		if r.Grid, err = e.Grids.Grid(name); err != nil {
			return nil, err
		}
	}
	if opts.Regrid != "" {
		r.Target = e.Grids.Target(opts.Regrid)
	}

	if opts.Streaming || opts.StreamGenerator {
		agg := opts.Aggregation
		if agg == "" {
			agg = src.Args.Aggregation
		}
		step, err := accessor.ParseStep(agg, r.timestep)
		if err != nil {
			return nil, err
		}
		q := accessor.Query{Start: r.start, End: r.end}
		if r.stream, err = accessor.NewStream(ctx, r.backend, q, step); err != nil {
			return nil, err
		}
		r.Log.WithFields(logrus.Fields{"step": step.String(), "generator": opts.StreamGenerator}).Debug("streaming")
	}
	return r, nil
}

// parseDate parses an optional date.
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return catalog.ParseDate(s)
}

// rawVars returns the variables that must be read to produce the fixed
// variables names.
func (r *Reader) rawVars(names []string) ([]string, error) {
	if len(names) == 0 || r.Rule == nil {
		return names, nil
	}
	return r.Rule.SourceVars(names)
}

// fix applies the fixer and selects the requested variables.
func (r *Reader) fix(ds *dataset.Dataset, names []string) (*dataset.Dataset, error) {
	if !r.opts.NoFix {
		var err error
		if ds, err = r.env.Engine.Apply(ds, r.Rule, r.timestep.Approx()); err != nil {
			return nil, err
		}
	}
	if len(names) == 0 {
		return ds, nil
	}
	return ds.Select(names...)
}

// Retrieve returns the selected data. Unless the reader is streaming,
// the result is lazy and no values are read until they are requested.
// A streaming reader returns the next chunk, fully loaded, and
// advances; after the last chunk it returns an
// *accessor.StreamExhaustedError until Reset is called.
func (r *Reader) Retrieve(ctx context.Context, req Request) (*dataset.Dataset, error) {
	if r.opts.StreamGenerator {
		return nil, errors.New("aqua: reader was opened with StreamGenerator; use Generator")
	}
	raw, err := r.rawVars(req.Variables)
	if err != nil {
		return nil, err
	}
	if r.stream != nil {
		r.stream.Select(raw, req.Levels, "")
		start, _ := r.stream.Window()
		ds, err := r.stream.Next(ctx)
		if err != nil {
			return nil, err
		}
		return r.fixChunk(ctx, ds, start, accessor.Query{Variables: raw, Levels: req.Levels}, req.Variables)
	}
	q := accessor.Query{Variables: raw, Levels: req.Levels, Start: r.start, End: r.end}
	if req.StartDate != "" {
		if q.Start, err = parseDate(req.StartDate); err != nil {
			return nil, err
		}
	}
	if req.EndDate != "" {
		if q.End, err = parseDate(req.EndDate); err != nil {
			return nil, err
		}
	}
	ds, err := r.backend.Retrieve(ctx, q)
	if err != nil {
		return nil, err
	}
	return r.fix(ds, req.Variables)
}

// fixChunk fixes a chunk of a stream that starts at start. Accumulated
// variables are differenced against the last sample of the previous
// chunk, which is read again with q and trimmed after fixing.
func (r *Reader) fixChunk(ctx context.Context, ds *dataset.Dataset, start time.Time, q accessor.Query, names []string) (*dataset.Dataset, error) {
	first, _ := r.stream.Bounds()
	if r.opts.NoFix || r.Rule == nil || !r.Rule.Decumulates() || !start.After(first) || len(ds.Time) == 0 {
		return r.fix(ds, names)
	}
	q.Start, q.End = r.timestep.Sub(start), start
	if q.Start.Before(first) {
		q.Start = first
	}
	prev, err := r.backend.Retrieve(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(prev.Time) == 0 {
		return r.fix(ds, names)
	}
	prev = prev.SelTime(prev.Time[len(prev.Time)-1], time.Time{})
	joined, err := dataset.Concat(prev, ds)
	if err != nil {
		return nil, err
	}
	out, err := r.fix(joined, names)
	if err != nil {
		return nil, err
	}
	return out.SelTime(start, time.Time{}), nil
}

// Sequence yields the fixed chunks of a source in order.
type Sequence struct {
	r     *Reader
	seq   *accessor.Sequence
	query accessor.Query
	names []string
}

// Generator returns the chunks of a reader opened with StreamGenerator.
// Chunks are lazy. A reader has a single sequence; a new one can only
// be obtained after Reset.
func (r *Reader) Generator(ctx context.Context, req Request) (*Sequence, error) {
	if !r.opts.StreamGenerator {
		return nil, errors.New("aqua: reader was not opened with StreamGenerator")
	}
	if r.seqTaken {
		return nil, errors.New("aqua: the sequence of this reader has already been taken; call Reset for a new one")
	}
	raw, err := r.rawVars(req.Variables)
	if err != nil {
		return nil, err
	}
	r.stream.Select(raw, req.Levels, "")
	r.seqTaken = true
	return &Sequence{r: r, seq: accessor.NewSequence(r.stream), names: req.Variables,
		query: accessor.Query{Variables: raw, Levels: req.Levels}}, nil
}

// Next returns the next chunk, or io.EOF after the last one.
func (s *Sequence) Next(ctx context.Context) (*dataset.Dataset, error) {
	start, _ := s.r.stream.Window()
	ds, err := s.seq.Next(ctx)
	if err != nil {
		return nil, err
	}
	return s.r.fixChunk(ctx, ds, start, s.query, s.names)
}

// Reset rewinds a streaming reader to its start date. It does nothing
// for other readers.
func (r *Reader) Reset() {
	if r.stream != nil {
		r.stream.Reset()
	}
	r.seqTaken = false
}

// State returns the state of a streaming reader.
func (r *Reader) State() accessor.StreamState {
	if r.stream == nil {
		return accessor.Idle
	}
	return r.stream.State()
}

// sourceGrid returns the grid used to compute weights for ds. Grids
// without a spec or a grid file take their coordinates from ds.
func (r *Reader) sourceGrid(ds *dataset.Dataset) (*regrid.Grid, error) {
	g := &regrid.Grid{Name: r.Source.Model + "-" + r.Source.Exp + "-" + r.Source.Name}
	if r.Grid != nil {
		c := *r.Grid
		g = &c
	}
	if g.Spec != "" || g.Path != "" {
		return g, nil
	}
	lon, okLon := ds.Coord(g.LonDim())
	lat, okLat := ds.Coord(g.LatDim())
	if !okLon || !okLat {
		return nil, fmt.Errorf("aqua: source %s has no grid description and no %s/%s coordinates",
			r.Source.Key(), g.LonDim(), g.LatDim())
	}
	g.Lon, g.Lat = lon.Values, lat.Values
	return g, nil
}

// srcMask returns the cells where the first masked variable of ds is
// defined, or nil if the grid has no masked variables in ds.
func srcMask(ds *dataset.Dataset, g *regrid.Grid) ([]bool, error) {
	for _, name := range ds.VarNames() {
		v := ds.Vars[name]
		if !g.IsMasked(v) || v.DimIndex(g.LonDim()) < 0 {
			continue
		}
		n := 1
		for i, d := range v.Dims {
			if d == g.LonDim() || d == g.LatDim() {
				n *= v.Shape[i]
			}
		}
		a, err := v.Values()
		if err != nil {
			return nil, err
		}
		mask := make([]bool, n)
		for i := range mask {
			mask[i] = !math.IsNaN(a.Elements[i])
		}
		return mask, nil
	}
	return nil, nil
}

// Weights returns the weights that regrid ds to the target, computing
// them if they are not yet stored. They are kept for later calls.
func (r *Reader) Weights(ctx context.Context, ds *dataset.Dataset) (*regrid.WeightSet, error) {
	if r.weights != nil {
		return r.weights, nil
	}
	if r.Target.Name == "" {
		return nil, errors.New("aqua: reader was opened without a regrid target")
	}
	g, err := r.sourceGrid(ds)
	if err != nil {
		return nil, err
	}
	mask, err := srcMask(ds, g)
	if err != nil {
		return nil, err
	}
	req := &regrid.Request{Grid: g, Target: r.Target, Method: g.Method(r.opts.Method), SrcMask: mask}
	ws, err := r.env.Weights.Weights(ctx, req)
	if err != nil {
		return nil, err
	}
	r.weights, r.srcGrid = ws, g
	return ws, nil
}

// Regrid interpolates the horizontal variables of ds, which must have
// been retrieved from r, to the target grid. The result is lazy.
func (r *Reader) Regrid(ctx context.Context, ds *dataset.Dataset) (*dataset.Dataset, error) {
	ws, err := r.Weights(ctx, ds)
	if err != nil {
		return nil, err
	}
	o, err := ws.Dataset(ds, r.srcGrid)
	if err != nil {
		return nil, err
	}
	o.Attrs = o.Attrs.Clone()
	o.Attrs[RegridAttr] = r.Target.Name
	return o, nil
}

// vertDim returns the vertical dimension of v.
func (r *Reader) vertDim(v *dataset.Variable) (string, error) {
	candidates := []string{"plev", "lev", "level", "depth", "height"}
	if r.Grid != nil && len(r.Grid.VertCoord) > 0 {
		candidates = r.Grid.VertCoord
	}
	for _, c := range candidates {
		if v.DimIndex(c) >= 0 {
			return c, nil
		}
	}
	return "", fmt.Errorf("aqua: variable %s has no vertical dimension among %v", v.Name, candidates)
}

// VertInterp interpolates variable name of ds to levels given in
// levelUnits, or in the units of the vertical coordinate if levelUnits
// is empty. method is "linear", "log" or "nearest". The result holds
// only the interpolated variable.
func (r *Reader) VertInterp(ds *dataset.Dataset, name string, levels []float64, levelUnits, method string) (*dataset.Dataset, error) {
	v, ok := ds.Var(name)
	if !ok {
		return nil, fmt.Errorf("aqua: no variable %q", name)
	}
	dim, err := r.vertDim(v)
	if err != nil {
		return nil, err
	}
	c, ok := ds.Coord(dim)
	if !ok {
		return nil, fmt.Errorf("aqua: no coordinate for vertical dimension %s", dim)
	}
	nv, nc, err := regrid.VerticalInterpolate(v, c, levels, levelUnits, method, r.env.Engine.Units)
	if err != nil {
		return nil, err
	}
	o := ds.Copy()
	o.Vars = map[string]*dataset.Variable{name: nv}
	o.SetCoord(nc)
	return o, nil
}

// Areas returns the cell areas of the source grid in m². They come from
// the grid's cell area file if it has one, and are otherwise computed
// from the coordinates of ds. The result is computed once.
func (r *Reader) Areas(ctx context.Context, ds *dataset.Dataset) (*dataset.Variable, error) {
	r.areaOnce.Do(func() {
		r.areas, r.areaErr = r.loadAreas(ds)
		if r.areaErr == nil {
			r.Log.WithField("cells", r.areas.Size()).Debug("computed cell areas")
		}
	})
	return r.areas, r.areaErr
}

func (r *Reader) loadAreas(ds *dataset.Dataset) (*dataset.Variable, error) {
	if r.Grid != nil && r.Grid.CellAreas != "" {
		path := r.Grid.CellAreas
		f, err := ncio.Decode(func() (ncio.File, error) { return ncio.Open(path) }, time.Time{}, time.Time{})
		if err != nil {
			return nil, errors.Wrapf(err, "aqua: reading cell areas of grid %s", r.Grid.Name)
		}
		name := r.Grid.CellAreasVar
		if name == "" {
			name = "cell_area"
		}
		v, ok := f.Var(name)
		if !ok {
			return nil, fmt.Errorf("aqua: cell area file %s has no variable %s", path, name)
		}
		return v, nil
	}

	lonDim, latDim := regrid.LonDim, regrid.LatDim
	if r.Grid != nil {
		lonDim, latDim = r.Grid.LonDim(), r.Grid.LatDim()
	}
	var lon, lat []float64
	if r.Grid != nil && r.Grid.Spec != "" {
		t := regrid.ParseTarget(r.Grid.Spec)
		lon, lat = t.Lon(), t.Lat()
	} else {
		lonC, okLon := ds.Coord(lonDim)
		latC, okLat := ds.Coord(latDim)
		if !okLon || !okLat {
			return nil, fmt.Errorf("aqua: cannot compute cell areas of %s: no %s/%s coordinates and no cell area file",
				r.Source.Key(), lonDim, latDim)
		}
		lon, lat = lonC.Values, latC.Values
	}
	a, err := regrid.CellAreas(lon, lat)
	if err != nil {
		return nil, err
	}
	return dataset.FromArray("cell_area", []string{latDim, lonDim},
		dataset.Wrap(a, len(lat), len(lon)), dataset.Attributes{"units": "m2"}), nil
}

// FldMean returns the area-weighted mean over the horizontal of every
// variable of ds. Regridded data is weighted by the target cell areas.
func (r *Reader) FldMean(ctx context.Context, ds *dataset.Dataset) (*dataset.Dataset, error) {
	if ds.Attrs.String(RegridAttr) != "" && r.weights != nil {
		ws := r.weights
		var a *dataset.Variable
		if len(ws.DstShape) == 2 {
			a = dataset.FromArray("cell_area", []string{regrid.LatDim, regrid.LonDim},
				dataset.Wrap(ws.DstArea, ws.DstShape...), nil)
		} else {
			a = dataset.FromArray("cell_area", []string{regrid.CellDim}, dataset.Wrap(ws.DstArea, ws.DstShape...), nil)
		}
		return FldMean(ds, a)
	}
	a, err := r.Areas(ctx, ds)
	if err != nil {
		return nil, err
	}
	return FldMean(ds, a)
}
