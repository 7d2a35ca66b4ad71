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

package accessor

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/aqua/catalog"
	"github.com/spatialmodel/aqua/dataset"
	"github.com/spatialmodel/aqua/internal/ncio"
)

// levelDims are the names tried for the vertical dimension of file
// sources when the query does not name one.
var levelDims = []string{"plev", "level", "lev", "isobaricInhPa", "pressure_level", "depth", "height"}

// fileBackend reads sets of NetCDF files.
type fileBackend struct {
	src   *catalog.Source
	files []string
	log   logrus.FieldLogger

	once       sync.Once
	start, end time.Time
	step       Step
	err        error
}

func newFileBackend(src *catalog.Source, log logrus.FieldLogger) (*fileBackend, error) {
	seen := make(map[string]bool)
	var files []string
	for _, p := range src.Args.URLPath {
		if !filepath.IsAbs(p) && src.Dir != "" {
			p = filepath.Join(src.Dir, p)
		}
		m, err := filepath.Glob(p)
		if err != nil {
			return nil, errors.Wrapf(err, "accessor: source %s", src.Key())
		}
		for _, f := range m {
			if !seen[f] {
				seen[f] = true
				files = append(files, f)
			}
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("accessor: source %s: no files match %v", src.Key(), src.Args.URLPath)
	}
	sort.Strings(files)
	return &fileBackend{src: src, files: files, log: log}, nil
}

func opener(path string) func() (ncio.File, error) {
	return func() (ncio.File, error) { return ncio.Open(path) }
}

// Retrieve implements Backend. Files without records inside the window
// are skipped.
func (b *fileBackend) Retrieve(ctx context.Context, q Query) (*dataset.Dataset, error) {
	var parts []*dataset.Dataset
	for _, f := range b.files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ds, err := ncio.Decode(opener(f), q.Start, q.End)
		if err != nil {
			return nil, errors.Wrapf(err, "accessor: reading %s", f)
		}
		if ds.Time != nil && len(ds.Time) == 0 {
			continue
		}
		parts = append(parts, ds)
	}
	b.log.WithFields(logrus.Fields{"files": len(parts), "start": q.Start, "end": q.End}).Debug("opened files")
	if len(parts) == 0 {
		return nil, fmt.Errorf("accessor: source %s has no data between %v and %v", b.src.Key(), q.Start, q.End)
	}
	ds, err := dataset.Concat(parts...)
	if err != nil {
		return nil, err
	}
	if len(q.Variables) > 0 {
		if ds, err = ds.Select(q.Variables...); err != nil {
			return nil, errors.Wrapf(err, "accessor: source %s", b.src.Key())
		}
	}
	if len(q.Levels) > 0 {
		dim := q.LevelDim
		if dim == "" {
			for _, d := range levelDims {
				if _, ok := ds.Coord(d); ok {
					dim = d
					break
				}
			}
		}
		if dim == "" {
			return nil, fmt.Errorf("accessor: source %s has no vertical coordinate to select levels from", b.src.Key())
		}
		if ds, err = ds.SelCoord(dim, q.Levels); err != nil {
			return nil, errors.Wrapf(err, "accessor: source %s", b.src.Key())
		}
	}
	return ds, nil
}

// scan determines the time range and timestep of the files, unless
// they are declared by the source.
func (b *fileBackend) scan() {
	b.once.Do(func() {
		var times []time.Time
		for _, f := range b.files {
			ds, err := ncio.Decode(opener(f), time.Time{}, time.Time{})
			if err != nil {
				b.err = errors.Wrapf(err, "accessor: reading %s", f)
				return
			}
			times = append(times, ds.Time...)
		}
		var inferred Step
		if len(times) > 1 {
			inferred = Step{Duration: times[1].Sub(times[0])}
		}
		if b.step, b.err = declaredTimestep(b.src, inferred); b.err != nil {
			return
		}
		if b.start, b.end, b.err = declaredBounds(b.src, b.step); b.err != nil {
			return
		}
		if len(times) > 0 {
			if b.start.IsZero() {
				b.start = times[0]
			}
			if b.end.IsZero() {
				b.end = b.step.Add(times[len(times)-1])
				if b.step.IsZero() {
					b.end = times[len(times)-1].Add(time.Nanosecond)
				}
			}
		}
	})
}

// Bounds implements Backend.
func (b *fileBackend) Bounds(ctx context.Context) (time.Time, time.Time, error) {
	b.scan()
	return b.start, b.end, b.err
}

// Timestep implements Backend.
func (b *fileBackend) Timestep(ctx context.Context) (Step, error) {
	b.scan()
	return b.step, b.err
}
