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

// Package accessor retrieves raw datasets from files, remote archives
// and registered generator functions, and steps through them in
// time-ordered chunks.
package accessor

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/aqua/catalog"
	"github.com/spatialmodel/aqua/dataset"
)

// Query selects part of a source.
type Query struct {
	// Variables lists the variables to retrieve. If empty, all variables
	// are retrieved, which is not allowed for archive sources without a
	// declared variable list.
	Variables []string

	// Start and End bound the times to retrieve: [Start, End). Zero
	// values leave that side unbounded.
	Start, End time.Time

	// Levels, if not empty, selects vertical levels. LevelDim names the
	// vertical dimension of file sources; common names are tried if it
	// is empty.
	Levels   []float64
	LevelDim string
}

// Backend retrieves data for one source.
type Backend interface {
	// Retrieve returns a lazy dataset holding the data selected by q.
	Retrieve(ctx context.Context, q Query) (*dataset.Dataset, error)

	// Bounds returns the time range [start, end) spanned by the source.
	Bounds(ctx context.Context) (start, end time.Time, err error)

	// Timestep returns the interval between samples.
	Timestep(ctx context.Context) (Step, error)
}

// GeneratorFunc produces the data of a GENERATOR source. The
// parameters of the generator are in src.Args.Options.
type GeneratorFunc func(ctx context.Context, src *catalog.Source, q Query) (*dataset.Dataset, error)

// Options configure the backends.
type Options struct {
	// Archive serves ARCHIVE sources.
	Archive Client

	// Generators holds the functions available to GENERATOR sources.
	Generators map[string]GeneratorFunc

	Log logrus.FieldLogger
}

// New returns the backend for src.
func New(src *catalog.Source, opts Options) (Backend, error) {
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	log := opts.Log.WithField("source", src.Key())
	switch src.Driver {
	case catalog.File:
		return newFileBackend(src, log)
	case catalog.Archive:
		if opts.Archive == nil {
			return nil, fmt.Errorf("accessor: source %s needs an archive client but none is configured", src.Key())
		}
		return newArchiveBackend(src, opts.Archive, log)
	case catalog.Generator:
		f, ok := opts.Generators[src.Args.Generator]
		if !ok {
			return nil, fmt.Errorf("accessor: source %s uses unknown generator %q", src.Key(), src.Args.Generator)
		}
		return &generatorBackend{src: src, f: f}, nil
	default:
		return nil, fmt.Errorf("accessor: source %s has unsupported driver %v", src.Key(), src.Driver)
	}
}

// declaredBounds returns the bounds declared by src, with the end
// moved one timestep past the last declared sample.
func declaredBounds(src *catalog.Source, step Step) (start, end time.Time, err error) {
	start, end, err = src.Bounds()
	if err != nil {
		return
	}
	if !end.IsZero() {
		end = step.Add(end)
	}
	return
}

// declaredTimestep parses the timestep of src, falling back to its save
// frequency, or returns def if neither is declared.
func declaredTimestep(src *catalog.Source, def Step) (Step, error) {
	ts := src.Args.Timestep
	if ts == "" {
		ts = src.Args.SaveFreq
	}
	if ts == "" {
		return def, nil
	}
	s, err := ParseStep(ts, Step{})
	if err != nil {
		return Step{}, fmt.Errorf("accessor: source %s: %v", src.Key(), err)
	}
	return s, nil
}
