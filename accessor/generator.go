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
	"time"

	"github.com/spatialmodel/aqua/catalog"
	"github.com/spatialmodel/aqua/dataset"
)

// generatorBackend produces data with a registered function.
type generatorBackend struct {
	src *catalog.Source
	f   GeneratorFunc
}

// Retrieve implements Backend.
func (b *generatorBackend) Retrieve(ctx context.Context, q Query) (*dataset.Dataset, error) {
	ds, err := b.f(ctx, b.src, q)
	if err != nil {
		return nil, fmt.Errorf("accessor: generator %s: %v", b.src.Args.Generator, err)
	}
	if ds.Time != nil {
		ds = ds.SelTime(q.Start, q.End)
	}
	if len(q.Variables) > 0 {
		return ds.Select(q.Variables...)
	}
	return ds, nil
}

// Bounds implements Backend.
func (b *generatorBackend) Bounds(ctx context.Context) (time.Time, time.Time, error) {
	step, err := b.Timestep(ctx)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return declaredBounds(b.src, step)
}

// Timestep implements Backend.
func (b *generatorBackend) Timestep(ctx context.Context) (Step, error) {
	return declaredTimestep(b.src, Step{})
}
