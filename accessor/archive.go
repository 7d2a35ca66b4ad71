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
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ctessum/sparse"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/aqua/catalog"
	"github.com/spatialmodel/aqua/dataset"
)

// DefaultChunkBytes is the size budget of one archive request when the
// source does not declare chunk_bytes.
const DefaultChunkBytes = 256 << 20

// Time styles of archive requests.
const (
	// DateStyle requests list the dates and times of the samples.
	DateStyle = "date"
	// StepStyle requests list hours since the start of the source.
	StepStyle = "step"
)

// archiveBackend retrieves data from a remote archive in chunks.
type archiveBackend struct {
	src    *catalog.Source
	client Client
	log    logrus.FieldLogger

	step       Step
	start, end time.Time
	style      string
	chunkBytes int64
}

func newArchiveBackend(src *catalog.Source, client Client, log logrus.FieldLogger) (*archiveBackend, error) {
	b := &archiveBackend{src: src, client: client, log: log, style: src.Args.TimeStyle, chunkBytes: src.Args.ChunkBytes}
	var err error
	if b.step, err = declaredTimestep(src, Step{Duration: time.Hour}); err != nil {
		return nil, err
	}
	if b.start, b.end, err = declaredBounds(src, b.step); err != nil {
		return nil, err
	}
	if b.start.IsZero() || b.end.IsZero() {
		return nil, fmt.Errorf("accessor: archive source %s must declare data_start_date and data_end_date", src.Key())
	}
	switch b.style {
	case "":
		b.style = DateStyle
	case DateStyle, StepStyle:
	default:
		return nil, fmt.Errorf("accessor: source %s has invalid timestyle %q", src.Key(), b.style)
	}
	if b.chunkBytes <= 0 {
		b.chunkBytes = DefaultChunkBytes
	}
	return b, nil
}

// Bounds implements Backend.
func (b *archiveBackend) Bounds(ctx context.Context) (time.Time, time.Time, error) {
	return b.start, b.end, nil
}

// Timestep implements Backend.
func (b *archiveBackend) Timestep(ctx context.Context) (Step, error) { return b.step, nil }

// times returns the sample times of the source in [start, end).
func (b *archiveBackend) times(start, end time.Time) []time.Time {
	if end.IsZero() || end.After(b.end) {
		end = b.end
	}
	var o []time.Time
	for i := 0; ; i++ {
		var t time.Time
		if b.step.Months != 0 {
			t = b.start.AddDate(0, i*b.step.Months, 0)
		} else {
			t = b.start.Add(time.Duration(i) * b.step.Duration)
		}
		if !t.Before(end) {
			return o
		}
		if start.IsZero() || !t.Before(start) {
			o = append(o, t)
		}
	}
}

func join(vals []string) string { return strings.Join(vals, "/") }

// request builds the archive request for vars at times.
func (b *archiveBackend) request(vars []string, times []time.Time, levels []float64) *Request {
	f := make(map[string]interface{}, len(b.src.Args.Request)+4)
	for k, v := range b.src.Args.Request {
		f[k] = v
	}
	f["param"] = join(vars)
	switch b.style {
	case StepStyle:
		base := time.Date(b.start.Year(), b.start.Month(), b.start.Day(), 0, 0, 0, 0, time.UTC)
		steps := make([]string, len(times))
		for i, t := range times {
			steps[i] = strconv.Itoa(int(t.Sub(base) / time.Hour))
		}
		f["date"] = base.Format("20060102")
		f["time"] = "0000"
		f["step"] = join(steps)
	default:
		var dates, hours []string
		seenDate, seenHour := make(map[string]bool), make(map[string]bool)
		for _, t := range times {
			if d := t.Format("20060102"); !seenDate[d] {
				seenDate[d] = true
				dates = append(dates, d)
			}
			if h := t.Format("1504"); !seenHour[h] {
				seenHour[h] = true
				hours = append(hours, h)
			}
		}
		f["date"] = join(dates)
		f["time"] = join(hours)
	}
	if len(levels) > 0 {
		l := make([]string, len(levels))
		for i, v := range levels {
			l[i] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		f["levelist"] = join(l)
	}
	return &Request{Fields: f, Config: b.src.Metadata.FDBPath}
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

// chunks splits times into groups of at most n samples. With the date
// style, a group either lies within one day or consists of whole days,
// so that every request is the product of its dates and times.
func (b *archiveBackend) chunks(times []time.Time, n int) [][]time.Time {
	if n < 1 {
		n = 1
	}
	split := func(t []time.Time, n int) [][]time.Time {
		var o [][]time.Time
		for len(t) > n {
			o = append(o, t[:n])
			t = t[n:]
		}
		return append(o, t)
	}
	if b.style != DateStyle {
		return split(times, n)
	}
	var days [][]time.Time
	for i, t := range times {
		if i == 0 || !sameDay(times[i-1], t) {
			days = append(days, nil)
		}
		days[len(days)-1] = append(days[len(days)-1], t)
	}
	perDay := 1
	if b.step.Months == 0 && b.step.Duration > 0 && b.step.Duration < 24*time.Hour {
		perDay = int(24 * time.Hour / b.step.Duration)
	}
	var o [][]time.Time
	if n < perDay {
		for _, d := range days {
			o = append(o, split(d, n)...)
		}
		return o
	}
	k := n / perDay
	for len(days) > 0 {
		m := k
		if m > len(days) {
			m = len(days)
		}
		var c []time.Time
		for _, d := range days[:m] {
			c = append(c, d...)
		}
		o = append(o, c)
		days = days[m:]
	}
	return o
}

// chunk is one archive request shared by all variables.
type chunk struct {
	times []time.Time
	once  sync.Once
	ds    *dataset.Dataset
	err   error
}

func (b *archiveBackend) fetch(ctx context.Context, c *chunk, vars []string, levels []float64) (*dataset.Dataset, error) {
	c.once.Do(func() {
		b.log.WithFields(logrus.Fields{"start": c.times[0], "samples": len(c.times)}).Debug("requesting chunk")
		c.ds, c.err = b.client.Retrieve(ctx, b.request(vars, c.times, levels))
		if c.err == nil && len(c.ds.Time) != len(c.times) {
			c.err = fmt.Errorf("accessor: archive returned %d times for a request of %d", len(c.ds.Time), len(c.times))
		}
	})
	return c.ds, c.err
}

// Retrieve implements Backend. A request for the first sample
// determines the layout of the data; the rest is requested in chunks
// when values are needed. Levels are selected by the archive. ctx only
// bounds the first request: deferred chunk requests run when values are
// read, after Retrieve has returned, and are not cancelled with ctx.
func (b *archiveBackend) Retrieve(ctx context.Context, q Query) (*dataset.Dataset, error) {
	vars := q.Variables
	if len(vars) == 0 {
		vars = b.src.Metadata.Variables
	}
	if len(vars) == 0 {
		return nil, fmt.Errorf("accessor: archive source %s needs a variable selection", b.src.Key())
	}
	times := b.times(q.Start, q.End)
	if len(times) == 0 {
		return nil, fmt.Errorf("accessor: source %s has no data between %v and %v", b.src.Key(), q.Start, q.End)
	}

	head := &chunk{times: times[:1]}
	tmpl, err := b.fetch(ctx, head, vars, q.Levels)
	if err != nil {
		return nil, err
	}
	record := 0
	for _, name := range vars {
		v, ok := tmpl.Var(name)
		if !ok {
			return nil, fmt.Errorf("accessor: archive response for %s has no variable %q; it has %v",
				b.src.Key(), name, tmpl.VarNames())
		}
		if v.DimIndex(tmpl.TimeDim) < 0 {
			return nil, fmt.Errorf("accessor: archive variable %q has no time dimension", name)
		}
		record += v.Size() * 8
	}
	if g := b.src.Metadata.GridSize; g > 0 {
		nlev := len(q.Levels)
		if nlev == 0 {
			nlev = len(b.src.Metadata.Levels)
		}
		if nlev == 0 {
			nlev = 1
		}
		record = len(vars) * nlev * g * 8
	}

	parts := b.chunks(times, int(b.chunkBytes/int64(record)))
	chunks := make([]*chunk, len(parts))
	for i, p := range parts {
		chunks[i] = &chunk{times: p}
	}
	if len(parts[0]) == 1 {
		chunks[0] = head
	}
	b.log.WithFields(logrus.Fields{"samples": len(times), "chunks": len(chunks), "style": b.style}).Info("prepared archive retrieval")

	ds := tmpl.Copy()
	ds.Time = times
	ds.Vars = make(map[string]*dataset.Variable, len(vars))
	for _, name := range vars {
		v := tmpl.Vars[name]
		axis := v.DimIndex(tmpl.TimeDim)
		shape := append([]int(nil), v.Shape...)
		shape[axis] = len(times)
		name := name
		ds.AddVar(dataset.NewVariable(name, v.Dims, shape, v.Attrs.Clone(), func() (*sparse.DenseArray, error) {
			arrays := make([]*sparse.DenseArray, len(chunks))
			for i, c := range chunks {
				cds, err := b.fetch(context.Background(), c, vars, q.Levels)
				if err != nil {
					return nil, err
				}
				cv, ok := cds.Var(name)
				if !ok {
					return nil, fmt.Errorf("accessor: archive response has no variable %q", name)
				}
				if arrays[i], err = cv.Values(); err != nil {
					return nil, err
				}
			}
			if len(arrays) == 1 {
				return arrays[0], nil
			}
			return dataset.ConcatArrays(axis, arrays...)
		}))
	}
	return ds, nil
}
