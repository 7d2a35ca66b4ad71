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
	"errors"
	"io"
	"io/ioutil"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/spatialmodel/aqua/accessor"
	"github.com/spatialmodel/aqua/catalog"
	"github.com/spatialmodel/aqua/dataset"
	"github.com/spatialmodel/aqua/internal/ncio"
	"github.com/spatialmodel/aqua/regrid"
	"gonum.org/v1/gonum/floats"
)

var epoch = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

func different(a, b, tolerance float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.IsNaN(a) != math.IsNaN(b)
	}
	if a == b {
		return false
	}
	return 2*math.Abs(a-b)/math.Abs(a+b) > tolerance
}

// rawDataset returns n hourly samples starting at start on a 2x2 grid.
// Temperature t has three pressure levels and is equal to the hours
// since epoch plus 1000 times the level index plus the cell index.
// Precipitation tp is 3.6 mm in every step, and acc accumulates 1 m
// per hour since epoch.
func rawDataset(start time.Time, n int) *dataset.Dataset {
	ds := dataset.New()
	ds.Time = make([]time.Time, n)
	for i := range ds.Time {
		ds.Time[i] = start.Add(time.Duration(i) * time.Hour)
	}
	ds.SetCoord(&dataset.Coord{Name: "plev", Values: []float64{100000, 85000, 50000}, Attrs: dataset.Attributes{"units": "Pa"}})
	ds.SetCoord(&dataset.Coord{Name: "lat", Values: []float64{-45, 45}, Attrs: dataset.Attributes{"units": "degrees_north"}})
	ds.SetCoord(&dataset.Coord{Name: "lon", Values: []float64{0, 180}, Attrs: dataset.Attributes{"units": "degrees_east"}})
	t := make([]float64, n*3*4)
	for i := range t {
		h := ds.Time[i/12].Sub(epoch).Hours()
		t[i] = h + 1000*float64(i/4%3) + float64(i%4)
	}
	ds.AddVar(dataset.FromArray("t", []string{"time", "plev", "lat", "lon"}, dataset.Wrap(t, n, 3, 2, 2),
		dataset.Attributes{"units": "K"}))
	tp := make([]float64, n*4)
	for i := range tp {
		tp[i] = 0.0036
	}
	ds.AddVar(dataset.FromArray("tp", []string{"time", "lat", "lon"}, dataset.Wrap(tp, n, 2, 2),
		dataset.Attributes{"units": "m"}))
	acc := make([]float64, n*4)
	for i := range acc {
		acc[i] = ds.Time[i/4].Sub(epoch).Hours() + 1
	}
	ds.AddVar(dataset.FromArray("acc", []string{"time", "lat", "lon"}, dataset.Wrap(acc, n, 2, 2),
		dataset.Attributes{"units": "m"}))
	return ds
}

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := ioutil.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

const testSources = `
sources:
  hourly:
    driver: file
    description: two days of hourly data
    args:
      urlpath: [data/*.nc]
    metadata:
      fixer_name: ifs-test
  ramp:
    driver: generator
    description: one day of generated hourly data
    args:
      generator: ramp
      data_start_date: "2020-01-01"
      data_end_date: "2020-01-01 23:00"
      timestep: h
`

const testFixers = `
fixer_name:
  ifs-test:
    vars:
      2t:
        source: t
        grib: true
      mtpr:
        source: tp
        grib: true
      tpd:
        source: acc
        decumulate: true
`

func ramp(ctx context.Context, src *catalog.Source, q accessor.Query) (*dataset.Dataset, error) {
	return rawDataset(epoch, 24), nil
}

// testEnv returns an environment with one catalog holding a file source
// with two days of data and a generator source with one day.
func testEnv(t *testing.T) (*Env, *test.Hook) {
	root, err := ioutil.TempDir("", "aqua")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(root) })

	writeFiles(t, filepath.Join(root, "catalogs", "test"), map[string]string{
		"catalog.yaml": `
models:
  IFS:
    description: IFS
    path: IFS/main.yaml
`,
		"IFS/main.yaml": `
experiments:
  hist:
    description: historical
    path: hist.yaml
`,
		"IFS/hist.yaml": testSources,
	})
	writeFiles(t, filepath.Join(root, "fixers"), map[string]string{"ifs.yaml": testFixers})
	data := filepath.Join(root, "catalogs", "test", "IFS", "data")
	if err := os.MkdirAll(data, 0755); err != nil {
		t.Fatal(err)
	}
	for d := 0; d < 2; d++ {
		start := epoch.AddDate(0, 0, d)
		b, err := ncio.Encode(rawDataset(start, 24))
		if err != nil {
			t.Fatal(err)
		}
		if err := ioutil.WriteFile(filepath.Join(data, start.Format("20060102")+".nc"), b, 0644); err != nil {
			t.Fatal(err)
		}
	}

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	env, err := NewEnv(context.Background(), &Config{
		CatalogDir: filepath.Join(root, "catalogs"),
		Fixers:     filepath.Join(root, "fixers"),
		Weights:    "file://" + filepath.Join(root, "weights"),
		Generators: map[string]accessor.GeneratorFunc{"ramp": ramp},
		Log:        logger,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { env.Close() })
	return env, hook
}

func values(t *testing.T, ds *dataset.Dataset, name string) []float64 {
	t.Helper()
	v, ok := ds.Var(name)
	if !ok {
		t.Fatalf("no variable %s in %v", name, ds.VarNames())
	}
	a, err := v.Values()
	if err != nil {
		t.Fatal(err)
	}
	return a.Elements
}

func TestRetrieve(t *testing.T) {
	env, _ := testEnv(t)
	ctx := context.Background()
	r, err := env.Open(ctx, Options{Model: "IFS", Exp: "hist", Source: "hourly"})
	if err != nil {
		t.Fatal(err)
	}
	ds, err := r.Retrieve(ctx, Request{Variables: []string{"2t", "mtpr"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(ds.Time) != 48 {
		t.Errorf("have %d times, want 48", len(ds.Time))
	}
	for _, raw := range []string{"t", "tp"} {
		if _, ok := ds.Var(raw); ok {
			t.Errorf("raw variable %s should have been renamed", raw)
		}
	}
	mtpr, _ := ds.Var("mtpr")
	if mtpr.Units() != "kg m**-2 s**-1" {
		t.Errorf("mtpr units: %s", mtpr.Units())
	}
	for i, v := range values(t, ds, "mtpr") {
		if different(v, 0.001, 1e-9) {
			t.Fatalf("mtpr[%d] = %g, want 0.001", i, v)
		}
	}
	t2, _ := ds.Var("2t")
	if id, _ := t2.Attrs.Float("paramId"); id != 167 {
		t.Errorf("2t paramId: %v", t2.Attrs["paramId"])
	}
	if ds.Attrs.String("fixer") != "ifs-test" {
		t.Errorf("fixer attribute: %v", ds.Attrs["fixer"])
	}

	ds, err = r.Retrieve(ctx, Request{Variables: []string{"2t"}, StartDate: "2020-01-01 06:00", EndDate: "2020-01-01 12:00"})
	if err != nil {
		t.Fatal(err)
	}
	if len(ds.Time) != 6 || !ds.Time[0].Equal(epoch.Add(6*time.Hour)) {
		t.Errorf("window: have %d times from %v", len(ds.Time), ds.Time)
	}
	if names := ds.VarNames(); len(names) != 1 || names[0] != "2t" {
		t.Errorf("variables: %v", names)
	}
}

func TestRetrieveNoFix(t *testing.T) {
	env, _ := testEnv(t)
	ctx := context.Background()
	r, err := env.Open(ctx, Options{Model: "IFS", Exp: "hist", Source: "hourly", NoFix: true})
	if err != nil {
		t.Fatal(err)
	}
	if r.Rule != nil {
		t.Error("no rule should be resolved when fixing is disabled")
	}
	ds, err := r.Retrieve(ctx, Request{Variables: []string{"tp"}})
	if err != nil {
		t.Fatal(err)
	}
	tp, _ := ds.Var("tp")
	if tp.Units() != "m" {
		t.Errorf("units: %s", tp.Units())
	}
}

func TestOpenErrors(t *testing.T) {
	env, _ := testEnv(t)
	ctx := context.Background()
	_, err := env.Open(ctx, Options{Model: "IFS", Exp: "hist", Source: "missing"})
	var nf *catalog.SourceNotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("have %v, want a SourceNotFoundError", err)
	}
	if _, err := env.Open(ctx, Options{Model: "IFS", Exp: "hist", Source: "hourly", Streaming: true, StreamGenerator: true}); err == nil {
		t.Error("streaming and generator modes should be exclusive")
	}
	if _, err := env.Open(ctx, Options{Model: "IFS", Exp: "hist", Source: "hourly", StartDate: "yesterday"}); err == nil {
		t.Error("expected an error for an invalid date")
	}
}

func TestDefaultFixerWarning(t *testing.T) {
	env, hook := testEnv(t)
	if _, err := env.Open(context.Background(), Options{Model: "IFS", Exp: "hist", Source: "ramp"}); err != nil {
		t.Fatal(err)
	}
	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Data["model"] == "IFS" {
			warned = true
		}
	}
	if !warned {
		t.Error("a missing fixer rule should be logged")
	}
}

func TestStreamingReader(t *testing.T) {
	env, _ := testEnv(t)
	ctx := context.Background()
	r, err := env.Open(ctx, Options{Model: "IFS", Exp: "hist", Source: "hourly", Streaming: true, Aggregation: "D"})
	if err != nil {
		t.Fatal(err)
	}
	if r.State() != accessor.Idle {
		t.Errorf("state %v, want Idle", r.State())
	}
	var first *dataset.Dataset
	for i := 0; i < 2; i++ {
		ds, err := r.Retrieve(ctx, Request{Variables: []string{"2t"}})
		if err != nil {
			t.Fatal(err)
		}
		if i == 0 {
			first = ds
		}
		want := epoch.AddDate(0, 0, i)
		if len(ds.Time) != 24 || !ds.Time[0].Equal(want) {
			t.Errorf("chunk %d: have %d times from %v, want 24 from %v", i, len(ds.Time), ds.Time[0], want)
		}
		if r.State() != accessor.Active {
			t.Errorf("chunk %d: state %v", i, r.State())
		}
	}
	_, err = r.Retrieve(ctx, Request{Variables: []string{"2t"}})
	var se *accessor.StreamExhaustedError
	if !errors.As(err, &se) {
		t.Fatalf("have %v, want StreamExhaustedError", err)
	}
	if r.State() != accessor.Exhausted {
		t.Errorf("state %v, want Exhausted", r.State())
	}

	r.Reset()
	again, err := r.Retrieve(ctx, Request{Variables: []string{"2t"}})
	if err != nil {
		t.Fatal(err)
	}
	a, b := values(t, first, "2t"), values(t, again, "2t")
	if len(a) != len(b) {
		t.Fatalf("lengths differ: %d, %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("value %d differs after reset: %g, %g", i, a[i], b[i])
		}
	}
}

func TestStreamingDecumulation(t *testing.T) {
	env, _ := testEnv(t)
	ctx := context.Background()
	src := Options{Model: "IFS", Exp: "hist", Source: "hourly"}
	bulkReader, err := env.Open(ctx, src)
	if err != nil {
		t.Fatal(err)
	}
	bulk, err := bulkReader.Retrieve(ctx, Request{Variables: []string{"tpd"}})
	if err != nil {
		t.Fatal(err)
	}
	want := values(t, bulk, "tpd")

	src.Streaming, src.Aggregation = true, "D"
	r, err := env.Open(ctx, src)
	if err != nil {
		t.Fatal(err)
	}
	var have []float64
	for i := 0; i < 2; i++ {
		ds, err := r.Retrieve(ctx, Request{Variables: []string{"tpd"}})
		if err != nil {
			t.Fatal(err)
		}
		if len(ds.Time) != 24 {
			t.Fatalf("chunk %d: have %d times, want 24", i, len(ds.Time))
		}
		have = append(have, values(t, ds, "tpd")...)
	}
	if len(have) != len(want) {
		t.Fatalf("have %d values, want %d", len(have), len(want))
	}
	for i := range want {
		if different(have[i], want[i], 1e-12) {
			t.Errorf("%d: streamed %g, bulk %g", i, have[i], want[i])
		}
	}
	// Only the first sample of the source has no previous value.
	if !math.IsNaN(have[0]) || have[24*4] != 1 {
		t.Errorf("chunk boundaries: %g, %g", have[0], have[24*4])
	}
}

func TestGeneratorReader(t *testing.T) {
	env, _ := testEnv(t)
	ctx := context.Background()
	r, err := env.Open(ctx, Options{Model: "IFS", Exp: "hist", Source: "ramp", StreamGenerator: true, Aggregation: "6h"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Retrieve(ctx, Request{}); err == nil {
		t.Error("Retrieve should fail in generator mode")
	}
	seq, err := r.Generator(ctx, Request{Variables: []string{"t"}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Generator(ctx, Request{}); err == nil {
		t.Error("a second sequence should not be available before Reset")
	}
	var n int
	for {
		ds, err := seq.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		if len(ds.Time) != 6 || !ds.Time[0].Equal(epoch.Add(time.Duration(6*n)*time.Hour)) {
			t.Errorf("chunk %d: %d times from %v", n, len(ds.Time), ds.Time)
		}
		n++
	}
	if n != 4 {
		t.Errorf("have %d chunks, want 4", n)
	}
	r.Reset()
	if _, err := r.Generator(ctx, Request{}); err != nil {
		t.Errorf("after Reset: %v", err)
	}
}

func TestRegridPreservesMean(t *testing.T) {
	env, _ := testEnv(t)
	ctx := context.Background()
	open := func() *Reader {
		r, err := env.Open(ctx, Options{Model: "IFS", Exp: "hist", Source: "hourly", Regrid: "r4x2"})
		if err != nil {
			t.Fatal(err)
		}
		return r
	}
	r := open()
	ds, err := r.Retrieve(ctx, Request{Variables: []string{"2t"}, EndDate: "2020-01-01 02:00"})
	if err != nil {
		t.Fatal(err)
	}
	out, err := r.Regrid(ctx, ds)
	if err != nil {
		t.Fatal(err)
	}
	v, _ := out.Var("2t")
	if want := []int{2, 3, 2, 4}; len(v.Shape) != 4 || v.Shape[2] != want[2] || v.Shape[3] != want[3] {
		t.Errorf("regridded shape %v, want %v", v.Shape, want)
	}
	if out.Attrs.String(RegridAttr) != "r4x2" {
		t.Errorf("regrid attribute: %v", out.Attrs[RegridAttr])
	}

	before, err := r.FldMean(ctx, ds)
	if err != nil {
		t.Fatal(err)
	}
	after, err := r.FldMean(ctx, out)
	if err != nil {
		t.Fatal(err)
	}
	b, a := values(t, before, "2t"), values(t, after, "2t")
	if len(b) != 6 || len(a) != 6 {
		t.Fatalf("field means have %d and %d values, want 6", len(b), len(a))
	}
	for i := range b {
		if different(a[i], b[i], 1e-9) {
			t.Errorf("%d: mean before %g, after %g", i, b[i], a[i])
		}
	}

	// A second reader of the same source uses the cached weights.
	r2 := open()
	if _, err := r2.Regrid(ctx, ds); err != nil {
		t.Fatal(err)
	}
	if n := env.Weights.Generated(); n != 1 {
		t.Errorf("weights generated %d times, want 1", n)
	}
}

func TestRegridWithoutTarget(t *testing.T) {
	env, _ := testEnv(t)
	ctx := context.Background()
	r, err := env.Open(ctx, Options{Model: "IFS", Exp: "hist", Source: "hourly"})
	if err != nil {
		t.Fatal(err)
	}
	ds, err := r.Retrieve(ctx, Request{Variables: []string{"2t"}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Regrid(ctx, ds); err == nil {
		t.Error("expected an error")
	}
}

func TestAreas(t *testing.T) {
	env, _ := testEnv(t)
	ctx := context.Background()
	r, err := env.Open(ctx, Options{Model: "IFS", Exp: "hist", Source: "hourly"})
	if err != nil {
		t.Fatal(err)
	}
	ds, err := r.Retrieve(ctx, Request{Variables: []string{"2t"}})
	if err != nil {
		t.Fatal(err)
	}
	a, err := r.Areas(ctx, ds)
	if err != nil {
		t.Fatal(err)
	}
	again, err := r.Areas(ctx, ds)
	if err != nil {
		t.Fatal(err)
	}
	if a != again {
		t.Error("areas should be computed once per reader")
	}
	av, err := a.Values()
	if err != nil {
		t.Fatal(err)
	}
	if sum, want := floats.Sum(av.Elements), 4*math.Pi*regrid.EarthRadius*regrid.EarthRadius; different(sum, want, 1e-9) {
		t.Errorf("total area %g, want %g", sum, want)
	}
}

func TestVertInterp(t *testing.T) {
	env, _ := testEnv(t)
	ctx := context.Background()
	r, err := env.Open(ctx, Options{Model: "IFS", Exp: "hist", Source: "hourly"})
	if err != nil {
		t.Fatal(err)
	}
	ds, err := r.Retrieve(ctx, Request{Variables: []string{"2t", "mtpr"}, EndDate: "2020-01-01 01:00"})
	if err != nil {
		t.Fatal(err)
	}
	out, err := r.VertInterp(ds, "2t", []float64{830, 835}, "hPa", "linear")
	if err != nil {
		t.Fatal(err)
	}
	if names := out.VarNames(); len(names) != 1 {
		t.Errorf("variables: %v", names)
	}
	c, _ := out.Coord("plev")
	if len(c.Values) != 2 || c.Values[0] != 83000 || c.Values[1] != 83500 {
		t.Errorf("levels: %v", c.Values)
	}
	// At the first time and cell the source has 1000 at 850 hPa and
	// 2000 at 500 hPa.
	got := values(t, out, "2t")
	want := []float64{1000 + 2000./35, 1000 + 1500./35}
	for i, w := range want {
		if different(got[i*4], w, 1e-9) {
			t.Errorf("level %d: have %g, want %g", i, got[i*4], w)
		}
	}

	_, err = r.VertInterp(ds, "2t", []float64{1100}, "hPa", "linear")
	var lr *regrid.LevelOutOfRangeError
	if !errors.As(err, &lr) {
		t.Errorf("have %v, want LevelOutOfRangeError", err)
	}
	if _, err := r.VertInterp(ds, "mtpr", []float64{850}, "hPa", ""); err == nil {
		t.Error("expected an error for a variable without levels")
	}
}
