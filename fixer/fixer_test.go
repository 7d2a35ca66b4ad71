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
	"errors"
	"io/ioutil"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/spatialmodel/aqua/dataset"
	"github.com/spatialmodel/aqua/units"
)

func different(a, b, tolerance float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.IsNaN(a) != math.IsNaN(b)
	}
	if a == b {
		return false
	}
	return 2*math.Abs(a-b)/math.Abs(a+b) > tolerance
}

func testEngine() (*Engine, *test.Hook) {
	e := NewEngine()
	logger, hook := test.NewNullLogger()
	e.Log = logger
	return e, hook
}

// surfaceDataset returns a dataset with one variable on a (time, lat,
// lon) grid with two points and the given times.
func surfaceDataset(name, unitsAttr string, times []time.Time, vals []float64) *dataset.Dataset {
	ds := dataset.New()
	ds.Time = times
	ds.SetCoord(&dataset.Coord{Name: "lat", Values: []float64{-10},
		Attrs: dataset.Attributes{"units": "degrees_north"}})
	ds.SetCoord(&dataset.Coord{Name: "lon", Values: []float64{0, 10},
		Attrs: dataset.Attributes{"units": "degrees_east"}})
	attrs := dataset.Attributes{}
	if unitsAttr != "" {
		attrs["units"] = unitsAttr
	}
	ds.AddVar(dataset.FromArray(name, []string{"time", "lat", "lon"},
		dataset.Wrap(vals, len(times), 1, 2), attrs))
	return ds
}

func hourly(start time.Time, n int) []time.Time {
	t := make([]time.Time, n)
	for i := range t {
		t[i] = start.Add(time.Duration(i) * time.Hour)
	}
	return t
}

func values(t *testing.T, ds *dataset.Dataset, name string) []float64 {
	t.Helper()
	v, ok := ds.Var(name)
	if !ok {
		t.Fatalf("variable %s missing; have %v", name, ds.VarNames())
	}
	a, err := v.Values()
	if err != nil {
		t.Fatal(err)
	}
	return a.Elements
}

func TestRenameRoundTrip(t *testing.T) {
	e, _ := testEngine()
	times := hourly(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), 2)
	ds := surfaceDataset("2t", "K", times, []float64{280, 281, 282, 283})
	r := &Rule{Name: "rename", Vars: map[string]VarRule{"tas": {Source: "2t"}}}

	out, err := e.Apply(ds, r, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := out.Var("2t"); ok {
		t.Error("renamed source should be dropped")
	}
	want := values(t, ds, "2t")
	if got := values(t, out, "tas"); !reflect.DeepEqual(got, want) {
		t.Errorf("values: have %v, want %v", got, want)
	}
	in, _ := ds.Var("2t")
	res, _ := out.Var("tas")
	if !reflect.DeepEqual(map[string]interface{}(res.Attrs), map[string]interface{}(in.Attrs)) {
		t.Errorf("attributes: have %v, want %v", res.Attrs, in.Attrs)
	}
	if _, ok := ds.Var("tas"); ok {
		t.Error("input dataset was modified")
	}
	if out.Attrs.String("fixer") != "rename" {
		t.Errorf("fixer attribute: %v", out.Attrs)
	}
}

func TestMissingSourceSkipped(t *testing.T) {
	e, _ := testEngine()
	ds := surfaceDataset("2t", "K", hourly(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), 1), []float64{1, 2})
	r := &Rule{Name: "r", Vars: map[string]VarRule{"pr": {Source: "tp"}}}
	out, err := e.Apply(ds, r, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := out.Var("pr"); ok {
		t.Error("variable without a source should be skipped")
	}
	if _, ok := out.Var("2t"); !ok {
		t.Error("untouched variable should be kept")
	}
}

func TestPrecipitationRate(t *testing.T) {
	e, hook := testEngine()
	times := hourly(time.Date(2020, 1, 31, 22, 0, 0, 0, time.UTC), 4)
	// Accumulations in m, reset at the start of February.
	acc := []float64{
		0.001, 0.002,
		0.003, 0.006,
		0.0005, 0.001,
		0.0015, 0.003,
	}
	ds := surfaceDataset("tp", "m", times, acc)
	r := &Rule{Name: "IFS-default", Vars: map[string]VarRule{
		"mtpr": {Source: "tp", Grib: true, Decumulate: true, Jump: "month"},
	}}
	out, err := e.Apply(ds, r, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	f := 1000.0 / 3600
	want := []float64{
		math.NaN(), math.NaN(),
		0.002 * f, 0.004 * f,
		0.0005 * f, 0.001 * f,
		0.001 * f, 0.002 * f,
	}
	got := values(t, out, "mtpr")
	for i := range want {
		if different(got[i], want[i], 1e-9) {
			t.Errorf("%d: have %g, want %g", i, got[i], want[i])
		}
	}
	v, _ := out.Var("mtpr")
	if v.Units() != "kg m**-2 s**-1" {
		t.Errorf("units: %s", v.Units())
	}
	if id, _ := v.Attrs.Float("paramId"); id != 235055 {
		t.Errorf("paramId: %v", v.Attrs["paramId"])
	}
	var logged bool
	for _, entry := range hook.AllEntries() {
		if h, ok := entry.Data["heuristic"]; ok && h == units.HeuristicWaterDensity+", "+units.HeuristicTimestep {
			logged = true
		}
	}
	if !logged {
		t.Error("heuristic conversion was not logged")
	}
}

func TestDecumulateFirstSampleAfterReset(t *testing.T) {
	times := hourly(time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC), 3)
	v := dataset.FromArray("x", []string{"time"}, dataset.Wrap([]float64{2, 5, 9}, 3), nil)
	out := decumulate(v, 0, times, time.Hour, "month")
	a, err := out.Values()
	if err != nil {
		t.Fatal(err)
	}
	if want := []float64{2, 3, 4}; !reflect.DeepEqual(a.Elements, want) {
		t.Errorf("have %v, want %v", a.Elements, want)
	}
}

func TestDecumulateReconstructs(t *testing.T) {
	// Summing the increments since the last reset recovers the
	// accumulated field.
	start := time.Date(2021, 2, 27, 0, 0, 0, 0, time.UTC)
	n := 6
	times := make([]time.Time, n)
	acc := make([]float64, n)
	total := 0.
	for i := range times {
		times[i] = start.Add(time.Duration(i) * 12 * time.Hour)
		if i > 0 && times[i].Month() != times[i-1].Month() {
			total = 0
		}
		total += float64(i + 1)
		acc[i] = total
	}
	v := dataset.FromArray("x", []string{"time"}, dataset.Wrap(acc, n), nil)
	a, err := decumulate(v, 0, times, 12*time.Hour, "month").Values()
	if err != nil {
		t.Fatal(err)
	}
	sum := acc[0]
	for i := 1; i < n; i++ {
		if resetBoundary(times[i-1], times[i], "month") {
			sum = 0
		}
		sum += a.Elements[i]
		if different(sum, acc[i], 1e-12) {
			t.Errorf("%d: reconstructed %g, want %g", i, sum, acc[i])
		}
	}
}

func TestDerived(t *testing.T) {
	e, _ := testEngine()
	ds := surfaceDataset("sp", "Pa", hourly(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), 1), []float64{100000, 101000})
	r := &Rule{Name: "d", Vars: map[string]VarRule{
		"sphpa": {Derived: "sp / 100", SrcUnits: "hPa"},
	}}
	out, err := e.Apply(ds, r, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := values(t, out, "sphpa"), []float64{1000, 1010}; !reflect.DeepEqual(got, want) {
		t.Errorf("have %v, want %v", got, want)
	}
	if v, _ := out.Var("sphpa"); v.Units() != "hPa" {
		t.Errorf("units: %s", v.Units())
	}
	if _, ok := out.Var("sp"); !ok {
		t.Error("formula input should be kept")
	}
}

func TestDerivedUnknownVariable(t *testing.T) {
	e, _ := testEngine()
	ds := surfaceDataset("sp", "Pa", hourly(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), 1), []float64{1, 2})
	r := &Rule{Name: "d", Vars: map[string]VarRule{"x": {Derived: "foo + 1"}}}
	_, err := e.Apply(ds, r, 0)
	var fe *FixerRuleError
	if !errors.As(err, &fe) {
		t.Fatalf("have %v, want FixerRuleError", err)
	}
	if fe.Variable != "x" {
		t.Errorf("variable: %s", fe.Variable)
	}
}

func TestDerivedFromRenamedRaw(t *testing.T) {
	e, _ := testEngine()
	ds := surfaceDataset("2t", "K", hourly(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), 1), []float64{273.15, 283.15})
	r := &Rule{Name: "d", Vars: map[string]VarRule{
		"tas": {Source: "2t"},
		"tc":  {Derived: "[2t] - 273.15"},
	}}
	out, err := e.Apply(ds, r, 0)
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range []float64{0, 10} {
		if have := values(t, out, "tc")[i]; math.Abs(have-want) > 1e-9 {
			t.Errorf("tc[%d]: have %g, want %g", i, have, want)
		}
	}
	if got := values(t, out, "tas"); !reflect.DeepEqual(got, []float64{273.15, 283.15}) {
		t.Errorf("tas: %v", got)
	}
	if _, ok := out.Var("2t"); ok {
		t.Error("renamed source should be dropped")
	}
}

func TestApplyRejectsUnresolvedRules(t *testing.T) {
	e, _ := testEngine()
	ds := surfaceDataset("a", "", hourly(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), 1), []float64{1000, 1010})
	for name, r := range map[string]*Rule{
		"derived of derived": {Name: "d", Vars: map[string]VarRule{
			"a2": {Derived: "a * 2"},
			"b":  {Derived: "a2 * 2"},
		}},
		"parent": {Name: "c", Parent: "base", Vars: map[string]VarRule{"x": {Source: "a"}}},
	} {
		_, err := e.Apply(ds, r, 0)
		var fe *FixerRuleError
		if !errors.As(err, &fe) {
			t.Errorf("%s: have %v, want FixerRuleError", name, err)
		}
	}
}

func TestMissingSourceUnits(t *testing.T) {
	e, _ := testEngine()
	ds := surfaceDataset("2t", "", hourly(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), 1), []float64{1, 2})
	r := &Rule{Name: "u", Vars: map[string]VarRule{"tas": {Source: "2t", Units: "K"}}}
	_, err := e.Apply(ds, r, 0)
	var ue *units.UnitConversionError
	if !errors.As(err, &ue) {
		t.Fatalf("have %v, want UnitConversionError", err)
	}
	if ue.Variable != "tas" || ue.Rule != "u" {
		t.Errorf("error location: %+v", ue)
	}
}

func TestMinDate(t *testing.T) {
	e, _ := testEngine()
	times := []time.Time{
		time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2020, 1, 3, 0, 0, 0, 0, time.UTC),
	}
	ds := surfaceDataset("sst", "K", times, []float64{1, 2, 3, 4, 5, 6})
	r := &Rule{Name: "m", Vars: map[string]VarRule{"sst": {MinDate: "2020-01-02"}}}
	out, err := e.Apply(ds, r, 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	got := values(t, out, "sst")
	want := []float64{math.NaN(), math.NaN(), 3, 4, 5, 6}
	for i := range want {
		if different(got[i], want[i], 0) {
			t.Errorf("%d: have %g, want %g", i, got[i], want[i])
		}
	}
}

func TestDataModel(t *testing.T) {
	e, _ := testEngine()
	ds := dataset.New()
	ds.SetCoord(&dataset.Coord{Name: "isobaricInhPa", Values: []float64{500, 850},
		Attrs: dataset.Attributes{"units": "hPa"}})
	ds.SetCoord(&dataset.Coord{Name: "latitude", Values: []float64{10, -10},
		Attrs: dataset.Attributes{"units": "degrees_north"}})
	ds.AddVar(dataset.FromArray("t", []string{"isobaricInhPa", "latitude"},
		dataset.Wrap([]float64{1, 2, 3, 4}, 2, 2), dataset.Attributes{"units": "K"}))

	out, err := e.Apply(ds, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	plev, ok := out.Coord("plev")
	if !ok {
		t.Fatal("missing plev")
	}
	for i, want := range []float64{85000, 50000} {
		if different(plev.Values[i], want, 1e-12) {
			t.Errorf("plev: have %v, want %v", plev.Values, want)
		}
	}
	if plev.Units() != "Pa" {
		t.Errorf("plev units: %s", plev.Units())
	}
	lat, ok := out.Coord("lat")
	if !ok {
		t.Fatal("missing lat")
	}
	if want := []float64{-10, 10}; !reflect.DeepEqual(lat.Values, want) {
		t.Errorf("lat: have %v, want %v", lat.Values, want)
	}
	v, _ := out.Var("t")
	if want := []string{"plev", "lat"}; !reflect.DeepEqual(v.Dims, want) {
		t.Errorf("dims: have %v, want %v", v.Dims, want)
	}
	if got, want := values(t, out, "t"), []float64{4, 3, 2, 1}; !reflect.DeepEqual(got, want) {
		t.Errorf("values: have %v, want %v", got, want)
	}
	if _, ok := ds.Coord("plev"); ok {
		t.Error("input dataset was modified")
	}
}

func TestMerge(t *testing.T) {
	s := NewStore()
	s.Add(&Rule{Name: "base", DeltaT: 3600, Vars: map[string]VarRule{
		"tas": {Source: "2t", Units: "K"},
		"psl": {Source: "msl"},
	}, Delete: []string{"a"}})
	s.Add(&Rule{Name: "child", Parent: "base", Vars: map[string]VarRule{
		"tas": {Source: "t2m"},
		"pr":  {Source: "tp"},
	}, Delete: []string{"b", "a"}})
	s.Add(&Rule{Name: "grandchild", Parent: "child"})

	r, err := s.Rule("child")
	if err != nil {
		t.Fatal(err)
	}
	if r.Vars["tas"].Source != "t2m" || r.Vars["tas"].Units != "" {
		t.Errorf("child entry should replace parent entry: %+v", r.Vars["tas"])
	}
	if _, ok := r.Vars["psl"]; !ok {
		t.Error("parent entry not inherited")
	}
	if r.DeltaT != 3600 {
		t.Errorf("deltat: %g", r.DeltaT)
	}
	if want := []string{"a", "b"}; !reflect.DeepEqual(r.Delete, want) {
		t.Errorf("delete: have %v, want %v", r.Delete, want)
	}

	_, err = s.Rule("grandchild")
	var fe *FixerRuleError
	if !errors.As(err, &fe) {
		t.Errorf("chained parent: have %v, want FixerRuleError", err)
	}
}

func TestCompileFormula(t *testing.T) {
	tests := []struct {
		formula string
		vars    []string
		ok      bool
	}{
		{formula: "a + b * 2", vars: []string{"a", "b"}, ok: true},
		{formula: "(a - b) / 2", vars: []string{"a", "b"}, ok: true},
		{formula: "[2t] - 273.15", vars: []string{"2t"}, ok: true},
		{formula: "-a", vars: []string{"a"}, ok: true},
		{formula: "a ** 2"},
		{formula: "a > 1"},
		{formula: "2 + 3"},
		{formula: "a +"},
	}
	for _, test := range tests {
		t.Run(test.formula, func(t *testing.T) {
			f, err := compileFormula(test.formula)
			if !test.ok {
				if err == nil {
					t.Error("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(f.vars, test.vars) {
				t.Errorf("vars: have %v, want %v", f.vars, test.vars)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		v    VarRule
	}{
		{"both", VarRule{Source: "a", Derived: "a + 1"}},
		{"jump", VarRule{Decumulate: true, Jump: "year"}},
		{"jumpOnly", VarRule{Jump: "month"}},
		{"mindate", VarRule{MinDate: "yesterday"}},
		{"formula", VarRule{Derived: "a == 1"}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			r := &Rule{Name: test.name, Vars: map[string]VarRule{"x": test.v}}
			if err := r.Validate(); err == nil {
				t.Error("expected an error")
			}
		})
	}
	r := &Rule{Name: "chain", Vars: map[string]VarRule{
		"a": {Derived: "b + 1"},
		"b": {Derived: "c + 1"},
	}}
	if err := r.Validate(); err == nil {
		t.Error("formula referring to a derived variable should be rejected")
	}
}

func TestLoadStore(t *testing.T) {
	dir, err := ioutil.TempDir("", "fixes")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	files := map[string]string{
		DefaultFile: `
units:
  nicknames:
    fraction_of_one: "1"
`,
		"ifs.yaml": `
fixer_name:
  IFS-default:
    deltat: 3600
    vars:
      tas:
        source: 2t
  IFS-tco79:
    parent: IFS-default
    vars:
      pr:
        source: tp
`,
	}
	for name, content := range files {
		if err := ioutil.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	s, err := LoadStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	logger, hook := test.NewNullLogger()
	s.Log = logger
	if want := []string{"IFS-default", "IFS-tco79"}; !reflect.DeepEqual(s.Names(), want) {
		t.Errorf("names: have %v, want %v", s.Names(), want)
	}

	r, err := s.Resolve("IFS-tco79", "IFS", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(r.Vars) != 2 || r.DeltaT != 3600 {
		t.Errorf("merged rule: %+v", r)
	}

	r, err = s.Resolve("", "IFS", nil)
	if err != nil {
		t.Fatal(err)
	}
	if r.Name != "IFS-default" {
		t.Errorf("model default: %s", r.Name)
	}

	r, err = s.Resolve("", "IFS", map[string]interface{}{
		"vars": map[string]interface{}{"sst": map[string]interface{}{"source": "sstk"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if r.Vars["sst"].Source != "sstk" {
		t.Errorf("embedded rule: %+v", r.Vars)
	}

	r, err = s.Resolve("", "ICON", nil)
	if err != nil || r != nil {
		t.Errorf("no rule: have %v, %v", r, err)
	}
	if hook.LastEntry() == nil || hook.LastEntry().Message != "no fixer rule found; only the data model will be applied" {
		t.Error("missing warning")
	}

	if p := s.Engine().Units; p.Nicknames["fraction_of_one"] != "1" {
		t.Error("nickname not loaded")
	}

	if err := ioutil.WriteFile(filepath.Join(dir, "dup.yaml"), []byte("fixer_name:\n  IFS-default: {}\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadStore(dir); err == nil {
		t.Error("duplicate rule should be rejected")
	}
}

func TestSourceVars(t *testing.T) {
	r := &Rule{Name: "test", Vars: map[string]VarRule{
		"mtpr": {Source: "tp"},
		"2t":   {},
		"sp":   {Derived: "sp / 100"},
		"ws":   {Derived: "[10u] * [10u] + [10v] * [10v]"},
		"pr":   {Derived: "mtpr * 1000"},
	}}
	have, err := r.SourceVars([]string{"mtpr", "2t", "sp", "ws", "pr", "msl"})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"tp", "2t", "sp", "10u", "10v", "msl"}
	if !reflect.DeepEqual(have, want) {
		t.Errorf("have %v, want %v", have, want)
	}
}
