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

// Package fixer normalizes raw model output according to declarative
// rules: it renames variables and coordinates, derives new variables
// from formulas, reconciles units, and converts accumulated fields to
// per-interval values.
package fixer

import (
	"fmt"
	"sort"
	"time"

	"github.com/ctessum/sparse"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/aqua/dataset"
	"github.com/spatialmodel/aqua/units"
)

// Engine applies fixer rules to datasets.
type Engine struct {
	DataModels       map[string]*DataModel
	DefaultDataModel string
	Units            *units.Parser
	Log              logrus.FieldLogger
}

// NewEngine returns an engine with the built-in data model and the
// default unit nicknames.
func NewEngine() *Engine {
	return NewStore().Engine()
}

func (e *Engine) dataModel(name string) (*DataModel, error) {
	if name == "" {
		name = e.DefaultDataModel
	}
	m, ok := e.DataModels[name]
	if !ok {
		return nil, fmt.Errorf("fixer: unknown data model %q", name)
	}
	return m, nil
}

// Apply returns a fixed copy of ds. The canonical data model is always
// applied; if r is nil nothing else is done. r must be resolved: rules
// that still name a parent or derive from derived variables are
// rejected. Formula references are looked up among the fixed variables
// first and then among the raw ones. timestep is the interval between
// samples of the source and is used for rate conversions when the rule
// does not declare its own. Apply does not read any data: all
// transformations are deferred until values are requested.
func (e *Engine) Apply(ds *dataset.Dataset, r *Rule, timestep time.Duration) (*dataset.Dataset, error) {
	ruleName, dmName := "", ""
	if r != nil {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		ruleName, dmName = r.Name, r.DataModel
	}
	dm, err := e.dataModel(dmName)
	if err != nil {
		return nil, &FixerRuleError{Rule: ruleName, Reason: err.Error()}
	}
	out, err := dm.Apply(ds, e.Units)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return out, nil
	}
	log := e.Log.WithField("fixer", r.Name)

	if out, err = e.fixCoords(out, r); err != nil {
		return nil, err
	}

	dt := timestep
	if r.DeltaT > 0 {
		dt = time.Duration(r.DeltaT * float64(time.Second))
	}

	raw := out
	res := out.Copy()
	renamedFrom := make(map[string]bool)
	var derived []string
	for _, name := range r.varNames() {
		vr := r.Vars[name]
		if vr.Derived != "" {
			derived = append(derived, name)
			continue
		}
		src := vr.Source
		if src == "" {
			src = name
		}
		v, ok := raw.Var(src)
		if !ok {
			log.WithFields(logrus.Fields{"variable": name, "source": src}).Debug("source variable not present; skipping")
			continue
		}
		if src != name {
			renamedFrom[src] = true
		}
		fixed, err := e.fixVar(raw, v.Renamed(name), vr, r.Name, dt)
		if err != nil {
			return nil, err
		}
		res.AddVar(fixed)
	}
	for src := range renamedFrom {
		if _, isTarget := r.Vars[src]; !isTarget {
			res.DropVar(src)
		}
	}

	for _, name := range derived {
		vr := r.Vars[name]
		f, err := compileFormula(vr.Derived)
		if err != nil {
			return nil, &FixerRuleError{Rule: r.Name, Variable: name, Reason: err.Error()}
		}
		inputs := make([]*dataset.Variable, len(f.vars))
		for i, ref := range f.vars {
			v, ok := res.Var(ref)
			if !ok || ref == name {
				v, ok = raw.Var(ref)
			}
			if !ok {
				return nil, &FixerRuleError{Rule: r.Name, Variable: name,
					Reason: fmt.Sprintf("formula %q refers to unknown variable %q", vr.Derived, ref)}
			}
			inputs[i] = v
		}
		v, err := f.evaluate(name, inputs)
		if err != nil {
			return nil, &FixerRuleError{Rule: r.Name, Variable: name, Reason: err.Error()}
		}
		if vr.SrcUnits == "" {
			vr.SrcUnits = inputs[0].Units()
		}
		fixed, err := e.fixVar(res, v, vr, r.Name, dt)
		if err != nil {
			return nil, err
		}
		res.AddVar(fixed)
	}

	for _, d := range r.Delete {
		res.DropVar(d)
	}
	res.Attrs["fixer"] = r.Name
	history := fmt.Sprintf("fixed with rule %s", r.Name)
	if h := res.Attrs.String("history"); h != "" {
		history = h + "; " + history
	}
	res.Attrs["history"] = history
	return res, nil
}

// fixCoords applies the explicit coordinate and dimension renames of r.
func (e *Engine) fixCoords(ds *dataset.Dataset, r *Rule) (*dataset.Dataset, error) {
	for _, group := range []map[string]CoordRule{r.Dims, r.Coords} {
		names := make([]string, 0, len(group))
		for k := range group {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, name := range names {
			cr := group[name]
			src := cr.Source
			if src == "" {
				src = name
			}
			if !hasDim(ds, src) {
				continue
			}
			ds = ds.RenameDim(src, name)
			c, ok := ds.Coord(name)
			if !ok || cr.Units == "" {
				continue
			}
			from := cr.SrcUnits
			if from == "" {
				from = c.Units()
			}
			c, err := convertCoord(c, from, cr.Units, e.Units)
			if err != nil {
				if ue, ok := err.(*units.UnitConversionError); ok {
					ue.Rule = r.Name
				}
				return nil, err
			}
			ds = ds.Copy()
			ds.SetCoord(c)
		}
	}
	return ds, nil
}

// fixVar applies the per-variable steps of the pipeline to v, which
// already carries its output name.
func (e *Engine) fixVar(ds *dataset.Dataset, v *dataset.Variable, vr VarRule, rule string, dt time.Duration) (*dataset.Variable, error) {
	log := e.Log.WithFields(logrus.Fields{"fixer": rule, "variable": v.Name})
	attrs := v.Attrs.Clone()

	dst := vr.Units
	if vr.Grib {
		p, ok := GribTable[v.Name]
		if !ok {
			return nil, &FixerRuleError{Rule: rule, Variable: v.Name, Reason: "not found in the GRIB parameter table"}
		}
		attrs["paramId"] = p.ParamID
		attrs["long_name"] = p.LongName
		attrs["GRIB_shortName"] = v.Name
		if dst == "" {
			dst = p.Units
		}
	}

	src := vr.SrcUnits
	if src == "" {
		src = v.Units()
	}
	if dst != "" && dst != src {
		if src == "" {
			return nil, &units.UnitConversionError{To: dst, Variable: v.Name, Rule: rule,
				Reason: "source units are unknown; set src_units"}
		}
		conv, err := e.Units.Convert(src, dst, dt.Seconds())
		if err != nil {
			if ue, ok := err.(*units.UnitConversionError); ok {
				ue.Variable, ue.Rule = v.Name, rule
			}
			return nil, err
		}
		if conv.Heuristic != "" {
			log.WithFields(logrus.Fields{"from": src, "to": dst, "heuristic": conv.Heuristic}).Info("converting units")
		}
		if !conv.Identity() {
			v = v.Map(func(a *sparse.DenseArray) (*sparse.DenseArray, error) {
				for i, x := range a.Elements {
					a.Elements[i] = conv.Apply(x)
				}
				return a, nil
			})
		}
		attrs["units"] = dst
	} else if src != "" {
		attrs["units"] = src
	}

	axis := v.DimIndex(ds.TimeDim)
	if vr.Decumulate {
		if axis < 0 {
			return nil, &FixerRuleError{Rule: rule, Variable: v.Name, Reason: "cannot decumulate a variable without a time dimension"}
		}
		v = decumulate(v, axis, ds.Time, dt, vr.Jump)
	}

	if md, _ := vr.minDate(); !md.IsZero() && axis >= 0 {
		v = maskBefore(v, axis, ds.Time, md)
	}

	for k, val := range vr.Attributes {
		attrs[k] = val
	}
	v.Attrs = attrs
	return v, nil
}
