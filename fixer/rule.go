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
	"fmt"
	"sort"
	"time"

	"github.com/spatialmodel/aqua/catalog"
	"gopkg.in/yaml.v2"
)

// Rule is a declarative description of how to normalize a raw dataset.
type Rule struct {
	// Name identifies the rule.
	Name string `yaml:"-"`

	// Parent names a rule whose entries this rule inherits. The parent
	// may not itself have a parent.
	Parent string `yaml:"parent"`

	// DataModel names the canonical coordinate convention to apply.
	DataModel string `yaml:"data_model"`

	// DeltaT is the accumulation interval in seconds used when
	// converting accumulated quantities to rates. If zero, the source
	// timestep is used.
	DeltaT float64 `yaml:"deltat"`

	Vars   map[string]VarRule   `yaml:"vars"`
	Coords map[string]CoordRule `yaml:"coords"`
	Dims   map[string]CoordRule `yaml:"dims"`

	// Delete lists variables to remove after fixing.
	Delete []string `yaml:"delete"`
}

// VarRule describes how to produce one output variable. Exactly one of
// Source and Derived may be set; if neither is, the source variable has
// the same name as the output.
type VarRule struct {
	Source  string `yaml:"source"`
	Derived string `yaml:"derived"`

	// Grib requests that metadata be taken from the GRIB parameter table.
	Grib bool `yaml:"grib"`

	SrcUnits string `yaml:"src_units"`
	Units    string `yaml:"units"`

	Decumulate bool   `yaml:"decumulate"`
	Jump       string `yaml:"jump"`

	// MinDate masks all values before this date.
	MinDate string `yaml:"mindate"`

	Attributes map[string]string `yaml:"attributes"`
}

// CoordRule renames a coordinate or dimension and optionally converts
// its units.
type CoordRule struct {
	Source   string `yaml:"source"`
	SrcUnits string `yaml:"src_units"`
	Units    string `yaml:"units"`
}

// FixerRuleError reports an invalid or unusable fixer rule.
type FixerRuleError struct {
	Rule     string
	Variable string
	Reason   string
}

func (e *FixerRuleError) Error() string {
	if e.Variable != "" {
		return fmt.Sprintf("fixer: rule %q, variable %q: %s", e.Rule, e.Variable, e.Reason)
	}
	return fmt.Sprintf("fixer: rule %q: %s", e.Rule, e.Reason)
}

// RuleFromMap decodes a rule from a generic YAML mapping, such as the
// fixes embedded in a catalog source.
func RuleFromMap(name string, m map[string]interface{}) (*Rule, error) {
	b, err := yaml.Marshal(m)
	if err != nil {
		return nil, &FixerRuleError{Rule: name, Reason: err.Error()}
	}
	r := new(Rule)
	if err := yaml.Unmarshal(b, r); err != nil {
		return nil, &FixerRuleError{Rule: name, Reason: err.Error()}
	}
	r.Name = name
	return r, nil
}

// merge returns the union of parent and child. Map entries and scalar
// settings from the child take precedence; deletions are combined.
func merge(parent, child *Rule) *Rule {
	o := &Rule{
		Name:      child.Name,
		DataModel: parent.DataModel,
		DeltaT:    parent.DeltaT,
		Vars:      make(map[string]VarRule),
		Coords:    make(map[string]CoordRule),
		Dims:      make(map[string]CoordRule),
	}
	if child.DataModel != "" {
		o.DataModel = child.DataModel
	}
	if child.DeltaT != 0 {
		o.DeltaT = child.DeltaT
	}
	for _, r := range []*Rule{parent, child} {
		for k, v := range r.Vars {
			o.Vars[k] = v
		}
		for k, v := range r.Coords {
			o.Coords[k] = v
		}
		for k, v := range r.Dims {
			o.Dims[k] = v
		}
	}
	seen := make(map[string]bool)
	for _, d := range append(append([]string(nil), parent.Delete...), child.Delete...) {
		if !seen[d] {
			o.Delete = append(o.Delete, d)
			seen[d] = true
		}
	}
	return o
}

// varNames returns the sorted output variable names of r.
func (r *Rule) varNames() []string {
	n := make([]string, 0, len(r.Vars))
	for k := range r.Vars {
		n = append(n, k)
	}
	sort.Strings(n)
	return n
}

// minDate parses the MinDate field.
func (v VarRule) minDate() (time.Time, error) {
	if v.MinDate == "" {
		return time.Time{}, nil
	}
	return catalog.ParseDate(v.MinDate)
}

// Validate checks r for internal consistency.
func (r *Rule) Validate() error {
	if r.Parent != "" {
		return &FixerRuleError{Rule: r.Name, Reason: fmt.Sprintf("unresolved parent %q", r.Parent)}
	}
	for _, name := range r.varNames() {
		v := r.Vars[name]
		fail := func(format string, args ...interface{}) error {
			return &FixerRuleError{Rule: r.Name, Variable: name, Reason: fmt.Sprintf(format, args...)}
		}
		if v.Source != "" && v.Derived != "" {
			return fail("source and derived are mutually exclusive")
		}
		if v.Jump != "" && v.Jump != "month" {
			return fail("unsupported jump %q", v.Jump)
		}
		if v.Jump != "" && !v.Decumulate {
			return fail("jump requires decumulate")
		}
		if _, err := v.minDate(); err != nil {
			return fail("invalid mindate: %v", err)
		}
		if v.Derived == "" {
			continue
		}
		f, err := compileFormula(v.Derived)
		if err != nil {
			return fail("%v", err)
		}
		for _, ref := range f.vars {
			if other, ok := r.Vars[ref]; ok && ref != name && other.Derived != "" {
				return fail("formula refers to derived variable %q", ref)
			}
		}
	}
	return nil
}

// Decumulates returns whether any variable of r is decumulated.
func (r *Rule) Decumulates() bool {
	for _, v := range r.Vars {
		if v.Decumulate {
			return true
		}
	}
	return false
}

// SourceVars returns the raw variables needed to produce the output
// variables names. Names without a rule are passed through.
func (r *Rule) SourceVars(names []string) ([]string, error) {
	seen := make(map[string]bool)
	var o []string
	add := func(n string) {
		if !seen[n] {
			seen[n] = true
			o = append(o, n)
		}
	}
	source := func(n string) string {
		if v, ok := r.Vars[n]; ok && v.Source != "" {
			return v.Source
		}
		return n
	}
	for _, n := range names {
		v, ok := r.Vars[n]
		if !ok || v.Derived == "" {
			add(source(n))
			continue
		}
		f, err := compileFormula(v.Derived)
		if err != nil {
			return nil, &FixerRuleError{Rule: r.Name, Variable: n, Reason: err.Error()}
		}
		for _, ref := range f.vars {
			if ref == n {
				add(n)
			} else {
				add(source(ref))
			}
		}
	}
	return o, nil
}
