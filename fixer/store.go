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
	"io/ioutil"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/aqua/units"
	"gopkg.in/yaml.v2"
)

// DefaultFile is the reserved document holding data models and unit
// nicknames.
const DefaultFile = "default.yaml"

// Store holds the fixer rules and data models available to readers.
type Store struct {
	Log logrus.FieldLogger

	rules            map[string]*Rule
	dataModels       map[string]*DataModel
	defaultDataModel string
	nicknames        map[string]string
}

// NewStore returns a store with no rules and the built-in data model.
func NewStore() *Store {
	nn := make(map[string]string, len(units.DefaultNicknames))
	for k, v := range units.DefaultNicknames {
		nn[k] = v
	}
	return &Store{
		Log:              logrus.StandardLogger(),
		rules:            make(map[string]*Rule),
		dataModels:       map[string]*DataModel{DefaultDataModel.Name: DefaultDataModel},
		defaultDataModel: DefaultDataModel.Name,
		nicknames:        nn,
	}
}

type rulesDoc struct {
	FixerName map[string]*Rule `yaml:"fixer_name"`
}

type defaultDoc struct {
	DataModel        map[string]*DataModel `yaml:"data_model"`
	DefaultDataModel string                `yaml:"default_data_model"`
	Units            struct {
		Nicknames map[string]string `yaml:"nicknames"`
	} `yaml:"units"`
}

// LoadStore reads all fixer documents in dir.
func LoadStore(dir string) (*Store, error) {
	s := NewStore()
	files, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	for _, f := range files {
		b, err := ioutil.ReadFile(f)
		if err != nil {
			return nil, errors.Wrap(err, "fixer: loading rules")
		}
		if filepath.Base(f) == DefaultFile {
			var d defaultDoc
			if err := yaml.Unmarshal(b, &d); err != nil {
				return nil, errors.Wrapf(err, "fixer: parsing %s", f)
			}
			for name, m := range d.DataModel {
				m.Name = name
				s.dataModels[name] = m
			}
			if d.DefaultDataModel != "" {
				s.defaultDataModel = d.DefaultDataModel
			}
			for k, v := range d.Units.Nicknames {
				s.nicknames[k] = v
			}
			continue
		}
		var d rulesDoc
		if err := yaml.Unmarshal(b, &d); err != nil {
			return nil, errors.Wrapf(err, "fixer: parsing %s", f)
		}
		for name, r := range d.FixerName {
			if _, ok := s.rules[name]; ok {
				return nil, &FixerRuleError{Rule: name, Reason: fmt.Sprintf("defined more than once (again in %s)", f)}
			}
			if r == nil {
				r = new(Rule)
			}
			r.Name = name
			s.rules[name] = r
		}
	}
	if _, ok := s.dataModels[s.defaultDataModel]; !ok {
		return nil, fmt.Errorf("fixer: default data model %q is not defined", s.defaultDataModel)
	}
	return s, nil
}

// Add adds or replaces a rule.
func (s *Store) Add(r *Rule) { s.rules[r.Name] = r }

// Names returns the sorted rule names.
func (s *Store) Names() []string {
	n := make([]string, 0, len(s.rules))
	for k := range s.rules {
		n = append(n, k)
	}
	sort.Strings(n)
	return n
}

// finish merges r with its parent and validates the result.
func (s *Store) finish(r *Rule) (*Rule, error) {
	if r.Parent != "" {
		p, ok := s.rules[r.Parent]
		if !ok {
			return nil, &FixerRuleError{Rule: r.Name, Reason: fmt.Sprintf("parent %q not found", r.Parent)}
		}
		if p.Parent != "" {
			return nil, &FixerRuleError{Rule: r.Name,
				Reason: fmt.Sprintf("parent %q has its own parent %q; only one level of inheritance is allowed", p.Name, p.Parent)}
		}
		r = merge(p, r)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Rule returns the named rule merged with its parent.
func (s *Store) Rule(name string) (*Rule, error) {
	r, ok := s.rules[name]
	if !ok {
		return nil, &FixerRuleError{Rule: name, Reason: "no such fixer rule"}
	}
	return s.finish(r)
}

// Resolve selects the rule for a source. An explicit name takes
// precedence, then a rule embedded in the source, then the
// "<model>-default" rule. If none apply, Resolve returns nil and only
// the data model will be applied.
func (s *Store) Resolve(name, model string, embedded map[string]interface{}) (*Rule, error) {
	log := s.Log.WithFields(logrus.Fields{"model": model})
	if name != "" {
		log.WithField("fixer", name).Debug("using fixer named by source")
		return s.Rule(name)
	}
	if len(embedded) > 0 {
		r, err := RuleFromMap(model+"-embedded", embedded)
		if err != nil {
			return nil, err
		}
		log.Debug("using fixer embedded in source")
		return s.finish(r)
	}
	def := model + "-default"
	if _, ok := s.rules[def]; ok {
		log.WithField("fixer", def).Info("no fixer specified; using model default")
		return s.Rule(def)
	}
	log.Warn("no fixer rule found; only the data model will be applied")
	return nil, nil
}

// Engine returns an engine that uses the store's data models and unit
// nicknames.
func (s *Store) Engine() *Engine {
	return &Engine{
		DataModels:       s.dataModels,
		DefaultDataModel: s.defaultDataModel,
		Units:            &units.Parser{Nicknames: s.nicknames},
		Log:              s.Log,
	}
}
