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

// Package catalog loads hierarchical data source catalogs and resolves
// (catalog, model, experiment, source) keys to source descriptors.
//
// Each catalog is a directory containing a catalog.yaml document that
// lists models; each model document lists experiments and each
// experiment document lists sources:
//
//	# catalog.yaml
//	models:
//	  IFS:
//	    description: IFS model output
//	    path: IFS/main.yaml
//
//	# IFS/main.yaml
//	experiments:
//	  historical:
//	    path: historical.yaml
//
//	# IFS/historical.yaml
//	sources:
//	  hourly-native:
//	    driver: archive
//	    args: {...}
//	    metadata: {...}
package catalog

import (
	"fmt"
	"io/ioutil"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Catalog is one loaded catalog tree.
type Catalog struct {
	Name string
	Dir  string

	Models     map[string]*Model
	modelOrder []string
}

// Model is a climate model within a catalog.
type Model struct {
	Name        string
	Description string

	Exps     map[string]*Experiment
	expOrder []string
}

// Experiment is a set of sources for one model experiment.
type Experiment struct {
	Name        string
	Description string

	Sources     map[string]*Source
	sourceOrder []string
}

// Names returns the model names in declaration order.
func (c *Catalog) Names() []string { return append([]string(nil), c.modelOrder...) }

// Names returns the experiment names in declaration order.
func (m *Model) Names() []string { return append([]string(nil), m.expOrder...) }

// Names returns the source names in declaration order.
func (e *Experiment) Names() []string { return append([]string(nil), e.sourceOrder...) }

type ref struct {
	Description string `yaml:"description"`
	Path        string `yaml:"path"`
}

// readEntries reads the mapping stored under key in the YAML document
// at path, preserving order and rejecting duplicate keys.
func readEntries(path, key string) (yaml.MapSlice, error) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc yaml.MapSlice
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	for _, item := range doc {
		if fmt.Sprint(item.Key) != key {
			continue
		}
		if item.Value == nil {
			return nil, nil
		}
		entries, ok := item.Value.(yaml.MapSlice)
		if !ok {
			return nil, fmt.Errorf("%q must be a mapping", key)
		}
		seen := make(map[string]bool)
		for _, e := range entries {
			k := fmt.Sprint(e.Key)
			if seen[k] {
				return nil, fmt.Errorf("duplicate %s entry %q", key, k)
			}
			seen[k] = true
		}
		return entries, nil
	}
	return nil, fmt.Errorf("missing %q section", key)
}

// decode converts a generic YAML value into out.
func decode(v interface{}, out interface{}) error {
	b, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, out)
}

func resolvePath(dir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

// LoadCatalog reads the catalog tree rooted at dir.
func LoadCatalog(name, dir string) (*Catalog, error) {
	c := &Catalog{Name: name, Dir: dir, Models: make(map[string]*Model)}
	loadErr := func(path string, err error) error {
		return &CatalogLoadError{Catalog: name, Path: path, Err: err}
	}
	root := filepath.Join(dir, "catalog.yaml")
	models, err := readEntries(root, "models")
	if err != nil {
		return nil, loadErr(root, err)
	}
	for _, mi := range models {
		var mr ref
		if err := decode(mi.Value, &mr); err != nil {
			return nil, loadErr(root, errors.Wrapf(err, "model %v", mi.Key))
		}
		m := &Model{Name: fmt.Sprint(mi.Key), Description: mr.Description, Exps: make(map[string]*Experiment)}
		if mr.Path == "" {
			return nil, loadErr(root, fmt.Errorf("model %q has no path", m.Name))
		}
		mPath := resolvePath(dir, mr.Path)
		exps, err := readEntries(mPath, "experiments")
		if err != nil {
			return nil, loadErr(mPath, err)
		}
		for _, ei := range exps {
			var er ref
			if err := decode(ei.Value, &er); err != nil {
				return nil, loadErr(mPath, errors.Wrapf(err, "experiment %v", ei.Key))
			}
			e := &Experiment{Name: fmt.Sprint(ei.Key), Description: er.Description, Sources: make(map[string]*Source)}
			if er.Path == "" {
				return nil, loadErr(mPath, fmt.Errorf("experiment %q has no path", e.Name))
			}
			ePath := resolvePath(filepath.Dir(mPath), er.Path)
			sources, err := readEntries(ePath, "sources")
			if err != nil {
				return nil, loadErr(ePath, err)
			}
			for _, si := range sources {
				s := new(Source)
				if err := decode(si.Value, s); err != nil {
					return nil, loadErr(ePath, errors.Wrapf(err, "source %v", si.Key))
				}
				s.Catalog, s.Model, s.Exp, s.Name = name, m.Name, e.Name, fmt.Sprint(si.Key)
				s.Dir = filepath.Dir(ePath)
				if s.Driver, err = ParseDriver(s.DriverName); err != nil {
					return nil, loadErr(ePath, errors.Wrapf(err, "source %s", s.Name))
				}
				e.Sources[s.Name] = s
				e.sourceOrder = append(e.sourceOrder, s.Name)
			}
			m.Exps[e.Name] = e
			m.expOrder = append(m.expOrder, e.Name)
		}
		c.Models[m.Name] = m
		c.modelOrder = append(c.modelOrder, m.Name)
	}
	return c, nil
}

// CatalogLoadError reports a catalog that could not be loaded.
type CatalogLoadError struct {
	Catalog string
	Path    string
	Err     error
}

func (e *CatalogLoadError) Error() string {
	return fmt.Sprintf("catalog: loading catalog %q from %s: %v", e.Catalog, e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *CatalogLoadError) Unwrap() error { return e.Err }

// SourceNotFoundError is returned when no loaded catalog contains the
// requested source.
type SourceNotFoundError struct {
	Catalog, Model, Exp, Source string
}

func (e *SourceNotFoundError) Error() string {
	cat := e.Catalog
	if cat == "" {
		cat = "any catalog"
	}
	return fmt.Sprintf("catalog: source %s/%s/%s not found in %s", e.Model, e.Exp, e.Source, cat)
}
