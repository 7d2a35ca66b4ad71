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

package catalog

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// Resolver resolves source keys across a prioritized list of catalogs.
type Resolver struct {
	// Root is the directory that holds one subdirectory per catalog.
	Root string

	// Log receives information about skipped catalogs and ambiguous
	// resolutions.
	Log logrus.FieldLogger

	catalogs []*Catalog
	loadErrs []error
}

// NewResolver returns a resolver for the catalogs under root.
func NewResolver(root string) *Resolver {
	return &Resolver{Root: root, Log: logrus.StandardLogger()}
}

// Load loads the named catalogs, replacing any previously loaded ones.
// The order of names is the resolution priority: earlier catalogs win.
// Catalogs that fail to load are skipped and their errors are available
// from LoadErrors; Load only fails if no catalog could be loaded.
func (r *Resolver) Load(names ...string) error {
	r.catalogs = nil
	r.loadErrs = nil
	for _, n := range names {
		c, err := LoadCatalog(n, filepath.Join(r.Root, n))
		if err != nil {
			r.Log.WithFields(logrus.Fields{"catalog": n}).WithError(err).Warn("skipping catalog")
			r.loadErrs = append(r.loadErrs, err)
			continue
		}
		r.catalogs = append(r.catalogs, c)
	}
	if len(r.catalogs) == 0 && len(names) > 0 {
		return fmt.Errorf("catalog: none of the catalogs %v could be loaded: %v", names, r.loadErrs)
	}
	return nil
}

// Add appends an already-loaded catalog with the lowest priority.
func (r *Resolver) Add(c *Catalog) { r.catalogs = append(r.catalogs, c) }

// Catalogs returns the names of the loaded catalogs in priority order.
func (r *Resolver) Catalogs() []string {
	o := make([]string, len(r.catalogs))
	for i, c := range r.catalogs {
		o[i] = c.Name
	}
	return o
}

// LoadErrors returns the errors for catalogs skipped by the last Load.
func (r *Resolver) LoadErrors() []error { return r.loadErrs }

// find returns the source within c, or nil. An empty source name
// selects the first source declared for the experiment.
func find(c *Catalog, model, exp, source string) *Source {
	m, ok := c.Models[model]
	if !ok {
		return nil
	}
	e, ok := m.Exps[exp]
	if !ok {
		return nil
	}
	if source == "" {
		if len(e.sourceOrder) == 0 {
			return nil
		}
		return e.Sources[e.sourceOrder[0]]
	}
	return e.Sources[source]
}

// Resolve returns the source descriptor for the given key. If catalog
// is empty, the loaded catalogs are searched in priority order and the
// first match is returned; matches in lower priority catalogs are
// logged. Resolution does not touch any data.
func (r *Resolver) Resolve(catalog, model, exp, source string) (*Source, error) {
	var found *Source
	var others []string
	for _, c := range r.catalogs {
		if catalog != "" && c.Name != catalog {
			continue
		}
		s := find(c, model, exp, source)
		if s == nil {
			continue
		}
		if found == nil {
			found = s
		} else {
			others = append(others, c.Name)
		}
	}
	if found == nil {
		return nil, &SourceNotFoundError{Catalog: catalog, Model: model, Exp: exp, Source: source}
	}
	fields := logrus.Fields{
		"catalog": found.Catalog,
		"model":   model,
		"exp":     exp,
		"source":  found.Name,
	}
	if len(others) > 0 {
		r.Log.WithFields(fields).WithField("also_in", others).Warn("source found in multiple catalogs; using highest priority")
	} else {
		r.Log.WithFields(fields).Debug("resolved source")
	}
	return found, nil
}

// Filter restricts the entries returned by Entries. Empty fields match
// anything.
type Filter struct {
	Catalog, Model, Exp, Source string
}

func (f Filter) match(field, value string) bool { return field == "" || field == value }

// Entries returns a function that yields the sources matching f one at a
// time, in priority and declaration order, and returns io.EOF when there
// are no more. Each call to Entries starts a new listing.
func (r *Resolver) Entries(f Filter) func() (*Source, error) {
	var queue []*Source
	ci := 0
	return func() (*Source, error) {
		for len(queue) == 0 {
			if ci >= len(r.catalogs) {
				return nil, io.EOF
			}
			c := r.catalogs[ci]
			ci++
			if !f.match(f.Catalog, c.Name) {
				continue
			}
			for _, mn := range c.modelOrder {
				if !f.match(f.Model, mn) {
					continue
				}
				m := c.Models[mn]
				for _, en := range m.expOrder {
					if !f.match(f.Exp, en) {
						continue
					}
					e := m.Exps[en]
					for _, sn := range e.sourceOrder {
						if f.match(f.Source, sn) {
							queue = append(queue, e.Sources[sn])
						}
					}
				}
			}
		}
		s := queue[0]
		queue = queue[1:]
		return s, nil
	}
}
