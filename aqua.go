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

// Package aqua reads climate model output through data catalogs. An Env
// holds the catalogs, fixer rules, grid descriptions and weight cache
// shared by all readers, and a Reader retrieves one source, normalized
// by its fixer rule and optionally regridded.
package aqua

import (
	"context"
	"io/ioutil"
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/aqua/accessor"
	"github.com/spatialmodel/aqua/catalog"
	"github.com/spatialmodel/aqua/fixer"
	"github.com/spatialmodel/aqua/regrid"
)

// Version gives the version number.
const Version = "0.1.0"

// DefaultWeights is the weight storage used when none is configured.
// Weights stored there only last as long as the process.
const DefaultWeights = "mem://"

// Config holds the locations of the documents and services used by
// readers.
type Config struct {
	// CatalogDir holds one subdirectory per catalog.
	CatalogDir string

	// Catalogs lists the catalogs to load in priority order. If it is
	// empty, every catalog in CatalogDir is loaded in alphabetical order.
	Catalogs []string

	// Fixers and Grids are directories of fixer and grid documents.
	// Either may be empty.
	Fixers, Grids string

	// Weights is the URL of the bucket where interpolation weights are
	// stored, for example "file:///scratch/weights" or "gs://bucket".
	Weights string

	// WeightGenerator computes missing weights. The default is
	// regrid.AutoGenerator.
	WeightGenerator regrid.Generator

	// Archive serves ARCHIVE sources.
	Archive accessor.Client

	// Generators holds the functions available to GENERATOR sources.
	Generators map[string]accessor.GeneratorFunc

	Log logrus.FieldLogger
}

// Env holds the state shared by readers. It is safe for concurrent use
// by multiple readers.
type Env struct {
	Catalogs *catalog.Resolver
	Fixers   *fixer.Store
	Engine   *fixer.Engine
	Grids    *regrid.Registry
	Weights  *regrid.WeightCache
	Log      logrus.FieldLogger

	backends accessor.Options
}

// NewEnv loads the documents named by cfg and opens the weight storage.
func NewEnv(ctx context.Context, cfg *Config) (*Env, error) {
	log := cfg.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	names := cfg.Catalogs
	if len(names) == 0 {
		var err error
		if names, err = catalogDirs(cfg.CatalogDir); err != nil {
			return nil, err
		}
	}
	res := catalog.NewResolver(cfg.CatalogDir)
	res.Log = log
	if err := res.Load(names...); err != nil {
		return nil, err
	}

	store := fixer.NewStore()
	if cfg.Fixers != "" {
		var err error
		if store, err = fixer.LoadStore(cfg.Fixers); err != nil {
			return nil, err
		}
	}
	store.Log = log

	grids := regrid.NewRegistry()
	if cfg.Grids != "" {
		var err error
		if grids, err = regrid.LoadGrids(cfg.Grids); err != nil {
			return nil, err
		}
	}

	gen := cfg.WeightGenerator
	if gen == nil {
		gen = regrid.AutoGenerator{}
	}
	url := cfg.Weights
	if url == "" {
		url = DefaultWeights
	}
	weights, err := regrid.OpenWeightCache(ctx, url, gen, 16)
	if err != nil {
		return nil, errors.Wrap(err, "aqua: opening weight storage")
	}
	weights.Log = log

	return &Env{
		Catalogs: res,
		Fixers:   store,
		Engine:   store.Engine(),
		Grids:    grids,
		Weights:  weights,
		Log:      log,
		backends: accessor.Options{Archive: cfg.Archive, Generators: cfg.Generators, Log: log},
	}, nil
}

// Close releases the weight storage.
func (e *Env) Close() error { return e.Weights.Close() }

func catalogDirs(root string) ([]string, error) {
	if root == "" {
		return nil, errors.New("aqua: no catalog directory configured")
	}
	fi, err := ioutil.ReadDir(root)
	if err != nil {
		return nil, errors.Wrap(err, "aqua: listing catalogs")
	}
	var names []string
	for _, f := range fi {
		if f.IsDir() {
			names = append(names, f.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
