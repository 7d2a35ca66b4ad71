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

package aquautil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lnashier/viper"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/aqua"
	"github.com/spatialmodel/aqua/accessor"
	"github.com/spatialmodel/aqua/catalog"
	"github.com/spf13/cast"
)

// expandStringSlice expands the environment variables in a slice of strings.
func expandStringSlice(s []string) []string {
	for i := 0; i < len(s); i++ {
		s[i] = os.ExpandEnv(s[i])
	}
	return s
}

// IsBlob returns whether path refers to blob storage rather than a
// local file.
func IsBlob(path string) bool {
	return strings.HasPrefix(path, "gs://") || strings.HasPrefix(path, "s3://") ||
		strings.HasPrefix(path, "file://") || strings.HasPrefix(path, "mem://")
}

// newLogger returns a logger writing to standard error at the given
// level.
func newLogger(level string) (*logrus.Logger, error) {
	l, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("aqua: invalid loglevel: %v", err)
	}
	log := logrus.New()
	log.Out = os.Stderr
	log.SetLevel(l)
	return log, nil
}

// EnvConfig returns the reader environment configuration held in cfg.
// Documents are read from the catalogs, fixes and grids subdirectories
// of configdir.
func EnvConfig(cfg *viper.Viper) (*aqua.Config, error) {
	log, err := newLogger(cfg.GetString("loglevel"))
	if err != nil {
		return nil, err
	}
	dir := os.ExpandEnv(cfg.GetString("configdir"))
	if dir == "" {
		return nil, fmt.Errorf("aqua: configdir is not set")
	}
	c := &aqua.Config{
		CatalogDir: filepath.Join(dir, "catalogs"),
		Catalogs:   expandStringSlice(cfg.GetStringSlice("catalogs")),
		Fixers:     optionalDir(filepath.Join(dir, "fixes")),
		Grids:      optionalDir(filepath.Join(dir, "grids")),
		Weights:    os.ExpandEnv(cfg.GetString("weights")),
		Log:        log,
	}
	if c.Weights == "" {
		c.Weights = "file://" + filepath.Join(dir, "weights")
	}
	if ep := os.ExpandEnv(cfg.GetString("archive.endpoint")); ep != "" {
		c.Archive = &accessor.HTTPClient{Endpoint: ep}
	}
	return c, nil
}

// optionalDir returns dir if it exists and "" otherwise.
func optionalDir(dir string) string {
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		return ""
	}
	return dir
}

// NewEnv loads the reader environment described by cfg.
func NewEnv(ctx context.Context, cfg *viper.Viper) (*aqua.Env, error) {
	c, err := EnvConfig(cfg)
	if err != nil {
		return nil, err
	}
	return aqua.NewEnv(ctx, c)
}

// ReaderOptions returns the source and reading options held in cfg.
func ReaderOptions(cfg *viper.Viper) aqua.Options {
	return aqua.Options{
		Catalog:   cfg.GetString("catalog"),
		Model:     cfg.GetString("model"),
		Exp:       cfg.GetString("exp"),
		Source:    cfg.GetString("source"),
		Regrid:    cfg.GetString("regrid"),
		Method:    cfg.GetString("method"),
		NoFix:     cfg.GetBool("nofix"),
		StartDate: cfg.GetString("startdate"),
		EndDate:   cfg.GetString("enddate"),
	}
}

// Request returns the data selection held in cfg.
func Request(cfg *viper.Viper) (aqua.Request, error) {
	req := aqua.Request{Variables: cfg.GetStringSlice("variables")}
	for _, l := range cfg.GetStringSlice("levels") {
		v, err := cast.ToFloat64E(strings.TrimSpace(l))
		if err != nil {
			return req, fmt.Errorf("aqua: invalid level %q: %v", l, err)
		}
		req.Levels = append(req.Levels, v)
	}
	return req, nil
}

// filter returns the listing filter held in cfg.
func filter(cfg *viper.Viper) catalog.Filter {
	return catalog.Filter{
		Catalog: cfg.GetString("catalog"),
		Model:   cfg.GetString("model"),
		Exp:     cfg.GetString("exp"),
		Source:  cfg.GetString("source"),
	}
}
