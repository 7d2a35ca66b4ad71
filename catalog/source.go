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
	"strings"
	"time"
)

// Driver identifies the backend used to read a source.
type Driver int

// These are the supported drivers.
const (
	// File sources are sets of NetCDF files.
	File Driver = iota
	// Archive sources are retrieved from a remote archive service.
	Archive
	// Generator sources are produced by a registered function.
	Generator
)

func (d Driver) String() string {
	switch d {
	case File:
		return "FILE"
	case Archive:
		return "ARCHIVE"
	case Generator:
		return "GENERATOR"
	default:
		return fmt.Sprintf("Driver(%d)", int(d))
	}
}

// ParseDriver returns the driver with the given name.
func ParseDriver(s string) (Driver, error) {
	switch strings.ToLower(s) {
	case "file", "netcdf", "intake_xarray.netcdf":
		return File, nil
	case "archive", "fdb", "gsv":
		return Archive, nil
	case "generator":
		return Generator, nil
	default:
		return 0, fmt.Errorf("unknown driver %q", s)
	}
}

// Args holds the backend arguments of a source.
type Args struct {
	// URLPath lists file globs for the FILE driver.
	URLPath []string `yaml:"urlpath"`

	// Request is the request template for the ARCHIVE driver.
	Request map[string]interface{} `yaml:"request"`

	// Generator names the function used by the GENERATOR driver, and
	// Options holds its parameters.
	Generator string                 `yaml:"generator"`
	Options   map[string]interface{} `yaml:"options"`

	// DataStartDate and DataEndDate bound the available data.
	DataStartDate string `yaml:"data_start_date"`
	DataEndDate   string `yaml:"data_end_date"`

	// Timestep is the native output interval, for example "h" or "6h".
	Timestep string `yaml:"timestep"`
	// SaveFreq is the interval at which the data is stored.
	SaveFreq string `yaml:"savefreq"`
	// Aggregation is the default streaming step.
	Aggregation string `yaml:"aggregation"`
	// TimeStyle is "date" or "step" and controls how archive
	// requests encode time.
	TimeStyle string `yaml:"timestyle"`
	// ChunkBytes bounds the size of a single archive request.
	ChunkBytes int64 `yaml:"chunk_bytes"`
}

// Metadata holds source information used by the fixer and regridder.
type Metadata struct {
	SourceGridName string    `yaml:"source_grid_name"`
	FixerName      string    `yaml:"fixer_name"`
	Variables      []string  `yaml:"variables"`
	FDBPath        string    `yaml:"fdb_path"`
	GridSize       int       `yaml:"grid_size"`
	Levels         []float64 `yaml:"levels"`

	// Fixes is a fixer rule embedded in the source.
	Fixes map[string]interface{} `yaml:"fixes"`
}

// Source describes one readable dataset.
type Source struct {
	Catalog string `yaml:"-"`
	Model   string `yaml:"-"`
	Exp     string `yaml:"-"`
	Name    string `yaml:"-"`
	Driver  Driver `yaml:"-"`

	DriverName  string   `yaml:"driver"`
	Description string   `yaml:"description"`
	Args        Args     `yaml:"args"`
	Metadata    Metadata `yaml:"metadata"`

	// Dir is the directory of the document that declared the source;
	// relative paths in Args are resolved against it.
	Dir string `yaml:"-"`
}

// Key returns the "catalog/model/exp/source" identifier of s.
func (s *Source) Key() string {
	return strings.Join([]string{s.Catalog, s.Model, s.Exp, s.Name}, "/")
}

var dateLayouts = []string{
	"20060102T1504",
	"20060102T15",
	"20060102",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006-01",
	"2006",
}

// ParseDate parses the date formats used in catalogs and requests.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, l := range dateLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("catalog: invalid date %q", s)
}

// Bounds returns the declared data bounds of s. Missing bounds are
// returned as zero times.
func (s *Source) Bounds() (start, end time.Time, err error) {
	if s.Args.DataStartDate != "" {
		if start, err = ParseDate(s.Args.DataStartDate); err != nil {
			return
		}
	}
	if s.Args.DataEndDate != "" {
		if end, err = ParseDate(s.Args.DataEndDate); err != nil {
			return
		}
	}
	return
}
