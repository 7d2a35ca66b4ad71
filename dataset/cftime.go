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

package dataset

import (
	"fmt"
	"math"
	"strings"
	"time"
)

var epochLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02 15",
	"2006-01-02",
	"2006-1-2 15:04:05",
	"2006-1-2 15:04",
	"2006-1-2",
}

// ParseTimeUnits parses a CF time unit string such as
// "hours since 1900-01-01 00:00:0.0".
func ParseTimeUnits(units string) (step time.Duration, epoch time.Time, err error) {
	parts := strings.SplitN(strings.TrimSpace(units), " since ", 2)
	if len(parts) != 2 {
		return 0, time.Time{}, fmt.Errorf("dataset: invalid time units %q", units)
	}
	switch strings.ToLower(parts[0]) {
	case "seconds", "second", "secs", "sec", "s":
		step = time.Second
	case "minutes", "minute", "mins", "min":
		step = time.Minute
	case "hours", "hour", "hrs", "hr", "h":
		step = time.Hour
	case "days", "day", "d":
		step = 24 * time.Hour
	default:
		return 0, time.Time{}, fmt.Errorf("dataset: unsupported time step %q in %q", parts[0], units)
	}
	ref := strings.TrimSpace(parts[1])
	ref = strings.TrimSuffix(ref, " UTC")
	ref = strings.TrimSuffix(ref, "Z")
	// Fractional seconds such as "00:00:0.0" are dropped.
	if i := strings.LastIndex(ref, "."); i > 0 && i > strings.LastIndex(ref, ":") {
		ref = ref[:i]
	}
	if strings.Count(ref, ":") == 2 {
		// Normalize single digit seconds ("00:00:0").
		c := strings.LastIndex(ref, ":")
		if len(ref)-c-1 == 1 {
			ref = ref[:c+1] + "0" + ref[c+1:]
		}
	}
	for _, layout := range epochLayouts {
		if t, err := time.Parse(layout, ref); err == nil {
			return step, t, nil
		}
	}
	return 0, time.Time{}, fmt.Errorf("dataset: invalid reference time %q in %q", parts[1], units)
}

// DecodeTimes converts numeric CF time values to times.
func DecodeTimes(values []float64, units, calendar string) ([]time.Time, error) {
	switch strings.ToLower(calendar) {
	case "", "standard", "gregorian", "proleptic_gregorian":
	default:
		return nil, fmt.Errorf("dataset: unsupported calendar %q", calendar)
	}
	step, epoch, err := ParseTimeUnits(units)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, len(values))
	for i, v := range values {
		if math.IsNaN(v) {
			return nil, fmt.Errorf("dataset: missing time value at index %d", i)
		}
		d := time.Duration(math.Round(v * float64(step)))
		out[i] = epoch.Add(d)
	}
	return out, nil
}

// EncodeTimes converts times to numeric values in the given CF units.
func EncodeTimes(times []time.Time, units string) ([]float64, error) {
	step, epoch, err := ParseTimeUnits(units)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(times))
	for i, t := range times {
		out[i] = float64(t.Sub(epoch)) / float64(step)
	}
	return out, nil
}
