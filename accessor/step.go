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

package accessor

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Step is an interval of time that is either a fixed duration or a
// whole number of calendar months.
type Step struct {
	Duration time.Duration
	Months   int
}

// IsZero returns whether s is empty.
func (s Step) IsZero() bool { return s.Duration == 0 && s.Months == 0 }

// Add returns t advanced by s.
func (s Step) Add(t time.Time) time.Time {
	if s.Months != 0 {
		return t.AddDate(0, s.Months, 0)
	}
	return t.Add(s.Duration)
}

// Sub returns t moved back by s.
func (s Step) Sub(t time.Time) time.Time {
	if s.Months != 0 {
		return t.AddDate(0, -s.Months, 0)
	}
	return t.Add(-s.Duration)
}

// Approx returns the length of s, using the mean month length for
// calendar steps.
func (s Step) Approx() time.Duration {
	if s.Months != 0 {
		return time.Duration(s.Months) * 730 * time.Hour
	}
	return s.Duration
}

func (s Step) String() string {
	switch {
	case s.Months%12 == 0 && s.Months != 0:
		return fmt.Sprintf("%dY", s.Months/12)
	case s.Months != 0:
		return fmt.Sprintf("%dM", s.Months)
	default:
		return s.Duration.String()
	}
}

var stepToken = regexp.MustCompile(`^([0-9]*)\s*([A-Za-z]+)$`)

var stepUnits = map[string]Step{
	"s":     {Duration: time.Second},
	"S":     {Duration: time.Second},
	"min":   {Duration: time.Minute},
	"T":     {Duration: time.Minute},
	"h":     {Duration: time.Hour},
	"H":     {Duration: time.Hour},
	"hour":  {Duration: time.Hour},
	"D":     {Duration: 24 * time.Hour},
	"d":     {Duration: 24 * time.Hour},
	"day":   {Duration: 24 * time.Hour},
	"W":     {Duration: 7 * 24 * time.Hour},
	"week":  {Duration: 7 * 24 * time.Hour},
	"M":     {Months: 1},
	"MS":    {Months: 1},
	"mon":   {Months: 1},
	"month": {Months: 1},
	"Y":     {Months: 12},
	"YS":    {Months: 12},
	"A":     {Months: 12},
	"y":     {Months: 12},
	"year":  {Months: 12},
}

// ParseStep parses a step such as "6h", "1D", "M", "monthly" or
// "native". "native" and "" return native.
func ParseStep(s string, native Step) (Step, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "native":
		return native, nil
	case "hourly":
		return Step{Duration: time.Hour}, nil
	case "daily":
		return Step{Duration: 24 * time.Hour}, nil
	case "monthly":
		return Step{Months: 1}, nil
	case "yearly", "annual":
		return Step{Months: 12}, nil
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return Step{Duration: d}, nil
	}
	m := stepToken.FindStringSubmatch(s)
	if m == nil {
		return Step{}, fmt.Errorf("invalid step %q", s)
	}
	u, ok := stepUnits[strings.TrimSuffix(m[2], "s")]
	if !ok {
		u, ok = stepUnits[m[2]]
	}
	if !ok {
		return Step{}, fmt.Errorf("invalid step %q: unknown unit %q", s, m[2])
	}
	n := 1
	if m[1] != "" {
		n, _ = strconv.Atoi(m[1])
	}
	if n <= 0 {
		return Step{}, fmt.Errorf("invalid step %q", s)
	}
	return Step{Duration: u.Duration * time.Duration(n), Months: u.Months * n}, nil
}
