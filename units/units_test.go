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

package units

import (
	"errors"
	"math"
	"testing"
)

func different(a, b, tolerance float64) bool {
	return 2*math.Abs(a-b)/math.Abs(a+b) > tolerance
}

func TestConvert(t *testing.T) {
	tests := []struct {
		src, dst  string
		timestep  float64
		factor    float64
		offset    float64
		heuristic string
	}{
		{src: "hPa", dst: "Pa", factor: 100},
		{src: "Pa", dst: "hPa", factor: 0.01},
		{src: "mm day-1", dst: "kg m-2 s-1", factor: 1.0 / 86400, heuristic: HeuristicWaterDensity},
		{src: "kg m**-2 s**-1", dst: "mm/day", factor: 86400, heuristic: HeuristicWaterDensity},
		{src: "kg/m2/s", dst: "kg m-2 s-1", factor: 1},
		{src: "m", dst: "kg m-2 s-1", timestep: 3600, factor: 1000.0 / 3600,
			heuristic: HeuristicWaterDensity + ", " + HeuristicTimestep},
		{src: "J m-2", dst: "W m-2", timestep: 3600, factor: 1.0 / 3600, heuristic: HeuristicTimestep},
		{src: "W m-2", dst: "J m-2", timestep: 21600, factor: 21600, heuristic: HeuristicTimestep},
		{src: "degC", dst: "K", factor: 1, offset: 273.15},
		{src: "K", dst: "°C", factor: 1, offset: -273.15},
		{src: "(0 - 1)", dst: "%", factor: 100},
		{src: "g kg-1", dst: "kg kg**-1", factor: 0.001},
		{src: "m of water equivalent", dst: "mm", factor: 1000},
		{src: "m2 s-2", dst: "m^2 s^-2", factor: 1},
		{src: "km", dst: "m", factor: 1000},
		{src: "min", dst: "s", factor: 60},
	}
	for _, test := range tests {
		t.Run(test.src+"->"+test.dst, func(t *testing.T) {
			c, err := Convert(test.src, test.dst, test.timestep)
			if err != nil {
				t.Fatal(err)
			}
			if different(c.Factor, test.factor, 1e-10) {
				t.Errorf("factor: have %g, want %g", c.Factor, test.factor)
			}
			if math.Abs(c.Offset-test.offset) > 1e-10 {
				t.Errorf("offset: have %g, want %g", c.Offset, test.offset)
			}
			if c.Heuristic != test.heuristic {
				t.Errorf("heuristic: have %q, want %q", c.Heuristic, test.heuristic)
			}
		})
	}
}

func TestConvertFailure(t *testing.T) {
	tests := []struct {
		src, dst string
		timestep float64
	}{
		{src: "K", dst: "m"},
		{src: "J m-2", dst: "W m-2"}, // no timestep
		{src: "Pa", dst: "kg"},
		{src: "furlong", dst: "m"},
	}
	for _, test := range tests {
		t.Run(test.src+"->"+test.dst, func(t *testing.T) {
			_, err := Convert(test.src, test.dst, test.timestep)
			var ue *UnitConversionError
			if !errors.As(err, &ue) {
				t.Fatalf("expected UnitConversionError, got %v", err)
			}
		})
	}
}

func TestParserNicknames(t *testing.T) {
	p := &Parser{Nicknames: map[string]string{"mm/d": "mm day-1"}}
	c, err := p.Convert("mm/d", "m s-1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if different(c.Factor, 1e-3/86400, 1e-10) {
		t.Errorf("factor: have %g", c.Factor)
	}
	u, err := p.Parse("hPa")
	if err != nil {
		t.Fatal(err)
	}
	if u.Value() != 100 {
		t.Errorf("hPa scale: have %g", u.Value())
	}
}
