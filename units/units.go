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

// Package units parses the unit strings found in climate model output
// and computes the linear conversions between them.
package units

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/ctessum/unit"
)

// MoleDim is the dimension representing amount of substance.
var MoleDim = unit.NewDimension("mole")

// WaterDensity is the density of liquid water in kg m-3, used to
// reconcile water-equivalent depths with mass fluxes.
const WaterDensity = 1000.

// Unit is a parsed unit. The embedded value is the factor that
// converts a quantity in this unit to SI; Offset is added after
// scaling.
type Unit struct {
	*unit.Unit
	Offset float64
	Symbol string
}

type base struct {
	scale      float64
	dims       unit.Dimensions
	offset     float64
	prefixable bool
}

var (
	dimless  = unit.Dimensions{}
	length   = unit.Dimensions{unit.LengthDim: 1}
	mass     = unit.Dimensions{unit.MassDim: 1}
	timeD    = unit.Dimensions{unit.TimeDim: 1}
	temp     = unit.Dimensions{unit.TemperatureDim: 1}
	angle    = unit.Dimensions{unit.AngleDim: 1}
	pressure = unit.Dimensions{unit.MassDim: 1, unit.LengthDim: -1, unit.TimeDim: -2}
	energy   = unit.Dimensions{unit.MassDim: 1, unit.LengthDim: 2, unit.TimeDim: -2}
	power    = unit.Dimensions{unit.MassDim: 1, unit.LengthDim: 2, unit.TimeDim: -3}
	force    = unit.Dimensions{unit.MassDim: 1, unit.LengthDim: 1, unit.TimeDim: -2}
	volume   = unit.Dimensions{unit.LengthDim: 3}
)

var symbols = map[string]base{
	"m":   {scale: 1, dims: length, prefixable: true},
	"g":   {scale: 1e-3, dims: mass, prefixable: true},
	"t":   {scale: 1e3, dims: mass},
	"s":   {scale: 1, dims: timeD, prefixable: true},
	"K":   {scale: 1, dims: temp},
	"Pa":  {scale: 1, dims: pressure, prefixable: true},
	"bar": {scale: 1e5, dims: pressure, prefixable: true},
	"atm": {scale: 101325, dims: pressure},
	"W":   {scale: 1, dims: power, prefixable: true},
	"J":   {scale: 1, dims: energy, prefixable: true},
	"N":   {scale: 1, dims: force, prefixable: true},
	"L":   {scale: 1e-3, dims: volume, prefixable: true},
	"l":   {scale: 1e-3, dims: volume, prefixable: true},
	"Hz":  {scale: 1, dims: unit.Dimensions{unit.TimeDim: -1}, prefixable: true},
	"mol": {scale: 1, dims: unit.Dimensions{MoleDim: 1}, prefixable: true},
	"rad": {scale: 1, dims: angle},

	"sec":     {scale: 1, dims: timeD},
	"second":  {scale: 1, dims: timeD},
	"seconds": {scale: 1, dims: timeD},
	"min":     {scale: 60, dims: timeD},
	"minute":  {scale: 60, dims: timeD},
	"minutes": {scale: 60, dims: timeD},
	"h":       {scale: 3600, dims: timeD},
	"hr":      {scale: 3600, dims: timeD},
	"hour":    {scale: 3600, dims: timeD},
	"hours":   {scale: 3600, dims: timeD},
	"d":       {scale: 86400, dims: timeD},
	"day":     {scale: 86400, dims: timeD},
	"days":    {scale: 86400, dims: timeD},

	"degC": {scale: 1, dims: temp, offset: 273.15},
	"degK": {scale: 1, dims: temp},

	"deg":           {scale: math.Pi / 180, dims: angle},
	"degree":        {scale: math.Pi / 180, dims: angle},
	"degrees":       {scale: math.Pi / 180, dims: angle},
	"degree_north":  {scale: math.Pi / 180, dims: angle},
	"degrees_north": {scale: math.Pi / 180, dims: angle},
	"degree_east":   {scale: math.Pi / 180, dims: angle},
	"degrees_east":  {scale: math.Pi / 180, dims: angle},
	"degrees_N":     {scale: math.Pi / 180, dims: angle},
	"degrees_E":     {scale: math.Pi / 180, dims: angle},

	"%":   {scale: 1e-2, dims: dimless},
	"ppm": {scale: 1e-6, dims: dimless},
	"ppb": {scale: 1e-9, dims: dimless},
}

// prefixes are tried in order, so "da" precedes "d".
var prefixes = []struct {
	symbol string
	scale  float64
}{
	{"da", 1e1}, {"Y", 1e24}, {"Z", 1e21}, {"E", 1e18}, {"P", 1e15}, {"T", 1e12},
	{"G", 1e9}, {"M", 1e6}, {"k", 1e3}, {"h", 1e2}, {"d", 1e-1}, {"c", 1e-2},
	{"m", 1e-3}, {"μ", 1e-6}, {"u", 1e-6}, {"n", 1e-9}, {"p", 1e-12},
	{"f", 1e-15}, {"a", 1e-18},
}

// DefaultNicknames maps unit spellings that cannot be parsed directly
// to equivalent parsable strings.
var DefaultNicknames = map[string]string{
	"(0 - 1)":               "1",
	"0-1":                   "1",
	"~":                     "1",
	"-":                     "1",
	"dimensionless":         "1",
	"fraction":              "1",
	"psu":                   "1",
	"percent":               "%",
	"°C":                    "degC",
	"deg_C":                 "degC",
	"celsius":               "degC",
	"degrees_Celsius":       "degC",
	"m of water equivalent": "m",
	"gpm":                   "m",
}

var (
	atomRE    = regexp.MustCompile(`^([A-Za-zμ%_]+)\^?([-+]?[0-9]+)?$`)
	numericRE = regexp.MustCompile(`^[-+]?[0-9]*\.?[0-9]+([eE][-+]?[0-9]+)?$`)
)

// Parser parses unit strings.
type Parser struct {
	// Nicknames maps alternative unit spellings to parsable strings.
	// If nil, DefaultNicknames is used.
	Nicknames map[string]string
}

func (p *Parser) nickname(s string) string {
	nn := DefaultNicknames
	if p != nil && p.Nicknames != nil {
		nn = p.Nicknames
	}
	if r, ok := nn[s]; ok {
		return r
	}
	return s
}

// Parse parses a unit string such as "kg m-2 s-1", "kg/m2/s", "m**2 s**-2",
// "hPa" or "degC".
func (p *Parser) Parse(s string) (*Unit, error) {
	s = strings.TrimSpace(s)
	s = p.nickname(s)
	if s == "" {
		return nil, fmt.Errorf("units: empty unit string")
	}
	norm := strings.NewReplacer("**", "^", "·", " ", "*", " ", "(", " ", ")", " ").Replace(s)
	parts := strings.Split(norm, "/")
	out := unit.New(1, dimless)
	var offset float64
	nAtoms := 0
	for i, part := range parts {
		sign := 1
		if i > 0 {
			sign = -1
		}
		fields := strings.Fields(part)
		if len(fields) == 0 {
			return nil, fmt.Errorf("units: invalid unit string %q", s)
		}
		for _, f := range fields {
			if numericRE.MatchString(f) {
				v, err := strconv.ParseFloat(f, 64)
				if err != nil {
					return nil, fmt.Errorf("units: parsing %q: %v", s, err)
				}
				if sign < 0 {
					v = 1 / v
				}
				out.Mul(unit.New(v, dimless))
				continue
			}
			m := atomRE.FindStringSubmatch(f)
			if m == nil {
				return nil, fmt.Errorf("units: cannot parse %q in %q", f, s)
			}
			b, err := lookup(p.nickname(m[1]))
			if err != nil {
				return nil, fmt.Errorf("units: %v in %q", err, s)
			}
			exp := 1
			if m[2] != "" {
				exp, _ = strconv.Atoi(m[2])
			}
			exp *= sign
			d := make(unit.Dimensions, len(b.dims))
			for k, v := range b.dims {
				d[k] = v * exp
			}
			out.Mul(unit.New(math.Pow(b.scale, float64(exp)), d))
			if exp == 1 {
				offset = b.offset
			}
			nAtoms++
		}
	}
	if nAtoms != 1 {
		offset = 0
	}
	return &Unit{Unit: out, Offset: offset, Symbol: s}, nil
}

func lookup(sym string) (base, error) {
	if b, ok := symbols[sym]; ok {
		return b, nil
	}
	for _, pf := range prefixes {
		if !strings.HasPrefix(sym, pf.symbol) {
			continue
		}
		if b, ok := symbols[strings.TrimPrefix(sym, pf.symbol)]; ok && b.prefixable {
			b.scale *= pf.scale
			return b, nil
		}
	}
	return base{}, fmt.Errorf("unknown unit symbol %q", sym)
}

// Parse parses a unit string using the default nicknames.
func Parse(s string) (*Unit, error) {
	var p *Parser
	return p.Parse(s)
}

// Conversion is the linear transformation y = x*Factor + Offset that
// converts values from one unit to another.
type Conversion struct {
	Factor, Offset float64

	// Heuristic names the assumption used to bridge incompatible
	// dimensions, if any.
	Heuristic string
}

// Apply converts x.
func (c Conversion) Apply(x float64) float64 { return x*c.Factor + c.Offset }

// Identity returns whether the conversion leaves values unchanged.
func (c Conversion) Identity() bool { return c.Factor == 1 && c.Offset == 0 }

// Heuristic names.
const (
	HeuristicWaterDensity = "water density"
	HeuristicTimestep     = "timestep"
)

var (
	densityDims     = unit.Dimensions{unit.MassDim: 1, unit.LengthDim: -3}
	invDensityDims  = unit.Dimensions{unit.MassDim: -1, unit.LengthDim: 3}
	rateDims        = unit.Dimensions{unit.TimeDim: -1}
	invRateDims     = unit.Dimensions{unit.TimeDim: 1}
	densityRateDims = unit.Dimensions{unit.MassDim: 1, unit.LengthDim: -3, unit.TimeDim: -1}
	invDensityRate  = unit.Dimensions{unit.MassDim: -1, unit.LengthDim: 3, unit.TimeDim: 1}
)

// Convert returns the conversion from src to dst units. When the
// dimensions differ, only two bridges are attempted: the density of
// water (for mass versus water-equivalent depth) and the timestep in
// seconds (for accumulated versus rate quantities). timestep may be
// zero if no timestep is known.
func (p *Parser) Convert(src, dst string, timestep float64) (Conversion, error) {
	su, err := p.Parse(src)
	if err != nil {
		return Conversion{}, &UnitConversionError{From: src, To: dst, Reason: err.Error()}
	}
	du, err := p.Parse(dst)
	if err != nil {
		return Conversion{}, &UnitConversionError{From: src, To: dst, Reason: err.Error()}
	}
	factor := su.Value() / du.Value()
	ratio := unit.Div(du.Unit, su.Unit).Dimensions()
	needStep := func() error {
		if timestep <= 0 {
			return &UnitConversionError{From: src, To: dst,
				Reason: "dimensions differ by time but no timestep is available"}
		}
		return nil
	}
	switch {
	case ratio.Matches(dimless):
		c := Conversion{Factor: factor}
		if su.Offset != 0 || du.Offset != 0 {
			c.Offset = (su.Offset - du.Offset) / du.Value()
		}
		return c, nil
	case ratio.Matches(densityDims):
		return Conversion{Factor: factor * WaterDensity, Heuristic: HeuristicWaterDensity}, nil
	case ratio.Matches(invDensityDims):
		return Conversion{Factor: factor / WaterDensity, Heuristic: HeuristicWaterDensity}, nil
	case ratio.Matches(rateDims):
		if err := needStep(); err != nil {
			return Conversion{}, err
		}
		return Conversion{Factor: factor / timestep, Heuristic: HeuristicTimestep}, nil
	case ratio.Matches(invRateDims):
		if err := needStep(); err != nil {
			return Conversion{}, err
		}
		return Conversion{Factor: factor * timestep, Heuristic: HeuristicTimestep}, nil
	case ratio.Matches(densityRateDims):
		if err := needStep(); err != nil {
			return Conversion{}, err
		}
		return Conversion{Factor: factor * WaterDensity / timestep,
			Heuristic: HeuristicWaterDensity + ", " + HeuristicTimestep}, nil
	case ratio.Matches(invDensityRate):
		if err := needStep(); err != nil {
			return Conversion{}, err
		}
		return Conversion{Factor: factor / WaterDensity * timestep,
			Heuristic: HeuristicWaterDensity + ", " + HeuristicTimestep}, nil
	}
	return Conversion{}, &UnitConversionError{From: src, To: dst,
		Reason: fmt.Sprintf("incompatible dimensions %v and %v", su.Dimensions(), du.Dimensions())}
}

// Convert returns the conversion from src to dst using the default
// nicknames.
func Convert(src, dst string, timestep float64) (Conversion, error) {
	var p *Parser
	return p.Convert(src, dst, timestep)
}

// UnitConversionError is returned when no conversion exists between
// two units.
type UnitConversionError struct {
	From, To string

	// Variable and Rule identify where the conversion was requested,
	// if known.
	Variable, Rule string

	Reason string
}

func (e *UnitConversionError) Error() string {
	var loc string
	if e.Variable != "" {
		loc = fmt.Sprintf(" for variable %q", e.Variable)
	}
	if e.Rule != "" {
		loc += fmt.Sprintf(" in fixer rule %q", e.Rule)
	}
	return fmt.Sprintf("units: cannot convert %q to %q%s: %s", e.From, e.To, loc, e.Reason)
}
