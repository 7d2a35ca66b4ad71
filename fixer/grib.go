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

// GribParam holds the GRIB metadata for one parameter short name.
type GribParam struct {
	ParamID  int
	LongName string
	Units    string
}

// GribTable maps GRIB short names to parameter metadata.
var GribTable = map[string]GribParam{
	"2t":       {167, "2 metre temperature", "K"},
	"2d":       {168, "2 metre dewpoint temperature", "K"},
	"skt":      {235, "Skin temperature", "K"},
	"sst":      {34, "Sea surface temperature", "K"},
	"msl":      {151, "Mean sea level pressure", "Pa"},
	"sp":       {134, "Surface pressure", "Pa"},
	"10u":      {165, "10 metre U wind component", "m s**-1"},
	"10v":      {166, "10 metre V wind component", "m s**-1"},
	"t":        {130, "Temperature", "K"},
	"u":        {131, "U component of wind", "m s**-1"},
	"v":        {132, "V component of wind", "m s**-1"},
	"q":        {133, "Specific humidity", "kg kg**-1"},
	"w":        {135, "Vertical velocity", "Pa s**-1"},
	"z":        {129, "Geopotential", "m**2 s**-2"},
	"r":        {157, "Relative humidity", "%"},
	"tcc":      {164, "Total cloud cover", "(0 - 1)"},
	"ci":       {31, "Sea ice area fraction", "(0 - 1)"},
	"tcwv":     {137, "Total column vertically-integrated water vapour", "kg m**-2"},
	"tp":       {228, "Total precipitation", "m"},
	"sf":       {144, "Snowfall", "m of water equivalent"},
	"e":        {182, "Evaporation", "m of water equivalent"},
	"ro":       {205, "Runoff", "m"},
	"ssrd":     {169, "Surface short-wave (solar) radiation downwards", "J m**-2"},
	"strd":     {175, "Surface long-wave (thermal) radiation downwards", "J m**-2"},
	"ssr":      {176, "Surface net short-wave (solar) radiation", "J m**-2"},
	"str":      {177, "Surface net long-wave (thermal) radiation", "J m**-2"},
	"tsr":      {178, "Top net short-wave (solar) radiation", "J m**-2"},
	"ttr":      {179, "Top net long-wave (thermal) radiation", "J m**-2"},
	"sshf":     {146, "Surface sensible heat flux", "J m**-2"},
	"slhf":     {147, "Surface latent heat flux", "J m**-2"},
	"mtpr":     {235055, "Mean total precipitation rate", "kg m**-2 s**-1"},
	"tprate":   {260048, "Total precipitation rate", "kg m**-2 s**-1"},
	"msshf":    {235033, "Mean surface sensible heat flux", "W m**-2"},
	"mslhf":    {235034, "Mean surface latent heat flux", "W m**-2"},
	"msnswrf":  {235037, "Mean surface net short-wave radiation flux", "W m**-2"},
	"msnlwrf":  {235038, "Mean surface net long-wave radiation flux", "W m**-2"},
	"mtnswrf":  {235039, "Mean top net short-wave radiation flux", "W m**-2"},
	"mtnlwrf":  {235040, "Mean top net long-wave radiation flux", "W m**-2"},
	"msdwswrf": {235035, "Mean surface downward short-wave radiation flux", "W m**-2"},
	"msdwlwrf": {235036, "Mean surface downward long-wave radiation flux", "W m**-2"},
	"mer":      {235043, "Mean evaporation rate", "kg m**-2 s**-1"},
	"mror":     {235020, "Mean runoff rate", "kg m**-2 s**-1"},
}
