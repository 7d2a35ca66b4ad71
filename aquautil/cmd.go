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

// Package aquautil holds the configuration and commands of the aqua
// command-line interface.
package aquautil

import (
	"context"
	"fmt"
	"os"

	"github.com/lnashier/viper"
	"github.com/spatialmodel/aqua"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	// Options are the configuration options available to AQUA.
	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "configdir",
			usage: `
              configdir is the directory holding the catalogs, fixes and
              grids subdirectories. It may contain environment variables.`,
			defaultVal: "${HOME}/.aqua",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "catalogs",
			usage: `
              catalogs lists the catalogs to load, highest priority first.
              If empty, all catalogs in configdir/catalogs are loaded.`,
			defaultVal: []string{},
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "weights",
			usage: `
              weights is the location where interpolation weights are stored.
              It can be a local directory (file:///path) or a bucket
              (gs://bucket or s3://bucket). By default weights are
              kept in configdir/weights.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "archive.endpoint",
			usage: `
              archive.endpoint is the URL of the service that answers data
              archive requests.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "loglevel",
			usage: `
              loglevel is the minimum level of log messages: debug, info,
              warning or error.`,
			defaultVal: "info",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "catalog",
			usage: `
              catalog restricts the search for a source to one catalog.`,
			shorthand:  "c",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{listCmd.Flags(), retrieveCmd.Flags(), weightsCmd.Flags()},
		},
		{
			name: "model",
			usage: `
              model is the model of the source.`,
			shorthand:  "m",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{listCmd.Flags(), retrieveCmd.Flags(), weightsCmd.Flags()},
		},
		{
			name: "exp",
			usage: `
              exp is the experiment of the source.`,
			shorthand:  "e",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{listCmd.Flags(), retrieveCmd.Flags(), weightsCmd.Flags()},
		},
		{
			name: "source",
			usage: `
              source is the name of the source.`,
			shorthand:  "s",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{listCmd.Flags(), retrieveCmd.Flags(), weightsCmd.Flags()},
		},
		{
			name: "regrid",
			usage: `
              regrid is the target grid, for example r100 for a regular
              1 degree grid. No regridding is done if it is empty.`,
			shorthand:  "r",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{retrieveCmd.Flags(), weightsCmd.Flags()},
		},
		{
			name: "method",
			usage: `
              method is the interpolation method. The default is the
              method of the source grid, or conservative.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{retrieveCmd.Flags(), weightsCmd.Flags()},
		},
		{
			name: "nofix",
			usage: `
              nofix disables the fixer so that raw data is returned.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{retrieveCmd.Flags()},
		},
		{
			name: "variables",
			usage: `
              variables lists the variables to retrieve.`,
			shorthand:  "v",
			defaultVal: []string{},
			flagsets:   []*pflag.FlagSet{retrieveCmd.Flags(), weightsCmd.Flags()},
		},
		{
			name: "levels",
			usage: `
              levels lists the vertical levels to retrieve, in the units
              of the source.`,
			defaultVal: []string{},
			flagsets:   []*pflag.FlagSet{retrieveCmd.Flags()},
		},
		{
			name: "startdate",
			usage: `
              startdate is the first date to retrieve, for example
              2020-01-01 or "2020-01-01 06:00".`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{retrieveCmd.Flags(), weightsCmd.Flags()},
		},
		{
			name: "enddate",
			usage: `
              enddate is the date after the last one to retrieve.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{retrieveCmd.Flags(), weightsCmd.Flags()},
		},
		{
			name: "output",
			usage: `
              output is the NetCDF file to write. It can be a local path or
              a blob location such as gs://bucket/file.nc.`,
			shorthand:  "o",
			defaultVal: "aqua.nc",
			flagsets:   []*pflag.FlagSet{retrieveCmd.Flags()},
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("AQUA")
	Cfg.AutomaticEnv()

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch option.defaultVal.(type) {
			case string:
				if option.shorthand == "" {
					set.String(option.name, option.defaultVal.(string), option.usage)
				} else {
					set.StringP(option.name, option.shorthand, option.defaultVal.(string), option.usage)
				}
			case []string:
				if option.shorthand == "" {
					set.StringSlice(option.name, option.defaultVal.([]string), option.usage)
				} else {
					set.StringSliceP(option.name, option.shorthand, option.defaultVal.([]string), option.usage)
				}
			case bool:
				if option.shorthand == "" {
					set.Bool(option.name, option.defaultVal.(bool), option.usage)
				} else {
					set.BoolP(option.name, option.shorthand, option.defaultVal.(bool), option.usage)
				}
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
}

func init() {
	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(listCmd)
	Root.AddCommand(weightsCmd)
	Root.AddCommand(retrieveCmd)
}

// setConfig finds and reads in the configuration file, if there is one.
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(os.ExpandEnv(cfgpath))
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("aqua: problem reading configuration file: %v", err)
		}
	}
	return nil
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "aqua",
	Short: "Read climate model output through data catalogs.",
	Long: `aqua reads climate model output that is described in data catalogs,
normalizes it with fixer rules and optionally interpolates it to a regular grid.
Use the subcommands specified below to access the functionality.

Configuration can be changed by using a configuration file (and providing the
path to the file using the --config flag), by using command-line arguments,
or by setting environment variables in the format 'AQUA_var' where 'var' is the
name of the variable to be set. Paths may contain environment variables.`,
	DisableAutoGenTag: true,
	PersistentPreRunE: func(*cobra.Command, []string) error { return setConfig() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of AQUA.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("AQUA v%s\n", aqua.Version)
	},
	DisableAutoGenTag: true,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the available sources.",
	Long: `list prints the sources of the loaded catalogs, one per line, in the
format catalog/model/exp/source. The catalog, model, exp and source
options restrict the listing.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		env, err := NewEnv(ctx, Cfg)
		if err != nil {
			return err
		}
		defer env.Close()
		return List(cmd.OutOrStdout(), env, filter(Cfg))
	},
	DisableAutoGenTag: true,
}

var weightsCmd = &cobra.Command{
	Use:   "weights",
	Short: "Compute interpolation weights.",
	Long: `weights computes the interpolation weights of a source for the
target grid given by the regrid option, and stores them so that later
readers do not need to compute them. Running it before starting many
readers in parallel avoids computing the same weights more than once.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		env, err := NewEnv(ctx, Cfg)
		if err != nil {
			return err
		}
		defer env.Close()
		opts := ReaderOptions(Cfg)
		if opts.Regrid == "" {
			return fmt.Errorf("aqua: the regrid option is required")
		}
		req, err := Request(Cfg)
		if err != nil {
			return err
		}
		key, err := Weights(ctx, env, opts, req)
		if err != nil {
			return err
		}
		cmd.Println(key)
		return nil
	},
	DisableAutoGenTag: true,
}

var retrieveCmd = &cobra.Command{
	Use:   "retrieve",
	Short: "Retrieve data from a source.",
	Long: `retrieve reads the selected variables and dates from a source, applies
its fixer rule, optionally regrids the result, and writes it to a NetCDF file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		env, err := NewEnv(ctx, Cfg)
		if err != nil {
			return err
		}
		defer env.Close()
		req, err := Request(Cfg)
		if err != nil {
			return err
		}
		return Retrieve(ctx, env, ReaderOptions(Cfg), req, os.ExpandEnv(Cfg.GetString("output")))
	},
	DisableAutoGenTag: true,
}
