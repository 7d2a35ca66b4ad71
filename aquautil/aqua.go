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
	"io"
	"io/ioutil"
	"net/url"
	"strings"

	"github.com/spatialmodel/aqua"
	"github.com/spatialmodel/aqua/catalog"
	"github.com/spatialmodel/aqua/cloud"
	"github.com/spatialmodel/aqua/internal/ncio"
)

// List writes the keys and descriptions of the sources matching f to w.
func List(w io.Writer, env *aqua.Env, f catalog.Filter) error {
	next := env.Catalogs.Entries(f)
	for {
		s, err := next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if s.Description != "" {
			fmt.Fprintf(w, "%s\t%s\n", s.Key(), s.Description)
		} else {
			fmt.Fprintln(w, s.Key())
		}
	}
}

// Weights makes sure that the interpolation weights of the source
// selected by opts are stored, and returns their key. Sources whose grid
// is described by their coordinates are read for the dates in req.
func Weights(ctx context.Context, env *aqua.Env, opts aqua.Options, req aqua.Request) (string, error) {
	r, err := env.Open(ctx, opts)
	if err != nil {
		return "", err
	}
	ds, err := r.Retrieve(ctx, req)
	if err != nil {
		return "", err
	}
	ws, err := r.Weights(ctx, ds)
	if err != nil {
		return "", err
	}
	return ws.Key, nil
}

// Retrieve reads the data selected by opts and req, regrids it if
// opts.Regrid is set, and writes it as NetCDF to output, which may be a
// blob location.
func Retrieve(ctx context.Context, env *aqua.Env, opts aqua.Options, req aqua.Request, output string) error {
	r, err := env.Open(ctx, opts)
	if err != nil {
		return err
	}
	ds, err := r.Retrieve(ctx, req)
	if err != nil {
		return err
	}
	if opts.Regrid != "" {
		if ds, err = r.Regrid(ctx, ds); err != nil {
			return err
		}
	}
	b, err := ncio.Encode(ds)
	if err != nil {
		return err
	}
	r.Log.WithField("output", output).Info("writing output")
	return writeOutput(ctx, output, b)
}

// writeOutput writes b to a local file or to blob storage.
func writeOutput(ctx context.Context, path string, b []byte) error {
	if !IsBlob(path) {
		return ioutil.WriteFile(path, b, 0644)
	}
	u, err := url.Parse(path)
	if err != nil {
		return fmt.Errorf("aqua: parsing output location '%s': %v", path, err)
	}
	bucketURL, key := u.Scheme+"://"+u.Host, strings.TrimPrefix(u.Path, "/")
	if u.Scheme == "file" {
		// Local bucket paths have no host.
		i := strings.LastIndex(u.Path, "/")
		bucketURL, key = "file://"+u.Path[:i], u.Path[i+1:]
	}
	bucket, err := cloud.OpenBucket(ctx, bucketURL)
	if err != nil {
		return fmt.Errorf("aqua: opening bucket for output '%s': %v", path, err)
	}
	defer bucket.Close()
	return cloud.WriteBlob(ctx, bucket, key, b)
}
