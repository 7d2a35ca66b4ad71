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
	"bytes"
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spatialmodel/aqua/dataset"
	"github.com/spatialmodel/aqua/internal/ncio"
	"golang.org/x/net/context/ctxhttp"
)

// Request is one archive query.
type Request struct {
	// Fields holds the query keys, such as "param", "date", "time",
	// "step" and "levelist". List values are joined with "/".
	Fields map[string]interface{} `json:"request"`

	// Config is the path of the archive configuration to use, if any.
	Config string `json:"config,omitempty"`
}

// Client retrieves data from a remote archive. Each call blocks for one
// request/response round trip.
type Client interface {
	Retrieve(ctx context.Context, req *Request) (*dataset.Dataset, error)
}

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// HTTPClient posts requests as JSON to an archive service that responds
// with a NetCDF file.
type HTTPClient struct {
	Endpoint string

	// HTTP is the client used for requests. http.DefaultClient is used
	// if it is nil.
	HTTP *http.Client
}

// ArchiveError reports a request that the archive rejected.
type ArchiveError struct {
	Status int
	Msg    string
}

func (e *ArchiveError) Error() string {
	return fmt.Sprintf("accessor: archive returned %d: %s", e.Status, e.Msg)
}

// Retrieve implements Client.
func (c *HTTPClient) Retrieve(ctx context.Context, req *Request) (*dataset.Dataset, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	resp, err := ctxhttp.Post(ctx, c.HTTP, c.Endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	b, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		msg := string(b)
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return nil, &ArchiveError{Status: resp.StatusCode, Msg: msg}
	}
	return ncio.Decode(func() (ncio.File, error) { return ncio.FromBytes(b) }, time.Time{}, time.Time{})
}
