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

package regrid

import (
	"context"
	"fmt"
	"regexp"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/ctessum/requestcache"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/aqua/cloud"
	"github.com/spatialmodel/aqua/internal/hash"
	"gocloud.dev/blob"
)

// WeightPrefix is the blob key prefix under which weights are stored.
const WeightPrefix = "weights/"

// WeightCache returns interpolation weights, computing them only when
// they are not already available in memory or in the shared bucket.
// Concurrent requests for the same weights are merged.
type WeightCache struct {
	Log       logrus.FieldLogger
	Generator Generator

	bucket *blob.Bucket
	cache  *requestcache.Cache

	mu sync.Mutex
	// attempts counts failed generations per key, so that a failure is
	// not served from the memory cache on the next request.
	attempts  map[string]int
	generated int64
}

// NewWeightCache returns a cache that stores weights in bucket and keeps
// up to memEntries weight sets in memory.
func NewWeightCache(bucket *blob.Bucket, gen Generator, memEntries int) *WeightCache {
	if memEntries < 1 {
		memEntries = 1
	}
	c := &WeightCache{
		Log:       logrus.StandardLogger(),
		Generator: gen,
		bucket:    bucket,
		attempts:  make(map[string]int),
	}
	c.cache = requestcache.NewCache(c.process, runtime.GOMAXPROCS(-1),
		requestcache.Deduplicate(), requestcache.Memory(memEntries))
	return c
}

// OpenWeightCache opens the bucket at url and returns a cache backed by
// it.
func OpenWeightCache(ctx context.Context, url string, gen Generator, memEntries int) (*WeightCache, error) {
	b, err := cloud.OpenBucket(ctx, url)
	if err != nil {
		return nil, err
	}
	return NewWeightCache(b, gen, memEntries), nil
}

// Close releases the bucket.
func (c *WeightCache) Close() error { return c.bucket.Close() }

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

type keyFields struct {
	Spec, Path string
	Lon, Lat   []float64
	Target     Target
	Method     string
	Mask       []bool
}

// Key returns the storage key of the weights for req. It is the same in
// every process.
func Key(req *Request) string {
	k := keyFields{
		Spec:   req.Grid.Spec,
		Path:   req.Grid.Path,
		Lon:    req.Grid.Lon,
		Lat:    req.Grid.Lat,
		Target: req.Target,
		Method: req.Method,
		Mask:   req.SrcMask,
	}
	k.Target.Name = ""
	prefix := unsafeKeyChars.ReplaceAllString(fmt.Sprintf("%s_%s_%s", req.Grid.Name, req.Target.Name, req.Method), "-")
	return prefix + "_" + hash.Hash(fmt.Sprintf("%+v", k))
}

// Generated returns the number of times weights have been computed.
func (c *WeightCache) Generated() int {
	return int(atomic.LoadInt64(&c.generated))
}

type result struct {
	ws  *WeightSet
	err error
}

// Weights returns the weights for req. Failures are returned unchanged;
// no other method is tried.
func (c *WeightCache) Weights(ctx context.Context, req *Request) (*WeightSet, error) {
	key := Key(req)
	c.mu.Lock()
	attempt := c.attempts[key]
	c.mu.Unlock()

	r, err := c.cache.NewRequest(ctx, req, fmt.Sprintf("%s#%d", key, attempt)).Result()
	if err != nil {
		return nil, err
	}
	res := r.(*result)
	if res.err != nil {
		c.mu.Lock()
		if c.attempts[key] == attempt {
			c.attempts[key]++
		}
		c.mu.Unlock()
		return nil, res.err
	}
	return res.ws, nil
}

// process loads or computes weights. Errors are carried in the result
// so that waiting duplicate requests are released.
func (c *WeightCache) process(ctx context.Context, payload interface{}) (interface{}, error) {
	req := payload.(*Request)
	ws, err := c.load(ctx, req)
	return &result{ws: ws, err: err}, nil
}

func (c *WeightCache) load(ctx context.Context, req *Request) (*WeightSet, error) {
	key := Key(req)
	blobKey := WeightPrefix + key + ".nc"
	log := c.Log.WithFields(logrus.Fields{"key": key, "grid": req.Grid.Name, "target": req.Target.Name, "method": req.Method})

	if ws, err := c.read(ctx, blobKey); err != nil || ws != nil {
		if ws != nil {
			log.Debug("loaded stored weights")
		}
		return ws, err
	}

	log.Info("generating weights; this may take a while")
	atomic.AddInt64(&c.generated, 1)
	ws, err := c.Generator.Generate(ctx, req)
	if err != nil {
		return nil, &WeightGenerationError{Key: key, Err: err}
	}
	ws.Key = key
	ws.Method = req.Method

	// Another process may have stored the same weights in the meantime.
	if stored, err := c.read(ctx, blobKey); err != nil || stored != nil {
		return stored, err
	}
	b, err := ws.MarshalNetCDF()
	if err != nil {
		return nil, &WeightGenerationError{Key: key, Err: err}
	}
	if err := cloud.WriteBlob(ctx, c.bucket, blobKey, b); err != nil {
		return nil, err
	}
	log.Info("stored weights")
	return ws, nil
}

// read returns the stored weights at blobKey, or nil if there are none.
func (c *WeightCache) read(ctx context.Context, blobKey string) (*WeightSet, error) {
	ok, err := c.bucket.Exists(ctx, blobKey)
	if err != nil || !ok {
		return nil, err
	}
	b, err := cloud.ReadBlob(ctx, c.bucket, blobKey)
	if err != nil {
		return nil, err
	}
	ws, err := UnmarshalNetCDF(b)
	if err != nil {
		return nil, fmt.Errorf("regrid: reading stored weights %s: %v", blobKey, err)
	}
	return ws, nil
}

// Stored returns the keys of all weights in the bucket.
func (c *WeightCache) Stored(ctx context.Context) ([]string, error) {
	return cloud.ListBlobs(ctx, c.bucket, WeightPrefix)
}
