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
	"errors"
	"io/ioutil"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
)

// countingGenerator wraps LonLatGenerator, counting calls and optionally
// failing.
type countingGenerator struct {
	calls int64
	fail  bool
}

func (g *countingGenerator) Generate(ctx context.Context, req *Request) (*WeightSet, error) {
	atomic.AddInt64(&g.calls, 1)
	if g.fail {
		return nil, errors.New("generator failed")
	}
	return LonLatGenerator{}.Generate(ctx, req)
}

func tempCache(t *testing.T, gen Generator) (*WeightCache, string) {
	dir, err := ioutil.TempDir("", "aqua-weights")
	if err != nil {
		t.Fatal(err)
	}
	c, err := OpenWeightCache(context.Background(), "file://"+dir, gen, 4)
	if err != nil {
		os.RemoveAll(dir)
		t.Fatal(err)
	}
	logger, _ := test.NewNullLogger()
	c.Log = logger
	return c, dir
}

func testRequest() *Request {
	return &Request{Grid: &Grid{Name: "src", Spec: "r36x18"}, Target: ParseTarget("r18x9"), Method: "conservative"}
}

func TestKey(t *testing.T) {
	a, b := testRequest(), testRequest()
	if Key(a) != Key(b) {
		t.Errorf("keys differ for equal requests: %s, %s", Key(a), Key(b))
	}
	b.Method = "nearest"
	if Key(a) == Key(b) {
		t.Error("keys equal for different methods")
	}
	b = testRequest()
	b.Target = ParseTarget("r36x18")
	if Key(a) == Key(b) {
		t.Error("keys equal for different targets")
	}
	b = testRequest()
	b.SrcMask = make([]bool, 36*18)
	if Key(a) == Key(b) {
		t.Error("keys equal for masked and unmasked requests")
	}
}

func TestWeightCache(t *testing.T) {
	ctx := context.Background()
	gen := new(countingGenerator)
	c, dir := tempCache(t, gen)
	defer os.RemoveAll(dir)

	ws, err := c.Weights(ctx, testRequest())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Weights(ctx, testRequest()); err != nil {
		t.Fatal(err)
	}
	if c.Generated() != 1 || gen.calls != 1 {
		t.Errorf("generated %d times, want 1", c.Generated())
	}
	keys, err := c.Stored(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || keys[0] != WeightPrefix+Key(testRequest())+".nc" {
		t.Errorf("stored keys = %v", keys)
	}
	c.Close()

	// A new cache on the same bucket reads the stored weights.
	gen2 := new(countingGenerator)
	c2, err := OpenWeightCache(ctx, "file://"+dir, gen2, 4)
	if err != nil {
		t.Fatal(err)
	}
	defer c2.Close()
	ws2, err := c2.Weights(ctx, testRequest())
	if err != nil {
		t.Fatal(err)
	}
	if c2.Generated() != 0 {
		t.Errorf("generated %d times, want 0", c2.Generated())
	}
	if ws2.Key != ws.Key || ws2.Method != "conservative" || ws2.Weights.Len() != ws.Weights.Len() {
		t.Fatalf("stored weights differ: %s %s %d", ws2.Key, ws2.Method, ws2.Weights.Len())
	}
	for k := range ws.Weights.Vals {
		if ws.Weights.Rows[k] != ws2.Weights.Rows[k] || ws.Weights.Cols[k] != ws2.Weights.Cols[k] ||
			different(ws.Weights.Vals[k], ws2.Weights.Vals[k], 1e-12) {
			t.Fatalf("entry %d differs", k)
		}
	}
	for i := range ws.DstLat {
		if different(ws.DstLat[i], ws2.DstLat[i], 1e-12) {
			t.Fatalf("lat %d differs", i)
		}
	}
}

func TestWeightCacheConcurrent(t *testing.T) {
	gen := new(countingGenerator)
	c, dir := tempCache(t, gen)
	defer os.RemoveAll(dir)
	defer c.Close()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Weights(context.Background(), testRequest())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}
	if c.Generated() != 1 {
		t.Errorf("generated %d times, want 1", c.Generated())
	}
}

func TestWeightCacheFailure(t *testing.T) {
	ctx := context.Background()
	gen := &countingGenerator{fail: true}
	c, dir := tempCache(t, gen)
	defer os.RemoveAll(dir)
	defer c.Close()

	_, err := c.Weights(ctx, testRequest())
	var wge *WeightGenerationError
	if !errors.As(err, &wge) {
		t.Fatalf("have error %v, want a *WeightGenerationError", err)
	}
	if wge.Key != Key(testRequest()) {
		t.Errorf("error key %s", wge.Key)
	}

	// Failures are not cached.
	gen.fail = false
	if _, err := c.Weights(ctx, testRequest()); err != nil {
		t.Fatal(err)
	}
	if gen.calls != 2 {
		t.Errorf("generator called %d times, want 2", gen.calls)
	}
}
