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

package cloud

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestBlob(t *testing.T) {
	dir, err := ioutil.TempDir("", "cloud")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	ctx := context.Background()

	bucket, err := OpenBucket(ctx, "file://"+filepath.Join(dir, "bucket"))
	if err != nil {
		t.Fatal(err)
	}
	defer bucket.Close()

	if err := WriteBlob(ctx, bucket, "weights/a.nc", []byte("abc")); err != nil {
		t.Fatal(err)
	}
	if err := WriteBlob(ctx, bucket, "other/b.nc", []byte("def")); err != nil {
		t.Fatal(err)
	}
	b, err := ReadBlob(ctx, bucket, "weights/a.nc")
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "abc" {
		t.Errorf("have %q, want abc", b)
	}
	keys, err := ListBlobs(ctx, bucket, "weights/")
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"weights/a.nc"}; !reflect.DeepEqual(keys, want) {
		t.Errorf("keys: have %v, want %v", keys, want)
	}
	if _, err := ReadBlob(ctx, bucket, "weights/missing.nc"); err == nil {
		t.Error("expected an error for a missing blob")
	}
}

func TestOpenBucketInvalid(t *testing.T) {
	if _, err := OpenBucket(context.Background(), "ftp://x"); err == nil {
		t.Error("expected an error")
	}
}

func TestMemBucket(t *testing.T) {
	ctx := context.Background()
	bucket, err := OpenBucket(ctx, "mem://")
	if err != nil {
		t.Fatal(err)
	}
	defer bucket.Close()
	if err := WriteBlob(ctx, bucket, "weights/a.nc", []byte("abc")); err != nil {
		t.Fatal(err)
	}
	b, err := ReadBlob(ctx, bucket, "weights/a.nc")
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "abc" {
		t.Errorf("have %q, want abc", b)
	}
	if _, err := OpenBucket(ctx, "ftp://host/dir"); err == nil {
		t.Error("expected an error for an unsupported provider")
	}
}
