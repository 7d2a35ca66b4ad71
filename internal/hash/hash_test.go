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

package hash

import "testing"

type descriptor struct {
	Name   string
	Values []float64
}

type opaque struct {
	f func()
}

type named string

func (n named) String() string { return "named:" + string(n) }

func TestHash(t *testing.T) {
	a := Hash(descriptor{Name: "tco79", Values: []float64{1, 2}})
	b := Hash(descriptor{Name: "tco79", Values: []float64{1, 2}})
	c := Hash(descriptor{Name: "tco79", Values: []float64{1, 3}})
	if a != b {
		t.Errorf("equal objects hash differently: %s != %s", a, b)
	}
	if a == c {
		t.Error("different objects have the same hash")
	}
	if len(a) != 32 {
		t.Errorf("hash length %d", len(a))
	}
	if h := Hash(named("x")); h != "named:x" {
		t.Errorf("stringer: %s", h)
	}
	if Hash(opaque{}) != Hash(opaque{}) {
		t.Error("fallback hash is not stable")
	}
}
