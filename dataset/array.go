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

package dataset

import (
	"fmt"

	"github.com/ctessum/sparse"
)

// Wrap returns an array with the given shape that uses elems as its
// storage. len(elems) must equal the product of shape.
func Wrap(elems []float64, shape ...int) *sparse.DenseArray {
	a := sparse.ZerosDense(append([]int(nil), shape...)...)
	if len(elems) != len(a.Elements) {
		panic(fmt.Errorf("dataset: %d elements do not fit shape %v", len(elems), shape))
	}
	a.Elements = elems
	return a
}

// axisLayout splits shape around axis into the number of outer blocks,
// the axis length, and the inner stride.
func axisLayout(shape []int, axis int) (outer, n, inner int) {
	outer, inner = 1, 1
	for i := 0; i < axis; i++ {
		outer *= shape[i]
	}
	for i := axis + 1; i < len(shape); i++ {
		inner *= shape[i]
	}
	return outer, shape[axis], inner
}

// Take returns the elements of a at positions idx along axis.
func Take(a *sparse.DenseArray, axis int, idx []int) *sparse.DenseArray {
	outer, n, inner := axisLayout(a.Shape, axis)
	shape := append([]int(nil), a.Shape...)
	shape[axis] = len(idx)
	out := make([]float64, outer*len(idx)*inner)
	for o := 0; o < outer; o++ {
		for j, i := range idx {
			src := a.Elements[(o*n+i)*inner : (o*n+i+1)*inner]
			copy(out[(o*len(idx)+j)*inner:], src)
		}
	}
	return Wrap(out, shape...)
}

// Slice returns the elements of a in [start, end) along axis.
func Slice(a *sparse.DenseArray, axis, start, end int) *sparse.DenseArray {
	idx := make([]int, end-start)
	for i := range idx {
		idx[i] = start + i
	}
	return Take(a, axis, idx)
}

// Flip reverses the order of a along axis.
func Flip(a *sparse.DenseArray, axis int) *sparse.DenseArray {
	n := a.Shape[axis]
	idx := make([]int, n)
	for i := range idx {
		idx[i] = n - 1 - i
	}
	return Take(a, axis, idx)
}

// ConcatArrays joins arrays along axis. All other dimensions must match.
func ConcatArrays(axis int, arrays ...*sparse.DenseArray) (*sparse.DenseArray, error) {
	if len(arrays) == 0 {
		return nil, fmt.Errorf("dataset: no arrays to concatenate")
	}
	shape := append([]int(nil), arrays[0].Shape...)
	shape[axis] = 0
	for _, a := range arrays {
		if len(a.Shape) != len(shape) {
			return nil, fmt.Errorf("dataset: cannot concatenate arrays of rank %d and %d", len(shape), len(a.Shape))
		}
		for i, s := range a.Shape {
			if i != axis && s != shape[i] {
				return nil, fmt.Errorf("dataset: cannot concatenate shapes %v and %v along axis %d",
					arrays[0].Shape, a.Shape, axis)
			}
		}
		shape[axis] += a.Shape[axis]
	}
	outer, total, inner := axisLayout(shape, axis)
	out := make([]float64, outer*total*inner)
	for o := 0; o < outer; o++ {
		pos := o * total * inner
		for _, a := range arrays {
			_, n, _ := axisLayout(a.Shape, axis)
			copy(out[pos:], a.Elements[o*n*inner:(o+1)*n*inner])
			pos += n * inner
		}
	}
	return Wrap(out, shape...), nil
}

// MoveAxisLast returns a copy of a with axis moved to the last position.
func MoveAxisLast(a *sparse.DenseArray, axis int) *sparse.DenseArray {
	outer, n, inner := axisLayout(a.Shape, axis)
	shape := make([]int, 0, len(a.Shape))
	shape = append(shape, a.Shape[:axis]...)
	shape = append(shape, a.Shape[axis+1:]...)
	shape = append(shape, n)
	out := make([]float64, len(a.Elements))
	for o := 0; o < outer; o++ {
		for k := 0; k < inner; k++ {
			for i := 0; i < n; i++ {
				out[(o*inner+k)*n+i] = a.Elements[(o*n+i)*inner+k]
			}
		}
	}
	return Wrap(out, shape...)
}

// MoveLastAxis is the inverse of MoveAxisLast: it moves the last axis
// of a to position axis.
func MoveLastAxis(a *sparse.DenseArray, axis int) *sparse.DenseArray {
	r := len(a.Shape)
	n := a.Shape[r-1]
	shape := make([]int, 0, r)
	shape = append(shape, a.Shape[:axis]...)
	shape = append(shape, n)
	shape = append(shape, a.Shape[axis:r-1]...)
	outer, _, inner := axisLayout(shape, axis)
	out := make([]float64, len(a.Elements))
	for o := 0; o < outer; o++ {
		for k := 0; k < inner; k++ {
			for i := 0; i < n; i++ {
				out[(o*n+i)*inner+k] = a.Elements[(o*inner+k)*n+i]
			}
		}
	}
	return Wrap(out, shape...)
}
