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

import (
	"fmt"

	"github.com/Knetic/govaluate"
	"github.com/ctessum/sparse"
	"github.com/spatialmodel/aqua/dataset"
)

// formula is a compiled derived-variable expression.
type formula struct {
	expr *govaluate.EvaluableExpression
	vars []string
}

// compileFormula parses s, which may contain only numbers, variable
// names, parentheses, and the operators + - * /. Variable names that
// are not valid identifiers, such as "2t", must be written in brackets:
// "[2t] - 273.15".
func compileFormula(s string) (*formula, error) {
	expr, err := govaluate.NewEvaluableExpression(s)
	if err != nil {
		return nil, fmt.Errorf("invalid formula %q: %v", s, err)
	}
	for _, t := range expr.Tokens() {
		switch t.Kind {
		case govaluate.NUMERIC, govaluate.VARIABLE, govaluate.CLAUSE, govaluate.CLAUSE_CLOSE:
		case govaluate.MODIFIER, govaluate.PREFIX:
			switch t.Value {
			case "+", "-", "*", "/":
			default:
				return nil, fmt.Errorf("operator %v is not allowed in formula %q", t.Value, s)
			}
		default:
			return nil, fmt.Errorf("token %v (%s) is not allowed in formula %q", t.Value, t.Kind.String(), s)
		}
	}
	seen := make(map[string]bool)
	var vars []string
	for _, v := range expr.Vars() {
		if !seen[v] {
			vars = append(vars, v)
			seen[v] = true
		}
	}
	if len(vars) == 0 {
		return nil, fmt.Errorf("formula %q does not refer to any variable", s)
	}
	return &formula{expr: expr, vars: vars}, nil
}

// evaluate lazily computes the formula over the given variables, which
// must all have the same shape. The result takes the dimensions of the
// first variable.
func (f *formula) evaluate(name string, inputs []*dataset.Variable) (*dataset.Variable, error) {
	first := inputs[0]
	for _, v := range inputs[1:] {
		if fmt.Sprint(v.Shape) != fmt.Sprint(first.Shape) {
			return nil, fmt.Errorf("shape %v of %s does not match shape %v of %s", v.Shape, v.Name, first.Shape, first.Name)
		}
	}
	attrs := make(dataset.Attributes)
	load := func() (*sparse.DenseArray, error) {
		arrays := make([]*sparse.DenseArray, len(inputs))
		for i, v := range inputs {
			a, err := v.Values()
			if err != nil {
				return nil, err
			}
			arrays[i] = a
		}
		out := sparse.ZerosDense(append([]int(nil), first.Shape...)...)
		params := make(map[string]interface{}, len(f.vars))
		for i := range out.Elements {
			for j, n := range f.vars {
				params[n] = arrays[j].Elements[i]
			}
			r, err := f.expr.Evaluate(params)
			if err != nil {
				return nil, fmt.Errorf("evaluating %s: %v", name, err)
			}
			v, ok := r.(float64)
			if !ok {
				return nil, fmt.Errorf("evaluating %s: result %v is not a number", name, r)
			}
			out.Elements[i] = v
		}
		return out, nil
	}
	return dataset.NewVariable(name, first.Dims, first.Shape, attrs, load), nil
}
