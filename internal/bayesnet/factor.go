// Package bayesnet implements discrete Bayesian networks with exact inference by
// variable elimination.
package bayesnet

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
)

var (
	ErrUnknownVariable  = errors.New("unknown variable")
	ErrDuplicateVar     = errors.New("duplicate variable")
	ErrCardinality      = errors.New("cardinality mismatch")
	ErrValueOutOfRange  = errors.New("value out of range")
	ErrZeroPartition    = errors.New("factor sums to zero")
	ErrBadFactorSize    = errors.New("factor value count does not match its scope")
	ErrInvalidNetwork   = errors.New("invalid network")
	ErrTargetInEvidence = errors.New("query target is part of the evidence")
)

// Variable is a discrete random variable taking values 0..Card-1.
type Variable struct {
	Name string `json:"name"`
	Card int    `json:"card"`
}

// Factor is a non-negative table over an ordered set of variables.
// Values are stored row-major: the last variable varies fastest.
type Factor struct {
	vars    []Variable
	strides []int
	values  []float64
}

// NewFactor creates a factor. len(values) must equal the product of the cardinalities.
func NewFactor(vars []Variable, values []float64) (*Factor, error) {
	seen := make(map[string]bool, len(vars))
	for _, v := range vars {
		if v.Card <= 0 {
			return nil, fmt.Errorf("%w: %s has cardinality %d", ErrCardinality, v.Name, v.Card)
		}
		if seen[v.Name] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateVar, v.Name)
		}
		seen[v.Name] = true
	}
	f := newFactor(vars)
	if len(values) != len(f.values) {
		return nil, fmt.Errorf("%w: got %d values, want %d", ErrBadFactorSize, len(values), len(f.values))
	}
	copy(f.values, values)
	return f, nil
}

// newFactor allocates a zeroed factor over vars without validation.
func newFactor(vars []Variable) *Factor {
	f := &Factor{
		vars:    append([]Variable(nil), vars...),
		strides: make([]int, len(vars)),
	}
	size := 1
	for i := len(vars) - 1; i >= 0; i-- {
		f.strides[i] = size
		size *= vars[i].Card
	}
	f.values = make([]float64, size)
	return f
}

// Vars returns the factor's scope in storage order.
func (f *Factor) Vars() []Variable {
	return append([]Variable(nil), f.vars...)
}

// Values returns a copy of the table.
func (f *Factor) Values() []float64 {
	return append([]float64(nil), f.values...)
}

// Size is the number of table entries.
func (f *Factor) Size() int {
	return len(f.values)
}

// Has reports whether the variable is in scope.
func (f *Factor) Has(name string) bool {
	return f.position(name) >= 0
}

func (f *Factor) position(name string) int {
	for i, v := range f.vars {
		if v.Name == name {
			return i
		}
	}
	return -1
}

// Value looks up the entry for a full assignment of the scope.
func (f *Factor) Value(assignment map[string]int) (float64, error) {
	idx := 0
	for i, v := range f.vars {
		val, ok := assignment[v.Name]
		if !ok {
			return 0, fmt.Errorf("%w: %s not assigned", ErrUnknownVariable, v.Name)
		}
		if val < 0 || val >= v.Card {
			return 0, fmt.Errorf("%w: %s=%d", ErrValueOutOfRange, v.Name, val)
		}
		idx += val * f.strides[i]
	}
	return f.values[idx], nil
}

// Restrict fixes a variable to a value and drops it from the scope.
// Restricting a variable outside the scope returns the factor unchanged.
func (f *Factor) Restrict(name string, value int) (*Factor, error) {
	pos := f.position(name)
	if pos < 0 {
		return f, nil
	}
	if value < 0 || value >= f.vars[pos].Card {
		return nil, fmt.Errorf("%w: %s=%d", ErrValueOutOfRange, name, value)
	}

	rest := make([]Variable, 0, len(f.vars)-1)
	src := make([]int, 0, len(f.vars)-1)
	for i, v := range f.vars {
		if i != pos {
			rest = append(rest, v)
			src = append(src, f.strides[i])
		}
	}

	out := newFactor(rest)
	base := value * f.strides[pos]
	od := newOdometer(rest, src)
	for k := range out.values {
		out.values[k] = f.values[base+od.offsets[0]]
		od.next()
	}
	return out, nil
}

// Multiply returns the pointwise product over the union of both scopes.
// The result keeps f's variables first, then g's remaining ones.
func (f *Factor) Multiply(g *Factor) (*Factor, error) {
	vars := append([]Variable(nil), f.vars...)
	for _, v := range g.vars {
		pos := f.position(v.Name)
		if pos < 0 {
			vars = append(vars, v)
			continue
		}
		if f.vars[pos].Card != v.Card {
			return nil, fmt.Errorf("%w: %s is %d in one factor and %d in the other", ErrCardinality, v.Name, f.vars[pos].Card, v.Card)
		}
	}

	out := newFactor(vars)
	od := newOdometer(vars, f.stridesFor(vars), g.stridesFor(vars))
	for k := range out.values {
		out.values[k] = f.values[od.offsets[0]] * g.values[od.offsets[1]]
		od.next()
	}
	return out, nil
}

// SumOut marginalizes a variable away. Summing a variable outside the scope
// returns the factor unchanged.
func (f *Factor) SumOut(name string) (*Factor, error) {
	pos := f.position(name)
	if pos < 0 {
		return f, nil
	}

	rest := make([]Variable, 0, len(f.vars)-1)
	for i, v := range f.vars {
		if i != pos {
			rest = append(rest, v)
		}
	}

	out := newFactor(rest)
	od := newOdometer(f.vars, out.stridesFor(f.vars))
	for _, val := range f.values {
		out.values[od.offsets[0]] += val
		od.next()
	}
	return out, nil
}

// Normalize scales the table to sum to one.
func (f *Factor) Normalize() (*Factor, error) {
	sum := floats.Sum(f.values)
	if sum <= 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return nil, ErrZeroPartition
	}
	out := newFactor(f.vars)
	copy(out.values, f.values)
	floats.Scale(1/sum, out.values)
	return out, nil
}

// stridesFor maps f's strides onto another scope: zero for variables f lacks.
func (f *Factor) stridesFor(vars []Variable) []int {
	out := make([]int, len(vars))
	for i, v := range vars {
		if pos := f.position(v.Name); pos >= 0 {
			out[i] = f.strides[pos]
		}
	}
	return out
}

func (f *Factor) String() string {
	names := make([]string, len(f.vars))
	for i, v := range f.vars {
		names[i] = fmt.Sprintf("%s(%d)", v.Name, v.Card)
	}
	return "Factor(" + strings.Join(names, ", ") + ")"
}

// odometer walks all assignments of vars in row-major order while tracking one
// linear offset per stride vector.
type odometer struct {
	cards   []int
	assign  []int
	strides [][]int
	offsets []int
}

func newOdometer(vars []Variable, strides ...[]int) *odometer {
	cards := make([]int, len(vars))
	for i, v := range vars {
		cards[i] = v.Card
	}
	return &odometer{
		cards:   cards,
		assign:  make([]int, len(vars)),
		strides: strides,
		offsets: make([]int, len(strides)),
	}
}

func (o *odometer) next() {
	for j := len(o.cards) - 1; j >= 0; j-- {
		o.assign[j]++
		for s := range o.strides {
			o.offsets[s] += o.strides[s][j]
		}
		if o.assign[j] < o.cards[j] {
			return
		}
		for s := range o.strides {
			o.offsets[s] -= o.strides[s][j] * o.cards[j]
		}
		o.assign[j] = 0
	}
}
