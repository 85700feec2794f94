package bayesnet

import (
	"fmt"
	"sort"
)

// Inference answers posterior-marginal queries on a fitted network by variable
// elimination. It holds no mutable state and is safe for concurrent use.
type Inference struct {
	net     *Network
	factors []*Factor
}

// NewInference validates the network and snapshots its CPDs.
func NewInference(net *Network) (*Inference, error) {
	if err := net.Validate(); err != nil {
		return nil, err
	}
	factors := make([]*Factor, 0, len(net.order))
	for _, name := range net.order {
		factors = append(factors, net.nodes[name].CPD)
	}
	return &Inference{net: net, factors: factors}, nil
}

// Network returns the network being queried.
func (inf *Inference) Network() *Network {
	return inf.net
}

// Query returns P(target | evidence) as a distribution over the target's states.
//
// Every CPD is restricted to the evidence, then each hidden variable is eliminated
// by multiplying the factors that mention it and summing it out. The next variable
// to eliminate is the one whose product factor would be smallest, ties broken by
// name. For the star topology this removes the free parents one at a time and
// leaves the outcome as the only surviving variable. The remaining factors are
// multiplied and normalized.
func (inf *Inference) Query(target string, evidence map[string]int) ([]float64, error) {
	tv, ok := inf.net.nodes[target]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVariable, target)
	}
	if _, ok := evidence[target]; ok {
		return nil, fmt.Errorf("%w: %s", ErrTargetInEvidence, target)
	}
	keys := sortedKeys(evidence)
	for _, name := range keys {
		node, ok := inf.net.nodes[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownVariable, name)
		}
		if v := evidence[name]; v < 0 || v >= node.Variable.Card {
			return nil, fmt.Errorf("%w: %s=%d", ErrValueOutOfRange, name, v)
		}
	}

	factors := make([]*Factor, 0, len(inf.factors))
	for _, f := range inf.factors {
		var err error
		for _, name := range keys {
			if f, err = f.Restrict(name, evidence[name]); err != nil {
				return nil, err
			}
		}
		// A fully observed factor is a constant and cannot change the normalized
		// posterior. Dropping it keeps evidence on a root whose value never occurred
		// in training from zeroing the whole query.
		if len(f.vars) == 0 {
			continue
		}
		factors = append(factors, f)
	}

	hidden := make(map[string]bool)
	for _, name := range inf.net.order {
		if _, observed := evidence[name]; !observed && name != target {
			hidden[name] = true
		}
	}

	for len(hidden) > 0 {
		name := nextToEliminate(factors, hidden)
		delete(hidden, name)

		var keep []*Factor
		var product *Factor
		for _, f := range factors {
			if !f.Has(name) {
				keep = append(keep, f)
				continue
			}
			if product == nil {
				product = f
				continue
			}
			var err error
			if product, err = product.Multiply(f); err != nil {
				return nil, err
			}
		}
		if product == nil {
			continue
		}
		summed, err := product.SumOut(name)
		if err != nil {
			return nil, err
		}
		factors = append(keep, summed)
	}

	result, err := NewFactor(nil, []float64{1})
	if err != nil {
		return nil, err
	}
	for _, f := range factors {
		if result, err = result.Multiply(f); err != nil {
			return nil, err
		}
	}
	if len(result.vars) != 1 || result.vars[0].Name != target {
		return nil, fmt.Errorf("%w: elimination left scope %s", ErrInvalidNetwork, result)
	}
	result, err = result.Normalize()
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", target, err)
	}
	if len(result.values) != tv.Variable.Card {
		return nil, fmt.Errorf("%w: %s", ErrCardinality, target)
	}
	return result.Values(), nil
}

// Probability returns P(target = value | evidence).
func (inf *Inference) Probability(target string, value int, evidence map[string]int) (float64, error) {
	dist, err := inf.Query(target, evidence)
	if err != nil {
		return 0, err
	}
	if value < 0 || value >= len(dist) {
		return 0, fmt.Errorf("%w: %s=%d", ErrValueOutOfRange, target, value)
	}
	return dist[value], nil
}

// nextToEliminate picks the hidden variable whose elimination creates the smallest
// intermediate factor.
func nextToEliminate(factors []*Factor, hidden map[string]bool) string {
	names := make([]string, 0, len(hidden))
	for name := range hidden {
		names = append(names, name)
	}
	sort.Strings(names)

	best, bestSize := "", -1
	for _, name := range names {
		scope := make(map[string]int)
		for _, f := range factors {
			if !f.Has(name) {
				continue
			}
			for _, v := range f.vars {
				scope[v.Name] = v.Card
			}
		}
		size := 1
		for _, card := range scope {
			size *= card
		}
		if bestSize < 0 || size < bestSize {
			best, bestSize = name, size
		}
	}
	return best
}
