package bayesnet

import (
	"fmt"
	"math"
	"sort"
)

// Node is a network variable with its parents and conditional probability table.
// The CPD scope is the parents in declared order followed by the variable itself,
// so each parent configuration owns a contiguous block of Card probabilities.
type Node struct {
	Variable Variable
	Parents  []string
	CPD      *Factor
}

// Network is a discrete Bayesian network. Structure is fixed at construction;
// after Fit it is only read.
type Network struct {
	nodes map[string]*Node
	order []string
}

// New creates an empty network.
func New() *Network {
	return &Network{nodes: make(map[string]*Node)}
}

// AddNode declares a variable and its parents. Parents may be declared later;
// Validate checks the finished structure.
func (n *Network) AddNode(v Variable, parents ...string) error {
	if v.Card <= 0 {
		return fmt.Errorf("%w: %s has cardinality %d", ErrCardinality, v.Name, v.Card)
	}
	if _, ok := n.nodes[v.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateVar, v.Name)
	}
	seen := make(map[string]bool, len(parents))
	for _, p := range parents {
		if p == v.Name || seen[p] {
			return fmt.Errorf("%w: bad parent %s for %s", ErrInvalidNetwork, p, v.Name)
		}
		seen[p] = true
	}
	n.nodes[v.Name] = &Node{Variable: v, Parents: append([]string(nil), parents...)}
	n.order = append(n.order, v.Name)
	return nil
}

// Star builds the naive topology: every parent is a root with a direct edge to the
// outcome, and there are no edges between parents.
func Star(outcome Variable, parents []Variable) (*Network, error) {
	n := New()
	names := make([]string, len(parents))
	for i, p := range parents {
		if err := n.AddNode(p); err != nil {
			return nil, err
		}
		names[i] = p.Name
	}
	if err := n.AddNode(outcome, names...); err != nil {
		return nil, err
	}
	return n, nil
}

// Node returns a node by name.
func (n *Network) Node(name string) (*Node, bool) {
	node, ok := n.nodes[name]
	return node, ok
}

// Variables returns the variables in declaration order.
func (n *Network) Variables() []Variable {
	out := make([]Variable, len(n.order))
	for i, name := range n.order {
		out[i] = n.nodes[name].Variable
	}
	return out
}

// Edges returns parent -> child pairs in declaration order.
func (n *Network) Edges() [][2]string {
	var out [][2]string
	for _, name := range n.order {
		for _, p := range n.nodes[name].Parents {
			out = append(out, [2]string{p, name})
		}
	}
	return out
}

// scope returns the CPD scope of a node: parents then the node.
func (n *Network) scope(node *Node) []Variable {
	vars := make([]Variable, 0, len(node.Parents)+1)
	for _, p := range node.Parents {
		vars = append(vars, n.nodes[p].Variable)
	}
	return append(vars, node.Variable)
}

// SetCPD assigns a conditional probability table laid out as parents..., variable.
// Each parent configuration block must sum to one.
func (n *Network) SetCPD(name string, values []float64) error {
	node, ok := n.nodes[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownVariable, name)
	}
	for _, p := range node.Parents {
		if _, ok := n.nodes[p]; !ok {
			return fmt.Errorf("%w: parent %s of %s", ErrUnknownVariable, p, name)
		}
	}
	f, err := NewFactor(n.scope(node), values)
	if err != nil {
		return fmt.Errorf("cpd %s: %w", name, err)
	}
	card := node.Variable.Card
	for start := 0; start < len(values); start += card {
		sum := 0.0
		for _, v := range values[start : start+card] {
			if v < 0 {
				return fmt.Errorf("%w: cpd %s has a negative entry", ErrInvalidNetwork, name)
			}
			sum += v
		}
		if math.Abs(sum-1) > 1e-9 {
			return fmt.Errorf("%w: cpd %s block at %d sums to %g", ErrInvalidNetwork, name, start, sum)
		}
	}
	node.CPD = f
	return nil
}

// Validate checks that every parent exists, the graph is acyclic and every node has a CPD.
func (n *Network) Validate() error {
	for _, name := range n.order {
		node := n.nodes[name]
		for _, p := range node.Parents {
			if _, ok := n.nodes[p]; !ok {
				return fmt.Errorf("%w: parent %s of %s", ErrUnknownVariable, p, name)
			}
		}
		if node.CPD == nil {
			return fmt.Errorf("%w: %s has no cpd", ErrInvalidNetwork, name)
		}
	}
	_, err := n.TopologicalOrder()
	return err
}

// TopologicalOrder returns the nodes parents-first. Ties follow declaration order.
func (n *Network) TopologicalOrder() ([]string, error) {
	indegree := make(map[string]int, len(n.order))
	children := make(map[string][]string, len(n.order))
	for _, name := range n.order {
		node := n.nodes[name]
		indegree[name] += len(node.Parents)
		for _, p := range node.Parents {
			children[p] = append(children[p], name)
		}
	}

	var queue, out []string
	for _, name := range n.order {
		if indegree[name] == 0 {
			queue = append(queue, name)
		}
	}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		out = append(out, name)
		for _, c := range children[name] {
			indegree[c]--
			if indegree[c] == 0 {
				queue = append(queue, c)
			}
		}
	}
	if len(out) != len(n.order) {
		return nil, fmt.Errorf("%w: graph has a cycle", ErrInvalidNetwork)
	}
	return out, nil
}

// Fit estimates every CPD from complete data by maximum likelihood.
//
// Counts are taken per parent configuration and normalized over the child's states.
// alpha is an additive pseudo-count per cell (0 for pure maximum likelihood). A parent
// configuration never seen in the data, with alpha 0, gets a uniform distribution
// instead of an undefined 0/0.
func (n *Network) Fit(data map[string][]int, alpha float64) error {
	if alpha < 0 {
		return fmt.Errorf("%w: negative pseudo-count", ErrInvalidNetwork)
	}
	rows := -1
	for _, name := range n.order {
		col, ok := data[name]
		if !ok {
			return fmt.Errorf("%w: no data column for %s", ErrUnknownVariable, name)
		}
		if rows >= 0 && len(col) != rows {
			return fmt.Errorf("%w: column %s has %d rows, want %d", ErrBadFactorSize, name, len(col), rows)
		}
		rows = len(col)
		card := n.nodes[name].Variable.Card
		for r, v := range col {
			if v < 0 || v >= card {
				return fmt.Errorf("%w: %s=%d at row %d", ErrValueOutOfRange, name, v, r)
			}
		}
	}

	for _, name := range n.order {
		node := n.nodes[name]
		for _, p := range node.Parents {
			if _, ok := n.nodes[p]; !ok {
				return fmt.Errorf("%w: parent %s of %s", ErrUnknownVariable, p, name)
			}
		}

		cpd := newFactor(n.scope(node))
		cols := make([][]int, len(cpd.vars))
		for i, v := range cpd.vars {
			cols[i] = data[v.Name]
		}
		for r := 0; r < rows; r++ {
			idx := 0
			for i, col := range cols {
				idx += col[r] * cpd.strides[i]
			}
			cpd.values[idx]++
		}

		card := node.Variable.Card
		for start := 0; start < len(cpd.values); start += card {
			block := cpd.values[start : start+card]
			total := alpha * float64(card)
			for _, c := range block {
				total += c
			}
			for i := range block {
				if total == 0 {
					block[i] = 1 / float64(card)
				} else {
					block[i] = (block[i] + alpha) / total
				}
			}
		}
		node.CPD = cpd
	}
	return nil
}

// Observed counts how many distinct parent configurations of a node appear in data.
// Useful to report sparsity of the outcome table.
func (n *Network) Observed(name string, data map[string][]int) (int, int, error) {
	node, ok := n.nodes[name]
	if !ok {
		return 0, 0, fmt.Errorf("%w: %s", ErrUnknownVariable, name)
	}
	total := 1
	strides := make([]int, len(node.Parents))
	for i := len(node.Parents) - 1; i >= 0; i-- {
		strides[i] = total
		total *= n.nodes[node.Parents[i]].Variable.Card
	}
	rows := len(data[name])
	for _, p := range node.Parents {
		if len(data[p]) != rows {
			return 0, 0, fmt.Errorf("%w: column %s has %d rows, want %d", ErrBadFactorSize, p, len(data[p]), rows)
		}
	}
	seen := make(map[int]bool)
	for r := 0; r < rows; r++ {
		idx := 0
		for i, p := range node.Parents {
			idx += data[p][r] * strides[i]
		}
		seen[idx] = true
	}
	return len(seen), total, nil
}

// sortedKeys returns map keys in lexical order.
func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
