// Package encoding maps categorical answers to the integer codes the models are trained on.
package encoding

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	ErrEmptyLabel    = errors.New("empty category label")
	ErrUnknownColumn = errors.New("unknown column")
)

// Normalize trims a raw label and title-cases it ("  high " -> "High", "YES" -> "Yes").
func Normalize(label string) string {
	s := strings.TrimSpace(label)
	if s == "" {
		return ""
	}
	return cases.Title(language.Und).String(s)
}

// Domain is the closed label set of one feature. Codes follow lexicographic
// order of the normalized labels, so the same training data always yields the same codes.
type Domain struct {
	labels []string
	codes  map[string]int
}

// FitDomain builds a domain from the values of a training column.
func FitDomain(values []string) (*Domain, error) {
	seen := make(map[string]bool)
	var labels []string
	for i, v := range values {
		n := Normalize(v)
		if n == "" {
			return nil, fmt.Errorf("%w at row %d", ErrEmptyLabel, i)
		}
		if !seen[n] {
			seen[n] = true
			labels = append(labels, n)
		}
	}
	sort.Strings(labels)
	return newDomain(labels), nil
}

func newDomain(sorted []string) *Domain {
	codes := make(map[string]int, len(sorted))
	for i, l := range sorted {
		codes[l] = i
	}
	return &Domain{labels: sorted, codes: codes}
}

// Encode normalizes a label and returns its code. ok is false for labels outside the domain.
func (d *Domain) Encode(label string) (code int, ok bool) {
	code, ok = d.codes[Normalize(label)]
	return code, ok
}

// Decode returns the label for a code.
func (d *Domain) Decode(code int) (string, bool) {
	if code < 0 || code >= len(d.labels) {
		return "", false
	}
	return d.labels[code], true
}

// Labels returns a copy of the ordered labels.
func (d *Domain) Labels() []string {
	out := make([]string, len(d.labels))
	copy(out, d.labels)
	return out
}

// Size is the number of labels.
func (d *Domain) Size() int {
	return len(d.labels)
}

// Encoder holds one domain per categorical feature plus the age-band domain.
// It is built once and only read afterwards.
type Encoder struct {
	domains map[string]*Domain
	age     *Domain
}

// Fit builds an encoder from categorical training columns.
func Fit(columns map[string][]string) (*Encoder, error) {
	e := &Encoder{
		domains: make(map[string]*Domain, len(columns)),
		age:     AgeDomain(),
	}
	for name, values := range columns {
		d, err := FitDomain(values)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", name, err)
		}
		e.domains[name] = d
	}
	return e, nil
}

// Domain returns the domain of a feature.
func (e *Encoder) Domain(feature string) (*Domain, bool) {
	d, ok := e.domains[feature]
	return d, ok
}

// AgeDomain returns the age-band domain used by this encoder.
func (e *Encoder) AgeDomain() *Domain {
	return e.age
}

// Transform encodes an answer. ok is false when either the feature or the label is unknown;
// callers leave such answers out of the evidence.
func (e *Encoder) Transform(feature, label string) (int, bool) {
	d, ok := e.domains[feature]
	if !ok {
		return 0, false
	}
	return d.Encode(label)
}

// EncodeColumn encodes a whole training column. Every value must be in the domain.
func (e *Encoder) EncodeColumn(feature string, values []string) ([]int, error) {
	d, ok := e.domains[feature]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownColumn, feature)
	}
	out := make([]int, len(values))
	for i, v := range values {
		code, ok := d.Encode(v)
		if !ok {
			return nil, fmt.Errorf("column %s row %d: label %q not in domain", feature, i, v)
		}
		out[i] = code
	}
	return out, nil
}

// EncodeAge maps an age to its band code. Any integer is accepted.
func (e *Encoder) EncodeAge(age int) int {
	code, _ := e.age.Encode(BandForAge(age).String())
	return code
}

// Features returns the encoded feature names, sorted.
func (e *Encoder) Features() []string {
	names := make([]string, 0, len(e.domains))
	for n := range e.domains {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
