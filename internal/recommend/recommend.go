// Package recommend serves advice text keyed by disease and risk band.
package recommend

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/opensource-health/heron/internal/dataset"
	"github.com/opensource-health/heron/internal/domain"
)

// Table is an in-memory recommendation table. It is read-only after construction.
type Table struct {
	entries map[string]string
}

// NewTable indexes recommendation rows. Later rows win on duplicate keys.
func NewTable(rows []dataset.Recommendation) *Table {
	t := &Table{entries: make(map[string]string, len(rows))}
	for _, r := range rows {
		text := strings.TrimSpace(r.Text)
		if text == "" {
			continue
		}
		t.entries[key(r.Disease, r.Band)] = text
	}
	return t
}

// Empty returns a table without entries; every lookup misses.
func Empty() *Table {
	return &Table{entries: map[string]string{}}
}

// Load reads a recommendation file. An empty path yields an empty table.
func Load(path, sheet string) (*Table, error) {
	if path == "" {
		return Empty(), nil
	}
	rows, err := dataset.LoadRecommendations(path, sheet)
	if err != nil {
		return nil, err
	}
	return NewTable(rows), nil
}

// Recommendation implements domain.RecommendationProvider.
func (t *Table) Recommendation(disease, band string) (string, bool) {
	text, ok := t.entries[key(disease, band)]
	return text, ok
}

// Len is the number of entries.
func (t *Table) Len() int {
	return len(t.entries)
}

// Digest identifies the table content independent of row order.
func (t *Table) Digest() string {
	keys := make([]string, 0, len(t.entries))
	for k := range t.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(t.entries[k]))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Lookup returns the advice for a disease and band, or the fallback text.
func Lookup(p domain.RecommendationProvider, disease, band string) string {
	if p != nil {
		if text, ok := p.Recommendation(disease, band); ok {
			return text
		}
	}
	return domain.FallbackRecommendation
}

func key(disease, band string) string {
	return strings.TrimSpace(disease) + "|" + strings.TrimSpace(band)
}

var _ domain.RecommendationProvider = (*Table)(nil)
