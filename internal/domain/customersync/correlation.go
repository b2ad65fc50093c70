package customersync

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Correlation carries the i95Dev identifiers a result must be acknowledged with.
type Correlation struct {
	MessageID any
	SourceID  string
}

// CorrelationIndex maps correlation keys (email, else reference) of pulled
// records to their acknowledgment identifiers. Later records win on
// duplicate keys.
type CorrelationIndex struct {
	entries map[string]Correlation
}

// NewCorrelationIndex indexes the pulled records. Records without a key are skipped.
func NewCorrelationIndex(records []SourceRecord) *CorrelationIndex {
	idx := &CorrelationIndex{entries: make(map[string]Correlation, len(records))}
	for _, rec := range records {
		key := normalizeKey(rec.CorrelationKey())
		if key == "" {
			continue
		}
		idx.entries[key] = Correlation{MessageID: rec.MessageID, SourceID: rec.SourceID}
	}
	return idx
}

// Lookup returns the correlation of the first key that is indexed.
func (idx *CorrelationIndex) Lookup(keys ...string) (Correlation, bool) {
	if idx == nil {
		return Correlation{}, false
	}
	for _, k := range keys {
		k = normalizeKey(k)
		if k == "" {
			continue
		}
		if c, ok := idx.entries[k]; ok {
			return c, true
		}
	}
	return Correlation{}, false
}

// Len returns the number of indexed keys.
func (idx *CorrelationIndex) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.entries)
}

func normalizeKey(k string) string {
	return norm.NFC.String(strings.TrimSpace(k))
}
