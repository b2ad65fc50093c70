package customersync

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorrelationIndex(t *testing.T) {
	records := NewSourceRecords([]json.RawMessage{
		json.RawMessage(`{"email":"a@example.com","messageId":1,"sourceId":"S1"}`),
		json.RawMessage(`{"reference":"REF-2","messageId":2,"sourceId":"S2"}`),
		json.RawMessage(`{"messageId":3}`),
		json.RawMessage(`{"email":"a@example.com","messageId":4,"sourceId":"S4"}`),
	})

	idx := NewCorrelationIndex(records)
	assert.Equal(t, 2, idx.Len())

	t.Run("later duplicate wins", func(t *testing.T) {
		c, ok := idx.Lookup("a@example.com")
		require.True(t, ok)
		assert.Equal(t, json.Number("4"), c.MessageID)
		assert.Equal(t, "S4", c.SourceID)
	})

	t.Run("falls through keys in order", func(t *testing.T) {
		c, ok := idx.Lookup("", "missing@example.com", "REF-2")
		require.True(t, ok)
		assert.Equal(t, "S2", c.SourceID)
	})

	t.Run("keys are trimmed", func(t *testing.T) {
		_, ok := idx.Lookup("  a@example.com ")
		assert.True(t, ok)
	})

	t.Run("miss", func(t *testing.T) {
		_, ok := idx.Lookup("nobody")
		assert.False(t, ok)
	})

	t.Run("nil index", func(t *testing.T) {
		var nilIdx *CorrelationIndex
		_, ok := nilIdx.Lookup("a@example.com")
		assert.False(t, ok)
		assert.Zero(t, nilIdx.Len())
	})
}
