package config

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchema(t *testing.T) {
	raw, err := SchemaJSON()
	require.NoError(t, err)

	var doc struct {
		Title      string                     `json:"title"`
		Properties map[string]json.RawMessage `json:"properties"`
	}
	require.NoError(t, json.Unmarshal(raw, &doc))

	assert.Equal(t, "dittofs-exports configuration", doc.Title)
	for _, section := range []string{"logging", "server", "exports", "store", "cache", "access", "metrics"} {
		assert.Contains(t, doc.Properties, section)
	}

	var exports struct {
		Properties map[string]json.RawMessage `json:"properties"`
	}
	require.NoError(t, json.Unmarshal(doc.Properties["exports"], &exports))
	assert.Contains(t, exports.Properties, "generation")
	assert.Contains(t, exports.Properties, "debounce")
}
