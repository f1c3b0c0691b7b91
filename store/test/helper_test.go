package test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

// normalizeJSON re-encodes a JSON document so JSONB key reordering and
// whitespace do not affect comparisons.
func normalizeJSON(t *testing.T, text string) string {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(text), &v))
	bytes, err := json.Marshal(v)
	require.NoError(t, err)
	return string(bytes)
}

// unitVector returns a 384-dim vector with a single hot dimension.
func unitVector(hot int) []float32 {
	v := make([]float32, 384)
	v[hot%384] = 1
	return v
}
