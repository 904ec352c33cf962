package guest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeHeadersJSON(t *testing.T) {
	headers, ok := decodeHeadersJSON([]byte(`{"a":"1","b":"2"}`))
	require.True(t, ok)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, headers)
}

func TestDecodeHeadersJSONNonStringValueBecomesEmpty(t *testing.T) {
	headers, ok := decodeHeadersJSON([]byte(`{"a":1,"b":true,"c":"ok"}`))
	require.True(t, ok)
	assert.Equal(t, map[string]string{"a": "", "b": "", "c": "ok"}, headers)
}

func TestDecodeHeadersJSONEmptyObject(t *testing.T) {
	headers, ok := decodeHeadersJSON([]byte(`{}`))
	require.True(t, ok)
	assert.Empty(t, headers)
}

func TestDecodeHeadersJSONRejectsNonObjectTopLevel(t *testing.T) {
	for _, raw := range [][]byte{
		[]byte(`"not an object"`),
		[]byte(`[1,2,3]`),
		[]byte(`not json at all`),
		[]byte(``),
	} {
		_, ok := decodeHeadersJSON(raw)
		assert.False(t, ok, "expected decode failure for %q", raw)
	}
}
