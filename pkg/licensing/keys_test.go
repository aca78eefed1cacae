package licensing

import (
	"encoding/json"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashKey(t *testing.T) {
	// sha256("abc")
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", HashKey("abc"))
	assert.Equal(t, HashKey("k1"), HashKey("k1"))
	assert.NotEqual(t, HashKey("k1"), HashKey("k2"))
	assert.Len(t, HashKey(""), 64)
}

func TestGenerateKey(t *testing.T) {
	format := regexp.MustCompile(`^[0-9A-F]{32}$`)
	seen := make(map[string]bool)

	for i := 0; i < 100; i++ {
		key, err := GenerateKey()
		require.NoError(t, err)
		assert.Regexp(t, format, key)
		assert.False(t, seen[key], "duplicate key %s", key)
		seen[key] = true
		assert.NotEqual(t, key, HashKey(key))
	}
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "ABCD********WXYZ", MaskKey("ABCDEFGHIJKLWXYZ"))
	assert.Equal(t, "****", MaskKey("abcd"))
	assert.Equal(t, "", MaskKey(""))
}

func TestLimitJSON(t *testing.T) {
	tests := []struct {
		in   string
		want Limit
	}{
		{"null", Unlimited()},
		{`"unlimited"`, Unlimited()},
		{"42", Max(42)},
		{"0", Max(0)},
	}
	for _, tt := range tests {
		var l Limit
		require.NoError(t, json.Unmarshal([]byte(tt.in), &l), tt.in)
		assert.Equal(t, tt.want, l, tt.in)
	}

	var l Limit
	assert.Error(t, json.Unmarshal([]byte(`"lots"`), &l))

	out, err := json.Marshal(struct {
		A Limit `json:"a"`
		B Limit `json:"b"`
	}{Max(7), Unlimited()})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":7,"b":null}`, string(out))
}

func TestLimitAllows(t *testing.T) {
	assert.True(t, Max(10).Allows(10))
	assert.False(t, Max(10).Allows(11))
	assert.True(t, Max(0).Allows(0))
	assert.False(t, Max(0).Allows(1))
	assert.True(t, Unlimited().Allows(1<<62))

	v, ok := Max(3).Value()
	assert.True(t, ok)
	assert.Equal(t, int64(3), v)
	_, ok = Unlimited().Value()
	assert.False(t, ok)
	assert.Equal(t, "unlimited", Unlimited().String())
	assert.Equal(t, "3", Max(3).String())
}
