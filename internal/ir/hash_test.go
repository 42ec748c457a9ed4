package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateDigest_KnownValue(t *testing.T) {
	// SHA256("fluxtor/state/v1" + 0x00 + `{"count":1}`)
	d, err := StateDigest(map[string]any{"count": 1})
	require.NoError(t, err)
	assert.Equal(t, "e39fa6a160405af520372f55defadec2a33e3dd6de2b1d7db6f4e6d6d01bbe8e", d)
}

func TestPayloadDigest_KnownValue(t *testing.T) {
	d, err := PayloadDigest(map[string]any{"count": 1})
	require.NoError(t, err)
	assert.Equal(t, "9c303e009808af2fa9ae18b922e6b0c86a6409bf97e44edd4e8a84dbef6ad48b", d)
}

func TestStateDigest_IgnoresGoRepresentation(t *testing.T) {
	a, err := StateDigest(map[string]any{"count": 1, "name": "x"})
	require.NoError(t, err)

	// Different map type, different numeric types, same content
	b, err := StateDigest(namedState{"name": "x", "count": 1.0})
	require.NoError(t, err)
	c, err := StateDigest(map[string]any{"name": "x", "count": int64(1)})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, a, c)
	assert.Len(t, a, 64)
}

func TestDigest_DomainSeparation(t *testing.T) {
	v := map[string]any{"count": 1}
	assert.NotEqual(t, MustStateDigest(v), func() string {
		d, _ := PayloadDigest(v)
		return d
	}())
}

func TestStateDigest_Error(t *testing.T) {
	_, err := StateDigest(map[string]any{"f": func() {}})
	assert.Error(t, err)
	assert.Panics(t, func() { MustStateDigest(map[string]any{"f": func() {}}) })
}
