package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringArrayRoundTrip(t *testing.T) {
	arr := StringArray{"a", "b", "c"}
	val, err := arr.Value()
	require.NoError(t, err)

	var out StringArray
	require.NoError(t, out.Scan(val))
	assert.Equal(t, arr, out)
}

func TestStringArrayEmpty(t *testing.T) {
	var arr StringArray
	val, err := arr.Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", val)

	var out StringArray
	require.NoError(t, out.Scan(nil))
	assert.Empty(t, out)
}

func TestJSONMapRoundTrip(t *testing.T) {
	m := JSONMap{"weight": float64(3), "examples": []interface{}{"foo@L10"}}
	val, err := m.Value()
	require.NoError(t, err)

	var out JSONMap
	require.NoError(t, out.Scan(val))
	assert.Equal(t, m, out)
}

func TestVectorRoundTrip(t *testing.T) {
	v := Vector{0.5, -0.25, 1}
	val, err := v.Value()
	require.NoError(t, err)

	var out Vector
	require.NoError(t, out.Scan(val))
	assert.Equal(t, v, out)
}
