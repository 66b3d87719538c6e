package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndGet(t *testing.T) {
	r := NewBaseRegistry[int]()

	require.NoError(t, r.Register("a", 1))
	require.NoError(t, r.Register("b", 2))

	got, ok := r.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, got)

	_, ok = r.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, 2, r.Count())
}

func TestRegisterRejectsDuplicatesAndEmptyNames(t *testing.T) {
	r := NewBaseRegistry[string]()

	require.NoError(t, r.Register("a", "x"))
	assert.Error(t, r.Register("a", "y"))
	assert.Error(t, r.Register("", "z"))
}

func TestNamesSorted(t *testing.T) {
	r := NewBaseRegistry[int]()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, r.Register(name, 0))
	}

	assert.Equal(t, []string{"alpha", "mid", "zeta"}, r.Names())
}

func TestRemoveAndClear(t *testing.T) {
	r := NewBaseRegistry[int]()
	require.NoError(t, r.Register("a", 1))

	require.NoError(t, r.Remove("a"))
	assert.Error(t, r.Remove("a"))

	require.NoError(t, r.Register("b", 2))
	r.Clear()
	assert.Zero(t, r.Count())
}
