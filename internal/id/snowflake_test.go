package id

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Unique(t *testing.T) {
	require.NoError(t, Init(3))

	seen := make(map[int64]bool)
	prev := int64(0)
	for i := 0; i < 1000; i++ {
		v := New()
		assert.False(t, seen[v])
		assert.Greater(t, v, prev)
		seen[v] = true
		prev = v
	}
	assert.NotEmpty(t, NewString())
}
