package snowflake

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewNodeBounds(t *testing.T) {
	_, err := NewNode(-1)
	require.Error(t, err)
	_, err = NewNode(1024)
	require.Error(t, err)
	_, err = NewNode(1023)
	require.NoError(t, err)
}

func TestGenerateUniqueAndMonotonic(t *testing.T) {
	n, err := NewNode(1)
	require.NoError(t, err)

	seen := make(map[int64]struct{})
	prev := int64(0)
	for i := 0; i < 10000; i++ {
		id := n.Generate()
		require.Greater(t, id, prev)
		_, dup := seen[id]
		require.False(t, dup)
		seen[id] = struct{}{}
		prev = id
	}
}
