package idgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextIDIsUniqueAndIncreasing(t *testing.T) {
	require.NoError(t, Init(7))

	seen := make(map[int64]struct{}, 1000)
	prev := NextID().Int64()
	for i := 0; i < 1000; i++ {
		id := NextID().Int64()
		assert.Greater(t, id, prev)
		_, dup := seen[id]
		assert.False(t, dup)
		seen[id] = struct{}{}
		prev = id
	}
	assert.Equal(t, int64(7), NextID().Node())
}

func TestInitRejectsOutOfRangeNode(t *testing.T) {
	assert.Error(t, Init(4096))
}

func TestObjectName(t *testing.T) {
	a, b := ObjectName(), ObjectName()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
	assert.Regexp(t, `^[0-9a-z]+$`, a)
}
