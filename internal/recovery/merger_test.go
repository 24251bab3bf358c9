package recovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeExactAnchor(t *testing.T) {
	merged, ok := Merge("the quick brown fox", "fox jumps over the lazy dog")
	require.True(t, ok)
	assert.Equal(t, "the quick brown fox jumps over the lazy dog", merged)
}

func TestMergeFuzzyAnchor(t *testing.T) {
	merged, ok := Merge("we should go to the restaurant", "resturant on main street")
	require.True(t, ok)
	assert.Equal(t, "we should go to the restaurant on main street", merged)
}

func TestMergePermissiveAppend(t *testing.T) {
	merged, ok := Merge("hello there", "completely unrelated words")
	require.True(t, ok)
	assert.Equal(t, "hello there completely unrelated words", merged)
}

func TestMergeEmptyRecoveredRejected(t *testing.T) {
	_, ok := Merge("hello there", "")
	assert.False(t, ok)
}

func TestMergeConfirmsTailWithoutGrowing(t *testing.T) {
	merged, ok := Merge("the weather is nice", "nice")
	require.True(t, ok)
	assert.Equal(t, "the weather is nice", merged)
}
