package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashStringStable(t *testing.T) {
	assert.Equal(t, HashString("cache key"), HashString("cache key"))
	assert.NotEqual(t, HashString("cache key"), HashString("other key"))
	assert.Len(t, HashString("anything"), 32)
}
