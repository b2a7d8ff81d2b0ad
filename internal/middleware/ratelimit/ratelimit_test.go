package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestAllowExhaustsBucket(t *testing.T) {
	rl := New(Config{MaxRequestsPerMinute: 3, WindowDuration: time.Hour, Logger: zap.NewNop()})
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		assert.True(t, rl.allow("client"), "request %d", i)
	}
	assert.False(t, rl.allow("client"))
}

func TestAllowIsolatesKeys(t *testing.T) {
	rl := New(Config{MaxRequestsPerMinute: 1, WindowDuration: time.Hour, Logger: zap.NewNop()})
	defer rl.Stop()

	assert.True(t, rl.allow("a"))
	assert.False(t, rl.allow("a"))
	assert.True(t, rl.allow("b"))
}

func TestAllowRefillsOverTime(t *testing.T) {
	rl := New(Config{MaxRequestsPerMinute: 2, WindowDuration: 20 * time.Millisecond, Logger: zap.NewNop()})
	defer rl.Stop()

	assert.True(t, rl.allow("client"))
	assert.True(t, rl.allow("client"))
	assert.False(t, rl.allow("client"))

	time.Sleep(30 * time.Millisecond)
	assert.True(t, rl.allow("client"))
}
