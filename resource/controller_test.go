package resource

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestController_Memory(t *testing.T) {
	c := NewController(Config{MemoryLimitBytes: 100})

	require.True(t, c.TryAcquireMemory(50))
	assert.Equal(t, int64(50), c.MemoryUsage())

	require.True(t, c.TryAcquireMemory(40))
	assert.Equal(t, int64(90), c.MemoryUsage())

	// Acquire 20 (should fail - limit exceeded)
	assert.False(t, c.TryAcquireMemory(20))
	assert.Equal(t, int64(90), c.MemoryUsage())

	c.ReleaseMemory(50)
	assert.Equal(t, int64(40), c.MemoryUsage())

	require.NoError(t, c.AcquireMemory(context.Background(), 20))
	assert.Equal(t, int64(60), c.MemoryUsage())
	assert.Equal(t, int64(90), c.MemoryPeak())
	assert.Equal(t, int64(100), c.MemoryLimit())
}

func TestController_AcquireMemoryLargerThanLimit(t *testing.T) {
	c := NewController(Config{MemoryLimitBytes: 100})

	err := c.AcquireMemory(context.Background(), 101)
	assert.ErrorIs(t, err, ErrMemoryLimitExceeded)
	assert.Equal(t, int64(0), c.MemoryUsage())
}

func TestController_AcquireMemoryHonoursContext(t *testing.T) {
	c := NewController(Config{MemoryLimitBytes: 100})
	require.True(t, c.TryAcquireMemory(100))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := c.AcquireMemory(ctx, 10)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int64(100), c.MemoryUsage())
}

func TestController_UnlimitedMemory(t *testing.T) {
	c := NewController(Config{MemoryLimitBytes: 0})

	require.NoError(t, c.AcquireMemory(context.Background(), 1000))
	assert.Equal(t, int64(1000), c.MemoryUsage())

	c.ReleaseMemory(500)
	assert.Equal(t, int64(500), c.MemoryUsage())
	assert.Equal(t, int64(0), c.MemoryLimit())
}

func TestController_Nil(t *testing.T) {
	var c *Controller

	assert.True(t, c.TryAcquireMemory(1<<40))
	require.NoError(t, c.AcquireMemory(context.Background(), 1<<40))
	c.ReleaseMemory(1 << 40)
	assert.Equal(t, int64(0), c.MemoryUsage())
	require.NoError(t, c.AcquireIO(context.Background(), 1<<30))
}

func TestController_IO(t *testing.T) {
	c := NewController(Config{IOLimitBytesPerSec: 1024})

	require.NoError(t, c.AcquireIO(context.Background(), 1024))

	// The bucket is drained; waiting past the deadline fails fast.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, c.AcquireIO(ctx, 1024))

	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	assert.Error(t, c.AcquireIO(ctx, 4096))
}

func TestRateLimitedWriter(t *testing.T) {
	c := NewController(Config{IOLimitBytesPerSec: 1 << 20})

	var buf bytes.Buffer
	w := NewRateLimitedWriter(context.Background(), &buf, c)

	n, err := w.Write([]byte("profile"))
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Equal(t, "profile", buf.String())

	// Nil controller passes through.
	buf.Reset()
	w = NewRateLimitedWriter(context.Background(), &buf, nil)
	_, err = w.Write(make([]byte, 10<<20))
	require.NoError(t, err)
	assert.Equal(t, 10<<20, buf.Len())
}
