package darena

import (
	"bytes"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestArena(t *testing.T, maxSize, maxBlockSize int, info Info, opts ...Option) *DArena {
	t.Helper()
	a, err := New(maxSize, maxBlockSize, info, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

// verify checks that free sets and used table partition the pool.
func verify(t *testing.T, a *DArena) {
	t.Helper()
	a.mu.Lock()
	defer a.mu.Unlock()
	require.NoError(t, a.tree.Check(a.used))
}

// recoverPanic runs fn and returns the value it panicked with.
func recoverPanic(fn func()) (v any) {
	defer func() { v = recover() }()
	fn()
	return nil
}

// syncBuffer is a bytes.Buffer safe for concurrent log writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func bufferLogger(level slog.Level) (*Logger, *syncBuffer) {
	buf := &syncBuffer{}
	return NewLogger(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: level})), buf
}
