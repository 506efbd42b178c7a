package darena

import (
	"bufio"
	"context"
	"io"

	"github.com/hupe1980/darena/profile"
	"github.com/hupe1980/darena/resource"
)

// WriteProfile encodes a Snapshot of the arena to w.
//
// The write is throttled by the IO limit of the arena's resource controller,
// if any; ctx bounds the wait. The snapshot is taken before any IO, so the
// arena lock is never held while writing.
func (a *DArena) WriteProfile(ctx context.Context, w io.Writer, compression profile.CompressionType) error {
	snap := a.Snapshot()

	bw := bufio.NewWriter(resource.NewRateLimitedWriter(ctx, w, a.rc))
	if err := profile.Encode(bw, snap, compression); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}

	a.logger.Debug("profile written",
		"compression", compression.String(),
		"free_bytes", snap.FreeBytes(),
		"used_blocks", len(snap.Used),
	)
	return nil
}
