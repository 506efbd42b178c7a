//go:build unix

package mmap

import (
	"errors"

	"golang.org/x/sys/unix"
)

func osMapAnon(size int) ([]byte, func([]byte) error, error) {
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, nil, err
	}
	return data, unix.Munmap, nil
}

func osRelease(b []byte) error {
	// madvise rejects ranges that do not start on a page boundary; the
	// pages then simply stay resident.
	if err := unix.Madvise(b, unix.MADV_DONTNEED); err != nil && !errors.Is(err, unix.EINVAL) {
		return err
	}
	return nil
}
