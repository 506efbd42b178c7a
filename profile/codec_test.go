package profile

import (
	"bytes"
	"math/rand/v2"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sampleSnapshot models a 1 MiB pool of 64 KiB roots with 512 B leaves,
// after alloc(100) split the first root all the way down.
func sampleSnapshot() *Snapshot {
	s := &Snapshot{
		BlockSize:  512,
		MaxOrder:   7,
		TotalBytes: 1 << 20,
		Degraded:   true,
		Free:       make([]*roaring.Bitmap, 8),
		Used:       map[int]int{0: 0},
		Overflow:   []int{70000},
	}
	for o := range s.Free {
		s.Free[o] = roaring.New()
	}
	for o := 0; o < 7; o++ {
		s.Free[o].Add(1)
	}
	s.Free[7].AddRange(1, 16)
	return s
}

func TestSnapshot_Report(t *testing.T) {
	s := sampleSnapshot()
	r := s.Report()

	assert.Equal(t, 1<<20, r.TotalBytes)
	assert.Equal(t, (1<<20)-512, r.FreeBytes)
	assert.Equal(t, (1<<20)-512, s.FreeBytes())
	assert.Equal(t, 512, r.UsedBytes)
	assert.Equal(t, 1, r.UsedBlocks)
	assert.Equal(t, 64*1024, r.LargestFreeBlock)
	assert.Equal(t, 15, r.FreeBlocks[7])
	assert.Equal(t, 1, r.FreeBlocks[0])
	assert.Equal(t, 1, r.OverflowCount)
	assert.Equal(t, 70000, r.OverflowBytes)
	assert.InDelta(t, 1-float64(64*1024)/float64((1<<20)-512), r.Fragmentation, 1e-9)
	assert.Contains(t, r.String(), "overflow: 1 allocations")

	assert.Equal(t, []int{512}, s.FreeOffsets(0))
	assert.Equal(t, 15, len(s.FreeOffsets(7)))
	assert.Nil(t, s.FreeOffsets(8))
}

func TestReport_EmptyPool(t *testing.T) {
	s := sampleSnapshot()
	for _, bm := range s.Free {
		bm.Clear()
	}
	r := s.Report()
	assert.Equal(t, 0, r.FreeBytes)
	assert.Equal(t, 0.0, r.Fragmentation)
}

func TestEncodeDecode_AllCompressions(t *testing.T) {
	for _, c := range []CompressionType{CompressionNone, CompressionLZ4, CompressionZSTD} {
		t.Run(c.String(), func(t *testing.T) {
			s := sampleSnapshot()
			// Enough used blocks for compression to pay off.
			for i := 0; i < 2000; i++ {
				s.Used[(1<<20)+i*512] = 0
			}

			var buf bytes.Buffer
			require.NoError(t, Encode(&buf, s, c))

			got, err := Decode(&buf)
			require.NoError(t, err)

			assert.Equal(t, s.BlockSize, got.BlockSize)
			assert.Equal(t, s.MaxOrder, got.MaxOrder)
			assert.Equal(t, s.TotalBytes, got.TotalBytes)
			assert.Equal(t, s.Degraded, got.Degraded)
			assert.Equal(t, s.Used, got.Used)
			assert.Equal(t, s.Overflow, got.Overflow)
			require.Len(t, got.Free, len(s.Free))
			for o := range s.Free {
				assert.True(t, s.Free[o].Equals(got.Free[o]), "order %d", o)
			}
		})
	}
}

func TestEncode_IncompressibleFallsBackToRaw(t *testing.T) {
	s := sampleSnapshot()
	rng := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 1000; i++ {
		s.Overflow = append(s.Overflow, int(rng.Int64()))
	}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, s, CompressionZSTD))

	// Random sizes don't shrink by 10%; header records what was applied.
	hdr := buf.Bytes()[:headerSize]
	assert.Equal(t, byte(CompressionNone), hdr[5])

	got, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, s.Overflow, got.Overflow)
}

func TestDecode_Errors(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, sampleSnapshot(), CompressionNone))
	valid := buf.Bytes()

	t.Run("bad magic", func(t *testing.T) {
		data := bytes.Clone(valid)
		data[0] = 'X'
		_, err := Decode(bytes.NewReader(data))
		assert.ErrorIs(t, err, ErrBadMagic)
	})

	t.Run("unsupported version", func(t *testing.T) {
		data := bytes.Clone(valid)
		data[4] = 99
		_, err := Decode(bytes.NewReader(data))
		assert.ErrorIs(t, err, ErrUnsupportedVersion)
	})

	t.Run("unknown compression", func(t *testing.T) {
		data := bytes.Clone(valid)
		data[5] = 7
		_, err := Decode(bytes.NewReader(data))
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("truncated body", func(t *testing.T) {
		_, err := Decode(bytes.NewReader(valid[:len(valid)-3]))
		assert.Error(t, err)
	})

	t.Run("short header", func(t *testing.T) {
		_, err := Decode(bytes.NewReader(valid[:5]))
		assert.Error(t, err)
	})
}

func TestEncode_RejectsInconsistentSnapshot(t *testing.T) {
	s := sampleSnapshot()
	s.Free = s.Free[:3]

	var buf bytes.Buffer
	assert.Error(t, Encode(&buf, s, CompressionNone))
}
