package profile

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/hupe1980/darena/internal/buddy"
	"github.com/hupe1980/darena/internal/conv"
)

// CompressionType defines the compression algorithm used for the payload.
type CompressionType uint8

const (
	// CompressionNone stores the payload raw.
	CompressionNone CompressionType = 0
	// CompressionLZ4 indicates LZ4 block compression (fast).
	CompressionLZ4 CompressionType = 1
	// CompressionZSTD indicates ZSTD compression (better ratio).
	CompressionZSTD CompressionType = 2
)

func (c CompressionType) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

const (
	version    = 1
	headerSize = 16
	// maxPayload bounds decoded sizes so corrupt headers cannot force huge allocations.
	maxPayload = 1 << 30
)

var magic = [4]byte{'D', 'A', 'P', 'F'}

var (
	// ErrBadMagic is returned when the input is not a profile.
	ErrBadMagic = errors.New("profile: bad magic")
	// ErrUnsupportedVersion is returned for profiles written by a newer encoder.
	ErrUnsupportedVersion = errors.New("profile: unsupported version")
	// ErrCorrupt is returned when the payload does not decode.
	ErrCorrupt = errors.New("profile: corrupt payload")
)

// ZSTD encoder/decoder pools for efficiency
var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// Encode writes s to w using the requested compression.
func Encode(w io.Writer, s *Snapshot, compression CompressionType) error {
	payload, err := marshal(s)
	if err != nil {
		return err
	}
	if len(payload) > maxPayload {
		return fmt.Errorf("profile: payload of %d bytes exceeds limit", len(payload))
	}

	body, used, err := compress(payload, compression)
	if err != nil {
		return err
	}

	var hdr [headerSize]byte
	copy(hdr[0:4], magic[:])
	hdr[4] = version
	hdr[5] = byte(used)
	binary.LittleEndian.PutUint32(hdr[8:], uint32(len(payload))) //nolint:gosec // checked against maxPayload
	binary.LittleEndian.PutUint32(hdr[12:], uint32(len(body)))   //nolint:gosec // body <= payload

	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

// Decode reads a snapshot written by Encode.
func Decode(r io.Reader) (*Snapshot, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	if !bytes.Equal(hdr[0:4], magic[:]) {
		return nil, ErrBadMagic
	}
	if hdr[4] != version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, hdr[4])
	}
	compression := CompressionType(hdr[5])
	rawSize := binary.LittleEndian.Uint32(hdr[8:])
	bodySize := binary.LittleEndian.Uint32(hdr[12:])
	if rawSize > maxPayload || bodySize > maxPayload {
		return nil, fmt.Errorf("%w: sizes %d/%d exceed limit", ErrCorrupt, rawSize, bodySize)
	}

	body := make([]byte, bodySize)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	payload, err := decompress(body, int(rawSize), compression)
	if err != nil {
		return nil, err
	}
	return unmarshal(payload)
}

// compress returns the body and the compression actually applied.
func compress(data []byte, compression CompressionType) ([]byte, CompressionType, error) {
	var out []byte
	switch compression {
	case CompressionNone:
		return data, CompressionNone, nil
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, 0, err
		}
		out = buf[:n]
	case CompressionZSTD:
		enc := getZstdEncoder()
		out = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	default:
		return nil, 0, fmt.Errorf("profile: unknown compression %s", compression)
	}

	// If compression doesn't help (ratio > 0.9), store uncompressed
	if len(out) == 0 || float64(len(out)) > float64(len(data))*0.9 {
		return data, CompressionNone, nil
	}
	return out, compression, nil
}

func decompress(body []byte, rawSize int, compression CompressionType) ([]byte, error) {
	switch compression {
	case CompressionNone:
		if len(body) != rawSize {
			return nil, fmt.Errorf("%w: raw body is %d bytes, header says %d", ErrCorrupt, len(body), rawSize)
		}
		return body, nil
	case CompressionLZ4:
		out := make([]byte, rawSize)
		n, err := lz4.UncompressBlock(body, out)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		if n != rawSize {
			return nil, fmt.Errorf("%w: lz4 produced %d bytes, want %d", ErrCorrupt, n, rawSize)
		}
		return out, nil
	case CompressionZSTD:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		out, err := dec.DecodeAll(body, make([]byte, 0, rawSize))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		if len(out) != rawSize {
			return nil, fmt.Errorf("%w: zstd produced %d bytes, want %d", ErrCorrupt, len(out), rawSize)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown compression %d", ErrCorrupt, uint8(compression))
	}
}

func marshal(s *Snapshot) ([]byte, error) {
	if s.MaxOrder < 0 || s.MaxOrder > buddy.MaxOrderLimit || len(s.Free) != s.MaxOrder+1 {
		return nil, fmt.Errorf("profile: snapshot has %d free sets for max order %d", len(s.Free), s.MaxOrder)
	}

	var buf bytes.Buffer
	le := binary.LittleEndian
	putU64 := func(v int) error {
		u, err := conv.IntToUint64(v)
		if err != nil {
			return err
		}
		buf.Write(le.AppendUint64(nil, u))
		return nil
	}

	if err := putU64(s.BlockSize); err != nil {
		return nil, err
	}
	if err := putU64(s.TotalBytes); err != nil {
		return nil, err
	}
	buf.WriteByte(byte(s.MaxOrder))
	if s.Degraded {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}

	for _, bm := range s.Free {
		data, err := bm.ToBytes()
		if err != nil {
			return nil, err
		}
		if err := putU64(len(data)); err != nil {
			return nil, err
		}
		buf.Write(data)
	}

	if err := putU64(len(s.Used)); err != nil {
		return nil, err
	}
	for _, off := range s.usedOffsets() {
		if err := putU64(off); err != nil {
			return nil, err
		}
		buf.WriteByte(byte(s.Used[off])) //nolint:gosec // order <= MaxOrderLimit
	}

	if err := putU64(len(s.Overflow)); err != nil {
		return nil, err
	}
	for _, n := range s.Overflow {
		if err := putU64(n); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

type reader struct {
	data []byte
	err  error
}

func (r *reader) next(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.data) < n {
		r.err = fmt.Errorf("%w: truncated", ErrCorrupt)
		return nil
	}
	b := r.data[:n]
	r.data = r.data[n:]
	return b
}

func (r *reader) readInt() int {
	b := r.next(8)
	if b == nil {
		return 0
	}
	v, err := conv.Uint64ToInt(binary.LittleEndian.Uint64(b))
	if err != nil {
		r.err = fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return v
}

func (r *reader) readByte() byte {
	b := r.next(1)
	if b == nil {
		return 0
	}
	return b[0]
}

// count reads a length prefix whose elements occupy at least elem bytes each.
func (r *reader) count(elem int) int {
	n := r.readInt()
	if r.err == nil && n > len(r.data)/elem {
		r.err = fmt.Errorf("%w: count %d exceeds remaining payload", ErrCorrupt, n)
		return 0
	}
	return n
}

func unmarshal(payload []byte) (*Snapshot, error) {
	r := &reader{data: payload}
	s := &Snapshot{
		BlockSize:  r.readInt(),
		TotalBytes: r.readInt(),
		MaxOrder:   int(r.readByte()),
		Degraded:   r.readByte() == 1,
	}
	if r.err != nil {
		return nil, r.err
	}
	if s.MaxOrder > buddy.MaxOrderLimit {
		return nil, fmt.Errorf("%w: max order %d", ErrCorrupt, s.MaxOrder)
	}

	s.Free = make([]*roaring.Bitmap, s.MaxOrder+1)
	for o := range s.Free {
		data := r.next(r.readInt())
		if r.err != nil {
			return nil, r.err
		}
		bm := roaring.New()
		if err := bm.UnmarshalBinary(data); err != nil {
			return nil, fmt.Errorf("%w: order %d free set: %w", ErrCorrupt, o, err)
		}
		s.Free[o] = bm
	}

	nUsed := r.count(9)
	s.Used = make(map[int]int, nUsed)
	for i := 0; i < nUsed && r.err == nil; i++ {
		off := r.readInt()
		order := int(r.readByte())
		if order > s.MaxOrder {
			return nil, fmt.Errorf("%w: used block at %d has order %d", ErrCorrupt, off, order)
		}
		s.Used[off] = order
	}

	nOverflow := r.count(8)
	s.Overflow = make([]int, 0, nOverflow)
	for i := 0; i < nOverflow && r.err == nil; i++ {
		s.Overflow = append(s.Overflow, r.readInt())
	}

	if r.err != nil {
		return nil, r.err
	}
	if len(r.data) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, len(r.data))
	}
	return s, nil
}
