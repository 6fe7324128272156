package persistence

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression defines the snapshot payload compression algorithm.
type Compression uint8

const (
	// CompressionNone stores payloads uncompressed.
	CompressionNone Compression = 0
	// CompressionLZ4 uses LZ4 block compression (fast, moderate ratio).
	CompressionLZ4 Compression = 1
	// CompressionZstd uses Zstandard (better ratio, still fast for the
	// small payloads a gallery snapshot produces).
	CompressionZstd Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(c))
	}
}

// zstd encoder/decoder pools to avoid re-allocating codec state per snapshot.
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

// compressPayload compresses data with the given algorithm and prepends the
// block header: [uncompressedSize u32][storedSize u32]. storedSize == 0 marks
// an uncompressed block, used when compression does not pay off.
func compressPayload(data []byte, c Compression) ([]byte, error) {
	var compressed []byte

	switch c {
	case CompressionNone:
	case CompressionLZ4:
		bound := lz4.CompressBlockBound(len(data))
		buf := make([]byte, bound)
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			compressed = buf[:n]
		}
	case CompressionZstd:
		enc := getZstdEncoder()
		defer zstdEncoderPool.Put(enc)
		compressed = enc.EncodeAll(data, nil)
	default:
		return nil, fmt.Errorf("persistence: unknown compression %d", c)
	}

	// Store uncompressed when compression is off or does not help.
	if compressed == nil || len(compressed) >= len(data) {
		out := make([]byte, 8+len(data))
		binary.LittleEndian.PutUint32(out[0:], uint32(len(data)))
		binary.LittleEndian.PutUint32(out[4:], 0)
		copy(out[8:], data)
		return out, nil
	}

	out := make([]byte, 8+len(compressed))
	binary.LittleEndian.PutUint32(out[0:], uint32(len(data)))
	binary.LittleEndian.PutUint32(out[4:], uint32(len(compressed)))
	copy(out[8:], compressed)
	return out, nil
}

// decompressPayload reverses compressPayload.
func decompressPayload(data []byte, c Compression) ([]byte, error) {
	if len(data) < 8 {
		return nil, errors.New("persistence: payload too small for block header")
	}

	uncompressedSize := binary.LittleEndian.Uint32(data[0:])
	storedSize := binary.LittleEndian.Uint32(data[4:])

	if storedSize == 0 {
		if uint32(len(data)-8) < uncompressedSize {
			return nil, errors.New("persistence: truncated payload")
		}
		return data[8 : 8+uncompressedSize], nil
	}

	if uint32(len(data)-8) < storedSize {
		return nil, errors.New("persistence: truncated compressed payload")
	}
	stored := data[8 : 8+storedSize]
	result := make([]byte, uncompressedSize)

	switch c {
	case CompressionLZ4:
		n, err := lz4.UncompressBlock(stored, result)
		if err != nil {
			return nil, err
		}
		if uint32(n) != uncompressedSize {
			return nil, errors.New("persistence: decompressed size mismatch")
		}
		return result, nil

	case CompressionZstd:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		decoded, err := dec.DecodeAll(stored, result[:0])
		if err != nil {
			return nil, err
		}
		if uint32(len(decoded)) != uncompressedSize {
			return nil, errors.New("persistence: decompressed size mismatch")
		}
		return decoded, nil

	default:
		return nil, fmt.Errorf("persistence: compressed payload with compression %d", c)
	}
}
