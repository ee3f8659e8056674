package blockstore

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies how a block is stored on disk. The tag is the
// first byte of every block file. Identifiers are always computed over
// the uncompressed bytes.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
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
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression parses a compression name as used in configuration.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", name)
	}
}

// MaxBlockSize bounds the uncompressed size of a single block.
const MaxBlockSize = 64 << 20

// lz4 cannot expand input by more than a factor of 255.
const lz4MaxRatio = 255

var (
	errIncompressible = errors.New("incompressible")

	// ErrBlockTooLarge is returned for blocks above MaxBlockSize.
	ErrBlockTooLarge = errors.New("block exceeds maximum size")
)

// Shared zstd codecs; EncodeAll and DecodeAll are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("blockstore: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxBlockSize))
	if err != nil {
		panic("blockstore: zstd decoder initialization failed: " + err.Error())
	}
}

// encodeBlock frames data as tag || uvarint(len(data)) || payload. When the
// requested compression does not shrink the block it is stored raw.
func encodeBlock(data []byte, c Compression) ([]byte, error) {
	if len(data) > MaxBlockSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrBlockTooLarge, len(data))
	}
	payload, err := compress(data, c)
	if errors.Is(err, errIncompressible) {
		c, payload, err = CompressionNone, data, nil
	}
	if err != nil {
		return nil, err
	}
	header := make([]byte, 1+binary.MaxVarintLen64)
	header[0] = byte(c)
	n := binary.PutUvarint(header[1:], uint64(len(data)))
	return append(header[:1+n], payload...), nil
}

func decodeBlock(framed []byte) ([]byte, error) {
	if len(framed) < 2 {
		return nil, fmt.Errorf("block frame too short: %d bytes", len(framed))
	}
	c := Compression(framed[0])
	size, n := binary.Uvarint(framed[1:])
	if n <= 0 {
		return nil, errors.New("block frame has malformed length")
	}
	if size > MaxBlockSize {
		return nil, fmt.Errorf("%w: header says %d bytes", ErrBlockTooLarge, size)
	}
	payload := framed[1+n:]

	switch c {
	case CompressionNone:
		if uint64(len(payload)) != size {
			return nil, fmt.Errorf("raw block is %d bytes, header says %d", len(payload), size)
		}
		return payload, nil
	case CompressionLZ4:
		if size > uint64(len(payload))*lz4MaxRatio {
			return nil, fmt.Errorf("lz4 payload of %d bytes cannot expand to %d", len(payload), size)
		}
		out := make([]byte, size)
		written, err := lz4.UncompressBlock(payload, out)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if uint64(written) != size {
			return nil, fmt.Errorf("lz4 block decompressed to %d bytes, want %d", written, size)
		}
		return out, nil
	case CompressionZstd:
		out, err := zstdDecoder.DecodeAll(payload, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if uint64(len(out)) != size {
			return nil, fmt.Errorf("zstd block decompressed to %d bytes, want %d", len(out), size)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported compression tag %d", uint8(c))
	}
}

func compress(data []byte, c Compression) ([]byte, error) {
	switch c {
	case CompressionNone:
		return data, nil
	case CompressionLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(data)))
		written, err := lz4.CompressBlock(data, dst, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		// CompressBlock reports 0 for incompressible input.
		if written == 0 || written >= len(data) {
			return nil, errIncompressible
		}
		return dst[:written], nil
	case CompressionZstd:
		out := zstdEncoder.EncodeAll(data, nil)
		if len(out) >= len(data) {
			return nil, errIncompressible
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported compression %d", uint8(c))
	}
}
