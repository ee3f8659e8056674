package hash

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/zeebo/blake3"
)

// Size is the length in bytes of a content identifier.
const Size = 32

// ID is a content identifier: the BLAKE3 digest of a block's encoded bytes.
type ID [Size]byte

// Sum computes the content identifier of a block.
func Sum(data []byte) ID {
	return ID(blake3.Sum256(data))
}

// String returns the lowercase hex form of id.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// Short returns the short user-facing reference: "dag-" followed by the
// first 12 hex characters.
func (id ID) Short() string {
	return "dag-" + hex.EncodeToString(id[:6])
}

// IsZero reports whether id is the zero value, which never names a block.
func (id ID) IsZero() bool {
	return id == ID{}
}

// MarshalText implements encoding.TextMarshaler so IDs render as hex in
// JSON manifests.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Parse parses a 64-character hex string into an ID.
func Parse(s string) (ID, error) {
	var id ID
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("parsing content id: %w", err)
	}
	if len(decoded) != Size {
		return id, fmt.Errorf("content id is %d bytes, want %d", len(decoded), Size)
	}
	copy(id[:], decoded)
	return id, nil
}

// Bucket returns the shard bucket for name at the given shard depth. The
// name is hashed with xxHash64, salted with the depth so that names which
// collide at one level spread out at the next. The result is a pure
// function of (name, depth, width) and is stable across runs.
func Bucket(name string, depth, width int) int {
	if width <= 0 {
		panic("hash.Bucket: width must be positive")
	}
	h := xxhash.New()
	var salt [2]byte
	binary.BigEndian.PutUint16(salt[:], uint16(depth))
	h.Write(salt[:])
	h.WriteString(name)
	return int(h.Sum64() % uint64(width))
}

// MerkleHashFunc adapts BLAKE3 to the hash function signature expected by
// go-merkletree.
func MerkleHashFunc(data []byte) ([]byte, error) {
	sum := blake3.Sum256(data)
	return sum[:], nil
}
