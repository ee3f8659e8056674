// Package dag builds and reads the content-addressed DAG for a file tree:
// file content folded into balanced trees of raw chunk leaves, and
// directory nodes (flat or sharded) linking names to child roots.
package dag

import (
	"context"
	"fmt"

	"dagtree/internal/blockstore"
	"dagtree/internal/codec"
	"dagtree/internal/hash"
)

const (
	// MaxShardDepth bounds shard nesting. The top of a sharded directory
	// is depth 0.
	MaxShardDepth = 8
	// MaxShardWidth is the largest bucket table a shard may carry.
	MaxShardWidth = 1 << 16
)

// Kind says how the block behind a Result is encoded.
type Kind uint8

const (
	// KindRaw is a bare chunk of file content with no envelope.
	KindRaw Kind = iota
	// KindFile is an interior file node linking chunks or sub-trees.
	KindFile
	// KindDirectory is a flat directory listing.
	KindDirectory
	// KindShardedDirectory is the top shard of a sharded directory.
	KindShardedDirectory
	// KindShard is a nested bucket table inside a sharded directory.
	KindShard
)

func (k Kind) String() string {
	switch k {
	case KindRaw:
		return "raw"
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	case KindShardedDirectory:
		return "sharded-directory"
	case KindShard:
		return "shard"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	if k > KindShard {
		return nil, fmt.Errorf("unknown kind %d", uint8(k))
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	for candidate := KindRaw; candidate <= KindShard; candidate++ {
		if candidate.String() == string(text) {
			*k = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown kind %q", text)
}

// IsFile reports whether k is file content.
func (k Kind) IsFile() bool { return k == KindRaw || k == KindFile }

// IsDirectory reports whether k is a directory root.
func (k Kind) IsDirectory() bool { return k == KindDirectory || k == KindShardedDirectory }

// Result is a finalized DAG node: its identifier and sizes. It doubles as
// the link stored in parent nodes.
type Result struct {
	ID   hash.ID `cbor:"id" json:"id"`
	Kind Kind    `cbor:"k" json:"kind"`
	// Size is the cumulative encoded size of every block reachable from
	// this node, including its own.
	Size uint64 `cbor:"s" json:"size"`
	// FileSize is the logical length of file content; zero for
	// directories.
	FileSize uint64 `cbor:"f,omitempty" json:"fileSize,omitempty"`
}

// Entry is a named link inside a directory block.
type Entry struct {
	Name    string `cbor:"n"`
	Link    Result `cbor:"l"`
	Mode    uint32 `cbor:"m,omitempty"`
	ModTime int64  `cbor:"t,omitempty"`
}

// Bucket is one occupied slot of a shard's bucket table. It holds either
// entries or a link to a nested shard, never both.
type Bucket struct {
	Index   int     `cbor:"i"`
	Entries []Entry `cbor:"e,omitempty"`
	Shard   *Result `cbor:"s,omitempty"`
}

// Node is the decoded form of every non-raw block.
type Node struct {
	Kind Kind `cbor:"k"`

	// File nodes.
	Links    []Result `cbor:"l,omitempty"`
	FileSize uint64   `cbor:"fs,omitempty"`

	// Flat directories.
	Entries []Entry `cbor:"e,omitempty"`

	// Directory metadata.
	Mode    uint32 `cbor:"m,omitempty"`
	ModTime int64  `cbor:"t,omitempty"`

	// Sharded directories and shards.
	Depth   int      `cbor:"d,omitempty"`
	Width   int      `cbor:"w,omitempty"`
	Buckets []Bucket `cbor:"b,omitempty"`
}

// Encode returns the block bytes for n.
func Encode(n *Node) ([]byte, error) {
	if n.Kind == KindRaw || n.Kind > KindShard {
		return nil, fmt.Errorf("cannot encode node of kind %s", n.Kind)
	}
	data, err := codec.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("encoding %s node: %w", n.Kind, err)
	}
	return data, nil
}

// Decode parses a non-raw block.
func Decode(data []byte) (*Node, error) {
	var n Node
	if err := codec.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("decoding node: %w", err)
	}
	if n.Kind == KindRaw || n.Kind > KindShard {
		return nil, fmt.Errorf("decoding node: unexpected kind %s", n.Kind)
	}
	if err := n.validateShard(); err != nil {
		return nil, fmt.Errorf("decoding %s node: %w", n.Kind, err)
	}
	return &n, nil
}

// validateShard checks the bucket table geometry of sharded nodes.
func (n *Node) validateShard() error {
	switch n.Kind {
	case KindShardedDirectory:
		if n.Depth != 0 {
			return fmt.Errorf("top shard at depth %d", n.Depth)
		}
	case KindShard:
		if n.Depth < 1 || n.Depth >= MaxShardDepth {
			return fmt.Errorf("shard depth %d outside [1, %d)", n.Depth, MaxShardDepth)
		}
	default:
		return nil
	}
	if n.Width < 2 || n.Width > MaxShardWidth {
		return fmt.Errorf("shard width %d outside [2, %d]", n.Width, MaxShardWidth)
	}
	for _, b := range n.Buckets {
		if b.Index < 0 || b.Index >= n.Width {
			return fmt.Errorf("bucket index %d outside width %d", b.Index, n.Width)
		}
		if b.Shard != nil && len(b.Entries) > 0 {
			return fmt.Errorf("bucket %d holds both entries and a shard", b.Index)
		}
	}
	return nil
}

// Put encodes n, writes it to store and returns its Result. childSize is
// the cumulative size of everything n links to.
func Put(ctx context.Context, store blockstore.Store, n *Node, childSize uint64) (Result, error) {
	data, err := Encode(n)
	if err != nil {
		return Result{}, err
	}
	id := hash.Sum(data)
	if err := store.Put(ctx, id, data); err != nil {
		return Result{}, blockstore.PutFailed(id, err)
	}
	return Result{
		ID:       id,
		Kind:     n.Kind,
		Size:     uint64(len(data)) + childSize,
		FileSize: n.FileSize,
	}, nil
}

// PutRaw stores a chunk of file content as a raw leaf.
func PutRaw(ctx context.Context, store blockstore.Store, data []byte) (Result, error) {
	id := hash.Sum(data)
	if err := store.Put(ctx, id, data); err != nil {
		return Result{}, blockstore.PutFailed(id, err)
	}
	return Result{
		ID:       id,
		Kind:     KindRaw,
		Size:     uint64(len(data)),
		FileSize: uint64(len(data)),
	}, nil
}

// Load fetches and decodes a non-raw block.
func Load(ctx context.Context, store blockstore.Store, id hash.ID) (*Node, error) {
	data, err := store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", id.Short(), err)
	}
	n, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", id.Short(), err)
	}
	return n, nil
}
