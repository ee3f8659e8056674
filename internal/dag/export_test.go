package dag

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dagtree/internal/blockstore"
	"dagtree/internal/hash"
)

func putDir(t *testing.T, store blockstore.Store, entries ...Entry) Result {
	t.Helper()
	var childSize uint64
	for _, e := range entries {
		childSize += e.Link.Size
	}
	res, err := Put(context.Background(), store, &Node{Kind: KindDirectory, Entries: entries}, childSize)
	require.NoError(t, err)
	return res
}

func TestResolve_NestedDirectories(t *testing.T) {
	ctx := context.Background()
	store := blockstore.NewMemory()

	file, err := PutRaw(ctx, store, []byte("hello"))
	require.NoError(t, err)
	inner := putDir(t, store, Entry{Name: "hello.txt", Link: file})
	root := putDir(t, store, Entry{Name: "inner", Link: inner})

	got, err := Resolve(ctx, store, root, "/inner/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, file, got)

	got, err = Resolve(ctx, store, root, "")
	require.NoError(t, err)
	assert.Equal(t, root, got, "an empty path resolves to the root")

	var out bytes.Buffer
	require.NoError(t, Cat(ctx, store, file, &out))
	assert.Equal(t, "hello", out.String())
}

func TestLookup_MissingEntry(t *testing.T) {
	ctx := context.Background()
	store := blockstore.NewMemory()
	root := putDir(t, store)

	_, err := Lookup(ctx, store, root, "nope")
	assert.ErrorIs(t, err, ErrNoSuchEntry)

	_, err = Resolve(ctx, store, root, "a/b")
	assert.ErrorIs(t, err, ErrNoSuchEntry)
}

func TestExport_KindMismatch(t *testing.T) {
	ctx := context.Background()
	store := blockstore.NewMemory()
	file, err := PutRaw(ctx, store, []byte("data"))
	require.NoError(t, err)
	dir := putDir(t, store, Entry{Name: "f", Link: file})

	assert.Error(t, Cat(ctx, store, dir, &bytes.Buffer{}))
	_, err = Lookup(ctx, store, file, "x")
	assert.Error(t, err)
	for _, err := range List(ctx, store, file) {
		assert.Error(t, err)
	}
}

func TestLoad_UnknownBlock(t *testing.T) {
	_, err := Load(context.Background(), blockstore.NewMemory(), hash.Sum([]byte("absent")))
	assert.ErrorIs(t, err, blockstore.ErrNotFound)
}

func TestDecode_RejectsMalformedShards(t *testing.T) {
	ctx := context.Background()
	file := Result{ID: hash.Sum([]byte("f")), Kind: KindRaw, Size: 1, FileSize: 1}

	tests := []struct {
		name string
		node Node
	}{
		{name: "zero width", node: Node{Kind: KindShardedDirectory}},
		{name: "width one", node: Node{Kind: KindShardedDirectory, Width: 1}},
		{name: "too wide", node: Node{Kind: KindShardedDirectory, Width: MaxShardWidth + 1}},
		{name: "nested top", node: Node{Kind: KindShardedDirectory, Depth: 2, Width: 4}},
		{name: "shard at depth zero", node: Node{Kind: KindShard, Width: 4}},
		{name: "shard too deep", node: Node{Kind: KindShard, Depth: MaxShardDepth, Width: 4}},
		{name: "negative depth", node: Node{Kind: KindShard, Depth: -1, Width: 4}},
		{name: "bucket out of range", node: Node{Kind: KindShardedDirectory, Width: 4, Buckets: []Bucket{
			{Index: 4, Entries: []Entry{{Name: "a", Link: file}}},
		}}},
		{name: "bucket with entries and shard", node: Node{Kind: KindShardedDirectory, Width: 4, Buckets: []Bucket{
			{Index: 1, Entries: []Entry{{Name: "a", Link: file}}, Shard: &file},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := blockstore.NewMemory()
			res, err := Put(ctx, store, &tt.node, 0)
			require.NoError(t, err)
			res.Kind = KindShardedDirectory

			_, err = Lookup(ctx, store, res, "a")
			assert.Error(t, err)
			for _, err := range List(ctx, store, res) {
				assert.Error(t, err)
			}
		})
	}
}

func TestDecode_AcceptsValidShard(t *testing.T) {
	n := &Node{Kind: KindShard, Depth: 1, Width: 256, Buckets: []Bucket{{Index: 255}}}
	data, err := Encode(n)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, 256, got.Width)
}
