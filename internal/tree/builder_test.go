package tree

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math/rand"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dagtree/internal/blockstore"
	"dagtree/internal/dag"
	"dagtree/internal/hash"
)

func fileEntry(t *testing.T, store blockstore.Store, path string) PathEntry {
	t.Helper()
	res, err := dag.PutRaw(context.Background(), store, []byte("content of "+path))
	require.NoError(t, err)
	return PathEntry{Path: path, Result: &res, Meta: Metadata{Mode: 0o644}}
}

func collect(t *testing.T, seq func(func(Output, error) bool)) []Output {
	t.Helper()
	var outs []Output
	for out, err := range seq {
		require.NoError(t, err)
		outs = append(outs, out)
	}
	return outs
}

func names(dir Directory) []string {
	var out []string
	for name := range dir.EachChild() {
		out = append(out, name)
	}
	return out
}

func TestSplitPath(t *testing.T) {
	tests := []struct {
		path    string
		want    []string
		wantErr bool
	}{
		{path: "a", want: []string{"a"}},
		{path: "a/b/c.txt", want: []string{"a", "b", "c.txt"}},
		{path: "/a/b/", want: []string{"a", "b"}},
		{path: "", wantErr: true},
		{path: "/", wantErr: true},
		{path: "a//b", wantErr: true},
		{path: "a/./b", wantErr: true},
		{path: "../etc", wantErr: true},
		{path: "a/\x00", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := SplitPath(tt.path)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedPath)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuild_TwoTopLevelResults(t *testing.T) {
	ctx := context.Background()
	store := blockstore.NewMemory()
	entries := []PathEntry{
		fileEntry(t, store, "a/b.txt"),
		fileEntry(t, store, "a/c.txt"),
		fileEntry(t, store, "d.txt"),
	}

	run := func() map[string]dag.Result {
		opts := Options{ShardSplitThreshold: 10}
		outs := collect(t, Build(ctx, slicesSeq(entries), store, opts))
		top := make(map[string]dag.Result)
		for _, out := range outs {
			if !strings.Contains(out.Path, "/") {
				top[out.Path] = out.Result
			}
		}
		return top
	}

	top := run()
	require.Len(t, top, 2)
	require.Contains(t, top, "a")
	require.Contains(t, top, "d.txt")
	assert.Equal(t, dag.KindDirectory, top["a"].Kind)
	assert.Equal(t, *entries[2].Result, top["d.txt"])

	var listed []string
	for e, err := range dag.List(ctx, store, top["a"]) {
		require.NoError(t, err)
		listed = append(listed, e.Name)
	}
	assert.Equal(t, []string{"b.txt", "c.txt"}, listed)

	assert.Equal(t, top, run(), "identifiers must be stable across runs")
}

func TestBuilder_StreamsFilesImmediately(t *testing.T) {
	store := blockstore.NewMemory()
	b := NewBuilder(DefaultOptions())

	entry := fileEntry(t, store, "docs/readme.md")
	out, err := b.Add(entry)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, "docs/readme.md", out.Path)
	assert.Equal(t, *entry.Result, out.Result)
	assert.Same(t, b.Root(), out.Tree)

	out, err = b.Add(PathEntry{Path: "docs/empty", Meta: Metadata{Dir: true}})
	require.NoError(t, err)
	assert.Nil(t, out, "placeholders are never emitted while accumulating")
}

func TestBuilder_ShardsLargeDirectoryOnce(t *testing.T) {
	ctx := context.Background()
	store := blockstore.NewMemory()
	b := NewBuilder(Options{ShardSplitThreshold: 256})

	var sharded *ShardedDir
	inserted := make(map[string]dag.Result)
	for i := 0; i < 1000; i++ {
		entry := fileEntry(t, store, fmt.Sprintf("big/file-%04d", i))
		_, err := b.Add(entry)
		require.NoError(t, err)
		inserted[fmt.Sprintf("file-%04d", i)] = *entry.Result

		child, ok := b.Root().Get("big")
		require.True(t, ok)
		switch {
		case i < 256:
			assert.IsType(t, &FlatDir{}, child)
		case sharded == nil:
			require.IsType(t, &ShardedDir{}, child)
			sharded = child.(*ShardedDir)
		default:
			assert.Same(t, sharded, child, "directory must not be converted twice")
		}
	}

	require.NotNil(t, sharded)
	assert.Equal(t, 1000, sharded.Len())
	assert.Equal(t, "big", sharded.Path())
	assert.Same(t, b.Root(), sharded.Parent())
	for name, want := range inserted {
		got, ok := sharded.Get(name)
		require.True(t, ok, name)
		assert.Equal(t, want, got.(*Leaf).Result)
	}

	outs := collect(t, b.Finalize(ctx, store))
	require.Len(t, outs, 1)
	assert.Equal(t, dag.KindShardedDirectory, outs[0].Result.Kind)

	listed := 0
	for _, err := range dag.List(ctx, store, outs[0].Result) {
		require.NoError(t, err)
		listed++
	}
	assert.Equal(t, 1000, listed)

	e, err := dag.Lookup(ctx, store, outs[0].Result, "file-0777")
	require.NoError(t, err)
	assert.Equal(t, inserted["file-0777"], e.Link)
}

func TestBuilder_EnumeratesEveryNameOnce(t *testing.T) {
	store := blockstore.NewMemory()
	var paths []string
	for i := 0; i < 40; i++ {
		paths = append(paths, fmt.Sprintf("dir-%d/file-%d", i%3, i))
	}

	for seed := int64(1); seed <= 5; seed++ {
		for _, threshold := range []int{4, 1000} {
			t.Run(fmt.Sprintf("seed=%d/threshold=%d", seed, threshold), func(t *testing.T) {
				shuffled := slices.Clone(paths)
				rand.New(rand.NewSource(seed)).Shuffle(len(shuffled), func(i, j int) {
					shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
				})

				b := NewBuilder(Options{ShardSplitThreshold: threshold, ShardWidth: 8})
				want := make(map[string][]string)
				for _, p := range shuffled {
					_, err := b.Add(fileEntry(t, store, p))
					require.NoError(t, err)
					segments, _ := SplitPath(p)
					want[segments[0]] = append(want[segments[0]], segments[1])
				}

				assert.ElementsMatch(t, []string{"dir-0", "dir-1", "dir-2"}, names(b.Root()))
				for dirName, files := range want {
					child, ok := b.Root().Get(dirName)
					require.True(t, ok)
					got := names(child.(Directory))
					assert.ElementsMatch(t, files, got)
					assert.Equal(t, len(files), child.(Directory).Len())
				}
			})
		}
	}
}

func TestBuilder_IdentityIndependentOfInsertionOrder(t *testing.T) {
	ctx := context.Background()
	store := blockstore.NewMemory()
	var entries []PathEntry
	for i := 0; i < 50; i++ {
		entries = append(entries, fileEntry(t, store, fmt.Sprintf("src/pkg-%d/f%d.go", i%4, i)))
	}

	rootOf := func(order []PathEntry) dag.Result {
		opts := Options{ShardSplitThreshold: 3, ShardWidth: 4, WrapWithDirectory: true}
		outs := collect(t, Build(ctx, slicesSeq(order), store, opts))
		last := outs[len(outs)-1]
		require.Equal(t, "", last.Path)
		return last.Result
	}

	reversed := slices.Clone(entries)
	slices.Reverse(reversed)
	assert.Equal(t, rootOf(entries), rootOf(reversed))
}

func TestFlush_PostOrderAndIdempotent(t *testing.T) {
	ctx := context.Background()
	store := blockstore.NewMemory()
	b := NewBuilder(DefaultOptions())
	_, err := b.Add(fileEntry(t, store, "a/b/c/f.txt"))
	require.NoError(t, err)
	_, err = b.Add(fileEntry(t, store, "a/g.txt"))
	require.NoError(t, err)

	var order []string
	var first dag.Result
	for f, err := range b.Root().Flush(ctx, store) {
		require.NoError(t, err)
		order = append(order, f.Path)
		first = f.Result
	}
	assert.Equal(t, []string{"a/b/c", "a/b", "a", ""}, order)

	res, ok := b.Root().Result()
	require.True(t, ok)
	assert.Equal(t, first, res)
	assert.False(t, b.Root().Dirty())

	var second []Flushed
	for f, err := range b.Root().Flush(ctx, store) {
		require.NoError(t, err)
		second = append(second, f)
	}
	require.Len(t, second, 1, "clean children are linked, not re-flushed")
	assert.Equal(t, first, second[0].Result)
}

func TestBuilder_InvalidatesAncestors(t *testing.T) {
	ctx := context.Background()
	store := blockstore.NewMemory()
	b := NewBuilder(DefaultOptions())
	_, err := b.Add(fileEntry(t, store, "a/b/one.txt"))
	require.NoError(t, err)
	_, err = b.Add(fileEntry(t, store, "z/two.txt"))
	require.NoError(t, err)

	for _, err := range b.Root().Flush(ctx, store) {
		require.NoError(t, err)
	}

	_, err = b.Add(fileEntry(t, store, "a/b/three.txt"))
	require.NoError(t, err)

	a, _ := b.Root().Get("a")
	ab, _ := a.(Directory).Get("b")
	z, _ := b.Root().Get("z")
	for _, dir := range []Directory{b.Root(), a.(Directory), ab.(Directory)} {
		assert.True(t, dir.Dirty(), dir.Path())
		_, ok := dir.Result()
		assert.False(t, ok, dir.Path())
	}
	assert.False(t, z.(Directory).Dirty(), "siblings off the insertion path stay clean")
}

func TestBuilder_Placeholders(t *testing.T) {
	ctx := context.Background()
	store := blockstore.NewMemory()
	b := NewBuilder(DefaultOptions())
	mtime := time.Unix(1_700_000_000, 0)

	_, err := b.Add(PathEntry{Path: "empty", Meta: Metadata{Dir: true, Mode: 0o700}})
	require.NoError(t, err)
	_, err = b.Add(fileEntry(t, store, "full/x.txt"))
	require.NoError(t, err)
	_, err = b.Add(PathEntry{Path: "full", Meta: Metadata{Dir: true, ModTime: mtime}})
	require.NoError(t, err)

	full, _ := b.Root().Get("full")
	assert.Equal(t, 1, full.(Directory).Len(), "placeholder must not drop existing children")
	assert.Equal(t, mtime, full.(Directory).Meta().ModTime)

	outs := collect(t, b.Finalize(ctx, store))
	require.Len(t, outs, 2)
	assert.Equal(t, "empty", outs[0].Path)
	assert.Equal(t, fs.FileMode(0o700), outs[0].Meta.Mode)

	n, err := dag.Load(ctx, store, outs[0].Result.ID)
	require.NoError(t, err)
	assert.Empty(t, n.Entries)
	assert.Equal(t, uint32(0o700), n.Mode)
}

func TestBuilder_DirectoryInheritsReplacedFileMetadata(t *testing.T) {
	store := blockstore.NewMemory()
	b := NewBuilder(DefaultOptions())
	mtime := time.Unix(1_600_000_000, 0)

	entry := fileEntry(t, store, "x")
	entry.Meta = Metadata{ModTime: mtime, Mode: 0o600}
	_, err := b.Add(entry)
	require.NoError(t, err)
	_, err = b.Add(fileEntry(t, store, "x/y"))
	require.NoError(t, err)

	x, ok := b.Root().Get("x")
	require.True(t, ok)
	dir, isDir := x.(Directory)
	require.True(t, isDir)
	assert.Equal(t, mtime, dir.Meta().ModTime)
	assert.Equal(t, Metadata{Dir: true, ModTime: mtime, Mode: 0o600}, dir.Meta())
}

func TestBuilder_PreFinalizedDirectory(t *testing.T) {
	ctx := context.Background()
	store := blockstore.NewMemory()

	sub := collect(t, Build(ctx, slicesSeq([]PathEntry{fileEntry(t, store, "lib/a.go")}), store, DefaultOptions()))
	libResult := sub[len(sub)-1].Result
	require.Equal(t, dag.KindDirectory, libResult.Kind)

	b := NewBuilder(DefaultOptions())
	out, err := b.Add(PathEntry{Path: "vendor", Result: &libResult, Meta: Metadata{Dir: true}})
	require.NoError(t, err)
	assert.Nil(t, out, "directory results wait for finalize")

	outs := collect(t, b.Finalize(ctx, store))
	require.Len(t, outs, 1)
	assert.Equal(t, "vendor", outs[0].Path)
	assert.Equal(t, libResult, outs[0].Result)
	assert.Nil(t, outs[0].Tree)
}

func TestBuilder_WrapShardsRoot(t *testing.T) {
	ctx := context.Background()
	store := blockstore.NewMemory()
	b := NewBuilder(Options{ShardSplitThreshold: 5, WrapWithDirectory: true})
	for i := 0; i < 12; i++ {
		_, err := b.Add(fileEntry(t, store, fmt.Sprintf("f%d", i)))
		require.NoError(t, err)
	}

	require.IsType(t, &ShardedDir{}, b.Root())
	assert.True(t, b.Root().IsRoot())

	outs := collect(t, b.Finalize(ctx, store))
	require.Len(t, outs, 1)
	assert.Equal(t, dag.KindShardedDirectory, outs[0].Result.Kind)
	assert.Same(t, b.Root(), outs[0].Tree)
}

func TestBuilder_ConvertsAncestorsGrownByNewDirectories(t *testing.T) {
	store := blockstore.NewMemory()
	b := NewBuilder(Options{ShardSplitThreshold: 3})
	for i := 0; i < 5; i++ {
		_, err := b.Add(fileEntry(t, store, fmt.Sprintf("top/d%d/deep/file", i)))
		require.NoError(t, err)
	}

	top, ok := b.Root().Get("top")
	require.True(t, ok)
	require.IsType(t, &ShardedDir{}, top)
	for name, child := range top.(Directory).EachChild() {
		assert.Same(t, top, child.(Directory).Parent(), name)
	}
}

func TestBuilder_DoneAfterFinalize(t *testing.T) {
	ctx := context.Background()
	store := blockstore.NewMemory()
	b := NewBuilder(DefaultOptions())
	_, err := b.Add(fileEntry(t, store, "a.txt"))
	require.NoError(t, err)
	collect(t, b.Finalize(ctx, store))

	_, err = b.Add(fileEntry(t, store, "b.txt"))
	assert.ErrorIs(t, err, ErrBuilderDone)

	for _, err := range b.Finalize(ctx, store) {
		assert.ErrorIs(t, err, ErrBuilderDone)
	}
}

func TestBuilder_MalformedPath(t *testing.T) {
	b := NewBuilder(DefaultOptions())
	_, err := b.Add(PathEntry{Path: "a//b"})
	assert.ErrorIs(t, err, ErrMalformedPath)
	assert.Zero(t, b.Root().Len(), "a rejected entry must not change the trie")
}

type failingStore struct{ *blockstore.Memory }

func (failingStore) Put(context.Context, hash.ID, []byte) error {
	return errors.New("read-only filesystem")
}

func TestFinalize_StorageFailure(t *testing.T) {
	ctx := context.Background()
	mem := blockstore.NewMemory()
	b := NewBuilder(Options{WrapWithDirectory: true})
	_, err := b.Add(fileEntry(t, mem, "a/b.txt"))
	require.NoError(t, err)

	var errs []error
	for _, err := range b.Finalize(ctx, failingStore{mem}) {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1, "the sequence stops at the first failure")
	assert.ErrorIs(t, errs[0], blockstore.ErrStorageFailure)
}

// limitedStore accepts the first `remaining` writes and rejects the rest.
type limitedStore struct {
	*blockstore.Memory
	remaining int
}

func (s *limitedStore) Put(ctx context.Context, id hash.ID, data []byte) error {
	if s.remaining == 0 {
		return errors.New("disk full")
	}
	s.remaining--
	return s.Memory.Put(ctx, id, data)
}

func TestFinalize_StorageFailureKeepsFlushedDirectories(t *testing.T) {
	ctx := context.Background()
	mem := blockstore.NewMemory()
	b := NewBuilder(Options{WrapWithDirectory: true})
	_, err := b.Add(fileEntry(t, mem, "a/b/c/f.txt"))
	require.NoError(t, err)

	// a/b/c and a/b are written; a is the first rejected block.
	store := &limitedStore{Memory: mem, remaining: 2}
	var (
		paths []string
		errs  []error
	)
	for out, err := range b.Finalize(ctx, store) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		paths = append(paths, out.Path)
	}
	assert.Equal(t, []string{"a/b/c", "a/b"}, paths)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], blockstore.ErrStorageFailure)

	lookup := func(path string) Directory {
		t.Helper()
		var dir Directory = b.Root()
		for _, name := range strings.Split(path, "/") {
			child, ok := dir.Get(name)
			require.True(t, ok, "missing %s", name)
			dir = child.(Directory)
		}
		return dir
	}
	for _, path := range []string{"a/b/c", "a/b"} {
		dir := lookup(path)
		res, ok := dir.Result()
		require.True(t, ok, "%s keeps its identity", path)
		stored, err := mem.Has(ctx, res.ID)
		require.NoError(t, err)
		assert.True(t, stored, "%s block is in the store", path)
		assert.False(t, dir.Dirty())
	}

	a := lookup("a")
	assert.True(t, a.Dirty())
	_, ok := a.Result()
	assert.False(t, ok)
	assert.True(t, b.Root().Dirty())
	_, ok = b.Root().Result()
	assert.False(t, ok)
}

func TestBuild_SourceError(t *testing.T) {
	boom := errors.New("walk failed")
	source := func(yield func(PathEntry, error) bool) {
		yield(PathEntry{}, boom)
	}

	var errs []error
	for _, err := range Build(context.Background(), source, blockstore.NewMemory(), DefaultOptions()) {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], boom)
}

func slicesSeq(entries []PathEntry) func(func(PathEntry, error) bool) {
	return func(yield func(PathEntry, error) bool) {
		for _, e := range entries {
			if !yield(e, nil) {
				return
			}
		}
	}
}
