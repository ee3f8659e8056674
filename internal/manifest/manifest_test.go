package manifest

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dagtree/internal/dag"
	"dagtree/internal/hash"
)

func sampleFiles(n int) []File {
	files := make([]File, n)
	for i := range files {
		name := fmt.Sprintf("dir/file-%02d.txt", n-i)
		files[i] = File{
			Path:    name,
			Result:  dag.Result{ID: hash.Sum([]byte(name)), Kind: dag.KindRaw, Size: uint64(i + 1), FileSize: uint64(i + 1)},
			ModTime: time.Unix(1_700_000_000, 0).UTC(),
			Mode:    0o644,
		}
	}
	return files
}

func TestNew_SortsAndProves(t *testing.T) {
	for _, n := range []int{0, 1, 2, 3, 8, 13} {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			m, err := New("/src", nil, sampleFiles(n))
			require.NoError(t, err)

			require.Len(t, m.Files, n)
			for i := 1; i < n; i++ {
				assert.Less(t, m.Files[i-1].Path, m.Files[i].Path)
			}
			assert.NotEmpty(t, m.MerkleRoot)
			assert.NoError(t, m.Verify())
		})
	}
}

func TestVerify_DetectsTampering(t *testing.T) {
	m, err := New("/src", nil, sampleFiles(5))
	require.NoError(t, err)

	m.Files[2].Result.ID = hash.Sum([]byte("something else"))
	assert.ErrorIs(t, m.Verify(), ErrProofMismatch)
}

func TestVerify_SingleFileTampering(t *testing.T) {
	m, err := New("/src", nil, sampleFiles(1))
	require.NoError(t, err)

	m.Files[0].Path = "renamed.txt"
	assert.ErrorIs(t, m.Verify(), ErrProofMismatch)
}

func TestMerkleRoot_Deterministic(t *testing.T) {
	first, err := New("/a", nil, sampleFiles(6))
	require.NoError(t, err)
	second, err := New("/b", nil, sampleFiles(6))
	require.NoError(t, err)
	assert.Equal(t, first.MerkleRoot, second.MerkleRoot)
}

func TestSaveLoad(t *testing.T) {
	roots := []Root{{Path: "dir", Result: dag.Result{ID: hash.Sum([]byte("dir")), Kind: dag.KindDirectory, Size: 99}}}
	m, err := New("/src", roots, sampleFiles(4))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "out", "manifest.json")
	require.NoError(t, Save(m, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, m.MerkleRoot, loaded.MerkleRoot)
	assert.Equal(t, m.Roots, loaded.Roots)
	assert.Equal(t, m.Files, loaded.Files)
	assert.Equal(t, "10 B", loaded.Size)
	assert.NoError(t, loaded.Verify())
}

func TestLoad_RejectsForeignJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "other.json")
	m := &Manifest{Generator: "some-other-tool"}
	require.NoError(t, Save(m, path))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLookupAndResolve(t *testing.T) {
	dirRoot := dag.Result{ID: hash.Sum([]byte("dir")), Kind: dag.KindDirectory}
	m, err := New("/src", []Root{{Path: "dir", Result: dirRoot}}, sampleFiles(3))
	require.NoError(t, err)

	f, ok := m.Lookup("dir/file-02.txt")
	require.True(t, ok)
	assert.Equal(t, "dir/file-02.txt", f.Path)
	_, ok = m.Lookup("dir/missing.txt")
	assert.False(t, ok)

	res, rest, ok := m.Resolve("/dir/file-02.txt")
	require.True(t, ok)
	assert.Equal(t, dirRoot, res)
	assert.Equal(t, "file-02.txt", rest)

	_, rest, ok = m.Resolve("dir")
	require.True(t, ok)
	assert.Empty(t, rest)

	_, _, ok = m.Resolve("directory/x")
	assert.False(t, ok)

	wrapped := &Manifest{Roots: []Root{{Path: "", Result: dirRoot}}}
	_, rest, ok = wrapped.Resolve("a/b")
	require.True(t, ok)
	assert.Equal(t, "a/b", rest)
}
