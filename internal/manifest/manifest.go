// Package manifest records the outcome of an import: the top-level roots,
// every imported file, and a Merkle root over the file list with one
// inclusion proof per file.
package manifest

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	mt "github.com/txaty/go-merkletree"

	"dagtree/internal/dag"
	"dagtree/internal/hash"
	"dagtree/internal/progress"
)

const generator = "dagtree"

// ErrProofMismatch is returned by Verify when a file's proof does not lead
// to the manifest's Merkle root.
var ErrProofMismatch = errors.New("inclusion proof does not match merkle root")

// Root is one top-level result of an import. Path is empty for a wrapping
// directory.
type Root struct {
	Path   string     `json:"path"`
	Result dag.Result `json:"result"`
}

type File struct {
	Path    string     `json:"path"`
	Result  dag.Result `json:"result"`
	ModTime time.Time  `json:"modTime"`
	Mode    uint32     `json:"mode,omitempty"`
	Proof   *Proof     `json:"proof,omitempty"`
}

// Proof is a Merkle inclusion proof with hex-encoded siblings.
type Proof struct {
	Siblings []string `json:"siblings"`
	Path     uint32   `json:"path"`
}

type Manifest struct {
	Generator  string    `json:"generator"`
	Created    time.Time `json:"created"`
	Source     string    `json:"source"`
	Size       string    `json:"size"`
	TotalSize  uint64    `json:"totalSize"`
	MerkleRoot string    `json:"merkleRoot"`
	Roots      []Root    `json:"roots"`
	Files      []File    `json:"files"`
}

// leaf is the Merkle data block for one file.
type leaf struct{ f *File }

func (l leaf) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s\x00%s\x00%s\x00%d", l.f.Path, l.f.Result.ID, l.f.Result.Kind, l.f.Result.FileSize)
	return buf.Bytes(), nil
}

func merkleConfig() *mt.Config {
	return &mt.Config{
		HashFunc: hash.MerkleHashFunc,
		Mode:     mt.ModeProofGen,
	}
}

// New builds a manifest for source. Files are sorted by path and each one
// gets an inclusion proof against the manifest's Merkle root.
func New(source string, roots []Root, files []File) (*Manifest, error) {
	files = slices.Clone(files)
	slices.SortFunc(files, func(a, b File) int { return strings.Compare(a.Path, b.Path) })

	m := &Manifest{
		Generator: generator,
		Created:   time.Now(),
		Source:    source,
		Roots:     roots,
		Files:     files,
	}
	for _, f := range files {
		m.TotalSize += f.Result.FileSize
	}
	m.Size = progress.FormatSize(int64(m.TotalSize))

	root, proofs, err := buildProofs(files)
	if err != nil {
		return nil, err
	}
	m.MerkleRoot = hex.EncodeToString(root)
	for i := range m.Files {
		m.Files[i].Proof = proofs[i]
	}
	return m, nil
}

func buildProofs(files []File) ([]byte, []*Proof, error) {
	switch len(files) {
	case 0:
		root := hash.Sum([]byte("empty-manifest"))
		return root[:], nil, nil
	case 1:
		data, _ := leaf{&files[0]}.Serialize()
		root, err := hash.MerkleHashFunc(data)
		return root, []*Proof{{Siblings: []string{}}}, err
	}

	blocks := make([]mt.DataBlock, len(files))
	for i := range files {
		blocks[i] = leaf{&files[i]}
	}
	tree, err := mt.New(merkleConfig(), blocks)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build merkle tree: %w", err)
	}

	proofs := make([]*Proof, len(tree.Proofs))
	for i, p := range tree.Proofs {
		siblings := make([]string, len(p.Siblings))
		for j, s := range p.Siblings {
			siblings[j] = hex.EncodeToString(s)
		}
		proofs[i] = &Proof{Siblings: siblings, Path: p.Path}
	}
	return tree.Root, proofs, nil
}

// Lookup returns the file recorded at path.
func (m *Manifest) Lookup(path string) (File, bool) {
	i, found := slices.BinarySearchFunc(m.Files, path, func(f File, p string) int {
		return strings.Compare(f.Path, p)
	})
	if !found {
		return File{}, false
	}
	return m.Files[i], true
}

// Resolve finds the root that contains path. It returns the root's result
// and the remainder of path below it.
func (m *Manifest) Resolve(path string) (dag.Result, string, bool) {
	path = strings.Trim(path, "/")
	for _, r := range m.Roots {
		switch {
		case r.Path == "":
			return r.Result, path, true
		case path == r.Path:
			return r.Result, "", true
		case strings.HasPrefix(path, r.Path+"/"):
			return r.Result, strings.TrimPrefix(path, r.Path+"/"), true
		}
	}
	return dag.Result{}, "", false
}

// Verify checks every file's proof against the Merkle root.
func (m *Manifest) Verify() error {
	root, err := hex.DecodeString(m.MerkleRoot)
	if err != nil {
		return fmt.Errorf("invalid merkle root: %w", err)
	}

	switch len(m.Files) {
	case 0:
		want := hash.Sum([]byte("empty-manifest"))
		if !bytes.Equal(root, want[:]) {
			return ErrProofMismatch
		}
		return nil
	case 1:
		data, _ := leaf{&m.Files[0]}.Serialize()
		got, err := hash.MerkleHashFunc(data)
		if err != nil {
			return err
		}
		if !bytes.Equal(root, got) {
			return fmt.Errorf("%s: %w", m.Files[0].Path, ErrProofMismatch)
		}
		return nil
	}

	cfg := merkleConfig()
	for i := range m.Files {
		f := &m.Files[i]
		if f.Proof == nil {
			return fmt.Errorf("%s: missing proof", f.Path)
		}
		proof := &mt.Proof{Path: f.Proof.Path, Siblings: make([][]byte, len(f.Proof.Siblings))}
		for j, s := range f.Proof.Siblings {
			if proof.Siblings[j], err = hex.DecodeString(s); err != nil {
				return fmt.Errorf("%s: invalid proof: %w", f.Path, err)
			}
		}
		ok, err := mt.Verify(leaf{f}, proof, root, cfg)
		if err != nil {
			return fmt.Errorf("%s: %w", f.Path, err)
		}
		if !ok {
			return fmt.Errorf("%s: %w", f.Path, ErrProofMismatch)
		}
	}
	return nil
}

func Save(m *Manifest, path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal manifest: %w", err)
	}
	if m.Generator != generator {
		return nil, fmt.Errorf("%s was not written by %s", path, generator)
	}
	return &m, nil
}
