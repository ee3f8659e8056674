package blockstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/renameio"
	log "github.com/sirupsen/logrus"

	"dagtree/internal/hash"
)

const blocksDir = "blocks"

// FS stores each block as a file named by its hex id. Depth levels of
// three-character subdirectories keep directory sizes small: a depth of 2
// stores block abcdef01... at blocks/abc/def/abcdef01....
type FS struct {
	root        string
	depth       int
	compression Compression
}

// FSOptions configures NewFS.
type FSOptions struct {
	Depth       int
	Compression Compression
}

// NewFS opens (creating if needed) a filesystem block store under root.
func NewFS(root string, opts FSOptions) (*FS, error) {
	if opts.Depth < 0 || opts.Depth > hash.Size*2/3 {
		return nil, fmt.Errorf("invalid block store depth %d", opts.Depth)
	}
	if err := os.MkdirAll(filepath.Join(root, blocksDir), 0o755); err != nil {
		return nil, fmt.Errorf("creating block store %s: %w", root, err)
	}
	return &FS{root: root, depth: opts.Depth, compression: opts.Compression}, nil
}

// Path returns the absolute file path for a block.
func (s *FS) Path(id hash.ID) string {
	hex := id.String()
	parts := []string{s.root, blocksDir}
	for i := 0; i < s.depth; i++ {
		parts = append(parts, hex[3*i:3*i+3])
	}
	return filepath.Join(append(parts, hex)...)
}

func (s *FS) Put(ctx context.Context, id hash.ID, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := s.Path(id)
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	framed, err := encodeBlock(data, s.compression)
	if err != nil {
		return &StorageError{Op: "put", ID: id, Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &StorageError{Op: "put", ID: id, Err: err}
	}
	if err := renameio.WriteFile(path, framed, 0o444); err != nil {
		return &StorageError{Op: "put", ID: id, Err: err}
	}
	log.Debugf("blockstore: wrote %s (%d bytes, %s)", id.Short(), len(data), s.compression)
	return nil
}

func (s *FS) Get(ctx context.Context, id hash.ID) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	framed, err := os.ReadFile(s.Path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &StorageError{Op: "get", ID: id, Err: err}
	}
	data, err := decodeBlock(framed)
	if err != nil {
		return nil, &StorageError{Op: "get", ID: id, Err: err}
	}
	if hash.Sum(data) != id {
		return nil, &StorageError{Op: "get", ID: id, Err: errors.New("content does not match id")}
	}
	return data, nil
}

func (s *FS) Has(ctx context.Context, id hash.ID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(s.Path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, &StorageError{Op: "stat", ID: id, Err: err}
	}
	return true, nil
}
