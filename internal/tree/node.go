// Package tree assembles imported files into a path-indexed directory trie
// and flushes it bottom-up into directory blocks. Directories start flat
// and are converted to a hash-sharded layout once they grow past a
// threshold.
package tree

import (
	"context"
	"io/fs"
	"iter"
	"time"

	"dagtree/internal/blockstore"
	"dagtree/internal/dag"
)

// Metadata is the filesystem metadata carried alongside a path.
type Metadata struct {
	Dir     bool
	ModTime time.Time
	Mode    fs.FileMode
}

func (m Metadata) unix() int64 {
	if m.ModTime.IsZero() {
		return 0
	}
	return m.ModTime.Unix()
}

// PathEntry is one item of builder input. A nil Result marks a
// directory-only placeholder.
type PathEntry struct {
	Path   string
	Result *dag.Result
	Meta   Metadata
}

// Node is a child of a directory: a *Leaf or a Directory.
type Node interface {
	isNode()
}

// Leaf is an already finalized child, usually a file.
type Leaf struct {
	Result dag.Result
	Meta   Metadata
}

func (*Leaf) isNode() {}

// Flushed is a directory that became immutable during a flush.
type Flushed struct {
	Path   string
	Result dag.Result
	Dir    Directory
}

// Directory is implemented by *FlatDir and *ShardedDir only.
type Directory interface {
	Node

	// Get looks up a direct child. Absence is not an error.
	Get(name string) (Node, bool)
	// Put inserts or replaces a child and marks the directory dirty. It
	// does not invalidate ancestors.
	Put(name string, child Node)
	// EachChild enumerates direct children lazily.
	EachChild() iter.Seq2[string, Node]
	// Flush writes the directory and every dirty descendant to store,
	// yielding each directory in post-order and finally itself.
	Flush(ctx context.Context, store blockstore.Store) iter.Seq2[Flushed, error]
	// Len is the number of direct children.
	Len() int

	Path() string
	IsRoot() bool
	Dirty() bool
	Result() (dag.Result, bool)
	Parent() Directory
	Meta() Metadata

	info() *dirInfo
}

// dirInfo holds the attributes shared by both directory variants.
type dirInfo struct {
	root   bool
	path   string
	dirty  bool
	cached *dag.Result
	meta   Metadata

	// parent is for navigation only; the parent owns this directory.
	parent    Directory
	parentKey string
}

func (d *dirInfo) isNode() {}

func (d *dirInfo) info() *dirInfo { return d }

// Path is the slash-separated path of the directory from the trie root.
func (d *dirInfo) Path() string { return d.path }

func (d *dirInfo) IsRoot() bool { return d.root }

func (d *dirInfo) Dirty() bool { return d.dirty }

func (d *dirInfo) Parent() Directory { return d.parent }

// ParentKey is the name under which the parent holds this directory.
func (d *dirInfo) ParentKey() string { return d.parentKey }

func (d *dirInfo) Meta() Metadata { return d.meta }

func (d *dirInfo) setMeta(meta Metadata) {
	d.meta = meta
	d.meta.Dir = true
}

func (d *dirInfo) setResult(r dag.Result) {
	d.cached = &r
	d.dirty = false
}

// Result returns the directory's identity once it has been flushed and
// not mutated since.
func (d *dirInfo) Result() (dag.Result, bool) {
	if d.dirty || d.cached == nil {
		return dag.Result{}, false
	}
	return *d.cached, true
}

// invalidate marks the directory dirty and drops its cached identity.
func (d *dirInfo) invalidate() {
	d.dirty = true
	d.cached = nil
}

// adopt records self as the parent of child when child is a directory.
func adopt(self Directory, name string, child Node) {
	if dir, ok := child.(Directory); ok {
		info := dir.info()
		info.parent = self
		info.parentKey = name
	}
}

// flushChild links child into its parent's block. Child directories that
// are dirty are flushed first, forwarding everything they yield; clean
// ones reuse their cached identity. It reports false when the sequence
// must stop.
func flushChild(ctx context.Context, store blockstore.Store, name string, child Node, yield func(Flushed, error) bool) (dag.Entry, bool) {
	switch c := child.(type) {
	case *Leaf:
		return dag.Entry{
			Name:    name,
			Link:    c.Result,
			Mode:    uint32(c.Meta.Mode),
			ModTime: c.Meta.unix(),
		}, true
	case Directory:
		res, ok := c.Result()
		if !ok {
			for f, err := range c.Flush(ctx, store) {
				if !yield(f, err) || err != nil {
					return dag.Entry{}, false
				}
			}
			if res, ok = c.Result(); !ok {
				return dag.Entry{}, false
			}
		}
		meta := c.Meta()
		return dag.Entry{
			Name:    name,
			Link:    res,
			Mode:    uint32(meta.Mode),
			ModTime: meta.unix(),
		}, true
	default:
		return dag.Entry{}, false
	}
}
