package tree

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	log "github.com/sirupsen/logrus"

	"dagtree/internal/blockstore"
	"dagtree/internal/dag"
)

var (
	// ErrMalformedPath is returned for paths with empty or invalid segments.
	ErrMalformedPath = errors.New("malformed path")
	// ErrBuilderDone is returned when a finalized Builder is used again.
	ErrBuilderDone = errors.New("tree builder already finalized")
)

// Options configures a Builder.
type Options struct {
	// ShardSplitThreshold is the largest entry count a flat directory may
	// hold before it is sharded.
	ShardSplitThreshold int
	ShardWidth          int
	// WrapWithDirectory emits the trie root as one top-level directory
	// instead of one result per top-level path.
	WrapWithDirectory bool
}

// DefaultOptions returns the default builder options.
func DefaultOptions() Options {
	return Options{
		ShardSplitThreshold: DefaultShardSplitThreshold,
		ShardWidth:          DefaultShardWidth,
	}
}

// Output pairs a finalized result with the directory that owns it: the
// live trie root while entries are added, the flushed subtree afterwards.
type Output struct {
	Path   string
	Result dag.Result
	Meta   Metadata
	Tree   Directory
}

type state int

const (
	accumulating state = iota
	finalizing
	done
)

// Builder grows a directory trie from path entries and flushes it once
// the input is exhausted. It is not safe for concurrent use.
type Builder struct {
	opts  Options
	root  Directory
	state state
}

// NewBuilder returns an empty Builder. Non-positive options fall back to
// their defaults.
func NewBuilder(opts Options) *Builder {
	def := DefaultOptions()
	if opts.ShardSplitThreshold <= 0 {
		opts.ShardSplitThreshold = def.ShardSplitThreshold
	}
	if opts.ShardWidth < 2 || opts.ShardWidth > dag.MaxShardWidth {
		opts.ShardWidth = def.ShardWidth
	}
	root := newFlatDir("", Metadata{Dir: true})
	root.root = true
	return &Builder{opts: opts, root: root}
}

// Root returns the current trie root.
func (b *Builder) Root() Directory { return b.root }

// Add inserts one entry. Every directory on the entry's path is
// invalidated, missing directories are created flat, and directories that
// outgrow the threshold are sharded. File results are returned as an
// Output right away; placeholders and directory results return nil.
func (b *Builder) Add(entry PathEntry) (*Output, error) {
	if b.state != accumulating {
		return nil, ErrBuilderDone
	}
	segments, err := SplitPath(entry.Path)
	if err != nil {
		return nil, err
	}

	dir := b.root
	for _, name := range segments[:len(segments)-1] {
		dir.info().invalidate()
		child, _ := dir.Get(name)
		next, ok := child.(Directory)
		if !ok {
			meta := Metadata{Dir: true}
			if leaf, isLeaf := child.(*Leaf); isLeaf {
				meta.ModTime, meta.Mode = leaf.Meta.ModTime, leaf.Meta.Mode
			}
			next = newFlatDir(joinPath(dir.Path(), name), meta)
			dir.Put(name, next)
		}
		dir = next
	}

	name := segments[len(segments)-1]
	dir.info().invalidate()
	if entry.Result == nil {
		b.placeholder(dir, name, entry.Meta)
	} else {
		dir.Put(name, &Leaf{Result: *entry.Result, Meta: entry.Meta})
	}
	b.convertUp(dir)

	if entry.Result == nil || entry.Result.Kind.IsDirectory() {
		return nil, nil
	}
	return &Output{
		Path:   strings.Join(segments, "/"),
		Result: *entry.Result,
		Meta:   entry.Meta,
		Tree:   b.root,
	}, nil
}

// placeholder makes sure dir holds a directory called name, refreshing
// the metadata of one that already exists.
func (b *Builder) placeholder(dir Directory, name string, meta Metadata) {
	if existing, ok := dir.Get(name); ok {
		if sub, isDir := existing.(Directory); isDir {
			sub.info().setMeta(meta)
			sub.info().invalidate()
			return
		}
	}
	dir.Put(name, newFlatDir(joinPath(dir.Path(), name), meta))
}

// convertUp runs the shard converter on dir and each of its ancestors,
// swapping converted directories into their parents or the root.
func (b *Builder) convertUp(dir Directory) {
	for dir != nil {
		converted := Convert(dir, b.opts.ShardSplitThreshold, b.opts.ShardWidth)
		if converted != dir {
			if parent := dir.Parent(); parent != nil {
				parent.Put(dir.info().parentKey, converted)
			}
			if dir.IsRoot() {
				b.root = converted
			}
		}
		dir = converted.Parent()
	}
}

// Finalize flushes the trie. With WrapWithDirectory the root is flushed
// and every directory is emitted, the root last. Otherwise each top-level
// directory is flushed on its own and top-level directory results that
// were added already finalized are emitted as they are. The Builder
// cannot be used afterwards.
func (b *Builder) Finalize(ctx context.Context, store blockstore.Store) iter.Seq2[Output, error] {
	return func(yield func(Output, error) bool) {
		if b.state != accumulating {
			yield(Output{}, ErrBuilderDone)
			return
		}
		b.state = finalizing
		defer func() { b.state = done }()

		log.Debugf("tree: finalizing %d top-level entries (wrap=%t)", b.root.Len(), b.opts.WrapWithDirectory)
		if b.opts.WrapWithDirectory {
			flushAndYield(ctx, store, b.root, yield)
			return
		}
		for name, child := range b.root.EachChild() {
			switch c := child.(type) {
			case Directory:
				if !flushAndYield(ctx, store, c, yield) {
					return
				}
			case *Leaf:
				if !c.Result.Kind.IsDirectory() {
					continue
				}
				if !yield(Output{Path: name, Result: c.Result, Meta: c.Meta}, nil) {
					return
				}
			}
		}
	}
}

func flushAndYield(ctx context.Context, store blockstore.Store, dir Directory, yield func(Output, error) bool) bool {
	for f, err := range dir.Flush(ctx, store) {
		if err != nil {
			yield(Output{}, err)
			return false
		}
		if !yield(Output{Path: f.Path, Result: f.Result, Meta: f.Dir.Meta(), Tree: dir}, nil) {
			return false
		}
	}
	return true
}

// Build runs a Builder over source and then finalizes it. A source error
// ends the sequence before anything is flushed.
func Build(ctx context.Context, source iter.Seq2[PathEntry, error], store blockstore.Store, opts Options) iter.Seq2[Output, error] {
	return func(yield func(Output, error) bool) {
		b := NewBuilder(opts)
		for entry, err := range source {
			if err == nil {
				err = ctx.Err()
			}
			if err != nil {
				yield(Output{}, err)
				return
			}
			out, err := b.Add(entry)
			if err != nil {
				yield(Output{}, err)
				return
			}
			if out != nil && !yield(*out, nil) {
				return
			}
		}
		for out, err := range b.Finalize(ctx, store) {
			if !yield(out, err) || err != nil {
				return
			}
		}
	}
}

// SplitPath splits a slash-separated relative path into its segments.
// Leading and trailing slashes are ignored; empty, "." and ".." segments
// are rejected.
func SplitPath(path string) ([]string, error) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil, fmt.Errorf("%w: %q", ErrMalformedPath, path)
	}
	segments := strings.Split(trimmed, "/")
	for _, s := range segments {
		if s == "" || s == "." || s == ".." || strings.ContainsRune(s, 0) {
			return nil, fmt.Errorf("%w: %q", ErrMalformedPath, path)
		}
	}
	return segments, nil
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}
