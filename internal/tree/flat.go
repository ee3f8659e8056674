package tree

import (
	"context"
	"iter"
	"slices"
	"strings"

	log "github.com/sirupsen/logrus"

	"dagtree/internal/blockstore"
	"dagtree/internal/dag"
)

// FlatDir keeps every entry in a single directory block.
type FlatDir struct {
	dirInfo
	names    []string
	children map[string]Node
}

func newFlatDir(path string, meta Metadata) *FlatDir {
	d := &FlatDir{children: make(map[string]Node)}
	d.path = path
	d.dirty = true
	d.setMeta(meta)
	return d
}

func (d *FlatDir) Get(name string) (Node, bool) {
	child, ok := d.children[name]
	return child, ok
}

func (d *FlatDir) Put(name string, child Node) {
	if _, ok := d.children[name]; !ok {
		d.names = append(d.names, name)
	}
	d.children[name] = child
	d.invalidate()
	adopt(d, name, child)
}

// EachChild yields children in insertion order.
func (d *FlatDir) EachChild() iter.Seq2[string, Node] {
	return func(yield func(string, Node) bool) {
		for _, name := range d.names {
			if !yield(name, d.children[name]) {
				return
			}
		}
	}
}

func (d *FlatDir) Len() int { return len(d.names) }

func (d *FlatDir) Flush(ctx context.Context, store blockstore.Store) iter.Seq2[Flushed, error] {
	return func(yield func(Flushed, error) bool) {
		entries := make([]dag.Entry, 0, len(d.names))
		var childSize uint64
		for _, name := range d.names {
			entry, ok := flushChild(ctx, store, name, d.children[name], yield)
			if !ok {
				return
			}
			entries = append(entries, entry)
			childSize += entry.Link.Size
		}
		sortEntries(entries)

		res, err := dag.Put(ctx, store, &dag.Node{
			Kind:    dag.KindDirectory,
			Entries: entries,
			Mode:    uint32(d.meta.Mode),
			ModTime: d.meta.unix(),
		}, childSize)
		if err != nil {
			yield(Flushed{}, err)
			return
		}
		d.setResult(res)
		log.Debugf("tree: flushed %q as %s (%d entries)", d.path, res.ID.Short(), len(entries))
		yield(Flushed{Path: d.path, Result: res, Dir: d}, nil)
	}
}

// sortEntries orders a block's entries by name so that its identity
// depends only on its contents.
func sortEntries(entries []dag.Entry) {
	slices.SortFunc(entries, func(a, b dag.Entry) int {
		return strings.Compare(a.Name, b.Name)
	})
}
