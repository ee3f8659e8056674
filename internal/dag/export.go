package dag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	"dagtree/internal/blockstore"
	"dagtree/internal/hash"
)

// ErrNoSuchEntry is returned by Lookup and Resolve for a missing name.
var ErrNoSuchEntry = errors.New("no such entry")

// Cat writes the content of the file rooted at root to w by expanding
// every interior node left to right.
func Cat(ctx context.Context, store blockstore.Store, root Result, w io.Writer) error {
	switch root.Kind {
	case KindRaw:
		data, err := store.Get(ctx, root.ID)
		if err != nil {
			return fmt.Errorf("reading chunk %s: %w", root.ID.Short(), err)
		}
		_, err = w.Write(data)
		return err
	case KindFile:
		n, err := Load(ctx, store, root.ID)
		if err != nil {
			return err
		}
		for _, link := range n.Links {
			if err := Cat(ctx, store, link, w); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%s is a %s, not a file", root.ID.Short(), root.Kind)
	}
}

// List enumerates the entries of a directory. For sharded directories the
// bucket tables are walked in index order, descending into nested shards.
func List(ctx context.Context, store blockstore.Store, dir Result) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		if !dir.Kind.IsDirectory() {
			yield(Entry{}, fmt.Errorf("%s is a %s, not a directory", dir.ID.Short(), dir.Kind))
			return
		}
		n, err := Load(ctx, store, dir.ID)
		if err != nil {
			yield(Entry{}, err)
			return
		}
		listNode(ctx, store, n, yield)
	}
}

func listNode(ctx context.Context, store blockstore.Store, n *Node, yield func(Entry, error) bool) bool {
	if n.Kind == KindDirectory {
		for _, e := range n.Entries {
			if !yield(e, nil) {
				return false
			}
		}
		return true
	}
	for _, b := range n.Buckets {
		if b.Shard != nil {
			child, err := Load(ctx, store, b.Shard.ID)
			if err != nil {
				yield(Entry{}, err)
				return false
			}
			if !listNode(ctx, store, child, yield) {
				return false
			}
			continue
		}
		for _, e := range b.Entries {
			if !yield(e, nil) {
				return false
			}
		}
	}
	return true
}

// Lookup finds name in a directory. Sharded directories are searched by
// bucket, so only the blocks on the name's bucket path are read.
func Lookup(ctx context.Context, store blockstore.Store, dir Result, name string) (Entry, error) {
	if !dir.Kind.IsDirectory() {
		return Entry{}, fmt.Errorf("%s is a %s, not a directory", dir.ID.Short(), dir.Kind)
	}
	n, err := Load(ctx, store, dir.ID)
	if err != nil {
		return Entry{}, err
	}
	for {
		var entries []Entry
		if n.Kind == KindDirectory {
			entries = n.Entries
		} else {
			idx := hash.Bucket(name, n.Depth, n.Width)
			var bucket *Bucket
			for i := range n.Buckets {
				if n.Buckets[i].Index == idx {
					bucket = &n.Buckets[i]
					break
				}
			}
			if bucket == nil {
				return Entry{}, fmt.Errorf("%q: %w", name, ErrNoSuchEntry)
			}
			if bucket.Shard != nil {
				if n, err = Load(ctx, store, bucket.Shard.ID); err != nil {
					return Entry{}, err
				}
				continue
			}
			entries = bucket.Entries
		}
		for _, e := range entries {
			if e.Name == name {
				return e, nil
			}
		}
		return Entry{}, fmt.Errorf("%q: %w", name, ErrNoSuchEntry)
	}
}

// Resolve walks a slash-separated path from root.
func Resolve(ctx context.Context, store blockstore.Store, root Result, path string) (Result, error) {
	current := root
	for _, segment := range strings.Split(strings.Trim(path, "/"), "/") {
		if segment == "" {
			continue
		}
		e, err := Lookup(ctx, store, current, segment)
		if err != nil {
			return Result{}, err
		}
		current = e.Link
	}
	return current, nil
}
