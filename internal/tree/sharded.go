package tree

import (
	"context"
	"iter"

	log "github.com/sirupsen/logrus"

	"dagtree/internal/blockstore"
	"dagtree/internal/dag"
	"dagtree/internal/hash"
)

const (
	// DefaultShardWidth is the number of buckets in each shard.
	DefaultShardWidth = 256
	// MaxShardDepth bounds shard nesting. Buckets at the deepest level
	// grow without splitting.
	MaxShardDepth = dag.MaxShardDepth
)

// ShardedDir spreads entries over a table of hash buckets. A bucket that
// holds more than the split threshold becomes a nested shard one level
// deeper, so no single block grows without bound.
type ShardedDir struct {
	dirInfo
	width     int
	threshold int
	top       *shard
	count     int
}

type shard struct {
	depth   int
	buckets []*bucket
}

type bucket struct {
	names    []string
	children map[string]Node
	sub      *shard
}

func newShardedDir(info dirInfo, threshold, width int) *ShardedDir {
	if width < 2 {
		width = DefaultShardWidth
	}
	d := &ShardedDir{dirInfo: info, width: width, threshold: threshold}
	d.top = d.newShard(0)
	return d
}

func (d *ShardedDir) newShard(depth int) *shard {
	return &shard{depth: depth, buckets: make([]*bucket, d.width)}
}

// Width is the bucket count of every shard in the directory.
func (d *ShardedDir) Width() int { return d.width }

func (d *ShardedDir) Get(name string) (Node, bool) {
	s := d.top
	for {
		b := s.buckets[hash.Bucket(name, s.depth, d.width)]
		if b == nil {
			return nil, false
		}
		if b.sub == nil {
			child, ok := b.children[name]
			return child, ok
		}
		s = b.sub
	}
}

func (d *ShardedDir) Put(name string, child Node) {
	if d.put(d.top, name, child) {
		d.count++
	}
	d.invalidate()
	adopt(d, name, child)
}

// put stores child in s and reports whether name is new.
func (d *ShardedDir) put(s *shard, name string, child Node) bool {
	idx := hash.Bucket(name, s.depth, d.width)
	b := s.buckets[idx]
	if b == nil {
		b = &bucket{children: make(map[string]Node)}
		s.buckets[idx] = b
	}
	if b.sub != nil {
		return d.put(b.sub, name, child)
	}

	_, exists := b.children[name]
	if !exists {
		b.names = append(b.names, name)
	}
	b.children[name] = child

	if len(b.names) > d.threshold && s.depth+1 < MaxShardDepth {
		log.Debugf("tree: splitting bucket %d of %q at depth %d (%d entries)", idx, d.path, s.depth, len(b.names))
		b.sub = d.newShard(s.depth + 1)
		for _, n := range b.names {
			d.put(b.sub, n, b.children[n])
		}
		b.names, b.children = nil, nil
	}
	return !exists
}

// EachChild yields children bucket by bucket in index order, descending
// into nested shards, and in insertion order within a bucket.
func (d *ShardedDir) EachChild() iter.Seq2[string, Node] {
	return func(yield func(string, Node) bool) {
		d.each(d.top, yield)
	}
}

func (d *ShardedDir) each(s *shard, yield func(string, Node) bool) bool {
	for _, b := range s.buckets {
		if b == nil {
			continue
		}
		if b.sub != nil {
			if !d.each(b.sub, yield) {
				return false
			}
			continue
		}
		for _, name := range b.names {
			if !yield(name, b.children[name]) {
				return false
			}
		}
	}
	return true
}

func (d *ShardedDir) Len() int { return d.count }

// Flush writes one block per nested shard and then the top block.
func (d *ShardedDir) Flush(ctx context.Context, store blockstore.Store) iter.Seq2[Flushed, error] {
	return func(yield func(Flushed, error) bool) {
		res, ok := d.flushShard(ctx, store, d.top, yield)
		if !ok {
			return
		}
		d.setResult(res)
		log.Debugf("tree: flushed sharded %q as %s (%d entries)", d.path, res.ID.Short(), d.count)
		yield(Flushed{Path: d.path, Result: res, Dir: d}, nil)
	}
}

func (d *ShardedDir) flushShard(ctx context.Context, store blockstore.Store, s *shard, yield func(Flushed, error) bool) (dag.Result, bool) {
	n := &dag.Node{Kind: dag.KindShard, Depth: s.depth, Width: d.width}
	if s == d.top {
		n.Kind = dag.KindShardedDirectory
		n.Mode = uint32(d.meta.Mode)
		n.ModTime = d.meta.unix()
	}

	var childSize uint64
	for idx, b := range s.buckets {
		if b == nil {
			continue
		}
		if b.sub != nil {
			sub, ok := d.flushShard(ctx, store, b.sub, yield)
			if !ok {
				return dag.Result{}, false
			}
			n.Buckets = append(n.Buckets, dag.Bucket{Index: idx, Shard: &sub})
			childSize += sub.Size
			continue
		}

		entries := make([]dag.Entry, 0, len(b.names))
		for _, name := range b.names {
			entry, ok := flushChild(ctx, store, name, b.children[name], yield)
			if !ok {
				return dag.Result{}, false
			}
			entries = append(entries, entry)
			childSize += entry.Link.Size
		}
		sortEntries(entries)
		n.Buckets = append(n.Buckets, dag.Bucket{Index: idx, Entries: entries})
	}

	res, err := dag.Put(ctx, store, n, childSize)
	if err != nil {
		yield(Flushed{}, err)
		return dag.Result{}, false
	}
	return res, true
}
