package dag

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"

	log "github.com/sirupsen/logrus"

	"dagtree/internal/blockstore"
	"dagtree/internal/chunker"
)

// DefaultMaxChildren is the default fan-out of file DAG nodes.
const DefaultMaxChildren = 174

var (
	// ErrEmptyFile is returned by Balanced when the source yields nothing;
	// there is no root to return and callers must decide what an empty
	// file means.
	ErrEmptyFile = errors.New("empty file: no chunks to reduce")

	// ErrInvalidFanout is returned for a fan-out below two.
	ErrInvalidFanout = errors.New("max children per node must be at least 2")
)

// Reducer combines an ordered batch of children into one parent. It must
// be deterministic and must persist any block it creates.
type Reducer func(ctx context.Context, children []Result) (Result, error)

// Balanced folds a sequence of leaves into a balanced tree of fan-out at
// most maxChildren and returns its root. Leaves are batched strictly in
// order, so a left-to-right walk of the tree reproduces the input order.
// A source with exactly one item returns that item unwrapped.
func Balanced(ctx context.Context, source iter.Seq2[Result, error], reduce Reducer, maxChildren int) (Result, error) {
	if maxChildren < 2 {
		return Result{}, fmt.Errorf("%w: got %d", ErrInvalidFanout, maxChildren)
	}

	roots, single, err := reduceToParents(ctx, source, reduce, maxChildren)
	if err != nil {
		return Result{}, err
	}
	if single != nil {
		return *single, nil
	}

	for len(roots) > 1 {
		roots, _, err = reduceToParents(ctx, sequence(roots), reduce, maxChildren)
		if err != nil {
			return Result{}, err
		}
	}
	if len(roots) == 0 {
		return Result{}, ErrEmptyFile
	}
	return roots[0], nil
}

// reduceToParents consumes one level. When the whole level is a single
// item, it is returned as single and reduce is never called.
func reduceToParents(ctx context.Context, source iter.Seq2[Result, error], reduce Reducer, maxChildren int) ([]Result, *Result, error) {
	var roots []Result
	batch := make([]Result, 0, maxChildren)

	emit := func() error {
		parent, err := reduce(ctx, slices.Clone(batch))
		if err != nil {
			return err
		}
		roots = append(roots, parent)
		batch = batch[:0]
		return nil
	}

	for item, err := range source {
		if err != nil {
			return nil, nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		batch = append(batch, item)
		if len(batch) == maxChildren {
			if err := emit(); err != nil {
				return nil, nil, err
			}
		}
	}

	if len(roots) == 0 && len(batch) == 1 {
		only := batch[0]
		return nil, &only, nil
	}
	if len(batch) > 0 {
		if err := emit(); err != nil {
			return nil, nil, err
		}
	}
	return roots, nil, nil
}

func sequence(items []Result) iter.Seq2[Result, error] {
	return func(yield func(Result, error) bool) {
		for _, item := range items {
			if !yield(item, nil) {
				return
			}
		}
	}
}

// NewReducer returns the default Reducer, which writes one file node per
// batch to store. A batch of one child is passed through unchanged rather
// than wrapped in a single-link node.
func NewReducer(store blockstore.Store) Reducer {
	return func(ctx context.Context, children []Result) (Result, error) {
		if len(children) == 1 {
			return children[0], nil
		}
		n := &Node{Kind: KindFile, Links: children}
		var childSize uint64
		for _, child := range children {
			n.FileSize += child.FileSize
			childSize += child.Size
		}
		return Put(ctx, store, n, childSize)
	}
}

// ImportFile chunks one file, stores its leaves and builds its balanced
// DAG. An empty file becomes an empty file node.
func ImportFile(ctx context.Context, c chunker.Chunker, store blockstore.Store, maxChildren int) (Result, error) {
	leaves := func(yield func(Result, error) bool) {
		for data, err := range chunker.All(c) {
			if err != nil {
				yield(Result{}, err)
				return
			}
			leaf, err := PutRaw(ctx, store, data)
			if !yield(leaf, err) || err != nil {
				return
			}
		}
	}

	root, err := Balanced(ctx, leaves, NewReducer(store), maxChildren)
	if errors.Is(err, ErrEmptyFile) {
		log.Debugf("dag: empty file, writing empty file node")
		return Put(ctx, store, &Node{Kind: KindFile}, 0)
	}
	return root, err
}
