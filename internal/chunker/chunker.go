// Package chunker splits a file stream into the raw chunks that become
// the leaves of a file DAG.
package chunker

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"iter"

	resticRabin "github.com/restic/chunker"
)

const (
	kiB = 1024
	miB = 1024 * kiB

	// DefaultSize is the fixed chunk size.
	DefaultSize = 256 * kiB

	// DefaultMinSize and DefaultMaxSize bound rabin chunks.
	DefaultMinSize = 128 * kiB
	DefaultMaxSize = 1 * miB

	// DefaultPolynomial is the irreducible polynomial used for rabin
	// fingerprinting. It is fixed so the same content always chunks the
	// same way and produces the same content identifiers.
	DefaultPolynomial = resticRabin.Pol(0x3DA3358B4DC173)
)

// Algorithm names accepted by New.
const (
	Fixed = "fixed"
	Rabin = "rabin"
)

// Chunker produces the chunks of one file in order. Next returns io.EOF
// after the last chunk. Returned slices are owned by the caller.
type Chunker interface {
	Next() ([]byte, error)
}

// Config selects and parameterizes a chunker.
type Config struct {
	Algorithm  string
	Size       int
	MinSize    uint
	MaxSize    uint
	Polynomial uint64
}

// New returns a chunker over r as described by cfg.
func New(r io.Reader, cfg Config) (Chunker, error) {
	switch cfg.Algorithm {
	case "", Fixed:
		size := cfg.Size
		if size == 0 {
			size = DefaultSize
		}
		return NewFixedSize(r, size)
	case Rabin:
		pol := resticRabin.Pol(cfg.Polynomial)
		if pol == 0 {
			pol = DefaultPolynomial
		}
		return NewRabin(r, pol, cfg.MinSize, cfg.MaxSize), nil
	default:
		return nil, fmt.Errorf("unknown chunker algorithm %q", cfg.Algorithm)
	}
}

// FixedSize cuts the stream into chunks of exactly Size bytes; only the
// last chunk may be shorter.
type FixedSize struct {
	r    io.Reader
	size int
	done bool
}

// NewFixedSize returns a fixed-size chunker over r.
func NewFixedSize(r io.Reader, size int) (*FixedSize, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	return &FixedSize{r: r, size: size}, nil
}

func (c *FixedSize) Next() ([]byte, error) {
	if c.done {
		return nil, io.EOF
	}
	buf := make([]byte, c.size)
	n, err := io.ReadFull(c.r, buf)
	switch {
	case errors.Is(err, io.EOF):
		c.done = true
		return nil, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		c.done = true
		return buf[:n], nil
	case err != nil:
		return nil, fmt.Errorf("reading chunk: %w", err)
	}
	return buf, nil
}

// RabinChunker lightly wraps restic's content-defined chunker.
type RabinChunker struct {
	c   *resticRabin.Chunker
	buf []byte
}

// NewRabin returns a content-defined chunker over r. Zero sizes fall back
// to DefaultMinSize and DefaultMaxSize.
func NewRabin(r io.Reader, pol resticRabin.Pol, minSize, maxSize uint) *RabinChunker {
	if minSize == 0 {
		minSize = DefaultMinSize
	}
	if maxSize == 0 {
		maxSize = DefaultMaxSize
	}
	return &RabinChunker{
		c:   resticRabin.NewWithBoundaries(r, pol, minSize, maxSize),
		buf: make([]byte, maxSize),
	}
}

func (c *RabinChunker) Next() ([]byte, error) {
	chunk, err := c.c.Next(c.buf)
	if errors.Is(err, io.EOF) {
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("reading chunk: %w", err)
	}
	// chunk.Data aliases c.buf, which the next call overwrites.
	return bytes.Clone(chunk.Data), nil
}

// All adapts a chunker to a lazy sequence. The sequence ends at io.EOF;
// any other error is yielded once and ends the sequence.
func All(c Chunker) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for {
			data, err := c.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(data, nil) {
				return
			}
		}
	}
}
