package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"dagtree/internal/blockstore"
	"dagtree/internal/chunker"
	"dagtree/internal/dag"
	"dagtree/internal/tree"
	"dagtree/internal/walker"
)

type Config struct {
	Exclude    []string      `yaml:"exclude"`
	Workers    int           `yaml:"workers"`
	LogLevel   string        `yaml:"log_level"`
	OutputFile string        `yaml:"output_file"`
	Chunker    ChunkerConfig `yaml:"chunker"`
	DAG        DAGConfig     `yaml:"dag"`
	Store      StoreConfig   `yaml:"store"`
}

type ChunkerConfig struct {
	Algorithm  string `yaml:"algorithm"`
	Size       int    `yaml:"size"`
	MinSize    uint   `yaml:"min_size"`
	MaxSize    uint   `yaml:"max_size"`
	Polynomial uint64 `yaml:"polynomial"`
}

type DAGConfig struct {
	MaxChildrenPerNode  int  `yaml:"max_children_per_node"`
	ShardSplitThreshold int  `yaml:"shard_split_threshold"`
	ShardWidth          int  `yaml:"shard_width"`
	WrapWithDirectory   bool `yaml:"wrap_with_directory"`
	PreserveModTime     bool `yaml:"preserve_mtime"`
	PreserveMode        bool `yaml:"preserve_mode"`
}

type StoreConfig struct {
	Dir          string `yaml:"dir"`
	Depth        int    `yaml:"depth"`
	Compression  string `yaml:"compression"`
	CacheEntries int    `yaml:"cache_entries"`
}

func DefaultConfig() *Config {
	return &Config{
		Exclude: []string{
			".git/",
			".svn/",
			".dagtree/",
			"node_modules/",
			"__pycache__/",
			"*.o",
			"*.so",
			"*.tmp",
			"*.swp",
			".DS_Store",
			"Thumbs.db",
		},
		Workers:  runtime.NumCPU() * 2,
		LogLevel: "info",
		Chunker: ChunkerConfig{
			Algorithm: chunker.Fixed,
			Size:      chunker.DefaultSize,
			MinSize:   chunker.DefaultMinSize,
			MaxSize:   chunker.DefaultMaxSize,
		},
		DAG: DAGConfig{
			MaxChildrenPerNode:  dag.DefaultMaxChildren,
			ShardSplitThreshold: tree.DefaultShardSplitThreshold,
			ShardWidth:          tree.DefaultShardWidth,
			PreserveMode:        true,
		},
		Store: StoreConfig{
			Dir:          ".dagtree",
			Depth:        2,
			Compression:  "none",
			CacheEntries: 1024,
		},
	}
}

// LoadConfig reads a YAML config file over the defaults. A missing file
// yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	// An explicit empty list disables exclusions.
	if cfg.Exclude == nil {
		cfg.Exclude = []string{}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}

	switch c.Chunker.Algorithm {
	case chunker.Fixed:
		if c.Chunker.Size <= 0 || c.Chunker.Size > blockstore.MaxBlockSize {
			errs = append(errs, fmt.Errorf("chunker.size must be between 1 and %d, got %d", blockstore.MaxBlockSize, c.Chunker.Size))
		}
	case chunker.Rabin:
		if c.Chunker.MinSize == 0 || c.Chunker.MaxSize < c.Chunker.MinSize {
			errs = append(errs, fmt.Errorf("chunker: need 0 < min_size <= max_size, got %d and %d", c.Chunker.MinSize, c.Chunker.MaxSize))
		}
		if c.Chunker.MaxSize > blockstore.MaxBlockSize {
			errs = append(errs, fmt.Errorf("chunker.max_size must not exceed %d, got %d", blockstore.MaxBlockSize, c.Chunker.MaxSize))
		}
	default:
		errs = append(errs, fmt.Errorf("chunker.algorithm must be %q or %q, got %q", chunker.Fixed, chunker.Rabin, c.Chunker.Algorithm))
	}

	if c.DAG.MaxChildrenPerNode < 2 {
		errs = append(errs, fmt.Errorf("dag.max_children_per_node: %w: got %d", dag.ErrInvalidFanout, c.DAG.MaxChildrenPerNode))
	}
	if c.DAG.ShardSplitThreshold < 1 {
		errs = append(errs, fmt.Errorf("dag.shard_split_threshold must be positive, got %d", c.DAG.ShardSplitThreshold))
	}
	if c.DAG.ShardWidth < 2 || c.DAG.ShardWidth > dag.MaxShardWidth {
		errs = append(errs, fmt.Errorf("dag.shard_width must be between 2 and %d, got %d", dag.MaxShardWidth, c.DAG.ShardWidth))
	}

	if c.Store.Dir == "" {
		errs = append(errs, errors.New("store.dir must not be empty"))
	}
	if c.Store.Depth < 0 || c.Store.Depth > 21 {
		errs = append(errs, fmt.Errorf("store.depth must be between 0 and 21, got %d", c.Store.Depth))
	}
	if _, err := blockstore.ParseCompression(c.Store.Compression); err != nil {
		errs = append(errs, fmt.Errorf("store.compression: %w", err))
	}
	if c.Store.CacheEntries < 0 {
		errs = append(errs, fmt.Errorf("store.cache_entries must not be negative, got %d", c.Store.CacheEntries))
	}
	return errors.Join(errs...)
}

// ChunkerOptions converts the chunker section for chunker.New.
func (c *Config) ChunkerOptions() chunker.Config {
	return chunker.Config{
		Algorithm:  c.Chunker.Algorithm,
		Size:       c.Chunker.Size,
		MinSize:    c.Chunker.MinSize,
		MaxSize:    c.Chunker.MaxSize,
		Polynomial: c.Chunker.Polynomial,
	}
}

// TreeOptions converts the dag section for tree.NewBuilder.
func (c *Config) TreeOptions() tree.Options {
	return tree.Options{
		ShardSplitThreshold: c.DAG.ShardSplitThreshold,
		ShardWidth:          c.DAG.ShardWidth,
		WrapWithDirectory:   c.DAG.WrapWithDirectory,
	}
}

// ImportOptions converts the worker, chunker and metadata settings for
// walker.ImportFiles.
func (c *Config) ImportOptions() walker.ImportOptions {
	return walker.ImportOptions{
		Workers:         c.Workers,
		Chunker:         c.ChunkerOptions(),
		MaxChildren:     c.DAG.MaxChildrenPerNode,
		PreserveModTime: c.DAG.PreserveModTime,
		PreserveMode:    c.DAG.PreserveMode,
	}
}

// OpenStore opens the filesystem block store described by the store
// section, behind an LRU cache when cache_entries is positive.
func (c *Config) OpenStore() (blockstore.Store, error) {
	compression, err := blockstore.ParseCompression(c.Store.Compression)
	if err != nil {
		return nil, err
	}
	fs, err := blockstore.NewFS(c.Store.Dir, blockstore.FSOptions{Depth: c.Store.Depth, Compression: compression})
	if err != nil {
		return nil, err
	}
	if c.Store.CacheEntries > 0 {
		return blockstore.NewCached(fs, c.Store.CacheEntries), nil
	}
	return fs, nil
}
