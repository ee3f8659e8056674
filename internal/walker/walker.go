package walker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"dagtree/internal/blockstore"
	"dagtree/internal/chunker"
	"dagtree/internal/dag"
	"dagtree/internal/progress"
	"dagtree/internal/tree"
)

// FileInfo is one walked path. Path is slash-separated and relative to
// the filesystem root.
type FileInfo struct {
	Path    string
	Size    int64
	ModTime time.Time
	Mode    os.FileMode
	Dir     bool
}

type WalkResult struct {
	// Entries holds directories and regular files in walk order: sorted
	// by name, each directory before its contents.
	Entries []FileInfo
	Errors  []error
}

// Files returns the regular files among the entries.
func (r *WalkResult) Files() []FileInfo {
	var files []FileInfo
	for _, e := range r.Entries {
		if !e.Dir {
			files = append(files, e)
		}
	}
	return files
}

// Walk lists fsys from its root, skipping excluded paths. Unreadable
// subdirectories are recorded in Errors; only an unreadable root fails.
func Walk(fsys billy.Filesystem, exclusions []string) (*WalkResult, error) {
	result := &WalkResult{
		Entries: make([]FileInfo, 0),
		Errors:  make([]error, 0),
	}

	infos, err := fsys.ReadDir("/")
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}
	walkDir(fsys, "", infos, exclusions, result)
	return result, nil
}

func walkDir(fsys billy.Filesystem, dir string, infos []os.FileInfo, exclusions []string, result *WalkResult) {
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name() < infos[j].Name() })

	for _, info := range infos {
		relPath := info.Name()
		if dir != "" {
			relPath = dir + "/" + info.Name()
		}

		if shouldExclude(relPath, info.IsDir(), exclusions) {
			continue
		}

		switch {
		case info.IsDir():
			result.Entries = append(result.Entries, FileInfo{
				Path:    relPath,
				ModTime: info.ModTime(),
				Mode:    info.Mode(),
				Dir:     true,
			})
			children, err := fsys.ReadDir(fsys.Join("/", relPath))
			if err != nil {
				result.Errors = append(result.Errors, fmt.Errorf("%s: %w", relPath, err))
				continue
			}
			walkDir(fsys, relPath, children, exclusions, result)
		case info.Mode().IsRegular():
			result.Entries = append(result.Entries, FileInfo{
				Path:    relPath,
				Size:    info.Size(),
				ModTime: info.ModTime(),
				Mode:    info.Mode(),
			})
		default:
			log.Debugf("walker: skipping %s (%s)", relPath, info.Mode().Type())
		}
	}
}

// shouldExclude matches relPath against the exclusion patterns. Patterns
// ending in "/" match directories by name anywhere in the path; other
// patterns match the base name, or the whole path when they contain "/".
func shouldExclude(relPath string, isDir bool, exclusions []string) bool {
	parts := strings.Split(relPath, "/")
	dirParts := parts
	if !isDir {
		dirParts = parts[:len(parts)-1]
	}

	for _, pattern := range exclusions {
		if strings.HasSuffix(pattern, "/") {
			dirPattern := strings.TrimSuffix(pattern, "/")
			for _, part := range dirParts {
				if matched, _ := path.Match(dirPattern, part); matched || part == dirPattern {
					return true
				}
			}
			continue
		}

		if matched, err := path.Match(pattern, path.Base(relPath)); err == nil && matched {
			return true
		}
		if strings.Contains(pattern, "/") {
			if matched, err := path.Match(pattern, relPath); err == nil && matched {
				return true
			}
		}
	}
	return false
}

// ImportOptions configures ImportFiles.
type ImportOptions struct {
	Workers     int
	Chunker     chunker.Config
	MaxChildren int
	// PreserveModTime and PreserveMode copy file metadata into directory
	// entries, making it part of each directory's identity.
	PreserveModTime bool
	PreserveMode    bool
}

type ImportResult struct {
	// Entries are ready for the tree builder, in walk order. Directories
	// are placeholders; files that failed to import are left out.
	Entries []tree.PathEntry
	// Errors holds per-file read failures.
	Errors []error
}

// ImportFiles chunks and stores every walked file on a bounded worker
// pool. Read failures are collected per file; a storage failure or a
// cancelled context aborts the whole import.
func ImportFiles(ctx context.Context, fsys billy.Filesystem, entries []FileInfo, store blockstore.Store, opts ImportOptions, progressBar *progress.Bar) (*ImportResult, error) {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.MaxChildren == 0 {
		opts.MaxChildren = dag.DefaultMaxChildren
	}

	results := make([]*dag.Result, len(entries))
	var (
		mu      sync.Mutex
		errList []error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for i, entry := range entries {
		if entry.Dir {
			continue
		}
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res, err := importFile(gctx, fsys, entry, store, opts)
			if err != nil {
				if errors.Is(err, blockstore.ErrStorageFailure) || gctx.Err() != nil {
					return err
				}
				mu.Lock()
				errList = append(errList, fmt.Errorf("%s: %w", entry.Path, err))
				mu.Unlock()
				return nil
			}
			results[i] = &res

			progressBar.SetDirectory(path.Dir(entry.Path))
			progressBar.Increment(entry.Size)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("import aborted: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("import aborted: %w", err)
	}

	out := &ImportResult{Entries: make([]tree.PathEntry, 0, len(entries)), Errors: errList}
	for i, entry := range entries {
		meta := tree.Metadata{Dir: entry.Dir}
		if opts.PreserveModTime {
			meta.ModTime = entry.ModTime
		}
		if opts.PreserveMode {
			meta.Mode = entry.Mode.Perm()
		}
		switch {
		case entry.Dir:
			out.Entries = append(out.Entries, tree.PathEntry{Path: entry.Path, Meta: meta})
		case results[i] != nil:
			out.Entries = append(out.Entries, tree.PathEntry{Path: entry.Path, Result: results[i], Meta: meta})
		}
	}
	sort.Slice(out.Errors, func(i, j int) bool { return out.Errors[i].Error() < out.Errors[j].Error() })
	return out, nil
}

func importFile(ctx context.Context, fsys billy.Filesystem, entry FileInfo, store blockstore.Store, opts ImportOptions) (dag.Result, error) {
	f, err := fsys.Open(fsys.Join("/", entry.Path))
	if err != nil {
		return dag.Result{}, err
	}
	defer f.Close()

	c, err := chunker.New(f, opts.Chunker)
	if err != nil {
		return dag.Result{}, err
	}
	return dag.ImportFile(ctx, c, store, opts.MaxChildren)
}
