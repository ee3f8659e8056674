// Package importer runs a whole import: walk a source filesystem, chunk
// and store every file, assemble the directory trie and record the
// outcome in a manifest.
package importer

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	log "github.com/sirupsen/logrus"

	"dagtree/internal/blockstore"
	"dagtree/internal/manifest"
	"dagtree/internal/progress"
	"dagtree/internal/tree"
	"dagtree/internal/walker"
)

type Options struct {
	Exclude []string
	Import  walker.ImportOptions
	Tree    tree.Options
	// Progress receives a progress bar while files are imported. Nil
	// disables it.
	Progress io.Writer
}

type Summary struct {
	Manifest    *manifest.Manifest
	Directories int
	// Errors holds paths that could not be walked or read. They are
	// missing from the manifest.
	Errors []error
}

// Import imports fsys into store. source is recorded in the manifest as
// the origin of the import.
func Import(ctx context.Context, fsys billy.Filesystem, source string, store blockstore.Store, opts Options) (*Summary, error) {
	walked, err := walker.Walk(fsys, opts.Exclude)
	if err != nil {
		return nil, err
	}
	files := walked.Files()
	log.Debugf("importer: %d entries (%d files) under %s", len(walked.Entries), len(files), source)

	var bar *progress.Bar
	if opts.Progress != nil {
		bar = progress.NewWriter(int64(len(files)), opts.Progress)
	}
	imported, err := walker.ImportFiles(ctx, fsys, walked.Entries, store, opts.Import, bar)
	if err != nil {
		return nil, err
	}
	bar.Finish()

	summary := &Summary{Errors: append(walked.Errors, imported.Errors...)}
	modTimes := make(map[string]time.Time, len(files))
	for _, f := range files {
		modTimes[f.Path] = f.ModTime
	}
	entries := func(yield func(tree.PathEntry, error) bool) {
		for _, e := range imported.Entries {
			if !yield(e, nil) {
				return
			}
		}
	}

	var (
		roots         []manifest.Root
		manifestFiles []manifest.File
	)
	for out, err := range tree.Build(ctx, entries, store, opts.Tree) {
		if err != nil {
			return nil, fmt.Errorf("building tree: %w", err)
		}
		if out.Result.Kind.IsDirectory() {
			summary.Directories++
		} else {
			manifestFiles = append(manifestFiles, manifest.File{
				Path:    out.Path,
				Result:  out.Result,
				ModTime: modTimes[out.Path],
				Mode:    uint32(out.Meta.Mode),
			})
		}
		if isTopLevel(out.Path, opts.Tree.WrapWithDirectory) {
			roots = append(roots, manifest.Root{Path: out.Path, Result: out.Result})
		}
	}

	summary.Manifest, err = manifest.New(source, roots, manifestFiles)
	if err != nil {
		return nil, err
	}
	log.Debugf("importer: %d roots, %d files, %d directories", len(roots), len(manifestFiles), summary.Directories)
	return summary, nil
}

func isTopLevel(path string, wrapped bool) bool {
	if wrapped {
		return path == ""
	}
	return !strings.Contains(path, "/")
}
