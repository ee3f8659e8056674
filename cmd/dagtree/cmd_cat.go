package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"dagtree/internal/blockstore"
	"dagtree/internal/dag"
	"dagtree/internal/manifest"
)

var catCmd = &cobra.Command{
	Use:   "cat <manifest> <path>",
	Short: "write the content of an imported file to stdout",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		exitCode, cmdError = runCat(cmd, args[0], args[1])
	},
}

func init() {
	rootCmd.AddCommand(catCmd)
}

func runCat(cmd *cobra.Command, manifestPath, path string) (int, error) {
	m, err := manifest.Load(manifestPath)
	if err != nil {
		return 1, fmt.Errorf("failed to load manifest: %w", err)
	}
	cfg, err := loadConfig()
	if err != nil {
		return 1, err
	}
	store, err := cfg.OpenStore()
	if err != nil {
		return 1, fmt.Errorf("failed to open block store: %w", err)
	}
	if _, err := catFile(rootContext(), store, m, path, cmd.OutOrStdout()); err != nil {
		return 1, err
	}
	return 0, nil
}

// resolvePath finds path below the manifest's roots.
func resolvePath(ctx context.Context, store blockstore.Store, m *manifest.Manifest, path string) (dag.Result, error) {
	root, rest, ok := m.Resolve(path)
	if !ok {
		return dag.Result{}, fmt.Errorf("%q: %w", path, dag.ErrNoSuchEntry)
	}
	return dag.Resolve(ctx, store, root, rest)
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// catFile streams the file at path to w and returns the bytes written.
func catFile(ctx context.Context, store blockstore.Store, m *manifest.Manifest, path string, w io.Writer) (int64, error) {
	res, err := resolvePath(ctx, store, m, path)
	if err != nil {
		return 0, err
	}
	if !res.Kind.IsFile() {
		return 0, fmt.Errorf("%s is a %s, not a file", path, res.Kind)
	}
	cw := &countingWriter{w: w}
	err = dag.Cat(ctx, store, res, cw)
	return cw.n, err
}
