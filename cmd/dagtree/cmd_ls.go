package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"dagtree/internal/dag"
	"dagtree/internal/manifest"
	"dagtree/internal/progress"
)

var argLong bool

var lsCmd = &cobra.Command{
	Use:   "ls <manifest> [path]",
	Short: "list an imported directory, or the manifest's roots",
	Args:  cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		path := ""
		if len(args) == 2 {
			path = args[1]
		}
		exitCode, cmdError = runLs(cmd, args[0], path)
	},
}

func init() {
	rootCmd.AddCommand(lsCmd)
	lsCmd.Flags().BoolVarP(&argLong, "long", "l", false, "show identifiers, kinds and sizes")
}

func runLs(cmd *cobra.Command, manifestPath, path string) (int, error) {
	w := cmd.OutOrStdout()
	m, err := manifest.Load(manifestPath)
	if err != nil {
		return 1, fmt.Errorf("failed to load manifest: %w", err)
	}

	if path == "" {
		// a wrapped import lists the wrapping directory itself
		if len(m.Roots) != 1 || m.Roots[0].Path != "" {
			for _, r := range m.Roots {
				printEntry(w, r.Path, r.Result)
			}
			return 0, nil
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return 1, err
	}
	store, err := cfg.OpenStore()
	if err != nil {
		return 1, fmt.Errorf("failed to open block store: %w", err)
	}

	ctx := rootContext()
	res, err := resolvePath(ctx, store, m, path)
	if err != nil {
		return 1, err
	}
	if !res.Kind.IsDirectory() {
		printEntry(w, path, res)
		return 0, nil
	}
	for e, err := range dag.List(ctx, store, res) {
		if err != nil {
			return 1, err
		}
		printEntry(w, e.Name, e.Link)
	}
	return 0, nil
}

func printEntry(w io.Writer, name string, res dag.Result) {
	if res.Kind.IsDirectory() {
		name += "/"
	}
	if !argLong {
		fmt.Fprintln(w, name)
		return
	}
	size := res.FileSize
	if res.Kind.IsDirectory() {
		size = res.Size
	}
	fmt.Fprintf(w, "%s %-16s %10s %s\n", res.ID.Short(), res.Kind, progress.FormatSize(int64(size)), name)
}
