package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"

	"dagtree/internal/config"
	"dagtree/internal/importer"
	"dagtree/internal/manifest"
)

var (
	argWrap   bool
	argOutput string
	argQuiet  bool
)

var importCmd = &cobra.Command{
	Use:   "import <directory> [manifest]",
	Short: "import a directory into the block store and write its manifest",
	Args:  cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		output := argOutput
		if len(args) == 2 {
			if output != "" && output != args[1] {
				exitCode, cmdError = 1, fmt.Errorf("two manifest paths given: %q and %q", output, args[1])
				return
			}
			output = args[1]
		}
		exitCode, cmdError = runImport(cmd, args[0], output)
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().BoolVar(&argWrap, "wrap", false, "wrap the import in a single root directory")
	importCmd.Flags().StringVarP(&argOutput, "output", "o", "", "manifest path, defaults to output/<merkle root>.json")
	importCmd.Flags().BoolVarP(&argQuiet, "quiet", "q", false, "do not draw a progress bar")
}

func runImport(cmd *cobra.Command, directory, output string) (int, error) {
	cfg, err := loadConfig()
	if err != nil {
		return 1, err
	}
	if cmd.Flags().Changed("wrap") {
		cfg.DAG.WrapWithDirectory = argWrap
	}
	if output == "" {
		output = cfg.OutputFile
	}

	w := cmd.OutOrStdout()
	summary, err := importDirectory(cfg, directory, w)
	if err != nil {
		return 1, err
	}
	m := summary.Manifest

	if output == "" {
		output = filepath.Join("output", m.MerkleRoot+".json")
	}
	if err := manifest.Save(m, output); err != nil {
		return 1, fmt.Errorf("failed to save manifest: %w", err)
	}

	fmt.Fprintf(w, "✓ Imported %d files in %d directories (%s)\n", len(m.Files), summary.Directories, m.Size)
	for _, r := range m.Roots {
		name := r.Path
		if name == "" {
			name = "."
		}
		fmt.Fprintf(w, "  %s %s %s\n", r.Result.ID, r.Result.Kind, name)
	}
	fmt.Fprintf(w, "  Merkle root: %s\n", m.MerkleRoot)
	fmt.Fprintf(w, "  Manifest: %s\n", output)

	if len(summary.Errors) > 0 {
		fmt.Fprintf(w, "\n⚠ Skipped %d paths due to errors\n", len(summary.Errors))
		for _, e := range summary.Errors {
			fmt.Fprintf(w, "  %v\n", e)
		}
		return 2, nil
	}
	return 0, nil
}

// importDirectory imports directory into the configured store.
func importDirectory(cfg *config.Config, directory string, w io.Writer) (*importer.Summary, error) {
	absDirectory, err := filepath.Abs(directory)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}
	if info, err := os.Stat(absDirectory); err != nil {
		return nil, err
	} else if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", absDirectory)
	}

	store, err := cfg.OpenStore()
	if err != nil {
		return nil, fmt.Errorf("failed to open block store: %w", err)
	}

	fmt.Fprintf(w, "Importing directory: %s\n", absDirectory)
	opts := importer.Options{
		Exclude: cfg.Exclude,
		Import:  cfg.ImportOptions(),
		Tree:    cfg.TreeOptions(),
	}
	if !argQuiet {
		opts.Progress = os.Stderr
	}
	return importer.Import(rootContext(), osfs.New(absDirectory), absDirectory, store, opts)
}
