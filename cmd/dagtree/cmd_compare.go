package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"dagtree/internal/compare"
	"dagtree/internal/manifest"
)

var compareCmd = &cobra.Command{
	Use:   "compare <manifest> <directory|manifest>",
	Short: "compare a saved manifest against a directory or another manifest",
	Long: `compare reports files added, modified and deleted since the saved
manifest was written. A directory is imported first, so its blocks land in
the configured store. Exit code 1 means changes were found, 2 means some
paths could not be read.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		exitCode, cmdError = runCompare(cmd, args[0], args[1])
	},
}

func init() {
	rootCmd.AddCommand(compareCmd)
	compareCmd.Flags().BoolVarP(&argQuiet, "quiet", "q", false, "do not draw a progress bar")
}

func runCompare(cmd *cobra.Command, oldPath, target string) (int, error) {
	w := cmd.OutOrStdout()
	oldManifest, err := manifest.Load(oldPath)
	if err != nil {
		return 1, fmt.Errorf("failed to load manifest: %w", err)
	}
	fmt.Fprintf(w, "Loaded saved manifest (merkle root: %.16s...)\n", oldManifest.MerkleRoot)

	var (
		newManifest *manifest.Manifest
		skipped     int
	)
	if info, err := os.Stat(target); err == nil && info.Mode().IsRegular() {
		if newManifest, err = manifest.Load(target); err != nil {
			return 1, fmt.Errorf("failed to load manifest: %w", err)
		}
	} else {
		cfg, err := loadConfig()
		if err != nil {
			return 1, err
		}
		summary, err := importDirectory(cfg, target, w)
		if err != nil {
			return 1, err
		}
		newManifest, skipped = summary.Manifest, len(summary.Errors)
	}

	result := compare.Compare(oldManifest, newManifest)
	fmt.Fprintln(w, compare.FormatReport(result))

	switch {
	case skipped > 0:
		fmt.Fprintf(w, "Skipped: %d paths\n", skipped)
		return 2, nil
	case result.HasChanges():
		return 1, nil
	}
	return 0, nil
}
