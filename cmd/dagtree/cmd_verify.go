package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"dagtree/internal/manifest"
)

var argDeep bool

var verifyCmd = &cobra.Command{
	Use:   "verify <manifest>",
	Short: "check a manifest's inclusion proofs and that its roots are stored",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		exitCode, cmdError = runVerify(cmd, args[0])
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().BoolVar(&argDeep, "deep", false, "also read back every file and compare its size")
}

func runVerify(cmd *cobra.Command, path string) (int, error) {
	w := cmd.OutOrStdout()
	m, err := manifest.Load(path)
	if err != nil {
		return 1, fmt.Errorf("failed to load manifest: %w", err)
	}
	if err := m.Verify(); err != nil {
		return 1, err
	}
	fmt.Fprintf(w, "✓ %d inclusion proofs match %s\n", len(m.Files), m.MerkleRoot)

	cfg, err := loadConfig()
	if err != nil {
		return 1, err
	}
	store, err := cfg.OpenStore()
	if err != nil {
		return 1, fmt.Errorf("failed to open block store: %w", err)
	}

	ctx := rootContext()
	missing := 0
	for _, r := range m.Roots {
		ok, err := store.Has(ctx, r.Result.ID)
		if err != nil {
			return 1, err
		}
		if !ok {
			fmt.Fprintf(w, "✗ missing root %s %s\n", r.Result.ID, r.Path)
			missing++
		}
	}
	if argDeep && missing == 0 {
		for _, f := range m.Files {
			n, err := catFile(ctx, store, m, f.Path, io.Discard)
			if err != nil {
				fmt.Fprintf(w, "✗ %s: %v\n", f.Path, err)
				missing++
				continue
			}
			if uint64(n) != f.Result.FileSize {
				fmt.Fprintf(w, "✗ %s: read %d bytes, expected %d\n", f.Path, n, f.Result.FileSize)
				missing++
			}
		}
	}
	if missing > 0 {
		return 1, fmt.Errorf("%d problems found", missing)
	}
	fmt.Fprintf(w, "✓ %d roots present in %s\n", len(m.Roots), cfg.Store.Dir)
	return 0, nil
}
