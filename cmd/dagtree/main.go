// Command dagtree imports directory trees into a content-addressed block
// store and inspects the manifests it writes.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"dagtree/internal/config"
)

const defaultConfigPath = "dagtree.yaml"

var (
	argConfig   string
	argLogLevel string
	argWorkers  int
)

// set by each command's Run and returned from execute
var (
	exitCode int
	cmdError error
)

var rootCmd = &cobra.Command{
	Use:   "dagtree",
	Short: "content-addressed directory import and inspection",
	Long: `dagtree chunks every file below a directory into a balanced DAG,
stores the blocks under their BLAKE3 identifiers and links them into
directory nodes, sharding directories that grow too large. Each import
writes a JSON manifest with a Merkle proof per file.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&argConfig, "config", "c", defaultConfigPath, "config file path")
	rootCmd.PersistentFlags().StringVar(&argLogLevel, "log-level", "", "log level, overrides the config file")
	rootCmd.PersistentFlags().IntVarP(&argWorkers, "workers", "w", 0, "number of import workers, overrides the config file")
}

// rootContext is cancelled on interrupt.
var rootContext = func() context.Context { return context.Background() }

// loadConfig reads the config file and applies the global flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(argConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if argLogLevel != "" {
		cfg.LogLevel = argLogLevel
	}
	if argWorkers > 0 {
		cfg.Workers = argWorkers
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	level, _ := log.ParseLevel(cfg.LogLevel)
	log.SetLevel(level)
	return cfg, nil
}

// execute runs the command line in args, writing results to w. It returns
// the process exit code.
func execute(args []string, w io.Writer) (int, error) {
	exitCode, cmdError = 0, nil
	rootCmd.SetArgs(args)
	rootCmd.SetOut(w)
	if err := rootCmd.Execute(); err != nil {
		return 1, err
	}
	return exitCode, cmdError
}

func main() {
	log.SetOutput(os.Stderr)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	rootContext = func() context.Context { return ctx }

	code, err := execute(os.Args[1:], os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if code == 0 {
			code = 1
		}
	}
	stop()
	os.Exit(code)
}
