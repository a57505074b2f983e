// Package cli implements the command-line front-end: command parsing,
// signal handling, and wiring the transfer engine's components together
// for each subcommand.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ghga-de/ghga-connector/internal/logging"
	"github.com/ghga-de/ghga-connector/internal/version"
)

// NewRootCmd builds the top-level "ghga-connector" command tree.
func NewRootCmd() *cobra.Command {
	var (
		configPath string
		verbose    bool
		debug      bool
	)

	logger := logging.NewLogger()

	root := &cobra.Command{
		Use:   "ghga-connector",
		Short: "Transfer files to and from the GHGA federated archive",
		Long: `ghga-connector uploads and downloads large genomic files through the
GHGA archive's Work-Package, Upload, and Download services, applying
Crypt4GH envelope encryption end to end.`,
		Version:       fmt.Sprintf("%s (built %s)", version.Version, version.BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			switch {
			case debug:
				logging.SetGlobalLevel(zerolog.DebugLevel)
			case verbose:
				logging.SetGlobalLevel(zerolog.InfoLevel)
			default:
				logging.SetGlobalLevel(zerolog.WarnLevel)
			}
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "./.ghga_connector.yaml", "path to the configuration file")
	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable info-level logging")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug-level logging, including retry detail")

	root.AddCommand(
		newDownloadCmd(logger, &configPath),
		newDecryptCmd(logger),
	)

	// Uploads are normally driven by automated submission pipelines, not
	// interactive users, so the command is only registered when the
	// environment explicitly opts in.
	if uploadEnabled() {
		root.AddCommand(newUploadCmd(logger, &configPath))
	}

	return root
}

// Execute runs the root command, wiring SIGINT/SIGTERM into context
// cancellation so an in-flight transfer can unwind cleanly.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCmd()
	root.SetContext(ctx)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}
