// Package cli implements the fatt command tree.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/raysh454/fatt/internal/app"
	"github.com/raysh454/fatt/internal/logging"
)

// rootOptions carries persistent flags and the state loaded from them.
type rootOptions struct {
	configPath string
	logLevel   string

	cfg    *app.Config
	logger logging.Logger
}

// NewRootCommand builds the full command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "fatt",
		Short: "Find All The Things: scan domains for exposed files",
		Long: `fatt checks every domain of a list for well-known sensitive paths
(.env files, git metadata, backups, status pages) and records which ones
answer with the expected content. Scans run locally or across workers.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(opts.configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Log.Level = opts.logLevel
			}
			logger, err := app.NewLogger(cfg.Log, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			opts.cfg = cfg
			opts.logger = logger
			return nil
		},
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default ./fatt.yaml if present)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level: debug|info|warn|error")

	root.AddCommand(
		newScanCommand(opts),
		newRulesCommand(opts),
		newResultsCommand(opts),
		newDNSCommand(opts),
		newWorkerCommand(opts),
	)
	return root
}

// Execute runs the command tree against os.Args.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func (o *rootOptions) application() *app.Application {
	return app.NewApplication(o.cfg, o.logger)
}

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
