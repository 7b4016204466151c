package commands

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/limen/internal/config"
	"github.com/BrandonDHaskell/limen/internal/logging"
)

// app carries what PersistentPreRunE loads to the subcommands.
type app struct {
	cfg    config.Config
	logger *slog.Logger
}

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	a := &app{}
	var logLevelOverride string

	cmd := &cobra.Command{
		Use:           "limen-server",
		Short:         "Limen - just-in-time cloud access governance",
		Long:          `Limen tracks time-boxed privileged access requests through approval, grant and expiry, scoring each request's risk for approvers.`,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.cfg = config.FromEnv()
			if logLevelOverride != "" {
				a.cfg.LogLevel = logLevelOverride
			}
			// Offline commands print JSON on stdout; keep logs out of it.
			var w io.Writer = os.Stdout
			if cmd.Name() != "serve" {
				w = cmd.ErrOrStderr()
			}
			a.logger = logging.NewWithWriter(w, a.cfg.LogLevel, a.cfg.LogFormat)
			slog.SetDefault(a.logger)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&logLevelOverride, "log-level", "", "Override log level (debug|info|warn|error)")

	cmd.AddCommand(
		newServeCmd(a),
		newAssessCmd(a),
		newStepsCmd(a),
	)

	return cmd
}
