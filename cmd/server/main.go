package main

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/ahmetk3436/autoremedy/internal/config"
	"github.com/ahmetk3436/autoremedy/internal/handlers"
	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "autoremedy",
		Short:         "Autonomous detection, approval and remediation for server fleets",
		Version:       handlers.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), config.Load())
		},
	}
	root.AddCommand(newServeCommand(), newPolicyCommand())

	if err := root.Execute(); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the agent pipeline and the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), config.Load())
		},
	}
}

// setupLogging installs the default slog logger. format is "json" or "text".
func setupLogging(w io.Writer, level, format string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if strings.EqualFold(format, "text") {
		h = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(h))
}
