package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/insight/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "insight",
	Short: "Chat with an LLM and extract structured fields from text",
	Long: "Without a subcommand insight starts an interactive chat on the terminal.\n" +
		"Type 'sair' to leave.",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()
		// stdout carries the conversation and command output everywhere
		// except serve.
		var out io.Writer = os.Stderr
		if cmd.Name() == serveCmd.Name() {
			out = os.Stdout
		}
		setupLogging(cfg.LogLevel, out)
	},
	RunE: runChat,
}

func main() {
	rootCmd.AddCommand(engagementCmd, stateCmd, serveCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("insight failed", "error", err)
		os.Exit(1)
	}
}

func setupLogging(level string, w io.Writer) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
