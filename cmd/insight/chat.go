package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/glamour"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/insight/internal/chat"
)

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newAppFromEnv(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	opts := []chat.Option{}
	tc, err := chat.NewTokenCounter()
	switch {
	case err == nil:
		opts = append(opts, chat.WithTokenCounter(tc), chat.WithBudget(a.cfg.ChatTokenBudget))
	case a.cfg.ChatTokenBudget > 0:
		return err
	default:
		a.logger.Warn("token accounting disabled", "error", err)
	}
	if a.store != nil {
		opts = append(opts, chat.WithRecorder(a.store))
	}
	if a.hermes != nil {
		opts = append(opts, chat.WithPublisher(a.hermes))
	}

	sess := chat.NewSession()
	loop := &chat.Loop{
		In:        os.Stdin,
		Out:       os.Stdout,
		Chat:      chat.New(a.llm, a.catalog.ChatSystem, a.logger, opts...),
		Session:   sess,
		MaxTokens: a.cfg.ChatMaxTokens,
		Render:    markdownRenderer(a.cfg.ChatRenderMarkdown),
	}
	a.logger.Info("chat session started", "session_id", sess.ID, "model", a.llm.Model())

	if err := loop.Run(ctx); err != nil {
		return err
	}
	a.logger.Info("chat session ended", "session_id", sess.ID, "turns", loop.Session.Len())
	return nil
}

// markdownRenderer returns nil when replies should be printed verbatim.
func markdownRenderer(enabled bool) func(string) string {
	if !enabled || !isatty.IsTerminal(os.Stdout.Fd()) {
		return nil
	}
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err != nil {
		return nil
	}
	return func(s string) string {
		out, err := r.Render(s)
		if err != nil {
			return s
		}
		return strings.Trim(out, "\n")
	}
}
