package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/insight/internal/api"
	"github.com/MikeSquared-Agency/insight/internal/hermes"
	"github.com/MikeSquared-Agency/insight/internal/insight"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve engagement scoring and state extraction over HTTP and NATS",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newAppFromEnv(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	svc := a.insight()

	var calls api.CallLister
	if a.store != nil {
		calls = a.store
	}
	srv := api.NewServer(a.cfg.Port, svc, calls, a.llm.Model(), a.logger)

	if a.hermes != nil {
		if err := handleRequests(ctx, a, svc); err != nil {
			return err
		}
		if err := a.hermes.Publish(hermes.SubjectRegistered, map[string]any{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"port":      a.cfg.Port,
			"model":     a.llm.Model(),
		}); err != nil {
			a.logger.Warn("failed to publish registration", "error", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	a.logger.Info("insight ready", "port", a.cfg.Port)
	if err := g.Wait(); err != nil {
		return err
	}
	a.logger.Info("insight stopped")
	return nil
}

// handleRequests answers the request/reply subjects with the same service
// the HTTP API uses.
func handleRequests(ctx context.Context, a *app, svc *insight.Service) error {
	if err := a.hermes.Handle(hermes.SubjectEngagementScore, engagementHandler(ctx, svc, a.cfg.LLMTimeout)); err != nil {
		return err
	}
	return a.hermes.Handle(hermes.SubjectStateExtract, stateHandler(ctx, svc, a.cfg.LLMTimeout))
}

func engagementHandler(ctx context.Context, svc *insight.Service, timeout time.Duration) func([]byte) any {
	return func(data []byte) any {
		var req struct {
			Headline string `json:"headline"`
			Summary  string `json:"summary"`
		}
		if err := json.Unmarshal(data, &req); err != nil {
			return hermes.Reply{Error: fmt.Sprintf("invalid JSON: %v", err)}
		}
		if strings.TrimSpace(req.Headline) == "" || strings.TrimSpace(req.Summary) == "" {
			return hermes.Reply{Error: "headline and summary are required"}
		}
		rctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		result, err := svc.EngagementScore(rctx, req.Headline, req.Summary)
		if err != nil {
			return hermes.Reply{Error: err.Error()}
		}
		return hermes.Reply{OK: true, Fields: map[string]string{
			"headline":         result.Headline,
			"summary":          result.Summary,
			"engagement_score": result.EngagementScore,
		}}
	}
}

func stateHandler(ctx context.Context, svc *insight.Service, timeout time.Duration) func([]byte) any {
	return func(data []byte) any {
		var req struct {
			InputText string `json:"input_text"`
		}
		if err := json.Unmarshal(data, &req); err != nil {
			return hermes.Reply{Error: fmt.Sprintf("invalid JSON: %v", err)}
		}
		if strings.TrimSpace(req.InputText) == "" {
			return hermes.Reply{Error: "input_text is required"}
		}
		rctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		result, err := svc.State(rctx, req.InputText)
		if err != nil {
			return hermes.Reply{Error: err.Error()}
		}
		return hermes.Reply{OK: true, Fields: map[string]string{
			"input_text": result.InputText,
			"state":      result.State,
		}}
	}
}
