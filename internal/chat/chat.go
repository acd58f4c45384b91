// Package chat holds multi-turn conversations with the model and the
// terminal loop that drives them.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/insight/internal/hermes"
	"github.com/MikeSquared-Agency/insight/internal/llm"
	"github.com/MikeSquared-Agency/insight/internal/store"
)

// ErrBudgetExceeded is returned when a turn would push the request past the
// configured token budget. The model is not called.
var ErrBudgetExceeded = errors.New("chat token budget exceeded")

type Recorder interface {
	RecordCall(ctx context.Context, call store.Call) error
}

type Publisher interface {
	Publish(subject string, data any) error
}

type Chat struct {
	llm       llm.Completer
	system    string
	logger    *slog.Logger
	tokens    *TokenCounter
	budget    int
	recorder  Recorder
	publisher Publisher
}

type Option func(*Chat)

// WithTokenCounter enables per-request token accounting.
func WithTokenCounter(tc *TokenCounter) Option { return func(c *Chat) { c.tokens = tc } }

// WithBudget rejects requests above n prompt tokens. n <= 0 is unbounded.
// It has no effect without a token counter.
func WithBudget(n int) Option { return func(c *Chat) { c.budget = n } }
func WithRecorder(r Recorder) Option { return func(c *Chat) { c.recorder = r } }
func WithPublisher(p Publisher) Option { return func(c *Chat) { c.publisher = p } }

func New(c llm.Completer, systemPrompt string, logger *slog.Logger, opts ...Option) *Chat {
	ch := &Chat{llm: c, system: systemPrompt, logger: logger}
	for _, opt := range opts {
		opt(ch)
	}
	return ch
}

// Respond sends the system prompt, the session transcript and userMessage
// at temperature 0. maxTokens <= 0 leaves the reply length uncapped.
//
// On success the returned session holds two more turns than sess. On
// failure the reply is empty and sess is returned unchanged.
func (c *Chat) Respond(ctx context.Context, sess Session, userMessage string, maxTokens int) (string, Session, error) {
	user := llm.Message{Role: llm.RoleUser, Content: userMessage}
	req := llm.Request{
		System:      c.system,
		Messages:    append(sess.Transcript(), user),
		Temperature: 0,
		MaxTokens:   maxTokens,
	}

	if c.tokens != nil {
		n := c.tokens.CountRequest(req)
		c.logger.Debug("chat request tokens", "session_id", sess.ID, "tokens", n, "turns", sess.Len())
		if c.budget > 0 && n > c.budget {
			err := fmt.Errorf("%w: request needs %d tokens, budget is %d", ErrBudgetExceeded, n, c.budget)
			c.logger.Warn("chat turn rejected", "session_id", sess.ID, "error", err)
			c.publish(sess, sess.Len(), 0, err)
			return "", sess, err
		}
	}

	start := time.Now()
	reply, err := c.llm.Complete(ctx, req)
	elapsed := time.Since(start)

	c.record(ctx, sess, userMessage, reply, elapsed, err)

	if err != nil {
		c.logger.Error("chat turn failed", "session_id", sess.ID, "error", err)
		c.publish(sess, sess.Len(), elapsed, err)
		return "", sess, fmt.Errorf("chat: %w", err)
	}

	next := sess.append(user, llm.Message{Role: llm.RoleAssistant, Content: reply})
	c.logger.Info("chat turn complete",
		"session_id", sess.ID,
		"turns", next.Len(),
		"duration_ms", elapsed.Milliseconds(),
	)
	c.publish(next, next.Len(), elapsed, nil)
	return reply, next, nil
}

func (c *Chat) record(ctx context.Context, sess Session, prompt, reply string, elapsed time.Duration, err error) {
	if c.recorder == nil {
		return
	}
	call := store.Call{
		ID:       uuid.New(),
		Kind:     store.CallChat,
		Subject:  sess.ID.String(),
		Model:    c.llm.Model(),
		Prompt:   prompt,
		Response: reply,
		Status:   store.StatusOK,
		Duration: elapsed,
	}
	if err != nil {
		call.Status = store.StatusFailed
		call.ErrorKind = string(llm.KindOf(err))
		call.Error = err.Error()
	}
	if rerr := c.recorder.RecordCall(ctx, call); rerr != nil {
		c.logger.Warn("failed to record model call", "session_id", sess.ID, "error", rerr)
	}
}

func (c *Chat) publish(sess Session, turns int, elapsed time.Duration, err error) {
	if c.publisher == nil {
		return
	}
	evt := hermes.ChatTurnEvent{
		SessionID:  sess.ID.String(),
		Model:      c.llm.Model(),
		Turns:      turns,
		OK:         err == nil,
		DurationMS: elapsed.Milliseconds(),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	if err != nil {
		evt.ErrorKind = errorKind(err)
	}
	if perr := c.publisher.Publish(hermes.SubjectChatTurn, evt); perr != nil {
		c.logger.Warn("failed to publish chat event", "error", perr)
	}
}

func errorKind(err error) string {
	if errors.Is(err, ErrBudgetExceeded) {
		return "budget"
	}
	return string(llm.KindOf(err))
}
