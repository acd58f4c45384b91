package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/MikeSquared-Agency/insight/internal/hermes"
	"github.com/MikeSquared-Agency/insight/internal/llm"
	"github.com/MikeSquared-Agency/insight/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const systemPrompt = "You are a helpful assistant."

// fakeLLM echoes the last user turn unless err is set.
type fakeLLM struct {
	err      error
	requests []llm.Request
}

func (f *fakeLLM) Complete(_ context.Context, req llm.Request) (string, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return "", f.err
	}
	return "echo: " + req.Messages[len(req.Messages)-1].Content, nil
}

func (f *fakeLLM) Model() string { return "fake-model" }

type memRecorder struct{ calls []store.Call }

func (m *memRecorder) RecordCall(_ context.Context, c store.Call) error {
	m.calls = append(m.calls, c)
	return nil
}

type memPublisher struct{ events []hermes.ChatTurnEvent }

func (m *memPublisher) Publish(_ string, data any) error {
	m.events = append(m.events, data.(hermes.ChatTurnEvent))
	return nil
}

func TestRespond_GrowsTranscriptInOrder(t *testing.T) {
	fake := &fakeLLM{}
	c := New(fake, systemPrompt, discardLogger())
	sess := NewSession()

	inputs := []string{"hello", "how are you?", "bye"}
	for _, in := range inputs {
		reply, next, err := c.Respond(context.Background(), sess, in, 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if reply != "echo: "+in {
			t.Errorf("unexpected reply %q", reply)
		}
		sess = next
	}

	tr := sess.Transcript()
	if len(tr) != 2*len(inputs) {
		t.Fatalf("expected %d turns, got %d", 2*len(inputs), len(tr))
	}
	for i, in := range inputs {
		user, asst := tr[2*i], tr[2*i+1]
		if user.Role != llm.RoleUser || user.Content != in {
			t.Errorf("turn %d: unexpected user turn %+v", 2*i, user)
		}
		if asst.Role != llm.RoleAssistant || asst.Content != "echo: "+in {
			t.Errorf("turn %d: unexpected assistant turn %+v", 2*i+1, asst)
		}
	}
}

func TestRespond_RequestShape(t *testing.T) {
	fake := &fakeLLM{}
	c := New(fake, systemPrompt, discardLogger())

	_, sess, _ := c.Respond(context.Background(), NewSession(), "first", 0)
	_, _, _ = c.Respond(context.Background(), sess, "second", 256)

	req := fake.requests[1]
	if req.System != systemPrompt {
		t.Errorf("expected system prompt, got %q", req.System)
	}
	if req.Temperature != 0 {
		t.Errorf("expected temperature 0, got %v", req.Temperature)
	}
	if req.MaxTokens != 256 {
		t.Errorf("expected max tokens 256, got %d", req.MaxTokens)
	}
	if len(req.Messages) != 3 || req.Messages[2].Content != "second" {
		t.Errorf("expected transcript plus new user turn, got %+v", req.Messages)
	}
	if fake.requests[0].MaxTokens != 0 {
		t.Errorf("expected no cap on first request, got %d", fake.requests[0].MaxTokens)
	}
}

func TestRespond_FailureLeavesSessionUnchanged(t *testing.T) {
	fake := &fakeLLM{}
	c := New(fake, systemPrompt, discardLogger())
	_, sess, _ := c.Respond(context.Background(), NewSession(), "hello", 0)

	fake.err = &llm.Error{Kind: llm.KindNetwork, Provider: "fake", Err: errors.New("connection refused")}
	reply, next, err := c.Respond(context.Background(), sess, "again", 0)
	if err == nil {
		t.Fatal("expected error")
	}
	if reply != "" {
		t.Errorf("expected empty reply, got %q", reply)
	}
	if llm.KindOf(err) != llm.KindNetwork {
		t.Errorf("expected network kind, got %q", llm.KindOf(err))
	}
	if next.Len() != 2 || next.ID != sess.ID {
		t.Errorf("expected unchanged session, got %d turns", next.Len())
	}
}

func TestRespond_DoesNotMutateInput(t *testing.T) {
	c := New(&fakeLLM{}, systemPrompt, discardLogger())
	_, base, _ := c.Respond(context.Background(), NewSession(), "one", 0)

	_, a, _ := c.Respond(context.Background(), base, "two-a", 0)
	_, b, _ := c.Respond(context.Background(), base, "two-b", 0)

	if base.Len() != 2 {
		t.Errorf("expected base to keep 2 turns, got %d", base.Len())
	}
	if a.Transcript()[2].Content != "two-a" || b.Transcript()[2].Content != "two-b" {
		t.Error("expected branches to be independent")
	}
}

func TestRespond_BudgetExceeded(t *testing.T) {
	tc, err := NewTokenCounter()
	if err != nil {
		t.Fatalf("token counter: %v", err)
	}
	fake := &fakeLLM{}
	c := New(fake, systemPrompt, discardLogger(), WithTokenCounter(tc), WithBudget(5))
	sess := NewSession()

	_, next, err := c.Respond(context.Background(), sess, "tell me a long story about the sea", 0)
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("expected ErrBudgetExceeded, got %v", err)
	}
	if len(fake.requests) != 0 {
		t.Errorf("expected no model call, got %d", len(fake.requests))
	}
	if next.Len() != 0 {
		t.Errorf("expected unchanged session, got %d turns", next.Len())
	}
}

func TestRespond_RecordsAndPublishes(t *testing.T) {
	fake := &fakeLLM{}
	rec := &memRecorder{}
	pub := &memPublisher{}
	c := New(fake, systemPrompt, discardLogger(), WithRecorder(rec), WithPublisher(pub))
	sess := NewSession()

	_, sess, _ = c.Respond(context.Background(), sess, "hello", 0)
	fake.err = &llm.Error{Kind: llm.KindAPI, Provider: "fake", Status: 500, Err: errors.New("boom")}
	_, _, _ = c.Respond(context.Background(), sess, "again", 0)

	if len(rec.calls) != 2 {
		t.Fatalf("expected 2 recorded calls, got %d", len(rec.calls))
	}
	if rec.calls[0].Kind != store.CallChat || rec.calls[0].Subject != sess.ID.String() || rec.calls[0].Status != store.StatusOK {
		t.Errorf("unexpected success record %+v", rec.calls[0])
	}
	if rec.calls[1].Status != store.StatusFailed || rec.calls[1].ErrorKind != string(llm.KindAPI) {
		t.Errorf("unexpected failure record %+v", rec.calls[1])
	}

	if len(pub.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(pub.events))
	}
	if !pub.events[0].OK || pub.events[0].Turns != 2 {
		t.Errorf("unexpected success event %+v", pub.events[0])
	}
	if pub.events[1].OK || pub.events[1].ErrorKind != string(llm.KindAPI) || pub.events[1].Turns != 2 {
		t.Errorf("unexpected failure event %+v", pub.events[1])
	}
}

func TestTokenCounter(t *testing.T) {
	tc, err := NewTokenCounter()
	if err != nil {
		t.Fatalf("token counter: %v", err)
	}
	if n := tc.Count(""); n != 0 {
		t.Errorf("expected 0 tokens for empty text, got %d", n)
	}
	if n := tc.Count("hello world"); n != 2 {
		t.Errorf("expected 2 tokens, got %d", n)
	}

	short := tc.CountRequest(llm.Request{System: systemPrompt, Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}})
	long := tc.CountRequest(llm.Request{System: systemPrompt, Messages: []llm.Message{
		{Role: llm.RoleUser, Content: "hi"},
		{Role: llm.RoleAssistant, Content: "hello, how can I help?"},
		{Role: llm.RoleUser, Content: "tell me a joke"},
	}})
	if long <= short {
		t.Errorf("expected longer transcript to count more tokens: %d <= %d", long, short)
	}
}
