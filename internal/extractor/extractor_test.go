package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/insight/internal/hermes"
	"github.com/MikeSquared-Agency/insight/internal/llm"
	"github.com/MikeSquared-Agency/insight/internal/llm/anthropic"
	"github.com/MikeSquared-Agency/insight/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var stateSchema = Schema{
	Name: "state",
	Fields: []Field{
		{Name: "input_text", Description: "a random text"},
		{Name: "state", Description: "state name extracted from input_text"},
	},
}

const stateTemplate = "Return the State name.\n\n{format_instructions}\n\nText: {input_text}."

// fakeLLM replies with a fixed text and remembers every request.
type fakeLLM struct {
	reply    string
	err      error
	requests []llm.Request
}

func (f *fakeLLM) Complete(_ context.Context, req llm.Request) (string, error) {
	f.requests = append(f.requests, req)
	return f.reply, f.err
}

func (f *fakeLLM) Model() string { return "fake-model" }

type memCache struct {
	data map[string]map[string]string
	sets int
}

func (m *memCache) Get(_ context.Context, key string) (map[string]string, bool, error) {
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Set(_ context.Context, key string, fields map[string]string) error {
	if m.data == nil {
		m.data = make(map[string]map[string]string)
	}
	m.data[key] = fields
	m.sets++
	return nil
}

type memRecorder struct{ calls []store.Call }

func (m *memRecorder) RecordCall(_ context.Context, c store.Call) error {
	m.calls = append(m.calls, c)
	return nil
}

type published struct {
	subject string
	data    any
}

type memPublisher struct{ events []published }

func (m *memPublisher) Publish(subject string, data any) error {
	m.events = append(m.events, published{subject, data})
	return nil
}

func TestExtract_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Temperature *float64 `json:"temperature"`
			Messages    []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req.Temperature == nil || *req.Temperature != 0 {
			t.Errorf("expected temperature 0, got %v", req.Temperature)
		}
		if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
			t.Fatalf("expected a single user turn, got %+v", req.Messages)
		}
		prompt := req.Messages[0].Content
		if !strings.Contains(prompt, "Text: Austin.") {
			t.Errorf("expected rendered input in prompt, got %q", prompt)
		}
		if !strings.Contains(prompt, `"required": ["input_text", "state"]`) {
			t.Errorf("expected format instructions in prompt, got %q", prompt)
		}

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": `{"input_text": "Austin", "state": "Texas"}`},
			},
			"stop_reason": "end_turn",
		})
	}))
	defer server.Close()

	client := anthropic.NewClient("test-key", "test-model", time.Second)
	client.SetBaseURL(server.URL)

	ext := New(client, discardLogger())

	result := ext.Extract(context.Background(), stateTemplate, stateSchema, map[string]string{"input_text": "Austin"})
	if !result.Present() {
		t.Fatal("expected a result")
	}
	want := Result{"input_text": "Austin", "state": "Texas"}
	if !reflect.DeepEqual(result, want) {
		t.Errorf("expected %v, got %v", want, result)
	}
}

func TestExtract_InvalidJSON(t *testing.T) {
	fake := &fakeLLM{reply: "this is not json"}
	ext := New(fake, discardLogger())

	result := ext.Extract(context.Background(), stateTemplate, stateSchema, map[string]string{"input_text": "Austin"})
	if result.Present() {
		t.Fatalf("expected absent result, got %v", result)
	}
	if result != nil {
		t.Error("absent result must be nil, not an empty map")
	}
}

func TestExtractE_ErrorKinds(t *testing.T) {
	cases := []struct {
		name   string
		fake   *fakeLLM
		inputs map[string]string
		want   ErrorKind
	}{
		{"model error", &fakeLLM{err: &llm.Error{Kind: llm.KindNetwork, Provider: "fake", Err: errors.New("dial tcp")}}, map[string]string{"input_text": "x"}, KindModel},
		{"not json", &fakeLLM{reply: "Texas"}, map[string]string{"input_text": "x"}, KindParse},
		{"truncated json", &fakeLLM{reply: `{"input_text": "x", "state": "Tex`}, map[string]string{"input_text": "x"}, KindParse},
		{"missing field", &fakeLLM{reply: `{"input_text": "x"}`}, map[string]string{"input_text": "x"}, KindSchema},
		{"null field", &fakeLLM{reply: `{"input_text": "x", "state": null}`}, map[string]string{"input_text": "x"}, KindSchema},
		{"nested field", &fakeLLM{reply: `{"input_text": "x", "state": {"name": "Texas"}}`}, map[string]string{"input_text": "x"}, KindSchema},
		{"missing input", &fakeLLM{reply: "{}"}, map[string]string{}, KindRender},
		{"reserved input", &fakeLLM{reply: "{}"}, map[string]string{"input_text": "x", "format_instructions": "y"}, KindRender},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ext := New(tc.fake, discardLogger())
			result, err := ext.ExtractE(context.Background(), stateTemplate, stateSchema, tc.inputs)
			if err == nil {
				t.Fatal("expected error")
			}
			if result.Present() {
				t.Errorf("expected absent result, got %v", result)
			}
			if KindOf(err) != tc.want {
				t.Errorf("expected kind %q, got %q (%v)", tc.want, KindOf(err), err)
			}
		})
	}
}

func TestExtract_RenderErrorSkipsModel(t *testing.T) {
	fake := &fakeLLM{reply: "{}"}
	ext := New(fake, discardLogger())

	ext.Extract(context.Background(), stateTemplate, stateSchema, map[string]string{})
	if len(fake.requests) != 0 {
		t.Errorf("expected no model call, got %d", len(fake.requests))
	}
}

func TestExtract_NumericScoreKeptAsString(t *testing.T) {
	schema := Schema{
		Name: "engagement",
		Fields: []Field{
			{Name: "headline"},
			{Name: "summary"},
			{Name: "engagement_score"},
		},
	}
	fake := &fakeLLM{reply: "Here you go:\n```json\n{\"headline\": \"Sale\", \"summary\": \"50% off\", \"engagement_score\": 85, \"reasoning\": \"clear CTA\"}\n```"}
	ext := New(fake, discardLogger())

	result := ext.Extract(context.Background(), "{format_instructions} {headline} {summary}", schema,
		map[string]string{"headline": "Sale", "summary": "50% off"})
	if !result.Present() {
		t.Fatal("expected a result")
	}
	if result["engagement_score"] != "85" {
		t.Errorf("expected score \"85\", got %q", result["engagement_score"])
	}
	if len(result) != 3 {
		t.Errorf("expected exactly the schema fields, got %v", result)
	}
	if _, ok := result["reasoning"]; ok {
		t.Error("expected keys outside the schema to be dropped")
	}
}

func TestExtract_Deterministic(t *testing.T) {
	fake := &fakeLLM{reply: `{"input_text": "Austin", "state": "Texas"}`}
	ext := New(fake, discardLogger())
	inputs := map[string]string{"input_text": "Austin"}

	first := ext.Extract(context.Background(), stateTemplate, stateSchema, inputs)
	second := ext.Extract(context.Background(), stateTemplate, stateSchema, inputs)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("expected identical results, got %v and %v", first, second)
	}
	if len(fake.requests) != 2 {
		t.Fatalf("expected 2 model calls without a cache, got %d", len(fake.requests))
	}
	if !reflect.DeepEqual(fake.requests[0], fake.requests[1]) {
		t.Error("expected identical requests")
	}
	if fake.requests[0].Temperature != 0 || fake.requests[0].MaxTokens != 0 {
		t.Errorf("expected greedy sampling without a token limit, got %+v", fake.requests[0])
	}
}

func TestExtract_CacheHitSkipsModel(t *testing.T) {
	fake := &fakeLLM{reply: `{"input_text": "Austin", "state": "Texas"}`}
	cache := &memCache{}
	ext := New(fake, discardLogger(), WithCache(cache))
	inputs := map[string]string{"input_text": "Austin"}

	first := ext.Extract(context.Background(), stateTemplate, stateSchema, inputs)
	second := ext.Extract(context.Background(), stateTemplate, stateSchema, inputs)

	if len(fake.requests) != 1 {
		t.Errorf("expected 1 model call, got %d", len(fake.requests))
	}
	if cache.sets != 1 {
		t.Errorf("expected 1 cache write, got %d", cache.sets)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("expected cached result to match, got %v and %v", first, second)
	}
}

func TestExtract_FailureIsNotCached(t *testing.T) {
	fake := &fakeLLM{reply: "nope"}
	cache := &memCache{}
	ext := New(fake, discardLogger(), WithCache(cache))

	ext.Extract(context.Background(), stateTemplate, stateSchema, map[string]string{"input_text": "x"})
	if cache.sets != 0 {
		t.Errorf("expected no cache write on failure, got %d", cache.sets)
	}
}

func TestExtract_RecordsAndPublishes(t *testing.T) {
	rec := &memRecorder{}
	pub := &memPublisher{}

	ok := New(&fakeLLM{reply: `{"input_text": "Austin", "state": "Texas"}`}, discardLogger(), WithRecorder(rec), WithPublisher(pub))
	ok.Extract(context.Background(), stateTemplate, stateSchema, map[string]string{"input_text": "Austin"})

	bad := New(&fakeLLM{reply: "nope"}, discardLogger(), WithRecorder(rec), WithPublisher(pub))
	bad.Extract(context.Background(), stateTemplate, stateSchema, map[string]string{"input_text": "Austin"})

	if len(rec.calls) != 2 {
		t.Fatalf("expected 2 recorded calls, got %d", len(rec.calls))
	}
	if rec.calls[0].Status != store.StatusOK || rec.calls[0].Kind != store.CallExtraction || rec.calls[0].Subject != "state" {
		t.Errorf("unexpected success record %+v", rec.calls[0])
	}
	if rec.calls[1].Status != store.StatusFailed || rec.calls[1].ErrorKind != string(KindParse) {
		t.Errorf("unexpected failure record %+v", rec.calls[1])
	}

	if len(pub.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(pub.events))
	}
	if pub.events[0].subject != hermes.SubjectExtractionCompleted {
		t.Errorf("expected completed subject, got %q", pub.events[0].subject)
	}
	if pub.events[1].subject != hermes.SubjectExtractionFailed {
		t.Errorf("expected failed subject, got %q", pub.events[1].subject)
	}
	evt := pub.events[1].data.(hermes.ExtractionEvent)
	if evt.ErrorKind != string(KindParse) || evt.Fields != nil {
		t.Errorf("unexpected failure event %+v", evt)
	}
}
