package extractor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/insight/internal/hermes"
	"github.com/MikeSquared-Agency/insight/internal/llm"
	"github.com/MikeSquared-Agency/insight/internal/prompts"
	"github.com/MikeSquared-Agency/insight/internal/store"
)

type ErrorKind string

const (
	KindRender ErrorKind = "render"
	KindModel  ErrorKind = "model"
	KindParse  ErrorKind = "parse"
	KindSchema ErrorKind = "schema"
)

// Error describes why an extraction produced no result.
type Error struct {
	Kind   ErrorKind
	Schema string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("extract %s: %s: %v", e.Schema, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Cache stores successful results keyed by model and rendered prompt.
type Cache interface {
	Get(ctx context.Context, key string) (map[string]string, bool, error)
	Set(ctx context.Context, key string, fields map[string]string) error
}

type Recorder interface {
	RecordCall(ctx context.Context, call store.Call) error
}

type Publisher interface {
	Publish(subject string, data any) error
}

type Extractor struct {
	llm       llm.Completer
	logger    *slog.Logger
	cache     Cache
	recorder  Recorder
	publisher Publisher
}

type Option func(*Extractor)

func WithCache(c Cache) Option { return func(e *Extractor) { e.cache = c } }
func WithRecorder(r Recorder) Option { return func(e *Extractor) { e.recorder = r } }
func WithPublisher(p Publisher) Option { return func(e *Extractor) { e.publisher = p } }

func New(c llm.Completer, logger *slog.Logger, opts ...Option) *Extractor {
	e := &Extractor{llm: c, logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract is the best-effort form of ExtractE: callers only learn whether
// a result is present.
func (e *Extractor) Extract(ctx context.Context, template string, schema Schema, inputs map[string]string) Result {
	result, err := e.ExtractE(ctx, template, schema, inputs)
	if err != nil {
		return Absent
	}
	return result
}

// ExtractE renders template with inputs plus the schema's format
// instructions, asks the model with greedy sampling and no token limit, and
// parses the reply against schema. Every failure is logged before it is
// returned.
func (e *Extractor) ExtractE(ctx context.Context, template string, schema Schema, inputs map[string]string) (Result, error) {
	prompt, err := render(template, schema, inputs)
	if err != nil {
		e.logger.Error("failed to render extraction prompt", "schema", schema.Name, "error", err)
		return Absent, err
	}

	key := cacheKey(e.llm.Model(), schema, prompt)
	if e.cache != nil {
		fields, ok, err := e.cache.Get(ctx, key)
		if err != nil {
			e.logger.Warn("extraction cache read failed", "schema", schema.Name, "error", err)
		} else if ok {
			e.logger.Debug("extraction cache hit", "schema", schema.Name)
			return Result(fields), nil
		}
	}

	e.logger.Info("extracting", "schema", schema.Name, "model", e.llm.Model(), "prompt_len", len(prompt))

	start := time.Now()
	raw, err := e.llm.Complete(ctx, llm.Request{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Temperature: 0,
	})
	elapsed := time.Since(start)

	var result Result
	if err != nil {
		err = &Error{Kind: KindModel, Schema: schema.Name, Err: err}
		e.logger.Error("extraction model call failed",
			"schema", schema.Name,
			"error", err,
		)
	} else {
		result, err = schema.Parse(raw)
		if err != nil {
			e.logger.Error("failed to parse extraction response",
				"schema", schema.Name,
				"error", err,
				"raw", raw,
			)
		}
	}

	e.record(ctx, schema, prompt, raw, elapsed, err)
	e.publish(schema, result, elapsed, err)

	if err != nil {
		return Absent, err
	}

	if e.cache != nil {
		if err := e.cache.Set(ctx, key, result); err != nil {
			e.logger.Warn("extraction cache write failed", "schema", schema.Name, "error", err)
		}
	}

	e.logger.Info("extraction complete", "schema", schema.Name, "duration_ms", elapsed.Milliseconds())
	return result, nil
}

func render(template string, schema Schema, inputs map[string]string) (string, error) {
	if _, ok := inputs[prompts.FormatInstructions]; ok {
		return "", &Error{Kind: KindRender, Schema: schema.Name, Err: fmt.Errorf("input %q is reserved", prompts.FormatInstructions)}
	}
	vars := make(map[string]string, len(inputs)+1)
	for k, v := range inputs {
		vars[k] = v
	}
	vars[prompts.FormatInstructions] = schema.FormatInstructions()

	prompt, err := prompts.Render(template, vars)
	if err != nil {
		return "", &Error{Kind: KindRender, Schema: schema.Name, Err: err}
	}
	return prompt, nil
}

func (e *Extractor) record(ctx context.Context, schema Schema, prompt, raw string, elapsed time.Duration, err error) {
	if e.recorder == nil {
		return
	}
	call := store.Call{
		ID:       uuid.New(),
		Kind:     store.CallExtraction,
		Subject:  schema.Name,
		Model:    e.llm.Model(),
		Prompt:   prompt,
		Response: raw,
		Status:   store.StatusOK,
		Duration: elapsed,
	}
	if err != nil {
		call.Status = store.StatusFailed
		call.ErrorKind = string(KindOf(err))
		call.Error = err.Error()
	}
	if rerr := e.recorder.RecordCall(ctx, call); rerr != nil {
		e.logger.Warn("failed to record model call", "schema", schema.Name, "error", rerr)
	}
}

func (e *Extractor) publish(schema Schema, result Result, elapsed time.Duration, err error) {
	if e.publisher == nil {
		return
	}
	evt := hermes.ExtractionEvent{
		Schema:     schema.Name,
		Model:      e.llm.Model(),
		Fields:     result,
		DurationMS: elapsed.Milliseconds(),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	subject := hermes.SubjectExtractionCompleted
	if err != nil {
		subject = hermes.SubjectExtractionFailed
		evt.ErrorKind = string(KindOf(err))
		evt.Error = err.Error()
	}
	if perr := e.publisher.Publish(subject, evt); perr != nil {
		e.logger.Warn("failed to publish extraction event", "subject", subject, "error", perr)
	}
}

// KindOf reports the ErrorKind of an *Error in err's chain, or "".
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func cacheKey(model string, schema Schema, prompt string) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(schema.Name))
	h.Write([]byte{0})
	h.Write([]byte(prompt))
	return hex.EncodeToString(h.Sum(nil))
}
