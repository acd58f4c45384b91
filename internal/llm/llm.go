package llm

import (
	"context"
	"errors"
	"fmt"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is a single chat completion call. The system prompt travels
// separately from the turns; providers place it where their API expects it.
type Request struct {
	System      string
	Messages    []Message
	Temperature float64
	MaxTokens   int // 0 means no explicit cap
}

// Completer sends a request to a hosted model and returns the completion text.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
	Model() string
}

type Kind string

const (
	KindNetwork  Kind = "network"
	KindAPI      Kind = "api"
	KindEmpty    Kind = "empty"
	KindEncoding Kind = "encoding"
)

// Error is returned by every Completer so callers can tell transport
// failures from API rejections and empty or refused completions.
type Error struct {
	Kind     Kind
	Provider string
	Status   int
	Err      error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s error (status %d): %v", e.Provider, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s %s error: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf reports the Kind of an *Error anywhere in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
