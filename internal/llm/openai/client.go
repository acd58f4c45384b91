package openai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/MikeSquared-Agency/insight/internal/llm"
)

const DefaultModel = "gpt-4o"

type Client struct {
	api   *goopenai.Client
	model string
}

// NewClient builds a chat completions client. baseURL may be empty for the
// public endpoint or point at any OpenAI-compatible server.
func NewClient(apiKey, model, baseURL string, timeout time.Duration) *Client {
	if model == "" {
		model = DefaultModel
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}

	return &Client{api: goopenai.NewClientWithConfig(cfg), model: model}
}

func (c *Client) Model() string { return c.model }

// Complete sends the system prompt followed by the turns and returns the
// first choice's content.
func (c *Client) Complete(ctx context.Context, req llm.Request) (string, error) {
	messages := make([]goopenai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, goopenai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	resp, err := c.api.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: temperature(req.Temperature),
		MaxTokens:   max(req.MaxTokens, 0),
	})
	if err != nil {
		return "", classify(err)
	}

	if len(resp.Choices) == 0 {
		return "", fail(llm.KindEmpty, 0, errors.New("no choices in response"))
	}
	choice := resp.Choices[0]
	if choice.Message.Refusal != "" {
		return "", fail(llm.KindEmpty, 0, fmt.Errorf("model refused: %s", choice.Message.Refusal))
	}
	if choice.Message.Content == "" {
		return "", fail(llm.KindEmpty, 0, fmt.Errorf("empty content (finish_reason %q)", choice.FinishReason))
	}

	return choice.Message.Content, nil
}

// temperature maps 0 to the smallest positive float32: go-openai omits a zero
// temperature from the request body and the server would apply its default of 1.
func temperature(t float64) float32 {
	if t <= 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(t)
}

func classify(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return fail(llm.KindAPI, apiErr.HTTPStatusCode, err)
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return fail(llm.KindAPI, reqErr.HTTPStatusCode, err)
	}
	return fail(llm.KindNetwork, 0, err)
}

func fail(kind llm.Kind, status int, err error) error {
	return &llm.Error{Kind: kind, Provider: "openai", Status: status, Err: err}
}
