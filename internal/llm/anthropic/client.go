package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/insight/internal/llm"
)

const (
	defaultBaseURL = "https://api.anthropic.com"
	DefaultModel   = "claude-sonnet-4-20250514"

	// The Messages API requires max_tokens on every request.
	defaultMaxTokens = 4096
)

type Client struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

func NewClient(apiKey, model string, timeout time.Duration) *Client {
	if model == "" {
		model = DefaultModel
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		apiKey:  apiKey,
		model:   model,
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// SetBaseURL points the client at another host, e.g. an httptest server.
func (c *Client) SetBaseURL(u string) {
	c.baseURL = strings.TrimRight(u, "/")
}

func (c *Client) Model() string { return c.model }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type request struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature *float64  `json:"temperature,omitempty"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
}

type response struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends the request to the Messages API and returns the
// concatenated text blocks of the reply.
func (c *Client) Complete(ctx context.Context, req llm.Request) (string, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	temperature := req.Temperature

	reqBody := request{
		Model:       c.model,
		MaxTokens:   maxTokens,
		Temperature: &temperature,
		System:      req.System,
		Messages:    make([]message, 0, len(req.Messages)),
	}
	for _, m := range req.Messages {
		// System turns inside the transcript are folded into the system field.
		if m.Role == llm.RoleSystem {
			if reqBody.System == "" {
				reqBody.System = m.Content
			} else {
				reqBody.System += "\n\n" + m.Content
			}
			continue
		}
		reqBody.Messages = append(reqBody.Messages, message{Role: string(m.Role), Content: m.Content})
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", c.fail(llm.KindEncoding, 0, fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", c.fail(llm.KindEncoding, 0, fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", c.fail(llm.KindNetwork, 0, fmt.Errorf("api call: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", c.fail(llm.KindNetwork, resp.StatusCode, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		var errResp errorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Message != "" {
			return "", c.fail(llm.KindAPI, resp.StatusCode, fmt.Errorf("%s: %s", errResp.Error.Type, errResp.Error.Message))
		}
		return "", c.fail(llm.KindAPI, resp.StatusCode, errors.New(strings.TrimSpace(string(respBody))))
	}

	var apiResp response
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", c.fail(llm.KindEncoding, resp.StatusCode, fmt.Errorf("unmarshal response: %w", err))
	}

	var text strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", c.fail(llm.KindEmpty, resp.StatusCode, fmt.Errorf("empty response content (stop_reason %q)", apiResp.StopReason))
	}

	return text.String(), nil
}

func (c *Client) fail(kind llm.Kind, status int, err error) error {
	return &llm.Error{Kind: kind, Provider: "anthropic", Status: status, Err: err}
}
