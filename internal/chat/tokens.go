package chat

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"

	"github.com/MikeSquared-Agency/insight/internal/llm"
)

func init() {
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

// Per-message framing overhead of the chat format, as counted by OpenAI.
const (
	tokensPerMessage = 3
	tokensPerReply   = 3
)

// TokenCounter measures chat requests with the cl100k_base encoding.
type TokenCounter struct {
	mu  sync.Mutex
	enc *tiktoken.Tiktoken
}

var (
	counterOnce sync.Once
	counter     *TokenCounter
	counterErr  error
)

// NewTokenCounter returns the shared counter. The encoding is loaded once.
func NewTokenCounter() (*TokenCounter, error) {
	counterOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			counterErr = fmt.Errorf("load cl100k_base encoding: %w", err)
			return
		}
		counter = &TokenCounter{enc: enc}
	})
	return counter, counterErr
}

func (c *TokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.enc.Encode(text, nil, nil))
}

// CountRequest estimates the prompt tokens of a chat request.
func (c *TokenCounter) CountRequest(req llm.Request) int {
	n := tokensPerReply
	if req.System != "" {
		n += tokensPerMessage + c.Count(req.System)
	}
	for _, m := range req.Messages {
		n += tokensPerMessage + c.Count(string(m.Role)) + c.Count(m.Content)
	}
	return n
}
