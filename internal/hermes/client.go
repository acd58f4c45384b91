package hermes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	SubjectExtractionCompleted = "insight.extraction.completed"
	SubjectExtractionFailed    = "insight.extraction.failed"
	SubjectChatTurn            = "insight.chat.turn"
	SubjectRegistered          = "insight.agent.registered"

	// Request/reply subjects served in serve mode.
	SubjectEngagementScore = "insight.engagement.score"
	SubjectStateExtract    = "insight.state.extract"
)

// ExtractionEvent is published after every extraction attempt.
type ExtractionEvent struct {
	Schema     string            `json:"schema"`
	Model      string            `json:"model"`
	Fields     map[string]string `json:"fields,omitempty"`
	ErrorKind  string            `json:"error_kind,omitempty"`
	Error      string            `json:"error,omitempty"`
	DurationMS int64             `json:"duration_ms"`
	Timestamp  string            `json:"timestamp"`
}

// ChatTurnEvent is published after every chat turn. Message content is not
// included.
type ChatTurnEvent struct {
	SessionID  string `json:"session_id"`
	Model      string `json:"model"`
	Turns      int    `json:"turns"`
	OK         bool   `json:"ok"`
	ErrorKind  string `json:"error_kind,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	Timestamp  string `json:"timestamp"`
}

// Reply is the envelope returned on request/reply subjects.
type Reply struct {
	OK     bool              `json:"ok"`
	Fields map[string]string `json:"fields,omitempty"`
	Error  string            `json:"error,omitempty"`
}

type Client struct {
	conn   *nats.Conn
	subs   []*nats.Subscription
	logger *slog.Logger
}

// Options configures the NATS connection. Zero durations and counts take
// the defaults below.
type Options struct {
	URL            string
	Token          string
	ConnectTimeout time.Duration
	MaxReconnects  int
	ReconnectWait  time.Duration
}

const (
	defaultConnectTimeout = 5 * time.Second
	defaultMaxReconnects  = 60
	defaultReconnectWait  = 2 * time.Second
)

// NewClient connects once and fails if the server is unreachable. Once
// connected, dropped connections are retried in the background.
func NewClient(ctx context.Context, o Options, logger *slog.Logger) (*Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = defaultConnectTimeout
	}
	if o.MaxReconnects == 0 {
		o.MaxReconnects = defaultMaxReconnects
	}
	if o.ReconnectWait <= 0 {
		o.ReconnectWait = defaultReconnectWait
	}

	opts := []nats.Option{
		nats.Name("insight"),
		nats.Timeout(o.ConnectTimeout),
		nats.MaxReconnects(o.MaxReconnects),
		nats.ReconnectWait(o.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info("nats connection closed")
		}),
	}
	if o.Token != "" {
		opts = append(opts, nats.Token(o.Token))
	}

	nc, err := nats.Connect(o.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", o.URL, err)
	}

	return &Client{conn: nc, logger: logger}, nil
}

func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.conn.Publish(subject, payload)
}

// Handle answers requests on subject with the JSON encoding of whatever
// handler returns.
func (c *Client) Handle(subject string, handler func(data []byte) any) error {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		if msg.Reply == "" {
			c.logger.Warn("request without reply subject", "subject", msg.Subject)
			return
		}
		payload, err := json.Marshal(handler(msg.Data))
		if err != nil {
			c.logger.Error("marshal reply", "subject", msg.Subject, "error", err)
			return
		}
		if err := msg.Respond(payload); err != nil {
			c.logger.Warn("respond failed", "subject", msg.Subject, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.subs = append(c.subs, sub)
	c.logger.Info("handling requests", "subject", subject)
	return nil
}

func (c *Client) Close() {
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.conn.Close()
}
