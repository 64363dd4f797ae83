package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	chatclient "github.com/creastat/chatclient"
	"github.com/creastat/chatclient/session"
)

// Config holds connection configuration for the conversation service.
type Config struct {
	// BaseURL is the versioned base path of the service, e.g.
	// "http://localhost:5000/api".
	BaseURL string

	// HTTPClient overrides the transport. Defaults to http.DefaultClient;
	// deadlines come from per-request contexts, not the client.
	HTTPClient *http.Client

	// RequestTimeout bounds every request. Answer generation is slow, so
	// the default is 60 seconds.
	RequestTimeout time.Duration
}

// Client implements Service over the HTTP API.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	requestTimeout time.Duration
}

// New creates a new conversation service client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.Wrap(chatclient.ErrInvalidConfig, "base URL is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:     httpClient,
		requestTimeout: timeout,
	}, nil
}

// wireConversation accepts both the list shape ("id") and the create
// shape ("conversation_id").
type wireConversation struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	Title          string `json:"title"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

func (w wireConversation) id() string {
	if w.ID != "" {
		return w.ID
	}
	return w.ConversationID
}

func (w wireConversation) summary() session.ConversationSummary {
	return session.ConversationSummary{
		ID:        w.id(),
		Title:     w.Title,
		CreatedAt: parseTimestamp(w.CreatedAt),
		UpdatedAt: parseTimestamp(w.UpdatedAt),
	}
}

type wireMessage struct {
	ID             string           `json:"id"`
	ConversationID string           `json:"conversation_id"`
	Role           string           `json:"role"`
	Content        string           `json:"content"`
	Sources        []session.Source `json:"sources"`
	Order          int              `json:"order"`
	CreatedAt      string           `json:"created_at"`
}

func (w wireMessage) message() session.Message {
	return session.Message{
		ID:        w.ID,
		Author:    session.Author(w.Role),
		Text:      w.Content,
		Timestamp: parseTimestamp(w.CreatedAt),
		Sources:   w.Sources,
	}
}

// ListConversations implements Service.
func (c *Client) ListConversations(ctx context.Context, credential string) ([]session.ConversationSummary, error) {
	var payload struct {
		Conversations []wireConversation `json:"conversations"`
		Total         int                `json:"total"`
	}
	if err := c.do(ctx, "list conversations", http.MethodGet, "/conversations", credential, nil, &payload); err != nil {
		return nil, err
	}

	summaries := make([]session.ConversationSummary, 0, len(payload.Conversations))
	for _, conv := range payload.Conversations {
		if conv.id() == "" {
			return nil, &chatclient.ProtocolError{
				Operation: "list conversations",
				Cause:     errors.New("conversation entry without id"),
			}
		}
		summaries = append(summaries, conv.summary())
	}
	return summaries, nil
}

// CreateConversation implements Service.
func (c *Client) CreateConversation(ctx context.Context, credential, title string) (session.ConversationSummary, error) {
	reqBody := map[string]string{"title": title}
	var payload wireConversation
	if err := c.do(ctx, "create conversation", http.MethodPost, "/conversations", credential, reqBody, &payload); err != nil {
		return session.ConversationSummary{}, err
	}
	if payload.id() == "" {
		return session.ConversationSummary{}, &chatclient.ProtocolError{
			Operation: "create conversation",
			Cause:     errors.New("response carries no conversation id"),
		}
	}
	return payload.summary(), nil
}

// GetMessages implements Service.
func (c *Client) GetMessages(ctx context.Context, credential, conversationID string) ([]session.Message, error) {
	var payload struct {
		Messages []wireMessage `json:"messages"`
		Total    int           `json:"total"`
	}
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.do(ctx, "get messages", http.MethodGet, path, credential, nil, &payload); err != nil {
		return nil, err
	}

	messages := make([]session.Message, 0, len(payload.Messages))
	for _, msg := range payload.Messages {
		messages = append(messages, msg.message())
	}
	return messages, nil
}

// SendMessage implements Service.
func (c *Client) SendMessage(ctx context.Context, credential, conversationID, query string, opts SendOptions) (SendResult, error) {
	if opts.TopK <= 0 {
		opts.TopK = DefaultSendOptions().TopK
	}
	reqBody := map[string]any{
		"conversation_id": conversationID,
		"query":           query,
		"k":               opts.TopK,
		"include_sources": opts.IncludeSources,
	}
	var payload struct {
		Answer         string           `json:"answer"`
		Sources        []session.Source `json:"sources"`
		MessageID      string           `json:"message_id"`
		ConversationID string           `json:"conversation_id"`
	}
	if err := c.do(ctx, "send message", http.MethodPost, "/conversations/chat", credential, reqBody, &payload); err != nil {
		return SendResult{}, err
	}
	if payload.Answer == "" {
		return SendResult{}, &chatclient.ProtocolError{
			Operation: "send message",
			Cause:     errors.New("response carries no answer"),
		}
	}
	return SendResult{
		Answer:         payload.Answer,
		Sources:        payload.Sources,
		MessageID:      payload.MessageID,
		ConversationID: payload.ConversationID,
	}, nil
}

// DeleteConversation implements Service.
func (c *Client) DeleteConversation(ctx context.Context, credential, conversationID string) error {
	path := "/conversations/" + url.PathEscape(conversationID)
	return c.do(ctx, "delete conversation", http.MethodDelete, path, credential, nil, nil)
}

// do performs one bounded request and decodes the response payload,
// wrapped under "data" or bare, into out.
func (c *Client) do(ctx context.Context, op, method, path, credential string, reqBody, out any) error {
	if credential == "" {
		return errors.Wrapf(chatclient.ErrUnauthorized, "%s: no credential", op)
	}

	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	var body io.Reader
	if reqBody != nil {
		encoded, err := json.Marshal(reqBody)
		if err != nil {
			return errors.Wrapf(err, "%s: encode request", op)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.Wrapf(err, "%s: build request", op)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+credential)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransportError(ctx, op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return classifyTransportError(ctx, op, err)
	}

	log.Debug().
		Str("op", op).
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("conversation service request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return mapStatusError(op, resp.StatusCode, respBody)
	}
	if out == nil {
		return nil
	}
	return decodePayload(op, respBody, out)
}

// classifyTransportError maps request-level failures onto the error
// taxonomy: deadline hits become Timeout, everything else Unreachable.
func classifyTransportError(ctx context.Context, op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errors.Wrapf(chatclient.ErrTimeout, "%s: %v", op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errors.Wrapf(chatclient.ErrTimeout, "%s: %v", op, err)
	}
	return errors.Wrapf(chatclient.ErrUnreachable, "%s: %v", op, err)
}

// mapStatusError turns a non-2xx response into a typed error. The error
// body may wrap its message under "detail" as a string, an object with
// "message", or a nested "error" object; all shapes are accepted.
func mapStatusError(op string, status int, body []byte) error {
	message := decodeErrorMessage(body)

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		if message == "" {
			message = "credential rejected"
		}
		return errors.Wrapf(chatclient.ErrUnauthorized, "%s: %s", op, message)
	case http.StatusNotFound:
		if message == "" {
			message = "unknown conversation"
		}
		return errors.Wrapf(chatclient.ErrNotFound, "%s: %s", op, message)
	default:
		return &chatclient.ServerError{Status: status, Message: message}
	}
}

func decodeErrorMessage(body []byte) string {
	var wire struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return ""
	}

	if len(wire.Detail) > 0 {
		var detail string
		if err := json.Unmarshal(wire.Detail, &detail); err == nil {
			return detail
		}

		var nested struct {
			Message string `json:"message"`
			Error   struct {
				Message string `json:"message"`
				Details string `json:"details"`
			} `json:"error"`
		}
		if err := json.Unmarshal(wire.Detail, &nested); err == nil {
			if nested.Error.Message != "" {
				if nested.Error.Details != "" {
					return nested.Error.Message + "\n" + nested.Error.Details
				}
				return nested.Error.Message
			}
			if nested.Message != "" {
				return nested.Message
			}
		}
	}
	return wire.Message
}

// decodePayload decodes a success body into out. The server may wrap the
// payload under "data" or return it bare; both decode to the same typed
// result. Only when neither shape is decodable is the response a
// protocol error.
func decodePayload(op string, body []byte, out any) error {
	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil &&
		len(envelope.Data) > 0 && string(envelope.Data) != "null" {
		if err := json.Unmarshal(envelope.Data, out); err == nil {
			return nil
		}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &chatclient.ProtocolError{Operation: op, Cause: err}
	}
	return nil
}

// parseTimestamp converts the server's ISO-8601 timestamps to ms epoch.
// The backend emits both zoned and zone-less forms; zone-less is read as
// UTC. Malformed timestamps decay to zero rather than failing the payload.
func parseTimestamp(value string) int64 {
	if value == "" {
		return 0
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t.UnixMilli()
	}
	t, err := time.Parse("2006-01-02T15:04:05.999999999", value)
	if err != nil {
		return 0
	}
	return t.UnixMilli()
}

// Compile-time check that Client implements Service
var _ Service = (*Client)(nil)
