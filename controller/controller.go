// Package controller orchestrates user-initiated sends and background
// loads against the session store: lazy server-side conversation
// creation, optimistic append, placeholder reconciliation or rollback,
// and per-conversation exclusivity so at most one in-flight request
// touches a conversation's tail at a time.
package controller

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	chatclient "github.com/creastat/chatclient"
	"github.com/creastat/chatclient/api"
	"github.com/creastat/chatclient/kv"
	"github.com/creastat/chatclient/session"
)

// Status texts surfaced through the view while a request is in flight.
const (
	StatusGenerating = "답변을 생성하는 중..."
	StatusLoading    = "대화를 불러오는 중..."
)

// Snapshot cache bounds. The persisted copy of a transcript is a display
// cache, not a source of truth, so it is truncated before writing.
const (
	snapshotTokenLimit   = 4000
	snapshotMessageLimit = 50
)

// phase tracks what kind of request holds a conversation's tail.
type phase int

const (
	phaseSending phase = iota + 1
	phaseLoading
	phaseDeleting
)

// Config wires the controller's collaborators.
type Config struct {
	// API is the remote conversation service. Required.
	API api.Service

	// Credentials yields the bearer credential under kv.KeyAccessToken.
	// Required.
	Credentials kv.Store

	// Cache receives the last-write-wins conversation snapshot under
	// kv.KeyConversations. Optional; may be the same store as
	// Credentials.
	Cache kv.Store

	// Store is the session store to drive. Defaults to a fresh one.
	Store *session.Store

	// SendTimeout bounds a single send. Defaults to 60 seconds.
	SendTimeout time.Duration

	// Logger for state transitions. Defaults to a disabled logger.
	Logger zerolog.Logger
}

// View is what the presentation layer renders: the store projection plus
// the in-flight flag and its status message.
type View struct {
	Conversations []session.ConversationSummary
	Active        *session.Conversation
	Busy          bool
	Status        string
}

// Controller sequences all mutations of the session store. It owns no
// conversation data itself.
type Controller struct {
	api         api.Service
	creds       kv.Store
	cache       kv.Store
	store       *session.Store
	sendTimeout time.Duration
	logger      zerolog.Logger

	mu       sync.Mutex
	inflight map[string]phase // keyed by conversation LocalID
	status   string
}

// New creates a controller.
func New(cfg Config) (*Controller, error) {
	if cfg.API == nil || cfg.Credentials == nil {
		return nil, errors.Wrap(chatclient.ErrInvalidConfig, "API and Credentials are required")
	}
	store := cfg.Store
	if store == nil {
		store = session.NewStore()
	}
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	logger := cfg.Logger
	return &Controller{
		api:         cfg.API,
		creds:       cfg.Credentials,
		cache:       cfg.Cache,
		store:       store,
		sendTimeout: timeout,
		logger:      logger,
		inflight:    make(map[string]phase),
	}, nil
}

// Store exposes the underlying session store for read access.
func (c *Controller) Store() *session.Store {
	return c.store
}

// View returns the current read-only projection.
func (c *Controller) View() View {
	snapshot := c.store.Snapshot()

	c.mu.Lock()
	busy := len(c.inflight) > 0
	status := c.status
	c.mu.Unlock()

	return View{
		Conversations: snapshot.Conversations,
		Active:        snapshot.Active,
		Busy:          busy,
		Status:        status,
	}
}

// NewConversation appends a local placeholder conversation and selects
// it. The server-side conversation is created lazily on the first send,
// so users who open a new chat but never type anything leave nothing
// behind on the server. Repeated calls while an empty placeholder is
// already active are no-ops.
func (c *Controller) NewConversation() session.ConversationSummary {
	if active, ok := c.store.ActiveConversation(); ok &&
		!active.Persisted() && len(active.Messages) == 0 {
		return session.ConversationSummary{
			LocalID:   active.LocalID,
			Title:     active.Title,
			CreatedAt: active.CreatedAt,
			UpdatedAt: active.UpdatedAt,
		}
	}

	conv := session.NewLocalConversation(session.DefaultTitle)
	localID := c.store.UpsertConversation(conv)
	_ = c.store.SelectConversation(localID)

	c.logger.Debug().Str("local_id", localID).Msg("new local conversation")

	return session.ConversationSummary{
		LocalID:   localID,
		Title:     conv.Title,
		CreatedAt: conv.CreatedAt,
		UpdatedAt: conv.UpdatedAt,
	}
}

// Send submits a user message to the active conversation, creating the
// conversation server-side first when needed. The user's message is
// appended optimistically together with a pending assistant placeholder;
// the placeholder is replaced by the confirmed answer or removed on
// failure. The user's message is never rolled back: it was sent, only
// the response failed.
func (c *Controller) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	credential, err := c.credential(ctx)
	if err != nil {
		return err
	}

	// Admit at most one request per conversation tail. The active
	// conversation is resolved and the slot claimed under one lock so two
	// racing sends cannot both pass.
	c.mu.Lock()
	active, ok := c.store.ActiveConversation()
	if !ok {
		conv := session.NewLocalConversation(session.DefaultTitle)
		localID := c.store.UpsertConversation(conv)
		_ = c.store.SelectConversation(localID)
		active, _ = c.store.ActiveConversation()
	}
	if _, busy := c.inflight[active.LocalID]; busy {
		c.mu.Unlock()
		return errors.Wrap(chatclient.ErrBusy, "send already in flight")
	}
	c.inflight[active.LocalID] = phaseSending
	c.status = StatusGenerating
	c.mu.Unlock()

	defer c.release(active.LocalID)

	err = c.send(ctx, credential, active, text)
	if err != nil {
		c.logger.Warn().Err(err).Str("local_id", active.LocalID).Msg("send failed")
		return err
	}

	c.persistSnapshot(ctx)
	return nil
}

func (c *Controller) send(ctx context.Context, credential string, active session.Conversation, text string) error {
	conversationID := active.ID

	// Lazy creation: the conversation becomes real on the server
	// atomically with its first persisted message. Failure aborts the
	// whole send before anything is appended locally.
	if conversationID == "" {
		summary, err := c.api.CreateConversation(ctx, credential, active.Title)
		if err != nil {
			return err
		}
		if err := c.store.AdoptRemoteID(active.LocalID, summary.ID); err != nil {
			return err
		}
		conversationID = summary.ID
		c.logger.Debug().
			Str("local_id", active.LocalID).
			Str("conversation_id", conversationID).
			Msg("conversation created")
	}

	userMsg := session.NewUserMessage(text)
	if err := c.store.AppendMessage(active.LocalID, userMsg); err != nil {
		return err
	}

	placeholder := session.NewPendingMessage(StatusGenerating)
	if err := c.store.AppendMessage(active.LocalID, placeholder); err != nil {
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, c.sendTimeout)
	defer cancel()

	result, err := c.api.SendMessage(sendCtx, credential, conversationID, text, api.DefaultSendOptions())
	if err != nil {
		// Placeholder cleanup is the only local recovery: a permanently
		// spinning message must not survive the failure.
		_ = c.store.RemoveMessage(active.LocalID, placeholder.ID)
		return err
	}

	confirmed := session.NewAssistantMessage(result.MessageID, result.Answer, result.Sources)
	return c.store.ReplaceMessage(active.LocalID, placeholder.ID, confirmed)
}

// Select makes the conversation active. If its messages were already
// loaded in this process the selection flips immediately with zero
// network calls; otherwise the transcript is fetched first, and on
// failure the previously active conversation stays active.
func (c *Controller) Select(ctx context.Context, id string) error {
	conv, ok := c.store.Conversation(id)
	if !ok {
		return errors.Wrapf(chatclient.ErrNotFound, "select %s", id)
	}

	if conv.Loaded {
		return c.store.SelectConversation(id)
	}

	credential, err := c.credential(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if _, busy := c.inflight[conv.LocalID]; busy {
		c.mu.Unlock()
		return errors.Wrap(chatclient.ErrBusy, "conversation is loading")
	}
	c.inflight[conv.LocalID] = phaseLoading
	c.status = StatusLoading
	c.mu.Unlock()

	defer c.release(conv.LocalID)

	messages, err := c.api.GetMessages(ctx, credential, conv.ID)
	if err != nil {
		c.logger.Warn().Err(err).Str("conversation_id", conv.ID).Msg("load failed")
		return err
	}

	if err := c.store.SetMessages(conv.LocalID, messages); err != nil {
		return err
	}
	return c.store.SelectConversation(conv.LocalID)
}

// Restore populates the store with the server's conversation list,
// newest first. Typically called once after authentication.
func (c *Controller) Restore(ctx context.Context) error {
	credential, err := c.credential(ctx)
	if err != nil {
		return err
	}

	summaries, err := c.api.ListConversations(ctx, credential)
	if err != nil {
		return err
	}

	for _, summary := range summaries {
		c.store.UpsertConversation(session.Conversation{
			ID:        summary.ID,
			Title:     summary.Title,
			CreatedAt: summary.CreatedAt,
			UpdatedAt: summary.UpdatedAt,
		})
	}

	c.logger.Debug().Int("count", len(summaries)).Msg("conversations restored")
	return nil
}

// Delete removes a conversation on the server and from the store. Local
// placeholders are removed without a server call.
func (c *Controller) Delete(ctx context.Context, id string) error {
	conv, ok := c.store.Conversation(id)
	if !ok {
		return errors.Wrapf(chatclient.ErrNotFound, "delete %s", id)
	}

	// The slot stays claimed across the server call so a racing send
	// cannot append to a conversation that is about to disappear.
	c.mu.Lock()
	if _, busy := c.inflight[conv.LocalID]; busy {
		c.mu.Unlock()
		return errors.Wrap(chatclient.ErrBusy, "request in flight")
	}
	c.inflight[conv.LocalID] = phaseDeleting
	c.mu.Unlock()

	defer c.release(conv.LocalID)

	if conv.Persisted() {
		credential, err := c.credential(ctx)
		if err != nil {
			return err
		}
		if err := c.api.DeleteConversation(ctx, credential, conv.ID); err != nil {
			return err
		}
	}

	if err := c.store.RemoveConversation(conv.LocalID); err != nil {
		return err
	}
	c.persistSnapshot(ctx)
	return nil
}

// Logout drops the credential, the cached snapshot, and all local state.
func (c *Controller) Logout(ctx context.Context) error {
	if err := c.creds.Remove(ctx, kv.KeyAccessToken); err != nil {
		return errors.Wrap(err, "remove credential")
	}
	if c.cache != nil {
		_ = c.cache.Remove(ctx, kv.KeyConversations)
	}
	c.store.Reset()
	c.logger.Debug().Msg("logged out")
	return nil
}

// credential fetches the bearer credential; its absence means "not
// authenticated" and surfaces before any store mutation.
func (c *Controller) credential(ctx context.Context) (string, error) {
	value, ok, err := c.creds.Get(ctx, kv.KeyAccessToken)
	if err != nil {
		return "", errors.Wrap(err, "read credential")
	}
	if !ok || value == "" {
		return "", errors.Wrap(chatclient.ErrUnauthorized, "no credential stored")
	}
	return value, nil
}

func (c *Controller) release(localID string) {
	c.mu.Lock()
	delete(c.inflight, localID)
	if len(c.inflight) == 0 {
		c.status = ""
	}
	c.mu.Unlock()
}

// persistSnapshot overwrites the cached conversation list, last write
// wins. Transcripts are truncated so the cache stays bounded. Failures
// are logged, never surfaced: the cache is an optimization.
func (c *Controller) persistSnapshot(ctx context.Context) {
	if c.cache == nil {
		return
	}

	snapshot := c.store.Snapshot()
	type cachedConversation struct {
		ID       string            `json:"id"`
		Title    string            `json:"title"`
		Messages []session.Message `json:"messages,omitempty"`
	}

	cached := make([]cachedConversation, 0, len(snapshot.Conversations))
	for _, summary := range snapshot.Conversations {
		entry := cachedConversation{ID: summary.ID, Title: summary.Title}
		if snapshot.Active != nil && snapshot.Active.LocalID == summary.LocalID {
			entry.Messages = session.TruncateHistory(
				snapshot.Active.Messages, snapshotTokenLimit, snapshotMessageLimit)
		}
		cached = append(cached, entry)
	}

	encoded, err := json.Marshal(cached)
	if err != nil {
		c.logger.Warn().Err(err).Msg("snapshot encode failed")
		return
	}
	if err := c.cache.Set(ctx, kv.KeyConversations, string(encoded)); err != nil {
		c.logger.Warn().Err(err).Msg("snapshot write failed")
	}
}
