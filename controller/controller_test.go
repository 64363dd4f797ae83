package controller

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	chatclient "github.com/creastat/chatclient"
	"github.com/creastat/chatclient/api"
	"github.com/creastat/chatclient/kv"
	"github.com/creastat/chatclient/session"
)

// fakeService records calls and lets tests script responses.
type fakeService struct {
	mu    sync.Mutex
	calls []string

	listFn   func() ([]session.ConversationSummary, error)
	createFn func(title string) (session.ConversationSummary, error)
	getFn    func(conversationID string) ([]session.Message, error)
	sendFn   func(conversationID, query string, opts api.SendOptions) (api.SendResult, error)
	deleteFn func(conversationID string) error
}

var _ api.Service = (*fakeService)(nil)

func (f *fakeService) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeService) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeService) ListConversations(ctx context.Context, credential string) ([]session.ConversationSummary, error) {
	f.record("list")
	if f.listFn != nil {
		return f.listFn()
	}
	return nil, nil
}

func (f *fakeService) CreateConversation(ctx context.Context, credential, title string) (session.ConversationSummary, error) {
	f.record("create:" + title)
	if f.createFn != nil {
		return f.createFn(title)
	}
	return session.ConversationSummary{ID: "srv-1", Title: title}, nil
}

func (f *fakeService) GetMessages(ctx context.Context, credential, conversationID string) ([]session.Message, error) {
	f.record("get:" + conversationID)
	if f.getFn != nil {
		return f.getFn(conversationID)
	}
	return nil, nil
}

func (f *fakeService) SendMessage(ctx context.Context, credential, conversationID, query string, opts api.SendOptions) (api.SendResult, error) {
	f.record(fmt.Sprintf("send:%s:%s:k=%d:sources=%t", conversationID, query, opts.TopK, opts.IncludeSources))
	if f.sendFn != nil {
		return f.sendFn(conversationID, query, opts)
	}
	return api.SendResult{Answer: "answer to " + query, MessageID: "srv-msg", ConversationID: conversationID}, nil
}

func (f *fakeService) DeleteConversation(ctx context.Context, credential, conversationID string) error {
	f.record("delete:" + conversationID)
	if f.deleteFn != nil {
		return f.deleteFn(conversationID)
	}
	return nil
}

func newTestController(t *testing.T, service api.Service) (*Controller, kv.Store) {
	t.Helper()

	creds, err := kv.New(kv.StoreTypeMemory)
	require.NoError(t, err)
	require.NoError(t, creds.Set(context.Background(), kv.KeyAccessToken, "tok-1"))

	ctrl, err := New(Config{API: service, Credentials: creds, Cache: creds})
	require.NoError(t, err)
	return ctrl, creds
}

func TestSendOrderingAcrossAwaitedSends(t *testing.T) {
	fake := &fakeService{}
	ctrl, _ := newTestController(t, fake)
	ctx := context.Background()

	const n = 4
	for i := 0; i < n; i++ {
		require.NoError(t, ctrl.Send(ctx, fmt.Sprintf("question %d", i)))
	}

	active, ok := ctrl.Store().ActiveConversation()
	require.True(t, ok)
	require.Len(t, active.Messages, 2*n)
	for i := 0; i < n; i++ {
		user := active.Messages[2*i]
		assistant := active.Messages[2*i+1]
		require.Equal(t, session.AuthorUser, user.Author)
		require.Equal(t, fmt.Sprintf("question %d", i), user.Text)
		require.Equal(t, session.AuthorAssistant, assistant.Author)
		require.False(t, user.Pending)
		require.False(t, assistant.Pending)
	}
}

func TestSendLazyCreationScenario(t *testing.T) {
	fake := &fakeService{}
	ctrl, _ := newTestController(t, fake)
	ctx := context.Background()

	// Fresh session: new chat creates only a local placeholder.
	summary := ctrl.NewConversation()
	require.Empty(t, summary.ID)
	require.Equal(t, 1, ctrl.Store().Len())

	active, _ := ctrl.Store().ActiveConversation()
	require.False(t, active.Persisted())
	require.Empty(t, active.Messages)
	require.Empty(t, fake.Calls(), "new chat must not contact the server")

	require.NoError(t, ctrl.Send(ctx, "hello"))

	require.Equal(t, []string{
		"create:새 대화",
		"send:srv-1:hello:k=3:sources=true",
	}, fake.Calls())

	active, _ = ctrl.Store().ActiveConversation()
	require.Equal(t, "srv-1", active.ID)
	require.Len(t, active.Messages, 2)
	require.Equal(t, session.AuthorUser, active.Messages[0].Author)
	require.Equal(t, "hello", active.Messages[0].Text)
	require.Equal(t, session.AuthorAssistant, active.Messages[1].Author)
	require.Equal(t, "answer to hello", active.Messages[1].Text)
}

func TestSendTrimsAndIgnoresEmptyText(t *testing.T) {
	fake := &fakeService{}
	ctrl, _ := newTestController(t, fake)

	require.NoError(t, ctrl.Send(context.Background(), "   \n\t "))
	require.Empty(t, fake.Calls())
	require.Equal(t, 0, ctrl.Store().Len())
}

func TestSendRejectsConcurrentSendToSameConversation(t *testing.T) {
	started := make(chan struct{})
	unblock := make(chan struct{})
	fake := &fakeService{
		sendFn: func(conversationID, query string, opts api.SendOptions) (api.SendResult, error) {
			close(started)
			<-unblock
			return api.SendResult{Answer: "done", MessageID: "m1"}, nil
		},
	}
	ctrl, _ := newTestController(t, fake)
	ctx := context.Background()

	firstDone := make(chan error, 1)
	go func() { firstDone <- ctrl.Send(ctx, "first") }()
	<-started

	// The tail now holds one pending placeholder; a second send must be
	// rejected without touching it.
	err := ctrl.Send(ctx, "second")
	require.ErrorIs(t, err, chatclient.ErrBusy)

	active, _ := ctrl.Store().ActiveConversation()
	pending := 0
	for _, msg := range active.Messages {
		if msg.Pending {
			pending++
		}
	}
	require.Equal(t, 1, pending, "exactly one placeholder while sending")

	close(unblock)
	require.NoError(t, <-firstDone)

	active, _ = ctrl.Store().ActiveConversation()
	require.Len(t, active.Messages, 2)
	require.Equal(t, "first", active.Messages[0].Text)
	require.Equal(t, "done", active.Messages[1].Text)
	require.False(t, active.Messages[1].Pending)
}

func TestSendFailureRemovesPlaceholderKeepsUserMessage(t *testing.T) {
	fake := &fakeService{
		sendFn: func(conversationID, query string, opts api.SendOptions) (api.SendResult, error) {
			return api.SendResult{}, errors.Wrap(chatclient.ErrTimeout, "generation took too long")
		},
	}
	ctrl, _ := newTestController(t, fake)

	err := ctrl.Send(context.Background(), "hello")
	require.ErrorIs(t, err, chatclient.ErrTimeout)

	active, ok := ctrl.Store().ActiveConversation()
	require.True(t, ok)
	require.Len(t, active.Messages, 1, "user message stays, placeholder is gone")
	require.Equal(t, session.AuthorUser, active.Messages[0].Author)
	for _, msg := range active.Messages {
		require.False(t, msg.Pending)
	}

	view := ctrl.View()
	require.False(t, view.Busy, "failure clears the busy flag")

	// The store stays usable: the next send succeeds.
	fake.sendFn = nil
	require.NoError(t, ctrl.Send(context.Background(), "again"))
	active, _ = ctrl.Store().ActiveConversation()
	require.Len(t, active.Messages, 3)
}

func TestSendCreateFailureAppendsNothing(t *testing.T) {
	fake := &fakeService{
		createFn: func(title string) (session.ConversationSummary, error) {
			return session.ConversationSummary{}, errors.Wrap(chatclient.ErrUnreachable, "no route")
		},
	}
	ctrl, _ := newTestController(t, fake)

	err := ctrl.Send(context.Background(), "hello")
	require.ErrorIs(t, err, chatclient.ErrUnreachable)

	active, ok := ctrl.Store().ActiveConversation()
	require.True(t, ok)
	require.Empty(t, active.Messages, "aborted send must not append locally")
	require.False(t, active.Persisted())
}

func TestSendWithoutCredential(t *testing.T) {
	fake := &fakeService{}
	ctrl, creds := newTestController(t, fake)
	require.NoError(t, creds.Remove(context.Background(), kv.KeyAccessToken))

	err := ctrl.Send(context.Background(), "hello")
	require.ErrorIs(t, err, chatclient.ErrUnauthorized)
	require.Empty(t, fake.Calls())
	require.Equal(t, 0, ctrl.Store().Len())
}

func TestSelectLoadsOnceThenIsIdempotent(t *testing.T) {
	fake := &fakeService{
		getFn: func(conversationID string) ([]session.Message, error) {
			return []session.Message{
				session.NewUserMessage("이전 질문"),
				session.NewAssistantMessage("m1", "이전 답변", nil),
			}, nil
		},
	}
	ctrl, _ := newTestController(t, fake)
	ctx := context.Background()

	ctrl.Store().UpsertConversation(session.Conversation{ID: "srv-7", Title: "t"})

	require.NoError(t, ctrl.Select(ctx, "srv-7"))
	require.NoError(t, ctrl.Select(ctx, "srv-7"))

	gets := 0
	for _, call := range fake.Calls() {
		if call == "get:srv-7" {
			gets++
		}
	}
	require.Equal(t, 1, gets, "second select of a loaded conversation fetches nothing")

	active, _ := ctrl.Store().ActiveConversation()
	require.Equal(t, "srv-7", active.ID)
	require.Len(t, active.Messages, 2)
}

func TestSelectRejectsWhileLoadingAndShowsStatus(t *testing.T) {
	started := make(chan struct{})
	unblock := make(chan struct{})
	fake := &fakeService{
		getFn: func(conversationID string) ([]session.Message, error) {
			close(started)
			<-unblock
			return []session.Message{session.NewUserMessage("이전 질문")}, nil
		},
	}
	ctrl, _ := newTestController(t, fake)
	ctx := context.Background()

	ctrl.Store().UpsertConversation(session.Conversation{ID: "srv-7", Title: "t"})

	firstDone := make(chan error, 1)
	go func() { firstDone <- ctrl.Select(ctx, "srv-7") }()
	<-started

	view := ctrl.View()
	require.True(t, view.Busy)
	require.Equal(t, StatusLoading, view.Status)

	err := ctrl.Select(ctx, "srv-7")
	require.ErrorIs(t, err, chatclient.ErrBusy)

	close(unblock)
	require.NoError(t, <-firstDone)

	active, _ := ctrl.Store().ActiveConversation()
	require.Equal(t, "srv-7", active.ID)
	require.Len(t, active.Messages, 1)
}

func TestSelectFailureKeepsPreviousActive(t *testing.T) {
	fake := &fakeService{
		getFn: func(conversationID string) ([]session.Message, error) {
			return nil, errors.Wrap(chatclient.ErrUnreachable, "down")
		},
	}
	ctrl, _ := newTestController(t, fake)
	ctx := context.Background()

	ctrl.NewConversation()
	before, _ := ctrl.Store().ActiveConversation()

	ctrl.Store().UpsertConversation(session.Conversation{ID: "srv-8", Title: "other"})

	err := ctrl.Select(ctx, "srv-8")
	require.ErrorIs(t, err, chatclient.ErrUnreachable)

	after, ok := ctrl.Store().ActiveConversation()
	require.True(t, ok)
	require.Equal(t, before.LocalID, after.LocalID, "failed selection must not complete")
}

func TestSelectUnknownConversation(t *testing.T) {
	fake := &fakeService{}
	ctrl, _ := newTestController(t, fake)

	err := ctrl.Select(context.Background(), "ghost")
	require.ErrorIs(t, err, chatclient.ErrNotFound)
}

func TestNewConversationIsIdempotentWhileEmpty(t *testing.T) {
	fake := &fakeService{}
	ctrl, _ := newTestController(t, fake)

	first := ctrl.NewConversation()
	second := ctrl.NewConversation()
	require.Equal(t, first.LocalID, second.LocalID)
	require.Equal(t, 1, ctrl.Store().Len())
}

func TestRestorePopulatesStore(t *testing.T) {
	fake := &fakeService{
		listFn: func() ([]session.ConversationSummary, error) {
			return []session.ConversationSummary{
				{ID: "srv-1", Title: "최근 대화"},
				{ID: "srv-2", Title: "지난 대화"},
			}, nil
		},
	}
	ctrl, _ := newTestController(t, fake)

	require.NoError(t, ctrl.Restore(context.Background()))
	require.Equal(t, 2, ctrl.Store().Len())

	view := ctrl.View()
	require.Equal(t, "srv-1", view.Conversations[0].ID)
	require.Nil(t, view.Active, "restore does not select anything")
}

func TestDeleteConversation(t *testing.T) {
	fake := &fakeService{}
	ctrl, _ := newTestController(t, fake)
	ctx := context.Background()

	require.NoError(t, ctrl.Send(ctx, "hello"))
	require.NoError(t, ctrl.Delete(ctx, "srv-1"))

	require.Contains(t, fake.Calls(), "delete:srv-1")
	require.Equal(t, 0, ctrl.Store().Len())
}

func TestDeleteHoldsConversationAgainstConcurrentSend(t *testing.T) {
	started := make(chan struct{})
	unblock := make(chan struct{})
	fake := &fakeService{
		deleteFn: func(conversationID string) error {
			close(started)
			<-unblock
			return nil
		},
	}
	ctrl, _ := newTestController(t, fake)
	ctx := context.Background()

	require.NoError(t, ctrl.Send(ctx, "hello"))

	deleteDone := make(chan error, 1)
	go func() { deleteDone <- ctrl.Delete(ctx, "srv-1") }()
	<-started

	// The delete owns the conversation until it lands; a racing send must
	// be rejected rather than append to a doomed transcript.
	err := ctrl.Send(ctx, "racing")
	require.ErrorIs(t, err, chatclient.ErrBusy)

	close(unblock)
	require.NoError(t, <-deleteDone)
	require.Equal(t, 0, ctrl.Store().Len())
}

func TestDeleteLocalPlaceholderSkipsServer(t *testing.T) {
	fake := &fakeService{}
	ctrl, _ := newTestController(t, fake)

	summary := ctrl.NewConversation()
	require.NoError(t, ctrl.Delete(context.Background(), summary.LocalID))
	require.Empty(t, fake.Calls())
	require.Equal(t, 0, ctrl.Store().Len())
}

func TestLogoutClearsCredentialAndState(t *testing.T) {
	fake := &fakeService{}
	ctrl, creds := newTestController(t, fake)
	ctx := context.Background()

	require.NoError(t, ctrl.Send(ctx, "hello"))
	require.NoError(t, ctrl.Logout(ctx))

	_, ok, err := creds.Get(ctx, kv.KeyAccessToken)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 0, ctrl.Store().Len())

	_, ok, err = creds.Get(ctx, kv.KeyConversations)
	require.NoError(t, err)
	require.False(t, ok, "cached snapshot is dropped on logout")
}

func TestViewReflectsBusyStatus(t *testing.T) {
	started := make(chan struct{})
	unblock := make(chan struct{})
	fake := &fakeService{
		sendFn: func(conversationID, query string, opts api.SendOptions) (api.SendResult, error) {
			close(started)
			<-unblock
			return api.SendResult{Answer: "ok"}, nil
		},
	}
	ctrl, _ := newTestController(t, fake)

	done := make(chan error, 1)
	go func() { done <- ctrl.Send(context.Background(), "hello") }()
	<-started

	view := ctrl.View()
	require.True(t, view.Busy)
	require.Equal(t, StatusGenerating, view.Status)

	close(unblock)
	require.NoError(t, <-done)

	require.Eventually(t, func() bool {
		v := ctrl.View()
		return !v.Busy && v.Status == ""
	}, time.Second, 10*time.Millisecond)
}

func TestSnapshotPersistedAfterSend(t *testing.T) {
	fake := &fakeService{}
	ctrl, creds := newTestController(t, fake)
	ctx := context.Background()

	require.NoError(t, ctrl.Send(ctx, "hello"))

	value, ok, err := creds.Get(ctx, kv.KeyConversations)
	require.NoError(t, err)
	require.True(t, ok)
	require.Contains(t, value, "srv-1")
	require.Contains(t, value, "hello")
}
