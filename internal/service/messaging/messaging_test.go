package messaging_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kerjabareng/internal/domain"
	"kerjabareng/internal/service/messaging"
	"kerjabareng/internal/store"
	"kerjabareng/internal/store/memory"
)

type mockDirectory struct {
	mock.Mock
}

func (m *mockDirectory) Put(ctx context.Context, user *domain.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *mockDirectory) Get(ctx context.Context, id string) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockDirectory) Update(ctx context.Context, id string, input domain.UpdateUserInput) (*domain.User, error) {
	args := m.Called(ctx, id, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

var (
	poster = &domain.User{ID: "poster-1", Name: "Pak Budi", Role: domain.RoleHirer, OnboardingComplete: true}

	opp = &domain.Opportunity{
		ID:       "opp-1",
		Title:    "Angkut barang",
		PosterID: poster.ID,
		Status:   domain.OpportunityInProgress,
	}
	app = &domain.Application{
		ID:            "app-1",
		OpportunityID: opp.ID,
		ApplicantID:   "seeker-1",
		ApplicantName: "Sari",
		Status:        domain.ApplicationAccepted,
	}
)

func newTestService(t *testing.T) (messaging.Service, *memory.Store) {
	t.Helper()
	st := memory.New()
	users := new(mockDirectory)
	users.On("Get", mock.Anything, poster.ID).Return(poster, nil).Maybe()
	svc := messaging.NewService(st, users, zap.NewNop())
	t.Cleanup(func() {
		svc.Close()
		st.Close()
	})
	return svc, st
}

func TestEnsureConversation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	conv, err := svc.EnsureConversation(ctx, opp, app)
	require.NoError(t, err)
	require.NotNil(t, conv)

	assert.Equal(t, opp.ID, conv.OpportunityID)
	assert.Equal(t, poster.ID, conv.PosterID)
	assert.Equal(t, poster.Name, conv.PosterName)
	assert.Equal(t, app.ApplicantID, conv.ApplicantID)
	assert.ElementsMatch(t, []string{poster.ID, app.ApplicantID}, conv.ParticipantIDs)
	assert.Equal(t, map[string]int{poster.ID: 0, app.ApplicantID: 0}, conv.UnreadCounts)

	t.Run("Should return the same conversation on repeat", func(t *testing.T) {
		again, err := svc.EnsureConversation(ctx, opp, app)
		require.NoError(t, err)
		assert.Equal(t, conv.ID, again.ID)
	})

	t.Run("Should find the conversation without a warm inbox cache", func(t *testing.T) {
		// A second service instance over the same store has no cached
		// inbox; the one-shot query keeps the thread unique anyway.
		_, st := newTestService(t)
		require.NoError(t, st.Set(ctx, "conversations/"+conv.ID, conv))

		users := new(mockDirectory)
		users.On("Get", mock.Anything, poster.ID).Return(poster, nil).Maybe()
		cold := messaging.NewService(st, users, zap.NewNop())
		defer cold.Close()

		found, err := cold.EnsureConversation(ctx, opp, app)
		require.NoError(t, err)
		assert.Equal(t, conv.ID, found.ID)
	})

	t.Run("Should fork a new thread for a different applicant", func(t *testing.T) {
		other := &domain.Application{
			ID: "app-2", OpportunityID: opp.ID, ApplicantID: "seeker-2", ApplicantName: "Andi",
			Status: domain.ApplicationAccepted,
		}
		forked, err := svc.EnsureConversation(ctx, opp, other)
		require.NoError(t, err)
		assert.NotEqual(t, conv.ID, forked.ID)
	})
}

func TestSend(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	conv, err := svc.EnsureConversation(ctx, opp, app)
	require.NoError(t, err)

	require.NoError(t, svc.Send(ctx, conv.ID, poster.ID, "halo, kapan bisa mulai?"))

	t.Run("Should append the message to the thread", func(t *testing.T) {
		docs, err := st.Query(ctx, "conversations/"+conv.ID+"/messages", querySentAtAsc())
		require.NoError(t, err)
		require.Len(t, docs, 1)

		var msg domain.Message
		require.NoError(t, docs[0].DataTo(&msg))
		assert.Equal(t, poster.ID, msg.SenderID)
		assert.Equal(t, poster.Name, msg.SenderName)
		assert.Equal(t, "halo, kapan bisa mulai?", msg.Text)
		assert.False(t, msg.SentAt.IsZero())
	})

	t.Run("Should update the conversation preview fields", func(t *testing.T) {
		got := loadConversation(t, st, conv.ID)
		assert.Equal(t, "halo, kapan bisa mulai?", got.LastMessage)
		assert.False(t, got.LastMessageAt.IsZero())
	})

	t.Run("Should bump only the recipient's unread counter", func(t *testing.T) {
		got := loadConversation(t, st, conv.ID)
		assert.Equal(t, 1, got.UnreadCounts[app.ApplicantID])
		assert.Equal(t, 0, got.UnreadCounts[poster.ID])
	})

	t.Run("Should accumulate unread counts across sends", func(t *testing.T) {
		require.NoError(t, svc.Send(ctx, conv.ID, poster.ID, "masih tersedia?"))
		got := loadConversation(t, st, conv.ID)
		assert.Equal(t, 2, got.UnreadCounts[app.ApplicantID])
		assert.Equal(t, "masih tersedia?", got.LastMessage)
	})

	t.Run("Should ignore sends from non-participants", func(t *testing.T) {
		require.NoError(t, svc.Send(ctx, conv.ID, "stranger", "spam"))

		docs, err := st.Query(ctx, "conversations/"+conv.ID+"/messages", querySentAtAsc())
		require.NoError(t, err)
		assert.Len(t, docs, 2, "no message is appended")
	})

	t.Run("Should error on unknown conversations", func(t *testing.T) {
		assert.Error(t, svc.Send(ctx, "missing", poster.ID, "hi"))
	})
}

func TestMarkRead(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	conv, err := svc.EnsureConversation(ctx, opp, app)
	require.NoError(t, err)
	require.NoError(t, svc.Send(ctx, conv.ID, poster.ID, "satu"))
	require.NoError(t, svc.Send(ctx, conv.ID, poster.ID, "dua"))

	require.Equal(t, 2, loadConversation(t, st, conv.ID).UnreadCounts[app.ApplicantID])

	require.NoError(t, svc.MarkRead(ctx, conv.ID, app.ApplicantID))
	got := loadConversation(t, st, conv.ID)
	assert.Equal(t, 0, got.UnreadCounts[app.ApplicantID])

	t.Run("Should be idempotent", func(t *testing.T) {
		require.NoError(t, svc.MarkRead(ctx, conv.ID, app.ApplicantID))
		assert.Equal(t, 0, loadConversation(t, st, conv.ID).UnreadCounts[app.ApplicantID])
	})

	t.Run("Should ignore non-participants", func(t *testing.T) {
		require.NoError(t, svc.Send(ctx, conv.ID, app.ApplicantID, "balasan"))
		require.Equal(t, 1, loadConversation(t, st, conv.ID).UnreadCounts[poster.ID])

		require.NoError(t, svc.MarkRead(ctx, conv.ID, "stranger"))
		assert.Equal(t, 1, loadConversation(t, st, conv.ID).UnreadCounts[poster.ID])
	})
}

func TestInboxAndThreadWatchers(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	conv, err := svc.EnsureConversation(ctx, opp, app)
	require.NoError(t, err)

	inbox, err := svc.Inbox(ctx, poster.ID)
	require.NoError(t, err)
	require.NoError(t, inbox.WaitReady(ctx))
	require.Equal(t, 1, inbox.Len())

	t.Run("Should share one inbox watcher per user", func(t *testing.T) {
		again, err := svc.Inbox(ctx, poster.ID)
		require.NoError(t, err)
		assert.Same(t, inbox, again)
	})

	t.Run("Should outlive the request context that opened it", func(t *testing.T) {
		reqCtx, cancel := context.WithCancel(ctx)
		cancel()
		live, err := svc.Inbox(reqCtx, app.ApplicantID)
		require.NoError(t, err)
		require.NoError(t, live.WaitReady(ctx))
		assert.Equal(t, 1, live.Len())
	})

	t.Run("Should exclude conversations of other users", func(t *testing.T) {
		strangerInbox, err := svc.Inbox(ctx, "stranger")
		require.NoError(t, err)
		require.NoError(t, strangerInbox.WaitReady(ctx))
		assert.Equal(t, 0, strangerInbox.Len())
	})

	thread, err := svc.Thread(ctx, conv.ID)
	require.NoError(t, err)
	require.NoError(t, thread.WaitReady(ctx))

	require.NoError(t, svc.Send(ctx, conv.ID, poster.ID, "pertama"))
	require.NoError(t, svc.Send(ctx, conv.ID, app.ApplicantID, "kedua"))

	require.Eventually(t, func() bool { return thread.Len() == 2 }, 2*time.Second, 10*time.Millisecond)

	t.Run("Should order messages oldest first", func(t *testing.T) {
		msgs := thread.Items()
		require.Len(t, msgs, 2)
		assert.Equal(t, "pertama", msgs[0].Text)
		assert.Equal(t, "kedua", msgs[1].Text)
	})

	t.Run("Should reflect new activity in the inbox snapshot", func(t *testing.T) {
		require.Eventually(t, func() bool {
			cached, ok := inbox.Get(conv.ID)
			return ok && cached.LastMessage == "kedua"
		}, 2*time.Second, 10*time.Millisecond)
	})

	svc.CloseThread(conv.ID)
	svc.CloseInbox(poster.ID)
}

func querySentAtAsc() store.Query {
	return store.Query{}.OrderBy("sentAt", false)
}

func loadConversation(t *testing.T, st *memory.Store, id string) *domain.Conversation {
	t.Helper()
	doc, err := st.Get(context.Background(), "conversations/"+id)
	require.NoError(t, err)
	var conv domain.Conversation
	require.NoError(t, doc.DataTo(&conv))
	return &conv
}
