package workflow_test

import (
	"context"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kerjabareng/internal/domain"
	"kerjabareng/internal/service/messaging"
	"kerjabareng/internal/service/workflow"
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
	poster = &domain.User{
		ID: "poster-1", Name: "Pak Budi", Role: domain.RoleHirer, OnboardingComplete: true,
	}
	seeker = &domain.User{
		ID: "seeker-1", Name: "Sari", Role: domain.RoleSeeker, OnboardingComplete: true,
	}
	seeker2 = &domain.User{
		ID: "seeker-2", Name: "Andi", Role: domain.RoleSeeker, OnboardingComplete: true,
	}
)

func newTestService(t *testing.T) (workflow.Service, *memory.Store) {
	t.Helper()
	st := memory.New()
	users := new(mockDirectory)
	users.On("Get", mock.Anything, poster.ID).Return(poster, nil).Maybe()
	messages := messaging.NewService(st, users, zap.NewNop())
	svc := workflow.NewService(st, messages, zap.NewNop())
	t.Cleanup(func() {
		svc.Close()
		messages.Close()
		st.Close()
	})
	return svc, st
}

func createOpportunity(t *testing.T, svc workflow.Service) *domain.Opportunity {
	t.Helper()
	opp, err := svc.CreateOpportunity(context.Background(), poster, domain.CreateOpportunityInput{
		Title:       "Bersihkan taman",
		Description: "Gotong royong akhir pekan",
		Location:    "Medan",
		IsVolunteer: true,
		Category:    "community",
	})
	require.NoError(t, err)
	require.NotNil(t, opp)
	return opp
}

func TestCreateOpportunity(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	opp := createOpportunity(t, svc)
	assert.Equal(t, domain.OpportunityOpen, opp.Status)
	assert.True(t, opp.IsActive)
	assert.Equal(t, 0, opp.ApplicantCount)

	stored, err := svc.Opportunity(ctx, opp.ID)
	require.NoError(t, err)
	assert.Equal(t, opp.Title, stored.Title)

	t.Run("Should refuse posters that may not post", func(t *testing.T) {
		got, err := svc.CreateOpportunity(ctx, seeker, domain.CreateOpportunityInput{
			Title: "x", Description: "y",
		})
		require.NoError(t, err)
		assert.Nil(t, got, "seekers cannot post; dropped as a no-op")

		got, err = svc.CreateOpportunity(ctx, nil, domain.CreateOpportunityInput{
			Title: "x", Description: "y",
		})
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("Should require title and description", func(t *testing.T) {
		_, err := svc.CreateOpportunity(ctx, poster, domain.CreateOpportunityInput{Title: "only title"})
		assert.Error(t, err)
	})
}

func TestApply(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	opp := createOpportunity(t, svc)

	msg := "saya mau bantu"
	app, err := svc.Apply(ctx, opp.ID, seeker, &msg)
	require.NoError(t, err)
	require.NotNil(t, app)
	assert.Equal(t, domain.ApplicationPending, app.Status)
	assert.Equal(t, seeker.ID, app.ApplicantID)
	assert.Equal(t, seeker.Name, app.ApplicantName)

	// The count bump runs detached; observe it eventually.
	require.Eventually(t, func() bool {
		got, err := svc.Opportunity(ctx, opp.ID)
		return err == nil && got.ApplicantCount == 1
	}, 2*time.Second, 10*time.Millisecond)

	t.Run("Should return the existing application on duplicate apply", func(t *testing.T) {
		again, err := svc.Apply(ctx, opp.ID, seeker, nil)
		require.NoError(t, err)
		require.NotNil(t, again)
		assert.Equal(t, app.ID, again.ID)

		// No second increment for the duplicate.
		time.Sleep(50 * time.Millisecond)
		got, err := svc.Opportunity(ctx, opp.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.ApplicantCount)
	})

	t.Run("Should refuse applicants that may not apply", func(t *testing.T) {
		got, err := svc.Apply(ctx, opp.ID, poster, nil)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("Should allow re-applying after a cancel, keeping the count high", func(t *testing.T) {
		require.NoError(t, svc.CancelApplication(ctx, app.ID))

		applied, err := svc.HasApplied(ctx, opp.ID, seeker.ID)
		require.NoError(t, err)
		assert.False(t, applied)

		fresh, err := svc.Apply(ctx, opp.ID, seeker, nil)
		require.NoError(t, err)
		require.NotNil(t, fresh)
		assert.NotEqual(t, app.ID, fresh.ID)

		// applicantCount only ever goes up; the cancelled application
		// is not subtracted.
		require.Eventually(t, func() bool {
			got, err := svc.Opportunity(ctx, opp.ID)
			return err == nil && got.ApplicantCount == 2
		}, 2*time.Second, 10*time.Millisecond)
	})
}

func TestHasApplied(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	opp := createOpportunity(t, svc)

	applied, err := svc.HasApplied(ctx, opp.ID, seeker.ID)
	require.NoError(t, err)
	assert.False(t, applied)

	_, err = svc.Apply(ctx, opp.ID, seeker, nil)
	require.NoError(t, err)

	applied, err = svc.HasApplied(ctx, opp.ID, seeker.ID)
	require.NoError(t, err)
	assert.True(t, applied)
}

func TestAccept(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	opp := createOpportunity(t, svc)

	app1, err := svc.Apply(ctx, opp.ID, seeker, nil)
	require.NoError(t, err)
	app2, err := svc.Apply(ctx, opp.ID, seeker2, nil)
	require.NoError(t, err)

	conv, err := svc.Accept(ctx, app1.ID)
	require.NoError(t, err)
	require.NotNil(t, conv)

	t.Run("Should move the application to accepted", func(t *testing.T) {
		got, err := svc.Application(ctx, app1.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.ApplicationAccepted, got.Status)
		assert.NotNil(t, got.AcceptedAt)
	})

	t.Run("Should move the opportunity to inProgress", func(t *testing.T) {
		got, err := svc.Opportunity(ctx, opp.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.OpportunityInProgress, got.Status)
		assert.False(t, got.IsActive)
		require.NotNil(t, got.AcceptedApplicantID)
		assert.Equal(t, seeker.ID, *got.AcceptedApplicantID)
	})

	t.Run("Should reject every other pending application", func(t *testing.T) {
		got, err := svc.Application(ctx, app2.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.ApplicationRejected, got.Status)
	})

	t.Run("Should open the conversation between poster and applicant", func(t *testing.T) {
		assert.Equal(t, opp.ID, conv.OpportunityID)
		assert.ElementsMatch(t, []string{poster.ID, seeker.ID}, conv.ParticipantIDs)
		assert.Equal(t, 0, conv.UnreadCounts[poster.ID])
		assert.Equal(t, 0, conv.UnreadCounts[seeker.ID])
	})

	t.Run("Should ignore a second accept on the same opportunity", func(t *testing.T) {
		got, err := svc.Accept(ctx, app2.ID)
		require.NoError(t, err)
		assert.Nil(t, got)

		check, err := svc.Application(ctx, app2.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.ApplicationRejected, check.Status)
	})

	t.Run("Should surface missing applications as errors", func(t *testing.T) {
		_, err := svc.Accept(ctx, "nope")
		assert.Error(t, err)
	})
}

func TestConcurrentAcceptsPickOneWinner(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	opp := createOpportunity(t, svc)

	applicants := []*domain.User{
		{ID: "s1", Name: "A", Role: domain.RoleSeeker, OnboardingComplete: true},
		{ID: "s2", Name: "B", Role: domain.RoleSeeker, OnboardingComplete: true},
		{ID: "s3", Name: "C", Role: domain.RoleSeeker, OnboardingComplete: true},
		{ID: "s4", Name: "D", Role: domain.RoleSeeker, OnboardingComplete: true},
	}
	var appIDs []string
	for _, u := range applicants {
		app, err := svc.Apply(ctx, opp.ID, u, nil)
		require.NoError(t, err)
		appIDs = append(appIDs, app.ID)
	}

	var wg gosync.WaitGroup
	for _, id := range appIDs {
		wg.Add(1)
		go func(applicationID string) {
			defer wg.Done()
			_, _ = svc.Accept(ctx, applicationID)
		}(id)
	}
	wg.Wait()

	accepted := 0
	for _, id := range appIDs {
		app, err := svc.Application(ctx, id)
		require.NoError(t, err)
		if app.Status == domain.ApplicationAccepted {
			accepted++
		} else {
			assert.Equal(t, domain.ApplicationRejected, app.Status)
		}
	}
	assert.Equal(t, 1, accepted, "exactly one application wins the race")

	got, err := svc.Opportunity(ctx, opp.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OpportunityInProgress, got.Status)
}

func TestComplete(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	opp := createOpportunity(t, svc)

	app, err := svc.Apply(ctx, opp.ID, seeker, nil)
	require.NoError(t, err)

	t.Run("Should ignore completing an opportunity that is still open", func(t *testing.T) {
		require.NoError(t, svc.Complete(ctx, opp.ID))
		got, err := svc.Opportunity(ctx, opp.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.OpportunityOpen, got.Status)
	})

	_, err = svc.Accept(ctx, app.ID)
	require.NoError(t, err)

	require.NoError(t, svc.Complete(ctx, opp.ID))

	gotOpp, err := svc.Opportunity(ctx, opp.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OpportunityCompleted, gotOpp.Status)
	assert.False(t, gotOpp.IsActive)

	gotApp, err := svc.Application(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ApplicationCompleted, gotApp.Status)
	assert.NotNil(t, gotApp.CompletedAt)

	t.Run("Should ignore a repeated complete", func(t *testing.T) {
		require.NoError(t, svc.Complete(ctx, opp.ID))
	})
}

func TestCancelApplication(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	opp := createOpportunity(t, svc)

	app, err := svc.Apply(ctx, opp.ID, seeker, nil)
	require.NoError(t, err)

	require.NoError(t, svc.CancelApplication(ctx, app.ID))
	got, err := svc.Application(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ApplicationCancelled, got.Status)

	t.Run("Should not cancel an accepted application", func(t *testing.T) {
		app2, err := svc.Apply(ctx, opp.ID, seeker2, nil)
		require.NoError(t, err)
		_, err = svc.Accept(ctx, app2.ID)
		require.NoError(t, err)

		require.NoError(t, svc.CancelApplication(ctx, app2.ID))
		got, err := svc.Application(ctx, app2.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.ApplicationAccepted, got.Status, "accepted stays accepted")
	})
}

func TestCancelOpportunity(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	t.Run("Should cancel an open opportunity", func(t *testing.T) {
		opp := createOpportunity(t, svc)
		require.NoError(t, svc.CancelOpportunity(ctx, opp.ID))

		got, err := svc.Opportunity(ctx, opp.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.OpportunityCancelled, got.Status)
		assert.False(t, got.IsActive)
	})

	t.Run("Should cancel an in-progress opportunity", func(t *testing.T) {
		opp := createOpportunity(t, svc)
		app, err := svc.Apply(ctx, opp.ID, seeker, nil)
		require.NoError(t, err)
		_, err = svc.Accept(ctx, app.ID)
		require.NoError(t, err)

		require.NoError(t, svc.CancelOpportunity(ctx, opp.ID))
		got, err := svc.Opportunity(ctx, opp.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.OpportunityCancelled, got.Status)
	})

	t.Run("Should ignore cancelling a completed opportunity", func(t *testing.T) {
		opp := createOpportunity(t, svc)
		app, err := svc.Apply(ctx, opp.ID, seeker, nil)
		require.NoError(t, err)
		_, err = svc.Accept(ctx, app.ID)
		require.NoError(t, err)
		require.NoError(t, svc.Complete(ctx, opp.ID))

		require.NoError(t, svc.CancelOpportunity(ctx, opp.ID))
		got, err := svc.Opportunity(ctx, opp.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.OpportunityCompleted, got.Status)
	})
}

func TestFeedWatcher(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	feed, err := svc.Feed(ctx)
	require.NoError(t, err)
	require.NoError(t, feed.WaitReady(ctx))
	assert.Equal(t, 0, feed.Len())

	opp := createOpportunity(t, svc)
	require.Eventually(t, func() bool { return feed.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	cached, ok := feed.Get(opp.ID)
	require.True(t, ok)
	assert.Equal(t, opp.Title, cached.Title)

	again, err := svc.Feed(ctx)
	require.NoError(t, err)
	assert.Same(t, feed, again, "the feed watcher is shared")
}

func TestFeedWatcherOutlivesRequestContext(t *testing.T) {
	svc, _ := newTestService(t)

	// Opened under an already-dead request-scoped context, the shared
	// cache must still come alive and keep receiving snapshots.
	reqCtx, cancel := context.WithCancel(context.Background())
	cancel()
	feed, err := svc.Feed(reqCtx)
	require.NoError(t, err)
	require.NoError(t, feed.WaitReady(context.Background()))

	createOpportunity(t, svc)
	require.Eventually(t, func() bool { return feed.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestOpportunityApplicationsWatcher(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	opp := createOpportunity(t, svc)
	other := createOpportunity(t, svc)

	w, err := svc.OpportunityApplications(ctx, opp.ID)
	require.NoError(t, err)
	require.NoError(t, w.WaitReady(ctx))

	_, err = svc.Apply(ctx, opp.ID, seeker, nil)
	require.NoError(t, err)
	_, err = svc.Apply(ctx, other.ID, seeker2, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return w.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	items := w.Items()
	require.Len(t, items, 1)
	assert.Equal(t, opp.ID, items[0].OpportunityID, "other opportunities stay out of this cache")
}

func TestClearCollection(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	opp := createOpportunity(t, svc)

	assert.Error(t, svc.ClearCollection(ctx, "users"), "unknown collections are refused")

	require.NoError(t, svc.ClearCollection(ctx, "opportunities"))
	_, err := svc.Opportunity(ctx, opp.ID)
	assert.Error(t, err)
}
