package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"kerjabareng/internal/domain"
)

func TestApplicationStatusTransitions(t *testing.T) {
	cases := []struct {
		from    domain.ApplicationStatus
		to      domain.ApplicationStatus
		allowed bool
	}{
		{domain.ApplicationPending, domain.ApplicationAccepted, true},
		{domain.ApplicationPending, domain.ApplicationRejected, true},
		{domain.ApplicationPending, domain.ApplicationCancelled, true},
		{domain.ApplicationPending, domain.ApplicationCompleted, false},
		{domain.ApplicationAccepted, domain.ApplicationCompleted, true},
		{domain.ApplicationAccepted, domain.ApplicationCancelled, false},
		{domain.ApplicationAccepted, domain.ApplicationRejected, false},
		{domain.ApplicationRejected, domain.ApplicationAccepted, false},
		{domain.ApplicationCancelled, domain.ApplicationPending, false},
		{domain.ApplicationCompleted, domain.ApplicationCancelled, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.allowed, tc.from.CanTransition(tc.to),
			"%s -> %s", tc.from, tc.to)
	}
}

func TestOpportunityStatusTransitions(t *testing.T) {
	cases := []struct {
		from    domain.OpportunityStatus
		to      domain.OpportunityStatus
		allowed bool
	}{
		{domain.OpportunityOpen, domain.OpportunityInProgress, true},
		{domain.OpportunityOpen, domain.OpportunityCancelled, true},
		{domain.OpportunityOpen, domain.OpportunityCompleted, false},
		{domain.OpportunityInProgress, domain.OpportunityCompleted, true},
		{domain.OpportunityInProgress, domain.OpportunityCancelled, true},
		{domain.OpportunityInProgress, domain.OpportunityOpen, false},
		{domain.OpportunityCompleted, domain.OpportunityCancelled, false},
		{domain.OpportunityCancelled, domain.OpportunityOpen, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.allowed, tc.from.CanTransition(tc.to),
			"%s -> %s", tc.from, tc.to)
	}
}

func TestUserGates(t *testing.T) {
	t.Run("Should gate posting on hirer role and onboarding", func(t *testing.T) {
		hirer := &domain.User{ID: "u1", Role: domain.RoleHirer, OnboardingComplete: true}
		assert.True(t, hirer.CanPost())
		assert.False(t, hirer.CanApply())

		hirer.OnboardingComplete = false
		assert.False(t, hirer.CanPost())
	})

	t.Run("Should gate applying on seeker role and onboarding", func(t *testing.T) {
		seeker := &domain.User{ID: "u2", Role: domain.RoleSeeker, OnboardingComplete: true}
		assert.True(t, seeker.CanApply())
		assert.False(t, seeker.CanPost())

		seeker.OnboardingComplete = false
		assert.False(t, seeker.CanApply())
	})
}

func TestConversationParticipants(t *testing.T) {
	conv := &domain.Conversation{
		ID:             "c1",
		OpportunityID:  "o1",
		PosterID:       "poster",
		ApplicantID:    "applicant",
		ParticipantIDs: []string{"poster", "applicant"},
	}

	assert.True(t, conv.HasParticipant("poster"))
	assert.True(t, conv.HasParticipant("applicant"))
	assert.False(t, conv.HasParticipant("stranger"))

	assert.Equal(t, "applicant", conv.OtherParticipant("poster"))
	assert.Equal(t, "poster", conv.OtherParticipant("applicant"))
	assert.Equal(t, "", conv.OtherParticipant("stranger"))

	assert.True(t, conv.Matches("o1", "poster", "applicant"))
	assert.False(t, conv.Matches("o2", "poster", "applicant"))
	assert.False(t, conv.Matches("o1", "poster", "other"))
}

func TestApplicationActive(t *testing.T) {
	app := &domain.Application{ID: "a1", Status: domain.ApplicationPending}
	assert.True(t, app.Active())

	app.Status = domain.ApplicationRejected
	assert.True(t, app.Active())

	app.Status = domain.ApplicationCancelled
	assert.False(t, app.Active())
}
