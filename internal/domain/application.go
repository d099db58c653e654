package domain

import (
	"time"
)

type ApplicationStatus string

const (
	ApplicationPending   ApplicationStatus = "pending"
	ApplicationAccepted  ApplicationStatus = "accepted"
	ApplicationRejected  ApplicationStatus = "rejected"
	ApplicationCompleted ApplicationStatus = "completed"
	ApplicationCancelled ApplicationStatus = "cancelled"
)

func (s ApplicationStatus) IsValid() bool {
	switch s {
	case ApplicationPending, ApplicationAccepted, ApplicationRejected,
		ApplicationCompleted, ApplicationCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether the application lifecycle allows moving to
// next. pending -> accepted|rejected|cancelled, accepted -> completed.
func (s ApplicationStatus) CanTransition(next ApplicationStatus) bool {
	switch s {
	case ApplicationPending:
		return next == ApplicationAccepted || next == ApplicationRejected || next == ApplicationCancelled
	case ApplicationAccepted:
		return next == ApplicationCompleted
	default:
		return false
	}
}

// Application is a seeker's request to be matched to an Opportunity.
type Application struct {
	ID             string            `json:"id"`
	OpportunityID  string            `json:"opportunityId"`
	ApplicantID    string            `json:"applicantId"`
	ApplicantName  string            `json:"applicantName"`
	ApplicantImage *string           `json:"applicantImage,omitempty"`
	Status         ApplicationStatus `json:"status"`
	Message        *string           `json:"message,omitempty"`
	AppliedAt      time.Time         `json:"appliedAt"`
	AcceptedAt     *time.Time        `json:"acceptedAt,omitempty"`
	CompletedAt    *time.Time        `json:"completedAt,omitempty"`
}

// Active reports whether the application still counts against the
// one-active-application-per-pair rule.
func (a *Application) Active() bool {
	return a.Status != ApplicationCancelled
}
