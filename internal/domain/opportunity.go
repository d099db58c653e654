package domain

import (
	"time"
)

type OpportunityStatus string

const (
	OpportunityOpen       OpportunityStatus = "open"
	OpportunityInProgress OpportunityStatus = "inProgress"
	OpportunityCompleted  OpportunityStatus = "completed"
	OpportunityCancelled  OpportunityStatus = "cancelled"
)

func (s OpportunityStatus) IsValid() bool {
	switch s {
	case OpportunityOpen, OpportunityInProgress, OpportunityCompleted, OpportunityCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether the status machine allows moving to next.
// open -> inProgress (accept), inProgress -> completed (complete),
// open|inProgress -> cancelled.
func (s OpportunityStatus) CanTransition(next OpportunityStatus) bool {
	switch s {
	case OpportunityOpen:
		return next == OpportunityInProgress || next == OpportunityCancelled
	case OpportunityInProgress:
		return next == OpportunityCompleted || next == OpportunityCancelled
	default:
		return false
	}
}

// Opportunity is a posted job or volunteer listing. Documents live in the
// "opportunities" collection; field names are the wire contract.
type Opportunity struct {
	ID                  string            `json:"id"`
	Title               string            `json:"title"`
	Description         string            `json:"description"`
	PosterID            string            `json:"posterId"`
	Location            string            `json:"location"`
	IsVolunteer         bool              `json:"isVolunteer"`
	PayAmount           *float64          `json:"payAmount,omitempty"`
	Category            string            `json:"category"`
	IsActive            bool              `json:"isActive"`
	ApplicantCount      int               `json:"applicantCount"`
	Status              OpportunityStatus `json:"status"`
	AcceptedApplicantID *string           `json:"acceptedApplicantId,omitempty"`
	CreatedAt           time.Time         `json:"createdAt"`
}

type CreateOpportunityInput struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Location    string   `json:"location"`
	IsVolunteer bool     `json:"isVolunteer"`
	PayAmount   *float64 `json:"payAmount,omitempty"`
	Category    string   `json:"category"`
}
