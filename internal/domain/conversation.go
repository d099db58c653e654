package domain

import (
	"time"
)

// Conversation is a two-participant thread created when an application is
// accepted. UnreadCounts is keyed by participant id.
type Conversation struct {
	ID             string         `json:"id"`
	OpportunityID  string         `json:"opportunityId"`
	PosterID       string         `json:"posterId"`
	PosterName     string         `json:"posterName"`
	PosterImage    *string        `json:"posterImage,omitempty"`
	ApplicantID    string         `json:"applicantId"`
	ApplicantName  string         `json:"applicantName"`
	ApplicantImage *string        `json:"applicantImage,omitempty"`
	ParticipantIDs []string       `json:"participantIds"`
	LastMessage    string         `json:"lastMessage"`
	LastMessageAt  time.Time      `json:"lastMessageAt"`
	UnreadCounts   map[string]int `json:"unreadCounts"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// HasParticipant reports whether userID is one of the two participants.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, id := range c.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// OtherParticipant returns the participant that is not userID. Empty when
// userID is not a participant.
func (c *Conversation) OtherParticipant(userID string) string {
	if userID == c.PosterID {
		return c.ApplicantID
	}
	if userID == c.ApplicantID {
		return c.PosterID
	}
	return ""
}

// Matches reports whether the conversation belongs to the
// (opportunity, poster, applicant) triple used for de-duplication.
func (c *Conversation) Matches(opportunityID, posterID, applicantID string) bool {
	return c.OpportunityID == opportunityID && c.PosterID == posterID && c.ApplicantID == applicantID
}
