package domain

import (
	"time"
)

// Message lives in the conversations/<id>/messages sub-collection,
// ordered by sentAt ascending.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	SenderName     string    `json:"senderName"`
	Text           string    `json:"text"`
	SentAt         time.Time `json:"sentAt"`
}
