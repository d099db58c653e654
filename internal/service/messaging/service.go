// Package messaging manages the two-level subscription fan-out
// (conversations per user, message thread per conversation), conversation
// de-duplication and per-participant unread counters.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"kerjabareng/internal/domain"
	"kerjabareng/internal/service/directory"
	"kerjabareng/internal/store"
	"kerjabareng/internal/sync"
)

const conversationsCollection = "conversations"

func messagesCollection(conversationID string) string {
	return conversationsCollection + "/" + conversationID + "/messages"
}

type Service interface {
	// Inbox opens (idempotently) the conversations watcher for a user,
	// filtered to conversations the user participates in, newest activity
	// first.
	Inbox(ctx context.Context, userID string) (*sync.Watcher[domain.Conversation], error)
	CloseInbox(userID string)

	// Thread opens (idempotently) the message watcher for one
	// conversation, ordered oldest first.
	Thread(ctx context.Context, conversationID string) (*sync.Watcher[domain.Message], error)
	CloseThread(conversationID string)

	EnsureConversation(ctx context.Context, opp *domain.Opportunity, app *domain.Application) (*domain.Conversation, error)
	Send(ctx context.Context, conversationID, senderID, text string) error
	MarkRead(ctx context.Context, conversationID, userID string) error

	Close()
}

type service struct {
	st      store.Store
	users   directory.Service
	logger  *zap.Logger
	inboxes *sync.Group[domain.Conversation]
	threads *sync.Group[domain.Message]
}

func NewService(st store.Store, users directory.Service, logger *zap.Logger) Service {
	return &service{
		st:      st,
		users:   users,
		logger:  logger,
		inboxes: sync.NewGroup[domain.Conversation](st, logger),
		threads: sync.NewGroup[domain.Message](st, logger),
	}
}

func decodeConversation() sync.Decoder[domain.Conversation] {
	return sync.JSONDecoder(func(c *domain.Conversation) error {
		if c.ID == "" || c.OpportunityID == "" {
			return errors.New("missing conversation identity")
		}
		if len(c.ParticipantIDs) != 2 {
			return fmt.Errorf("expected 2 participants, got %d", len(c.ParticipantIDs))
		}
		return nil
	})
}

func decodeMessage() sync.Decoder[domain.Message] {
	return sync.JSONDecoder(func(m *domain.Message) error {
		if m.ID == "" || m.SenderID == "" {
			return errors.New("missing message identity")
		}
		if m.SentAt.IsZero() {
			return errors.New("missing sentAt")
		}
		return nil
	})
}

func (s *service) Inbox(ctx context.Context, userID string) (*sync.Watcher[domain.Conversation], error) {
	q := store.Query{}.
		Where("participantIds", store.OpArrayContains, userID).
		OrderBy("lastMessageAt", true)
	return s.inboxes.Open(userID, conversationsCollection, q, decodeConversation())
}

func (s *service) CloseInbox(userID string) {
	s.inboxes.Release(userID)
}

func (s *service) Thread(ctx context.Context, conversationID string) (*sync.Watcher[domain.Message], error) {
	q := store.Query{}.OrderBy("sentAt", false)
	return s.threads.Open(conversationID, messagesCollection(conversationID), q, decodeMessage())
}

func (s *service) CloseThread(conversationID string) {
	s.threads.Release(conversationID)
}

// EnsureConversation returns the conversation for the
// (opportunity, poster, applicant) triple, creating it once. The local
// inbox cache is consulted first; a one-shot store query backs it up so
// a cold cache does not fork a duplicate thread.
func (s *service) EnsureConversation(ctx context.Context, opp *domain.Opportunity, app *domain.Application) (*domain.Conversation, error) {
	if inbox, ok := s.inboxes.Get(opp.PosterID); ok {
		for _, c := range inbox.Items() {
			if c.Matches(opp.ID, opp.PosterID, app.ApplicantID) {
				conv := c
				return &conv, nil
			}
		}
	}

	q := store.Query{}.
		Where("opportunityId", store.OpEqual, opp.ID).
		Where("posterId", store.OpEqual, opp.PosterID).
		Where("applicantId", store.OpEqual, app.ApplicantID)
	docs, err := s.st.Query(ctx, conversationsCollection, q)
	if err != nil {
		return nil, fmt.Errorf("look up conversation: %w", err)
	}
	if len(docs) > 0 {
		var conv domain.Conversation
		if err := docs[0].DataTo(&conv); err != nil {
			return nil, err
		}
		return &conv, nil
	}

	poster, err := s.users.Get(ctx, opp.PosterID)
	if err != nil {
		return nil, fmt.Errorf("resolve poster: %w", err)
	}

	now := time.Now().UTC()
	conv := &domain.Conversation{
		ID:             uuid.NewString(),
		OpportunityID:  opp.ID,
		PosterID:       opp.PosterID,
		PosterName:     poster.Name,
		PosterImage:    poster.ProfileImage,
		ApplicantID:    app.ApplicantID,
		ApplicantName:  app.ApplicantName,
		ApplicantImage: app.ApplicantImage,
		ParticipantIDs: []string{opp.PosterID, app.ApplicantID},
		LastMessage:    "",
		LastMessageAt:  now,
		UnreadCounts:   map[string]int{opp.PosterID: 0, app.ApplicantID: 0},
		CreatedAt:      now,
	}
	if err := s.st.Set(ctx, conversationsCollection+"/"+conv.ID, conv); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	s.logger.Info("conversation created",
		zap.String("conversation_id", conv.ID),
		zap.String("opportunity_id", opp.ID),
	)
	return conv, nil
}

// Send appends the message, then updates the parent's last-message fields
// and bumps the other participant's unread counter. The three writes are
// independent; a failure after the append is logged and left for the next
// snapshot to expose, never rolled back.
func (s *service) Send(ctx context.Context, conversationID, senderID, text string) error {
	conv, err := s.conversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(senderID) {
		s.logger.Warn("send from non-participant ignored",
			zap.String("conversation_id", conversationID),
			zap.String("sender_id", senderID),
		)
		return nil
	}

	senderName := conv.PosterName
	if senderID == conv.ApplicantID {
		senderName = conv.ApplicantName
	}

	msg := &domain.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		SenderName:     senderName,
		Text:           text,
		SentAt:         time.Now().UTC(),
	}
	path := messagesCollection(conversationID) + "/" + msg.ID
	if err := s.st.Set(ctx, path, msg); err != nil {
		return fmt.Errorf("append message: %w", err)
	}

	convPath := conversationsCollection + "/" + conversationID
	if err := s.st.Update(ctx, convPath, map[string]any{
		"lastMessage":   msg.Text,
		"lastMessageAt": msg.SentAt,
	}); err != nil {
		s.logger.Error("update conversation last message failed",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
	}

	recipient := conv.OtherParticipant(senderID)
	if err := s.st.Increment(ctx, convPath, "unreadCounts."+recipient, 1); err != nil {
		s.logger.Error("increment unread counter failed",
			zap.String("conversation_id", conversationID),
			zap.String("recipient_id", recipient),
			zap.Error(err),
		)
	}
	return nil
}

// MarkRead zeroes the caller's unread counter, whatever it was.
func (s *service) MarkRead(ctx context.Context, conversationID, userID string) error {
	conv, err := s.conversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(userID) {
		s.logger.Warn("mark-read from non-participant ignored",
			zap.String("conversation_id", conversationID),
			zap.String("user_id", userID),
		)
		return nil
	}
	return s.st.Update(ctx, conversationsCollection+"/"+conversationID, map[string]any{
		"unreadCounts." + userID: 0,
	})
}

func (s *service) conversation(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	doc, err := s.st.Get(ctx, conversationsCollection+"/"+conversationID)
	if err != nil {
		return nil, err
	}
	var conv domain.Conversation
	if err := doc.DataTo(&conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (s *service) Close() {
	s.threads.ReleaseAll()
	s.inboxes.ReleaseAll()
}
