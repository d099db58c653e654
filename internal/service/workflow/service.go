// Package workflow owns the application lifecycle and the opportunity
// status machine, including the multi-document side effects of
// accept/complete/cancel. Invalid transitions are silent no-ops for the
// caller; every one emits a structured diagnostic.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"kerjabareng/internal/domain"
	"kerjabareng/internal/service/messaging"
	"kerjabareng/internal/store"
	"kerjabareng/internal/sync"
)

const (
	opportunitiesCollection = "opportunities"
	applicationsCollection  = "applications"
)

type Service interface {
	CreateOpportunity(ctx context.Context, poster *domain.User, input domain.CreateOpportunityInput) (*domain.Opportunity, error)

	// Feed is the shared cache of all opportunities, newest first.
	Feed(ctx context.Context) (*sync.Watcher[domain.Opportunity], error)
	// OpportunityApplications caches the applications of one opportunity.
	OpportunityApplications(ctx context.Context, opportunityID string) (*sync.Watcher[domain.Application], error)
	// UserApplications caches everything one applicant has applied to.
	UserApplications(ctx context.Context, applicantID string) (*sync.Watcher[domain.Application], error)

	// Opportunity and Application are authoritative one-shot reads used
	// for caller-side pre-checks.
	Opportunity(ctx context.Context, id string) (*domain.Opportunity, error)
	Application(ctx context.Context, id string) (*domain.Application, error)

	HasApplied(ctx context.Context, opportunityID, applicantID string) (bool, error)
	Apply(ctx context.Context, opportunityID string, applicant *domain.User, message *string) (*domain.Application, error)
	Accept(ctx context.Context, applicationID string) (*domain.Conversation, error)
	Complete(ctx context.Context, opportunityID string) error
	CancelApplication(ctx context.Context, applicationID string) error
	CancelOpportunity(ctx context.Context, opportunityID string) error

	// ClearCollection is the developer/testing bulk wipe.
	ClearCollection(ctx context.Context, collection string) error

	Close()
}

type service struct {
	st        store.Store
	messages  messaging.Service
	logger    *zap.Logger
	feeds     *sync.Group[domain.Opportunity]
	appCaches *sync.Group[domain.Application]
}

func NewService(st store.Store, messages messaging.Service, logger *zap.Logger) Service {
	return &service{
		st:        st,
		messages:  messages,
		logger:    logger,
		feeds:     sync.NewGroup[domain.Opportunity](st, logger),
		appCaches: sync.NewGroup[domain.Application](st, logger),
	}
}

func decodeOpportunity() sync.Decoder[domain.Opportunity] {
	return sync.JSONDecoder(func(o *domain.Opportunity) error {
		if o.ID == "" || o.PosterID == "" || o.Title == "" {
			return errors.New("missing opportunity identity")
		}
		if !o.Status.IsValid() {
			return fmt.Errorf("unknown opportunity status %q", o.Status)
		}
		return nil
	})
}

func decodeApplication() sync.Decoder[domain.Application] {
	return sync.JSONDecoder(func(a *domain.Application) error {
		if a.ID == "" || a.OpportunityID == "" || a.ApplicantID == "" {
			return errors.New("missing application identity")
		}
		if !a.Status.IsValid() {
			return fmt.Errorf("unknown application status %q", a.Status)
		}
		return nil
	})
}

func (s *service) CreateOpportunity(ctx context.Context, poster *domain.User, input domain.CreateOpportunityInput) (*domain.Opportunity, error) {
	if poster == nil || !poster.CanPost() {
		s.logger.Warn("opportunity creation rejected", zap.String("reason", "poster not allowed"))
		return nil, nil
	}
	if input.Title == "" || input.Description == "" {
		return nil, errors.New("title and description are required")
	}

	opp := &domain.Opportunity{
		ID:          uuid.NewString(),
		Title:       input.Title,
		Description: input.Description,
		PosterID:    poster.ID,
		Location:    input.Location,
		IsVolunteer: input.IsVolunteer,
		PayAmount:   input.PayAmount,
		Category:    input.Category,
		IsActive:    true,
		Status:      domain.OpportunityOpen,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.st.Set(ctx, opportunitiesCollection+"/"+opp.ID, opp); err != nil {
		return nil, fmt.Errorf("create opportunity: %w", err)
	}

	s.logger.Info("opportunity created",
		zap.String("opportunity_id", opp.ID),
		zap.String("poster_id", poster.ID),
	)
	return opp, nil
}

func (s *service) Feed(ctx context.Context) (*sync.Watcher[domain.Opportunity], error) {
	q := store.Query{}.OrderBy("createdAt", true)
	return s.feeds.Open("feed", opportunitiesCollection, q, decodeOpportunity())
}

func (s *service) OpportunityApplications(ctx context.Context, opportunityID string) (*sync.Watcher[domain.Application], error) {
	q := store.Query{}.
		Where("opportunityId", store.OpEqual, opportunityID).
		OrderBy("appliedAt", false)
	return s.appCaches.Open("opportunity:"+opportunityID, applicationsCollection, q, decodeApplication())
}

func (s *service) UserApplications(ctx context.Context, applicantID string) (*sync.Watcher[domain.Application], error) {
	q := store.Query{}.
		Where("applicantId", store.OpEqual, applicantID).
		OrderBy("appliedAt", true)
	return s.appCaches.Open("applicant:"+applicantID, applicationsCollection, q, decodeApplication())
}

func (s *service) Opportunity(ctx context.Context, id string) (*domain.Opportunity, error) {
	doc, err := s.st.Get(ctx, opportunitiesCollection+"/"+id)
	if err != nil {
		return nil, err
	}
	var opp domain.Opportunity
	if err := doc.DataTo(&opp); err != nil {
		return nil, err
	}
	return &opp, nil
}

func (s *service) Application(ctx context.Context, id string) (*domain.Application, error) {
	doc, err := s.st.Get(ctx, applicationsCollection+"/"+id)
	if err != nil {
		return nil, err
	}
	var app domain.Application
	if err := doc.DataTo(&app); err != nil {
		return nil, err
	}
	return &app, nil
}

// HasApplied reports whether a non-cancelled application exists for the
// pair. Callers use it as the pre-check the engine's silent no-ops
// depend on.
func (s *service) HasApplied(ctx context.Context, opportunityID, applicantID string) (bool, error) {
	existing, err := s.activeApplication(ctx, opportunityID, applicantID)
	if err != nil {
		return false, err
	}
	return existing != nil, nil
}

// Apply creates a pending application unless an active one already exists
// for the (opportunity, applicant) pair, in which case the existing one
// is returned untouched. The applicant-count increment runs detached;
// its effect lands with a later snapshot.
func (s *service) Apply(ctx context.Context, opportunityID string, applicant *domain.User, message *string) (*domain.Application, error) {
	if applicant == nil || !applicant.CanApply() {
		s.logger.Warn("apply rejected",
			zap.String("opportunity_id", opportunityID),
			zap.String("reason", "applicant not allowed"),
		)
		return nil, nil
	}

	existing, err := s.activeApplication(ctx, opportunityID, applicant.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.logger.Info("duplicate apply ignored",
			zap.String("opportunity_id", opportunityID),
			zap.String("applicant_id", applicant.ID),
			zap.String("application_id", existing.ID),
		)
		return existing, nil
	}

	app := &domain.Application{
		ID:             uuid.NewString(),
		OpportunityID:  opportunityID,
		ApplicantID:    applicant.ID,
		ApplicantName:  applicant.Name,
		ApplicantImage: applicant.ProfileImage,
		Status:         domain.ApplicationPending,
		Message:        message,
		AppliedAt:      time.Now().UTC(),
	}
	if err := s.st.Set(ctx, applicationsCollection+"/"+app.ID, app); err != nil {
		return nil, fmt.Errorf("create application: %w", err)
	}

	go s.bumpApplicantCount(opportunityID)

	s.logger.Info("application created",
		zap.String("application_id", app.ID),
		zap.String("opportunity_id", opportunityID),
		zap.String("applicant_id", applicant.ID),
	)
	return app, nil
}

func (s *service) bumpApplicantCount(opportunityID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.st.Increment(ctx, opportunitiesCollection+"/"+opportunityID, "applicantCount", 1); err != nil {
		s.logger.Error("applicant count increment failed",
			zap.String("opportunity_id", opportunityID),
			zap.Error(err),
		)
	}
}

// Accept performs the whole accept unit inside one store transaction:
// application -> accepted, opportunity -> inProgress, every other pending
// application -> rejected. The precondition (application pending AND
// opportunity open) makes concurrent accepts on the same opportunity
// resolve to exactly one winner. Conversation creation happens after
// commit and is not rolled back into the transaction on failure.
func (s *service) Accept(ctx context.Context, applicationID string) (*domain.Conversation, error) {
	var app domain.Application
	var opp domain.Opportunity

	err := s.st.RunTransaction(ctx, func(tx store.Tx) error {
		appDoc, err := tx.Get(applicationsCollection + "/" + applicationID)
		if err != nil {
			return err
		}
		if err := appDoc.DataTo(&app); err != nil {
			return err
		}
		if !app.Status.CanTransition(domain.ApplicationAccepted) {
			s.logger.Warn("accept ignored",
				zap.String("application_id", applicationID),
				zap.String("status", string(app.Status)),
			)
			return store.ErrPrecondition
		}

		oppDoc, err := tx.Get(opportunitiesCollection + "/" + app.OpportunityID)
		if err != nil {
			return err
		}
		if err := oppDoc.DataTo(&opp); err != nil {
			return err
		}
		if !opp.Status.CanTransition(domain.OpportunityInProgress) {
			s.logger.Warn("accept ignored",
				zap.String("application_id", applicationID),
				zap.String("opportunity_id", opp.ID),
				zap.String("opportunity_status", string(opp.Status)),
			)
			return store.ErrPrecondition
		}

		now := time.Now().UTC()
		app.Status = domain.ApplicationAccepted
		app.AcceptedAt = &now
		if err := tx.Set(applicationsCollection+"/"+app.ID, &app); err != nil {
			return err
		}

		if err := tx.Update(opportunitiesCollection+"/"+opp.ID, map[string]any{
			"status":              domain.OpportunityInProgress,
			"acceptedApplicantId": app.ApplicantID,
			"isActive":            false,
		}); err != nil {
			return err
		}

		siblings, err := tx.Query(applicationsCollection,
			store.Query{}.Where("opportunityId", store.OpEqual, opp.ID))
		if err != nil {
			return err
		}
		for _, doc := range siblings {
			var other domain.Application
			if err := doc.DataTo(&other); err != nil {
				continue
			}
			if other.ID == app.ID || other.Status != domain.ApplicationPending {
				continue
			}
			if err := tx.Update(applicationsCollection+"/"+other.ID, map[string]any{
				"status": domain.ApplicationRejected,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, store.ErrPrecondition) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("accept application %s: %w", applicationID, err)
	}

	opp.Status = domain.OpportunityInProgress
	opp.AcceptedApplicantID = &app.ApplicantID
	opp.IsActive = false

	conv, err := s.messages.EnsureConversation(ctx, &opp, &app)
	if err != nil {
		// The accept itself is committed; the thread can still be created
		// by a retry of the conversation path.
		s.logger.Error("conversation creation after accept failed",
			zap.String("application_id", app.ID),
			zap.String("opportunity_id", opp.ID),
			zap.Error(err),
		)
		return nil, nil
	}

	s.logger.Info("application accepted",
		zap.String("application_id", app.ID),
		zap.String("opportunity_id", opp.ID),
		zap.String("conversation_id", conv.ID),
	)
	return conv, nil
}

// Complete moves an in-progress opportunity and its accepted application
// to completed.
func (s *service) Complete(ctx context.Context, opportunityID string) error {
	err := s.st.RunTransaction(ctx, func(tx store.Tx) error {
		oppDoc, err := tx.Get(opportunitiesCollection + "/" + opportunityID)
		if err != nil {
			return err
		}
		var opp domain.Opportunity
		if err := oppDoc.DataTo(&opp); err != nil {
			return err
		}
		if !opp.Status.CanTransition(domain.OpportunityCompleted) {
			s.logger.Warn("complete ignored",
				zap.String("opportunity_id", opportunityID),
				zap.String("status", string(opp.Status)),
			)
			return store.ErrPrecondition
		}

		if err := tx.Update(opportunitiesCollection+"/"+opportunityID, map[string]any{
			"status":   domain.OpportunityCompleted,
			"isActive": false,
		}); err != nil {
			return err
		}

		accepted, err := tx.Query(applicationsCollection, store.Query{}.
			Where("opportunityId", store.OpEqual, opportunityID).
			Where("status", store.OpEqual, domain.ApplicationAccepted))
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		for _, doc := range accepted {
			if err := tx.Update(applicationsCollection+"/"+doc.ID, map[string]any{
				"status":      domain.ApplicationCompleted,
				"completedAt": now,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, store.ErrPrecondition) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("complete opportunity %s: %w", opportunityID, err)
	}
	return nil
}

// CancelApplication sets a pending application to cancelled. The
// opportunity's applicantCount is deliberately left alone: it only ever
// increments and is an upper bound, not an exact count.
func (s *service) CancelApplication(ctx context.Context, applicationID string) error {
	err := s.st.RunTransaction(ctx, func(tx store.Tx) error {
		appDoc, err := tx.Get(applicationsCollection + "/" + applicationID)
		if err != nil {
			return err
		}
		var app domain.Application
		if err := appDoc.DataTo(&app); err != nil {
			return err
		}
		if !app.Status.CanTransition(domain.ApplicationCancelled) {
			s.logger.Warn("cancel ignored",
				zap.String("application_id", applicationID),
				zap.String("status", string(app.Status)),
			)
			return store.ErrPrecondition
		}
		return tx.Update(applicationsCollection+"/"+applicationID, map[string]any{
			"status": domain.ApplicationCancelled,
		})
	})
	if errors.Is(err, store.ErrPrecondition) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("cancel application %s: %w", applicationID, err)
	}
	return nil
}

// CancelOpportunity withdraws an open or in-progress opportunity.
func (s *service) CancelOpportunity(ctx context.Context, opportunityID string) error {
	err := s.st.RunTransaction(ctx, func(tx store.Tx) error {
		oppDoc, err := tx.Get(opportunitiesCollection + "/" + opportunityID)
		if err != nil {
			return err
		}
		var opp domain.Opportunity
		if err := oppDoc.DataTo(&opp); err != nil {
			return err
		}
		if !opp.Status.CanTransition(domain.OpportunityCancelled) {
			s.logger.Warn("cancel ignored",
				zap.String("opportunity_id", opportunityID),
				zap.String("status", string(opp.Status)),
			)
			return store.ErrPrecondition
		}
		return tx.Update(opportunitiesCollection+"/"+opportunityID, map[string]any{
			"status":   domain.OpportunityCancelled,
			"isActive": false,
		})
	})
	if errors.Is(err, store.ErrPrecondition) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("cancel opportunity %s: %w", opportunityID, err)
	}
	return nil
}

var clearable = map[string]bool{
	opportunitiesCollection: true,
	applicationsCollection:  true,
	"conversations":         true,
}

func (s *service) ClearCollection(ctx context.Context, collection string) error {
	if !clearable[collection] {
		return fmt.Errorf("collection %q cannot be cleared", collection)
	}
	s.logger.Warn("clearing collection", zap.String("collection", collection))
	return s.st.DeleteCollection(ctx, collection)
}

func (s *service) activeApplication(ctx context.Context, opportunityID, applicantID string) (*domain.Application, error) {
	docs, err := s.st.Query(ctx, applicationsCollection, store.Query{}.
		Where("opportunityId", store.OpEqual, opportunityID).
		Where("applicantId", store.OpEqual, applicantID))
	if err != nil {
		return nil, fmt.Errorf("look up applications: %w", err)
	}
	for _, doc := range docs {
		var app domain.Application
		if err := doc.DataTo(&app); err != nil {
			continue
		}
		if app.Active() {
			return &app, nil
		}
	}
	return nil, nil
}

func (s *service) Close() {
	s.appCaches.ReleaseAll()
	s.feeds.ReleaseAll()
}
