package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"kerjabareng/internal/config"
	"kerjabareng/internal/middleware"
	"kerjabareng/internal/service/workflow"
)

type ApplicationHandler struct {
	workflowService workflow.Service
	cfg             *config.Config
}

func NewApplicationHandler(workflowService workflow.Service, cfg *config.Config) *ApplicationHandler {
	return &ApplicationHandler{workflowService: workflowService, cfg: cfg}
}

type applyInput struct {
	Message *string `json:"message,omitempty"`
}

func (h *ApplicationHandler) Apply(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	opportunityID := c.Params("opportunityId")

	var input applyInput
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&input); err != nil {
			return middleware.BadRequest("Invalid request body")
		}
	}

	app, err := h.workflowService.Apply(c.Context(), opportunityID, user, input.Message)
	if err != nil {
		return err
	}
	if app == nil {
		return middleware.Forbidden("Only onboarded seekers can apply")
	}

	return c.Status(fiber.StatusCreated).JSON(app)
}

// ListForOpportunity serves the poster's view of an opportunity's
// applications from the per-opportunity cache.
func (h *ApplicationHandler) ListForOpportunity(c *fiber.Ctx) error {
	opportunityID := c.Params("opportunityId")

	opp, err := h.workflowService.Opportunity(c.Context(), opportunityID)
	if err != nil {
		return err
	}
	if opp.PosterID != middleware.GetCurrentUserID(c) {
		return middleware.Forbidden("Only the poster can view applications")
	}

	cache, err := h.workflowService.OpportunityApplications(c.Context(), opportunityID)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Context(), h.cfg.ReadyTimeout)
	defer cancel()
	_ = cache.WaitReady(ctx)

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": cache.Items()})
}

// ListMine serves the caller's own applications.
func (h *ApplicationHandler) ListMine(c *fiber.Ctx) error {
	cache, err := h.workflowService.UserApplications(c.Context(), middleware.GetCurrentUserID(c))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Context(), h.cfg.ReadyTimeout)
	defer cancel()
	_ = cache.WaitReady(ctx)

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": cache.Items()})
}

func (h *ApplicationHandler) Accept(c *fiber.Ctx) error {
	applicationID := c.Params("applicationId")

	app, err := h.workflowService.Application(c.Context(), applicationID)
	if err != nil {
		return err
	}
	opp, err := h.workflowService.Opportunity(c.Context(), app.OpportunityID)
	if err != nil {
		return err
	}
	if opp.PosterID != middleware.GetCurrentUserID(c) {
		return middleware.Forbidden("Only the poster can accept applications")
	}

	conv, err := h.workflowService.Accept(c.Context(), applicationID)
	if err != nil {
		return err
	}
	if conv == nil {
		// Transition did not apply; the caller sees the state via the
		// next snapshot, not an error.
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "accepted"})
	}

	return c.Status(fiber.StatusOK).JSON(conv)
}

func (h *ApplicationHandler) Cancel(c *fiber.Ctx) error {
	applicationID := c.Params("applicationId")

	app, err := h.workflowService.Application(c.Context(), applicationID)
	if err != nil {
		return err
	}
	if app.ApplicantID != middleware.GetCurrentUserID(c) {
		return middleware.Forbidden("Only the applicant can cancel an application")
	}

	if err := h.workflowService.CancelApplication(c.Context(), applicationID); err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "accepted"})
}
