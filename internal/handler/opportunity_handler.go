package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"kerjabareng/internal/config"
	"kerjabareng/internal/domain"
	"kerjabareng/internal/middleware"
	"kerjabareng/internal/service/workflow"
)

type OpportunityHandler struct {
	workflowService workflow.Service
	cfg             *config.Config
}

func NewOpportunityHandler(workflowService workflow.Service, cfg *config.Config) *OpportunityHandler {
	return &OpportunityHandler{workflowService: workflowService, cfg: cfg}
}

func (h *OpportunityHandler) Create(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)

	var input domain.CreateOpportunityInput
	if err := c.BodyParser(&input); err != nil {
		return middleware.BadRequest("Invalid request body")
	}

	opp, err := h.workflowService.CreateOpportunity(c.Context(), user, input)
	if err != nil {
		return err
	}
	if opp == nil {
		return middleware.Forbidden("Only onboarded hirers can post opportunities")
	}

	return c.Status(fiber.StatusCreated).JSON(opp)
}

// List serves the opportunity feed straight from the shared cache. A
// freshly started process waits briefly for the first snapshot.
func (h *OpportunityHandler) List(c *fiber.Ctx) error {
	feed, err := h.workflowService.Feed(c.Context())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Context(), h.cfg.ReadyTimeout)
	defer cancel()
	_ = feed.WaitReady(ctx)

	items := feed.Items()
	if c.Query("active") == "true" {
		filtered := make([]domain.Opportunity, 0, len(items))
		for _, opp := range items {
			if opp.IsActive {
				filtered = append(filtered, opp)
			}
		}
		items = filtered
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": items})
}

func (h *OpportunityHandler) Get(c *fiber.Ctx) error {
	opp, err := h.workflowService.Opportunity(c.Context(), c.Params("opportunityId"))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(opp)
}

func (h *OpportunityHandler) Complete(c *fiber.Ctx) error {
	opportunityID := c.Params("opportunityId")
	if err := h.requirePoster(c, opportunityID); err != nil {
		return err
	}

	if err := h.workflowService.Complete(c.Context(), opportunityID); err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "accepted"})
}

func (h *OpportunityHandler) Cancel(c *fiber.Ctx) error {
	opportunityID := c.Params("opportunityId")
	if err := h.requirePoster(c, opportunityID); err != nil {
		return err
	}

	if err := h.workflowService.CancelOpportunity(c.Context(), opportunityID); err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "accepted"})
}

func (h *OpportunityHandler) requirePoster(c *fiber.Ctx, opportunityID string) error {
	opp, err := h.workflowService.Opportunity(c.Context(), opportunityID)
	if err != nil {
		return err
	}
	if opp.PosterID != middleware.GetCurrentUserID(c) {
		return middleware.Forbidden("Only the poster can manage this opportunity")
	}
	return nil
}
