package handler

import (
	"github.com/gofiber/fiber/v2"

	"kerjabareng/internal/service/workflow"
)

// DevHandler exposes the bulk-clear developer surface. Its routes are
// only mounted outside production.
type DevHandler struct {
	workflowService workflow.Service
}

func NewDevHandler(workflowService workflow.Service) *DevHandler {
	return &DevHandler{workflowService: workflowService}
}

func (h *DevHandler) ClearCollection(c *fiber.Ctx) error {
	if err := h.workflowService.ClearCollection(c.Context(), c.Params("collection")); err != nil {
		return err
	}
	return c.Status(fiber.StatusNoContent).SendString("")
}
