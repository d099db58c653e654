package handler

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"kerjabareng/internal/config"
	"kerjabareng/internal/middleware"
	"kerjabareng/internal/service/messaging"
)

type ConversationHandler struct {
	messagingService messaging.Service
	cfg              *config.Config
}

func NewConversationHandler(messagingService messaging.Service, cfg *config.Config) *ConversationHandler {
	return &ConversationHandler{messagingService: messagingService, cfg: cfg}
}

// List serves the caller's inbox from its live cache, most recent
// activity first.
func (h *ConversationHandler) List(c *fiber.Ctx) error {
	inbox, err := h.messagingService.Inbox(c.Context(), middleware.GetCurrentUserID(c))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Context(), h.cfg.ReadyTimeout)
	defer cancel()
	_ = inbox.WaitReady(ctx)

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": inbox.Items()})
}

// Messages opens (idempotently) the conversation's message thread and
// serves it oldest first.
func (h *ConversationHandler) Messages(c *fiber.Ctx) error {
	conversationID := c.Params("conversationId")

	thread, err := h.messagingService.Thread(c.Context(), conversationID)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Context(), h.cfg.ReadyTimeout)
	defer cancel()
	_ = thread.WaitReady(ctx)

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": thread.Items()})
}

type sendInput struct {
	Text string `json:"text"`
}

func (h *ConversationHandler) Send(c *fiber.Ctx) error {
	conversationID := c.Params("conversationId")

	var input sendInput
	if err := c.BodyParser(&input); err != nil {
		return middleware.BadRequest("Invalid request body")
	}
	if strings.TrimSpace(input.Text) == "" {
		return middleware.BadRequest("Message text is required")
	}

	if err := h.messagingService.Send(c.Context(), conversationID, middleware.GetCurrentUserID(c), input.Text); err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "accepted"})
}

func (h *ConversationHandler) MarkRead(c *fiber.Ctx) error {
	conversationID := c.Params("conversationId")

	if err := h.messagingService.MarkRead(c.Context(), conversationID, middleware.GetCurrentUserID(c)); err != nil {
		return err
	}
	return c.Status(fiber.StatusNoContent).SendString("")
}
