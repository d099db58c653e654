package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"kerjabareng/internal/domain"
	"kerjabareng/internal/middleware"
	"kerjabareng/internal/service/directory"
	"kerjabareng/internal/service/media"
)

type UserHandler struct {
	directoryService directory.Service
	mediaService     media.Service
}

func NewUserHandler(directoryService directory.Service, mediaService media.Service) *UserHandler {
	return &UserHandler{directoryService: directoryService, mediaService: mediaService}
}

func (h *UserHandler) GetProfile(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return middleware.NotFound("Profile not created yet")
	}
	return c.Status(fiber.StatusOK).JSON(user)
}

// CreateProfile registers the caller's directory record. The id always
// comes from the token, never the payload.
func (h *UserHandler) CreateProfile(c *fiber.Ctx) error {
	var user domain.User
	if err := c.BodyParser(&user); err != nil {
		return middleware.BadRequest("Invalid request body")
	}
	user.ID = middleware.GetCurrentUserID(c)
	if !user.Role.IsValid() {
		return middleware.BadRequest("Role must be seeker or hirer")
	}

	if err := h.directoryService.Put(c.Context(), &user); err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(user)
}

// UpdateProfile patches the caller's directory record, last write wins.
func (h *UserHandler) UpdateProfile(c *fiber.Ctx) error {
	userID := middleware.GetCurrentUserID(c)

	var input domain.UpdateUserInput
	if err := c.BodyParser(&input); err != nil {
		return middleware.BadRequest("Invalid request body")
	}

	user, err := h.directoryService.Update(c.Context(), userID, input)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(user)
}

// UploadAvatar stores the image and points the profile at its reference.
func (h *UserHandler) UploadAvatar(c *fiber.Ctx) error {
	userID := middleware.GetCurrentUserID(c)

	file, err := c.FormFile("image")
	if err != nil {
		return middleware.BadRequest("Missing image file")
	}

	src, err := file.Open()
	if err != nil {
		return middleware.BadRequest("Cannot read image file")
	}
	defer src.Close()

	ref, err := h.mediaService.UploadImage(c.Context(), src, file.Header.Get("Content-Type"))
	if err != nil {
		return err
	}

	refPtr := &ref
	user, err := h.directoryService.Update(c.Context(), userID, domain.UpdateUserInput{
		ProfileImage: &refPtr,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(user)
}

// GetUser resolves another participant's display data.
func (h *UserHandler) GetUser(c *fiber.Ctx) error {
	user, err := h.directoryService.Get(c.Context(), c.Params("userId"))
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return middleware.NotFound("User not found")
		}
		return err
	}
	return c.Status(fiber.StatusOK).JSON(user)
}
