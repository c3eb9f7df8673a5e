package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postpublisher/internal/service"
)

type PlatformHandler struct {
	ps service.PlatformService
}

func NewPlatformHandler(ps service.PlatformService) *PlatformHandler {
	return &PlatformHandler{ps: ps}
}

func (h *PlatformHandler) ListPlatforms(c *fiber.Ctx) error {
	platforms, err := h.ps.List(c.Context())
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(platforms)
}
