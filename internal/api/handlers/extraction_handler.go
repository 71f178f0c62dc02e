package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/bidboard/backend/internal/auth"
	"github.com/bidboard/backend/internal/extraction"
	"github.com/bidboard/backend/pkg/logger"
)

type ExtractionHandler struct {
	service  *extraction.Service
	verifier *auth.Verifier
}

func NewExtractionHandler(service *extraction.Service, verifier *auth.Verifier) *ExtractionHandler {
	return &ExtractionHandler{
		service:  service,
		verifier: verifier,
	}
}

// Extract triggers the extraction pipeline for one of the caller's uploads.
func (h *ExtractionHandler) Extract(c *fiber.Ctx) error {
	identity, err := h.verifier.Resolve(c.Cookies(sessionCookie))
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}

	uploadID := c.Params("id")

	output, err := h.service.Extract(c.Context(), identity, uploadID)
	if err != nil {
		return h.extractionError(c, uploadID, err)
	}

	return c.JSON(output)
}

func (h *ExtractionHandler) extractionError(c *fiber.Ctx, uploadID string, err error) error {
	switch {
	case errors.Is(err, extraction.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Upload not found",
		})
	case errors.Is(err, extraction.ErrTooLarge):
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
			"error": "File exceeds the maximum size for extraction",
		})
	case errors.Is(err, extraction.ErrUnsupportedType):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unsupported file type",
		})
	case errors.Is(err, extraction.ErrRateLimited):
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error": "Extraction rate limit exceeded. Please try again later.",
		})
	case errors.Is(err, extraction.ErrTimeout):
		return c.Status(fiber.StatusGatewayTimeout).JSON(fiber.Map{
			"error": "Extraction timed out",
		})
	default:
		logger.Error("Extraction failed",
			zap.Error(err),
			zap.String("upload_id", uploadID),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Extraction failed",
		})
	}
}
