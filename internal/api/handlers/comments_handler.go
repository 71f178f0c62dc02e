package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/bidboard/backend/internal/access"
	"github.com/bidboard/backend/internal/auth"
	"github.com/bidboard/backend/internal/collab"
)

// CommentsHandler serves the merged comment history over plain HTTP for the
// initial page render; the live channel replays the same history on connect.
type CommentsHandler struct {
	store    collab.Store
	verifier *auth.Verifier
	checker  *access.Checker
}

func NewCommentsHandler(store collab.Store, verifier *auth.Verifier, checker *access.Checker) *CommentsHandler {
	return &CommentsHandler{
		store:    store,
		verifier: verifier,
		checker:  checker,
	}
}

func (h *CommentsHandler) ListComments(c *fiber.Ctx) error {
	identity, err := h.verifier.Resolve(c.Cookies(sessionCookie))
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}

	response, err := h.checker.Response(identity, c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "You do not have access to this response",
		})
	}

	return c.JSON(fiber.Map{
		"comments": collab.History(h.store, response),
	})
}
