package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/keyhaven/messaging-service/internal/clients"
	"github.com/keyhaven/messaging-service/internal/service"
	"github.com/keyhaven/messaging-service/internal/store"
)

func (s *Server) sendMessage(c *fiber.Ctx) error {
	var payload sendMessagePayload
	if err := c.BodyParser(&payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	userID := c.Locals("user_id").(string)

	dto, err := s.svc.SendMessage(c.Context(), userID, payload.normalize())
	if err != nil {
		return s.domainError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"status": "ok", "data": dto})
}

func (s *Server) listThreads(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)
	page := int64(c.QueryInt("page", 1))
	limit := int64(c.QueryInt("limit", 20))

	list, err := s.svc.ListThreads(c.Context(), userID, page, limit)
	if err != nil {
		return s.domainError(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok", "data": list})
}

func (s *Server) ensureThread(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)
	otherID := firstNonEmpty(c.Query("other_user_id"), c.Query("otherUserId"), c.Query("user_id"))
	propertyID := firstNonEmpty(c.Query("property_id"), c.Query("propertyId"), c.Query("listing_id"))

	dto, err := s.svc.EnsureThread(c.Context(), userID, otherID, propertyID)
	if err != nil {
		return s.domainError(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok", "data": dto})
}

func (s *Server) getThread(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)
	dto, err := s.svc.GetThread(c.Context(), c.Params("thread_id"), userID)
	if err != nil {
		return s.domainError(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok", "data": dto})
}

func (s *Server) getConversation(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)
	msgs, err := s.svc.GetConversation(c.Context(), c.Params("thread_id"), userID)
	if err != nil {
		return s.domainError(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok", "data": msgs})
}

func (s *Server) markThreadRead(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)
	if err := s.svc.MarkThreadRead(c.Context(), c.Params("thread_id"), userID); err != nil {
		return s.domainError(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) deleteMessage(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)
	if err := s.svc.DeleteMessage(c.Context(), c.Params("msg_id"), userID); err != nil {
		return s.domainError(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

// domainError maps the service taxonomy onto HTTP statuses. Anything outside
// it is a store/infrastructure failure and stays a generic 500.
func (s *Server) domainError(c *fiber.Ctx, err error) error {
	var re *service.RoutingError
	switch {
	case errors.As(err, &re):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error":  "messaging between these roles is not permitted",
			"reason": string(re.Reason),
		})
	case errors.Is(err, service.ErrValidation):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, service.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "not a participant of this thread"})
	case errors.Is(err, store.ErrThreadNotFound),
		errors.Is(err, store.ErrMessageNotFound),
		errors.Is(err, clients.ErrUserNotFound),
		errors.Is(err, clients.ErrPropertyNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}
	s.log.Errorw("request failed", "path", c.Path(), "err", err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
}
