package server

import (
	"lfgkeeper/internal/lifecycle"
	"lfgkeeper/internal/middleware"
	"lfgkeeper/internal/models"
	"lfgkeeper/internal/service"

	"github.com/gofiber/fiber/v2"
)

type createRequestBody struct {
	Scope    string            `json:"scope"`
	Category models.Category   `json:"category"`
	Domain   string            `json:"domain"`
	Payload  map[string]string `json:"payload"`
}

type transitionBody struct {
	Action string `json:"action"`
	Reason string `json:"reason"`
}

// CreateRequest admits and stores a new request for the caller.
func (s *Server) CreateRequest(c *fiber.Ctx) error {
	var body createRequestBody
	if err := parseBody(c, &body); err != nil {
		return respondError(c, err)
	}

	req, err := s.requests.CreateRequest(c.UserContext(), service.CreateRequestInput{
		ActorID:  middleware.ActorID(c),
		Scope:    body.Scope,
		Category: body.Category,
		Domain:   body.Domain,
		Payload:  body.Payload,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(req)
}

// GetRequest returns one request.
func (s *Server) GetRequest(c *fiber.Ctx) error {
	id, err := requestID(c)
	if err != nil {
		return respondError(c, err)
	}
	req, err := s.requests.Get(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	if req.ActorID != middleware.ActorID(c) && !middleware.IsModerator(c) {
		return respondError(c, models.NewNotFoundError("Request", id))
	}
	return c.JSON(req)
}

// ListRequests lists requests. Non-moderators only see their own.
func (s *Server) ListRequests(c *fiber.Ctx) error {
	page := parsePagination(c, 20)
	in := service.ListRequestsInput{
		Scope:   c.Query("scope"),
		ActorID: c.Query("actor"),
		Status:  models.RequestStatus(c.Query("status")),
		Limit:   page.Limit,
		Offset:  page.Offset,
	}
	if !middleware.IsModerator(c) {
		in.ActorID = middleware.ActorID(c)
	}

	items, total, err := s.requests.List(c.UserContext(), in)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"items":  items,
		"total":  total,
		"limit":  page.Limit,
		"offset": page.Offset,
	})
}

// TransitionRequest applies a moderator action.
func (s *Server) TransitionRequest(c *fiber.Ctx) error {
	id, err := requestID(c)
	if err != nil {
		return respondError(c, err)
	}
	var body transitionBody
	if err := parseBody(c, &body); err != nil {
		return respondError(c, err)
	}

	req, err := s.requests.Transition(c.UserContext(), id, lifecycle.Action(body.Action), middleware.ActorID(c), body.Reason)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(req)
}

// CancelRequest withdraws the caller's own request.
func (s *Server) CancelRequest(c *fiber.Ctx) error {
	id, err := requestID(c)
	if err != nil {
		return respondError(c, err)
	}
	req, err := s.requests.Cancel(c.UserContext(), id, middleware.ActorID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(req)
}

// ResendRequest re-posts the artifact the request currently needs.
func (s *Server) ResendRequest(c *fiber.Ctx) error {
	id, err := requestID(c)
	if err != nil {
		return respondError(c, err)
	}
	req, err := s.requests.Resend(c.UserContext(), id, middleware.ActorID(c), middleware.IsModerator(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(req)
}
