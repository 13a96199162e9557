package server

import (
	"strings"
	"time"

	"lfgkeeper/internal/cleanup"
	"lfgkeeper/internal/models"
	"lfgkeeper/internal/notifications"

	"github.com/gofiber/fiber/v2"
)

type cleanupBody struct {
	Phases []string `json:"phases"`
	Scope  string   `json:"scope"`
	DryRun bool     `json:"dry_run"`
}

// RunCleanup runs the selected cleanup phases on demand.
func (s *Server) RunCleanup(c *fiber.Ctx) error {
	var body cleanupBody
	if len(c.Body()) > 0 {
		if err := parseBody(c, &body); err != nil {
			return respondError(c, err)
		}
	}

	opts := cleanup.Options{Scope: body.Scope, DryRun: body.DryRun}
	for _, raw := range body.Phases {
		phase, err := cleanup.ParsePhase(raw)
		if err != nil {
			return respondError(c, err)
		}
		opts.Phases = append(opts.Phases, phase)
	}

	res, err := s.sweeper.RunCleanup(c.UserContext(), opts)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(res)
}

// GetLedgerStatus reports retry counts and the records that exhausted their retries.
func (s *Server) GetLedgerStatus(c *fiber.Ctx) error {
	status, err := s.ledger.Report(c.UserContext(), parsePagination(c, 20).Limit)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(status)
}

// RetryLedger runs one retry sweep immediately.
func (s *Server) RetryLedger(c *fiber.Ctx) error {
	retried, err := s.ledger.RetryPending(c.UserContext(), c.QueryInt("batch", 0))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"retried": retried})
}

// RequeueLedgerRecord resets an exhausted record for another round of retries.
func (s *Server) RequeueLedgerRecord(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return respondError(c, models.NewValidationError("Invalid record ID"))
	}
	rec, err := s.ledger.Requeue(c.UserContext(), uint(id))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(rec)
}

// GetFeatureFlags returns configured flags and their evaluation for ?scope=.
func (s *Server) GetFeatureFlags(c *fiber.Ctx) error {
	if s.featureFlags == nil {
		return c.JSON(fiber.Map{
			"raw":       map[string]string{},
			"evaluated": map[string]bool{},
		})
	}

	return c.JSON(fiber.Map{
		"raw":       s.featureFlags.Raw(),
		"evaluated": s.featureFlags.Snapshot(c.Query("scope")),
	})
}

// ReportArtifactDeleted forwards a deletion seen by an operator or a gateway webhook to
// the reconciliation subscribers.
func (s *Server) ReportArtifactDeleted(c *fiber.Ctx) error {
	var ev notifications.DeletionEvent
	if err := parseBody(c, &ev); err != nil {
		return respondError(c, err)
	}
	ev.ArtifactID = strings.TrimSpace(ev.ArtifactID)
	if ev.ArtifactID == "" {
		return respondError(c, models.NewValidationError("artifact_id is required"))
	}
	if ev.DeletedAt.IsZero() {
		ev.DeletedAt = time.Now().UTC()
	}
	if s.events == nil {
		return respondError(c, models.NewConfigurationError("deletion events are not configured"))
	}
	if err := s.events.PublishArtifactDeleted(c.UserContext(), ev); err != nil {
		return respondError(c, models.NewExternalError("publish deletion event", err))
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"artifact_id": ev.ArtifactID})
}
