// Package seed fills a development database with demo requests. The requests go through
// the request service, so artifacts are posted exactly as for real traffic.
package seed

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"lfgkeeper/internal/lifecycle"
	"lfgkeeper/internal/models"
	"lfgkeeper/internal/service"

	"gorm.io/gorm"
)

// Options configuration for the seeder
type Options struct {
	Scope    string
	Requests int
	Actors   int
	// ApproveRatio and DeclineRatio split created requests; the rest stay pending.
	ApproveRatio float64
	DeclineRatio float64
	// MaxAgeDays backdates requests up to this many days so cleanup has candidates.
	MaxAgeDays int
	Clean      bool
}

// Summary counts what a run produced.
type Summary struct {
	Created  int                          `json:"created"`
	Rejected int                          `json:"rejected"`
	ByStatus map[models.RequestStatus]int `json:"by_status"`
}

// Catalog is the schema listing the seeder picks domains from.
type Catalog interface {
	Domains() []models.DomainSchema
}

// Seeder creates demo requests.
type Seeder struct {
	db      *gorm.DB
	svc     *service.RequestService
	catalog Catalog
	factory *Factory
}

// NewSeeder creates a seeder.
func NewSeeder(db *gorm.DB, svc *service.RequestService, catalog Catalog, seed int64) *Seeder {
	return &Seeder{db: db, svc: svc, catalog: catalog, factory: NewFactory(seed)}
}

// clearAll removes every request and failure record.
func (s *Seeder) clearAll(ctx context.Context) error {
	for _, table := range []string{"failure_records", "requests"} {
		if err := s.db.WithContext(ctx).Exec("DELETE FROM " + table).Error; err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return nil
}

// Run seeds opts.Requests requests spread over opts.Actors actors. Admission rejections are
// counted, not fatal.
func (s *Seeder) Run(ctx context.Context, opts Options) (*Summary, error) {
	if opts.Scope == "" {
		return nil, fmt.Errorf("seed scope is required")
	}
	if opts.Actors <= 0 {
		opts.Actors = 1
	}

	domains := s.catalog.Domains()
	if len(domains) == 0 {
		return nil, fmt.Errorf("catalog has no domain schemas")
	}
	sort.Slice(domains, func(i, j int) bool {
		if domains[i].Domain != domains[j].Domain {
			return domains[i].Domain < domains[j].Domain
		}
		return domains[i].Category < domains[j].Category
	})

	if opts.Clean {
		if err := s.clearAll(ctx); err != nil {
			return nil, err
		}
	}

	actors := make([]string, opts.Actors)
	for i := range actors {
		actors[i] = s.factory.Actor()
	}

	sum := &Summary{ByStatus: make(map[models.RequestStatus]int)}
	for i := 0; i < opts.Requests; i++ {
		schema := domains[s.factory.faker.Number(0, len(domains)-1)]
		req, err := s.svc.CreateRequest(ctx, service.CreateRequestInput{
			ActorID:  actors[i%len(actors)],
			Scope:    opts.Scope,
			Category: schema.Category,
			Domain:   schema.Domain,
			Payload:  s.factory.Payload(&schema),
		})
		if models.HasCode(err, models.CodeLimitReached) {
			sum.Rejected++
			continue
		}
		if err != nil {
			return sum, fmt.Errorf("create request %d: %w", i, err)
		}
		sum.Created++

		if req, err = s.review(ctx, req, opts); err != nil {
			return sum, err
		}
		if err := s.backdate(ctx, req, opts.MaxAgeDays); err != nil {
			return sum, err
		}
		sum.ByStatus[req.Status]++
	}

	slog.InfoContext(ctx, "seed complete",
		slog.Int("created", sum.Created),
		slog.Int("rejected", sum.Rejected),
		slog.Any("by_status", sum.ByStatus))
	return sum, nil
}

func (s *Seeder) review(ctx context.Context, req *models.Request, opts Options) (*models.Request, error) {
	roll := s.factory.faker.Float64Range(0, 1)
	var action lifecycle.Action
	switch {
	case roll < opts.ApproveRatio:
		action = lifecycle.ActionApprove
	case roll < opts.ApproveRatio+opts.DeclineRatio:
		action = lifecycle.ActionDecline
	default:
		return req, nil
	}
	out, err := s.svc.Transition(ctx, req.ID, action, "seed-moderator", "")
	if err != nil {
		return nil, fmt.Errorf("%s request %s: %w", action, req.ID, err)
	}
	return out, nil
}

// backdate moves the request's timestamps into the past. Pending requests whose
// expiry lands in the past become expire candidates.
func (s *Seeder) backdate(ctx context.Context, req *models.Request, maxAgeDays int) error {
	if maxAgeDays <= 0 {
		return nil
	}
	age := time.Duration(s.factory.faker.Number(0, maxAgeDays*24)) * time.Hour
	if age == 0 {
		return nil
	}
	updates := map[string]any{
		"created_at": req.CreatedAt.Add(-age),
		"updated_at": req.UpdatedAt.Add(-age),
	}
	if req.ExpiresAt != nil {
		updates["expires_at"] = req.ExpiresAt.Add(-age)
	}
	err := s.db.WithContext(ctx).Model(&models.Request{}).Where("id = ?", req.ID).Updates(updates).Error
	if err != nil {
		return fmt.Errorf("backdate request %s: %w", req.ID, err)
	}
	return nil
}
