// Command seed fills the configured database with demo requests.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"lfgkeeper/internal/bootstrap"
	"lfgkeeper/internal/config"
	"lfgkeeper/internal/seed"
)

func main() {
	scope := flag.String("scope", "demo-guild", "Scope (community id) to seed")
	requests := flag.Int("requests", 40, "Number of requests to create")
	actors := flag.Int("actors", 15, "Number of distinct actors")
	approve := flag.Float64("approve", 0.5, "Fraction of requests to approve")
	decline := flag.Float64("decline", 0.15, "Fraction of requests to decline")
	maxAge := flag.Int("max-age-days", 45, "Backdate requests up to this many days")
	clean := flag.Bool("clean", false, "Delete existing requests and failure records first")
	rngSeed := flag.Int64("seed", time.Now().UnixNano(), "Random seed")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()
	rt, err := bootstrap.InitRuntime(ctx, cfg, bootstrap.Options{ApplySchema: true})
	if err != nil {
		log.Fatalf("Failed to initialize runtime: %v", err)
	}
	defer func() { _ = rt.Close() }()

	log.Printf("Seeding %d requests for scope %s (clean=%v)", *requests, *scope, *clean)

	sum, err := seed.NewSeeder(rt.DB, rt.Service, rt.Catalog, *rngSeed).Run(ctx, seed.Options{
		Scope:        *scope,
		Requests:     *requests,
		Actors:       *actors,
		ApproveRatio: *approve,
		DeclineRatio: *decline,
		MaxAgeDays:   *maxAge,
		Clean:        *clean,
	})
	if err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}
	log.Printf("Created %d requests, %d rejected by admission: %v", sum.Created, sum.Rejected, sum.ByStatus)
}
