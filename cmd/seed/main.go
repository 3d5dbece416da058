package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"course-payments/internal/config"
	"course-payments/internal/domain/model"
	pg "course-payments/internal/infra/db/postgres"
)

func main() {
	// ---- Config ----
	cfgPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Connect Postgres
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 4)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	courseRepo := pg.NewCourseRepo(pool)

	// Sample catalog for exercising the checkout flow locally
	seed := []model.Course{
		{ID: "go-fundamentals", Title: "Go Fundamentals", Subtitle: "Types, interfaces and concurrency", Price: decimal.RequireFromString("499.00"), Published: true},
		{ID: "distributed-systems", Title: "Distributed Systems in Practice", Subtitle: "Consensus, queues and idempotency", Price: decimal.RequireFromString("1299.00"), Published: true},
		{ID: "free-intro", Title: "Intro Workshop", Price: decimal.Zero, Published: true},
		{ID: "draft-course", Title: "Unreleased Draft", Price: decimal.RequireFromString("199.00"), Published: false},
	}

	for i := range seed {
		c := &seed[i]
		added, err := courseRepo.Insert(ctx, nil, c)
		if err != nil {
			log.Fatalf("insert course %q: %v", c.ID, err)
		}
		if !added {
			fmt.Printf("exists: %s\n", c.ID)
			continue
		}
		fmt.Printf("seeded: %s (price=%s %s, published=%v)\n", c.ID, c.Price.StringFixed(2), cfg.Stripe.Currency, c.Published)
	}

	fmt.Println("Seeding complete.")
}
