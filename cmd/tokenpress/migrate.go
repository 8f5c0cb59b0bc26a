package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/allaspectsdev/tokenpress/internal/config"
	"github.com/allaspectsdev/tokenpress/internal/vectorstore"
)

func cmdMigrate(args []string) {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Semantic.PostgresURL == "" {
		fmt.Fprintln(os.Stderr, "semantic.postgres_url is not configured")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := vectorstore.Open(ctx, cfg.Semantic.PostgresURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error connecting to postgres: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	if len(args) > 0 && args[0] == "status" {
		applied, pending, err := store.Version(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error reading migration status: %v\n", err)
			os.Exit(1)
		}
		for _, v := range applied {
			fmt.Printf("  applied: %s\n", v)
		}
		for _, v := range pending {
			fmt.Printf("  pending: %s\n", v)
		}
		if len(pending) == 0 {
			fmt.Println("Schema is up to date")
		}
		return
	}

	if err := store.Migrate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error applying migrations: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Migrations applied")
}
