package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/lib/pq"

	"cdpvault/internal/persistence"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	if err := run(os.Args[1]); err != nil {
		log.Fatalf("FATAL: %v", err)
	}
}

func run(command string) error {
	dsn := os.Getenv("CDP_POSTGRES_DSN")
	if dsn == "" {
		dsn = "postgres://localhost:5432/cdpvault?sslmode=disable"
	}
	dir := os.Getenv("CDP_MIGRATIONS_DIR")
	if dir == "" {
		dir = "migrations"
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping db: %w", err)
	}

	migrator := persistence.NewMigrator(db, dir)

	switch command {
	case "up":
		if err := migrator.Up(ctx); err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
		log.Println("INFO: all migrations applied")
	case "down":
		if err := migrator.Down(ctx); err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
		log.Println("INFO: last migration rolled back")
	default:
		return fmt.Errorf("unknown command %q (use 'up' or 'down')", command)
	}
	return nil
}

func usage() {
	fmt.Println("Usage: migrate <up|down>")
	fmt.Println("  up   - apply all pending migrations")
	fmt.Println("  down - roll back the last migration")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  CDP_POSTGRES_DSN   - Postgres connection string")
	fmt.Println("  CDP_MIGRATIONS_DIR - migrations directory (default: migrations)")
}
