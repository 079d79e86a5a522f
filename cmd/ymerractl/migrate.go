package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/ymera-labs/ymera/migrations"
)

// runMigrate handles "ymerractl migrate up|down|status". It opens its own
// database/sql connection (goose's Provider wants *sql.DB, not a pgxpool.Pool)
// rather than reusing a running ymerad's pool, since the CLI is meant to run
// standalone before the daemon is ever started.
func runMigrate(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: ymerractl migrate {up|down|status}")
		return exitUsage
	}

	dsn := os.Getenv("YMERA_POSTGRES_DSN")
	if dsn == "" {
		fmt.Fprintln(os.Stderr, "YMERA_POSTGRES_DSN must be set")
		return exitUsage
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open database: %v\n", err)
		return exitFailure
	}
	defer db.Close()

	ctx := context.Background()

	switch args[0] {
	case "up":
		if err := migrations.Up(ctx, db); err != nil {
			fmt.Fprintf(os.Stderr, "migrate up: %v\n", err)
			return exitFailure
		}
		fmt.Println("migrations applied")
	case "down":
		if err := migrations.Down(ctx, db); err != nil {
			fmt.Fprintf(os.Stderr, "migrate down: %v\n", err)
			return exitFailure
		}
		fmt.Println("one migration rolled back")
	case "status":
		statuses, err := migrations.Status(ctx, db)
		if err != nil {
			fmt.Fprintf(os.Stderr, "migrate status: %v\n", err)
			return exitFailure
		}
		for _, s := range statuses {
			state := "pending"
			if !s.AppliedAt.IsZero() {
				state = "applied"
			}
			fmt.Printf("%s\t%s\n", s.Source.Path, state)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown migrate subcommand %q\n", args[0])
		return exitUsage
	}
	return exitSuccess
}
