// Command migrate applies the embedded schema migrations.
//
//	migrate up|down|status|version
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fernandonovaluz/escola-backend/internal/config"
	"github.com/fernandonovaluz/escola-backend/internal/store"
)

var commands = map[string]func(context.Context, *sql.DB) error{
	"up":      store.MigrateUp,
	"down":    store.MigrateDown,
	"status":  store.MigrationStatus,
	"version": printVersion,
}

var openDB = store.NewDB

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	cmd := "up"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}
	if err := run(cmd, config.Load()); err != nil {
		slog.Error("migrate failed", "command", cmd, "error", err)
		os.Exit(1)
	}
}

func run(cmd string, cfg config.App) error {
	action, ok := commands[cmd]
	if !ok {
		return fmt.Errorf("unknown command %q (want up, down, status or version)", cmd)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := openDB(ctx, cfg.DatabaseURL)
	defer db.Close()
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return action(ctx, db.Client)
}

func printVersion(ctx context.Context, db *sql.DB) error {
	v, err := store.MigrationVersion(ctx, db)
	if err != nil {
		return err
	}
	fmt.Println(v)
	return nil
}
