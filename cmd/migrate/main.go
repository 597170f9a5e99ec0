package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/config"
	"gatehouse.dev/internal/migrate"
	"gatehouse.dev/internal/obs"
	"gatehouse.dev/internal/store/pg"
)

const usage = "usage: migrate [-dsn DSN] up|down|status|seed"

func main() {
	if err := run(); err != nil {
		obs.Logger().Error("migrate_failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return err
	}
	obs.SetLogger(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: obs.ParseLevel(cfg.LogLevel)})))

	if cfg.PGDSN == "" {
		return fmt.Errorf("missing DSN: provide via -dsn or GATEHOUSE_PG_DSN")
	}
	if len(cfg.Args) != 1 {
		return fmt.Errorf("%s", usage)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	store, err := pg.Open(cfg.PGDSN)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer store.Close()

	mgr := migrate.NewManager(store.DB())
	cmd := cfg.Args[0]
	switch cmd {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "status":
		var lines []string
		lines, err = mgr.Status(ctx)
		for _, line := range lines {
			fmt.Println(line)
		}
	case "seed":
		var res migrate.SeedResult
		res, err = migrate.Seed(ctx, store, auth.NewArgon2Hasher(cfg.Argon2), cfg.Seed)
		if err == nil {
			fmt.Printf("role %s (created=%t, grants added=%d), admin %s (created=%t)\n",
				res.RoleID, res.RoleCreated, res.GrantsAdded, res.AdminID, res.AdminCreated)
		}
	default:
		return fmt.Errorf("unknown command %q; %s", cmd, usage)
	}
	if err != nil {
		return fmt.Errorf("migrate %s: %w", cmd, err)
	}
	return nil
}
