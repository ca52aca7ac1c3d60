package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/angelmondragon/recapz-backend/internal/bootstrap"
	"github.com/angelmondragon/recapz-backend/pkg/config"
	"github.com/angelmondragon/recapz-backend/pkg/db"
	"github.com/angelmondragon/recapz-backend/pkg/logger"
	"github.com/angelmondragon/recapz-backend/pkg/migrate"
)

type options struct {
	cmd      string
	dir      string
	name     string
	version  string
	embedded bool
}

func main() {
	var opts options
	flag.StringVar(&opts.cmd, "cmd", "up", "migration command: up|down|redo|status|version|create|validate")
	flag.StringVar(&opts.dir, "dir", migrate.DefaultDir, "goose migrations directory")
	flag.StringVar(&opts.name, "name", "", "migration name (for create)")
	flag.StringVar(&opts.version, "version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.BoolVar(&opts.embedded, "embedded", false, "use the migrations compiled into this binary instead of -dir")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "migrate %s: %v\n", opts.cmd, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	src := migrate.OnDisk(opts.dir)
	if opts.embedded {
		src = migrate.Embedded()
	}

	// create and validate work on files only
	switch opts.cmd {
	case "create":
		if opts.name == "" {
			return errors.New("missing -name")
		}
		path, err := migrate.CreateSQLMigration(opts.dir, opts.name)
		if err != nil {
			return err
		}
		fmt.Println("created migration:", path)
		return nil
	case "validate":
		if err := migrate.Validate(src); err != nil {
			return err
		}
		fmt.Println("migration validation passed")
		return nil
	}

	cfg, logg, err := bootstrap.LoadConfig("migrate")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.DB.IsSQLite() {
		return errors.New("sql migrations target postgres; sqlite schemas are auto-migrated in dev")
	}
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "cmd": opts.cmd, "embedded": opts.embedded})

	return withDatabase(ctx, cfg, logg, func(client *db.Client) error {
		sqlDB, err := client.DB().DB()
		if err != nil {
			return fmt.Errorf("sql database: %w", err)
		}
		logg.Info(ctx, "migrate ready")

		switch opts.cmd {
		case "up", "down", "redo", "status":
			return migrate.Run(ctx, sqlDB, src, opts.cmd)
		case "version":
			if opts.version == "" {
				return errors.New("missing -version")
			}
			return migrate.MigrateToVersion(ctx, sqlDB, src, opts.version)
		default:
			return fmt.Errorf("unknown -cmd value %q", opts.cmd)
		}
	})
}

func withDatabase(ctx context.Context, cfg *config.Config, logg *logger.Logger, fn func(*db.Client) error) error {
	client, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "resource not working: database", err)
		return err
	}
	defer client.Close()
	return fn(client)
}
