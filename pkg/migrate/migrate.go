package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/pressly/goose/v3"
)

const (
	// DefaultDir is where new migrations are written by the migrate CLI.
	DefaultDir = "pkg/migrate/migrations"
	dialect    = "postgres"
)

//go:embed migrations/*.sql
var embedded embed.FS

// goose keeps its dialect and base filesystem in package globals.
var gooseMu sync.Mutex

// Source is a set of goose migrations: a filesystem and the directory inside
// it that holds the .sql files.
type Source struct {
	FS  fs.FS
	Dir string
}

// Embedded returns the migrations compiled into the binary.
func Embedded() Source {
	return Source{FS: embedded, Dir: "migrations"}
}

// OnDisk reads migrations from dir on the local filesystem. It is what the
// CLI uses while authoring new migrations.
func OnDisk(dir string) Source {
	return Source{FS: os.DirFS(dir), Dir: "."}
}

func (s Source) validate() error {
	if s.FS == nil {
		return fmt.Errorf("migration filesystem is required")
	}
	if strings.TrimSpace(s.Dir) == "" {
		return fmt.Errorf("migration dir is required")
	}
	return nil
}

var runnableCommands = map[string]bool{"up": true, "down": true, "status": true, "redo": true}

// Run executes a goose command that needs a database connection.
func Run(ctx context.Context, db *sql.DB, src Source, command string) error {
	if db == nil {
		return fmt.Errorf("db is required")
	}
	if err := src.validate(); err != nil {
		return err
	}
	if !runnableCommands[command] {
		return fmt.Errorf("unsupported goose command %q", command)
	}

	return withGoose(src, func() error {
		// status output goes to stdout through goose's own logger
		if err := goose.RunContext(ctx, command, db, src.Dir); err != nil {
			return fmt.Errorf("goose %s: %w", command, err)
		}
		return nil
	})
}

// MigrateToVersion moves the schema up or down to targetVersion
// (YYYYMMDDHHMMSS).
func MigrateToVersion(ctx context.Context, db *sql.DB, src Source, targetVersion string) error {
	if db == nil {
		return fmt.Errorf("db is required")
	}
	if err := src.validate(); err != nil {
		return err
	}
	target, err := strconv.ParseInt(strings.TrimSpace(targetVersion), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS): %w", targetVersion, err)
	}

	return withGoose(src, func() error {
		current, err := goose.GetDBVersion(db)
		if err != nil {
			return fmt.Errorf("get db version: %w", err)
		}
		switch {
		case current == target:
			return nil
		case current < target:
			if err := goose.UpToContext(ctx, db, src.Dir, target); err != nil {
				return fmt.Errorf("goose up-to %d: %w", target, err)
			}
		default:
			if err := goose.DownToContext(ctx, db, src.Dir, target); err != nil {
				return fmt.Errorf("goose down-to %d: %w", target, err)
			}
		}
		return nil
	})
}

func withGoose(src Source, fn func() error) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	goose.SetBaseFS(src.FS)
	defer goose.SetBaseFS(nil)
	return fn()
}
