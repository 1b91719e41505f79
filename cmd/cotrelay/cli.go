package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cotrelay/server/internal/auth"
	"github.com/cotrelay/server/internal/database"
	"github.com/cotrelay/server/internal/mission"
)

var errUsage = errors.New("invalid arguments, see cotrelay --help")

// runCommand runs one administrative command against the configured
// database and returns.
func runCommand(ctx context.Context, args []string, out io.Writer) error {
	switch strings.ToLower(args[0]) {
	case "version":
		fmt.Fprintf(out, "cotrelay %s (%s)\n", Version, BuildDate)
		return nil
	case "migrate":
		return withDatabase(func(*database.Manager) error {
			fmt.Fprintln(out, "schema up to date")
			return nil
		})
	case "user":
		return userCommand(ctx, args[1:], out)
	case "mission":
		return missionCommand(ctx, args[1:], out)
	}
	return fmt.Errorf("unknown command %q: %w", args[0], errUsage)
}

func userCommand(ctx context.Context, args []string, out io.Writer) error {
	if len(args) < 2 {
		return errUsage
	}
	name := args[1]
	return withDatabase(func(db *database.Manager) error {
		store := auth.NewGormStore(db.DB)
		switch args[0] {
		case "add":
			if len(args) != 3 {
				return errUsage
			}
			if err := store.AddUser(ctx, name, args[2]); err != nil {
				return err
			}
			fmt.Fprintf(out, "user %s saved\n", name)
		case "disable", "enable":
			if err := store.SetActive(ctx, name, args[0] == "enable"); err != nil {
				return err
			}
			fmt.Fprintf(out, "user %s %sd\n", name, args[0])
		default:
			return errUsage
		}
		return nil
	})
}

func missionCommand(ctx context.Context, args []string, out io.Writer) error {
	if len(args) < 2 || len(args) > 3 || args[0] != "create" {
		return errUsage
	}
	creator := ""
	if len(args) == 3 {
		creator = args[2]
	}
	return withDatabase(func(db *database.Manager) error {
		if err := mission.NewGorm(db.DB).CreateMission(ctx, args[1], creator); err != nil {
			return err
		}
		fmt.Fprintf(out, "mission %s created\n", args[1])
		return nil
	})
}

// withDatabase opens the configured Postgres database with the schema in
// place. The in-memory fallback is refused since nothing written to it
// would outlive the command.
func withDatabase(fn func(db *database.Manager) error) error {
	zl := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(zerolog.WarnLevel).With().Timestamp().Logger()
	db := database.NewManager(zl)
	if err := db.Connect(); err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	if db.ShouldSaveLocal {
		db.SqliteFilePath = ""
		return errors.New("postgres is not reachable; administrative commands need it")
	}
	if err := db.Setup(); err != nil {
		return err
	}
	return fn(db)
}
