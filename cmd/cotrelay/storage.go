package main

import (
	"fmt"
	"log/slog"

	"github.com/rs/zerolog"

	"github.com/cotrelay/server/internal/auth"
	"github.com/cotrelay/server/internal/database"
	"github.com/cotrelay/server/internal/mission"
	"github.com/cotrelay/server/internal/storage"
	gormstorage "github.com/cotrelay/server/internal/storage/gorm"
	"github.com/cotrelay/server/internal/storage/memory"
)

// stores are the persistence collaborators of the server. DB is nil when
// no database could be opened at all.
type stores struct {
	DB       *database.Manager
	Backend  storage.Backend
	Missions mission.Store
	Auth     auth.Store
}

// openStores connects to Postgres, falling back to an in-memory SQLite
// database and finally to plain memory.
func openStores(zl zerolog.Logger, logger *slog.Logger) (*stores, error) {
	db := database.NewManager(zl.With().Str("component", "database").Logger())
	if err := db.Connect(); err != nil {
		logger.Error("no database available, keeping facts in memory", "error", err)
		return memoryStores()
	}

	backend := gormstorage.New(gormstorage.Dependencies{DB: db.DB, Logger: logger})
	if err := backend.Init(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init storage: %w", err)
	}
	logger.Info("storage ready", "dialect", db.DB.Dialector.Name(), "local", db.ShouldSaveLocal)
	return &stores{
		DB:       db,
		Backend:  backend,
		Missions: mission.NewGorm(db.DB),
		Auth:     auth.NewGormStore(db.DB),
	}, nil
}

func memoryStores() (*stores, error) {
	backend := memory.New()
	if err := backend.Init(); err != nil {
		return nil, err
	}
	return &stores{Backend: backend, Missions: mission.NewMemory()}, nil
}

func (s *stores) Close() error {
	err := s.Backend.Close()
	if s.DB != nil {
		if dbErr := s.DB.Close(); dbErr != nil {
			err = dbErr
		}
	}
	return err
}
