package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cotrelay/server/internal/model"
	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"github.com/thejerf/suture/v4"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Manager owns the gorm connection. When Postgres is disabled or
// unreachable it falls back to an in-memory SQLite database that is dumped
// to SqliteFilePath periodically and on Close.
type Manager struct {
	DB              *gorm.DB
	SqlDB           *sql.DB
	IsValid         bool
	ShouldSaveLocal bool
	SqliteFilePath  string
	Logger          zerolog.Logger
}

func NewManager(log zerolog.Logger) *Manager {
	return &Manager{Logger: log}
}

// Connect opens Postgres when db.enabled is set, otherwise or on failure
// the SQLite fallback.
func (m *Manager) Connect() error {
	if viper.GetBool("db.enabled") {
		err := m.connectPostgres()
		if err == nil {
			m.IsValid = true
			m.Logger.Info().Str("host", viper.GetString("db.host")).Msg("connected to Postgres")
			return nil
		}
		m.Logger.Warn().Err(err).Msg("Postgres unavailable, falling back to SQLite")
	}

	db, err := m.GetSqliteDB("")
	if err != nil {
		m.IsValid = false
		return fmt.Errorf("open local SQLite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("sqlite pool: %w", err)
	}
	// every query must see the same in-memory database
	sqlDB.SetMaxOpenConns(1)
	m.DB, m.SqlDB = db, sqlDB
	m.ShouldSaveLocal = true
	m.SqliteFilePath = viper.GetString("sqlite.path")
	m.IsValid = true
	return nil
}

func (m *Manager) connectPostgres() error {
	db, err := m.GetPostgresDB()
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return err
	}
	sqlDB.SetMaxOpenConns(10)
	m.DB, m.SqlDB = db, sqlDB
	return nil
}

// GetPostgresDB opens, without pinging, the configured Postgres database.
func (m *Manager) GetPostgresDB() (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		viper.GetString("db.host"),
		viper.GetString("db.port"),
		viper.GetString("db.username"),
		viper.GetString("db.password"),
		viper.GetString("db.database"),
		viper.GetString("db.sslmode"),
	)
	return gorm.Open(postgres.New(postgres.Config{DSN: dsn, PreferSimpleProtocol: true}), &gorm.Config{
		SkipDefaultTransaction: true,
		CreateBatchSize:        1000,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
}

var sqlitePragmas = []string{
	"PRAGMA journal_mode = MEMORY;",
	"PRAGMA synchronous = OFF;",
	"PRAGMA cache_size = -32000;",
	"PRAGMA temp_store = MEMORY;",
}

// GetSqliteDB opens path, or a shared in-memory database when path is empty.
func (m *Manager) GetSqliteDB(path string) (*gorm.DB, error) {
	dsn := path
	if dsn == "" {
		dsn = "file::memory:?cache=shared"
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		PrepareStmt:            true,
		SkipDefaultTransaction: true,
		CreateBatchSize:        500,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	for _, pragma := range sqlitePragmas {
		if err := db.Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	m.Logger.Info().Str("dsn", dsn).Msg("using local SQLite database")
	return db, nil
}

// Setup migrates the schema, enabling PostGIS first on Postgres.
func (m *Manager) Setup() error {
	if m.DB.Dialector.Name() == "postgres" {
		if err := m.DB.Exec("CREATE EXTENSION IF NOT EXISTS postgis").Error; err != nil {
			m.IsValid = false
			return fmt.Errorf("enable postgis: %w", err)
		}
	}
	if err := m.DB.AutoMigrate(model.DatabaseModels...); err != nil {
		m.IsValid = false
		return fmt.Errorf("migrate schema: %w", err)
	}
	m.Logger.Info().Str("dialect", m.DB.Dialector.Name()).Int("tables", len(model.DatabaseModels)).Msg("schema migrated")
	return nil
}

// Close dumps an in-memory database one last time and closes the pool.
func (m *Manager) Close() error {
	if m.SqlDB == nil {
		return nil
	}
	if m.ShouldSaveLocal && m.SqliteFilePath != "" {
		if err := m.DumpMemoryToDisk(); err != nil {
			m.Logger.Error().Err(err).Msg("final sqlite dump failed")
		}
	}
	return m.SqlDB.Close()
}

// DumpMemoryToDisk vacuums the in-memory database to a file.
func (m *Manager) DumpMemoryToDisk() error {
	if m.SqliteFilePath == "" {
		return errors.New("sqlite file path not set")
	}

	// VACUUM INTO refuses to overwrite, so write beside and rename
	tmp := m.SqliteFilePath + ".tmp"
	if err := os.Remove(tmp); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale dump: %w", err)
	}
	start := time.Now()
	if err := m.DB.Exec("VACUUM INTO ?", tmp).Error; err != nil {
		return fmt.Errorf("dump sqlite: %w", err)
	}
	if err := os.Rename(tmp, m.SqliteFilePath); err != nil {
		return fmt.Errorf("replace sqlite dump: %w", err)
	}
	m.Logger.Debug().Dur("took", time.Since(start)).Str("path", m.SqliteFilePath).Msg("sqlite dumped")
	return nil
}

// DumpLoop periodically writes an in-memory SQLite database to disk.
// It is a suture service; on a real database it returns at once.
type DumpLoop struct {
	Manager  *Manager
	Interval time.Duration
}

func (d *DumpLoop) Serve(ctx context.Context) error {
	if !d.Manager.ShouldSaveLocal || d.Manager.SqliteFilePath == "" {
		return suture.ErrDoNotRestart
	}
	interval := d.Interval
	if interval <= 0 {
		interval = 3 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := d.Manager.DumpMemoryToDisk(); err != nil {
				d.Manager.Logger.Error().Err(err).Msg("SQLite dump failed")
			}
		}
	}
}

func (d *DumpLoop) String() string { return "sqlite-dump" }
