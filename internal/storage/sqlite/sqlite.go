// Package sqlite persists usage accounting for completed exchanges via GORM.
// Uses modernc.org/sqlite (pure Go, no CGO) through the glebarez/sqlite GORM
// driver, with WAL mode enabled by default for concurrent reads.
package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jkaninda/fundi/internal/anthropic"
)

// Exchange records one completed model exchange for usage accounting.
type Exchange struct {
	ID           uint   `gorm:"primarykey"`
	SessionID    string `gorm:"index"`
	Model        string
	InputTokens  int
	OutputTokens int
	StopReason   string
	CreatedAt    time.Time
}

// Totals aggregates recorded usage for a session, or all sessions.
type Totals struct {
	Exchanges    int64
	InputTokens  int64
	OutputTokens int64
}

// Store is the SQLite-backed usage store.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
	path   string
}

// Open creates the usage store, creating the database file and schema as
// needed.
func Open(path string, slogger *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	// Ensure parent directory exists.
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", path)

	gormLogger := logger.New(
		slogAdapter{slogger},
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  gormLogger,
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	if err := db.AutoMigrate(&Exchange{}); err != nil {
		return nil, fmt.Errorf("migrating usage schema: %w", err)
	}

	s := &Store{db: db, logger: slogger, path: path}
	slogger.Info("usage store opened", slog.String("path", path))
	return s, nil
}

// RecordExchange persists usage for one completed exchange.
func (s *Store) RecordExchange(ctx context.Context, sessionID, model string, usage anthropic.Usage, stopReason string) error {
	ex := Exchange{
		SessionID:    sessionID,
		Model:        model,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		StopReason:   stopReason,
	}
	if err := s.db.WithContext(ctx).Create(&ex).Error; err != nil {
		return fmt.Errorf("recording exchange: %w", err)
	}
	return nil
}

// SessionTotals aggregates usage for one session. An empty sessionID
// aggregates over all sessions.
func (s *Store) SessionTotals(ctx context.Context, sessionID string) (Totals, error) {
	var t Totals
	q := s.db.WithContext(ctx).Model(&Exchange{})
	if sessionID != "" {
		q = q.Where("session_id = ?", sessionID)
	}
	row := q.Select("COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0)").Row()
	if err := row.Scan(&t.Exchanges, &t.InputTokens, &t.OutputTokens); err != nil {
		return Totals{}, fmt.Errorf("aggregating usage: %w", err)
	}
	return t, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// slogAdapter wraps *slog.Logger for GORM's logger.Writer interface.
type slogAdapter struct {
	logger *slog.Logger
}

func (s slogAdapter) Printf(format string, args ...any) {
	s.logger.Info(fmt.Sprintf(format, args...))
}
