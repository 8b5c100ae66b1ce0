// Package sqlite provides a SQLite-backed implementation of the repository port.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	_ "github.com/mattn/go-sqlite3" // Import the driver anonymously

	"github.com/ewilliams-labs/cadence/internal/core/domain"
	"github.com/ewilliams-labs/cadence/internal/core/ports"
)

// compile-time interface assertion
var _ ports.Repository = (*Adapter)(nil)

// Adapter implements the repository port for SQLite
type Adapter struct {
	db *sql.DB
}

// NewAdapter creates a connection and runs the schema migration
func NewAdapter(storagePath string) (*Adapter, error) {
	db, err := sql.Open("sqlite3", storagePath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// a single writer keeps :memory: databases shared and avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	adapter := &Adapter{db: db}
	if err := adapter.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migration failed: %w", err)
	}

	return adapter, nil
}

// Close ensures the DB connection is closed gracefully
func (a *Adapter) Close() error {
	return a.db.Close()
}

func (a *Adapter) AppendTelemetry(ctx context.Context, s domain.TelemetrySample) error {
	if _, err := a.db.ExecContext(ctx,
		"INSERT INTO telemetry (timestamp, hr, user_id) VALUES (?, ?, ?)",
		s.EpochSeconds(), s.HeartRate, nullable(s.UserID),
	); err != nil {
		return fmt.Errorf("sqlite: append telemetry: %w", err)
	}
	return nil
}

func (a *Adapter) AppendRecommendation(ctx context.Context, ev domain.SwitchEvent) error {
	if _, err := a.db.ExecContext(ctx, `
		INSERT INTO recommendations (timestamp, user_id, track_id, track_name, artists, energy, hr, forced)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		domain.EpochSeconds(ev.Timestamp), ev.UserID, ev.TrackID, ev.TrackName,
		ev.Artists, ev.Energy, ev.HeartRate, ev.Forced,
	); err != nil {
		return fmt.Errorf("sqlite: append recommendation: %w", err)
	}
	return nil
}

func (a *Adapter) AppendFeedback(ctx context.Context, ev domain.FeedbackEvent) error {
	var metadata sql.NullString
	if len(ev.Metadata) > 0 {
		raw, err := json.Marshal(ev.Metadata)
		if err != nil {
			return fmt.Errorf("sqlite: encode feedback metadata: %w", err)
		}
		metadata = sql.NullString{String: string(raw), Valid: true}
	}
	if _, err := a.db.ExecContext(ctx, `
		INSERT INTO feedback (event_id, timestamp, event_type, track_id, user_id, metadata)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		ev.ID, domain.EpochSeconds(ev.Timestamp), ev.EventType,
		nullable(ev.TrackID), ev.UserID, metadata,
	); err != nil {
		return fmt.Errorf("sqlite: append feedback: %w", err)
	}
	return nil
}

func (a *Adapter) GetProfile(ctx context.Context, userID string) (domain.UserProfile, error) {
	p := domain.UserProfile{UserID: userID}
	err := a.db.QueryRowContext(ctx,
		"SELECT rest_hr, max_hr FROM users WHERE user_id = ?", userID,
	).Scan(&p.RestHR, &p.MaxHR)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.UserProfile{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.UserProfile{}, fmt.Errorf("sqlite: load profile: %w", err)
	}
	return p, nil
}

func (a *Adapter) SaveProfile(ctx context.Context, p domain.UserProfile) error {
	if _, err := a.db.ExecContext(ctx, `
		INSERT INTO users (user_id, rest_hr, max_hr) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			rest_hr=excluded.rest_hr,
			max_hr=excluded.max_hr,
			updated_at=CURRENT_TIMESTAMP;
	`, p.UserID, p.RestHR, p.MaxHR); err != nil {
		return fmt.Errorf("sqlite: save profile: %w", err)
	}
	return nil
}

func (a *Adapter) Blacklist(ctx context.Context, userID string) ([]string, error) {
	rows, err := a.db.QueryContext(ctx,
		"SELECT track_id FROM user_blacklist WHERE user_id = ? ORDER BY added_at ASC, track_id ASC", userID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load blacklist: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: scan blacklist: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate blacklist: %w", err)
	}
	return ids, nil
}

func (a *Adapter) AddToBlacklist(ctx context.Context, userID, trackID string, at time.Time) error {
	if _, err := a.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO user_blacklist (user_id, track_id, added_at) VALUES (?, ?, ?)",
		userID, trackID, domain.EpochSeconds(at),
	); err != nil {
		return fmt.Errorf("sqlite: blacklist track %s: %w", trackID, err)
	}
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (a *Adapter) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS telemetry (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp REAL NOT NULL,
		hr INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS recommendations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp REAL NOT NULL,
		track_id TEXT,
		track_name TEXT,
		artists TEXT,
		energy REAL,
		hr INTEGER
	);

	CREATE TABLE IF NOT EXISTS feedback (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp REAL NOT NULL,
		event_type TEXT NOT NULL,
		track_id TEXT,
		metadata TEXT
	);

	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		rest_hr INTEGER NOT NULL,
		max_hr INTEGER NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS user_blacklist (
		user_id TEXT NOT NULL,
		track_id TEXT NOT NULL,
		added_at REAL NOT NULL,
		PRIMARY KEY (user_id, track_id)
	);
	`
	if _, err := a.db.Exec(query); err != nil {
		return err
	}

	// columns added after the first schema; older databases pick them up here
	additions := []string{
		"ALTER TABLE telemetry ADD COLUMN user_id TEXT",
		"ALTER TABLE recommendations ADD COLUMN user_id TEXT",
		"ALTER TABLE recommendations ADD COLUMN forced INTEGER NOT NULL DEFAULT 0",
		"ALTER TABLE feedback ADD COLUMN user_id TEXT",
		"ALTER TABLE feedback ADD COLUMN event_id TEXT",
	}
	for _, stmt := range additions {
		if _, err := a.db.Exec(stmt); err != nil && !isDuplicateColumnError(err) {
			return err
		}
	}
	return nil
}

func isDuplicateColumnError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "duplicate column") || strings.Contains(err.Error(), "already exists"))
}
