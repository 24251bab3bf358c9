// Package store is the persistent session/billing record (spec.md §4.12),
// adapted from the teacher's internal/database package: same
// lib/pq-backed connection-pool setup and getEnv-with-default config
// pattern, retargeted from meeting/user rows onto one row per WebSocket
// session.
package store

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/lib/pq"
)

// DB is the package-level connection pool, mirroring the teacher's single
// global *sql.DB.
var DB *sql.DB

// Config holds the Postgres connection parameters.
type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

// Init opens the connection pool and verifies connectivity.
func Init() error {
	cfg := Config{
		Host:     getEnv("STORE_DB_HOST", "localhost"),
		Port:     getEnv("STORE_DB_PORT", "5432"),
		User:     getEnv("STORE_DB_USER", "caption_relay"),
		Password: getEnv("STORE_DB_PASSWORD", "caption_relay_pass"),
		DBName:   getEnv("STORE_DB_NAME", "caption_relay"),
	}

	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName,
	)

	var err error
	DB, err = sql.Open("postgres", connStr)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	DB.SetMaxOpenConns(25)
	DB.SetMaxIdleConns(5)
	DB.SetConnMaxLifetime(5 * time.Minute)

	if err := DB.Ping(); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	log.Printf("store: connected (%s:%s/%s)", cfg.Host, cfg.Port, cfg.DBName)
	return nil
}

// Close closes the pool.
func Close() error {
	if DB != nil {
		return DB.Close()
	}
	return nil
}

// HealthCheck verifies connectivity for the admin health endpoint.
func HealthCheck() error {
	if DB == nil {
		return fmt.Errorf("store: not initialized")
	}
	return DB.Ping()
}

// SessionRecord is one WebSocket session's billing/history row (spec.md
// §3's SessionRecord).
type SessionRecord struct {
	ID          string     `json:"id"`
	HostSubject string     `json:"hostSubject"`
	SourceLang  string     `json:"sourceLang"`
	Tier        string     `json:"tier"`
	StartedAt   time.Time  `json:"startedAt"`
	EndedAt     *time.Time `json:"endedAt,omitempty"`
	FinalCount  int        `json:"finalCount"`
}

// CreateSession inserts a new session row at connection time. The caller
// runs this in its own goroutine — a store outage must never block the
// WebSocket upgrade (spec.md §4.12/§7).
func CreateSession(id, hostSubject, sourceLang, tier string) error {
	_, err := DB.Exec(
		`INSERT INTO sessions (id, host_subject, source_lang, tier, started_at, final_count)
		 VALUES ($1, $2, $3, $4, $5, 0)`,
		id, hostSubject, sourceLang, tier, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// IncrementFinalCount bumps finalCount by one for billing, called once
// per committed final.
func IncrementFinalCount(sessionID string) error {
	_, err := DB.Exec(`UPDATE sessions SET final_count = final_count + 1 WHERE id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("increment final count: %w", err)
	}
	return nil
}

// EndSession marks a session's endedAt, called when the host disconnects.
func EndSession(sessionID string) error {
	_, err := DB.Exec(`UPDATE sessions SET ended_at = $1 WHERE id = $2 AND ended_at IS NULL`, time.Now(), sessionID)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// GetSession retrieves one session row, used by the admin HTTP surface
// (/api/sessions/{id}).
func GetSession(sessionID string) (*SessionRecord, error) {
	row := DB.QueryRow(
		`SELECT id, host_subject, source_lang, tier, started_at, ended_at, final_count
		 FROM sessions WHERE id = $1`, sessionID,
	)

	var rec SessionRecord
	var endedAt sql.NullTime
	if err := row.Scan(&rec.ID, &rec.HostSubject, &rec.SourceLang, &rec.Tier, &rec.StartedAt, &endedAt, &rec.FinalCount); err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if endedAt.Valid {
		rec.EndedAt = &endedAt.Time
	}
	return &rec, nil
}

// ListUnendedSessions returns every session row with a null endedAt,
// used by cmd/backfill-sessions to close out sessions orphaned by a
// server crash.
func ListUnendedSessions() ([]SessionRecord, error) {
	rows, err := DB.Query(
		`SELECT id, host_subject, source_lang, tier, started_at, ended_at, final_count
		 FROM sessions WHERE ended_at IS NULL`,
	)
	if err != nil {
		return nil, fmt.Errorf("list unended sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		var endedAt sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.HostSubject, &rec.SourceLang, &rec.Tier, &rec.StartedAt, &endedAt, &rec.FinalCount); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if endedAt.Valid {
			rec.EndedAt = &endedAt.Time
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
