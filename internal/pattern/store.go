// Package pattern persists normalized failure signatures with their
// resolutions across runs, and surfaces the highest-weighted ones as hints
// for new sessions.
package pattern

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/harnesslab/overseer/internal/models"
)

//go:embed schema.sql
var schemaSQL string

// DefaultDecayRate is the per-day exponential decay applied to pattern
// weights, so stale resolutions fade out of the hint set.
const DefaultDecayRate = 0.10

// Pattern is one stored failure signature with its outcome counters.
type Pattern struct {
	ID           int64
	Signature    string
	Resolution   string
	SuccessCount int
	FailureCount int
	FirstSeen    time.Time
	LastSeen     time.Time

	// Weight is computed at query time from the counters and age.
	Weight float64
}

// Store is the SQLite-backed pattern database.
type Store struct {
	db        *sql.DB
	dbPath    string
	decayRate float64
}

// NewStore opens (or creates) the pattern database. A decayRate of 0 or
// less uses DefaultDecayRate. Open or schema failures return
// models.ErrStoreUnavailable wrapped with detail; callers degrade to
// running without hints rather than failing the run.
func NewStore(dbPath string, decayRate float64) (*Store, error) {
	if decayRate <= 0 {
		decayRate = DefaultDecayRate
	}

	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("%w: create database directory: %v", models.ErrStoreUnavailable, err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %v", models.ErrStoreUnavailable, err)
	}

	// busy_timeout first so the remaining pragmas wait on locks.
	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if err := execWithRetry(db, pragma, 5, 10*time.Millisecond); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: set %s: %v", models.ErrStoreUnavailable, pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: init schema: %v", models.ErrStoreUnavailable, err)
	}

	return &Store{db: db, dbPath: dbPath, decayRate: decayRate}, nil
}

// execWithRetry retries lock errors with exponential backoff. WAL mode
// makes these rare but concurrent first-open can still race on pragmas.
func execWithRetry(db *sql.DB, stmt string, maxRetries int, baseDelay time.Duration) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		_, err := db.Exec(stmt)
		if err == nil {
			return nil
		}
		if !strings.Contains(err.Error(), "database is locked") {
			return err
		}
		lastErr = err
		time.Sleep(baseDelay * time.Duration(1<<attempt))
	}
	return lastErr
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record upserts one failure observation. raw is normalized before
// storage; resolution describes what fixed it (empty when unresolved).
// success increments the success counter, otherwise the failure counter.
func (s *Store) Record(raw, resolution string, success bool) error {
	if s == nil || s.db == nil {
		return models.ErrStoreUnavailable
	}
	sig := Normalize(raw)
	if sig == "" {
		return nil
	}

	now := time.Now().UTC()
	succ, fail := 0, 0
	if success {
		succ = 1
	} else {
		fail = 1
	}

	// Keep the latest non-empty resolution on conflict.
	_, err := s.db.Exec(`
		INSERT INTO patterns (signature, resolution, success_count, failure_count, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(signature) DO UPDATE SET
			success_count = success_count + excluded.success_count,
			failure_count = failure_count + excluded.failure_count,
			resolution    = CASE WHEN excluded.resolution != '' THEN excluded.resolution ELSE resolution END,
			last_seen     = excluded.last_seen`,
		sig, resolution, succ, fail, now, now)
	if err != nil {
		return fmt.Errorf("record pattern: %w", err)
	}
	return nil
}

// TopK returns the k highest-weighted patterns. Weight is
// max(0, successes-failures) * exp(-decayRate * ageDays), so patterns
// that never worked, and patterns not seen recently, drop out.
func (s *Store) TopK(k int) ([]Pattern, error) {
	if s == nil || s.db == nil {
		return nil, models.ErrStoreUnavailable
	}
	if k <= 0 {
		return nil, nil
	}

	rows, err := s.db.Query(`
		SELECT id, signature, resolution, success_count, failure_count, first_seen, last_seen
		FROM patterns`)
	if err != nil {
		return nil, fmt.Errorf("query patterns: %w", err)
	}
	defer rows.Close()

	now := time.Now().UTC()
	var all []Pattern
	for rows.Next() {
		var p Pattern
		if err := rows.Scan(&p.ID, &p.Signature, &p.Resolution,
			&p.SuccessCount, &p.FailureCount, &p.FirstSeen, &p.LastSeen); err != nil {
			return nil, fmt.Errorf("scan pattern: %w", err)
		}
		p.Weight = weight(p, now, s.decayRate)
		if p.Weight > 0 {
			all = append(all, p)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate patterns: %w", err)
	}

	// Selection by weight, descending; k is small so a simple sort pass
	// over the survivors is fine.
	sortByWeight(all)
	if len(all) > k {
		all = all[:k]
	}
	return all, nil
}

// Count returns the number of stored patterns.
func (s *Store) Count() (int, error) {
	if s == nil || s.db == nil {
		return 0, models.ErrStoreUnavailable
	}
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM patterns`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count patterns: %w", err)
	}
	return n, nil
}

// All returns every stored pattern with computed weights, highest first.
func (s *Store) All() ([]Pattern, error) {
	return s.TopK(math.MaxInt32)
}

func weight(p Pattern, now time.Time, decayRate float64) float64 {
	net := float64(p.SuccessCount - p.FailureCount)
	if net < 0 {
		net = 0
	}
	ageDays := now.Sub(p.LastSeen).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return net * math.Exp(-decayRate*ageDays)
}

func sortByWeight(ps []Pattern) {
	// Stable insertion sort keeps equal-weight patterns in scan order.
	for i := 1; i < len(ps); i++ {
		for j := i; j > 0 && ps[j].Weight > ps[j-1].Weight; j-- {
			ps[j], ps[j-1] = ps[j-1], ps[j]
		}
	}
}

// IsUnavailable reports whether err means the pattern store could not be
// used; the orchestrator logs and continues without hints in that case.
func IsUnavailable(err error) bool {
	return errors.Is(err, models.ErrStoreUnavailable)
}
