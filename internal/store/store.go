// Package store persists ideas, planning sessions and projects in SQLite.
// A single connection with WAL journaling keeps writers serialized; readers
// only ever observe committed aggregates.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"ideaforge/internal/logging"
)

// ErrNotFound marks lookups for aggregates that do not exist.
var ErrNotFound = errors.New("not found")

// SessionStore is the SQLite-backed persistence layer.
type SessionStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// Open initializes the SQLite database at the given path.
func Open(path string) (*SessionStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "store.Open")
	defer timer.Stop()

	logging.Store("Opening session store at %s", path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	// NORMAL is safe under WAL and much faster than FULL
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		logging.StoreDebug("Failed to enable sqlite foreign_keys: %v", err)
	}

	s := &SessionStore{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logging.StoreDebug("Session store schema ready")
	return s, nil
}

// initialize creates the required tables.
func (s *SessionStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS ideas (
		id TEXT PRIMARY KEY,
		domain TEXT NOT NULL,
		description TEXT NOT NULL,
		confidence REAL NOT NULL DEFAULT 0,
		market_summary TEXT,
		features TEXT,
		feasibility INTEGER NOT NULL DEFAULT 0,
		demand INTEGER NOT NULL DEFAULT 0,
		viability INTEGER NOT NULL DEFAULT 0,
		overall REAL NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_ideas_domain ON ideas(domain);

	CREATE TABLE IF NOT EXISTS planning_sessions (
		id TEXT PRIMARY KEY,
		idea_id TEXT,
		domain TEXT NOT NULL,
		status TEXT NOT NULL,
		final_plan TEXT,
		confidence REAL NOT NULL DEFAULT 0,
		convergence TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_domain ON planning_sessions(domain);
	CREATE INDEX IF NOT EXISTS idx_sessions_status ON planning_sessions(status);

	CREATE TABLE IF NOT EXISTS planning_iterations (
		session_id TEXT NOT NULL,
		idx INTEGER NOT NULL,
		context TEXT NOT NULL,
		result_text TEXT NOT NULL,
		metrics TEXT,
		suggestions TEXT,
		confidence REAL NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		PRIMARY KEY(session_id, idx),
		FOREIGN KEY(session_id) REFERENCES planning_sessions(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		language TEXT NOT NULL,
		path TEXT NOT NULL,
		github_url TEXT,
		created_at DATETIME NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SessionStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// ----------------------------------------------------------------------------
// Ideas
// ----------------------------------------------------------------------------

// SaveIdea inserts or replaces an idea.
func (s *SessionStore) SaveIdea(ctx context.Context, idea *Idea) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	features, err := json.Marshal(idea.Features)
	if err != nil {
		return fmt.Errorf("failed to encode features: %w", err)
	}
	if idea.CreatedAt.IsZero() {
		idea.CreatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO ideas
		(id, domain, description, confidence, market_summary, features,
		 feasibility, demand, viability, overall, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		idea.ID, idea.Domain, idea.Description, idea.Confidence,
		idea.MarketSummary, string(features),
		idea.Validation.Feasibility, idea.Validation.Demand,
		idea.Validation.Viability, idea.Validation.Overall,
		idea.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save idea: %w", err)
	}
	logging.StoreDebug("Saved idea %s (domain=%s)", idea.ID, idea.Domain)
	return nil
}

// GetIdea loads a single idea by ID.
func (s *SessionStore) GetIdea(ctx context.Context, id string) (*Idea, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, domain, description, confidence, market_summary, features,
		       feasibility, demand, viability, overall, created_at
		FROM ideas WHERE id = ?`, id)
	return scanIdea(row)
}

// ListIdeas returns ideas, optionally filtered by domain, newest first.
func (s *SessionStore) ListIdeas(ctx context.Context, domain string) ([]*Idea, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, domain, description, confidence, market_summary, features,
		       feasibility, demand, viability, overall, created_at
		FROM ideas`
	args := []any{}
	if domain != "" {
		query += " WHERE domain = ?"
		args = append(args, domain)
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list ideas: %w", err)
	}
	defer rows.Close()

	var ideas []*Idea
	for rows.Next() {
		idea, err := scanIdea(rows)
		if err != nil {
			return nil, err
		}
		ideas = append(ideas, idea)
	}
	return ideas, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdea(r rowScanner) (*Idea, error) {
	var idea Idea
	var marketSummary, features sql.NullString
	err := r.Scan(&idea.ID, &idea.Domain, &idea.Description, &idea.Confidence,
		&marketSummary, &features,
		&idea.Validation.Feasibility, &idea.Validation.Demand,
		&idea.Validation.Viability, &idea.Validation.Overall,
		&idea.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("idea %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan idea: %w", err)
	}
	idea.MarketSummary = marketSummary.String
	if features.Valid && features.String != "" && features.String != "null" {
		if err := json.Unmarshal([]byte(features.String), &idea.Features); err != nil {
			return nil, fmt.Errorf("failed to decode features: %w", err)
		}
	}
	return &idea, nil
}

// ----------------------------------------------------------------------------
// Planning sessions
// ----------------------------------------------------------------------------

// CreateSession inserts a new planning session with no iterations.
func (s *SessionStore) CreateSession(ctx context.Context, sess *PlanningSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now
	if sess.Status == "" {
		sess.Status = StatusPending
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO planning_sessions
		(id, idea_id, domain, status, final_plan, confidence, convergence, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, NULL, ?, ?)`,
		sess.ID, nullString(sess.IdeaID), sess.Domain, string(sess.Status),
		sess.FinalPlan, sess.Confidence, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	logging.Store("Created planning session %s (domain=%s)", sess.ID, sess.Domain)
	return nil
}

// AppendIteration atomically appends one iteration to a session and bumps
// the session confidence. The iteration index must be exactly one past the
// current count; any gap or duplicate is rejected.
func (s *SessionStore) AppendIteration(ctx context.Context, sessionID string, iter *PlanningIteration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM planning_iterations WHERE session_id = ?`, sessionID).Scan(&count); err != nil {
		return fmt.Errorf("failed to count iterations: %w", err)
	}
	if iter.Index != count+1 {
		return fmt.Errorf("iteration index %d out of sequence (have %d iterations)", iter.Index, count)
	}

	metrics, err := json.Marshal(iter.Metrics)
	if err != nil {
		return fmt.Errorf("failed to encode metrics: %w", err)
	}
	suggestions, err := json.Marshal(iter.Suggestions)
	if err != nil {
		return fmt.Errorf("failed to encode suggestions: %w", err)
	}
	if iter.CreatedAt.IsZero() {
		iter.CreatedAt = time.Now().UTC()
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO planning_iterations
		(session_id, idx, context, result_text, metrics, suggestions, confidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, iter.Index, iter.Context, iter.ResultText,
		string(metrics), string(suggestions), iter.Confidence, iter.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert iteration: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE planning_sessions SET confidence = ?, status = ?, updated_at = ?
		WHERE id = ?`,
		iter.Confidence, string(StatusInProgress), time.Now().UTC(), sessionID); err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit iteration: %w", err)
	}
	logging.StoreDebug("Appended iteration %d to session %s", iter.Index, sessionID)
	return nil
}

// FinalizeSession records the terminal status, final plan and convergence
// summary for a session.
func (s *SessionStore) FinalizeSession(ctx context.Context, sessionID string, status SessionStatus, finalPlan string, confidence float64, conv *ConvergenceSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var convJSON any
	if conv != nil {
		data, err := json.Marshal(conv)
		if err != nil {
			return fmt.Errorf("failed to encode convergence: %w", err)
		}
		convJSON = string(data)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE planning_sessions
		SET status = ?, final_plan = ?, confidence = ?, convergence = ?, updated_at = ?
		WHERE id = ?`,
		string(status), finalPlan, confidence, convJSON, time.Now().UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("failed to finalize session: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("session %s %w", sessionID, ErrNotFound)
	}
	logging.Store("Finalized session %s status=%s confidence=%.3f", sessionID, status, confidence)
	return nil
}

// GetSession loads a session with all its iterations in index order.
func (s *SessionStore) GetSession(ctx context.Context, id string) (*PlanningSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sess PlanningSession
	var ideaID, finalPlan, convergence sql.NullString
	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, idea_id, domain, status, final_plan, confidence, convergence, created_at, updated_at
		FROM planning_sessions WHERE id = ?`, id).
		Scan(&sess.ID, &ideaID, &sess.Domain, &status, &finalPlan,
			&sess.Confidence, &convergence, &sess.CreatedAt, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	sess.IdeaID = ideaID.String
	sess.FinalPlan = finalPlan.String
	sess.Status = SessionStatus(status)
	if convergence.Valid && convergence.String != "" {
		var conv ConvergenceSummary
		if err := json.Unmarshal([]byte(convergence.String), &conv); err != nil {
			return nil, fmt.Errorf("failed to decode convergence: %w", err)
		}
		sess.Convergence = &conv
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT idx, context, result_text, metrics, suggestions, confidence, created_at
		FROM planning_iterations WHERE session_id = ? ORDER BY idx ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load iterations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var iter PlanningIteration
		var metrics, suggestions sql.NullString
		if err := rows.Scan(&iter.Index, &iter.Context, &iter.ResultText,
			&metrics, &suggestions, &iter.Confidence, &iter.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan iteration: %w", err)
		}
		if metrics.Valid && metrics.String != "" && metrics.String != "null" {
			if err := json.Unmarshal([]byte(metrics.String), &iter.Metrics); err != nil {
				return nil, fmt.Errorf("failed to decode metrics: %w", err)
			}
		}
		if suggestions.Valid && suggestions.String != "" && suggestions.String != "null" {
			if err := json.Unmarshal([]byte(suggestions.String), &iter.Suggestions); err != nil {
				return nil, fmt.Errorf("failed to decode suggestions: %w", err)
			}
		}
		sess.Iterations = append(sess.Iterations, iter)
	}
	return &sess, rows.Err()
}

// ListSessions returns session summaries (no iterations), optionally
// filtered by domain and status, newest first.
func (s *SessionStore) ListSessions(ctx context.Context, domain string, status SessionStatus) ([]*PlanningSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, idea_id, domain, status, final_plan, confidence, created_at, updated_at
		FROM planning_sessions`
	var conds []string
	var args []any
	if domain != "" {
		conds = append(conds, "domain = ?")
		args = append(args, domain)
	}
	if status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(status))
	}
	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*PlanningSession
	for rows.Next() {
		var sess PlanningSession
		var ideaID, finalPlan sql.NullString
		var st string
		if err := rows.Scan(&sess.ID, &ideaID, &sess.Domain, &st, &finalPlan,
			&sess.Confidence, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sess.IdeaID = ideaID.String
		sess.FinalPlan = finalPlan.String
		sess.Status = SessionStatus(st)
		sessions = append(sessions, &sess)
	}
	return sessions, rows.Err()
}

// ----------------------------------------------------------------------------
// Projects
// ----------------------------------------------------------------------------

// SaveProject records a developed project.
func (s *SessionStore) SaveProject(ctx context.Context, p *Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO projects (id, name, language, path, github_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Language, p.Path, nullString(p.GitHubURL), p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save project: %w", err)
	}
	return nil
}

// ListProjects returns all recorded projects, newest first.
func (s *SessionStore) ListProjects(ctx context.Context) ([]*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, language, path, github_url, created_at
		FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		var p Project
		var ghURL sql.NullString
		if err := rows.Scan(&p.ID, &p.Name, &p.Language, &p.Path, &ghURL, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		p.GitHubURL = ghURL.String
		projects = append(projects, &p)
	}
	return projects, rows.Err()
}

// ----------------------------------------------------------------------------
// Stats
// ----------------------------------------------------------------------------

// Stats summarizes store contents for the status command.
type Stats struct {
	Ideas      int `json:"ideas"`
	Sessions   int `json:"sessions"`
	Iterations int `json:"iterations"`
	Projects   int `json:"projects"`
}

// GetStats returns row counts for each aggregate.
func (s *SessionStore) GetStats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &Stats{}
	counts := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM ideas", &stats.Ideas},
		{"SELECT COUNT(*) FROM planning_sessions", &stats.Sessions},
		{"SELECT COUNT(*) FROM planning_iterations", &stats.Iterations},
		{"SELECT COUNT(*) FROM projects", &stats.Projects},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("failed to collect stats: %w", err)
		}
	}
	return stats, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
