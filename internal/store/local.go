package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/xkilldash9x/vigil-cli/api/schemas"
)

// LocalStore implements schemas.MemoryStore on a single SQLite file for
// single-user installs with no PostgreSQL server.
type LocalStore struct {
	db     *sql.DB
	dbPath string
	log    *zap.Logger
}

var _ schemas.MemoryStore = (*LocalStore)(nil)

// NewLocalStore opens (and creates if needed) the SQLite database at path.
// ":memory:" opens a private in-memory database.
func NewLocalStore(path string, logger *zap.Logger) (*LocalStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps an in-memory database alive and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return &LocalStore{db: db, dbPath: path, log: logger.Named("store.sqlite")}, nil
}

// Close closes the database connection.
func (s *LocalStore) Close() error {
	return s.db.Close()
}

func (s *LocalStore) GetVerifiedTarget(ctx context.Context, conversationID string) (string, error) {
	var domain string
	err := s.db.QueryRowContext(ctx, `SELECT domain FROM verified_targets WHERE conversation_id = ?`, conversationID).Scan(&domain)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query verified target: %w", err)
	}
	return domain, nil
}

func (s *LocalStore) SaveVerifiedTarget(ctx context.Context, conversationID, domain string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO verified_targets (conversation_id, domain, verified_at) VALUES (?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET domain = excluded.domain, verified_at = excluded.verified_at`,
		conversationID, domain, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to save verified target: %w", err)
	}
	return nil
}

func (s *LocalStore) ListVerifiedTargets(ctx context.Context, limit int) ([]schemas.VerifiedTarget, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT conversation_id, domain, verified_at FROM verified_targets
		ORDER BY verified_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query verified targets: %w", err)
	}
	defer rows.Close()

	var targets []schemas.VerifiedTarget
	for rows.Next() {
		var vt schemas.VerifiedTarget
		var verifiedAt string
		if err := rows.Scan(&vt.ConversationID, &vt.Domain, &verifiedAt); err != nil {
			return nil, fmt.Errorf("failed to scan verified target row: %w", err)
		}
		vt.VerifiedAt = parseTime(verifiedAt)
		targets = append(targets, vt)
	}
	return targets, rows.Err()
}

func (s *LocalStore) SaveToolResult(ctx context.Context, conversationID string, result schemas.ToolResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode tool result %s: %w", result.ExecutionID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO tool_results (execution_id, conversation_id, tool_name, target, success, started_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		result.ExecutionID, conversationID, result.ToolName, result.Target, result.Success, formatTime(result.StartedAt), string(payload))
	if err != nil {
		return fmt.Errorf("failed to insert tool result: %w", err)
	}
	return nil
}

func (s *LocalStore) RecentToolResults(ctx context.Context, conversationID string, limit int) ([]schemas.ToolResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM tool_results WHERE conversation_id = ?
		ORDER BY seq DESC LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query tool results: %w", err)
	}
	defer rows.Close()

	var results []schemas.ToolResult
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan tool result row: %w", err)
		}
		var r schemas.ToolResult
		if err := json.UnmarshalFromString(payload, &r); err != nil {
			return nil, fmt.Errorf("failed to decode tool result payload: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// newest first from the query; callers expect oldest first.
	for i, j := 0, len(results)-1; i < j; i, j = i+1, j-1 {
		results[i], results[j] = results[j], results[i]
	}
	return results, nil
}

func (s *LocalStore) SaveAgentContext(ctx context.Context, conversationID string, agentCtx schemas.AgentContext) error {
	payload, err := json.MarshalToString(agentCtx)
	if err != nil {
		return fmt.Errorf("failed to encode agent context: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agent_contexts (conversation_id, payload, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		conversationID, payload, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to save agent context: %w", err)
	}
	return nil
}

func (s *LocalStore) LoadAgentContext(ctx context.Context, conversationID string) (*schemas.AgentContext, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM agent_contexts WHERE conversation_id = ?`, conversationID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query agent context: %w", err)
	}
	var agentCtx schemas.AgentContext
	if err := json.UnmarshalFromString(payload, &agentCtx); err != nil {
		return nil, fmt.Errorf("failed to decode agent context: %w", err)
	}
	return &agentCtx, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
