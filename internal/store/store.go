package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/vigil-cli/api/schemas"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Close()
}

// Store provides a PostgreSQL implementation of schemas.MemoryStore.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

var _ schemas.MemoryStore = (*Store)(nil)

// toolResultColumns is the column order used by both the single insert and CopyFrom.
var toolResultColumns = []string{"execution_id", "conversation_id", "tool_name", "target", "success", "started_at", "payload"}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// Migrate creates the tables when they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// -- Verified targets --

func (s *Store) GetVerifiedTarget(ctx context.Context, conversationID string) (string, error) {
	var domain string
	err := s.pool.QueryRow(ctx, `SELECT domain FROM verified_targets WHERE conversation_id = $1`, conversationID).Scan(&domain)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query verified target: %w", err)
	}
	return domain, nil
}

func (s *Store) SaveVerifiedTarget(ctx context.Context, conversationID, domain string) error {
	_, err := s.pool.Exec(ctx, sqlUpsertVerifiedTarget, conversationID, domain, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save verified target: %w", err)
	}
	return nil
}

func (s *Store) ListVerifiedTargets(ctx context.Context, limit int) ([]schemas.VerifiedTarget, error) {
	rows, err := s.pool.Query(ctx, sqlListVerifiedTargets, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query verified targets: %w", err)
	}
	defer rows.Close()

	var targets []schemas.VerifiedTarget
	for rows.Next() {
		var vt schemas.VerifiedTarget
		if err := rows.Scan(&vt.ConversationID, &vt.Domain, &vt.VerifiedAt); err != nil {
			return nil, fmt.Errorf("failed to scan verified target row: %w", err)
		}
		targets = append(targets, vt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return targets, nil
}

// -- Tool results --

func (s *Store) SaveToolResult(ctx context.Context, conversationID string, result schemas.ToolResult) error {
	row, err := toolResultRow(conversationID, result)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, sqlInsertToolResult, row...); err != nil {
		return fmt.Errorf("failed to insert tool result: %w", err)
	}
	return nil
}

// SaveToolResults writes a batch of results for one conversation in a single
// transaction using COPY.
func (s *Store) SaveToolResults(ctx context.Context, conversationID string, results []schemas.ToolResult) error {
	if len(results) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	rows := make([][]any, len(results))
	for i, r := range results {
		if rows[i], err = toolResultRow(conversationID, r); err != nil {
			return err
		}
	}

	copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"tool_results"}, toolResultColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy tool results: %w", err)
	}
	if int(copyCount) != len(results) {
		return fmt.Errorf("mismatch in copied tool results count: expected %d, got %d", len(results), copyCount)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) RecentToolResults(ctx context.Context, conversationID string, limit int) ([]schemas.ToolResult, error) {
	rows, err := s.pool.Query(ctx, sqlRecentToolResults, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query tool results: %w", err)
	}
	defer rows.Close()

	var results []schemas.ToolResult
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan tool result row: %w", err)
		}
		var r schemas.ToolResult
		if err := json.Unmarshal(payload, &r); err != nil {
			return nil, fmt.Errorf("failed to decode tool result payload: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return results, nil
}

// -- Agent context snapshots --

func (s *Store) SaveAgentContext(ctx context.Context, conversationID string, agentCtx schemas.AgentContext) error {
	payload, err := json.Marshal(agentCtx)
	if err != nil {
		return fmt.Errorf("failed to encode agent context: %w", err)
	}
	if _, err := s.pool.Exec(ctx, sqlUpsertAgentContext, conversationID, payload, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to save agent context: %w", err)
	}
	return nil
}

func (s *Store) LoadAgentContext(ctx context.Context, conversationID string) (*schemas.AgentContext, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `SELECT payload FROM agent_contexts WHERE conversation_id = $1`, conversationID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query agent context: %w", err)
	}
	var agentCtx schemas.AgentContext
	if err := json.Unmarshal(payload, &agentCtx); err != nil {
		return nil, fmt.Errorf("failed to decode agent context: %w", err)
	}
	return &agentCtx, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func toolResultRow(conversationID string, r schemas.ToolResult) ([]any, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool result %s: %w", r.ExecutionID, err)
	}
	return []any{r.ExecutionID, conversationID, r.ToolName, r.Target, r.Success, r.StartedAt.UTC(), payload}, nil
}
