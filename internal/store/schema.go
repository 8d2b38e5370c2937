package store

// -- PostgreSQL --

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS verified_targets (
        conversation_id TEXT PRIMARY KEY,
        domain TEXT NOT NULL,
        verified_at TIMESTAMPTZ NOT NULL
    )`,
	`CREATE TABLE IF NOT EXISTS tool_results (
        execution_id TEXT PRIMARY KEY,
        conversation_id TEXT NOT NULL,
        tool_name TEXT NOT NULL,
        target TEXT NOT NULL DEFAULT '',
        success BOOLEAN NOT NULL,
        started_at TIMESTAMPTZ NOT NULL,
        payload JSONB NOT NULL
    )`,
	`CREATE INDEX IF NOT EXISTS idx_tool_results_conversation ON tool_results (conversation_id, started_at)`,
	`CREATE TABLE IF NOT EXISTS agent_contexts (
        conversation_id TEXT PRIMARY KEY,
        payload JSONB NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL
    )`,
}

const (
	sqlUpsertVerifiedTarget = `
        INSERT INTO verified_targets (conversation_id, domain, verified_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (conversation_id) DO UPDATE SET
            domain = EXCLUDED.domain,
            verified_at = EXCLUDED.verified_at;
    `
	sqlListVerifiedTargets = `
        SELECT conversation_id, domain, verified_at
        FROM verified_targets
        ORDER BY verified_at DESC
        LIMIT $1;
    `
	sqlInsertToolResult = `
        INSERT INTO tool_results (execution_id, conversation_id, tool_name, target, success, started_at, payload)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (execution_id) DO NOTHING;
    `
	// The inner query takes the newest rows; the outer one restores oldest-first order.
	sqlRecentToolResults = `
        SELECT payload FROM (
            SELECT payload, started_at
            FROM tool_results
            WHERE conversation_id = $1
            ORDER BY started_at DESC
            LIMIT $2
        ) recent
        ORDER BY started_at ASC;
    `
	sqlUpsertAgentContext = `
        INSERT INTO agent_contexts (conversation_id, payload, updated_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (conversation_id) DO UPDATE SET
            payload = EXCLUDED.payload,
            updated_at = EXCLUDED.updated_at;
    `
)

// -- SQLite --

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS verified_targets (
    conversation_id TEXT PRIMARY KEY,
    domain TEXT NOT NULL,
    verified_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS tool_results (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    execution_id TEXT NOT NULL UNIQUE,
    conversation_id TEXT NOT NULL,
    tool_name TEXT NOT NULL,
    target TEXT NOT NULL DEFAULT '',
    success INTEGER NOT NULL,
    started_at TEXT NOT NULL,
    payload TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tool_results_conversation ON tool_results(conversation_id);
CREATE TABLE IF NOT EXISTS agent_contexts (
    conversation_id TEXT PRIMARY KEY,
    payload TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
`
