package jobstore

const schema = `
CREATE TABLE IF NOT EXISTS batches (
    id TEXT PRIMARY KEY,
    procedure_ref TEXT NOT NULL,
    targets TEXT NOT NULL,
    strategy TEXT NOT NULL,
    concurrency_limit INTEGER NOT NULL DEFAULT 0,
    stop_on_failure BOOLEAN NOT NULL DEFAULT FALSE,
    status TEXT NOT NULL DEFAULT 'pending',
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    started_at TIMESTAMP,
    completed_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_batches_status ON batches(status);

CREATE TABLE IF NOT EXISTS children (
    id TEXT PRIMARY KEY,
    batch_id TEXT NOT NULL REFERENCES batches(id) ON DELETE CASCADE,
    target_id TEXT NOT NULL,
    sequence_index INTEGER NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    executor_handle TEXT,
    error TEXT,
    started_at TIMESTAMP,
    completed_at TIMESTAMP,
    UNIQUE(batch_id, target_id)
);

CREATE INDEX IF NOT EXISTS idx_children_batch_id ON children(batch_id);
CREATE INDEX IF NOT EXISTS idx_children_status ON children(status);

CREATE TABLE IF NOT EXISTS child_logs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    child_id TEXT NOT NULL REFERENCES children(id) ON DELETE CASCADE,
    line_number INTEGER NOT NULL,
    content TEXT NOT NULL,
    log_level TEXT DEFAULT 'INFO',
    timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_child_logs_child_id ON child_logs(child_id);
CREATE INDEX IF NOT EXISTS idx_child_logs_timestamp ON child_logs(timestamp);
`
