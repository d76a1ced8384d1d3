package jobstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opsforge/fleet-orchestrator/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore provides SQLite-backed execution record persistence
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// Open creates a SQLiteStore with the given database path
func Open(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, err
	}

	// Run migrations
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateBatch persists the parent and all children in one transaction
func (s *SQLiteStore) CreateBatch(parent *domain.BatchExecution, children []*domain.ChildExecution) error {
	targetsJSON, err := json.Marshal(parent.Targets)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO batches (id, procedure_ref, targets, strategy, concurrency_limit, stop_on_failure, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		parent.ID,
		parent.ProcedureRef,
		string(targetsJSON),
		string(parent.Policy.Strategy),
		parent.Policy.ConcurrencyLimit,
		parent.Policy.StopOnFailure,
		string(parent.Status),
		parent.CreatedAt,
	)
	if err != nil {
		return err
	}

	for _, c := range children {
		_, err = tx.Exec(`
			INSERT INTO children (id, batch_id, target_id, sequence_index, status)
			VALUES (?, ?, ?, ?, ?)
		`, c.ID, c.BatchID, c.TargetID, c.SequenceIndex, string(c.Status))
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetBatch retrieves a parent record by id
func (s *SQLiteStore) GetBatch(id string) (*domain.BatchExecution, error) {
	row := s.db.QueryRow(`
		SELECT id, procedure_ref, targets, strategy, concurrency_limit, stop_on_failure, status, created_at, started_at, completed_at
		FROM batches WHERE id = ?
	`, id)

	b, err := scanBatch(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return b, err
}

// ListBatches returns the most recent batches, newest first
func (s *SQLiteStore) ListBatches(limit int) ([]*domain.BatchExecution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, procedure_ref, targets, strategy, concurrency_limit, stop_on_failure, status, created_at, started_at, completed_at
		FROM batches ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batches []*domain.BatchExecution
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// UpdateParent updates a parent's status and timestamps
func (s *SQLiteStore) UpdateParent(id string, status domain.Status, startedAt, completedAt *time.Time) error {
	res, err := s.db.Exec(`
		UPDATE batches SET status = ?,
			started_at = COALESCE(?, started_at),
			completed_at = COALESCE(?, completed_at)
		WHERE id = ?
	`, string(status), nullTime(startedAt), nullTime(completedAt), id)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

// GetChild retrieves a child record by id
func (s *SQLiteStore) GetChild(id string) (*domain.ChildExecution, error) {
	row := s.db.QueryRow(`
		SELECT id, batch_id, target_id, sequence_index, status, executor_handle, error, started_at, completed_at
		FROM children WHERE id = ?
	`, id)

	c, err := scanChild(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return c, err
}

// ListChildren returns a batch's children in sequence order
func (s *SQLiteStore) ListChildren(batchID string) ([]*domain.ChildExecution, error) {
	rows, err := s.db.Query(`
		SELECT id, batch_id, target_id, sequence_index, status, executor_handle, error, started_at, completed_at
		FROM children WHERE batch_id = ? ORDER BY sequence_index
	`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var children []*domain.ChildExecution
	for rows.Next() {
		c, err := scanChild(rows)
		if err != nil {
			return nil, err
		}
		children = append(children, c)
	}
	return children, rows.Err()
}

// UpdateChild writes a child record back. The dispatcher owns all child
// mutations for a batch, so a whole-record write is race-free.
func (s *SQLiteStore) UpdateChild(child *domain.ChildExecution) error {
	res, err := s.db.Exec(`
		UPDATE children SET status = ?, executor_handle = ?, error = ?, started_at = ?, completed_at = ?
		WHERE id = ?
	`,
		string(child.Status),
		child.ExecutorHandle,
		child.Error,
		nullTime(child.StartedAt),
		nullTime(child.CompletedAt),
		child.ID,
	)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

// AppendChildLogs inserts output lines for a child in bulk
func (s *SQLiteStore) AppendChildLogs(childID string, lines []LogLine) error {
	if len(lines) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO child_logs (child_id, line_number, content, log_level, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, l := range lines {
		ts := l.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		level := l.Level
		if level == "" {
			level = "INFO"
		}
		if _, err := stmt.Exec(childID, l.Line, l.Content, level, ts); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetChildLogs returns log lines for a child, ordered by line number
func (s *SQLiteStore) GetChildLogs(childID string, startLine, limit int) ([]LogLine, error) {
	query := `SELECT line_number, content, log_level, timestamp FROM child_logs WHERE child_id = ?`
	args := []interface{}{childID}

	if startLine > 0 {
		query += " AND line_number >= ?"
		args = append(args, startLine)
	}
	query += " ORDER BY line_number"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []LogLine
	for rows.Next() {
		var l LogLine
		if err := rows.Scan(&l.Line, &l.Content, &l.Level, &l.Timestamp); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// PruneLogs deletes log lines older than the cutoff and reports the count
func (s *SQLiteStore) PruneLogs(olderThan time.Time) (int, error) {
	res, err := s.db.Exec(`DELETE FROM child_logs WHERE timestamp < ?`, olderThan)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// CountByStatus returns batch counts grouped by status
func (s *SQLiteStore) CountByStatus() (map[domain.Status]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM batches GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[domain.Status(status)] = n
	}
	return counts, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanBatch(row scanner) (*domain.BatchExecution, error) {
	var b domain.BatchExecution
	var targetsJSON, strategy, status string
	var startedAt, completedAt sql.NullTime

	err := row.Scan(&b.ID, &b.ProcedureRef, &targetsJSON, &strategy,
		&b.Policy.ConcurrencyLimit, &b.Policy.StopOnFailure, &status,
		&b.CreatedAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	b.Policy.Strategy = domain.Strategy(strategy)
	b.Status = domain.Status(status)
	if err := json.Unmarshal([]byte(targetsJSON), &b.Targets); err != nil {
		return nil, err
	}
	if startedAt.Valid {
		b.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		b.CompletedAt = &completedAt.Time
	}

	return &b, nil
}

func scanChild(row scanner) (*domain.ChildExecution, error) {
	var c domain.ChildExecution
	var status string
	var handle, errMsg sql.NullString
	var startedAt, completedAt sql.NullTime

	err := row.Scan(&c.ID, &c.BatchID, &c.TargetID, &c.SequenceIndex,
		&status, &handle, &errMsg, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	c.Status = domain.Status(status)
	if handle.Valid {
		c.ExecutorHandle = handle.String
	}
	if errMsg.Valid {
		c.Error = errMsg.String
	}
	if startedAt.Valid {
		c.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		c.CompletedAt = &completedAt.Time
	}

	return &c, nil
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
