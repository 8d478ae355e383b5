package audit

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteLog persists the audit trail in a sqlite database. The chain
// head and sequence live in memory behind a mutex, so appends through a
// single SQLiteLog keep the chain consistent even under concurrency.
type SQLiteLog struct {
	db *sql.DB

	mu        sync.Mutex
	sequence  uint64
	chainHead string
	clock     func() time.Time
}

// NewSQLiteLog creates (or reopens) an audit log on the given database.
// Reopening resumes the chain from the last persisted entry.
func NewSQLiteLog(db *sql.DB) (*SQLiteLog, error) {
	l := &SQLiteLog{
		db:        db,
		chainHead: genesisHash,
		clock:     time.Now,
	}
	if err := l.migrate(); err != nil {
		return nil, err
	}
	if err := l.loadHead(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *SQLiteLog) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_entries (
		id TEXT PRIMARY KEY,
		sequence INTEGER NOT NULL UNIQUE,
		timestamp TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		action TEXT NOT NULL,
		target TEXT NOT NULL,
		result TEXT NOT NULL,
		success INTEGER NOT NULL,
		detail JSON,
		payload_hash TEXT NOT NULL,
		previous_hash TEXT NOT NULL,
		entry_hash TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_agent ON audit_entries(agent_id);
	CREATE INDEX IF NOT EXISTS idx_audit_session ON audit_entries(session_id);`
	_, err := l.db.ExecContext(context.Background(), query)
	return err
}

func (l *SQLiteLog) loadHead() error {
	row := l.db.QueryRowContext(context.Background(),
		`SELECT sequence, entry_hash FROM audit_entries ORDER BY sequence DESC LIMIT 1`)
	var seq uint64
	var head string
	err := row.Scan(&seq, &head)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load audit chain head: %w", err)
	}
	l.sequence = seq
	l.chainHead = head
	return nil
}

// Append adds a record to the persisted log.
func (l *SQLiteLog) Append(ctx context.Context, record Record) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, err := buildEntry(record, l.sequence+1, l.chainHead, l.clock())
	if err != nil {
		return nil, err
	}
	_, err = l.db.ExecContext(ctx, `INSERT INTO audit_entries (
		id, sequence, timestamp, agent_id, session_id, action, target,
		result, success, detail, payload_hash, previous_hash, entry_hash
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Sequence, entry.Timestamp.Format(time.RFC3339Nano),
		entry.AgentID, entry.SessionID, string(entry.Action), entry.Target,
		string(entry.Result), entry.Success, string(entry.Detail),
		entry.PayloadHash, entry.PreviousHash, entry.EntryHash,
	)
	if err != nil {
		return nil, fmt.Errorf("insert audit entry: %w", err)
	}
	l.sequence = entry.Sequence
	l.chainHead = entry.EntryHash
	return entry, nil
}

// Query returns persisted entries matching the filter, most recent
// first. A limit keeps the newest matches.
func (l *SQLiteLog) Query(ctx context.Context, filter QueryFilter) ([]*Entry, error) {
	return l.selectEntries(ctx, filter, "DESC")
}

func (l *SQLiteLog) selectEntries(ctx context.Context, filter QueryFilter, order string) ([]*Entry, error) {
	query := `SELECT id, sequence, timestamp, agent_id, session_id, action,
		target, result, success, detail, payload_hash, previous_hash, entry_hash
		FROM audit_entries WHERE 1=1`
	args := make([]any, 0, 4)
	if filter.AgentID != "" {
		query += " AND agent_id = ?"
		args = append(args, filter.AgentID)
	}
	if filter.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, filter.SessionID)
	}
	if filter.Result != "" {
		query += " AND result = ?"
		args = append(args, string(filter.Result))
	}
	if filter.StartTime != nil {
		query += " AND timestamp >= ?"
		args = append(args, filter.StartTime.UTC().Format(time.RFC3339Nano))
	}
	if filter.EndTime != nil {
		query += " AND timestamp <= ?"
		args = append(args, filter.EndTime.UTC().Format(time.RFC3339Nano))
	}
	query += " ORDER BY sequence " + order
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// VerifyChain re-reads every persisted entry from genesis onward and
// recomputes the chain.
func (l *SQLiteLog) VerifyChain(ctx context.Context) error {
	entries, err := l.selectEntries(ctx, QueryFilter{}, "ASC")
	if err != nil {
		return err
	}
	return verifyEntries(entries)
}

func scanEntry(rows *sql.Rows) (*Entry, error) {
	var (
		entry   Entry
		ts      string
		success int
		detail  sql.NullString
	)
	if err := rows.Scan(&entry.ID, &entry.Sequence, &ts, &entry.AgentID,
		&entry.SessionID, &entry.Action, &entry.Target, &entry.Result,
		&success, &detail, &entry.PayloadHash, &entry.PreviousHash,
		&entry.EntryHash); err != nil {
		return nil, err
	}
	parsed, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, fmt.Errorf("parse audit timestamp %q: %w", ts, err)
	}
	entry.Timestamp = parsed
	entry.Success = success != 0
	if detail.Valid {
		entry.Detail = []byte(detail.String)
	}
	return &entry, nil
}
