package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the file-backed Store for single-node deployments. Writes
// are serialized through one mutex and one connection; the chain head and
// sequence counter are recovered from the table on open.
type SQLiteStore struct {
	db        *sql.DB
	mu        sync.Mutex
	sequence  uint64
	chainHead string
}

// OpenSQLite opens or creates the audit database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, chainHead: genesisHash}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.recoverHead(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	ctx := context.Background()
	for _, pragma := range []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=FULL;`,
		`PRAGMA busy_timeout=10000;`,
	} {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("sqlite pragma: %w", err)
		}
	}

	query := `
	CREATE TABLE IF NOT EXISTS audit_records (
		sequence      INTEGER PRIMARY KEY,
		record_id     TEXT NOT NULL,
		request_id    TEXT NOT NULL UNIQUE,
		tool_name     TEXT NOT NULL,
		actor_id      TEXT NOT NULL,
		actor_role    TEXT NOT NULL,
		actor_org     TEXT NOT NULL DEFAULT '',
		decision      TEXT NOT NULL,
		status        TEXT NOT NULL DEFAULT '',
		fault_code    TEXT NOT NULL DEFAULT '',
		fault_message TEXT NOT NULL DEFAULT '',
		fault_detail  TEXT,
		result_digest TEXT NOT NULL DEFAULT '',
		started_at    TEXT NOT NULL DEFAULT '',
		finished_at   TEXT NOT NULL,
		recorded_at   TEXT NOT NULL,
		prev_hash     TEXT NOT NULL,
		hash          TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_actor ON audit_records(actor_id);
	CREATE INDEX IF NOT EXISTS idx_audit_tool ON audit_records(tool_name);`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("sqlite migrate: %w", err)
	}
	return nil
}

func (s *SQLiteStore) recoverHead() error {
	row := s.db.QueryRowContext(context.Background(),
		`SELECT sequence, hash FROM audit_records ORDER BY sequence DESC LIMIT 1`)
	var seq uint64
	var hash string
	err := row.Scan(&seq, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("sqlite recover chain head: %w", err)
	}
	s.sequence = seq
	s.chainHead = hash
	return nil
}

// Append inserts rec at the next sequence position, replaying the stored
// record when the request id already exists.
func (s *SQLiteStore) Append(ctx context.Context, rec Record) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, found, err := s.getByRequestID(ctx, rec.RequestID)
	if err != nil {
		return Record{}, false, err
	}
	if found {
		return existing, true, nil
	}

	rec.Sequence = s.sequence + 1
	if rec.RecordID == "" {
		rec.RecordID = uuid.New().String()
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	rec.PrevHash = s.chainHead

	hash, err := computeRecordHash(rec)
	if err != nil {
		return Record{}, false, err
	}
	rec.Hash = hash

	var detail any
	if rec.FaultDetail != nil {
		detail = string(rec.FaultDetail)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO audit_records (
		sequence, record_id, request_id, tool_name, actor_id, actor_role, actor_org,
		decision, status, fault_code, fault_message, fault_detail, result_digest,
		started_at, finished_at, recorded_at, prev_hash, hash
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Sequence, rec.RecordID, rec.RequestID, rec.ToolName, rec.ActorID, string(rec.ActorRole), rec.ActorOrg,
		rec.Decision, rec.Status, rec.FaultCode, rec.FaultMessage, detail, rec.ResultDigest,
		formatTime(rec.StartedAt), formatTime(rec.FinishedAt), formatTime(rec.RecordedAt), rec.PrevHash, rec.Hash,
	)
	if err != nil {
		return Record{}, false, fmt.Errorf("sqlite append: %w", err)
	}

	s.sequence = rec.Sequence
	s.chainHead = rec.Hash
	return rec, false, nil
}

func (s *SQLiteStore) getByRequestID(ctx context.Context, requestID string) (Record, bool, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE request_id = ?`, requestID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("sqlite lookup by request id: %w", err)
	}
	return rec, true, nil
}

// Query returns matching records in sequence order. Equality filters run in
// SQL; time windows and the limit are applied after scanning because the
// timestamp columns are variable-precision RFC 3339 strings.
func (s *SQLiteStore) Query(ctx context.Context, f Filter) ([]Record, error) {
	query := selectColumns
	var clauses []string
	var args []any
	if f.ActorID != "" {
		clauses = append(clauses, "actor_id = ?")
		args = append(args, f.ActorID)
	}
	if f.ToolName != "" {
		clauses = append(clauses, "tool_name = ?")
		args = append(args, f.ToolName)
	}
	if f.Decision != "" {
		clauses = append(clauses, "decision = ?")
		args = append(args, f.Decision)
	}
	if f.AfterSeq > 0 {
		clauses = append(clauses, "sequence > ?")
		args = append(args, f.AfterSeq)
	}
	for i, c := range clauses {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY sequence ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite scan: %w", err)
		}
		if !f.Since.IsZero() && rec.RecordedAt.Before(f.Since) {
			continue
		}
		if !f.Until.IsZero() && rec.RecordedAt.After(f.Until) {
			continue
		}
		results = append(results, rec)
		if f.Limit > 0 && len(results) >= f.Limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite query: %w", err)
	}
	return results, nil
}

// VerifyChain loads every record in sequence order and recomputes the chain.
func (s *SQLiteStore) VerifyChain(ctx context.Context) (uint64, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` ORDER BY sequence ASC`)
	if err != nil {
		return 0, fmt.Errorf("sqlite verify: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return 0, fmt.Errorf("sqlite verify scan: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("sqlite verify: %w", err)
	}
	return verifyRecords(records)
}

// Ping checks the underlying database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const selectColumns = `SELECT sequence, record_id, request_id, tool_name, actor_id, actor_role, actor_org,
	decision, status, fault_code, fault_message, fault_detail, result_digest,
	started_at, finished_at, recorded_at, prev_hash, hash FROM audit_records`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec        Record
		detail     sql.NullString
		startedAt  string
		finishedAt string
		recordedAt string
	)
	err := row.Scan(
		&rec.Sequence, &rec.RecordID, &rec.RequestID, &rec.ToolName, &rec.ActorID, &rec.ActorRole, &rec.ActorOrg,
		&rec.Decision, &rec.Status, &rec.FaultCode, &rec.FaultMessage, &detail, &rec.ResultDigest,
		&startedAt, &finishedAt, &recordedAt, &rec.PrevHash, &rec.Hash,
	)
	if err != nil {
		return Record{}, err
	}
	if detail.Valid && detail.String != "" {
		rec.FaultDetail = json.RawMessage(detail.String)
	}
	rec.StartedAt = parseStoredTime(startedAt)
	rec.FinishedAt = parseStoredTime(finishedAt)
	rec.RecordedAt = parseStoredTime(recordedAt)
	return rec, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseStoredTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}
