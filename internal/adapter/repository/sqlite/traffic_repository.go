package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/yunze7373/traffic-tool/internal/domain"
)

const defaultQueryLimit = 100

// TrafficRepository implements domain.TrafficRepository on SQLite. The table
// is append-only: rows are never updated or deleted by the pipeline, and the
// AUTOINCREMENT primary key doubles as the monotonic record id.
type TrafficRepository struct {
	db     *sql.DB
	ins    *sql.Stmt
	logger *slog.Logger
}

// NewTrafficRepository opens (creating if needed) the SQLite store at path.
func NewTrafficRepository(path string, logger *slog.Logger) (*TrafficRepository, error) {
	if path == "" {
		path = "./mobile_traffic.db"
	}

	// WAL journal mode keeps readers unblocked by concurrent appends;
	// busy_timeout bounds writer contention instead of failing fast.
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &domain.StoreError{Op: "open", Err: err}
	}

	r := &TrafficRepository{
		db:     db,
		logger: logger.With("component", "sqlite_repository"),
	}
	if err := r.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *TrafficRepository) init() error {
	ddl := `
CREATE TABLE IF NOT EXISTS traffic_logs (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp        TEXT NOT NULL,
	device_id        TEXT NOT NULL,
	method           TEXT,
	url              TEXT,
	host             TEXT,
	request_headers  TEXT,
	request_body     TEXT,
	response_status  INTEGER,
	response_headers TEXT,
	response_body    TEXT
);
CREATE INDEX IF NOT EXISTS idx_traffic_device_id ON traffic_logs(device_id);
`
	if _, err := r.db.Exec(ddl); err != nil {
		return &domain.StoreError{Op: "init", Err: err}
	}

	stmt, err := r.db.Prepare(`
INSERT INTO traffic_logs (
	timestamp, device_id, method, url, host,
	request_headers, request_body, response_status, response_headers, response_body
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`)
	if err != nil {
		return &domain.StoreError{Op: "prepare", Err: err}
	}
	r.ins = stmt
	return nil
}

// Append durably writes one record and returns its assigned id.
func (r *TrafficRepository) Append(ctx context.Context, record *domain.TrafficRecord) (int64, error) {
	if record == nil {
		return 0, &domain.StoreError{Op: "append", Err: fmt.Errorf("nil record")}
	}

	reqHeaders, err := marshalHeaders(record.RequestHeaders)
	if err != nil {
		return 0, &domain.StoreError{Op: "append", Err: err}
	}
	respHeaders, err := marshalHeaders(record.ResponseHeaders)
	if err != nil {
		return 0, &domain.StoreError{Op: "append", Err: err}
	}

	res, err := r.ins.ExecContext(ctx,
		record.Timestamp.Format(time.RFC3339Nano),
		record.DeviceID,
		record.Method,
		record.URL,
		record.Host,
		reqHeaders,
		record.RequestBody,
		record.ResponseStatus,
		respHeaders,
		record.ResponseBody,
	)
	if err != nil {
		return 0, &domain.StoreError{Op: "append", Err: err}
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, &domain.StoreError{Op: "append", Err: err}
	}
	return id, nil
}

// QueryRecent returns up to limit most-recently-appended records, newest
// first. An empty deviceID matches all devices.
func (r *TrafficRepository) QueryRecent(ctx context.Context, deviceID string, limit int) ([]domain.TrafficRecord, error) {
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	query := `
SELECT id, timestamp, device_id, method, url, host,
	request_headers, request_body, response_status, response_headers, response_body
FROM traffic_logs
`
	args := make([]any, 0, 2)
	if deviceID != "" {
		query += "WHERE device_id = ?\n"
		args = append(args, deviceID)
	}
	query += "ORDER BY id DESC LIMIT ?;"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &domain.StoreError{Op: "query", Err: err}
	}
	defer rows.Close()

	out := make([]domain.TrafficRecord, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, &domain.StoreError{Op: "query", Err: err}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StoreError{Op: "query", Err: err}
	}
	return out, nil
}

func (r *TrafficRepository) Close() error {
	var firstErr error
	if r.ins != nil {
		if err := r.ins.Close(); err != nil {
			firstErr = err
		}
	}
	if err := r.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func scanRecord(rows *sql.Rows) (domain.TrafficRecord, error) {
	var (
		rec         domain.TrafficRecord
		ts          string
		reqHeaders  string
		respHeaders string
	)
	if err := rows.Scan(
		&rec.ID,
		&ts,
		&rec.DeviceID,
		&rec.Method,
		&rec.URL,
		&rec.Host,
		&reqHeaders,
		&rec.RequestBody,
		&rec.ResponseStatus,
		&respHeaders,
		&rec.ResponseBody,
	); err != nil {
		return rec, err
	}

	parsed, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return rec, fmt.Errorf("parse timestamp %q: %w", ts, err)
	}
	rec.Timestamp = parsed

	if rec.RequestHeaders, err = unmarshalHeaders(reqHeaders); err != nil {
		return rec, err
	}
	if rec.ResponseHeaders, err = unmarshalHeaders(respHeaders); err != nil {
		return rec, err
	}
	return rec, nil
}

func marshalHeaders(h map[string]string) (string, error) {
	if len(h) == 0 {
		return "", nil
	}
	b, err := json.Marshal(h)
	if err != nil {
		return "", fmt.Errorf("marshal headers: %w", err)
	}
	return string(b), nil
}

func unmarshalHeaders(s string) (map[string]string, error) {
	if s == "" {
		return nil, nil
	}
	var h map[string]string
	if err := json.Unmarshal([]byte(s), &h); err != nil {
		return nil, fmt.Errorf("unmarshal headers: %w", err)
	}
	return h, nil
}
