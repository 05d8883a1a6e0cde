package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/yunze7373/traffic-tool/internal/domain"
)

const defaultQueryLimit = 100

// TrafficRepository implements domain.TrafficRepository on PostgreSQL, for
// deployments that already run a shared database instead of a local file.
// The contract is identical to the SQLite repository: append-only, monotonic
// BIGSERIAL record ids, newest-first queries.
type TrafficRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewTrafficRepository wraps an open connection pool. Call Migrate before
// first use.
func NewTrafficRepository(db *sql.DB, logger *slog.Logger) *TrafficRepository {
	return &TrafficRepository{
		db:     db,
		logger: logger.With("component", "postgres_repository"),
	}
}

// Migrate creates the traffic_logs table and device index if missing.
func (r *TrafficRepository) Migrate(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS traffic_logs (
	id               BIGSERIAL PRIMARY KEY,
	timestamp        TIMESTAMPTZ NOT NULL,
	device_id        TEXT NOT NULL,
	method           TEXT,
	url              TEXT,
	host             TEXT,
	request_headers  JSONB,
	request_body     TEXT,
	response_status  INTEGER,
	response_headers JSONB,
	response_body    TEXT
);
CREATE INDEX IF NOT EXISTS idx_traffic_device_id ON traffic_logs(device_id);
`
	if _, err := r.db.ExecContext(ctx, ddl); err != nil {
		return &domain.StoreError{Op: "migrate", Err: err}
	}
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

	var id int64
	err = r.db.QueryRowContext(ctx, `
INSERT INTO traffic_logs (
	timestamp, device_id, method, url, host,
	request_headers, request_body, response_status, response_headers, response_body
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING id;
`,
		record.Timestamp,
		record.DeviceID,
		record.Method,
		record.URL,
		record.Host,
		reqHeaders,
		record.RequestBody,
		record.ResponseStatus,
		respHeaders,
		record.ResponseBody,
	).Scan(&id)
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
		query += "WHERE device_id = $1\nORDER BY id DESC LIMIT $2;"
		args = append(args, deviceID, limit)
	} else {
		query += "ORDER BY id DESC LIMIT $1;"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &domain.StoreError{Op: "query", Err: err}
	}
	defer rows.Close()

	out := make([]domain.TrafficRecord, 0, limit)
	for rows.Next() {
		var (
			rec         domain.TrafficRecord
			reqHeaders  sql.NullString
			respHeaders sql.NullString
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.Timestamp,
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
			return nil, &domain.StoreError{Op: "query", Err: err}
		}
		if rec.RequestHeaders, err = unmarshalHeaders(reqHeaders); err != nil {
			return nil, &domain.StoreError{Op: "query", Err: err}
		}
		if rec.ResponseHeaders, err = unmarshalHeaders(respHeaders); err != nil {
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
	return r.db.Close()
}

func marshalHeaders(h map[string]string) (sql.NullString, error) {
	if len(h) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(h)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal headers: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalHeaders(s sql.NullString) (map[string]string, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var h map[string]string
	if err := json.Unmarshal([]byte(s.String), &h); err != nil {
		return nil, fmt.Errorf("unmarshal headers: %w", err)
	}
	return h, nil
}
