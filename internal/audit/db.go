package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of *pgxpool.Pool the recorder uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type DBRecorder struct {
	db DB
}

func NewDBRecorder(db DB) *DBRecorder {
	return &DBRecorder{db: db}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS identity_audit_events (
		id         BIGSERIAL PRIMARY KEY,
		action     TEXT NOT NULL,
		user_id    TEXT NOT NULL DEFAULT '',
		for_id     TEXT NOT NULL DEFAULT '',
		providers  TEXT NOT NULL DEFAULT '',
		data       JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS identity_audit_events_user_id_idx
		ON identity_audit_events (user_id, created_at DESC)`,
}

// EnsureSchema creates the audit table when it does not exist yet.
func (r *DBRecorder) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := r.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure audit schema: %w", err)
		}
	}
	return nil
}

// SchemaReady reports whether the audit table exists.
func (r *DBRecorder) SchemaReady(ctx context.Context) (bool, error) {
	rows, err := r.db.Query(ctx, `SELECT to_regclass('identity_audit_events') IS NOT NULL`)
	if err != nil {
		return false, fmt.Errorf("check audit schema: %w", err)
	}
	defer rows.Close()

	var ready bool
	if rows.Next() {
		if err := rows.Scan(&ready); err != nil {
			return false, fmt.Errorf("scan audit schema: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("check audit schema: %w", err)
	}
	return ready, nil
}

func (r *DBRecorder) Record(ctx context.Context, event Event) error {
	action := strings.TrimSpace(event.Action)
	if action == "" {
		return fmt.Errorf("missing audit action")
	}

	data := event.Data
	if data == nil {
		data = map[string]any{}
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode audit data: %w", err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO identity_audit_events (action, user_id, for_id, providers, data)
		VALUES ($1, $2, $3, $4, $5::jsonb)
	`, action, strings.TrimSpace(event.UserID), strings.TrimSpace(event.ForID), event.Providers, string(encoded))
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListByUser returns the newest events where userID was either side of the change.
func (r *DBRecorder) ListByUser(ctx context.Context, userID string, limit int) ([]EventRecord, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("missing userID")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := r.db.Query(ctx, `
		SELECT id::text, action, user_id, for_id, providers, data::text, created_at
		FROM identity_audit_events
		WHERE user_id = $1 OR for_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	records := []EventRecord{}
	for rows.Next() {
		var rec EventRecord
		var dataText string
		var created time.Time
		if err := rows.Scan(&rec.ID, &rec.Action, &rec.UserID, &rec.ForID, &rec.Providers, &dataText, &created); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		rec.CreatedAt = created.UTC().Format(time.RFC3339)

		var parsed map[string]any
		if err := json.Unmarshal([]byte(dataText), &parsed); err == nil && parsed != nil {
			rec.Data = parsed
		} else {
			rec.Data = map[string]any{}
		}

		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}

	return records, nil
}
