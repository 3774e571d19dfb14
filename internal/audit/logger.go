package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// Audited actions.
const (
	ActionUserRegistered   = "user.registered"
	ActionUserLogin        = "user.login"
	ActionFederatedLogin   = "user.login.google"
	ActionClientRegistered = "client.registered"
	ActionTokenIssued      = "token.issued"
	ActionTokenRevoked     = "token.revoked"
)

// Entry represents a structured audit event.
type Entry struct {
	UserID     string
	Action     string
	Resource   string
	ResourceID string
	IPAddress  string
	UserAgent  string
	Context    map[string]any
	OccurredAt time.Time
}

// Logger writes audit entries into the database.
type Logger struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// New constructs a Logger.
func New(db *sqlx.DB, logger *zap.Logger) *Logger {
	return &Logger{db: db, logger: logger}
}

// Record persists an audit entry, logging failures but not interrupting flows.
func (l *Logger) Record(ctx context.Context, entry Entry) {
	if l == nil || entry.Action == "" {
		return
	}

	payload := "{}"
	if entry.Context != nil {
		raw, err := json.Marshal(entry.Context)
		if err != nil {
			l.logger.Warn("failed to encode audit context", zap.String("action", entry.Action), zap.Error(err))
		} else {
			payload = string(raw)
		}
	}

	userID := sql.NullString{String: entry.UserID, Valid: entry.UserID != ""}
	_, err := l.db.ExecContext(ctx, l.db.Rebind(`INSERT INTO audit_logs
		(id, user_id, action, resource_type, resource_id, ip_address, user_agent, context, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		uuid.NewString(), userID, entry.Action, entry.Resource, entry.ResourceID,
		entry.IPAddress, entry.UserAgent, payload, timeOrDefault(entry.OccurredAt).Unix(),
	)
	if err != nil {
		l.logger.Warn("failed to persist audit log", zap.String("action", entry.Action), zap.Error(err))
	}
}

// Row is a persisted audit entry.
type Row struct {
	ID         string         `db:"id"`
	UserID     sql.NullString `db:"user_id"`
	Action     string         `db:"action"`
	Resource   string         `db:"resource_type"`
	ResourceID string         `db:"resource_id"`
	IPAddress  string         `db:"ip_address"`
	UserAgent  string         `db:"user_agent"`
	Context    string         `db:"context"`
	OccurredAt int64          `db:"occurred_at"`
}

// ListRecent retrieves most recent entries for debugging/ops.
func (l *Logger) ListRecent(ctx context.Context, limit int) ([]Row, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []Row
	err := l.db.SelectContext(ctx, &rows, l.db.Rebind(`SELECT id, user_id, action, resource_type, resource_id,
		ip_address, user_agent, context, occurred_at
		FROM audit_logs ORDER BY occurred_at DESC, id LIMIT ?`), limit)
	return rows, err
}

func timeOrDefault(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
