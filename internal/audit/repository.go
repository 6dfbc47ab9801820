// Package audit records operator changes to automations and plants in the
// audit_logs table and serves them back for review.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Actions recorded by the API.
const (
	ActionCreate   = "create"
	ActionUpdate   = "update"
	ActionDelete   = "delete"
	ActionStart    = "start"
	ActionStop     = "stop"
	ActionIrrigate = "irrigate"
	ActionOptimize = "optimize"
)

// Entity types.
const (
	EntityAutomation = "automation"
	EntityPlant      = "plant"
)

// SourceAPI tags entries written by the HTTP API.
const SourceAPI = "api"

// timeLayout is fixed width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Page size bounds for List.
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// Entry is a single audit trail record.
type Entry struct {
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	Source     string         `json:"source"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Filter controls which entries List returns. Empty fields match everything.
type Filter struct {
	Action     string
	EntityType string
	EntityID   string
	UserID     string
	Since      time.Time
	Limit      int // default 50, max 200
	Offset     int
}

// ListResult is one page of entries, newest first.
type ListResult struct {
	Logs   []Entry `json:"logs"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// Repository stores audit entries.
type Repository interface {
	Create(ctx context.Context, e *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository implements Repository on the audit_logs table.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates an audit repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// Create inserts e, generating its ID and CreatedAt when empty.
func (r *SQLiteRepository) Create(ctx context.Context, e *Entry) error {
	if e.Action == "" || e.EntityType == "" {
		return fmt.Errorf("audit entry needs an action and entity type")
	}
	if e.ID == "" {
		e.ID = "aud-" + uuid.NewString()[:8]
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now().UTC()
	}
	if e.Source == "" {
		e.Source = SourceAPI
	}

	var details sql.NullString
	if len(e.Details) > 0 {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("marshalling audit details: %w", err)
		}
		details = sql.NullString{String: string(b), Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, action, entity_type, entity_id, user_id, source, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Action, e.EntityType,
		nullableString(e.EntityID), nullableString(e.UserID),
		e.Source, details,
		e.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

// List returns entries matching filter, newest first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	filter.Limit = clampLimit(filter.Limit)
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	where, args := filter.where()

	var total int
	//nolint:gosec // WHERE is assembled from fixed column names with ? placeholders
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_logs"+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting audit entries: %w", err)
	}

	//nolint:gosec // WHERE is assembled from fixed column names with ? placeholders
	query := `SELECT id, action, entity_type, entity_id, user_id, source, details, created_at
		FROM audit_logs` + where + ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	defer rows.Close()

	logs := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}

	return &ListResult{Logs: logs, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

func (f Filter) where() (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(col, val string) {
		if val != "" {
			conds = append(conds, col+" = ?")
			args = append(args, val)
		}
	}
	add("action", f.Action)
	add("entity_type", f.EntityType)
	add("entity_id", f.EntityID)
	add("user_id", f.UserID)
	if !f.Since.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, f.Since.UTC().Format(timeLayout))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		e                         Entry
		entityID, userID, details sql.NullString
		createdAt                 string
	)
	if err := rows.Scan(&e.ID, &e.Action, &e.EntityType, &entityID, &userID, &e.Source, &details, &createdAt); err != nil {
		return Entry{}, fmt.Errorf("scanning audit entry: %w", err)
	}
	e.EntityID = entityID.String
	e.UserID = userID.String

	if details.Valid && details.String != "" {
		if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
			return Entry{}, fmt.Errorf("decoding audit details for %s: %w", e.ID, err)
		}
	}

	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Entry{}, fmt.Errorf("parsing audit timestamp %q: %w", createdAt, err)
	}
	e.CreatedAt = t
	return e, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
