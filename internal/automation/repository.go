package automation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository persists automation rules and their execution history.
// This abstraction allows different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// Rule CRUD
	GetByID(ctx context.Context, id string) (*Rule, error)
	List(ctx context.Context) ([]Rule, error)
	ListByPlant(ctx context.Context, plantID string) ([]Rule, error)
	Create(ctx context.Context, rule *Rule) error
	Update(ctx context.Context, rule *Rule) error
	Delete(ctx context.Context, id string) error

	// Execution history
	AppendHistory(ctx context.Context, entry HistoryEntry) error
	ListHistory(ctx context.Context, ruleID string, limit int) ([]HistoryEntry, error)
	ListPlantHistory(ctx context.Context, plantID string, limit int) ([]HistoryEntry, error)
	ListRecentHistory(ctx context.Context, limit int) ([]HistoryEntry, error)
}

// ruleColumns is the SELECT column list for rule queries.
const ruleColumns = `id, plant_id, mode, enabled, triggers, actions, constraints,
			safety_limits, statistics, last_error, created_at, updated_at`

// historyColumns is the SELECT column list for history queries.
const historyColumns = `rule_id, plant_id, action_type, amount, success, blocked,
			device_error, error, executed_at`

// maxHistoryQuery caps history queries. Larger limits are clamped.
const maxHistoryQuery = DefaultHistoryCapacity

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// ─── Rules ──────────────────────────────────────────────────────────────────

// GetByID retrieves a rule by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM automation_rules WHERE id = ?`

	rule, err := scanRule(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRuleNotFound
		}
		return nil, fmt.Errorf("querying rule by id: %w", err)
	}
	return rule, nil
}

// List retrieves all rules ordered by creation time.
func (r *SQLiteRepository) List(ctx context.Context) ([]Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM automation_rules ORDER BY created_at, id`
	return r.queryRules(ctx, query)
}

// ListByPlant retrieves all rules for a plant.
func (r *SQLiteRepository) ListByPlant(ctx context.Context, plantID string) ([]Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM automation_rules WHERE plant_id = ? ORDER BY created_at, id`
	return r.queryRules(ctx, query, plantID)
}

// Create inserts a new rule.
func (r *SQLiteRepository) Create(ctx context.Context, rule *Rule) error {
	cols, err := marshalRuleColumns(rule)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	if rule.UpdatedAt.IsZero() {
		rule.UpdatedAt = now
	}

	query := `
		INSERT INTO automation_rules (
			id, plant_id, mode, enabled, triggers, actions, constraints,
			safety_limits, statistics, last_error, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		rule.ID,
		rule.PlantID,
		string(rule.Mode),
		boolToInt(rule.Enabled),
		cols.triggers,
		cols.actions,
		cols.constraints,
		cols.safety,
		cols.statistics,
		nullableString(rule.LastError),
		rule.CreatedAt.UTC().Format(time.RFC3339Nano),
		rule.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrRuleExists
		}
		return fmt.Errorf("inserting rule: %w", err)
	}
	return nil
}

// Update replaces every mutable column of an existing rule.
func (r *SQLiteRepository) Update(ctx context.Context, rule *Rule) error {
	cols, err := marshalRuleColumns(rule)
	if err != nil {
		return err
	}
	if rule.UpdatedAt.IsZero() {
		rule.UpdatedAt = time.Now().UTC()
	}

	query := `
		UPDATE automation_rules SET
			plant_id = ?, mode = ?, enabled = ?, triggers = ?, actions = ?,
			constraints = ?, safety_limits = ?, statistics = ?, last_error = ?,
			updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		rule.PlantID,
		string(rule.Mode),
		boolToInt(rule.Enabled),
		cols.triggers,
		cols.actions,
		cols.constraints,
		cols.safety,
		cols.statistics,
		nullableString(rule.LastError),
		rule.UpdatedAt.UTC().Format(time.RFC3339Nano),
		rule.ID,
	)
	if err != nil {
		return fmt.Errorf("updating rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// Delete removes a rule and its history.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	result, err := tx.ExecContext(ctx, "DELETE FROM automation_rules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting rule: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrRuleNotFound
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM automation_history WHERE rule_id = ?", id); err != nil {
		return fmt.Errorf("deleting rule history: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing rule delete: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) queryRules(ctx context.Context, query string, args ...any) ([]Rule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying rules: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		rule, scanErr := scanRule(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning rule: %w", scanErr)
		}
		rules = append(rules, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rules: %w", err)
	}
	return rules, nil
}

// ─── History ────────────────────────────────────────────────────────────────

// AppendHistory inserts one execution record.
func (r *SQLiteRepository) AppendHistory(ctx context.Context, e HistoryEntry) error {
	query := `
		INSERT INTO automation_history (
			rule_id, plant_id, action_type, amount, success, blocked,
			device_error, error, executed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		e.RuleID,
		e.PlantID,
		string(e.ActionType),
		e.Amount,
		boolToInt(e.Success),
		boolToInt(e.Blocked),
		boolToInt(e.DeviceError),
		nullableString(e.Error),
		e.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting history entry: %w", err)
	}
	return nil
}

// ListHistory returns a rule's most recent entries, newest first.
func (r *SQLiteRepository) ListHistory(ctx context.Context, ruleID string, limit int) ([]HistoryEntry, error) {
	query := `SELECT ` + historyColumns + ` FROM automation_history
		WHERE rule_id = ? ORDER BY id DESC LIMIT ?`
	return r.queryHistory(ctx, query, ruleID, clampHistoryLimit(limit))
}

// ListPlantHistory returns a plant's most recent entries across all rules,
// newest first.
func (r *SQLiteRepository) ListPlantHistory(ctx context.Context, plantID string, limit int) ([]HistoryEntry, error) {
	query := `SELECT ` + historyColumns + ` FROM automation_history
		WHERE plant_id = ? ORDER BY id DESC LIMIT ?`
	return r.queryHistory(ctx, query, plantID, clampHistoryLimit(limit))
}

// ListRecentHistory returns the most recent entries across all rules,
// newest first.
func (r *SQLiteRepository) ListRecentHistory(ctx context.Context, limit int) ([]HistoryEntry, error) {
	query := `SELECT ` + historyColumns + ` FROM automation_history ORDER BY id DESC LIMIT ?`
	return r.queryHistory(ctx, query, clampHistoryLimit(limit))
}

func (r *SQLiteRepository) queryHistory(ctx context.Context, query string, args ...any) ([]HistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		e, scanErr := scanHistory(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning history entry: %w", scanErr)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history: %w", err)
	}
	return entries, nil
}

func clampHistoryLimit(limit int) int {
	if limit <= 0 {
		return defaultHistoryLimit
	}
	if limit > maxHistoryQuery {
		return maxHistoryQuery
	}
	return limit
}

// ─── Row Scanning Helpers ───────────────────────────────────────────────────

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(scanner rowScanner) (*Rule, error) {
	var rule Rule
	var mode string
	var enabled int
	var triggers, actions, constraints, safety, statistics string
	var lastError sql.NullString
	var createdAt, updatedAt string

	err := scanner.Scan(
		&rule.ID,
		&rule.PlantID,
		&mode,
		&enabled,
		&triggers,
		&actions,
		&constraints,
		&safety,
		&statistics,
		&lastError,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rule.Mode = Mode(mode)
	rule.Enabled = enabled != 0
	if lastError.Valid {
		rule.LastError = lastError.String
	}

	for _, col := range []struct {
		name string
		raw  string
		dst  any
	}{
		{"triggers", triggers, &rule.Triggers},
		{"actions", actions, &rule.Actions},
		{"constraints", constraints, &rule.Constraints},
		{"safety_limits", safety, &rule.SafetyLimits},
		{"statistics", statistics, &rule.Statistics},
	} {
		if err := json.Unmarshal([]byte(col.raw), col.dst); err != nil {
			return nil, fmt.Errorf("unmarshalling %s: %w", col.name, err)
		}
	}

	if rule.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if rule.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &rule, nil
}

func scanHistory(scanner rowScanner) (HistoryEntry, error) {
	var e HistoryEntry
	var actionType string
	var success, blocked, deviceError int
	var errMsg sql.NullString
	var executedAt string

	err := scanner.Scan(
		&e.RuleID,
		&e.PlantID,
		&actionType,
		&e.Amount,
		&success,
		&blocked,
		&deviceError,
		&errMsg,
		&executedAt,
	)
	if err != nil {
		return HistoryEntry{}, err
	}

	e.ActionType = ActionType(actionType)
	e.Success = success != 0
	e.Blocked = blocked != 0
	e.DeviceError = deviceError != 0
	if errMsg.Valid {
		e.Error = errMsg.String
	}
	if e.Timestamp, err = time.Parse(time.RFC3339Nano, executedAt); err != nil {
		return HistoryEntry{}, fmt.Errorf("parsing executed_at: %w", err)
	}
	return e, nil
}

// ─── Column Helpers ─────────────────────────────────────────────────────────

type ruleJSON struct {
	triggers, actions, constraints, safety, statistics string
}

func marshalRuleColumns(rule *Rule) (ruleJSON, error) {
	var out ruleJSON
	for _, col := range []struct {
		name string
		src  any
		dst  *string
	}{
		{"triggers", nonNilTriggers(rule.Triggers), &out.triggers},
		{"actions", nonNilActions(rule.Actions), &out.actions},
		{"constraints", rule.Constraints, &out.constraints},
		{"safety_limits", rule.SafetyLimits, &out.safety},
		{"statistics", rule.Statistics, &out.statistics},
	} {
		b, err := json.Marshal(col.src)
		if err != nil {
			return ruleJSON{}, fmt.Errorf("marshalling %s: %w", col.name, err)
		}
		*col.dst = string(b)
	}
	return out, nil
}

func nonNilTriggers(t []Trigger) []Trigger {
	if t == nil {
		return []Trigger{}
	}
	return t
}

func nonNilActions(a []Action) []Action {
	if a == nil {
		return []Action{}
	}
	return a
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError checks if an error is a SQLite UNIQUE or primary
// key constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
