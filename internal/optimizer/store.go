package optimizer

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// DefaultLearningLogLimit is how many records the learning log keeps per plant.
const DefaultLearningLogLimit = 1000

// ─── Q-Tables ───────────────────────────────────────────────────────────────

// SQLiteQTableStore implements QTableStore using SQLite.
type SQLiteQTableStore struct {
	db *sql.DB
}

// NewSQLiteQTableStore creates a new SQLite-backed Q-table store.
func NewSQLiteQTableStore(db *sql.DB) *SQLiteQTableStore {
	return &SQLiteQTableStore{db: db}
}

// Load returns the plant's table, or ErrQTableNotFound.
func (s *SQLiteQTableStore) Load(ctx context.Context, plantID string) (QTable, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT q_values FROM q_tables WHERE plant_id = ?`, plantID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrQTableNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying q-table: %w", err)
	}

	table := QTable{}
	if err := json.Unmarshal([]byte(raw), &table); err != nil {
		return nil, fmt.Errorf("unmarshalling q-table: %w", err)
	}
	return table, nil
}

// Save inserts or replaces the plant's table.
func (s *SQLiteQTableStore) Save(ctx context.Context, plantID string, table QTable) error {
	raw, err := json.Marshal(table)
	if err != nil {
		return fmt.Errorf("marshalling q-table: %w", err)
	}

	query := `
		INSERT INTO q_tables (plant_id, q_values, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(plant_id) DO UPDATE SET
			q_values = excluded.q_values,
			updated_at = excluded.updated_at`

	if _, err := s.db.ExecContext(ctx, query,
		plantID, string(raw), time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("saving q-table: %w", err)
	}
	return nil
}

// ─── Learning Log ───────────────────────────────────────────────────────────

// SQLiteLearningLog implements LearningLog using SQLite. It keeps at most
// limit records per plant, discarding the oldest.
type SQLiteLearningLog struct {
	db    *sql.DB
	limit int
}

// NewSQLiteLearningLog creates a new SQLite-backed learning log.
func NewSQLiteLearningLog(db *sql.DB, limit int) *SQLiteLearningLog {
	if limit <= 0 {
		limit = DefaultLearningLogLimit
	}
	return &SQLiteLearningLog{db: db, limit: limit}
}

// Append stores rec and trims the plant's records to the limit.
func (l *SQLiteLearningLog) Append(ctx context.Context, rec Record) error {
	input, err := json.Marshal(rec.Input)
	if err != nil {
		return fmt.Errorf("marshalling input: %w", err)
	}
	result, err := json.Marshal(rec.Result)
	if err != nil {
		return fmt.Errorf("marshalling result: %w", err)
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO learning_records (plant_id, algorithm, input, result, overall_score, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.PlantID,
		rec.Algorithm,
		string(input),
		string(result),
		rec.OverallScore,
		createdAt.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("inserting learning record: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM learning_records
		WHERE plant_id = ? AND id NOT IN (
			SELECT id FROM learning_records WHERE plant_id = ? ORDER BY id DESC LIMIT ?
		)`,
		rec.PlantID, rec.PlantID, l.limit,
	); err != nil {
		return fmt.Errorf("trimming learning records: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing learning record: %w", err)
	}
	return nil
}

// List returns a plant's most recent records, newest first.
func (l *SQLiteLearningLog) List(ctx context.Context, plantID string, limit int) ([]Record, error) {
	if limit <= 0 || limit > l.limit {
		limit = l.limit
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT plant_id, algorithm, input, result, overall_score, created_at
		FROM learning_records WHERE plant_id = ? ORDER BY id DESC LIMIT ?`,
		plantID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying learning records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec           Record
			input, result string
			createdAt     string
		)
		if err := rows.Scan(&rec.PlantID, &rec.Algorithm, &input, &result, &rec.OverallScore, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning learning record: %w", err)
		}
		if err := json.Unmarshal([]byte(input), &rec.Input); err != nil {
			return nil, fmt.Errorf("unmarshalling input: %w", err)
		}
		if err := json.Unmarshal([]byte(result), &rec.Result); err != nil {
			return nil, fmt.Errorf("unmarshalling result: %w", err)
		}
		if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating learning records: %w", err)
	}
	return records, nil
}

// Count returns how many records a plant has.
func (l *SQLiteLearningLog) Count(ctx context.Context, plantID string) (int, error) {
	var n int
	if err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM learning_records WHERE plant_id = ?`, plantID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting learning records: %w", err)
	}
	return n, nil
}
