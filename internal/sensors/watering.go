package sensors

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-irrigation/internal/plant"
)

const (
	defaultWateringLimit = 50
	maxWateringLimit     = 1000
)

// SQLiteWateringHistory reads delivered irrigations from the automation
// history table.
type SQLiteWateringHistory struct {
	db *sql.DB
}

// NewSQLiteWateringHistory creates a watering history reader.
func NewSQLiteWateringHistory(db *sql.DB) *SQLiteWateringHistory {
	return &SQLiteWateringHistory{db: db}
}

// List returns a plant's most recent successful irrigations, newest first.
func (w *SQLiteWateringHistory) List(ctx context.Context, plantID string, limit int) ([]plant.WateringEvent, error) {
	switch {
	case limit <= 0:
		limit = defaultWateringLimit
	case limit > maxWateringLimit:
		limit = maxWateringLimit
	}

	query := `
		SELECT plant_id, amount, executed_at FROM automation_history
		WHERE plant_id = ? AND success = 1 AND action_type = 'irrigation'
		ORDER BY id DESC LIMIT ?`

	rows, err := w.db.QueryContext(ctx, query, plantID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying watering history: %w", err)
	}
	defer rows.Close()

	events := []plant.WateringEvent{}
	for rows.Next() {
		var e plant.WateringEvent
		var executedAt string
		if err := rows.Scan(&e.PlantID, &e.Amount, &executedAt); err != nil {
			return nil, fmt.Errorf("scanning watering event: %w", err)
		}
		if e.Timestamp, err = time.Parse(time.RFC3339Nano, executedAt); err != nil {
			return nil, fmt.Errorf("parsing executed_at: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating watering history: %w", err)
	}
	return events, nil
}
