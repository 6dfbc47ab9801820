package sensors

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-irrigation/internal/plant"
)

// PlantRepository persists plant profiles.
type PlantRepository interface {
	Get(ctx context.Context, id string) (plant.Profile, error)
	List(ctx context.Context) ([]plant.Profile, error)
	Create(ctx context.Context, p *plant.Profile) error
	Update(ctx context.Context, p *plant.Profile) error
	Delete(ctx context.Context, id string) error
}

const plantColumns = `id, name, species, moisture_min, moisture_max, temperature_min,
			temperature_max, water_requirement, created_at, updated_at`

// SQLitePlantRepository implements PlantRepository using SQLite.
type SQLitePlantRepository struct {
	db *sql.DB
}

// NewSQLitePlantRepository creates a new SQLite-backed plant repository.
func NewSQLitePlantRepository(db *sql.DB) *SQLitePlantRepository {
	return &SQLitePlantRepository{db: db}
}

// ValidateProfile checks a profile's identity and bands.
func ValidateProfile(p plant.Profile) error {
	var problems []string
	if strings.TrimSpace(p.ID) == "" {
		problems = append(problems, "id is required")
	}
	if p.MoistureMin < 0 || p.MoistureMax > 100 || p.MoistureMin >= p.MoistureMax {
		problems = append(problems, "moisture band must satisfy 0 <= min < max <= 100")
	}
	if p.TemperatureMin >= p.TemperatureMax {
		problems = append(problems, "temperature_min must be below temperature_max")
	}
	if p.WaterRequirement <= 0 {
		problems = append(problems, "water_requirement must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidPlant, strings.Join(problems, "; "))
	}
	return nil
}

// Get retrieves a plant by ID.
func (r *SQLitePlantRepository) Get(ctx context.Context, id string) (plant.Profile, error) {
	query := `SELECT ` + plantColumns + ` FROM plants WHERE id = ?`

	p, err := scanPlant(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return plant.Profile{}, ErrPlantNotFound
		}
		return plant.Profile{}, fmt.Errorf("querying plant: %w", err)
	}
	return p, nil
}

// List returns all plants ordered by name.
func (r *SQLitePlantRepository) List(ctx context.Context) ([]plant.Profile, error) {
	query := `SELECT ` + plantColumns + ` FROM plants ORDER BY name, id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying plants: %w", err)
	}
	defer rows.Close()

	plants := []plant.Profile{}
	for rows.Next() {
		p, scanErr := scanPlant(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning plant: %w", scanErr)
		}
		plants = append(plants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating plants: %w", err)
	}
	return plants, nil
}

// Create inserts a plant. Timestamps are set on p.
func (r *SQLitePlantRepository) Create(ctx context.Context, p *plant.Profile) error {
	if err := ValidateProfile(*p); err != nil {
		return err
	}
	if p.Name == "" {
		p.Name = p.ID
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	query := `
		INSERT INTO plants (
			id, name, species, moisture_min, moisture_max, temperature_min,
			temperature_max, water_requirement, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		p.ID,
		p.Name,
		nullableString(p.Species),
		p.MoistureMin,
		p.MoistureMax,
		p.TemperatureMin,
		p.TemperatureMax,
		p.WaterRequirement,
		p.CreatedAt.Format(time.RFC3339Nano),
		p.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrPlantExists
		}
		return fmt.Errorf("inserting plant: %w", err)
	}
	return nil
}

// Update replaces a plant's profile. UpdatedAt is set on p.
func (r *SQLitePlantRepository) Update(ctx context.Context, p *plant.Profile) error {
	if err := ValidateProfile(*p); err != nil {
		return err
	}
	if p.Name == "" {
		p.Name = p.ID
	}
	p.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE plants SET
			name = ?, species = ?, moisture_min = ?, moisture_max = ?,
			temperature_min = ?, temperature_max = ?, water_requirement = ?,
			updated_at = ?
		WHERE id = ?`

	res, err := r.db.ExecContext(ctx, query,
		p.Name,
		nullableString(p.Species),
		p.MoistureMin,
		p.MoistureMax,
		p.TemperatureMin,
		p.TemperatureMax,
		p.WaterRequirement,
		p.UpdatedAt.Format(time.RFC3339Nano),
		p.ID,
	)
	if err != nil {
		return fmt.Errorf("updating plant: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrPlantNotFound
	}
	return nil
}

// Delete removes a plant.
func (r *SQLitePlantRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM plants WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting plant: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrPlantNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlant(scanner rowScanner) (plant.Profile, error) {
	var p plant.Profile
	var species sql.NullString
	var createdAt, updatedAt string

	err := scanner.Scan(
		&p.ID,
		&p.Name,
		&species,
		&p.MoistureMin,
		&p.MoistureMax,
		&p.TemperatureMin,
		&p.TemperatureMax,
		&p.WaterRequirement,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return plant.Profile{}, err
	}

	p.Species = species.String
	if p.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return plant.Profile{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if p.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return plant.Profile{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return p, nil
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint")
}
