package sensors

import (
	"context"
	"errors"
	"testing"

	"github.com/nerrad567/gray-logic-irrigation/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-irrigation/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-irrigation/internal/plant"
	"github.com/nerrad567/gray-logic-irrigation/migrations"
)

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{Path: database.MemoryPath, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

func fern() *plant.Profile {
	p := plant.DefaultProfile("fern-01")
	p.Name = "Boston fern"
	p.Species = "Nephrolepis exaltata"
	return &p
}

func TestSQLitePlantRepository_CRUD(t *testing.T) {
	repo := NewSQLitePlantRepository(setupTestDB(t).DB)
	ctx := context.Background()

	if _, err := repo.Get(ctx, "fern-01"); !errors.Is(err, ErrPlantNotFound) {
		t.Fatalf("Get() error = %v, want ErrPlantNotFound", err)
	}

	p := fern()
	if err := repo.Create(ctx, p); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if p.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
	if err := repo.Create(ctx, fern()); !errors.Is(err, ErrPlantExists) {
		t.Errorf("duplicate Create() error = %v, want ErrPlantExists", err)
	}

	got, err := repo.Get(ctx, "fern-01")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Name != "Boston fern" || got.Species != "Nephrolepis exaltata" || got.MoistureMin != 40 {
		t.Errorf("Get() = %+v", got)
	}

	p.MoistureMin = 50
	p.Species = ""
	if err := repo.Update(ctx, p); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	got, _ = repo.Get(ctx, "fern-01")
	if got.MoistureMin != 50 || got.Species != "" {
		t.Errorf("updated = %+v", got)
	}

	cactus := plant.DefaultProfile("cactus")
	if err := repo.Create(ctx, &cactus); err != nil {
		t.Fatalf("Create(cactus) error = %v", err)
	}
	list, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 2 || list[0].ID != "fern-01" || list[1].ID != "cactus" {
		t.Errorf("List() = %+v, want fern-01 then cactus (by name)", list)
	}

	if err := repo.Delete(ctx, "fern-01"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := repo.Delete(ctx, "fern-01"); !errors.Is(err, ErrPlantNotFound) {
		t.Errorf("second Delete() error = %v, want ErrPlantNotFound", err)
	}
	missing := plant.DefaultProfile("ghost")
	if err := repo.Update(ctx, &missing); !errors.Is(err, ErrPlantNotFound) {
		t.Errorf("Update(missing) error = %v, want ErrPlantNotFound", err)
	}
}

func TestValidateProfile(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *plant.Profile)
	}{
		{"missing id", func(p *plant.Profile) { p.ID = " " }},
		{"inverted moisture band", func(p *plant.Profile) { p.MoistureMin, p.MoistureMax = 70, 40 }},
		{"moisture over 100", func(p *plant.Profile) { p.MoistureMax = 120 }},
		{"inverted temperature band", func(p *plant.Profile) { p.TemperatureMin = 40 }},
		{"no water requirement", func(p *plant.Profile) { p.WaterRequirement = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := plant.DefaultProfile("fern")
			tt.mutate(&p)
			if err := ValidateProfile(p); !errors.Is(err, ErrInvalidPlant) {
				t.Errorf("ValidateProfile() error = %v, want ErrInvalidPlant", err)
			}
		})
	}

	if err := ValidateProfile(plant.DefaultProfile("fern")); err != nil {
		t.Errorf("default profile invalid: %v", err)
	}
}
