package audit

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-irrigation/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-irrigation/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-irrigation/migrations"
)

func setupTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{Path: database.MemoryPath, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

// seed inserts entries one second apart starting at base, in order.
func seed(t *testing.T, repo *SQLiteRepository, base time.Time, entries ...Entry) {
	t.Helper()
	for i := range entries {
		e := entries[i]
		e.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if err := repo.Create(context.Background(), &e); err != nil {
			t.Fatalf("Create(%s %s) error = %v", e.Action, e.EntityID, err)
		}
	}
}

func TestCreate_Defaults(t *testing.T) {
	repo := setupTestRepo(t)
	fixed := time.Date(2026, 6, 1, 7, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return fixed }

	e := &Entry{Action: ActionIrrigate, EntityType: EntityAutomation, EntityID: "rule-1"}
	if err := repo.Create(context.Background(), e); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if !strings.HasPrefix(e.ID, "aud-") {
		t.Errorf("ID = %q, want aud- prefix", e.ID)
	}
	if !e.CreatedAt.Equal(fixed) {
		t.Errorf("CreatedAt = %v, want %v", e.CreatedAt, fixed)
	}
	if e.Source != SourceAPI {
		t.Errorf("Source = %q, want %q", e.Source, SourceAPI)
	}
}

func TestCreate_RequiresActionAndEntity(t *testing.T) {
	repo := setupTestRepo(t)

	tests := []struct {
		name  string
		entry Entry
	}{
		{"no action", Entry{EntityType: EntityPlant}},
		{"no entity type", Entry{Action: ActionDelete}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := repo.Create(context.Background(), &tt.entry); err == nil {
				t.Error("Create() should fail")
			}
		})
	}
}

func TestList_RoundTrip(t *testing.T) {
	repo := setupTestRepo(t)
	base := time.Date(2026, 6, 1, 7, 0, 0, 0, time.UTC)

	seed(t, repo, base, Entry{
		Action:     ActionIrrigate,
		EntityType: EntityAutomation,
		EntityID:   "rule-1",
		UserID:     "dashboard",
		Details:    map[string]any{"amount": 120.0, "blocked": false},
	})

	res, err := repo.List(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 1 || len(res.Logs) != 1 {
		t.Fatalf("Total = %d, len = %d, want 1", res.Total, len(res.Logs))
	}

	got := res.Logs[0]
	if got.Action != ActionIrrigate || got.EntityID != "rule-1" || got.UserID != "dashboard" {
		t.Errorf("entry = %+v", got)
	}
	if got.Details["amount"] != 120.0 || got.Details["blocked"] != false {
		t.Errorf("Details = %v", got.Details)
	}
	if !got.CreatedAt.Equal(base) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, base)
	}
}

func TestList_Filters(t *testing.T) {
	repo := setupTestRepo(t)
	base := time.Date(2026, 6, 1, 7, 0, 0, 0, time.UTC)

	seed(t, repo, base,
		Entry{Action: ActionCreate, EntityType: EntityPlant, EntityID: "fern-01", UserID: "alice"},
		Entry{Action: ActionCreate, EntityType: EntityAutomation, EntityID: "rule-1", UserID: "alice"},
		Entry{Action: ActionStart, EntityType: EntityAutomation, EntityID: "rule-1", UserID: "bob"},
		Entry{Action: ActionIrrigate, EntityType: EntityAutomation, EntityID: "rule-1", UserID: "bob"},
		Entry{Action: ActionDelete, EntityType: EntityPlant, EntityID: "fern-01", UserID: "alice"},
	)

	tests := []struct {
		name      string
		filter    Filter
		wantTotal int
		wantFirst string
	}{
		{"all", Filter{}, 5, ActionDelete},
		{"by action", Filter{Action: ActionCreate}, 2, ActionCreate},
		{"by entity type", Filter{EntityType: EntityAutomation}, 3, ActionIrrigate},
		{"by entity", Filter{EntityType: EntityPlant, EntityID: "fern-01"}, 2, ActionDelete},
		{"by user", Filter{UserID: "bob"}, 2, ActionIrrigate},
		{"since", Filter{Since: base.Add(3 * time.Second)}, 2, ActionDelete},
		{"no match", Filter{UserID: "carol"}, 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := repo.List(context.Background(), tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if res.Total != tt.wantTotal || len(res.Logs) != tt.wantTotal {
				t.Fatalf("Total = %d, len = %d, want %d", res.Total, len(res.Logs), tt.wantTotal)
			}
			if tt.wantTotal > 0 && res.Logs[0].Action != tt.wantFirst {
				t.Errorf("first action = %q, want %q", res.Logs[0].Action, tt.wantFirst)
			}
		})
	}
}

func TestList_Pagination(t *testing.T) {
	repo := setupTestRepo(t)
	base := time.Date(2026, 6, 1, 7, 0, 0, 0, time.UTC)

	entries := make([]Entry, 5)
	for i := range entries {
		entries[i] = Entry{Action: ActionUpdate, EntityType: EntityAutomation, EntityID: string(rune('a' + i))}
	}
	seed(t, repo, base, entries...)

	res, err := repo.List(context.Background(), Filter{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 5 || res.Limit != 2 || res.Offset != 1 {
		t.Errorf("page = total %d limit %d offset %d", res.Total, res.Limit, res.Offset)
	}
	if len(res.Logs) != 2 || res.Logs[0].EntityID != "d" || res.Logs[1].EntityID != "c" {
		t.Errorf("logs = %+v, want d then c", res.Logs)
	}

	empty, err := repo.List(context.Background(), Filter{Offset: 10})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if empty.Logs == nil || len(empty.Logs) != 0 {
		t.Errorf("Logs = %v, want empty non-nil slice", empty.Logs)
	}
}

func TestClampLimit(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{-1, DefaultLimit},
		{0, DefaultLimit},
		{10, 10},
		{MaxLimit, MaxLimit},
		{MaxLimit + 1, MaxLimit},
	}
	for _, tt := range tests {
		if got := clampLimit(tt.in); got != tt.want {
			t.Errorf("clampLimit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
