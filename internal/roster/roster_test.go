package roster

import (
	"context"
	"errors"
	"testing"

	"github.com/zulandar/inspectyard/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openRosterTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&models.Agent{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestAdd(t *testing.T) {
	ctx := context.Background()
	db := openRosterTestDB(t)

	a, err := Add(ctx, db, AddOpts{Address: " +15550001 ", Name: "Ama", Specializations: []string{"residential"}})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if a.ID == "" || a.Address != "+15550001" || a.Status != models.AgentActive {
		t.Errorf("agent = %+v", a)
	}

	_, err = Add(ctx, db, AddOpts{Address: "+15550001"})
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("duplicate add error = %v, want ErrDuplicate", err)
	}
	if _, err := Add(ctx, db, AddOpts{}); err == nil {
		t.Error("expected error for empty address")
	}
}

func TestGet_ByIDOrAddress(t *testing.T) {
	ctx := context.Background()
	db := openRosterTestDB(t)
	a, _ := Add(ctx, db, AddOpts{Address: "+1", Name: "Ama"})

	for _, ref := range []string{a.ID, "+1"} {
		got, err := Get(ctx, db, ref)
		if err != nil {
			t.Fatalf("Get(%q): %v", ref, err)
		}
		if got.ID != a.ID {
			t.Errorf("Get(%q) = %s, want %s", ref, got.ID, a.ID)
		}
	}
	if _, err := Get(ctx, db, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing agent error = %v", err)
	}
}

func TestListAndSetStatus(t *testing.T) {
	ctx := context.Background()
	db := openRosterTestDB(t)
	Add(ctx, db, AddOpts{Address: "+2", Name: "Bo"})
	Add(ctx, db, AddOpts{Address: "+1", Name: "Ama"})

	if _, err := SetStatus(ctx, db, "+2", models.AgentInactive); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if _, err := SetStatus(ctx, db, "+2", "retired"); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("bad status error = %v", err)
	}

	all, _ := List(ctx, db, "")
	if len(all) != 2 || all[0].Name != "Ama" {
		t.Errorf("List all = %+v", all)
	}
	active, _ := List(ctx, db, models.AgentActive)
	if len(active) != 1 || active[0].Address != "+1" {
		t.Errorf("List active = %+v", active)
	}
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	db := openRosterTestDB(t)
	a, _ := Add(ctx, db, AddOpts{Address: "+1", Name: "Ama", Rating: 4})

	name, rating := "Ama K.", 4.5
	got, err := Update(ctx, db, a.ID, UpdateOpts{Name: &name, Rating: &rating, Specializations: []string{"commercial"}})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.Name != name || got.Rating != rating || len(got.Specializations) != 1 || got.Address != "+1" {
		t.Errorf("updated = %+v", got)
	}

	same, err := Update(ctx, db, a.ID, UpdateOpts{})
	if err != nil || same.Name != name {
		t.Errorf("no-op update = %+v, %v", same, err)
	}
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	db := openRosterTestDB(t)
	Add(ctx, db, AddOpts{Address: "+1"})

	if err := Remove(ctx, db, "+1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := Get(ctx, db, "+1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("agent still present: %v", err)
	}
	if err := Remove(ctx, db, "+1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Remove = %v", err)
	}
}
