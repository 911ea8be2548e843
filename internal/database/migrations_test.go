package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/watergrow/internal/rooms"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

func TestApplyMigrationsNormalizesLegacyRoomIDs(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(&rooms.RoomModel{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	createdAt := time.Unix(1_700_000_000, 0).UTC()
	seed := []rooms.RoomModel{
		{RoomID: " Love-123", P1Water: 4, CreatedAt: createdAt},
		{RoomID: "Taken", P2Water: 1, CreatedAt: createdAt},
		{RoomID: "taken", P2Water: 2, CreatedAt: createdAt},
		{RoomID: "already-clean", CreatedAt: createdAt},
	}
	if err := database.Create(&seed).Error; err != nil {
		testContext.Fatalf("failed to seed rooms: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var normalized rooms.RoomModel
	if err := database.Where("room_id = ?", "love-123").Take(&normalized).Error; err != nil {
		testContext.Fatalf("expected normalized room: %v", err)
	}
	if normalized.P1Water != 4 {
		testContext.Fatalf("expected counters to survive normalization, got %d", normalized.P1Water)
	}

	var collided rooms.RoomModel
	if err := database.Where("room_id = ?", "Taken").Take(&collided).Error; err != nil {
		testContext.Fatalf("expected colliding legacy row to be left in place: %v", err)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationNormalizeRoomIDs).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("expected re-run to be a no-op: %v", err)
	}
}

func TestOpenSQLiteCreatesSchema(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "watergrow.db")
	database, err := OpenSQLite(databasePath, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}
	if !database.Migrator().HasTable(&rooms.RoomModel{}) {
		testContext.Fatalf("expected rooms table")
	}
	if !database.Migrator().HasTable(&migrationRecord{}) {
		testContext.Fatalf("expected db_migrations table")
	}
	if _, err := OpenSQLite("", nil); err == nil {
		testContext.Fatalf("expected error for empty path")
	}
}

func TestOpenSQLiteDoesNotLogMissingRows(testContext *testing.T) {
	core, observed := observer.New(zap.DebugLevel)
	database, err := OpenSQLite(filepath.Join(testContext.TempDir(), "quiet.db"), zap.New(core))
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		testContext.Fatalf("failed to access sql db: %v", err)
	}
	defer sqlDB.Close()

	service, err := rooms.NewService(rooms.ServiceConfig{Database: database})
	if err != nil {
		testContext.Fatalf("failed to create room service: %v", err)
	}
	if _, err := service.Get(context.Background(), "absent"); !errors.Is(err, rooms.ErrRoomNotFound) {
		testContext.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
	if entries := observed.FilterMessageSnippet("record not found").All(); len(entries) != 0 {
		testContext.Fatalf("expected no record-not-found log lines, got %d", len(entries))
	}

	if err := database.Exec("SELECT * FROM missing_table").Error; err == nil {
		testContext.Fatalf("expected query against a missing table to fail")
	}
	if entries := observed.FilterMessageSnippet("missing_table").All(); len(entries) == 0 {
		testContext.Fatalf("expected the failed query to be logged through zap")
	}
}
