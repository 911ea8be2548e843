package database

import (
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/watergrow/internal/rooms"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationNormalizeRoomIDs = "2026-10-01_normalize_room_ids"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB, *zap.Logger) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationNormalizeRoomIDs, apply: normalizeRoomIDs},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db, logger); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// normalizeRoomIDs rewrites rows created before ids were trimmed and
// lower-cased. A row whose normalized id already exists is left untouched.
func normalizeRoomIDs(db *gorm.DB, logger *zap.Logger) error {
	return db.Transaction(func(transaction *gorm.DB) error {
		var legacy []rooms.RoomModel
		if err := transaction.Where("room_id <> lower(trim(room_id))").Find(&legacy).Error; err != nil {
			return err
		}
		for _, model := range legacy {
			normalized := strings.ToLower(strings.TrimSpace(model.RoomID))
			if normalized == "" {
				continue
			}
			var existing int64
			if err := transaction.Model(&rooms.RoomModel{}).Where("room_id = ?", normalized).Count(&existing).Error; err != nil {
				return err
			}
			if existing > 0 {
				if logger != nil {
					logger.Warn("skipping colliding legacy room id",
						zap.String("room_id", model.RoomID),
						zap.String("normalized", normalized))
				}
				continue
			}
			if err := transaction.Model(&rooms.RoomModel{}).
				Where("room_id = ?", model.RoomID).
				Update("room_id", normalized).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
