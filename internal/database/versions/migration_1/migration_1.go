package migration_1

import (
	"fmt"

	"gorm.io/gorm"
)

type FeatureJob struct {
	RowCount int64 `gorm:"default:0"`
}

func Migration(db *gorm.DB) error {
	if err := db.Migrator().AddColumn(&FeatureJob{}, "RowCount"); err != nil {
		return fmt.Errorf("error adding RowCount column: %w", err)
	}

	if err := db.Model(&FeatureJob{}).
		Where("row_count IS NULL").
		Update("row_count", 0).Error; err != nil {
		return fmt.Errorf("error setting default value for RowCount: %w", err)
	}

	return nil
}

func Rollback(db *gorm.DB) error {
	if err := db.Migrator().DropColumn(&FeatureJob{}, "RowCount"); err != nil {
		return fmt.Errorf("error dropping RowCount column: %w", err)
	}

	return nil
}
