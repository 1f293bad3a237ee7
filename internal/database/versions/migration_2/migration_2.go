package migration_2

import (
	"database/sql"
	"fmt"

	"gorm.io/gorm"
)

type FeatureJob struct {
	RowFilter sql.NullString
}

func Migration(db *gorm.DB) error {
	if err := db.Migrator().AddColumn(&FeatureJob{}, "RowFilter"); err != nil {
		return fmt.Errorf("error adding RowFilter column: %w", err)
	}
	return nil
}

func Rollback(db *gorm.DB) error {
	if err := db.Migrator().DropColumn(&FeatureJob{}, "RowFilter"); err != nil {
		return fmt.Errorf("error dropping RowFilter column: %w", err)
	}
	return nil
}
