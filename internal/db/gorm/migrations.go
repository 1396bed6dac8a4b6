package gorm

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// runMigrations runs all database migrations using gormigrate.
func runMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		// Migration 001: object table
		{
			ID: "001_blobs",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&Blob{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("blobs")
			},
		},
	})

	return m.Migrate()
}
