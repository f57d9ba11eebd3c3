package database

import (
	"gorm.io/gorm"

	memoryrepo "github.com/xpanvictor/evermore/internal/repository/memory"
	personarepo "github.com/xpanvictor/evermore/internal/repository/persona"
)

func MigrateDB(db *gorm.DB) error {
	return db.AutoMigrate(
		&personarepo.PersonaEntity{},
		&memoryrepo.MemoryEntity{},
	)
}
