package memory

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/xpanvictor/evermore/internal/database/dbtypes"
)

// MemoryEntity is one stored fact about the user, chunked and embedded
// for retrieval during prompt assembly.
type MemoryEntity struct {
	ID         uuid.UUID       `gorm:"type:char(36);primaryKey"`
	PersonaID  uuid.UUID       `gorm:"type:char(36);index;not null"`
	Text       string          `gorm:"type:text;not null"`
	Kind       string          `gorm:"size:40"`
	Hash       string          `gorm:"size:64;uniqueIndex:idx_memory_hash_chunk"`
	ChunkIndex int             `gorm:"uniqueIndex:idx_memory_hash_chunk"`
	Embedding  dbtypes.XVector `gorm:"type:vector(768)"`
	CreatedAt  time.Time
}

func (MemoryEntity) TableName() string { return "memories" }

func (m *MemoryEntity) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
