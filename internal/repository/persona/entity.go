package persona

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PersonaEntity is a voice character the user can converse with.
type PersonaEntity struct {
	ID            uuid.UUID `gorm:"type:char(36);primaryKey"`
	Name          string    `gorm:"size:120;not null"`
	Relationship  string    `gorm:"size:120"`
	Nickname      string    `gorm:"size:120"`
	SpeakingStyle string    `gorm:"type:text"`
	VoiceID       string    `gorm:"size:120"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (PersonaEntity) TableName() string { return "personas" }

func (p *PersonaEntity) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
