package persona

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("persona not found")

type Repository interface {
	Get(ctx context.Context, id uuid.UUID) (*PersonaEntity, error)
	Create(ctx context.Context, p *PersonaEntity) error
	List(ctx context.Context) ([]PersonaEntity, error)
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Get(ctx context.Context, id uuid.UUID) (*PersonaEntity, error) {
	var entity PersonaEntity
	err := r.db.WithContext(ctx).First(&entity, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &entity, nil
}

func (r *gormRepository) Create(ctx context.Context, p *PersonaEntity) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *gormRepository) List(ctx context.Context) ([]PersonaEntity, error) {
	var entities []PersonaEntity
	if err := r.db.WithContext(ctx).Order("created_at desc").Find(&entities).Error; err != nil {
		return nil, err
	}
	return entities, nil
}
