package repository

import (
	"context"
	"errors"

	"lipdub/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrLanguageNotFound = errors.New("language not found")

type LanguageRepository struct {
	db *gorm.DB
}

func NewLanguageRepository(db *gorm.DB) *LanguageRepository {
	return &LanguageRepository{db: db}
}

func (r *LanguageRepository) ListActive(ctx context.Context) ([]*model.Language, error) {
	var langs []*model.Language
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("position ASC").
		Find(&langs).Error
	return langs, err
}

func (r *LanguageRepository) GetActive(ctx context.Context, isoCode string) (*model.Language, error) {
	var lang model.Language
	err := r.db.WithContext(ctx).
		Where("iso_code = ? AND is_active = ?", isoCode, true).
		First(&lang).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLanguageNotFound
		}
		return nil, err
	}
	return &lang, nil
}

// Seed inserts catalog entries that do not exist yet; existing rows keep
// their edits.
func (r *LanguageRepository) Seed(ctx context.Context, langs []model.Language) error {
	if len(langs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "iso_code"}},
			DoNothing: true,
		}).
		Create(&langs).Error
}
