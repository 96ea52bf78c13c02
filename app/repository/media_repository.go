package repository

import (
	"gorm.io/gorm"

	"github.com/ManuelReschke/AudioFox/app/models"
)

type mediaRepository struct {
	db *gorm.DB
}

// NewMediaRepository creates a new media item repository
func NewMediaRepository(db *gorm.DB) MediaRepository {
	return &mediaRepository{db: db}
}

func (r *mediaRepository) Create(item *models.MediaItem) error {
	return r.db.Create(item).Error
}

func (r *mediaRepository) GetByID(id uint) (*models.MediaItem, error) {
	var item models.MediaItem
	if err := r.db.First(&item, id).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *mediaRepository) GetByUUID(uuid string) (*models.MediaItem, error) {
	var item models.MediaItem
	if err := r.db.Where("uuid = ?", uuid).First(&item).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *mediaRepository) GetByAccountID(accountID uint, offset, limit int) ([]models.MediaItem, error) {
	var items []models.MediaItem
	err := r.db.Where("account_id = ?", accountID).
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&items).Error
	return items, err
}

func (r *mediaRepository) Update(item *models.MediaItem) error {
	return r.db.Save(item).Error
}

func (r *mediaRepository) CountByAccountID(accountID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.MediaItem{}).Where("account_id = ?", accountID).Count(&count).Error
	return count, err
}
