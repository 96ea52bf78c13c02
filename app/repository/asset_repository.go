package repository

import (
	"gorm.io/gorm"

	"github.com/ManuelReschke/AudioFox/app/models"
)

type assetRepository struct {
	db *gorm.DB
}

// NewAssetRepository creates a new audio asset repository
func NewAssetRepository(db *gorm.DB) AssetRepository {
	return &assetRepository{db: db}
}

func (r *assetRepository) Create(asset *models.AudioAsset) error {
	return r.db.Create(asset).Error
}

func (r *assetRepository) GetByUUID(uuid string) (*models.AudioAsset, error) {
	var asset models.AudioAsset
	if err := r.db.Where("uuid = ?", uuid).First(&asset).Error; err != nil {
		return nil, err
	}
	return &asset, nil
}

func (r *assetRepository) GetByMediaAndKind(mediaItemID uint, kind string) (*models.AudioAsset, error) {
	var asset models.AudioAsset
	err := r.db.Where("media_item_id = ? AND kind = ?", mediaItemID, kind).
		Order("created_at DESC").
		First(&asset).Error
	if err != nil {
		return nil, err
	}
	return &asset, nil
}

func (r *assetRepository) GetByMediaID(mediaItemID uint) ([]models.AudioAsset, error) {
	var assets []models.AudioAsset
	err := r.db.Where("media_item_id = ?", mediaItemID).Order("created_at ASC").Find(&assets).Error
	return assets, err
}

func (r *assetRepository) Update(asset *models.AudioAsset) error {
	return r.db.Save(asset).Error
}
