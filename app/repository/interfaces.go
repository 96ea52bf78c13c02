package repository

import (
	"gorm.io/gorm"

	"github.com/ManuelReschke/AudioFox/app/models"
)

// AccountRepository defines the interface for account-related database operations
type AccountRepository interface {
	Create(account *models.Account) error
	GetByID(id uint) (*models.Account, error)
	GetByUserRef(userRef string) (*models.Account, error)
	// GetOrCreateByRef resolves the account for an opaque identity reference,
	// creating it on first sight. Reports whether a new row was created.
	GetOrCreateByRef(userRef string) (*models.Account, bool, error)
	Count() (int64, error)
}

// MediaRepository defines the interface for media item operations
type MediaRepository interface {
	Create(item *models.MediaItem) error
	GetByID(id uint) (*models.MediaItem, error)
	GetByUUID(uuid string) (*models.MediaItem, error)
	GetByAccountID(accountID uint, offset, limit int) ([]models.MediaItem, error)
	Update(item *models.MediaItem) error
	CountByAccountID(accountID uint) (int64, error)
}

// AssetRepository defines the interface for audio asset operations
type AssetRepository interface {
	Create(asset *models.AudioAsset) error
	GetByUUID(uuid string) (*models.AudioAsset, error)
	GetByMediaAndKind(mediaItemID uint, kind string) (*models.AudioAsset, error)
	GetByMediaID(mediaItemID uint) ([]models.AudioAsset, error)
	Update(asset *models.AudioAsset) error
}

// Repositories bundles all repository instances
type Repositories struct {
	Account AccountRepository
	Media   MediaRepository
	Asset   AssetRepository
}

// NewRepositories creates all repository instances
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Account: NewAccountRepository(db),
		Media:   NewMediaRepository(db),
		Asset:   NewAssetRepository(db),
	}
}
