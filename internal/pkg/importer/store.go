package importer

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/AudioFox/app/models"
)

// Store persists batch jobs and imported media items.
type Store interface {
	CreateJob(ctx context.Context, job *models.BatchImportJob) error
	GetJobByUUID(ctx context.Context, uuid string) (*models.BatchImportJob, error)
	UpdateJob(ctx context.Context, job *models.BatchImportJob) error
	ListJobsByStatus(ctx context.Context, status string, limit int) ([]models.BatchImportJob, error)
	// CountImported counts the account's media items from sourceRef whose
	// external IDs are in ids. Already-imported items were paid for by an
	// earlier job and are excluded from a re-sync's reservation.
	CountImported(ctx context.Context, accountID uint, sourceRef string, ids []string) (int, error)
	FindMedia(ctx context.Context, accountID uint, sourceRef, externalID string) (*models.MediaItem, error)
	CreateMediaItem(ctx context.Context, item *models.MediaItem) (bool, error)
}

type gormStore struct {
	db *gorm.DB
}

// NewStore creates the GORM-backed importer store.
func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) CreateJob(ctx context.Context, job *models.BatchImportJob) error {
	return s.db.WithContext(ctx).Create(job).Error
}

func (s *gormStore) GetJobByUUID(ctx context.Context, uuid string) (*models.BatchImportJob, error) {
	var job models.BatchImportJob
	if err := s.db.WithContext(ctx).Where("uuid = ?", uuid).First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *gormStore) UpdateJob(ctx context.Context, job *models.BatchImportJob) error {
	return s.db.WithContext(ctx).Save(job).Error
}

func (s *gormStore) ListJobsByStatus(ctx context.Context, status string, limit int) ([]models.BatchImportJob, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var jobs []models.BatchImportJob
	q := s.db.WithContext(ctx).Order("id DESC").Limit(limit)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Find(&jobs).Error
	return jobs, err
}

func (s *gormStore) CountImported(ctx context.Context, accountID uint, sourceRef string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var count int64
	err := s.db.WithContext(ctx).Model(&models.MediaItem{}).
		Where("account_id = ? AND source_ref = ? AND external_id IN ?", accountID, sourceRef, ids).
		Count(&count).Error
	return int(count), err
}

func (s *gormStore) FindMedia(ctx context.Context, accountID uint, sourceRef, externalID string) (*models.MediaItem, error) {
	var item models.MediaItem
	err := s.db.WithContext(ctx).
		Where("account_id = ? AND source_ref = ? AND external_id = ?", accountID, sourceRef, externalID).
		First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

// CreateMediaItem inserts the item unless the (account, source, external_id)
// triple already exists. Reports whether a row was created; a replayed page
// after a worker crash skips the items it already wrote.
func (s *gormStore) CreateMediaItem(ctx context.Context, item *models.MediaItem) (bool, error) {
	tx := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "account_id"},
			{Name: "source_ref"},
			{Name: "external_id"},
		},
		DoNothing: true,
	}).Create(item)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}
