package repository

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/AudioFox/app/models"
)

type accountRepository struct {
	db *gorm.DB
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) Create(account *models.Account) error {
	return r.db.Create(account).Error
}

func (r *accountRepository) GetByID(id uint) (*models.Account, error) {
	var account models.Account
	if err := r.db.First(&account, id).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *accountRepository) GetByUserRef(userRef string) (*models.Account, error) {
	var account models.Account
	if err := r.db.Where("user_ref = ?", userRef).First(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

// GetOrCreateByRef inserts the account if it does not exist yet. Concurrent
// first requests for the same reference race on the unique user_ref index;
// DoNothing plus a re-read makes both callers converge on the same row.
func (r *accountRepository) GetOrCreateByRef(userRef string) (*models.Account, bool, error) {
	account, err := r.GetByUserRef(userRef)
	if err == nil {
		return account, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	fresh := &models.Account{UserRef: userRef}
	result := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_ref"}},
		DoNothing: true,
	}).Create(fresh)
	if result.Error != nil {
		return nil, false, result.Error
	}

	created := result.RowsAffected > 0
	if created {
		return fresh, true, nil
	}
	account, err = r.GetByUserRef(userRef)
	if err != nil {
		return nil, false, err
	}
	return account, false, nil
}

func (r *accountRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.Account{}).Count(&count).Error
	return count, err
}
