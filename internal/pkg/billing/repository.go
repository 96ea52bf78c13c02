package billing

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/AudioFox/app/models"
)

// Repository provides the DB operations used by the billing service.
type Repository interface {
	GetAccountByUserRef(userRef string) (*models.Account, error)
	FindActivePlanMapping(provider, providerPriceID string) (*models.PlanMapping, error)
	GetSubscriptionByAccountID(accountID uint) (*models.Subscription, error)
	GetSubscriptionByProviderID(providerSubscriptionID string) (*models.Subscription, error)
	CreateSubscriptionIfAbsent(sub *models.Subscription) (bool, *models.Subscription, error)
	SaveSubscription(sub *models.Subscription) error
	CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetAccountByUserRef(userRef string) (*models.Account, error) {
	var acc models.Account
	if err := r.db.Where("user_ref = ?", userRef).First(&acc).Error; err != nil {
		return nil, err
	}
	return &acc, nil
}

func (r *gormRepository) FindActivePlanMapping(provider, providerPriceID string) (*models.PlanMapping, error) {
	var m models.PlanMapping
	err := r.db.
		Where("provider = ? AND provider_price_id = ? AND is_active = ?", provider, providerPriceID, true).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *gormRepository) GetSubscriptionByAccountID(accountID uint) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.Where("account_id = ?", accountID).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) GetSubscriptionByProviderID(providerSubscriptionID string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.Where("provider_subscription_id = ?", providerSubscriptionID).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

// CreateSubscriptionIfAbsent inserts the subscription unless the account
// already has one. Racing creation events for the same account resolve to the
// stored row instead of an error, which is what makes webhook replay safe at
// this level.
func (r *gormRepository) CreateSubscriptionIfAbsent(sub *models.Subscription) (bool, *models.Subscription, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}},
		DoNothing: true,
	}).Create(sub)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.Subscription
	if err := r.db.Where("account_id = ?", sub.AccountID).First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) SaveSubscription(sub *models.Subscription) error {
	return r.db.Save(sub).Error
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}
