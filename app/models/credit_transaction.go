package models

import "time"

// Transaction kinds. Positive amounts credit the account, negative amounts
// debit it; the kind says why.
const (
	TxnKindGrant             = "grant"
	TxnKindRenewal           = "renewal"
	TxnKindPurchase          = "purchase"
	TxnKindDeduction         = "deduction"
	TxnKindRefund            = "refund"
	TxnKindCancellationReset = "cancellation_reset"
)

const (
	TxnStatusPending   = "pending"
	TxnStatusCompleted = "completed"
	TxnStatusFailed    = "failed"
	TxnStatusRefunded  = "refunded"
)

// CreditTransaction is the append-only audit record of every balance change.
// Rows are never updated or deleted; the sum of completed amounts for an
// account always equals its balance minus the initial balance.
//
// The replay guard "at most one completed transaction per external_ref" is a
// unique index on the stored generated column external_ref_completed, managed
// in SQL migrations (MySQL has no partial unique indexes). This table is owned
// by migrations, not AutoMigrate.
type CreditTransaction struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	AccountID      uint      `gorm:"not null;index:idx_credit_transactions_account" json:"account_id"`
	Kind           string    `gorm:"type:varchar(32);not null;index" json:"kind"`
	Amount         int64     `gorm:"not null" json:"amount"`
	BalanceBefore  int64     `gorm:"not null" json:"balance_before"`
	BalanceAfter   int64     `gorm:"not null" json:"balance_after"`
	Status         string    `gorm:"type:varchar(16);not null;default:'completed'" json:"status"`
	SubscriptionID *uint     `gorm:"default:null;index" json:"subscription_id,omitempty"`
	BatchJobID     *uint     `gorm:"default:null;index" json:"batch_job_id,omitempty"`
	ItemRef        string    `gorm:"type:varchar(191);default:''" json:"item_ref,omitempty"`
	ExternalRef    *string   `gorm:"type:varchar(191);default:null" json:"external_ref,omitempty"`
	Description    string    `gorm:"type:varchar(255);default:''" json:"description"`
	CreatedAt      time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
