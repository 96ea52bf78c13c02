package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/AudioFox/app/models"
)

// TxnMeta carries the causal references recorded with every transaction row.
// ExternalRef is the provider-supplied idempotency key; setting it makes the
// operation replay-safe (a second attempt returns ErrDuplicateExternalRef and
// changes nothing).
type TxnMeta struct {
	Description    string
	ExternalRef    string
	SubscriptionID *uint
	BatchJobID     *uint
	ItemRef        string
}

// DeductResult is the outcome of a conditional deduction. OK=false means
// insufficient credits, which is an expected business outcome and not an
// error; Balance then holds the untouched current balance.
type DeductResult struct {
	OK      bool
	Balance int64
}

// Ledger performs all balance mutations. Each operation applies the balance
// change and writes exactly one completed CreditTransaction row in the same
// database transaction; the conditional UPDATE on the account row is the sole
// serialization point, there are no in-process locks.
type Ledger interface {
	Deduct(ctx context.Context, accountID uint, amount int64, meta TxnMeta) (DeductResult, error)
	Add(ctx context.Context, accountID uint, amount int64, kind string, meta TxnMeta) (int64, error)
	Refund(ctx context.Context, accountID uint, amount int64, meta TxnMeta) (int64, error)
	CancellationReset(ctx context.Context, accountID uint, meta TxnMeta) (int64, error)
	Balance(ctx context.Context, accountID uint) (int64, error)
	History(ctx context.Context, accountID uint, offset, limit int) ([]models.CreditTransaction, int64, error)
	RefundedForJob(ctx context.Context, batchJobID uint) (int64, error)
}

type gormLedger struct {
	db *gorm.DB
}

// New creates the GORM-backed ledger.
func New(db *gorm.DB) Ledger {
	return &gormLedger{db: db}
}

// Deduct atomically subtracts amount where the balance covers it. The single
// conditional UPDATE is what guarantees the balance never goes negative under
// concurrent requests; two racing deducts for one account serialize at the
// database and exactly one of them observes the pre-decrement balance.
func (l *gormLedger) Deduct(ctx context.Context, accountID uint, amount int64, meta TxnMeta) (DeductResult, error) {
	if amount <= 0 {
		return DeductResult{}, fmt.Errorf("deduct amount must be positive, got %d", amount)
	}

	var res DeductResult
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		upd := tx.Model(&models.Account{}).
			Where("id = ? AND balance >= ?", accountID, amount).
			UpdateColumn("balance", gorm.Expr("balance - ?", amount))
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected == 0 {
			var acc models.Account
			if err := tx.First(&acc, accountID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return &DataIntegrityError{Op: "deduct", AccountID: accountID, Reason: "account not found"}
				}
				return err
			}
			res = DeductResult{OK: false, Balance: acc.Balance}
			return nil
		}

		// The UPDATE above holds the row lock until commit, so this read
		// cannot race with another writer.
		after, err := lockedBalance(tx, accountID)
		if err != nil {
			return err
		}
		res = DeductResult{OK: true, Balance: after}
		return insertTxn(tx, accountID, models.TxnKindDeduction, -amount, after+amount, after, meta)
	})
	if err != nil {
		return DeductResult{}, translate(err)
	}
	return res, nil
}

// Add unconditionally credits the account. The kind must be one of grant,
// renewal or purchase; a missing account is a fatal integrity error.
func (l *gormLedger) Add(ctx context.Context, accountID uint, amount int64, kind string, meta TxnMeta) (int64, error) {
	switch kind {
	case models.TxnKindGrant, models.TxnKindRenewal, models.TxnKindPurchase:
	default:
		return 0, fmt.Errorf("invalid credit kind %q", kind)
	}
	if amount <= 0 {
		return 0, fmt.Errorf("credit amount must be positive, got %d", amount)
	}
	return l.credit(ctx, accountID, amount, kind, meta)
}

// Refund credits back previously deducted credits. Non-positive amounts are a
// warned no-op so compensation code can pass a computed "owed" value straight
// through.
func (l *gormLedger) Refund(ctx context.Context, accountID uint, amount int64, meta TxnMeta) (int64, error) {
	if amount <= 0 {
		log.Warnf("[Ledger] Refund of %d credits for account %d is a no-op", amount, accountID)
		return l.Balance(ctx, accountID)
	}
	return l.credit(ctx, accountID, amount, models.TxnKindRefund, meta)
}

func (l *gormLedger) credit(ctx context.Context, accountID uint, amount int64, kind string, meta TxnMeta) (int64, error) {
	var after int64
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		upd := tx.Model(&models.Account{}).
			Where("id = ?", accountID).
			UpdateColumn("balance", gorm.Expr("balance + ?", amount))
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected == 0 {
			return &DataIntegrityError{Op: kind, AccountID: accountID, Reason: "account not found"}
		}
		var err error
		after, err = lockedBalance(tx, accountID)
		if err != nil {
			return err
		}
		return insertTxn(tx, accountID, kind, amount, after-amount, after, meta)
	})
	if err != nil {
		return 0, translate(err)
	}
	return after, nil
}

// CancellationReset zeroes the balance and records a cancellation_reset row
// with amount = -balance_before, so the transaction log reconciles exactly.
// All unused credits are forfeit on cancellation, one-off purchases included.
func (l *gormLedger) CancellationReset(ctx context.Context, accountID uint, meta TxnMeta) (int64, error) {
	var before int64
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var acc models.Account
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&acc, accountID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &DataIntegrityError{Op: "cancellation_reset", AccountID: accountID, Reason: "account not found"}
			}
			return err
		}
		before = acc.Balance
		if err := tx.Model(&models.Account{}).
			Where("id = ?", accountID).
			UpdateColumn("balance", 0).Error; err != nil {
			return err
		}
		return insertTxn(tx, accountID, models.TxnKindCancellationReset, -before, before, 0, meta)
	})
	if err != nil {
		return 0, translate(err)
	}
	return before, nil
}

func (l *gormLedger) Balance(ctx context.Context, accountID uint) (int64, error) {
	var acc models.Account
	if err := l.db.WithContext(ctx).First(&acc, accountID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, &DataIntegrityError{Op: "balance", AccountID: accountID, Reason: "account not found"}
		}
		return 0, err
	}
	return acc.Balance, nil
}

// History returns the account's transaction rows newest-first plus the total
// row count for paging.
func (l *gormLedger) History(ctx context.Context, accountID uint, offset, limit int) ([]models.CreditTransaction, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	var total int64
	if err := l.db.WithContext(ctx).Model(&models.CreditTransaction{}).
		Where("account_id = ?", accountID).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var txns []models.CreditTransaction
	err := l.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("id DESC").
		Offset(offset).
		Limit(limit).
		Find(&txns).Error
	return txns, total, err
}

// RefundedForJob sums the completed refunds already recorded against a batch
// job. Compensation derives "owed" from this, which is what makes refunds
// exactly-once even across crashes between refund and job-state writes.
func (l *gormLedger) RefundedForJob(ctx context.Context, batchJobID uint) (int64, error) {
	var sum int64
	err := l.db.WithContext(ctx).Model(&models.CreditTransaction{}).
		Where("batch_job_id = ? AND kind = ? AND status = ?", batchJobID, models.TxnKindRefund, models.TxnStatusCompleted).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&sum).Error
	return sum, err
}

// lockedBalance reads the balance inside the transaction that just updated
// the row. The row lock from that UPDATE is still held, so this is not a
// second racing read.
func lockedBalance(tx *gorm.DB, accountID uint) (int64, error) {
	var acc models.Account
	if err := tx.First(&acc, accountID).Error; err != nil {
		return 0, err
	}
	return acc.Balance, nil
}

func insertTxn(tx *gorm.DB, accountID uint, kind string, amount, before, after int64, meta TxnMeta) error {
	txn := models.CreditTransaction{
		AccountID:      accountID,
		Kind:           kind,
		Amount:         amount,
		BalanceBefore:  before,
		BalanceAfter:   after,
		Status:         models.TxnStatusCompleted,
		SubscriptionID: meta.SubscriptionID,
		BatchJobID:     meta.BatchJobID,
		ItemRef:        meta.ItemRef,
		Description:    meta.Description,
	}
	if meta.ExternalRef != "" {
		ref := meta.ExternalRef
		txn.ExternalRef = &ref
	}
	// A duplicate external_ref violates the unique index on the generated
	// column and rolls the whole transaction back, balance change included.
	return tx.Create(&txn).Error
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %v", ErrDuplicateExternalRef, err)
	}
	return err
}
