package ledger

import (
	"fmt"
	"testing"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/AudioFox/app/models"
	"github.com/ManuelReschke/AudioFox/internal/pkg/env"
)

// Mirrors migrations/000001: the generated column emulates a partial unique
// index (NULLs do not collide in MySQL unique indexes).
const testCreditTransactionsDDL = `
CREATE TABLE credit_transactions (
    id BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
    account_id BIGINT UNSIGNED NOT NULL,
    kind VARCHAR(32) NOT NULL,
    amount BIGINT NOT NULL,
    balance_before BIGINT NOT NULL,
    balance_after BIGINT NOT NULL,
    status VARCHAR(16) NOT NULL DEFAULT 'completed',
    subscription_id BIGINT UNSIGNED NULL,
    batch_job_id BIGINT UNSIGNED NULL,
    item_ref VARCHAR(191) NOT NULL DEFAULT '',
    external_ref VARCHAR(191) NULL,
    description VARCHAR(255) NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    external_ref_completed VARCHAR(191) GENERATED ALWAYS AS (IF(status = 'completed', external_ref, NULL)) STORED,
    UNIQUE KEY ux_credit_transactions_external_ref_completed (external_ref_completed),
    KEY idx_credit_transactions_account (account_id),
    KEY idx_credit_transactions_batch_job (batch_job_id)
)`

// resolveTestDB connects to a throwaway MySQL schema or skips the test when
// no database is reachable (mirrors the Redis-dependent queue tests).
func resolveTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	hosts := []string{env.GetEnv("DB_HOST", ""), "db", "localhost", "127.0.0.1"}
	user := env.GetEnv("DB_USER", "audiofox")
	password := env.GetEnv("DB_PASSWORD", "audiofox")
	port := env.GetEnv("DB_PORT", "3306")
	name := env.GetEnv("DB_TEST_NAME", "audiofox_test")

	var lastErr error
	for _, host := range hosts {
		if host == "" {
			continue
		}
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local&timeout=2s",
			user, password, host, port, name)
		db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
			TranslateError: true,
			Logger:         logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			lastErr = err
			continue
		}
		sqlDB, err := db.DB()
		if err != nil {
			lastErr = err
			continue
		}
		sqlDB.SetConnMaxLifetime(time.Minute)
		if err := sqlDB.Ping(); err != nil {
			lastErr = err
			continue
		}
		return db
	}

	t.Skipf("no MySQL test database reachable, skipping (last error: %v)", lastErr)
	return nil
}

// setupTestLedger resets the schema and returns a ledger plus a funded account.
func setupTestLedger(t *testing.T, initialBalance int64) (*gorm.DB, Ledger, uint) {
	t.Helper()

	db := resolveTestDB(t)
	db.Exec("DROP TABLE IF EXISTS credit_transactions")
	db.Exec("DROP TABLE IF EXISTS accounts")
	if err := db.AutoMigrate(&models.Account{}); err != nil {
		t.Fatalf("failed to migrate accounts: %v", err)
	}
	if err := db.Exec(testCreditTransactionsDDL).Error; err != nil {
		t.Fatalf("failed to create credit_transactions: %v", err)
	}

	acc := models.Account{UserRef: "test-user", Balance: initialBalance}
	if err := db.Create(&acc).Error; err != nil {
		t.Fatalf("failed to create account: %v", err)
	}
	return db, New(db), acc.ID
}

func completedSum(t *testing.T, db *gorm.DB, accountID uint) int64 {
	t.Helper()
	var sum int64
	if err := db.Model(&models.CreditTransaction{}).
		Where("account_id = ? AND status = ?", accountID, models.TxnStatusCompleted).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&sum).Error; err != nil {
		t.Fatalf("failed to sum transactions: %v", err)
	}
	return sum
}
