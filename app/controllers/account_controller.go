package controllers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/AudioFox/app/models"
	"github.com/ManuelReschke/AudioFox/internal/pkg/accountcontext"
	"github.com/ManuelReschke/AudioFox/internal/pkg/entitlements"
)

// HandleGetAccount returns the caller's balance, plan and subscription state.
func HandleGetAccount(c *fiber.Ctx) error {
	acct := accountcontext.Get(c)

	balance, err := deps.Ledger.Balance(c.Context(), acct.AccountID)
	if err != nil {
		log.Errorf("[Account] Balance lookup failed for account %d: %v", acct.AccountID, err)
		return internalError(c, "Failed to load balance")
	}

	plan := entitlements.NormalizePlan(acct.Plan)
	response := fiber.Map{
		"account_ref": acct.AccountRef,
		"balance":     balance,
		"plan":        string(plan),
		"limits": fiber.Map{
			"max_batch_units":        entitlements.MaxBatchUnits(plan),
			"import_credit_cost":     entitlements.ImportCreditCost,
			"download_credit_cost":   entitlements.DownloadCreditCost,
			"transcript_credit_cost": entitlements.TranscriptCreditCost(),
		},
	}

	sub, err := deps.Billing.ActiveSubscriptionForAccount(acct.AccountID)
	if err != nil {
		log.Errorf("[Account] Subscription lookup failed for account %d: %v", acct.AccountID, err)
	} else if sub != nil {
		response["subscription"] = fiber.Map{
			"tier":                 sub.Tier,
			"status":               sub.Status,
			"billing_interval":     sub.BillingInterval,
			"monthly_credits":      sub.MonthlyCredits,
			"cancel_at_period_end": sub.CancelAtPeriodEnd,
			"current_period_end":   formatTimePtr(sub.CurrentPeriodEnd),
		}
	}

	return c.JSON(response)
}

// HandleGetCreditHistory pages through the account's transaction log, newest
// first. The log is append-only; this is the audit view of every balance
// change.
func HandleGetCreditHistory(c *fiber.Ctx) error {
	acct := accountcontext.Get(c)
	offset := queryInt(c, "offset", 0)
	limit := queryInt(c, "limit", 25)

	txns, total, err := deps.Ledger.History(c.Context(), acct.AccountID, offset, limit)
	if err != nil {
		log.Errorf("[Account] History lookup failed for account %d: %v", acct.AccountID, err)
		return internalError(c, "Failed to load credit history")
	}

	entries := make([]fiber.Map, 0, len(txns))
	for _, txn := range txns {
		entries = append(entries, creditHistoryEntry(txn))
	}
	return c.JSON(fiber.Map{
		"transactions": entries,
		"total":        total,
		"offset":       offset,
		"limit":        limit,
	})
}

func creditHistoryEntry(txn models.CreditTransaction) fiber.Map {
	entry := fiber.Map{
		"id":             txn.ID,
		"kind":           txn.Kind,
		"amount":         txn.Amount,
		"balance_before": txn.BalanceBefore,
		"balance_after":  txn.BalanceAfter,
		"description":    txn.Description,
		"created_at":     txn.CreatedAt.UTC().Format(time.RFC3339),
	}
	if txn.ItemRef != "" {
		entry["item_ref"] = txn.ItemRef
	}
	if txn.BatchJobID != nil {
		entry["batch_job_id"] = *txn.BatchJobID
	}
	return entry
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
