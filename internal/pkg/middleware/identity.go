package middleware

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/AudioFox/app/models"
	"github.com/ManuelReschke/AudioFox/app/repository"
	"github.com/ManuelReschke/AudioFox/internal/pkg/accountcontext"
	"github.com/ManuelReschke/AudioFox/internal/pkg/billing"
	"github.com/ManuelReschke/AudioFox/internal/pkg/entitlements"
	"github.com/ManuelReschke/AudioFox/internal/pkg/ledger"
)

// AccountContextMiddleware resolves the caller's account from the opaque
// X-Account-Ref header. Identity verification happens at the gateway in front
// of us; the reference arriving here is already trusted. First sight of a
// reference creates the account and applies the one-time signup grant.
func AccountContextMiddleware(repos *repository.Repositories, led ledger.Ledger, bill *billing.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		accountRef := strings.TrimSpace(c.Get("X-Account-Ref"))
		if accountRef == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "unauthorized",
				"message": "Missing X-Account-Ref header",
			})
		}

		account, created, err := repos.Account.GetOrCreateByRef(accountRef)
		if err != nil {
			log.Errorf("[Identity] Failed to resolve account for ref %s: %v", accountRef, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error":   "internal_server_error",
				"message": "Account resolution failed",
			})
		}

		if created {
			applySignupGrant(c, led, account.ID, accountRef)
		}

		plan := entitlements.PlanFree
		sub, err := bill.ActiveSubscriptionForAccount(account.ID)
		if err != nil {
			log.Errorf("[Identity] Subscription lookup failed for account %d: %v", account.ID, err)
		} else if sub != nil {
			plan = entitlements.NormalizePlan(sub.Tier)
		}

		accountcontext.Set(c, accountcontext.AccountContext{
			AccountID:  account.ID,
			AccountRef: accountRef,
			Plan:       string(plan),
			Resolved:   true,
		})
		return c.Next()
	}
}

// applySignupGrant credits the welcome allowance exactly once per account.
// The signup-scoped external ref absorbs the race where two first requests
// both observe "created": the loser hits the duplicate key and moves on.
func applySignupGrant(c *fiber.Ctx, led ledger.Ledger, accountID uint, accountRef string) {
	amount := entitlements.SignupGrantCredits()
	if amount <= 0 {
		return
	}
	_, err := led.Add(c.Context(), accountID, amount, models.TxnKindGrant, ledger.TxnMeta{
		Description: "Signup welcome credits",
		ExternalRef: "signup:" + accountRef,
	})
	if err != nil && !errors.Is(err, ledger.ErrDuplicateExternalRef) {
		log.Errorf("[Identity] Signup grant for account %d failed: %v", accountID, err)
		return
	}
	log.Infof("[Identity] Granted %d signup credits to account %d", amount, accountID)
}
