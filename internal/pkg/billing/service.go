package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/AudioFox/app/models"
	"github.com/ManuelReschke/AudioFox/internal/pkg/entitlements"
	"github.com/ManuelReschke/AudioFox/internal/pkg/ledger"
)

// Service applies payment events to subscriptions and the credit ledger.
//
// Error contract for ProcessEvent and everything below it:
//   - nil: handled (including idempotent replays, which are logged no-ops)
//   - *TransientError: infrastructure failure, the caller should make the
//     provider redeliver
//   - *ledger.DataIntegrityError: fatal inconsistency, surfaced loudly
//   - any other error: permanent business failure, redelivery cannot fix it
type Service struct {
	repo Repository
	led  ledger.Ledger
}

func NewService(repo Repository, led ledger.Ledger) *Service {
	return &Service{repo: repo, led: led}
}

// NewServiceFromDB wires the service against the shared database handle.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db), ledger.New(db))
}

// RecordWebhookEvent persists the raw delivery and reports whether this event
// ID was seen before. Duplicates are acknowledged without reprocessing.
func (s *Service) RecordWebhookEvent(in WebhookEventInput) (*models.WebhookEvent, bool, error) {
	eventID := in.ProviderEventID
	if eventID == "" {
		// Defensive fallback for providers that omit an event ID: dedupe on
		// the payload itself.
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "payload:" + hex.EncodeToString(sum[:])
	}

	created, stored, err := s.repo.CreateWebhookEventIfNotExists(&models.WebhookEvent{
		Provider:        in.Provider,
		ProviderEventID: eventID,
		EventType:       in.EventType,
		PayloadJSON:     in.PayloadJSON,
		SignatureValid:  in.SignatureValid,
	})
	if err != nil {
		return nil, false, &TransientError{Op: "record webhook event", Err: err}
	}
	return stored, !created, nil
}

// MarkWebhookProcessed stamps the stored delivery with its outcome.
func (s *Service) MarkWebhookProcessed(eventID uint, processingError string) {
	if err := s.repo.MarkWebhookProcessed(eventID, processingError); err != nil {
		log.Errorf("[Billing] Failed to mark webhook event %d processed: %v", eventID, err)
	}
}

// ProcessEvent dispatches a classified payment event to its handler.
func (s *Service) ProcessEvent(ctx context.Context, ev Event) error {
	switch e := ev.(type) {
	case *CheckoutCompleted:
		return s.handleCheckoutCompleted(ctx, e)
	case *InvoicePaid:
		return s.Renew(ctx, e)
	case *SubscriptionUpdated:
		return s.handleSubscriptionUpdated(ctx, e)
	case *SubscriptionCancelled:
		return s.Cancel(ctx, e.ProviderSubscriptionID)
	case *InvoicePaymentFailed:
		return s.MarkPastDue(ctx, e)
	case *IgnoredEvent:
		log.Debugf("[Billing] Ignoring event type %s", e.Type)
		return nil
	default:
		return fmt.Errorf("unhandled event variant %T", ev)
	}
}

func (s *Service) handleCheckoutCompleted(ctx context.Context, ev *CheckoutCompleted) error {
	if !ev.Paid {
		log.Infof("[Billing] Checkout session %s completed unpaid, skipping", ev.SessionID)
		return nil
	}
	if ev.AccountRef == "" {
		return fmt.Errorf("checkout session %s has no account_ref metadata", ev.SessionID)
	}

	account, err := s.repo.GetAccountByUserRef(ev.AccountRef)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("checkout session %s references unknown account %q", ev.SessionID, ev.AccountRef)
		}
		return &TransientError{Op: "load account for checkout", Err: err}
	}

	if ev.Mode == "payment" {
		return s.applyCreditPack(ctx, account, ev)
	}
	return s.ActivateFromCheckout(ctx, account, ev)
}

// ActivateFromCheckout creates the subscription for a paid subscription-mode
// checkout and grants the first allowance. Both halves are independently
// idempotent, so a replayed event cannot double-create or double-grant.
func (s *Service) ActivateFromCheckout(ctx context.Context, account *models.Account, ev *CheckoutCompleted) error {
	mapping, err := s.repo.FindActivePlanMapping(models.BillingProviderStripe, ev.PriceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("no active plan mapping for price %q", ev.PriceID)
		}
		return &TransientError{Op: "load plan mapping", Err: err}
	}

	credits := mapping.MonthlyCredits
	if credits <= 0 {
		credits = entitlements.DefaultMonthlyCredits(entitlements.NormalizePlan(mapping.Tier))
	}

	created, stored, err := s.repo.CreateSubscriptionIfAbsent(&models.Subscription{
		AccountID:              account.ID,
		Tier:                   mapping.Tier,
		BillingInterval:        mapping.BillingInterval,
		Status:                 models.SubscriptionStatusActive,
		MonthlyCredits:         credits,
		ProviderSubscriptionID: ev.ProviderSubscriptionID,
		ProviderPriceID:        ev.PriceID,
		ProviderCustomerID:     ev.ProviderCustomerID,
	})
	if err != nil {
		return &TransientError{Op: "create subscription", Err: err}
	}
	if !created {
		log.Infof("[Billing] Account %d already has subscription %d, checkout %s is a replay or upgrade race",
			account.ID, stored.ID, ev.SessionID)
	}

	subID := stored.ID
	return s.grant(ctx, account.ID, credits, models.TxnKindGrant, ledger.TxnMeta{
		Description:    fmt.Sprintf("Initial %s allowance", mapping.Tier),
		ExternalRef:    "checkout:" + ev.SessionID,
		SubscriptionID: &subID,
	})
}

// applyCreditPack books a one-off credit purchase. No subscription linkage;
// the credits land as a plain purchase keyed by the checkout session.
func (s *Service) applyCreditPack(ctx context.Context, account *models.Account, ev *CheckoutCompleted) error {
	if ev.Credits <= 0 {
		return fmt.Errorf("credit pack checkout %s carries no credits metadata", ev.SessionID)
	}
	return s.grant(ctx, account.ID, ev.Credits, models.TxnKindPurchase, ledger.TxnMeta{
		Description: fmt.Sprintf("Credit pack (%d credits)", ev.Credits),
		ExternalRef: "checkout:" + ev.SessionID,
	})
}

// Renew applies a successful recurring payment: refresh the billing period,
// recover from past_due, and grant the monthly allowance keyed by invoice ID.
func (s *Service) Renew(ctx context.Context, ev *InvoicePaid) error {
	if ev.ProviderSubscriptionID == "" {
		log.Infof("[Billing] Invoice %s has no subscription, skipping", ev.InvoiceID)
		return nil
	}

	sub, err := s.repo.GetSubscriptionByProviderID(ev.ProviderSubscriptionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Creation webhooks can arrive out of order; the provider will
			// redeliver this invoice after the checkout event lands.
			return &TransientError{
				Op:  "renew",
				Err: fmt.Errorf("no subscription for provider id %s yet", ev.ProviderSubscriptionID),
			}
		}
		return &TransientError{Op: "load subscription for renewal", Err: err}
	}
	if sub.Status == models.SubscriptionStatusCancelled {
		log.Warnf("[Billing] Invoice %s paid for cancelled subscription %d, skipping grant", ev.InvoiceID, sub.ID)
		return nil
	}

	sub.CurrentPeriodStart = ev.PeriodStart
	sub.CurrentPeriodEnd = ev.PeriodEnd
	if sub.Status == models.SubscriptionStatusPastDue || sub.Status == models.SubscriptionStatusIncomplete {
		sub.Status = models.SubscriptionStatusActive
	}
	if err := s.repo.SaveSubscription(sub); err != nil {
		return &TransientError{Op: "save renewed subscription", Err: err}
	}

	subID := sub.ID
	return s.grant(ctx, sub.AccountID, sub.MonthlyCredits, models.TxnKindRenewal, ledger.TxnMeta{
		Description:    fmt.Sprintf("Monthly %s renewal", sub.Tier),
		ExternalRef:    "invoice:" + ev.InvoiceID,
		SubscriptionID: &subID,
	})
}

// handleSubscriptionUpdated syncs tier, interval and cancellation intent from
// the provider. Mid-cycle changes never touch the credit balance; the next
// renewal grants at the new allowance.
func (s *Service) handleSubscriptionUpdated(ctx context.Context, ev *SubscriptionUpdated) error {
	sub, err := s.repo.GetSubscriptionByProviderID(ev.ProviderSubscriptionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Infof("[Billing] Update for unknown subscription %s, skipping", ev.ProviderSubscriptionID)
			return nil
		}
		return &TransientError{Op: "load subscription for update", Err: err}
	}
	if sub.Status == models.SubscriptionStatusCancelled {
		return nil
	}

	if ev.PriceID != "" && ev.PriceID != sub.ProviderPriceID {
		mapping, err := s.repo.FindActivePlanMapping(models.BillingProviderStripe, ev.PriceID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("subscription %s moved to unmapped price %q", ev.ProviderSubscriptionID, ev.PriceID)
			}
			return &TransientError{Op: "load plan mapping for update", Err: err}
		}
		log.Infof("[Billing] Subscription %d changes tier %s -> %s", sub.ID, sub.Tier, mapping.Tier)
		sub.Tier = mapping.Tier
		sub.MonthlyCredits = mapping.MonthlyCredits
		sub.ProviderPriceID = ev.PriceID
		if mapping.BillingInterval != "" {
			sub.BillingInterval = mapping.BillingInterval
		}
	}
	if ev.Interval != "" {
		sub.BillingInterval = normalizeInterval(ev.Interval)
	}
	if st := mapProviderStatus(ev.Status); st != "" {
		sub.Status = st
	}
	sub.CancelAtPeriodEnd = ev.CancelAtPeriodEnd

	if err := s.repo.SaveSubscription(sub); err != nil {
		return &TransientError{Op: "save updated subscription", Err: err}
	}
	return nil
}

// Cancel finalizes a subscription: remaining credits are forfeit and the row
// goes terminal. The ledger reset runs first so a crash between the two steps
// leaves a retryable state (re-running resets a zero balance, a no-op row).
func (s *Service) Cancel(ctx context.Context, providerSubscriptionID string) error {
	sub, err := s.repo.GetSubscriptionByProviderID(providerSubscriptionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Infof("[Billing] Cancellation for unknown subscription %s, skipping", providerSubscriptionID)
			return nil
		}
		return &TransientError{Op: "load subscription for cancel", Err: err}
	}
	if sub.Status == models.SubscriptionStatusCancelled {
		log.Infof("[Billing] Subscription %d already cancelled, replay is a no-op", sub.ID)
		return nil
	}

	subID := sub.ID
	forfeited, err := s.led.CancellationReset(ctx, sub.AccountID, ledger.TxnMeta{
		Description:    "Subscription cancelled, unused credits forfeit",
		SubscriptionID: &subID,
	})
	if err != nil {
		if ledger.IsDataIntegrity(err) {
			return err
		}
		return &TransientError{Op: "cancellation reset", Err: err}
	}
	if forfeited > 0 {
		log.Infof("[Billing] Account %d forfeits %d credits on cancellation", sub.AccountID, forfeited)
	}

	now := time.Now()
	sub.Status = models.SubscriptionStatusCancelled
	sub.CancelledAt = &now
	sub.CancelAtPeriodEnd = false
	if err := s.repo.SaveSubscription(sub); err != nil {
		return &TransientError{Op: "save cancelled subscription", Err: err}
	}
	return nil
}

// MarkPastDue opens the dunning grace window. Access and the current balance
// stay intact; only the next renewal grant is at stake.
func (s *Service) MarkPastDue(ctx context.Context, ev *InvoicePaymentFailed) error {
	if ev.ProviderSubscriptionID == "" {
		return nil
	}
	sub, err := s.repo.GetSubscriptionByProviderID(ev.ProviderSubscriptionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Infof("[Billing] Payment failure for unknown subscription %s, skipping", ev.ProviderSubscriptionID)
			return nil
		}
		return &TransientError{Op: "load subscription for past_due", Err: err}
	}
	if sub.Status != models.SubscriptionStatusActive {
		return nil
	}
	sub.Status = models.SubscriptionStatusPastDue
	if err := s.repo.SaveSubscription(sub); err != nil {
		return &TransientError{Op: "save past_due subscription", Err: err}
	}
	log.Warnf("[Billing] Subscription %d is past due after failed invoice %s", sub.ID, ev.InvoiceID)
	return nil
}

// ActiveSubscriptionForAccount resolves the account's subscription if it still
// entitles paid features; nil means the account is on the free plan.
func (s *Service) ActiveSubscriptionForAccount(accountID uint) (*models.Subscription, error) {
	sub, err := s.repo.GetSubscriptionByAccountID(accountID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !sub.IsActive() {
		return nil, nil
	}
	return sub, nil
}

// grant credits the account and absorbs idempotent replays. Duplicate keys
// mean the grant already happened; anything else that is not a data integrity
// fault is reported transient so the provider retries.
func (s *Service) grant(ctx context.Context, accountID uint, amount int64, kind string, meta ledger.TxnMeta) error {
	_, err := s.led.Add(ctx, accountID, amount, kind, meta)
	if err == nil {
		return nil
	}
	if errors.Is(err, ledger.ErrDuplicateExternalRef) {
		log.Infof("[Billing] Grant %s for account %d already applied, skipping replay", meta.ExternalRef, accountID)
		return nil
	}
	if ledger.IsDataIntegrity(err) {
		return err
	}
	return &TransientError{Op: fmt.Sprintf("%s grant", kind), Err: err}
}
