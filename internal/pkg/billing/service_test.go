package billing

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ManuelReschke/AudioFox/app/models"
	"github.com/ManuelReschke/AudioFox/internal/pkg/ledger"
)

// fakeRepo is an in-memory Repository for service-level tests.
type fakeRepo struct {
	accounts      map[string]*models.Account
	mappings      map[string]*models.PlanMapping
	subsByAccount map[uint]*models.Subscription
	webhookEvents map[string]*models.WebhookEvent
	nextSubID     uint
	saveErr       error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		accounts:      make(map[string]*models.Account),
		mappings:      make(map[string]*models.PlanMapping),
		subsByAccount: make(map[uint]*models.Subscription),
		webhookEvents: make(map[string]*models.WebhookEvent),
		nextSubID:     1,
	}
}

func (r *fakeRepo) GetAccountByUserRef(userRef string) (*models.Account, error) {
	acc, ok := r.accounts[userRef]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return acc, nil
}

func (r *fakeRepo) FindActivePlanMapping(provider, priceID string) (*models.PlanMapping, error) {
	m, ok := r.mappings[provider+"/"+priceID]
	if !ok || !m.IsActive {
		return nil, gorm.ErrRecordNotFound
	}
	return m, nil
}

func (r *fakeRepo) GetSubscriptionByAccountID(accountID uint) (*models.Subscription, error) {
	sub, ok := r.subsByAccount[accountID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return sub, nil
}

func (r *fakeRepo) GetSubscriptionByProviderID(providerSubID string) (*models.Subscription, error) {
	for _, sub := range r.subsByAccount {
		if sub.ProviderSubscriptionID == providerSubID {
			return sub, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepo) CreateSubscriptionIfAbsent(sub *models.Subscription) (bool, *models.Subscription, error) {
	if existing, ok := r.subsByAccount[sub.AccountID]; ok {
		return false, existing, nil
	}
	sub.ID = r.nextSubID
	r.nextSubID++
	r.subsByAccount[sub.AccountID] = sub
	return true, sub, nil
}

func (r *fakeRepo) SaveSubscription(sub *models.Subscription) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	r.subsByAccount[sub.AccountID] = sub
	return nil
}

func (r *fakeRepo) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	key := event.Provider + "/" + event.ProviderEventID
	if existing, ok := r.webhookEvents[key]; ok {
		return false, existing, nil
	}
	event.ID = uint(len(r.webhookEvents) + 1)
	r.webhookEvents[key] = event
	return true, event, nil
}

func (r *fakeRepo) MarkWebhookProcessed(id uint, processingError string) error {
	for _, ev := range r.webhookEvents {
		if ev.ID == id {
			now := time.Now()
			ev.ProcessedAt = &now
			ev.ProcessingError = processingError
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

// fakeLedger tracks balances and external refs in memory with the same
// replay/outcome contract as the real one.
type fakeLedger struct {
	balances map[uint]int64
	seenRefs map[string]bool
	grants   []int64
	resets   []uint
	failNext error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		balances: make(map[uint]int64),
		seenRefs: make(map[string]bool),
	}
}

func (l *fakeLedger) Deduct(_ context.Context, accountID uint, amount int64, _ ledger.TxnMeta) (ledger.DeductResult, error) {
	bal := l.balances[accountID]
	if bal < amount {
		return ledger.DeductResult{OK: false, Balance: bal}, nil
	}
	l.balances[accountID] = bal - amount
	return ledger.DeductResult{OK: true, Balance: bal - amount}, nil
}

func (l *fakeLedger) Add(_ context.Context, accountID uint, amount int64, kind string, meta ledger.TxnMeta) (int64, error) {
	if l.failNext != nil {
		err := l.failNext
		l.failNext = nil
		return 0, err
	}
	if _, ok := l.balances[accountID]; !ok {
		return 0, &ledger.DataIntegrityError{Op: kind, AccountID: accountID, Reason: "account not found"}
	}
	if meta.ExternalRef != "" {
		if l.seenRefs[meta.ExternalRef] {
			return 0, fmt.Errorf("%w: %s", ledger.ErrDuplicateExternalRef, meta.ExternalRef)
		}
		l.seenRefs[meta.ExternalRef] = true
	}
	l.balances[accountID] += amount
	l.grants = append(l.grants, amount)
	return l.balances[accountID], nil
}

func (l *fakeLedger) Refund(_ context.Context, accountID uint, amount int64, _ ledger.TxnMeta) (int64, error) {
	if amount > 0 {
		l.balances[accountID] += amount
	}
	return l.balances[accountID], nil
}

func (l *fakeLedger) CancellationReset(_ context.Context, accountID uint, _ ledger.TxnMeta) (int64, error) {
	before, ok := l.balances[accountID]
	if !ok {
		return 0, &ledger.DataIntegrityError{Op: "cancellation_reset", AccountID: accountID, Reason: "account not found"}
	}
	l.balances[accountID] = 0
	l.resets = append(l.resets, accountID)
	return before, nil
}

func (l *fakeLedger) Balance(_ context.Context, accountID uint) (int64, error) {
	return l.balances[accountID], nil
}

func (l *fakeLedger) History(_ context.Context, _ uint, _, _ int) ([]models.CreditTransaction, int64, error) {
	return nil, 0, nil
}

func (l *fakeLedger) RefundedForJob(_ context.Context, _ uint) (int64, error) {
	return 0, nil
}

func setupService() (*Service, *fakeRepo, *fakeLedger) {
	repo := newFakeRepo()
	led := newFakeLedger()
	return NewService(repo, led), repo, led
}

func seedAccount(repo *fakeRepo, led *fakeLedger, userRef string, balance int64) *models.Account {
	acc := &models.Account{ID: uint(len(repo.accounts) + 1), UserRef: userRef, Balance: balance}
	repo.accounts[userRef] = acc
	led.balances[acc.ID] = balance
	return acc
}

func TestCheckoutActivatesSubscriptionAndGrants(t *testing.T) {
	svc, repo, led := setupService()
	acc := seedAccount(repo, led, "user-7", 0)
	repo.mappings["stripe/price_creator_m"] = &models.PlanMapping{
		Provider: "stripe", ProviderPriceID: "price_creator_m",
		Tier: "creator", BillingInterval: models.BillingIntervalMonth,
		MonthlyCredits: 250, IsActive: true,
	}

	ev := &CheckoutCompleted{
		SessionID:              "cs_1",
		Mode:                   "subscription",
		Paid:                   true,
		AccountRef:             "user-7",
		PriceID:                "price_creator_m",
		ProviderSubscriptionID: "sub_1",
		ProviderCustomerID:     "cus_1",
	}
	require.NoError(t, svc.ProcessEvent(context.Background(), ev))

	sub := repo.subsByAccount[acc.ID]
	require.NotNil(t, sub)
	assert.Equal(t, "creator", sub.Tier)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, int64(250), led.balances[acc.ID])

	// Replay: subscription already exists and the grant key is spent.
	require.NoError(t, svc.ProcessEvent(context.Background(), ev))
	assert.Equal(t, int64(250), led.balances[acc.ID])
	assert.Len(t, led.grants, 1)
}

func TestCheckoutUnpaidIsSkipped(t *testing.T) {
	svc, repo, led := setupService()
	acc := seedAccount(repo, led, "user-7", 0)

	err := svc.ProcessEvent(context.Background(), &CheckoutCompleted{
		SessionID: "cs_2", Mode: "subscription", Paid: false, AccountRef: "user-7",
	})
	require.NoError(t, err)
	assert.Nil(t, repo.subsByAccount[acc.ID])
	assert.Equal(t, int64(0), led.balances[acc.ID])
}

func TestCheckoutUnknownAccountIsPermanent(t *testing.T) {
	svc, _, _ := setupService()

	err := svc.ProcessEvent(context.Background(), &CheckoutCompleted{
		SessionID: "cs_3", Mode: "subscription", Paid: true, AccountRef: "nobody",
	})
	require.Error(t, err)
	var transient *TransientError
	assert.False(t, errors.As(err, &transient), "unknown account must not be retried")
}

func TestCreditPackPurchase(t *testing.T) {
	svc, repo, led := setupService()
	acc := seedAccount(repo, led, "user-7", 10)

	ev := &CheckoutCompleted{
		SessionID: "cs_pack", Mode: "payment", Paid: true,
		AccountRef: "user-7", Credits: 50,
	}
	require.NoError(t, svc.ProcessEvent(context.Background(), ev))
	assert.Equal(t, int64(60), led.balances[acc.ID])
	assert.Nil(t, repo.subsByAccount[acc.ID], "credit pack must not create a subscription")

	require.NoError(t, svc.ProcessEvent(context.Background(), ev))
	assert.Equal(t, int64(60), led.balances[acc.ID])
}

func TestRenewalGrantsAndRefreshesPeriod(t *testing.T) {
	svc, repo, led := setupService()
	acc := seedAccount(repo, led, "user-7", 3)
	repo.subsByAccount[acc.ID] = &models.Subscription{
		ID: 1, AccountID: acc.ID, Tier: "creator", MonthlyCredits: 250,
		Status: models.SubscriptionStatusPastDue, ProviderSubscriptionID: "sub_1",
	}

	start := time.Now().UTC().Truncate(time.Second)
	end := start.AddDate(0, 1, 0)
	ev := &InvoicePaid{
		InvoiceID: "inv_1", ProviderSubscriptionID: "sub_1",
		PeriodStart: &start, PeriodEnd: &end,
	}
	require.NoError(t, svc.ProcessEvent(context.Background(), ev))

	sub := repo.subsByAccount[acc.ID]
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, &start, sub.CurrentPeriodStart)
	assert.Equal(t, int64(253), led.balances[acc.ID])

	// Replayed invoice grants nothing.
	require.NoError(t, svc.ProcessEvent(context.Background(), ev))
	assert.Equal(t, int64(253), led.balances[acc.ID])
}

func TestRenewalBeforeCheckoutIsTransient(t *testing.T) {
	svc, _, _ := setupService()

	err := svc.ProcessEvent(context.Background(), &InvoicePaid{
		InvoiceID: "inv_early", ProviderSubscriptionID: "sub_unseen",
	})
	require.Error(t, err)
	var transient *TransientError
	assert.True(t, errors.As(err, &transient), "out-of-order invoice must request redelivery")
}

func TestTierChangeDoesNotTouchBalance(t *testing.T) {
	svc, repo, led := setupService()
	acc := seedAccount(repo, led, "user-7", 42)
	repo.subsByAccount[acc.ID] = &models.Subscription{
		ID: 1, AccountID: acc.ID, Tier: "creator", MonthlyCredits: 250,
		Status: models.SubscriptionStatusActive, ProviderSubscriptionID: "sub_1",
		ProviderPriceID: "price_creator_m",
	}
	repo.mappings["stripe/price_studio_m"] = &models.PlanMapping{
		Provider: "stripe", ProviderPriceID: "price_studio_m",
		Tier: "studio", BillingInterval: models.BillingIntervalMonth,
		MonthlyCredits: 1000, IsActive: true,
	}

	err := svc.ProcessEvent(context.Background(), &SubscriptionUpdated{
		ProviderSubscriptionID: "sub_1", PriceID: "price_studio_m",
		Interval: "month", Status: "active",
	})
	require.NoError(t, err)

	sub := repo.subsByAccount[acc.ID]
	assert.Equal(t, "studio", sub.Tier)
	assert.Equal(t, int64(1000), sub.MonthlyCredits)
	assert.Equal(t, int64(42), led.balances[acc.ID], "mid-cycle tier change must not grant or revoke")
}

func TestCancellationForfeitsBalance(t *testing.T) {
	svc, repo, led := setupService()
	acc := seedAccount(repo, led, "user-7", 47)
	repo.subsByAccount[acc.ID] = &models.Subscription{
		ID: 1, AccountID: acc.ID, Tier: "creator",
		Status: models.SubscriptionStatusActive, ProviderSubscriptionID: "sub_1",
	}

	require.NoError(t, svc.ProcessEvent(context.Background(), &SubscriptionCancelled{ProviderSubscriptionID: "sub_1"}))

	sub := repo.subsByAccount[acc.ID]
	assert.Equal(t, models.SubscriptionStatusCancelled, sub.Status)
	assert.NotNil(t, sub.CancelledAt)
	assert.Equal(t, int64(0), led.balances[acc.ID])
	assert.Len(t, led.resets, 1)

	// Replayed cancellation leaves everything alone.
	require.NoError(t, svc.ProcessEvent(context.Background(), &SubscriptionCancelled{ProviderSubscriptionID: "sub_1"}))
	assert.Len(t, led.resets, 1)
}

func TestPaymentFailedOpensGraceWindow(t *testing.T) {
	svc, repo, led := setupService()
	acc := seedAccount(repo, led, "user-7", 12)
	repo.subsByAccount[acc.ID] = &models.Subscription{
		ID: 1, AccountID: acc.ID, Status: models.SubscriptionStatusActive,
		ProviderSubscriptionID: "sub_1",
	}

	err := svc.ProcessEvent(context.Background(), &InvoicePaymentFailed{
		InvoiceID: "inv_f", ProviderSubscriptionID: "sub_1",
	})
	require.NoError(t, err)

	sub := repo.subsByAccount[acc.ID]
	assert.Equal(t, models.SubscriptionStatusPastDue, sub.Status)
	assert.True(t, sub.IsActive(), "past_due keeps access during dunning")
	assert.Equal(t, int64(12), led.balances[acc.ID], "balance survives a failed payment")
}

func TestGrantInfraFailureIsTransient(t *testing.T) {
	svc, repo, led := setupService()
	acc := seedAccount(repo, led, "user-7", 0)
	repo.subsByAccount[acc.ID] = &models.Subscription{
		ID: 1, AccountID: acc.ID, Tier: "creator", MonthlyCredits: 250,
		Status: models.SubscriptionStatusActive, ProviderSubscriptionID: "sub_1",
	}
	led.failNext = errors.New("connection reset")

	err := svc.ProcessEvent(context.Background(), &InvoicePaid{
		InvoiceID: "inv_x", ProviderSubscriptionID: "sub_1",
	})
	require.Error(t, err)
	var transient *TransientError
	assert.True(t, errors.As(err, &transient))
}

func TestRecordWebhookEventDeduplicates(t *testing.T) {
	svc, _, _ := setupService()

	in := WebhookEventInput{
		Provider:        "stripe",
		ProviderEventID: "evt_1",
		EventType:       "invoice.paid",
		PayloadJSON:     `{"id":"evt_1"}`,
		SignatureValid:  true,
	}
	stored, duplicate, err := svc.RecordWebhookEvent(in)
	require.NoError(t, err)
	assert.False(t, duplicate)
	require.NotNil(t, stored)

	_, duplicate, err = svc.RecordWebhookEvent(in)
	require.NoError(t, err)
	assert.True(t, duplicate)
}

func TestActiveSubscriptionForAccount(t *testing.T) {
	svc, repo, led := setupService()
	acc := seedAccount(repo, led, "user-7", 0)

	sub, err := svc.ActiveSubscriptionForAccount(acc.ID)
	require.NoError(t, err)
	assert.Nil(t, sub, "no subscription means free plan")

	repo.subsByAccount[acc.ID] = &models.Subscription{
		ID: 1, AccountID: acc.ID, Status: models.SubscriptionStatusCancelled,
		ProviderSubscriptionID: "sub_1",
	}
	sub, err = svc.ActiveSubscriptionForAccount(acc.ID)
	require.NoError(t, err)
	assert.Nil(t, sub, "cancelled subscription does not entitle")

	repo.subsByAccount[acc.ID].Status = models.SubscriptionStatusPastDue
	sub, err = svc.ActiveSubscriptionForAccount(acc.ID)
	require.NoError(t, err)
	require.NotNil(t, sub)
}
