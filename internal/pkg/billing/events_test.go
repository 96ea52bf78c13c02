package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyCheckoutCompleted(t *testing.T) {
	raw := []byte(`{
		"id": "cs_test_123",
		"mode": "subscription",
		"payment_status": "paid",
		"customer": "cus_42",
		"subscription": "sub_42",
		"metadata": {"account_ref": "user-7", "price_id": "price_creator_m"}
	}`)

	ev, err := Classify("checkout.session.completed", raw)
	require.NoError(t, err)

	checkout, ok := ev.(*CheckoutCompleted)
	require.True(t, ok, "expected *CheckoutCompleted, got %T", ev)
	assert.Equal(t, "cs_test_123", checkout.SessionID)
	assert.Equal(t, "subscription", checkout.Mode)
	assert.True(t, checkout.Paid)
	assert.Equal(t, "user-7", checkout.AccountRef)
	assert.Equal(t, "price_creator_m", checkout.PriceID)
	assert.Equal(t, "cus_42", checkout.ProviderCustomerID)
	assert.Equal(t, "sub_42", checkout.ProviderSubscriptionID)
}

func TestClassifyCheckoutCreditPack(t *testing.T) {
	raw := []byte(`{
		"id": "cs_pack_1",
		"mode": "payment",
		"payment_status": "paid",
		"metadata": {"account_ref": "user-7", "credits": "50"}
	}`)

	ev, err := Classify("checkout.session.completed", raw)
	require.NoError(t, err)

	checkout := ev.(*CheckoutCompleted)
	assert.Equal(t, "payment", checkout.Mode)
	assert.Equal(t, int64(50), checkout.Credits)
}

func TestClassifyCheckoutBadCreditsIsPermanent(t *testing.T) {
	raw := []byte(`{
		"id": "cs_pack_2",
		"mode": "payment",
		"payment_status": "paid",
		"metadata": {"account_ref": "user-7", "credits": "fifty"}
	}`)

	_, err := Classify("checkout.session.completed", raw)
	assert.Error(t, err)
}

func TestClassifyInvoicePaidObjectReference(t *testing.T) {
	// Stripe sends object references either as a bare ID or an embedded
	// object; both must resolve.
	raw := []byte(`{
		"id": "in_1",
		"subscription": {"id": "sub_99"},
		"period_start": 1755993600,
		"period_end": 1758672000
	}`)

	ev, err := Classify("invoice.paid", raw)
	require.NoError(t, err)

	paid := ev.(*InvoicePaid)
	assert.Equal(t, "in_1", paid.InvoiceID)
	assert.Equal(t, "sub_99", paid.ProviderSubscriptionID)
	require.NotNil(t, paid.PeriodStart)
	require.NotNil(t, paid.PeriodEnd)
	assert.Equal(t, time.Unix(1755993600, 0).UTC(), *paid.PeriodStart)
}

func TestClassifyInvoiceParentSubscriptionDetails(t *testing.T) {
	raw := []byte(`{
		"id": "in_2",
		"parent": {"subscription_details": {"subscription": "sub_77"}}
	}`)

	ev, err := Classify("invoice.payment_succeeded", raw)
	require.NoError(t, err)
	assert.Equal(t, "sub_77", ev.(*InvoicePaid).ProviderSubscriptionID)
}

func TestClassifySubscriptionUpdated(t *testing.T) {
	raw := []byte(`{
		"id": "sub_5",
		"status": "active",
		"cancel_at_period_end": true,
		"items": {"data": [{"price": {"id": "price_studio_y", "recurring": {"interval": "year"}}}]}
	}`)

	ev, err := Classify("customer.subscription.updated", raw)
	require.NoError(t, err)

	upd := ev.(*SubscriptionUpdated)
	assert.Equal(t, "sub_5", upd.ProviderSubscriptionID)
	assert.Equal(t, "price_studio_y", upd.PriceID)
	assert.Equal(t, "year", upd.Interval)
	assert.True(t, upd.CancelAtPeriodEnd)
}

func TestClassifySubscriptionDeleted(t *testing.T) {
	ev, err := Classify("customer.subscription.deleted", []byte(`{"id": "sub_8", "status": "canceled"}`))
	require.NoError(t, err)
	assert.Equal(t, "sub_8", ev.(*SubscriptionCancelled).ProviderSubscriptionID)
}

func TestClassifyPaymentFailed(t *testing.T) {
	ev, err := Classify("invoice.payment_failed", []byte(`{"id": "in_9", "subscription": "sub_8"}`))
	require.NoError(t, err)

	failed := ev.(*InvoicePaymentFailed)
	assert.Equal(t, "in_9", failed.InvoiceID)
	assert.Equal(t, "sub_8", failed.ProviderSubscriptionID)
}

func TestClassifyUnknownTypeIsIgnored(t *testing.T) {
	ev, err := Classify("customer.created", []byte(`{"id": "cus_1"}`))
	require.NoError(t, err)
	assert.Equal(t, "customer.created", ev.(*IgnoredEvent).Type)
}

func TestClassifyMalformedPayloadIsPermanent(t *testing.T) {
	_, err := Classify("invoice.paid", []byte(`{not json`))
	assert.Error(t, err)
}
