package billing

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

// checkoutRecorder satisfies stripe.Backend and captures checkout session
// params instead of calling out to the provider.
type checkoutRecorder struct {
	params []*stripe.CheckoutSessionParams
}

func (r *checkoutRecorder) Call(_, _, _ string, params stripe.ParamsContainer, v stripe.LastResponseSetter) error {
	if p, ok := params.(*stripe.CheckoutSessionParams); ok {
		r.params = append(r.params, p)
	}
	if s, ok := v.(*stripe.CheckoutSession); ok {
		s.ID = "cs_test_1"
		s.URL = "https://checkout.example.com/c/cs_test_1"
	}
	return nil
}

func (r *checkoutRecorder) CallStreaming(_, _, _ string, _ stripe.ParamsContainer, _ stripe.StreamingLastResponseSetter) error {
	return nil
}

func (r *checkoutRecorder) CallRaw(_, _, _ string, _ []byte, _ *stripe.Params, _ stripe.LastResponseSetter) error {
	return nil
}

func (r *checkoutRecorder) CallMultipart(_, _, _, _ string, _ *bytes.Buffer, _ *stripe.Params, _ stripe.LastResponseSetter) error {
	return nil
}

func (r *checkoutRecorder) SetMaxNetworkRetries(int64) {}

func newRecordedClient() (*StripeClient, *checkoutRecorder) {
	rec := &checkoutRecorder{}
	api := &client.API{}
	api.Init("sk_test_dummy", &stripe.Backends{API: rec, Connect: rec, Uploads: rec})
	return NewStripeClientWithAPI(api), rec
}

func TestCreditPackCheckoutDefaultsCurrency(t *testing.T) {
	c, rec := newRecordedClient()

	session, err := c.CreateCreditPackCheckout("acct-1", 100, 500, "")
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", session.ID)

	require.Len(t, rec.params, 1)
	params := rec.params[0]
	require.Len(t, params.LineItems, 1)
	price := params.LineItems[0].PriceData
	assert.Equal(t, "usd", stripe.StringValue(price.Currency))
	assert.Equal(t, int64(500), stripe.Int64Value(price.UnitAmount))
	assert.Equal(t, "acct-1", params.Metadata["account_ref"])
	assert.Equal(t, "100", params.Metadata["credits"])
}

func TestCreditPackCheckoutKeepsExplicitCurrency(t *testing.T) {
	c, rec := newRecordedClient()

	_, err := c.CreateCreditPackCheckout("acct-1", 50, 300, "eur")
	require.NoError(t, err)

	require.Len(t, rec.params, 1)
	assert.Equal(t, "eur", stripe.StringValue(rec.params[0].LineItems[0].PriceData.Currency))
}

func TestCreditPackCheckoutRejectsNonPositiveCredits(t *testing.T) {
	c, rec := newRecordedClient()

	_, err := c.CreateCreditPackCheckout("acct-1", 0, 300, "usd")
	require.Error(t, err)
	assert.Empty(t, rec.params)
}
