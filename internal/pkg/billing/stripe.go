package billing

import (
	"fmt"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/ManuelReschke/AudioFox/internal/pkg/env"
)

// StripeClient wraps the injected provider API for checkout session creation.
// The API client is constructed once in main and passed down; nothing in here
// touches package-level provider state.
type StripeClient struct {
	api *client.API
}

// NewStripeClient builds the provider client from STRIPE_SECRET_KEY.
func NewStripeClient() (*StripeClient, error) {
	key := env.GetEnv("STRIPE_SECRET_KEY", "")
	if key == "" {
		return nil, fmt.Errorf("STRIPE_SECRET_KEY is not configured")
	}
	api := &client.API{}
	api.Init(key, nil)
	return &StripeClient{api: api}, nil
}

// NewStripeClientWithAPI injects a prebuilt API, used by tests with a stub
// backend.
func NewStripeClientWithAPI(api *client.API) *StripeClient {
	return &StripeClient{api: api}
}

// CreateSubscriptionCheckout opens a subscription-mode checkout session for
// the given price. The account reference and price travel in the session
// metadata so the completion webhook can resolve them without extra lookups.
func (c *StripeClient) CreateSubscriptionCheckout(accountRef, priceID string) (*stripe.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(checkoutURL("CHECKOUT_SUCCESS_URL", "/billing/success")),
		CancelURL:  stripe.String(checkoutURL("CHECKOUT_CANCEL_URL", "/billing/cancel")),
	}
	params.AddMetadata("account_ref", accountRef)
	params.AddMetadata("price_id", priceID)

	session, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription checkout: %w", err)
	}
	return session, nil
}

// CreateCreditPackCheckout opens a one-off payment checkout for a credit pack.
// The credit amount is carried in metadata and granted when the completion
// event arrives. An empty currency falls back to usd.
func (c *StripeClient) CreateCreditPackCheckout(accountRef string, credits int64, unitAmountCents int64, currency string) (*stripe.CheckoutSession, error) {
	if credits <= 0 {
		return nil, fmt.Errorf("credit pack size must be positive, got %d", credits)
	}
	if currency == "" {
		currency = "usd"
	}
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(currency),
					UnitAmount: stripe.Int64(unitAmountCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(fmt.Sprintf("AudioFox credit pack (%d credits)", credits)),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(checkoutURL("CHECKOUT_SUCCESS_URL", "/billing/success")),
		CancelURL:  stripe.String(checkoutURL("CHECKOUT_CANCEL_URL", "/billing/cancel")),
	}
	params.AddMetadata("account_ref", accountRef)
	params.AddMetadata("credits", fmt.Sprintf("%d", credits))

	session, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create credit pack checkout: %w", err)
	}
	return session, nil
}

// VerifyWebhookSignature validates the provider signature over the raw body
// and returns the decoded envelope. Callers must reject the request outright
// on error, before any persistence or business logic runs.
func VerifyWebhookSignature(payload []byte, signatureHeader string) (stripe.Event, error) {
	secret := env.GetEnv("STRIPE_WEBHOOK_SECRET", "")
	if secret == "" {
		return stripe.Event{}, fmt.Errorf("STRIPE_WEBHOOK_SECRET is not configured")
	}
	return webhook.ConstructEvent(payload, signatureHeader, secret)
}

func checkoutURL(envKey, fallbackPath string) string {
	if v := env.GetEnv(envKey, ""); v != "" {
		return v
	}
	base := env.GetEnv("APP_URL", "http://localhost:4000")
	return base + fallbackPath
}
