package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/AudioFox/app/models"
	"github.com/ManuelReschke/AudioFox/internal/pkg/accountcontext"
	"github.com/ManuelReschke/AudioFox/internal/pkg/billing"
	"github.com/ManuelReschke/AudioFox/internal/pkg/ledger"
)

// HandleStripeWebhook is the single ingestion point for payment events.
//
// Response codes drive the provider's redelivery:
//   - 400: signature failure, rejected before anything is persisted
//   - 2xx: handled, including duplicates and permanent failures (redelivering
//     a permanently failing event can never succeed, so we ack it)
//   - 5xx: transient or integrity failure, the provider should retry
func HandleStripeWebhook(c *fiber.Ctx) error {
	payload := c.Body()
	event, err := billing.VerifyWebhookSignature(payload, c.Get("Stripe-Signature"))
	if err != nil {
		log.Warnf("[Billing] Rejected webhook with invalid signature: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "invalid_signature",
			"message": "Webhook signature verification failed",
		})
	}

	stored, duplicate, err := deps.Billing.RecordWebhookEvent(billing.WebhookEventInput{
		Provider:        models.BillingProviderStripe,
		ProviderEventID: event.ID,
		EventType:       string(event.Type),
		PayloadJSON:     string(payload),
		SignatureValid:  true,
	})
	if err != nil {
		log.Errorf("[Billing] Failed to record webhook event %s: %v", event.ID, err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error":   "service_unavailable",
			"message": "Event could not be recorded",
		})
	}
	if duplicate {
		return c.JSON(fiber.Map{
			"received":  true,
			"duplicate": true,
			"event_id":  event.ID,
		})
	}

	classified, err := billing.Classify(string(event.Type), event.Data.Raw)
	if err != nil {
		// Malformed payload: permanent, ack it so the provider stops retrying.
		log.Errorf("[Billing] Failed to classify event %s (%s): %v", event.ID, event.Type, err)
		deps.Billing.MarkWebhookProcessed(stored.ID, err.Error())
		return c.JSON(fiber.Map{"received": true, "event_id": event.ID})
	}

	if err := deps.Billing.ProcessEvent(c.Context(), classified); err != nil {
		var transient *billing.TransientError
		if errors.As(err, &transient) {
			log.Warnf("[Billing] Transient failure processing event %s, requesting redelivery: %v", event.ID, err)
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error":   "service_unavailable",
				"message": "Temporary failure, please redeliver",
			})
		}
		if ledger.IsDataIntegrity(err) {
			log.Errorf("[Billing] DATA INTEGRITY failure processing event %s: %v", event.ID, err)
			deps.Billing.MarkWebhookProcessed(stored.ID, err.Error())
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error":   "internal_server_error",
				"message": "Event processing failed",
			})
		}
		// Permanent business failure: record it and ack.
		log.Errorf("[Billing] Permanent failure processing event %s (%s): %v", event.ID, event.Type, err)
		deps.Billing.MarkWebhookProcessed(stored.ID, err.Error())
		return c.JSON(fiber.Map{"received": true, "event_id": event.ID})
	}

	deps.Billing.MarkWebhookProcessed(stored.ID, "")
	return c.JSON(fiber.Map{
		"received":   true,
		"event_id":   event.ID,
		"event_type": string(event.Type),
	})
}

func checkoutUnavailable(c *fiber.Ctx) error {
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
		"error":   "service_unavailable",
		"message": "Payment provider is not configured",
	})
}

type subscriptionCheckoutRequest struct {
	PriceID string `json:"price_id" validate:"required"`
}

// HandleCreateSubscriptionCheckout starts a provider-hosted subscription
// checkout for the caller's account.
func HandleCreateSubscriptionCheckout(c *fiber.Ctx) error {
	if deps.Stripe == nil {
		return checkoutUnavailable(c)
	}
	acct := accountcontext.Get(c)

	var req subscriptionCheckoutRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := validate.Struct(&req); err != nil {
		return badRequest(c, "price_id is required")
	}

	session, err := deps.Stripe.CreateSubscriptionCheckout(acct.AccountRef, req.PriceID)
	if err != nil {
		log.Errorf("[Billing] Failed to create subscription checkout for account %d: %v", acct.AccountID, err)
		return internalError(c, "Failed to create checkout session")
	}
	return c.JSON(fiber.Map{
		"checkout_url": session.URL,
		"session_id":   session.ID,
	})
}

type creditPackCheckoutRequest struct {
	Credits         int64  `json:"credits" validate:"required,gt=0"`
	UnitAmountCents int64  `json:"unit_amount_cents" validate:"required,gt=0"`
	Currency        string `json:"currency" validate:"omitempty,len=3"`
}

// HandleCreateCreditPackCheckout starts a one-off credit pack purchase.
func HandleCreateCreditPackCheckout(c *fiber.Ctx) error {
	if deps.Stripe == nil {
		return checkoutUnavailable(c)
	}
	acct := accountcontext.Get(c)

	var req creditPackCheckoutRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := validate.Struct(&req); err != nil {
		return badRequest(c, "credits and unit_amount_cents must be positive")
	}

	session, err := deps.Stripe.CreateCreditPackCheckout(acct.AccountRef, req.Credits, req.UnitAmountCents, req.Currency)
	if err != nil {
		log.Errorf("[Billing] Failed to create credit pack checkout for account %d: %v", acct.AccountID, err)
		return internalError(c, "Failed to create checkout session")
	}
	return c.JSON(fiber.Map{
		"checkout_url": session.URL,
		"session_id":   session.ID,
	})
}
