package billing

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Event is the closed set of typed payment events produced at the webhook
// boundary. Provider payloads are decoded here exactly once; downstream code
// dispatches on the variant and never inspects raw JSON or untyped maps.
type Event interface {
	event()
}

// CheckoutCompleted covers both checkout modes: "subscription" creates the
// subscription and grants the initial allowance, "payment" is a one-off
// credit pack purchase with no subscription linkage.
type CheckoutCompleted struct {
	SessionID              string
	Mode                   string
	Paid                   bool
	AccountRef             string
	PriceID                string
	Credits                int64
	ProviderCustomerID     string
	ProviderSubscriptionID string
}

// InvoicePaid is a successful recurring payment; the invoice ID keys the
// renewal grant for idempotency.
type InvoicePaid struct {
	InvoiceID              string
	ProviderSubscriptionID string
	PeriodStart            *time.Time
	PeriodEnd              *time.Time
}

// SubscriptionUpdated carries tier/price changes. It never grants or revokes
// credits mid-cycle; proration happens provider-side.
type SubscriptionUpdated struct {
	ProviderSubscriptionID string
	PriceID                string
	Interval               string
	Status                 string
	CancelAtPeriodEnd      bool
}

// SubscriptionCancelled is the terminal dunning/cancellation event.
type SubscriptionCancelled struct {
	ProviderSubscriptionID string
}

// InvoicePaymentFailed moves the subscription into the past_due grace window.
type InvoicePaymentFailed struct {
	InvoiceID              string
	ProviderSubscriptionID string
}

// IgnoredEvent is anything we do not act on; recorded and acknowledged.
type IgnoredEvent struct {
	Type string
}

func (*CheckoutCompleted) event()     {}
func (*InvoicePaid) event()           {}
func (*SubscriptionUpdated) event()   {}
func (*SubscriptionCancelled) event() {}
func (*InvoicePaymentFailed) event()  {}
func (*IgnoredEvent) event()          {}

// providerRef tolerates the two shapes Stripe uses for object references in
// webhook payloads: a bare ID string or an embedded object with an "id".
type providerRef string

func (r *providerRef) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		*r = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*r = providerRef(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*r = providerRef(obj.ID)
	return nil
}

type checkoutSessionPayload struct {
	ID            string            `json:"id"`
	Mode          string            `json:"mode"`
	PaymentStatus string            `json:"payment_status"`
	Customer      providerRef       `json:"customer"`
	Subscription  providerRef       `json:"subscription"`
	Metadata      map[string]string `json:"metadata"`
}

type invoicePayload struct {
	ID           string      `json:"id"`
	Subscription providerRef `json:"subscription"`
	PeriodStart  int64       `json:"period_start"`
	PeriodEnd    int64       `json:"period_end"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription providerRef `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

// subscriptionID handles both the classic top-level field and the newer
// parent.subscription_details shape.
func (p *invoicePayload) subscriptionID() string {
	if p.Subscription != "" {
		return string(p.Subscription)
	}
	if p.Parent != nil && p.Parent.SubscriptionDetails != nil {
		return string(p.Parent.SubscriptionDetails.Subscription)
	}
	return ""
}

type subscriptionPayload struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
	Items             struct {
		Data []struct {
			Price struct {
				ID        string `json:"id"`
				Recurring struct {
					Interval string `json:"interval"`
				} `json:"recurring"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

// Classify decodes a verified provider event into its typed variant. A
// decode failure is a permanent, business-rule failure: replaying the same
// malformed payload cannot succeed.
func Classify(eventType string, raw []byte) (Event, error) {
	switch eventType {
	case "checkout.session.completed":
		var p checkoutSessionPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("malformed checkout session payload: %w", err)
		}
		ev := &CheckoutCompleted{
			SessionID:              p.ID,
			Mode:                   p.Mode,
			Paid:                   p.PaymentStatus == "paid",
			AccountRef:             p.Metadata["account_ref"],
			PriceID:                p.Metadata["price_id"],
			ProviderCustomerID:     string(p.Customer),
			ProviderSubscriptionID: string(p.Subscription),
		}
		if v := p.Metadata["credits"]; v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("malformed credits metadata %q: %w", v, err)
			}
			ev.Credits = n
		}
		return ev, nil

	case "invoice.paid", "invoice.payment_succeeded":
		var p invoicePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("malformed invoice payload: %w", err)
		}
		ev := &InvoicePaid{
			InvoiceID:              p.ID,
			ProviderSubscriptionID: p.subscriptionID(),
		}
		if p.PeriodStart > 0 {
			t := time.Unix(p.PeriodStart, 0).UTC()
			ev.PeriodStart = &t
		}
		if p.PeriodEnd > 0 {
			t := time.Unix(p.PeriodEnd, 0).UTC()
			ev.PeriodEnd = &t
		}
		return ev, nil

	case "customer.subscription.updated":
		var p subscriptionPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("malformed subscription payload: %w", err)
		}
		ev := &SubscriptionUpdated{
			ProviderSubscriptionID: p.ID,
			Status:                 p.Status,
			CancelAtPeriodEnd:      p.CancelAtPeriodEnd,
		}
		if len(p.Items.Data) > 0 {
			ev.PriceID = p.Items.Data[0].Price.ID
			ev.Interval = p.Items.Data[0].Price.Recurring.Interval
		}
		return ev, nil

	case "customer.subscription.deleted":
		var p subscriptionPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("malformed subscription payload: %w", err)
		}
		return &SubscriptionCancelled{ProviderSubscriptionID: p.ID}, nil

	case "invoice.payment_failed":
		var p invoicePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("malformed invoice payload: %w", err)
		}
		return &InvoicePaymentFailed{
			InvoiceID:              p.ID,
			ProviderSubscriptionID: p.subscriptionID(),
		}, nil

	default:
		return &IgnoredEvent{Type: eventType}, nil
	}
}
