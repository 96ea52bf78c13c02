package billing

import "fmt"

// TransientError wraps infrastructure failures (database or provider
// unavailability) during payment event processing. The webhook boundary
// answers non-2xx for these so the provider's own backoff redelivers the
// event; everything else is either handled or permanent.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// WebhookEventInput is the normalized input for webhook event persistence.
type WebhookEventInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	PayloadJSON     string
	SignatureValid  bool
}
