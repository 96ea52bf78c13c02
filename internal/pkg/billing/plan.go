package billing

import (
	"strings"

	"github.com/ManuelReschke/AudioFox/app/models"
)

// normalizeInterval maps provider recurring intervals onto our known set.
func normalizeInterval(interval string) string {
	switch strings.ToLower(strings.TrimSpace(interval)) {
	case "month":
		return models.BillingIntervalMonth
	case "year":
		return models.BillingIntervalYear
	default:
		return models.BillingIntervalUnknown
	}
}

// mapProviderStatus translates a provider subscription status into ours.
// Terminal provider states map to cancelled; unknown strings map to empty so
// callers keep the stored status instead of guessing.
func mapProviderStatus(status string) string {
	switch status {
	case "active", "trialing":
		return models.SubscriptionStatusActive
	case "past_due", "unpaid":
		return models.SubscriptionStatusPastDue
	case "canceled", "cancelled", "incomplete_expired":
		return models.SubscriptionStatusCancelled
	case "incomplete":
		return models.SubscriptionStatusIncomplete
	default:
		return ""
	}
}
