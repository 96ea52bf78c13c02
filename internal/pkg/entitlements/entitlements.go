package entitlements

import (
	"strconv"
	"strings"

	"github.com/ManuelReschke/AudioFox/internal/pkg/env"
)

type Plan string

const (
	PlanFree    Plan = "free"
	PlanCreator Plan = "creator"
	PlanStudio  Plan = "studio"
)

// Credit costs per billable action. Imports and downloads are flat one-credit
// actions; derived assets cost more and are tunable per deployment.
const (
	ImportCreditCost   int64 = 1
	DownloadCreditCost int64 = 1

	defaultTranscriptCreditCost int64 = 5
)

// TranscriptCreditCost returns the per-transcript price in credits.
func TranscriptCreditCost() int64 {
	raw := env.GetEnv("TRANSCRIPT_CREDIT_COST", "")
	if raw == "" {
		return defaultTranscriptCreditCost
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return defaultTranscriptCreditCost
	}
	return n
}

// SignupGrantCredits is the one-time welcome allowance for new accounts.
func SignupGrantCredits() int64 {
	raw := env.GetEnv("SIGNUP_GRANT_CREDITS", "")
	if raw == "" {
		return 10
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 10
	}
	return n
}

// DefaultMonthlyCredits is the fallback allowance for a tier when the plan
// mapping does not carry one.
func DefaultMonthlyCredits(p Plan) int64 {
	switch p {
	case PlanStudio:
		return 1000
	case PlanCreator:
		return 250
	default:
		return 0
	}
}

// NormalizePlan maps arbitrary tier strings onto the known plan set.
func NormalizePlan(tier string) Plan {
	switch strings.ToLower(strings.TrimSpace(tier)) {
	case string(PlanCreator):
		return PlanCreator
	case string(PlanStudio):
		return PlanStudio
	default:
		return PlanFree
	}
}

// PlanRank orders plans for "best plan wins" comparisons.
func PlanRank(p Plan) int {
	switch p {
	case PlanStudio:
		return 2
	case PlanCreator:
		return 1
	default:
		return 0
	}
}

// MaxBatchUnits caps how many items a single batch import may bill for.
func MaxBatchUnits(p Plan) int {
	switch p {
	case PlanStudio:
		return 5000
	case PlanCreator:
		return 1000
	default:
		return 100
	}
}
