package accountcontext

import "github.com/gofiber/fiber/v2"

const localsKey = "ACCOUNT_CONTEXT"

// AccountContext represents the resolved account for a request. Identity is
// verified upstream; the opaque account reference is trusted here.
type AccountContext struct {
	AccountID  uint   `json:"account_id"`
	AccountRef string `json:"account_ref"`
	Plan       string `json:"plan"`
	Resolved   bool   `json:"resolved"`
}

// Set stores the account context on the request
func Set(c *fiber.Ctx, ctx AccountContext) {
	c.Locals(localsKey, ctx)
}

// Get retrieves the account context from the request
// Returns an unresolved context if none is set
func Get(c *fiber.Ctx) AccountContext {
	if ctx := c.Locals(localsKey); ctx != nil {
		return ctx.(AccountContext)
	}
	return AccountContext{Resolved: false}
}

// GetAccountID returns the current account's ID, or 0 if unresolved
func GetAccountID(c *fiber.Ctx) uint {
	return Get(c).AccountID
}

// GetPlan returns the current account's plan, defaulting to free
func GetPlan(c *fiber.Ctx) string {
	plan := Get(c).Plan
	if plan == "" {
		return "free"
	}
	return plan
}
