package ledger

import (
	"errors"
	"fmt"
)

// ErrDuplicateExternalRef is returned when a credit operation carries an
// external reference that already backs a completed transaction. Callers
// treat it as "duplicate event, keep the prior result", never as a failure.
var ErrDuplicateExternalRef = errors.New("external reference already applied")

// DataIntegrityError marks a state the ledger must never reach, such as a
// credit against an account that does not exist. It is fatal: no caller is
// allowed to swallow it, and the webhook boundary answers 5xx so the broken
// event stays visible.
type DataIntegrityError struct {
	Op        string
	AccountID uint
	Reason    string
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("ledger integrity violation in %s for account %d: %s", e.Op, e.AccountID, e.Reason)
}

// IsDataIntegrity reports whether err is (or wraps) a DataIntegrityError.
func IsDataIntegrity(err error) bool {
	var die *DataIntegrityError
	return errors.As(err, &die)
}
