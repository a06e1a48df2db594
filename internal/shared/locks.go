package shared

import (
	"fmt"

	"github.com/google/uuid"
)

// InvoicePeriodLockKey builds the advisory lock key serialising invoice generation
// for one center and billing period.
func InvoicePeriodLockKey(centerID uuid.UUID, year, month int) string {
	return fmt.Sprintf("finance:invoices:%s:%04d-%02d", centerID, year, month)
}
