package billing

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OverpaymentError is returned when a payment would push the amount due
// below zero. It carries the remaining balance so the caller can offer a
// corrected amount.
type OverpaymentError struct {
	InvoiceID uuid.UUID
	AmountDue decimal.Decimal
	Attempted decimal.Decimal
}

// Error implements the error interface
func (e *OverpaymentError) Error() string {
	return fmt.Sprintf("payment of %s exceeds amount due %s on invoice %s",
		e.Attempted.StringFixed(2), e.AmountDue.StringFixed(2), e.InvoiceID)
}

// QuantityExceededError is returned when a credit note requests more units of
// an invoice line than remain returnable. It carries the remaining quantity so
// the caller can offer a corrected value.
type QuantityExceededError struct {
	LineItemID uuid.UUID
	Remaining  int64
	Requested  int64
}

// Error implements the error interface
func (e *QuantityExceededError) Error() string {
	return fmt.Sprintf("returned quantity %d exceeds remaining returnable quantity %d on line %s",
		e.Requested, e.Remaining, e.LineItemID)
}

// RestockFailedError reports credit-note lines whose inventory restock could
// not be applied. The credit note itself is still issued; the financial record
// is never blocked by an inventory-side failure.
type RestockFailedError struct {
	CreditNoteID uuid.UUID
	Failed       []RestockInstruction
}

// Error implements the error interface
func (e *RestockFailedError) Error() string {
	return fmt.Sprintf("credit note %s issued but %d restock instruction(s) failed",
		e.CreditNoteID, len(e.Failed))
}
