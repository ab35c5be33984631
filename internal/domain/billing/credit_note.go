package billing

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bizledger/backend/internal/domain/shared"
	"github.com/bizledger/backend/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MinCreditNoteReasonLength is the minimum length of a credit note reason
const MinCreditNoteReasonLength = 5

// CreditNoteLineItem represents a returned line on a credit note.
// Unit price is copied from the original invoice line, never re-priced.
type CreditNoteLineItem struct {
	ID                uuid.UUID       `json:"id"`
	InvoiceLineItemID uuid.UUID       `json:"invoice_line_item_id"`
	ProductID         uuid.UUID       `json:"product_id,omitempty"`
	Description       string          `json:"description"`
	Quantity          int64           `json:"quantity"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	LineTotal         decimal.Decimal `json:"line_total"` // Quantity * UnitPrice
}

// GetLineTotalMoney returns the credited line total as Money
func (i *CreditNoteLineItem) GetLineTotalMoney() valueobject.Money {
	return valueobject.NewMoneyUSD(i.LineTotal)
}

// CreditNoteLineItems is a slice of CreditNoteLineItem stored as a JSONB column
type CreditNoteLineItems []CreditNoteLineItem

// Value implements driver.Valuer for JSONB storage
func (l CreditNoteLineItems) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner for JSONB storage
func (l *CreditNoteLineItems) Scan(value interface{}) error {
	return scanJSONSlice(value, l, "CreditNoteLineItems")
}

// ReturnedLine is the caller's request to credit a quantity of an invoice line
type ReturnedLine struct {
	InvoiceLineItemID uuid.UUID
	Quantity          int64
}

// RestockInstruction asks the external inventory collaborator to increase
// stock on hand for goods returned under a credit note.
type RestockInstruction struct {
	ProductID  uuid.UUID `json:"product_id"`
	LineItemID uuid.UUID `json:"line_item_id"`
	Quantity   int64     `json:"quantity"`
}

// CreditNote is a document reversing part or all of a previously issued
// invoice. It is immutable once created: there is no void operation, and it
// never mutates the invoice it references.
type CreditNote struct {
	shared.BaseAggregateRoot
	CreditNoteNumber string              `json:"credit_note_number"`
	InvoiceID        uuid.UUID           `json:"invoice_id"`
	InvoiceNumber    string              `json:"invoice_number"`
	CustomerID       uuid.UUID           `json:"customer_id"`
	CustomerName     string              `json:"customer_name"`
	CustomerContact  string              `json:"customer_contact"`
	Reason           string              `json:"reason"`
	Items            CreditNoteLineItems `json:"items"`
	Subtotal         decimal.Decimal     `json:"subtotal"`
	Total            decimal.Decimal     `json:"total"` // Equals subtotal; invoice discount/tax are not prorated
	IssueDate        time.Time           `json:"issue_date"`
}

// CreditedQuantities sums the quantities already credited against each
// invoice line across the given credit notes.
func CreditedQuantities(notes []CreditNote) map[uuid.UUID]int64 {
	credited := make(map[uuid.UUID]int64)
	for _, note := range notes {
		for _, item := range note.Items {
			credited[item.InvoiceLineItemID] += item.Quantity
		}
	}
	return credited
}

// RemainingQuantities computes, per invoice line, how many units are still
// returnable given the credit notes already issued for the invoice.
func RemainingQuantities(invoice *Invoice, notes []CreditNote) map[uuid.UUID]int64 {
	credited := CreditedQuantities(notes)
	remaining := make(map[uuid.UUID]int64, len(invoice.Items))
	for _, item := range invoice.Items {
		remaining[item.ID] = item.Quantity - credited[item.ID]
	}
	return remaining
}

// NewCreditNote issues a credit note against a previously issued invoice.
// priorNotes must be the complete set of credit notes already issued for the
// invoice; remaining-quantity validation is computed from them. The caller is
// responsible for making validation and creation atomic per invoice.
func NewCreditNote(
	creditNoteNumber string,
	invoice *Invoice,
	priorNotes []CreditNote,
	reason string,
	returns []ReturnedLine,
	now time.Time,
) (*CreditNote, error) {
	if invoice == nil {
		return nil, shared.NewDomainError("INVALID_INVOICE", "Invoice cannot be nil")
	}
	if !invoice.Status.CanCredit() {
		return nil, shared.NewDomainError("INVALID_STATE",
			fmt.Sprintf("Cannot issue a credit note against an invoice in %s status", invoice.Status))
	}
	if creditNoteNumber == "" {
		return nil, shared.NewDomainError("INVALID_CREDIT_NOTE_NUMBER", "Credit note number cannot be empty")
	}
	if len(creditNoteNumber) > 50 {
		return nil, shared.NewDomainError("INVALID_CREDIT_NOTE_NUMBER", "Credit note number cannot exceed 50 characters")
	}
	if len(reason) < MinCreditNoteReasonLength {
		return nil, shared.NewDomainError("INVALID_REASON",
			fmt.Sprintf("Credit note reason must be at least %d characters", MinCreditNoteReasonLength))
	}
	if len(returns) == 0 {
		return nil, shared.NewDomainError("NO_ITEMS", "Credit note must return at least one line")
	}

	credited := CreditedQuantities(priorNotes)
	seen := make(map[uuid.UUID]bool, len(returns))
	items := make(CreditNoteLineItems, 0, len(returns))
	subtotal := decimal.Zero

	for _, ret := range returns {
		if ret.Quantity < 0 {
			return nil, shared.NewDomainError("INVALID_QUANTITY", "Returned quantity cannot be negative")
		}
		if ret.Quantity == 0 {
			continue
		}
		if seen[ret.InvoiceLineItemID] {
			return nil, shared.NewDomainError("DUPLICATE_ITEM",
				fmt.Sprintf("Invoice line %s appears more than once", ret.InvoiceLineItemID))
		}
		seen[ret.InvoiceLineItemID] = true

		original := invoice.GetLineItem(ret.InvoiceLineItemID)
		if original == nil {
			return nil, shared.NewDomainError("LINE_NOT_FOUND",
				fmt.Sprintf("Invoice line %s not found on invoice %s", ret.InvoiceLineItemID, invoice.InvoiceNumber))
		}

		remaining := original.Quantity - credited[original.ID]
		if ret.Quantity > remaining {
			return nil, &QuantityExceededError{
				LineItemID: original.ID,
				Remaining:  remaining,
				Requested:  ret.Quantity,
			}
		}

		lineTotal := original.UnitPrice.Mul(decimal.NewFromInt(ret.Quantity))
		items = append(items, CreditNoteLineItem{
			ID:                uuid.New(),
			InvoiceLineItemID: original.ID,
			ProductID:         original.ProductID,
			Description:       original.Description,
			Quantity:          ret.Quantity,
			UnitPrice:         original.UnitPrice,
			LineTotal:         lineTotal,
		})
		subtotal = subtotal.Add(lineTotal)
	}

	if len(items) == 0 {
		return nil, shared.NewDomainError("NO_ITEMS", "Credit note must return at least one line with quantity greater than zero")
	}

	note := &CreditNote{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(now),
		CreditNoteNumber:  creditNoteNumber,
		InvoiceID:         invoice.ID,
		InvoiceNumber:     invoice.InvoiceNumber,
		CustomerID:        invoice.CustomerID,
		CustomerName:      invoice.CustomerName,
		CustomerContact:   invoice.CustomerContact,
		Reason:            reason,
		Items:             items,
		Subtotal:          subtotal,
		Total:             subtotal,
		IssueDate:         now,
	}

	note.AddDomainEvent(NewCreditNoteIssuedEvent(note))

	return note, nil
}

// RestockInstructions emits one restock instruction per returned line that
// references a stocked product. Service lines without a product are skipped.
func (n *CreditNote) RestockInstructions() []RestockInstruction {
	instructions := make([]RestockInstruction, 0, len(n.Items))
	for _, item := range n.Items {
		if item.ProductID == uuid.Nil {
			continue
		}
		instructions = append(instructions, RestockInstruction{
			ProductID:  item.ProductID,
			LineItemID: item.InvoiceLineItemID,
			Quantity:   item.Quantity,
		})
	}
	return instructions
}

// GetTotalMoney returns the credit note total as Money
func (n *CreditNote) GetTotalMoney() valueobject.Money {
	return valueobject.NewMoneyUSD(n.Total)
}

// ItemCount returns the number of returned lines
func (n *CreditNote) ItemCount() int {
	return len(n.Items)
}

// TotalReturnedQuantity returns the sum of all returned quantities
func (n *CreditNote) TotalReturnedQuantity() int64 {
	var total int64
	for _, item := range n.Items {
		total += item.Quantity
	}
	return total
}
