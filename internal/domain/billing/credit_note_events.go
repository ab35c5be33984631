package billing

import (
	"time"

	"github.com/bizledger/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventTypeCreditNoteIssued is the event type name for credit note issuance
const EventTypeCreditNoteIssued = "CreditNoteIssued"

const creditNoteAggregateType = "CreditNote"

// CreditNoteIssuedEvent is raised when a credit note is issued against an invoice
type CreditNoteIssuedEvent struct {
	shared.BaseDomainEvent
	CreditNoteID     uuid.UUID       `json:"credit_note_id"`
	CreditNoteNumber string          `json:"credit_note_number"`
	InvoiceID        uuid.UUID       `json:"invoice_id"`
	InvoiceNumber    string          `json:"invoice_number"`
	CustomerID       uuid.UUID       `json:"customer_id"`
	CustomerName     string          `json:"customer_name"`
	Total            decimal.Decimal `json:"total"`
	ItemCount        int             `json:"item_count"`
	IssueDate        time.Time       `json:"issue_date"`
}

// EventType returns the event type name
func (e *CreditNoteIssuedEvent) EventType() string {
	return EventTypeCreditNoteIssued
}

// NewCreditNoteIssuedEvent creates a new CreditNoteIssuedEvent
func NewCreditNoteIssuedEvent(note *CreditNote) *CreditNoteIssuedEvent {
	return &CreditNoteIssuedEvent{
		BaseDomainEvent:  shared.NewBaseDomainEvent(EventTypeCreditNoteIssued, creditNoteAggregateType, note.ID, note.IssueDate),
		CreditNoteID:     note.ID,
		CreditNoteNumber: note.CreditNoteNumber,
		InvoiceID:        note.InvoiceID,
		InvoiceNumber:    note.InvoiceNumber,
		CustomerID:       note.CustomerID,
		CustomerName:     note.CustomerName,
		Total:            note.Total,
		ItemCount:        note.ItemCount(),
		IssueDate:        note.IssueDate,
	}
}
