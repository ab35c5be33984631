package billing

import (
	"time"

	"github.com/bizledger/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event type names for the invoice aggregate
const (
	EventTypeInvoiceCreated        = "InvoiceCreated"
	EventTypeInvoiceIssued         = "InvoiceIssued"
	EventTypeInvoicePaymentApplied = "InvoicePaymentApplied"
	EventTypeInvoicePaid           = "InvoicePaid"
	EventTypeInvoiceOverdue        = "InvoiceOverdue"
	EventTypeInvoiceCancelled      = "InvoiceCancelled"
)

const invoiceAggregateType = "Invoice"

// InvoiceCreatedEvent is raised when a new draft invoice is created
type InvoiceCreatedEvent struct {
	shared.BaseDomainEvent
	InvoiceID     uuid.UUID       `json:"invoice_id"`
	InvoiceNumber string          `json:"invoice_number"`
	CustomerID    uuid.UUID       `json:"customer_id"`
	CustomerName  string          `json:"customer_name"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Total         decimal.Decimal `json:"total"`
	IssueDate     time.Time       `json:"issue_date"`
	DueDate       time.Time       `json:"due_date"`
}

// EventType returns the event type name
func (e *InvoiceCreatedEvent) EventType() string {
	return EventTypeInvoiceCreated
}

// NewInvoiceCreatedEvent creates a new InvoiceCreatedEvent
func NewInvoiceCreatedEvent(inv *Invoice) *InvoiceCreatedEvent {
	return &InvoiceCreatedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeInvoiceCreated, invoiceAggregateType, inv.ID, inv.CreatedAt),
		InvoiceID:       inv.ID,
		InvoiceNumber:   inv.InvoiceNumber,
		CustomerID:      inv.CustomerID,
		CustomerName:    inv.CustomerName,
		Subtotal:        inv.Subtotal,
		Total:           inv.Total,
		IssueDate:       inv.IssueDate,
		DueDate:         inv.DueDate,
	}
}

// InvoiceIssuedEvent is raised when a draft invoice is issued
type InvoiceIssuedEvent struct {
	shared.BaseDomainEvent
	InvoiceID     uuid.UUID       `json:"invoice_id"`
	InvoiceNumber string          `json:"invoice_number"`
	CustomerID    uuid.UUID       `json:"customer_id"`
	Total         decimal.Decimal `json:"total"`
	DueDate       time.Time       `json:"due_date"`
}

// EventType returns the event type name
func (e *InvoiceIssuedEvent) EventType() string {
	return EventTypeInvoiceIssued
}

// NewInvoiceIssuedEvent creates a new InvoiceIssuedEvent
func NewInvoiceIssuedEvent(inv *Invoice) *InvoiceIssuedEvent {
	return &InvoiceIssuedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeInvoiceIssued, invoiceAggregateType, inv.ID, inv.UpdatedAt),
		InvoiceID:       inv.ID,
		InvoiceNumber:   inv.InvoiceNumber,
		CustomerID:      inv.CustomerID,
		Total:           inv.Total,
		DueDate:         inv.DueDate,
	}
}

// InvoicePaymentAppliedEvent is raised for every payment applied to an invoice
type InvoicePaymentAppliedEvent struct {
	shared.BaseDomainEvent
	InvoiceID     uuid.UUID       `json:"invoice_id"`
	InvoiceNumber string          `json:"invoice_number"`
	PaymentID     uuid.UUID       `json:"payment_id"`
	PaymentAmount decimal.Decimal `json:"payment_amount"`
	Method        PaymentMethod   `json:"method"`
	AmountPaid    decimal.Decimal `json:"amount_paid"`
	AmountDue     decimal.Decimal `json:"amount_due"`
}

// EventType returns the event type name
func (e *InvoicePaymentAppliedEvent) EventType() string {
	return EventTypeInvoicePaymentApplied
}

// NewInvoicePaymentAppliedEvent creates a new InvoicePaymentAppliedEvent
func NewInvoicePaymentAppliedEvent(inv *Invoice, payment *Payment) *InvoicePaymentAppliedEvent {
	return &InvoicePaymentAppliedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeInvoicePaymentApplied, invoiceAggregateType, inv.ID, payment.PaidAt),
		InvoiceID:       inv.ID,
		InvoiceNumber:   inv.InvoiceNumber,
		PaymentID:       payment.ID,
		PaymentAmount:   payment.Amount,
		Method:          payment.Method,
		AmountPaid:      inv.AmountPaid,
		AmountDue:       inv.AmountDue,
	}
}

// InvoicePaidEvent is raised when an invoice becomes fully paid
type InvoicePaidEvent struct {
	shared.BaseDomainEvent
	InvoiceID     uuid.UUID       `json:"invoice_id"`
	InvoiceNumber string          `json:"invoice_number"`
	CustomerID    uuid.UUID       `json:"customer_id"`
	Total         decimal.Decimal `json:"total"`
	PaidAt        time.Time       `json:"paid_at"`
}

// EventType returns the event type name
func (e *InvoicePaidEvent) EventType() string {
	return EventTypeInvoicePaid
}

// NewInvoicePaidEvent creates a new InvoicePaidEvent
func NewInvoicePaidEvent(inv *Invoice) *InvoicePaidEvent {
	paidAt := inv.UpdatedAt
	if inv.PaidAt != nil {
		paidAt = *inv.PaidAt
	}
	return &InvoicePaidEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeInvoicePaid, invoiceAggregateType, inv.ID, paidAt),
		InvoiceID:       inv.ID,
		InvoiceNumber:   inv.InvoiceNumber,
		CustomerID:      inv.CustomerID,
		Total:           inv.Total,
		PaidAt:          paidAt,
	}
}

// InvoiceOverdueEvent is raised when reconciliation promotes an invoice to overdue
type InvoiceOverdueEvent struct {
	shared.BaseDomainEvent
	InvoiceID     uuid.UUID       `json:"invoice_id"`
	InvoiceNumber string          `json:"invoice_number"`
	CustomerID    uuid.UUID       `json:"customer_id"`
	AmountDue     decimal.Decimal `json:"amount_due"`
	DueDate       time.Time       `json:"due_date"`
}

// EventType returns the event type name
func (e *InvoiceOverdueEvent) EventType() string {
	return EventTypeInvoiceOverdue
}

// NewInvoiceOverdueEvent creates a new InvoiceOverdueEvent
func NewInvoiceOverdueEvent(inv *Invoice) *InvoiceOverdueEvent {
	return &InvoiceOverdueEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeInvoiceOverdue, invoiceAggregateType, inv.ID, inv.UpdatedAt),
		InvoiceID:       inv.ID,
		InvoiceNumber:   inv.InvoiceNumber,
		CustomerID:      inv.CustomerID,
		AmountDue:       inv.AmountDue,
		DueDate:         inv.DueDate,
	}
}

// InvoiceCancelledEvent is raised when an invoice is cancelled
type InvoiceCancelledEvent struct {
	shared.BaseDomainEvent
	InvoiceID     uuid.UUID       `json:"invoice_id"`
	InvoiceNumber string          `json:"invoice_number"`
	CustomerID    uuid.UUID       `json:"customer_id"`
	AmountPaid    decimal.Decimal `json:"amount_paid"`
	Reason        string          `json:"reason"`
}

// EventType returns the event type name
func (e *InvoiceCancelledEvent) EventType() string {
	return EventTypeInvoiceCancelled
}

// NewInvoiceCancelledEvent creates a new InvoiceCancelledEvent
func NewInvoiceCancelledEvent(inv *Invoice) *InvoiceCancelledEvent {
	return &InvoiceCancelledEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeInvoiceCancelled, invoiceAggregateType, inv.ID, inv.UpdatedAt),
		InvoiceID:       inv.ID,
		InvoiceNumber:   inv.InvoiceNumber,
		CustomerID:      inv.CustomerID,
		AmountPaid:      inv.AmountPaid,
		Reason:          inv.CancelReason,
	}
}
