package models

import (
	"time"

	"github.com/bizledger/backend/internal/domain/billing"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvoiceModel is the persistence model for the invoice aggregate.
// Line items and payments are stored as JSONB: they are value objects that
// are always loaded and saved with the invoice, never queried independently.
type InvoiceModel struct {
	AggregateModel
	InvoiceNumber   string                `gorm:"type:varchar(50);not null;uniqueIndex"`
	CustomerID      uuid.UUID             `gorm:"type:uuid;not null;index"`
	CustomerName    string                `gorm:"type:varchar(200);not null"`
	CustomerContact string                `gorm:"type:varchar(200)"`
	Items           billing.LineItems     `gorm:"type:jsonb;not null;default:'[]'"`
	Discount        decimal.Decimal       `gorm:"type:decimal(18,4);not null"`
	Tax             decimal.Decimal       `gorm:"type:decimal(18,4);not null"`
	Subtotal        decimal.Decimal       `gorm:"type:decimal(18,4);not null"`
	Total           decimal.Decimal       `gorm:"type:decimal(18,4);not null"`
	AmountPaid      decimal.Decimal       `gorm:"type:decimal(18,4);not null"`
	AmountDue       decimal.Decimal       `gorm:"type:decimal(18,4);not null;index"`
	Status          billing.InvoiceStatus `gorm:"type:varchar(20);not null;default:'DRAFT';index"`
	IssueDate       time.Time             `gorm:"not null"`
	DueDate         time.Time             `gorm:"not null;index"`
	Payments        billing.Payments      `gorm:"type:jsonb;not null;default:'[]'"`
	SourceType      billing.SourceType    `gorm:"type:varchar(30);not null;default:'MANUAL'"`
	SourceID        *uuid.UUID            `gorm:"type:uuid;index"`
	SourceNumber    string                `gorm:"type:varchar(50)"`
	Notes           string                `gorm:"type:text"`
	Terms           string                `gorm:"type:text"`
	IssuedAt        *time.Time
	PaidAt          *time.Time
	CancelledAt     *time.Time
	CancelReason    string `gorm:"type:varchar(500)"`
}

// TableName returns the table name for GORM
func (InvoiceModel) TableName() string {
	return "invoices"
}

// ToDomain converts the persistence model to a domain Invoice
func (m *InvoiceModel) ToDomain() *billing.Invoice {
	inv := &billing.Invoice{
		InvoiceNumber:   m.InvoiceNumber,
		CustomerID:      m.CustomerID,
		CustomerName:    m.CustomerName,
		CustomerContact: m.CustomerContact,
		Items:           m.Items,
		Discount:        m.Discount,
		Tax:             m.Tax,
		Subtotal:        m.Subtotal,
		Total:           m.Total,
		AmountPaid:      m.AmountPaid,
		AmountDue:       m.AmountDue,
		Status:          m.Status,
		IssueDate:       m.IssueDate,
		DueDate:         m.DueDate,
		Payments:        m.Payments,
		SourceType:      m.SourceType,
		SourceID:        m.SourceID,
		SourceNumber:    m.SourceNumber,
		Notes:           m.Notes,
		Terms:           m.Terms,
		IssuedAt:        m.IssuedAt,
		PaidAt:          m.PaidAt,
		CancelledAt:     m.CancelledAt,
		CancelReason:    m.CancelReason,
	}
	m.PopulateAggregateRoot(&inv.BaseAggregateRoot)
	return inv
}

// InvoiceModelFromDomain converts a domain Invoice to the persistence model
func InvoiceModelFromDomain(inv *billing.Invoice) *InvoiceModel {
	m := &InvoiceModel{
		InvoiceNumber:   inv.InvoiceNumber,
		CustomerID:      inv.CustomerID,
		CustomerName:    inv.CustomerName,
		CustomerContact: inv.CustomerContact,
		Items:           inv.Items,
		Discount:        inv.Discount,
		Tax:             inv.Tax,
		Subtotal:        inv.Subtotal,
		Total:           inv.Total,
		AmountPaid:      inv.AmountPaid,
		AmountDue:       inv.AmountDue,
		Status:          inv.Status,
		IssueDate:       inv.IssueDate,
		DueDate:         inv.DueDate,
		Payments:        inv.Payments,
		SourceType:      inv.SourceType,
		SourceID:        inv.SourceID,
		SourceNumber:    inv.SourceNumber,
		Notes:           inv.Notes,
		Terms:           inv.Terms,
		IssuedAt:        inv.IssuedAt,
		PaidAt:          inv.PaidAt,
		CancelledAt:     inv.CancelledAt,
		CancelReason:    inv.CancelReason,
	}
	m.FromDomainAggregateRoot(inv.BaseAggregateRoot)
	return m
}

// CreditNoteModel is the persistence model for credit notes
type CreditNoteModel struct {
	AggregateModel
	CreditNoteNumber string                      `gorm:"type:varchar(50);not null;uniqueIndex"`
	InvoiceID        uuid.UUID                   `gorm:"type:uuid;not null;index"`
	InvoiceNumber    string                      `gorm:"type:varchar(50);not null"`
	CustomerID       uuid.UUID                   `gorm:"type:uuid;not null;index"`
	CustomerName     string                      `gorm:"type:varchar(200);not null"`
	CustomerContact  string                      `gorm:"type:varchar(200)"`
	Reason           string                      `gorm:"type:varchar(500);not null"`
	Items            billing.CreditNoteLineItems `gorm:"type:jsonb;not null;default:'[]'"`
	Subtotal         decimal.Decimal             `gorm:"type:decimal(18,4);not null"`
	Total            decimal.Decimal             `gorm:"type:decimal(18,4);not null"`
	IssueDate        time.Time                   `gorm:"not null"`
}

// TableName returns the table name for GORM
func (CreditNoteModel) TableName() string {
	return "credit_notes"
}

// ToDomain converts the persistence model to a domain CreditNote
func (m *CreditNoteModel) ToDomain() *billing.CreditNote {
	note := &billing.CreditNote{
		CreditNoteNumber: m.CreditNoteNumber,
		InvoiceID:        m.InvoiceID,
		InvoiceNumber:    m.InvoiceNumber,
		CustomerID:       m.CustomerID,
		CustomerName:     m.CustomerName,
		CustomerContact:  m.CustomerContact,
		Reason:           m.Reason,
		Items:            m.Items,
		Subtotal:         m.Subtotal,
		Total:            m.Total,
		IssueDate:        m.IssueDate,
	}
	m.PopulateAggregateRoot(&note.BaseAggregateRoot)
	return note
}

// CreditNoteModelFromDomain converts a domain CreditNote to the persistence model
func CreditNoteModelFromDomain(note *billing.CreditNote) *CreditNoteModel {
	m := &CreditNoteModel{
		CreditNoteNumber: note.CreditNoteNumber,
		InvoiceID:        note.InvoiceID,
		InvoiceNumber:    note.InvoiceNumber,
		CustomerID:       note.CustomerID,
		CustomerName:     note.CustomerName,
		CustomerContact:  note.CustomerContact,
		Reason:           note.Reason,
		Items:            note.Items,
		Subtotal:         note.Subtotal,
		Total:            note.Total,
		IssueDate:        note.IssueDate,
	}
	m.FromDomainAggregateRoot(note.BaseAggregateRoot)
	return m
}
