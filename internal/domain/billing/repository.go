package billing

import (
	"context"
	"time"

	"github.com/bizledger/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// InvoiceFilter defines filtering options for invoice queries
type InvoiceFilter struct {
	shared.Filter
	CustomerID *uuid.UUID     // Filter by customer
	Status     *InvoiceStatus // Filter by status
	SourceID   *uuid.UUID     // Filter by originating document
	IssuedFrom *time.Time     // Filter by issue date range start
	IssuedTo   *time.Time     // Filter by issue date range end
	DueBefore  *time.Time     // Filter by due date upper bound
	Overdue    *bool          // Filter only past-due invoices with a balance
}

// InvoiceRepository is the persistence contract for the invoice aggregate.
// Implementations must make SaveWithLock an atomic compare-and-swap on the
// aggregate version so concurrent payments cannot jointly overpay an invoice.
type InvoiceRepository interface {
	// FindByID finds an invoice by ID
	FindByID(ctx context.Context, id uuid.UUID) (*Invoice, error)

	// FindByNumber finds an invoice by its human-readable number
	FindByNumber(ctx context.Context, invoiceNumber string) (*Invoice, error)

	// FindAll finds invoices matching the filter
	FindAll(ctx context.Context, filter InvoiceFilter) ([]Invoice, error)

	// FindDueForReconciliation finds sent or partially paid invoices whose
	// due date has passed, for promotion to overdue
	FindDueForReconciliation(ctx context.Context, today time.Time) ([]Invoice, error)

	// Save creates or updates an invoice without a version check
	Save(ctx context.Context, invoice *Invoice) error

	// SaveWithLock updates an invoice only if the stored version matches the
	// version the aggregate was loaded with. Returns
	// shared.ErrConcurrencyConflict when another writer got there first.
	SaveWithLock(ctx context.Context, invoice *Invoice) error

	// Count counts invoices matching the filter
	Count(ctx context.Context, filter InvoiceFilter) (int64, error)

	// GenerateInvoiceNumber returns the next human-readable invoice number
	GenerateInvoiceNumber(ctx context.Context) (string, error)
}

// CreditNoteRepository is the persistence contract for credit notes.
type CreditNoteRepository interface {
	// FindByID finds a credit note by ID
	FindByID(ctx context.Context, id uuid.UUID) (*CreditNote, error)

	// FindByInvoice returns all credit notes issued against an invoice,
	// oldest first
	FindByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]CreditNote, error)

	// Create inserts the credit note and bumps the referenced invoice's
	// version in the same transaction. The version bump serializes credit
	// notes per invoice: two concurrent notes validated against the same
	// prior state cannot both commit.
	Create(ctx context.Context, note *CreditNote, invoice *Invoice) error

	// GenerateCreditNoteNumber returns the next human-readable credit note number
	GenerateCreditNoteNumber(ctx context.Context) (string, error)
}

// InventoryService is the external inventory collaborator. Restock failures
// are reported to the caller but never block the financial record.
type InventoryService interface {
	Restock(ctx context.Context, productID uuid.UUID, quantity int64) error
}
