package billing

import (
	"context"
	"fmt"

	"github.com/bizledger/backend/internal/domain/billing"
	"github.com/bizledger/backend/internal/domain/shared"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CreditNoteService handles issuing credit notes against invoices and the
// follow-on inventory restock.
type CreditNoteService struct {
	creditNoteRepo billing.CreditNoteRepository
	invoiceRepo    billing.InvoiceRepository
	inventory      billing.InventoryService
	clock          shared.Clock
	logger         *zap.Logger
	validate       *validator.Validate
}

// NewCreditNoteService creates a new CreditNoteService
func NewCreditNoteService(
	creditNoteRepo billing.CreditNoteRepository,
	invoiceRepo billing.InvoiceRepository,
	inventory billing.InventoryService,
	clock shared.Clock,
	logger *zap.Logger,
) *CreditNoteService {
	return &CreditNoteService{
		creditNoteRepo: creditNoteRepo,
		invoiceRepo:    invoiceRepo,
		inventory:      inventory,
		clock:          clock,
		logger:         logger,
		validate:       validator.New(),
	}
}

// ReturnLineInput is one returned line of a credit note request
type ReturnLineInput struct {
	LineItemID uuid.UUID `json:"line_item_id" validate:"required"`
	Quantity   int64     `json:"quantity" validate:"min=0"`
}

// IssueCreditNoteInput is a request to issue a credit note against an invoice
type IssueCreditNoteInput struct {
	InvoiceID uuid.UUID         `json:"invoice_id" validate:"required"`
	Reason    string            `json:"reason" validate:"required,min=5,max=500"`
	Returns   []ReturnLineInput `json:"returns" validate:"required,min=1,dive"`
}

// IssueCreditNote validates the returned quantities against what remains
// returnable on the invoice, persists the credit note, and restocks the
// returned goods. The financial record always commits first: if restocking
// fails the credit note is still returned, together with a
// *billing.RestockFailedError naming the lines that need manual restocking.
func (s *CreditNoteService) IssueCreditNote(ctx context.Context, input IssueCreditNoteInput) (*billing.CreditNote, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, fmt.Errorf("invalid credit note request: %w", err)
	}

	invoice, err := s.invoiceRepo.FindByID(ctx, input.InvoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to find invoice: %w", err)
	}
	if invoice == nil {
		return nil, shared.NewDomainError("INVOICE_NOT_FOUND",
			fmt.Sprintf("Invoice %s not found", input.InvoiceID))
	}

	priorNotes, err := s.creditNoteRepo.FindByInvoice(ctx, invoice.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load prior credit notes: %w", err)
	}

	number, err := s.creditNoteRepo.GenerateCreditNoteNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to generate credit note number: %w", err)
	}

	returns := make([]billing.ReturnedLine, 0, len(input.Returns))
	for _, r := range input.Returns {
		returns = append(returns, billing.ReturnedLine{
			InvoiceLineItemID: r.LineItemID,
			Quantity:          r.Quantity,
		})
	}

	note, err := billing.NewCreditNote(number, invoice, priorNotes, input.Reason, returns, s.clock.Now())
	if err != nil {
		return nil, err
	}

	// The insert bumps the invoice version in the same transaction, so a
	// concurrent credit note validated against the same prior state fails
	// the version check instead of double-crediting.
	if err := s.creditNoteRepo.Create(ctx, note, invoice); err != nil {
		return nil, fmt.Errorf("failed to save credit note: %w", err)
	}

	s.logger.Info("credit note issued",
		zap.String("credit_note_id", note.ID.String()),
		zap.String("credit_note_number", note.CreditNoteNumber),
		zap.String("invoice_number", note.InvoiceNumber),
		zap.String("total", note.Total.StringFixed(2)))

	if restockErr := s.restock(ctx, note); restockErr != nil {
		return note, restockErr
	}

	return note, nil
}

// restock applies the note's restock instructions one by one. A failed line
// never aborts the rest.
func (s *CreditNoteService) restock(ctx context.Context, note *billing.CreditNote) error {
	instructions := note.RestockInstructions()
	if len(instructions) == 0 || s.inventory == nil {
		return nil
	}

	var failed []billing.RestockInstruction
	for _, ins := range instructions {
		if err := s.inventory.Restock(ctx, ins.ProductID, ins.Quantity); err != nil {
			s.logger.Error("restock failed for returned line",
				zap.String("credit_note_id", note.ID.String()),
				zap.String("product_id", ins.ProductID.String()),
				zap.Int64("quantity", ins.Quantity),
				zap.Error(err))
			failed = append(failed, ins)
		}
	}

	if len(failed) > 0 {
		return &billing.RestockFailedError{CreditNoteID: note.ID, Failed: failed}
	}
	return nil
}

// GetCreditNote returns a credit note by ID
func (s *CreditNoteService) GetCreditNote(ctx context.Context, creditNoteID uuid.UUID) (*billing.CreditNote, error) {
	note, err := s.creditNoteRepo.FindByID(ctx, creditNoteID)
	if err != nil {
		return nil, fmt.Errorf("failed to find credit note: %w", err)
	}
	if note == nil {
		return nil, shared.NewDomainError("CREDIT_NOTE_NOT_FOUND",
			fmt.Sprintf("Credit note %s not found", creditNoteID))
	}
	return note, nil
}

// ListCreditNotesForInvoice returns all credit notes issued against an
// invoice, oldest first
func (s *CreditNoteService) ListCreditNotesForInvoice(ctx context.Context, invoiceID uuid.UUID) ([]billing.CreditNote, error) {
	notes, err := s.creditNoteRepo.FindByInvoice(ctx, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load credit notes: %w", err)
	}
	return notes, nil
}

// RemainingQuantities returns, per invoice line, how many units are still
// returnable after all issued credit notes
func (s *CreditNoteService) RemainingQuantities(ctx context.Context, invoiceID uuid.UUID) (map[uuid.UUID]int64, error) {
	invoice, err := s.invoiceRepo.FindByID(ctx, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to find invoice: %w", err)
	}
	if invoice == nil {
		return nil, shared.NewDomainError("INVOICE_NOT_FOUND",
			fmt.Sprintf("Invoice %s not found", invoiceID))
	}

	notes, err := s.creditNoteRepo.FindByInvoice(ctx, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load credit notes: %w", err)
	}

	return billing.RemainingQuantities(invoice, notes), nil
}
