package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bizledger/backend/internal/domain/billing"
	"github.com/bizledger/backend/internal/domain/shared"
	"github.com/bizledger/backend/internal/domain/shared/valueobject"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// maxLockRetries bounds the reload-and-retry loop around optimistic-lock
// conflicts on payment application.
const maxLockRetries = 3

// InvoiceService provides application-level invoice operations
type InvoiceService struct {
	invoiceRepo    billing.InvoiceRepository
	idempotency    shared.IdempotencyStore
	idemConfig     shared.IdempotencyConfig
	defaultDueDays int
	clock          shared.Clock
	logger         *zap.Logger
	validate       *validator.Validate
}

// NewInvoiceService creates a new InvoiceService
func NewInvoiceService(
	invoiceRepo billing.InvoiceRepository,
	idempotency shared.IdempotencyStore,
	clock shared.Clock,
	logger *zap.Logger,
) *InvoiceService {
	return &InvoiceService{
		invoiceRepo:    invoiceRepo,
		idempotency:    idempotency,
		idemConfig:     shared.DefaultIdempotencyConfig(),
		defaultDueDays: 30,
		clock:          clock,
		logger:         logger,
		validate:       validator.New(),
	}
}

// SetDefaultDueDays sets the payment term applied when a create request
// carries neither a due date nor a term.
func (s *InvoiceService) SetDefaultDueDays(days int) {
	if days > 0 {
		s.defaultDueDays = days
	}
}

// SetIdempotencyTTL sets how long payment idempotency keys are held.
func (s *InvoiceService) SetIdempotencyTTL(ttl time.Duration) {
	if ttl > 0 {
		s.idemConfig.TTL = ttl
	}
}

// LineItemInput is one line of a create-invoice request
type LineItemInput struct {
	ProductID   *uuid.UUID      `json:"product_id"`
	Description string          `json:"description" validate:"required,max=200"`
	Quantity    int64           `json:"quantity" validate:"required,min=1"`
	UnitPrice   decimal.Decimal `json:"unit_price" validate:"required"`
	Discount    decimal.Decimal `json:"discount"`
}

// CreateInvoiceInput is a request to create a draft invoice
type CreateInvoiceInput struct {
	CustomerID      uuid.UUID       `json:"customer_id" validate:"required"`
	CustomerName    string          `json:"customer_name" validate:"required,max=200"`
	CustomerContact string          `json:"customer_contact" validate:"max=200"`
	Items           []LineItemInput `json:"items" validate:"required,min=1,dive"`
	Discount        decimal.Decimal `json:"discount"`
	Tax             decimal.Decimal `json:"tax"`
	IssueDate       *time.Time      `json:"issue_date"`
	DueDate         *time.Time      `json:"due_date"`
	DueInDays       int             `json:"due_in_days" validate:"min=0"`
	SourceType      *billing.SourceType
	SourceID        *uuid.UUID
	SourceNumber    string
	Notes           string `json:"notes" validate:"max=1000"`
	Terms           string `json:"terms" validate:"max=1000"`
}

// RecordPaymentInput is a request to apply a payment to an invoice
type RecordPaymentInput struct {
	InvoiceID      uuid.UUID             `json:"invoice_id" validate:"required"`
	Amount         decimal.Decimal       `json:"amount" validate:"required"`
	Method         billing.PaymentMethod `json:"method" validate:"required"`
	Reference      string                `json:"reference" validate:"max=100"`
	Note           string                `json:"note" validate:"max=500"`
	IdempotencyKey string                `json:"idempotency_key" validate:"max=100"`
}

// CreateInvoice creates a draft invoice with a generated invoice number
func (s *InvoiceService) CreateInvoice(ctx context.Context, input CreateInvoiceInput) (*billing.Invoice, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, fmt.Errorf("invalid create invoice request: %w", err)
	}

	now := s.clock.Now()
	issueDate := now
	if input.IssueDate != nil {
		issueDate = *input.IssueDate
	}
	dueInDays := input.DueInDays
	if dueInDays == 0 {
		dueInDays = s.defaultDueDays
	}
	dueDate := issueDate.AddDate(0, 0, dueInDays)
	if input.DueDate != nil {
		dueDate = *input.DueDate
	}

	items := make([]billing.InvoiceLineItem, 0, len(input.Items))
	for _, in := range input.Items {
		productID := uuid.Nil
		if in.ProductID != nil {
			productID = *in.ProductID
		}
		item, err := billing.NewInvoiceLineItem(productID, in.Description, in.Quantity, in.UnitPrice, in.Discount)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}

	number, err := s.invoiceRepo.GenerateInvoiceNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to generate invoice number: %w", err)
	}

	customer := billing.CustomerInfo{
		ID:      input.CustomerID,
		Name:    input.CustomerName,
		Contact: input.CustomerContact,
	}
	invoice, err := billing.NewInvoice(number, customer, items, input.Discount, input.Tax, issueDate, dueDate, now)
	if err != nil {
		return nil, err
	}
	invoice.Notes = input.Notes
	invoice.Terms = input.Terms

	if input.SourceType != nil && input.SourceID != nil {
		if err := invoice.LinkSource(*input.SourceType, *input.SourceID, input.SourceNumber); err != nil {
			return nil, err
		}
	}

	if err := s.invoiceRepo.Save(ctx, invoice); err != nil {
		return nil, fmt.Errorf("failed to save invoice: %w", err)
	}

	s.logger.Info("invoice created",
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("invoice_number", invoice.InvoiceNumber),
		zap.String("total", invoice.Total.StringFixed(2)))

	return invoice, nil
}

// IssueInvoice transitions a draft invoice to sent
func (s *InvoiceService) IssueInvoice(ctx context.Context, invoiceID uuid.UUID) (*billing.Invoice, error) {
	invoice, err := s.loadInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	if err := invoice.Issue(s.clock.Now()); err != nil {
		return nil, err
	}
	if err := s.invoiceRepo.SaveWithLock(ctx, invoice); err != nil {
		return nil, fmt.Errorf("failed to save invoice: %w", err)
	}

	s.logger.Info("invoice issued",
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("invoice_number", invoice.InvoiceNumber))

	return invoice, nil
}

// RecordPayment applies a payment to an invoice. Concurrent payments are
// serialized by the aggregate version: on a conflict the invoice is reloaded
// and the payment re-validated against the fresh balance, so two racing
// payments can never jointly exceed the amount due. A client-supplied
// idempotency key makes retried submissions single-shot: the key is claimed
// atomically up front and released again whenever the payment does not land,
// so a retry after a transient failure is not mistaken for a duplicate.
func (s *InvoiceService) RecordPayment(ctx context.Context, input RecordPaymentInput) (*billing.Invoice, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, fmt.Errorf("invalid payment request: %w", err)
	}

	var claimedKey string
	if input.IdempotencyKey != "" && s.idempotency != nil && s.idemConfig.Enabled {
		key := "payment:" + input.IdempotencyKey
		fresh, err := s.idempotency.MarkProcessed(ctx, key, s.idemConfig.TTL)
		if err != nil {
			return nil, fmt.Errorf("idempotency check failed: %w", err)
		}
		if !fresh {
			return nil, shared.NewDomainError("DUPLICATE_PAYMENT",
				fmt.Sprintf("Payment with idempotency key %q was already processed", input.IdempotencyKey))
		}
		claimedKey = key
	}

	invoice, err := s.applyPayment(ctx, input)
	if err != nil {
		if claimedKey != "" {
			if relErr := s.idempotency.Release(ctx, claimedKey); relErr != nil {
				s.logger.Warn("failed to release idempotency key",
					zap.String("key", claimedKey),
					zap.Error(relErr))
			}
		}
		return nil, err
	}

	s.logger.Info("payment recorded",
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("amount", input.Amount.StringFixed(2)),
		zap.String("status", invoice.Status.String()))

	return invoice, nil
}

// applyPayment runs the load, validate, apply, compare-and-swap cycle with
// conflict retries.
func (s *InvoiceService) applyPayment(ctx context.Context, input RecordPaymentInput) (*billing.Invoice, error) {
	var invoice *billing.Invoice
	for attempt := 0; ; attempt++ {
		var err error
		invoice, err = s.loadInvoice(ctx, input.InvoiceID)
		if err != nil {
			return nil, err
		}

		payment, err := billing.NewPayment(
			valueobject.NewMoneyUSD(input.Amount), input.Method, s.clock.Now(), input.Reference, input.Note)
		if err != nil {
			return nil, err
		}
		if err := invoice.ApplyPayment(payment, s.clock.Now()); err != nil {
			return nil, err
		}

		err = s.invoiceRepo.SaveWithLock(ctx, invoice)
		if err == nil {
			break
		}
		if !errors.Is(err, shared.ErrConcurrencyConflict) {
			return nil, fmt.Errorf("failed to save invoice: %w", err)
		}
		if attempt+1 >= maxLockRetries {
			return nil, err
		}
		s.logger.Warn("payment hit a concurrent update, retrying",
			zap.String("invoice_id", input.InvoiceID.String()),
			zap.Int("attempt", attempt+1))
	}

	return invoice, nil
}

// CancelInvoice cancels a not-yet-paid invoice
func (s *InvoiceService) CancelInvoice(ctx context.Context, invoiceID uuid.UUID, reason string) (*billing.Invoice, error) {
	invoice, err := s.loadInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	if err := invoice.Cancel(reason, s.clock.Now()); err != nil {
		return nil, err
	}
	if err := s.invoiceRepo.SaveWithLock(ctx, invoice); err != nil {
		return nil, fmt.Errorf("failed to save invoice: %w", err)
	}

	s.logger.Info("invoice cancelled",
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("reason", reason))

	return invoice, nil
}

// GetInvoice returns an invoice, refreshing its overdue status against the
// current date first. The refresh is best-effort: a concurrent writer winning
// the version race does not fail the read.
func (s *InvoiceService) GetInvoice(ctx context.Context, invoiceID uuid.UUID) (*billing.Invoice, error) {
	invoice, err := s.loadInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	if invoice.ReconcileOverdue(shared.Today(s.clock)) {
		if err := s.invoiceRepo.SaveWithLock(ctx, invoice); err != nil {
			if !errors.Is(err, shared.ErrConcurrencyConflict) {
				return nil, fmt.Errorf("failed to save invoice: %w", err)
			}
			return s.loadInvoice(ctx, invoiceID)
		}
	}

	return invoice, nil
}

// GetInvoiceByNumber returns an invoice by its human-readable number
func (s *InvoiceService) GetInvoiceByNumber(ctx context.Context, invoiceNumber string) (*billing.Invoice, error) {
	invoice, err := s.invoiceRepo.FindByNumber(ctx, invoiceNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to find invoice: %w", err)
	}
	if invoice == nil {
		return nil, shared.NewDomainError("INVOICE_NOT_FOUND",
			fmt.Sprintf("Invoice %s not found", invoiceNumber))
	}
	return invoice, nil
}

// ListInvoices returns a page of invoices matching the filter
func (s *InvoiceService) ListInvoices(ctx context.Context, filter billing.InvoiceFilter) (*shared.Paginated[billing.Invoice], error) {
	invoices, err := s.invoiceRepo.FindAll(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	total, err := s.invoiceRepo.Count(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to count invoices: %w", err)
	}

	page := shared.NewPaginated(invoices, total, filter.Page, filter.Limit())
	return &page, nil
}

// ReconcileOverdueInvoices promotes every sent or partially paid invoice past
// its due date to overdue. Invoices that lose the version race to a concurrent
// writer are skipped; the next run picks them up. Returns the number of
// invoices transitioned.
func (s *InvoiceService) ReconcileOverdueInvoices(ctx context.Context) (int, error) {
	today := shared.Today(s.clock)

	due, err := s.invoiceRepo.FindDueForReconciliation(ctx, today)
	if err != nil {
		return 0, fmt.Errorf("failed to find invoices due for reconciliation: %w", err)
	}

	transitioned := 0
	for i := range due {
		invoice := &due[i]
		if !invoice.ReconcileOverdue(today) {
			continue
		}
		if err := s.invoiceRepo.SaveWithLock(ctx, invoice); err != nil {
			if errors.Is(err, shared.ErrConcurrencyConflict) {
				s.logger.Debug("skipping invoice updated concurrently during reconciliation",
					zap.String("invoice_id", invoice.ID.String()))
				continue
			}
			return transitioned, fmt.Errorf("failed to save invoice %s: %w", invoice.InvoiceNumber, err)
		}
		transitioned++
	}

	if transitioned > 0 {
		s.logger.Info("overdue reconciliation complete",
			zap.Int("transitioned", transitioned),
			zap.Time("as_of", today))
	}

	return transitioned, nil
}

// loadInvoice fetches an invoice or returns a not-found domain error
func (s *InvoiceService) loadInvoice(ctx context.Context, invoiceID uuid.UUID) (*billing.Invoice, error) {
	invoice, err := s.invoiceRepo.FindByID(ctx, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to find invoice: %w", err)
	}
	if invoice == nil {
		return nil, shared.NewDomainError("INVOICE_NOT_FOUND",
			fmt.Sprintf("Invoice %s not found", invoiceID))
	}
	return invoice, nil
}
