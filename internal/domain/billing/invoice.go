package billing

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bizledger/backend/internal/domain/shared"
	"github.com/bizledger/backend/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvoiceStatus represents the lifecycle status of an invoice
type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "DRAFT"     // Created, not yet issued; line items still mutable
	InvoiceStatusSent      InvoiceStatus = "SENT"      // Issued, no payments yet, not past due
	InvoiceStatusPartial   InvoiceStatus = "PARTIAL"   // Partially paid, 0 < amountPaid < total
	InvoiceStatusPaid      InvoiceStatus = "PAID"      // Fully paid, amountDue = 0
	InvoiceStatusOverdue   InvoiceStatus = "OVERDUE"   // Past due date with a nonzero balance
	InvoiceStatusCancelled InvoiceStatus = "CANCELLED" // Cancelled before full payment
)

// IsValid checks if the status is a valid InvoiceStatus
func (s InvoiceStatus) IsValid() bool {
	switch s {
	case InvoiceStatusDraft, InvoiceStatusSent, InvoiceStatusPartial,
		InvoiceStatusPaid, InvoiceStatusOverdue, InvoiceStatusCancelled:
		return true
	}
	return false
}

// String returns the string representation of InvoiceStatus
func (s InvoiceStatus) String() string {
	return string(s)
}

// IsTerminal returns true if the invoice is in a terminal state
func (s InvoiceStatus) IsTerminal() bool {
	return s == InvoiceStatusPaid || s == InvoiceStatusCancelled
}

// CanApplyPayment returns true if payments can be applied in this status.
// Paid invoices are excluded here only by the overpayment guard: any positive
// amount exceeds a zero balance.
func (s InvoiceStatus) CanApplyPayment() bool {
	return s == InvoiceStatusSent || s == InvoiceStatusPartial || s == InvoiceStatusOverdue
}

// CanCancel returns true if the invoice can still be cancelled
func (s InvoiceStatus) CanCancel() bool {
	return s != InvoiceStatusPaid && s != InvoiceStatusCancelled
}

// CanCredit returns true if credit notes may be issued against this status
func (s InvoiceStatus) CanCredit() bool {
	return s != InvoiceStatusDraft && s != InvoiceStatusCancelled
}

// SourceType identifies the kind of document an invoice originated from
type SourceType string

const (
	SourceTypeSale   SourceType = "SALE"   // Point-of-sale transaction
	SourceTypeOrder  SourceType = "ORDER"  // Sales order
	SourceTypeManual SourceType = "MANUAL" // Manually created invoice
)

// IsValid checks if the source type is valid
func (s SourceType) IsValid() bool {
	switch s {
	case SourceTypeSale, SourceTypeOrder, SourceTypeManual:
		return true
	}
	return false
}

// PaymentMethod represents how a payment was made
type PaymentMethod string

const (
	PaymentMethodCash         PaymentMethod = "CASH"
	PaymentMethodCard         PaymentMethod = "CARD"
	PaymentMethodBankTransfer PaymentMethod = "BANK_TRANSFER"
	PaymentMethodMobileMoney  PaymentMethod = "MOBILE_MONEY"
	PaymentMethodOther        PaymentMethod = "OTHER"
)

// IsValid checks if the payment method is valid
func (m PaymentMethod) IsValid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodCard, PaymentMethodBankTransfer,
		PaymentMethodMobileMoney, PaymentMethodOther:
		return true
	}
	return false
}

// CustomerInfo is the customer snapshot denormalized onto billing documents
// at creation time. The ledger never re-reads customer master data.
type CustomerInfo struct {
	ID      uuid.UUID `json:"id"`
	Name    string    `json:"name"`
	Contact string    `json:"contact,omitempty"`
}

// Validate checks the snapshot is usable
func (c CustomerInfo) Validate() error {
	if c.ID == uuid.Nil {
		return shared.NewDomainError("INVALID_CUSTOMER", "Customer ID cannot be empty")
	}
	if c.Name == "" {
		return shared.NewDomainError("INVALID_CUSTOMER_NAME", "Customer name cannot be empty")
	}
	return nil
}

// InvoiceLineItem represents a billed line on an invoice.
// Line items are append-only while the invoice is a draft and frozen on issue.
type InvoiceLineItem struct {
	ID          uuid.UUID       `json:"id"`
	ProductID   uuid.UUID       `json:"product_id,omitempty"` // Nil for service lines without stock
	Description string          `json:"description"`
	Quantity    int64           `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Discount    decimal.Decimal `json:"discount"`
	LineTotal   decimal.Decimal `json:"line_total"` // Quantity*UnitPrice - Discount
}

// NewInvoiceLineItem creates a validated invoice line item
func NewInvoiceLineItem(productID uuid.UUID, description string, quantity int64, unitPrice, discount decimal.Decimal) (*InvoiceLineItem, error) {
	if description == "" {
		return nil, shared.NewDomainError("INVALID_DESCRIPTION", "Line item description cannot be empty")
	}
	if quantity < 1 {
		return nil, shared.NewDomainError("INVALID_QUANTITY", "Line item quantity must be at least 1")
	}
	if unitPrice.IsNegative() {
		return nil, shared.NewDomainError("INVALID_UNIT_PRICE", "Line item unit price cannot be negative")
	}
	if discount.IsNegative() {
		return nil, shared.NewDomainError("INVALID_DISCOUNT", "Line item discount cannot be negative")
	}
	gross := unitPrice.Mul(decimal.NewFromInt(quantity))
	if discount.GreaterThan(gross) {
		return nil, shared.NewDomainError("INVALID_DISCOUNT",
			fmt.Sprintf("Line item discount %s exceeds line amount %s", discount.StringFixed(2), gross.StringFixed(2)))
	}

	return &InvoiceLineItem{
		ID:          uuid.New(),
		ProductID:   productID,
		Description: description,
		Quantity:    quantity,
		UnitPrice:   unitPrice,
		Discount:    discount,
		LineTotal:   gross.Sub(discount),
	}, nil
}

// GetLineTotalMoney returns the line total as Money
func (i *InvoiceLineItem) GetLineTotalMoney() valueobject.Money {
	return valueobject.NewMoneyUSD(i.LineTotal)
}

// LineItems is a slice of InvoiceLineItem stored as a JSONB column
type LineItems []InvoiceLineItem

// Value implements driver.Valuer for JSONB storage
func (l LineItems) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner for JSONB storage
func (l *LineItems) Scan(value interface{}) error {
	return scanJSONSlice(value, l, "LineItems")
}

// Payment is a payment applied to an invoice. Payments are immutable once
// recorded; corrections happen via an offsetting payment or a credit note,
// never by editing history.
type Payment struct {
	ID        uuid.UUID       `json:"id"`
	Amount    decimal.Decimal `json:"amount"`
	Method    PaymentMethod   `json:"method"`
	PaidAt    time.Time       `json:"paid_at"`
	Reference string          `json:"reference,omitempty"` // External reference, e.g. a bank transaction ID
	Note      string          `json:"note,omitempty"`
}

// NewPayment creates a validated payment record
func NewPayment(amount valueobject.Money, method PaymentMethod, paidAt time.Time, reference, note string) (*Payment, error) {
	if !amount.IsPositive() {
		return nil, shared.NewDomainError("INVALID_AMOUNT", "Payment amount must be positive")
	}
	if !method.IsValid() {
		return nil, shared.NewDomainError("INVALID_PAYMENT_METHOD", fmt.Sprintf("Unknown payment method %q", method))
	}

	return &Payment{
		ID:        uuid.New(),
		Amount:    amount.Amount(),
		Method:    method,
		PaidAt:    paidAt,
		Reference: reference,
		Note:      note,
	}, nil
}

// GetAmountMoney returns the payment amount as Money
func (p *Payment) GetAmountMoney() valueobject.Money {
	return valueobject.NewMoneyUSD(p.Amount)
}

// Payments is a slice of Payment stored as a JSONB column
type Payments []Payment

// Value implements driver.Valuer for JSONB storage
func (p Payments) Value() (driver.Value, error) {
	if p == nil {
		return "[]", nil
	}
	return json.Marshal(p)
}

// Scan implements sql.Scanner for JSONB storage
func (p *Payments) Scan(value interface{}) error {
	return scanJSONSlice(value, p, "Payments")
}

// scanJSONSlice decodes a JSONB column into the given slice pointer
func scanJSONSlice(value interface{}, dest interface{}, name string) error {
	if value == nil {
		return json.Unmarshal([]byte("[]"), dest)
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("failed to scan " + name + ": unsupported type")
	}

	if len(bytes) == 0 {
		return json.Unmarshal([]byte("[]"), dest)
	}
	return json.Unmarshal(bytes, dest)
}

// Invoice is the billing aggregate root. Subtotal, Total, AmountPaid and
// AmountDue are maintained incrementally on every mutation rather than
// recomputed on read, so the optimistic-concurrency check on Version covers
// the derived state too.
type Invoice struct {
	shared.BaseAggregateRoot
	InvoiceNumber   string          `json:"invoice_number"`
	CustomerID      uuid.UUID       `json:"customer_id"`
	CustomerName    string          `json:"customer_name"`
	CustomerContact string          `json:"customer_contact"`
	Items           LineItems       `json:"items"`
	Discount        decimal.Decimal `json:"discount"` // Invoice-level discount
	Tax             decimal.Decimal `json:"tax"`      // Externally supplied tax amount
	Subtotal        decimal.Decimal `json:"subtotal"`
	Total           decimal.Decimal `json:"total"`
	AmountPaid      decimal.Decimal `json:"amount_paid"`
	AmountDue       decimal.Decimal `json:"amount_due"`
	Status          InvoiceStatus   `json:"status"`
	IssueDate       time.Time       `json:"issue_date"`
	DueDate         time.Time       `json:"due_date"`
	Payments        Payments        `json:"payments"`
	SourceType      SourceType      `json:"source_type"`
	SourceID        *uuid.UUID      `json:"source_id,omitempty"` // Originating sale or order, if any
	SourceNumber    string          `json:"source_number,omitempty"`
	Notes           string          `json:"notes"`
	Terms           string          `json:"terms"`
	IssuedAt        *time.Time      `json:"issued_at,omitempty"`
	PaidAt          *time.Time      `json:"paid_at,omitempty"`
	CancelledAt     *time.Time      `json:"cancelled_at,omitempty"`
	CancelReason    string          `json:"cancel_reason,omitempty"`
}

// NewInvoice creates a new draft invoice
func NewInvoice(
	invoiceNumber string,
	customer CustomerInfo,
	items []InvoiceLineItem,
	discount, tax decimal.Decimal,
	issueDate, dueDate time.Time,
	now time.Time,
) (*Invoice, error) {
	if invoiceNumber == "" {
		return nil, shared.NewDomainError("INVALID_INVOICE_NUMBER", "Invoice number cannot be empty")
	}
	if len(invoiceNumber) > 50 {
		return nil, shared.NewDomainError("INVALID_INVOICE_NUMBER", "Invoice number cannot exceed 50 characters")
	}
	if err := customer.Validate(); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, shared.NewDomainError("NO_ITEMS", "Invoice must have at least one line item")
	}
	if discount.IsNegative() {
		return nil, shared.NewDomainError("INVALID_DISCOUNT", "Invoice discount cannot be negative")
	}
	if tax.IsNegative() {
		return nil, shared.NewDomainError("INVALID_TAX", "Invoice tax cannot be negative")
	}
	if dueDate.Before(issueDate) {
		return nil, shared.NewDomainError("INVALID_DUE_DATE", "Due date cannot be before issue date")
	}

	inv := &Invoice{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(now),
		InvoiceNumber:     invoiceNumber,
		CustomerID:        customer.ID,
		CustomerName:      customer.Name,
		CustomerContact:   customer.Contact,
		Items:             append(LineItems{}, items...),
		Discount:          discount,
		Tax:               tax,
		AmountPaid:        decimal.Zero,
		Status:            InvoiceStatusDraft,
		IssueDate:         issueDate,
		DueDate:           dueDate,
		Payments:          Payments{},
		SourceType:        SourceTypeManual,
	}
	inv.recalculateTotals()

	if inv.Total.IsNegative() {
		return nil, shared.NewDomainError("INVALID_DISCOUNT",
			fmt.Sprintf("Invoice discount %s exceeds subtotal plus tax", discount.StringFixed(2)))
	}

	inv.AddDomainEvent(NewInvoiceCreatedEvent(inv))

	return inv, nil
}

// LinkSource records the originating document reference.
// Only allowed while the invoice is a draft.
func (inv *Invoice) LinkSource(sourceType SourceType, sourceID uuid.UUID, sourceNumber string) error {
	if inv.Status != InvoiceStatusDraft {
		return shared.NewDomainError("INVALID_STATE", "Cannot link a source document to a non-draft invoice")
	}
	if !sourceType.IsValid() {
		return shared.NewDomainError("INVALID_SOURCE_TYPE", "Source type is not valid")
	}
	if sourceID == uuid.Nil {
		return shared.NewDomainError("INVALID_SOURCE_ID", "Source ID cannot be empty")
	}

	inv.SourceType = sourceType
	inv.SourceID = &sourceID
	inv.SourceNumber = sourceNumber

	return nil
}

// ComputeTotals derives subtotal and total from line data. Pure; every
// mutation uses it to keep the stored totals consistent with the lines.
func (inv *Invoice) ComputeTotals() (subtotal, total decimal.Decimal) {
	subtotal = decimal.Zero
	for _, item := range inv.Items {
		subtotal = subtotal.Add(item.LineTotal)
	}
	total = subtotal.Sub(inv.Discount).Add(inv.Tax)
	return subtotal, total
}

// recalculateTotals refreshes the stored derived amounts from line data
func (inv *Invoice) recalculateTotals() {
	inv.Subtotal, inv.Total = inv.ComputeTotals()
	inv.AmountDue = inv.Total.Sub(inv.AmountPaid)
}

// AddLineItem appends a line item to a draft invoice.
// Line items are append-only before issuance and immutable after.
func (inv *Invoice) AddLineItem(item *InvoiceLineItem, now time.Time) error {
	if inv.Status != InvoiceStatusDraft {
		return shared.NewDomainError("INVALID_STATE", "Cannot add line items to a non-draft invoice")
	}
	if item == nil {
		return shared.NewDomainError("INVALID_ITEM", "Line item cannot be nil")
	}

	inv.Items = append(inv.Items, *item)
	inv.recalculateTotals()
	inv.UpdatedAt = now
	inv.IncrementVersion()

	return nil
}

// Issue transitions the invoice from draft to sent and freezes its line items
func (inv *Invoice) Issue(now time.Time) error {
	if inv.Status != InvoiceStatusDraft {
		return shared.NewDomainError("INVALID_STATE",
			fmt.Sprintf("Cannot issue invoice in %s status", inv.Status))
	}

	inv.Status = InvoiceStatusSent
	inv.IssuedAt = &now
	inv.UpdatedAt = now
	inv.IncrementVersion()

	inv.AddDomainEvent(NewInvoiceIssuedEvent(inv))

	return nil
}

// ApplyPayment appends a payment, updates the paid and due amounts and
// derives the resulting status. Payments exceeding the amount due are
// rejected; amountDue never goes negative.
func (inv *Invoice) ApplyPayment(payment *Payment, now time.Time) error {
	if inv.Status == InvoiceStatusDraft || inv.Status == InvoiceStatusCancelled {
		return shared.NewDomainError("INVALID_STATE",
			fmt.Sprintf("Cannot apply payment to invoice in %s status", inv.Status))
	}
	if payment == nil {
		return shared.NewDomainError("INVALID_PAYMENT", "Payment cannot be nil")
	}
	if payment.Amount.LessThanOrEqual(decimal.Zero) {
		return shared.NewDomainError("INVALID_AMOUNT", "Payment amount must be positive")
	}
	if payment.Amount.GreaterThan(inv.AmountDue) {
		return &OverpaymentError{
			InvoiceID: inv.ID,
			AmountDue: inv.AmountDue,
			Attempted: payment.Amount,
		}
	}

	inv.Payments = append(inv.Payments, *payment)
	inv.AmountPaid = inv.AmountPaid.Add(payment.Amount)
	inv.AmountDue = inv.Total.Sub(inv.AmountPaid)

	inv.AddDomainEvent(NewInvoicePaymentAppliedEvent(inv, payment))

	if inv.AmountDue.IsZero() {
		inv.Status = InvoiceStatusPaid
		inv.PaidAt = &now
		inv.AddDomainEvent(NewInvoicePaidEvent(inv))
	} else {
		inv.Status = InvoiceStatusPartial
	}

	inv.UpdatedAt = now
	inv.IncrementVersion()

	return nil
}

// ReconcileOverdue promotes a sent or partially paid invoice past its due
// date to OVERDUE. Pure state refresh: idempotent, no effect on draft, paid
// or cancelled invoices. Returns true if the status changed.
func (inv *Invoice) ReconcileOverdue(today time.Time) bool {
	if inv.Status != InvoiceStatusSent && inv.Status != InvoiceStatusPartial {
		return false
	}
	if !inv.AmountDue.IsPositive() {
		return false
	}
	if !inv.DueDate.Before(today) {
		return false
	}

	inv.Status = InvoiceStatusOverdue
	inv.UpdatedAt = today
	inv.IncrementVersion()

	inv.AddDomainEvent(NewInvoiceOverdueEvent(inv))

	return true
}

// Cancel marks the invoice as cancelled. Paid invoices cannot be cancelled;
// cancellation is terminal and blocks further payments and credit notes.
func (inv *Invoice) Cancel(reason string, now time.Time) error {
	if !inv.Status.CanCancel() {
		return shared.NewDomainError("INVALID_STATE",
			fmt.Sprintf("Cannot cancel invoice in %s status", inv.Status))
	}
	if reason == "" {
		return shared.NewDomainError("INVALID_REASON", "Cancel reason is required")
	}

	inv.Status = InvoiceStatusCancelled
	inv.CancelledAt = &now
	inv.CancelReason = reason
	inv.UpdatedAt = now
	inv.IncrementVersion()

	inv.AddDomainEvent(NewInvoiceCancelledEvent(inv))

	return nil
}

// Helper methods

// Customer returns the denormalized customer snapshot
func (inv *Invoice) Customer() CustomerInfo {
	return CustomerInfo{ID: inv.CustomerID, Name: inv.CustomerName, Contact: inv.CustomerContact}
}

// GetTotalMoney returns the invoice total as Money
func (inv *Invoice) GetTotalMoney() valueobject.Money {
	return valueobject.NewMoneyUSD(inv.Total)
}

// GetAmountDueMoney returns the outstanding balance as Money
func (inv *Invoice) GetAmountDueMoney() valueobject.Money {
	return valueobject.NewMoneyUSD(inv.AmountDue)
}

// GetAmountPaidMoney returns the paid amount as Money
func (inv *Invoice) GetAmountPaidMoney() valueobject.Money {
	return valueobject.NewMoneyUSD(inv.AmountPaid)
}

// GetLineItem returns a line item by its ID, or nil if not present
func (inv *Invoice) GetLineItem(lineItemID uuid.UUID) *InvoiceLineItem {
	for idx := range inv.Items {
		if inv.Items[idx].ID == lineItemID {
			return &inv.Items[idx]
		}
	}
	return nil
}

// PaymentCount returns the number of payments applied
func (inv *Invoice) PaymentCount() int {
	return len(inv.Payments)
}

// IsDraft returns true if the invoice has not been issued
func (inv *Invoice) IsDraft() bool {
	return inv.Status == InvoiceStatusDraft
}

// IsPaid returns true if the invoice is fully paid
func (inv *Invoice) IsPaid() bool {
	return inv.Status == InvoiceStatusPaid
}

// IsCancelled returns true if the invoice is cancelled
func (inv *Invoice) IsCancelled() bool {
	return inv.Status == InvoiceStatusCancelled
}

// IsPastDue returns true if the due date has passed while a balance remains
func (inv *Invoice) IsPastDue(today time.Time) bool {
	return !inv.Status.IsTerminal() && inv.Status != InvoiceStatusDraft &&
		inv.AmountDue.IsPositive() && inv.DueDate.Before(today)
}

// DaysOverdue returns the number of days past due (0 if not overdue)
func (inv *Invoice) DaysOverdue(today time.Time) int {
	if !inv.IsPastDue(today) {
		return 0
	}
	return int(today.Sub(inv.DueDate).Hours() / 24)
}
