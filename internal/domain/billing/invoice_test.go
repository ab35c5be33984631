package billing

import (
	"testing"
	"time"

	"github.com/bizledger/backend/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helpers

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func testCustomer() CustomerInfo {
	return CustomerInfo{
		ID:      uuid.New(),
		Name:    "Acme Trading Ltd",
		Contact: "accounts@acme.example.com",
	}
}

func mustLineItem(t *testing.T, quantity int64, unitPrice, discount float64) *InvoiceLineItem {
	t.Helper()
	item, err := NewInvoiceLineItem(uuid.New(), "Widget", quantity, decimal.NewFromFloat(unitPrice), decimal.NewFromFloat(discount))
	require.NoError(t, err)
	return item
}

// createTestInvoice builds a draft invoice with one line, qty 2 at 500.00,
// no discounts or tax.
func createTestInvoice(t *testing.T) *Invoice {
	t.Helper()
	item := mustLineItem(t, 2, 500.00, 0)
	inv, err := NewInvoice(
		"INV-20260310-00001",
		testCustomer(),
		[]InvoiceLineItem{*item},
		decimal.Zero,
		decimal.Zero,
		testNow,
		testNow.AddDate(0, 0, 30),
		testNow,
	)
	require.NoError(t, err)
	return inv
}

func createIssuedInvoice(t *testing.T) *Invoice {
	t.Helper()
	inv := createTestInvoice(t)
	require.NoError(t, inv.Issue(testNow))
	return inv
}

func mustPayment(t *testing.T, amount float64) *Payment {
	t.Helper()
	p, err := NewPayment(valueobject.NewMoneyUSDFromFloat(amount), PaymentMethodBankTransfer, testNow, "", "")
	require.NoError(t, err)
	return p
}

// ============================================
// InvoiceStatus tests
// ============================================

func TestInvoiceStatus_IsValid(t *testing.T) {
	tests := []struct {
		status  InvoiceStatus
		isValid bool
	}{
		{InvoiceStatusDraft, true},
		{InvoiceStatusSent, true},
		{InvoiceStatusPartial, true},
		{InvoiceStatusPaid, true},
		{InvoiceStatusOverdue, true},
		{InvoiceStatusCancelled, true},
		{InvoiceStatus("INVALID"), false},
		{InvoiceStatus(""), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.isValid, tt.status.IsValid())
		})
	}
}

func TestInvoiceStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status     InvoiceStatus
		isTerminal bool
	}{
		{InvoiceStatusDraft, false},
		{InvoiceStatusSent, false},
		{InvoiceStatusPartial, false},
		{InvoiceStatusOverdue, false},
		{InvoiceStatusPaid, true},
		{InvoiceStatusCancelled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.isTerminal, tt.status.IsTerminal())
		})
	}
}

func TestInvoiceStatus_CanApplyPayment(t *testing.T) {
	tests := []struct {
		status   InvoiceStatus
		canApply bool
	}{
		{InvoiceStatusDraft, false},
		{InvoiceStatusSent, true},
		{InvoiceStatusPartial, true},
		{InvoiceStatusOverdue, true},
		{InvoiceStatusPaid, false},
		{InvoiceStatusCancelled, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.canApply, tt.status.CanApplyPayment())
		})
	}
}

func TestInvoiceStatus_CanCredit(t *testing.T) {
	tests := []struct {
		status    InvoiceStatus
		canCredit bool
	}{
		{InvoiceStatusDraft, false},
		{InvoiceStatusSent, true},
		{InvoiceStatusPartial, true},
		{InvoiceStatusOverdue, true},
		{InvoiceStatusPaid, true},
		{InvoiceStatusCancelled, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.canCredit, tt.status.CanCredit())
		})
	}
}

func TestPaymentMethod_IsValid(t *testing.T) {
	tests := []struct {
		method  PaymentMethod
		isValid bool
	}{
		{PaymentMethodCash, true},
		{PaymentMethodCard, true},
		{PaymentMethodBankTransfer, true},
		{PaymentMethodMobileMoney, true},
		{PaymentMethodOther, true},
		{PaymentMethod("CHEQUE"), false},
		{PaymentMethod(""), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.method), func(t *testing.T) {
			assert.Equal(t, tt.isValid, tt.method.IsValid())
		})
	}
}

// ============================================
// InvoiceLineItem tests
// ============================================

func TestNewInvoiceLineItem(t *testing.T) {
	item, err := NewInvoiceLineItem(uuid.New(), "Widget", 3, decimal.NewFromFloat(10.50), decimal.NewFromFloat(1.50))
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, item.ID)
	assert.Equal(t, int64(3), item.Quantity)
	assert.True(t, item.LineTotal.Equal(decimal.NewFromFloat(30.00)), "line total should be 3*10.50-1.50")
}

func TestNewInvoiceLineItem_Validation(t *testing.T) {
	price := decimal.NewFromInt(10)

	tests := []struct {
		name      string
		desc      string
		quantity  int64
		unitPrice decimal.Decimal
		discount  decimal.Decimal
	}{
		{"empty description", "", 1, price, decimal.Zero},
		{"zero quantity", "Widget", 0, price, decimal.Zero},
		{"negative quantity", "Widget", -1, price, decimal.Zero},
		{"negative unit price", "Widget", 1, decimal.NewFromInt(-1), decimal.Zero},
		{"negative discount", "Widget", 1, price, decimal.NewFromInt(-1)},
		{"discount exceeds line amount", "Widget", 2, price, decimal.NewFromInt(21)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewInvoiceLineItem(uuid.New(), tt.desc, tt.quantity, tt.unitPrice, tt.discount)
			assert.Error(t, err)
		})
	}
}

func TestNewInvoiceLineItem_DiscountEqualToLineAmount(t *testing.T) {
	item, err := NewInvoiceLineItem(uuid.New(), "Free sample", 1, decimal.NewFromInt(10), decimal.NewFromInt(10))
	require.NoError(t, err)
	assert.True(t, item.LineTotal.IsZero())
}

// ============================================
// NewInvoice tests
// ============================================

func TestNewInvoice_SingleLineTotals(t *testing.T) {
	inv := createTestInvoice(t)

	assert.Equal(t, InvoiceStatusDraft, inv.Status)
	assert.True(t, inv.Subtotal.Equal(decimal.NewFromInt(1000)), "subtotal should be 1000.00")
	assert.True(t, inv.Total.Equal(decimal.NewFromInt(1000)), "total should be 1000.00")
	assert.True(t, inv.AmountPaid.IsZero())
	assert.True(t, inv.AmountDue.Equal(inv.Total))
	assert.Equal(t, 1, inv.GetVersion())
	assert.Len(t, inv.GetDomainEvents(), 1)
}

func TestNewInvoice_Validation(t *testing.T) {
	item := mustLineItem(t, 1, 100, 0)
	customer := testCustomer()
	due := testNow.AddDate(0, 0, 30)

	tests := []struct {
		name     string
		number   string
		customer CustomerInfo
		items    []InvoiceLineItem
		discount decimal.Decimal
		tax      decimal.Decimal
		dueDate  time.Time
	}{
		{"empty number", "", customer, []InvoiceLineItem{*item}, decimal.Zero, decimal.Zero, due},
		{"nil customer id", "INV-1", CustomerInfo{Name: "x"}, []InvoiceLineItem{*item}, decimal.Zero, decimal.Zero, due},
		{"empty customer name", "INV-1", CustomerInfo{ID: uuid.New()}, []InvoiceLineItem{*item}, decimal.Zero, decimal.Zero, due},
		{"no items", "INV-1", customer, nil, decimal.Zero, decimal.Zero, due},
		{"negative discount", "INV-1", customer, []InvoiceLineItem{*item}, decimal.NewFromInt(-1), decimal.Zero, due},
		{"negative tax", "INV-1", customer, []InvoiceLineItem{*item}, decimal.Zero, decimal.NewFromInt(-1), due},
		{"discount exceeds total", "INV-1", customer, []InvoiceLineItem{*item}, decimal.NewFromInt(500), decimal.Zero, due},
		{"due before issue", "INV-1", customer, []InvoiceLineItem{*item}, decimal.Zero, decimal.Zero, testNow.AddDate(0, 0, -1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewInvoice(tt.number, tt.customer, tt.items, tt.discount, tt.tax, testNow, tt.dueDate, testNow)
			assert.Error(t, err)
		})
	}
}

func TestNewInvoice_DiscountAndTax(t *testing.T) {
	item := mustLineItem(t, 4, 25.00, 0)
	inv, err := NewInvoice(
		"INV-20260310-00002",
		testCustomer(),
		[]InvoiceLineItem{*item},
		decimal.NewFromInt(10),
		decimal.NewFromFloat(7.20),
		testNow,
		testNow.AddDate(0, 0, 14),
		testNow,
	)
	require.NoError(t, err)

	assert.True(t, inv.Subtotal.Equal(decimal.NewFromInt(100)))
	// total = subtotal - discount + tax
	assert.True(t, inv.Total.Equal(decimal.NewFromFloat(97.20)))
	assert.True(t, inv.AmountDue.Equal(inv.Total))
}

func TestInvoice_ComputeTotals_IsPure(t *testing.T) {
	inv := createTestInvoice(t)
	before := inv.GetVersion()

	sub1, tot1 := inv.ComputeTotals()
	sub2, tot2 := inv.ComputeTotals()

	assert.True(t, sub1.Equal(sub2))
	assert.True(t, tot1.Equal(tot2))
	assert.Equal(t, before, inv.GetVersion())
	assert.True(t, sub1.Equal(inv.Subtotal))
	assert.True(t, tot1.Equal(inv.Total))
}

// ============================================
// AddLineItem tests
// ============================================

func TestInvoice_AddLineItem(t *testing.T) {
	inv := createTestInvoice(t)
	item := mustLineItem(t, 1, 250.00, 0)

	require.NoError(t, inv.AddLineItem(item, testNow))

	assert.Len(t, inv.Items, 2)
	assert.True(t, inv.Subtotal.Equal(decimal.NewFromInt(1250)))
	assert.True(t, inv.AmountDue.Equal(decimal.NewFromInt(1250)))
}

func TestInvoice_AddLineItem_FrozenAfterIssue(t *testing.T) {
	inv := createIssuedInvoice(t)
	item := mustLineItem(t, 1, 250.00, 0)

	err := inv.AddLineItem(item, testNow)
	assert.Error(t, err)
	assert.Len(t, inv.Items, 1)
}

// ============================================
// Issue tests
// ============================================

func TestInvoice_Issue(t *testing.T) {
	inv := createTestInvoice(t)

	require.NoError(t, inv.Issue(testNow))

	assert.Equal(t, InvoiceStatusSent, inv.Status)
	require.NotNil(t, inv.IssuedAt)
	assert.Equal(t, testNow, *inv.IssuedAt)
}

func TestInvoice_Issue_OnlyFromDraft(t *testing.T) {
	inv := createIssuedInvoice(t)

	err := inv.Issue(testNow)
	assert.Error(t, err)

	cancelled := createTestInvoice(t)
	require.NoError(t, cancelled.Cancel("duplicate entry", testNow))
	assert.Error(t, cancelled.Issue(testNow))
}

// ============================================
// ApplyPayment tests
// ============================================

func TestInvoice_ApplyPayment_PartialPayment(t *testing.T) {
	inv := createIssuedInvoice(t)

	require.NoError(t, inv.ApplyPayment(mustPayment(t, 400.00), testNow))

	assert.Equal(t, InvoiceStatusPartial, inv.Status)
	assert.True(t, inv.AmountPaid.Equal(decimal.NewFromInt(400)))
	assert.True(t, inv.AmountDue.Equal(decimal.NewFromInt(600)))
}

func TestInvoice_ApplyPayment_SettlesThenRejectsFurther(t *testing.T) {
	inv := createIssuedInvoice(t)
	require.NoError(t, inv.ApplyPayment(mustPayment(t, 400.00), testNow))

	require.NoError(t, inv.ApplyPayment(mustPayment(t, 600.00), testNow))

	assert.Equal(t, InvoiceStatusPaid, inv.Status)
	assert.True(t, inv.AmountDue.IsZero())
	require.NotNil(t, inv.PaidAt)

	// Any further positive payment must be rejected as an overpayment
	err := inv.ApplyPayment(mustPayment(t, 0.01), testNow)
	var overpay *OverpaymentError
	require.ErrorAs(t, err, &overpay)
	assert.True(t, overpay.AmountDue.IsZero())
}

func TestInvoice_ApplyPayment_Overpayment(t *testing.T) {
	inv := createIssuedInvoice(t)

	err := inv.ApplyPayment(mustPayment(t, 1000.01), testNow)

	var overpay *OverpaymentError
	require.ErrorAs(t, err, &overpay)
	assert.True(t, overpay.AmountDue.Equal(decimal.NewFromInt(1000)))
	assert.True(t, overpay.Attempted.Equal(decimal.NewFromFloat(1000.01)))
	assert.Equal(t, InvoiceStatusSent, inv.Status)
	assert.Equal(t, 0, inv.PaymentCount())
}

func TestInvoice_ApplyPayment_InvalidStates(t *testing.T) {
	draft := createTestInvoice(t)
	assert.Error(t, draft.ApplyPayment(mustPayment(t, 100), testNow))

	cancelled := createIssuedInvoice(t)
	require.NoError(t, cancelled.Cancel("customer withdrew order", testNow))
	assert.Error(t, cancelled.ApplyPayment(mustPayment(t, 100), testNow))
}

func TestInvoice_ApplyPayment_InvariantsHold(t *testing.T) {
	inv := createIssuedInvoice(t)
	amounts := []float64{100, 250.50, 149.50, 500}

	for _, amt := range amounts {
		require.NoError(t, inv.ApplyPayment(mustPayment(t, amt), testNow))

		// total == subtotal - discount + tax
		assert.True(t, inv.Total.Equal(inv.Subtotal.Sub(inv.Discount).Add(inv.Tax)))
		// amountDue == total - amountPaid, never negative
		assert.True(t, inv.AmountDue.Equal(inv.Total.Sub(inv.AmountPaid)))
		assert.False(t, inv.AmountDue.IsNegative())
	}

	assert.Equal(t, InvoiceStatusPaid, inv.Status)
	assert.Equal(t, 4, inv.PaymentCount())
}

func TestInvoice_ApplyPayment_RecoversFromOverdue(t *testing.T) {
	inv := createIssuedInvoice(t)
	afterDue := inv.DueDate.AddDate(0, 0, 1)
	require.True(t, inv.ReconcileOverdue(afterDue))

	require.NoError(t, inv.ApplyPayment(mustPayment(t, 400), afterDue))
	assert.Equal(t, InvoiceStatusPartial, inv.Status)

	require.NoError(t, inv.ApplyPayment(mustPayment(t, 600), afterDue))
	assert.Equal(t, InvoiceStatusPaid, inv.Status)
}

// ============================================
// ReconcileOverdue tests
// ============================================

func TestInvoice_ReconcileOverdue_PaidAfterOverdueStaysPaid(t *testing.T) {
	inv := createIssuedInvoice(t)
	afterDue := inv.DueDate.AddDate(0, 0, 5)

	changed := inv.ReconcileOverdue(afterDue)

	assert.True(t, changed)
	assert.Equal(t, InvoiceStatusOverdue, inv.Status)

	// Full payment settles the invoice; it must not drop back to overdue
	require.NoError(t, inv.ApplyPayment(mustPayment(t, 1000), afterDue))
	assert.Equal(t, InvoiceStatusPaid, inv.Status)
	assert.False(t, inv.ReconcileOverdue(afterDue))
	assert.Equal(t, InvoiceStatusPaid, inv.Status)
}

func TestInvoice_ReconcileOverdue_Idempotent(t *testing.T) {
	inv := createIssuedInvoice(t)
	afterDue := inv.DueDate.AddDate(0, 0, 1)

	assert.True(t, inv.ReconcileOverdue(afterDue))
	version := inv.GetVersion()

	assert.False(t, inv.ReconcileOverdue(afterDue))
	assert.Equal(t, InvoiceStatusOverdue, inv.Status)
	assert.Equal(t, version, inv.GetVersion())
}

func TestInvoice_ReconcileOverdue_NotYetDue(t *testing.T) {
	inv := createIssuedInvoice(t)

	assert.False(t, inv.ReconcileOverdue(inv.DueDate))
	assert.Equal(t, InvoiceStatusSent, inv.Status)
}

func TestInvoice_ReconcileOverdue_NoEffectOnDraftPaidCancelled(t *testing.T) {
	afterDue := testNow.AddDate(0, 0, 60)

	draft := createTestInvoice(t)
	assert.False(t, draft.ReconcileOverdue(afterDue))
	assert.Equal(t, InvoiceStatusDraft, draft.Status)

	paid := createIssuedInvoice(t)
	require.NoError(t, paid.ApplyPayment(mustPayment(t, 1000), testNow))
	assert.False(t, paid.ReconcileOverdue(afterDue))
	assert.Equal(t, InvoiceStatusPaid, paid.Status)

	cancelled := createIssuedInvoice(t)
	require.NoError(t, cancelled.Cancel("entered in error", testNow))
	assert.False(t, cancelled.ReconcileOverdue(afterDue))
	assert.Equal(t, InvoiceStatusCancelled, cancelled.Status)
}

func TestInvoice_ReconcileOverdue_PartialPastDue(t *testing.T) {
	inv := createIssuedInvoice(t)
	require.NoError(t, inv.ApplyPayment(mustPayment(t, 400), testNow))
	afterDue := inv.DueDate.AddDate(0, 0, 1)

	assert.True(t, inv.ReconcileOverdue(afterDue))
	assert.Equal(t, InvoiceStatusOverdue, inv.Status)
}

// ============================================
// Cancel tests
// ============================================

func TestInvoice_Cancel(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(t *testing.T) *Invoice
	}{
		{"draft", func(t *testing.T) *Invoice { return createTestInvoice(t) }},
		{"sent", func(t *testing.T) *Invoice { return createIssuedInvoice(t) }},
		{"partial", func(t *testing.T) *Invoice {
			inv := createIssuedInvoice(t)
			require.NoError(t, inv.ApplyPayment(mustPayment(t, 100), testNow))
			return inv
		}},
		{"overdue", func(t *testing.T) *Invoice {
			inv := createIssuedInvoice(t)
			inv.ReconcileOverdue(inv.DueDate.AddDate(0, 0, 1))
			return inv
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := tt.prepare(t)
			require.NoError(t, inv.Cancel("customer withdrew order", testNow))
			assert.Equal(t, InvoiceStatusCancelled, inv.Status)
			require.NotNil(t, inv.CancelledAt)
		})
	}
}

func TestInvoice_Cancel_PaidRejected(t *testing.T) {
	inv := createIssuedInvoice(t)
	require.NoError(t, inv.ApplyPayment(mustPayment(t, 1000), testNow))

	err := inv.Cancel("too late", testNow)
	assert.Error(t, err)
	assert.Equal(t, InvoiceStatusPaid, inv.Status)
}

func TestInvoice_Cancel_Terminal(t *testing.T) {
	inv := createTestInvoice(t)
	require.NoError(t, inv.Cancel("duplicate entry", testNow))

	assert.Error(t, inv.Cancel("again", testNow))
	assert.Error(t, inv.Issue(testNow))
}

func TestInvoice_Cancel_RequiresReason(t *testing.T) {
	inv := createTestInvoice(t)
	assert.Error(t, inv.Cancel("", testNow))
}

// ============================================
// Misc helpers
// ============================================

func TestInvoice_LinkSource(t *testing.T) {
	inv := createTestInvoice(t)
	saleID := uuid.New()

	require.NoError(t, inv.LinkSource(SourceTypeSale, saleID, "POS-00042"))
	assert.Equal(t, SourceTypeSale, inv.SourceType)
	require.NotNil(t, inv.SourceID)
	assert.Equal(t, saleID, *inv.SourceID)

	require.NoError(t, inv.Issue(testNow))
	assert.Error(t, inv.LinkSource(SourceTypeOrder, uuid.New(), "SO-1"))
}

func TestInvoice_DaysOverdue(t *testing.T) {
	inv := createIssuedInvoice(t)

	assert.Equal(t, 0, inv.DaysOverdue(inv.DueDate))
	assert.Equal(t, 3, inv.DaysOverdue(inv.DueDate.AddDate(0, 0, 3)))
}

func TestNewPayment_Validation(t *testing.T) {
	_, err := NewPayment(valueobject.ZeroUSD(), PaymentMethodCash, testNow, "", "")
	assert.Error(t, err)

	_, err = NewPayment(valueobject.NewMoneyUSDFromFloat(-5), PaymentMethodCash, testNow, "", "")
	assert.Error(t, err)

	_, err = NewPayment(valueobject.NewMoneyUSDFromFloat(5), PaymentMethod("IOU"), testNow, "", "")
	assert.Error(t, err)
}

func TestPayments_ScanValue(t *testing.T) {
	inv := createIssuedInvoice(t)
	require.NoError(t, inv.ApplyPayment(mustPayment(t, 400), testNow))

	v, err := inv.Payments.Value()
	require.NoError(t, err)

	var out Payments
	require.NoError(t, out.Scan(v))
	require.Len(t, out, 1)
	assert.Equal(t, inv.Payments[0].ID, out[0].ID)
	assert.True(t, out[0].Amount.Equal(decimal.NewFromInt(400)))
}

func TestLineItems_ScanNil(t *testing.T) {
	var items LineItems
	require.NoError(t, items.Scan(nil))
	assert.Empty(t, items)
}
