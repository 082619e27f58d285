package billing

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/zllovesuki/stylo/gateway"
	"github.com/zllovesuki/stylo/invoice"
	"github.com/zllovesuki/stylo/payment"
	"github.com/zllovesuki/stylo/proration"
	"github.com/zllovesuki/stylo/spec"
	"github.com/zllovesuki/stylo/subscription"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestPaymentSucceeds(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "100.00")
	method := h.onboard(t, "tok_visa", noon(2024, time.February, 20))
	inv := h.invoiceFebruary(t)

	h.at(noon(2024, time.March, 2))
	success, attempt, err := h.ProcessInvoicePayment(ctx, inv.ID, nil)
	require.NoError(t, err)
	assert.True(t, success)
	require.NotNil(t, attempt)
	assert.Equal(t, payment.StatusSucceeded, attempt.Status)
	assert.Equal(t, int64(3448), attempt.AmountCents)
	assert.NotEmpty(t, attempt.GatewayChargeID)

	charges := h.gw.Charges()
	require.Len(t, charges, 1)
	assert.Equal(t, "Subscription - Salon Uno (2024-02)", charges[0].Description)
	assert.Equal(t, method.GatewayCardID, charges[0].CardID)
	assert.Equal(t, inv.ID, charges[0].Metadata["invoice_id"])

	paid, err := h.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusPaid, paid.Status)
	assert.Equal(t, 1, paid.PaymentAttempts)
	require.NotNil(t, paid.PaymentMethodID)
	assert.Equal(t, method.ID, *paid.PaymentMethodID)

	b, err := h.getBusiness(ctx, salon.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, b.Status)
	require.NotNil(t, b.NextBillingDate)
	assert.Equal(t, "2024-03-01", b.NextBillingDate.Format("2006-01-02"))
	assert.Equal(t, "34.48", b.LastPaymentAmount.Decimal.StringFixed(2))

	assert.Len(t, h.events.ofType(spec.EventPaymentSucceeded), 1)

	_, _, err = h.ProcessInvoicePayment(ctx, inv.ID, nil)
	assert.True(t, errors.Is(err, ErrInvoiceAlreadyPaid))
	assert.Equal(t, 1, h.gw.Calls("Charge"))

	_, _, err = h.ProcessInvoicePayment(ctx, "missing", nil)
	assert.True(t, errors.Is(err, ErrInvoiceNotFound))
}

func TestRecordedChargeIsNotChargedAgain(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "100.00")
	h.onboard(t, "tok_visa", noon(2024, time.February, 20))
	inv := h.invoiceFebruary(t)

	// fail the write that marks the invoice paid, after the gateway accepted the charge
	failPaid := true
	err := h.DB.Callback().Update().Before("gorm:update").Register("test:fail_paid_invoice", func(db *gorm.DB) {
		current, ok := db.Statement.Dest.(*invoice.Invoice)
		if ok && failPaid && current.Status == invoice.StatusPaid {
			db.AddError(errors.New("connection reset by peer"))
		}
	})
	require.NoError(t, err)

	h.at(noon(2024, time.March, 2))
	success, _, err := h.ProcessInvoicePayment(ctx, inv.ID, nil)
	require.Error(t, err)
	assert.False(t, success)
	require.Equal(t, 1, h.gw.Calls("Charge"))
	assert.NotEmpty(t, h.gw.Charges()[0].IdempotencyKey)

	payments, err := h.Payments.ListPayments(ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, payment.StatusSucceeded, payments[0].Status)
	assert.NotEmpty(t, payments[0].GatewayChargeID)

	unpaid, err := h.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusPending, unpaid.Status)

	failPaid = false
	success, attempt, err := h.ProcessInvoicePayment(ctx, inv.ID, nil)
	require.NoError(t, err)
	assert.True(t, success)
	require.NotNil(t, attempt)
	assert.Equal(t, payments[0].ID, attempt.ID)
	assert.Equal(t, 1, h.gw.Calls("Charge"))

	paid, err := h.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusPaid, paid.Status)
	assert.Equal(t, 1, paid.PaymentAttempts)

	b, err := h.getBusiness(ctx, salon.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, b.Status)
	assert.Len(t, h.events.ofType(spec.EventPaymentSucceeded), 1)
}

func TestPaymentDeclinesUntilExhausted(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "100.00")
	h.onboard(t, gateway.MockTokenDecline, noon(2024, time.February, 20))
	inv := h.invoiceFebruary(t)

	for i := 1; i <= spec.DefaultMaxPaymentAttempts; i++ {
		success, attempt, err := h.ProcessInvoicePayment(ctx, inv.ID, nil)
		require.NoError(t, err)
		assert.False(t, success)
		require.NotNil(t, attempt)
		assert.Equal(t, payment.StatusFailed, attempt.Status)
		assert.Equal(t, "card_declined", attempt.ErrorCode)
		assert.Equal(t, "Your card was declined", attempt.ErrorMessage)
	}

	failed, err := h.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusFailed, failed.Status)
	assert.Equal(t, spec.DefaultMaxPaymentAttempts, failed.PaymentAttempts)

	b, err := h.getBusiness(ctx, salon.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusPastDue, b.Status)
	assert.Len(t, h.events.ofType(spec.EventPaymentFailed), spec.DefaultMaxPaymentAttempts)
	assert.Len(t, h.events.ofType(spec.EventSubscriptionPastDue), 1)

	// one more try never reaches the gateway
	success, attempt, err := h.ProcessInvoicePayment(ctx, inv.ID, nil)
	require.NoError(t, err)
	assert.False(t, success)
	assert.Equal(t, "max_attempts_reached", attempt.ErrorCode)
	assert.Equal(t, spec.DefaultMaxPaymentAttempts, h.gw.Calls("Charge"))

	payments, err := h.Payments.ListPayments(ctx, inv.ID)
	require.NoError(t, err)
	assert.Len(t, payments, spec.DefaultMaxPaymentAttempts+1)
}

func TestPaymentTimeoutConsumesAttempt(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "100.00")
	h.onboard(t, gateway.MockTokenTimeout, noon(2024, time.February, 20))
	inv := h.invoiceFebruary(t)

	success, attempt, err := h.ProcessInvoicePayment(ctx, inv.ID, nil)
	require.NoError(t, err)
	assert.False(t, success)
	assert.Equal(t, gateway.CodeTimeout, attempt.ErrorCode)

	current, err := h.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, current.PaymentAttempts)
	assert.Equal(t, invoice.StatusPending, current.Status)
}

func TestPaymentWithoutMethod(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "100.00")
	method := h.onboard(t, "tok_visa", noon(2024, time.February, 20))
	inv := h.invoiceFebruary(t)

	require.NoError(t, h.RemovePaymentMethod(ctx, salon.ID, method.ID))
	assert.Equal(t, 1, h.gw.Calls("DeleteCard"))

	success, attempt, err := h.ProcessInvoicePayment(ctx, inv.ID, nil)
	require.NoError(t, err)
	assert.False(t, success)
	assert.Equal(t, "no_payment_method", attempt.ErrorCode)
	assert.Nil(t, attempt.PaymentMethodID)
	assert.Equal(t, 0, h.gw.Calls("Charge"))

	current, err := h.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, current.PaymentAttempts)
	assert.Len(t, h.events.ofType(spec.EventPaymentFailed), 1)
}

func TestPaymentWithExplicitMethod(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "100.00")
	h.onboard(t, gateway.MockTokenDecline, noon(2024, time.February, 20))
	backup, err := h.AddPaymentMethod(ctx, salon.ID, "tok_visa", false)
	require.NoError(t, err)
	assert.False(t, backup.IsDefault)
	inv := h.invoiceFebruary(t)

	success, _, err := h.ProcessInvoicePayment(ctx, inv.ID, &backup.ID)
	require.NoError(t, err)
	assert.True(t, success)

	paid, err := h.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	require.NotNil(t, paid.PaymentMethodID)
	assert.Equal(t, backup.ID, *paid.PaymentMethodID)
}

func TestRetryFailedPayment(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "100.00")
	h.onboard(t, gateway.MockTokenDecline, noon(2024, time.February, 20))
	inv := h.invoiceFebruary(t)

	for i := 0; i < spec.DefaultMaxPaymentAttempts; i++ {
		_, _, err := h.ProcessInvoicePayment(ctx, inv.ID, nil)
		require.NoError(t, err)
	}

	_, err := h.AddPaymentMethod(ctx, salon.ID, "tok_visa", true)
	require.NoError(t, err)

	success, attempt, err := h.RetryFailedPayment(ctx, inv.ID)
	require.NoError(t, err)
	assert.True(t, success)
	assert.Equal(t, payment.StatusSucceeded, attempt.Status)

	paid, err := h.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusPaid, paid.Status)
	assert.Equal(t, 1, paid.PaymentAttempts)

	b, err := h.getBusiness(ctx, salon.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, b.Status)

	_, _, err = h.RetryFailedPayment(ctx, inv.ID)
	assert.True(t, errors.Is(err, ErrInvoiceAlreadyPaid))
}

func TestCourtesyPayment(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "100.00")
	h.onboard(t, gateway.MockTokenDecline, noon(2024, time.February, 20))
	inv := h.invoiceFebruary(t)

	b, err := h.EnableCourtesy(ctx, salon.ID, nil, "Partner salon")
	require.NoError(t, err)
	assert.True(t, b.HasCourtesyAccess)
	assert.Nil(t, b.CourtesyUntil)

	success, attempt, err := h.ProcessInvoicePayment(ctx, inv.ID, nil)
	require.NoError(t, err)
	assert.True(t, success)
	assert.True(t, strings.HasPrefix(attempt.GatewayChargeID, "courtesy_"+inv.ID))
	assert.Equal(t, "courtesy", attempt.GatewayResponse["type"])
	assert.Equal(t, 0, h.gw.Calls("Charge"))

	paid, err := h.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusPaid, paid.Status)
	// courtesy settles without consuming an attempt
	assert.Equal(t, 0, paid.PaymentAttempts)
}

func TestCourtesyExpiry(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "100.00")
	_, err := h.RegisterStaff(ctx, ana, salon)
	require.NoError(t, err)

	days := 20
	b, err := h.EnableCourtesy(ctx, salon.ID, &days, "Launch promotion")
	require.NoError(t, err)
	require.NotNil(t, b.CourtesyUntil)
	assert.Equal(t, "2024-02-21", b.CourtesyUntil.Format("2006-01-02"))

	// the courtesy method counts as a payment method
	h.at(noon(2024, time.February, 20))
	_, err = h.ActivateStaff(ctx, salon.ID, ana.ID)
	require.NoError(t, err)

	inv := h.invoiceFebruary(t)
	success, attempt, err := h.ProcessInvoicePayment(ctx, inv.ID, nil)
	require.NoError(t, err)
	assert.False(t, success)
	assert.Equal(t, "courtesy_inactive", attempt.ErrorCode)

	current, err := h.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusPending, current.Status)
}

func TestDisableCourtesyRestoresCard(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "100.00")
	card := h.onboard(t, "tok_visa", noon(2024, time.February, 20))

	_, err := h.EnableCourtesy(ctx, salon.ID, nil, "Partner salon")
	require.NoError(t, err)
	def, err := h.Payments.GetDefault(ctx, salon.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.MethodCourtesy, def.MethodType)

	b, err := h.DisableCourtesy(ctx, salon.ID)
	require.NoError(t, err)
	assert.False(t, b.HasCourtesyAccess)

	def, err = h.Payments.GetDefault(ctx, salon.ID)
	require.NoError(t, err)
	require.NotNil(t, def)
	assert.Equal(t, card.ID, def.ID)

	methods, err := h.ListPaymentMethods(ctx, salon.ID)
	require.NoError(t, err)
	assert.Len(t, methods, 1)
}

func TestCourtesyKeepsDefault(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "100.00")
	card := h.onboard(t, "tok_visa", noon(2024, time.February, 20))

	_, err := h.EnableCourtesy(ctx, salon.ID, nil, "Partner salon")
	require.NoError(t, err)
	courtesy, err := h.Payments.GetCourtesyMethod(ctx, salon.ID)
	require.NoError(t, err)
	require.NotNil(t, courtesy)

	added, err := h.AddPaymentMethod(ctx, salon.ID, "tok_mastercard", true)
	require.NoError(t, err)
	assert.False(t, added.IsDefault)

	_, err = h.SetDefaultPaymentMethod(ctx, salon.ID, card.ID)
	assert.True(t, errors.Is(err, ErrCourtesyDefault))

	err = h.RemovePaymentMethod(ctx, salon.ID, courtesy.ID)
	assert.True(t, errors.Is(err, ErrCourtesyMethod))

	def, err := h.Payments.GetDefault(ctx, salon.ID)
	require.NoError(t, err)
	require.NotNil(t, def)
	assert.Equal(t, payment.MethodCourtesy, def.MethodType)
	assert.True(t, def.IsActive)

	_, err = h.DisableCourtesy(ctx, salon.ID)
	require.NoError(t, err)
	updated, err := h.SetDefaultPaymentMethod(ctx, salon.ID, added.ID)
	require.NoError(t, err)
	assert.True(t, updated.IsDefault)
}

func TestProcessAllPendingInvoices(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "100.00")
	h.onboard(t, "tok_visa", noon(2024, time.February, 20))
	inv := h.invoiceFebruary(t)

	result, err := h.ProcessAllPendingInvoices(ctx, proration.Date(2024, time.March, 7))
	require.NoError(t, err)
	assert.Equal(t, BatchResult{}, result)

	result, err = h.ProcessAllPendingInvoices(ctx, inv.DueDate)
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Processed: 1, Created: 1}, result)

	result, err = h.ProcessAllPendingInvoices(ctx, inv.DueDate)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)
}

func TestProcessBusinessInvoices(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "100.00")
	h.onboard(t, "tok_visa", noon(2024, time.February, 20))
	inv := h.invoiceFebruary(t)

	result, err := h.ProcessBusinessInvoices(ctx, salon.ID, proration.Date(2024, time.March, 7))
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)
	assert.Equal(t, 0, h.gw.Calls("Charge"))

	result, err = h.ProcessBusinessInvoices(ctx, "b2", proration.Date(2024, time.March, 8))
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)

	h.at(noon(2024, time.March, 8))
	result, err = h.ProcessBusinessInvoices(ctx, salon.ID, proration.Date(2024, time.March, 8))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Created)

	paid, err := h.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusPaid, paid.Status)
}

func TestMethodManagement(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "100.00")
	_, err := h.RegisterStaff(ctx, ana, salon)
	require.NoError(t, err)

	_, err = h.ActivateStaff(ctx, salon.ID, ana.ID)
	assert.True(t, errors.Is(err, ErrNoPaymentMethod))

	_, err = h.AddPaymentMethod(ctx, "unknown", "tok_visa", false)
	assert.True(t, errors.Is(err, ErrBusinessNotFound))

	first, err := h.AddPaymentMethod(ctx, salon.ID, "tok_visa", false)
	require.NoError(t, err)
	assert.True(t, first.IsDefault)
	second, err := h.AddPaymentMethod(ctx, salon.ID, "tok_visa", false)
	require.NoError(t, err)
	assert.False(t, second.IsDefault)

	updated, err := h.SetDefaultPaymentMethod(ctx, salon.ID, second.ID)
	require.NoError(t, err)
	assert.True(t, updated.IsDefault)

	_, err = h.SetDefaultPaymentMethod(ctx, salon.ID, "missing")
	assert.True(t, errors.Is(err, ErrMethodNotFound))

	require.NoError(t, h.RemovePaymentMethod(ctx, salon.ID, second.ID))
	def, err := h.Payments.GetDefault(ctx, salon.ID)
	require.NoError(t, err)
	require.NotNil(t, def)
	assert.Equal(t, first.ID, def.ID)

	err = h.RemovePaymentMethod(ctx, salon.ID, second.ID)
	assert.True(t, errors.Is(err, ErrMethodNotFound))

	// one gateway customer per business
	assert.Equal(t, 1, h.gw.Calls("CreateOrGetCustomer"))
}
