package billing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/zllovesuki/stylo/gateway"
	"github.com/zllovesuki/stylo/invoice"
	"github.com/zllovesuki/stylo/payment"
	"github.com/zllovesuki/stylo/proration"
	"github.com/zllovesuki/stylo/spec"
	"github.com/zllovesuki/stylo/subscription"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Messages of failures decided locally, without calling the gateway
const (
	msgNoPaymentMethod   = "No payment method configured"
	msgCourtesyInactive  = "Courtesy access is not active"
	msgMaxAttempts       = "Maximum payment attempts reached"
	codeNoPaymentMethod  = "no_payment_method"
	codeCourtesyInactive = "courtesy_inactive"
	codeMaxAttempts      = "max_attempts_reached"
)

// ProcessInvoicePayment charges the invoice with methodID, or with the default
// method of the business. Declines are reported as (false, payment, nil); the
// error is reserved for refusals and infrastructure failures.
func (s *Service) ProcessInvoicePayment(ctx context.Context, invoiceID string, methodID *string) (bool, *payment.Payment, error) {
	inv, err := s.Invoices.Get(ctx, invoiceID)
	if err != nil {
		return false, nil, err
	}
	if inv == nil {
		return false, nil, ErrInvoiceNotFound
	}

	var (
		success bool
		attempt *payment.Payment
	)
	err = s.withBusinessLock(ctx, inv.BusinessID, func() error {
		var err error
		success, attempt, err = s.processLocked(ctx, invoiceID, methodID)
		return err
	})
	return success, attempt, err
}

func (s *Service) processLocked(ctx context.Context, invoiceID string, methodID *string) (bool, *payment.Payment, error) {
	inv, err := s.Invoices.Get(ctx, invoiceID)
	if err != nil {
		return false, nil, err
	}
	if err := payable(inv); err != nil {
		return false, nil, err
	}
	b, err := s.getBusiness(ctx, inv.BusinessID)
	if err != nil {
		return false, nil, err
	}

	charged, err := s.Payments.GetSucceeded(ctx, inv.ID)
	if err != nil {
		return false, nil, err
	}
	if charged != nil {
		return s.recoverCharge(ctx, b, inv, charged)
	}

	method, err := s.resolveMethod(ctx, inv.BusinessID, methodID)
	if err != nil {
		return false, nil, err
	}
	if method == nil {
		return s.failLocally(ctx, b, inv, nil, msgNoPaymentMethod, codeNoPaymentMethod)
	}
	if method.MethodType == payment.MethodCourtesy {
		return s.payWithCourtesy(ctx, b, inv, method)
	}
	return s.payWithCard(ctx, b, inv, method)
}

func payable(inv *invoice.Invoice) error {
	switch {
	case inv == nil:
		return ErrInvoiceNotFound
	case inv.Status == invoice.StatusPaid:
		return ErrInvoiceAlreadyPaid
	case inv.Status == invoice.StatusCancelled:
		return ErrInvoiceCancelled
	}
	return nil
}

func (s *Service) resolveMethod(ctx context.Context, businessID string, methodID *string) (*payment.Method, error) {
	if methodID == nil {
		return s.Payments.GetDefault(ctx, businessID)
	}
	method, err := s.Payments.Get(ctx, businessID, *methodID)
	if err != nil {
		return nil, err
	}
	if method == nil || !method.IsActive {
		return nil, nil
	}
	return method, nil
}

func newAttempt(inv *invoice.Invoice, method *payment.Method) *payment.Payment {
	p := &payment.Payment{
		InvoiceID:   inv.ID,
		Amount:      inv.Total,
		AmountCents: proration.ToCents(inv.Total),
		Currency:    inv.Currency,
		Status:      payment.StatusPending,
	}
	if method != nil {
		id := method.ID
		p.PaymentMethodID = &id
	}
	return p
}

func methodLabel(method *payment.Method) string {
	if method == nil {
		return "none"
	}
	return string(method.MethodType)
}

// failLocally records a failed attempt that never reached the gateway. It does
// not consume an attempt.
func (s *Service) failLocally(ctx context.Context, b *subscription.Business, inv *invoice.Invoice, method *payment.Method, message, code string) (bool, *payment.Payment, error) {
	attempt := newAttempt(inv, method)
	attempt.Fail(s.now(), message, code, spec.Parameters{"type": "local"})
	if err := s.Payments.CreatePayment(ctx, attempt); err != nil {
		return false, nil, err
	}
	s.Metrics.PaymentAttempts.WithLabelValues(methodLabel(method), "failed").Inc()
	s.Logger.Warn("Payment failed before reaching the gateway",
		zap.String("BusinessID", b.BusinessID),
		zap.String("InvoiceID", inv.ID),
		zap.String("Reason", message),
	)
	s.publish(ctx, spec.EventPaymentFailed, b.BusinessID, failureEventData(inv, attempt))
	return false, attempt, nil
}

func (s *Service) payWithCourtesy(ctx context.Context, b *subscription.Business, inv *invoice.Invoice, method *payment.Method) (bool, *payment.Payment, error) {
	now := s.now()
	if !b.IsCourtesyActive(b.Today(now)) {
		return s.failLocally(ctx, b, inv, method, msgCourtesyInactive, codeCourtesyInactive)
	}
	attempt := newAttempt(inv, method)
	attempt.Succeed(now, fmt.Sprintf("courtesy_%s_%d", inv.ID, now.Unix()), spec.Parameters{
		"type":     "courtesy",
		"business": b.BusinessName,
		"reason":   b.CourtesyReason,
	})
	if err := s.settle(ctx, inv.ID, attempt, method.ID, now, true); err != nil {
		return false, nil, err
	}
	s.Metrics.PaymentAttempts.WithLabelValues(methodLabel(method), "succeeded").Inc()
	s.publish(ctx, spec.EventPaymentSucceeded, b.BusinessID, successEventData(inv, attempt))
	return true, attempt, nil
}

func (s *Service) payWithCard(ctx context.Context, b *subscription.Business, inv *invoice.Invoice, method *payment.Method) (bool, *payment.Payment, error) {
	logger := s.Logger.With(
		zap.String("BusinessID", b.BusinessID),
		zap.String("InvoiceID", inv.ID),
	)

	// consume the attempt and commit before the gateway is called
	var (
		attempt   *payment.Payment
		exhausted bool
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoices := s.Invoices.WithTx(tx)
		payments := s.Payments.WithTx(tx)
		current, err := invoices.GetForUpdate(ctx, inv.ID)
		if err != nil {
			return err
		}
		if err := payable(current); err != nil {
			return err
		}
		if current.AttemptsExhausted() {
			exhausted = true
			attempt = newAttempt(current, method)
			attempt.Fail(s.now(), msgMaxAttempts, codeMaxAttempts, spec.Parameters{"type": "local"})
			if err := payments.CreatePayment(ctx, attempt); err != nil {
				return err
			}
			current.Status = invoice.StatusFailed
			return invoices.Save(ctx, current)
		}
		current.PaymentAttempts++
		if err := invoices.Save(ctx, current); err != nil {
			return err
		}
		attempt = newAttempt(current, method)
		if err := payments.CreatePayment(ctx, attempt); err != nil {
			return err
		}
		inv = current
		return nil
	})
	if isRefusal(err) {
		return false, nil, err
	}
	if err != nil {
		return false, nil, extErrors.Wrap(err, "Cannot start payment attempt")
	}
	if exhausted {
		s.Metrics.PaymentAttempts.WithLabelValues(methodLabel(method), "failed").Inc()
		logger.Warn("Payment refused, attempts exhausted")
		return false, attempt, nil
	}

	customerID := method.GatewayCustomerID
	if customerID == "" {
		cust, err := s.Customers.GetByBusiness(ctx, b.BusinessID)
		if err != nil {
			return false, nil, err
		}
		if cust != nil {
			customerID = cust.GatewayCustomerID
		}
	}

	period := inv.Period()
	gctx, cancel := context.WithTimeout(ctx, spec.GatewayTimeout)
	charge, chargeErr := s.Gateway.Charge(gctx, gateway.ChargeParams{
		CustomerID:  customerID,
		CardID:      method.GatewayCardID,
		AmountCents: attempt.AmountCents,
		Currency:    inv.Currency,
		Description: fmt.Sprintf("Subscription - %s (%s)", b.BusinessName, period),
		Metadata: spec.Parameters{
			"business_id":   b.BusinessID,
			"business_name": b.BusinessName,
			"invoice_id":    inv.ID,
			"period":        period,
			"type":          "subscription",
		},
		IdempotencyKey: attempt.ID,
	})
	cancel()

	if chargeErr == nil {
		now := s.now()
		attempt.Succeed(now, charge.ID, charge.Raw)
		// the charge is kept even when settling fails, so a retry settles instead of charging again
		if err := s.Payments.UpdatePayment(ctx, attempt); err != nil {
			logger.Error("Charge succeeded but could not be recorded",
				zap.String("ChargeID", charge.ID),
				zap.Error(err),
			)
			return false, attempt, err
		}
		if err := s.settle(ctx, inv.ID, attempt, method.ID, now, false); err != nil {
			logger.Error("Charge recorded but invoice could not be settled",
				zap.String("ChargeID", charge.ID),
				zap.Error(err),
			)
			return false, attempt, err
		}
		s.Metrics.PaymentAttempts.WithLabelValues(methodLabel(method), "succeeded").Inc()
		logger.Info("Invoice paid",
			zap.String("ChargeID", charge.ID),
			zap.Int64("AmountCents", attempt.AmountCents),
		)
		s.publish(ctx, spec.EventPaymentSucceeded, b.BusinessID, successEventData(inv, attempt))
		return true, attempt, nil
	}

	gErr := gateway.AsError(chargeErr)
	attempt.Fail(s.now(), gErr.UserMessage(), gErr.Code, gErr.Raw)
	var updated *subscription.Business
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.Payments.WithTx(tx).UpdatePayment(ctx, attempt); err != nil {
			return err
		}
		invoices := s.Invoices.WithTx(tx)
		current, err := invoices.GetForUpdate(ctx, inv.ID)
		if err != nil {
			return err
		}
		if current == nil || !current.AttemptsExhausted() {
			return nil
		}
		current.Status = invoice.StatusFailed
		if err := invoices.Save(ctx, current); err != nil {
			return err
		}
		inv = current
		_, updated, err = s.transition(ctx, s.Subscriptions.WithTx(tx), b.BusinessID, func(desired *subscription.Business) bool {
			if desired.Status == subscription.StatusSuspended || desired.Status == subscription.StatusPastDue {
				return false
			}
			return desired.Transition(subscription.StatusPastDue) == nil
		})
		return err
	})
	if err != nil {
		return false, attempt, extErrors.Wrap(err, "Cannot record failed payment")
	}

	s.Metrics.PaymentAttempts.WithLabelValues(methodLabel(method), "failed").Inc()
	logger.Warn("Payment declined",
		zap.String("Code", gErr.Code),
		zap.String("Message", gErr.Message),
		zap.Int("Attempt", inv.PaymentAttempts),
	)
	s.publish(ctx, spec.EventPaymentFailed, b.BusinessID, failureEventData(inv, attempt))
	if updated != nil {
		s.announceStatus(ctx, updated)
	}
	return false, attempt, nil
}

// recoverCharge settles an invoice whose charge went through but whose payment was never applied
func (s *Service) recoverCharge(ctx context.Context, b *subscription.Business, inv *invoice.Invoice, charged *payment.Payment) (bool, *payment.Payment, error) {
	methodID := ""
	if charged.PaymentMethodID != nil {
		methodID = *charged.PaymentMethodID
	}
	paidAt := s.now()
	if charged.ProcessedAt != nil {
		paidAt = *charged.ProcessedAt
	}
	if err := s.settle(ctx, inv.ID, charged, methodID, paidAt, false); err != nil {
		return false, nil, err
	}
	s.Logger.Info("Invoice settled from recorded charge",
		zap.String("BusinessID", b.BusinessID),
		zap.String("InvoiceID", inv.ID),
		zap.String("ChargeID", charged.GatewayChargeID),
	)
	s.publish(ctx, spec.EventPaymentSucceeded, b.BusinessID, successEventData(inv, charged))
	return true, charged, nil
}

// settle records a succeeded attempt, marks the invoice paid and the business active, atomically
func (s *Service) settle(ctx context.Context, invoiceID string, attempt *payment.Payment, methodID string, now time.Time, create bool) error {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoices := s.Invoices.WithTx(tx)
		payments := s.Payments.WithTx(tx)
		current, err := invoices.GetForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		if err := payable(current); err != nil {
			return err
		}
		if create {
			err = payments.CreatePayment(ctx, attempt)
		} else {
			err = payments.UpdatePayment(ctx, attempt)
		}
		if err != nil {
			return err
		}
		current.MarkPaid(now, methodID)
		if err := invoices.Save(ctx, current); err != nil {
			return err
		}
		var recordErr error
		_, _, err = s.transition(ctx, s.Subscriptions.WithTx(tx), current.BusinessID, func(desired *subscription.Business) bool {
			recordErr = desired.RecordPayment(now, current.Total, current.PeriodEnd)
			return recordErr == nil
		})
		if recordErr != nil {
			s.Logger.Warn("Payment recorded without reactivating the business",
				zap.String("BusinessID", current.BusinessID),
				zap.Error(recordErr),
			)
		}
		return err
	})
	if isRefusal(err) {
		return err
	}
	if err != nil {
		return extErrors.Wrap(err, "Cannot settle invoice payment")
	}
	return nil
}

func isRefusal(err error) bool {
	return errors.Is(err, ErrInvoiceNotFound) ||
		errors.Is(err, ErrInvoiceAlreadyPaid) ||
		errors.Is(err, ErrInvoiceCancelled)
}

// RetryFailedPayment resets the attempt counter of an unpaid invoice and charges it again
func (s *Service) RetryFailedPayment(ctx context.Context, invoiceID string) (bool, *payment.Payment, error) {
	inv, err := s.Invoices.Get(ctx, invoiceID)
	if err != nil {
		return false, nil, err
	}
	if err := payable(inv); err != nil {
		return false, nil, err
	}
	err = s.withBusinessLock(ctx, inv.BusinessID, func() error {
		return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			invoices := s.Invoices.WithTx(tx)
			current, err := invoices.GetForUpdate(ctx, invoiceID)
			if err != nil {
				return err
			}
			if err := payable(current); err != nil {
				return err
			}
			current.PaymentAttempts = 0
			current.Status = invoice.StatusPending
			return invoices.Save(ctx, current)
		})
	})
	if isRefusal(err) {
		return false, nil, err
	}
	if err != nil {
		return false, nil, extErrors.Wrap(err, "Cannot reset payment attempts")
	}
	s.Logger.Info("Payment attempts reset by operator",
		zap.String("BusinessID", inv.BusinessID),
		zap.String("InvoiceID", invoiceID),
	)
	return s.ProcessInvoicePayment(ctx, invoiceID, nil)
}

// ProcessAllPendingInvoices charges every pending invoice due on or before today
func (s *Service) ProcessAllPendingInvoices(ctx context.Context, today time.Time) (BatchResult, error) {
	due, err := s.Invoices.ListPendingDue(ctx, today)
	if err != nil {
		return BatchResult{}, err
	}
	return s.chargeInvoices(ctx, due), nil
}

// ProcessBusinessInvoices charges the pending invoices of one business due on or before today
func (s *Service) ProcessBusinessInvoices(ctx context.Context, businessID string, today time.Time) (BatchResult, error) {
	pending, err := s.Invoices.ListByBusiness(ctx, businessID, 0, invoice.StatusPending)
	if err != nil {
		return BatchResult{}, err
	}
	today = proration.Normalize(today)
	due := make([]invoice.Invoice, 0, len(pending))
	for _, inv := range pending {
		if !inv.DueDate.After(today) {
			due = append(due, inv)
		}
	}
	return s.chargeInvoices(ctx, due), nil
}

func (s *Service) chargeInvoices(ctx context.Context, due []invoice.Invoice) BatchResult {
	keys := make([]string, 0, len(due))
	for _, inv := range due {
		keys = append(keys, inv.ID)
	}
	return s.runBatch(ctx, string(spec.PendingPaymentTask), keys, func(ctx context.Context, invoiceID string) (outcome, error) {
		success, _, err := s.ProcessInvoicePayment(ctx, invoiceID, nil)
		switch {
		case errors.Is(err, ErrInvoiceAlreadyPaid), errors.Is(err, ErrInvoiceCancelled):
			return outcomeSkipped, nil
		case err != nil:
			return outcomeFailed, err
		case success:
			return outcomeCreated, nil
		default:
			return outcomeProcessed, nil
		}
	})
}

func successEventData(inv *invoice.Invoice, attempt *payment.Payment) spec.Parameters {
	return spec.Parameters{
		"invoice_id": inv.ID,
		"payment_id": attempt.ID,
		"period":     inv.Period(),
		"amount":     attempt.Amount.StringFixed(proration.MoneyPlaces),
		"currency":   attempt.Currency,
		"charge_id":  attempt.GatewayChargeID,
	}
}

func failureEventData(inv *invoice.Invoice, attempt *payment.Payment) spec.Parameters {
	message := attempt.ErrorMessage
	if message == "" {
		message = gateway.GenericMessage
	}
	return spec.Parameters{
		"invoice_id":   inv.ID,
		"payment_id":   attempt.ID,
		"period":       inv.Period(),
		"amount":       attempt.Amount.StringFixed(proration.MoneyPlaces),
		"currency":     attempt.Currency,
		"error":        message,
		"error_code":   attempt.ErrorCode,
		"attempts":     strconv.Itoa(inv.PaymentAttempts),
		"max_attempts": strconv.Itoa(inv.MaxPaymentAttempts),
	}
}
