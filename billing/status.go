package billing

import (
	"context"
	"time"

	"github.com/zllovesuki/stylo/invoice"
	"github.com/zllovesuki/stylo/proration"
	"github.com/zllovesuki/stylo/spec"
	"github.com/zllovesuki/stylo/subscription"

	"go.uber.org/zap"
)

// CanReceiveBookings gates new appointments. The status is refreshed lazily first,
// and an unknown business is created in trial and allowed.
func (s *Service) CanReceiveBookings(ctx context.Context, businessID string) (bool, string, error) {
	b, created, err := s.Subscriptions.EnsureBusiness(ctx, subscription.Profile{ID: businessID})
	if err != nil {
		return false, "", err
	}
	if !created {
		refreshed, err := s.refreshStatus(ctx, businessID, s.now())
		if err != nil {
			return false, "", err
		}
		if refreshed != nil {
			b = refreshed
		}
	}
	allowed, reason := b.CanReceiveBookings()
	return allowed, reason, nil
}

// CancelSubscription moves the business to the terminal cancelled status
func (s *Service) CancelSubscription(ctx context.Context, businessID string) (*subscription.Business, error) {
	_, b, err := s.transition(ctx, s.Subscriptions, businessID, func(desired *subscription.Business) bool {
		return desired.Transition(subscription.StatusCancelled) == nil
	})
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, ErrBusinessNotFound
	}
	return b, nil
}

// SuspendOptions tunes SuspendUnpaidSubscriptions
type SuspendOptions struct {
	GraceDays int  // Days an invoice may stay unpaid past its due date
	DryRun    bool // Report without writing
}

// SuspendUnpaidSubscriptions suspends every business with an outstanding invoice due
// more than GraceDays before today. Courtesy access, suspended and cancelled
// businesses are left alone.
func (s *Service) SuspendUnpaidSubscriptions(ctx context.Context, today time.Time, opts SuspendOptions) (BatchResult, error) {
	today = proration.Normalize(today)
	cutoff := proration.AddDays(today, -opts.GraceDays)
	overdue, err := s.Invoices.ListOverdue(ctx, cutoff)
	if err != nil {
		return BatchResult{}, err
	}
	seen := make(map[string]bool, len(overdue))
	keys := make([]string, 0, len(overdue))
	for _, inv := range overdue {
		if !seen[inv.BusinessID] {
			seen[inv.BusinessID] = true
			keys = append(keys, inv.BusinessID)
		}
	}

	result := s.runBatch(ctx, string(spec.SuspensionTask), keys, func(ctx context.Context, businessID string) (outcome, error) {
		b, err := s.Subscriptions.GetBusiness(ctx, businessID)
		if err != nil {
			return outcomeFailed, err
		}
		if b == nil || !suspendable(b, today) {
			return outcomeSkipped, nil
		}
		if opts.DryRun {
			s.Logger.Info("Would suspend business for non-payment",
				zap.String("BusinessID", businessID),
				zap.String("Status", string(b.Status)),
			)
			return outcomeCreated, nil
		}
		_, after, err := s.transition(ctx, s.Subscriptions, businessID, func(desired *subscription.Business) bool {
			if !suspendable(desired, today) {
				return false
			}
			if desired.Status != subscription.StatusPastDue {
				if err := desired.Transition(subscription.StatusPastDue); err != nil {
					return false
				}
			}
			return desired.Transition(subscription.StatusSuspended) == nil
		})
		if err != nil {
			return outcomeFailed, err
		}
		if after == nil {
			return outcomeSkipped, nil
		}
		s.announceStatus(ctx, after)
		return outcomeCreated, nil
	})
	return result, nil
}

func suspendable(b *subscription.Business, today time.Time) bool {
	switch b.Status {
	case subscription.StatusSuspended, subscription.StatusCancelled:
		return false
	}
	return !b.IsCourtesyActive(today)
}

// SendPaymentReminders announces pending invoices due in three days or today, and
// outstanding invoices that became overdue yesterday
func (s *Service) SendPaymentReminders(ctx context.Context, today time.Time) (BatchResult, error) {
	today = proration.Normalize(today)
	var result BatchResult
	reminders := []struct {
		event    spec.EventType
		day      time.Time
		statuses []invoice.Status
	}{
		{spec.EventInvoiceDueSoon, proration.AddDays(today, 3), []invoice.Status{invoice.StatusPending}},
		{spec.EventInvoiceDueToday, today, []invoice.Status{invoice.StatusPending}},
		{spec.EventInvoiceOverdue, proration.AddDays(today, -1), invoice.Outstanding},
	}
	for _, reminder := range reminders {
		due, err := s.Invoices.ListDueOn(ctx, reminder.day, reminder.statuses...)
		if err != nil {
			return result, err
		}
		for k := range due {
			inv := &due[k]
			s.publish(ctx, reminder.event, inv.BusinessID, spec.Parameters{
				"invoice_id": inv.ID,
				"period":     inv.Period(),
				"total":      inv.Total.StringFixed(proration.MoneyPlaces),
				"currency":   inv.Currency,
				"due_date":   inv.DueDate.Format("2006-01-02"),
				"status":     string(inv.Status),
			})
			result.add(outcomeCreated)
		}
	}
	s.Logger.Info("Payment reminders sent",
		zap.Int("Count", result.Created),
	)
	return result, nil
}
