package billing

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/zllovesuki/stylo/db"
	"github.com/zllovesuki/stylo/invoice"
	"github.com/zllovesuki/stylo/plan"
	"github.com/zllovesuki/stylo/proration"
	"github.com/zllovesuki/stylo/spec"
	"github.com/zllovesuki/stylo/subscription"
	"github.com/zllovesuki/stylo/usage"

	extErrors "github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// GenerateMonthlyInvoice bills the calendar month before ref, a civil date that
// defaults to today in the business's time zone. It returns (nil, nil) when the
// period is already invoiced or no staff had billable days.
func (s *Service) GenerateMonthlyInvoice(ctx context.Context, businessID string, ref *time.Time) (*invoice.Invoice, error) {
	b, err := s.getBusiness(ctx, businessID)
	if err != nil {
		return nil, err
	}
	generated := b.Today(s.now())
	if ref != nil {
		generated = proration.Normalize(*ref)
	}
	periodStart, periodEnd := proration.PreviousMonth(generated)

	logger := s.Logger.With(
		zap.String("BusinessID", businessID),
		zap.String("Period", proration.PeriodLabel(periodStart)),
	)

	exists, err := s.Invoices.Exists(ctx, businessID, periodStart, periodEnd)
	if err != nil {
		return nil, err
	}
	if exists {
		logger.Info("Invoice already exists for period, skipping")
		return nil, nil
	}

	p, err := s.Plans.GetPlanEffectiveAt(ctx, generated)
	if err != nil {
		return nil, err
	}
	if p == nil {
		logger.Error("No pricing plan is effective, refusing to bill")
		return nil, ErrNoActivePlan
	}

	var created *invoice.Invoice
	err = s.withBusinessLock(ctx, businessID, func() error {
		return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			invoices := s.Invoices.WithTx(tx)
			exists, err := invoices.Exists(ctx, businessID, periodStart, periodEnd)
			if err != nil {
				return err
			}
			if exists {
				logger.Info("Invoice already exists for period, skipping")
				return nil
			}

			inv, err := s.draftInvoice(ctx, tx, b, p, generated, periodStart, periodEnd)
			if err != nil {
				return err
			}
			if inv == nil {
				logger.Info("No billable staff days in period, nothing to invoice")
				return nil
			}
			if err := invoices.Create(ctx, inv); err != nil {
				if db.IsDuplicate(err) {
					logger.Info("Invoice was created concurrently, skipping")
					return errAlreadyInvoiced
				}
				return err
			}

			// an unpaid business keeps the billing date its suspension is measured from
			next := proration.FirstOfNextMonth(generated)
			if _, err := s.Subscriptions.WithTx(tx).LambdaUpdate(ctx, businessID, func(current, desired *subscription.Business) bool {
				if current == nil || current.Status == subscription.StatusPastDue || current.Status == subscription.StatusSuspended {
					return false
				}
				desired.NextBillingDate = &next
				return true
			}); err != nil {
				return err
			}
			created = inv
			return nil
		})
	})
	if errors.Is(err, errAlreadyInvoiced) {
		return nil, nil
	}
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot generate monthly invoice")
	}
	if created == nil {
		return nil, nil
	}

	s.Metrics.InvoicesGenerated.WithLabelValues(boolLabel(created.IsProrated)).Inc()
	s.Metrics.InvoicedAmount.WithLabelValues(created.Currency).Add(created.Total.InexactFloat64())
	logger.Info("Invoice generated",
		zap.String("InvoiceID", created.ID),
		zap.Int("StaffCount", created.StaffCount),
		zap.String("Total", created.Total.StringFixed(proration.MoneyPlaces)),
	)
	s.publish(ctx, spec.EventInvoiceGenerated, businessID, invoiceEventData(b, created))
	return created, nil
}

// PreviewMonthlyInvoice computes the invoice GenerateMonthlyInvoice would create
// for the same ref, without storing it or moving the billing date. It returns
// (nil, nil) when no staff had billable days.
func (s *Service) PreviewMonthlyInvoice(ctx context.Context, businessID string, ref *time.Time) (*invoice.Invoice, error) {
	b, err := s.getBusiness(ctx, businessID)
	if err != nil {
		return nil, err
	}
	generated := b.Today(s.now())
	if ref != nil {
		generated = proration.Normalize(*ref)
	}
	periodStart, periodEnd := proration.PreviousMonth(generated)

	p, err := s.Plans.GetPlanEffectiveAt(ctx, generated)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrNoActivePlan
	}
	return s.draftInvoice(ctx, s.DB.WithContext(ctx), b, p, generated, periodStart, periodEnd)
}

func (s *Service) draftInvoice(ctx context.Context, tx *gorm.DB, b *subscription.Business, p *plan.Plan, generated, periodStart, periodEnd time.Time) (*invoice.Invoice, error) {
	intervals, err := s.Usage.WithTx(tx).Overlapping(ctx, b.BusinessID, periodStart, periodEnd)
	if err != nil {
		return nil, err
	}
	order, groups := usage.GroupByOwner(intervals)
	staff, err := s.Subscriptions.WithTx(tx).GetStaffByIDs(ctx, order)
	if err != nil {
		return nil, err
	}
	return buildInvoice(b, p, generated, periodStart, periodEnd, order, groups, staff), nil
}

// buildInvoice prorates every staff subscription over the period. It returns nil
// when no staff member had a billable day.
func buildInvoice(b *subscription.Business, p *plan.Plan, generated, periodStart, periodEnd time.Time, order []uint, groups map[uint][]usage.Interval, staff map[uint]subscription.Staff) *invoice.Invoice {
	daysInPeriod := proration.DaysBetween(periodStart, periodEnd) + 1
	items := make([]invoice.LineItem, 0, len(order))
	subtotal := decimal.Zero
	prorated := false

	for _, id := range order {
		intervals := groups[id]
		days, first, last := proration.Overlap(usage.Spans(intervals), periodStart, periodEnd)
		if days == 0 {
			continue
		}
		staffID := intervals[0].StaffID
		name := staffID
		if st, ok := staff[id]; ok {
			staffID = st.StaffID
			if st.StaffName != "" {
				name = st.StaffName
			}
		}
		item := invoice.LineItem{
			StaffID:      &staffID,
			StaffName:    name,
			PeriodStart:  first,
			PeriodEnd:    last,
			DaysInPeriod: daysInPeriod,
			DaysActive:   days,
			MonthlyRate:  p.PricePerStaffMonth,
			DailyRate:    proration.DailyRate(p.PricePerStaffMonth, daysInPeriod),
			Subtotal:     proration.LineSubtotal(p.PricePerStaffMonth, daysInPeriod, days),
		}
		if item.IsProrated() {
			prorated = true
		}
		subtotal = subtotal.Add(item.Subtotal)
		items = append(items, item)
	}
	if len(items) == 0 {
		return nil
	}

	currency := p.Currency
	if currency == "" {
		currency = spec.DefaultCurrency
	}
	return &invoice.Invoice{
		BusinessID:         b.BusinessID,
		PeriodStart:        periodStart,
		PeriodEnd:          periodEnd,
		PlanID:             p.ID,
		StaffCount:         len(items),
		PricePerStaff:      p.PricePerStaffMonth,
		Subtotal:           subtotal,
		Total:              subtotal,
		Currency:           currency,
		Status:             invoice.StatusPending,
		IsProrated:         prorated,
		DueDate:            proration.AddDays(generated, spec.InvoiceDueDays),
		MaxPaymentAttempts: spec.DefaultMaxPaymentAttempts,
		LineItems:          items,
	}
}

// GenerateAllMonthlyInvoices runs GenerateMonthlyInvoice for every business in trial,
// active or past_due. A failing business never stops the others.
func (s *Service) GenerateAllMonthlyInvoices(ctx context.Context, ref *time.Time) (BatchResult, error) {
	businesses, err := s.Subscriptions.ListBusinesses(ctx,
		subscription.StatusTrial,
		subscription.StatusActive,
		subscription.StatusPastDue,
	)
	if err != nil {
		return BatchResult{}, err
	}
	keys := make([]string, 0, len(businesses))
	for _, b := range businesses {
		keys = append(keys, b.BusinessID)
	}
	result := s.runBatch(ctx, string(spec.MonthlyInvoiceTask), keys, func(ctx context.Context, businessID string) (outcome, error) {
		inv, err := s.GenerateMonthlyInvoice(ctx, businessID, ref)
		if err != nil {
			return outcomeFailed, err
		}
		if inv == nil {
			return outcomeSkipped, nil
		}
		return outcomeCreated, nil
	})
	return result, nil
}

func invoiceEventData(b *subscription.Business, inv *invoice.Invoice) spec.Parameters {
	return spec.Parameters{
		"invoice_id":    inv.ID,
		"business_name": b.BusinessName,
		"period":        inv.Period(),
		"total":         inv.Total.StringFixed(proration.MoneyPlaces),
		"currency":      inv.Currency,
		"due_date":      inv.DueDate.Format("2006-01-02"),
		"staff_count":   strconv.Itoa(inv.StaffCount),
	}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
