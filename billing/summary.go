package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/zllovesuki/stylo/invoice"
	"github.com/zllovesuki/stylo/plan"
	"github.com/zllovesuki/stylo/proration"
	"github.com/zllovesuki/stylo/spec"
	"github.com/zllovesuki/stylo/subscription"

	"github.com/shopspring/decimal"
)

// StaffSummary describes one staff subscription for the owner dashboard
type StaffSummary struct {
	StaffID            string     `json:"staffId"`
	StaffName          string     `json:"staffName"`
	IsActive           bool       `json:"isActive"`
	IsBillable         bool       `json:"isBillable"`
	BillableSince      *time.Time `json:"billableSince"`
	TrialEndsAt        *time.Time `json:"trialEndsAt"`
	TrialDaysRemaining int        `json:"trialDaysRemaining"`
	CanReceiveBookings bool       `json:"canReceiveBookings"`
}

// Summary is the subscription overview of a business
type Summary struct {
	BusinessID         string              `json:"businessId"`
	Status             subscription.Status `json:"status"`
	CanReceiveBookings bool                `json:"canReceiveBookings"`
	Reason             string              `json:"reason,omitempty"`
	ActiveStaff        int                 `json:"activeStaff"`
	BillableStaff      int                 `json:"billableStaff"`
	MonthlyCost        decimal.Decimal     `json:"monthlyCost"`
	Currency           string              `json:"currency"`
	NextBillingDate    *time.Time          `json:"nextBillingDate"`
	LastPaymentDate    *time.Time          `json:"lastPaymentDate"`
	LastPaymentAmount  decimal.NullDecimal `json:"lastPaymentAmount"`
	HasCourtesyAccess  bool                `json:"hasCourtesyAccess"`
	CourtesyUntil      *time.Time          `json:"courtesyUntil"`
	Plan               *plan.Plan          `json:"plan"`
	Staff              []StaffSummary      `json:"staff"`
	PendingInvoices    []invoice.Invoice   `json:"pendingInvoices"`
	PendingAmount      decimal.Decimal     `json:"pendingAmount"`
}

// GetSubscriptionSummary collects the status, staff, cost and pending invoices of a business
func (s *Service) GetSubscriptionSummary(ctx context.Context, businessID string) (*Summary, error) {
	allowed, reason, err := s.CanReceiveBookings(ctx, businessID)
	if err != nil {
		return nil, err
	}
	b, err := s.getBusiness(ctx, businessID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	today := b.Today(now)

	p, err := s.Plans.GetPlanEffectiveAt(ctx, today)
	if err != nil {
		return nil, err
	}
	staff, err := s.Subscriptions.ListStaff(ctx, businessID, false)
	if err != nil {
		return nil, err
	}
	pending, err := s.Invoices.ListByBusiness(ctx, businessID, 0, invoice.Outstanding...)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		BusinessID:         businessID,
		Status:             b.Status,
		CanReceiveBookings: allowed,
		Reason:             reason,
		MonthlyCost:        decimal.Zero,
		NextBillingDate:    b.NextBillingDate,
		LastPaymentDate:    b.LastPaymentDate,
		LastPaymentAmount:  b.LastPaymentAmount,
		HasCourtesyAccess:  b.IsCourtesyActive(today),
		CourtesyUntil:      b.CourtesyUntil,
		Plan:               p,
		Staff:              make([]StaffSummary, 0, len(staff)),
		PendingInvoices:    pending,
		PendingAmount:      decimal.Zero,
	}
	for k := range staff {
		st := &staff[k]
		item := StaffSummary{
			StaffID:            st.StaffID,
			StaffName:          st.StaffName,
			IsActive:           st.IsActive,
			IsBillable:         st.IsBillable,
			BillableSince:      st.BillableSince,
			TrialDaysRemaining: st.TrialDaysRemaining(now),
			CanReceiveBookings: st.CanReceiveBookings(now),
		}
		if !st.IsBillable {
			trialEnds := st.TrialEndsAt
			item.TrialEndsAt = &trialEnds
		}
		if st.IsActive {
			summary.ActiveStaff++
			if st.IsBillable {
				summary.BillableStaff++
			}
		}
		summary.Staff = append(summary.Staff, item)
	}
	for _, inv := range pending {
		summary.PendingAmount = summary.PendingAmount.Add(inv.Total)
	}
	if p != nil {
		summary.Currency = p.Currency
		summary.MonthlyCost = p.PricePerStaffMonth.Mul(decimal.NewFromInt(int64(summary.BillableStaff)))
	}
	return summary, nil
}

// GetPendingAmount sums the totals of the pending and failed invoices of the business
func (s *Service) GetPendingAmount(ctx context.Context, businessID string) (decimal.Decimal, error) {
	return s.Invoices.PendingAmount(ctx, businessID)
}

// ListInvoices returns the newest invoices of the business, 12 when limit is not positive
func (s *Service) ListInvoices(ctx context.Context, businessID string, limit int) ([]invoice.Invoice, error) {
	if limit <= 0 {
		limit = spec.DefaultInvoiceListLimit
	}
	return s.Invoices.ListByBusiness(ctx, businessID, limit)
}

// GetInvoice returns the invoice with its line items
func (s *Service) GetInvoice(ctx context.Context, invoiceID string) (*invoice.Invoice, error) {
	inv, err := s.Invoices.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, ErrInvoiceNotFound
	}
	return inv, nil
}

// GetCurrentPricing returns the plan in effect today in the default time zone
func (s *Service) GetCurrentPricing(ctx context.Context) (*plan.Plan, error) {
	var defaults subscription.Business
	p, err := s.Plans.GetPlanEffectiveAt(ctx, defaults.Today(s.now()))
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrNoActivePlan
	}
	return p, nil
}

// AlertType identifies an owner facing reminder
type AlertType string

const (
	AlertPaymentDue      AlertType = "payment_due"
	AlertSuspended       AlertType = "suspended"
	AlertTrialExpiring   AlertType = "trial_expiring"
	AlertUpcomingBilling AlertType = "upcoming_billing"
)

// Alert is shown on the owner dashboard
type Alert struct {
	Type        AlertType `json:"type"`
	Severity    string    `json:"severity"` // info, warning or error
	Title       string    `json:"title"`
	Message     string    `json:"message"`
	Action      string    `json:"action,omitempty"`
	ActionLabel string    `json:"actionLabel,omitempty"`
	StaffID     string    `json:"staffId,omitempty"`
}

// GetAlerts lists the reminders of a business: money owed, suspension, trials
// ending within spec.TrialWarningDays and the next billing
func (s *Service) GetAlerts(ctx context.Context, businessID string) ([]Alert, error) {
	summary, err := s.GetSubscriptionSummary(ctx, businessID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	currency := summary.Currency
	if currency == "" {
		currency = spec.DefaultCurrency
	}

	alerts := make([]Alert, 0, 2)
	switch summary.Status {
	case subscription.StatusPastDue:
		alerts = append(alerts, Alert{
			Type:        AlertPaymentDue,
			Severity:    "warning",
			Title:       "Payment due",
			Message:     fmt.Sprintf("You have %s %s in pending invoices. Pay them to keep receiving bookings.", currency, summary.PendingAmount.StringFixed(proration.MoneyPlaces)),
			Action:      "pay",
			ActionLabel: "Pay now",
		})
	case subscription.StatusSuspended:
		alerts = append(alerts, Alert{
			Type:        AlertSuspended,
			Severity:    "error",
			Title:       "Subscription suspended",
			Message:     "Your subscription was suspended for lack of payment. New bookings are not accepted.",
			Action:      "pay",
			ActionLabel: "Reactivate subscription",
		})
	}

	horizon := now.Add(time.Duration(spec.TrialWarningDays) * proration.Day)
	for _, st := range summary.Staff {
		if !st.IsActive || st.IsBillable || st.TrialEndsAt == nil {
			continue
		}
		if !st.TrialEndsAt.After(now) || st.TrialEndsAt.After(horizon) {
			continue
		}
		alerts = append(alerts, Alert{
			Type:     AlertTrialExpiring,
			Severity: "info",
			Title:    fmt.Sprintf("Trial of %s is ending", st.StaffName),
			Message:  fmt.Sprintf("The trial of %s ends in %s.", st.StaffName, plural(st.TrialDaysRemaining, "day", "days")),
			StaffID:  st.StaffID,
		})
	}

	if summary.Status == subscription.StatusActive && summary.NextBillingDate != nil && summary.Plan != nil {
		alerts = append(alerts, Alert{
			Type:     AlertUpcomingBilling,
			Severity: "info",
			Title:    "Upcoming billing",
			Message: fmt.Sprintf("On %s you will be billed %s %s for %s.",
				summary.NextBillingDate.Format("2006-01-02"),
				currency,
				summary.MonthlyCost.StringFixed(proration.MoneyPlaces),
				plural(summary.BillableStaff, "staff member", "staff members"),
			),
		})
	}
	return alerts, nil
}

func plural(n int, one, many string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, one)
	}
	return fmt.Sprintf("%d %s", n, many)
}
