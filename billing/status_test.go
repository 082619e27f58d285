package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zllovesuki/stylo/gateway"
	"github.com/zllovesuki/stylo/proration"
	"github.com/zllovesuki/stylo/spec"
	"github.com/zllovesuki/stylo/subscription"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterStaff(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "100.00")

	st, err := h.RegisterStaff(ctx, ana, salon)
	require.NoError(t, err)
	assert.True(t, st.IsActive)
	assert.False(t, st.IsBillable)
	assert.Equal(t, 14, st.TrialDaysRemaining(h.clock))

	b, err := h.getBusiness(ctx, salon.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusTrial, b.Status)
	require.NotNil(t, b.TrialEndsAt)
	assert.True(t, b.TrialEndsAt.Equal(st.TrialEndsAt))

	// a second staff member does not move the business trial
	h.at(noon(2024, time.February, 5))
	_, err = h.RegisterStaff(ctx, Staff{ID: "s2", Name: "Beto"}, salon)
	require.NoError(t, err)
	b, err = h.getBusiness(ctx, salon.ID)
	require.NoError(t, err)
	assert.True(t, b.TrialEndsAt.Equal(st.TrialEndsAt))

	// registering an active member again keeps the trial
	again, err := h.RegisterStaff(ctx, Staff{ID: ana.ID, Name: "Ana Maria"}, salon)
	require.NoError(t, err)
	assert.Equal(t, st.ID, again.ID)
	assert.Equal(t, "Ana Maria", again.StaffName)
	assert.True(t, again.TrialEndsAt.Equal(st.TrialEndsAt))

	_, err = h.RegisterStaff(ctx, Staff{ID: "s3"}, salon)
	assert.Error(t, err)
}

func TestReturningStaffGetsFreshTrial(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "100.00")
	_, err := h.RegisterStaff(ctx, ana, salon)
	require.NoError(t, err)

	h.at(noon(2024, time.February, 3))
	_, err = h.DeactivateStaff(ctx, salon.ID, ana.ID)
	require.NoError(t, err)
	allowed, err := h.CanStaffReceiveBookings(ctx, salon.ID, ana.ID)
	require.NoError(t, err)
	assert.False(t, allowed)

	h.at(noon(2024, time.March, 10))
	st, err := h.OnStaffActivated(ctx, ana, salon)
	require.NoError(t, err)
	assert.True(t, st.IsActive)
	assert.Equal(t, 14, st.TrialDaysRemaining(h.clock))
	allowed, err = h.CanStaffReceiveBookings(ctx, salon.ID, ana.ID)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestStaffChangesBusiness(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "100.00")
	h.onboard(t, "tok_visa", noon(2024, time.February, 20))

	other := subscription.Profile{ID: "b2", Name: "Salon Dos"}
	h.at(noon(2024, time.February, 24))
	st, err := h.OnStaffBusinessChanged(ctx, ana, salon.ID, other)
	require.NoError(t, err)
	assert.Equal(t, "b2", st.BusinessID)
	assert.False(t, st.IsBillable)

	// billing on the old business stops on the move day
	inv := h.invoiceFebruary(t)
	require.Len(t, inv.LineItems, 1)
	assert.Equal(t, 5, inv.LineItems[0].DaysActive)

	old, err := h.Subscriptions.GetStaff(ctx, salon.ID, ana.ID)
	require.NoError(t, err)
	assert.False(t, old.IsActive)

	// the move is not reported back to the directory as a deactivation
	active, _ := h.directory.state(ana.ID)
	assert.True(t, active)

	// a staff member unknown to the old business just registers
	_, err = h.OnStaffBusinessChanged(ctx, Staff{ID: "s9", Name: "Nuevo"}, "ghost", other)
	require.NoError(t, err)
}

func TestActivateUnknownStaff(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "100.00")
	h.onboard(t, "tok_visa", noon(2024, time.February, 20))

	_, err := h.ActivateStaff(ctx, salon.ID, "nobody")
	assert.True(t, errors.Is(err, ErrStaffNotFound))
	_, err = h.DeactivateStaff(ctx, salon.ID, "nobody")
	assert.True(t, errors.Is(err, ErrStaffNotFound))

	// activating twice keeps a single interval
	_, err = h.ActivateStaff(ctx, salon.ID, ana.ID)
	require.NoError(t, err)
	st, err := h.Subscriptions.GetStaff(ctx, salon.ID, ana.ID)
	require.NoError(t, err)
	history, err := h.Usage.History(ctx, st.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestCheckExpiredTrials(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "100.00")
	// b1 has a billable member and never paid, b2 only has a trial member
	h.onboard(t, "tok_visa", noon(2024, time.February, 10))
	h.at(noon(2024, time.February, 1))
	_, err := h.RegisterStaff(ctx, Staff{ID: "s2", Name: "Beto"}, subscription.Profile{ID: "b2", Name: "Salon Dos"})
	require.NoError(t, err)

	sweep := time.Date(2024, time.February, 16, 7, 0, 0, 0, time.UTC)
	h.at(sweep)
	result, err := h.CheckExpiredTrials(ctx, sweep)
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Processed: 2, Created: 1, Skipped: 1}, result)

	expired := h.events.ofType(spec.EventStaffTrialExpired)
	require.Len(t, expired, 1)
	assert.Equal(t, "b2", expired[0].BusinessID)
	assert.Equal(t, "s2", expired[0].Data["staff_id"])

	b1, err := h.getBusiness(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusPastDue, b1.Status)
	b2, err := h.getBusiness(ctx, "b2")
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusTrial, b2.Status)
	assert.Len(t, h.events.ofType(spec.EventSubscriptionPastDue), 1)

	// the trial member is never made billable by the sweep
	st, err := h.Subscriptions.GetStaff(ctx, "b2", "s2")
	require.NoError(t, err)
	assert.False(t, st.IsBillable)

	allowed, reason, err := h.CanReceiveBookings(ctx, "b1")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, subscription.ReasonPastDue, reason)

	// a day later nothing new expired
	later := sweep.Add(proration.Day)
	h.at(later)
	_, err = h.CheckExpiredTrials(ctx, later)
	require.NoError(t, err)
	assert.Len(t, h.events.ofType(spec.EventStaffTrialExpired), 1)
}

func TestExpiredTrialAnnouncedOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "100.00")
	h.at(noon(2024, time.February, 1))
	_, err := h.RegisterStaff(ctx, Staff{ID: "s2", Name: "Beto"}, subscription.Profile{ID: "b2", Name: "Salon Dos"})
	require.NoError(t, err)

	// the sweeps of Feb 16 and 17 never ran
	late := time.Date(2024, time.February, 18, 7, 0, 0, 0, time.UTC)
	h.at(late)
	_, err = h.CheckExpiredTrials(ctx, late)
	require.NoError(t, err)
	require.Len(t, h.events.ofType(spec.EventStaffTrialExpired), 1)

	rerun := late.Add(3 * time.Hour)
	h.at(rerun)
	_, err = h.CheckExpiredTrials(ctx, rerun)
	require.NoError(t, err)
	assert.Len(t, h.events.ofType(spec.EventStaffTrialExpired), 1)

	st, err := h.Subscriptions.GetStaff(ctx, "b2", "s2")
	require.NoError(t, err)
	require.NotNil(t, st.TrialExpiryAnnouncedAt)
}

func TestCanReceiveBookings(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "100.00")

	allowed, reason, err := h.CanReceiveBookings(ctx, "new-business")
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Empty(t, reason)

	b, err := h.getBusiness(ctx, "new-business")
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusTrial, b.Status)

	_, err = h.CancelSubscription(ctx, "new-business")
	require.NoError(t, err)
	allowed, reason, err = h.CanReceiveBookings(ctx, "new-business")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, subscription.ReasonCancelled, reason)

	_, err = h.CancelSubscription(ctx, "ghost")
	assert.True(t, errors.Is(err, ErrBusinessNotFound))
}

func TestSuspendUnpaidSubscriptions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "100.00")
	h.onboard(t, "tok_visa", noon(2024, time.February, 20))
	inv := h.invoiceFebruary(t)
	require.Equal(t, "2024-03-08", inv.DueDate.Format("2006-01-02"))

	opts := SuspendOptions{GraceDays: spec.SuspensionGraceDays}

	// due date plus grace has not elapsed
	result, err := h.SuspendUnpaidSubscriptions(ctx, proration.Date(2024, time.March, 15), opts)
	require.NoError(t, err)
	assert.Equal(t, BatchResult{}, result)

	today := proration.Date(2024, time.March, 20)
	h.at(noon(2024, time.March, 20))
	result, err = h.SuspendUnpaidSubscriptions(ctx, today, SuspendOptions{GraceDays: spec.SuspensionGraceDays, DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Processed: 1, Created: 1}, result)
	b, err := h.getBusiness(ctx, salon.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusTrial, b.Status)

	result, err = h.SuspendUnpaidSubscriptions(ctx, today, opts)
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Processed: 1, Created: 1}, result)
	b, err = h.getBusiness(ctx, salon.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusSuspended, b.Status)
	assert.Len(t, h.events.ofType(spec.EventSubscriptionSuspended), 1)

	allowed, reason, err := h.CanReceiveBookings(ctx, salon.ID)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, subscription.ReasonSuspended, reason)

	result, err = h.SuspendUnpaidSubscriptions(ctx, today, opts)
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Processed: 1, Skipped: 1}, result)

	// courtesy reactivates the business and shields it from the sweep
	b, err = h.EnableCourtesy(ctx, salon.ID, nil, "Goodwill")
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, b.Status)
	result, err = h.SuspendUnpaidSubscriptions(ctx, today, opts)
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Processed: 1, Skipped: 1}, result)
}

func TestSendPaymentReminders(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "100.00")
	h.onboard(t, "tok_visa", noon(2024, time.February, 20))
	inv := h.invoiceFebruary(t)

	cases := []struct {
		today time.Time
		event spec.EventType
	}{
		{proration.Date(2024, time.March, 5), spec.EventInvoiceDueSoon},
		{proration.Date(2024, time.March, 8), spec.EventInvoiceDueToday},
		{proration.Date(2024, time.March, 9), spec.EventInvoiceOverdue},
	}
	for _, c := range cases {
		result, err := h.SendPaymentReminders(ctx, c.today)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Created, c.event)
		events := h.events.ofType(c.event)
		require.Len(t, events, 1, c.event)
		assert.Equal(t, inv.ID, events[0].Data["invoice_id"])
	}

	result, err := h.SendPaymentReminders(ctx, proration.Date(2024, time.March, 6))
	require.NoError(t, err)
	assert.Equal(t, 0, result.Created)
}

func TestSubscriptionSummary(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "100.00")
	h.onboard(t, "tok_visa", noon(2024, time.February, 20))
	_, err := h.RegisterStaff(ctx, Staff{ID: "s2", Name: "Beto"}, salon)
	require.NoError(t, err)
	h.invoiceFebruary(t)

	summary, err := h.GetSubscriptionSummary(ctx, salon.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.ActiveStaff)
	assert.Equal(t, 1, summary.BillableStaff)
	assert.Equal(t, "100.00", summary.MonthlyCost.StringFixed(2))
	assert.Equal(t, "PEN", summary.Currency)
	assert.Equal(t, "34.48", summary.PendingAmount.StringFixed(2))
	assert.Len(t, summary.PendingInvoices, 1)
	require.NotNil(t, summary.Plan)
	require.Len(t, summary.Staff, 2)

	byID := make(map[string]StaffSummary)
	for _, st := range summary.Staff {
		byID[st.StaffID] = st
	}
	assert.Equal(t, 0, byID["s1"].TrialDaysRemaining)
	assert.Nil(t, byID["s1"].TrialEndsAt)
	assert.True(t, byID["s2"].TrialDaysRemaining > 0)
	assert.True(t, byID["s2"].CanReceiveBookings)

	pending, err := h.GetPendingAmount(ctx, salon.ID)
	require.NoError(t, err)
	assert.Equal(t, "34.48", pending.StringFixed(2))

	_, err = h.GetInvoice(ctx, "missing")
	assert.True(t, errors.Is(err, ErrInvoiceNotFound))
}

func TestAlertsForTrialEnding(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "100.00")
	_, err := h.RegisterStaff(ctx, ana, salon)
	require.NoError(t, err)

	h.at(noon(2024, time.February, 10))
	alerts, err := h.GetAlerts(ctx, salon.ID)
	require.NoError(t, err)
	assert.Empty(t, alerts)

	h.at(noon(2024, time.February, 13))
	alerts, err = h.GetAlerts(ctx, salon.ID)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertTrialExpiring, alerts[0].Type)
	assert.Equal(t, ana.ID, alerts[0].StaffID)
	assert.Contains(t, alerts[0].Message, "Ana")

	// an ended trial is reported by the sweep, not as an alert
	h.at(noon(2024, time.February, 20))
	alerts, err = h.GetAlerts(ctx, salon.ID)
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestAlertsForUnpaidBusiness(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "100.00")
	h.onboard(t, gateway.MockTokenDecline, noon(2024, time.February, 20))
	inv := h.invoiceFebruary(t)
	for i := 0; i < spec.DefaultMaxPaymentAttempts; i++ {
		_, _, err := h.ProcessInvoicePayment(ctx, inv.ID, nil)
		require.NoError(t, err)
	}

	h.at(noon(2024, time.March, 2))
	alerts, err := h.GetAlerts(ctx, salon.ID)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertPaymentDue, alerts[0].Type)
	assert.Equal(t, "warning", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "PEN 34.48")
	assert.Equal(t, "pay", alerts[0].Action)
}

func TestAlertsForUpcomingBilling(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "100.00")
	h.onboard(t, "tok_visa", noon(2024, time.February, 20))
	inv := h.invoiceFebruary(t)
	success, _, err := h.ProcessInvoicePayment(ctx, inv.ID, nil)
	require.NoError(t, err)
	require.True(t, success)

	h.at(noon(2024, time.March, 2))
	alerts, err := h.GetAlerts(ctx, salon.ID)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertUpcomingBilling, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "PEN 100.00 for 1 staff member.")
}
