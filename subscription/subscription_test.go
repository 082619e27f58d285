package subscription

import (
	"testing"
	"time"

	"github.com/zllovesuki/stylo/proration"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func timePtr(t time.Time) *time.Time {
	return &t
}

func TestTransitions(t *testing.T) {
	cases := []struct {
		from Status
		to   Status
		ok   bool
	}{
		{StatusTrial, StatusActive, true},
		{StatusTrial, StatusPastDue, true},
		{StatusTrial, StatusSuspended, false},
		{StatusActive, StatusPastDue, true},
		{StatusActive, StatusSuspended, false},
		{StatusPastDue, StatusSuspended, true},
		{StatusPastDue, StatusActive, true},
		{StatusSuspended, StatusActive, true},
		{StatusSuspended, StatusPastDue, false},
		{StatusCancelled, StatusActive, false},
		{StatusCancelled, StatusCancelled, true},
		{StatusSuspended, StatusCancelled, true},
	}
	for _, c := range cases {
		b := &Business{Status: c.from}
		err := b.Transition(c.to)
		if c.ok {
			assert.NoError(t, err, "%s -> %s", c.from, c.to)
			assert.Equal(t, c.to, b.Status)
		} else {
			assert.ErrorIs(t, err, ErrInvalidTransition, "%s -> %s", c.from, c.to)
			assert.Equal(t, c.from, b.Status)
		}
	}
}

func TestCanReceiveBookings(t *testing.T) {
	for status, reason := range map[Status]string{
		StatusTrial:     "",
		StatusActive:    "",
		StatusPastDue:   ReasonPastDue,
		StatusSuspended: ReasonSuspended,
		StatusCancelled: ReasonCancelled,
		Status("bogus"): ReasonUnknown,
	} {
		b := &Business{Status: status}
		ok, got := b.CanReceiveBookings()
		assert.Equal(t, reason == "", ok, string(status))
		assert.Equal(t, reason, got)
	}
}

func TestIsCourtesyActive(t *testing.T) {
	today := proration.Date(2024, time.June, 10)

	b := &Business{}
	assert.False(t, b.IsCourtesyActive(today))

	b.HasCourtesyAccess = true
	assert.True(t, b.IsCourtesyActive(today))

	b.CourtesyUntil = timePtr(today)
	assert.True(t, b.IsCourtesyActive(today))

	b.CourtesyUntil = timePtr(proration.Date(2024, time.June, 9))
	assert.False(t, b.IsCourtesyActive(today))
}

func TestRefreshStatus(t *testing.T) {
	now := time.Date(2024, time.June, 20, 15, 0, 0, 0, time.UTC)

	t.Run("trial elapsed with billable staff", func(t *testing.T) {
		b := &Business{Status: StatusTrial, Timezone: "UTC", TrialEndsAt: timePtr(now.Add(-time.Hour))}
		assert.True(t, b.RefreshStatus(now, 1))
		assert.Equal(t, StatusPastDue, b.Status)
	})

	t.Run("trial elapsed without billable staff", func(t *testing.T) {
		b := &Business{Status: StatusTrial, Timezone: "UTC", TrialEndsAt: timePtr(now.Add(-time.Hour))}
		assert.False(t, b.RefreshStatus(now, 0))
		assert.Equal(t, StatusTrial, b.Status)
	})

	t.Run("trial elapsed after a payment", func(t *testing.T) {
		b := &Business{Status: StatusTrial, Timezone: "UTC", TrialEndsAt: timePtr(now.Add(-time.Hour)), LastPaymentDate: timePtr(now)}
		assert.False(t, b.RefreshStatus(now, 3))
	})

	t.Run("past due beyond grace", func(t *testing.T) {
		b := &Business{Status: StatusPastDue, Timezone: "UTC", NextBillingDate: timePtr(proration.Date(2024, time.June, 1))}
		assert.True(t, b.RefreshStatus(now, 1))
		assert.Equal(t, StatusSuspended, b.Status)
	})

	t.Run("past due within grace", func(t *testing.T) {
		b := &Business{Status: StatusPastDue, Timezone: "UTC", NextBillingDate: timePtr(proration.Date(2024, time.June, 13))}
		assert.False(t, b.RefreshStatus(now, 1))
	})

	t.Run("courtesy suppresses suspension", func(t *testing.T) {
		b := &Business{
			Status:            StatusPastDue,
			Timezone:          "UTC",
			NextBillingDate:   timePtr(proration.Date(2024, time.May, 1)),
			HasCourtesyAccess: true,
		}
		assert.False(t, b.RefreshStatus(now, 1))
		assert.Equal(t, StatusPastDue, b.Status)
	})
}

func TestRecordPayment(t *testing.T) {
	b := &Business{Status: StatusSuspended}
	paidAt := time.Date(2024, time.March, 9, 12, 0, 0, 0, time.UTC)
	require.NoError(t, b.RecordPayment(paidAt, decimal.RequireFromString("34.48"), proration.Date(2024, time.February, 29)))
	assert.Equal(t, StatusActive, b.Status)
	assert.Equal(t, proration.Date(2024, time.March, 1), *b.NextBillingDate)
	assert.True(t, b.LastPaymentAmount.Decimal.Equal(decimal.RequireFromString("34.48")))

	cancelled := &Business{Status: StatusCancelled}
	assert.Error(t, cancelled.RecordPayment(paidAt, decimal.Zero, paidAt))
}

func TestLocation(t *testing.T) {
	b := &Business{}
	assert.Equal(t, "America/Lima", b.Location().String())
	b.Timezone = "Not/AZone"
	assert.Equal(t, "America/Lima", b.Location().String())
	b.Timezone = "Europe/Madrid"
	assert.Equal(t, "Europe/Madrid", b.Location().String())
}

func TestStaffLifecycle(t *testing.T) {
	now := time.Date(2024, time.June, 1, 9, 0, 0, 0, time.UTC)
	s := &Staff{IsActive: true}
	s.RestartTrial(now, 14)
	assert.True(t, s.InTrial(now))
	assert.True(t, s.CanReceiveBookings(now))
	assert.Equal(t, 13, s.TrialDaysRemaining(now.Add(time.Minute)))

	later := now.AddDate(0, 0, 15)
	assert.False(t, s.CanReceiveBookings(later))
	assert.Equal(t, 0, s.TrialDaysRemaining(later))

	s.Activate(proration.DateOf(later, time.UTC))
	assert.True(t, s.IsBillable)
	require.NotNil(t, s.BillableSince)
	assert.Equal(t, TrialGuard, s.TrialEndsAt)
	assert.True(t, s.CanReceiveBookings(later))

	s.Deactivate(proration.DateOf(later, time.UTC))
	assert.False(t, s.CanReceiveBookings(later))
	require.NotNil(t, s.DeactivatedAt)
}
