package subscription

import (
	"errors"
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/zllovesuki/stylo/proration"
	"github.com/zllovesuki/stylo/spec"

	"github.com/shopspring/decimal"
)

// ErrInvalidTransition is returned when a status change is not an edge of the state machine
var ErrInvalidTransition = errors.New("invalid subscription status transition")

// Profile is the business data the billing engine keeps a copy of
type Profile struct {
	ID       string `json:"id" validate:"required"`
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"omitempty,email"`
	Phone    string `json:"phone"`
	Timezone string `json:"timezone"` // IANA zone used for day boundaries
}

// Business is the per-business subscription aggregate
type Business struct {
	BusinessID        string              `json:"businessId" gorm:"primaryKey"`
	BusinessName      string              `json:"businessName"`
	Email             string              `json:"email"`
	Phone             string              `json:"phone"`
	Timezone          string              `json:"timezone"`
	Status            Status              `json:"status" gorm:"not null;index"`
	TrialEndsAt       *time.Time          `json:"trialEndsAt"` // Copied from the first staff member's trial
	NextBillingDate   *time.Time          `json:"nextBillingDate"`
	LastPaymentDate   *time.Time          `json:"lastPaymentDate"`
	LastPaymentAmount decimal.NullDecimal `json:"lastPaymentAmount" gorm:"type:numeric(12,2)"`
	HasCourtesyAccess bool                `json:"hasCourtesyAccess" gorm:"not null;default:false"`
	CourtesyUntil     *time.Time          `json:"courtesyUntil"` // nil is unlimited
	CourtesyReason    string              `json:"courtesyReason"`
	CreatedAt         time.Time           `json:"createdAt"`
	UpdatedAt         time.Time           `json:"updatedAt"`
}

// TableName keeps the business table name explicit
func (Business) TableName() string {
	return "business_subscriptions"
}

// Location returns the time zone used for the business's calendar days
func (b *Business) Location() *time.Location {
	for _, name := range []string{b.Timezone, spec.DefaultTimezone} {
		if name == "" {
			continue
		}
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
	}
	return time.UTC
}

// Today returns the business's civil date at instant now
func (b *Business) Today(now time.Time) time.Time {
	return proration.DateOf(now, b.Location())
}

// IsCourtesyActive reports whether the courtesy override applies on today
func (b *Business) IsCourtesyActive(today time.Time) bool {
	if !b.HasCourtesyAccess {
		return false
	}
	if b.CourtesyUntil == nil {
		return true
	}
	return !proration.Normalize(today).After(proration.Normalize(*b.CourtesyUntil))
}

// CanTransition reports whether to is reachable from the current status
func (b *Business) CanTransition(to Status) bool {
	if b.Status == to {
		return true
	}
	for _, s := range transitions[b.Status] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves the business to status to, or returns ErrInvalidTransition
func (b *Business) Transition(to Status) error {
	if !b.CanTransition(to) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, b.Status, to)
	}
	b.Status = to
	return nil
}

// CanReceiveBookings answers the booking gate from the current status
func (b *Business) CanReceiveBookings() (bool, string) {
	switch b.Status {
	case StatusTrial, StatusActive:
		return true, ""
	case StatusPastDue:
		return false, ReasonPastDue
	case StatusSuspended:
		return false, ReasonSuspended
	case StatusCancelled:
		return false, ReasonCancelled
	default:
		return false, ReasonUnknown
	}
}

// RefreshStatus applies the time based transitions.
// A trial that elapsed with billable staff and no payment becomes past_due, and a past_due
// business more than the grace period after its billing date becomes suspended unless
// courtesy applies. It reports whether the status changed.
func (b *Business) RefreshStatus(now time.Time, billableStaff int64) bool {
	before := b.Status
	if b.Status == StatusTrial && b.TrialEndsAt != nil && !now.Before(*b.TrialEndsAt) {
		if billableStaff > 0 && b.LastPaymentDate == nil {
			b.Status = StatusPastDue
		}
	}
	if b.Status == StatusPastDue && b.NextBillingDate != nil {
		today := b.Today(now)
		if proration.DaysBetween(*b.NextBillingDate, today) > spec.SuspensionGraceDays && !b.IsCourtesyActive(today) {
			b.Status = StatusSuspended
		}
	}
	return b.Status != before
}

// RecordPayment marks the business active after a paid invoice covering up to periodEnd
func (b *Business) RecordPayment(paidAt time.Time, amount decimal.Decimal, periodEnd time.Time) error {
	if err := b.Transition(StatusActive); err != nil {
		return err
	}
	paid := paidAt.UTC()
	next := proration.FirstOfNextMonth(periodEnd)
	b.LastPaymentDate = &paid
	b.LastPaymentAmount = decimal.NullDecimal{Decimal: amount, Valid: true}
	b.NextBillingDate = &next
	return nil
}

// ApplyProfile copies the business data and reports whether anything changed
func (b *Business) ApplyProfile(p Profile) bool {
	changed := false
	if p.Name != "" && p.Name != b.BusinessName {
		b.BusinessName = p.Name
		changed = true
	}
	if p.Email != "" && p.Email != b.Email {
		b.Email = p.Email
		changed = true
	}
	if p.Phone != "" && p.Phone != b.Phone {
		b.Phone = p.Phone
		changed = true
	}
	if p.Timezone != "" && p.Timezone != b.Timezone {
		b.Timezone = p.Timezone
		changed = true
	}
	return changed
}

// Staff tracks the trial and billing state of one staff member in one business.
// BillableSince and DeactivatedAt mirror the latest billing interval; the full
// history is kept by the usage package.
type Staff struct {
	ID            uint       `json:"id" gorm:"primaryKey"`
	BusinessID    string     `json:"businessId" gorm:"not null;uniqueIndex:idx_staff_business"`
	StaffID       string     `json:"staffId" gorm:"not null;uniqueIndex:idx_staff_business"`
	StaffName     string     `json:"staffName"`
	AddedAt       time.Time  `json:"addedAt"`
	TrialEndsAt   time.Time  `json:"trialEndsAt" gorm:"not null;index"`
	IsBillable    bool       `json:"isBillable" gorm:"not null"`
	BillableSince *time.Time `json:"billableSince"`
	DeactivatedAt *time.Time `json:"deactivatedAt"`
	IsActive      bool       `json:"isActive" gorm:"not null"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`

	// Set once the owner was told the trial ended, cleared by a fresh trial
	TrialExpiryAnnouncedAt *time.Time `json:"-" gorm:"index"`
}

// TableName keeps the staff table name explicit
func (Staff) TableName() string {
	return "staff_subscriptions"
}

// TrialDaysRemaining is zero once billable or expired
func (s *Staff) TrialDaysRemaining(now time.Time) int {
	if s.IsBillable {
		return 0
	}
	remaining := int(s.TrialEndsAt.Sub(now) / proration.Day)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// InTrial reports whether the trial window is still open at now
func (s *Staff) InTrial(now time.Time) bool {
	return now.Before(s.TrialEndsAt)
}

// CanReceiveBookings reports whether the staff member may take appointments
func (s *Staff) CanReceiveBookings(now time.Time) bool {
	return s.IsActive && (s.IsBillable || s.InTrial(now))
}

// Activate starts billing on today
func (s *Staff) Activate(today time.Time) {
	today = proration.Normalize(today)
	s.IsBillable = true
	s.IsActive = true
	s.BillableSince = &today
	s.DeactivatedAt = nil
	s.TrialEndsAt = TrialGuard
}

// Deactivate pauses the staff member on today, which is still billed
func (s *Staff) Deactivate(today time.Time) {
	today = proration.Normalize(today)
	s.IsActive = false
	s.DeactivatedAt = &today
}

// RestartTrial gives a returning staff member a fresh trial window
func (s *Staff) RestartTrial(now time.Time, trialDays int) {
	s.TrialEndsAt = now.UTC().AddDate(0, 0, trialDays)
	s.IsActive = true
	s.IsBillable = false
	s.BillableSince = nil
	s.DeactivatedAt = nil
	s.TrialExpiryAnnouncedAt = nil
}
