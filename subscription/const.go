package subscription

import "time"

// Status is the custom type to define the current state of a business subscription
type Status string

// Defining different Status for a business subscription
const (
	StatusTrial     Status = "trial"
	StatusActive    Status = "active"
	StatusPastDue   Status = "past_due"
	StatusSuspended Status = "suspended"
	StatusCancelled Status = "cancelled"
)

// transitions lists the allowed edges of the state machine
var transitions = map[Status][]Status{
	StatusTrial:     {StatusActive, StatusPastDue, StatusCancelled},
	StatusActive:    {StatusActive, StatusPastDue, StatusCancelled},
	StatusPastDue:   {StatusActive, StatusSuspended, StatusCancelled},
	StatusSuspended: {StatusActive, StatusCancelled},
	StatusCancelled: {},
}

// Booking gate reasons shown to the business owner
const (
	ReasonPastDue   = "Your subscription has a pending payment. Please update your payment method to keep receiving bookings."
	ReasonSuspended = "Your subscription has been suspended for non-payment. Contact support to reactivate it."
	ReasonCancelled = "Your subscription has been cancelled. Contact support to reactivate it."
	ReasonUnknown   = "Unknown subscription status."
)

// TrialGuard is written to StaffSubscription.TrialEndsAt on activation so the
// trial check never fires again for that staff member
var TrialGuard = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)
