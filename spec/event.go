package spec

import "time"

// EventType is the routing key of an outbound billing notification
type EventType string

// Defining the notifications emitted for the messaging collaborator
const (
	EventInvoiceGenerated      EventType = "invoice.generated"
	EventInvoiceDueSoon        EventType = "invoice.due_soon"
	EventInvoiceDueToday       EventType = "invoice.due_today"
	EventInvoiceOverdue        EventType = "invoice.overdue"
	EventPaymentSucceeded      EventType = "payment.succeeded"
	EventPaymentFailed         EventType = "payment.failed"
	EventSubscriptionPastDue   EventType = "subscription.past_due"
	EventSubscriptionSuspended EventType = "subscription.suspended"
	EventStaffTrialExpired     EventType = "staff.trial_expired"
)

// Event describes something a business owner should be told about.
// Delivery is done by a separate messaging service.
type Event struct {
	Type       EventType  `json:"type"`
	BusinessID string     `json:"businessId"`
	OccurredAt time.Time  `json:"occurredAt"`
	Data       Parameters `json:"data"`
}
