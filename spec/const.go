package spec

import "time"

// Define constants shared by the billing engine and its drivers
const (
	DefaultTrialDays          int           = 14
	DefaultCurrency           string        = "PEN"
	DefaultTimezone           string        = "America/Lima"
	DefaultMaxPaymentAttempts int           = 3
	InvoiceDueDays            int           = 7
	SuspensionGraceDays       int           = 7
	GatewayTimeout            time.Duration = time.Second * 30
	DefaultInvoiceListLimit   int           = 12
	TrialWarningDays          int           = 3
)

// TaskType identifies a scheduled job
type TaskType string

const (
	TrialSweepTask      TaskType = "trial_sweep"
	MonthlyInvoiceTask  TaskType = "monthly_invoices"
	PendingPaymentTask  TaskType = "pending_payments"
	PaymentReminderTask TaskType = "payment_reminders"
	SuspensionTask      TaskType = "suspend_unpaid"
)

// Tasks lists every scheduled job in the order they should run on a given day
var Tasks = []TaskType{
	TrialSweepTask,
	MonthlyInvoiceTask,
	PaymentReminderTask,
	PendingPaymentTask,
	SuspensionTask,
}
