package invoice

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the custom type to define the current state of an invoice
type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Outstanding lists the statuses that still owe money
var Outstanding = []Status{StatusPending, StatusFailed}

// Invoice is the monthly billing document of a business. It is immutable once paid.
type Invoice struct {
	ID                 string          `json:"id" gorm:"primaryKey"`
	BusinessID         string          `json:"businessId" gorm:"not null;uniqueIndex:idx_invoice_period"`
	PeriodStart        time.Time       `json:"periodStart" gorm:"not null;uniqueIndex:idx_invoice_period"`
	PeriodEnd          time.Time       `json:"periodEnd" gorm:"not null;uniqueIndex:idx_invoice_period"`
	PlanID             string          `json:"planId"`
	StaffCount         int             `json:"staffCount" gorm:"not null"`
	PricePerStaff      decimal.Decimal `json:"pricePerStaff" gorm:"type:numeric(12,2);not null"`
	Subtotal           decimal.Decimal `json:"subtotal" gorm:"type:numeric(12,2);not null"`
	Total              decimal.Decimal `json:"total" gorm:"type:numeric(12,2);not null"`
	Currency           string          `json:"currency" gorm:"not null"`
	Status             Status          `json:"status" gorm:"not null;index"`
	IsProrated         bool            `json:"isProrated" gorm:"not null"`
	DueDate            time.Time       `json:"dueDate" gorm:"not null;index"`
	PaidAt             *time.Time      `json:"paidAt"`
	PaymentMethodID    *string         `json:"paymentMethodId"`
	PaymentAttempts    int             `json:"paymentAttempts" gorm:"not null"`
	MaxPaymentAttempts int             `json:"maxPaymentAttempts" gorm:"not null"`
	LineItems          []LineItem      `json:"lineItems,omitempty" gorm:"foreignKey:InvoiceID"`
	CreatedAt          time.Time       `json:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
}

// TableName keeps the invoice table name explicit
func (Invoice) TableName() string {
	return "invoices"
}

// Period returns the label of the billed month, e.g. "2024-02"
func (i *Invoice) Period() string {
	return i.PeriodStart.Format("2006-01")
}

// AttemptsExhausted reports whether no further charge may be tried
func (i *Invoice) AttemptsExhausted() bool {
	return i.PaymentAttempts >= i.MaxPaymentAttempts
}

// IsOutstanding reports whether the invoice still owes money
func (i *Invoice) IsOutstanding() bool {
	return i.Status == StatusPending || i.Status == StatusFailed
}

// MarkPaid records a successful payment with the given method
func (i *Invoice) MarkPaid(paidAt time.Time, methodID string) {
	paidAt = paidAt.UTC()
	i.Status = StatusPaid
	i.PaidAt = &paidAt
	i.PaymentMethodID = &methodID
}

// LineItem is the prorated charge for one staff member within an invoice
type LineItem struct {
	ID           uint            `json:"id" gorm:"primaryKey"`
	InvoiceID    string          `json:"invoiceId" gorm:"not null;index"`
	StaffID      *string         `json:"staffId"`
	StaffName    string          `json:"staffName"`
	PeriodStart  time.Time       `json:"periodStart" gorm:"not null"` // First billed day
	PeriodEnd    time.Time       `json:"periodEnd" gorm:"not null"`   // Last billed day
	DaysInPeriod int             `json:"daysInPeriod" gorm:"not null"`
	DaysActive   int             `json:"daysActive" gorm:"not null"`
	MonthlyRate  decimal.Decimal `json:"monthlyRate" gorm:"type:numeric(12,2);not null"`
	DailyRate    decimal.Decimal `json:"dailyRate" gorm:"type:numeric(12,4);not null"`
	Subtotal     decimal.Decimal `json:"subtotal" gorm:"type:numeric(12,2);not null"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// TableName keeps the line item table name explicit
func (LineItem) TableName() string {
	return "invoice_line_items"
}

// IsProrated reports whether the line bills fewer days than the period has
func (l *LineItem) IsProrated() bool {
	return l.DaysActive < l.DaysInPeriod
}
