package payment

import (
	"time"

	"github.com/zllovesuki/stylo/spec"

	"github.com/shopspring/decimal"
)

// MethodType distinguishes real cards from the virtual courtesy instrument
type MethodType string

const (
	MethodCard     MethodType = "card"
	MethodCourtesy MethodType = "courtesy"
)

// Status is the custom type to define the outcome of a charge attempt
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

// Method is a stored payment instrument of a business
type Method struct {
	ID                string     `json:"id" gorm:"primaryKey"`
	BusinessID        string     `json:"businessId" gorm:"not null;index"`
	MethodType        MethodType `json:"methodType" gorm:"not null"`
	GatewayCustomerID string     `json:"-"`
	GatewayCardID     string     `json:"-"`
	CardBrand         string     `json:"cardBrand"`
	CardLastFour      string     `json:"cardLastFour"`
	CardHolderName    string     `json:"cardHolderName"`
	ExpirationMonth   int        `json:"expirationMonth"`
	ExpirationYear    int        `json:"expirationYear"`
	IsDefault         bool       `json:"isDefault" gorm:"not null"`
	IsActive          bool       `json:"isActive" gorm:"not null;index"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// TableName keeps the payment method table name explicit
func (Method) TableName() string {
	return "payment_methods"
}

// IsExpired reports whether the card expired before the month of today.
// Courtesy methods never expire.
func (m *Method) IsExpired(today time.Time) bool {
	if m.MethodType != MethodCard || m.ExpirationYear == 0 {
		return false
	}
	if today.Year() != m.ExpirationYear {
		return today.Year() > m.ExpirationYear
	}
	return int(today.Month()) > m.ExpirationMonth
}

// Display returns a short label such as "visa ****4242"
func (m *Method) Display() string {
	if m.MethodType == MethodCourtesy {
		return "Courtesy access"
	}
	return m.CardBrand + " ****" + m.CardLastFour
}

// Payment is one charge attempt against an invoice
type Payment struct {
	ID              string          `json:"id" gorm:"primaryKey"`
	InvoiceID       string          `json:"invoiceId" gorm:"not null;index"`
	PaymentMethodID *string         `json:"paymentMethodId"`
	Amount          decimal.Decimal `json:"amount" gorm:"type:numeric(12,2);not null"`
	AmountCents     int64           `json:"amountCents" gorm:"not null"`
	Currency        string          `json:"currency" gorm:"not null"`
	Status          Status          `json:"status" gorm:"not null;index"`
	GatewayChargeID string          `json:"gatewayChargeId"`
	ErrorMessage    string          `json:"errorMessage"`
	ErrorCode       string          `json:"errorCode"`
	GatewayResponse spec.Parameters `json:"gatewayResponse"`
	ProcessedAt     *time.Time      `json:"processedAt"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// TableName keeps the payment table name explicit
func (Payment) TableName() string {
	return "payments"
}

// Succeed records a successful charge
func (p *Payment) Succeed(at time.Time, chargeID string, raw spec.Parameters) {
	at = at.UTC()
	p.Status = StatusSucceeded
	p.GatewayChargeID = chargeID
	p.GatewayResponse = raw
	p.ErrorMessage = ""
	p.ErrorCode = ""
	p.ProcessedAt = &at
}

// Fail records a failed charge
func (p *Payment) Fail(at time.Time, message, code string, raw spec.Parameters) {
	at = at.UTC()
	p.Status = StatusFailed
	p.ErrorMessage = message
	p.ErrorCode = code
	p.GatewayResponse = raw
	p.ProcessedAt = &at
}
