package customer

import "time"

// Customer maps a business to its customer reference at the payment gateway
type Customer struct {
	BusinessID        string    `json:"businessId" gorm:"primaryKey"`
	GatewayCustomerID string    `json:"gatewayCustomerId" gorm:"not null"` // Corresponds to the gateway's customer ID
	Email             string    `json:"email" gorm:"index"`                // Business owner's email address
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// TableName keeps the customer table name explicit
func (Customer) TableName() string {
	return "gateway_customers"
}
