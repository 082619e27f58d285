package billing

import "errors"

// Sentinel errors returned by Service, test them with errors.Is
var (
	ErrNoActivePlan       = errors.New("no active pricing plan")
	ErrNoPaymentMethod    = errors.New("business has no active payment method")
	ErrInvoiceNotFound    = errors.New("invoice not found")
	ErrInvoiceAlreadyPaid = errors.New("invoice is already paid")
	ErrInvoiceCancelled   = errors.New("invoice is cancelled")
	ErrBusinessNotFound   = errors.New("business subscription not found")
	ErrStaffNotFound      = errors.New("staff subscription not found")
	ErrMethodNotFound     = errors.New("payment method not found")
	ErrCourtesyDefault    = errors.New("courtesy method is the default while courtesy access is active")
	ErrCourtesyMethod     = errors.New("courtesy method is only removed by disabling courtesy access")
)

// rolls back a generation transaction that lost the race to another runner
var errAlreadyInvoiced = errors.New("invoice already exists for period")
