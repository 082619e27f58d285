// Package gateway defines the payment gateway capability used by the billing
// service and its implementations.
package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/zllovesuki/stylo/spec"

	"go.uber.org/zap"
)

// Provider names a Gateway implementation in configuration
type Provider string

const (
	ProviderStripe Provider = "stripe"
	ProviderMock   Provider = "mock"
)

// CustomerParams describes the business owning the stored cards
type CustomerParams struct {
	BusinessID string
	Email      string
	Name       string
	Phone      string
}

// Card is a tokenized card stored at the gateway
type Card struct {
	ID              string
	Brand           string
	LastFour        string
	HolderName      string
	ExpirationMonth int
	ExpirationYear  int
}

// ChargeParams describes one charge against a stored card
type ChargeParams struct {
	CustomerID  string
	CardID      string
	AmountCents int64
	Currency    string
	Description string
	Metadata    spec.Parameters
	// IdempotencyKey makes a resent request return the original charge
	IdempotencyKey string
}

// Charge is a successful charge
type Charge struct {
	ID  string
	Raw spec.Parameters
}

// Gateway is the outbound payment capability. Every error returned by an
// implementation can be turned into an *Error with AsError.
type Gateway interface {
	CreateOrGetCustomer(ctx context.Context, params CustomerParams) (string, error)
	CreateCard(ctx context.Context, customerID, token string) (*Card, error)
	Charge(ctx context.Context, params ChargeParams) (*Charge, error)
	DeleteCard(ctx context.Context, cardID string) error
}

// Options selects and configures a Gateway
type Options struct {
	Provider  Provider
	StripeKey string
	Timeout   time.Duration
	Logger    *zap.Logger
}

// New returns the Gateway chosen by option.Provider
func New(option Options) (Gateway, error) {
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.Timeout <= 0 {
		option.Timeout = spec.GatewayTimeout
	}
	switch option.Provider {
	case ProviderStripe:
		return NewStripeGateway(StripeOptions{
			Client:  NewStripeClient(option.StripeKey, option.Timeout),
			Timeout: option.Timeout,
			Logger:  option.Logger,
		})
	case ProviderMock, "":
		option.Logger.Warn("Using mock payment gateway, no real charges will be made")
		return NewMockGateway(), nil
	default:
		return nil, fmt.Errorf("unknown payment gateway provider \"%s\"", option.Provider)
	}
}
