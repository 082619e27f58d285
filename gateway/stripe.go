package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/zllovesuki/stylo/spec"

	extErrors "github.com/pkg/errors"
	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"
	"go.uber.org/zap"
)

// NewStripeClient returns a Stripe API client whose HTTP calls give up after timeout
func NewStripeClient(key string, timeout time.Duration) *client.API {
	sc := &client.API{}
	sc.Init(key, stripe.NewBackends(&http.Client{
		Timeout: timeout,
	}))
	return sc
}

// StripeOptions contains the configuration for StripeGateway
type StripeOptions struct {
	Client  *client.API
	Timeout time.Duration
	Logger  *zap.Logger
}

// StripeGateway charges stored cards through Stripe PaymentIntents
type StripeGateway struct {
	StripeOptions
}

var _ Gateway = &StripeGateway{}

func NewStripeGateway(option StripeOptions) (*StripeGateway, error) {
	if option.Client == nil {
		return nil, fmt.Errorf("nil Client is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.Timeout <= 0 {
		option.Timeout = spec.GatewayTimeout
	}
	return &StripeGateway{
		StripeOptions: option,
	}, nil
}

// CreateOrGetCustomer finds the Stripe customer by email, or creates one
func (s *StripeGateway) CreateOrGetCustomer(ctx context.Context, params CustomerParams) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	if params.Email != "" {
		listParams := &stripe.CustomerListParams{
			ListParams: stripe.ListParams{
				Context: ctx,
			},
			Email: stripe.String(params.Email),
		}
		iter := s.Client.Customers.List(listParams)
		if iter.Next() {
			return iter.Customer().ID, nil
		}
		if err := iter.Err(); err != nil {
			return "", s.convert(err)
		}
	}

	customerParams := &stripe.CustomerParams{
		Params: stripe.Params{
			Context: ctx,
			Metadata: map[string]string{
				"business_id": params.BusinessID,
			},
		},
		Name: stripe.String(params.Name),
	}
	if params.Email != "" {
		customerParams.Email = stripe.String(params.Email)
	}
	if params.Phone != "" {
		customerParams.Phone = stripe.String(params.Phone)
	}
	c, err := s.Client.Customers.New(customerParams)
	if err != nil {
		return "", s.convert(err)
	}
	return c.ID, nil
}

// CreateCard attaches the tokenized PaymentMethod to the customer
func (s *StripeGateway) CreateCard(ctx context.Context, customerID, token string) (*Card, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	pm, err := s.Client.PaymentMethods.Attach(token, &stripe.PaymentMethodAttachParams{
		Params: stripe.Params{
			Context: ctx,
		},
		Customer: stripe.String(customerID),
	})
	if err != nil {
		return nil, s.convert(err)
	}
	card := &Card{
		ID: pm.ID,
	}
	if pm.Card != nil {
		card.Brand = string(pm.Card.Brand)
		card.LastFour = pm.Card.Last4
		card.ExpirationMonth = int(pm.Card.ExpMonth)
		card.ExpirationYear = int(pm.Card.ExpYear)
	}
	if pm.BillingDetails != nil {
		card.HolderName = pm.BillingDetails.Name
	}
	return card, nil
}

// Charge confirms an off-session PaymentIntent. Anything but an immediate success is a failure.
func (s *StripeGateway) Charge(ctx context.Context, params ChargeParams) (*Charge, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	piParams := &stripe.PaymentIntentParams{
		Params: stripe.Params{
			Context:  ctx,
			Metadata: params.Metadata.Clone(),
		},
		Amount:        stripe.Int64(params.AmountCents),
		Currency:      stripe.String(params.Currency),
		Customer:      stripe.String(params.CustomerID),
		PaymentMethod: stripe.String(params.CardID),
		Description:   stripe.String(params.Description),
		Confirm:       stripe.Bool(true),
		OffSession:    stripe.Bool(true),
	}
	if params.IdempotencyKey != "" {
		piParams.IdempotencyKey = stripe.String(params.IdempotencyKey)
	}
	pi, err := s.Client.PaymentIntents.New(piParams)
	if err != nil {
		return nil, s.convert(err)
	}
	raw := spec.Parameters{
		"id":       pi.ID,
		"status":   string(pi.Status),
		"amount":   strconv.FormatInt(pi.Amount, 10),
		"currency": string(pi.Currency),
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return nil, &Error{
			Message: "The payment requires additional action from the card holder",
			Code:    string(pi.Status),
			Raw:     raw,
		}
	}
	return &Charge{
		ID:  pi.ID,
		Raw: raw,
	}, nil
}

// DeleteCard detaches the PaymentMethod from its customer
func (s *StripeGateway) DeleteCard(ctx context.Context, cardID string) error {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	if _, err := s.Client.PaymentMethods.Detach(cardID, &stripe.PaymentMethodDetachParams{
		Params: stripe.Params{
			Context: ctx,
		},
	}); err != nil {
		return s.convert(err)
	}
	return nil
}

func (s *StripeGateway) convert(err error) error {
	gErr := FromStripeError(err)
	s.Logger.Warn("Stripe returned error",
		zap.String("Code", gErr.Code),
		zap.Error(err),
	)
	return gErr
}

// FromStripeError converts errors returned by stripe-go into *Error
func FromStripeError(err error) *Error {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return AsError(extErrors.Wrap(err, "Cannot reach Stripe"))
	}
	code := string(stripeErr.Code)
	if code == "" {
		code = string(stripeErr.Type)
	}
	raw := spec.Parameters{
		"type":         string(stripeErr.Type),
		"code":         string(stripeErr.Code),
		"decline_code": string(stripeErr.DeclineCode),
		"message":      stripeErr.Msg,
		"request_id":   stripeErr.RequestID,
		"http_status":  strconv.Itoa(stripeErr.HTTPStatusCode),
	}
	return &Error{
		Message: stripeErr.Msg,
		Code:    code,
		Raw:     raw,
	}
}
