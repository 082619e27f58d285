package billing

import (
	"context"

	"github.com/zllovesuki/stylo/payment"
	"github.com/zllovesuki/stylo/subscription"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

// AddPaymentMethod stores the tokenized card at the gateway and saves it for the business.
// While courtesy access is active the card is never made the default.
func (s *Service) AddPaymentMethod(ctx context.Context, businessID, token string, setDefault bool) (*payment.Method, error) {
	if token == "" {
		return nil, extErrors.New("empty card token is invalid")
	}
	b, err := s.getBusiness(ctx, businessID)
	if err != nil {
		return nil, err
	}
	if setDefault && b.IsCourtesyActive(b.Today(s.now())) {
		setDefault = false
	}
	cust, err := s.Customers.EnsureCustomer(ctx, subscription.Profile{
		ID:    b.BusinessID,
		Name:  b.BusinessName,
		Email: b.Email,
		Phone: b.Phone,
	})
	if err != nil {
		return nil, err
	}
	card, err := s.Gateway.CreateCard(ctx, cust.GatewayCustomerID, token)
	if err != nil {
		s.Logger.Warn("Gateway refused card",
			zap.String("BusinessID", businessID),
			zap.Error(err),
		)
		return nil, err
	}

	method := &payment.Method{
		BusinessID:        businessID,
		MethodType:        payment.MethodCard,
		GatewayCustomerID: cust.GatewayCustomerID,
		GatewayCardID:     card.ID,
		CardBrand:         card.Brand,
		CardLastFour:      card.LastFour,
		CardHolderName:    card.HolderName,
		ExpirationMonth:   card.ExpirationMonth,
		ExpirationYear:    card.ExpirationYear,
	}
	if err := s.Payments.AddMethod(ctx, method, setDefault); err != nil {
		return nil, err
	}
	s.Logger.Info("Payment method added",
		zap.String("BusinessID", businessID),
		zap.String("MethodID", method.ID),
		zap.Bool("Default", method.IsDefault),
	)
	return method, nil
}

// SetDefaultPaymentMethod makes an active method the default of the business.
// A card cannot take the default from the courtesy method while courtesy is active.
func (s *Service) SetDefaultPaymentMethod(ctx context.Context, businessID, methodID string) (*payment.Method, error) {
	b, err := s.getBusiness(ctx, businessID)
	if err != nil {
		return nil, err
	}
	current, err := s.Payments.Get(ctx, businessID, methodID)
	if err != nil {
		return nil, err
	}
	if current == nil || !current.IsActive {
		return nil, ErrMethodNotFound
	}
	if current.MethodType != payment.MethodCourtesy && b.IsCourtesyActive(b.Today(s.now())) {
		return nil, ErrCourtesyDefault
	}

	method, err := s.Payments.SetDefault(ctx, businessID, methodID)
	if err != nil {
		return nil, err
	}
	if method == nil {
		return nil, ErrMethodNotFound
	}
	return method, nil
}

// RemovePaymentMethod deletes the card at the gateway and soft deletes the method.
// A gateway failure does not keep the method active.
func (s *Service) RemovePaymentMethod(ctx context.Context, businessID, methodID string) error {
	method, err := s.Payments.Get(ctx, businessID, methodID)
	if err != nil {
		return err
	}
	if method == nil || !method.IsActive {
		return ErrMethodNotFound
	}
	if method.MethodType == payment.MethodCourtesy {
		return ErrCourtesyMethod
	}
	if method.MethodType == payment.MethodCard && method.GatewayCardID != "" {
		if err := s.Gateway.DeleteCard(ctx, method.GatewayCardID); err != nil {
			s.Logger.Warn("Unable to delete card at gateway",
				zap.String("BusinessID", businessID),
				zap.String("MethodID", methodID),
				zap.Error(err),
			)
		}
	}
	if _, err := s.Payments.Deactivate(ctx, businessID, methodID); err != nil {
		return err
	}
	return nil
}

// ListPaymentMethods returns the active methods, default first, then newest
func (s *Service) ListPaymentMethods(ctx context.Context, businessID string) ([]payment.Method, error) {
	return s.Payments.List(ctx, businessID)
}
