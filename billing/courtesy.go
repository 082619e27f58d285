package billing

import (
	"context"

	"github.com/zllovesuki/stylo/proration"
	"github.com/zllovesuki/stylo/subscription"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

// EnableCourtesy grants courtesy access for days from today, or without limit when
// days is nil. A suspended or past_due business is reactivated, and the virtual
// courtesy method becomes its default.
func (s *Service) EnableCourtesy(ctx context.Context, businessID string, days *int, reason string) (*subscription.Business, error) {
	if days != nil && *days < 0 {
		return nil, extErrors.New("negative courtesy days is invalid")
	}
	if _, _, err := s.Subscriptions.EnsureBusiness(ctx, subscription.Profile{ID: businessID}); err != nil {
		return nil, err
	}
	now := s.now()

	_, b, err := s.transition(ctx, s.Subscriptions, businessID, func(desired *subscription.Business) bool {
		desired.HasCourtesyAccess = true
		desired.CourtesyReason = reason
		desired.CourtesyUntil = nil
		if days != nil {
			until := proration.AddDays(desired.Today(now), *days)
			desired.CourtesyUntil = &until
		}
		if desired.Status == subscription.StatusSuspended || desired.Status == subscription.StatusPastDue {
			desired.Status = subscription.StatusActive
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, ErrBusinessNotFound
	}
	if _, err := s.Payments.EnsureCourtesyDefault(ctx, businessID); err != nil {
		return nil, err
	}

	fields := []zap.Field{
		zap.String("BusinessID", businessID),
		zap.String("Reason", reason),
	}
	if b.CourtesyUntil != nil {
		fields = append(fields, zap.Time("Until", *b.CourtesyUntil))
	}
	s.Logger.Info("Courtesy access enabled", fields...)
	return b, nil
}

// DisableCourtesy removes courtesy access and hands the default back to the newest active card
func (s *Service) DisableCourtesy(ctx context.Context, businessID string) (*subscription.Business, error) {
	_, b, err := s.transition(ctx, s.Subscriptions, businessID, func(desired *subscription.Business) bool {
		desired.HasCourtesyAccess = false
		desired.CourtesyUntil = nil
		desired.CourtesyReason = ""
		return true
	})
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, ErrBusinessNotFound
	}

	courtesy, err := s.Payments.GetCourtesyMethod(ctx, businessID)
	if err != nil {
		return nil, err
	}
	if courtesy != nil && courtesy.IsActive {
		if _, err := s.Payments.Deactivate(ctx, businessID, courtesy.ID); err != nil {
			return nil, err
		}
	}
	if _, err := s.Payments.PromoteDefault(ctx, businessID); err != nil {
		return nil, err
	}
	s.Logger.Info("Courtesy access disabled",
		zap.String("BusinessID", businessID),
	)
	return b, nil
}
