package billing

import (
	"context"
	"errors"
	"time"

	"github.com/zllovesuki/stylo/spec"
	"github.com/zllovesuki/stylo/subscription"
	"github.com/zllovesuki/stylo/usage"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Staff identifies a staff member in the staff directory
type Staff struct {
	ID   string `json:"id" validate:"required"`
	Name string `json:"name" validate:"required"`
}

func (s *Service) trialDays(ctx context.Context, today time.Time) (int, error) {
	p, err := s.Plans.GetPlanEffectiveAt(ctx, today)
	if err != nil {
		return 0, err
	}
	if p == nil {
		return spec.DefaultTrialDays, nil
	}
	return p.TrialDays, nil
}

// RegisterStaff creates the staff subscription with a fresh trial window. An inactive
// staff member gets a new trial, an active one is left unchanged.
func (s *Service) RegisterStaff(ctx context.Context, staff Staff, profile subscription.Profile) (*subscription.Staff, error) {
	if err := validate.Struct(staff); err != nil {
		return nil, err
	}
	if err := validate.Struct(profile); err != nil {
		return nil, err
	}

	logger := s.Logger.With(
		zap.String("BusinessID", profile.ID),
		zap.String("StaffID", staff.ID),
	)

	b, _, err := s.Subscriptions.EnsureBusiness(ctx, profile)
	if err != nil {
		return nil, err
	}
	now := s.now()
	days, err := s.trialDays(ctx, b.Today(now))
	if err != nil {
		return nil, err
	}

	var result *subscription.Staff
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		subs := s.Subscriptions.WithTx(tx)
		existing, err := subs.GetStaffForUpdate(ctx, profile.ID, staff.ID)
		if err != nil {
			return err
		}
		switch {
		case existing == nil:
			fresh := &subscription.Staff{
				BusinessID:  profile.ID,
				StaffID:     staff.ID,
				StaffName:   staff.Name,
				AddedAt:     now,
				TrialEndsAt: now.AddDate(0, 0, days),
				IsActive:    true,
			}
			if err := subs.SaveStaff(ctx, fresh); err != nil {
				return err
			}
			logger.Info("Staff subscription created",
				zap.Time("TrialEndsAt", fresh.TrialEndsAt),
			)
			result = fresh
		case !existing.IsActive:
			existing.RestartTrial(now, days)
			existing.StaffName = staff.Name
			if err := subs.SaveStaff(ctx, existing); err != nil {
				return err
			}
			logger.Info("Staff subscription restarted with a fresh trial",
				zap.Time("TrialEndsAt", existing.TrialEndsAt),
			)
			result = existing
		default:
			if existing.StaffName != staff.Name {
				existing.StaffName = staff.Name
				if err := subs.SaveStaff(ctx, existing); err != nil {
					return err
				}
			}
			result = existing
			return nil
		}

		trialEnds := result.TrialEndsAt
		_, err = subs.LambdaUpdate(ctx, profile.ID, func(current, desired *subscription.Business) bool {
			if current == nil || current.TrialEndsAt != nil {
				return false
			}
			desired.TrialEndsAt = &trialEnds
			return true
		})
		return err
	})
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot register staff")
	}
	return result, nil
}

// OnStaffActivated is called by the staff directory when a staff member is activated
func (s *Service) OnStaffActivated(ctx context.Context, staff Staff, profile subscription.Profile) (*subscription.Staff, error) {
	return s.RegisterStaff(ctx, staff, profile)
}

// OnStaffBusinessChanged is called by the staff directory when a staff member moves
// to another business. Billing ends on the old business and a trial starts on the new one.
func (s *Service) OnStaffBusinessChanged(ctx context.Context, staff Staff, oldBusinessID string, newBusiness subscription.Profile) (*subscription.Staff, error) {
	if oldBusinessID != "" && oldBusinessID != newBusiness.ID {
		_, err := s.deactivateStaff(ctx, oldBusinessID, staff.ID, false)
		if err != nil && !errors.Is(err, ErrStaffNotFound) && !errors.Is(err, ErrBusinessNotFound) {
			return nil, err
		}
	}
	return s.RegisterStaff(ctx, staff, newBusiness)
}

// ActivateStaff makes the staff member billable from today. The business must
// have at least one active payment method.
func (s *Service) ActivateStaff(ctx context.Context, businessID, staffID string) (*subscription.Staff, error) {
	methods, err := s.Payments.CountActive(ctx, businessID)
	if err != nil {
		return nil, err
	}
	if methods == 0 {
		return nil, ErrNoPaymentMethod
	}
	b, err := s.getBusiness(ctx, businessID)
	if err != nil {
		return nil, err
	}
	today := b.Today(s.now())

	var st *subscription.Staff
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		subs := s.Subscriptions.WithTx(tx)
		found, err := subs.GetStaffForUpdate(ctx, businessID, staffID)
		if err != nil {
			return err
		}
		if found == nil {
			return ErrStaffNotFound
		}
		st = found
		if st.IsActive && st.IsBillable {
			return nil
		}
		st.Activate(today)
		if err := subs.SaveStaff(ctx, st); err != nil {
			return err
		}
		_, err = s.Usage.WithTx(tx).Open(ctx, usage.Owner{
			StaffSubscriptionID: st.ID,
			BusinessID:          businessID,
			StaffID:             staffID,
		}, today)
		return err
	})
	if errors.Is(err, ErrStaffNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot activate staff")
	}

	if err := s.Directory.SetStaffActive(ctx, staffID, true); err != nil {
		s.Logger.Warn("Unable to activate staff in directory",
			zap.String("StaffID", staffID),
			zap.Error(err),
		)
	}
	s.Logger.Info("Staff activated for billing",
		zap.String("BusinessID", businessID),
		zap.String("StaffID", staffID),
		zap.Time("BillableSince", today),
	)
	return st, nil
}

// DeactivateStaff ends the current billable interval on today, which is still billed
func (s *Service) DeactivateStaff(ctx context.Context, businessID, staffID string) (*subscription.Staff, error) {
	return s.deactivateStaff(ctx, businessID, staffID, true)
}

func (s *Service) deactivateStaff(ctx context.Context, businessID, staffID string, notify bool) (*subscription.Staff, error) {
	b, err := s.getBusiness(ctx, businessID)
	if err != nil {
		return nil, err
	}
	today := b.Today(s.now())

	var st *subscription.Staff
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		subs := s.Subscriptions.WithTx(tx)
		found, err := subs.GetStaffForUpdate(ctx, businessID, staffID)
		if err != nil {
			return err
		}
		if found == nil {
			return ErrStaffNotFound
		}
		st = found
		if !st.IsActive {
			return nil
		}
		st.Deactivate(today)
		if err := subs.SaveStaff(ctx, st); err != nil {
			return err
		}
		_, err = s.Usage.WithTx(tx).Close(ctx, st.ID, today)
		return err
	})
	if errors.Is(err, ErrStaffNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot deactivate staff")
	}

	if notify {
		if err := s.Directory.SetStaffActive(ctx, staffID, false); err != nil {
			s.Logger.Warn("Unable to deactivate staff in directory",
				zap.String("StaffID", staffID),
				zap.Error(err),
			)
		}
	}
	return st, nil
}

// CanStaffReceiveBookings reports whether the staff member is active and either billable or still in trial
func (s *Service) CanStaffReceiveBookings(ctx context.Context, businessID, staffID string) (bool, error) {
	st, err := s.Subscriptions.GetStaff(ctx, businessID, staffID)
	if err != nil {
		return false, err
	}
	if st == nil {
		return false, nil
	}
	return st.CanReceiveBookings(s.now()), nil
}

// CheckExpiredTrials is the daily trial sweep. Every expired trial is announced
// exactly once so the owner activates the staff member, even when a run was
// missed; it never makes anyone billable. Businesses in trial then get their
// status refreshed.
func (s *Service) CheckExpiredTrials(ctx context.Context, now time.Time) (BatchResult, error) {
	now = now.UTC()
	expired, err := s.Subscriptions.ListExpiredTrials(ctx, now)
	if err != nil {
		return BatchResult{}, err
	}
	announced := 0
	for _, st := range expired {
		claimed, err := s.Subscriptions.ClaimTrialExpiry(ctx, st.ID, now)
		if err != nil {
			return BatchResult{}, err
		}
		if !claimed {
			continue
		}
		announced++
		s.publish(ctx, spec.EventStaffTrialExpired, st.BusinessID, spec.Parameters{
			"staff_id":      st.StaffID,
			"staff_name":    st.StaffName,
			"trial_ends_at": st.TrialEndsAt.Format(time.RFC3339),
		})
	}
	s.Logger.Info("Expired trials announced",
		zap.Int("Count", announced),
	)

	trials, err := s.Subscriptions.ListBusinesses(ctx, subscription.StatusTrial)
	if err != nil {
		return BatchResult{}, err
	}
	keys := make([]string, 0, len(trials))
	for _, b := range trials {
		keys = append(keys, b.BusinessID)
	}
	result := s.runBatch(ctx, string(spec.TrialSweepTask), keys, func(ctx context.Context, businessID string) (outcome, error) {
		changed, err := s.refreshStatus(ctx, businessID, now)
		if err != nil {
			return outcomeFailed, err
		}
		if changed != nil {
			return outcomeCreated, nil
		}
		return outcomeSkipped, nil
	})
	return result, nil
}

// refreshStatus applies the lazy time based transitions. It returns the updated
// business, or nil when the status did not change.
func (s *Service) refreshStatus(ctx context.Context, businessID string, now time.Time) (*subscription.Business, error) {
	billable, err := s.Subscriptions.CountBillableStaff(ctx, businessID)
	if err != nil {
		return nil, err
	}
	before, after, err := s.transition(ctx, s.Subscriptions, businessID, func(b *subscription.Business) bool {
		return b.RefreshStatus(now, billable)
	})
	if err != nil {
		return nil, err
	}
	if after == nil || after.Status == before {
		return nil, nil
	}
	s.announceStatus(ctx, after)
	return after, nil
}

func (s *Service) announceStatus(ctx context.Context, b *subscription.Business) {
	switch b.Status {
	case subscription.StatusPastDue:
		s.publish(ctx, spec.EventSubscriptionPastDue, b.BusinessID, spec.Parameters{
			"business_name": b.BusinessName,
		})
	case subscription.StatusSuspended:
		s.publish(ctx, spec.EventSubscriptionSuspended, b.BusinessID, spec.Parameters{
			"business_name": b.BusinessName,
		})
	}
}
