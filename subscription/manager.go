package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zllovesuki/stylo/db"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ManagerOptions struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

// Manager persists business and staff subscriptions
type Manager struct {
	ManagerOptions
}

func NewManager(option ManagerOptions) (*Manager, error) {
	if option.DB == nil {
		return nil, fmt.Errorf("nil DB is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if err := option.DB.AutoMigrate(&Business{}, &Staff{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initilize subscription.Manager")
	}
	return &Manager{
		ManagerOptions: option,
	}, nil
}

// WithTx returns a Manager bound to an open transaction
func (m *Manager) WithTx(tx *gorm.DB) *Manager {
	option := m.ManagerOptions
	option.DB = tx
	return &Manager{
		ManagerOptions: option,
	}
}

// GetBusiness returns the subscription of a business, or (nil, nil) if none exists
func (m *Manager) GetBusiness(ctx context.Context, businessID string) (*Business, error) {
	var b Business
	result := m.DB.WithContext(ctx).First(&b, "business_id = ?", businessID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot lookup business subscription")
	}
	return &b, nil
}

// EnsureBusiness gets or creates the subscription of a business in trial, keeping
// the profile copy up to date. created reports whether the row is new.
func (m *Manager) EnsureBusiness(ctx context.Context, profile Profile) (b *Business, created bool, err error) {
	if profile.ID == "" {
		return nil, false, fmt.Errorf("empty business ID is invalid")
	}
	b, err = m.GetBusiness(ctx, profile.ID)
	if err != nil {
		return nil, false, err
	}
	if b != nil {
		if b.ApplyProfile(profile) {
			if err := m.DB.WithContext(ctx).Save(b).Error; err != nil {
				return nil, false, extErrors.Wrap(err, "Cannot update business profile")
			}
		}
		return b, false, nil
	}

	fresh := &Business{
		BusinessID: profile.ID,
		Status:     StatusTrial,
	}
	fresh.ApplyProfile(profile)
	result := m.DB.WithContext(ctx).Create(fresh)
	if db.IsDuplicate(result.Error) {
		// lost a race against another runner, use theirs
		b, err = m.GetBusiness(ctx, profile.ID)
		return b, false, err
	}
	if result.Error != nil {
		m.Logger.Error("Unable to create business subscription in database",
			zap.Error(result.Error),
		)
		return nil, false, extErrors.Wrap(result.Error, "Cannot create business subscription")
	}
	return fresh, true, nil
}

// LambdaUpdateFunc is used when transaction is required for update. Return value determines if Manager should commit the changes.
// Note that current and desired are nil if no Business with given id was found, and must return false if that is the case
type LambdaUpdateFunc func(current *Business, desired *Business) (shouldSave bool)

// LambdaUpdate will perform a transactional update based on the lambda function. If the lambda signals shouldSave AND update was successful, it will return the new state.
// The selected Business will be locked with FOR UPDATE
func (m *Manager) LambdaUpdate(ctx context.Context, businessID string, lambda LambdaUpdateFunc) (*Business, error) {
	var desired Business
	var shouldReturn bool
	err := m.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current Business
		lookupRes := db.ForUpdate(tx).First(&current, "business_id = ?", businessID)
		if lookupRes.Error == nil {
			desired = current
			if lambda(&current, &desired) {
				if saveRes := tx.Save(&desired); saveRes.Error != nil {
					return saveRes.Error
				}
				shouldReturn = true
			}
			return nil
		} else if errors.Is(lookupRes.Error, gorm.ErrRecordNotFound) {
			lambda(nil, nil)
			return nil
		}
		return lookupRes.Error
	})
	if err != nil {
		// transaction failed, return nil new state
		return nil, extErrors.Wrap(err, "Cannot update business subscription")
	}
	if !shouldReturn {
		// shouldSave == false, return nil new state
		return nil, nil
	}
	// transaction succeed and shouldSave == true, return new state
	return &desired, nil
}

// ListBusinesses returns the subscriptions in any of the given statuses, or all of them
func (m *Manager) ListBusinesses(ctx context.Context, statuses ...Status) ([]Business, error) {
	query := m.DB.WithContext(ctx).Order("business_id asc")
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}
	results := make([]Business, 0, 8)
	if result := query.Find(&results); result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot list business subscriptions")
	}
	return results, nil
}

// GetStaff returns the staff subscription of a pair, or (nil, nil) if none exists
func (m *Manager) GetStaff(ctx context.Context, businessID, staffID string) (*Staff, error) {
	var s Staff
	result := m.DB.WithContext(ctx).
		Where("business_id = ? AND staff_id = ?", businessID, staffID).
		First(&s)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot lookup staff subscription")
	}
	return &s, nil
}

// GetStaffForUpdate is GetStaff with the row locked, for use inside a transaction
func (m *Manager) GetStaffForUpdate(ctx context.Context, businessID, staffID string) (*Staff, error) {
	var s Staff
	result := db.ForUpdate(m.DB.WithContext(ctx)).
		Where("business_id = ? AND staff_id = ?", businessID, staffID).
		First(&s)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		return nil, extErrors.Wrap(result.Error, "Cannot lock staff subscription")
	}
	return &s, nil
}

// SaveStaff creates or updates a staff subscription
func (m *Manager) SaveStaff(ctx context.Context, s *Staff) error {
	if result := m.DB.WithContext(ctx).Save(s); result.Error != nil {
		m.Logger.Error("Unable to save staff subscription in database",
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot save staff subscription")
	}
	return nil
}

// GetStaffByIDs returns the staff subscriptions with the given primary keys
func (m *Manager) GetStaffByIDs(ctx context.Context, ids []uint) (map[uint]Staff, error) {
	found := make(map[uint]Staff, len(ids))
	if len(ids) == 0 {
		return found, nil
	}
	rows := make([]Staff, 0, len(ids))
	if result := m.DB.WithContext(ctx).Where("id IN ?", ids).Find(&rows); result.Error != nil {
		return nil, extErrors.Wrap(result.Error, "Cannot list staff subscriptions")
	}
	for _, s := range rows {
		found[s.ID] = s
	}
	return found, nil
}

// ListStaff returns the staff subscriptions of a business, newest first
func (m *Manager) ListStaff(ctx context.Context, businessID string, activeOnly bool) ([]Staff, error) {
	query := m.DB.WithContext(ctx).Where("business_id = ?", businessID)
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	results := make([]Staff, 0, 4)
	if result := query.Order("added_at desc").Find(&results); result.Error != nil {
		return nil, extErrors.Wrap(result.Error, "Cannot list staff subscriptions")
	}
	return results, nil
}

// CountBillableStaff counts active staff members that have been activated for billing
func (m *Manager) CountBillableStaff(ctx context.Context, businessID string) (int64, error) {
	var count int64
	result := m.DB.WithContext(ctx).
		Model(&Staff{}).
		Where("business_id = ? AND is_billable = ? AND is_active = ?", businessID, true, true).
		Count(&count)
	if result.Error != nil {
		return 0, extErrors.Wrap(result.Error, "Cannot count billable staff")
	}
	return count, nil
}

// ListExpiredTrials returns active, non billable staff whose trial ended at or
// before until and who were not announced yet
func (m *Manager) ListExpiredTrials(ctx context.Context, until time.Time) ([]Staff, error) {
	results := make([]Staff, 0, 4)
	result := m.DB.WithContext(ctx).
		Where("is_billable = ? AND is_active = ? AND trial_ends_at <= ? AND trial_expiry_announced_at IS NULL",
			false, true, until.UTC()).
		Order("business_id asc, staff_id asc").
		Find(&results)
	if result.Error != nil {
		return nil, extErrors.Wrap(result.Error, "Cannot list expired trials")
	}
	return results, nil
}

// ClaimTrialExpiry marks the expired trial as announced. It reports false when
// another run already claimed it.
func (m *Manager) ClaimTrialExpiry(ctx context.Context, id uint, at time.Time) (bool, error) {
	result := m.DB.WithContext(ctx).
		Model(&Staff{}).
		Where("id = ? AND trial_expiry_announced_at IS NULL", id).
		Update("trial_expiry_announced_at", at.UTC())
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return false, extErrors.Wrap(result.Error, "Cannot claim trial expiry")
	}
	return result.RowsAffected == 1, nil
}
