package usage

import (
	"context"
	"errors"
	"time"

	"github.com/zllovesuki/stylo/proration"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Owner identifies the staff subscription an interval belongs to
type Owner struct {
	StaffSubscriptionID uint
	BusinessID          string
	StaffID             string
}

type Manager struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewManager(logger *zap.Logger, db *gorm.DB) (*Manager, error) {
	if err := db.AutoMigrate(&Interval{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initilize usage.Manager")
	}
	return &Manager{
		db:     db,
		logger: logger,
	}, nil
}

// WithTx returns a Manager bound to an open transaction
func (m *Manager) WithTx(tx *gorm.DB) *Manager {
	return &Manager{
		db:     tx,
		logger: m.logger,
	}
}

// Open starts a billable interval on day. It is a no-op if one is already open,
// and it re-opens the latest interval when that interval ended on or after day so
// that no day is billed twice.
func (m *Manager) Open(ctx context.Context, owner Owner, day time.Time) (*Interval, error) {
	day = proration.Normalize(day)
	tx := m.db.WithContext(ctx)

	var latest Interval
	result := tx.
		Where("staff_subscription_id = ?", owner.StaffSubscriptionID).
		Order("start_date desc").
		First(&latest)
	if result.Error != nil && !errors.Is(result.Error, gorm.ErrRecordNotFound) {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot lookup latest interval")
	}
	if result.Error == nil {
		if latest.IsOpen() {
			return &latest, nil
		}
		if !latest.EndDate.Before(day) {
			latest.EndDate = nil
			if err := tx.Model(&latest).Update("end_date", nil).Error; err != nil {
				return nil, extErrors.Wrap(err, "Cannot reopen interval")
			}
			return &latest, nil
		}
	}

	iv := Interval{
		StaffSubscriptionID: owner.StaffSubscriptionID,
		BusinessID:          owner.BusinessID,
		StaffID:             owner.StaffID,
		StartDate:           day,
	}
	if err := tx.Create(&iv).Error; err != nil {
		m.logger.Error("Database returned error",
			zap.Error(err),
		)
		return nil, extErrors.Wrap(err, "Cannot open interval")
	}
	return &iv, nil
}

// Close ends the open interval on day, inclusive. It returns (nil, nil) when no
// interval is open.
func (m *Manager) Close(ctx context.Context, staffSubscriptionID uint, day time.Time) (*Interval, error) {
	day = proration.Normalize(day)
	tx := m.db.WithContext(ctx)

	var open Interval
	result := tx.
		Where("staff_subscription_id = ? AND end_date IS NULL", staffSubscriptionID).
		First(&open)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot lookup open interval")
	}
	if day.Before(open.StartDate) {
		day = open.StartDate
	}
	open.EndDate = &day
	if err := tx.Model(&open).Update("end_date", day).Error; err != nil {
		return nil, extErrors.Wrap(err, "Cannot close interval")
	}
	return &open, nil
}

// Overlapping returns every interval of the business sharing at least one day
// with [periodStart, periodEnd], ordered by staff subscription then start.
func (m *Manager) Overlapping(ctx context.Context, businessID string, periodStart, periodEnd time.Time) ([]Interval, error) {
	intervals := make([]Interval, 0, 4)
	result := m.db.WithContext(ctx).
		Where("business_id = ? AND start_date <= ? AND (end_date IS NULL OR end_date >= ?)",
			businessID, proration.Normalize(periodEnd), proration.Normalize(periodStart)).
		Order("staff_subscription_id asc, start_date asc").
		Find(&intervals)
	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot list overlapping intervals")
	}
	return intervals, nil
}

// History returns every interval of a staff subscription, oldest first
func (m *Manager) History(ctx context.Context, staffSubscriptionID uint) ([]Interval, error) {
	intervals := make([]Interval, 0, 2)
	result := m.db.WithContext(ctx).
		Where("staff_subscription_id = ?", staffSubscriptionID).
		Order("start_date asc").
		Find(&intervals)
	if result.Error != nil {
		return nil, extErrors.Wrap(result.Error, "Cannot list interval history")
	}
	return intervals, nil
}

// GroupByOwner splits intervals per staff subscription, preserving order
func GroupByOwner(intervals []Interval) (order []uint, groups map[uint][]Interval) {
	groups = make(map[uint][]Interval)
	for _, iv := range intervals {
		if _, ok := groups[iv.StaffSubscriptionID]; !ok {
			order = append(order, iv.StaffSubscriptionID)
		}
		groups[iv.StaffSubscriptionID] = append(groups[iv.StaffSubscriptionID], iv)
	}
	return
}
