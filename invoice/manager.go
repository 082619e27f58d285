package invoice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zllovesuki/stylo/db"
	"github.com/zllovesuki/stylo/proration"

	"github.com/google/uuid"
	extErrors "github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrImmutable is returned when a write targets a paid invoice
var ErrImmutable = errors.New("paid invoice cannot be modified")

type ManagerOptions struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

// Manager persists invoices and their line items
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
	if err := option.DB.AutoMigrate(&Invoice{}, &LineItem{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initilize invoice.Manager")
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

// Create inserts the invoice together with its line items. An invoice without
// line items is refused. A duplicate period is returned as is, test it with db.IsDuplicate.
func (m *Manager) Create(ctx context.Context, inv *Invoice) error {
	if len(inv.LineItems) == 0 {
		return fmt.Errorf("invoice without line items is invalid")
	}
	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}
	inv.PeriodStart = proration.Normalize(inv.PeriodStart)
	inv.PeriodEnd = proration.Normalize(inv.PeriodEnd)
	inv.DueDate = proration.Normalize(inv.DueDate)
	for k := range inv.LineItems {
		inv.LineItems[k].InvoiceID = inv.ID
	}
	result := m.DB.WithContext(ctx).Create(inv)
	if db.IsDuplicate(result.Error) {
		return result.Error
	}
	if result.Error != nil {
		m.Logger.Error("Unable to create invoice in database",
			zap.String("BusinessID", inv.BusinessID),
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot create invoice")
	}
	return nil
}

// Get returns the invoice with its line items, or (nil, nil)
func (m *Manager) Get(ctx context.Context, id string) (*Invoice, error) {
	var inv Invoice
	result := m.DB.WithContext(ctx).
		Preload("LineItems", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("id asc")
		}).
		First(&inv, "id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot lookup invoice")
	}
	return &inv, nil
}

// GetForUpdate returns the invoice without line items and locks its row, for use inside a transaction
func (m *Manager) GetForUpdate(ctx context.Context, id string) (*Invoice, error) {
	var inv Invoice
	result := db.ForUpdate(m.DB.WithContext(ctx)).First(&inv, "id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		return nil, extErrors.Wrap(result.Error, "Cannot lock invoice")
	}
	return &inv, nil
}

// Exists reports whether the business already has an invoice for the period
func (m *Manager) Exists(ctx context.Context, businessID string, periodStart, periodEnd time.Time) (bool, error) {
	var count int64
	result := m.DB.WithContext(ctx).
		Model(&Invoice{}).
		Where("business_id = ? AND period_start = ? AND period_end = ?",
			businessID, proration.Normalize(periodStart), proration.Normalize(periodEnd)).
		Count(&count)
	if result.Error != nil {
		return false, extErrors.Wrap(result.Error, "Cannot check invoice existence")
	}
	return count > 0, nil
}

// Save updates an invoice. An invoice already stored as paid is refused with ErrImmutable.
func (m *Manager) Save(ctx context.Context, inv *Invoice) error {
	tx := m.DB.WithContext(ctx)
	var stored Invoice
	if err := tx.Select("status").First(&stored, "id = ?", inv.ID).Error; err != nil {
		return extErrors.Wrap(err, "Cannot lookup invoice")
	}
	if stored.Status == StatusPaid {
		return ErrImmutable
	}
	if result := tx.Omit("LineItems").Save(inv); result.Error != nil {
		m.Logger.Error("Unable to save invoice in database",
			zap.String("InvoiceID", inv.ID),
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot save invoice")
	}
	return nil
}

// ListByBusiness returns the newest invoices of the business first
func (m *Manager) ListByBusiness(ctx context.Context, businessID string, limit int, statuses ...Status) ([]Invoice, error) {
	query := m.DB.WithContext(ctx).Where("business_id = ?", businessID)
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	invoices := make([]Invoice, 0, 4)
	if result := query.Order("period_start desc").Find(&invoices); result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot list invoices")
	}
	return invoices, nil
}

// ListPendingDue returns pending invoices due on or before today
func (m *Manager) ListPendingDue(ctx context.Context, today time.Time) ([]Invoice, error) {
	invoices := make([]Invoice, 0, 8)
	result := m.DB.WithContext(ctx).
		Where("status = ? AND due_date <= ?", StatusPending, proration.Normalize(today)).
		Order("due_date asc").
		Find(&invoices)
	if result.Error != nil {
		return nil, extErrors.Wrap(result.Error, "Cannot list pending invoices")
	}
	return invoices, nil
}

// ListOverdue returns outstanding invoices due strictly before the cutoff
func (m *Manager) ListOverdue(ctx context.Context, before time.Time) ([]Invoice, error) {
	invoices := make([]Invoice, 0, 8)
	result := m.DB.WithContext(ctx).
		Where("status IN ? AND due_date < ?", Outstanding, proration.Normalize(before)).
		Order("business_id asc, due_date asc").
		Find(&invoices)
	if result.Error != nil {
		return nil, extErrors.Wrap(result.Error, "Cannot list overdue invoices")
	}
	return invoices, nil
}

// ListDueOn returns invoices in one of statuses that are due on day
func (m *Manager) ListDueOn(ctx context.Context, day time.Time, statuses ...Status) ([]Invoice, error) {
	if len(statuses) == 0 {
		statuses = Outstanding
	}
	invoices := make([]Invoice, 0, 8)
	result := m.DB.WithContext(ctx).
		Where("status IN ? AND due_date = ?", statuses, proration.Normalize(day)).
		Order("business_id asc").
		Find(&invoices)
	if result.Error != nil {
		return nil, extErrors.Wrap(result.Error, "Cannot list invoices due on date")
	}
	return invoices, nil
}

// PendingAmount sums the totals of the outstanding invoices of the business
func (m *Manager) PendingAmount(ctx context.Context, businessID string) (decimal.Decimal, error) {
	invoices, err := m.ListByBusiness(ctx, businessID, 0, Outstanding...)
	if err != nil {
		return decimal.Zero, err
	}
	sum := decimal.Zero
	for _, inv := range invoices {
		sum = sum.Add(inv.Total)
	}
	return sum.Round(proration.MoneyPlaces), nil
}
