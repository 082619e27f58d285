package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/zllovesuki/stylo/db"

	"github.com/google/uuid"
	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const promoteOrder = "CASE WHEN method_type = 'card' THEN 0 ELSE 1 END, created_at desc"

type ManagerOptions struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

// Manager persists payment methods and payment attempts
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
	if err := option.DB.AutoMigrate(&Method{}, &Payment{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initilize payment.Manager")
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

// AddMethod stores a new active method. The first active method of a business,
// or any method added with setDefault, becomes the default.
func (m *Manager) AddMethod(ctx context.Context, method *Method, setDefault bool) error {
	if method.BusinessID == "" {
		return fmt.Errorf("empty business ID is invalid")
	}
	if method.ID == "" {
		method.ID = uuid.New().String()
	}
	method.IsActive = true
	err := m.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var active int64
		if err := tx.Model(&Method{}).
			Where("business_id = ? AND is_active = ?", method.BusinessID, true).
			Count(&active).Error; err != nil {
			return err
		}
		method.IsDefault = setDefault || active == 0
		if method.IsDefault {
			if err := unsetDefault(tx, method.BusinessID); err != nil {
				return err
			}
		}
		return tx.Create(method).Error
	})
	if err != nil {
		m.Logger.Error("Unable to save payment method in database",
			zap.String("BusinessID", method.BusinessID),
			zap.Error(err),
		)
		return extErrors.Wrap(err, "Cannot add payment method")
	}
	return nil
}

// SetDefault marks an active method as the default and unmarks its siblings.
// It returns (nil, nil) if the method does not exist or is inactive.
func (m *Manager) SetDefault(ctx context.Context, businessID, methodID string) (*Method, error) {
	var method Method
	var found bool
	err := m.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := db.ForUpdate(tx).
			Where("id = ? AND business_id = ? AND is_active = ?", methodID, businessID, true).
			First(&method)
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil
		}
		if result.Error != nil {
			return result.Error
		}
		found = true
		if err := unsetDefault(tx, businessID); err != nil {
			return err
		}
		method.IsDefault = true
		return tx.Model(&method).Update("is_default", true).Error
	})
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot set default payment method")
	}
	if !found {
		return nil, nil
	}
	return &method, nil
}

// Deactivate soft deletes a method. If it was the default, another active method
// is promoted, preferring cards, newest first. It returns (nil, nil) if the
// method does not exist.
func (m *Manager) Deactivate(ctx context.Context, businessID, methodID string) (*Method, error) {
	var method Method
	var found bool
	err := m.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := db.ForUpdate(tx).
			Where("id = ? AND business_id = ?", methodID, businessID).
			First(&method)
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil
		}
		if result.Error != nil {
			return result.Error
		}
		found = true
		wasDefault := method.IsDefault
		method.IsActive = false
		method.IsDefault = false
		if err := tx.Model(&method).Updates(map[string]interface{}{
			"is_active":  false,
			"is_default": false,
		}).Error; err != nil {
			return err
		}
		if wasDefault {
			_, err := promote(tx, businessID)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot deactivate payment method")
	}
	if !found {
		return nil, nil
	}
	return &method, nil
}

// PromoteDefault makes the preferred active method the default when the business
// has none. It returns the default afterwards, or (nil, nil).
func (m *Manager) PromoteDefault(ctx context.Context, businessID string) (*Method, error) {
	var promoted *Method
	err := m.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current Method
		result := tx.Where("business_id = ? AND is_active = ? AND is_default = ?", businessID, true, true).First(&current)
		if result.Error == nil {
			promoted = &current
			return nil
		}
		if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return result.Error
		}
		var err error
		promoted, err = promote(tx, businessID)
		return err
	})
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot promote default payment method")
	}
	return promoted, nil
}

func unsetDefault(tx *gorm.DB, businessID string) error {
	return tx.Model(&Method{}).
		Where("business_id = ? AND is_default = ?", businessID, true).
		Update("is_default", false).Error
}

func promote(tx *gorm.DB, businessID string) (*Method, error) {
	var next Method
	result := tx.
		Where("business_id = ? AND is_active = ?", businessID, true).
		Order(promoteOrder).
		First(&next)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		return nil, result.Error
	}
	next.IsDefault = true
	if err := tx.Model(&next).Update("is_default", true).Error; err != nil {
		return nil, err
	}
	return &next, nil
}

// Get returns a method of the business in any state, or (nil, nil)
func (m *Manager) Get(ctx context.Context, businessID, methodID string) (*Method, error) {
	var method Method
	result := m.DB.WithContext(ctx).
		Where("id = ? AND business_id = ?", methodID, businessID).
		First(&method)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot lookup payment method")
	}
	return &method, nil
}

// GetDefault returns the active default method of the business, or (nil, nil)
func (m *Manager) GetDefault(ctx context.Context, businessID string) (*Method, error) {
	var method Method
	result := m.DB.WithContext(ctx).
		Where("business_id = ? AND is_active = ? AND is_default = ?", businessID, true, true).
		First(&method)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot lookup default payment method")
	}
	return &method, nil
}

// GetCourtesyMethod returns the newest courtesy method of the business in any state, or (nil, nil)
func (m *Manager) GetCourtesyMethod(ctx context.Context, businessID string) (*Method, error) {
	var method Method
	result := m.DB.WithContext(ctx).
		Where("business_id = ? AND method_type = ?", businessID, MethodCourtesy).
		Order("created_at desc").
		First(&method)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		return nil, extErrors.Wrap(result.Error, "Cannot lookup courtesy payment method")
	}
	return &method, nil
}

// EnsureCourtesyDefault makes sure the business has an active courtesy method and
// that it is the default
func (m *Manager) EnsureCourtesyDefault(ctx context.Context, businessID string) (*Method, error) {
	existing, err := m.GetCourtesyMethod(ctx, businessID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		method := &Method{
			BusinessID: businessID,
			MethodType: MethodCourtesy,
		}
		if err := m.AddMethod(ctx, method, true); err != nil {
			return nil, err
		}
		return method, nil
	}
	if !existing.IsActive {
		if err := m.DB.WithContext(ctx).Model(existing).Update("is_active", true).Error; err != nil {
			return nil, extErrors.Wrap(err, "Cannot reactivate courtesy payment method")
		}
		existing.IsActive = true
	}
	return m.SetDefault(ctx, businessID, existing.ID)
}

// List returns the active methods of the business, default first, then newest
func (m *Manager) List(ctx context.Context, businessID string) ([]Method, error) {
	methods := make([]Method, 0, 2)
	result := m.DB.WithContext(ctx).
		Where("business_id = ? AND is_active = ?", businessID, true).
		Order("is_default desc, created_at desc").
		Find(&methods)
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot list payment methods")
	}
	return methods, nil
}

// CountActive counts the active methods of the business
func (m *Manager) CountActive(ctx context.Context, businessID string) (int64, error) {
	var count int64
	result := m.DB.WithContext(ctx).
		Model(&Method{}).
		Where("business_id = ? AND is_active = ?", businessID, true).
		Count(&count)
	if result.Error != nil {
		return 0, extErrors.Wrap(result.Error, "Cannot count payment methods")
	}
	return count, nil
}

// CreatePayment inserts a payment attempt
func (m *Manager) CreatePayment(ctx context.Context, p *Payment) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.GatewayResponse == nil {
		p.GatewayResponse = map[string]string{}
	}
	if result := m.DB.WithContext(ctx).Create(p); result.Error != nil {
		m.Logger.Error("Unable to create payment in database",
			zap.String("InvoiceID", p.InvoiceID),
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot create payment")
	}
	return nil
}

// UpdatePayment persists the outcome of a payment attempt
func (m *Manager) UpdatePayment(ctx context.Context, p *Payment) error {
	if result := m.DB.WithContext(ctx).Save(p); result.Error != nil {
		m.Logger.Error("Unable to update payment in database",
			zap.String("PaymentID", p.ID),
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot update payment")
	}
	return nil
}

// ListPayments returns the attempts of an invoice, oldest first
func (m *Manager) ListPayments(ctx context.Context, invoiceID string) ([]Payment, error) {
	payments := make([]Payment, 0, 2)
	result := m.DB.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("created_at asc").
		Find(&payments)
	if result.Error != nil {
		return nil, extErrors.Wrap(result.Error, "Cannot list payments")
	}
	return payments, nil
}

// HasSucceeded reports whether the invoice already has a succeeded payment
func (m *Manager) HasSucceeded(ctx context.Context, invoiceID string) (bool, error) {
	var count int64
	result := m.DB.WithContext(ctx).
		Model(&Payment{}).
		Where("invoice_id = ? AND status = ?", invoiceID, StatusSucceeded).
		Count(&count)
	if result.Error != nil {
		return false, extErrors.Wrap(result.Error, "Cannot count payments")
	}
	return count > 0, nil
}

// GetSucceeded returns the succeeded attempt of an invoice, or (nil, nil)
func (m *Manager) GetSucceeded(ctx context.Context, invoiceID string) (*Payment, error) {
	var p Payment
	result := m.DB.WithContext(ctx).
		Where("invoice_id = ? AND status = ?", invoiceID, StatusSucceeded).
		Order("created_at asc").
		Limit(1).
		Find(&p)
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.String("InvoiceID", invoiceID),
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot lookup succeeded payment")
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &p, nil
}
