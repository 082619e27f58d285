package customer

import (
	"context"
	"errors"
	"fmt"

	"github.com/zllovesuki/stylo/db"
	"github.com/zllovesuki/stylo/gateway"
	"github.com/zllovesuki/stylo/subscription"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Manager handles the database operations relating to Customers
type Manager struct {
	db      *gorm.DB
	logger  *zap.Logger
	gateway gateway.Gateway
}

// NewManager returns a new Manager for customers
func NewManager(logger *zap.Logger, db *gorm.DB, gw gateway.Gateway) (*Manager, error) {
	if gw == nil {
		return nil, fmt.Errorf("nil Gateway is invalid")
	}
	if err := db.AutoMigrate(&Customer{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initilize customer.Manager")
	}
	return &Manager{
		db:      db,
		logger:  logger,
		gateway: gw,
	}, nil
}

// EnsureCustomer returns the gateway customer of the business, creating the
// customer profile at the gateway and in the database on first use
func (m *Manager) EnsureCustomer(ctx context.Context, profile subscription.Profile) (*Customer, error) {
	existing, err := m.GetByBusiness(ctx, profile.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	id, err := m.gateway.CreateOrGetCustomer(ctx, gateway.CustomerParams{
		BusinessID: profile.ID,
		Email:      profile.Email,
		Name:       profile.Name,
		Phone:      profile.Phone,
	})
	if err != nil {
		m.logger.Error("Gateway returned error",
			zap.String("BusinessID", profile.ID),
			zap.Error(err),
		)
		return nil, extErrors.Wrap(err, "Cannot create a new Customer")
	}

	newCustomer := &Customer{
		BusinessID:        profile.ID,
		GatewayCustomerID: id,
		Email:             profile.Email,
	}

	result := m.db.WithContext(ctx).Create(newCustomer)
	if db.IsDuplicate(result.Error) {
		return m.GetByBusiness(ctx, profile.ID)
	}
	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot create a New Customer")
	}

	return newCustomer, nil
}

// GetByBusiness will try to return the customer in the database by business id
func (m *Manager) GetByBusiness(ctx context.Context, businessID string) (*Customer, error) {
	var cust Customer

	result := m.db.WithContext(ctx).First(&cust, "business_id = ?", businessID)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get customer by business id")
	}

	return &cust, nil
}

// GetByEmail will try to return the customer in the database by email address
func (m *Manager) GetByEmail(ctx context.Context, email string) (*Customer, error) {
	var cust Customer

	result := m.db.WithContext(ctx).First(&cust, "email = ?", email)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get customer by email")
	}

	return &cust, nil
}
