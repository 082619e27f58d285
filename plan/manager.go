package plan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zllovesuki/stylo/db"
	"github.com/zllovesuki/stylo/proration"
	"github.com/zllovesuki/stylo/spec"

	"github.com/google/uuid"
	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrDuplicateVersion is returned when a version already takes effect on the same day
var ErrDuplicateVersion = errors.New("a plan version with the same effective date exists")

// ManagerOptions contains the configuration for the plan Manager
type ManagerOptions struct {
	DB             *gorm.DB
	Logger         *zap.Logger
	PathToPlanJSON string // Optional seed file with plan versions
}

// Manager resolves the pricing in force at a point in time
type Manager struct {
	ManagerOptions
}

// NewManager returns a plan Manager, migrating the table and seeding the versions
// from PathToPlanJSON when it is set.
func NewManager(option ManagerOptions) (*Manager, error) {
	if option.DB == nil {
		return nil, fmt.Errorf("nil DB is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if err := option.DB.AutoMigrate(&Plan{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initilize plan.Manager")
	}
	m := &Manager{
		ManagerOptions: option,
	}
	if option.PathToPlanJSON != "" {
		plans, err := loadPlansFromFile(option.PathToPlanJSON)
		if err != nil {
			return nil, err
		}
		if err := m.sync(context.Background(), plans); err != nil {
			return nil, extErrors.Wrap(err, "Cannot synchronize plans into database")
		}
	}
	return m, nil
}

// sync inserts versions from the seed file that are not in the database yet
func (m *Manager) sync(ctx context.Context, plans []Plan) error {
	for _, p := range plans {
		existing, err := m.getByEffectiveDate(ctx, p.EffectiveFrom)
		if err != nil {
			return err
		}
		if existing != nil {
			if existing.Retired != p.Retired {
				// retiring is the only edit allowed on a published version
				if err := m.Retire(ctx, existing.ID, p.Retired); err != nil {
					return err
				}
			}
			continue
		}
		if _, err := m.Publish(ctx, p); err != nil {
			return err
		}
		m.Logger.Info("Plan version published from file",
			zap.String("Name", p.Name),
			zap.Time("EffectiveFrom", p.EffectiveFrom),
		)
	}
	return nil
}

// Publish stores a new plan version and returns it with its ID populated.
// Older versions stay untouched and keep applying to dates before EffectiveFrom.
func (m *Manager) Publish(ctx context.Context, p Plan) (*Plan, error) {
	if p.Name == "" {
		return nil, fmt.Errorf("empty plan name is invalid")
	}
	if p.PricePerStaffMonth.IsNegative() {
		return nil, fmt.Errorf("negative price is invalid")
	}
	if p.TrialDays < 0 {
		return nil, fmt.Errorf("negative trial days is invalid")
	}
	if p.Currency == "" {
		p.Currency = spec.DefaultCurrency
	}
	if p.EffectiveFrom.IsZero() {
		return nil, fmt.Errorf("zero effective date is invalid")
	}
	p.ID = uuid.New().String()
	p.EffectiveFrom = proration.Normalize(p.EffectiveFrom)
	p.PricePerStaffMonth = p.PricePerStaffMonth.Round(proration.MoneyPlaces)

	result := m.DB.WithContext(ctx).Create(&p)
	if db.IsDuplicate(result.Error) {
		return nil, ErrDuplicateVersion
	}
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot publish plan version")
	}
	return &p, nil
}

// Retire flags a version so lookups skip it
func (m *Manager) Retire(ctx context.Context, id string, retired bool) error {
	result := m.DB.WithContext(ctx).
		Model(&Plan{}).
		Where("id = ?", id).
		UpdateColumn("retired", retired)
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot retire plan version")
	}
	return nil
}

// GetPlanEffectiveAt returns the newest non-retired version whose EffectiveFrom is
// on or before date. It returns (nil, nil) if no version applies.
func (m *Manager) GetPlanEffectiveAt(ctx context.Context, date time.Time) (*Plan, error) {
	var p Plan
	result := m.DB.WithContext(ctx).
		Where("retired = ? AND effective_from <= ?", false, proration.Normalize(date)).
		Order("effective_from desc").
		First(&p)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot lookup effective plan")
	}
	return &p, nil
}

// Get returns the version by ID, or (nil, nil) if it does not exist
func (m *Manager) Get(ctx context.Context, id string) (*Plan, error) {
	var p Plan
	result := m.DB.WithContext(ctx).First(&p, "id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		return nil, extErrors.Wrap(result.Error, "Cannot lookup plan")
	}
	return &p, nil
}

// List returns every version, newest first
func (m *Manager) List(ctx context.Context) ([]Plan, error) {
	plans := make([]Plan, 0, 2)
	result := m.DB.WithContext(ctx).Order("effective_from desc").Find(&plans)
	if result.Error != nil {
		return nil, extErrors.Wrap(result.Error, "Cannot list plans")
	}
	return plans, nil
}

func (m *Manager) getByEffectiveDate(ctx context.Context, date time.Time) (*Plan, error) {
	var p Plan
	result := m.DB.WithContext(ctx).First(&p, "effective_from = ?", proration.Normalize(date))
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		return nil, extErrors.Wrap(result.Error, "Cannot lookup plan by effective date")
	}
	return &p, nil
}
