// Package billing orchestrates trials, monthly invoicing, payments, courtesy
// access and suspension for every business on the platform.
package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/zllovesuki/stylo/customer"
	"github.com/zllovesuki/stylo/gateway"
	"github.com/zllovesuki/stylo/invoice"
	"github.com/zllovesuki/stylo/locker"
	"github.com/zllovesuki/stylo/payment"
	"github.com/zllovesuki/stylo/plan"
	"github.com/zllovesuki/stylo/spec"
	"github.com/zllovesuki/stylo/spec/broker"
	"github.com/zllovesuki/stylo/subscription"
	"github.com/zllovesuki/stylo/usage"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var validate = validator.New()

// StaffDirectory is the staff lifecycle collaborator told when a staff member
// may or may not take bookings
type StaffDirectory interface {
	SetStaffActive(ctx context.Context, staffID string, active bool) error
}

type noopDirectory struct{}

func (noopDirectory) SetStaffActive(ctx context.Context, staffID string, active bool) error {
	return nil
}

// Options contains the collaborators and tunables of Service
type Options struct {
	DB            *gorm.DB
	Logger        *zap.Logger
	Plans         *plan.Manager
	Subscriptions *subscription.Manager
	Usage         *usage.Manager
	Customers     *customer.Manager
	Payments      *payment.Manager
	Invoices      *invoice.Manager
	Gateway       gateway.Gateway
	Producer      broker.Producer
	Locker        locker.Locker
	Directory     StaffDirectory   // Optional
	Metrics       *Metrics         // Optional, registered on a private registry when nil
	Now           func() time.Time // Optional, defaults to time.Now

	LockTTL          time.Duration
	BatchConcurrency int
}

// Service is the billing engine
type Service struct {
	Options
}

func NewService(option Options) (*Service, error) {
	if option.DB == nil {
		return nil, fmt.Errorf("nil DB is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.Plans == nil {
		return nil, fmt.Errorf("nil Plans is invalid")
	}
	if option.Subscriptions == nil {
		return nil, fmt.Errorf("nil Subscriptions is invalid")
	}
	if option.Usage == nil {
		return nil, fmt.Errorf("nil Usage is invalid")
	}
	if option.Customers == nil {
		return nil, fmt.Errorf("nil Customers is invalid")
	}
	if option.Payments == nil {
		return nil, fmt.Errorf("nil Payments is invalid")
	}
	if option.Invoices == nil {
		return nil, fmt.Errorf("nil Invoices is invalid")
	}
	if option.Gateway == nil {
		return nil, fmt.Errorf("nil Gateway is invalid")
	}
	if option.Producer == nil {
		return nil, fmt.Errorf("nil Producer is invalid")
	}
	if option.Locker == nil {
		return nil, fmt.Errorf("nil Locker is invalid")
	}
	if option.Directory == nil {
		option.Directory = noopDirectory{}
	}
	if option.Metrics == nil {
		option.Metrics = NewMetrics(prometheus.NewRegistry())
	}
	if option.Now == nil {
		option.Now = time.Now
	}
	if option.LockTTL <= 0 {
		option.LockTTL = 2 * spec.GatewayTimeout
	}
	if option.BatchConcurrency <= 0 {
		option.BatchConcurrency = 4
	}
	return &Service{
		Options: option,
	}, nil
}

func (s *Service) now() time.Time {
	return s.Now().UTC()
}

// withBusinessLock runs fn while holding the lock of the business
func (s *Service) withBusinessLock(ctx context.Context, businessID string, fn func() error) error {
	lock, err := s.Locker.Obtain(ctx, locker.BusinessKey(businessID), s.LockTTL)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(context.Background()); err != nil {
			s.Logger.Warn("Unable to release business lock",
				zap.String("Key", lock.Key()),
				zap.Error(err),
			)
		}
	}()
	return fn()
}

// publish hands the event to the producer. Failures are logged only.
func (s *Service) publish(ctx context.Context, eventType spec.EventType, businessID string, data spec.Parameters) {
	if data == nil {
		data = spec.Parameters{}
	}
	event := spec.Event{
		Type:       eventType,
		BusinessID: businessID,
		OccurredAt: s.now(),
		Data:       data,
	}
	if err := s.Producer.Publish(ctx, event); err != nil {
		s.Metrics.EventsPublished.WithLabelValues(string(eventType), "failed").Inc()
		s.Logger.Warn("Unable to publish billing event",
			zap.String("Type", string(eventType)),
			zap.String("BusinessID", businessID),
			zap.Error(err),
		)
		return
	}
	s.Metrics.EventsPublished.WithLabelValues(string(eventType), "published").Inc()
}

// getBusiness is GetBusiness with a missing row turned into ErrBusinessNotFound
func (s *Service) getBusiness(ctx context.Context, businessID string) (*subscription.Business, error) {
	b, err := s.Subscriptions.GetBusiness(ctx, businessID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, ErrBusinessNotFound
	}
	return b, nil
}

// transition applies a status change inside LambdaUpdate and reports the statuses before and after
func (s *Service) transition(ctx context.Context, subs *subscription.Manager, businessID string, mutate func(b *subscription.Business) bool) (before subscription.Status, after *subscription.Business, err error) {
	after, err = subs.LambdaUpdate(ctx, businessID, func(current, desired *subscription.Business) bool {
		if current == nil {
			return false
		}
		before = current.Status
		return mutate(desired)
	})
	if err != nil {
		return before, nil, err
	}
	if after != nil && after.Status != before {
		s.Metrics.StatusChanges.WithLabelValues(string(after.Status)).Inc()
		s.Logger.Info("Business subscription status changed",
			zap.String("BusinessID", businessID),
			zap.String("From", string(before)),
			zap.String("To", string(after.Status)),
		)
	}
	return before, after, nil
}
