// Package app wires the billing service from configuration, shared by the binaries.
package app

import (
	"fmt"
	"log"
	"time"

	"github.com/zllovesuki/stylo/billing"
	"github.com/zllovesuki/stylo/config"
	"github.com/zllovesuki/stylo/customer"
	"github.com/zllovesuki/stylo/db"
	"github.com/zllovesuki/stylo/gateway"
	"github.com/zllovesuki/stylo/invoice"
	"github.com/zllovesuki/stylo/locker"
	"github.com/zllovesuki/stylo/payment"
	"github.com/zllovesuki/stylo/plan"
	"github.com/zllovesuki/stylo/spec/broker"
	"github.com/zllovesuki/stylo/subscription"
	"github.com/zllovesuki/stylo/usage"

	brokerImpl "github.com/zllovesuki/stylo/broker"

	"github.com/TheZeroSlave/zapsentry"
	"github.com/getsentry/sentry-go"
	"github.com/go-redis/redis/v7"
	extErrors "github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/gorm"
)

// NewLogger returns the structured logger of a binary. Errors are also reported
// to sentry, tagged with component. The returned func flushes sentry.
func NewLogger(env config.Environment, component, version string) (*zap.Logger, func()) {
	var logger *zap.Logger
	var err error

	if env == config.EnvProduction {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("Cannot initialize logger: %v\n", err)
	}
	logger = logger.With(zap.String("Version", version))

	// Initialize sentry for error reporting
	if err := sentry.Init(sentry.ClientOptions{
		Environment: string(env),
		Debug:       env == config.EnvDevelopment,
	}); err != nil {
		logger.Fatal("Cannot initialize sentry",
			zap.Error(err),
		)
	}
	flush := func() {
		sentry.Flush(time.Second * 2)
	}

	// Attach sentry to zap so we can do automatic error capturing
	cfg := zapsentry.Configuration{
		Level: zapcore.ErrorLevel,
		Tags: map[string]string{
			"component": component,
		},
	}
	core, err := zapsentry.NewCore(cfg, zapsentry.NewSentryClientFromClient(sentry.CurrentHub().Client()))
	if err != nil {
		logger.Warn("Cannot attach sentry to logger",
			zap.Error(err),
		)
		return logger, flush
	}
	return zapsentry.AttachCoreToLogger(core, logger), flush
}

// Options contains the configuration for App
type Options struct {
	Config     *config.Config
	Logger     *zap.Logger
	DB         *gorm.DB              // Optional, connects to Config.PostgresURI when nil
	Registerer prometheus.Registerer // Optional, metrics go to a private registry when nil
	Directory  billing.StaffDirectory
	Now        func() time.Time
}

// App holds the backend connections and the billing service built on them
type App struct {
	Options

	Redis    *redis.Client
	Producer broker.Producer
	Gateway  gateway.Gateway
	Service  *billing.Service
}

// New connects to every backend named by the configuration and builds the
// billing service. Redis and AMQP are optional: without them the service uses an
// in-process locker and logs its events.
func New(option Options) (*App, error) {
	if option.Config == nil {
		return nil, fmt.Errorf("nil Config is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	cfg := option.Config
	logger := option.Logger

	var err error
	if option.DB == nil {
		option.DB, err = db.New(db.Options{
			URI:    cfg.PostgresURI,
			Logger: logger,
		})
		if err != nil {
			return nil, extErrors.Wrap(err, "Cannot connect to Postgres")
		}
	}
	a := &App{
		Options: option,
	}

	var lock locker.Locker
	if cfg.RedisURI != "" {
		a.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisURI,
			Password: cfg.RedisPassword,
			DB:       0,
		})
		if _, err := a.Redis.Ping().Result(); err != nil {
			a.Close()
			return nil, extErrors.Wrap(err, "Cannot connect to Redis")
		}
		lock, err = locker.NewRedis(locker.RedisOptions{
			Client: a.Redis,
			Wait:   cfg.LockWait,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
	} else {
		logger.Warn("REDIS_URI is not set, billing locks only hold within this process")
		lock = locker.NewLocal(cfg.LockWait)
	}

	if cfg.AMQPURI != "" {
		a.Producer, err = brokerImpl.NewAMQPProducer(logger, cfg.AMQPURI)
		if err != nil {
			a.Close()
			return nil, err
		}
	} else {
		logger.Warn("AMQP_URI is not set, billing events will only be logged")
		a.Producer = brokerImpl.NewLogProducer(logger)
	}

	a.Gateway, err = gateway.New(gateway.Options{
		Provider:  cfg.PaymentGateway,
		StripeKey: cfg.StripeKey,
		Logger:    logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	if a.Service, err = a.newService(lock); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) newService(lock locker.Locker) (*billing.Service, error) {
	logger := a.Logger
	gdb := a.DB

	planManager, err := plan.NewManager(plan.ManagerOptions{
		DB:             gdb,
		Logger:         logger,
		PathToPlanJSON: a.Config.PlansFile,
	})
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot initialize PlanManager")
	}
	subscriptionManager, err := subscription.NewManager(subscription.ManagerOptions{
		DB:     gdb,
		Logger: logger,
	})
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot initialize SubscriptionManager")
	}
	usageManager, err := usage.NewManager(logger, gdb)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot initialize UsageManager")
	}
	customerManager, err := customer.NewManager(logger, gdb, a.Gateway)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot initialize CustomerManager")
	}
	paymentManager, err := payment.NewManager(payment.ManagerOptions{
		DB:     gdb,
		Logger: logger,
	})
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot initialize PaymentManager")
	}
	invoiceManager, err := invoice.NewManager(invoice.ManagerOptions{
		DB:     gdb,
		Logger: logger,
	})
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot initialize InvoiceManager")
	}

	var metrics *billing.Metrics
	if a.Registerer != nil {
		metrics = billing.NewMetrics(a.Registerer)
	}

	svc, err := billing.NewService(billing.Options{
		DB:            gdb,
		Logger:        logger,
		Plans:         planManager,
		Subscriptions: subscriptionManager,
		Usage:         usageManager,
		Customers:     customerManager,
		Payments:      paymentManager,
		Invoices:      invoiceManager,
		Gateway:       a.Gateway,
		Producer:      a.Producer,
		Locker:        lock,
		Directory:     a.Directory,
		Metrics:       metrics,
		Now:           a.Now,

		LockTTL:          a.Config.LockTTL,
		BatchConcurrency: a.Config.BatchConcurrency,
	})
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot initialize billing Service")
	}
	return svc, nil
}

// Close releases the broker and Redis connections
func (a *App) Close() {
	if a.Producer != nil {
		a.Producer.Close()
	}
	if a.Redis != nil {
		a.Redis.Close()
	}
}
