// Package config reads the environment of the billing binaries.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/zllovesuki/stylo/gateway"
	"github.com/zllovesuki/stylo/spec"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	extErrors "github.com/pkg/errors"
)

var validate = validator.New()

// DefaultLockWait is how long a request waits on a busy business lock
const DefaultLockWait = 10 * time.Second

// Environment names the running environment, selected by ENV
type Environment string

const (
	EnvProduction  Environment = "production"
	EnvDevelopment Environment = "development"
)

// Config is everything the binaries read from the environment
type Config struct {
	Environment Environment `validate:"oneof=production development"`
	PostgresURI string      `validate:"required"`

	// Empty RedisURI uses the in-process locker
	RedisURI      string
	RedisPassword string

	// Empty AMQPURI logs events instead of publishing them
	AMQPURI string

	PaymentGateway gateway.Provider `validate:"oneof=stripe mock"`
	StripeKey      string           `validate:"required_if=PaymentGateway stripe"`

	PlansFile       string
	DefaultTimezone string `validate:"required"`
	APIAddr         string `validate:"required"`
	CORSOrigins     []string

	LockTTL          time.Duration `validate:"gte=0"`
	LockWait         time.Duration `validate:"gte=0"`
	BatchConcurrency int           `validate:"gte=0"`
	SuspensionDryRun bool

	CronTrialSweep      string
	CronMonthlyInvoices string
	CronPendingPayments string
	CronReminders       string
	CronSuspension      string
}

// DotFile returns the dotenv file of the environment selected by ENV
func DotFile() (Environment, string) {
	if Environment(os.Getenv("ENV")) == EnvProduction {
		return EnvProduction, ".env.production"
	}
	return EnvDevelopment, ".env.development"
}

// LoadDotFile loads the dotenv file into the process environment. Variables
// already set take precedence.
func LoadDotFile(filename string) error {
	if err := godotenv.Load(filename); err != nil {
		return extErrors.Wrap(err, "Cannot load configurations from .env")
	}
	return nil
}

// Load reads and validates the configuration from the process environment
func Load() (*Config, error) {
	env, _ := DotFile()
	c := &Config{
		Environment:     env,
		PostgresURI:     os.Getenv("POSTGRES_URI"),
		RedisURI:        os.Getenv("REDIS_URI"),
		RedisPassword:   os.Getenv("REDIS_PW"),
		AMQPURI:         os.Getenv("AMQP_URI"),
		PaymentGateway:  gateway.Provider(getOr("PAYMENT_GATEWAY", string(gateway.ProviderMock))),
		StripeKey:       os.Getenv("STRIPE_KEY"),
		PlansFile:       os.Getenv("PLANS_FILE"),
		DefaultTimezone: getOr("DEFAULT_TIMEZONE", spec.DefaultTimezone),
		APIAddr:         getOr("API_ADDR", ":42069"),
		CORSOrigins:     splitList(os.Getenv("CORS_ORIGINS")),

		CronTrialSweep:      os.Getenv("CRON_TRIAL_SWEEP"),
		CronMonthlyInvoices: os.Getenv("CRON_MONTHLY_INVOICES"),
		CronPendingPayments: os.Getenv("CRON_PENDING_PAYMENTS"),
		CronReminders:       os.Getenv("CRON_PAYMENT_REMINDERS"),
		CronSuspension:      os.Getenv("CRON_SUSPENSION"),
	}

	var err error
	if c.LockTTL, err = getDuration("LOCK_TTL"); err != nil {
		return nil, err
	}
	if c.LockWait, err = getDuration("LOCK_WAIT"); err != nil {
		return nil, err
	}
	if c.LockWait == 0 {
		c.LockWait = DefaultLockWait
	}
	if c.BatchConcurrency, err = getInt("BATCH_CONCURRENCY"); err != nil {
		return nil, err
	}
	if v := os.Getenv("SUSPENSION_DRY_RUN"); v != "" {
		if c.SuspensionDryRun, err = strconv.ParseBool(v); err != nil {
			return nil, extErrors.Wrap(err, "Invalid SUSPENSION_DRY_RUN")
		}
	}
	if _, err := time.LoadLocation(c.DefaultTimezone); err != nil {
		return nil, extErrors.Wrap(err, "Invalid DEFAULT_TIMEZONE")
	}
	if err := validate.Struct(c); err != nil {
		return nil, extErrors.Wrap(err, "Invalid configuration")
	}
	return c, nil
}

// Schedule returns the cron specs overridden through the environment
func (c *Config) Schedule() map[spec.TaskType]string {
	schedule := make(map[spec.TaskType]string)
	for task, cronSpec := range map[spec.TaskType]string{
		spec.TrialSweepTask:      c.CronTrialSweep,
		spec.MonthlyInvoiceTask:  c.CronMonthlyInvoices,
		spec.PendingPaymentTask:  c.CronPendingPayments,
		spec.PaymentReminderTask: c.CronReminders,
		spec.SuspensionTask:      c.CronSuspension,
	} {
		if cronSpec != "" {
			schedule[task] = cronSpec
		}
	}
	return schedule
}

// Location returns the time zone of DefaultTimezone
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.DefaultTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, extErrors.Wrapf(err, "Invalid %s", key)
	}
	return d, nil
}

func getInt(key string) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, extErrors.Wrapf(err, "Invalid %s", key)
	}
	return n, nil
}

func splitList(v string) []string {
	list := make([]string, 0)
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	return list
}
