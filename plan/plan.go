package plan

import (
	"encoding/json"
	"io/ioutil"
	"time"

	"github.com/zllovesuki/stylo/spec"

	extErrors "github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Plan is one version of the per-staff pricing. A version is never edited once it
// takes effect; price changes are published as a new version.
type Plan struct {
	ID                 string          `json:"id" gorm:"primaryKey"`
	Name               string          `json:"name" gorm:"not null"`
	PricePerStaffMonth decimal.Decimal `json:"pricePerStaffMonth" gorm:"type:numeric(12,2);not null"`
	TrialDays          int             `json:"trialDays" gorm:"not null"`
	Currency           string          `json:"currency" gorm:"not null;default:'PEN'"`
	EffectiveFrom      time.Time       `json:"effectiveFrom" gorm:"not null;uniqueIndex"` // First day this version applies, inclusive
	Retired            bool            `json:"retired" gorm:"not null;default:false"`     // Retired versions are never returned by lookups
	CreatedAt          time.Time       `json:"createdAt"`
}

// fileEntry is the shape of one version in the plans JSON file
type fileEntry struct {
	Name               string `json:"name"`
	PricePerStaffMonth string `json:"pricePerStaffMonth"`
	TrialDays          *int   `json:"trialDays"`
	Currency           string `json:"currency"`
	EffectiveFrom      string `json:"effectiveFrom"` // YYYY-MM-DD
	Retired            bool   `json:"retired"`
}

// loadPlansFromFile will read from the plan JSON file to define the plan versions.
// IDs are assigned when the versions are synchronized into the database.
// Note, to change the price, append a new version with a later effectiveFrom,
// do not edit the existing one.
func loadPlansFromFile(filename string) ([]Plan, error) {
	jsonBytes, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot open plans JSON file")
	}
	entries := make([]fileEntry, 0, 1)
	if err := json.Unmarshal(jsonBytes, &entries); err != nil {
		return nil, extErrors.Wrap(err, "Invalid plan JSON file")
	}
	plans := make([]Plan, 0, len(entries))
	for _, e := range entries {
		p, err := e.toPlan()
		if err != nil {
			return nil, extErrors.Wrapf(err, "Invalid plan \"%s\" in JSON file", e.Name)
		}
		plans = append(plans, p)
	}
	return plans, nil
}

func (e fileEntry) toPlan() (Plan, error) {
	price, err := decimal.NewFromString(e.PricePerStaffMonth)
	if err != nil {
		return Plan{}, extErrors.Wrap(err, "Cannot parse pricePerStaffMonth")
	}
	from, err := time.Parse("2006-01-02", e.EffectiveFrom)
	if err != nil {
		return Plan{}, extErrors.Wrap(err, "Cannot parse effectiveFrom")
	}
	p := Plan{
		Name:               e.Name,
		PricePerStaffMonth: price,
		Currency:           e.Currency,
		EffectiveFrom:      from,
		Retired:            e.Retired,
	}
	if e.TrialDays != nil {
		p.TrialDays = *e.TrialDays
	} else {
		p.TrialDays = spec.DefaultTrialDays
	}
	return p, nil
}
