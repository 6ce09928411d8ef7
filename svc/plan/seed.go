package plan

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

type seedFile struct {
	Plans []seedPlan `yaml:"plans"`
}

type seedPlan struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	Tier         Tier     `yaml:"tier"`
	MonthlyPrice int64    `yaml:"monthly_price"`
	YearlyPrice  int64    `yaml:"yearly_price"`
	Currency     string   `yaml:"currency"`
	Limits       Limits   `yaml:"limits"`
	Features     []string `yaml:"features"`
	TrialDays    int      `yaml:"trial_days"`
	Inactive     bool     `yaml:"inactive"`
}

// LoadSeedFile reads plan definitions from a YAML file.
func LoadSeedFile(path string) ([]Plan, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Join(ErrInvalidSeed, err)
	}
	defer f.Close()
	return ParseSeed(f)
}

// ParseSeed decodes YAML of the form:
//
//	plans:
//	  - id: basic
//	    tier: basic
//	    monthly_price: 1900
//	    limits: {max_students: 100, max_storage_mb: unlimited}
func ParseSeed(r io.Reader) ([]Plan, error) {
	var sf seedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&sf); err != nil {
		return nil, errors.Join(ErrInvalidSeed, err)
	}

	plans := make([]Plan, 0, len(sf.Plans))
	seen := make(map[string]bool, len(sf.Plans))
	for _, sp := range sf.Plans {
		if seen[sp.ID] {
			return nil, fmt.Errorf("%w: duplicate plan id %q", ErrInvalidSeed, sp.ID)
		}
		seen[sp.ID] = true

		currency := sp.Currency
		if currency == "" {
			currency = "USD"
		}
		p := Plan{
			ID:           sp.ID,
			Name:         sp.Name,
			Tier:         sp.Tier,
			MonthlyPrice: sp.MonthlyPrice,
			YearlyPrice:  sp.YearlyPrice,
			Currency:     currency,
			Limits:       sp.Limits,
			Features:     sp.Features,
			TrialDays:    sp.TrialDays,
			IsActive:     !sp.Inactive,
		}
		if err := p.Validate(); err != nil {
			return nil, errors.Join(ErrInvalidSeed, err)
		}
		plans = append(plans, p)
	}
	return plans, nil
}
