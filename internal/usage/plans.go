package usage

import (
	"fmt"
	"strings"
)

// PlanKey identifies a plan tier.
type PlanKey string

const (
	PlanFree  PlanKey = "FREE"
	PlanTrial PlanKey = "TRIAL"
	PlanPro   PlanKey = "PRO"
)

// PeriodKind selects how a plan's accounting window is computed.
type PeriodKind string

const (
	PeriodMonthly PeriodKind = "monthly"
	PeriodTrial   PeriodKind = "trial"
)

// PlanConfig is one row of the static plan table.
type PlanConfig struct {
	Key          PlanKey    `json:"key"`
	Name         string     `json:"name"`
	Description  string     `json:"description"`
	MonthlyLimit int        `json:"monthlyLimit"`
	Period       PeriodKind `json:"period"`
	TrialDays    int        `json:"trialDays,omitempty"`
}

// CatalogOptions overrides the built-in limits at startup.
type CatalogOptions struct {
	DefaultPlan PlanKey
	PaidPlan    PlanKey
	FreeLimit   int
	TrialLimit  int
	ProLimit    int
	TrialDays   int
}

// DefaultCatalogOptions returns the limits the product ships with.
func DefaultCatalogOptions() CatalogOptions {
	return CatalogOptions{
		DefaultPlan: PlanFree,
		PaidPlan:    PlanPro,
		FreeLimit:   10,
		TrialLimit:  20,
		ProLimit:    500,
		TrialDays:   7,
	}
}

// Catalog is the immutable plan table plus the keys the resolver falls back to.
type Catalog struct {
	plans       map[PlanKey]PlanConfig
	defaultPlan PlanKey
	paidPlan    PlanKey
}

// NewCatalog builds and validates the plan table.
func NewCatalog(opts CatalogOptions) (*Catalog, error) {
	plans := map[PlanKey]PlanConfig{
		PlanFree: {
			Key:          PlanFree,
			Name:         "Безплатен",
			Description:  "Free tier with a small monthly allowance of VAT questions.",
			MonthlyLimit: opts.FreeLimit,
			Period:       PeriodMonthly,
		},
		PlanTrial: {
			Key:          PlanTrial,
			Name:         "Пробен период",
			Description:  "One-off trial window starting at sign-up.",
			MonthlyLimit: opts.TrialLimit,
			Period:       PeriodTrial,
			TrialDays:    opts.TrialDays,
		},
		PlanPro: {
			Key:          PlanPro,
			Name:         "Професионален",
			Description:  "Paid subscription for accountants and small businesses.",
			MonthlyLimit: opts.ProLimit,
			Period:       PeriodMonthly,
		},
	}

	for key, p := range plans {
		if p.MonthlyLimit < 0 {
			return nil, fmt.Errorf("plan %s: monthly limit must be >= 0, got %d", key, p.MonthlyLimit)
		}
		if p.Period == PeriodTrial && p.TrialDays < 1 {
			return nil, fmt.Errorf("plan %s: trial days must be >= 1, got %d", key, p.TrialDays)
		}
	}

	c := &Catalog{plans: plans, defaultPlan: opts.DefaultPlan, paidPlan: opts.PaidPlan}
	if _, ok := c.plans[c.defaultPlan]; !ok {
		return nil, fmt.Errorf("default plan %q is not in the plan table", c.defaultPlan)
	}
	if _, ok := c.plans[c.paidPlan]; !ok {
		return nil, fmt.Errorf("paid plan %q is not in the plan table", c.paidPlan)
	}
	return c, nil
}

// Get returns the plan for key.
func (c *Catalog) Get(key PlanKey) (PlanConfig, bool) {
	p, ok := c.plans[key]
	return p, ok
}

// Parse normalizes a stored plan name into a known key.
func (c *Catalog) Parse(s string) (PlanKey, bool) {
	key := PlanKey(strings.ToUpper(strings.TrimSpace(s)))
	_, ok := c.plans[key]
	return key, ok
}

// Default is the plan for users with neither override nor subscription.
func (c *Catalog) Default() PlanConfig { return c.plans[c.defaultPlan] }

// Paid is the plan granted by an active subscription.
func (c *Catalog) Paid() PlanConfig { return c.plans[c.paidPlan] }

// All returns the plans from cheapest to most generous tier.
func (c *Catalog) All() []PlanConfig {
	out := make([]PlanConfig, 0, len(c.plans))
	for _, k := range []PlanKey{PlanFree, PlanTrial, PlanPro} {
		out = append(out, c.plans[k])
	}
	return out
}
