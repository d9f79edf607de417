// Package esim implements the eSIM customer-service demo: the plan
// catalog, the demo tools, the agent runner with guardrails, and the
// evaluation scorers.
package esim

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// durationTiers are the plan durations sold, in days.
var durationTiers = []int{1, 3, 7, 15, 30}

// maxPlanDays is the longest plan duration; longer trips clamp to it.
const maxPlanDays = 30

// Plan is one purchasable eSIM plan.
type Plan struct {
	Days   int     `yaml:"days" json:"days"`
	DataGB float64 `yaml:"data_gb" json:"data_gb"`
	Price  float64 `yaml:"price" json:"price"`
}

// LocalEntry is a single-country product line.
type LocalEntry struct {
	Region string `yaml:"region"`
	Plans  []Plan `yaml:"plans"`
}

// RegionalEntry is a multi-country product line within one region.
type RegionalEntry struct {
	Countries []string `yaml:"countries"`
	Plans     []Plan   `yaml:"plans"`
}

// GlobalEntry is a worldwide product line.
type GlobalEntry struct {
	Coverage string `yaml:"coverage"`
	Plans    []Plan `yaml:"plans"`
}

// Catalog holds every plan the demo can sell, keyed by country, region,
// and global product name.
type Catalog struct {
	Local    map[string]LocalEntry    `yaml:"local"`
	Regional map[string]RegionalEntry `yaml:"regional"`
	Global   map[string]GlobalEntry   `yaml:"global"`
}

// LoadCatalog reads a plan catalog from a YAML file.
func LoadCatalog(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("parsing catalog %s: %w", path, err)
	}
	return &c, nil
}

// ClosestPlanDuration maps a trip length to the smallest sold duration
// tier that covers it. Trips longer than the largest tier clamp to it;
// a request below one day is an error.
func ClosestPlanDuration(days int) (int, error) {
	if days < 1 {
		return 0, fmt.Errorf("trip length must be at least 1 day, got %d", days)
	}
	for _, tier := range durationTiers {
		if tier >= days {
			return tier, nil
		}
	}
	return maxPlanDays, nil
}

// PlanOption is one plan offered for a search, with the product line it
// comes from.
type PlanOption struct {
	Type      string   `json:"type"`
	Name      string   `json:"name"`
	Countries []string `json:"countries,omitempty"`
	Plan      Plan     `json:"plan"`
}

// SearchOutcome is the result of a plan search.
type SearchOutcome struct {
	Countries     []string     `json:"countries"`
	RequestedDays int          `json:"requested_days"`
	PlanDays      int          `json:"plan_days"`
	Options       []PlanOption `json:"options"`
}

// FindPlans resolves destinations to plan options. A single country gets
// its local plan plus the regional plan for its region as an alternative.
// Multiple countries in one region get the regional plan; countries
// spanning regions get the global products.
func (c *Catalog) FindPlans(countries []string, days int) (*SearchOutcome, error) {
	if len(countries) == 0 {
		return nil, fmt.Errorf("at least one destination country is required")
	}

	tier, err := ClosestPlanDuration(days)
	if err != nil {
		return nil, err
	}

	outcome := &SearchOutcome{Countries: countries, RequestedDays: days, PlanDays: tier}

	regions := map[string]bool{}
	for _, country := range countries {
		entry, ok := c.Local[country]
		if !ok {
			return nil, fmt.Errorf("no plans cover %q", country)
		}
		regions[entry.Region] = true
	}

	if len(countries) == 1 {
		country := countries[0]
		entry := c.Local[country]
		if plan, ok := planForDuration(entry.Plans, tier); ok {
			outcome.Options = append(outcome.Options, PlanOption{
				Type:      "local",
				Name:      country,
				Countries: []string{country},
				Plan:      plan,
			})
		}
		if regional, ok := c.Regional[entry.Region]; ok {
			if plan, ok := planForDuration(regional.Plans, tier); ok {
				outcome.Options = append(outcome.Options, PlanOption{
					Type:      "regional",
					Name:      entry.Region,
					Countries: regional.Countries,
					Plan:      plan,
				})
			}
		}
	} else if len(regions) == 1 {
		var region string
		for r := range regions {
			region = r
		}
		regional, ok := c.Regional[region]
		if !ok {
			return nil, fmt.Errorf("no regional plan for %q", region)
		}
		if plan, ok := planForDuration(regional.Plans, tier); ok {
			outcome.Options = append(outcome.Options, PlanOption{
				Type:      "regional",
				Name:      region,
				Countries: regional.Countries,
				Plan:      plan,
			})
		}
	} else {
		names := make([]string, 0, len(c.Global))
		for name := range c.Global {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if plan, ok := planForDuration(c.Global[name].Plans, tier); ok {
				outcome.Options = append(outcome.Options, PlanOption{
					Type:      "global",
					Name:      name,
					Countries: countries,
					Plan:      plan,
				})
			}
		}
	}

	if len(outcome.Options) == 0 {
		return nil, fmt.Errorf("no %d-day plan covers %v", tier, countries)
	}
	return outcome, nil
}

func planForDuration(plans []Plan, days int) (Plan, bool) {
	for _, p := range plans {
		if p.Days == days {
			return p, true
		}
	}
	return Plan{}, false
}

// DefaultCatalog is the built-in demo catalog.
func DefaultCatalog() *Catalog {
	return &Catalog{
		Local: map[string]LocalEntry{
			"Japan":       {Region: "Asia", Plans: standardPlans(4.50)},
			"South Korea": {Region: "Asia", Plans: standardPlans(4.20)},
			"Thailand":    {Region: "Asia", Plans: standardPlans(3.80)},
			"France":      {Region: "Europe", Plans: standardPlans(4.80)},
			"Germany":     {Region: "Europe", Plans: standardPlans(4.80)},
			"Italy":       {Region: "Europe", Plans: standardPlans(4.60)},
			"USA":         {Region: "North America", Plans: standardPlans(5.50)},
			"Canada":      {Region: "North America", Plans: standardPlans(5.20)},
		},
		Regional: map[string]RegionalEntry{
			"Asia": {
				Countries: []string{"Japan", "South Korea", "Thailand"},
				Plans:     standardPlans(6.50),
			},
			"Europe": {
				Countries: []string{"France", "Germany", "Italy"},
				Plans:     standardPlans(6.90),
			},
			"North America": {
				Countries: []string{"USA", "Canada"},
				Plans:     standardPlans(7.50),
			},
		},
		Global: map[string]GlobalEntry{
			"Discover Global": {
				Coverage: "120+ countries",
				Plans:    standardPlans(11.00),
			},
		},
	}
}

// standardPlans builds one plan per duration tier. Price scales roughly
// with duration; data allowance grows with the tier.
func standardPlans(perDay float64) []Plan {
	data := map[int]float64{1: 1, 3: 2, 7: 5, 15: 10, 30: 20}
	plans := make([]Plan, 0, len(durationTiers))
	for _, days := range durationTiers {
		price := perDay * float64(days)
		// Longer plans are discounted.
		if days >= 15 {
			price *= 0.75
		} else if days >= 7 {
			price *= 0.85
		}
		plans = append(plans, Plan{
			Days:   days,
			DataGB: data[days],
			Price:  roundCents(price),
		})
	}
	return plans
}
