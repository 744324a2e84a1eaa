package tiers

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// defaultTiers are the built-in tier definitions, overridable via YAML
var defaultTiers = []Tier{
	{
		ID:          "starter",
		Name:        "Starter",
		Category:    CategoryIndividual,
		PriceCents:  1900,
		Currency:    "usd",
		ClientLimit: 25,
		TrialDays:   14,
		Features:    []string{"client_management", "workout_builder", "progress_tracking"},
	},
	{
		ID:          "coach",
		Name:        "Coach",
		Category:    CategorySpecialist,
		PriceCents:  4900,
		Currency:    "usd",
		ClientLimit: 75,
		TrialDays:   14,
		Features:    []string{"client_management", "workout_builder", "progress_tracking", "nutrition_plans", "custom_branding"},
	},
	{
		ID:          "studio",
		Name:        "Studio",
		Category:    CategoryGym,
		PriceCents:  9900,
		Currency:    "usd",
		ClientLimit: 200,
		TrialDays:   14,
		Features:    []string{"client_management", "workout_builder", "progress_tracking", "nutrition_plans", "custom_branding", "team_seats", "class_scheduling"},
	},
	{
		ID:          "gym",
		Name:        "Gym & Enterprise",
		Category:    CategoryEnterprise,
		PriceCents:  24900,
		Currency:    "usd",
		ClientLimit: UnlimitedClients,
		TrialDays:   14,
		Features:    []string{"client_management", "workout_builder", "progress_tracking", "nutrition_plans", "custom_branding", "team_seats", "class_scheduling", "api_access", "priority_support"},
	},
}

// PriceIDs maps tier IDs to processor price identifiers at startup
type PriceIDs map[string]string

// Registry holds the loaded tier definitions. It is immutable after
// construction; lookups return copies.
type Registry struct {
	tiers   map[string]Tier
	ordered []string // tier IDs in ascending price order
}

// NewRegistry builds a registry from the built-in defaults, an optional YAML
// override file, and processor price IDs from configuration. Definition
// errors surface here rather than at request time.
func NewRegistry(overridePath string, priceIDs PriceIDs) (*Registry, error) {
	defs := make([]Tier, len(defaultTiers))
	copy(defs, defaultTiers)

	if overridePath != "" {
		loaded, err := loadOverrides(overridePath)
		if err != nil {
			return nil, err
		}
		defs = loaded
	}

	r := &Registry{tiers: make(map[string]Tier, len(defs))}

	for i := range defs {
		t := defs[i]
		if t.ID == "" {
			return nil, fmt.Errorf("tier at index %d has no id", i)
		}
		if _, dup := r.tiers[t.ID]; dup {
			return nil, fmt.Errorf("duplicate tier id %q", t.ID)
		}
		if t.ClientLimit == 0 || t.ClientLimit < UnlimitedClients {
			return nil, fmt.Errorf("tier %q has invalid client limit %d", t.ID, t.ClientLimit)
		}
		if priceID, ok := priceIDs[t.ID]; ok && priceID != "" {
			t.StripePriceID = priceID
		}
		r.tiers[t.ID] = t
	}

	categories := make(map[Category]bool)
	for _, t := range r.tiers {
		categories[t.Category] = true
	}
	for _, c := range []Category{CategoryIndividual, CategorySpecialist, CategoryGym, CategoryEnterprise} {
		if !categories[c] {
			return nil, fmt.Errorf("no tier defined for category %q", c)
		}
	}

	for id := range r.tiers {
		r.ordered = append(r.ordered, id)
	}
	sort.Slice(r.ordered, func(i, j int) bool {
		return r.tiers[r.ordered[i]].PriceCents < r.tiers[r.ordered[j]].PriceCents
	})

	return r, nil
}

func loadOverrides(path string) ([]Tier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tier overrides: %w", err)
	}

	var doc struct {
		Tiers []Tier `yaml:"tiers"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse tier overrides: %w", err)
	}
	if len(doc.Tiers) == 0 {
		return nil, fmt.Errorf("tier override file %q defines no tiers", path)
	}

	return doc.Tiers, nil
}

// Get returns the tier with the given id
func (r *Registry) Get(id string) (Tier, error) {
	t, ok := r.tiers[id]
	if !ok {
		return Tier{}, fmt.Errorf("unknown tier %q", id)
	}
	return t, nil
}

// List returns all tiers in ascending price order
func (r *Registry) List() []Tier {
	out := make([]Tier, 0, len(r.ordered))
	for _, id := range r.ordered {
		out = append(out, r.tiers[id])
	}
	return out
}

// ForStripePrice resolves a processor price ID back to its tier
func (r *Registry) ForStripePrice(priceID string) (Tier, error) {
	if priceID == "" {
		return Tier{}, fmt.Errorf("empty price id")
	}
	for _, id := range r.ordered {
		if r.tiers[id].StripePriceID == priceID {
			return r.tiers[id], nil
		}
	}
	return Tier{}, fmt.Errorf("no tier for price id %q", priceID)
}

// Recommend returns the cheapest tier whose limit covers the given usage
// plus growth headroom.
func (r *Registry) Recommend(activeClients int64) Tier {
	// 20% headroom so an account is not recommended a tier it will
	// immediately outgrow
	needed := activeClients + activeClients/5

	for _, id := range r.ordered {
		t := r.tiers[id]
		if t.Covers(needed) {
			return t
		}
	}

	// Fall back to the largest tier
	return r.tiers[r.ordered[len(r.ordered)-1]]
}
