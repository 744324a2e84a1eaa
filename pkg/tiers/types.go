package tiers

// Category groups tiers by the kind of fitness business they serve
type Category string

const (
	CategoryIndividual Category = "individual"
	CategorySpecialist Category = "specialist"
	CategoryGym        Category = "gym"
	CategoryEnterprise Category = "enterprise"
)

// UnlimitedClients marks a tier with no client capacity cap
const UnlimitedClients int64 = -1

// Tier is a named pricing/capacity bundle an account subscribes to
type Tier struct {
	ID            string   `json:"id" yaml:"id"`
	Name          string   `json:"name" yaml:"name"`
	Category      Category `json:"category" yaml:"category"`
	PriceCents    int64    `json:"price_cents" yaml:"price_cents"`
	Currency      string   `json:"currency" yaml:"currency"`
	ClientLimit   int64    `json:"client_limit" yaml:"client_limit"`
	TrialDays     int      `json:"trial_days" yaml:"trial_days"`
	StripePriceID string   `json:"stripe_price_id" yaml:"stripe_price_id"`
	Features      []string `json:"features" yaml:"features"`
}

// Unlimited reports whether the tier has no client cap
func (t *Tier) Unlimited() bool {
	return t.ClientLimit == UnlimitedClients
}

// Covers reports whether the tier still has room at the given client
// count. A tier running exactly at its limit is full, so capacity checks
// restrict at the limit rather than one past it.
func (t *Tier) Covers(activeClients int64) bool {
	return t.Unlimited() || activeClients < t.ClientLimit
}
