package tiers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistryDefaults(t *testing.T) {
	r, err := NewRegistry("", nil)
	require.NoError(t, err)

	list := r.List()
	require.Len(t, list, 4)

	// List is ordered by ascending price
	for i := 1; i < len(list); i++ {
		assert.LessOrEqual(t, list[i-1].PriceCents, list[i].PriceCents)
	}

	starter, err := r.Get("starter")
	require.NoError(t, err)
	assert.Equal(t, CategoryIndividual, starter.Category)
	assert.Equal(t, int64(25), starter.ClientLimit)

	gym, err := r.Get("gym")
	require.NoError(t, err)
	assert.True(t, gym.Unlimited())
}

func TestNewRegistryPriceIDInjection(t *testing.T) {
	r, err := NewRegistry("", PriceIDs{
		"starter": "price_starter_123",
		"coach":   "price_coach_456",
	})
	require.NoError(t, err)

	starter, err := r.Get("starter")
	require.NoError(t, err)
	assert.Equal(t, "price_starter_123", starter.StripePriceID)

	tier, err := r.ForStripePrice("price_coach_456")
	require.NoError(t, err)
	assert.Equal(t, "coach", tier.ID)

	_, err = r.ForStripePrice("price_unknown")
	assert.Error(t, err)

	_, err = r.ForStripePrice("")
	assert.Error(t, err)
}

func TestNewRegistryYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tiers.yaml")
	yaml := `
tiers:
  - id: solo
    name: Solo
    category: individual
    price_cents: 900
    currency: usd
    client_limit: 10
    trial_days: 7
  - id: pro
    name: Pro
    category: specialist
    price_cents: 2900
    currency: usd
    client_limit: 40
  - id: club
    name: Club
    category: gym
    price_cents: 7900
    currency: usd
    client_limit: 120
  - id: chain
    name: Chain
    category: enterprise
    price_cents: 19900
    currency: usd
    client_limit: -1
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	r, err := NewRegistry(path, nil)
	require.NoError(t, err)

	solo, err := r.Get("solo")
	require.NoError(t, err)
	assert.Equal(t, int64(10), solo.ClientLimit)
	assert.Equal(t, 7, solo.TrialDays)

	_, err = r.Get("starter")
	assert.Error(t, err, "defaults are replaced, not merged")
}

func TestNewRegistryValidation(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing category fails at load", func(t *testing.T) {
		path := filepath.Join(dir, "missing_category.yaml")
		yaml := `
tiers:
  - id: solo
    name: Solo
    category: individual
    price_cents: 900
    client_limit: 10
`
		require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

		_, err := NewRegistry(path, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no tier defined for category")
	})

	t.Run("zero client limit fails", func(t *testing.T) {
		path := filepath.Join(dir, "zero_limit.yaml")
		yaml := `
tiers:
  - id: broken
    name: Broken
    category: individual
    price_cents: 900
    client_limit: 0
`
		require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

		_, err := NewRegistry(path, nil)
		assert.Error(t, err)
	})

	t.Run("nonexistent file fails", func(t *testing.T) {
		_, err := NewRegistry(filepath.Join(dir, "nope.yaml"), nil)
		assert.Error(t, err)
	})
}

func TestRecommend(t *testing.T) {
	r, err := NewRegistry("", nil)
	require.NoError(t, err)

	tests := []struct {
		name    string
		clients int64
		want    string
	}{
		{"small roster fits starter", 10, "starter"},
		{"starter boundary with headroom pushes up", 25, "coach"},
		{"mid roster fits coach", 50, "coach"},
		{"large roster fits studio", 150, "studio"},
		{"huge roster needs gym", 500, "gym"},
		{"zero clients fits starter", 0, "starter"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Recommend(tt.clients).ID)
		})
	}
}

func TestTierCovers(t *testing.T) {
	limited := Tier{ClientLimit: 25}
	assert.True(t, limited.Covers(24))
	assert.False(t, limited.Covers(25), "a full tier has no room left")
	assert.False(t, limited.Covers(26))

	unlimited := Tier{ClientLimit: UnlimitedClients}
	assert.True(t, unlimited.Covers(1_000_000))
}
