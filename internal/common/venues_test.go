package common

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleVenues = `
venues:
  - id: v1
    name: Corner Bar
    standard_cost: 10
    priority_cost: 25
    user_cap: 2
    packages:
      - id: small
        points: 50
        price: "4.99"
  - id: v2
    standard_cost: 5
    priority_cost: 15
`

func TestParseVenueConfig(t *testing.T) {
	venues, err := ParseVenueConfig([]byte(sampleVenues))
	require.NoError(t, err)
	require.Len(t, venues, 2)

	pkg, ok := venues[0].Package("small")
	require.True(t, ok)
	assert.True(t, pkg.Price.Equal(decimal.RequireFromString("4.99")))
	assert.Equal(t, "USD", pkg.Currency)

	assert.Equal(t, map[string]int{"v1": 2}, VenueUserCaps(venues))
}

func TestParseVenueConfig_Rejects(t *testing.T) {
	tests := map[string]string{
		"missing id":   "venues:\n  - standard_cost: 1\n    priority_cost: 1\n",
		"zero cost":    "venues:\n  - id: a\n    standard_cost: 0\n    priority_cost: 1\n",
		"duplicate":    "venues:\n  - id: a\n    standard_cost: 1\n    priority_cost: 1\n  - id: a\n    standard_cost: 1\n    priority_cost: 1\n",
		"bad price":    "venues:\n  - id: a\n    standard_cost: 1\n    priority_cost: 1\n    packages:\n      - id: p\n        points: 5\n        price: cheap\n",
		"negative cap": "venues:\n  - id: a\n    standard_cost: 1\n    priority_cost: 1\n    user_cap: -1\n",
		"invalid yaml": "venues: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseVenueConfig([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadVenueConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "venues.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleVenues), 0o600))

	venues, err := LoadVenueConfig(path)
	require.NoError(t, err)
	assert.Len(t, venues, 2)

	_, err = LoadVenueConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
