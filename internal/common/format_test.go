package common

import (
	"testing"

	"venue-jukebox-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFormatPoints(t *testing.T) {
	assert.Equal(t, "0 pts", FormatPoints(0))
	assert.Equal(t, "999 pts", FormatPoints(999))
	assert.Equal(t, "1,000 pts", FormatPoints(1000))
	assert.Equal(t, "1,234,567 pts", FormatPoints(1234567))
	assert.Equal(t, "-12,000 pts", FormatPoints(-12000))
}

func TestShortId(t *testing.T) {
	assert.Equal(t, "none", ShortId(""))
	assert.Equal(t, "abc", ShortId("abc"))
	assert.Equal(t, "12345678...", ShortId("1234567890"))
}

func TestSelectVenues(t *testing.T) {
	venues := []models.Venue{{Id: "a", Name: "A"}, {Id: "b", Name: "B"}}
	logger := zap.NewNop()

	all, err := SelectVenues(venues, "", logger)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	one, err := SelectVenues(venues, "b", logger)
	require.NoError(t, err)
	assert.Equal(t, "B", one[0].Name)

	adhoc, err := SelectVenues(venues, "z", logger)
	require.NoError(t, err)
	assert.Equal(t, "z", adhoc[0].Id)

	assert.Error(t, RequireVenue(nil))
}
