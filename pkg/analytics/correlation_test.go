package analytics

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMineCorrelations_CategoryMalware(t *testing.T) {
	events := []Event{
		ev("2024-05-15T09:00:00Z", "malware", withMalware(emotet)),
		ev("2024-05-15T09:01:00Z", "malware", withMalware(emotet)),
		ev("2024-05-15T09:02:00Z", "malware", withMalware(emotet)),
		ev("2024-05-15T09:03:00Z", "malware", withMalware(trickbot)),
		ev("2024-05-15T09:04:00Z", "phishing"),
		ev("2024-05-15T09:05:00Z", "phishing"),
	}
	got, err := MineCorrelations(events, CategoryMalware)
	require.NoError(t, err)
	require.Len(t, got, 1, "pairs seen once are dropped")

	p := got[0]
	assert.Equal(t, CategoryMalware, p.PatternType)
	assert.Equal(t, "malware", p.PrimaryKey)
	assert.Equal(t, "Emotet", p.SecondaryKey)
	assert.Equal(t, 3, p.CoOccurrenceCount)
	assert.InDelta(t, 0.5, p.CorrelationStrength, 1e-9)
	assert.InDelta(t, 0.75, p.ConditionalProbability, 1e-9)
	assert.Equal(t, "Category 'malware' frequently appears with malware family 'Emotet'", p.Description)
}

func TestMineCorrelations_GeoPortThreshold(t *testing.T) {
	var events []Event
	for i := 0; i < 3; i++ {
		events = append(events, ev("2024-05-15T09:00:00Z", "scan", withCountry(countryNL), withSourcePort(445)))
	}
	for i := 0; i < 2; i++ {
		events = append(events, ev("2024-05-15T09:00:00Z", "scan", withCountry(countryUS), withSourcePort(22)))
	}
	events = append(events, ev("2024-05-15T09:00:00Z", "scan", withCountry(countryNL)))

	got, err := MineCorrelations(events, GeoPort)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Netherlands", got[0].PrimaryKey)
	assert.Equal(t, "445", got[0].SecondaryKey)
	assert.InDelta(t, 0.5, got[0].CorrelationStrength, 1e-9)
	assert.InDelta(t, 0.75, got[0].ConditionalProbability, 1e-9)
	assert.Equal(t, "Country 'Netherlands' frequently uses source port '445'", got[0].Description)
}

func TestMineCorrelations_AsnCategoryTopTen(t *testing.T) {
	var events []Event
	for i := 0; i < 12; i++ {
		n := 2
		if i == 11 {
			n = 5
		}
		for j := 0; j < n; j++ {
			events = append(events, ev("2024-05-15T09:00:00Z", fmt.Sprintf("cat-%02d", i)))
		}
	}
	got, err := MineCorrelations(events, AsnCategory)
	require.NoError(t, err)
	require.Len(t, got, maxCorrelations)
	assert.Equal(t, "cat-11", got[0].SecondaryKey, "strongest first")
	assert.Equal(t, "Owned Net", got[0].PrimaryKey)
	assert.Equal(t, "cat-00", got[1].SecondaryKey, "ties keep encounter order")
	for i := 1; i < len(got); i++ {
		assert.LessOrEqual(t, got[i].CorrelationStrength, got[i-1].CorrelationStrength)
	}
}

func TestMineCorrelations_EdgeCases(t *testing.T) {
	_, err := MineCorrelations(nil, CorrelationType("actor_country"))
	assert.ErrorIs(t, err, ErrInvalidInput)

	got, err := MineCorrelations(nil, CategoryMalware)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = ParseCorrelationType("geo_port")
	assert.NoError(t, err)
}
