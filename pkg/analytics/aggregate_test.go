package analytics

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scenarioEvents() []Event {
	return []Event{
		ev("2024-05-15T09:00:00Z", "A"),
		ev("2024-05-15T09:30:00Z", "A"),
		ev("2024-05-15T10:15:00Z", "B"),
	}
}

func TestTopItems_Scenario(t *testing.T) {
	top, err := TopItems(scenarioEvents(), All, categoryKey, 1)
	require.NoError(t, err)
	require.Len(t, top, 1)

	assert.Equal(t, "A", top[0].Key)
	assert.Equal(t, "A", top[0].DisplayName)
	assert.Equal(t, 2, top[0].Count)
	assert.Equal(t, 66.67, top[0].Percentage)
	assert.Equal(t, 1, top[0].Rank)
}

func TestTopItems_TiesKeepEncounterOrder(t *testing.T) {
	events := []Event{
		ev("2024-05-15T09:00:00Z", "zeta"),
		ev("2024-05-15T09:01:00Z", "alpha"),
		ev("2024-05-15T09:02:00Z", "mid"),
		ev("2024-05-15T09:03:00Z", "mid"),
	}
	for i := 0; i < 5; i++ {
		top, err := TopItems(events, All, categoryKey, 10)
		require.NoError(t, err)
		require.Len(t, top, 3)
		assert.Equal(t, []string{"mid", "zeta", "alpha"}, []string{top[0].Key, top[1].Key, top[2].Key})
		assert.Equal(t, []int{1, 2, 3}, []int{top[0].Rank, top[1].Rank, top[2].Rank})
	}
}

func TestTopItems_PredicateAndEmpty(t *testing.T) {
	onlyB := func(e Event) bool { return e.Category == "B" }
	top, err := TopItems(scenarioEvents(), onlyB, categoryKey, 5)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, 100.0, top[0].Percentage, "percentage is relative to the filtered set")

	top, err = TopItems(nil, All, categoryKey, 5)
	require.NoError(t, err)
	assert.Empty(t, top)

	unnamed := []Event{ev("2024-05-15T09:00:00Z", "")}
	top, err = TopItems(unnamed, All, categoryKey, 5)
	require.NoError(t, err)
	assert.Equal(t, "Unknown", top[0].DisplayName)
}

func TestTopItems_RejectsNegativeTopCount(t *testing.T) {
	_, err := TopItems(scenarioEvents(), All, categoryKey, -1)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = GroupedAggregation(scenarioEvents(), All, categoryKey, func(g Group[string]) int { return g.Count() }, -3)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestGroupedAggregation_NoTruncationByDefault(t *testing.T) {
	events := append(scenarioEvents(), ev("2024-05-15T11:00:00Z", "C"))
	sizes, err := GroupedAggregation(events, All, categoryKey, func(g Group[string]) string {
		return fmt.Sprintf("%s=%d", g.Key, g.Count())
	}, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"A=2", "B=1", "C=1"}, sizes)

	sizes, err = GroupedAggregation(events, All, categoryKey, func(g Group[string]) string { return g.Key }, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, sizes)
}

func TestDistribution_PercentagesSumToHundred(t *testing.T) {
	var events []Event
	for i, cat := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		for j := 0; j <= i; j++ {
			events = append(events, ev("2024-05-15T09:00:00Z", cat))
		}
	}
	dist := Distribution(events, All, categoryKey)
	require.Len(t, dist, 7)

	sum := 0.0
	for i, d := range dist {
		sum += d.Percentage
		if i > 0 {
			assert.LessOrEqual(t, d.Count, dist[i-1].Count, "sorted by count descending")
			assert.Greater(t, d.CumulativePercentage, dist[i-1].CumulativePercentage)
		}
	}
	assert.InDelta(t, 100.0, sum, 0.1)
	assert.InDelta(t, 100.0, dist[len(dist)-1].CumulativePercentage, 0.01*float64(len(dist)))
	assert.Equal(t, "g", dist[0].Key)
}

func TestDistribution_IncrementalRounding(t *testing.T) {
	events := []Event{
		ev("2024-05-15T09:00:00Z", "x"),
		ev("2024-05-15T09:00:00Z", "y"),
		ev("2024-05-15T09:00:00Z", "z"),
	}
	dist := Distribution(events, All, categoryKey)
	require.Len(t, dist, 3)
	assert.Equal(t, []float64{33.33, 66.66, 99.99},
		[]float64{dist[0].CumulativePercentage, dist[1].CumulativePercentage, dist[2].CumulativePercentage})

	assert.Empty(t, Distribution(nil, All, categoryKey))
}
