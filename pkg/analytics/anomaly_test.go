package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hourly(counts ...int) []BucketCount {
	base := at("2024-05-15T00:00:00Z")
	out := make([]BucketCount, len(counts))
	for i, c := range counts {
		out[i] = BucketCount{Timestamp: base.Add(time.Duration(i) * time.Hour), Count: c}
	}
	return out
}

func TestDetectVolumeAnomalies_ClearSpike(t *testing.T) {
	buckets := hourly(10, 10, 10, 10, 10, 200, 10, 10, 10, 10, 10)
	got, err := DetectVolumeAnomalies(buckets, 2.0)
	require.NoError(t, err)
	require.Len(t, got, 1)

	a := got[0]
	assert.True(t, a.Timestamp.Equal(at("2024-05-15T05:00:00Z")))
	assert.Equal(t, VolumeAnomaly, a.AnomalyType)
	assert.Equal(t, 200.0, a.ActualValue)
	assert.InDelta(t, 300.0/11.0, a.ExpectedValue, 1e-9)
	assert.Greater(t, a.DeviationScore, 2.0)
	assert.InDelta(t, a.DeviationScore, a.AnomalyScore, 1e-9)
	assert.Equal(t, "Unusually high threat volume: 200 events (expected ~27)", a.Description)
}

func TestDetectVolumeAnomalies_Boundary(t *testing.T) {
	// mean 28, population stddev 36: the spike sits exactly on 2 sigma.
	buckets := hourly(10, 10, 10, 10, 100)

	got, err := DetectVolumeAnomalies(buckets, 2.0)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = DetectVolumeAnomalies(buckets, 1.5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 100.0, got[0].ActualValue)
	assert.InDelta(t, 28.0, got[0].ExpectedValue, 1e-9)
	assert.InDelta(t, 2.0, got[0].DeviationScore, 1e-9)
}

func TestDetectVolumeAnomalies_LowVolume(t *testing.T) {
	buckets := hourly(100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 0)
	got, err := DetectVolumeAnomalies(buckets, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Less(t, got[0].DeviationScore, 0.0)
	assert.Greater(t, got[0].AnomalyScore, 0.0)
	assert.Contains(t, got[0].Description, "Unusually low threat volume: 0 events")
}

func TestDetectVolumeAnomalies_Degenerate(t *testing.T) {
	got, err := DetectVolumeAnomalies(hourly(1, 500), 2.0)
	require.NoError(t, err)
	assert.Empty(t, got, "fewer than three buckets")

	got, err = DetectVolumeAnomalies(hourly(7, 7, 7, 7), 2.0)
	require.NoError(t, err)
	assert.Empty(t, got, "flat series")

	_, err = DetectVolumeAnomalies(hourly(1, 2, 3), -1)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestHourlyTotals(t *testing.T) {
	points := []TimelineDataPoint{
		{Timestamp: at("2024-05-15T10:00:00Z"), Category: "b", Count: 2},
		{Timestamp: at("2024-05-15T09:00:00Z"), Category: "a", Count: 3},
		{Timestamp: at("2024-05-15T10:00:00Z"), Category: "a", Count: 4},
	}
	got := hourlyTotals(points)
	require.Len(t, got, 2)
	assert.Equal(t, 3, got[0].Count)
	assert.Equal(t, 6, got[1].Count)
}

func TestParseAnomalyType(t *testing.T) {
	for _, tag := range []string{"volume", "geographic", "temporal"} {
		_, err := ParseAnomalyType(tag)
		assert.NoError(t, err, tag)
	}
	_, err := ParseAnomalyType("seasonal")
	assert.ErrorIs(t, err, ErrInvalidInput)
}
