package healthprovider

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mneves75/ai-health-sync-ios-sub001/model"
)

func TestFetchSamplesUnavailableReturnsError(t *testing.T) {
	p := NewMemoryProvider()
	p.SetUnavailable(true)

	resp := p.FetchSamples([]model.HealthDataType{model.TypeStepCount}, time.Now().Add(-time.Hour), time.Now(), 10, 0)
	require.Equal(t, model.StatusError, resp.Status)
	require.Equal(t, "Health data is unavailable", resp.Message)
}

func TestFetchSamplesFiltersByTimeRangeAndType(t *testing.T) {
	p := NewMemoryProvider()
	now := time.Now()
	p.AddSample(model.HealthSample{ID: "1", Type: model.TypeStepCount, Start: now.Add(-30 * time.Minute), End: now.Add(-29 * time.Minute), Value: 100})
	p.AddSample(model.HealthSample{ID: "2", Type: model.TypeHeartRate, Start: now.Add(-20 * time.Minute), End: now.Add(-20 * time.Minute), Value: 70})
	p.AddSample(model.HealthSample{ID: "3", Type: model.TypeStepCount, Start: now.Add(-3 * time.Hour), End: now.Add(-3 * time.Hour), Value: 50})

	resp := p.FetchSamples([]model.HealthDataType{model.TypeStepCount}, now.Add(-time.Hour), now, 10, 0)
	require.Equal(t, model.StatusOK, resp.Status)
	require.Len(t, resp.Samples, 1)
	require.Equal(t, "1", resp.Samples[0].ID)
}

func TestFetchSamplesSortsDescendingByStart(t *testing.T) {
	p := NewMemoryProvider()
	now := time.Now()
	p.AddSample(model.HealthSample{ID: "early", Type: model.TypeStepCount, Start: now.Add(-50 * time.Minute)})
	p.AddSample(model.HealthSample{ID: "late", Type: model.TypeStepCount, Start: now.Add(-10 * time.Minute)})

	resp := p.FetchSamples([]model.HealthDataType{model.TypeStepCount}, now.Add(-time.Hour), now, 10, 0)
	require.Len(t, resp.Samples, 2)
	require.Equal(t, "late", resp.Samples[0].ID)
	require.Equal(t, "early", resp.Samples[1].ID)
}

func TestFetchSamplesHasMoreDetection(t *testing.T) {
	p := NewMemoryProvider()
	now := time.Now()
	for i := 0; i < 5; i++ {
		p.AddSample(model.HealthSample{ID: string(rune('a' + i)), Type: model.TypeStepCount, Start: now.Add(-time.Duration(i) * time.Minute)})
	}

	resp := p.FetchSamples([]model.HealthDataType{model.TypeStepCount}, now.Add(-time.Hour), now, 2, 0)
	require.Len(t, resp.Samples, 2)
	require.True(t, resp.HasMore)

	resp = p.FetchSamples([]model.HealthDataType{model.TypeStepCount}, now.Add(-time.Hour), now, 10, 0)
	require.Len(t, resp.Samples, 5)
	require.False(t, resp.HasMore)
}

func TestFetchSamplesLimitIsCappedAtMax(t *testing.T) {
	p := NewMemoryProvider()
	resp := p.FetchSamples([]model.HealthDataType{model.TypeStepCount}, time.Now().Add(-time.Hour), time.Now(), 999999, 0)
	require.Equal(t, model.StatusOK, resp.Status)
}

func TestFetchSamplesSleepStageFiltering(t *testing.T) {
	p := NewMemoryProvider()
	now := time.Now()
	p.AddSample(model.HealthSample{ID: "rem", Type: model.TypeSleepAnalysis, Start: now.Add(-time.Hour), Metadata: map[string]string{"stage": "rem"}})
	p.AddSample(model.HealthSample{ID: "deep", Type: model.TypeSleepAnalysis, Start: now.Add(-2 * time.Hour), Metadata: map[string]string{"stage": "deep"}})

	resp := p.FetchSamples([]model.HealthDataType{model.TypeSleepREM}, now.Add(-3*time.Hour), now, 10, 0)
	require.Len(t, resp.Samples, 1)
	require.Equal(t, "rem", resp.Samples[0].ID)
}

func TestFetchSamplesWorkoutFoldsDurationIntoMetadata(t *testing.T) {
	p := NewMemoryProvider()
	now := time.Now()
	p.AddSample(model.HealthSample{
		ID: "w1", Type: model.TypeWorkout, Start: now.Add(-30 * time.Minute), End: now,
	})

	resp := p.FetchSamples([]model.HealthDataType{model.TypeWorkout}, now.Add(-time.Hour), now, 10, 0)
	require.Len(t, resp.Samples, 1)
	require.Equal(t, "1800", resp.Samples[0].Metadata["durationSeconds"])
}
