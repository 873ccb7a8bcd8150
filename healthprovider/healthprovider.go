// Package healthprovider defines the abstract capability the HTTP engine
// calls to fetch samples, plus an in-memory reference implementation a
// host application can seed with its own data (or swap out entirely for a
// real platform health store).
package healthprovider

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/mneves75/ai-health-sync-ios-sub001/model"
)

// maxLimit is the hard cap on samples returned per request, regardless of
// what the caller asks for.
const maxLimit = 10000

// Provider is the single capability the engine depends on.
type Provider interface {
	FetchSamples(types []model.HealthDataType, start, end time.Time, limit, offset int) model.HealthDataResponse
}

// sleepStageTypes maps a requested stage-specific variant to the raw
// stage value a category sample carries; TypeSleepAnalysis with no
// variant matches every stage.
var sleepStageTypes = map[model.HealthDataType]string{
	model.TypeSleepInBed:  "inBed",
	model.TypeSleepAsleep: "asleep",
	model.TypeSleepAwake:  "awake",
	model.TypeSleepREM:    "rem",
	model.TypeSleepCore:   "core",
	model.TypeSleepDeep:   "deep",
}

// MemoryProvider is a reference Provider backed by an in-memory sample
// set. It exists so the engine and its handlers can be exercised without
// a real platform health framework underneath; a host application
// targeting an actual device wires its own Provider instead.
type MemoryProvider struct {
	mu          sync.RWMutex
	samples     []model.HealthSample
	unavailable bool
}

// NewMemoryProvider constructs an empty provider. Seed with AddSample.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{}
}

// AddSample appends a sample to the in-memory set.
func (p *MemoryProvider) AddSample(s model.HealthSample) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.samples = append(p.samples, s)
}

// SetUnavailable simulates the underlying health framework becoming
// unreachable, e.g. to exercise the engine's error-status path.
func (p *MemoryProvider) SetUnavailable(unavailable bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unavailable = unavailable
}

// FetchSamples implements Provider.
func (p *MemoryProvider) FetchSamples(types []model.HealthDataType, start, end time.Time, limit, offset int) model.HealthDataResponse {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.unavailable {
		return model.HealthDataResponse{Status: model.StatusError, Message: "Health data is unavailable"}
	}

	if limit <= 0 || limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}

	wanted := make(map[model.HealthDataType]struct{}, len(types))
	for _, t := range types {
		wanted[t] = struct{}{}
	}

	var matched []model.HealthSample
	for _, s := range p.samples {
		if s.Start.Before(start) || s.Start.After(end) {
			continue
		}
		if !matchesRequestedType(s, wanted) {
			continue
		}
		matched = append(matched, projectForWire(s))
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Start.After(matched[j].Start)
	})

	// Fetch limit+offset+1 worth of work to detect overflow without a
	// separate count query.
	fetchCount := limit + offset + 1
	if fetchCount > len(matched) {
		fetchCount = len(matched)
	}
	window := matched[:fetchCount]

	hasMore := len(window) > offset+limit
	end2 := offset + limit
	if end2 > len(window) {
		end2 = len(window)
	}
	var page []model.HealthSample
	if offset < len(window) {
		page = window[offset:end2]
	}
	if page == nil {
		page = []model.HealthSample{}
	}

	return model.HealthDataResponse{
		Status:        model.StatusOK,
		Samples:       page,
		HasMore:       hasMore,
		ReturnedCount: len(page),
	}
}

// matchesRequestedType handles both ordinary types and the sleep-stage
// family, where a single raw sleepAnalysis sample must be filtered against
// the specific stage variant the caller asked for (or accepted under the
// unqualified TypeSleepAnalysis, meaning "all stages").
func matchesRequestedType(s model.HealthSample, wanted map[model.HealthDataType]struct{}) bool {
	if _, ok := wanted[s.Type]; ok {
		return true
	}
	if s.Type != model.TypeSleepAnalysis {
		return false
	}
	if _, ok := wanted[model.TypeSleepAnalysis]; ok {
		return true
	}
	stage := s.Metadata["stage"]
	for variant, rawStage := range sleepStageTypes {
		if rawStage != stage {
			continue
		}
		if _, ok := wanted[variant]; ok {
			return true
		}
	}
	return false
}

// projectForWire adds a workout's duration (end minus start, in seconds)
// to a copy of its metadata under "durationSeconds". The scalar value and
// all other metadata pass through unchanged; energy or distance totals are
// not moved out of the value field. Non-workout samples are returned as is.
func projectForWire(s model.HealthSample) model.HealthSample {
	if s.Type != model.TypeWorkout {
		return s
	}
	out := s
	if out.Metadata == nil {
		out.Metadata = map[string]string{}
	} else {
		cloned := make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			cloned[k] = v
		}
		out.Metadata = cloned
	}
	out.Metadata["durationSeconds"] = strconv.FormatFloat(s.End.Sub(s.Start).Seconds(), 'f', -1, 64)
	return out
}
