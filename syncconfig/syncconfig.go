// Package syncconfig owns the process-singleton SyncConfiguration entity:
// the set of health data types the device currently shares and the
// timestamp of the last successful export. Reads and writes are forced
// through a single instance so a request handler always sees a
// consistent snapshot within its own lifetime.
package syncconfig

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mneves75/ai-health-sync-ios-sub001/model"
)

// defaultEnabledTypes mirrors what a first boot ships with: the broadly
// useful activity and vitals types, none of the more sensitive
// reproductive or cycle-tracking types an owner would need to opt into.
var defaultEnabledTypes = []model.HealthDataType{
	model.TypeStepCount,
	model.TypeDistanceWalkingRunning,
	model.TypeActiveEnergyBurned,
	model.TypeHeartRate,
	model.TypeSleepAnalysis,
}

// Backend is the persistence boundary this package needs from the
// relational store.
type Backend interface {
	LoadConfiguration() (*model.SyncConfiguration, error)
	SaveConfiguration(cfg *model.SyncConfiguration) error
}

// Service serializes access to the singleton SyncConfiguration row so a
// read a handler takes at the start of a request is never torn by a
// concurrent UI toggle mid-request.
type Service struct {
	backend Backend

	mu sync.Mutex
}

// NewService constructs a Service, seeding the default enabled types on
// first boot if the backend has no row yet.
func NewService(backend Backend) (*Service, error) {
	s := &Service{backend: backend}
	cfg, err := backend.LoadConfiguration()
	if err != nil {
		return nil, fmt.Errorf("syncconfig: load configuration: %w", err)
	}
	if cfg.EnabledTypes == "" {
		cfg.EnabledTypes = joinTypes(defaultEnabledTypes)
		if err := backend.SaveConfiguration(cfg); err != nil {
			return nil, fmt.Errorf("syncconfig: seed defaults: %w", err)
		}
	}
	return s, nil
}

// EnabledTypes returns the current enabled-type set, in stored order.
func (s *Service) EnabledTypes() ([]model.HealthDataType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.backend.LoadConfiguration()
	if err != nil {
		return nil, fmt.Errorf("syncconfig: load configuration: %w", err)
	}
	return splitTypes(cfg.EnabledTypes), nil
}

// IsSubsetOfEnabled reports whether every member of requested is one of
// the currently enabled types.
func (s *Service) IsSubsetOfEnabled(requested []model.HealthDataType) (bool, error) {
	enabled, err := s.EnabledTypes()
	if err != nil {
		return false, err
	}
	enabledSet := make(map[model.HealthDataType]struct{}, len(enabled))
	for _, t := range enabled {
		enabledSet[t] = struct{}{}
	}
	for _, t := range requested {
		if _, ok := enabledSet[t]; !ok {
			return false, nil
		}
	}
	return true, nil
}

// SetEnabledTypes replaces the enabled-type set, as driven by a UI toggle.
func (s *Service) SetEnabledTypes(types []model.HealthDataType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.backend.LoadConfiguration()
	if err != nil {
		return fmt.Errorf("syncconfig: load configuration: %w", err)
	}
	cfg.EnabledTypes = joinTypes(types)
	return s.backend.SaveConfiguration(cfg)
}

// RecordExport sets last_export_at to at; the engine's health-data handler
// calls it with the current time after a successful read.
func (s *Service) RecordExport(at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.backend.LoadConfiguration()
	if err != nil {
		return fmt.Errorf("syncconfig: load configuration: %w", err)
	}
	cfg.LastExportAt = &at
	return s.backend.SaveConfiguration(cfg)
}

func joinTypes(types []model.HealthDataType) string {
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = string(t)
	}
	return strings.Join(parts, ",")
}

func splitTypes(joined string) []model.HealthDataType {
	if joined == "" {
		return nil
	}
	parts := strings.Split(joined, ",")
	out := make([]model.HealthDataType, len(parts))
	for i, p := range parts {
		out[i] = model.HealthDataType(p)
	}
	return out
}
