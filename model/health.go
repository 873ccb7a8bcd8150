// Package model defines the wire-level DTOs shared across the health sync
// core: the versioned sample taxonomy, the request/response envelopes for
// the health-data endpoint, and the small persisted records the pairing and
// configuration components own.
package model

import "time"

// HealthDataType is the closed, versioned enumeration of sample kinds the
// wire protocol understands. Adding a member is a minor version bump.
type HealthDataType string

const (
	TypeStepCount             HealthDataType = "stepCount"
	TypeDistanceWalkingRunning HealthDataType = "distanceWalkingRunning"
	TypeDistanceCycling        HealthDataType = "distanceCycling"
	TypeActiveEnergyBurned     HealthDataType = "activeEnergyBurned"
	TypeBasalEnergyBurned      HealthDataType = "basalEnergyBurned"
	TypeExerciseMinutes        HealthDataType = "appleExerciseTime"
	TypeStandHours             HealthDataType = "appleStandHour"
	TypeFlightsClimbed         HealthDataType = "flightsClimbed"
	TypeWorkout                HealthDataType = "workout"
	TypeHeartRate              HealthDataType = "heartRate"
	TypeRestingHeartRate       HealthDataType = "restingHeartRate"
	TypeWalkingHeartRateAvg    HealthDataType = "walkingHeartRateAverage"
	TypeHeartRateVariability   HealthDataType = "heartRateVariabilitySDNN"
	TypeBloodPressureSystolic  HealthDataType = "bloodPressureSystolic"
	TypeBloodPressureDiastolic HealthDataType = "bloodPressureDiastolic"
	TypeBloodOxygen            HealthDataType = "oxygenSaturation"
	TypeRespiratoryRate        HealthDataType = "respiratoryRate"
	TypeBodyTemperature        HealthDataType = "bodyTemperature"
	TypeVO2Max                 HealthDataType = "vo2Max"
	TypeSleepAnalysis          HealthDataType = "sleepAnalysis"
	TypeSleepInBed             HealthDataType = "sleepAnalysis.inBed"
	TypeSleepAsleep            HealthDataType = "sleepAnalysis.asleep"
	TypeSleepAwake             HealthDataType = "sleepAnalysis.awake"
	TypeSleepREM               HealthDataType = "sleepAnalysis.rem"
	TypeSleepCore              HealthDataType = "sleepAnalysis.core"
	TypeSleepDeep              HealthDataType = "sleepAnalysis.deep"
	TypeWeight                 HealthDataType = "bodyMass"
	TypeHeight                 HealthDataType = "height"
	TypeBMI                    HealthDataType = "bodyMassIndex"
	TypeBodyFatPercent         HealthDataType = "bodyFatPercentage"
	TypeLeanBodyMass           HealthDataType = "leanBodyMass"
)

// ValidHealthDataTypes enumerates every member of the closed enumeration,
// used to validate the "enabled types" set at configuration time.
var ValidHealthDataTypes = map[HealthDataType]struct{}{
	TypeStepCount: {}, TypeDistanceWalkingRunning: {}, TypeDistanceCycling: {},
	TypeActiveEnergyBurned: {}, TypeBasalEnergyBurned: {}, TypeExerciseMinutes: {},
	TypeStandHours: {}, TypeFlightsClimbed: {}, TypeWorkout: {},
	TypeHeartRate: {}, TypeRestingHeartRate: {}, TypeWalkingHeartRateAvg: {},
	TypeHeartRateVariability: {}, TypeBloodPressureSystolic: {}, TypeBloodPressureDiastolic: {},
	TypeBloodOxygen: {}, TypeRespiratoryRate: {}, TypeBodyTemperature: {}, TypeVO2Max: {},
	TypeSleepAnalysis: {}, TypeSleepInBed: {}, TypeSleepAsleep: {}, TypeSleepAwake: {},
	TypeSleepREM: {}, TypeSleepCore: {}, TypeSleepDeep: {},
	TypeWeight: {}, TypeHeight: {}, TypeBMI: {}, TypeBodyFatPercent: {}, TypeLeanBodyMass: {},
}

// IsValid reports whether t is a recognized member of the enumeration.
func (t HealthDataType) IsValid() bool {
	_, ok := ValidHealthDataTypes[t]
	return ok
}

// HealthSample is the immutable DTO returned to paired clients. It is safe
// to share across goroutines once constructed.
type HealthSample struct {
	ID         string            `json:"id"`
	Type       HealthDataType    `json:"type"`
	Value      float64           `json:"value"`
	Unit       string            `json:"unit"`
	Start      time.Time         `json:"startDate"`
	End        time.Time         `json:"endDate"`
	Source     string            `json:"sourceName"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// ResponseStatus discriminates why a health-data response carries the
// samples it does (or doesn't).
type ResponseStatus string

const (
	StatusOK           ResponseStatus = "ok"
	StatusNoPermission ResponseStatus = "no_permission"
	StatusLocked       ResponseStatus = "locked"
	StatusError        ResponseStatus = "error"
)

// HealthDataResponse is the body returned from POST /api/v1/health/data.
// The transport is status-in-body even on HTTP 200, except for "locked",
// which is additionally carried as HTTP 423.
type HealthDataResponse struct {
	Status        ResponseStatus `json:"status"`
	Samples       []HealthSample `json:"samples"`
	Message       string         `json:"message,omitempty"`
	HasMore       bool           `json:"hasMore"`
	ReturnedCount int            `json:"returnedCount"`
}

// HealthDataQuery is the decoded body of POST /api/v1/health/data.
type HealthDataQuery struct {
	Start  time.Time        `json:"start"`
	End    time.Time        `json:"end"`
	Types  []HealthDataType `json:"types"`
	Limit  *int             `json:"limit,omitempty"`
	Offset *int             `json:"offset,omitempty"`
}

// PairingQRCode is the out-of-band payload handed to the client (clipboard
// or rendered QR). Clients must reject any version other than "1".
type PairingQRCode struct {
	Version     string    `json:"version"`
	Host        string    `json:"host"`
	Port        int       `json:"port"`
	Code        string    `json:"code"`
	ExpiresAt   time.Time `json:"expiresAt"`
	Fingerprint string    `json:"certificateFingerprint"`
}

// PairRequest is the decoded body of POST /api/v1/pair.
type PairRequest struct {
	Code       string `json:"code"`
	ClientName string `json:"clientName"`
}

// PairResponse is returned on successful pairing.
type PairResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// PairedDevice is the persisted record created on successful pairing.
type PairedDevice struct {
	ID           string    `gorm:"primaryKey"`
	ClientName   string    // anonymized: "Client-XXXXXXXX"
	TokenHash    string    `gorm:"uniqueIndex"` // lowercase hex SHA-256 of the bearer token
	ExpiresAt    time.Time
	IsActive     bool
	LastSeenAt   time.Time
	CreatedAt    time.Time
}

// Reachable reports whether the device is currently authorized to connect.
func (d PairedDevice) Reachable(now time.Time) bool {
	return d.IsActive && now.Before(d.ExpiresAt)
}

// SyncConfiguration is the process-singleton persisted entity controlling
// which sample types may be projected over the wire.
type SyncConfiguration struct {
	ID           uint `gorm:"primaryKey;autoIncrement:false"` // always 1: single row
	EnabledTypes string                                       // comma-joined HealthDataType list, ordered
	LastExportAt *time.Time
}

// StatusResponse is returned from GET /api/v1/status.
type StatusResponse struct {
	Status       string    `json:"status"`
	Version      string    `json:"version"`
	DeviceName   string    `json:"deviceName"`
	EnabledTypes []string  `json:"enabledTypes"`
	ServerTime   time.Time `json:"serverTime"`
}

// TypesResponse is returned from GET /api/v1/health/types.
type TypesResponse struct {
	EnabledTypes []string `json:"enabledTypes"`
}
