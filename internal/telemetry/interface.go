package telemetry

import (
	"context"
	"time"
)

// Collector defines the core domain interface
type Collector interface {
	Record(ctx context.Context, sample *Sample) error
	Close() error
}

// Repository defines the interface for sample storage
type Repository interface {
	Record(sample *Sample) error
	Close() error
}

// Sample is one poll result persisted to history
type Sample struct {
	Timestamp       time.Time
	DeviceID        string
	SaltPercent     int
	CapacityPercent int
	AlertActive     bool
	Regenerating    bool
	SaltLow         bool
	Status          string
	LastRegen       *time.Time
	NextRegen       *time.Time
}
