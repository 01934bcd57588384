package rainsoft

import (
	"strconv"
	"strings"
	"time"

	"codeberg.org/mutker/rainsoftctl/internal/errors"
	"codeberg.org/mutker/rainsoftctl/internal/logger"
)

// saltLowThreshold is the percentage below which the salt bin needs refilling.
const saltLowThreshold = 20

// statusNormal is the vendor's "nothing to report" system status.
const statusNormal = "normal"

// Vendor date fields arrive in a handful of textual shapes.
var vendorDateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// MapSnapshot converts a raw telemetry document into a typed DeviceSnapshot.
// All vendor payload quirks live here: percent fields are clamped to [0, 100],
// dates fall back to nil when absent or unparsable, and the derived flags
// (salt low, regenerating, alert) are computed rather than read. A required
// field that is missing or of the wrong shape fails the whole mapping; a
// partial snapshot is never produced.
func MapSnapshot(raw RawTelemetry, fetchedAt time.Time) (DeviceSnapshot, error) {
	errFactory := errors.New()

	if raw == nil {
		return DeviceSnapshot{}, errFactory.WithMessage(ErrMissingField, "empty telemetry document")
	}

	salt, err := intField(raw, "salt_level")
	if err != nil {
		return DeviceSnapshot{}, err
	}

	capacity, err := intField(raw, "capacity_remaining")
	if err != nil {
		return DeviceSnapshot{}, err
	}

	status, err := stringField(raw, "system_status_name")
	if err != nil {
		return DeviceSnapshot{}, err
	}
	normalized := strings.ToLower(strings.TrimSpace(status))

	snapshot := DeviceSnapshot{
		DeviceID:        asID(raw["id"]),
		SaltPercent:     clampPercent(salt, "salt_level"),
		CapacityPercent: clampPercent(capacity, "capacity_remaining"),
		LastRegen:       parseVendorDate(optString(raw, "last_regeneration_date")),
		NextRegen:       parseVendorDate(optString(raw, "next_regeneration_time")),
		AlertActive:     normalized != "" && normalized != statusNormal,
		Regenerating:    strings.Contains(normalized, "regenerat"),
		Status:          status,
		Name:            optString(raw, "name"),
		Model:           optString(raw, "model"),
		SerialNumber:    optString(raw, "serial_number"),
		FirmwareVersion: optString(raw, "firmware_version"),
		DealerName:      optString(raw, "dealer_name"),
		DealerPhone:     optString(raw, "dealer_phone"),
		FetchedAt:       fetchedAt,
	}
	snapshot.SaltLow = snapshot.SaltPercent < saltLowThreshold

	return snapshot, nil
}

// intField extracts a required numeric field. JSON numbers arrive as float64;
// the vendor occasionally reports numbers as decimal strings.
func intField(raw RawTelemetry, key string) (int, error) {
	errFactory := errors.New()

	value, ok := raw[key]
	if !ok || value == nil {
		return 0, errFactory.WithData(ErrMissingField, key)
	}

	switch v := value.(type) {
	case float64:
		return int(v), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, errFactory.WithData(ErrInvalidField, key)
		}

		return n, nil
	default:
		return 0, errFactory.WithData(ErrInvalidField, key)
	}
}

func stringField(raw RawTelemetry, key string) (string, error) {
	errFactory := errors.New()

	value, ok := raw[key]
	if !ok || value == nil {
		return "", errFactory.WithData(ErrMissingField, key)
	}

	s, ok := value.(string)
	if !ok {
		return "", errFactory.WithData(ErrInvalidField, key)
	}

	return s, nil
}

func optString(raw RawTelemetry, key string) string {
	s, _ := raw[key].(string)

	return s
}

// clampPercent treats out-of-range readings as sensor noise, not an error.
func clampPercent(value int, field string) int {
	if value < 0 || value > 100 {
		logger.Debug().Str("field", field).Int("value", value).Msg("Out of range value clamped")
	}
	if value < 0 {
		return 0
	}
	if value > 100 {
		return 100
	}

	return value
}

// parseVendorDate reduces a vendor date or datetime string to a calendar date
// at UTC midnight. Empty, sentinel and unparsable values map to nil.
func parseVendorDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "none", "null", "n/a":
		return nil
	}

	for _, layout := range vendorDateLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}

		date := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)

		return &date
	}

	logger.Warn().Str("value", s).Msg("Could not parse vendor date")

	return nil
}
