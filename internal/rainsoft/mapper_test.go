package rainsoft_test

import (
	"testing"
	"time"

	"codeberg.org/mutker/rainsoftctl/internal/rainsoft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func telemetryFixture() rainsoft.RawTelemetry {
	return rainsoft.RawTelemetry{
		"id":                     float64(42),
		"name":                   "Basement Softener",
		"model":                  "EC5",
		"serial_number":          "SN-1234",
		"firmware_version":       "1.2.3",
		"salt_level":             float64(15),
		"capacity_remaining":     float64(40),
		"system_status_name":     "Normal",
		"last_regeneration_date": "2024-01-01",
		"next_regeneration_time": nil,
		"dealer_name":            "Acme Water",
		"dealer_phone":           "555-0100",
	}
}

func TestMapSnapshot(t *testing.T) {
	fetchedAt := time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC)

	snapshot, err := rainsoft.MapSnapshot(telemetryFixture(), fetchedAt)
	require.NoError(t, err)

	assert.Equal(t, "42", snapshot.DeviceID)
	assert.Equal(t, 15, snapshot.SaltPercent)
	assert.Equal(t, 40, snapshot.CapacityPercent)
	require.NotNil(t, snapshot.LastRegen)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), *snapshot.LastRegen)
	assert.Nil(t, snapshot.NextRegen)
	assert.False(t, snapshot.AlertActive)
	assert.False(t, snapshot.Regenerating)
	assert.True(t, snapshot.SaltLow, "15%% salt is below the 20%% threshold")
	assert.Equal(t, "Basement Softener", snapshot.Name)
	assert.Equal(t, "EC5", snapshot.Model)
	assert.Equal(t, fetchedAt, snapshot.FetchedAt)
}

func TestMapSnapshotSaltLowDerivation(t *testing.T) {
	tests := []struct {
		salt    float64
		saltLow bool
	}{
		{0, true},
		{19, true},
		{20, false},
		{100, false},
	}

	for _, tt := range tests {
		raw := telemetryFixture()
		raw["salt_level"] = tt.salt

		snapshot, err := rainsoft.MapSnapshot(raw, time.Now())
		require.NoError(t, err)
		assert.Equal(t, tt.saltLow, snapshot.SaltLow, "salt_level %v", tt.salt)
	}
}

func TestMapSnapshotClampsOutOfRange(t *testing.T) {
	raw := telemetryFixture()
	raw["salt_level"] = float64(130)
	raw["capacity_remaining"] = float64(-5)

	snapshot, err := rainsoft.MapSnapshot(raw, time.Now())
	require.NoError(t, err, "out-of-range values are sensor noise, not an error")

	assert.Equal(t, 100, snapshot.SaltPercent)
	assert.Equal(t, 0, snapshot.CapacityPercent)
	assert.False(t, snapshot.SaltLow)
}

func TestMapSnapshotMissingRequiredField(t *testing.T) {
	for _, field := range []string{"salt_level", "capacity_remaining", "system_status_name"} {
		raw := telemetryFixture()
		delete(raw, field)

		_, err := rainsoft.MapSnapshot(raw, time.Now())
		require.Error(t, err, "missing %s should fail the mapping", field)
		assert.True(t, rainsoft.IsMapping(err))
	}
}

func TestMapSnapshotWrongFieldType(t *testing.T) {
	raw := telemetryFixture()
	raw["salt_level"] = map[string]any{"value": 15}

	_, err := rainsoft.MapSnapshot(raw, time.Now())
	require.Error(t, err)
	assert.True(t, rainsoft.IsMapping(err))
}

func TestMapSnapshotNumericString(t *testing.T) {
	raw := telemetryFixture()
	raw["salt_level"] = "35"

	snapshot, err := rainsoft.MapSnapshot(raw, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 35, snapshot.SaltPercent)
}

func TestMapSnapshotStatusDerivations(t *testing.T) {
	tests := []struct {
		status       string
		alert        bool
		regenerating bool
	}{
		{"Normal", false, false},
		{"normal", false, false},
		{"Regenerating", true, true},
		{"Salt Low", true, false},
		{"Error", true, false},
	}

	for _, tt := range tests {
		raw := telemetryFixture()
		raw["system_status_name"] = tt.status

		snapshot, err := rainsoft.MapSnapshot(raw, time.Now())
		require.NoError(t, err)
		assert.Equal(t, tt.alert, snapshot.AlertActive, "status %q", tt.status)
		assert.Equal(t, tt.regenerating, snapshot.Regenerating, "status %q", tt.status)
	}
}

func TestMapSnapshotDates(t *testing.T) {
	jan1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		value string
		want  *time.Time
	}{
		{"2024-01-01", &jan1},
		{"2024-01-01T06:30:00Z", &jan1},
		{"2024-01-01 06:30:00", &jan1},
		{"", nil},
		{"none", nil},
		{"not a date", nil},
	}

	for _, tt := range tests {
		raw := telemetryFixture()
		raw["last_regeneration_date"] = tt.value

		snapshot, err := rainsoft.MapSnapshot(raw, time.Now())
		require.NoError(t, err, "date %q must not fail the mapping", tt.value)

		if tt.want == nil {
			assert.Nil(t, snapshot.LastRegen, "date %q", tt.value)
		} else {
			require.NotNil(t, snapshot.LastRegen, "date %q", tt.value)
			assert.Equal(t, *tt.want, *snapshot.LastRegen, "date %q", tt.value)
		}
	}
}

func TestMapSnapshotEmptyDocument(t *testing.T) {
	_, err := rainsoft.MapSnapshot(nil, time.Now())
	require.Error(t, err)
	assert.True(t, rainsoft.IsMapping(err))
}
