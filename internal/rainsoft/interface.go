package rainsoft

import (
	"context"
	"time"
)

// Session holds the vendor access token and, when known, its expiry. The
// Remind login response carries no expiry field, so a zero ExpiresAt marks
// the session as valid until a request using it is rejected.
type Session struct {
	Token     string
	ExpiresAt time.Time
}

// Valid reports whether the session can still be used at the given time,
// keeping a safety margin before a known expiry.
func (s Session) Valid(now time.Time, margin time.Duration) bool {
	if s.Token == "" {
		return false
	}
	if s.ExpiresAt.IsZero() {
		return true
	}

	return now.Add(margin).Before(s.ExpiresAt)
}

// DeviceIdentity identifies one water softener unit on the account.
type DeviceIdentity struct {
	ID           string
	Label        string
	LocationID   string
	LocationName string
}

// RawTelemetry is the undecoded device document returned by the vendor API.
// Only MapSnapshot knows its field layout.
type RawTelemetry map[string]any

// DeviceSnapshot is an immutable, fully-validated point-in-time view of one
// device. A new snapshot replaces the previous one wholesale; it is never
// mutated in place.
type DeviceSnapshot struct {
	DeviceID        string
	SaltPercent     int
	CapacityPercent int
	LastRegen       *time.Time // calendar date at UTC midnight
	NextRegen       *time.Time
	AlertActive     bool
	Regenerating    bool
	SaltLow         bool
	Status          string
	Name            string
	Model           string
	SerialNumber    string
	FirmwareVersion string
	DealerName      string
	DealerPhone     string
	FetchedAt       time.Time
}

// Authenticator performs a fresh login against the vendor API.
type Authenticator interface {
	Login(ctx context.Context, creds Credentials) (Session, error)
}

// SessionManager owns the access token lifecycle.
type SessionManager interface {
	// EnsureValidSession returns the held session, performing a fresh login
	// first when no session exists or the held one is expired.
	EnsureValidSession(ctx context.Context) (Session, error)

	// Invalidate drops the held session so the next EnsureValidSession
	// performs a fresh login. Called when a request using the session is
	// rejected by the API.
	Invalidate()
}

// API issues authenticated requests against the vendor cloud. Implementations
// perform no retries; retry policy belongs entirely to the caller.
type API interface {
	CustomerID(ctx context.Context, session Session) (string, error)
	ListDevices(ctx context.Context, session Session, customerID string) ([]DeviceIdentity, error)
	FetchTelemetry(ctx context.Context, session Session, deviceID string) (RawTelemetry, error)

	// ForceUpdate asks the vendor backend to pull fresh data from the unit.
	ForceUpdate(ctx context.Context, session Session) error
}
