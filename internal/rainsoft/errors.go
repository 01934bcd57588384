package rainsoft

import "codeberg.org/mutker/rainsoftctl/internal/errors"

const (
	// Authentication errors
	ErrLoginRejected   = errors.ErrorCode("rainsoft_login_rejected")
	ErrLoginEnvelope   = errors.ErrorCode("rainsoft_login_envelope_invalid")
	ErrSessionRejected = errors.ErrorCode("rainsoft_session_rejected")

	// Network errors
	ErrConnection = errors.ErrorCode("rainsoft_connection_failed")
	ErrTimeout    = errors.ErrorCode("rainsoft_request_timeout")

	// API errors
	ErrStatus         = errors.ErrorCode("rainsoft_unexpected_status")
	ErrEnvelope       = errors.ErrorCode("rainsoft_envelope_invalid")
	ErrNoDevices      = errors.ErrorCode("rainsoft_no_devices")
	ErrDeviceNotFound = errors.ErrorCode("rainsoft_device_not_found")

	// Mapping errors
	ErrMissingField = errors.ErrorCode("rainsoft_missing_field")
	ErrInvalidField = errors.ErrorCode("rainsoft_invalid_field")
)

// Kind buckets error codes by how the caller should react: auth failures are
// user-actionable and never retried blindly, everything else is transient.
type Kind string

const (
	KindNone    Kind = ""
	KindAuth    Kind = "auth"
	KindNetwork Kind = "network"
	KindAPI     Kind = "api"
	KindMapping Kind = "mapping"
)

var errorKinds = map[errors.ErrorCode]Kind{
	ErrLoginRejected:   KindAuth,
	ErrLoginEnvelope:   KindAuth,
	ErrSessionRejected: KindAuth,
	ErrConnection:      KindNetwork,
	ErrTimeout:         KindNetwork,
	ErrStatus:          KindAPI,
	ErrEnvelope:        KindAPI,
	ErrNoDevices:       KindAPI,
	ErrDeviceNotFound:  KindAPI,
	ErrMissingField:    KindMapping,
	ErrInvalidField:    KindMapping,
}

// KindOf walks the error chain and returns the first recognized Kind.
func KindOf(err error) Kind {
	for err != nil {
		var appErr errors.Error
		if !errors.As(err, &appErr) {
			err = errors.Unwrap(err)
			continue
		}
		if kind, ok := errorKinds[appErr.Code()]; ok {
			return kind
		}
		err = appErr.Unwrap()
	}

	return KindNone
}

// IsAuth reports whether err is a credential or token rejection.
func IsAuth(err error) bool {
	return KindOf(err) == KindAuth
}

// IsNetwork reports whether err is a connectivity or timeout failure.
func IsNetwork(err error) bool {
	return KindOf(err) == KindNetwork
}

// IsAPI reports whether err is a non-auth vendor API failure.
func IsAPI(err error) bool {
	return KindOf(err) == KindAPI
}

// IsMapping reports whether err came from snapshot mapping.
func IsMapping(err error) bool {
	return KindOf(err) == KindMapping
}

// IsSessionRejected reports whether a previously issued token was rejected
// mid-request, which warrants exactly one re-login before surfacing failure.
func IsSessionRejected(err error) bool {
	return hasCode(err, ErrSessionRejected)
}

func hasCode(err error, code errors.ErrorCode) bool {
	for err != nil {
		var appErr errors.Error
		if !errors.As(err, &appErr) {
			err = errors.Unwrap(err)
			continue
		}
		if appErr.Code() == code {
			return true
		}
		err = appErr.Unwrap()
	}

	return false
}
