package rainsoft

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/rainsoftctl/internal/logger"
)

// expiryMargin is the safety window before a known expiry within which the
// session is treated as already expired.
const expiryMargin = time.Minute

type sessionManager struct {
	auth  Authenticator
	creds Credentials

	mu      sync.Mutex
	session Session
}

// NewSessionManager returns a SessionManager that logs in through auth with
// the given credentials and caches the resulting session.
func NewSessionManager(auth Authenticator, creds Credentials) SessionManager {
	return &sessionManager{
		auth:  auth,
		creds: creds,
	}
}

func (m *sessionManager) EnsureValidSession(ctx context.Context) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session.Valid(time.Now(), expiryMargin) {
		return m.session, nil
	}

	session, err := m.auth.Login(ctx, m.creds)
	if err != nil {
		if IsAuth(err) {
			// Rejected credentials invalidate whatever we held; retrying the
			// same login cannot succeed, so the caller must surface this.
			m.session = Session{}
		}

		return Session{}, err
	}

	m.session = session
	logger.Debug().Str("email", MaskEmail(m.creds.Email())).Msg("Authenticated with vendor API")

	return m.session, nil
}

func (m *sessionManager) Invalidate() {
	m.mu.Lock()
	m.session = Session{}
	m.mu.Unlock()
}
