package rainsoft_test

import (
	"context"
	"testing"
	"time"

	"codeberg.org/mutker/rainsoftctl/internal/errors"
	"codeberg.org/mutker/rainsoftctl/internal/rainsoft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAuthenticator struct {
	sessions []rainsoft.Session
	errs     []error
	calls    int
}

func (f *fakeAuthenticator) Login(_ context.Context, _ rainsoft.Credentials) (rainsoft.Session, error) {
	i := f.calls
	f.calls++

	if i < len(f.errs) && f.errs[i] != nil {
		return rainsoft.Session{}, f.errs[i]
	}
	if i < len(f.sessions) {
		return f.sessions[i], nil
	}

	return rainsoft.Session{Token: "fallback"}, nil
}

func authErr() error {
	return errors.New().New(rainsoft.ErrLoginRejected)
}

func TestEnsureValidSessionCachesToken(t *testing.T) {
	auth := &fakeAuthenticator{sessions: []rainsoft.Session{{Token: "tok-1"}}}
	manager := rainsoft.NewSessionManager(auth, rainsoft.NewCredentials("user@example.com", "pw"))

	first, err := manager.EnsureValidSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", first.Token)

	// A session without expiry stays valid until invalidated
	second, err := manager.EnsureValidSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", second.Token)
	assert.Equal(t, 1, auth.calls, "cached session must not trigger a second login")
}

func TestEnsureValidSessionAfterInvalidate(t *testing.T) {
	auth := &fakeAuthenticator{sessions: []rainsoft.Session{{Token: "tok-1"}, {Token: "tok-2"}}}
	manager := rainsoft.NewSessionManager(auth, rainsoft.NewCredentials("user@example.com", "pw"))

	_, err := manager.EnsureValidSession(context.Background())
	require.NoError(t, err)

	manager.Invalidate()

	session, err := manager.EnsureValidSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-2", session.Token)
	assert.Equal(t, 2, auth.calls)
}

func TestEnsureValidSessionRefreshesExpired(t *testing.T) {
	expired := rainsoft.Session{Token: "tok-old", ExpiresAt: time.Now().Add(-time.Hour)}
	auth := &fakeAuthenticator{sessions: []rainsoft.Session{expired, {Token: "tok-new"}}}
	manager := rainsoft.NewSessionManager(auth, rainsoft.NewCredentials("user@example.com", "pw"))

	first, err := manager.EnsureValidSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-old", first.Token)

	// The held session is already past its expiry, so the next call logs in again
	second, err := manager.EnsureValidSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-new", second.Token)
}

func TestEnsureValidSessionExpiryMargin(t *testing.T) {
	closeToExpiry := rainsoft.Session{Token: "tok-old", ExpiresAt: time.Now().Add(10 * time.Second)}
	auth := &fakeAuthenticator{sessions: []rainsoft.Session{closeToExpiry, {Token: "tok-new"}}}
	manager := rainsoft.NewSessionManager(auth, rainsoft.NewCredentials("user@example.com", "pw"))

	_, err := manager.EnsureValidSession(context.Background())
	require.NoError(t, err)

	// Within the safety margin of expiry counts as expired
	session, err := manager.EnsureValidSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-new", session.Token)
}

func TestEnsureValidSessionRejectedCredentials(t *testing.T) {
	auth := &fakeAuthenticator{errs: []error{authErr(), authErr()}}
	manager := rainsoft.NewSessionManager(auth, rainsoft.NewCredentials("user@example.com", "wrong"))

	_, err := manager.EnsureValidSession(context.Background())
	require.Error(t, err)
	assert.True(t, rainsoft.IsAuth(err))
	assert.Equal(t, 1, auth.calls, "a rejected login must not auto-retry")
}

func TestSessionValid(t *testing.T) {
	now := time.Now()

	assert.False(t, rainsoft.Session{}.Valid(now, time.Minute), "empty session is invalid")
	assert.True(t, rainsoft.Session{Token: "t"}.Valid(now, time.Minute), "no expiry means valid until rejected")
	assert.True(t, rainsoft.Session{Token: "t", ExpiresAt: now.Add(time.Hour)}.Valid(now, time.Minute))
	assert.False(t, rainsoft.Session{Token: "t", ExpiresAt: now.Add(30 * time.Second)}.Valid(now, time.Minute),
		"expiring within the margin counts as expired")
	assert.False(t, rainsoft.Session{Token: "t", ExpiresAt: now.Add(-time.Hour)}.Valid(now, time.Minute))
}
