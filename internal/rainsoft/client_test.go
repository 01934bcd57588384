package rainsoft_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"codeberg.org/mutker/rainsoftctl/internal/rainsoft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *rainsoft.Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return rainsoft.NewClient(server.Client(), server.URL)
}

func TestLogin(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/login", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "ionic://localhost", r.Header.Get("Origin"))

		require.NoError(t, r.ParseForm())
		assert.Equal(t, "user@example.com", r.PostForm.Get("email"))
		assert.Equal(t, "hunter2", r.PostForm.Get("password"))

		w.Write([]byte(`{"authentication_token": "tok-123"}`))
	}))

	session, err := client.Login(context.Background(), rainsoft.NewCredentials("User@Example.com ", "hunter2"))
	require.NoError(t, err)

	assert.Equal(t, "tok-123", session.Token)
	assert.True(t, session.ExpiresAt.IsZero(), "login response carries no expiry")
}

func TestLoginRejected(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := client.Login(context.Background(), rainsoft.NewCredentials("user@example.com", "wrong"))
	require.Error(t, err)

	assert.True(t, rainsoft.IsAuth(err))
	assert.False(t, rainsoft.IsSessionRejected(err), "a login rejection is not a session rejection")
}

func TestLoginInvalidEnvelope(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"unexpected": true}`))
	}))

	_, err := client.Login(context.Background(), rainsoft.NewCredentials("user@example.com", "hunter2"))
	require.Error(t, err)
	assert.True(t, rainsoft.IsAuth(err))
}

func TestCustomerID(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/customer", r.URL.Path)
		assert.Equal(t, "tok-123", r.Header.Get("X-Remind-Auth-Token"))

		w.Write([]byte(`{"id": 987}`))
	}))

	id, err := client.CustomerID(context.Background(), rainsoft.Session{Token: "tok-123"})
	require.NoError(t, err)
	assert.Equal(t, "987", id)
}

func TestListDevices(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/locations/987", r.URL.Path)

		w.Write([]byte(`{
			"locationListData": [
				{
					"id": 1, "name": "Home",
					"devices": [
						{"id": 42, "name": "Basement Softener"},
						{"id": "43", "name": "Garage Softener"}
					]
				},
				{"id": 2, "name": "Cabin", "devices": []}
			]
		}`))
	}))

	devices, err := client.ListDevices(context.Background(), rainsoft.Session{Token: "tok-123"}, "987")
	require.NoError(t, err)
	require.Len(t, devices, 2)

	assert.Equal(t, "42", devices[0].ID)
	assert.Equal(t, "Basement Softener", devices[0].Label)
	assert.Equal(t, "1", devices[0].LocationID)
	assert.Equal(t, "Home", devices[0].LocationName)
	assert.Equal(t, "43", devices[1].ID)
}

func TestListDevicesInvalidEnvelope(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"somethingElse": []}`))
	}))

	_, err := client.ListDevices(context.Background(), rainsoft.Session{Token: "tok-123"}, "987")
	require.Error(t, err)
	assert.True(t, rainsoft.IsAPI(err))
}

func TestFetchTelemetry(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/device/42", r.URL.Path)

		w.Write([]byte(`{"device": {"salt_level": 55, "system_status_name": "Normal"}}`))
	}))

	raw, err := client.FetchTelemetry(context.Background(), rainsoft.Session{Token: "tok-123"}, "42")
	require.NoError(t, err)
	assert.Equal(t, float64(55), raw["salt_level"])
}

func TestStatusClassification(t *testing.T) {
	tests := []struct {
		status          int
		wantKind        rainsoft.Kind
		sessionRejected bool
	}{
		{http.StatusUnauthorized, rainsoft.KindAuth, true},
		{http.StatusForbidden, rainsoft.KindAuth, true},
		{http.StatusBadRequest, rainsoft.KindAuth, true}, // stale token answers 400
		{http.StatusNotFound, rainsoft.KindAPI, false},
		{http.StatusInternalServerError, rainsoft.KindAPI, false},
		{http.StatusBadGateway, rainsoft.KindAPI, false},
	}

	for _, tt := range tests {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tt.status)
		}))

		_, err := client.FetchTelemetry(context.Background(), rainsoft.Session{Token: "tok-123"}, "42")
		require.Error(t, err, "status %d", tt.status)
		assert.Equal(t, tt.wantKind, rainsoft.KindOf(err), "status %d", tt.status)
		assert.Equal(t, tt.sessionRejected, rainsoft.IsSessionRejected(err), "status %d", tt.status)
	}
}

func TestConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client := rainsoft.NewClient(&http.Client{Timeout: time.Second}, url)

	_, err := client.FetchTelemetry(context.Background(), rainsoft.Session{Token: "tok-123"}, "42")
	require.Error(t, err)
	assert.True(t, rainsoft.IsNetwork(err))
}

func TestRequestTimeout(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.FetchTelemetry(ctx, rainsoft.Session{Token: "tok-123"}, "42")
	require.Error(t, err)
	assert.True(t, rainsoft.IsNetwork(err))
}
