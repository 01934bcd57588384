package rainsoft

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"codeberg.org/mutker/rainsoftctl/internal/errors"
	"codeberg.org/mutker/rainsoftctl/internal/logger"
)

const (
	// DefaultBaseURL is the fixed Remind API endpoint.
	DefaultBaseURL = "https://remind.rainsoft.com/api/remindapp/v2"

	// DefaultTimeout bounds each request so a slow vendor backend cannot
	// stall a refresh cycle indefinitely.
	DefaultTimeout = 30 * time.Second

	headerAuthToken = "X-Remind-Auth-Token"
	headerOrigin    = "ionic://localhost"
)

// Client is a stateless request/response translator for the Remind API.
// It performs no retries and holds no token state of its own.
type Client struct {
	http    *http.Client
	baseURL string
}

// NewClient wraps httpClient for the Remind API at baseURL. Both arguments
// may be zero-valued to get bounded-timeout defaults against the production
// endpoint.
func NewClient(httpClient *http.Client, baseURL string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Client{
		http:    httpClient,
		baseURL: baseURL,
	}
}

// Login implements Authenticator. The endpoint accepts form-encoded
// credentials and answers with an authentication token and no expiry.
func (c *Client) Login(ctx context.Context, creds Credentials) (Session, error) {
	errFactory := errors.New()

	form := url.Values{}
	form.Set("email", creds.Email())
	form.Set("password", creds.Password())

	payload, err := c.do(ctx, request{
		method:      http.MethodPost,
		path:        "/login",
		body:        strings.NewReader(form.Encode()),
		contentType: "application/x-www-form-urlencoded",
		authCode:    ErrLoginRejected,
	})
	if err != nil {
		return Session{}, err
	}

	var envelope struct {
		AuthenticationToken string `json:"authentication_token"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return Session{}, errFactory.Wrap(ErrLoginEnvelope, err)
	}
	if envelope.AuthenticationToken == "" {
		return Session{}, errFactory.WithMessage(ErrLoginEnvelope, "login response has no authentication_token")
	}

	return Session{Token: envelope.AuthenticationToken}, nil
}

// CustomerID resolves the account's customer ID, needed for device listing.
func (c *Client) CustomerID(ctx context.Context, session Session) (string, error) {
	errFactory := errors.New()

	payload, err := c.get(ctx, session, "/customer")
	if err != nil {
		return "", err
	}

	var envelope struct {
		ID any `json:"id"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return "", errFactory.Wrap(ErrEnvelope, err)
	}

	id := asID(envelope.ID)
	if id == "" {
		return "", errFactory.WithMessage(ErrEnvelope, "customer response has no id")
	}

	return id, nil
}

// ListDevices flattens the account's locations into one device list, keeping
// each device's location for labelling.
func (c *Client) ListDevices(ctx context.Context, session Session, customerID string) ([]DeviceIdentity, error) {
	errFactory := errors.New()

	payload, err := c.get(ctx, session, "/locations/"+url.PathEscape(customerID))
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Locations []struct {
			ID      any    `json:"id"`
			Name    string `json:"name"`
			Devices []struct {
				ID   any    `json:"id"`
				Name string `json:"name"`
			} `json:"devices"`
		} `json:"locationListData"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, errFactory.Wrap(ErrEnvelope, err)
	}
	if envelope.Locations == nil {
		return nil, errFactory.WithMessage(ErrEnvelope, "locations response has no locationListData")
	}

	var devices []DeviceIdentity
	for _, location := range envelope.Locations {
		for _, device := range location.Devices {
			devices = append(devices, DeviceIdentity{
				ID:           asID(device.ID),
				Label:        device.Name,
				LocationID:   asID(location.ID),
				LocationName: location.Name,
			})
		}
	}

	logger.Debug().Int("devices", len(devices)).Msg("Device list fetched")

	return devices, nil
}

// FetchTelemetry returns the raw telemetry document for one device.
func (c *Client) FetchTelemetry(ctx context.Context, session Session, deviceID string) (RawTelemetry, error) {
	errFactory := errors.New()

	payload, err := c.get(ctx, session, "/device/"+url.PathEscape(deviceID))
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Device RawTelemetry `json:"device"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, errFactory.Wrap(ErrEnvelope, err)
	}
	if envelope.Device == nil {
		return nil, errFactory.WithMessage(ErrEnvelope, "device response has no device document")
	}

	return envelope.Device, nil
}

// ForceUpdate asks the backend to pull fresh data from the unit before the
// next telemetry fetch.
func (c *Client) ForceUpdate(ctx context.Context, session Session) error {
	_, err := c.get(ctx, session, "/forceupdate")

	return err
}

type request struct {
	method      string
	path        string
	body        io.Reader
	contentType string
	token       string

	// authCode is the error code raised for 401/403 responses, so a login
	// rejection and a mid-request session rejection stay distinguishable.
	authCode errors.ErrorCode
}

func (c *Client) get(ctx context.Context, session Session, path string) ([]byte, error) {
	return c.do(ctx, request{
		method:   http.MethodGet,
		path:     path,
		token:    session.Token,
		authCode: ErrSessionRejected,
	})
}

func (c *Client) do(ctx context.Context, r request) ([]byte, error) {
	errFactory := errors.New()

	req, err := http.NewRequestWithContext(ctx, r.method, c.baseURL+r.path, r.body)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrInternal, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Origin", headerOrigin)
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	if r.token != "" {
		req.Header.Set(headerAuthToken, r.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, errFactory.Wrap(ErrTimeout, err)
		}

		return nil, errFactory.Wrap(ErrConnection, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errFactory.Wrap(ErrConnection, err)
	}

	logger.Debug().
		Str("method", r.method).
		Str("path", r.path).
		Int("status", resp.StatusCode).
		Msg("API request")

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, errFactory.WithData(r.authCode, resp.StatusCode)
	case resp.StatusCode == http.StatusBadRequest && r.token != "":
		// The backend answers 400 when it no longer recognizes a token
		return nil, errFactory.WithData(ErrSessionRejected, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, errFactory.WithData(ErrStatus, fmt.Sprintf("%s %s: %d", r.method, r.path, resp.StatusCode))
	}

	return payload, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error

	return errors.As(err, &netErr) && netErr.Timeout()
}

// asID normalizes the vendor's id fields, which arrive as either JSON
// numbers or strings.
func asID(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return strconv.FormatInt(int64(id), 10)
	case json.Number:
		return id.String()
	default:
		return ""
	}
}
