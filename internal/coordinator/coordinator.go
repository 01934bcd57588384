package coordinator

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/rainsoftctl/internal/errors"
	"codeberg.org/mutker/rainsoftctl/internal/logger"
	"codeberg.org/mutker/rainsoftctl/internal/rainsoft"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultBackoffBase is the first retry delay after a failure; it doubles
	// per consecutive failure up to the poll interval.
	DefaultBackoffBase = 30 * time.Second

	updateBuffer = 16

	refreshKey = "refresh"
)

type Config struct {
	// Interval is the poll cadence. It also caps the retry backoff so
	// failures never delay longer than the configured cadence.
	Interval time.Duration

	// BackoffBase overrides DefaultBackoffBase when positive.
	BackoffBase time.Duration

	// DeviceID pins polling to one device. Empty selects the first device
	// discovered on the account.
	DeviceID string
}

func (c Config) withDefaults() Config {
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}

	return c
}

// Coordinator owns the poll/refresh/backoff state machine. Refresh cycles
// are strictly sequential; concurrent refresh requests coalesce onto the
// in-flight cycle and share its outcome.
type Coordinator struct {
	cfg      Config
	sessions rainsoft.SessionManager
	api      rainsoft.API

	group   singleflight.Group
	resched chan struct{}
	updates chan Update

	mu         sync.Mutex
	state      CoordinatorState
	customerID string
	devices    []rainsoft.DeviceIdentity
	runCtx     context.Context
}

func New(cfg Config, sessions rainsoft.SessionManager, api rainsoft.API) (*Coordinator, error) {
	errFactory := errors.New()

	if cfg.Interval <= 0 {
		return nil, errFactory.WithData(errors.ErrInvalidInterval, cfg.Interval)
	}
	if sessions == nil || api == nil {
		return nil, errFactory.WithMessage(errors.ErrInvalidArgument, "session manager and API client are required")
	}

	return &Coordinator{
		cfg:      cfg.withDefaults(),
		sessions: sessions,
		api:      api,
		resched:  make(chan struct{}, 1),
		updates:  make(chan Update, updateBuffer),
	}, nil
}

// Run drives the timer loop until ctx is cancelled. The first refresh happens
// immediately; afterwards the next attempt is scheduled from the state's
// NextPollAt, which the refresh cycle sets to either the poll interval or the
// current backoff delay. While AuthRequired is set the timer is parked, since
// retrying rejected credentials cannot succeed; an explicit RequestRefresh
// still works.
func (c *Coordinator) Run(ctx context.Context) error {
	c.mu.Lock()
	c.runCtx = ctx
	c.mu.Unlock()

	c.refresh(ctx)

	for {
		state := c.State()

		var timer *time.Timer
		var fire <-chan time.Time
		if !state.AuthRequired {
			timer = time.NewTimer(time.Until(state.NextPollAt))
			fire = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}

			return nil
		case <-c.resched:
			// State changed outside the loop; recompute the timer
			if timer != nil {
				timer.Stop()
			}
		case <-fire:
			c.refresh(ctx)
		}
	}
}

// RequestRefresh triggers an on-demand refresh cycle. A request arriving
// while a cycle is in flight does not start a second fetch; it waits for the
// in-flight cycle and reuses its outcome. The ctx only bounds the wait, the
// cycle itself runs under the coordinator's lifetime context so an impatient
// caller cannot abort a shared fetch.
func (c *Coordinator) RequestRefresh(ctx context.Context) error {
	ch := c.group.DoChan(refreshKey, func() (any, error) {
		return nil, c.runCycle(c.cycleContext())
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		c.reschedule()

		return res.Err
	}
}

// State returns a copy of the latest coordinator state. It never blocks on
// I/O and repeated calls between refreshes return identical values.
func (c *Coordinator) State() CoordinatorState {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.copyStateLocked()
}

// Updates returns the notification channel, delivering one Update per
// completed refresh cycle. Sends never block; when a consumer falls behind,
// notifications are dropped and State() still holds the latest outcome.
func (c *Coordinator) Updates() <-chan Update {
	return c.updates
}

func (c *Coordinator) refresh(ctx context.Context) {
	_, _, _ = c.group.Do(refreshKey, func() (any, error) {
		return nil, c.runCycle(ctx)
	})
}

func (c *Coordinator) cycleContext() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.runCtx != nil {
		return c.runCtx
	}

	return context.Background()
}

func (c *Coordinator) reschedule() {
	select {
	case c.resched <- struct{}{}:
	default:
	}
}

// runCycle executes one full refresh: ensure session, discover devices,
// fetch telemetry, map, commit. It is the only writer of CoordinatorState.
func (c *Coordinator) runCycle(ctx context.Context) error {
	cycle := uuid.NewString()[:8]

	c.mu.Lock()
	c.state.Phase = PhaseRefreshing
	c.mu.Unlock()

	logger.Debug().Str("cycle", cycle).Msg("Refresh cycle started")

	snapshot, err := c.fetch(ctx, cycle)

	if ctx.Err() != nil {
		// A cancelled cycle must not publish partial results
		logger.Debug().Str("cycle", cycle).Msg("Refresh cycle cancelled")

		return ctx.Err()
	}

	c.commit(snapshot, err)

	return err
}

// fetch runs the pipeline once and, when the held token is rejected
// mid-request, re-authenticates exactly once before surfacing the failure.
func (c *Coordinator) fetch(ctx context.Context, cycle string) (*rainsoft.DeviceSnapshot, error) {
	snapshot, err := c.fetchOnce(ctx)
	if err == nil || !rainsoft.IsSessionRejected(err) {
		return snapshot, err
	}

	logger.Debug().Str("cycle", cycle).Msg("Session rejected, re-authenticating once")
	c.sessions.Invalidate()

	return c.fetchOnce(ctx)
}

func (c *Coordinator) fetchOnce(ctx context.Context) (*rainsoft.DeviceSnapshot, error) {
	session, err := c.sessions.EnsureValidSession(ctx)
	if err != nil {
		return nil, err
	}

	deviceID, err := c.targetDevice(ctx, session)
	if err != nil {
		return nil, err
	}

	// Best effort: ask the backend for fresh data before reading it
	if err := c.api.ForceUpdate(ctx, session); err != nil {
		logger.Warn().Err(err).Msg("Force update request failed")
	}

	raw, err := c.api.FetchTelemetry(ctx, session, deviceID)
	if err != nil {
		return nil, err
	}

	snapshot, err := rainsoft.MapSnapshot(raw, time.Now())
	if err != nil {
		return nil, err
	}

	return &snapshot, nil
}

// targetDevice resolves the device to poll, discovering the customer ID and
// device list on the first cycle and caching them afterwards.
func (c *Coordinator) targetDevice(ctx context.Context, session rainsoft.Session) (string, error) {
	errFactory := errors.New()

	c.mu.Lock()
	devices := c.devices
	customerID := c.customerID
	c.mu.Unlock()

	if len(devices) == 0 {
		if customerID == "" {
			id, err := c.api.CustomerID(ctx, session)
			if err != nil {
				return "", err
			}
			customerID = id
		}

		discovered, err := c.api.ListDevices(ctx, session, customerID)
		if err != nil {
			return "", err
		}
		if len(discovered) == 0 {
			return "", errFactory.WithMessage(rainsoft.ErrNoDevices, "no devices found for this account")
		}

		c.mu.Lock()
		c.customerID = customerID
		c.devices = discovered
		c.mu.Unlock()
		devices = discovered
	}

	if c.cfg.DeviceID != "" {
		for _, device := range devices {
			if device.ID == c.cfg.DeviceID {
				return device.ID, nil
			}
		}

		return "", errFactory.WithData(rainsoft.ErrDeviceNotFound, c.cfg.DeviceID)
	}

	return devices[0].ID, nil
}

// commit applies one cycle's outcome. On failure the previous snapshot is
// left untouched (stale-but-available) and the next attempt is scheduled on
// the backoff curve; auth failures instead park the loop until an explicit
// refresh, since no amount of retrying fixes bad credentials.
func (c *Coordinator) commit(snapshot *rainsoft.DeviceSnapshot, err error) {
	now := time.Now()

	c.mu.Lock()
	if err != nil {
		c.state.ConsecutiveFailures++
		c.state.LastError = err
		c.state.LastErrorKind = rainsoft.KindOf(err)
		c.state.AuthRequired = c.state.LastErrorKind == rainsoft.KindAuth
		c.state.Phase = PhaseBackoff
		c.state.NextPollAt = now.Add(backoffDelay(c.cfg.BackoffBase, c.cfg.Interval, c.state.ConsecutiveFailures))
	} else {
		c.state.LastSnapshot = snapshot
		c.state.LastError = nil
		c.state.LastErrorKind = rainsoft.KindNone
		c.state.ConsecutiveFailures = 0
		c.state.AuthRequired = false
		c.state.Phase = PhaseIdle
		c.state.NextPollAt = now.Add(c.cfg.Interval)
	}
	c.state.Devices = c.devices
	state := c.copyStateLocked()
	c.mu.Unlock()

	c.notify(Update{State: state, Err: err})
}

func (c *Coordinator) copyStateLocked() CoordinatorState {
	state := c.state
	if len(state.Devices) > 0 {
		state.Devices = append([]rainsoft.DeviceIdentity(nil), state.Devices...)
	}

	return state
}

func (c *Coordinator) notify(update Update) {
	select {
	case c.updates <- update:
	default:
	}
}

// backoffDelay doubles the base delay per consecutive failure, capped at the
// poll interval so backoff never exceeds the user's chosen cadence.
func backoffDelay(base, ceiling time.Duration, failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}

	delay := base
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay >= ceiling {
			return ceiling
		}
	}

	if delay > ceiling {
		return ceiling
	}

	return delay
}
