package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/rainsoftctl/internal/config"
	"codeberg.org/mutker/rainsoftctl/internal/coordinator"
	"codeberg.org/mutker/rainsoftctl/internal/errors"
	"codeberg.org/mutker/rainsoftctl/internal/logger"
	"codeberg.org/mutker/rainsoftctl/internal/pid"
	"codeberg.org/mutker/rainsoftctl/internal/rainsoft"
	"codeberg.org/mutker/rainsoftctl/internal/telemetry"
)

var cfg *config.Config

func init() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Debug, cfg.Verbose, logger.IsService())
	if !cfg.Debug && !cfg.Verbose {
		logger.SetLogLevel(logLevel(cfg.LogLevel))
	}
	logger.Debug().Msg("Config loaded")
}

func main() {
	errFactory := errors.New()

	if err := pid.Write(); err != nil {
		var appErr errors.Error
		if errors.As(err, &appErr) {
			logger.FatalWithCode(appErr).Msg("Failed to write PID file")
		}
		logger.Fatal().Err(err).Msg("Failed to write PID file")
	}

	creds := rainsoft.NewCredentials(cfg.Email, cfg.Password)
	client := rainsoft.NewClient(&http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second}, "")
	sessions := rainsoft.NewSessionManager(client, creds)

	collector, err := telemetry.NewCollector(telemetry.Config{
		Enabled: cfg.Telemetry,
		DBPath:  cfg.TelemetryDB,
	}, logger.Default())
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize telemetry")
	}

	coord, err := coordinator.New(coordinator.Config{
		Interval: time.Duration(cfg.Interval) * time.Hour,
		DeviceID: cfg.DeviceID,
	}, sessions, client)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize coordinator")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go handleSignals(ctx, cancel, coord)
	go consumeUpdates(ctx, coord, collector)

	logger.Info().
		Str("email", rainsoft.MaskEmail(cfg.Email)).
		Int("interval_hours", cfg.Interval).
		Msg("Polling started")

	if err := coord.Run(ctx); err != nil {
		logger.ErrorWithCode(errFactory.Wrap(errors.ErrMainLoop, err)).Msg("")
	}

	cleanup(collector)
}

func cleanup(collector telemetry.Collector) {
	if err := collector.Close(); err != nil {
		logger.Error().Err(err).Msg("failed to close telemetry")
	}
	if err := pid.Remove(); err != nil {
		logger.Error().Err(err).Msg("failed to remove PID file")
	}
	logger.Info().Msg("Exiting...")
}

func handleSignals(ctx context.Context, cancel context.CancelFunc, coord *coordinator.Coordinator) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			if sig == syscall.SIGHUP {
				logger.Info().Msg("Received SIGHUP, requesting refresh")
				go func() {
					if err := coord.RequestRefresh(ctx); err != nil {
						logger.Warn().Err(err).Msg("On-demand refresh failed")
					}
				}()

				continue
			}

			logger.Info().Msg("Received termination signal.")
			cancel()

			return
		}
	}
}

func consumeUpdates(ctx context.Context, coord *coordinator.Coordinator, collector telemetry.Collector) {
	for {
		select {
		case <-ctx.Done():
			return
		case update := <-coord.Updates():
			logUpdate(update)

			if update.Err == nil && update.State.LastSnapshot != nil {
				if err := collector.Record(ctx, sampleFrom(update.State.LastSnapshot)); err != nil {
					logger.Warn().Err(err).Msg("Failed to record telemetry sample")
				}
			}
		}
	}
}

func logUpdate(update coordinator.Update) {
	if update.Err != nil {
		logger.Warn().
			Err(update.Err).
			Str("error_kind", string(update.State.LastErrorKind)).
			Int("consecutive_failures", update.State.ConsecutiveFailures).
			Bool("auth_required", update.State.AuthRequired).
			Time("next_poll_at", update.State.NextPollAt).
			Msg("Refresh failed")

		return
	}

	snapshot := update.State.LastSnapshot
	event := logger.Info().
		Str("device_id", snapshot.DeviceID).
		Int("salt_percent", snapshot.SaltPercent).
		Int("capacity_percent", snapshot.CapacityPercent).
		Bool("salt_low", snapshot.SaltLow).
		Bool("regenerating", snapshot.Regenerating).
		Bool("alert_active", snapshot.AlertActive).
		Str("status", snapshot.Status)
	if snapshot.LastRegen != nil {
		event = event.Str("last_regen", snapshot.LastRegen.Format("2006-01-02"))
	}
	if snapshot.NextRegen != nil {
		event = event.Str("next_regen", snapshot.NextRegen.Format("2006-01-02"))
	}
	event.Msg("")
}

func sampleFrom(snapshot *rainsoft.DeviceSnapshot) *telemetry.Sample {
	return &telemetry.Sample{
		Timestamp:       snapshot.FetchedAt,
		DeviceID:        snapshot.DeviceID,
		SaltPercent:     snapshot.SaltPercent,
		CapacityPercent: snapshot.CapacityPercent,
		AlertActive:     snapshot.AlertActive,
		Regenerating:    snapshot.Regenerating,
		SaltLow:         snapshot.SaltLow,
		Status:          snapshot.Status,
		LastRegen:       snapshot.LastRegen,
		NextRegen:       snapshot.NextRegen,
	}
}

func logLevel(level string) logger.LogLevel {
	switch config.LogLevel(level) {
	case config.LogLevelDebug:
		return logger.DebugLevel
	case config.LogLevelInfo:
		return logger.InfoLevel
	case config.LogLevelWarning:
		return logger.WarnLevel
	case config.LogLevelError:
		return logger.ErrorLevel
	default:
		return logger.InfoLevel
	}
}
