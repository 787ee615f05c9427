package whatsapp

import (
	"context"
	"time"
)

// HealthMonitorConfig configures proactive connection health monitoring.
// WhatsApp Web connections can die silently ("half-open" TCP), which leaves
// the bot appearing online while no customer message ever arrives.
type HealthMonitorConfig struct {
	// Enabled turns on proactive health monitoring.
	Enabled bool `yaml:"enabled"`

	// CheckInterval is how often to perform health checks. Default: 30s.
	CheckInterval time.Duration `yaml:"check_interval"`

	// MaxSilentDuration is the maximum time without any activity before
	// a health check is considered failed. Default: 5m.
	MaxSilentDuration time.Duration `yaml:"max_silent_duration"`

	// ForceReconnectAfter forces a preventive reconnection after this much
	// silence even when the client still reports connected. 0 disables.
	ForceReconnectAfter time.Duration `yaml:"force_reconnect_after"`
}

// DefaultHealthMonitorConfig returns sensible defaults.
func DefaultHealthMonitorConfig() HealthMonitorConfig {
	return HealthMonitorConfig{
		Enabled:             true,
		CheckInterval:       30 * time.Second,
		MaxSilentDuration:   5 * time.Minute,
		ForceReconnectAfter: 15 * time.Minute,
	}
}

// StartHealthMonitor starts the health monitoring goroutine.
// It runs until the context is cancelled.
func (w *WhatsApp) StartHealthMonitor(ctx context.Context, cfg HealthMonitorConfig) {
	if !cfg.Enabled {
		return
	}

	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.MaxSilentDuration <= 0 {
		cfg.MaxSilentDuration = 5 * time.Minute
	}

	go func() {
		ticker := time.NewTicker(cfg.CheckInterval)
		defer ticker.Stop()

		w.logger.Info("whatsapp health monitor started",
			"check_interval", cfg.CheckInterval,
			"max_silent", cfg.MaxSilentDuration,
			"force_reconnect_after", cfg.ForceReconnectAfter)

		for {
			select {
			case <-ctx.Done():
				w.logger.Info("whatsapp health monitor stopped")
				return
			case <-ticker.C:
				w.performHealthCheck(cfg)
			}
		}
	}()

	w.startPinger(ctx)
}

// startPinger sends periodic presence updates to keep the connection alive.
func (w *WhatsApp) startPinger(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(2 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if w.getState() != StateConnected {
					continue
				}
				if err := w.SendPresence(ctx, true); err != nil {
					w.logger.Warn("pinger: failed to send presence", "error", err)
					continue
				}
				w.lastMsg.Store(time.Now())
			}
		}
	}()
}

// performHealthCheck checks connection health and triggers reconnection when
// the state tracked here disagrees with what the client reports.
func (w *WhatsApp) performHealthCheck(cfg HealthMonitorConfig) {
	if w.getState() != StateConnected {
		return
	}

	lastMsg := w.getLastMsgTime()
	silentDuration := time.Since(lastMsg)

	if silentDuration <= cfg.MaxSilentDuration {
		return
	}

	w.logger.Warn("whatsapp: connection silent for too long",
		"silent_duration", silentDuration,
		"max_silent", cfg.MaxSilentDuration)

	if w.client != nil && !w.client.IsConnected() {
		w.logger.Error("whatsapp: client reports disconnected but state is connected")
		w.setState(StateReconnecting)
		w.connected.Store(false)
		go w.attemptReconnect()
		return
	}

	if cfg.ForceReconnectAfter > 0 && silentDuration > cfg.ForceReconnectAfter {
		w.logger.Warn("whatsapp: forcing preventive reconnection",
			"silent_duration", silentDuration)
		w.setState(StateReconnecting)
		w.connected.Store(false)
		go w.attemptReconnect()
		return
	}

	// whatsmeow runs its own keepalive internally; silence with a connected
	// client usually just means a quiet store.
	w.logger.Debug("whatsapp: silent but client still reports connected")
}

// getLastMsgTime returns the time of the last message or activity.
func (w *WhatsApp) getLastMsgTime() time.Time {
	if v := w.lastMsg.Load(); v != nil {
		return v.(time.Time)
	}
	return time.Time{}
}
