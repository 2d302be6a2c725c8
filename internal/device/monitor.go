package device

import (
	"context"
	"errors"
	"time"
)

// Monitor periodically sweeps the fleet and demotes ONLINE devices
// whose last heartbeat is older than the timeout threshold.
//
// The sweep takes a snapshot of candidates and then demotes each one
// individually through the registry's version-checked write path, so a
// heartbeat arriving mid-sweep is never overwritten. No lock is held
// across the scan.
type Monitor struct {
	registry  *Registry
	interval  time.Duration
	threshold time.Duration
	logger    Logger

	// OnOffline is called after a device is demoted. Optional.
	OnOffline func(deviceID string)
}

// NewMonitor creates a heartbeat monitor. interval is how often the
// sweep runs; threshold is how stale a heartbeat may be before the
// device is considered offline. threshold must exceed interval, which
// config validation enforces.
func NewMonitor(registry *Registry, interval, threshold time.Duration) *Monitor {
	return &Monitor{
		registry:  registry,
		interval:  interval,
		threshold: threshold,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the monitor.
func (m *Monitor) SetLogger(logger Logger) {
	m.logger = logger
}

// Run sweeps on a ticker until the context is cancelled.
// It blocks; run it in its own goroutine.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("heartbeat monitor started",
		"interval", m.interval.String(), "threshold", m.threshold.String())

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("heartbeat monitor stopped")
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep demotes every ONLINE device whose last heartbeat predates the
// threshold. Exposed for tests and for a forced sweep on demand.
func (m *Monitor) Sweep(ctx context.Context) {
	deadline := time.Now().UTC().Add(-m.threshold)

	devices, err := m.registry.GetDevicesByStatus(ctx, StatusOnline)
	if err != nil {
		m.logger.Error("heartbeat sweep failed to list devices", "error", err)
		return
	}

	demoted := 0
	for i := range devices {
		select {
		case <-ctx.Done():
			m.logger.Info("heartbeat sweep cancelled", "remaining", len(devices)-i)
			return
		default:
		}

		d := &devices[i]
		if d.LastHeartbeatAt != nil && !d.LastHeartbeatAt.Before(deadline) {
			continue
		}

		updated, err := m.registry.MarkOffline(ctx, d.DeviceID, deadline)
		if err != nil {
			if errors.Is(err, ErrDeviceNotFound) {
				continue
			}
			m.logger.Error("heartbeat sweep failed to demote device",
				"device_id", d.DeviceID, "error", err)
			continue
		}

		// MarkOffline is a no-op when a heartbeat raced the sweep.
		if updated.ConnectionStatus != StatusOffline {
			continue
		}

		demoted++
		m.logger.Warn("device went offline", "device_id", d.DeviceID,
			"last_heartbeat_at", d.LastHeartbeatAt)
		if m.OnOffline != nil {
			m.OnOffline(d.DeviceID)
		}
	}

	if demoted > 0 {
		m.logger.Info("heartbeat sweep complete", "demoted", demoted)
	}
}
