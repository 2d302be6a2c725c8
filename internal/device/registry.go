package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// mutateRetries is how many times a registry write re-reads and retries
// after losing the version check to a concurrent writer.
const mutateRetries = 3

// Registry provides fleet management with caching and thread safety.
// It wraps a Repository and adds an in-memory cache for fast lookups.
//
// The cache is populated on startup via RefreshCache() and kept in sync
// by the registry's write paths. All public methods are thread-safe.
type Registry struct {
	repo    Repository
	cache   map[string]*Device // Cached devices by ID
	cacheMu sync.RWMutex       // Protects cache
	logger  Logger
}

// NewRegistry creates a new device registry.
// The repository is used for persistence; the registry adds caching.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Device),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all devices from the repository into the cache.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[string]*Device, len(devices))
	for i := range devices {
		d := devices[i]
		r.cache[d.DeviceID] = d.Copy()
	}

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// GetDevice retrieves a device by ID.
// Returns ErrDeviceNotFound if the device does not exist.
// The returned device is a copy; callers can safely modify it.
func (r *Registry) GetDevice(ctx context.Context, id string) (*Device, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()

	if ok {
		return cached.Copy(), nil
	}

	// Fall back to repository (might be a new device not yet cached)
	device, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	r.cache[id] = device.Copy()
	r.cacheMu.Unlock()

	return device, nil
}

// ListDevices retrieves all devices.
// The returned devices are copies; callers can safely modify them.
func (r *Registry) ListDevices(ctx context.Context) ([]Device, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	if len(r.cache) > 0 {
		devices := make([]Device, 0, len(r.cache))
		for _, d := range r.cache {
			devices = append(devices, *d.Copy())
		}
		return devices, nil
	}

	return r.repo.List(ctx)
}

// GetDevicesByStatus retrieves all devices with a specific connection status.
// The returned devices are copies; callers can safely modify them.
func (r *Registry) GetDevicesByStatus(ctx context.Context, status ConnectionStatus) ([]Device, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	if len(r.cache) > 0 {
		var devices []Device
		for _, d := range r.cache {
			if d.ConnectionStatus == status {
				devices = append(devices, *d.Copy())
			}
		}
		return devices, nil
	}

	return r.repo.ListByStatus(ctx, status)
}

// RegisterOrGet returns the device with the given ID, creating it as
// OFFLINE if it is not yet known. Unknown IDs arriving on the ingest
// paths are registered this way rather than rejected.
func (r *Registry) RegisterOrGet(ctx context.Context, id string) (*Device, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	device, err := r.GetDevice(ctx, id)
	if err == nil {
		return device, nil
	}
	if !errors.Is(err, ErrDeviceNotFound) {
		return nil, err
	}

	device = &Device{
		DeviceID:         id,
		ConnectionStatus: StatusOffline,
	}
	if err := r.repo.Create(ctx, device); err != nil {
		// A concurrent RegisterOrGet may have won the insert.
		if errors.Is(err, ErrDeviceExists) {
			return r.repo.GetByID(ctx, id)
		}
		return nil, err
	}

	r.cacheMu.Lock()
	r.cache[id] = device.Copy()
	r.cacheMu.Unlock()

	r.logger.Info("device registered", "device_id", id)
	return device.Copy(), nil
}

// RecordHeartbeat applies an explicit heartbeat: the device is promoted
// to ONLINE and its connectivity fields are refreshed. LastHeartbeatAt
// is monotonic; a heartbeat older than the stored one still promotes
// the device but never moves the timestamp backwards.
func (r *Registry) RecordHeartbeat(ctx context.Context, id string, hb Heartbeat) (*Device, error) {
	return r.mutate(ctx, id, func(d *Device) bool {
		changed := false
		if d.ConnectionStatus != StatusOnline {
			d.ConnectionStatus = StatusOnline
			changed = true
		}
		if d.LastHeartbeatAt == nil || hb.ObservedAt.After(*d.LastHeartbeatAt) {
			at := hb.ObservedAt
			d.LastHeartbeatAt = &at
			changed = true
		}
		if hb.WifiSignal != nil && (d.WifiSignal == nil || *d.WifiSignal != *hb.WifiSignal) {
			d.WifiSignal = copyInt(hb.WifiSignal)
			changed = true
		}
		if hb.FirmwareVersion != nil && *hb.FirmwareVersion != "" &&
			(d.FirmwareVersion == nil || *d.FirmwareVersion != *hb.FirmwareVersion) {
			d.FirmwareVersion = copyString(hb.FirmwareVersion)
			changed = true
		}
		return changed
	})
}

// Touch treats any inbound message from a device as an implicit
// heartbeat: promote to ONLINE and advance LastHeartbeatAt if newer.
func (r *Registry) Touch(ctx context.Context, id string, at time.Time) (*Device, error) {
	return r.RecordHeartbeat(ctx, id, Heartbeat{ObservedAt: at})
}

// MarkOffline demotes a device to OFFLINE if its last heartbeat is
// still older than deadline at write time. The deadline re-check under
// the version guard means a heartbeat racing the sweep wins: the demote
// retries see the fresh timestamp and become a no-op.
func (r *Registry) MarkOffline(ctx context.Context, id string, deadline time.Time) (*Device, error) {
	return r.mutate(ctx, id, func(d *Device) bool {
		if d.ConnectionStatus != StatusOnline {
			return false
		}
		if d.LastHeartbeatAt != nil && !d.LastHeartbeatAt.Before(deadline) {
			return false
		}
		d.ConnectionStatus = StatusOffline
		return true
	})
}

// MarkFault sets a device to ERROR. Used when a session on the device
// reports a fault.
func (r *Registry) MarkFault(ctx context.Context, id string) (*Device, error) {
	return r.mutate(ctx, id, func(d *Device) bool {
		if d.ConnectionStatus == StatusError {
			return false
		}
		d.ConnectionStatus = StatusError
		return true
	})
}

// SetDoorState records an open or closed door reported by the device.
func (r *Registry) SetDoorState(ctx context.Context, id string, open bool) (*Device, error) {
	return r.mutate(ctx, id, func(d *Device) bool {
		if d.DoorOpen == open {
			return false
		}
		d.DoorOpen = open
		return true
	})
}

// SetCameraInfo records the camera attachment for a device.
func (r *Registry) SetCameraInfo(ctx context.Context, id string, rtspURL, model string) (*Device, error) {
	return r.mutate(ctx, id, func(d *Device) bool {
		if rtspURL != "" {
			d.RTSPURL = &rtspURL
		}
		if model != "" {
			d.CameraModel = &model
		}
		return rtspURL != "" || model != ""
	})
}

// mutate reads the device, applies fn and writes it back under the
// version check. fn returns false to skip the write. Lost races are
// retried with a fresh read up to mutateRetries times; the final
// conflict surfaces as ErrVersionConflict.
func (r *Registry) mutate(ctx context.Context, id string, fn func(*Device) bool) (*Device, error) {
	var lastErr error

	for attempt := 0; attempt < mutateRetries; attempt++ {
		device, err := r.repo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}

		if !fn(device) {
			return device, nil
		}

		err = r.repo.Update(ctx, device)
		if err == nil {
			r.cacheMu.Lock()
			r.cache[id] = device.Copy()
			r.cacheMu.Unlock()
			return device.Copy(), nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, err
		}

		lastErr = err
		r.logger.Debug("device update lost version race, retrying",
			"device_id", id, "attempt", attempt+1)
	}

	return nil, lastErr
}

// GetDeviceCount returns the number of cached devices.
func (r *Registry) GetDeviceCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

// Stats returns registry statistics for monitoring.
type Stats struct {
	TotalDevices int
	ByStatus     map[ConnectionStatus]int
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	stats := Stats{
		TotalDevices: len(r.cache),
		ByStatus:     make(map[ConnectionStatus]int),
	}

	for _, d := range r.cache {
		stats.ByStatus[d.ConnectionStatus]++
	}

	return stats
}
