package device

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// MockRepository is a test implementation of Repository.
type MockRepository struct {
	mu      sync.Mutex
	devices map[string]*Device
	// For testing error paths
	createErr error
	updateErr error
	getErr    error
	// missGets forces the first N GetByID calls to report not found,
	// simulating a row inserted by a concurrent writer mid-operation.
	missGets int
	// Counts version-check failures injected via failUpdates.
	failUpdates int
	updateCalls int
}

func NewMockRepository() *MockRepository {
	return &MockRepository{
		devices: make(map[string]*Device),
	}
}

func (m *MockRepository) GetByID(_ context.Context, id string) (*Device, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.missGets > 0 {
		m.missGets--
		return nil, ErrDeviceNotFound
	}
	if d, ok := m.devices[id]; ok {
		return d.Copy(), nil
	}
	return nil, ErrDeviceNotFound
}

func (m *MockRepository) List(_ context.Context) ([]Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	devices := make([]Device, 0, len(m.devices))
	for _, d := range m.devices {
		devices = append(devices, *d.Copy())
	}
	return devices, nil
}

func (m *MockRepository) ListByStatus(_ context.Context, status ConnectionStatus) ([]Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var devices []Device
	for _, d := range m.devices {
		if d.ConnectionStatus == status {
			devices = append(devices, *d.Copy())
		}
	}
	return devices, nil
}

func (m *MockRepository) Create(_ context.Context, device *Device) error {
	if m.createErr != nil {
		return m.createErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.devices[device.DeviceID]; exists {
		return ErrDeviceExists
	}

	if device.ConnectionStatus == "" {
		device.ConnectionStatus = StatusOffline
	}
	device.Version = 1
	m.devices[device.DeviceID] = device.Copy()
	return nil
}

func (m *MockRepository) Update(_ context.Context, device *Device) error {
	if m.updateErr != nil {
		return m.updateErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.updateCalls++
	if m.failUpdates > 0 {
		m.failUpdates--
		return ErrVersionConflict
	}

	existing, exists := m.devices[device.DeviceID]
	if !exists {
		return ErrDeviceNotFound
	}
	if existing.Version != device.Version {
		return ErrVersionConflict
	}

	device.Version++
	m.devices[device.DeviceID] = device.Copy()
	return nil
}

func (m *MockRepository) seed(d *Device) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.Version == 0 {
		d.Version = 1
	}
	m.devices[d.DeviceID] = d.Copy()
}

func TestRegistry_RegisterOrGet(t *testing.T) {
	ctx := context.Background()

	t.Run("creates unknown device as offline", func(t *testing.T) {
		repo := NewMockRepository()
		registry := NewRegistry(repo)

		d, err := registry.RegisterOrGet(ctx, "HANIBI-001")
		if err != nil {
			t.Fatalf("RegisterOrGet() error = %v", err)
		}
		if d.ConnectionStatus != StatusOffline {
			t.Errorf("ConnectionStatus = %s, want OFFLINE", d.ConnectionStatus)
		}
		if d.Version != 1 {
			t.Errorf("Version = %d, want 1", d.Version)
		}
	})

	t.Run("returns existing device unchanged", func(t *testing.T) {
		repo := NewMockRepository()
		now := time.Now().UTC()
		repo.seed(&Device{DeviceID: "HANIBI-001", ConnectionStatus: StatusOnline, LastHeartbeatAt: &now})
		registry := NewRegistry(repo)

		d, err := registry.RegisterOrGet(ctx, "HANIBI-001")
		if err != nil {
			t.Fatalf("RegisterOrGet() error = %v", err)
		}
		if d.ConnectionStatus != StatusOnline {
			t.Errorf("ConnectionStatus = %s, want ONLINE", d.ConnectionStatus)
		}
	})

	t.Run("rejects invalid device id", func(t *testing.T) {
		registry := NewRegistry(NewMockRepository())

		for _, id := range []string{"", "has space", "topic/segment", "a#b"} {
			if _, err := registry.RegisterOrGet(ctx, id); !errors.Is(err, ErrInvalidDeviceID) {
				t.Errorf("RegisterOrGet(%q) error = %v, want ErrInvalidDeviceID", id, err)
			}
		}
	})

	t.Run("lost insert race falls back to existing row", func(t *testing.T) {
		repo := NewMockRepository()
		repo.seed(&Device{DeviceID: "HANIBI-001", ConnectionStatus: StatusOnline})
		// The initial read misses, then Create collides with the row the
		// concurrent writer inserted.
		repo.missGets = 1
		registry := NewRegistry(repo)

		d, err := registry.RegisterOrGet(ctx, "HANIBI-001")
		if err != nil {
			t.Fatalf("RegisterOrGet() error = %v", err)
		}
		if d.DeviceID != "HANIBI-001" {
			t.Errorf("DeviceID = %s, want HANIBI-001", d.DeviceID)
		}
	})
}

func TestRegistry_RecordHeartbeat(t *testing.T) {
	ctx := context.Background()

	t.Run("promotes to online and sets timestamp", func(t *testing.T) {
		repo := NewMockRepository()
		repo.seed(&Device{DeviceID: "HANIBI-001", ConnectionStatus: StatusOffline})
		registry := NewRegistry(repo)

		now := time.Now().UTC()
		wifi := -52
		fw := "2.4.1"
		d, err := registry.RecordHeartbeat(ctx, "HANIBI-001", Heartbeat{
			ObservedAt:      now,
			WifiSignal:      &wifi,
			FirmwareVersion: &fw,
		})
		if err != nil {
			t.Fatalf("RecordHeartbeat() error = %v", err)
		}
		if d.ConnectionStatus != StatusOnline {
			t.Errorf("ConnectionStatus = %s, want ONLINE", d.ConnectionStatus)
		}
		if d.LastHeartbeatAt == nil || !d.LastHeartbeatAt.Equal(now) {
			t.Errorf("LastHeartbeatAt = %v, want %v", d.LastHeartbeatAt, now)
		}
		if d.WifiSignal == nil || *d.WifiSignal != -52 {
			t.Errorf("WifiSignal = %v, want -52", d.WifiSignal)
		}
		if d.FirmwareVersion == nil || *d.FirmwareVersion != "2.4.1" {
			t.Errorf("FirmwareVersion = %v, want 2.4.1", d.FirmwareVersion)
		}
	})

	t.Run("older heartbeat never moves timestamp backwards", func(t *testing.T) {
		repo := NewMockRepository()
		now := time.Now().UTC()
		repo.seed(&Device{DeviceID: "HANIBI-001", ConnectionStatus: StatusOffline, LastHeartbeatAt: &now})
		registry := NewRegistry(repo)

		d, err := registry.RecordHeartbeat(ctx, "HANIBI-001", Heartbeat{ObservedAt: now.Add(-time.Minute)})
		if err != nil {
			t.Fatalf("RecordHeartbeat() error = %v", err)
		}
		if d.ConnectionStatus != StatusOnline {
			t.Errorf("ConnectionStatus = %s, want ONLINE (stale heartbeat still promotes)", d.ConnectionStatus)
		}
		if !d.LastHeartbeatAt.Equal(now) {
			t.Errorf("LastHeartbeatAt = %v, want unchanged %v", d.LastHeartbeatAt, now)
		}
	})

	t.Run("repeated heartbeat is idempotent on state", func(t *testing.T) {
		repo := NewMockRepository()
		repo.seed(&Device{DeviceID: "HANIBI-001", ConnectionStatus: StatusOffline})
		registry := NewRegistry(repo)

		now := time.Now().UTC()
		first, err := registry.RecordHeartbeat(ctx, "HANIBI-001", Heartbeat{ObservedAt: now})
		if err != nil {
			t.Fatalf("first RecordHeartbeat() error = %v", err)
		}
		second, err := registry.RecordHeartbeat(ctx, "HANIBI-001", Heartbeat{ObservedAt: now})
		if err != nil {
			t.Fatalf("second RecordHeartbeat() error = %v", err)
		}
		if second.ConnectionStatus != first.ConnectionStatus || !second.LastHeartbeatAt.Equal(*first.LastHeartbeatAt) {
			t.Errorf("repeated heartbeat changed state: %+v vs %+v", second, first)
		}
		// The second call is a pure no-op and must not write.
		if second.Version != first.Version {
			t.Errorf("Version = %d, want %d (no write for no-op heartbeat)", second.Version, first.Version)
		}
	})

	t.Run("replayed heartbeat with connectivity fields does not write", func(t *testing.T) {
		repo := NewMockRepository()
		repo.seed(&Device{DeviceID: "HANIBI-001", ConnectionStatus: StatusOffline})
		registry := NewRegistry(repo)

		now := time.Now().UTC()
		wifi := -61
		fw := "2.4.1"
		hb := Heartbeat{ObservedAt: now, WifiSignal: &wifi, FirmwareVersion: &fw}

		first, err := registry.RecordHeartbeat(ctx, "HANIBI-001", hb)
		if err != nil {
			t.Fatalf("first RecordHeartbeat() error = %v", err)
		}
		second, err := registry.RecordHeartbeat(ctx, "HANIBI-001", hb)
		if err != nil {
			t.Fatalf("second RecordHeartbeat() error = %v", err)
		}
		if second.Version != first.Version {
			t.Errorf("Version = %d, want %d (identical heartbeat replay must not write)", second.Version, first.Version)
		}

		stronger := -48
		third, err := registry.RecordHeartbeat(ctx, "HANIBI-001", Heartbeat{ObservedAt: now, WifiSignal: &stronger})
		if err != nil {
			t.Fatalf("third RecordHeartbeat() error = %v", err)
		}
		if third.WifiSignal == nil || *third.WifiSignal != -48 {
			t.Errorf("WifiSignal = %v, want -48", third.WifiSignal)
		}
		if third.Version == second.Version {
			t.Errorf("Version = %d, want a write when the wifi signal moves", third.Version)
		}
	})

	t.Run("retries after losing version race", func(t *testing.T) {
		repo := NewMockRepository()
		repo.seed(&Device{DeviceID: "HANIBI-001"})
		repo.failUpdates = 2
		registry := NewRegistry(repo)

		if _, err := registry.RecordHeartbeat(ctx, "HANIBI-001", Heartbeat{ObservedAt: time.Now().UTC()}); err != nil {
			t.Fatalf("RecordHeartbeat() error = %v, want success after retries", err)
		}
		if repo.updateCalls != 3 {
			t.Errorf("update calls = %d, want 3", repo.updateCalls)
		}
	})

	t.Run("surfaces conflict after exhausting retries", func(t *testing.T) {
		repo := NewMockRepository()
		repo.seed(&Device{DeviceID: "HANIBI-001"})
		repo.failUpdates = mutateRetries
		registry := NewRegistry(repo)

		_, err := registry.RecordHeartbeat(ctx, "HANIBI-001", Heartbeat{ObservedAt: time.Now().UTC()})
		if !errors.Is(err, ErrVersionConflict) {
			t.Errorf("error = %v, want ErrVersionConflict", err)
		}
	})
}

func TestRegistry_MarkOffline(t *testing.T) {
	ctx := context.Background()

	t.Run("demotes stale online device", func(t *testing.T) {
		repo := NewMockRepository()
		stale := time.Now().UTC().Add(-5 * time.Minute)
		repo.seed(&Device{DeviceID: "HANIBI-001", ConnectionStatus: StatusOnline, LastHeartbeatAt: &stale})
		registry := NewRegistry(repo)

		deadline := time.Now().UTC().Add(-90 * time.Second)
		d, err := registry.MarkOffline(ctx, "HANIBI-001", deadline)
		if err != nil {
			t.Fatalf("MarkOffline() error = %v", err)
		}
		if d.ConnectionStatus != StatusOffline {
			t.Errorf("ConnectionStatus = %s, want OFFLINE", d.ConnectionStatus)
		}
	})

	t.Run("fresh heartbeat wins over demotion", func(t *testing.T) {
		repo := NewMockRepository()
		fresh := time.Now().UTC()
		repo.seed(&Device{DeviceID: "HANIBI-001", ConnectionStatus: StatusOnline, LastHeartbeatAt: &fresh})
		registry := NewRegistry(repo)

		deadline := time.Now().UTC().Add(-90 * time.Second)
		d, err := registry.MarkOffline(ctx, "HANIBI-001", deadline)
		if err != nil {
			t.Fatalf("MarkOffline() error = %v", err)
		}
		if d.ConnectionStatus != StatusOnline {
			t.Errorf("ConnectionStatus = %s, want ONLINE (heartbeat is fresh)", d.ConnectionStatus)
		}
	})

	t.Run("leaves error devices alone", func(t *testing.T) {
		repo := NewMockRepository()
		repo.seed(&Device{DeviceID: "HANIBI-001", ConnectionStatus: StatusError})
		registry := NewRegistry(repo)

		d, err := registry.MarkOffline(ctx, "HANIBI-001", time.Now().UTC())
		if err != nil {
			t.Fatalf("MarkOffline() error = %v", err)
		}
		if d.ConnectionStatus != StatusError {
			t.Errorf("ConnectionStatus = %s, want ERROR untouched", d.ConnectionStatus)
		}
	})
}

func TestRegistry_SetDoorState(t *testing.T) {
	ctx := context.Background()
	repo := NewMockRepository()
	repo.seed(&Device{DeviceID: "HANIBI-001"})
	registry := NewRegistry(repo)

	d, err := registry.SetDoorState(ctx, "HANIBI-001", true)
	if err != nil {
		t.Fatalf("SetDoorState() error = %v", err)
	}
	if !d.DoorOpen {
		t.Error("DoorOpen = false, want true")
	}

	// Repeating the same state is a no-op.
	again, err := registry.SetDoorState(ctx, "HANIBI-001", true)
	if err != nil {
		t.Fatalf("SetDoorState() repeat error = %v", err)
	}
	if again.Version != d.Version {
		t.Errorf("Version = %d, want %d (no write for unchanged door)", again.Version, d.Version)
	}
}

func TestRegistry_ConcurrentHeartbeats(t *testing.T) {
	ctx := context.Background()
	repo := NewMockRepository()
	repo.seed(&Device{DeviceID: "HANIBI-001"})
	registry := NewRegistry(repo)

	base := time.Now().UTC()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		offset := time.Duration(i) * time.Second
		go func() {
			defer wg.Done()
			// Conflicts can exhaust retries under heavy contention; that
			// is acceptable here, the invariant is monotonicity.
			_, _ = registry.RecordHeartbeat(ctx, "HANIBI-001", Heartbeat{ObservedAt: base.Add(offset)})
		}()
	}
	wg.Wait()

	d, err := registry.GetDevice(ctx, "HANIBI-001")
	if err != nil {
		t.Fatalf("GetDevice() error = %v", err)
	}
	if d.ConnectionStatus != StatusOnline {
		t.Errorf("ConnectionStatus = %s, want ONLINE", d.ConnectionStatus)
	}
	if d.LastHeartbeatAt == nil || d.LastHeartbeatAt.Before(base) {
		t.Errorf("LastHeartbeatAt = %v, want >= %v", d.LastHeartbeatAt, base)
	}
}

func TestRegistry_GetDevice_CacheIsolation(t *testing.T) {
	ctx := context.Background()
	repo := NewMockRepository()
	fw := "1.0.0"
	repo.seed(&Device{DeviceID: "HANIBI-001", FirmwareVersion: &fw})
	registry := NewRegistry(repo)
	if err := registry.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}

	first, err := registry.GetDevice(ctx, "HANIBI-001")
	if err != nil {
		t.Fatalf("GetDevice() error = %v", err)
	}
	*first.FirmwareVersion = "mutated"

	second, err := registry.GetDevice(ctx, "HANIBI-001")
	if err != nil {
		t.Fatalf("GetDevice() error = %v", err)
	}
	if *second.FirmwareVersion != "1.0.0" {
		t.Errorf("caller mutation leaked into cache: FirmwareVersion = %s", *second.FirmwareVersion)
	}
}
