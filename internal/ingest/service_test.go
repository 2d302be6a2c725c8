package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hanibi/hanibi-core/internal/device"
	"github.com/hanibi/hanibi-core/internal/infrastructure/influxdb"
	"github.com/hanibi/hanibi-core/internal/session"
	"github.com/hanibi/hanibi-core/internal/telemetry"
)

// memDeviceRepo is an in-memory device.Repository.
type memDeviceRepo struct {
	mu      sync.Mutex
	devices map[string]*device.Device
}

func newMemDeviceRepo() *memDeviceRepo {
	return &memDeviceRepo{devices: make(map[string]*device.Device)}
}

func (m *memDeviceRepo) GetByID(_ context.Context, id string) (*device.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok {
		return nil, device.ErrDeviceNotFound
	}
	return d.Copy(), nil
}

func (m *memDeviceRepo) List(_ context.Context) ([]device.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]device.Device, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, *d.Copy())
	}
	return out, nil
}

func (m *memDeviceRepo) ListByStatus(_ context.Context, status device.ConnectionStatus) ([]device.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []device.Device
	for _, d := range m.devices {
		if d.ConnectionStatus == status {
			out = append(out, *d.Copy())
		}
	}
	return out, nil
}

func (m *memDeviceRepo) Create(_ context.Context, d *device.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.devices[d.DeviceID]; ok {
		return device.ErrDeviceExists
	}
	d.Version = 1
	m.devices[d.DeviceID] = d.Copy()
	return nil
}

func (m *memDeviceRepo) Update(_ context.Context, d *device.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.devices[d.DeviceID]
	if !ok {
		return device.ErrDeviceNotFound
	}
	if current.Version != d.Version {
		return device.ErrVersionConflict
	}
	d.Version++
	m.devices[d.DeviceID] = d.Copy()
	return nil
}

// memSessionRepo is an in-memory session.Repository with an event
// journal.
type memSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*session.Session
	journal  map[string]string
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{
		sessions: make(map[string]*session.Session),
		journal:  make(map[string]string),
	}
}

func journalKey(deviceID string, eventType session.EventType, observedAt time.Time) string {
	return fmt.Sprintf("%s|%s|%s", deviceID, eventType, observedAt.UTC().Format(time.RFC3339Nano))
}

func (m *memSessionRepo) GetByID(_ context.Context, id string) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	return s.Copy(), nil
}

func (m *memSessionRepo) GetActive(_ context.Context, deviceID string) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.DeviceID == deviceID && s.State == session.StateProcessing {
			return s.Copy(), nil
		}
	}
	return nil, session.ErrSessionNotFound
}

func (m *memSessionRepo) ListByDeviceAndTimeRange(_ context.Context, deviceID string, _, _ time.Time, _ int) ([]session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []session.Session
	for _, s := range m.sessions {
		if s.DeviceID == deviceID {
			out = append(out, *s.Copy())
		}
	}
	return out, nil
}

func (m *memSessionRepo) Create(_ context.Context, s *session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.State == session.StateProcessing {
		for _, existing := range m.sessions {
			if existing.DeviceID == s.DeviceID && existing.State == session.StateProcessing {
				return session.ErrActiveSessionExists
			}
		}
	}
	m.sessions[s.SessionID] = s.Copy()
	return nil
}

func (m *memSessionRepo) Update(_ context.Context, s *session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.SessionID]; !ok {
		return session.ErrSessionNotFound
	}
	m.sessions[s.SessionID] = s.Copy()
	return nil
}

func (m *memSessionRepo) RecordEvent(_ context.Context, deviceID string, eventType session.EventType, sessionID string, observedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := journalKey(deviceID, eventType, observedAt)
	if _, ok := m.journal[key]; ok {
		return false, nil
	}
	m.journal[key] = sessionID
	return true, nil
}

func (m *memSessionRepo) FindEvent(_ context.Context, deviceID string, eventType session.EventType, observedAt time.Time) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.journal[journalKey(deviceID, eventType, observedAt)]
	return id, ok, nil
}

// memReadingRepo is an in-memory telemetry.Repository.
type memReadingRepo struct {
	mu       sync.Mutex
	readings []telemetry.Reading
}

func (m *memReadingRepo) Insert(_ context.Context, r *telemetry.Reading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = int64(len(m.readings) + 1)
	m.readings = append(m.readings, *r.Copy())
	return nil
}

func (m *memReadingRepo) Latest(_ context.Context, deviceID string) (*telemetry.Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.readings) - 1; i >= 0; i-- {
		if m.readings[i].DeviceID == deviceID {
			return m.readings[i].Copy(), nil
		}
	}
	return nil, telemetry.ErrReadingNotFound
}

func (m *memReadingRepo) ListByDeviceAndTimeRange(_ context.Context, deviceID string, _, _ time.Time, _ int) ([]telemetry.Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []telemetry.Reading
	for _, r := range m.readings {
		if r.DeviceID == deviceID {
			out = append(out, *r.Copy())
		}
	}
	return out, nil
}

// mockMirror records mirrored writes.
type mockMirror struct {
	mu       sync.Mutex
	readings []string
	sessions []string
}

func (m *mockMirror) WriteReading(deviceID string, _ influxdb.ReadingFields, _ time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readings = append(m.readings, deviceID)
}

func (m *mockMirror) WriteSessionMetrics(_ string, sessionID string, _ influxdb.SessionFields, _ time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = append(m.sessions, sessionID)
}

func newTestService() (*Service, *memDeviceRepo, *memSessionRepo, *memReadingRepo) {
	deviceRepo := newMemDeviceRepo()
	sessionRepo := newMemSessionRepo()
	readingRepo := &memReadingRepo{}

	svc := NewService(
		device.NewRegistry(deviceRepo),
		session.NewEngine(sessionRepo),
		readingRepo,
		telemetry.NewLatestCache(),
	)
	return svc, deviceRepo, sessionRepo, readingRepo
}

func fl(v float64) *float64 { return &v }

func TestHandleReport_AutoRegistersAndStores(t *testing.T) {
	svc, deviceRepo, _, readingRepo := newTestService()
	ctx := context.Background()

	result, err := svc.HandleReport(ctx, Report{
		DeviceID:   "HANIBI-001",
		SensorData: SensorValues{Temperature: fl(21.5), Humidity: fl(64.6)},
	})
	if err != nil {
		t.Fatalf("HandleReport() error = %v", err)
	}
	if result.SessionID != nil {
		t.Errorf("SessionID = %v, want nil for idle device", *result.SessionID)
	}
	if result.State != session.StateIdle {
		t.Errorf("State = %v, want IDLE", result.State)
	}

	d, err := deviceRepo.GetByID(ctx, "HANIBI-001")
	if err != nil {
		t.Fatalf("device not auto-registered: %v", err)
	}
	if d.ConnectionStatus != device.StatusOnline {
		t.Errorf("ConnectionStatus = %v, want ONLINE after implicit heartbeat", d.ConnectionStatus)
	}

	if len(readingRepo.readings) != 1 {
		t.Fatalf("stored readings = %d, want 1", len(readingRepo.readings))
	}
	stored := readingRepo.readings[0]
	if stored.Humidity == nil || *stored.Humidity != 65 {
		t.Errorf("Humidity = %v, want 65 (rounded)", stored.Humidity)
	}
}

func TestHandleReport_ValidationRejectsBeforeAnyState(t *testing.T) {
	svc, deviceRepo, _, readingRepo := newTestService()
	ctx := context.Background()

	_, err := svc.HandleReport(ctx, Report{
		DeviceID:   "HANIBI-001",
		SensorData: SensorValues{Temperature: fl(300)},
	})

	var validation *telemetry.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("HandleReport() error = %v, want ValidationError", err)
	}
	if validation.Field != "temperature" {
		t.Errorf("Field = %q, want temperature", validation.Field)
	}

	if _, err := deviceRepo.GetByID(ctx, "HANIBI-001"); !errors.Is(err, device.ErrDeviceNotFound) {
		t.Errorf("rejected report must not register the device, got %v", err)
	}
	if len(readingRepo.readings) != 0 {
		t.Errorf("rejected report must not store a reading, got %d", len(readingRepo.readings))
	}
}

func TestHandleReport_ProcessingStatusOpensSession(t *testing.T) {
	svc, _, sessionRepo, readingRepo := newTestService()
	ctx := context.Background()

	result, err := svc.HandleReport(ctx, Report{
		DeviceID:         "HANIBI-002",
		SensorData:       SensorValues{Weight: fl(1500)},
		ProcessingStatus: "PROCESSING",
	})
	if err != nil {
		t.Fatalf("HandleReport() error = %v", err)
	}
	if result.SessionID == nil {
		t.Fatal("SessionID = nil, want a new session")
	}
	if result.State != session.StateProcessing {
		t.Errorf("State = %v, want PROCESSING", result.State)
	}

	stored, err := sessionRepo.GetByID(ctx, *result.SessionID)
	if err != nil {
		t.Fatalf("session not persisted: %v", err)
	}
	if stored.Anomalous {
		t.Error("status-opened session must not be anomalous")
	}
	if readingRepo.readings[0].SessionID == nil || *readingRepo.readings[0].SessionID != *result.SessionID {
		t.Error("reading not attached to the opened session")
	}
}

func TestHandleReport_SentinelValueStoredAsNull(t *testing.T) {
	svc, _, _, readingRepo := newTestService()

	_, err := svc.HandleReport(context.Background(), Report{
		DeviceID:   "HANIBI-001",
		SensorData: SensorValues{Temperature: fl(-999), Weight: fl(120)},
	})
	if err != nil {
		t.Fatalf("HandleReport() error = %v", err)
	}
	if readingRepo.readings[0].Temperature != nil {
		t.Errorf("Temperature = %v, want nil for sentinel", *readingRepo.readings[0].Temperature)
	}
}

func TestHandleReport_MirrorsAcceptedReading(t *testing.T) {
	svc, _, _, _ := newTestService()
	mirror := &mockMirror{}
	svc.SetMirror(mirror)

	_, err := svc.HandleReport(context.Background(), Report{
		DeviceID:   "HANIBI-001",
		SensorData: SensorValues{Temperature: fl(20)},
	})
	if err != nil {
		t.Fatalf("HandleReport() error = %v", err)
	}
	if len(mirror.readings) != 1 || mirror.readings[0] != "HANIBI-001" {
		t.Errorf("mirrored readings = %v, want [HANIBI-001]", mirror.readings)
	}
}

func TestHandleHeartbeat_PromotesAndReportsStatus(t *testing.T) {
	svc, _, _, _ := newTestService()

	wifi := -61
	result, err := svc.HandleHeartbeat(context.Background(), HeartbeatInput{
		DeviceID:   "HANIBI-001",
		WifiSignal: &wifi,
	})
	if err != nil {
		t.Fatalf("HandleHeartbeat() error = %v", err)
	}
	if result.ConnectionStatus != device.StatusOnline {
		t.Errorf("ConnectionStatus = %v, want ONLINE", result.ConnectionStatus)
	}
}

func TestHandleEvent_InvalidTypeRejected(t *testing.T) {
	svc, deviceRepo, _, _ := newTestService()
	ctx := context.Background()

	_, err := svc.HandleEvent(ctx, EventInput{
		DeviceID:  "HANIBI-001",
		EventType: "SPIN_CYCLE",
	})
	if !errors.Is(err, session.ErrInvalidEventType) {
		t.Fatalf("HandleEvent() error = %v, want ErrInvalidEventType", err)
	}
	if _, err := deviceRepo.GetByID(ctx, "HANIBI-001"); !errors.Is(err, device.ErrDeviceNotFound) {
		t.Error("rejected event must not register the device")
	}
}

func TestHandleEvent_DoorEventsUpdateDeviceRecord(t *testing.T) {
	svc, deviceRepo, _, _ := newTestService()
	ctx := context.Background()

	ts := time.Now().UTC()
	if _, err := svc.HandleEvent(ctx, EventInput{
		DeviceID: "HANIBI-001", EventType: "DOOR_OPENED", Timestamp: &ts,
	}); err != nil {
		t.Fatalf("HandleEvent(DOOR_OPENED) error = %v", err)
	}

	d, _ := deviceRepo.GetByID(ctx, "HANIBI-001")
	if !d.DoorOpen {
		t.Error("DoorOpen = false after DOOR_OPENED")
	}

	ts2 := ts.Add(time.Second)
	if _, err := svc.HandleEvent(ctx, EventInput{
		DeviceID: "HANIBI-001", EventType: "DOOR_CLOSED", Timestamp: &ts2,
	}); err != nil {
		t.Fatalf("HandleEvent(DOOR_CLOSED) error = %v", err)
	}

	d, _ = deviceRepo.GetByID(ctx, "HANIBI-001")
	if d.DoorOpen {
		t.Error("DoorOpen = true after DOOR_CLOSED")
	}
}

func TestHandleEvent_SensorErrorFaultsDevice(t *testing.T) {
	svc, deviceRepo, _, _ := newTestService()
	ctx := context.Background()

	result, err := svc.HandleEvent(ctx, EventInput{
		DeviceID: "HANIBI-001", EventType: "SENSOR_ERROR",
	})
	if err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	// A fault with no running session still closes a reconstructed one.
	if !result.Anomalous {
		t.Error("Anomalous = false, want true for fault without active session")
	}
	if result.State != session.StateError {
		t.Errorf("State = %v, want ERROR", result.State)
	}

	d, _ := deviceRepo.GetByID(ctx, "HANIBI-001")
	if d.ConnectionStatus != device.StatusError {
		t.Errorf("ConnectionStatus = %v, want ERROR", d.ConnectionStatus)
	}
}

func TestHandleEvent_CompletionMirrorsSessionMetrics(t *testing.T) {
	svc, _, _, _ := newTestService()
	mirror := &mockMirror{}
	svc.SetMirror(mirror)
	ctx := context.Background()

	start := time.Now().UTC()
	if _, err := svc.HandleEvent(ctx, EventInput{
		DeviceID: "HANIBI-001", EventType: "PROCESSING_STARTED", Timestamp: &start,
	}); err != nil {
		t.Fatalf("start event: %v", err)
	}
	if len(mirror.sessions) != 0 {
		t.Fatal("open session must not be mirrored yet")
	}

	done := start.Add(time.Minute)
	result, err := svc.HandleEvent(ctx, EventInput{
		DeviceID: "HANIBI-001", EventType: "PROCESSING_COMPLETED", Timestamp: &done,
	})
	if err != nil {
		t.Fatalf("completion event: %v", err)
	}
	if len(mirror.sessions) != 1 || mirror.sessions[0] != *result.SessionID {
		t.Errorf("mirrored sessions = %v, want [%s]", mirror.sessions, *result.SessionID)
	}
}

func TestHandleEvent_DuplicateDispatchesNothing(t *testing.T) {
	svc, deviceRepo, _, _ := newTestService()
	mirror := &mockMirror{}
	svc.SetMirror(mirror)
	ctx := context.Background()

	ts := time.Now().UTC()
	input := EventInput{DeviceID: "HANIBI-001", EventType: "SENSOR_ERROR", Timestamp: &ts}

	if _, err := svc.HandleEvent(ctx, input); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	// Clear the fault so a second dispatch would be observable.
	if _, err := svc.HandleHeartbeat(ctx, HeartbeatInput{DeviceID: "HANIBI-001"}); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	mirrored := len(mirror.sessions)

	result, err := svc.HandleEvent(ctx, input)
	if err != nil {
		t.Fatalf("replayed delivery: %v", err)
	}
	if result.State != session.StateError {
		t.Errorf("replay State = %v, want ERROR from original session", result.State)
	}
	if len(mirror.sessions) != mirrored {
		t.Error("replayed event must not mirror session metrics again")
	}
	d, _ := deviceRepo.GetByID(ctx, "HANIBI-001")
	if d.ConnectionStatus != device.StatusOnline {
		t.Errorf("ConnectionStatus = %v, replayed fault must not re-fault the device", d.ConnectionStatus)
	}
}

func TestHandleReport_ImplicitHeartbeatAdvancesClock(t *testing.T) {
	svc, deviceRepo, _, _ := newTestService()
	ctx := context.Background()

	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }

	if _, err := svc.HandleReport(ctx, Report{DeviceID: "HANIBI-001"}); err != nil {
		t.Fatalf("first report: %v", err)
	}
	svc.now = func() time.Time { return base.Add(time.Minute) }
	if _, err := svc.HandleReport(ctx, Report{DeviceID: "HANIBI-001"}); err != nil {
		t.Fatalf("second report: %v", err)
	}

	d, _ := deviceRepo.GetByID(ctx, "HANIBI-001")
	if d.LastHeartbeatAt == nil || !d.LastHeartbeatAt.Equal(base.Add(time.Minute)) {
		t.Errorf("LastHeartbeatAt = %v, want %v", d.LastHeartbeatAt, base.Add(time.Minute))
	}
}
