package camera

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/hanibi/hanibi-core/internal/device"
	"github.com/hanibi/hanibi-core/internal/infrastructure/mqtt"
)

// Logger defines the logging interface used by this package.
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

// Publisher is the slice of the MQTT client used to send capture
// commands.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// CaptureCommand is the payload published to
// hanibi/{deviceId}/camera/capture. The appliance answers by uploading
// the image against the snapshotId.
type CaptureCommand struct {
	SnapshotID  string  `json:"snapshotId"`
	TriggerType string  `json:"triggerType"`
	SessionID   *string `json:"sessionId,omitempty"`
}

// Service manages camera registration, capture requests and snapshot
// completion.
type Service struct {
	snapshots Repository
	registry  *device.Registry
	publisher Publisher
	qos       byte

	// snapshotsDir is where uploaded images land on disk.
	snapshotsDir string

	logger Logger
	now    func() time.Time
}

// NewService creates a camera service. The publisher is optional; with
// no MQTT transport capture requests fail fast and leave no record.
func NewService(snapshots Repository, registry *device.Registry, snapshotsDir string) *Service {
	return &Service{
		snapshots:    snapshots,
		registry:     registry,
		snapshotsDir: snapshotsDir,
		logger:       noopLogger{},
		now:          time.Now,
	}
}

// SetLogger sets the logger for the service.
func (s *Service) SetLogger(logger Logger) {
	s.logger = logger
}

// SetPublisher attaches the capture command transport.
func (s *Service) SetPublisher(publisher Publisher, qos byte) {
	s.publisher = publisher
	s.qos = qos
}

// RegisterCamera records a device's camera endpoint, auto-registering
// the device on first contact.
func (s *Service) RegisterCamera(ctx context.Context, deviceID, rtspURL, model string) (*device.Device, error) {
	if _, err := s.registry.RegisterOrGet(ctx, deviceID); err != nil {
		return nil, err
	}
	updated, err := s.registry.SetCameraInfo(ctx, deviceID, rtspURL, model)
	if err != nil {
		return nil, err
	}

	s.logger.Info("camera registered",
		"device_id", deviceID, "model", model)
	return updated, nil
}

// GetCamera returns the device record carrying the camera info.
func (s *Service) GetCamera(ctx context.Context, deviceID string) (*device.Device, error) {
	return s.registry.GetDevice(ctx, deviceID)
}

// RequestCapture creates a PENDING snapshot and publishes the capture
// command to the device. The snapshot stays PENDING until the device
// uploads the image; a publish failure marks it FAILED immediately.
func (s *Service) RequestCapture(ctx context.Context, deviceID, sessionID, triggerType string) error {
	if s.publisher == nil {
		return ErrNotPublishable
	}

	snapshot := &Snapshot{
		SnapshotID:  uuid.New().String(),
		DeviceID:    deviceID,
		TriggerType: triggerType,
		Status:      StatusPending,
		CreatedAt:   s.now().UTC(),
	}
	if sessionID != "" {
		snapshot.SessionID = &sessionID
	}

	if err := s.snapshots.Create(ctx, snapshot); err != nil {
		return fmt.Errorf("creating snapshot record: %w", err)
	}

	payload, err := json.Marshal(CaptureCommand{
		SnapshotID:  snapshot.SnapshotID,
		TriggerType: triggerType,
		SessionID:   snapshot.SessionID,
	})
	if err != nil {
		return fmt.Errorf("encoding capture command: %w", err)
	}

	topic := mqtt.Topics{}.CameraCapture(deviceID)
	if err := s.publisher.Publish(topic, payload, s.qos, false); err != nil {
		snapshot.Status = StatusFailed
		if updateErr := s.snapshots.Update(ctx, snapshot); updateErr != nil {
			s.logger.Error("failed to mark snapshot failed",
				"snapshot_id", snapshot.SnapshotID, "error", updateErr)
		}
		return fmt.Errorf("publishing capture command: %w", err)
	}

	s.logger.Debug("capture command published",
		"device_id", deviceID, "snapshot_id", snapshot.SnapshotID, "trigger", triggerType)
	return nil
}

// CompleteCapture stores an uploaded image and completes its snapshot.
// An empty snapshotID completes the device's most recent PENDING
// snapshot; devices that predate snapshot correlation upload without
// one. Capture latency is measured from the capture request.
func (s *Service) CompleteCapture(ctx context.Context, deviceID, snapshotID string, image []byte) (*Snapshot, error) {
	var snapshot *Snapshot
	var err error
	if snapshotID != "" {
		snapshot, err = s.snapshots.GetByID(ctx, snapshotID)
	} else {
		snapshot, err = s.snapshots.LatestPending(ctx, deviceID)
	}
	if err != nil {
		return nil, err
	}
	if snapshot.DeviceID != deviceID {
		return nil, ErrSnapshotNotFound
	}

	imageURL, err := s.storeImage(snapshot.SnapshotID, image)
	if err != nil {
		return nil, err
	}

	capturedAt := s.now().UTC()
	latency := capturedAt.Sub(snapshot.CreatedAt).Milliseconds()

	snapshot.Status = StatusCompleted
	snapshot.ImageURL = &imageURL
	snapshot.CapturedAt = &capturedAt
	snapshot.LatencyMs = &latency

	if err := s.snapshots.Update(ctx, snapshot); err != nil {
		return nil, err
	}

	s.logger.Info("snapshot completed",
		"device_id", deviceID, "snapshot_id", snapshot.SnapshotID, "latency_ms", latency)
	return snapshot, nil
}

// ListSnapshots returns a device's snapshots created within [from, to].
func (s *Service) ListSnapshots(ctx context.Context, deviceID string, from, to time.Time, limit int) ([]Snapshot, error) {
	return s.snapshots.ListByDeviceAndTimeRange(ctx, deviceID, from, to, limit)
}

// storeImage writes the uploaded image under the snapshots directory
// and returns the URL path it will be served from.
func (s *Service) storeImage(snapshotID string, image []byte) (string, error) {
	if err := os.MkdirAll(s.snapshotsDir, 0o755); err != nil {
		return "", fmt.Errorf("creating snapshots dir: %w", err)
	}

	filename := snapshotID + ".jpg"
	if err := os.WriteFile(filepath.Join(s.snapshotsDir, filename), image, 0o644); err != nil {
		return "", fmt.Errorf("writing snapshot image: %w", err)
	}
	return "/snapshots/" + filename, nil
}
