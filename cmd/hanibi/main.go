// Hanibi Core - Device Telemetry & Processing-Session State Engine
//
// This is the main entry point for the Hanibi Core application. It
// receives sensor reports, heartbeats and lifecycle events from Hanibi
// food-processing appliances over HTTP and MQTT, maintains the device
// registry and session state machine, and coordinates camera snapshot
// capture around processing cycles.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/hanibi/hanibi-core/migrations"

	"github.com/hanibi/hanibi-core/internal/api"
	"github.com/hanibi/hanibi-core/internal/audit"
	"github.com/hanibi/hanibi-core/internal/camera"
	"github.com/hanibi/hanibi-core/internal/device"
	"github.com/hanibi/hanibi-core/internal/infrastructure/config"
	"github.com/hanibi/hanibi-core/internal/infrastructure/database"
	"github.com/hanibi/hanibi-core/internal/infrastructure/influxdb"
	"github.com/hanibi/hanibi-core/internal/infrastructure/logging"
	"github.com/hanibi/hanibi-core/internal/infrastructure/mqtt"
	"github.com/hanibi/hanibi-core/internal/ingest"
	"github.com/hanibi/hanibi-core/internal/session"
	"github.com/hanibi/hanibi-core/internal/telemetry"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for
// testability. Returning an error allows main to handle exit codes
// consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Hanibi Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Repositories
	deviceRepo := device.NewSQLiteRepository(db.DB)
	sessionRepo := session.NewSQLiteRepository(db.DB)
	readingRepo := telemetry.NewSQLiteRepository(db.DB)
	snapshotRepo := camera.NewSQLiteRepository(db.DB)
	logRepo := audit.NewSQLiteRepository(db.DB)

	// Device registry
	registry := device.NewRegistry(deviceRepo)
	registry.SetLogger(log)
	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}
	log.Info("device registry initialised", "devices", registry.GetDeviceCount())

	// Session engine
	engine := session.NewEngine(sessionRepo)
	engine.SetLogger(log)

	// Request log writer (async, best effort)
	recorder := audit.NewWriter(logRepo)
	recorder.SetLogger(log)
	defer recorder.Close()

	// Shared ingest pipeline for HTTP and MQTT
	latest := telemetry.NewLatestCache()
	ingestSvc := ingest.NewService(registry, engine, readingRepo, latest)
	ingestSvc.SetLogger(log)

	// Camera snapshot service
	cameraSvc := camera.NewService(snapshotRepo, registry, cfg.Camera.SnapshotsDir)
	cameraSvc.SetLogger(log)

	// Side-effect dispatcher: capture requests on food-input events.
	dispatcher := ingest.NewDispatcher(cameraSvc, ingest.NewLogNotifier(log))
	dispatcher.SetLogger(log)
	ingestSvc.SetDispatcher(dispatcher)
	defer dispatcher.Wait()

	// Heartbeat monitor sweeps for silent devices in the background.
	monitor := device.NewMonitor(registry,
		time.Duration(cfg.Heartbeat.SweepInterval)*time.Second,
		time.Duration(cfg.Heartbeat.TimeoutThreshold)*time.Second,
	)
	monitor.SetLogger(log)
	go monitor.Run(ctx)
	log.Info("heartbeat monitor started",
		"sweep_interval", cfg.Heartbeat.SweepInterval,
		"timeout_threshold", cfg.Heartbeat.TimeoutThreshold,
	)

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})

		qos := byte(cfg.MQTT.QoS)

		// Capture commands go out over the device's camera topic.
		cameraSvc.SetPublisher(mqttClient, qos)

		// Inbound device traffic flows into the shared pipeline.
		consumer := ingest.NewConsumer(ingestSvc, mqttClient, qos)
		consumer.SetLogger(log)
		consumer.SetRecorder(recorder)
		if startErr := consumer.Start(); startErr != nil {
			return fmt.Errorf("subscribing to device topics: %w", startErr)
		}
		log.Info("MQTT consumer started")
	} else {
		log.Info("MQTT disabled, HTTP-only ingest")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})

		// Accepted readings and completed sessions are mirrored to the
		// time-series store.
		ingestSvc.SetMirror(influxClient)
	} else {
		log.Info("InfluxDB disabled")
	}

	// HTTP API server
	apiServer, err := api.New(api.Deps{
		Config:   cfg.API,
		Logger:   log,
		Ingest:   ingestSvc,
		Registry: registry,
		Engine:   engine,
		Sessions: sessionRepo,
		Readings: readingRepo,
		Latest:   latest,
		Camera:   cameraSvc,
		Logs:     logRepo,
		Recorder: recorder,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server (stop accepting new requests)
	// 2. InfluxDB (if enabled)
	// 3. MQTT (if enabled)
	// 4. Dispatcher (drain in-flight side effects)
	// 5. Request log writer (drain queued entries)
	// 6. Database

	log.Info("Hanibi Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses HANIBI_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("HANIBI_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
// mqttClient and influxClient may be nil when the transport is disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
