// intercomd - IP intercom polling and actuation daemon
//
// intercomd polls 2N IP intercoms for call activity, turns vendor relay
// outputs into doors (momentary switches) and gates (timed covers), records
// ring history, and exposes the whole lot over a REST API, WebSocket stream,
// and MQTT for host automation systems.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/mastalir1980/ha-2N-intercom/migrations"

	"github.com/mastalir1980/ha-2N-intercom/internal/api"
	"github.com/mastalir1980/ha-2N-intercom/internal/bridge"
	"github.com/mastalir1980/ha-2N-intercom/internal/engine"
	"github.com/mastalir1980/ha-2N-intercom/internal/history"
	"github.com/mastalir1980/ha-2N-intercom/internal/infrastructure/config"
	"github.com/mastalir1980/ha-2N-intercom/internal/infrastructure/database"
	"github.com/mastalir1980/ha-2N-intercom/internal/infrastructure/influxdb"
	"github.com/mastalir1980/ha-2N-intercom/internal/infrastructure/logging"
	"github.com/mastalir1980/ha-2N-intercom/internal/infrastructure/mqtt"
	"github.com/mastalir1980/ha-2N-intercom/internal/intercom"
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
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting intercomd",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath, "devices", len(cfg.Devices))

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

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Ring history persistence
	ringRepo := history.NewSQLiteRepository(db.DB)
	recorder := history.NewRecorder(ringRepo, log)

	// Device clients, shared between the engines and the snapshot proxy
	clients := make(map[string]*intercom.Client, len(cfg.Devices))
	snapshots := make(map[string]api.SnapshotFetcher, len(cfg.Devices))
	for i := range cfg.Devices {
		client := intercom.New(cfg.Devices[i])
		clients[cfg.Devices[i].ID] = client
		snapshots[cfg.Devices[i].ID] = client
	}

	// Engine manager, one polling engine per device
	manager, err := engine.NewManager(cfg.Devices, func(dc config.DeviceConfig) engine.DeviceClient {
		return clients[dc.ID]
	}, log)
	if err != nil {
		return fmt.Errorf("creating engine manager: %w", err)
	}
	manager.AddSink(recorder)

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

		manager.AddSink(&telemetrySink{influx: influxClient})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Connect to MQTT broker and start the automation bridge (optional)
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

		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})

		mqttBridge, bridgeErr := bridge.New(bridge.Options{
			MQTTClient: mqttClient,
			Commander:  manager,
			Logger:     log,
		})
		if bridgeErr != nil {
			return fmt.Errorf("creating MQTT bridge: %w", bridgeErr)
		}
		if startErr := mqttBridge.Start(); startErr != nil {
			return fmt.Errorf("starting MQTT bridge: %w", startErr)
		}
		defer func() {
			log.Info("stopping MQTT bridge")
			mqttBridge.Close()
		}()
		manager.AddSink(mqttBridge)
		log.Info("MQTT bridge started")
	} else {
		log.Info("MQTT disabled")
	}

	// Start the engines
	manager.Start(ctx)
	defer func() {
		log.Info("stopping engines")
		manager.Stop()
	}()
	log.Info("engines started", "devices", len(cfg.Devices))

	// Start the API server
	apiServer, err := api.New(api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Security:  cfg.Security,
		Logger:    log,
		Manager:   manager,
		History:   ringRepo,
		Snapshots: snapshots,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server started", "address", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port))

	// Verify infrastructure connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls will run in reverse order:
	// 1. API server
	// 2. Engines
	// 3. MQTT (if enabled)
	// 4. InfluxDB (if enabled)
	// 5. Database

	log.Info("intercomd stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses INTERCOMD_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("INTERCOMD_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check (may be nil if disabled)
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
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

	// Per-device health is reported live by the engines; an unreachable
	// intercom is an operational state, not a startup failure.

	return nil
}

// telemetrySink writes engine events to InfluxDB for dashboards.
// Writes are asynchronous and non-blocking; failures surface via the
// client's error callback.
type telemetrySink struct {
	influx *influxdb.Client
}

// Publish implements engine.EventSink.
func (t *telemetrySink) Publish(event engine.Event) {
	switch event.Type {
	case engine.EventSnapshot:
		if event.Snapshot == nil {
			return
		}
		t.influx.WritePollSample(event.DeviceID, true, event.Snapshot.Latency)

	case engine.EventRingEnd:
		if event.Ring == nil {
			return
		}
		t.influx.WriteRingEvent(event.DeviceID, event.Ring.Duration(), string(event.Ring.EndedBy))

	case engine.EventAvailability:
		if event.Health == nil {
			return
		}
		t.influx.WriteAvailability(event.DeviceID, event.Health.Available)

	case engine.EventRelayCommand:
		if event.Command == nil {
			return
		}
		t.influx.WriteRelayActuation(event.DeviceID, event.Command.Index, string(event.Command.Command), event.Command.Accepted)

	case engine.EventRelayState:
		if event.Relay == nil {
			return
		}
		// Stamped with the engine's transition time, not the write time.
		t.influx.WritePointWithTime("relay_state",
			map[string]string{
				"device_id": event.DeviceID,
				"relay":     fmt.Sprintf("%d", event.Relay.Index),
				"kind":      event.Relay.Kind,
			},
			map[string]interface{}{
				"state": string(event.Relay.State),
			},
			event.Timestamp,
		)
	}
}
