// Node-RED Matter Bridge
//
// This is the main entry point for the bridge daemon. It exposes virtual
// devices defined in Node-RED flows as Matter endpoints behind a single
// aggregator, keeping flow state and controller state synchronized over
// MQTT.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/8none1/node-red-matter-bridge/migrations"

	"github.com/8none1/node-red-matter-bridge/internal/bridge"
	"github.com/8none1/node-red-matter-bridge/internal/device"
	"github.com/8none1/node-red-matter-bridge/internal/infrastructure/config"
	"github.com/8none1/node-red-matter-bridge/internal/infrastructure/database"
	"github.com/8none1/node-red-matter-bridge/internal/infrastructure/influxdb"
	"github.com/8none1/node-red-matter-bridge/internal/infrastructure/logging"
	"github.com/8none1/node-red-matter-bridge/internal/infrastructure/mqtt"
	"github.com/8none1/node-red-matter-bridge/internal/matter"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Node-RED Matter bridge",
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

	// Open database and run migrations
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

	// Enforce the state history retention policy
	history := device.NewSQLiteStateHistoryRepository(db.DB)
	if days := cfg.Database.HistoryRetentionDays; days > 0 {
		cutoff := time.Now().AddDate(0, 0, -days)
		removed, pruneErr := history.Prune(ctx, cutoff)
		if pruneErr != nil {
			return fmt.Errorf("pruning state history: %w", pruneErr)
		}
		log.Info("state history pruned", "removed", removed, "retention_days", days)
	}

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
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
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Build and start the bridge controller
	controller, err := startBridge(ctx, cfg, db, history, mqttClient, influxClient, log)
	if err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	defer func() {
		log.Info("stopping bridge")
		if stopErr := controller.Stop(context.Background()); stopErr != nil {
			log.Error("error stopping bridge", "error", stopErr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	pairing, err := controller.Commission()
	if err != nil {
		return fmt.Errorf("reading commissioning info: %w", err)
	}
	log.Info("ready for commissioning",
		"manual_code", pairing.ManualCode,
		"discriminator", pairing.Discriminator,
	)

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses MATTERBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("MATTERBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// startBridge wires the controller from infrastructure components and
// registers the configured seed devices.
func startBridge(ctx context.Context, cfg *config.Config, db *database.DB, history device.StateHistoryRepository, mqttClient *mqtt.Client, influxClient *influxdb.Client, log *logging.Logger) (*bridge.Controller, error) {
	devices := make([]device.Descriptor, 0, len(cfg.Devices))
	for _, d := range cfg.Devices {
		devices = append(devices, device.Descriptor{
			ID:          d.ID,
			Name:        d.Name,
			Type:        device.Type(d.Type),
			Bat:         d.Bat,
			BatType:     d.BatType,
			Passthrough: d.Passthrough,
		})
	}

	opts := bridge.Options{
		BridgeID:  cfg.Bridge.ID,
		Name:      cfg.Bridge.Name,
		VendorID:  cfg.Bridge.VendorID,
		ProductID: cfg.Bridge.ProductID,
		Devices:   devices,
		MQTT:      &mqttControllerAdapter{client: mqttClient},
		Store:     matter.NewSQLiteStore(db.DB),
		History:   history,
		Logger:    log,
	}
	if influxClient != nil {
		opts.Telemetry = influxClient
	}

	controller, err := bridge.NewController(opts)
	if err != nil {
		return nil, fmt.Errorf("creating controller: %w", err)
	}

	if err := controller.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting controller: %w", err)
	}
	log.Info("bridge started",
		"bridge", cfg.Bridge.ID,
		"devices", len(devices),
	)

	return controller, nil
}

// healthCheck verifies all infrastructure connections are healthy.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}

// mqttControllerAdapter adapts the infrastructure MQTT client to the
// controller's MQTTClient interface. The difference is the Subscribe
// handler signature:
// - Infrastructure mqtt: func(topic string, payload []byte) error
// - Controller expects:  func(topic string, payload []byte)
type mqttControllerAdapter struct {
	client *mqtt.Client
}

// Publish implements bridge.MQTTClient.
func (a *mqttControllerAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements bridge.MQTTClient.
func (a *mqttControllerAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	// Wrap the void handler to return nil (controller handlers don't return errors)
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// Unsubscribe implements bridge.MQTTClient.
func (a *mqttControllerAdapter) Unsubscribe(topic string) error {
	return a.client.Unsubscribe(topic)
}
