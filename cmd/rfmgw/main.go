// RFM Gateway - RFM69 sensor network to MQTT bridge
//
// This is the main entry point for the gateway. It connects the radio
// daemon and the MQTT broker, then runs the control loop that moves
// readings northbound and commands southbound until it is signalled to
// stop or a restart is requested over the bus.
//
// Exit codes:
//   - 0: clean shutdown
//   - 1: startup or runtime failure
//   - 3: restart requested through self-device 10
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/rfm-gateway/internal/api"
	"github.com/nerrad567/rfm-gateway/internal/board"
	"github.com/nerrad567/rfm-gateway/internal/bridges/rfm"
	"github.com/nerrad567/rfm-gateway/internal/daemon"
	"github.com/nerrad567/rfm-gateway/internal/infrastructure/config"
	"github.com/nerrad567/rfm-gateway/internal/infrastructure/database"
	"github.com/nerrad567/rfm-gateway/internal/infrastructure/influxdb"
	"github.com/nerrad567/rfm-gateway/internal/infrastructure/logging"
	"github.com/nerrad567/rfm-gateway/internal/infrastructure/metrics"
	"github.com/nerrad567/rfm-gateway/internal/infrastructure/mqtt"
	"github.com/nerrad567/rfm-gateway/internal/node"
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

// exitRestart tells the service manager the gateway asked to be restarted.
const exitRestart = 3

var (
	_ rfm.Recorder  = (*metrics.Metrics)(nil)
	_ rfm.Telemetry = (*influxdb.Client)(nil)
	_ rfm.Telemetry = (*node.Registry)(nil)
	_ rfm.Telemetry = telemetrySinks(nil)
	_ rfm.Transport = (*rfm.RadiodClient)(nil)
)

func main() {
	// Cancel on Ctrl+C and SIGTERM for a graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := run(ctx)
	cancel()

	switch {
	case errors.Is(err, rfm.ErrRestartRequested):
		os.Exit(exitRestart)
	case err != nil:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, rfm.ErrRestartRequested when a restart
//     was requested, or an error describing the failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting RFM gateway",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"node", cfg.Gateway.NodeID,
		"level", cfg.Logging.Level,
	)

	gatewayVersion := cfg.Gateway.Version
	if gatewayVersion == "" {
		gatewayVersion = version
	}

	m := metrics.New()

	indicators := board.NewIndicators(board.IndicatorConfig{
		ActivityLED: cfg.Board.ActivityLED,
		StatusLED:   cfg.Board.StatusLED,
	}, log.Component("board"))
	defer func() {
		if closeErr := indicators.Close(); closeErr != nil {
			log.Warn("error switching indicators off", "error", closeErr)
		}
	}()

	// Start the radio daemon (if managed)
	var radioDaemon *daemon.Supervisor
	if cfg.Radio.Daemon.Managed {
		radioDaemon, err = startRadioDaemon(ctx, cfg, log)
		if err != nil {
			return fmt.Errorf("starting radio daemon: %w", err)
		}
		defer func() {
			log.Info("stopping radio daemon")
			if stopErr := radioDaemon.Stop(); stopErr != nil {
				log.Error("error stopping radio daemon", "error", stopErr)
			}
		}()
	}

	// Connect to the radio daemon
	radio, err := rfm.ConnectRadiod(ctx, rfm.RadiodConfig{
		Connection:        cfg.Radio.Connection,
		NodeID:            cfg.Gateway.NodeID,
		NetworkID:         cfg.Radio.NetworkID,
		Frequency:         cfg.Radio.Frequency,
		EncryptKey:        cfg.Radio.EncryptKey,
		ReconnectInterval: cfg.Radio.ReconnectInterval,
	})
	if err != nil {
		return fmt.Errorf("connecting to radio daemon: %w", err)
	}
	defer func() {
		log.Info("closing radio daemon connection")
		if closeErr := radio.Close(); closeErr != nil {
			log.Error("error closing radio daemon", "error", closeErr)
		}
	}()
	radio.SetLogger(log.Component("radiod"))
	log.Info("radio daemon connected",
		"connection", cfg.Radio.Connection,
		"network", cfg.Radio.NetworkID,
		"frequency", cfg.Radio.Frequency,
	)

	mqttClient := newMQTTClient(cfg, log)
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()

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
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Open the node registry (optional)
	var (
		nodeDB   *database.DB
		registry *node.Registry
	)
	if cfg.Database.Enabled {
		nodeDB, registry, err = openNodeRegistry(ctx, cfg, log)
		if err != nil {
			return fmt.Errorf("opening node registry: %w", err)
		}
		defer func() {
			log.Info("closing node registry")
			if closeErr := registry.Close(); closeErr != nil {
				log.Error("error closing node registry", "error", closeErr)
			}
			if closeErr := nodeDB.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
	}

	var sinks telemetrySinks
	if influxClient != nil {
		sinks = append(sinks, influxClient)
	}
	if registry != nil {
		sinks = append(sinks, registry)
	}

	gw, err := rfm.New(gatewayOptions(cfg, gatewayVersion, &mqttBusAdapter{client: mqttClient}, radio, indicators, m, sinks, log))
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	if err := gw.Start(ctx); err != nil {
		if ctx.Err() != nil {
			log.Info("shutdown requested before the bus link came up")
			return nil
		}
		return fmt.Errorf("starting gateway: %w", err)
	}

	// Status server (optional)
	if cfg.HTTP.Enabled {
		statusServer, err := startStatusServer(ctx, cfg, log, statusLinks{
			gateway:  gw,
			radio:    radio,
			daemon:   radioDaemon,
			mqtt:     mqttClient,
			influx:   influxClient,
			database: nodeDB,
			registry: registry,
			metrics:  m,
		}, gatewayVersion)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := statusServer.Close(); closeErr != nil {
				log.Error("error closing status server", "error", closeErr)
			}
		}()
	}

	log.Info("initialisation complete, entering control loop")

	err = gw.Run(ctx)
	if errors.Is(err, rfm.ErrRestartRequested) {
		log.Warn("restart requested over the bus")
		if restartErr := board.NewRestarter(cfg.Board.Watchdog, log.Component("board")).Restart(); restartErr != nil && !errors.Is(restartErr, board.ErrNoWatchdog) {
			log.Error("arming watchdog failed, relying on the service manager", "error", restartErr)
		}
		return err
	}
	if err != nil {
		return fmt.Errorf("control loop: %w", err)
	}

	log.Info("RFM gateway stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses RFMGW_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("RFMGW_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// newMQTTClient builds the broker client with the gateway's offline will.
// The client is not connected; the gateway's supervisor does that.
func newMQTTClient(cfg *config.Config, log *logging.Logger) *mqtt.Client {
	client := mqtt.NewClient(cfg.MQTT, &mqtt.Will{
		Topic:    rfm.EncodeNorthbound(cfg.Gateway.NodeID, rfm.DeviceWakeup),
		Payload:  rfm.OfflineText(cfg.Gateway.NodeID),
		QoS:      byte(cfg.MQTT.QoS),
		Retained: true,
	})
	client.SetLogger(log.Component("mqtt"))
	client.SetOnConnect(func() {
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", client.ClientID(),
		)
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	return client
}

// gatewayOptions maps the configuration onto rfm.Options.
//
// Optional collaborators are only set when present so that a missing
// sensor or telemetry sink reaches the gateway as a nil interface.
func gatewayOptions(
	cfg *config.Config,
	gatewayVersion string,
	bus rfm.Bus,
	transport rfm.Transport,
	indicators rfm.Indicators,
	recorder rfm.Recorder,
	sinks telemetrySinks,
	log *logging.Logger,
) rfm.Options {
	opts := rfm.Options{
		GatewayID:         cfg.Gateway.NodeID,
		Version:           gatewayVersion,
		Bus:               bus,
		Transport:         transport,
		QoS:               byte(cfg.MQTT.QoS),
		LoopInterval:      cfg.Gateway.LoopInterval,
		ReconnectInterval: cfg.MQTT.Reconnect.Interval,
		InboundQueue:      cfg.Gateway.InboundQueue,
		RadioRetries:      cfg.Radio.SendRetries,
		PowerThreshold:    cfg.Monitor.PowerThreshold,
		PowerInterval:     cfg.Monitor.PowerInterval,
		Indicators:        indicators,
		Metrics:           recorder,
		Logger:            log.Component("gateway"),
	}
	if sensor := board.NewFileSensor(cfg.Board.PowerSensor); sensor != nil {
		opts.PowerSensor = sensor
	}
	if t := sinks.sink(); t != nil {
		opts.Telemetry = t
	}
	return opts
}

// startRadioDaemon launches the radio daemon and waits until its socket
// accepts connections.
//
// Returns:
//   - *daemon.Supervisor: Running supervisor, stop it on shutdown
//   - error: If the daemon cannot be launched or never becomes ready
func startRadioDaemon(ctx context.Context, cfg *config.Config, log *logging.Logger) (*daemon.Supervisor, error) {
	dcfg := cfg.Radio.Daemon
	sup, err := daemon.New(daemon.Config{
		Name:         "radiod",
		Binary:       dcfg.Binary,
		Args:         dcfg.Args,
		RestartDelay: dcfg.RestartDelay,
		MaxRestarts:  dcfg.MaxRestarts,
		ReadyTimeout: dcfg.ReadyTimeout,
		ReadyCheck: func(ctx context.Context) error {
			return rfm.ProbeRadiod(ctx, cfg.Radio.Connection)
		},
	}, log.Component("daemon"))
	if err != nil {
		return nil, err
	}

	log.Info("starting radio daemon", "binary", dcfg.Binary, "args", dcfg.Args)
	if err := sup.Start(ctx); err != nil {
		return nil, err
	}
	return sup, nil
}

// openNodeRegistry opens and migrates the registry database, then starts
// the registry writer.
//
// Returns:
//   - *database.DB: Open database, close it after the registry
//   - *node.Registry: Running registry
//   - error: If the database cannot be opened or migrated
func openNodeRegistry(ctx context.Context, cfg *config.Config, log *logging.Logger) (*database.DB, *node.Registry, error) {
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, nil, err
	}

	if err := db.Migrate(ctx); err != nil {
		db.Close() //nolint:errcheck // Already failing
		return nil, nil, err
	}

	registry := node.NewRegistry(node.NewSQLiteRepository(db.DB), cfg.Database.QueueSize)
	registry.SetLogger(log.Component("nodes"))
	if err := registry.Start(ctx); err != nil {
		db.Close() //nolint:errcheck // Already failing
		return nil, nil, err
	}

	log.Info("node registry opened", "path", db.Path(), "wal", cfg.Database.WALMode)
	return db, registry, nil
}

// statusLinks collects what the status API reports on. Optional links
// are nil when disabled.
type statusLinks struct {
	gateway  *rfm.Gateway
	radio    *rfm.RadiodClient
	daemon   *daemon.Supervisor
	mqtt     *mqtt.Client
	influx   *influxdb.Client
	database *database.DB
	registry *node.Registry
	metrics  *metrics.Metrics
}

// startStatusServer starts the HTTP status API.
//
// Returns:
//   - *api.Server: Running server, close it on shutdown
//   - error: If the listener cannot be bound
func startStatusServer(
	ctx context.Context,
	cfg *config.Config,
	log *logging.Logger,
	links statusLinks,
	gatewayVersion string,
) (*api.Server, error) {
	checks := []api.Check{
		{Name: "mqtt", Checker: links.mqtt},
		{Name: "radio", Checker: links.radio},
	}
	if links.influx != nil {
		checks = append(checks, api.Check{Name: "influxdb", Checker: links.influx})
	}

	deps := api.Deps{
		Config:  cfg.HTTP,
		Logger:  log.Component("api"),
		Gateway: links.gateway,
		Radio:   links.radio,
		Metrics: links.metrics.Handler(),
		Version: gatewayVersion,
	}
	if links.daemon != nil {
		deps.Daemon = links.daemon
		checks = append(checks, api.Check{Name: "radio_daemon", Checker: links.daemon})
	}
	if links.database != nil {
		checks = append(checks, api.Check{Name: "database", Checker: links.database})
	}
	if links.registry != nil {
		deps.Nodes = links.registry
	}
	deps.Checks = checks

	server, err := api.New(deps)
	if err != nil {
		return nil, fmt.Errorf("creating status server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting status server: %w", err)
	}
	log.Info("status server started", "address", server.Addr())
	return server, nil
}

// mqttBusAdapter adapts *mqtt.Client to the rfm.Bus interface.
type mqttBusAdapter struct {
	client *mqtt.Client
}

func (a *mqttBusAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe wraps handler; the gateway's handler only enqueues and never fails.
func (a *mqttBusAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

func (a *mqttBusAdapter) IsConnected() bool {
	return a.client.IsConnected()
}

func (a *mqttBusAdapter) Reconnect() error {
	return a.client.Reconnect()
}

// telemetrySinks fans uplink telemetry out to every enabled sink.
type telemetrySinks []rfm.Telemetry

func (s telemetrySinks) WriteReading(nodeID, device int, class, text string) {
	for _, t := range s {
		t.WriteReading(nodeID, device, class, text)
	}
}

func (s telemetrySinks) WriteSignal(nodeID, rssi int) {
	for _, t := range s {
		t.WriteSignal(nodeID, rssi)
	}
}

// sink returns nil when there are no sinks and the sink itself when
// there is exactly one.
func (s telemetrySinks) sink() rfm.Telemetry {
	switch len(s) {
	case 0:
		return nil
	case 1:
		return s[0]
	default:
		return s
	}
}
