// Gray Logic HomematicIP Bridge
//
// This is the main entry point for the HomematicIP cloud light bridge.
// It exposes the lights of a HomematicIP access point to Gray Logic:
//   - MQTT bridge interface (commands, acks, retained state, health)
//   - REST API for entity states and light service calls
//   - InfluxDB energy and state metrics (optional)
//   - SQLite entity state history and service call audit log
//
// Usage:
//
//	hmipbridge [--config path]         run the bridge
//	hmipbridge token [subject] [--ttl]  print an API bearer token signed with the configured secret
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-hmip/internal/api"
	"github.com/nerrad567/gray-logic-hmip/internal/audit"
	hmipbridge "github.com/nerrad567/gray-logic-hmip/internal/bridges/hmip"
	"github.com/nerrad567/gray-logic-hmip/internal/entity"
	"github.com/nerrad567/gray-logic-hmip/internal/hmip"
	"github.com/nerrad567/gray-logic-hmip/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-hmip/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-hmip/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-hmip/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-hmip/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-hmip/internal/light"
	"github.com/nerrad567/gray-logic-hmip/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

const (
	// Default configuration file path
	defaultConfigPath = "configs/config.yaml"

	// defaultTokenSubject is used by the token command when none is given.
	defaultTokenSubject = "graylogic-core"

	// startupTimeout bounds the cloud lookup and initial state load.
	startupTimeout = 30 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// flagConfig overrides GRAYLOGIC_CONFIG when set.
var flagConfig string

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "hmipbridge",
		Short:        "HomematicIP cloud light bridge for Gray Logic",
		Version:      fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return run(c.Context())
		},
	}
	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "configuration file (default $GRAYLOGIC_CONFIG or "+defaultConfigPath+")")

	var ttl time.Duration
	token := &cobra.Command{
		Use:   "token [subject]",
		Short: "Print an API bearer token signed with the configured JWT secret",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return printToken(c.OutOrStdout(), args, ttl)
		},
	}
	token.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default 24h)")
	root.AddCommand(token)

	return root
}

// run wires every component and blocks until ctx is cancelled or a
// component fails. Deferred closes run in reverse order of startup.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Gray Logic HomematicIP bridge",
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
	log.Info("configuration loaded", "path", configPath, "site", cfg.Site.ID)

	// Entity state store
	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}

	registry := entity.NewRegistry(entity.NewSQLiteRepository(db.DB), cfg.Database.HistoryLimit)
	registry.SetLogger(log.Component("entity"))
	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading entity states: %w", refreshErr)
	}
	log.Info("entity registry initialised", "entities", registry.Count())

	// MQTT
	mqttClient, err := mqtt.Connect(cfg.MQTT,
		mqtt.WithLogger(log.Component("mqtt")),
		mqtt.WithOnConnect(func() { log.Info("MQTT connected") }),
		mqtt.WithOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) }),
	)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()

	// InfluxDB (optional)
	var metrics hmipbridge.MetricsWriter
	influxClient, err := influxdb.Connect(cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		metrics = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	// HomematicIP cloud
	cloud := hmip.NewClient(hmip.ClientConfig{
		AccessPointID: cfg.HmIP.AccessPointID,
		AuthToken:     cfg.HmIP.AuthToken,
		ClientName:    cfg.HmIP.ClientName,
		LookupURL:     cfg.HmIP.LookupURL,
	})
	home, err := loadHome(ctx, cloud)
	if err != nil {
		return err
	}
	log.Info("HomematicIP home loaded", "home_id", home.ID(), "devices", len(home.Devices()))

	platform, err := light.Setup(ctx, home, registry, light.WithLogger(log.Component("light")))
	if err != nil {
		return fmt.Errorf("setting up lights: %w", err)
	}
	dispatcher := light.NewDispatcher(platform, log.Component("services"))
	auditRepo := audit.NewSQLiteRepository(db.DB)
	auditLog := log.Component("audit")

	stream := hmip.NewEventStream(cloud, home,
		hmip.WithReconnectDelays(
			time.Duration(cfg.HmIP.Reconnect.InitialDelay)*time.Second,
			time.Duration(cfg.HmIP.Reconnect.MaxDelay)*time.Second,
		),
		hmip.WithStreamLogger(log.Component("hmip")),
	)

	// MQTT bridge
	bridge, err := hmipbridge.NewBridge(hmipbridge.BridgeOptions{
		MQTTClient:     mqttClient,
		Services:       audit.NewCaller(dispatcher, auditRepo, audit.SourceMQTT, auditLog),
		States:         registry,
		Metrics:        metrics,
		Stream:         stream,
		Version:        version,
		HealthInterval: cfg.GetHealthInterval(),
		Logger:         log.Component("bridge"),
	})
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	registry.OnStateChanged(bridge.HandleStateChange)
	bridge.ClearStates(platform.StaleEntities())

	g, gctx := errgroup.WithContext(ctx)

	if err := bridge.Start(gctx); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	defer func() {
		log.Info("stopping bridge")
		bridge.Stop()
	}()

	g.Go(func() error {
		return stream.Run(gctx)
	})

	// REST API (optional)
	if cfg.API.Enabled {
		server, apiErr := api.New(api.Deps{
			Config:   cfg.API,
			Security: cfg.Security,
			Logger:   log.Component("api"),
			States:   registry,
			Services: audit.NewCaller(dispatcher, auditRepo, audit.SourceAPI, auditLog),
			Audit:    auditRepo,
			Version:  version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := server.Start(gctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		g.Go(func() error {
			<-gctx.Done()
			return server.Close()
		})
	} else {
		log.Info("API disabled")
	}

	log.Info("initialisation complete, waiting for shutdown signal", "lights", platform.Count())

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	log.Info("Gray Logic HomematicIP bridge stopped")
	return nil
}

// loadHome resolves the cloud hosts and fetches the current home state.
func loadHome(ctx context.Context, cloud *hmip.Client) (*hmip.Home, error) {
	ctx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	if err := cloud.Lookup(ctx); err != nil {
		return nil, fmt.Errorf("looking up HomematicIP hosts: %w", err)
	}
	home, err := cloud.LoadHome(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading HomematicIP home: %w", err)
	}
	return home, nil
}

// printToken writes a bearer token for the REST API to w.
func printToken(w io.Writer, args []string, ttl time.Duration) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	token, err := issueToken(cfg, args, ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, token)
	return err
}

func issueToken(cfg *config.Config, args []string, ttl time.Duration) (string, error) {
	if cfg.Security.JWT.Secret == "" {
		return "", errors.New("security.jwt.secret is not set")
	}
	subject := defaultTokenSubject
	if len(args) > 0 && args[0] != "" {
		subject = args[0]
	}
	token, err := api.IssueToken(subject, cfg.Security.JWT.Secret, ttl)
	if err != nil {
		return "", fmt.Errorf("issuing token: %w", err)
	}
	return token, nil
}

// getConfigPath returns the configuration file path: the --config flag,
// then the GRAYLOGIC_CONFIG environment variable, then the default.
func getConfigPath() string {
	if flagConfig != "" {
		return flagConfig
	}
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
