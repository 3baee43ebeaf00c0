package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/iotmesh-go/internal/core/service"
	"github.com/yndnr/iotmesh-go/internal/infra/buildinfo"
	"github.com/yndnr/iotmesh-go/internal/infra/confloader"
	"github.com/yndnr/iotmesh-go/internal/infra/influxdb"
	"github.com/yndnr/iotmesh-go/internal/infra/mqtt"
	"github.com/yndnr/iotmesh-go/internal/infra/shutdown"
	"github.com/yndnr/iotmesh-go/internal/infra/tlsroots"
	"github.com/yndnr/iotmesh-go/internal/server/config"
	"github.com/yndnr/iotmesh-go/internal/server/httpserver"
	"github.com/yndnr/iotmesh-go/internal/server/iotserver"
	"github.com/yndnr/iotmesh-go/internal/storage"
	"github.com/yndnr/iotmesh-go/internal/storage/memory"
	"github.com/yndnr/iotmesh-go/internal/telemetry/logger"
	"github.com/yndnr/iotmesh-go/internal/telemetry/metric"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:      "iotmesh-server",
		Usage:     "IoTMesh device server",
		UsageText: "iotmesh-server [--config FILE] [--port N] [port]",
		Version:   buildinfo.String(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				EnvVars: []string{"IOTMESH_CONFIG"},
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Device listener port (overrides server.addr)",
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Optional .env file read before the environment",
				Value: ".env",
			},
		},
		Action:   serveAction,
		Commands: []*cli.Command{statusCommand()},
	}
}

func serveAction(c *cli.Context) error {
	port, err := portArg(c)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(c.String("config"), c.String("env-file"), port)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	return run(c.Context, cfg, c.String("config"))
}

// portArg returns the port from --port or the positional argument, or 0.
func portArg(c *cli.Context) (int, error) {
	if c.IsSet("port") {
		return c.Int("port"), nil
	}
	switch c.NArg() {
	case 0:
		return 0, nil
	case 1:
		port, err := strconv.Atoi(c.Args().First())
		if err != nil {
			return 0, fmt.Errorf("port %q is not a number", c.Args().First())
		}
		return port, nil
	default:
		return 0, fmt.Errorf("too many arguments\nusage: %s", c.App.UsageText)
	}
}

// loadConfig loads defaults, the optional file, .env and IOTMESH_*
// variables, applies a port override and verifies the result.
func loadConfig(configFile, envFile string, port int) (*config.ServerConfig, error) {
	cfg := config.Default()

	opts := []confloader.Option{confloader.WithDotEnv(envFile)}
	if configFile != "" {
		opts = append(opts, confloader.WithConfigFile(configFile))
	}
	if err := confloader.NewLoader(opts...).Load(cfg); err != nil {
		return nil, err
	}

	if port != 0 {
		cfg.Server.Addr = config.WithPort(cfg.Server.Addr, port)
	}

	if err := config.Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.ServerConfig, configFile string) error {
	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger.SetDefault(log)
	slogLogger := log.Slog()
	slog.SetDefault(slogLogger)

	log.Info("starting iotmesh-server",
		"version", buildinfo.Version,
		"commit", buildinfo.Commit,
		"config", configFile)
	log.Debug("effective configuration", "config", config.Sanitize(cfg))

	metrics := metric.Global()
	shutdownHandler := shutdown.NewHandler(shutdownTimeout, slogLogger)

	// Hooks run newest first: register in startup order.
	store, err := openStore(cfg, metrics, slogLogger)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	shutdownHandler.OnShutdown("storage", func(context.Context) error {
		return store.Close()
	})

	sinks, err := openSinks(ctx, cfg, metrics, slogLogger, shutdownHandler)
	if err != nil {
		shutdownHandler.Shutdown()
		return err
	}

	var throttle *service.LoginThrottle
	if cfg.Server.LoginFailuresPerSecond > 0 {
		throttle = service.NewLoginThrottle(cfg.Server.LoginFailuresPerSecond, cfg.Server.LoginFailureBurst)
	}
	program := service.ProgramIdentity{Name: cfg.Program.Name, Size: cfg.Program.Size}
	registry, err := service.NewRegistry(ctx, store, service.RegistryConfig{
		Program:       program,
		MaxImageBytes: cfg.Server.MaxImageBytes,
		Sinks:         sinks,
		LoginThrottle: throttle,
		Logger:        slogLogger,
	})
	if err != nil {
		shutdownHandler.Shutdown()
		return fmt.Errorf("init registry: %w", err)
	}
	metrics.MustRegister(metric.NewCollector(func() metric.Stats {
		st := registry.Stats()
		return metric.Stats{
			Users:         st.Users,
			Devices:       st.Devices,
			ActiveDevices: st.ActiveDevices,
			Domains:       st.Domains,
		}
	}))

	srv := iotserver.New(&iotserver.Config{
		Address:          cfg.Server.Addr,
		IdleTimeout:      cfg.Server.IdleTimeout,
		WriteTimeout:     cfg.Server.WriteTimeout,
		CloseTimeout:     cfg.Server.CloseTimeout,
		MaxConnections:   cfg.Server.MaxConnections,
		RateLimit:        cfg.Server.RateLimit,
		RateBurst:        cfg.Server.RateBurst,
		MaxEnvelopeBytes: cfg.Server.MaxEnvelopeBytes,
	}, registry, metrics, slogLogger)

	serveCtx, cancelServe := context.WithCancel(context.Background())
	if err := srv.Start(serveCtx); err != nil {
		cancelServe()
		shutdownHandler.Shutdown()
		return err
	}
	shutdownHandler.OnShutdown("device listener", func(ctx context.Context) error {
		defer cancelServe()
		return srv.Shutdown(ctx)
	})

	if cfg.Admin.Enabled {
		if err := startAdmin(cfg, registry, srv, store, metrics, slogLogger, shutdownHandler); err != nil {
			shutdownHandler.Shutdown()
			return err
		}
	}

	if configFile != "" {
		watchConfig(configFile, slogLogger, shutdownHandler)
	}

	log.Info("server started, press Ctrl+C to stop", "addr", srv.Addr().String())
	if err := shutdownHandler.Wait(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		return err
	}

	log.Info("server stopped gracefully")
	return nil
}

// openStore opens the configured KV engine under a KVStore.
func openStore(cfg *config.ServerConfig, metrics *metric.Registry, log *slog.Logger) (*storage.KVStore, error) {
	switch cfg.Storage.Engine {
	case storage.EngineMemory:
		log.Warn("using the memory storage engine; state is lost on restart")
		return storage.NewKVStore(memory.New(), log), nil
	case storage.EngineBadger:
		kvCfg := storage.DefaultKVConfig(cfg.Storage.DataDir)
		kvCfg.Badger.SyncWrites = cfg.Storage.SyncWrites
		if cfg.Storage.CacheSize > 0 {
			kvCfg.Badger.CacheSize = cfg.Storage.CacheSize
		}
		if cfg.Storage.GCInterval > 0 {
			kvCfg.Badger.GCInterval = cfg.Storage.GCInterval.String()
		}
		engine, err := storage.NewBadgerEngine(kvCfg, log)
		if err != nil {
			return nil, err
		}
		engine.RegisterMetrics(metrics.Registerer())
		return storage.NewKVStore(engine, log), nil
	default:
		return nil, fmt.Errorf("unknown storage engine %q", cfg.Storage.Engine)
	}
}

// openSinks connects the enabled reading sinks and registers their
// shutdown hooks.
func openSinks(ctx context.Context, cfg *config.ServerConfig, metrics *metric.Registry, log *slog.Logger, sh *shutdown.Handler) ([]service.ReadingSink, error) {
	var sinks []service.ReadingSink

	if cfg.MQTT.Enabled {
		var tlsCfg *tls.Config
		if t := cfg.MQTT.TLS; t.Enabled {
			c, err := tlsroots.ClientConfig(tlsroots.Options{
				CAFile:             t.CAFile,
				CertFile:           t.CertFile,
				KeyFile:            t.KeyFile,
				ServerName:         t.ServerName,
				InsecureSkipVerify: t.InsecureSkipVerify,
			})
			if err != nil {
				return nil, fmt.Errorf("init mqtt tls: %w", err)
			}
			tlsCfg = c
		}
		sink, err := mqtt.Connect(mqtt.Config{
			Broker:         cfg.MQTT.Broker,
			Port:           cfg.MQTT.Port,
			ClientID:       cfg.MQTT.ClientID,
			TopicPrefix:    cfg.MQTT.TopicPrefix,
			QoS:            byte(cfg.MQTT.QoS),
			Username:       cfg.MQTT.Username,
			Password:       cfg.MQTT.Password,
			KeepAlive:      cfg.MQTT.KeepAlive,
			ConnectTimeout: cfg.MQTT.ConnectTimeout,
			QueueSize:      cfg.MQTT.QueueSize,
			TLS:            tlsCfg,
		}, metrics, log)
		if err != nil {
			return nil, fmt.Errorf("init mqtt: %w", err)
		}
		sh.OnShutdown("mqtt", sink.Close)
		sinks = append(sinks, sink)
	}

	if cfg.InfluxDB.Enabled {
		sink, err := influxdb.Connect(ctx, influxdb.Config{
			URL:           cfg.InfluxDB.URL,
			Token:         cfg.InfluxDB.Token,
			Org:           cfg.InfluxDB.Org,
			Bucket:        cfg.InfluxDB.Bucket,
			BatchSize:     cfg.InfluxDB.BatchSize,
			FlushInterval: cfg.InfluxDB.FlushInterval,
		}, metrics, log)
		if err != nil {
			return nil, fmt.Errorf("init influxdb: %w", err)
		}
		sh.OnShutdown("influxdb", func(context.Context) error {
			return sink.Close()
		})
		sinks = append(sinks, sink)
	}

	return sinks, nil
}

// startAdmin serves the admin HTTP surface in the background.
func startAdmin(cfg *config.ServerConfig, registry *service.Registry, srv *iotserver.Server, store *storage.KVStore, metrics *metric.Registry, log *slog.Logger, sh *shutdown.Handler) error {
	handler := httpserver.NewRouter(&httpserver.RouterConfig{
		Registry: registry,
		Sessions: srv,
		Metrics:  metrics,
		Logger:   log,
		StorageHealth: func(ctx context.Context) error {
			_, err := store.Engine().Stats(ctx)
			return err
		},
		AllowList: cfg.Admin.AllowList,
		RateLimit: cfg.Admin.RateLimit,
	})

	ln, err := net.Listen("tcp", cfg.Admin.Addr)
	if err != nil {
		return fmt.Errorf("admin listen %s: %w", cfg.Admin.Addr, err)
	}
	admin := httpserver.New(cfg.Admin.Addr, handler)
	go func() {
		log.Info("admin HTTP server listening", "addr", ln.Addr().String())
		if err := admin.Serve(ln); err != nil {
			log.Error("admin HTTP server error", "error", err)
		}
	}()
	sh.OnShutdown("admin http", admin.Shutdown)
	return nil
}

// watchConfig reloads log.level whenever the config file changes.
func watchConfig(configFile string, log *slog.Logger, sh *shutdown.Handler) {
	w, err := confloader.NewWatcher(confloader.WithWatcherLogger(log))
	if err != nil {
		log.Warn("config watcher unavailable", "error", err)
		return
	}
	if err := w.Watch(configFile); err != nil {
		log.Warn("config watcher unavailable", "error", err)
		w.Stop()
		return
	}
	w.OnChange(func(path string) {
		cfg := config.Default()
		if err := confloader.NewLoader(confloader.WithConfigFile(path)).Load(cfg); err != nil {
			log.Warn("config reload failed", "path", path, "error", err)
			return
		}
		if cfg.Log.Level != logger.GetLevel() {
			logger.SetLevel(cfg.Log.Level)
			log.Info("log level changed", "level", logger.GetLevel())
		}
	})
	w.StartAsync()
	sh.OnShutdown("config watcher", func(context.Context) error {
		return w.Stop()
	})
}
