package main

import (
    "context"
    "flag"
    "fmt"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/spf13/cobra"
    "github.com/spf13/viper"

    "github.com/etncore/ars/internal/admin"
    "github.com/etncore/ars/internal/agi"
    "github.com/etncore/ars/internal/ami"
    "github.com/etncore/ars/internal/cdr"
    "github.com/etncore/ars/internal/config"
    "github.com/etncore/ars/internal/ledger"
    "github.com/etncore/ars/internal/metrics"
    "github.com/etncore/ars/internal/registry"
    "github.com/etncore/ars/internal/router"
    "github.com/etncore/ars/pkg/logger"
)

var (
    configFile string
    initDB     bool
    serveMode  bool
    verbose    bool

    // Global services
    cfg        *config.Config
    database   *cdr.DB
    cache      *cdr.Cache
    store      *cdr.Store
    amiManager *ami.Manager
    routeReg   *registry.RouteRegistry
    profileReg *registry.ProfileRegistry
    authReg    *registry.AuthRegistry
    callLedger *ledger.Ledger
    engine     *router.Router
    agiServer  *agi.Server
    adminSvc   *admin.Server
    metricsSvc *metrics.PrometheusMetrics
)

func main() {
    flag.StringVar(&configFile, "config", "", "Configuration file path")
    flag.BoolVar(&initDB, "init-db", false, "Initialize call-detail database")
    flag.BoolVar(&serveMode, "serve", false, "Run the route selection engine")
    flag.BoolVar(&verbose, "verbose", false, "Enable verbose logging")
    flag.Parse()

    if flag.NFlag() > 0 {
        runServerMode()
        return
    }

    runCLI()
}

func runServerMode() {
    ctx := context.Background()

    if err := loadConfig(); err != nil {
        fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
        os.Exit(1)
    }

    var err error
    cfg, err = config.Load(viper.GetViper())
    if err != nil {
        fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
        os.Exit(1)
    }

    logConfig := logger.Config{
        Level:  cfg.Monitoring.Logging.Level,
        Format: cfg.Monitoring.Logging.Format,
        File: logger.FileConfig{
            Enabled:    cfg.Monitoring.Logging.File.Enabled,
            Path:       cfg.Monitoring.Logging.File.Path,
            MaxSize:    cfg.Monitoring.Logging.File.MaxSize,
            MaxBackups: cfg.Monitoring.Logging.File.MaxBackups,
            MaxAge:     cfg.Monitoring.Logging.File.MaxAge,
            Compress:   cfg.Monitoring.Logging.File.Compress,
        },
    }
    if verbose {
        logConfig.Level = "debug"
    }

    if err := logger.Init(logConfig); err != nil {
        fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
        os.Exit(1)
    }

    if err := initializeServices(ctx); err != nil {
        logger.WithError(err).Fatal("Failed to initialize services")
    }

    if initDB {
        if database == nil {
            logger.Fatal("Call-detail database not enabled in configuration")
        }
        logger.Info("Initializing call-detail schema")
        if err := cdr.RunMigrations(database.DB); err != nil {
            logger.WithError(err).Fatal("Failed to run migrations")
        }
        logger.Info("Call-detail initialization completed")
        return
    }

    if serveMode {
        serve()
        return
    }

    fmt.Println("Usage:")
    fmt.Println("  ars [command] [flags]")
    fmt.Println("  ars -serve               # Run the route selection engine")
    fmt.Println("  ars -init-db             # Initialize call-detail database")
    fmt.Println("")
    fmt.Println("Run 'ars --help' for more information")
}

func initializeServices(ctx context.Context) error {
    // Call-detail database and live-call cache are optional: routing
    // proceeds without durable records.
    if cfg.Database.Enabled {
        dbConfig := cdr.Config{
            Driver:          cfg.Database.Driver,
            Host:            cfg.Database.Host,
            Port:            cfg.Database.Port,
            Username:        cfg.Database.Username,
            Password:        cfg.Database.Password,
            Database:        cfg.Database.Database,
            MaxOpenConns:    cfg.Database.MaxOpenConns,
            MaxIdleConns:    cfg.Database.MaxIdleConns,
            ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
            RetryAttempts:   cfg.Database.RetryAttempts,
            RetryDelay:      cfg.Database.RetryDelay,
        }
        if err := cdr.Initialize(dbConfig); err != nil {
            return err
        }
        database = cdr.GetDB()
    }

    cacheConfig := cdr.CacheConfig{
        Host:         cfg.Redis.Host,
        Port:         cfg.Redis.Port,
        Password:     cfg.Redis.Password,
        DB:           cfg.Redis.DB,
        PoolSize:     cfg.Redis.PoolSize,
        MinIdleConns: cfg.Redis.MinIdleConns,
        MaxRetries:   cfg.Redis.MaxRetries,
    }
    if cfg.Redis.Enabled {
        if err := cdr.InitializeCache(cacheConfig, "etn-ars"); err != nil {
            logger.WithError(err).Warn("Failed to initialize Redis cache, live call fields disabled")
        }
    }
    cache = cdr.GetCache()

    if database != nil {
        store = cdr.NewStore(database, cache)
    }

    // Registries
    routeReg = registry.NewRouteRegistry()
    profileReg = registry.NewProfileRegistry()
    authReg = registry.NewAuthRegistry()
    registry.Load(viper.GetViper(), routeReg, profileReg)
    registry.LoadAuthSets(viper.GetViper(), authReg)
    publishRegistrySnapshot()

    callLedger = ledger.New()

    // Switch manager link
    if cfg.AMI.Enabled {
        amiConfig := ami.Config{
            Host:              cfg.AMI.Host,
            Port:              cfg.AMI.Port,
            Username:          cfg.AMI.Username,
            Password:          cfg.AMI.Password,
            ReconnectInterval: cfg.AMI.ReconnectInterval,
            PingInterval:      cfg.AMI.PingInterval,
            ActionTimeout:     cfg.AMI.ActionTimeout,
        }
        amiManager = ami.NewManager(amiConfig)
        amiManager.ConnectOptional(ctx)
    }

    metricsSvc = metrics.NewPrometheusMetrics()

    routerConfig := router.Config{
        AuthPrompt:            cfg.Router.AuthPrompt,
        AcceptTone:            cfg.Router.AcceptTone,
        ExpensiveTone:         cfg.Router.ExpensiveTone,
        SliceInterval:         cfg.Router.SliceInterval,
        MaxCallbacksPerCaller: cfg.Router.MaxCallbacksPerCaller,
        OriginateBase:         cfg.Router.OriginateBase,
        OriginatePerDigit:     cfg.Router.OriginatePerDigit,
    }

    opts := router.Options{
        Validator: authReg,
        Metrics:   metricsSvc,
    }
    if store != nil {
        opts.Recorder = store
    }
    if amiManager != nil {
        opts.Probe = amiManager
        opts.Origin = amiManager
    }

    engine = router.NewRouter(routeReg, profileReg, callLedger, routerConfig, opts)

    // Admin surface
    if cfg.Admin.Enabled {
        adminOpts := admin.Options{Reload: reloadRegistries}
        if store != nil {
            adminOpts.Records = store
        }
        if amiManager != nil {
            adminOpts.Stats = amiManager
            adminOpts.Channels = amiManager
        }
        adminSvc = admin.NewServer(cfg.Admin.Port,
            routeReg, profileReg, callLedger, engine, adminOpts)

        adminSvc.RegisterLivenessCheck("ledger", admin.CheckFunc(func(ctx context.Context) error {
            return nil
        }))
        if database != nil {
            adminSvc.RegisterReadinessCheck("database", admin.CheckFunc(func(ctx context.Context) error {
                if !database.IsHealthy() {
                    return fmt.Errorf("call-detail database not healthy")
                }
                return database.PingContext(ctx)
            }))
        }
        if cfg.Redis.Enabled {
            adminSvc.RegisterReadinessCheck("cache", admin.CheckFunc(func(ctx context.Context) error {
                return cache.Ping(ctx)
            }))
        }
        if amiManager != nil {
            adminSvc.RegisterReadinessCheck("ami", admin.CheckFunc(func(ctx context.Context) error {
                if !amiManager.IsLoggedIn() {
                    return fmt.Errorf("switch manager link down")
                }
                return nil
            }))
        }

        go adminSvc.Start()
    }

    if cfg.Monitoring.Metrics.Enabled {
        go metricsSvc.ServeHTTP(cfg.Monitoring.Metrics.Port)
    }

    return nil
}

// reloadRegistries re-reads the config file and re-installs routes,
// profiles and auth code sets without touching calls in flight.
func reloadRegistries() error {
    if err := viper.ReadInConfig(); err != nil {
        return err
    }
    registry.Load(viper.GetViper(), routeReg, profileReg)
    registry.LoadAuthSets(viper.GetViper(), authReg)
    publishRegistrySnapshot()
    return nil
}

// publishRegistrySnapshot mirrors the materialized route and profile
// tables into the cache so operators can inspect what the daemon is
// actually running with.
func publishRegistrySnapshot() {
    if cache == nil {
        return
    }
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    cache.Publish(ctx, "registry:snapshot", map[string]interface{}{
        "routes":    routeReg.List(),
        "profiles":  profileReg.List(),
        "loaded_at": time.Now().UTC(),
    })
}

func serve() {
    logger.Info("Starting route selection engine")

    agiConfig := agi.Config{
        ListenAddress:   cfg.AGI.ListenAddress,
        Port:            cfg.AGI.Port,
        MaxConnections:  cfg.AGI.MaxConnections,
        DefaultProfile:  cfg.AGI.DefaultProfile,
        ReadTimeout:     cfg.AGI.ReadTimeout,
        WriteTimeout:    cfg.AGI.WriteTimeout,
        IdleTimeout:     cfg.AGI.IdleTimeout,
        ShutdownTimeout: cfg.AGI.ShutdownTimeout,
    }

    var disc agi.Disconnector
    if amiManager != nil {
        disc = amiManager
    }
    var fin agi.Finalizer
    if store != nil {
        fin = store
    }
    agiServer = agi.NewServer(engine, agiConfig, metricsSvc, disc, fin)

    sigChan := make(chan os.Signal, 1)
    signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

    go func() {
        if err := agiServer.Start(); err != nil {
            logger.WithError(err).Fatal("AGI server failed")
        }
    }()

    for sig := range sigChan {
        if sig == syscall.SIGHUP {
            logger.Info("Reloading configuration")
            if err := reloadRegistries(); err != nil {
                logger.WithError(err).Error("Configuration reload failed")
            }
            continue
        }
        break
    }

    logger.Info("Shutting down")

    if err := agiServer.Stop(); err != nil {
        logger.WithError(err).Error("Error stopping AGI server")
    }

    // Pending call-backs are joined, not orphaned.
    if n := engine.CancelAllCallbacks(); n > 0 {
        logger.WithField("cancelled", n).Info("Pending call-backs cancelled")
    }

    if amiManager != nil {
        amiManager.Close()
    }
    if adminSvc != nil {
        adminSvc.Stop()
    }

    logger.Info("Shutdown complete")
}

func runCLI() {
    rootCmd := &cobra.Command{
        Use:   "ars",
        Short: "ETN alternate route selection engine",
        Long:  "Route selection engine for private switched-services networks",
    }

    rootCmd.PersistentFlags().StringVar(&adminAddr, "admin", "http://127.0.0.1:8080", "Admin API address")

    rootCmd.AddCommand(
        createRouteCommands(),
        createProfileCommands(),
        createCallsCommand(),
        createChannelsCommand(),
        createRecordsCommand(),
        createSimulateCommand(),
        createPreemptCommand(),
        createCallbackCommands(),
        createStatsCommand(),
        createReloadCommand(),
    )

    if err := rootCmd.Execute(); err != nil {
        fmt.Fprintf(os.Stderr, "Error: %v\n", err)
        os.Exit(1)
    }
}

func loadConfig() error {
    if configFile != "" {
        viper.SetConfigFile(configFile)
    } else {
        viper.SetConfigName("ars")
        viper.SetConfigType("yaml")
        viper.AddConfigPath("./configs")
        viper.AddConfigPath("/etc/etn-ars")
    }

    viper.SetEnvPrefix("ARS")
    viper.AutomaticEnv()

    setDefaults()

    if err := viper.ReadInConfig(); err != nil {
        if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
            return err
        }
        fmt.Fprintln(os.Stderr, "No config file found, using defaults and environment")
    }

    return nil
}
