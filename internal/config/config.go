package config

import (
    "fmt"
    "time"

    "github.com/spf13/viper"
)

// Config holds all configuration for the engine.
type Config struct {
    App        AppConfig
    Database   DatabaseConfig
    Redis      RedisConfig
    AGI        AGIConfig
    AMI        AMIConfig
    Router     RouterConfig
    Monitoring MonitoringConfig
    Admin      AdminConfig
}

type AppConfig struct {
    Name        string
    Environment string
    Debug       bool
}

type DatabaseConfig struct {
    Enabled         bool
    Driver          string
    Host            string
    Port            int
    Username        string
    Password        string
    Database        string
    MaxOpenConns    int
    MaxIdleConns    int
    ConnMaxLifetime time.Duration
    RetryAttempts   int
    RetryDelay      time.Duration
}

type RedisConfig struct {
    Enabled      bool
    Host         string
    Port         int
    Password     string
    DB           int
    PoolSize     int
    MinIdleConns int
    MaxRetries   int
}

type AGIConfig struct {
    ListenAddress   string
    Port            int
    MaxConnections  int
    DefaultProfile  string
    ReadTimeout     time.Duration
    WriteTimeout    time.Duration
    IdleTimeout     time.Duration
    ShutdownTimeout time.Duration
}

type AMIConfig struct {
    Enabled           bool
    Host              string
    Port              int
    Username          string
    Password          string
    ReconnectInterval time.Duration
    PingInterval      time.Duration
    ActionTimeout     time.Duration
}

type RouterConfig struct {
    AuthPrompt            string
    AcceptTone            string
    ExpensiveTone         string
    SliceInterval         time.Duration
    MaxCallbacksPerCaller int
    OriginateBase         time.Duration
    OriginatePerDigit     time.Duration
}

type MonitoringConfig struct {
    Metrics struct {
        Enabled bool
        Port    int
    }
    Logging struct {
        Level  string
        Format string
        File   struct {
            Enabled    bool
            Path       string
            MaxSize    int
            MaxBackups int
            MaxAge     int
            Compress   bool
        }
    }
}

type AdminConfig struct {
    Enabled bool
    Port    int
}

// Load builds the typed snapshot from the viper tree. Explicit getters
// rather than Unmarshal: the snake_case keys carry no struct tags and
// the snapshot must not drift silently when one is renamed.
func Load(v *viper.Viper) (*Config, error) {
    cfg := &Config{
        App: AppConfig{
            Name:        v.GetString("app.name"),
            Environment: v.GetString("app.environment"),
            Debug:       v.GetBool("app.debug"),
        },
        Database: DatabaseConfig{
            Enabled:         v.GetBool("database.enabled"),
            Driver:          v.GetString("database.driver"),
            Host:            v.GetString("database.host"),
            Port:            v.GetInt("database.port"),
            Username:        v.GetString("database.username"),
            Password:        v.GetString("database.password"),
            Database:        v.GetString("database.database"),
            MaxOpenConns:    v.GetInt("database.max_open_conns"),
            MaxIdleConns:    v.GetInt("database.max_idle_conns"),
            ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
            RetryAttempts:   v.GetInt("database.retry_attempts"),
            RetryDelay:      v.GetDuration("database.retry_delay"),
        },
        Redis: RedisConfig{
            Enabled:      v.GetBool("redis.enabled"),
            Host:         v.GetString("redis.host"),
            Port:         v.GetInt("redis.port"),
            Password:     v.GetString("redis.password"),
            DB:           v.GetInt("redis.db"),
            PoolSize:     v.GetInt("redis.pool_size"),
            MinIdleConns: v.GetInt("redis.min_idle_conns"),
            MaxRetries:   v.GetInt("redis.max_retries"),
        },
        AGI: AGIConfig{
            ListenAddress:   v.GetString("agi.listen_address"),
            Port:            v.GetInt("agi.port"),
            MaxConnections:  v.GetInt("agi.max_connections"),
            DefaultProfile:  v.GetString("agi.default_profile"),
            ReadTimeout:     v.GetDuration("agi.read_timeout"),
            WriteTimeout:    v.GetDuration("agi.write_timeout"),
            IdleTimeout:     v.GetDuration("agi.idle_timeout"),
            ShutdownTimeout: v.GetDuration("agi.shutdown_timeout"),
        },
        AMI: AMIConfig{
            Enabled:           v.GetBool("ami.enabled"),
            Host:              v.GetString("ami.host"),
            Port:              v.GetInt("ami.port"),
            Username:          v.GetString("ami.username"),
            Password:          v.GetString("ami.password"),
            ReconnectInterval: v.GetDuration("ami.reconnect_interval"),
            PingInterval:      v.GetDuration("ami.ping_interval"),
            ActionTimeout:     v.GetDuration("ami.action_timeout"),
        },
        Router: RouterConfig{
            AuthPrompt:            v.GetString("router.auth_prompt"),
            AcceptTone:            v.GetString("router.accept_tone"),
            ExpensiveTone:         v.GetString("router.expensive_tone"),
            SliceInterval:         v.GetDuration("router.slice_interval"),
            MaxCallbacksPerCaller: v.GetInt("router.max_callbacks_per_caller"),
            OriginateBase:         v.GetDuration("router.originate_base"),
            OriginatePerDigit:     v.GetDuration("router.originate_per_digit"),
        },
        Admin: AdminConfig{
            Enabled: v.GetBool("admin.enabled"),
            Port:    v.GetInt("admin.port"),
        },
    }

    cfg.Monitoring.Metrics.Enabled = v.GetBool("monitoring.metrics.enabled")
    cfg.Monitoring.Metrics.Port = v.GetInt("monitoring.metrics.port")
    cfg.Monitoring.Logging.Level = v.GetString("monitoring.logging.level")
    cfg.Monitoring.Logging.Format = v.GetString("monitoring.logging.format")
    cfg.Monitoring.Logging.File.Enabled = v.GetBool("monitoring.logging.file.enabled")
    cfg.Monitoring.Logging.File.Path = v.GetString("monitoring.logging.file.path")
    cfg.Monitoring.Logging.File.MaxSize = v.GetInt("monitoring.logging.file.max_size")
    cfg.Monitoring.Logging.File.MaxBackups = v.GetInt("monitoring.logging.file.max_backups")
    cfg.Monitoring.Logging.File.MaxAge = v.GetInt("monitoring.logging.file.max_age")
    cfg.Monitoring.Logging.File.Compress = v.GetBool("monitoring.logging.file.compress")

    if cfg.AGI.Port <= 0 || cfg.AGI.Port > 65535 {
        return nil, fmt.Errorf("invalid agi.port %d", cfg.AGI.Port)
    }
    if cfg.Admin.Enabled && (cfg.Admin.Port <= 0 || cfg.Admin.Port > 65535) {
        return nil, fmt.Errorf("invalid admin.port %d", cfg.Admin.Port)
    }
    if cfg.AMI.Enabled && cfg.AMI.Host == "" {
        return nil, fmt.Errorf("ami.enabled requires ami.host")
    }

    return cfg, nil
}
