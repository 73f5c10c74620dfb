package main

import "github.com/spf13/viper"

func setDefaults() {
    // Call-detail database
    viper.SetDefault("database.enabled", false)
    viper.SetDefault("database.driver", "mysql")
    viper.SetDefault("database.host", "localhost")
    viper.SetDefault("database.port", 3306)
    viper.SetDefault("database.username", "ars")
    viper.SetDefault("database.password", "ars")
    viper.SetDefault("database.database", "etn_ars")
    viper.SetDefault("database.max_open_conns", 25)
    viper.SetDefault("database.max_idle_conns", 5)
    viper.SetDefault("database.conn_max_lifetime", "5m")
    viper.SetDefault("database.retry_attempts", 3)
    viper.SetDefault("database.retry_delay", "1s")

    // Live call-field cache
    viper.SetDefault("redis.enabled", false)
    viper.SetDefault("redis.host", "localhost")
    viper.SetDefault("redis.port", 6379)
    viper.SetDefault("redis.pool_size", 10)

    // AGI front door
    viper.SetDefault("agi.listen_address", "0.0.0.0")
    viper.SetDefault("agi.port", 4573)
    viper.SetDefault("agi.max_connections", 1000)
    viper.SetDefault("agi.default_profile", "default")
    viper.SetDefault("agi.read_timeout", "30s")
    viper.SetDefault("agi.write_timeout", "30s")
    viper.SetDefault("agi.idle_timeout", "5m")
    viper.SetDefault("agi.shutdown_timeout", "30s")

    // Switch manager link
    viper.SetDefault("ami.enabled", false)
    viper.SetDefault("ami.port", 5038)
    viper.SetDefault("ami.reconnect_interval", "5s")
    viper.SetDefault("ami.ping_interval", "30s")
    viper.SetDefault("ami.action_timeout", "30s")

    // Route selection
    viper.SetDefault("router.auth_prompt", "auth-code")
    viper.SetDefault("router.accept_tone", "queue-offer")
    viper.SetDefault("router.expensive_tone", "expensive-route")
    viper.SetDefault("router.slice_interval", "10s")
    viper.SetDefault("router.max_callbacks_per_caller", 3)
    viper.SetDefault("router.originate_base", "15s")
    viper.SetDefault("router.originate_per_digit", "2s")

    // Monitoring
    viper.SetDefault("monitoring.metrics.enabled", true)
    viper.SetDefault("monitoring.metrics.port", 9090)
    viper.SetDefault("monitoring.logging.level", "info")
    viper.SetDefault("monitoring.logging.format", "json")

    // Admin surface
    viper.SetDefault("admin.enabled", true)
    viper.SetDefault("admin.port", 8080)
}
