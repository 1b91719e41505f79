package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// FileName is the config file looked up in the config directory.
const FileName = "cotrelay.cfg.json"

// EnvPrefix prefixes environment overrides, e.g. COTRELAY_LISTEN_TCP.
const EnvPrefix = "COTRELAY"

func setDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./logs")
	viper.SetDefault("serverId", "cotrelay")

	viper.SetDefault("listen.tcp", ":8087")
	viper.SetDefault("listen.tls", "")

	viper.SetDefault("tls.cert", "")
	viper.SetDefault("tls.key", "")
	viper.SetDefault("tls.clientCA", "")
	viper.SetDefault("tls.requireClientCert", false)

	viper.SetDefault("session.maxFrameBytes", 1<<20)
	viper.SetDefault("session.outboxRetryMax", "5s")
	viper.SetDefault("session.flushTimeout", "5s")
	viper.SetDefault("session.handshakeTimeout", "10s")
	viper.SetDefault("session.writeTimeout", "10s")
	viper.SetDefault("session.bindTeams", true)

	viper.SetDefault("bus.url", "")
	viper.SetDefault("bus.embedded", true)
	viper.SetDefault("bus.embeddedHost", "127.0.0.1")
	viper.SetDefault("bus.embeddedPort", 4222)
	viper.SetDefault("bus.channelSize", 4096)
	viper.SetDefault("bus.flushTimeout", "2s")
	viper.SetDefault("bus.breakerFailures", 5)
	viper.SetDefault("bus.breakerTimeout", "5s")

	viper.SetDefault("presence.shards", 32)

	viper.SetDefault("decoder.workers", 8)
	viper.SetDefault("decoder.queueSize", 1024)

	viper.SetDefault("db.enabled", true)
	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "cotrelay")
	viper.SetDefault("db.sslmode", "disable")
	viper.SetDefault("sqlite.path", "./cotrelay.db")
	viper.SetDefault("sqlite.dumpInterval", "3m")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "")
	viper.SetDefault("influx.org", "cotrelay")
	viper.SetDefault("influx.retentionDays", 90)

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("notify.url", "")
	viper.SetDefault("notify.secret", "")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "cotrelay")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetDefault("metrics.listen", ":9102")
}

// Flags registers the command line flags that override config values.
func Flags(fs *pflag.FlagSet) {
	fs.String("config-dir", ".", "directory containing "+FileName)
	fs.String("log-level", "", "log level (debug, info, warn, error)")
	fs.String("listen-tcp", "", "plain TCP listen address")
	fs.String("listen-tls", "", "TLS listen address")
}

// Load reads configuration from the JSON file in configDir, the
// environment and fs (which may be nil). A missing file is not an error.
func Load(configDir string, fs *pflag.FlagSet) error {
	setDefaults()

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if fs != nil {
		for key, flag := range map[string]string{
			"logLevel":   "log-level",
			"listen.tcp": "listen-tcp",
			"listen.tls": "listen-tls",
		} {
			if f := fs.Lookup(flag); f != nil && f.Changed {
				if err := viper.BindPFlag(key, f); err != nil {
					return fmt.Errorf("binding flag %s: %w", flag, err)
				}
			}
		}
	}

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("error reading config file: %w", err)
	}

	return nil
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetDuration returns a duration config value such as "5s".
func GetDuration(key string) time.Duration {
	return viper.GetDuration(key)
}

// OTelConfig holds OpenTelemetry settings.
type OTelConfig struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName  string        `json:"serviceName" mapstructure:"serviceName"`
	BatchTimeout time.Duration `json:"batchTimeout" mapstructure:"batchTimeout"`
	Endpoint     string        `json:"endpoint" mapstructure:"endpoint"`
	Insecure     bool          `json:"insecure" mapstructure:"insecure"`
}

// GetOTelConfig returns the otel.* settings.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}
