// Package cfg resolves the bridge configuration from three layers: an
// optional TOML file for defaults, an optional .env file, and environment
// variables, which always win. The resolved configuration is immutable for
// the process lifetime.
package cfg

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// GeoServerConfiguration targets the REST-managed resource tier.
type GeoServerConfiguration struct {
	URL              string `toml:"url"`
	User             string `toml:"user"`
	Password         string `toml:"password"`
	TimeoutSeconds   int    `toml:"timeout_seconds"`
	MaxRetries       int    `toml:"max_retries"`
	RetryBaseDelayMS int    `toml:"retry_base_delay_ms"`
}

// ListenerConfiguration controls the notification loop per database.
type ListenerConfiguration struct {
	Channel               string `toml:"channel"`
	ReconnectDelaySeconds int    `toml:"reconnect_delay_seconds"`
	PollIntervalSeconds   int    `toml:"poll_interval_seconds"`
}

// AlertConfiguration controls SMTP operator alerting.
type AlertConfiguration struct {
	Enabled  bool     `toml:"enabled"`
	SMTPHost string   `toml:"smtp_host"`
	SMTPPort int      `toml:"smtp_port"`
	SMTPUser string   `toml:"smtp_user"`
	SMTPPass string   `toml:"smtp_password"`
	From     string   `toml:"from"`
	To       []string `toml:"to"`
}

// EventsConfiguration controls optional provisioning-event publishing.
type EventsConfiguration struct {
	Sink        string   `toml:"sink"` // "", "nats" or "kafka"
	NatsURL     string   `toml:"nats_url"`
	Brokers     []string `toml:"brokers"`
	TopicPrefix string   `toml:"topic_prefix"`
}

// AdminConfiguration controls the health/status HTTP endpoint.
type AdminConfiguration struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Port    int    `toml:"port"`
}

// LoggingConfiguration controls logging behavior.
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics.
type PrometheusConfiguration struct {
	Enabled bool `toml:"enabled"`
}

// DatabaseTarget is one source database to monitor. Built once at startup;
// never mutated afterwards.
type DatabaseTarget struct {
	Host     string
	Port     int
	DBName   string
	User     string
	Password string
	// Routing maps a schema-name prefix to the JNDI connection reference
	// used when publishing schemas under that prefix.
	Routing map[string]string
}

// ConnString renders the target as a pgx connection string.
func (t DatabaseTarget) ConnString() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s",
		t.Host, t.Port, t.DBName, t.User, t.Password)
}

// Configuration is the main configuration structure.
type Configuration struct {
	InstanceID string `toml:"-"` // machine-derived, not configurable

	GeoServer  GeoServerConfiguration  `toml:"geoserver"`
	Listener   ListenerConfiguration   `toml:"listener"`
	Alerts     AlertConfiguration      `toml:"alerts"`
	Events     EventsConfiguration     `toml:"events"`
	Admin      AdminConfiguration      `toml:"admin"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`

	// Databases is resolved from the environment, not the TOML layer.
	Databases []DatabaseTarget `toml:"-"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "", "Path to optional TOML configuration file")
	EnvFileFlag    = flag.String("env-file", ".env", "Path to optional .env file")
	TestFlag       = flag.Bool("test", false, "Probe GeoServer connectivity and exit")
	DryRunFlag     = flag.Bool("dry-run", false, "Log provisioning calls without executing them")
)

// Default configuration
var Config = &Configuration{
	GeoServer: GeoServerConfiguration{
		URL:              "http://localhost:8080/geoserver",
		TimeoutSeconds:   10,
		MaxRetries:       3,
		RetryBaseDelayMS: 2000,
	},

	Listener: ListenerConfiguration{
		Channel:               "geoserver_schema",
		ReconnectDelaySeconds: 5,
		PollIntervalSeconds:   60,
	},

	Alerts: AlertConfiguration{
		Enabled:  true,
		SMTPPort: 587,
	},

	Events: EventsConfiguration{
		TopicPrefix: "geobridge.provisioning",
	},

	Admin: AdminConfiguration{
		Enabled: true,
		Address: "127.0.0.1",
		Port:    9108,
	},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Prometheus: PrometheusConfiguration{
		Enabled: true,
	},
}

// Load resolves configuration: TOML file, then .env file, then environment
// variables, then the database target list.
func Load(configPath, envPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	// .env never overrides variables already present in the environment.
	if envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			if err := godotenv.Load(envPath); err != nil {
				log.Warn().Err(err).Str("path", envPath).Msg("Failed to load .env file")
			} else {
				log.Info().Str("path", envPath).Msg("Loaded .env file")
			}
		}
	}

	env := environMap(os.Environ())
	if err := applyEnvironment(Config, env); err != nil {
		return err
	}

	targets, err := resolveTargets(env)
	if err != nil {
		return err
	}
	Config.Databases = targets

	Config.InstanceID = instanceID()
	return nil
}

// applyEnvironment overlays HEX_* variables onto config.
func applyEnvironment(config *Configuration, env map[string]string) error {
	setStr(env, "HEX_GS_URL", &config.GeoServer.URL)
	setStr(env, "HEX_GS_USER", &config.GeoServer.User)
	setStr(env, "HEX_GS_PASSWORD", &config.GeoServer.Password)

	if err := setInt(env, "HEX_RECONNECT_DELAY", &config.Listener.ReconnectDelaySeconds); err != nil {
		return err
	}

	setStr(env, "HEX_SMTP_HOST", &config.Alerts.SMTPHost)
	if err := setInt(env, "HEX_SMTP_PORT", &config.Alerts.SMTPPort); err != nil {
		return err
	}
	setStr(env, "HEX_SMTP_USER", &config.Alerts.SMTPUser)
	setStr(env, "HEX_SMTP_PASSWORD", &config.Alerts.SMTPPass)
	setStr(env, "HEX_SMTP_FROM", &config.Alerts.From)
	if v, ok := env["HEX_SMTP_TO"]; ok && v != "" {
		config.Alerts.To = splitList(v)
	}

	return nil
}

// Validate checks the resolved configuration. Missing required settings are
// reported together so the operator can fix them in one pass.
func Validate() error {
	var missing []string

	if Config.GeoServer.User == "" {
		missing = append(missing, "HEX_GS_USER")
	}
	if Config.GeoServer.Password == "" {
		missing = append(missing, "HEX_GS_PASSWORD")
	}
	if len(Config.Databases) == 0 {
		missing = append(missing, "HEX_PG_DBNAME")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	seen := map[string]bool{}
	for _, target := range Config.Databases {
		if seen[target.DBName] {
			return fmt.Errorf("duplicate database target: %s", target.DBName)
		}
		seen[target.DBName] = true

		if target.Port < 1 || target.Port > 65535 {
			return fmt.Errorf("invalid port %d for database %s", target.Port, target.DBName)
		}

		// An empty routing table is legal: the listener still runs, but
		// every notification for this target will be dropped.
		if len(target.Routing) == 0 {
			log.Warn().
				Str("database", target.DBName).
				Msg("No JNDI routing entries configured, all notifications for this target will be dropped")
		}
	}

	if Config.Listener.ReconnectDelaySeconds < 1 {
		return fmt.Errorf("reconnect delay must be >= 1 second")
	}
	if Config.Listener.PollIntervalSeconds < 1 {
		return fmt.Errorf("poll interval must be >= 1 second")
	}
	if Config.Listener.Channel == "" {
		return fmt.Errorf("notification channel must not be empty")
	}
	if Config.GeoServer.MaxRetries < 0 {
		return fmt.Errorf("geoserver max retries must be >= 0")
	}

	if Config.Alerts.Enabled && Config.Alerts.SMTPHost == "" {
		log.Warn().Msg("Alerting enabled but no SMTP host configured, alerts are disabled")
		Config.Alerts.Enabled = false
	}

	switch Config.Events.Sink {
	case "", "nats", "kafka":
	default:
		return fmt.Errorf("unknown events sink: %s", Config.Events.Sink)
	}

	return nil
}

// instanceID derives a stable per-host identifier for log and alert context.
func instanceID() string {
	id, err := machineid.ProtectedID("geobridge")
	if err != nil {
		hostname, herr := os.Hostname()
		if herr != nil {
			log.Warn().Err(err).Msg("Failed to derive instance ID, using localhost")
			return "localhost"
		}
		return hostname
	}
	// Keep the logged form short; the full hash adds nothing.
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}

func environMap(environ []string) map[string]string {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}

func setStr(env map[string]string, key string, dst *string) {
	if v, ok := env[key]; ok && v != "" {
		*dst = v
	}
}

func setInt(env map[string]string, key string, dst *int) error {
	v, ok := env[key]
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %q", key, v)
	}
	*dst = n
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
