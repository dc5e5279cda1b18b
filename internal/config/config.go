package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Host string
	Port int
}

type DBConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type AuthConfig struct {
	AccessSecret string
}

type FeedConfig struct {
	APIBase       string
	Path          string
	DaysPath      string
	FramesPath    string
	EnvelopeKeys  []string
	CacheBust     bool
	StripPrefixes []string
}

type PollConfig struct {
	Interval    time.Duration
	Timeout     time.Duration
	MaxInFlight int
	BackoffMax  time.Duration
}

type SnapshotConfig struct {
	TimelineLimit int
	RecentLimit   int
	Timezone      string
	Location      *time.Location
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

type MQTTConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	ClientID    string
	TopicPrefix string
}

type Config struct {
	Environment string
	LogLevel    string
	HTTP        HTTPConfig
	DB          DBConfig
	Auth        AuthConfig
	Feed        FeedConfig
	Poll        PollConfig
	Snapshot    SnapshotConfig
	Redis       RedisConfig
	MQTT        MQTTConfig
}

func (c *Config) HistoryEnabled() bool { return c.DB.DSN != "" }

func (c *Config) AuthEnabled() bool { return c.Auth.AccessSecret != "" }

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("app")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("./deploy")
	v.AddConfigPath("./internal/config")

	v.AutomaticEnv()

	_ = v.ReadInConfig()

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	v.SetDefault("FEED_CACHE_BUST", true)

	cfg := &Config{
		Environment: v.GetString("APP_ENV"),
		LogLevel:    v.GetString("LOG_LEVEL"),
		HTTP: HTTPConfig{
			Host: v.GetString("HTTP_HOST"),
			Port: v.GetInt("HTTP_PORT"),
		},
		DB: DBConfig{
			DSN:             v.GetString("DB_DSN"),
			MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
			ConnMaxLifetime: v.GetDuration("DB_CONN_MAX_LIFETIME"),
		},
		Auth: AuthConfig{
			AccessSecret: v.GetString("JWT_ACCESS_SECRET"),
		},
		Feed: FeedConfig{
			APIBase:       strings.TrimSpace(v.GetString("FEED_API_BASE")),
			Path:          v.GetString("FEED_PATH"),
			DaysPath:      v.GetString("FEED_DAYS_PATH"),
			FramesPath:    v.GetString("FEED_FRAMES_PATH"),
			EnvelopeKeys:  splitList(v.GetString("FEED_ENVELOPE_KEYS")),
			CacheBust:     v.GetBool("FEED_CACHE_BUST"),
			StripPrefixes: splitList(v.GetString("IMAGE_STRIP_PREFIXES")),
		},
		Poll: PollConfig{
			Interval:    v.GetDuration("POLL_INTERVAL"),
			Timeout:     v.GetDuration("POLL_TIMEOUT"),
			MaxInFlight: v.GetInt("POLL_MAX_IN_FLIGHT"),
			BackoffMax:  v.GetDuration("POLL_BACKOFF_MAX"),
		},
		Snapshot: SnapshotConfig{
			TimelineLimit: v.GetInt("TIMELINE_LIMIT"),
			RecentLimit:   v.GetInt("RECENT_LIMIT"),
			Timezone:      v.GetString("TIMEZONE"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
			Channel:  v.GetString("REDIS_CHANNEL"),
		},
		MQTT: MQTTConfig{
			Host:        v.GetString("MQTT_HOST"),
			Port:        v.GetInt("MQTT_PORT"),
			Username:    v.GetString("MQTT_USERNAME"),
			Password:    v.GetString("MQTT_PASSWORD"),
			ClientID:    v.GetString("MQTT_CLIENT_ID"),
			TopicPrefix: v.GetString("MQTT_TOPIC_PREFIX"),
		},
	}

	applyDefaults(cfg, v)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	loc, err := time.LoadLocation(cfg.Snapshot.Timezone)
	if err != nil {
		return nil, fmt.Errorf("TIMEZONE %q: %w", cfg.Snapshot.Timezone, err)
	}
	cfg.Snapshot.Location = loc

	return cfg, nil
}

func applyDefaults(cfg *Config, v *viper.Viper) {
	if cfg.HTTP.Host == "" {
		cfg.HTTP.Host = "0.0.0.0"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
		if cfg.Environment == "development" {
			cfg.LogLevel = "debug"
		}
	}
	if cfg.DB.MaxOpenConns == 0 {
		cfg.DB.MaxOpenConns = 10
	}
	if cfg.DB.MaxIdleConns == 0 {
		cfg.DB.MaxIdleConns = 5
	}
	if cfg.DB.ConnMaxLifetime == 0 {
		cfg.DB.ConnMaxLifetime = 30 * time.Minute
	}
	if cfg.Feed.Path == "" {
		cfg.Feed.Path = "/static/alertas_timelapse.json"
	}
	if cfg.Feed.DaysPath == "" {
		cfg.Feed.DaysPath = "/timelapse_detecciones/dias"
	}
	if cfg.Feed.FramesPath == "" {
		cfg.Feed.FramesPath = "/timelapse_detecciones"
	}
	if len(cfg.Feed.EnvelopeKeys) == 0 {
		cfg.Feed.EnvelopeKeys = []string{"data", "alertas", "detecciones", "items", "results"}
	}
	if !v.IsSet("IMAGE_STRIP_PREFIXES") {
		cfg.Feed.StripPrefixes = []string{"/app"}
	}
	if !v.IsSet("POLL_INTERVAL") {
		cfg.Poll.Interval = 5 * time.Second
	}
	if cfg.Poll.Timeout == 0 {
		cfg.Poll.Timeout = 10 * time.Second
	}
	if cfg.Poll.MaxInFlight == 0 {
		cfg.Poll.MaxInFlight = 2
	}
	if cfg.Snapshot.TimelineLimit == 0 {
		cfg.Snapshot.TimelineLimit = 50
	}
	if cfg.Snapshot.RecentLimit == 0 {
		cfg.Snapshot.RecentLimit = 5
	}
	if cfg.Snapshot.Timezone == "" {
		cfg.Snapshot.Timezone = "UTC"
	}
	if cfg.Redis.Channel == "" {
		cfg.Redis.Channel = "epp:snapshots"
	}
	if cfg.MQTT.Port == 0 {
		cfg.MQTT.Port = 1883
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "epp-monitor"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "epp/alerts"
	}
}

func validate(cfg *Config) error {
	if cfg.Feed.APIBase == "" {
		return fmt.Errorf("FEED_API_BASE is required")
	}
	u, err := url.Parse(cfg.Feed.APIBase)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("FEED_API_BASE must be an absolute http(s) URL, got %q", cfg.Feed.APIBase)
	}
	if cfg.Poll.Interval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive")
	}
	if cfg.Poll.Timeout < 0 {
		return fmt.Errorf("POLL_TIMEOUT must not be negative")
	}
	if cfg.Poll.MaxInFlight < 0 {
		return fmt.Errorf("POLL_MAX_IN_FLIGHT must not be negative")
	}
	if cfg.Poll.BackoffMax < 0 {
		return fmt.Errorf("POLL_BACKOFF_MAX must not be negative")
	}
	if cfg.Snapshot.TimelineLimit < 0 || cfg.Snapshot.RecentLimit < 0 {
		return fmt.Errorf("TIMELINE_LIMIT and RECENT_LIMIT must not be negative")
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
