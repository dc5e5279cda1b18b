package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func newViper(values map[string]any) *viper.Viper {
	v := viper.New()
	for k, val := range values {
		v.Set(k, val)
	}
	return v
}

func TestDefaults(t *testing.T) {
	cfg, err := fromViper(newViper(map[string]any{"FEED_API_BASE": "http://backend:8000"}))
	if err != nil {
		t.Fatalf("fromViper() error = %v", err)
	}

	if cfg.Poll.Interval != 5*time.Second || cfg.Poll.Timeout != 10*time.Second || cfg.Poll.MaxInFlight != 2 {
		t.Errorf("poll = %+v, want 5s/10s/2", cfg.Poll)
	}
	if cfg.Poll.BackoffMax != 0 {
		t.Errorf("BackoffMax = %v, want 0 (off)", cfg.Poll.BackoffMax)
	}
	if cfg.Snapshot.TimelineLimit != 50 || cfg.Snapshot.RecentLimit != 5 {
		t.Errorf("limits = %d/%d, want 50/5", cfg.Snapshot.TimelineLimit, cfg.Snapshot.RecentLimit)
	}
	if cfg.Snapshot.Location != time.UTC {
		t.Errorf("Location = %v, want UTC", cfg.Snapshot.Location)
	}
	if !cfg.Feed.CacheBust {
		t.Error("CacheBust = false, want true")
	}
	if strings.Join(cfg.Feed.StripPrefixes, ",") != "/app" {
		t.Errorf("StripPrefixes = %v, want [/app]", cfg.Feed.StripPrefixes)
	}
	if len(cfg.Feed.EnvelopeKeys) != 5 || cfg.Feed.EnvelopeKeys[0] != "data" {
		t.Errorf("EnvelopeKeys = %v", cfg.Feed.EnvelopeKeys)
	}
	if cfg.Feed.Path != "/static/alertas_timelapse.json" {
		t.Errorf("Feed.Path = %q", cfg.Feed.Path)
	}
	if cfg.Environment != "development" || cfg.LogLevel != "debug" {
		t.Errorf("env/log level = %q/%q, want development/debug", cfg.Environment, cfg.LogLevel)
	}
	if cfg.HistoryEnabled() || cfg.AuthEnabled() {
		t.Error("history and auth should be disabled without DB_DSN and JWT_ACCESS_SECRET")
	}
	if cfg.HTTP.Port != 8080 {
		t.Errorf("HTTP.Port = %d, want 8080", cfg.HTTP.Port)
	}
}

func TestOverrides(t *testing.T) {
	cfg, err := fromViper(newViper(map[string]any{
		"APP_ENV":              "production",
		"FEED_API_BASE":        "https://epp.example.com/",
		"FEED_ENVELOPE_KEYS":   " data , rows ,",
		"FEED_CACHE_BUST":      "false",
		"IMAGE_STRIP_PREFIXES": "",
		"POLL_INTERVAL":        "3s",
		"POLL_BACKOFF_MAX":     "1m",
		"TIMEZONE":             "America/Santiago",
		"DB_DSN":               "postgres://localhost/epp",
		"JWT_ACCESS_SECRET":    "secret",
	}))
	if err != nil {
		t.Fatalf("fromViper() error = %v", err)
	}

	if got := strings.Join(cfg.Feed.EnvelopeKeys, ","); got != "data,rows" {
		t.Errorf("EnvelopeKeys = %q, want data,rows", got)
	}
	if cfg.Feed.CacheBust {
		t.Error("CacheBust = true, want false")
	}
	if len(cfg.Feed.StripPrefixes) != 0 {
		t.Errorf("StripPrefixes = %v, want none when explicitly empty", cfg.Feed.StripPrefixes)
	}
	if cfg.Poll.Interval != 3*time.Second || cfg.Poll.BackoffMax != time.Minute {
		t.Errorf("poll = %+v", cfg.Poll)
	}
	if cfg.Snapshot.Location.String() != "America/Santiago" {
		t.Errorf("Location = %v", cfg.Snapshot.Location)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info in production", cfg.LogLevel)
	}
	if !cfg.HistoryEnabled() || !cfg.AuthEnabled() {
		t.Error("history and auth should be enabled")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		values map[string]any
		want   string
	}{
		{name: "missing base", values: map[string]any{}, want: "FEED_API_BASE is required"},
		{name: "relative base", values: map[string]any{"FEED_API_BASE": "/api"}, want: "absolute http(s) URL"},
		{name: "ftp base", values: map[string]any{"FEED_API_BASE": "ftp://host"}, want: "absolute http(s) URL"},
		{name: "zero interval", values: map[string]any{"FEED_API_BASE": "http://h", "POLL_INTERVAL": "0s"}, want: "POLL_INTERVAL"},
		{name: "negative interval", values: map[string]any{"FEED_API_BASE": "http://h", "POLL_INTERVAL": "-1s"}, want: "POLL_INTERVAL"},
		{name: "negative in flight", values: map[string]any{"FEED_API_BASE": "http://h", "POLL_MAX_IN_FLIGHT": -1}, want: "POLL_MAX_IN_FLIGHT"},
		{name: "unknown zone", values: map[string]any{"FEED_API_BASE": "http://h", "TIMEZONE": "Mars/Olympus"}, want: "TIMEZONE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fromViper(newViper(tt.values))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("fromViper() error = %v, want containing %q", err, tt.want)
			}
		})
	}
}
