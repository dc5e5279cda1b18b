package main

import (
	"context"

	"github.com/rs/zerolog"

	"epp-monitor/internal/config"
	"epp-monitor/internal/notify"
)

// buildSinks connects the optional brokers. A broker that cannot be reached is logged and skipped.
func buildSinks(ctx context.Context, cfg *config.Config, log zerolog.Logger) []notify.Sink {
	var sinks []notify.Sink

	if cfg.Redis.Addr != "" {
		sink, err := notify.NewRedisSink(ctx, notify.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Channel:  cfg.Redis.Channel,
		})
		if err != nil {
			log.Error().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unavailable, snapshot fan-out disabled")
		} else {
			log.Info().Str("addr", cfg.Redis.Addr).Str("channel", cfg.Redis.Channel).Msg("redis snapshot fan-out enabled")
			sinks = append(sinks, sink)
		}
	}

	if cfg.MQTT.Host != "" {
		sink, err := notify.NewMQTTSink(notify.MQTTConfig{
			Host:        cfg.MQTT.Host,
			Port:        cfg.MQTT.Port,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
		})
		if err != nil {
			log.Error().Err(err).Str("host", cfg.MQTT.Host).Msg("mqtt unavailable, violation alerts disabled")
		} else {
			log.Info().Str("host", cfg.MQTT.Host).Str("prefix", cfg.MQTT.TopicPrefix).Msg("mqtt violation alerts enabled")
			sinks = append(sinks, sink)
		}
	}

	return sinks
}
