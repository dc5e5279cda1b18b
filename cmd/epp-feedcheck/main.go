package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"epp-monitor/internal/feed"
	"epp-monitor/internal/logger"
	"epp-monitor/internal/snapshot"
)

// epp-feedcheck fetches the detection feed once (or reads it from a file), normalizes it
// and prints the resulting snapshot. It exits 2 for network errors and 3 for payload errors.
func main() {
	base := flag.String("base", os.Getenv("FEED_API_BASE"), "backend base URL")
	path := flag.String("path", "/static/alertas_timelapse.json", "feed path")
	file := flag.String("file", "", "read the payload from a file instead of the backend ('-' for stdin)")
	timeout := flag.Duration("timeout", 10*time.Second, "request timeout")
	tz := flag.String("tz", "UTC", "time zone used to pick today")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := "warn"
	if *verbose {
		level = "debug"
	}
	log := logger.New("development", level)

	loc, err := time.LoadLocation(*tz)
	if err != nil {
		log.Fatal().Err(err).Str("tz", *tz).Msg("invalid time zone")
	}

	body, err := readPayload(*file, *base, *path, *timeout, log)
	if err != nil {
		log.Error().Err(err).Str("kind", feed.Kind(err)).Msg("fetch failed")
		os.Exit(2)
	}

	snap, err := snapshot.NormalizePayload(body, snapshot.Options{Location: loc})
	if err != nil {
		log.Error().Err(err).Str("kind", feed.Kind(err)).Msg("payload rejected")
		os.Exit(3)
	}

	log.Debug().
		Str("reference_day", snap.Stats.ReferenceDay).
		Int("processed", snap.Stats.ProcessedCount).
		Int("dropped", snap.Dropped).
		Msg("feed normalized")

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		fmt.Fprintf(os.Stderr, "encode snapshot: %v\n", err)
		os.Exit(1)
	}
}

func readPayload(file, base, path string, timeout time.Duration, log zerolog.Logger) ([]byte, error) {
	switch file {
	case "":
	case "-":
		return io.ReadAll(os.Stdin)
	default:
		return os.ReadFile(file)
	}

	client, err := feed.NewClient(base, feed.Endpoints{Feed: path}, feed.WithTimeout(timeout))
	if err != nil {
		return nil, err
	}
	log.Debug().Str("base", client.BaseURL()).Str("path", path).Msg("fetching feed")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return client.FetchFeed(ctx)
}
