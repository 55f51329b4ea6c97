package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/zerobugdebug/slack-harvester/internal/config"
	"github.com/zerobugdebug/slack-harvester/internal/harvest"
	"github.com/zerobugdebug/slack-harvester/internal/paginate"
	"github.com/zerobugdebug/slack-harvester/internal/snapshot"
)

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// openOutput returns stdout for "" or "-", otherwise a new file at path.
func openOutput(path string) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopCloser{os.Stdout}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, nil
}

// writeOutput runs write against path and closes it, reporting the first
// error.
func writeOutput(path string, write func(io.Writer) error) error {
	w, err := openOutput(path)
	if err != nil {
		return err
	}
	if err := write(w); err != nil {
		_ = w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close output file: %w", err)
	}
	if path != "" && path != "-" {
		log.Info().Str("path", path).Msg("Output written")
	}
	return nil
}

func checkFormat(format string) error {
	switch format {
	case "csv", "json":
		return nil
	}
	return fmt.Errorf("unsupported format %q: use csv or json", format)
}

// limitFlag maps a negative count to no limit.
func limitFlag(n int) paginate.Limit {
	if n < 0 {
		return paginate.Unlimited
	}
	return paginate.AtMost(n)
}

// parseSince accepts a Slack ts, an RFC 3339 time, a YYYY-MM-DD date (UTC) or
// a duration meaning "this long ago".
func parseSince(v string, now time.Time) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" || v == "0" {
		return "", nil
	}
	if _, ok := harvest.ParseTimestamp(v); ok {
		return v, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return harvest.TimestampFromTime(t), nil
	}
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		return harvest.TimestampFromTime(t), nil
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return harvest.TimestampFromTime(now.Add(-d)), nil
	}
	return "", fmt.Errorf("invalid start time %q", v)
}

// splitList splits a comma separated flag value, dropping blanks.
func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// openSink returns a Redis sink for "redis" and a JSON file sink otherwise.
// The returned func releases any connection.
func openSink(ctx context.Context, cfg config.Config, target string) (snapshot.Store, func(), error) {
	if target != "redis" {
		sink, err := snapshot.NewFileSink(target)
		if err != nil {
			return nil, nil, err
		}
		return sink, func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
	}
	log.Debug().Str("addr", cfg.RedisAddr).Int("db", cfg.RedisDB).Msg("Connected to redis")

	sink := snapshot.NewRedisSink(rdb, snapshot.WithRedisTTL(cfg.SnapshotTTL))
	return sink, func() { _ = rdb.Close() }, nil
}
