package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisSink stores a snapshot as three Redis hashes under a common prefix:
// <prefix>:users, <prefix>:channels and <prefix>:meta.
type RedisSink struct {
	rdb    redis.Cmdable
	prefix string
	ttl    time.Duration
}

// RedisOption configures a RedisSink.
type RedisOption func(*RedisSink)

// WithRedisPrefix replaces the key prefix. Surrounding colons are dropped.
func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisSink) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

// WithRedisTTL expires the snapshot keys after d. Zero keeps them forever.
func WithRedisTTL(d time.Duration) RedisOption {
	return func(s *RedisSink) { s.ttl = d }
}

// NewRedisSink returns a sink over rdb. Keys default to the
// "slack-harvester:snapshot" prefix and expire after a day.
func NewRedisSink(rdb redis.Cmdable, opts ...RedisOption) *RedisSink {
	s := &RedisSink{
		rdb:    rdb,
		prefix: "slack-harvester:snapshot",
		ttl:    24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisSink) usersKey() string    { return s.prefix + ":users" }
func (s *RedisSink) channelsKey() string { return s.prefix + ":channels" }
func (s *RedisSink) metaKey() string     { return s.prefix + ":meta" }

// Save replaces the stored snapshot in one MULTI/EXEC transaction.
func (s *RedisSink) Save(ctx context.Context, snap Snapshot) error {
	users := make(map[string]any, len(snap.Users))
	for id, u := range snap.Users {
		b, err := json.Marshal(u)
		if err != nil {
			return fmt.Errorf("failed to marshal user %s: %w", id, err)
		}
		users[id] = string(b)
	}

	channels := make(map[string]any, len(snap.Channels))
	for id, ch := range snap.Channels {
		b, err := json.Marshal(ch)
		if err != nil {
			return fmt.Errorf("failed to marshal channel %s: %w", id, err)
		}
		channels[id] = string(b)
	}

	keys := []string{s.usersKey(), s.channelsKey(), s.metaKey()}

	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, keys...)
	if len(users) > 0 {
		pipe.HSet(ctx, s.usersKey(), users)
	}
	if len(channels) > 0 {
		pipe.HSet(ctx, s.channelsKey(), channels)
	}
	pipe.HSet(ctx, s.metaKey(), map[string]any{
		"teamDomain":  snap.TeamDomain,
		"generatedAt": snap.GeneratedAt.UTC().Format(time.RFC3339Nano),
	})
	if s.ttl > 0 {
		for _, k := range keys {
			pipe.Expire(ctx, k, s.ttl)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write snapshot to redis: %w", err)
	}

	log.Debug().
		Str("prefix", s.prefix).
		Int("users", len(users)).
		Int("channels", len(channels)).
		Dur("ttl", s.ttl).
		Msg("Snapshot saved to redis")

	return nil
}

// Load reads the snapshot back. Missing keys yield an empty snapshot with a
// zero GeneratedAt. Malformed entries are skipped.
func (s *RedisSink) Load(ctx context.Context) (Snapshot, error) {
	pipe := s.rdb.Pipeline()
	usersCmd := pipe.HGetAll(ctx, s.usersKey())
	channelsCmd := pipe.HGetAll(ctx, s.channelsKey())
	metaCmd := pipe.HGetAll(ctx, s.metaKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return Snapshot{}, fmt.Errorf("failed to read snapshot from redis: %w", err)
	}

	snap := New()
	for id, raw := range usersCmd.Val() {
		var u User
		if err := json.Unmarshal([]byte(raw), &u); err != nil {
			log.Warn().Err(err).Str("userID", id).Msg("Skipping malformed cached user")
			continue
		}
		snap.Users[id] = u
	}
	for id, raw := range channelsCmd.Val() {
		var ch Channel
		if err := json.Unmarshal([]byte(raw), &ch); err != nil {
			log.Warn().Err(err).Str("channelID", id).Msg("Skipping malformed cached channel")
			continue
		}
		snap.Channels[id] = ch
	}

	meta := metaCmd.Val()
	snap.TeamDomain = meta["teamDomain"]
	snap.GeneratedAt = time.Time{}
	if at, err := time.Parse(time.RFC3339Nano, meta["generatedAt"]); err == nil {
		snap.GeneratedAt = at
	}

	return snap, nil
}
