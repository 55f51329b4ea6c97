package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/zerobugdebug/slack-harvester/internal/cache"
	"github.com/zerobugdebug/slack-harvester/internal/ratelimit"
	"github.com/zerobugdebug/slack-harvester/internal/retry"
)

// ErrMissingToken is returned when no Slack credential is configured.
var ErrMissingToken = errors.New("slack token is not set")

// Page size caps per endpoint class.
const (
	DefaultChannelPageSize = 200
	DefaultMessagePageSize = 200
	DefaultUserPageSize    = 100
	DefaultMemberPageSize  = 100
)

// Config holds everything needed to build a harvest client.
type Config struct {
	Token string

	CacheTTL        time.Duration
	CacheMaxEntries int

	Tiers  map[ratelimit.Tier]ratelimit.TierConfig
	Pacing bool

	ChannelPageSize int
	MessagePageSize int
	UserPageSize    int
	MemberPageSize  int

	IncludePrivate bool
	ResolveUsers   bool

	RetryAfter   time.Duration
	MaxRetries   int
	MaxRetryWait time.Duration

	// FetchTimeout bounds one multi-channel fetch. Zero means no bound.
	FetchTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SnapshotTTL   time.Duration
}

// Defaults returns a Config with every option at its documented default and
// no token.
func Defaults() Config {
	return Config{
		CacheTTL:        cache.DefaultTTL,
		Tiers:           ratelimit.DefaultTiers(),
		ChannelPageSize: DefaultChannelPageSize,
		MessagePageSize: DefaultMessagePageSize,
		UserPageSize:    DefaultUserPageSize,
		MemberPageSize:  DefaultMemberPageSize,
		ResolveUsers:    true,
		RetryAfter:      retry.DefaultRetryAfter,
		MaxRetries:      retry.DefaultMaxRetries,
		MaxRetryWait:    retry.DefaultMaxWait,
		RedisAddr:       "localhost:6379",
		SnapshotTTL:     cache.DefaultTTL,
	}
}

// Load reads an optional .env file and then the process environment on top
// of Defaults. Flags are applied by the caller afterwards.
func Load(envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil {
		log.Debug().Err(err).Strs("files", envFiles).Msg("No .env file loaded")
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function such as os.Getenv.
func FromEnv(getenv func(string) string) (Config, error) {
	cfg := Defaults()
	var errs []error

	cfg.Token = firstNonEmpty(getenv("SLACK_TOKEN"), getenv("SLACK_BOT_TOKEN"), getenv("SLACK_USER_TOKEN"))

	duration := func(key string, dst *time.Duration) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			d, err := parseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	integer := func(key string, dst *int) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(key string, dst *bool) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	duration("SLACK_CACHE_TTL", &cfg.CacheTTL)
	integer("SLACK_CACHE_MAX_ENTRIES", &cfg.CacheMaxEntries)
	boolean("SLACK_RATE_PACING", &cfg.Pacing)
	integer("SLACK_CHANNEL_PAGE_SIZE", &cfg.ChannelPageSize)
	integer("SLACK_MESSAGE_PAGE_SIZE", &cfg.MessagePageSize)
	integer("SLACK_USER_PAGE_SIZE", &cfg.UserPageSize)
	integer("SLACK_MEMBER_PAGE_SIZE", &cfg.MemberPageSize)
	boolean("SLACK_INCLUDE_PRIVATE", &cfg.IncludePrivate)
	boolean("SLACK_RESOLVE_USERS", &cfg.ResolveUsers)
	duration("SLACK_RETRY_AFTER", &cfg.RetryAfter)
	integer("SLACK_MAX_RETRIES", &cfg.MaxRetries)
	duration("SLACK_MAX_RETRY_WAIT", &cfg.MaxRetryWait)
	duration("SLACK_FETCH_TIMEOUT", &cfg.FetchTimeout)

	for _, t := range []ratelimit.Tier{ratelimit.Tier1, ratelimit.Tier2, ratelimit.Tier3, ratelimit.Tier4} {
		tc := cfg.Tiers[t]
		integer(fmt.Sprintf("SLACK_TIER%d_MAX", int(t)), &tc.MaxConcurrent)
		cfg.Tiers[t] = tc
	}

	if v := getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	cfg.RedisPassword = getenv("REDIS_PASSWORD")
	integer("REDIS_DB", &cfg.RedisDB)
	duration("SNAPSHOT_TTL", &cfg.SnapshotTTL)

	if len(errs) > 0 {
		return cfg, errors.Join(errs...)
	}
	return cfg, nil
}

// ApplyPacing fills per-minute pacing from Slack's published quotas when
// Pacing is on.
func (c *Config) ApplyPacing() {
	for t, tc := range c.Tiers {
		if c.Pacing {
			tc.PerMinute = ratelimit.PublishedPerMinute[t]
		} else {
			tc.PerMinute = 0
		}
		c.Tiers[t] = tc
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Token) == "" {
		return ErrMissingToken
	}

	positive := []struct {
		name  string
		value int
	}{
		{"ChannelPageSize", c.ChannelPageSize},
		{"MessagePageSize", c.MessagePageSize},
		{"UserPageSize", c.UserPageSize},
		{"MemberPageSize", c.MemberPageSize},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("invalid %s %d: must be positive", p.name, p.value)
		}
	}

	for t, tc := range c.Tiers {
		if tc.MaxConcurrent <= 0 {
			return fmt.Errorf("invalid %s max concurrency %d: must be positive", t, tc.MaxConcurrent)
		}
	}

	switch {
	case c.CacheTTL <= 0:
		return fmt.Errorf("invalid CacheTTL %s: must be positive", c.CacheTTL)
	case c.CacheMaxEntries < 0:
		return fmt.Errorf("invalid CacheMaxEntries %d: must not be negative", c.CacheMaxEntries)
	case c.RetryAfter <= 0:
		return fmt.Errorf("invalid RetryAfter %s: must be positive", c.RetryAfter)
	case c.MaxRetries < 0:
		return fmt.Errorf("invalid MaxRetries %d: must not be negative", c.MaxRetries)
	case c.MaxRetryWait < 0:
		return fmt.Errorf("invalid MaxRetryWait %s: must not be negative", c.MaxRetryWait)
	case c.FetchTimeout < 0:
		return fmt.Errorf("invalid FetchTimeout %s: must not be negative", c.FetchTimeout)
	}

	return nil
}

// parseDuration accepts Go durations ("90s") or bare seconds ("86400").
func parseDuration(v string) (time.Duration, error) {
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(v)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
