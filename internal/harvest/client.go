package harvest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"
	"golang.org/x/sync/singleflight"

	"github.com/zerobugdebug/slack-harvester/internal/cache"
	"github.com/zerobugdebug/slack-harvester/internal/config"
	"github.com/zerobugdebug/slack-harvester/internal/ratelimit"
	"github.com/zerobugdebug/slack-harvester/internal/retry"
)

var (
	// ErrMissingToken is returned by New when the config carries no token.
	ErrMissingToken = config.ErrMissingToken

	// ErrNoChannels means none of the requested channels could be resolved.
	ErrNoChannels = errors.New("no channels resolved")

	// ErrNoFilterUsers means user emails were given but none matched a user.
	ErrNoFilterUsers = errors.New("none of the filter emails resolved to a user")
)

// AuthenticationError is returned when auth.test rejects the credential.
// The client must not be used afterwards.
type AuthenticationError struct {
	Err error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("slack authentication failed: %v", e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// Identity describes who the credential belongs to.
type Identity struct {
	UserID     string
	User       string
	TeamID     string
	Team       string
	TeamDomain string
	BotID      string
}

// IsBot reports whether the credential is a bot token.
func (i Identity) IsBot() bool { return i.BotID != "" }

// Client resolves users and channels and fetches messages from Slack while
// respecting per-tier concurrency limits. It is safe for concurrent use.
type Client struct {
	api  API
	cfg  config.Config
	exec *retry.Executor
	id   Identity

	users        *cache.TTL[string, UserProfile]
	emails       *cache.TTL[string, string]
	channelNames *cache.TTL[string, string]
	members      *cache.TTL[string, []string]

	userFlight singleflight.Group
}

// Option configures a Client.
type Option func(*options)

type options struct {
	retryOpts []retry.Option
	cacheOpts []cache.Option
}

// WithRetryOptions passes extra options to the request executor.
func WithRetryOptions(opts ...retry.Option) Option {
	return func(o *options) { o.retryOpts = append(o.retryOpts, opts...) }
}

// WithCacheOptions passes extra options to every entity cache.
func WithCacheOptions(opts ...cache.Option) Option {
	return func(o *options) { o.cacheOpts = append(o.cacheOpts, opts...) }
}

// Dial builds a slack client from cfg.Token and authenticates it.
func Dial(ctx context.Context, cfg config.Config, slackOpts []slack.Option, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, ErrMissingToken
	}
	return New(ctx, cfg, NewSlackClient(cfg.Token, slackOpts...), opts...)
}

// New checks the credential with auth.test and returns a ready client.
func New(ctx context.Context, cfg config.Config, api API, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, ErrMissingToken
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	limiter, err := ratelimit.New(cfg.Tiers)
	if err != nil {
		return nil, fmt.Errorf("failed to build rate limiter: %w", err)
	}

	retryOpts := append([]retry.Option{
		retry.WithDefaultRetryAfter(cfg.RetryAfter),
		retry.WithMaxRetries(cfg.MaxRetries),
		retry.WithMaxWait(cfg.MaxRetryWait),
	}, o.retryOpts...)

	cacheOpts := append([]cache.Option{cache.WithMaxEntries(cfg.CacheMaxEntries)}, o.cacheOpts...)

	c := &Client{
		api:          api,
		cfg:          cfg,
		exec:         retry.NewExecutor(limiter, retryOpts...),
		users:        cache.New[string, UserProfile](cfg.CacheTTL, cacheOpts...),
		emails:       cache.New[string, string](cfg.CacheTTL, cacheOpts...),
		channelNames: cache.New[string, string](cfg.CacheTTL, cacheOpts...),
		members:      cache.New[string, []string](cfg.CacheTTL, cacheOpts...),
	}

	// Test the token by getting the identity behind it
	log.Debug().Msg("Testing authentication with Slack")
	authTest, err := retry.Do(ctx, c.exec, ratelimit.Tier4, "auth.test", c.api.AuthTestContext, nil)
	if err != nil {
		log.Error().Err(err).Msg("Authentication test failed")
		return nil, &AuthenticationError{Err: err}
	}

	c.id = Identity{
		UserID:     authTest.UserID,
		User:       authTest.User,
		TeamID:     authTest.TeamID,
		Team:       authTest.Team,
		TeamDomain: teamDomainFromURL(authTest.URL),
		BotID:      authTest.BotID,
	}

	log.Info().
		Str("user", c.id.User).
		Str("userID", c.id.UserID).
		Str("teamDomain", c.id.TeamDomain).
		Bool("bot", c.id.IsBot()).
		Msg("Connected to Slack")

	return c, nil
}

// Identity returns the authenticated identity.
func (c *Client) Identity() Identity { return c.id }

// Config returns the configuration the client was built with.
func (c *Client) Config() config.Config { return c.cfg }

// StartJanitors sweeps expired cache entries every interval until ctx ends.
func (c *Client) StartJanitors(ctx context.Context, every time.Duration) {
	c.users.StartJanitor(ctx, every)
	c.emails.StartJanitor(ctx, every)
	c.channelNames.StartJanitor(ctx, every)
	c.members.StartJanitor(ctx, every)
}

// teamDomainFromURL extracts "acme" from "https://acme.slack.com/".
func teamDomainFromURL(u string) string {
	if u == "" {
		return ""
	}
	parts := strings.Split(u, "//")
	if len(parts) < 2 {
		return ""
	}
	host, _, _ := strings.Cut(parts[1], "/")
	domain, _, _ := strings.Cut(host, ".")
	return domain
}
