package harvest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/zerobugdebug/slack-harvester/internal/paginate"
	"github.com/zerobugdebug/slack-harvester/internal/snapshot"
)

// BuildCacheSnapshot collects member channels (private ones included) with
// their members, plus all active human users, and writes them to sink.
func (c *Client) BuildCacheSnapshot(ctx context.Context, sink snapshot.Sink) (snapshot.Snapshot, error) {
	snap := snapshot.New()
	snap.TeamDomain = c.id.TeamDomain

	_, member, err := c.FetchChannels(ctx, true, paginate.Unlimited)
	if err != nil {
		return snap, fmt.Errorf("list channels: %w", err)
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for _, ch := range member {
		g.Go(func() error {
			members := c.GetChannelMembers(ctx, ch.ID)
			mu.Lock()
			snap.Channels[ch.ID] = snapshot.Channel{Name: ch.Name, Members: members}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	users, err := c.FetchUsers(ctx, paginate.Unlimited)
	if err != nil {
		return snap, fmt.Errorf("list users: %w", err)
	}
	for _, u := range users {
		if u.IsBot || u.Deleted || u.ID == slackbotID {
			continue
		}
		snap.Users[u.ID] = snapshot.User{Name: u.Name, Email: u.Email}
	}

	if err := sink.Save(ctx, snap); err != nil {
		return snap, fmt.Errorf("save snapshot: %w", err)
	}

	log.Info().
		Int("users", len(snap.Users)).
		Int("channels", len(snap.Channels)).
		Msg("Cache snapshot built")

	return snap, nil
}

// ErrSnapshotExpired means a snapshot is older than the cache TTL.
var ErrSnapshotExpired = errors.New("snapshot is older than the cache TTL")

// WarmFromSnapshot loads a previously saved snapshot into the caches. Entries
// expire when they would have had they been cached at GeneratedAt.
func (c *Client) WarmFromSnapshot(ctx context.Context, src snapshot.Source) error {
	snap, err := src.Load(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}

	age := time.Since(snap.GeneratedAt)
	remaining := c.cfg.CacheTTL - age
	if snap.GeneratedAt.IsZero() || remaining <= 0 {
		return fmt.Errorf("%w: generated at %s", ErrSnapshotExpired, snap.GeneratedAt.Format(time.RFC3339))
	}

	for id, u := range snap.Users {
		if err := c.primeUser(UserProfile{ID: id, Name: u.Name, Email: u.Email}, remaining); err != nil {
			log.Warn().Err(err).Msg("Skipping snapshot user")
		}
	}
	for id, ch := range snap.Channels {
		c.primeChannel(id, ch.Name, ch.Members, remaining)
	}

	log.Info().
		Int("users", len(snap.Users)).
		Int("channels", len(snap.Channels)).
		Time("generatedAt", snap.GeneratedAt).
		Dur("validFor", remaining).
		Msg("Caches warmed from snapshot")

	return nil
}
