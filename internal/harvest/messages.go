package harvest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"
	"golang.org/x/sync/errgroup"

	"github.com/zerobugdebug/slack-harvester/internal/paginate"
	"github.com/zerobugdebug/slack-harvester/internal/ratelimit"
	"github.com/zerobugdebug/slack-harvester/internal/retry"
)

// FetchParams selects what FetchMessagesFromChannels collects. At most one of
// ChannelIDs and ChannelNames is used, ids first; with neither, every member
// channel is fetched.
type FetchParams struct {
	// StartTimestamp is the oldest ts to include. Empty or "0" means no bound.
	StartTimestamp string

	ChannelIDs   []string
	ChannelNames []string

	// UserEmails restricts the fetch to channels where at least one of these
	// users is a member.
	UserEmails []string

	IncludePrivate bool
	ResolveUsers   bool
	Limit          paginate.Limit
}

// FetchMessagesFromChannels fetches history and thread replies from the
// selected channels concurrently and returns the merged, optionally
// user-enriched messages. A failing channel contributes nothing; only a
// failure to resolve the channel set or the user filter is returned as an
// error. When ctx ends or FetchTimeout fires, the messages collected so far
// are returned with the context error.
func (c *Client) FetchMessagesFromChannels(ctx context.Context, p FetchParams) ([]Message, error) {
	if c.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.FetchTimeout)
		defer cancel()
	}

	channels, err := c.resolveChannelSet(ctx, p)
	if err != nil {
		return nil, err
	}
	if len(channels) == 0 {
		return nil, ErrNoChannels
	}

	if len(p.UserEmails) > 0 {
		userIDs := c.resolveUserFilter(ctx, p.UserEmails)
		if len(userIDs) == 0 {
			return nil, ErrNoFilterUsers
		}

		channels = c.filterByMembership(ctx, channels, userIDs)
		log.Info().
			Int("users", len(userIDs)).
			Int("channels", len(channels)).
			Msg("Filtered channels by membership")
		if len(channels) == 0 {
			return []Message{}, nil
		}
	}

	perChannel := paginate.Unlimited
	if n, ok := p.Limit.Value(); ok {
		if n <= 0 {
			return []Message{}, nil
		}
		perChannel = paginate.AtMost((n + len(channels) - 1) / len(channels))
	}

	log.Info().
		Int("channels", len(channels)).
		Str("oldest", p.StartTimestamp).
		Msg("Fetching messages from channels")

	results := make([][]Message, len(channels))
	var g errgroup.Group
	for i, ch := range channels {
		g.Go(func() error {
			msgs, err := c.fetchChannelMessages(ctx, ch, p.StartTimestamp, perChannel)
			if err != nil && isContextError(err) {
				log.Warn().
					Err(err).
					Str("channelID", ch.ID).
					Int("fetched", len(msgs)).
					Msg("Channel fetch interrupted, keeping partial results")
				results[i] = msgs
				return nil
			}
			if err != nil {
				log.Warn().
					Err(err).
					Str("channelID", ch.ID).
					Str("channelName", ch.Name).
					Msg("Channel fetch failed, skipping channel")
				return nil
			}
			results[i] = msgs
			return nil
		})
	}
	_ = g.Wait()

	var merged []Message
	for _, msgs := range results {
		merged = append(merged, msgs...)
	}
	if n, ok := p.Limit.Value(); ok && len(merged) > n {
		log.Info().Int("limit", n).Int("fetched", len(merged)).Msg("Limiting total messages")
		merged = merged[:n]
	}

	if err := ctx.Err(); err != nil {
		return merged, fmt.Errorf("fetch messages: %w", err)
	}

	if p.ResolveUsers {
		merged = c.EnrichMessages(ctx, merged)
	}

	log.Info().
		Int("messages", len(merged)).
		Int("channels", len(channels)).
		Msg("Fetched messages")

	return merged, nil
}

func (c *Client) resolveChannelSet(ctx context.Context, p FetchParams) ([]Channel, error) {
	switch {
	case len(p.ChannelIDs) > 0:
		ids := dedupe(p.ChannelIDs)
		found := make([]*Channel, len(ids))

		var g errgroup.Group
		for i, id := range ids {
			g.Go(func() error {
				ch, err := c.channelInfo(ctx, id)
				if retry.IsNotFound(err) {
					log.Warn().Str("channelID", id).Msg("Channel does not exist or is not visible, skipping")
					return nil
				}
				if err != nil {
					log.Warn().Err(err).Str("channelID", id).Msg("Failed to get channel info, skipping")
					return nil
				}
				// Only a bot token needs explicit membership to read history
				if c.id.IsBot() && !ch.IsMember {
					log.Warn().
						Str("channelID", id).
						Str("channelName", ch.Name).
						Msg("Bot is not a member of channel, skipping")
					return nil
				}
				found[i] = &ch
				return nil
			})
		}
		_ = g.Wait()

		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("resolve channels: %w", err)
		}

		var out []Channel
		for _, ch := range found {
			if ch != nil {
				out = append(out, *ch)
			}
		}
		return out, nil

	case len(p.ChannelNames) > 0:
		_, member, err := c.FetchChannels(ctx, p.IncludePrivate, paginate.Unlimited)
		if err != nil && len(member) == 0 {
			return nil, fmt.Errorf("resolve channels: %w", err)
		}

		byName := make(map[string]Channel, len(member))
		for _, ch := range member {
			byName[ch.Name] = ch
		}

		var out []Channel
		for _, name := range dedupe(p.ChannelNames) {
			name = strings.TrimLeft(name, "#")
			ch, ok := byName[name]
			if !ok {
				log.Warn().Str("channelName", name).Msg("Could not find member channel with this name")
				continue
			}
			out = append(out, ch)
		}
		return out, nil

	default:
		_, member, err := c.FetchChannels(ctx, p.IncludePrivate, paginate.Unlimited)
		if err != nil && len(member) == 0 {
			return nil, fmt.Errorf("resolve channels: %w", err)
		}
		return member, nil
	}
}

func (c *Client) resolveUserFilter(ctx context.Context, emails []string) map[string]struct{} {
	var (
		mu  sync.Mutex
		ids = make(map[string]struct{})
		g   errgroup.Group
	)
	g.SetLimit(c.exec.Limiter().Max(ratelimit.Tier3))

	for _, email := range dedupe(emails) {
		g.Go(func() error {
			p, ok := c.ResolveUserByEmail(ctx, email)
			if !ok {
				log.Warn().Str("email", email).Msg("Could not find user for email")
				return nil
			}
			mu.Lock()
			ids[p.ID] = struct{}{}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return ids
}

func (c *Client) filterByMembership(ctx context.Context, channels []Channel, userIDs map[string]struct{}) []Channel {
	keep := make([]bool, len(channels))

	var g errgroup.Group
	for i, ch := range channels {
		g.Go(func() error {
			for _, m := range c.GetChannelMembers(ctx, ch.ID) {
				if _, ok := userIDs[m]; ok {
					keep[i] = true
					break
				}
			}
			log.Debug().
				Str("channelID", ch.ID).
				Str("channelName", ch.Name).
				Bool("matches", keep[i]).
				Msg("Checked channel membership")
			return nil
		})
	}
	_ = g.Wait()

	var out []Channel
	for i, ch := range channels {
		if keep[i] {
			out = append(out, ch)
		}
	}
	return out
}

// fetchChannelMessages pages through one channel's history. Each thread seen
// in history is expanded once, and a (channel, ts) pair is kept only once. On
// error the messages collected so far are returned with it.
func (c *Client) fetchChannelMessages(ctx context.Context, ch Channel, oldest string, limit paginate.Limit) ([]Message, error) {
	seen := make(map[string]bool)
	threads := make(map[string]bool)

	log.Debug().
		Str("channelID", ch.ID).
		Str("channelName", ch.Name).
		Str("oldest", oldest).
		Msg("Fetching channel history")

	msgs, err := paginate.All(ctx, c.exec, paginate.Request[Message]{
		Method:  "conversations.history",
		Tier:    ratelimit.Tier3,
		PerPage: c.cfg.MessagePageSize,
		Limit:   limit,
		Fetch: func(ctx context.Context, cursor string, n int) (paginate.Page[Message], error) {
			resp, err := c.api.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
				ChannelID: ch.ID,
				Cursor:    cursor,
				Limit:     n,
				Oldest:    oldest,
			})
			if err != nil {
				return paginate.Page[Message]{}, err
			}

			page := paginate.Page[Message]{
				NextCursor: resp.ResponseMetaData.NextCursor,
				Items:      make([]Message, 0, len(resp.Messages)),
			}
			for _, m := range resp.Messages {
				page.Items = append(page.Items, c.messageFromSlack(m, ch.ID, ch.Name))
			}
			return page, nil
		},
		Expand: func(ctx context.Context, items []Message) []Message {
			out := make([]Message, 0, len(items))
			for _, m := range items {
				if seen[m.TS] {
					continue
				}
				seen[m.TS] = true
				out = append(out, m)

				if m.ThreadTS == "" || threads[m.ThreadTS] {
					continue
				}
				threads[m.ThreadTS] = true

				replies, err := c.threadReplies(ctx, ch, m.ThreadTS)
				if retry.IsNotFound(err) {
					log.Debug().
						Str("channelID", ch.ID).
						Str("threadTS", m.ThreadTS).
						Msg("Thread parent was deleted, keeping history only")
				} else if err != nil {
					log.Warn().
						Err(err).
						Str("channelID", ch.ID).
						Str("threadTS", m.ThreadTS).
						Msg("Failed to fetch thread replies")
				}
				for _, r := range replies {
					if seen[r.TS] {
						continue
					}
					seen[r.TS] = true
					out = append(out, r)
				}
			}
			return out
		},
	})
	if err != nil {
		return msgs, err
	}

	log.Debug().
		Str("channelID", ch.ID).
		Str("channelName", ch.Name).
		Int("messages", len(msgs)).
		Msg("Fetched channel messages")

	return msgs, nil
}

// threadReplies returns the replies of a thread without its parent.
func (c *Client) threadReplies(ctx context.Context, ch Channel, threadTS string) ([]Message, error) {
	all, err := paginate.All(ctx, c.exec, paginate.Request[Message]{
		Method:  "conversations.replies",
		Tier:    ratelimit.Tier3,
		PerPage: c.cfg.MessagePageSize,
		Fetch: func(ctx context.Context, cursor string, n int) (paginate.Page[Message], error) {
			msgs, hasMore, next, err := c.api.GetConversationRepliesContext(ctx, &slack.GetConversationRepliesParameters{
				ChannelID: ch.ID,
				Timestamp: threadTS,
				Cursor:    cursor,
				Limit:     n,
			})
			if err != nil {
				return paginate.Page[Message]{}, err
			}
			if !hasMore {
				next = ""
			}

			page := paginate.Page[Message]{NextCursor: next, Items: make([]Message, 0, len(msgs))}
			for _, m := range msgs {
				page.Items = append(page.Items, c.messageFromSlack(m, ch.ID, ch.Name))
			}
			return page, nil
		},
	})

	replies := make([]Message, 0, len(all))
	for _, m := range all {
		// Every page of conversations.replies starts with the parent
		if m.TS == threadTS {
			continue
		}
		replies = append(replies, m)
	}
	return replies, err
}

// FetchThreadReplies returns the replies of one thread, optionally enriched
// with user information.
func (c *Client) FetchThreadReplies(ctx context.Context, channelID, threadTS string, resolveUsers bool) ([]Message, error) {
	log.Info().Str("channelID", channelID).Str("threadTS", threadTS).Msg("Fetching thread replies")

	ch := Channel{ID: channelID, Name: c.channelName(channelID)}
	replies, err := c.threadReplies(ctx, ch, threadTS)
	if err != nil {
		log.Error().Err(err).Str("channelID", channelID).Str("threadTS", threadTS).Msg("Failed to fetch thread replies")
		return nil, fmt.Errorf("fetch thread replies: %w", err)
	}

	if resolveUsers {
		replies = c.EnrichMessages(ctx, replies)
	}

	log.Info().Int("replies", len(replies)).Str("threadTS", threadTS).Msg("Fetched thread replies")
	return replies, nil
}

func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
