package harvest

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"

	"github.com/zerobugdebug/slack-harvester/internal/paginate"
	"github.com/zerobugdebug/slack-harvester/internal/ratelimit"
	"github.com/zerobugdebug/slack-harvester/internal/retry"
)

// FetchChannels lists public channels, plus private ones when requested. It
// returns every visible channel and the subset the credential is a member
// of. Every listed name is cached for GetChannelIDByName.
func (c *Client) FetchChannels(ctx context.Context, includePrivate bool, limit paginate.Limit) ([]Channel, []Channel, error) {
	types := []string{"public_channel"}
	if includePrivate {
		types = append(types, "private_channel")
	}

	log.Debug().
		Strs("types", types).
		Int("pageSize", c.cfg.ChannelPageSize).
		Msg("Fetching channels")

	all, err := paginate.All(ctx, c.exec, paginate.Request[Channel]{
		Method:  "conversations.list",
		Tier:    ratelimit.Tier2,
		PerPage: c.cfg.ChannelPageSize,
		Limit:   limit,
		Fetch: func(ctx context.Context, cursor string, n int) (paginate.Page[Channel], error) {
			chans, next, err := c.api.GetConversationsContext(ctx, &slack.GetConversationsParameters{
				Cursor: cursor,
				Limit:  n,
				Types:  types,
			})
			if err != nil {
				return paginate.Page[Channel]{}, err
			}

			page := paginate.Page[Channel]{NextCursor: next, Items: make([]Channel, 0, len(chans))}
			for _, ch := range chans {
				page.Items = append(page.Items, channelFromSlack(ch))
			}
			return page, nil
		},
	})

	var member []Channel
	nonMember := 0
	for _, ch := range all {
		if ch.Name != "" {
			c.channelNames.Put(ch.Name, ch.ID)
		}
		if ch.IsMember {
			member = append(member, ch)
		} else {
			nonMember++
		}
	}

	if nonMember > 0 {
		log.Warn().Int("count", nonMember).Msg("Found channels where the credential is not a member")
	}

	if err != nil {
		log.Error().Err(err).Int("fetched", len(all)).Msg("Failed to list channels")
		return all, member, err
	}

	log.Info().
		Int("channels", len(all)).
		Int("memberChannels", len(member)).
		Msg("Fetched channels")

	return all, member, nil
}

// GetChannelIDByName maps a channel name, with or without a leading '#', to
// its id. A cache miss triggers a full channel listing.
func (c *Client) GetChannelIDByName(ctx context.Context, name string) (string, bool) {
	name = strings.TrimLeft(strings.TrimSpace(name), "#")
	if name == "" {
		return "", false
	}

	if id, ok := c.channelNames.Get(name); ok {
		log.Debug().Str("channelName", name).Str("channelID", id).Msg("Channel cache hit")
		return id, true
	}

	log.Debug().Str("channelName", name).Msg("Channel cache miss, listing channels")
	if _, _, err := c.FetchChannels(ctx, c.cfg.IncludePrivate, paginate.Unlimited); err != nil {
		log.Warn().Err(err).Str("channelName", name).Msg("Channel listing incomplete")
	}

	if id, ok := c.channelNames.Get(name); ok {
		return id, true
	}

	log.Warn().Str("channelName", name).Msg("Could not find channel")
	return "", false
}

// GetChannelMembers returns the member ids of a channel. Complete non-empty
// results are cached; failures yield whatever was collected.
func (c *Client) GetChannelMembers(ctx context.Context, channelID string) []string {
	if members, ok := c.members.Get(channelID); ok {
		log.Debug().Str("channelID", channelID).Int("members", len(members)).Msg("Channel members cache hit")
		return members
	}

	members, err := paginate.All(ctx, c.exec, paginate.Request[string]{
		Method:  "conversations.members",
		Tier:    ratelimit.Tier4,
		PerPage: c.cfg.MemberPageSize,
		Fetch: func(ctx context.Context, cursor string, n int) (paginate.Page[string], error) {
			ids, next, err := c.api.GetUsersInConversationContext(ctx, &slack.GetUsersInConversationParameters{
				ChannelID: channelID,
				Cursor:    cursor,
				Limit:     n,
			})
			if err != nil {
				return paginate.Page[string]{}, err
			}
			return paginate.Page[string]{Items: ids, NextCursor: next}, nil
		},
	})
	if err != nil {
		log.Warn().Err(err).Str("channelID", channelID).Int("fetched", len(members)).Msg("Failed to list channel members")
		return members
	}

	if len(members) > 0 {
		c.members.Put(channelID, members)
	}

	log.Debug().Str("channelID", channelID).Int("members", len(members)).Msg("Fetched channel members")
	return members
}

// channelInfo fetches one channel's descriptor.
func (c *Client) channelInfo(ctx context.Context, channelID string) (Channel, error) {
	ch, err := retry.Do(ctx, c.exec, ratelimit.Tier3, "conversations.info", func(ctx context.Context) (*slack.Channel, error) {
		return c.api.GetConversationInfoContext(ctx, &slack.GetConversationInfoInput{ChannelID: channelID})
	}, nil)
	if err != nil {
		return Channel{}, err
	}

	info := channelFromSlack(*ch)
	if info.Name != "" {
		c.channelNames.Put(info.Name, info.ID)
	}
	return info, nil
}

// channelName reverse-maps an id through the name cache.
func (c *Client) channelName(channelID string) string {
	name, _, ok := c.channelNames.Find(func(_ string, id string) bool { return id == channelID })
	if !ok {
		return ""
	}
	return name
}

// PrimeChannel stores a name→id mapping and, optionally, its member list.
func (c *Client) PrimeChannel(id, name string, members []string) {
	c.primeChannel(id, name, members, c.cfg.CacheTTL)
}

func (c *Client) primeChannel(id, name string, members []string, ttl time.Duration) {
	if name != "" {
		c.channelNames.PutFor(name, id, ttl)
	}
	if len(members) > 0 {
		c.members.PutFor(id, members, ttl)
	}
}
