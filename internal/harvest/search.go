package harvest

import (
	"context"
	"errors"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"
	"golang.org/x/sync/errgroup"

	"github.com/zerobugdebug/slack-harvester/internal/paginate"
	"github.com/zerobugdebug/slack-harvester/internal/ratelimit"
	"github.com/zerobugdebug/slack-harvester/internal/retry"
)

const maxSearchPageSize = 100

// SearchParams configures SearchMessagesWithContext.
type SearchParams struct {
	Query string
	// ContextWindow is how many messages to fetch before and after each hit.
	ContextWindow int
	Limit         int
	// Sort is "score" or "timestamp"; SortDir is "asc" or "desc".
	Sort    string
	SortDir string
}

// DefaultSearchParams mirrors Slack's defaults with a five-message window.
func DefaultSearchParams(query string) SearchParams {
	return SearchParams{
		Query:         query,
		ContextWindow: 5,
		Limit:         100,
		Sort:          "score",
		SortDir:       "desc",
	}
}

// SearchMessagesWithContext runs search.messages and attaches the sender,
// thread replies and surrounding messages to each hit. Failures while
// enriching one hit leave that hit with partial context.
func (c *Client) SearchMessagesWithContext(ctx context.Context, p SearchParams) ([]EnrichedHit, error) {
	if strings.TrimSpace(p.Query) == "" {
		return nil, errors.New("search query is empty")
	}
	if p.Limit <= 0 {
		return []EnrichedHit{}, nil
	}

	log.Info().Str("query", p.Query).Int("limit", p.Limit).Msg("Searching messages")

	perPage := p.Limit
	if perPage > maxSearchPageSize {
		perPage = maxSearchPageSize
	}

	matches, err := paginate.All(ctx, c.exec, paginate.Request[slack.SearchMessage]{
		Method:  "search.messages",
		Tier:    ratelimit.Tier2,
		PerPage: perPage,
		Limit:   paginate.AtMost(p.Limit),
		// Search pages are numbered, so the cursor carries the next page
		// number and every request uses the same page size.
		Fetch: func(ctx context.Context, cursor string, _ int) (paginate.Page[slack.SearchMessage], error) {
			page := 1
			if cursor != "" {
				n, err := strconv.Atoi(cursor)
				if err != nil {
					return paginate.Page[slack.SearchMessage]{}, err
				}
				page = n
			}

			res, err := c.api.SearchMessagesContext(ctx, p.Query, slack.SearchParameters{
				Sort:          p.Sort,
				SortDirection: p.SortDir,
				Count:         perPage,
				Page:          page,
			})
			if err != nil {
				return paginate.Page[slack.SearchMessage]{}, err
			}

			out := paginate.Page[slack.SearchMessage]{Items: res.Matches}
			if page < res.Paging.Pages && len(res.Matches) > 0 {
				out.NextCursor = strconv.Itoa(page + 1)
			}
			return out, nil
		},
	})
	if err != nil {
		log.Error().Err(err).Str("query", p.Query).Msg("Failed to search messages")
		return nil, err
	}

	log.Info().Int("matches", len(matches)).Str("query", p.Query).Msg("Found matching messages")

	hits := make([]EnrichedHit, len(matches))
	var g errgroup.Group
	for i, m := range matches {
		g.Go(func() error {
			hits[i] = c.enrichHit(ctx, m, p.ContextWindow)
			return nil
		})
	}
	_ = g.Wait()

	return hits, nil
}

func (c *Client) enrichHit(ctx context.Context, m slack.SearchMessage, window int) EnrichedHit {
	date, clock := FormatTimestamp(m.Timestamp)
	hit := EnrichedHit{
		TS:            m.Timestamp,
		Date:          date,
		Time:          clock,
		Text:          m.Text,
		Channel:       HitChannel{ID: m.Channel.ID, Name: m.Channel.Name},
		Permalink:     m.Permalink,
		ThreadTS:      threadTSFromPermalink(m.Permalink),
		ThreadReplies: []Message{},
		ContextBefore: []Message{},
		ContextAfter:  []Message{},
	}
	if hit.Permalink == "" {
		hit.Permalink = Permalink(c.id.TeamDomain, m.Channel.ID, m.Timestamp)
	}

	if m.Channel.ID != "" && m.Channel.Name != "" {
		c.channelNames.Put(m.Channel.Name, m.Channel.ID)
	}

	if p, ok := c.ResolveUserByID(ctx, m.User); ok {
		hit.User = &p
	}

	if hit.ThreadTS != "" {
		replies, err := c.FetchThreadReplies(ctx, m.Channel.ID, hit.ThreadTS, true)
		switch {
		case retry.IsNotFound(err):
			log.Debug().Str("threadTS", hit.ThreadTS).Msg("Thread of hit no longer exists")
		case err != nil:
			log.Warn().Err(err).Str("threadTS", hit.ThreadTS).Msg("Could not get thread replies for hit")
		default:
			hit.ThreadReplies = replies
		}
	}

	if window > 0 && m.Channel.ID != "" {
		ch := Channel{ID: m.Channel.ID, Name: m.Channel.Name}
		hit.ContextBefore = c.contextBefore(ctx, ch, m.Timestamp, window)
		hit.ContextAfter = c.contextAfter(ctx, ch, m.Timestamp, window)
	}

	return hit
}

// contextBefore returns up to window messages immediately preceding ts,
// oldest first.
func (c *Client) contextBefore(ctx context.Context, ch Channel, ts string, window int) []Message {
	resp, err := retry.Do(ctx, c.exec, ratelimit.Tier3, "conversations.history", func(ctx context.Context) (*slack.GetConversationHistoryResponse, error) {
		return c.api.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
			ChannelID: ch.ID,
			Latest:    ts,
			Limit:     window + 1,
		})
	}, func(err error) *slack.GetConversationHistoryResponse {
		log.Warn().Err(err).Str("channelID", ch.ID).Str("ts", ts).Str("side", "before").Msg("Could not get context messages")
		return nil
	})
	if err != nil || resp == nil {
		return []Message{}
	}

	out := make([]Message, 0, window)
	for _, m := range resp.Messages {
		if m.Timestamp == ts {
			continue
		}
		if len(out) == window {
			break
		}
		out = append(out, c.messageFromSlack(m, ch.ID, ch.Name))
	}
	slices.Reverse(out)
	return out
}

// contextAfter returns up to window messages immediately following ts,
// oldest first. History pages run newest first, so every page after ts is
// read before the oldest ones are kept.
func (c *Client) contextAfter(ctx context.Context, ch Channel, ts string, window int) []Message {
	newer, err := paginate.All(ctx, c.exec, paginate.Request[slack.Message]{
		Method:  "conversations.history",
		Tier:    ratelimit.Tier3,
		PerPage: c.cfg.MessagePageSize,
		Fetch: func(ctx context.Context, cursor string, n int) (paginate.Page[slack.Message], error) {
			resp, err := c.api.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
				ChannelID: ch.ID,
				Oldest:    ts,
				Cursor:    cursor,
				Limit:     n,
			})
			if err != nil {
				return paginate.Page[slack.Message]{}, err
			}
			page := paginate.Page[slack.Message]{Items: resp.Messages}
			if resp.HasMore {
				page.NextCursor = resp.ResponseMetaData.NextCursor
			}
			return page, nil
		},
	})
	if err != nil {
		// The oldest messages sit on the last pages, so a partial read is useless
		log.Warn().Err(err).Str("channelID", ch.ID).Str("ts", ts).Str("side", "after").Msg("Could not get context messages")
		return []Message{}
	}

	newer = slices.DeleteFunc(newer, func(m slack.Message) bool { return m.Timestamp == ts })
	slices.SortFunc(newer, func(a, b slack.Message) int { return compareTimestamps(a.Timestamp, b.Timestamp) })

	out := make([]Message, 0, window)
	for _, m := range newer {
		if len(out) == window {
			break
		}
		out = append(out, c.messageFromSlack(m, ch.ID, ch.Name))
	}
	return out
}

// threadTSFromPermalink reads the thread_ts query parameter Slack adds to
// permalinks of thread replies.
func threadTSFromPermalink(permalink string) string {
	if permalink == "" {
		return ""
	}
	u, err := url.Parse(permalink)
	if err != nil {
		return ""
	}
	return u.Query().Get("thread_ts")
}
