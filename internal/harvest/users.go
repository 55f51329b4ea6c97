package harvest

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"
	"golang.org/x/sync/errgroup"

	"github.com/zerobugdebug/slack-harvester/internal/paginate"
	"github.com/zerobugdebug/slack-harvester/internal/ratelimit"
	"github.com/zerobugdebug/slack-harvester/internal/retry"
)

// slackbotID is the built-in Slackbot user.
const slackbotID = "USLACKBOT"

// mentionPattern matches <@U123> and <@U123|label>.
var mentionPattern = regexp.MustCompile(`<@([A-Z0-9]+)(?:\|[^>]*)?>`)

// ResolveUserByID returns the profile for id, from cache when possible. A
// user that cannot be resolved is reported as absent, not as an error.
func (c *Client) ResolveUserByID(ctx context.Context, id string) (UserProfile, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		return UserProfile{}, false
	}

	if p, ok := c.users.Get(id); ok {
		log.Trace().Str("userID", id).Msg("User cache hit")
		return p, true
	}

	v, _, _ := c.userFlight.Do(id, func() (any, error) {
		if p, ok := c.users.Get(id); ok {
			return &p, nil
		}

		log.Debug().Str("userID", id).Msg("User cache miss, fetching from Slack")
		u, err := retry.Do(ctx, c.exec, ratelimit.Tier4, "users.info", func(ctx context.Context) (*slack.User, error) {
			return c.api.GetUserInfoContext(ctx, id)
		}, func(err error) *slack.User {
			log.Warn().Err(err).Str("userID", id).Msg("Could not resolve user")
			return nil
		})
		if err != nil {
			log.Warn().Err(err).Str("userID", id).Msg("User lookup aborted")
			return nil, err
		}
		if u == nil {
			return nil, nil
		}

		p := c.storeUser(u)
		return &p, nil
	})

	if p, ok := v.(*UserProfile); ok && p != nil {
		return *p, true
	}
	return UserProfile{}, false
}

// ResolveUserByEmail finds a user by email address, consulting the cache
// before calling users.lookupByEmail.
func (c *Client) ResolveUserByEmail(ctx context.Context, email string) (UserProfile, bool) {
	email = strings.TrimSpace(email)
	if email == "" {
		return UserProfile{}, false
	}
	key := strings.ToLower(email)

	if id, ok := c.emails.Get(key); ok {
		if p, ok := c.users.Get(id); ok {
			log.Trace().Str("email", email).Str("userID", id).Msg("Email index hit")
			return p, true
		}
	}

	// Entries written before the index existed, or restored from a snapshot
	if _, p, ok := c.users.Find(func(_ string, p UserProfile) bool {
		return strings.EqualFold(p.Email, email)
	}); ok {
		c.emails.Put(key, p.ID)
		return p, true
	}

	log.Debug().Str("email", email).Msg("Email not cached, looking up in Slack")
	u, err := retry.Do(ctx, c.exec, ratelimit.Tier3, "users.lookupByEmail", func(ctx context.Context) (*slack.User, error) {
		return c.api.GetUserByEmailContext(ctx, email)
	}, func(err error) *slack.User {
		log.Warn().Err(err).Str("email", email).Msg("Could not find user by email")
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Str("email", email).Msg("Email lookup aborted")
		return UserProfile{}, false
	}
	if u == nil {
		return UserProfile{}, false
	}

	return c.storeUser(u), true
}

// ResolveBatch resolves every distinct id concurrently and returns the ones
// that resolved. Remote concurrency is bounded by the users.info tier.
func (c *Client) ResolveBatch(ctx context.Context, ids []string) map[string]UserProfile {
	distinct := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			distinct[id] = struct{}{}
		}
	}

	out := make(map[string]UserProfile, len(distinct))
	if len(distinct) == 0 {
		return out
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(c.exec.Limiter().Max(ratelimit.Tier4))

	for id := range distinct {
		g.Go(func() error {
			if p, ok := c.ResolveUserByID(ctx, id); ok {
				mu.Lock()
				out[id] = p
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	log.Debug().
		Int("requested", len(distinct)).
		Int("resolved", len(out)).
		Msg("Resolved user batch")

	return out
}

// EnrichMessages attaches sender, parent, reply-user and mention profiles to
// a copy of msgs. Mentions in text are rewritten to @display-name.
func (c *Client) EnrichMessages(ctx context.Context, msgs []Message) []Message {
	if len(msgs) == 0 {
		return msgs
	}

	var ids []string
	for _, m := range msgs {
		ids = append(ids, m.UserID, m.ParentUserID)
		ids = append(ids, m.ReplyUsers...)
		for _, match := range mentionPattern.FindAllStringSubmatch(m.Text, -1) {
			ids = append(ids, match[1])
		}
	}

	profiles := c.ResolveBatch(ctx, ids)

	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = applyProfiles(m, profiles)
	}

	log.Debug().
		Int("messages", len(out)).
		Int("users", len(profiles)).
		Msg("Added user information to messages")

	return out
}

func applyProfiles(m Message, profiles map[string]UserProfile) Message {
	if p, ok := profiles[m.UserID]; ok {
		m.UserName = p.Name
		m.UserEmail = p.Email
	}

	if p, ok := profiles[m.ParentUserID]; ok {
		m.ParentUserName = p.Name
		m.ParentUserEmail = p.Email
	}

	if len(m.ReplyUsers) > 0 {
		m.ReplyUsersInfo = make([]UserProfile, 0, len(m.ReplyUsers))
		for _, id := range m.ReplyUsers {
			if p, ok := profiles[id]; ok {
				m.ReplyUsersInfo = append(m.ReplyUsersInfo, p)
			}
		}
	}

	matches := mentionPattern.FindAllStringSubmatch(m.Text, -1)
	if len(matches) > 0 {
		m.Mentions = make([]UserProfile, 0, len(matches))
		seen := make(map[string]bool, len(matches))
		for _, match := range matches {
			id := match[1]
			if p, ok := profiles[id]; ok && !seen[id] {
				seen[id] = true
				m.Mentions = append(m.Mentions, p)
			}
		}

		m.Text = mentionPattern.ReplaceAllStringFunc(m.Text, func(s string) string {
			id := mentionPattern.FindStringSubmatch(s)[1]
			if p, ok := profiles[id]; ok {
				return "@" + p.Name
			}
			return s
		})
	}

	return m
}

// FetchUsers lists workspace users via users.list. Active human users are
// cached; bots and deactivated accounts are returned but not cached.
func (c *Client) FetchUsers(ctx context.Context, limit paginate.Limit) ([]UserProfile, error) {
	pageSize := c.cfg.UserPageSize
	if n, ok := limit.Value(); ok {
		if n <= 0 {
			return nil, nil
		}
		if n < pageSize {
			pageSize = n
		}
	}

	pager := c.api.GetUsersPaginated(slack.GetUsersOptionLimit(pageSize))
	pageNo := 0

	profiles, err := paginate.All(ctx, c.exec, paginate.Request[UserProfile]{
		Method:  "users.list",
		Tier:    ratelimit.Tier4,
		PerPage: pageSize,
		Limit:   limit,
		// The pager tracks the real cursor; the page number only tells
		// All that another page may follow.
		Fetch: func(ctx context.Context, _ string, n int) (paginate.Page[UserProfile], error) {
			slack.GetUsersOptionLimit(n)(&pager)
			next, err := pager.Next(ctx)
			if pager.Done(err) {
				return paginate.Page[UserProfile]{}, nil
			}
			if err != nil {
				return paginate.Page[UserProfile]{}, err
			}
			pager = next
			pageNo++

			page := paginate.Page[UserProfile]{
				NextCursor: strconv.Itoa(pageNo),
				Items:      make([]UserProfile, 0, len(next.Users)),
			}
			for i := range next.Users {
				u := &next.Users[i]
				if u.IsBot || u.Deleted || u.ID == slackbotID {
					page.Items = append(page.Items, profileFromUser(u))
					continue
				}
				page.Items = append(page.Items, c.storeUser(u))
			}
			return page, nil
		},
	})
	if err != nil {
		log.Error().Err(err).Int("fetched", len(profiles)).Msg("Failed to list users")
		return profiles, err
	}

	log.Info().
		Int("users", len(profiles)).
		Int("pages", pageNo).
		Msg("Fetched users")

	return profiles, nil
}

func (c *Client) storeUser(u *slack.User) UserProfile {
	p := profileFromUser(u)
	c.users.Put(p.ID, p)
	if p.Email != "" {
		c.emails.Put(strings.ToLower(p.Email), p.ID)
	}
	return p
}

// PrimeUser stores a profile obtained elsewhere, for example from a snapshot.
func (c *Client) PrimeUser(p UserProfile) error {
	return c.primeUser(p, c.cfg.CacheTTL)
}

func (c *Client) primeUser(p UserProfile, ttl time.Duration) error {
	if p.ID == "" {
		return errors.New("profile has no id")
	}
	c.users.PutFor(p.ID, p, ttl)
	if p.Email != "" {
		c.emails.PutFor(strings.ToLower(p.Email), p.ID, ttl)
	}
	return nil
}
