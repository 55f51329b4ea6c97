package harvest

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/slack-go/slack"
)

const unknownUserName = "Unknown User"

// UserProfile is a resolved Slack user.
type UserProfile struct {
	ID      string `json:"user_id"`
	Name    string `json:"user_name"`
	Email   string `json:"user_email"`
	IsBot   bool   `json:"is_bot,omitempty"`
	Deleted bool   `json:"deleted,omitempty"`
}

// Channel is a conversation the credential can see.
type Channel struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	IsMember   bool   `json:"is_member"`
	IsPrivate  bool   `json:"is_private"`
	IsArchived bool   `json:"is_archived"`
	Topic      string `json:"topic,omitempty"`
	Purpose    string `json:"purpose,omitempty"`
	NumMembers int    `json:"num_members,omitempty"`
	Created    int64  `json:"created,omitempty"`
}

// Message is a channel message or thread reply with derived and resolved
// fields attached.
type Message struct {
	TS           string   `json:"ts"`
	ChannelID    string   `json:"channel_id"`
	ChannelName  string   `json:"channel_name"`
	UserID       string   `json:"user,omitempty"`
	Text         string   `json:"text"`
	ThreadTS     string   `json:"thread_ts,omitempty"`
	SubType      string   `json:"subtype,omitempty"`
	BotID        string   `json:"bot_id,omitempty"`
	ReplyCount   int      `json:"reply_count,omitempty"`
	ReplyUsers   []string `json:"reply_users,omitempty"`
	ParentUserID string   `json:"parent_user_id,omitempty"`
	Date         string   `json:"date"`
	Time         string   `json:"time"`
	Permalink    string   `json:"permalink,omitempty"`

	UserName        string        `json:"user_name,omitempty"`
	UserEmail       string        `json:"user_email,omitempty"`
	ParentUserName  string        `json:"parent_user_name,omitempty"`
	ParentUserEmail string        `json:"parent_user_email,omitempty"`
	ReplyUsersInfo  []UserProfile `json:"reply_users_info,omitempty"`
	Mentions        []UserProfile `json:"mentions,omitempty"`

	ThreadReplies []Message `json:"thread_replies,omitempty"`
}

// IsReply reports whether m is a reply inside someone else's thread.
func (m Message) IsReply() bool { return m.ThreadTS != "" && m.ThreadTS != m.TS }

// HitChannel names the channel of a search hit.
type HitChannel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// EnrichedHit is a search match with its sender, thread and surrounding
// messages.
type EnrichedHit struct {
	TS            string       `json:"ts"`
	Date          string       `json:"date"`
	Time          string       `json:"time"`
	Text          string       `json:"text"`
	User          *UserProfile `json:"user,omitempty"`
	Channel       HitChannel   `json:"channel"`
	Permalink     string       `json:"permalink,omitempty"`
	ThreadTS      string       `json:"thread_ts,omitempty"`
	ThreadReplies []Message    `json:"thread_replies"`
	// Context messages run oldest first
	ContextBefore []Message    `json:"context_before"`
	ContextAfter  []Message    `json:"context_after"`
}

func profileFromUser(u *slack.User) UserProfile {
	name := u.Profile.DisplayName
	if name == "" {
		name = u.RealName
	}
	if name == "" {
		name = u.Profile.RealName
	}
	if name == "" {
		name = unknownUserName
	}

	return UserProfile{
		ID:      u.ID,
		Name:    name,
		Email:   u.Profile.Email,
		IsBot:   u.IsBot,
		Deleted: u.Deleted,
	}
}

func channelFromSlack(ch slack.Channel) Channel {
	return Channel{
		ID:         ch.ID,
		Name:       ch.Name,
		IsMember:   ch.IsMember,
		IsPrivate:  ch.IsPrivate,
		IsArchived: ch.IsArchived,
		Topic:      ch.Topic.Value,
		Purpose:    ch.Purpose.Value,
		NumMembers: ch.NumMembers,
		Created:    ch.Created.Time().Unix(),
	}
}

func (c *Client) messageFromSlack(m slack.Message, channelID, channelName string) Message {
	date, clock := FormatTimestamp(m.Timestamp)

	return Message{
		TS:           m.Timestamp,
		ChannelID:    channelID,
		ChannelName:  channelName,
		UserID:       m.User,
		Text:         m.Text,
		ThreadTS:     m.ThreadTimestamp,
		SubType:      m.SubType,
		BotID:        m.BotID,
		ReplyCount:   m.ReplyCount,
		ReplyUsers:   m.ReplyUsers,
		ParentUserID: m.ParentUserId,
		Date:         date,
		Time:         clock,
		Permalink:    Permalink(c.id.TeamDomain, channelID, m.Timestamp),
	}
}

// FormatTimestamp splits a Slack ts into a UTC date (YYYY-MM-DD) and time
// (HH:MM:SS). Invalid input yields two empty strings.
func FormatTimestamp(ts string) (string, string) {
	t, ok := ParseTimestamp(ts)
	if !ok {
		return "", ""
	}
	t = t.UTC()
	return t.Format("2006-01-02"), t.Format("15:04:05")
}

// ParseTimestamp converts a Slack ts such as "1700000000.000100".
func ParseTimestamp(ts string) (time.Time, bool) {
	sec, frac, err := splitTimestamp(ts)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(sec, frac*1000), true
}

// TimestampFromTime renders t in Slack ts format.
func TimestampFromTime(t time.Time) string {
	return fmt.Sprintf("%d.%06d", t.Unix(), t.Nanosecond()/1000)
}

// Permalink builds the web link for a message. An unknown team domain yields
// an empty link.
func Permalink(teamDomain, channelID, ts string) string {
	if teamDomain == "" || channelID == "" || ts == "" {
		return ""
	}
	linkTimestamp := strings.Replace(ts, ".", "", 1)
	return fmt.Sprintf("https://%s.slack.com/archives/%s/p%s", teamDomain, channelID, linkTimestamp)
}

// compareTimestamps orders two Slack ts values numerically. Unparseable values
// sort after valid ones and fall back to string order among themselves.
func compareTimestamps(a, b string) int {
	as, af, aerr := splitTimestamp(a)
	bs, bf, berr := splitTimestamp(b)

	switch {
	case aerr != nil && berr != nil:
		return strings.Compare(a, b)
	case aerr != nil:
		return 1
	case berr != nil:
		return -1
	case as != bs:
		if as < bs {
			return -1
		}
		return 1
	case af != bf:
		if af < bf {
			return -1
		}
		return 1
	}
	return 0
}

// splitTimestamp returns seconds and microseconds of a ts.
func splitTimestamp(ts string) (int64, int64, error) {
	ts = strings.TrimSpace(ts)
	if ts == "" {
		return 0, 0, fmt.Errorf("empty timestamp")
	}

	whole, frac, _ := strings.Cut(ts, ".")
	sec, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid timestamp %q: %w", ts, err)
	}

	var micros int64
	if frac != "" {
		if len(frac) > 6 {
			frac = frac[:6]
		}
		frac += strings.Repeat("0", 6-len(frac))
		if micros, err = strconv.ParseInt(frac, 10, 64); err != nil || micros < 0 {
			return 0, 0, fmt.Errorf("invalid timestamp %q", ts)
		}
	}
	return sec, micros, nil
}
