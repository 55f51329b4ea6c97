package harvest

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"

	"github.com/zerobugdebug/slack-harvester/internal/ratelimit"
	"github.com/zerobugdebug/slack-harvester/internal/retry"
)

// PostMessage posts text to a channel, as a thread reply when threadTS is
// set, and returns the new message's ts.
func (c *Client) PostMessage(ctx context.Context, channelID, text, threadTS string) (string, error) {
	if channelID == "" || strings.TrimSpace(text) == "" {
		return "", errors.New("channel and text are required")
	}

	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}

	ts, err := retry.Do(ctx, c.exec, ratelimit.Tier3, "chat.postMessage", func(ctx context.Context) (string, error) {
		_, ts, err := c.api.PostMessageContext(ctx, channelID, opts...)
		return ts, err
	}, nil)
	if err != nil {
		log.Error().Err(err).Str("channelID", channelID).Str("threadTS", threadTS).Msg("Failed to post message")
		return "", err
	}

	log.Info().
		Str("channelID", channelID).
		Str("threadTS", threadTS).
		Str("messageTS", ts).
		Msg("Posted message")

	return ts, nil
}

// AddReaction adds an emoji reaction to a message. Surrounding colons in the
// name are ignored.
func (c *Client) AddReaction(ctx context.Context, channelID, ts, name string) error {
	name = strings.Trim(strings.TrimSpace(name), ":")
	if channelID == "" || ts == "" || name == "" {
		return errors.New("channel, timestamp and reaction name are required")
	}

	_, err := retry.Do(ctx, c.exec, ratelimit.Tier3, "reactions.add", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.api.AddReactionContext(ctx, name, slack.NewRefToMessage(channelID, ts))
	}, nil)
	if err != nil {
		log.Error().Err(err).Str("channelID", channelID).Str("messageTS", ts).Str("reaction", name).Msg("Failed to add reaction")
		return err
	}

	log.Info().Str("channelID", channelID).Str("messageTS", ts).Str("reaction", name).Msg("Added reaction")
	return nil
}
