package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zerobugdebug/slack-harvester/internal/export"
	"github.com/zerobugdebug/slack-harvester/internal/harvest"
)

// A command registers its flags on fs and returns the function to run once
// they are parsed.
type command func(fs *flag.FlagSet) func(ctx context.Context, c *harvest.Client) error

var commands = map[string]command{
	"fetch":    fetchCommand,
	"channels": channelsCommand,
	"thread":   threadCommand,
	"search":   searchCommand,
	"users":    usersCommand,
	"cache":    cacheCommand,
	"resolve":  resolveCommand,
	"post":     postCommand,
	"react":    reactCommand,
}

func fetchCommand(fs *flag.FlagSet) func(context.Context, *harvest.Client) error {
	since := fs.String("since", "", "Oldest message to include: Slack ts, RFC 3339 time, YYYY-MM-DD or a duration such as 72h")
	ids := fs.String("channels", "", "Comma separated channel ids")
	names := fs.String("channel-names", "", "Comma separated channel names (used when -channels is empty)")
	emails := fs.String("emails", "", "Only channels where one of these users is a member")
	limit := fs.Int("limit", -1, "Maximum number of messages across all channels (-1 = no limit)")
	aggregate := fs.Bool("aggregate", true, "Nest thread replies under their parent")
	format := fs.String("format", "csv", "Output format: csv or json")
	out := fs.String("out", "", "Output file (default stdout)")

	return func(ctx context.Context, c *harvest.Client) error {
		if err := checkFormat(*format); err != nil {
			return err
		}
		oldest, err := parseSince(*since, time.Now())
		if err != nil {
			return err
		}

		cfg := c.Config()
		msgs, err := c.FetchMessagesFromChannels(ctx, harvest.FetchParams{
			StartTimestamp: oldest,
			ChannelIDs:     splitList(*ids),
			ChannelNames:   splitList(*names),
			UserEmails:     splitList(*emails),
			IncludePrivate: cfg.IncludePrivate,
			ResolveUsers:   cfg.ResolveUsers,
			Limit:          limitFlag(*limit),
		})
		if err != nil {
			if len(msgs) == 0 {
				return err
			}
			log.Warn().Err(err).Int("messages", len(msgs)).Msg("Fetch interrupted, writing partial results")
		}

		if *aggregate {
			msgs = harvest.AggregateThreads(msgs)
		}

		return writeOutput(*out, func(w io.Writer) error {
			if *format == "json" {
				return export.WriteJSON(w, msgs)
			}
			return export.WriteMessagesCSV(w, msgs)
		})
	}
}

func channelsCommand(fs *flag.FlagSet) func(context.Context, *harvest.Client) error {
	memberOnly := fs.Bool("member", false, "Only channels the credential is a member of")
	limit := fs.Int("limit", -1, "Maximum number of channels (-1 = no limit)")
	format := fs.String("format", "csv", "Output format: csv or json")
	out := fs.String("out", "", "Output file (default stdout)")

	return func(ctx context.Context, c *harvest.Client) error {
		if err := checkFormat(*format); err != nil {
			return err
		}

		all, member, err := c.FetchChannels(ctx, c.Config().IncludePrivate, limitFlag(*limit))
		if err != nil {
			return err
		}
		channels := all
		if *memberOnly {
			channels = member
		}

		return writeOutput(*out, func(w io.Writer) error {
			if *format == "json" {
				return export.WriteJSON(w, channels)
			}
			return export.WriteChannelsCSV(w, channels)
		})
	}
}

func threadCommand(fs *flag.FlagSet) func(context.Context, *harvest.Client) error {
	channel := fs.String("channel", "", "Channel id")
	ts := fs.String("ts", "", "Thread parent ts")
	format := fs.String("format", "csv", "Output format: csv or json")
	out := fs.String("out", "", "Output file (default stdout)")

	return func(ctx context.Context, c *harvest.Client) error {
		if *channel == "" || *ts == "" {
			return errors.New("-channel and -ts are required")
		}
		if err := checkFormat(*format); err != nil {
			return err
		}

		replies, err := c.FetchThreadReplies(ctx, *channel, *ts, c.Config().ResolveUsers)
		if err != nil {
			return err
		}

		return writeOutput(*out, func(w io.Writer) error {
			if *format == "json" {
				return export.WriteJSON(w, replies)
			}
			return export.WriteMessagesCSV(w, replies)
		})
	}
}

func searchCommand(fs *flag.FlagSet) func(context.Context, *harvest.Client) error {
	defaults := harvest.DefaultSearchParams("")
	query := fs.String("query", "", "Slack search query")
	window := fs.Int("context", defaults.ContextWindow, "Messages to include before and after each hit")
	limit := fs.Int("limit", defaults.Limit, "Maximum number of hits")
	sort := fs.String("sort", defaults.Sort, "Sort by score or timestamp")
	sortDir := fs.String("sort-dir", defaults.SortDir, "Sort direction: asc or desc")
	out := fs.String("out", "", "Output file (default stdout)")

	return func(ctx context.Context, c *harvest.Client) error {
		q := *query
		if q == "" && fs.NArg() > 0 {
			q = fs.Arg(0)
		}

		hits, err := c.SearchMessagesWithContext(ctx, harvest.SearchParams{
			Query:         q,
			ContextWindow: *window,
			Limit:         *limit,
			Sort:          *sort,
			SortDir:       *sortDir,
		})
		if err != nil {
			return err
		}

		return writeOutput(*out, func(w io.Writer) error {
			return export.WriteJSON(w, hits)
		})
	}
}

func usersCommand(fs *flag.FlagSet) func(context.Context, *harvest.Client) error {
	limit := fs.Int("limit", -1, "Maximum number of users (-1 = no limit)")
	format := fs.String("format", "csv", "Output format: csv or json")
	out := fs.String("out", "", "Output file (default stdout)")

	return func(ctx context.Context, c *harvest.Client) error {
		if err := checkFormat(*format); err != nil {
			return err
		}

		users, err := c.FetchUsers(ctx, limitFlag(*limit))
		if err != nil {
			return err
		}

		return writeOutput(*out, func(w io.Writer) error {
			if *format == "json" {
				return export.WriteJSON(w, users)
			}
			return export.WriteUsersCSV(w, users)
		})
	}
}

func cacheCommand(fs *flag.FlagSet) func(context.Context, *harvest.Client) error {
	target := fs.String("to", "slack-cache.json", "Snapshot destination: a JSON file path, or \"redis\"")

	return func(ctx context.Context, c *harvest.Client) error {
		sink, closeSink, err := openSink(ctx, c.Config(), *target)
		if err != nil {
			return err
		}
		defer closeSink()

		snap, err := c.BuildCacheSnapshot(ctx, sink)
		if err != nil {
			return err
		}

		log.Info().
			Str("to", *target).
			Int("users", len(snap.Users)).
			Int("channels", len(snap.Channels)).
			Msg("Cache snapshot written")
		return nil
	}
}

func resolveCommand(fs *flag.FlagSet) func(context.Context, *harvest.Client) error {
	in := fs.String("in", "", "Messages CSV to read (default stdin)")
	out := fs.String("out", "", "Output file (default stdout)")

	return func(ctx context.Context, c *harvest.Client) error {
		var r io.Reader = os.Stdin
		if *in != "" && *in != "-" {
			f, err := os.Open(*in)
			if err != nil {
				return fmt.Errorf("failed to open input: %w", err)
			}
			defer f.Close()
			r = f
		}

		rows, err := export.ReadMessagesCSV(r)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			log.Warn().Msg("No messages to process")
		}

		ids := export.UserIDs(rows)
		log.Info().Int("rows", len(rows)).Int("users", len(ids)).Msg("Resolving users")

		profiles := c.ResolveBatch(ctx, ids)
		resolved, err := export.ResolveRows(rows, profiles)
		if err != nil {
			return err
		}

		return writeOutput(*out, func(w io.Writer) error {
			return export.WriteMessageRowsCSV(w, resolved)
		})
	}
}

func postCommand(fs *flag.FlagSet) func(context.Context, *harvest.Client) error {
	channel := fs.String("channel", "", "Channel id")
	text := fs.String("text", "", "Message text")
	thread := fs.String("thread", "", "Parent ts to reply in a thread")

	return func(ctx context.Context, c *harvest.Client) error {
		ts, err := c.PostMessage(ctx, *channel, *text, *thread)
		if err != nil {
			return err
		}
		fmt.Println(ts)
		return nil
	}
}

func reactCommand(fs *flag.FlagSet) func(context.Context, *harvest.Client) error {
	channel := fs.String("channel", "", "Channel id")
	ts := fs.String("ts", "", "Message ts")
	name := fs.String("name", "", "Reaction name, for example thumbsup")

	return func(ctx context.Context, c *harvest.Client) error {
		return c.AddReaction(ctx, *channel, *ts, *name)
	}
}
