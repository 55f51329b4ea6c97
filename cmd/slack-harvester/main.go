package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zerobugdebug/slack-harvester/internal/config"
	"github.com/zerobugdebug/slack-harvester/internal/harvest"
)

const usage = `Usage: slack-harvester [global flags] <command> [flags]

Commands:
  fetch     fetch messages and thread replies from channels
  channels  list channels
  thread    fetch the replies of one thread
  search    search messages and attach surrounding context
  users     list workspace users
  cache     build a user/channel cache snapshot
  resolve   add user names and emails to a messages CSV
  post      post a message or thread reply
  react     add a reaction to a message

Global flags:
`

// globals holds flags shared by every command.
type globals struct {
	logLevel       string
	envFile        string
	snapshot       string
	includePrivate bool
	resolveUsers   bool
	pacing         bool
	fetchTimeout   time.Duration
}

func main() {
	g := globals{}
	flag.StringVar(&g.logLevel, "log-level", "info", "Log level: trace, debug, info, warn, error, fatal, panic")
	flag.StringVar(&g.envFile, "env-file", ".env", "Optional .env file with SLACK_* settings")
	flag.StringVar(&g.snapshot, "snapshot", "", "Warm caches from a snapshot: a JSON file path, or \"redis\"")
	flag.BoolVar(&g.includePrivate, "include-private", false, "Include private channels (overrides SLACK_INCLUDE_PRIVATE)")
	flag.BoolVar(&g.resolveUsers, "resolve-users", true, "Attach user names and emails (overrides SLACK_RESOLVE_USERS)")
	flag.BoolVar(&g.pacing, "pacing", false, "Pace requests to Slack's published per-minute quotas")
	flag.DurationVar(&g.fetchTimeout, "fetch-timeout", 0, "Upper bound for a whole multi-channel fetch (0 = none)")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	// Data goes to stdout, so logs go to stderr
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}

	logLevel, err := zerolog.ParseLevel(g.logLevel)
	if err != nil {
		// Default to info if invalid level
		logLevel = zerolog.InfoLevel
		fmt.Fprintf(os.Stderr, "Invalid log level '%s', defaulting to 'info'\n", g.logLevel)
	}
	zerolog.SetGlobalLevel(logLevel)
	log.Logger = zerolog.New(consoleWriter).With().
		Timestamp().
		Str("runID", uuid.NewString()).
		Logger()

	log.Debug().
		Str("level", logLevel.String()).
		Msg("Logger initialized")

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, g, flag.Arg(0), flag.Args()[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		stop()
		log.Fatal().Err(err).Str("command", flag.Arg(0)).Msg("Command failed")
	}
}

func run(ctx context.Context, g globals, name string, args []string) error {
	cmd, ok := commands[name]
	if !ok {
		flag.Usage()
		return fmt.Errorf("unknown command %q", name)
	}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	exec := cmd(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}

	log.Info().
		Str("command", name).
		Bool("includePrivate", cfg.IncludePrivate).
		Bool("resolveUsers", cfg.ResolveUsers).
		Bool("pacing", cfg.Pacing).
		Msg("Configuration loaded")

	log.Debug().Msg("Creating Slack client")
	client, err := harvest.Dial(ctx, cfg, nil)
	if err != nil {
		return err
	}
	client.StartJanitors(ctx, time.Hour)

	if g.snapshot != "" {
		src, closeSrc, err := openSink(ctx, cfg, g.snapshot)
		if err != nil {
			return err
		}
		err = client.WarmFromSnapshot(ctx, src)
		closeSrc()
		if err != nil {
			log.Warn().Err(err).Str("snapshot", g.snapshot).Msg("Continuing with cold caches")
		}
	}

	return exec(ctx, client)
}

// loadConfig layers flags that were set explicitly over the environment.
func loadConfig(g globals) (config.Config, error) {
	cfg, err := config.Load(g.envFile)
	if err != nil {
		return cfg, err
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "include-private":
			cfg.IncludePrivate = g.includePrivate
		case "resolve-users":
			cfg.ResolveUsers = g.resolveUsers
		case "pacing":
			cfg.Pacing = g.pacing
		case "fetch-timeout":
			cfg.FetchTimeout = g.fetchTimeout
		}
	})
	cfg.ApplyPacing()

	return cfg, cfg.Validate()
}
