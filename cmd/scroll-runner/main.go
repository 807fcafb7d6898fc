// Command scroll-runner loads a storefront collection page and scrolls it to
// the end headlessly, writing the merged document.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/Sternrassler/infinite-scroll/pkg/logging"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	flags := DefaultConfig()

	cmd := &cobra.Command{
		Use:   "scroll-runner [url]",
		Short: "Scroll a collection page to the end and print the merged HTML",
		Long: `scroll-runner fetches a storefront collection page, starts an infinite
scroll session on it and keeps loading pages until the collection is
exhausted or --max-pages is reached. The merged document is written to
--output (default stdout). Send SIGHUP to re-detect the product grid.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := DefaultConfig()
			if configPath != "" {
				var err error
				if cfg, err = LoadConfig(configPath); err != nil {
					return err
				}
			}
			mergeFlags(cmd, &cfg, flags)
			if len(args) == 1 {
				cfg.URL = args[0]
			}

			logging.Setup(logging.Config{
				Level:  logging.LogLevel(cfg.Log.Level),
				Pretty: cfg.Log.Pretty,
				Output: cmd.ErrOrStderr(),
			})

			err := run(cmd.Context(), cfg, cmd.OutOrStdout())
			if err != nil {
				log.Error().Err(err).Msg("Run failed")
			}
			return err
		},
	}

	f := cmd.Flags()
	f.StringVarP(&configPath, "config", "c", "", "YAML config file")
	f.StringVarP(&flags.Output, "output", "o", "", "file to write the merged HTML to (default stdout)")
	f.IntVar(&flags.MaxPages, "max-pages", flags.MaxPages, "stop after this page index has been merged (0 = no limit)")
	f.IntVar(&flags.MaxFailures, "max-failures", flags.MaxFailures, "consecutive failed loads before giving up")
	f.DurationVar(&flags.ErrorDelay, "error-delay", flags.ErrorDelay, "how long a failed load blocks triggers")
	f.StringVar(&flags.RedisURL, "redis-url", "", "Redis URL for shared throttle state and page cache")
	f.StringVar(&flags.Fetch.UserAgent, "user-agent", flags.Fetch.UserAgent, "User-Agent header")
	f.DurationVar(&flags.Fetch.Timeout, "timeout", flags.Fetch.Timeout, "timeout per HTTP attempt")
	f.Float64Var(&flags.Fetch.RequestsPerSecond, "rps", flags.Fetch.RequestsPerSecond, "request pacing (0 = unpaced)")
	f.IntVar(&flags.Fetch.MaxAttempts, "max-attempts", flags.Fetch.MaxAttempts, "HTTP attempts per page")
	f.Bool("manual", false, "use the manual trigger instead of viewport loading")
	f.Bool("url-sync", false, "record the URL of every merged page")
	f.StringVar(&flags.Log.Level, "log-level", flags.Log.Level, "debug, info, warn, error or disabled")
	f.BoolVar(&flags.Log.Pretty, "pretty", false, "human-readable logs")

	return cmd
}

// mergeFlags copies explicitly set flags over cfg.
func mergeFlags(cmd *cobra.Command, cfg *Config, flags Config) {
	f := cmd.Flags()
	set := func(name string, apply func()) {
		if f.Changed(name) {
			apply()
		}
	}

	set("output", func() { cfg.Output = flags.Output })
	set("max-pages", func() { cfg.MaxPages = flags.MaxPages })
	set("max-failures", func() { cfg.MaxFailures = flags.MaxFailures })
	set("error-delay", func() { cfg.ErrorDelay = flags.ErrorDelay })
	set("redis-url", func() { cfg.RedisURL = flags.RedisURL })
	set("user-agent", func() { cfg.Fetch.UserAgent = flags.Fetch.UserAgent })
	set("timeout", func() { cfg.Fetch.Timeout = flags.Fetch.Timeout })
	set("rps", func() { cfg.Fetch.RequestsPerSecond = flags.Fetch.RequestsPerSecond })
	set("max-attempts", func() { cfg.Fetch.MaxAttempts = flags.Fetch.MaxAttempts })
	set("log-level", func() { cfg.Log.Level = flags.Log.Level })
	set("pretty", func() { cfg.Log.Pretty = flags.Log.Pretty })
	set("manual", func() {
		v, _ := f.GetBool("manual")
		cfg.Settings.ManualTrigger = &v
		if v {
			auto := false
			cfg.Settings.AutoScroll = &auto
		}
	})
	set("url-sync", func() {
		v, _ := f.GetBool("url-sync")
		cfg.Settings.URLSync = &v
	})
}

func run(ctx context.Context, cfg Config, stdout io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner, err := NewRunner(ctx, cfg)
	if err != nil {
		return err
	}
	defer runner.Close()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				runner.Notify("sighup")
			}
		}
	}()

	res, err := runner.Run(ctx)
	if err != nil {
		return err
	}

	out := stdout
	if cfg.Output != "" && cfg.Output != "-" {
		file, err := os.Create(cfg.Output)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer file.Close()
		out = file
	}
	if _, err := io.WriteString(out, res.HTML); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	for _, u := range res.URLs {
		log.Info().Str("url", u).Msg("Merged page")
	}
	return nil
}
