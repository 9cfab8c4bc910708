package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/miradorstack/mirador-authlens/internal/dashboard"
	"github.com/miradorstack/mirador-authlens/internal/metrics"
	"github.com/miradorstack/mirador-authlens/internal/utils"
)

func newWatchCommand(load configLoader) *cobra.Command {
	var (
		baseURL  string
		interval time.Duration
		policy   string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll the analytics API and render a terminal dashboard",
		Long:  "Polls all four categories immediately and then on every interval. Press Enter to refresh on demand.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if baseURL == "" {
				baseURL = cfg.Dashboard.BaseURL
			}
			if interval <= 0 {
				interval = cfg.Dashboard.PollInterval
			}
			if policy == "" {
				policy = cfg.Dashboard.FailurePolicy
			}
			failurePolicy, err := dashboard.ParseFailurePolicy(policy)
			if err != nil {
				return err
			}

			logger := utils.NewLoggerTo(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.JSON)
			if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			poller := dashboard.NewPoller(dashboard.NewClient(baseURL, cfg.Dashboard.RequestTimeout), dashboard.PollerOptions{
				Interval: interval,
				Policy:   failurePolicy,
				Logger:   logger,
			})

			// Manual refreshes are limited to one per second; extra presses are dropped.
			go readRefreshes(ctx, cmd.InOrStdin(), poller, rate.NewLimiter(rate.Every(time.Second), 1))
			go render(ctx, cmd.OutOrStdout(), poller)

			logger.Info("watching analytics", slog.String("base_url", baseURL), slog.Duration("interval", interval), slog.String("policy", string(failurePolicy)))
			if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Analytics API base URL (defaults to dashboard.baseURL)")
	cmd.Flags().DurationVar(&interval, "interval", 0, "Poll interval (defaults to dashboard.pollInterval)")
	cmd.Flags().StringVar(&policy, "failure-policy", "", "clear or retain-stale (defaults to dashboard.failurePolicy)")
	return cmd
}

func render(ctx context.Context, out io.Writer, poller *dashboard.Poller) {
	clearScreen := isTerminal(out)
	fmt.Fprint(out, dashboard.Render(poller.View(), true))
	for {
		select {
		case <-ctx.Done():
			return
		case view := <-poller.Updates():
			if clearScreen {
				fmt.Fprint(out, "\033[H\033[2J")
			}
			fmt.Fprint(out, dashboard.Render(view, poller.ShowLoading()))
		}
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

// readRefreshes triggers a manual refresh for every line read from in.
func readRefreshes(ctx context.Context, in io.Reader, poller refresher, limiter *rate.Limiter) int {
	refreshed := 0
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return refreshed
		}
		if limiter.Allow() {
			poller.Refresh()
			refreshed++
		}
	}
	return refreshed
}

type refresher interface {
	Refresh()
}
