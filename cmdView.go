package main

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"spacescreen/config"
	"spacescreen/metrics"
	"spacescreen/sdriver/spacedesk"
	sagent "spacescreen/streamAgent"
	"spacescreen/webservice"

	"github.com/cenkalti/backoff"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type viewFlags struct {
	listen    string
	advertise bool
	reconnect bool
}

func (f *viewFlags) bind(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVarP(&f.listen, "listen", "l", "", "Relay HTTP address (default :8079)")
	fl.BoolVar(&f.advertise, "advertise", false, "Announce the relay over mDNS")
	fl.BoolVar(&f.reconnect, "reconnect", false, "Start a new session when the current one fails")
}

func (f *viewFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("listen") {
		cfg.Relay.Listen = f.listen
	}
	if cmd.Flags().Changed("advertise") {
		cfg.Relay.Advertise = f.advertise
	}
	if cmd.Flags().Changed("reconnect") {
		cfg.Server.Reconnect = f.reconnect
	}
}

func viewCmd(flags *sessionFlags) *cobra.Command {
	view := &viewFlags{}
	cmd := &cobra.Command{
		Use:   "view [host]",
		Short: "Relay a spacedesk screen to browsers",
		Long: `Connect to a spacedesk server and serve the screen over HTTP.

Open the relay address in a browser to watch over WebRTC. Raw Annex-B
frames are also available on /screen/ws, session state on /api/session
and Prometheus metrics on /metrics.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runViewCmd(cmd, args, flags, view)
		},
	}
	view.bind(cmd)
	return cmd
}

func runViewCmd(cmd *cobra.Command, args []string, flags *sessionFlags, view *viewFlags) error {
	cfg, err := flags.load(cmd, args)
	if err != nil {
		return err
	}
	view.apply(cmd, cfg)
	if err := requireServer(cfg); err != nil {
		return err
	}
	return runView(cmd.Context(), cfg)
}

func runView(ctx context.Context, cfg *config.Config) error {
	agent, err := sagent.NewAgent(cfg.Relay.Agent())
	if err != nil {
		return err
	}
	defer agent.Close()

	var current atomic.Pointer[spacedesk.Driver]
	collector := metrics.NewCollector(func() (spacedesk.Stats, bool) {
		d := current.Load()
		if d == nil {
			return spacedesk.Stats{}, false
		}
		return d.Stats(), true
	}, agent.Stats)

	wm := webservice.New(webservice.WebMasterConfig{
		Listen:       cfg.Relay.Listen,
		Advertise:    cfg.Relay.Advertise,
		InstanceName: cfg.Relay.InstanceName,
	}, agent, current.Load, metrics.Handler(metrics.NewRegistry(collector)))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return wm.Serve(gctx)
	})
	g.Go(func() error {
		err := superviseSessions(gctx, cfg, func(ctx context.Context) (bool, error) {
			return relaySession(ctx, cfg, agent, &current)
		})
		if err != nil {
			return err
		}
		// the session is over; take the relay down with it
		return context.Canceled
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// relaySession runs one driver through the agent. started reports whether
// negotiation succeeded, which resets the reconnect backoff.
func relaySession(ctx context.Context, cfg *config.Config, agent *sagent.Agent, current *atomic.Pointer[spacedesk.Driver]) (started bool, err error) {
	d := spacedesk.New(cfg.Server.Session())
	defer d.Stop()
	if err := d.Start(ctx); err != nil {
		return false, err
	}
	current.Store(d)
	defer current.Store(nil)

	if err := agent.Run(ctx, d); err != nil {
		return true, err
	}
	return true, d.Err()
}

// superviseSessions calls run until it ends cleanly or ctx is done. With
// reconnect enabled failures are retried with exponential backoff.
func superviseSessions(ctx context.Context, cfg *config.Config, run func(context.Context) (bool, error)) error {
	if !cfg.Server.Reconnect {
		_, err := run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = cfg.Server.MaxReconnect

	op := func() error {
		started, err := run(ctx)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if started {
			b.Reset()
		}
		if err == nil {
			return backoff.Permanent(errors.New("session ended"))
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		slog.Warn("spacescreen: session failed, reconnecting", "err", err, "in", next.Round(time.Millisecond))
	}
	err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify)
	if ctx.Err() != nil {
		return nil
	}
	return err
}
