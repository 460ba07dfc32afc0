package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"time"

	"spacescreen/config"
	"spacescreen/sdriver"
	"spacescreen/sdriver/spacedesk"

	"github.com/spf13/cobra"
)

func probeCmd(flags *sessionFlags) *cobra.Command {
	var listen time.Duration

	cmd := &cobra.Command{
		Use:   "probe [host]",
		Short: "Negotiate a session and report what the server granted",
		Long: `Connect, negotiate, receive for a short while and print the session
parameters and counters as JSON.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load(cmd, args)
			if err != nil {
				return err
			}
			if err := requireServer(cfg); err != nil {
				return err
			}
			return runProbe(cmd.Context(), cfg, listen)
		},
	}
	cmd.Flags().DurationVar(&listen, "listen-for", 2*time.Second, "How long to receive before reporting")
	return cmd
}

type probeReport struct {
	Server     string            `json:"server"`
	Params     spacedesk.Params  `json:"params"`
	MediaMeta  sdriver.MediaMeta `json:"media_meta"`
	Frames     int               `json:"frames"`
	KeyFrames  int               `json:"key_frames"`
	FirstFrame string            `json:"first_frame_after,omitempty"`
	Stats      spacedesk.Stats   `json:"stats"`
	Error      string            `json:"error,omitempty"`
}

func runProbe(ctx context.Context, cfg *config.Config, listen time.Duration) error {
	d := spacedesk.New(cfg.Server.Session())
	defer d.Stop()

	began := time.Now()
	if err := d.Start(ctx); err != nil {
		return err
	}
	report := probeReport{Server: cfg.Server.Address, Params: d.Params()}

	deadline := time.Now().Add(listen)
	for time.Now().Before(deadline) && ctx.Err() == nil {
		f, err := d.NextFrame(time.Until(deadline))
		if errors.Is(err, sdriver.ErrEmpty) {
			continue
		}
		if err != nil {
			break
		}
		if report.Frames == 0 {
			report.FirstFrame = f.ArrivedAt.Sub(began).Round(time.Millisecond).String()
		}
		report.Frames++
		if f.IsKeyFrame {
			report.KeyFrames++
		}
	}

	report.MediaMeta = d.MediaMeta()
	report.Stats = d.Stats()
	if err := d.Err(); err != nil {
		report.Error = err.Error()
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
