package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"spacescreen/config"
	"spacescreen/sdriver"
	"spacescreen/sdriver/spacedesk"

	"github.com/spf13/cobra"
)

func recordCmd(flags *sessionFlags) *cobra.Command {
	var (
		output   string
		duration time.Duration
		frames   int
		keyStart bool
	)

	cmd := &cobra.Command{
		Use:   "record [host]",
		Short: "Write the received H.264 stream to a file",
		Long: `Record the raw Annex-B access units of a spacedesk session.

The file plays with ffplay or mpv and can be fed back through
"spacescreen dummy --file".

Examples:
  spacescreen record 192.168.1.20 -o screen.h264
  spacescreen record 192.168.1.20 -o - --duration 10s | ffplay -`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load(cmd, args)
			if err != nil {
				return err
			}
			if err := requireServer(cfg); err != nil {
				return err
			}
			return runRecord(cmd.Context(), cfg, recordOptions{
				output:   output,
				duration: duration,
				frames:   frames,
				keyStart: keyStart,
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "screen.h264", `Output file, "-" for stdout`)
	cmd.Flags().DurationVar(&duration, "duration", 0, "Stop after this long (0 = until interrupted)")
	cmd.Flags().IntVarP(&frames, "frames", "n", 0, "Stop after this many frames (0 = no limit)")
	cmd.Flags().BoolVar(&keyStart, "key-start", true, "Skip frames until the first keyframe")
	return cmd
}

type recordOptions struct {
	output   string
	duration time.Duration
	frames   int
	keyStart bool
}

func runRecord(ctx context.Context, cfg *config.Config, opts recordOptions) error {
	out := os.Stdout
	if opts.output != "-" {
		f, err := os.Create(opts.output)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	if opts.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.duration)
		defer cancel()
	}

	d := spacedesk.New(cfg.Server.Session())
	defer d.Stop()
	if err := d.Start(ctx); err != nil {
		return err
	}
	p := d.Params()
	slog.Info("record: streaming", "width", p.Width, "height", p.Height, "quality", p.Quality, "output", opts.output)

	var (
		written, bytes int
		waiting        = opts.keyStart
	)
	for opts.frames == 0 || written < opts.frames {
		if ctx.Err() != nil {
			break
		}
		f, err := d.NextFrame(200 * time.Millisecond)
		if errors.Is(err, sdriver.ErrEmpty) {
			continue
		}
		if errors.Is(err, sdriver.ErrClosed) {
			if err := d.Err(); err != nil {
				return fmt.Errorf("record: session ended after %d frames: %w", written, err)
			}
			break
		}
		if err != nil {
			return err
		}
		if waiting && !f.IsKeyFrame {
			continue
		}
		waiting = false
		if _, err := out.Write(f.Data); err != nil {
			return fmt.Errorf("record: write: %w", err)
		}
		written++
		bytes += len(f.Data)
	}

	st := d.Stats()
	slog.Info("record: done", "frames", written, "bytes", bytes,
		"dropped", st.Reassembly.DroppedFrames, "evicted", st.Queue.Evicted)
	return nil
}
