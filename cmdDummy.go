package main

import (
	"errors"
	"log/slog"
	"time"

	"spacescreen/config"
	"spacescreen/sdriver/dummy"

	"github.com/spf13/cobra"
)

func dummyCmd(flags *sessionFlags) *cobra.Command {
	var (
		listen    string
		file      string
		loop      bool
		fps       int
		grant     string
		chunkSize int
		ping      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "dummy",
		Short: "Run a simulated spacedesk server",
		Long: `Serve an Annex-B H.264 file over the spacedesk protocol, for trying
the client without a Windows machine.

Examples:
  ffmpeg -i in.mp4 -c:v libx264 -bf 0 -slices 1 -g 60 sample.h264
  spacescreen dummy --file sample.h264 --loop
  spacescreen dummy --file sample.h264 --grant 1280x720 --chunk-size 16384`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(flags.debug)
			if file == "" {
				return errors.New("dummy: --file is required")
			}
			frames, err := dummy.LoadFile(file)
			if err != nil {
				return err
			}

			cfg := dummy.Config{
				Frames:       frames,
				Loop:         loop,
				ChunkSize:    chunkSize,
				PingInterval: ping,
			}
			if fps > 0 {
				cfg.Interval = time.Second / time.Duration(fps)
			}
			if grant != "" {
				if cfg.GrantWidth, cfg.GrantHeight, err = config.ParseResolution(grant); err != nil {
					return err
				}
			}

			srv, err := dummy.New(cfg)
			if err != nil {
				return err
			}
			if err := srv.Listen(listen); err != nil {
				return err
			}
			meta := srv.MediaMeta()
			slog.Info("dummy: serving", "file", file, "frames", len(frames), "width", meta.Width, "height", meta.Height)

			<-cmd.Context().Done()
			srv.Close()
			st := srv.Stats()
			slog.Info("dummy: stopped", "sessions", st.Sessions, "frames", st.FramesSent, "acks", st.Acks)
			return nil
		},
	}

	cmd.Flags().StringVar(&listen, "listen", ":28252", "Address to serve on")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Annex-B H.264 file to stream")
	cmd.Flags().BoolVar(&loop, "loop", false, "Restart the file when it ends")
	cmd.Flags().IntVar(&fps, "fps", 30, "Frames per second")
	cmd.Flags().StringVar(&grant, "grant", "", "Resolution to grant instead of the requested one, WxH")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "Split frames into indexed chunks of this size")
	cmd.Flags().DurationVar(&ping, "ping", 0, "Send PING at this interval")
	return cmd
}
