package sagent

import (
	"log/slog"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
)

const keyFrameRequestInterval = time.Second

// HandleRTCP answers picture loss reports by replaying the cached keyframe.
// The spacedesk protocol has no way to ask the server for one.
func (sa *Agent) HandleRTCP(rtpSender *webrtc.RTPSender) {
	rtcpBuf := make([]byte, 1500)
	var lastRequest time.Time
	for {
		n, _, err := rtpSender.Read(rtcpBuf)
		if err != nil {
			return
		}
		packets, err := rtcp.Unmarshal(rtcpBuf[:n])
		if err != nil {
			continue
		}
		for _, p := range packets {
			switch p.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				if time.Since(lastRequest) < keyFrameRequestInterval {
					continue
				}
				lastRequest = time.Now()
				if sa.hub.replayKey(sa.trackViewer) {
					slog.Debug("sagent: keyframe replayed for picture loss")
				}
			}
		}
	}
}
