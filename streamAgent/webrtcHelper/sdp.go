package webrtcHelper

import (
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

// HandleSDP answers a browser offer with a peer that sends vTrack. ICE
// gathering completes before returning so the answer needs no trickle.
func HandleSDP(sdp string, vTrack *webrtc.TrackLocalStaticSample, iceServers []string) (string, *webrtc.PeerConnection, *webrtc.RTPSender, error) {
	offer := webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  sdp,
	}

	m, err := CreateMediaEngine()
	if err != nil {
		return "", nil, nil, err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(m))
	config := webrtc.Configuration{}
	if len(iceServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	pc, err := api.NewPeerConnection(config)
	if err != nil {
		return "", nil, nil, fmt.Errorf("webrtc: new peer connection: %w", err)
	}
	fail := func(step string, err error) (string, *webrtc.PeerConnection, *webrtc.RTPSender, error) {
		pc.Close()
		return "", nil, nil, fmt.Errorf("webrtc: %s: %w", step, err)
	}

	sender, err := pc.AddTrack(vTrack)
	if err != nil {
		return fail("add track", err)
	}
	if err := pc.SetRemoteDescription(offer); err != nil {
		return fail("set remote description", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fail("create answer", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return fail("set local description", err)
	}
	<-gatherComplete

	return pc.LocalDescription().SDP, pc, sender, nil
}

var h264Feedback = []webrtc.RTCPFeedback{
	{Type: "goog-remb"},
	{Type: "ccm", Parameter: "fir"},
	{Type: "nack", Parameter: "pli"},
}

// CreateMediaEngine registers H.264 only. Constrained baseline comes first;
// high profile covers servers that encode with it.
func CreateMediaEngine() (*webrtc.MediaEngine, error) {
	m := &webrtc.MediaEngine{}
	codecs := []struct {
		fmtp string
		pt   webrtc.PayloadType
	}{
		{"level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f", 102},
		{"level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=640032", 112},
	}
	for _, c := range codecs {
		err := m.RegisterCodec(webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:     webrtc.MimeTypeH264,
				ClockRate:    90000,
				SDPFmtpLine:  c.fmtp,
				RTCPFeedback: h264Feedback,
			},
			PayloadType: c.pt,
		}, webrtc.RTPCodecTypeVideo)
		if err != nil {
			return nil, fmt.Errorf("webrtc: register H264 (%d): %w", c.pt, err)
		}
	}
	return m, nil
}

// SetSDPBandwidth inserts b=AS:<kbps> after the video m-line, lifting the
// browser's default cap.
func SetSDPBandwidth(sdp string, bandwidth int) string {
	lines := strings.Split(sdp, "\r\n")
	var newLines []string
	for _, line := range lines {
		newLines = append(newLines, line)
		if strings.HasPrefix(line, "m=video") {
			newLines = append(newLines, fmt.Sprintf("b=AS:%d", bandwidth))
		}
	}
	return strings.Join(newLines, "\r\n")
}
