package sdriver

import "time"

// VideoFrame is one compressed H.264 access unit in Annex-B form.
type VideoFrame struct {
	Data        []byte
	Sequence    uint32 // server group marker when HasSequence, else a local counter
	HasSequence bool
	ArrivedAt   time.Time
	Chunks      int // wire messages the frame was assembled from
	IsKeyFrame  bool
}

type MediaMeta struct {
	VideoCodecID string `json:"video_codec_id"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	FPS          int    `json:"fps"`
}
