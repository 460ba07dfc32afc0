package dummy

import (
	"errors"
	"io"
	"os"

	"spacescreen/sdriver"
	"spacescreen/sdriver/comm"

	"github.com/pion/webrtc/v4/pkg/media/h264reader"
)

// LoadAccessUnits splits an Annex-B H.264 stream into access units. Parameter
// sets and SEI are attached to the next coded slice, and every slice closes
// an access unit, so single-slice encodes (ffmpeg -slices 1) work best.
func LoadAccessUnits(r io.Reader) ([][]byte, error) {
	nr, err := h264reader.NewReader(r)
	if err != nil {
		return nil, err
	}
	var (
		units [][]byte
		cur   []byte
	)
	for {
		nal, err := nr.NextNAL()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(nal.Data) == 0 {
			continue
		}
		cur = comm.AppendAnnexB(cur, nal.Data)
		if t := comm.NALType(nal.Data); t >= comm.NALTypeSlice && t <= comm.NALTypeIDR {
			units = append(units, cur)
			cur = nil
		}
	}
	if len(units) == 0 {
		return nil, errors.New("dummy: no coded slices in stream")
	}
	return units, nil
}

// LoadFile reads the access units of an .h264 file.
func LoadFile(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadAccessUnits(f)
}

// probeMediaMeta reads the resolution out of the first SPS.
func probeMediaMeta(units [][]byte) sdriver.MediaMeta {
	meta := sdriver.MediaMeta{VideoCodecID: "h264", FPS: 30}
	for _, au := range units {
		sps := comm.FindSPS(au)
		if sps == nil {
			continue
		}
		if info, err := comm.ParseSPS_H264(sps, true); err == nil {
			meta.Width = int(info.Width)
			meta.Height = int(info.Height)
		}
		break
	}
	return meta
}
