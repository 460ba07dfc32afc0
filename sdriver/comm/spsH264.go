package comm

import (
	"bytes"
	"errors"
	"fmt"
)

var ErrNotSPS = errors.New("comm: not an H.264 SPS")

// ParseSPS_H264 reads the resolution out of an SPS NAL unit (header byte
// included, start code excluded). Cropping is applied when readCroppingFlag
// is set; otherwise the macroblock aligned size is returned.
func ParseSPS_H264(sps []byte, readCroppingFlag bool) (SPSInfo, error) {
	var info SPSInfo
	if len(sps) < 4 || NALType(sps) != NALTypeSPS {
		return info, ErrNotSPS
	}

	br := NewBitReader(RemoveEmulationPreventionBytes(sps[1:]))
	var err error
	ue := func() uint32 {
		if err != nil {
			return 0
		}
		var v uint32
		v, err = br.ReadExpGolomb()
		return v
	}
	u := func(n uint) uint32 {
		if err != nil {
			return 0
		}
		var v uint32
		v, err = br.ReadBits(n)
		return v
	}

	profileIdc := uint8(u(8))
	info.Profile = profileIdc
	info.ConstraintSetFlags = uint8(u(8))
	info.Level = levelToString(uint8(u(8)))
	ue() // seq_parameter_set_id

	info.ChromaFormat = 1
	switch profileIdc {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134, 135:
		info.ChromaFormat = ue()
		if info.ChromaFormat == 3 {
			u(1) // separate_colour_plane_flag
		}
		ue() // bit_depth_luma_minus8
		ue() // bit_depth_chroma_minus8
		u(1) // qpprime_y_zero_transform_bypass_flag
		if u(1) == 1 {
			lists := 8
			if info.ChromaFormat == 3 {
				lists = 12
			}
			for i := 0; i < lists && err == nil; i++ {
				if u(1) == 1 {
					size := 16
					if i >= 6 {
						size = 64
					}
					err = skipScalingList(br, size)
				}
			}
		}
	}

	ue() // log2_max_frame_num_minus4
	switch ue() {
	case 0:
		ue() // log2_max_pic_order_cnt_lsb_minus4
	case 1:
		u(1) // delta_pic_order_always_zero_flag
		if err == nil {
			_, err = br.ReadSignedExpGolomb() // offset_for_non_ref_pic
		}
		if err == nil {
			_, err = br.ReadSignedExpGolomb() // offset_for_top_to_bottom_field
		}
		cycle := ue()
		for i := uint32(0); i < cycle && err == nil; i++ {
			_, err = br.ReadSignedExpGolomb()
		}
	}
	ue() // max_num_ref_frames
	u(1) // gaps_in_frame_num_value_allowed_flag

	widthMbs := ue() + 1
	heightMapUnits := ue() + 1
	frameMbsOnly := u(1)
	if frameMbsOnly == 0 {
		u(1) // mb_adaptive_frame_field_flag
	}
	u(1) // direct_8x8_inference_flag
	cropping := u(1)
	if err != nil {
		return info, fmt.Errorf("comm: sps: %w", err)
	}

	info.Width = widthMbs * 16
	info.Height = heightMapUnits * 16 * (2 - frameMbsOnly)

	if readCroppingFlag && cropping == 1 {
		left, right, top, bottom := ue(), ue(), ue(), ue()
		if err != nil {
			return info, fmt.Errorf("comm: sps cropping: %w", err)
		}
		cropX, cropY := uint32(1), 2-frameMbsOnly
		if info.ChromaFormat == 1 || info.ChromaFormat == 2 {
			cropX = 2
		}
		if info.ChromaFormat == 1 {
			cropY *= 2
		}
		info.Width -= (left + right) * cropX
		info.Height -= (top + bottom) * cropY
	}
	return info, nil
}

func skipScalingList(br *BitReader, size int) error {
	last, next := int32(8), int32(8)
	for j := 0; j < size; j++ {
		if next != 0 {
			delta, err := br.ReadSignedExpGolomb()
			if err != nil {
				return err
			}
			next = (last + delta + 256) % 256
		}
		if next != 0 {
			last = next
		}
	}
	return nil
}

func levelToString(level uint8) string {
	if level%10 == 0 {
		return fmt.Sprintf("%d", level/10)
	}
	return fmt.Sprintf("%d.%d", level/10, level%10)
}

// RemoveEmulationPreventionBytes turns NAL payload bytes into RBSP by
// dropping the 0x03 in every 00 00 03 sequence.
func RemoveEmulationPreventionBytes(data []byte) []byte {
	if !bytes.Contains(data, []byte{0, 0, 3}) {
		return data
	}
	buf := make([]byte, 0, len(data))
	zeros := 0
	for _, b := range data {
		if zeros >= 2 && b == 3 {
			zeros = 0
			continue
		}
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
		buf = append(buf, b)
	}
	return buf
}
