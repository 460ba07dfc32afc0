package comm

// H.264 nal_unit_type values the client cares about.
const (
	NALTypeSlice = 1
	NALTypeIDR   = 5
	NALTypeSEI   = 6
	NALTypeSPS   = 7
	NALTypePPS   = 8
	NALTypeAUD   = 9
)

type SPSInfo struct {
	Width              uint32 // after cropping
	Height             uint32 // after cropping
	Profile            uint8
	ConstraintSetFlags uint8
	Level              string // e.g. "3.1"
	ChromaFormat       uint32 // 1=4:2:0
}
