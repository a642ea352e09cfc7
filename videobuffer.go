package fusion

// ROI is an axis-aligned region of interest carried by a VideoFrameBuffer,
// e.g. a detector's candidate box prior to fusion.
type ROI struct {
	X, Y, Width, Height int
	Label               string
	Confidence          float32
}

// VideoFramePayload is the plane-based pixel payload carried by a
// VideoFrameBuffer, extending Buffer with the fields a video frame needs:
// frame-id, width, height, plane-count, per-plane stride/offset (up to 8
// planes), a drop-flag, and an ROI list.
type VideoFramePayload struct {
	FrameID    uint64
	Width      int
	Height     int
	PlaneCount int
	Stride     [8]int
	Offset     [8]int
	Drop       bool
	ROIs       []ROI
	Planes     [][]byte
}

// VideoFrameKeyString is the stable key-string negotiated by Protocol for
// decoded video frame buffers.
const VideoFrameKeyString = "video_frame"

// NewVideoFrameBuffer wraps a VideoFramePayload in a Buffer, tagging it
// with VideoFrameKeyString for protocol negotiation.
func NewVideoFrameBuffer(payload *VideoFramePayload, size int64, release ReleaseFunc[*VideoFramePayload]) *Buffer[*VideoFramePayload] {
	return NewBuffer(VideoFrameKeyString, payload, size, release)
}

// ROIBufferKeyString is the stable key-string for a buffer carrying a
// single cropped region of interest extracted from a parent video frame.
const ROIBufferKeyString = "roi"

// ROIPayload is the payload for an ROI buffer: a cropped region plus a
// back-reference to the frame it was extracted from.
type ROIPayload struct {
	ParentFrameID uint64
	ROI           ROI
	Planes        [][]byte
}

// NewROIBuffer wraps an ROIPayload in a Buffer tagged with
// ROIBufferKeyString.
func NewROIBuffer(payload *ROIPayload, size int64, release ReleaseFunc[*ROIPayload]) *Buffer[*ROIPayload] {
	return NewBuffer(ROIBufferKeyString, payload, size, release)
}
