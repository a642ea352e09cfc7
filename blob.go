package fusion

// Blob is the ordered sequence of buffers sharing a stream-id, frame-id,
// and opaque context that flows across an edge. Blobs are constructed
// empty; buffers are pushed in order.
//
// Blobs are shared among ports: the same *Blob reachable from
// several in-ports after a fan-out carries Retain'd buffers so the
// ReleaseFunc installed on each buffer fires exactly once, when the last
// holder calls Release.
type Blob struct {
	StreamID string
	FrameID  uint64
	Context  int

	buffers []AnyBuffer
}

// NewBlob constructs an empty blob for the given stream/frame/context.
func NewBlob(streamID string, frameID uint64, context int) *Blob {
	return &Blob{StreamID: streamID, FrameID: frameID, Context: context}
}

// Push appends a buffer to the blob, in order.
func (b *Blob) Push(buf AnyBuffer) {
	b.buffers = append(b.buffers, buf)
}

// Buffers returns the blob's buffers in push order. Callers must not
// mutate the returned slice.
func (b *Blob) Buffers() []AnyBuffer {
	return b.buffers
}

// Len returns the number of buffers in the blob.
func (b *Blob) Len() int {
	return len(b.buffers)
}

// Clone clones each contained buffer via CloneAny, producing a blob whose
// buffers are distinct from the source's. Payloads are copied as Go
// values, so a slice, map or pointer payload still shares its backing
// data with the source.
func (b *Blob) Clone() *Blob {
	out := &Blob{
		StreamID: b.StreamID,
		FrameID:  b.FrameID,
		Context:  b.Context,
		buffers:  make([]AnyBuffer, len(b.buffers)),
	}
	for i, buf := range b.buffers {
		out.buffers[i] = buf.CloneAny()
	}
	return out
}

// Retain registers one additional owner on every buffer in the blob. Used
// by an out-port fanning this blob out to N downstream in-ports, which
// calls Retain N-1 times before distributing it.
func (b *Blob) Retain() {
	for _, buf := range b.buffers {
		buf.Retain()
	}
}

// Release drops one owner's reference from every buffer in the blob.
// Within the framework only InPort.Clear calls it, for blobs still queued;
// a blob handed out by GetBatchedInput is not released by the framework.
func (b *Blob) Release() {
	for _, buf := range b.buffers {
		buf.Release()
	}
}

// KeyStrings returns the key-string of every buffer in the blob, in order
// — the shape Protocol negotiation checks against an out-port's offered
// set.
func (b *Blob) KeyStrings() []string {
	out := make([]string, len(b.buffers))
	for i, buf := range b.buffers {
		out[i] = buf.KeyString()
	}
	return out
}
