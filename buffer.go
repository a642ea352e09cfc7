package fusion

import "sync/atomic"

// AnyBuffer is the type-erased view of a Buffer[T] that the graph
// plumbing (Blob, Port, Protocol) operates on. Concrete node
// implementations type-assert back to *Buffer[T] for their own payload
// type: callers test and cast rather than rely on inheritance dispatch.
type AnyBuffer interface {
	KeyString() string
	ClassID() int64
	Tag() uint64
	SetTag(uint64)
	Size() int64
	Meta() *Metadata
	AnyPayload() any
	Retain()
	Release()
	CloneAny() AnyBuffer
}

// AnyPayload returns the payload as an any, for code that only needs to
// move a Buffer[T] through the graph without knowing T.
func (b *Buffer[T]) AnyPayload() any { return b.payload }

// CloneAny satisfies AnyBuffer by cloning without a payload-specific deep
// copy function; node implementations that need a deep payload copy
// should type-assert and call Clone directly.
func (b *Buffer[T]) CloneAny() AnyBuffer { return b.Clone(nil) }

// ReleaseFunc is invoked exactly once, when the last shared owner of a
// Buffer drops it. It is the hook external collaborators (a VAAPI surface
// pool, a GPU inference output arena) use to reclaim the payload.
type ReleaseFunc[T any] func(T)

// Buffer is the ownership-typed, type-erased-at-the-package-boundary
// payload container. Its payload type is fixed at construction and it
// is never moved after construction; only its payload may be replaced
// wholesale via Set.
//
// Buffers are shared: the same *Buffer[T] may be reachable from more than
// one in-flight Blob once an out-port fans a blob out to several in-ports.
// refs tracks outstanding owners so ReleaseFunc runs exactly once, on the
// transition from one remaining owner to zero.
type Buffer[T any] struct {
	payload   T
	release   ReleaseFunc[T]
	size      int64
	tag       uint64
	keyString string
	classID   int64
	meta      *Metadata
	refs      atomic.Int32
}

// NewBuffer constructs a Buffer with a single owner. release may be nil,
// in which case dropping the buffer is a no-op.
func NewBuffer[T any](keyString string, payload T, size int64, release ReleaseFunc[T]) *Buffer[T] {
	b := &Buffer[T]{
		payload:   payload,
		release:   release,
		size:      size,
		keyString: keyString,
		classID:   bufferClassCounter.next(),
		meta:      newMetadata(),
	}
	b.refs.Store(1)
	return b
}

// KeyString returns the buffer's stable per-class identifier, used by
// Protocol negotiation.
func (b *Buffer[T]) KeyString() string { return b.keyString }

// ClassID is the per-process unique integer companion to KeyString.
func (b *Buffer[T]) ClassID() int64 { return b.classID }

// Tag returns the buffer's unsigned user tag.
func (b *Buffer[T]) Tag() uint64 { return b.tag }

// SetTag sets the buffer's unsigned user tag. Only the owning worker may
// call this before the buffer is published to a port.
func (b *Buffer[T]) SetTag(tag uint64) { b.tag = tag }

// Size returns the buffer's reported size in bytes.
func (b *Buffer[T]) Size() int64 { return b.size }

// Payload returns the buffer's payload. Callers must not mutate it once
// the buffer has been published via sendOutput.
func (b *Buffer[T]) Payload() T { return b.payload }

// Meta returns the buffer's metadata map.
func (b *Buffer[T]) Meta() *Metadata { return b.meta }

// Set replaces the payload, invoking the previous release action exactly
// once.
func (b *Buffer[T]) Set(payload T, release ReleaseFunc[T]) {
	prev, prevRelease := b.payload, b.release
	b.payload, b.release = payload, release
	if prevRelease != nil {
		prevRelease(prev)
	}
}

// Clone produces an independent buffer with a deep-cloned holder and
// copied metadata map. The clone starts with its own
// single-owner refcount; it shares no lifetime with the source.
func (b *Buffer[T]) Clone(copyPayload func(T) T) *Buffer[T] {
	payload := b.payload
	if copyPayload != nil {
		payload = copyPayload(b.payload)
	}
	out := &Buffer[T]{
		payload:   payload,
		release:   b.release,
		size:      b.size,
		tag:       b.tag,
		keyString: b.keyString,
		classID:   b.classID,
		meta:      b.meta.clone(),
	}
	out.refs.Store(1)
	return out
}

// Retain registers an additional owner. Called by an out-port when it fans
// a blob out to more than one downstream in-port.
func (b *Buffer[T]) Retain() {
	b.refs.Add(1)
}

// Release drops one owner's reference. When the last owner drops, the
// release action installed via NewBuffer/Set runs exactly once.
func (b *Buffer[T]) Release() {
	if b.refs.Add(-1) == 0 {
		if b.release != nil {
			b.release(b.payload)
		}
	}
}
