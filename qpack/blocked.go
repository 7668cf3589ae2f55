package qpack

import (
	"container/heap"
	"errors"
)

// ErrTooManyBlockedStreams is returned by BlockedStreams.Insert when
// admitting another blocked block would exceed max_risked_streams.
var ErrTooManyBlockedStreams = errors.New("qpack: too many blocked streams")

// BlockedBlock is a header block suspended because it references dynamic
// table entries that have not yet arrived over the encoder stream.
type BlockedBlock struct {
	StreamID   uint64
	LargestRef uint64
	// Resume is caller-supplied data (e.g. the BlockParser waiting on this
	// block) that the caller gets back from PopReady so it knows which
	// block to re-enter.
	Resume interface{}

	index int // heap bookkeeping
}

// blockedHeap is a container/heap.Interface keyed by LargestRef, so the
// root is always the block that can unblock soonest.
type blockedHeap []*BlockedBlock

func (h blockedHeap) Len() int { return len(h) }
func (h blockedHeap) Less(i, j int) bool {
	return h[i].LargestRef < h[j].LargestRef
}
func (h blockedHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *blockedHeap) Push(x interface{}) {
	b := x.(*BlockedBlock)
	b.index = len(*h)
	*h = append(*h, b)
}
func (h *blockedHeap) Pop() interface{} {
	old := *h
	n := len(old)
	b := old[n-1]
	old[n-1] = nil
	b.index = -1
	*h = old[:n-1]
	return b
}

// BlockedStreams tracks header blocks waiting on dynamic-table insertions,
// bounded by the decoder's configured max_risked_streams, per RFC 9204
// §2.1.2.
type BlockedStreams struct {
	heap    blockedHeap
	maxSize int
}

// NewBlockedStreams creates a tracker admitting at most maxSize
// simultaneously-blocked blocks.
func NewBlockedStreams(maxSize int) *BlockedStreams {
	bs := &BlockedStreams{maxSize: maxSize}
	heap.Init(&bs.heap)
	return bs
}

// Len reports how many blocks are currently blocked.
func (bs *BlockedStreams) Len() int { return bs.heap.Len() }

// Insert admits a new blocked block, failing if doing so would exceed
// max_risked_streams.
func (bs *BlockedStreams) Insert(b *BlockedBlock) error {
	if bs.heap.Len() >= bs.maxSize {
		return ErrTooManyBlockedStreams
	}
	heap.Push(&bs.heap, b)
	return nil
}

// PopReady removes and returns every blocked block whose LargestRef is now
// satisfied by insCount, in ascending LargestRef order, so the caller can
// resume each one's header-block parse.
func (bs *BlockedStreams) PopReady(insCount uint64) []*BlockedBlock {
	var ready []*BlockedBlock
	for bs.heap.Len() > 0 && bs.heap[0].LargestRef <= insCount {
		ready = append(ready, heap.Pop(&bs.heap).(*BlockedBlock))
	}
	return ready
}

// Remove drops a specific block before it becomes ready, e.g. because its
// stream was cancelled or reset.
func (bs *BlockedStreams) Remove(b *BlockedBlock) {
	if b.index < 0 || b.index >= bs.heap.Len() || bs.heap[b.index] != b {
		return
	}
	heap.Remove(&bs.heap, b.index)
}
