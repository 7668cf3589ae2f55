package qpack_test

import (
	"testing"

	"github.com/anhaoxiong/ls-qpack/qpack"
	"github.com/stvp/assert"
)

func TestBlockedStreamsOrdersByLargestRef(t *testing.T) {
	bs := qpack.NewBlockedStreams(10)
	assert.Nil(t, bs.Insert(&qpack.BlockedBlock{StreamID: 1, LargestRef: 5}))
	assert.Nil(t, bs.Insert(&qpack.BlockedBlock{StreamID: 2, LargestRef: 2}))
	assert.Nil(t, bs.Insert(&qpack.BlockedBlock{StreamID: 3, LargestRef: 8}))

	ready := bs.PopReady(2)
	assert.Equal(t, 1, len(ready))
	assert.Equal(t, uint64(2), ready[0].StreamID)

	ready = bs.PopReady(8)
	assert.Equal(t, 2, len(ready))
	assert.Equal(t, uint64(1), ready[0].StreamID)
	assert.Equal(t, uint64(3), ready[1].StreamID)
}

func TestBlockedStreamsCapacity(t *testing.T) {
	bs := qpack.NewBlockedStreams(1)
	assert.Nil(t, bs.Insert(&qpack.BlockedBlock{StreamID: 1, LargestRef: 1}))
	err := bs.Insert(&qpack.BlockedBlock{StreamID: 2, LargestRef: 2})
	assert.Equal(t, qpack.ErrTooManyBlockedStreams, err)
}

func TestBlockedStreamsRemove(t *testing.T) {
	bs := qpack.NewBlockedStreams(10)
	b := &qpack.BlockedBlock{StreamID: 1, LargestRef: 5}
	assert.Nil(t, bs.Insert(b))
	bs.Remove(b)
	assert.Equal(t, 0, bs.Len())
}
