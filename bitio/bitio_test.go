package bitio_test

import (
	"testing"

	"github.com/anhaoxiong/ls-qpack/bitio"
	"github.com/stvp/assert"
)

func TestWriter(t *testing.T) {
	w := bitio.NewWriter()
	assert.Nil(t, w.WriteBit(0))
	assert.Equal(t, 0, w.Len())
	assert.Nil(t, w.WriteBit(1))
	assert.Equal(t, 0, w.Len())
	assert.Nil(t, w.WriteBits(1, 7))
	assert.Equal(t, []byte{0x40}, w.Bytes())
	w.Pad(0x55)
	assert.Equal(t, []byte{0x40, 0xaa}, w.Bytes())
}

func TestWriterAcrossBytes(t *testing.T) {
	w := bitio.NewWriter()
	assert.Nil(t, w.WriteBits(0xffff, 16))
	assert.Equal(t, []byte{0xff, 0xff}, w.Bytes())
	assert.Nil(t, w.WriteBits(0x5555, 16))
	assert.Equal(t, []byte{0xff, 0xff, 0x55, 0x55}, w.Bytes())
}

func TestWriteError(t *testing.T) {
	w := bitio.NewWriter()
	assert.NotNil(t, w.WriteBits(1, 58))
	assert.NotNil(t, w.WriteBits(2, 1))
}

func TestReader(t *testing.T) {
	r := bitio.NewReader([]byte{0x40, 0xaa, 0x01, 0x3f})
	b, err := r.ReadBit()
	assert.Nil(t, err)
	assert.Equal(t, uint8(0), b)
	b, err = r.ReadBit()
	assert.Nil(t, err)
	assert.Equal(t, uint8(1), b)
	v, err := r.ReadBits(7)
	assert.Nil(t, err)
	assert.Equal(t, uint64(1), v)
	v, err = r.ReadBits(7)
	assert.Nil(t, err)
	assert.Equal(t, uint64(0x55>>1), v)
	v, err = r.ReadBits(8)
	assert.Nil(t, err)
	assert.Equal(t, uint64(1), v)
	v, err = r.ReadBits(8)
	assert.Nil(t, err)
	assert.Equal(t, uint64(0x3f), v)
}

func TestReaderNeedMore(t *testing.T) {
	r := bitio.NewReader([]byte{0x80})
	v, err := r.ReadBits(9)
	assert.Equal(t, bitio.ErrNeedMore, err)
	assert.Equal(t, uint64(0), v)

	// Cursor must not have moved: a retry from scratch gets the same bit.
	b, err := r.ReadBit()
	assert.Nil(t, err)
	assert.Equal(t, uint8(1), b)

	r.Feed([]byte{0x01})
	v, err = r.ReadBits(8)
	assert.Nil(t, err)
	assert.Equal(t, uint64(0), v)
}

func TestReaderCompact(t *testing.T) {
	r := bitio.NewReader([]byte{0xff, 0x00})
	_, err := r.ReadByte()
	assert.Nil(t, err)
	r.Compact()
	b, err := r.ReadByte()
	assert.Nil(t, err)
	assert.Equal(t, byte(0), b)
}
