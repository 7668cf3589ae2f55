package varint_test

import (
	"testing"

	"github.com/anhaoxiong/ls-qpack/varint"
	"github.com/stvp/assert"
)

func decodeAll(prefixBits byte, buf []byte) (uint64, varint.Status) {
	var st varint.State
	value, status := varint.Start(&st, prefixBits, uint64(buf[0]&((1<<prefixBits)-1)))
	if status != varint.NeedMore {
		return value, status
	}
	value, _, status = varint.Continue(&st, buf[1:])
	return value, status
}

func TestSmallValueFitsInPrefix(t *testing.T) {
	v, status := decodeAll(5, []byte{10})
	assert.Equal(t, varint.Done, status)
	assert.Equal(t, uint64(10), v)
}

func TestRFC7541Example(t *testing.T) {
	// 1337 encoded with a 5-bit prefix, per RFC 7541 appendix C.1.2.
	v, status := decodeAll(5, []byte{0x1f, 0x9a, 0x0a})
	assert.Equal(t, varint.Done, status)
	assert.Equal(t, uint64(1337), v)
}

func TestRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 62, 63, 64, 1337, 1 << 20, 1<<62 - 1}
	for _, prefix := range []byte{3, 4, 5, 6, 7, 8} {
		for _, v := range values {
			buf := varint.Encode(nil, 0, prefix, v)
			assert.Equal(t, varint.Len(v, prefix), len(buf))
			got, status := decodeAll(prefix, buf)
			assert.Equal(t, varint.Done, status)
			assert.Equal(t, v, got)
		}
	}
}

func TestResumableAcrossChunks(t *testing.T) {
	buf := varint.Encode(nil, 0, 5, 1337)
	var st varint.State
	_, status := varint.Start(&st, 5, uint64(buf[0]&0x1f))
	assert.Equal(t, varint.NeedMore, status)

	// Feed one continuation byte at a time.
	_, consumed, status := varint.Continue(&st, buf[1:2])
	assert.Equal(t, 1, consumed)
	assert.Equal(t, varint.NeedMore, status)

	v, consumed, status := varint.Continue(&st, buf[2:3])
	assert.Equal(t, 1, consumed)
	assert.Equal(t, varint.Done, status)
	assert.Equal(t, uint64(1337), v)
}

func TestOverflow(t *testing.T) {
	// 11 continuation bytes, all with the continuation bit set: can never
	// terminate within the 64-bit budget.
	buf := append([]byte{0x1f}, make([]byte, 11)...)
	for i := 1; i < len(buf); i++ {
		buf[i] = 0xff
	}
	_, status := decodeAll(5, buf)
	assert.Equal(t, varint.Error, status)
}

func TestBoundary63rdBit(t *testing.T) {
	// 2^64-1 minus the 8-bit prefix's 255: its tenth continuation byte
	// carries bit 63, right at the 64-bit overflow boundary.
	buf := varint.Encode(nil, 0, 8, 1<<64-1-255)
	_, status := decodeAll(8, buf)
	assert.Equal(t, varint.Done, status)
}
