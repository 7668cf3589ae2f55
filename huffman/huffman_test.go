package huffman_test

import (
	"testing"

	"github.com/anhaoxiong/ls-qpack/bitio"
	"github.com/anhaoxiong/ls-qpack/huffman"
	"github.com/stvp/assert"
)

func roundTrip(t *testing.T, s string) {
	encoded := huffman.Encode(nil, []byte(s))
	assert.Equal(t, huffman.EncodedLen([]byte(s)), len(encoded))
	decoded, err := huffman.DecodeString(encoded)
	assert.Nil(t, err)
	assert.Equal(t, s, decoded)
}

func TestRoundTripCommonStrings(t *testing.T) {
	roundTrip(t, "")
	roundTrip(t, "www.example.com")
	roundTrip(t, "no-cache")
	roundTrip(t, "custom-key")
	roundTrip(t, "custom-value")
	roundTrip(t, "302")
	roundTrip(t, "private")
	roundTrip(t, "Mon, 21 Oct 2013 20:13:21 GMT")
	roundTrip(t, "https://www.example.com")
}

func TestRoundTripAllBytes(t *testing.T) {
	buf := make([]byte, 256)
	for i := range buf {
		buf[i] = byte(i)
	}
	roundTrip(t, string(buf))
}

func TestResumableAcrossChunks(t *testing.T) {
	full := []byte("www.example.com")
	encoded := huffman.Encode(nil, full)

	var st huffman.State
	var dst []byte
	r := bitio.NewReader(nil)
	for i := 0; i < len(encoded); i++ {
		r.Feed(encoded[i : i+1])
		var status huffman.Status
		dst, status = huffman.Decode(&st, r, dst)
		assert.True(t, status == huffman.NeedMore || status == huffman.Done)
	}
	assert.Equal(t, huffman.Done, st.Final())
	assert.Equal(t, string(full), string(dst))
}

func TestMalformedPadding(t *testing.T) {
	// A single zero byte can never end in valid padding -- the trailing
	// bits left over are zeros, and padding must be a prefix of the
	// (all-ones) EOS code.
	var st huffman.State
	r := bitio.NewReader([]byte{0x00})
	_, status := huffman.Decode(&st, r, nil)
	assert.Equal(t, huffman.NeedMore, status)
	assert.Equal(t, huffman.Error, st.Final())
}
