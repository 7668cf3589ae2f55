package qpack_test

import (
	"testing"

	"github.com/anhaoxiong/ls-qpack/bitio"
	"github.com/anhaoxiong/ls-qpack/dynamic"
	"github.com/anhaoxiong/ls-qpack/qpack"
	"github.com/stvp/assert"
)

// assembleBlock puts the header-block prefix ahead of the per-field data,
// the way a caller concatenates Encoder.EndHeader's output with the bytes
// accumulated across Encoder.Encode calls before handing the block to the
// transport.
func assembleBlock(prefix, data []byte) []byte {
	out := make([]byte, 0, len(prefix)+len(data))
	out = append(out, prefix...)
	out = append(out, data...)
	return out
}

func TestEncodeDecodeStaticAndLiteral(t *testing.T) {
	enc := qpack.NewEncoder(0, 0)
	assert.Nil(t, enc.StartHeader(1, 0))

	var encBuf, headBuf []byte
	var status qpack.Status

	encBuf, headBuf, status = enc.Encode(encBuf, headBuf, ":method", "GET", 0)
	assert.Equal(t, qpack.OK, status)

	encBuf, headBuf, status = enc.Encode(encBuf, headBuf, "x-custom", "v1", 0)
	assert.Equal(t, qpack.OK, status)

	prefix, n := enc.EndHeader(nil)
	assert.True(t, n > 0)

	block := assembleBlock(prefix, headBuf)

	table := dynamic.NewDecoderTable(0)
	parser := qpack.NewBlockParser(table)
	r := bitio.NewReader(block)
	status, err := parser.Parse(r)
	for status == qpack.NeedMore && !parser.AtFieldBoundary() {
		status, err = parser.Parse(r)
	}
	if status == qpack.NeedMore && parser.AtFieldBoundary() {
		parser.Finish()
		status = qpack.OK
	}
	assert.Nil(t, err)
	assert.Equal(t, qpack.OK, status)

	set := parser.Result()
	assert.Equal(t, 2, len(set.Fields))
	assert.Equal(t, ":method", set.Fields[0].Name)
	assert.Equal(t, "GET", set.Fields[0].Value)
	assert.Equal(t, "x-custom", set.Fields[1].Name)
	assert.Equal(t, "v1", set.Fields[1].Value)
}

func TestDecoderStreamInsertThenHeaderBlock(t *testing.T) {
	dec := qpack.NewDecoder(4096, 10)
	var delivered *qpack.HeaderSet
	dec.DoneCB = func(streamID uint64, set *qpack.HeaderSet) {
		delivered = set
	}

	enc := qpack.NewEncoder(4096, 10)
	assert.Nil(t, enc.StartHeader(1, 0))

	var encBuf, headBuf []byte
	var status qpack.Status
	encBuf, headBuf, status = enc.Encode(encBuf, headBuf, "x-custom", "v1", 0)
	assert.Equal(t, qpack.OK, status)

	if len(encBuf) > 0 {
		assert.Nil(t, dec.EncStreamIn(encBuf))
	}

	prefix, _ := enc.EndHeader(nil)
	block := assembleBlock(prefix, headBuf)

	offset := 0
	readFn := func(max int) []byte {
		if offset >= len(block) {
			return nil
		}
		end := offset + max
		if end > len(block) {
			end = len(block)
		}
		chunk := block[offset:end]
		offset = end
		return chunk
	}

	err := dec.HeaderIn(1, len(block), readFn)
	assert.Nil(t, err)
	assert.NotNil(t, delivered)
	if delivered != nil {
		assert.Equal(t, 1, len(delivered.Fields))
		assert.Equal(t, "x-custom", delivered.Fields[0].Name)
		assert.Equal(t, "v1", delivered.Fields[0].Value)
	}
}
