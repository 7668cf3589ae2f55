package main

import (
	"bytes"
	"io"
	"testing"

	"github.com/stvp/assert"
)

func TestQIFReaderParsesBlocks(t *testing.T) {
	src := "# comment\n:method\tGET\n:path\t/\n\nx-custom\tv1\n\n"
	qr := newQIFReader(bytes.NewBufferString(src))

	block, err := qr.ReadHeaderBlock()
	assert.Nil(t, err)
	assert.Equal(t, 2, len(block))
	assert.Equal(t, ":method", block[0].Name)
	assert.Equal(t, "GET", block[0].Value)
	assert.Equal(t, ":path", block[1].Name)
	assert.Equal(t, "/", block[1].Value)

	block, err = qr.ReadHeaderBlock()
	assert.Nil(t, err)
	assert.Equal(t, 1, len(block))
	assert.Equal(t, "x-custom", block[0].Name)

	_, err = qr.ReadHeaderBlock()
	assert.Equal(t, io.EOF, err)
}

func TestQIFReaderEmptyInputIsEOF(t *testing.T) {
	qr := newQIFReader(bytes.NewBufferString(""))
	_, err := qr.ReadHeaderBlock()
	assert.Equal(t, io.EOF, err)
}

func TestFrameRoundtrip(t *testing.T) {
	var buf bytes.Buffer
	fw := newFrameWriter(&buf)
	assert.Nil(t, fw.WriteFrame(0, []byte{0x01, 0x02}))
	assert.Nil(t, fw.WriteFrame(7, []byte{0xff}))

	fr := newFrameReader(&buf)
	id, payload, err := fr.ReadFrame()
	assert.Nil(t, err)
	assert.Equal(t, uint64(0), id)
	assert.Equal(t, []byte{0x01, 0x02}, payload)

	id, payload, err = fr.ReadFrame()
	assert.Nil(t, err)
	assert.Equal(t, uint64(7), id)
	assert.Equal(t, []byte{0xff}, payload)

	_, _, err = fr.ReadFrame()
	assert.Equal(t, io.EOF, err)
}
