package main

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/anhaoxiong/ls-qpack/qpack"
)

// qifReader reads the QIF text format used for QPACK offline interop:
// https://github.com/quicwg/base-drafts/wiki/QPACK-Offline-Interop
//
// Each header block is a run of "name\tvalue" lines terminated by a blank
// line; lines starting with '#' are comments and are skipped.
type qifReader struct {
	r   *bufio.Reader
	eol bool
}

func newQIFReader(r io.Reader) *qifReader {
	return &qifReader{r: bufio.NewReader(r)}
}

func (qr *qifReader) readByte() (byte, error) {
	b, err := qr.r.ReadByte()
	if err == nil && qr.eol && b == '\n' {
		b, err = qr.r.ReadByte()
	}
	qr.eol = b == '\r'
	return b, err
}

func (qr *qifReader) readLine() (string, error) {
	var buf bytes.Buffer
	for {
		b, err := qr.readByte()
		if err != nil {
			return "", err
		}
		if b == '\r' || b == '\n' {
			return buf.String(), nil
		}
		buf.WriteByte(b)
	}
}

// readHeaderField reads one "name\tvalue" line. A nil, nil result means the
// line was empty, i.e. the current block is done.
func (qr *qifReader) readHeaderField() (*qpack.HeaderField, error) {
	line, err := qr.readLine()
	if err != nil {
		return nil, err
	}
	for len(line) > 0 && line[0] == '#' {
		line, err = qr.readLine()
		if err != nil {
			return nil, err
		}
	}
	if len(line) == 0 {
		return nil, nil
	}
	parts := splitOnce(line, '\t')
	return &qpack.HeaderField{Name: parts[0], Value: parts[1]}, nil
}

func splitOnce(s string, sep byte) [2]string {
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			return [2]string{s[:i], s[i+1:]}
		}
	}
	return [2]string{s, ""}
}

// ReadHeaderBlock reads a single header block, returning io.EOF once the
// input is exhausted with no further block pending.
func (qr *qifReader) ReadHeaderBlock() ([]qpack.HeaderField, error) {
	var block []qpack.HeaderField
	for {
		hf, err := qr.readHeaderField()
		if err == io.EOF {
			if len(block) == 0 {
				return nil, io.EOF
			}
			return block, nil
		}
		if err != nil {
			return nil, err
		}
		if hf == nil {
			return block, nil
		}
		block = append(block, *hf)
	}
}

// writeHeaderBlock writes a decoded block back out in the same text format,
// followed by the blank line that separates blocks.
func writeHeaderBlock(w io.Writer, fields []qpack.HeaderField) error {
	for _, hf := range fields {
		if _, err := fmt.Fprintf(w, "%s\t%s\n", hf.Name, hf.Value); err != nil {
			return err
		}
	}
	_, err := w.Write([]byte{'\n'})
	return err
}
