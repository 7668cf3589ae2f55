// Package qpack implements RFC 9204 QPACK header compression for HTTP/3:
// an encoder and decoder sharing a dynamic table whose updates travel over
// a dedicated encoder stream, separate from the header blocks carried on
// request/response streams. Everything here is driven synchronously by a
// caller's event loop -- there is no goroutine or blocking I/O anywhere in
// this package; suspension can happen mid-instruction rather than only at
// an io.Reader boundary.
package qpack

import (
	"errors"

	"github.com/anhaoxiong/ls-qpack/statictable"
)

// HeaderField is one name/value pair passed to or returned from the codec.
// NeverIndex mirrors HPACK/QPACK's "never index" (N) bit: when a field is
// encoded with the NoIndex flag, the encoder does not insert it into the
// dynamic table and sets the N bit on its literal representation. Its value
// may still be Huffman-coded.
type HeaderField struct {
	Name       string
	Value      string
	NeverIndex bool
}

// Flags are the optional per-field encode hints understood by Encoder.Encode.
type Flags uint8

// NoIndex requests that this field never be inserted into the dynamic
// table, regardless of what the encoder's own heuristics would otherwise
// decide -- the equivalent of RFC 7541's "never indexed" literal, used for
// header fields whose value the application considers sensitive.
const NoIndex Flags = 1 << 0

// Status is the outcome of an Encoder.Encode or Decoder parser step.
type Status int

const (
	// OK means the call completed: the field was encoded and Encode may be
	// called for the next one (encoder), or the header block is finished
	// (BlockParser.Parse, after Finish).
	OK Status = iota
	// NeedMore means the decoder ran out of input and must be re-entered
	// once more bytes are available; no state was lost.
	NeedMore
	// Blocked means a decoder header block is waiting on dynamic-table
	// insertions that have not yet arrived over the encoder stream.
	Blocked
	// NoBufEnc means the encoder-stream output buffer was too small to
	// hold the representation chosen for this field; nothing was written.
	NoBufEnc
	// NoBufHead means the header-block output buffer was too small.
	NoBufHead
)

// Errors surfaced by the fatal (protocol) class described for this codec:
// these always terminate decoding of the stream/connection they occurred
// on, as opposed to Status values, which just mean "try again later."
var (
	ErrOverflow       = errors.New("qpack: 64-bit integer overflow")
	ErrHuffman        = errors.New("qpack: malformed Huffman encoding")
	ErrBadInstruction = errors.New("qpack: invalid instruction opcode")
	ErrBadIndex       = errors.New("qpack: reference to non-existent table entry")
	ErrCapacity       = errors.New("qpack: new capacity exceeds max capacity")
	ErrRequiredInsertCount = errors.New("qpack: required insert count exceeds table bound")
	ErrTruncated      = errors.New("qpack: unexpected end of instruction")
	ErrHeaderInUse    = errors.New("qpack: a header block is already open on this encoder")
	ErrUnknownStream  = errors.New("qpack: unknown stream id")
)

const maxEntries2xCeiling = 1 << 32 // sanity backstop, not a wire limit

// StaticLookup exposes statictable.Lookup under the name the rest of this
// package's comments use; kept as a thin wrapper so callers outside this
// package only need to import one table abstraction.
func StaticLookup(name, value string) (statictable.Match, int) {
	return statictable.Lookup(name, value)
}
