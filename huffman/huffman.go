// Package huffman implements the canonical static Huffman code QPACK shares
// with HPACK (RFC 7541 Appendix B, 257 symbols including EOS), with an
// encoder built on a shift-register and a resumable decoder that walks a
// binary trie one bit at a time, so it can suspend at any bit boundary and
// resume when fed more input. The decoder does not use a nibble-indexed
// transition table.
package huffman

import (
	"errors"

	"github.com/anhaoxiong/ls-qpack/bitio"
)

// ErrMalformed is returned when the bit stream does not correspond to any
// valid Huffman encoding, or ends mid-symbol with non-padding bits.
var ErrMalformed = errors.New("huffman: malformed encoding")

// Encode appends the Huffman encoding of s to dst, padding the final
// partial byte (if any) with 1 bits, per RFC 7541 §5.2.
func Encode(dst []byte, s []byte) []byte {
	w := bitio.NewWriter()
	for _, c := range s {
		// WriteBits caps at 57 bits; every code here is <= 30.
		_ = w.WriteBits(uint64(huffmanCodes[c]), codeLengths[c])
	}
	w.Pad(0xff)
	return append(dst, w.Bytes()...)
}

// EncodedLen returns the number of bytes Encode would produce for s,
// without actually encoding it.
func EncodedLen(s []byte) int {
	bits := 0
	for _, c := range s {
		bits += int(codeLengths[c])
	}
	return (bits + 7) / 8
}

// decodeNode is one node of the binary trie walked by Decode. Walking one
// bit at a time rather than one nibble at a time is simpler to build
// correctly from the code table above, and no less resumable, since State
// just needs to remember which node it is sitting on.
type decodeNode struct {
	leaf     bool
	symbol   uint16
	children [2]*decodeNode
}

var decodeRoot = buildTrie()

func buildTrie() *decodeNode {
	root := &decodeNode{}
	for symbol := 0; symbol < 257; symbol++ {
		length := codeLengths[symbol]
		code := huffmanCodes[symbol]
		node := root
		for b := int(length) - 1; b >= 0; b-- {
			bit := (code >> uint(b)) & 1
			next := node.children[bit]
			if next == nil {
				next = &decodeNode{}
				node.children[bit] = next
			}
			node = next
		}
		node.leaf = true
		node.symbol = uint16(symbol)
	}
	return root
}

// State holds resumable decode state: the current trie position and how
// many consecutive 1 bits have been read since the last symbol (or the
// start), which is what lets Decode tell legitimate EOS padding apart from
// a truncated, malformed stream when the input ends.
type State struct {
	node        *decodeNode
	onesSinceSym byte
	started     bool
}

// Reset clears the state for a new string.
func (st *State) Reset() {
	*st = State{}
}

// Status is the outcome of a decode step.
type Status int

const (
	// Done means the reader hit a clean symbol boundary (root) with no
	// more bits available; Decode may still be called again if the
	// stream isn't actually over (more bits, possibly another string).
	Done Status = iota
	// NeedMore means the bit reader ran out of input mid-symbol.
	NeedMore
	// Error means the bits decoded do not correspond to a valid encoding.
	Error
)

// Decode consumes every bit r has, appending decoded bytes to dst. It
// returns Done if the input ends at a symbol boundary, NeedMore if it ends
// mid-symbol (which may still be valid padding; see Final), and Error on an
// invalid code or a decoded EOS. State must be zero-valued for a fresh
// string and is threaded across calls for the same string.
func Decode(st *State, r *bitio.Reader, dst []byte) ([]byte, Status) {
	if !st.started {
		st.node = decodeRoot
		st.started = true
	}
	for {
		bit, err := r.ReadBit()
		if err != nil {
			if st.node == decodeRoot {
				return dst, Done
			}
			return dst, NeedMore
		}
		next := st.node.children[bit]
		if next == nil {
			return dst, Error
		}
		st.node = next
		if bit == 1 {
			st.onesSinceSym++
		} else {
			st.onesSinceSym = 0
		}
		if st.node.leaf {
			if st.node.symbol == eosSymbol {
				return dst, Error
			}
			dst = append(dst, byte(st.node.symbol))
			st.node = decodeRoot
			st.onesSinceSym = 0
		}
	}
}

// Final reports whether ending the bit stream at the current state is
// legal: either cleanly at a symbol boundary, or mid-symbol with nothing
// but a short run of 1 bits (valid EOS padding, RFC 7541 §5.2).
func (st *State) Final() Status {
	if !st.started || st.node == decodeRoot {
		return Done
	}
	// The padding must be a true prefix of the EOS code (all 1s) and no
	// longer than 7 bits -- otherwise it isn't padding, it's a truncated
	// symbol.
	node := decodeRoot
	for depth := 0; depth <= 7; depth++ {
		if node == st.node {
			if int(st.onesSinceSym) == depth {
				return Done
			}
			return Error
		}
		if node == nil {
			return Error
		}
		node = node.children[1]
	}
	return Error
}

// DecodeString is a convenience wrapper for the common case: the whole
// Huffman-coded value is already available as a single byte slice.
func DecodeString(s []byte) (string, error) {
	var st State
	r := bitio.NewReader(s)
	dst, status := Decode(&st, r, nil)
	if status == Error {
		return "", ErrMalformed
	}
	if f := st.Final(); f != Done {
		return "", ErrMalformed
	}
	return string(dst), nil
}
