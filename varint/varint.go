// Package varint implements QPACK's prefix-integer encoding (RFC 9204 §4.1.1,
// which restates RFC 7541 §5.1), with a decoder that resumes across
// arbitrary byte boundaries rather than blocking for more input.
package varint

import "errors"

// Status is the outcome of a single decode step.
type Status int

const (
	// Done means value holds the fully decoded integer.
	Done Status = iota
	// NeedMore means the caller must Feed more bytes and call Continue again.
	NeedMore
	// Error means the encoding is malformed or would overflow 64 bits.
	Error
)

func (s Status) String() string {
	switch s {
	case Done:
		return "Done"
	case NeedMore:
		return "NeedMore"
	case Error:
		return "Error"
	default:
		return "unknown"
	}
}

// ErrOverflow names the condition Continue reports with an Error status:
// the encoded value would not fit in 64 bits. No function in this package
// returns it.
var ErrOverflow = errors.New("varint: integer overflow")

// ErrPrefix names the condition Start reports with an Error status: the
// requested prefix width is out of range. No function in this package
// returns it.
var ErrPrefix = errors.New("varint: prefix must be between 1 and 8 bits")

// maxContinuationBytes bounds a well-formed 64-bit value to at most 10
// continuation bytes (10 * 7 = 70 bits of headroom over the 64-bit value,
// the last of which can only legally carry 1 extra bit). See Continue.
const maxContinuationBytes = 10

// State holds resumable decode state for a single prefix-integer: the
// partially accumulated value, the current continuation shift (M in
// RFC 7541's notation), and how many continuation bytes have been
// consumed so far.
type State struct {
	val    uint64
	m      byte
	nread  byte
	active bool
}

// Reset clears the state so it can be reused for a new integer.
func (st *State) Reset() {
	*st = State{}
}

// Start begins decoding an integer with the given prefix width, given the
// value already extracted from the low prefixBits bits of the leading byte
// (those bits usually share a byte with flag bits the caller parses itself).
// If the prefix alone carries the whole value, Start returns it with Done.
// Otherwise it returns NeedMore and the caller must drive Continue with
// subsequent bytes.
func Start(st *State, prefixBits byte, prefixValue uint64) (uint64, Status) {
	if prefixBits < 1 || prefixBits > 8 {
		return 0, Error
	}
	ones := uint64(1)<<prefixBits - 1
	if prefixValue < ones {
		return prefixValue, Done
	}
	st.val = prefixValue
	st.m = 0
	st.nread = 0
	st.active = true
	return 0, NeedMore
}

// Continue feeds additional continuation bytes following a NeedMore result
// from Start or a prior Continue call. It returns how many bytes of buf it
// consumed, so the caller can advance its own cursor accordingly; on
// NeedMore, all of buf was consumed and more is required.
func Continue(st *State, buf []byte) (value uint64, consumed int, status Status) {
	if !st.active {
		return 0, 0, Error
	}
	for _, b := range buf {
		consumed++
		if st.nread >= maxContinuationBytes {
			return 0, consumed, Error
		}
		if st.m == 63 && (b > 1 || (b == 1 && (st.val>>63) == 1)) {
			return 0, consumed, Error
		}
		st.val += uint64(b&0x7f) << st.m
		st.nread++
		if b&0x80 == 0 {
			st.active = false
			return st.val, consumed, Done
		}
		st.m += 7
	}
	return 0, consumed, NeedMore
}

// Len returns the number of bytes Encode would use for (value, prefixBits).
func Len(value uint64, prefixBits byte) int {
	ones := uint64(1)<<prefixBits - 1
	if value < ones {
		return 1
	}
	n := 1
	v := value - ones
	for {
		n++
		v >>= 7
		if v == 0 {
			return n
		}
	}
}

// Encode appends the prefix-integer encoding of value to dst, OR-ing the
// prefix bits into *dst's first new byte with flagBits (bits outside the low
// prefixBits positions of flagBits, e.g. representation-type tag bits, are
// preserved). It returns the extended slice.
func Encode(dst []byte, flagBits byte, prefixBits byte, value uint64) []byte {
	ones := uint64(1)<<prefixBits - 1
	if value < ones {
		return append(dst, flagBits|byte(value))
	}
	dst = append(dst, flagBits|byte(ones))
	v := value - ones
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v > 0 {
			dst = append(dst, b|0x80)
		} else {
			dst = append(dst, b)
			return dst
		}
	}
}
