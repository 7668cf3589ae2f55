package qpack

import (
	"github.com/anhaoxiong/ls-qpack/bitio"
	"github.com/anhaoxiong/ls-qpack/dynamic"
	"github.com/anhaoxiong/ls-qpack/huffman"
	"github.com/anhaoxiong/ls-qpack/varint"
)

// DynTableTarget is the minimal surface EncStreamParser needs from a
// decoder-side table: insert, duplicate, and resize. *dynamic.DecoderTable
// satisfies it directly.
type DynTableTarget interface {
	Insert(name, value string) (*dynamic.Entry, error)
	Duplicate(absIndex uint64) (*dynamic.Entry, error)
	SetCapacity(capacity uint64)
	Get(absIndex uint64) (*dynamic.Entry, bool)
}

// encStringState decodes one length-prefixed, optionally Huffman-coded
// string: an H bit, an N-bit-prefix integer length, then exactly that many
// raw bytes (Huffman-coded or not). Per the wire format, the length
// integer always ends on a byte boundary, so the payload bytes can always
// be pulled out with a single byte-aligned read once the length is known.
type encStringState struct {
	phase      int // 0: reading H bit + length, 1: reading payload bytes
	lenState   varint.State
	prefixBits byte
	huffman    bool
	remaining  int
}

func (s *encStringState) reset(prefixBits byte) {
	*s = encStringState{prefixBits: prefixBits}
}

func (s *encStringState) step(r *bitio.Reader) (string, Status, error) {
	if s.phase == 0 {
		hbit, err := r.ReadBit()
		if err != nil {
			return "", NeedMore, nil
		}
		s.huffman = hbit == 1
		firstVal, err := r.ReadBits(s.prefixBits)
		if err != nil {
			return "", NeedMore, nil
		}
		v, status := varint.Start(&s.lenState, s.prefixBits, firstVal)
		for status == varint.NeedMore {
			b, err := r.ReadByte()
			if err != nil {
				return "", NeedMore, nil
			}
			v, _, status = varint.Continue(&s.lenState, []byte{b})
		}
		if status == varint.Error {
			return "", OK, ErrOverflow
		}
		s.remaining = int(v)
		s.phase = 1
	}
	payload, err := r.ReadBytes(s.remaining)
	if err != nil {
		return "", NeedMore, nil
	}
	if !s.huffman {
		return string(payload), OK, nil
	}
	decoded, derr := huffman.DecodeString(payload)
	if derr != nil {
		return "", OK, ErrHuffman
	}
	return decoded, OK, nil
}

// encInstKind distinguishes the four encoder-stream instructions by their
// leading bit pattern, per RFC 9204 §4.3.
type encInstKind int

const (
	instNone encInstKind = iota
	instInsertNameRef
	instInsertLiteral
	instDuplicate
	instSetCapacity
)

// EncStreamParser incrementally parses the encoder stream, applying
// updates to a decoder-side dynamic table as each instruction completes.
// Parsing suspends at any byte boundary (indeed at any bit boundary) and
// resumes exactly where it left off: the only state carried between calls
// to Parse lives in this struct, following the WINR/WONR/DUPL/TBSZ states
// named for the instructions they decode.
type EncStreamParser struct {
	table DynTableTarget

	kind        encInstKind
	sub         int
	nameIdxSt   varint.State
	nameIdx     uint64
	nameLiteral string
	isStatic    bool
	name        encStringState
	value       encStringState

	staticTable func(idx int) (string, bool)
}

// NewEncStreamParser creates a parser that applies instructions to table.
// staticLookup resolves a static-table index to a name for Insert-With-Name-
// Reference instructions that cite the static table.
func NewEncStreamParser(table DynTableTarget, staticLookup func(idx int) (string, bool)) *EncStreamParser {
	return &EncStreamParser{table: table, staticTable: staticLookup}
}

func (p *EncStreamParser) resetInstruction() {
	p.kind = instNone
	p.sub = 0
	p.nameIdxSt.Reset()
	p.isStatic = false
}

// Parse consumes as many complete instructions as r has bytes for,
// applying each to the table as it completes. It returns NeedMore when r
// runs dry mid-instruction (state is preserved for the next call) and
// Error for anything malformed or violating a table invariant.
func (p *EncStreamParser) Parse(r *bitio.Reader) (Status, error) {
	for {
		if p.kind == instNone {
			b, err := r.ReadBit()
			if err != nil {
				return NeedMore, nil
			}
			if b == 1 {
				p.kind = instInsertNameRef
				p.name.reset(5) // unused for this instruction; value uses 7
				p.value.reset(7)
			} else {
				b2, err := r.ReadBit()
				if err != nil {
					return NeedMore, nil
				}
				if b2 == 1 {
					p.kind = instInsertLiteral
					p.name.reset(5)
					p.value.reset(7)
				} else {
					b3, err := r.ReadBit()
					if err != nil {
						return NeedMore, nil
					}
					if b3 == 1 {
						p.kind = instSetCapacity
					} else {
						p.kind = instDuplicate
					}
				}
			}
		}

		var status Status
		var err error
		switch p.kind {
		case instInsertNameRef:
			status, err = p.stepInsertNameRef(r)
		case instInsertLiteral:
			status, err = p.stepInsertLiteral(r)
		case instDuplicate:
			status, err = p.stepDuplicate(r)
		case instSetCapacity:
			status, err = p.stepSetCapacity(r)
		}
		if err != nil {
			return Status(0), err
		}
		if status == NeedMore {
			return NeedMore, nil
		}
		// Completed one instruction; look for another.
		p.resetInstruction()
	}
}

func (p *EncStreamParser) stepInsertNameRef(r *bitio.Reader) (Status, error) {
	if p.sub == 0 {
		staticBit, err := r.ReadBit()
		if err != nil {
			return NeedMore, nil
		}
		p.isStatic = staticBit == 1
		idxVal, err := r.ReadBits(6)
		if err != nil {
			return NeedMore, nil
		}
		v, status := varint.Start(&p.nameIdxSt, 6, idxVal)
		for status == varint.NeedMore {
			b, err := r.ReadByte()
			if err != nil {
				return NeedMore, nil
			}
			v, _, status = varint.Continue(&p.nameIdxSt, []byte{b})
		}
		if status == varint.Error {
			return Status(0), ErrOverflow
		}
		p.nameIdx = v
		p.sub = 1
	}
	value, status, err := p.value.step(r)
	if err != nil {
		return Status(0), err
	}
	if status != OK {
		return status, nil
	}
	var name string
	if p.isStatic {
		n, ok := p.staticTable(int(p.nameIdx))
		if !ok {
			return Status(0), ErrBadIndex
		}
		name = n
	} else {
		e, ok := p.table.Get(p.nameIdx)
		if !ok {
			return Status(0), ErrBadIndex
		}
		name = e.Name
	}
	if _, err := p.table.Insert(name, value); err != nil {
		return Status(0), err
	}
	return OK, nil
}

func (p *EncStreamParser) stepInsertLiteral(r *bitio.Reader) (Status, error) {
	if p.sub == 0 {
		name, status, err := p.name.step(r)
		if err != nil {
			return Status(0), err
		}
		if status != OK {
			return status, nil
		}
		p.nameLiteral = name
		p.sub = 1
	}
	value, status, err := p.value.step(r)
	if err != nil {
		return Status(0), err
	}
	if status != OK {
		return status, nil
	}
	if _, err := p.table.Insert(p.nameLiteral, value); err != nil {
		return Status(0), err
	}
	return OK, nil
}

func (p *EncStreamParser) stepDuplicate(r *bitio.Reader) (Status, error) {
	idxVal, err := r.ReadBits(5)
	if err != nil {
		return NeedMore, nil
	}
	v, status := varint.Start(&p.nameIdxSt, 5, idxVal)
	for status == varint.NeedMore {
		b, err := r.ReadByte()
		if err != nil {
			return NeedMore, nil
		}
		v, _, status = varint.Continue(&p.nameIdxSt, []byte{b})
	}
	if status == varint.Error {
		return Status(0), ErrOverflow
	}
	if _, err := p.table.Duplicate(v); err != nil {
		return Status(0), err
	}
	return OK, nil
}

func (p *EncStreamParser) stepSetCapacity(r *bitio.Reader) (Status, error) {
	capVal, err := r.ReadBits(5)
	if err != nil {
		return NeedMore, nil
	}
	v, status := varint.Start(&p.nameIdxSt, 5, capVal)
	for status == varint.NeedMore {
		b, err := r.ReadByte()
		if err != nil {
			return NeedMore, nil
		}
		v, _, status = varint.Continue(&p.nameIdxSt, []byte{b})
	}
	if status == varint.Error {
		return Status(0), ErrOverflow
	}
	p.table.SetCapacity(v)
	return OK, nil
}
