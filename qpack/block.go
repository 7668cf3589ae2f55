package qpack

import (
	"github.com/anhaoxiong/ls-qpack/bitio"
	"github.com/anhaoxiong/ls-qpack/dynamic"
	"github.com/anhaoxiong/ls-qpack/statictable"
	"github.com/anhaoxiong/ls-qpack/varint"
)

// HeaderSet is the decoded result of one header block: an ordered list of
// fields plus, while the block is still open, the table entries it has
// taken references on (so they can be released once the caller is done
// with the set).
type HeaderSet struct {
	Fields  []HeaderField
	refs    []uint64
	table   *dynamic.DecoderTable
}

// Release unrefs every dynamic-table entry this set cited. Callers must
// call this once they are done using the decoded fields, mirroring RFC
// 9204's requirement that the decoder can evict an entry once every header
// set referencing it has been released.
func (hs *HeaderSet) Release() {
	for _, abs := range hs.refs {
		_ = hs.table.Unref(abs)
	}
	hs.refs = nil
}

// blockPhase tracks which half of a header block BlockParser is in.
type blockPhase int

const (
	phasePrefixRIC blockPhase = iota
	phasePrefixBase
	phaseData
	phaseDone
)

// dataState distinguishes which representation BlockParser is partway
// through decoding, so a suspension mid-representation resumes correctly.
type dataState int

const (
	dataNone dataState = iota
	dataIndexed
	dataLiteralNameRef
	dataLiteralNoNameRef
	dataIndexedPostBase
	dataLiteralPostBaseNameRef
)

// BlockParser incrementally decodes one header block: the Required Insert
// Count + Base prefix (RFC 9204 §4.5.1), then a sequence of field
// representations (§4.5.2-§4.5.6). It suspends with NeedMore when its
// input runs out and with Blocked when the prefix names a Required Insert
// Count the table hasn't reached yet; both preserve full state for resume.
type BlockParser struct {
	table *dynamic.DecoderTable

	phase   blockPhase
	ricSt   varint.State
	ric     uint64
	base    uint64
	deltaSt varint.State

	data    dataState
	sub     int
	boolBuf bool
	idxSt   varint.State
	idx     uint64
	name    encStringState
	value   encStringState
	pendingName string

	set *HeaderSet
}

// NewBlockParser creates a parser decoding a header block against table.
func NewBlockParser(table *dynamic.DecoderTable) *BlockParser {
	return &BlockParser{
		table: table,
		set:   &HeaderSet{table: table},
	}
}

// Parse drives the parser as far as r allows. Parse does not know the
// block's length, so once all input is consumed it returns NeedMore; a
// caller that has fed the whole block and sees AtFieldBoundary() calls
// Finish, after which Parse returns OK. Otherwise NeedMore and Blocked
// mean the caller must re-enter later (after more bytes, or after the
// table's insert count reaches RequiredInsertCount(), respectively).
func (p *BlockParser) Parse(r *bitio.Reader) (Status, error) {
	for {
		switch p.phase {
		case phasePrefixRIC:
			status, err := p.parseRIC(r)
			if err != nil || status != OK {
				return status, err
			}
			p.phase = phasePrefixBase
		case phasePrefixBase:
			status, err := p.parseBase(r)
			if err != nil || status != OK {
				return status, err
			}
			p.phase = phaseData
			if p.ric > p.table.InsertCount() {
				return Blocked, nil
			}
		case phaseData:
			status, err := p.parseOneField(r)
			if err != nil {
				return Status(0), err
			}
			if status == NeedMore {
				return NeedMore, nil
			}
			// status == OK: one field was appended to p.set.Fields; loop
			// around for the next one (p.data is back to dataNone).
		case phaseDone:
			return OK, nil
		}
	}
}

// AtFieldBoundary reports whether the parser is positioned exactly at the
// start of a fresh field representation -- i.e. the last Parse call
// returned NeedMore only because no more bytes were available to begin
// decoding another field, not because it was stuck mid-representation.
// Callers that know the header block's total declared length use this,
// once every declared byte has been fed, to distinguish "more data is
// still coming" from "the block is legitimately finished here."
func (p *BlockParser) AtFieldBoundary() bool {
	return p.phase == phaseData && p.data == dataNone
}

// Finish declares the block complete once AtFieldBoundary is true and the
// caller has fed every byte the surrounding frame declared for this block.
func (p *BlockParser) Finish() *HeaderSet {
	p.phase = phaseDone
	return p.set
}

func (p *BlockParser) parseRIC(r *bitio.Reader) (Status, error) {
	firstVal, err := r.ReadBits(8)
	if err != nil {
		return NeedMore, nil
	}
	v, status := varint.Start(&p.ricSt, 8, firstVal)
	for status == varint.NeedMore {
		b, err := r.ReadByte()
		if err != nil {
			return NeedMore, nil
		}
		v, _, status = varint.Continue(&p.ricSt, []byte{b})
	}
	if status == varint.Error {
		return Status(0), ErrOverflow
	}
	if v == 0 {
		p.ric = 0
		return OK, nil
	}
	maxEntries := p.table.MaxEntries()
	if maxEntries == 0 {
		return Status(0), ErrRequiredInsertCount
	}
	fullRange := 2 * maxEntries
	maxValue := p.table.InsertCount() + maxEntries
	rounded := (maxValue / fullRange) * fullRange
	largestRef := rounded + v - 1
	if largestRef > maxValue && largestRef >= fullRange {
		largestRef -= fullRange
	}
	p.ric = largestRef + 1
	return OK, nil
}

func (p *BlockParser) parseBase(r *bitio.Reader) (Status, error) {
	sign, err := r.ReadBit()
	if err != nil {
		return NeedMore, nil
	}
	firstVal, err := r.ReadBits(7)
	if err != nil {
		return NeedMore, nil
	}
	v, status := varint.Start(&p.deltaSt, 7, firstVal)
	for status == varint.NeedMore {
		b, err := r.ReadByte()
		if err != nil {
			return NeedMore, nil
		}
		v, _, status = varint.Continue(&p.deltaSt, []byte{b})
	}
	if status == varint.Error {
		return Status(0), ErrOverflow
	}
	if sign == 1 {
		if v == 0 || v > p.ric {
			return Status(0), ErrTruncated
		}
		p.base = p.ric - v
	} else {
		p.base = p.ric + v
	}
	return OK, nil
}

// parseOneField decodes the next field representation. Running out of
// input right where a new representation would start is reported as
// NeedMore with p.data left at dataNone; Parse passes that NeedMore on, and
// the caller tells it apart from a truncated field via AtFieldBoundary.
func (p *BlockParser) parseOneField(r *bitio.Reader) (Status, error) {
	if p.data == dataNone {
		b, err := r.ReadBit()
		if err != nil {
			return NeedMore, nil
		}
		if b == 1 {
			p.data = dataIndexed
		} else {
			b2, err := r.ReadBit()
			if err != nil {
				return NeedMore, nil
			}
			if b2 == 1 {
				p.data = dataLiteralNameRef
			} else {
				b3, err := r.ReadBit()
				if err != nil {
					return NeedMore, nil
				}
				if b3 == 1 {
					p.data = dataLiteralNoNameRef
				} else {
					b4, err := r.ReadBit()
					if err != nil {
						return NeedMore, nil
					}
					if b4 == 1 {
						p.data = dataIndexedPostBase
					} else {
						p.data = dataLiteralPostBaseNameRef
					}
				}
			}
		}
		p.sub = 0
	}

	var status Status
	var err error
	var field *HeaderField
	switch p.data {
	case dataIndexed:
		field, status, err = p.parseIndexed(r)
	case dataLiteralNameRef:
		field, status, err = p.parseLiteralNameRef(r)
	case dataLiteralNoNameRef:
		field, status, err = p.parseLiteralNoNameRef(r)
	case dataIndexedPostBase:
		field, status, err = p.parseIndexedPostBase(r)
	case dataLiteralPostBaseNameRef:
		field, status, err = p.parseLiteralPostBaseNameRef(r)
	}
	if err != nil {
		return Status(0), err
	}
	if status != OK {
		return status, nil
	}
	p.set.Fields = append(p.set.Fields, *field)
	p.data = dataNone
	return OK, nil
}

func (p *BlockParser) parseIndexed(r *bitio.Reader) (*HeaderField, Status, error) {
	if p.sub == 0 {
		static, err := r.ReadBit()
		if err != nil {
			return nil, NeedMore, nil
		}
		p.boolBuf = static == 1
		p.sub = 1
	}
	firstVal, err := r.ReadBits(6)
	if err != nil {
		return nil, NeedMore, nil
	}
	v, status := varint.Start(&p.idxSt, 6, firstVal)
	for status == varint.NeedMore {
		b, err := r.ReadByte()
		if err != nil {
			return nil, NeedMore, nil
		}
		v, _, status = varint.Continue(&p.idxSt, []byte{b})
	}
	if status == varint.Error {
		return nil, Status(0), ErrOverflow
	}
	if p.boolBuf {
		e, ok := statictable.Get(int(v))
		if !ok {
			return nil, Status(0), ErrBadIndex
		}
		return &HeaderField{Name: e.Name, Value: e.Value}, OK, nil
	}
	if p.base <= v {
		return nil, Status(0), ErrBadIndex
	}
	abs := p.base - v - 1
	e, ok := p.table.Get(abs)
	if !ok {
		return nil, Status(0), ErrBadIndex
	}
	p.refEntry(abs)
	return &HeaderField{Name: e.Name, Value: e.Value}, OK, nil
}

func (p *BlockParser) parseIndexedPostBase(r *bitio.Reader) (*HeaderField, Status, error) {
	firstVal, err := r.ReadBits(4)
	if err != nil {
		return nil, NeedMore, nil
	}
	v, status := varint.Start(&p.idxSt, 4, firstVal)
	for status == varint.NeedMore {
		b, err := r.ReadByte()
		if err != nil {
			return nil, NeedMore, nil
		}
		v, _, status = varint.Continue(&p.idxSt, []byte{b})
	}
	if status == varint.Error {
		return nil, Status(0), ErrOverflow
	}
	abs := p.base + v
	e, ok := p.table.Get(abs)
	if !ok {
		return nil, Status(0), ErrBadIndex
	}
	p.refEntry(abs)
	return &HeaderField{Name: e.Name, Value: e.Value}, OK, nil
}

func (p *BlockParser) parseLiteralNameRef(r *bitio.Reader) (*HeaderField, Status, error) {
	if p.sub == 0 {
		never, err := r.ReadBit()
		if err != nil {
			return nil, NeedMore, nil
		}
		p.boolBuf = never == 1
		p.sub = 1
	}
	if p.sub == 1 {
		static, err := r.ReadBit()
		if err != nil {
			return nil, NeedMore, nil
		}
		if static == 1 {
			p.sub = 2 // static
		} else {
			p.sub = 3 // dynamic
		}
	}
	var name string
	if p.sub == 2 {
		firstVal, err := r.ReadBits(4)
		if err != nil {
			return nil, NeedMore, nil
		}
		v, status := varint.Start(&p.idxSt, 4, firstVal)
		for status == varint.NeedMore {
			b, err := r.ReadByte()
			if err != nil {
				return nil, NeedMore, nil
			}
			v, _, status = varint.Continue(&p.idxSt, []byte{b})
		}
		if status == varint.Error {
			return nil, Status(0), ErrOverflow
		}
		e, ok := statictable.Get(int(v))
		if !ok {
			return nil, Status(0), ErrBadIndex
		}
		name = e.Name
		p.sub = 4
	} else if p.sub == 3 {
		firstVal, err := r.ReadBits(4)
		if err != nil {
			return nil, NeedMore, nil
		}
		v, status := varint.Start(&p.idxSt, 4, firstVal)
		for status == varint.NeedMore {
			b, err := r.ReadByte()
			if err != nil {
				return nil, NeedMore, nil
			}
			v, _, status = varint.Continue(&p.idxSt, []byte{b})
		}
		if status == varint.Error {
			return nil, Status(0), ErrOverflow
		}
		if p.base <= v {
			return nil, Status(0), ErrBadIndex
		}
		abs := p.base - v - 1
		e, ok := p.table.Get(abs)
		if !ok {
			return nil, Status(0), ErrBadIndex
		}
		p.refEntry(abs)
		name = e.Name
		p.sub = 4
	}
	if p.sub == 4 {
		p.pendingName = name
		p.value.reset(7)
		p.sub = 5
	}
	value, status, err := p.value.step(r)
	if err != nil {
		return nil, Status(0), err
	}
	if status != OK {
		return nil, status, nil
	}
	return &HeaderField{Name: p.pendingName, Value: value, NeverIndex: p.boolBuf}, OK, nil
}

func (p *BlockParser) parseLiteralPostBaseNameRef(r *bitio.Reader) (*HeaderField, Status, error) {
	if p.sub == 0 {
		never, err := r.ReadBit()
		if err != nil {
			return nil, NeedMore, nil
		}
		p.boolBuf = never == 1
		p.sub = 1
	}
	if p.sub == 1 {
		firstVal, err := r.ReadBits(3)
		if err != nil {
			return nil, NeedMore, nil
		}
		v, status := varint.Start(&p.idxSt, 3, firstVal)
		for status == varint.NeedMore {
			b, err := r.ReadByte()
			if err != nil {
				return nil, NeedMore, nil
			}
			v, _, status = varint.Continue(&p.idxSt, []byte{b})
		}
		if status == varint.Error {
			return nil, Status(0), ErrOverflow
		}
		abs := p.base + v
		e, ok := p.table.Get(abs)
		if !ok {
			return nil, Status(0), ErrBadIndex
		}
		p.refEntry(abs)
		p.pendingName = e.Name
		p.value.reset(7)
		p.sub = 2
	}
	value, status, err := p.value.step(r)
	if err != nil {
		return nil, Status(0), err
	}
	if status != OK {
		return nil, status, nil
	}
	return &HeaderField{Name: p.pendingName, Value: value, NeverIndex: p.boolBuf}, OK, nil
}

func (p *BlockParser) parseLiteralNoNameRef(r *bitio.Reader) (*HeaderField, Status, error) {
	if p.sub == 0 {
		never, err := r.ReadBit()
		if err != nil {
			return nil, NeedMore, nil
		}
		p.boolBuf = never == 1
		p.name.reset(3)
		p.value.reset(7)
		p.sub = 1
	}
	if p.sub == 1 {
		name, status, err := p.name.step(r)
		if err != nil {
			return nil, Status(0), err
		}
		if status != OK {
			return nil, status, nil
		}
		p.pendingName = name
		p.sub = 2
	}
	value, status, err := p.value.step(r)
	if err != nil {
		return nil, Status(0), err
	}
	if status != OK {
		return nil, status, nil
	}
	return &HeaderField{Name: p.pendingName, Value: value, NeverIndex: p.boolBuf}, OK, nil
}

func (p *BlockParser) refEntry(abs uint64) {
	if err := p.table.Ref(abs); err == nil {
		p.set.refs = append(p.set.refs, abs)
	}
}

// Result returns the decoded header set once Finish has been called (or
// Parse has returned OK).
func (p *BlockParser) Result() *HeaderSet {
	return p.set
}

// RequiredInsertCount returns the block's Required Insert Count, valid
// once the prefix has been parsed (i.e. after Parse first returns Blocked
// or moves into the data phase).
func (p *BlockParser) RequiredInsertCount() uint64 {
	return p.ric
}
