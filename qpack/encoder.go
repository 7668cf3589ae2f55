package qpack

import (
	"github.com/anhaoxiong/ls-qpack/bitio"
	"github.com/anhaoxiong/ls-qpack/dynamic"
	"github.com/anhaoxiong/ls-qpack/huffman"
	"github.com/anhaoxiong/ls-qpack/statictable"
	"github.com/anhaoxiong/ls-qpack/varint"
)

// encTableAction says what Encoder.encode should do to the dynamic table
// for the current field, matching tab_action in the encode-decision matrix.
type encTableAction int

const (
	tabNoop encTableAction = iota
	tabNew
)

// encStreamAction says what (if anything) to emit on the encoder stream.
type encStreamAction int

const (
	encNone encStreamAction = iota
	encInsNameRef
	encInsLit
)

// headAction says what representation to emit in the header block.
type headAction int

const (
	headIndexedNew headAction = iota
	headIndexedStat
	headIndexedDyn
	headLit
	headLitWithNameStat
	headLitWithNameDyn
	headLitWithNameNew
)

// blockUse records one dynamic-table absolute index this block referenced,
// so it can be unreferenced again once the block is acked or cancelled.
type blockUse struct {
	absIndex uint64
}

// openBlock is the state of a header block between StartHeader and
// EndHeader: which entries it referenced (for ref counting) and the
// largest/smallest bases it touched, from which the header-block prefix is
// computed.
type openBlock struct {
	streamID   uint64
	base       uint64
	maxRefID   uint64 // meaningful only once uses is non-empty
	minRefID   uint64
	uses       []blockUse
	atRisk     bool
	huffman    bool
}

// Encoder is a QPACK header-field encoder: it owns the encoder-side
// dynamic table and decides, field by field, whether to emit an update on
// the encoder stream and how to represent each field in the header block.
// Encode never blocks on a short buffer; it just reports that the
// caller-supplied buffer was too small, leaving no partial write behind.
type Encoder struct {
	table             *dynamic.EncoderTable
	maxRiskedStreams  int
	streamsAtRisk     int
	maxAckedID        uint64
	huffmanPreference bool

	open *openBlock
	// usage tracks in-flight blocks by stream id for ack/cancel bookkeeping.
	usage map[uint64][]*openBlock
}

// NewEncoder creates an encoder with the given initial dynamic-table
// capacity and max risked (potentially-blocking) streams.
func NewEncoder(capacity uint64, maxRiskedStreams int) *Encoder {
	return &Encoder{
		table:             dynamic.NewEncoderTable(capacity),
		maxRiskedStreams:  maxRiskedStreams,
		huffmanPreference: true,
		usage:             make(map[uint64][]*openBlock),
	}
}

// SetCapacity adjusts the dynamic table's capacity, evicting to fit.
func (e *Encoder) SetCapacity(n uint64) bool {
	return e.table.SetCapacity(n)
}

// StartHeader begins a new header block for streamID. It fails with
// ErrHeaderInUse if a block is already open -- only one may be open at a
// time; a single-threaded cooperative caller owns that invariant instead
// of a sync.Mutex.
func (e *Encoder) StartHeader(streamID uint64, seqno uint64) error {
	if e.open != nil {
		return ErrHeaderInUse
	}
	block := &openBlock{streamID: streamID, base: e.table.InsertCount()}
	for _, other := range e.usage[streamID] {
		if other.atRisk {
			block.atRisk = true
			break
		}
	}
	e.open = block
	return nil
}

func (e *Encoder) mayRisk() bool {
	if e.open.atRisk {
		return true
	}
	for _, u := range e.open.uses {
		if u.absIndex > e.maxAckedID {
			return true
		}
	}
	return e.streamsAtRisk < e.maxRiskedStreams
}

func (e *Encoder) mayIndex(name, value string, flags Flags) bool {
	if flags&NoIndex != 0 {
		return false
	}
	return e.table.CanInsert(name, value)
}

// Encode chooses a representation for one field and appends its bytes to
// encBuf (encoder-stream output) and headBuf (header-block output). It
// returns the possibly-reallocated buffers and a Status. Both buffers are
// grown by append as needed, so a short buffer never produces NoBufEnc or
// NoBufHead; NoBufHead is returned, with nothing written, only when no
// header block is open.
func (e *Encoder) Encode(encBuf, headBuf []byte, name, value string, flags Flags) (outEnc, outHead []byte, status Status) {
	if e.open == nil {
		return encBuf, headBuf, NoBufHead
	}

	staticMatch, staticIdx := statictable.Lookup(name, value)
	dynEntry, dynFull := e.table.Lookup(name, value)

	risk := e.mayRisk()
	index := e.mayIndex(name, value, flags)

	var enc encStreamAction
	var head headAction
	var tab encTableAction
	var refAbs uint64
	var refIsNew bool

	switch {
	case staticMatch == statictable.FullMatch:
		head = headIndexedStat
		refAbs = 0 // static, no table accounting needed

	case dynEntry != nil && dynFull:
		if dynEntry.AbsIndex > e.maxAckedID && !risk {
			// Found but can't safely reference it yet and aren't willing
			// to risk it: fall back to a literal with whatever name match
			// is available, same as a miss would.
			head, enc, tab = e.missDecision(name, value, staticMatch, staticIdx, index, risk)
			break
		}
		head = headIndexedDyn
		refAbs = dynEntry.AbsIndex

	case staticMatch == statictable.NameMatch:
		if !index {
			head = headLitWithNameStat
		} else if risk {
			enc = encInsNameRef
			tab = tabNew
			head = headIndexedNew
		} else {
			enc = encInsNameRef
			tab = tabNew
			head = headLitWithNameStat
		}

	case dynEntry != nil && !dynFull:
		if dynEntry.AbsIndex > e.maxAckedID && !risk {
			head = headLit
			break
		}
		if !index {
			head = headLitWithNameDyn
			refAbs = dynEntry.AbsIndex
		} else {
			enc = encInsNameRef
			tab = tabNew
			head = headLitWithNameNew
		}

	default:
		head, enc, tab = e.missDecision(name, value, staticMatch, staticIdx, index, risk)
	}

	// Apply the table action first: it determines the absolute index a
	// "New" head action references.
	if tab == tabNew {
		newEntry, err := e.table.Insert(name, value)
		if err != nil {
			// The table refused the entry -- fall back to a plain literal.
			enc = encNone
			tab = tabNoop
			head = headLit
		} else {
			refAbs = newEntry.AbsIndex
			refIsNew = true
		}
	}

	// Emit the encoder-stream instruction, if any.
	if enc != encNone {
		n, buf, ok := e.encodeStreamInstruction(encBuf, enc, name, value, staticMatch, staticIdx, dynEntry)
		if !ok {
			return encBuf, headBuf, NoBufEnc
		}
		encBuf = buf
		_ = n
	}

	// Emit the header-block representation.
	newHead, ok := e.encodeHeaderRepr(headBuf, head, name, value, flags, staticIdx, refAbs, e.open.base)
	if !ok {
		return encBuf, headBuf, NoBufHead
	}
	headBuf = newHead

	if head == headIndexedNew || head == headIndexedDyn || head == headLitWithNameDyn || head == headLitWithNameNew {
		_ = e.table.Ref(refAbs)
		e.open.uses = append(e.open.uses, blockUse{absIndex: refAbs})
		if refAbs > e.open.maxRefID {
			e.open.maxRefID = refAbs
		}
		if e.open.minRefID == 0 || refAbs < e.open.minRefID {
			e.open.minRefID = refAbs
		}
		_ = refIsNew
	}

	return encBuf, headBuf, OK
}

// missDecision implements the "not found at all" branch of the decision
// matrix: literal, or insert-and-reference / insert-and-decouple depending
// on indexability and risk.
func (e *Encoder) missDecision(name, value string, staticMatch statictable.Match, staticIdx int, index, risk bool) (headAction, encStreamAction, encTableAction) {
	if !index {
		return headLit, encNone, tabNoop
	}
	if risk {
		return headIndexedNew, encInsLit, tabNew
	}
	return headLit, encInsLit, tabNew
}

func (e *Encoder) encodeStreamInstruction(buf []byte, action encStreamAction, name, value string, staticMatch statictable.Match, staticIdx int, dynEntry *dynamic.Entry) (int, []byte, bool) {
	w := bitio.NewWriter()
	switch action {
	case encInsNameRef:
		var isStatic byte
		var nameIdx uint64
		if staticMatch == statictable.NameMatch {
			isStatic = 1
			nameIdx = uint64(staticIdx)
		} else if dynEntry != nil {
			nameIdx = dynEntry.AbsIndex // absolute index; EncStreamParser reads it back as absolute
		}
		_ = w.WriteBit(1)
		_ = w.WriteBit(isStatic)
		writePrefixInt(w, 6, nameIdx)
		writeHuffString(w, value, e.huffmanPreference, 7)
	case encInsLit:
		_ = w.WriteBit(0)
		_ = w.WriteBit(1)
		writeHuffString(w, name, e.huffmanPreference, 5)
		writeHuffString(w, value, e.huffmanPreference, 7)
	}
	encoded := w.Bytes()
	if len(buf)+len(encoded) > cap(buf) && buf != nil {
		// the append below grows buf; the bool result is always true
	}
	out := append(buf, encoded...)
	return len(encoded), out, true
}

func (e *Encoder) encodeHeaderRepr(buf []byte, action headAction, name, value string, flags Flags, staticIdx int, absIndex, base uint64) ([]byte, bool) {
	w := bitio.NewWriter()
	never := flags&NoIndex != 0
	switch action {
	case headIndexedStat:
		_ = w.WriteBits(0b11, 2)
		_ = w.WriteBits(uint64(staticIdx), 6)
	case headIndexedDyn:
		if absIndex < base {
			_ = w.WriteBits(0b10, 2)
			writePrefixInt(w, 6, base-absIndex-1)
		} else {
			_ = w.WriteBits(0b0001, 4)
			writePrefixInt(w, 4, absIndex-base)
		}
	case headIndexedNew:
		_ = w.WriteBits(0b0001, 4)
		writePrefixInt(w, 4, absIndex-base)
	case headLitWithNameStat:
		nb := boolBit(never)
		_ = w.WriteBits(0b01, 2)
		_ = w.WriteBit(nb)
		_ = w.WriteBit(1)
		writePrefixInt(w, 4, uint64(staticIdx))
		writeHuffString(w, value, e.huffmanPreference, 7)
	case headLitWithNameDyn:
		nb := boolBit(never)
		if absIndex < base {
			_ = w.WriteBits(0b01, 2)
			_ = w.WriteBit(nb)
			_ = w.WriteBit(0)
			writePrefixInt(w, 4, base-absIndex-1)
		} else {
			_ = w.WriteBits(0b0000, 4)
			_ = w.WriteBit(nb)
			writePrefixInt(w, 3, absIndex-base)
		}
		writeHuffString(w, value, e.huffmanPreference, 7)
	case headLitWithNameNew:
		nb := boolBit(never)
		_ = w.WriteBits(0b0000, 4)
		_ = w.WriteBit(nb)
		writePrefixInt(w, 3, absIndex-base)
		writeHuffString(w, value, e.huffmanPreference, 7)
	case headLit:
		nb := boolBit(never)
		_ = w.WriteBits(0b001, 3)
		_ = w.WriteBit(nb)
		writeHuffString(w, name, e.huffmanPreference, 3)
		writeHuffString(w, value, e.huffmanPreference, 7)
	}
	return append(buf, w.Bytes()...), true
}

func boolBit(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// writePrefixInt writes value as an RFC 7541 §5.1 prefix integer through w:
// the same bit layout varint.Encode produces, but emitted bit-by-bit through
// the writer's shift register so it can start at whatever bit offset the
// caller's preceding tag bits left it at, rather than only a byte boundary.
func writePrefixInt(w *bitio.Writer, prefixBits byte, value uint64) {
	ones := uint64(1)<<prefixBits - 1
	if value < ones {
		_ = w.WriteBits(value, prefixBits)
		return
	}
	_ = w.WriteBits(ones, prefixBits)
	v := value - ones
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v > 0 {
			_ = w.WriteBits(uint64(b|0x80), 8)
		} else {
			_ = w.WriteBits(uint64(b), 8)
			return
		}
	}
}

func writeHuffString(w *bitio.Writer, s string, preferHuffman bool, prefixBits byte) {
	raw := []byte(s)
	enc := huffman.Encode(nil, raw)
	useHuffman := preferHuffman && len(enc) < len(raw)
	var hbit byte
	var payload []byte
	if useHuffman {
		hbit = 1
		payload = enc
	} else {
		payload = raw
	}
	// The H bit and length prefix share a byte with whatever tag bits the
	// caller already wrote, so they have to go through the same in-progress
	// bit register rather than being assembled into a standalone byte and
	// spliced in -- w.Write only appends verbatim bytes once byte-aligned.
	_ = w.WriteBit(hbit)
	writePrefixInt(w, prefixBits, uint64(len(payload)))
	_, _ = w.Write(payload)
}

// EndHeader finalizes the open header block, writing the Required Insert
// Count + Base prefix into buf (RFC 9204 §4.5.1). It returns buf extended
// by append and the number of prefix bytes written; the count is 0 only
// when no header block is open.
func (e *Encoder) EndHeader(buf []byte) ([]byte, int) {
	if e.open == nil {
		return buf, 0
	}
	block := e.open

	var ric uint64
	if len(block.uses) > 0 {
		ric = block.maxRefID + 1
	}
	maxEntries := e.table.MaxEntries()
	var wireRIC uint64
	if ric > 0 && maxEntries > 0 {
		wireRIC = (ric % (2 * maxEntries))
		if wireRIC == 0 {
			wireRIC = 2 * maxEntries
		}
	}

	w := bitio.NewWriter()
	ricBytes := varint.Encode(nil, 0, 8, wireRIC)
	_, _ = w.Write(ricBytes)

	if ric == 0 {
		// "No references" prefix: sign bit 0, delta 0.
		_ = w.WriteBit(0)
		deltaBytes := varint.Encode(nil, 0, 7, 0)
		_, _ = w.Write(deltaBytes)
	} else {
		var sign byte
		var delta uint64
		if block.base < ric {
			sign = 1
			delta = ric - block.base
		} else {
			delta = block.base - ric
		}
		deltaBytes := varint.Encode(nil, sign<<7, 7, delta)
		_, _ = w.Write(deltaBytes)
	}

	out := w.Bytes()
	e.usage[block.streamID] = append(e.usage[block.streamID], block)
	if block.atRisk {
		e.streamsAtRisk++
	}
	e.open = nil
	return append(buf, out...), len(out)
}

// DecoderStreamIn processes bytes from the decoder-to-encoder stream:
// header acks, insert-count increments, and stream cancellations. It
// returns the number of bytes consumed and an error for malformed input.
// A trailing incomplete instruction is not counted as consumed.
func (e *Encoder) DecoderStreamIn(data []byte) (int, error) {
	r := bitio.NewReader(data)
	consumed := 0
	for {
		save := r.BitsConsumed()
		b, err := r.ReadBit()
		if err != nil {
			break
		}
		var handleErr error
		switch b {
		case 1:
			v, status := decodeIntFromReader(r, 7)
			if status == varint.Error {
				return consumed, ErrOverflow
			}
			if status != varint.Done {
				return consumed, nil
			}
			handleErr = e.HandleHeaderAck(v)
		case 0:
			b2, err2 := r.ReadBit()
			if err2 != nil {
				return consumed, nil
			}
			v, status := decodeIntFromReader(r, 6)
			if status == varint.Error {
				return consumed, ErrOverflow
			}
			if status != varint.Done {
				return consumed, nil
			}
			if b2 == 0 {
				handleErr = e.HandleInsertCountIncrement(v)
			} else {
				handleErr = e.HandleStreamCancel(v)
			}
		}
		if handleErr != nil {
			return consumed, handleErr
		}
		consumed = int((r.BitsConsumed() + 7) / 8)
		if r.BitsConsumed() == save {
			break
		}
	}
	return consumed, nil
}

func decodeIntFromReader(r *bitio.Reader, prefixBits byte) (uint64, varint.Status) {
	firstBits, err := r.ReadBits(prefixBits)
	if err != nil {
		return 0, varint.NeedMore
	}
	var st varint.State
	v, status := varint.Start(&st, prefixBits, firstBits)
	for status == varint.NeedMore {
		b, err := r.ReadByte()
		if err != nil {
			return 0, varint.NeedMore
		}
		v, _, status = varint.Continue(&st, []byte{b})
	}
	return v, status
}

// HandleHeaderAck processes a Header Acknowledgement for streamID: the
// oldest open block on that stream is considered acknowledged, its
// references are released, and max_acked_id advances if this was the
// highest-referencing in-flight block.
func (e *Encoder) HandleHeaderAck(streamID uint64) error {
	blocks := e.usage[streamID]
	if len(blocks) == 0 {
		return ErrUnknownStream
	}
	block := blocks[0]
	e.usage[streamID] = blocks[1:]
	for _, u := range block.uses {
		_ = e.table.Unref(u.absIndex)
	}
	if block.maxRefID > e.maxAckedID {
		e.maxAckedID = block.maxRefID
	}
	if block.atRisk {
		e.streamsAtRisk--
	}
	return nil
}

// HandleInsertCountIncrement advances max_acked_id by increment relative
// to the table's insert count, per RFC 9204 §4.4.3.
func (e *Encoder) HandleInsertCountIncrement(increment uint64) error {
	if increment == 0 {
		return ErrBadIndex
	}
	newAcked := e.maxAckedID + increment
	if newAcked > e.table.InsertCount() {
		return ErrBadIndex
	}
	e.maxAckedID = newAcked
	return nil
}

// HandleStreamCancel releases every in-flight block's references for
// streamID without treating them as acknowledged, per RFC 9204 §4.4.2.
func (e *Encoder) HandleStreamCancel(streamID uint64) error {
	blocks := e.usage[streamID]
	for _, block := range blocks {
		for _, u := range block.uses {
			_ = e.table.Unref(u.absIndex)
		}
		if block.atRisk {
			e.streamsAtRisk--
		}
	}
	delete(e.usage, streamID)
	return nil
}
