package qpack

import (
	"github.com/anhaoxiong/ls-qpack/bitio"
	"github.com/anhaoxiong/ls-qpack/dynamic"
	"github.com/anhaoxiong/ls-qpack/statictable"
)

// pendingBlock tracks one in-progress header block on the decoder side,
// across however many HeaderIn/HeaderRead calls it takes to finish.
type pendingBlock struct {
	streamID uint64
	parser   *BlockParser
	reader   *bitio.Reader
	declared int // total bytes the caller said this block would be
	fed      int
	blocked  *BlockedBlock
}

// Decoder is the top-level QPACK decoder: it owns the decoder-side dynamic
// table, the encoder-stream parser that feeds it, and the set of streams
// currently blocked waiting on table insertions. Callers drive it directly
// through HeaderIn/HeaderRead/EncStreamIn rather than it reading from an
// io.Reader on its own goroutine.
type Decoder struct {
	table    *dynamic.DecoderTable
	encP     *EncStreamParser
	blocked  *BlockedStreams
	pending  map[uint64]*pendingBlock

	// DoneCB is invoked once a header block finishes decoding, delivering
	// ownership of the HeaderSet to the caller.
	DoneCB func(streamID uint64, set *HeaderSet)
	// WantReadCB toggles read-readiness notifications for a stream,
	// matching wantread_header_block.
	WantReadCB func(streamID uint64, enabled bool)
}

// NewDecoder creates a decoder with the given initial dynamic-table
// capacity and max risked streams (the bound on simultaneously blocked
// header blocks).
func NewDecoder(capacity uint64, maxRiskedStreams int) *Decoder {
	table := dynamic.NewDecoderTable(capacity)
	d := &Decoder{
		table:   table,
		blocked: NewBlockedStreams(maxRiskedStreams),
		pending: make(map[uint64]*pendingBlock),
	}
	d.encP = NewEncStreamParser(table, staticNameByIndex)
	return d
}

func staticNameByIndex(idx int) (string, bool) {
	e, ok := statictable.Get(idx)
	if !ok {
		return "", false
	}
	return e.Name, true
}

// SetCapacity sets the decoder-side table's capacity, evicting unreferenced
// entries from the front to fit -- the same effect a Set Dynamic Table
// Capacity instruction arriving via EncStreamIn has.
func (d *Decoder) SetCapacity(n uint64) {
	d.table.SetCapacity(n)
}

// EncStreamIn feeds bytes from the peer's encoder stream into the
// decoder-side table. Any header blocks that were Blocked become eligible
// to resume once their Required Insert Count is now satisfied; those are
// reported back via WantReadCB so the caller knows to call HeaderRead
// again for them.
func (d *Decoder) EncStreamIn(data []byte) error {
	r := bitio.NewReader(data)
	_, err := d.encP.Parse(r)
	if err != nil {
		return err
	}
	ready := d.blocked.PopReady(d.table.InsertCount())
	for _, b := range ready {
		if d.WantReadCB != nil {
			d.WantReadCB(b.StreamID, true)
		}
	}
	return nil
}

// HeaderIn begins parsing a header block of the given declared size for
// streamID. readFn supplies bytes already available; if the whole block
// is available immediately, DoneCB may be invoked synchronously before
// HeaderIn returns.
func (d *Decoder) HeaderIn(streamID uint64, size int, readFn func(max int) []byte) error {
	pb := &pendingBlock{
		streamID: streamID,
		parser:   NewBlockParser(d.table),
		reader:   bitio.NewReader(nil),
		declared: size,
	}
	d.pending[streamID] = pb
	return d.pump(pb, readFn)
}

// HeaderRead is called when the transport reports more bytes are
// available for a previously-started block.
func (d *Decoder) HeaderRead(streamID uint64, readFn func(max int) []byte) error {
	pb, ok := d.pending[streamID]
	if !ok {
		return ErrUnknownStream
	}
	return d.pump(pb, readFn)
}

func (d *Decoder) pump(pb *pendingBlock, readFn func(max int) []byte) error {
	for {
		if pb.fed < pb.declared {
			chunk := readFn(pb.declared - pb.fed)
			if len(chunk) == 0 {
				if d.WantReadCB != nil {
					d.WantReadCB(pb.streamID, true)
				}
				return nil
			}
			pb.reader.Feed(chunk)
			pb.fed += len(chunk)
		}

		status, err := pb.parser.Parse(pb.reader)
		if err != nil {
			delete(d.pending, pb.streamID)
			return err
		}
		switch status {
		case OK:
			delete(d.pending, pb.streamID)
			if d.DoneCB != nil {
				d.DoneCB(pb.streamID, pb.parser.Result())
			}
			return nil
		case Blocked:
			pb.blocked = &BlockedBlock{
				StreamID:   pb.streamID,
				LargestRef: pb.parser.RequiredInsertCount(),
				Resume:     pb,
			}
			return d.blocked.Insert(pb.blocked)
		case NeedMore:
			if pb.parser.AtFieldBoundary() && pb.fed >= pb.declared {
				delete(d.pending, pb.streamID)
				set := pb.parser.Finish()
				if d.DoneCB != nil {
					d.DoneCB(pb.streamID, set)
				}
				return nil
			}
			if pb.fed >= pb.declared {
				// Ran out of declared bytes mid-representation: the
				// frame was shorter than promised.
				delete(d.pending, pb.streamID)
				return ErrTruncated
			}
			// Loop around and ask readFn for more.
		}
	}
}

// CancelStream tells the decoder a stream was reset: any pending or
// blocked header block for it is abandoned and its table references
// released.
func (d *Decoder) CancelStream(streamID uint64) {
	if pb, ok := d.pending[streamID]; ok {
		if pb.blocked != nil {
			d.blocked.Remove(pb.blocked)
		}
		pb.parser.Result().Release()
		delete(d.pending, streamID)
	}
}
