// Package dynamic implements QPACK's dynamic table: a FIFO of inserted
// (name, value) entries shared between an encoder and a decoder over a
// separate (and separately flow-controlled) unidirectional stream.
//
// The encoder and decoder sides are asymmetric, so this package keeps them
// as two distinct types built on the same accounting rules from RFC 9204
// §3.2.2 (capacity, "entry size" including the 32-byte per-entry overhead).
// Entries are addressed by absolute insertion count rather than a 1-based
// combined static+dynamic index, and entries persist after logical
// eviction until every outstanding reference has been released, per
// RFC 9204 §2.1.1.
package dynamic

import (
	"errors"
	"hash/maphash"
)

// entryOverhead is the fixed per-entry accounting overhead RFC 9204 §3.2.2
// mandates: 32 bytes, independent of name/value length.
const entryOverhead = 32

// ErrCapacityExceeded is returned when a single entry cannot fit even in an
// empty table of the current capacity.
var ErrCapacityExceeded = errors.New("dynamic: entry exceeds table capacity")

// ErrUnknownIndex is returned when a lookup or reference names an absolute
// index that was never inserted, or has already been fully evicted.
var ErrUnknownIndex = errors.New("dynamic: unknown absolute index")

// EntrySize returns the accounted size of a (name, value) pair.
func EntrySize(name, value string) uint64 {
	return uint64(len(name) + len(value) + entryOverhead)
}

// Entry is one inserted (name, value) pair, as stored by either table.
type Entry struct {
	AbsIndex uint64
	Name     string
	Value    string
	refs     int
}

// Size returns the entry's accounted size.
func (e *Entry) Size() uint64 {
	return EntrySize(e.Name, e.Value)
}

// EncoderTable is the dynamic table as seen by the encoder: entries are
// appended at the end, evicted from the front whenever capacity demands it,
// and are never kept around past eviction -- the encoder never needs to
// reference an entry once it can no longer be cited, since it is the one
// deciding what to cite next. Lookups use two hash indices (by name only,
// and by name+value); the hot path is "do I already have this, so I can
// reference it as a duplicate instead of re-inserting?"
type EncoderTable struct {
	capacity uint64
	used     uint64
	inserted uint64 // total number of successful inserts, i.e. the next AbsIndex
	dropped  uint64 // number of entries evicted so far (also the lowest live AbsIndex)
	entries  []*Entry

	seed      maphash.Seed
	byName    map[uint64][]*Entry
	byNameVal map[uint64][]*Entry

	// knownReceivedCount is the last Insert Count the decoder has
	// acknowledged via Known Received Count; entries older than this may
	// be referenced by new header blocks without risking being blocked.
	knownReceivedCount uint64
	// maxRiskedStreams bounds draining risk at the encoder's own
	// discretion; bookkeeping for it lives in the qpack package, which
	// tracks streams, not entries.
}

// NewEncoderTable creates an encoder-side table with the given starting
// capacity (SETTINGS_QPACK_MAX_TABLE_CAPACITY, RFC 9204 §5).
func NewEncoderTable(capacity uint64) *EncoderTable {
	return &EncoderTable{
		capacity:  capacity,
		seed:      maphash.MakeSeed(),
		byName:    make(map[uint64][]*Entry),
		byNameVal: make(map[uint64][]*Entry),
	}
}

func (t *EncoderTable) hash(parts ...string) uint64 {
	var h maphash.Hash
	h.SetSeed(t.seed)
	for _, p := range parts {
		_, _ = h.WriteString(p)
		h.WriteByte(0) // separator, so ("a","b") and ("ab","") don't collide
	}
	return h.Sum64()
}

// Capacity returns the table's current capacity limit.
func (t *EncoderTable) Capacity() uint64 { return t.capacity }

// Used returns the capacity currently occupied by live entries.
func (t *EncoderTable) Used() uint64 { return t.used }

// InsertCount is the total number of entries ever inserted (the encoder's
// Insert Count, RFC 9204 §4.5.1.1 terminology generalized to the table).
func (t *EncoderTable) InsertCount() uint64 { return t.inserted }

// SetCapacity changes the table's capacity, evicting from the front as
// needed to fit. It returns false if any referenced (non-evictable) entry
// would have to be evicted, in which case the capacity is left unchanged.
func (t *EncoderTable) SetCapacity(capacity uint64) bool {
	if !t.canEvictTo(capacity) {
		return false
	}
	t.evictTo(capacity)
	t.capacity = capacity
	return true
}

func (t *EncoderTable) canEvictTo(target uint64) bool {
	used := t.used
	for i := 0; used > target && i < len(t.entries); i++ {
		e := t.entries[i]
		if e.refs > 0 {
			return false
		}
		used -= e.Size()
	}
	return used <= target
}

func (t *EncoderTable) evictTo(target uint64) {
	for t.used > target && len(t.entries) > 0 {
		e := t.entries[0]
		if e.refs > 0 {
			break
		}
		t.removeIndices(e)
		t.used -= e.Size()
		t.entries = t.entries[1:]
		t.dropped++
	}
}

func (t *EncoderTable) removeIndices(e *Entry) {
	nh := t.hash(e.Name)
	t.byName[nh] = removeEntry(t.byName[nh], e)
	nvh := t.hash(e.Name, e.Value)
	t.byNameVal[nvh] = removeEntry(t.byNameVal[nvh], e)
}

func removeEntry(list []*Entry, target *Entry) []*Entry {
	for i, e := range list {
		if e == target {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// CanInsert reports whether name/value could be inserted right now without
// exceeding capacity, assuming evictable (unreferenced) room is reclaimed
// first.
func (t *EncoderTable) CanInsert(name, value string) bool {
	size := EntrySize(name, value)
	if size > t.capacity {
		return false
	}
	return t.canEvictTo(t.capacity - size)
}

// Insert adds a new entry, evicting from the front as needed. It fails if
// the entry cannot fit even after evicting every evictable entry.
func (t *EncoderTable) Insert(name, value string) (*Entry, error) {
	size := EntrySize(name, value)
	if size > t.capacity {
		return nil, ErrCapacityExceeded
	}
	if !t.canEvictTo(t.capacity - size) {
		return nil, ErrCapacityExceeded
	}
	t.evictTo(t.capacity - size)

	e := &Entry{AbsIndex: t.inserted, Name: name, Value: value}
	t.entries = append(t.entries, e)
	t.used += size
	t.inserted++

	nh := t.hash(name)
	t.byName[nh] = append(t.byName[nh], e)
	nvh := t.hash(name, value)
	t.byNameVal[nvh] = append(t.byNameVal[nvh], e)
	return e, nil
}

// Lookup searches the dynamic table for name/value, preferring a full
// match. It returns the matching entry and whether the match included the
// value, or (nil, false) if nothing matches. Matches among entries that
// have not yet been acknowledged by the decoder (AbsIndex >=
// knownReceivedCount) are still returned -- it is the caller's job to
// decide whether citing them is an acceptable risk.
func (t *EncoderTable) Lookup(name, value string) (*Entry, bool) {
	nvh := t.hash(name, value)
	for _, e := range t.byNameVal[nvh] {
		if e.Name == name && e.Value == value {
			return e, true
		}
	}
	nh := t.hash(name)
	for _, e := range t.byName[nh] {
		if e.Name == name {
			return e, false
		}
	}
	return nil, false
}

// Get returns the entry at the given absolute index, if it is still live.
func (t *EncoderTable) Get(absIndex uint64) (*Entry, bool) {
	if absIndex < t.dropped || absIndex >= t.inserted {
		return nil, false
	}
	return t.entries[absIndex-t.dropped], true
}

// Ref increments the reference count on the entry at absIndex, marking it
// as cited by a header block still in flight; it fails if the entry is
// already gone.
func (t *EncoderTable) Ref(absIndex uint64) error {
	e, ok := t.Get(absIndex)
	if !ok {
		return ErrUnknownIndex
	}
	e.refs++
	return nil
}

// Unref releases a reference taken by Ref, once the citing header block
// has been acknowledged or the stream that held it is cancelled.
func (t *EncoderTable) Unref(absIndex uint64) error {
	e, ok := t.Get(absIndex)
	if !ok {
		return ErrUnknownIndex
	}
	if e.refs > 0 {
		e.refs--
	}
	return nil
}

// SetKnownReceivedCount records the decoder's most recently acknowledged
// Insert Count, per a Section Acknowledgment or Insert Count Increment
// instruction.
func (t *EncoderTable) SetKnownReceivedCount(count uint64) {
	if count > t.knownReceivedCount {
		t.knownReceivedCount = count
	}
}

// KnownReceivedCount returns the last acknowledged Insert Count.
func (t *EncoderTable) KnownReceivedCount() uint64 { return t.knownReceivedCount }

// MaxEntries returns the maximum number of entries addressable at the
// current capacity, per RFC 9204 §3.2.2's definition used for Required
// Insert Count wire encoding ("MaxEntries = floor(capacity / 32)").
func (t *EncoderTable) MaxEntries() uint64 {
	return t.capacity / entryOverhead
}

// DecoderTable is the dynamic table as seen by the decoder: a compact,
// absolute-index-addressable array. Unlike the encoder side, entries must
// be kept around (even past the point where the encoder has logically
// evicted them by never citing them again) for as long as any header block
// still being decoded references them -- FIFO eviction only actually frees
// storage once an entry's reference count drops to zero, per RFC 9204
// §2.1.1 ("the dynamic table can contain entries with duplicate name and
// value").
type DecoderTable struct {
	capacity uint64
	used     uint64
	inserted uint64
	dropped  uint64
	entries  []*Entry // entries[i] has AbsIndex == dropped+i
}

// NewDecoderTable creates a decoder-side table with the given capacity.
func NewDecoderTable(capacity uint64) *DecoderTable {
	return &DecoderTable{capacity: capacity}
}

// Capacity returns the table's capacity limit.
func (t *DecoderTable) Capacity() uint64 { return t.capacity }

// InsertCount returns the total number of entries ever inserted.
func (t *DecoderTable) InsertCount() uint64 { return t.inserted }

// SetCapacity updates the decoder's notion of the encoder's table capacity,
// used both by Insert's room check and by MaxEntries, and evicts from the
// front to fit. As in Insert, eviction stops at the oldest entry that is
// still referenced, so the occupied size can stay above the new capacity
// until that reference is released.
func (t *DecoderTable) SetCapacity(capacity uint64) {
	t.capacity = capacity
	t.evictTo(capacity)
}

// MaxEntries mirrors EncoderTable.MaxEntries for Required Insert Count
// decoding (RFC 9204 §4.5.1.1).
func (t *DecoderTable) MaxEntries() uint64 {
	return t.capacity / entryOverhead
}

// Insert adds an entry delivered over the encoder stream. The decoder must
// trust the encoder's own capacity accounting; it only evicts entries that
// are both older than necessary to stay within capacity and unreferenced.
func (t *DecoderTable) Insert(name, value string) (*Entry, error) {
	size := EntrySize(name, value)
	if size > t.capacity {
		return nil, ErrCapacityExceeded
	}
	t.evictTo(t.capacity - size)
	if t.used+size > t.capacity {
		return nil, ErrCapacityExceeded
	}
	e := &Entry{AbsIndex: t.inserted, Name: name, Value: value}
	t.entries = append(t.entries, e)
	t.used += size
	t.inserted++
	return e, nil
}

func (t *DecoderTable) evictTo(target uint64) {
	for t.used > target && len(t.entries) > 0 {
		e := t.entries[0]
		if e.refs > 0 {
			break
		}
		t.used -= e.Size()
		t.entries = t.entries[1:]
		t.dropped++
	}
}

// Get returns the entry at the given absolute index, if still present.
func (t *DecoderTable) Get(absIndex uint64) (*Entry, bool) {
	if absIndex < t.dropped || absIndex >= t.inserted {
		return nil, false
	}
	return t.entries[absIndex-t.dropped], true
}

// Ref and Unref bracket a header block's use of an entry: Ref before the
// block starts relying on it being present, Unref once the block is fully
// processed (decoded, or abandoned via stream cancellation). An entry
// dropping to zero references becomes eligible for eviction on the next
// Insert, not immediately.
func (t *DecoderTable) Ref(absIndex uint64) error {
	e, ok := t.Get(absIndex)
	if !ok {
		return ErrUnknownIndex
	}
	e.refs++
	return nil
}

// Unref releases a reference taken by Ref.
func (t *DecoderTable) Unref(absIndex uint64) error {
	e, ok := t.Get(absIndex)
	if !ok {
		return ErrUnknownIndex
	}
	if e.refs > 0 {
		e.refs--
	}
	return nil
}

// Duplicate re-inserts the entry at absIndex as a new entry at the current
// insertion point, per the Duplicate encoder-stream instruction (RFC 9204
// §4.3.4): this is how an encoder keeps a still-useful entry from aging out
// without retransmitting its literal name and value.
func (t *DecoderTable) Duplicate(absIndex uint64) (*Entry, error) {
	e, ok := t.Get(absIndex)
	if !ok {
		return nil, ErrUnknownIndex
	}
	return t.Insert(e.Name, e.Value)
}

// Duplicate is the encoder-side equivalent, used when the encoder decides
// to re-cite an aging entry rather than pay for a fresh literal.
func (t *EncoderTable) Duplicate(absIndex uint64) (*Entry, error) {
	e, ok := t.Get(absIndex)
	if !ok {
		return nil, ErrUnknownIndex
	}
	return t.Insert(e.Name, e.Value)
}
