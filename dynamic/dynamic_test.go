package dynamic_test

import (
	"testing"

	"github.com/anhaoxiong/ls-qpack/dynamic"
	"github.com/stvp/assert"
)

func TestEncoderInsertAndLookup(t *testing.T) {
	tbl := dynamic.NewEncoderTable(4096)
	e, err := tbl.Insert("x-custom", "value-one")
	assert.Nil(t, err)
	assert.Equal(t, uint64(0), e.AbsIndex)
	assert.Equal(t, uint64(1), tbl.InsertCount())

	match, full := tbl.Lookup("x-custom", "value-one")
	assert.True(t, full)
	assert.Equal(t, e, match)

	match, full = tbl.Lookup("x-custom", "other")
	assert.False(t, full)
	assert.Equal(t, e, match)

	match, _ = tbl.Lookup("x-nope", "")
	assert.Nil(t, match)
}

func TestEncoderEviction(t *testing.T) {
	// Capacity for exactly one small entry (32 + len("a")+len("b") = 34).
	tbl := dynamic.NewEncoderTable(34)
	_, err := tbl.Insert("a", "b")
	assert.Nil(t, err)
	assert.Equal(t, uint64(34), tbl.Used())

	// Inserting a second entry must evict the first since nothing refs it.
	_, err = tbl.Insert("c", "d")
	assert.Nil(t, err)
	assert.Equal(t, uint64(34), tbl.Used())

	_, ok := tbl.Get(0)
	assert.False(t, ok)
	e1, ok := tbl.Get(1)
	assert.True(t, ok)
	assert.Equal(t, "c", e1.Name)
}

func TestEncoderRefBlocksEviction(t *testing.T) {
	tbl := dynamic.NewEncoderTable(34)
	_, err := tbl.Insert("a", "b")
	assert.Nil(t, err)
	assert.Nil(t, tbl.Ref(0))

	_, err = tbl.Insert("c", "d")
	assert.Equal(t, dynamic.ErrCapacityExceeded, err)

	assert.Nil(t, tbl.Unref(0))
	_, err = tbl.Insert("c", "d")
	assert.Nil(t, err)
}

func TestEncoderSetCapacityRejectsWhenReferenced(t *testing.T) {
	tbl := dynamic.NewEncoderTable(100)
	_, err := tbl.Insert("a", "b")
	assert.Nil(t, err)
	assert.Nil(t, tbl.Ref(0))

	ok := tbl.SetCapacity(10)
	assert.False(t, ok)
	assert.Equal(t, uint64(100), tbl.Capacity())

	assert.Nil(t, tbl.Unref(0))
	ok = tbl.SetCapacity(10)
	assert.True(t, ok)
}

func TestEncoderDuplicate(t *testing.T) {
	tbl := dynamic.NewEncoderTable(4096)
	_, _ = tbl.Insert("a", "b")
	dup, err := tbl.Duplicate(0)
	assert.Nil(t, err)
	assert.Equal(t, uint64(1), dup.AbsIndex)
	assert.Equal(t, "a", dup.Name)
}

func TestEncoderCapacityExceeded(t *testing.T) {
	tbl := dynamic.NewEncoderTable(10)
	_, err := tbl.Insert("way-too-long-a-name", "and-value")
	assert.Equal(t, dynamic.ErrCapacityExceeded, err)
}

func TestDecoderInsertAndGet(t *testing.T) {
	tbl := dynamic.NewDecoderTable(4096)
	e, err := tbl.Insert("a", "b")
	assert.Nil(t, err)
	assert.Equal(t, uint64(0), e.AbsIndex)

	got, ok := tbl.Get(0)
	assert.True(t, ok)
	assert.Equal(t, "a", got.Name)
}

func TestDecoderEvictionDeferredWhileReferenced(t *testing.T) {
	tbl := dynamic.NewDecoderTable(34)
	_, err := tbl.Insert("a", "b")
	assert.Nil(t, err)
	assert.Nil(t, tbl.Ref(0))

	// The encoder stream tries to insert a second entry that would need to
	// evict the first; since it's still referenced, eviction stalls and the
	// insert fails for lack of room.
	_, err = tbl.Insert("c", "d")
	assert.Equal(t, dynamic.ErrCapacityExceeded, err)

	assert.Nil(t, tbl.Unref(0))
	_, err = tbl.Insert("c", "d")
	assert.Nil(t, err)
	_, ok := tbl.Get(0)
	assert.False(t, ok)
}

func TestDecoderDuplicate(t *testing.T) {
	tbl := dynamic.NewDecoderTable(4096)
	_, _ = tbl.Insert("a", "b")
	dup, err := tbl.Duplicate(0)
	assert.Nil(t, err)
	assert.Equal(t, uint64(1), dup.AbsIndex)
	assert.Equal(t, "b", dup.Value)
}

func TestMaxEntries(t *testing.T) {
	tbl := dynamic.NewEncoderTable(320)
	assert.Equal(t, uint64(10), tbl.MaxEntries())
}
