package statictable_test

import (
	"testing"

	"github.com/anhaoxiong/ls-qpack/statictable"
	"github.com/stvp/assert"
)

func TestGetBounds(t *testing.T) {
	e, ok := statictable.Get(0)
	assert.True(t, ok)
	assert.Equal(t, ":authority", e.Name)

	e, ok = statictable.Get(statictable.N - 1)
	assert.True(t, ok)
	assert.Equal(t, "www-authenticate", e.Name)

	_, ok = statictable.Get(-1)
	assert.False(t, ok)
	_, ok = statictable.Get(statictable.N)
	assert.False(t, ok)
}

func TestLookupFullMatch(t *testing.T) {
	m, i := statictable.Lookup(":method", "GET")
	assert.Equal(t, statictable.FullMatch, m)
	e, _ := statictable.Get(i)
	assert.Equal(t, "GET", e.Value)
}

func TestLookupNameMatch(t *testing.T) {
	m, i := statictable.Lookup(":method", "PUT")
	assert.Equal(t, statictable.NameMatch, m)
	assert.True(t, i >= 0)
}

func TestLookupNoMatch(t *testing.T) {
	m, i := statictable.Lookup("x-not-a-real-header", "")
	assert.Equal(t, statictable.NoMatch, m)
	assert.Equal(t, -1, i)
}

func TestLookupEmptyName(t *testing.T) {
	m, i := statictable.Lookup("", "")
	assert.Equal(t, statictable.NoMatch, m)
	assert.Equal(t, -1, i)
}
