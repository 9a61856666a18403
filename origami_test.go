package origami

import (
	"encoding/json"
	"flag"
	"testing"

	"github.com/go-playground/assert/v2"
)

func init() {
	initGlog()
}

func initGlog() {
	flag.Set("logtostderr", "true")
	flag.Set("stderrthreshold", "INFO")
	flag.Set("v", "0")
}

func TestIdOrder(t *testing.T) {
	// ulids are ordered by create time
	// we use this property to order edit ids from the same client

	a := NewId()
	for range 64 * 1024 {
		b := NewId()
		assert.Equal(t, a.LessThan(b), true)
		assert.Equal(t, b.LessThan(a), false)
		assert.Equal(t, b.LessThan(b), false)
		assert.Equal(t, b == a, false)
		assert.Equal(t, b == b, true)
		a = b
	}
}

func TestIdJsonCodec(t *testing.T) {
	type Test struct {
		A Id  `json:"a,omitempty"`
		B *Id `json:"b,omitempty"`
	}

	test1 := &Test{}
	test1.A = NewId()
	b_ := NewId()
	test1.B = &b_

	test1Json, err := json.Marshal(test1)
	assert.Equal(t, err, nil)

	test2 := &Test{}
	err = json.Unmarshal(test1Json, test2)
	assert.Equal(t, err, nil)

	assert.Equal(t, test1.A, test2.A)
	assert.Equal(t, test1.B, test2.B)

	test3 := &Test{}
	test3.A = NewId()

	test3Json, err := json.Marshal(test3)
	assert.Equal(t, err, nil)

	test4 := &Test{}
	err = json.Unmarshal(test3Json, test4)
	assert.Equal(t, err, nil)

	assert.Equal(t, test3.A, test4.A)
	assert.Equal(t, test3.B, nil)
	assert.Equal(t, test3.B, test4.B)
}

func TestParseId(t *testing.T) {
	a := NewId()

	b, err := ParseId(a.String())
	assert.Equal(t, err, nil)
	assert.Equal(t, a, b)

	c, err := IdFromBytes(a.Bytes())
	assert.Equal(t, err, nil)
	assert.Equal(t, a, c)

	_, err = ParseId("not-a-uuid")
	assert.NotEqual(t, err, nil)

	_, err = ParseId("")
	assert.NotEqual(t, err, nil)

	_, err = IdFromBytes([]byte{0x01, 0x02})
	assert.NotEqual(t, err, nil)
}

func TestDocumentPathOverlaps(t *testing.T) {
	cells := DocumentPath("cells")
	cell := DocumentPath("cells/a")
	cellSource := DocumentPath("cells/a/source")
	otherCell := DocumentPath("cells/b")
	metadata := DocumentPath("metadata")

	assert.Equal(t, cells.IsParentOf(cell), true)
	assert.Equal(t, cells.IsParentOf(cellSource), true)
	assert.Equal(t, cell.IsParentOf(cellSource), true)
	assert.Equal(t, cell.IsParentOf(cell), false)
	assert.Equal(t, cellSource.IsParentOf(cell), false)
	assert.Equal(t, cell.IsParentOf(otherCell), false)

	// whole segments only. "cells/a" is not a parent of "cells/ab"
	assert.Equal(t, cell.IsParentOf(DocumentPath("cells/ab")), false)
	assert.Equal(t, cell.Overlaps(DocumentPath("cells/ab")), false)

	assert.Equal(t, cell.Overlaps(cell), true)
	assert.Equal(t, cell.Overlaps(cellSource), true)
	assert.Equal(t, cellSource.Overlaps(cell), true)
	assert.Equal(t, cell.Overlaps(otherCell), false)
	assert.Equal(t, cell.Overlaps(metadata), false)
	assert.Equal(t, cells.Overlaps(metadata), false)
}
