package buffer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolGetPutSize(t *testing.T) {
	buf := Get(100)
	assert.Len(t, *buf, 100)
	Put(buf)

	buf2 := Get(200)
	assert.Len(t, *buf2, 200)
	Put(buf2)
}

func TestDefragmenterCompletesInAnyOrder(t *testing.T) {
	d := NewDefragmenter(time.Minute, 16, 4)
	defer d.Stop()

	_, outcome := d.Submit(1, 10, 2, 3, []byte("c"))
	assert.Equal(t, OK, outcome)
	_, outcome = d.Submit(1, 10, 0, 3, []byte("a"))
	assert.Equal(t, OK, outcome)
	slices, outcome := d.Submit(1, 10, 1, 3, []byte("b"))
	require.Equal(t, Complete, outcome)
	require.Len(t, slices, 3)
	assert.Equal(t, []byte("a"), slices[0])
	assert.Equal(t, []byte("b"), slices[1])
	assert.Equal(t, []byte("c"), slices[2])
}

func TestDefragmenterRejectsDuplicateFragment(t *testing.T) {
	d := NewDefragmenter(time.Minute, 16, 4)
	defer d.Stop()

	_, outcome := d.Submit(2, 10, 0, 2, []byte("a"))
	assert.Equal(t, OK, outcome)
	_, outcome = d.Submit(2, 10, 0, 2, []byte("a-again"))
	assert.Equal(t, DuplicateFragment, outcome)
}

func TestDefragmenterRejectsInvalidFragment(t *testing.T) {
	d := NewDefragmenter(time.Minute, 16, 4)
	defer d.Stop()

	_, outcome := d.Submit(3, 10, 5, 3, []byte("x"))
	assert.Equal(t, InvalidFragment, outcome)

	_, outcome = d.Submit(3, 10, 0, 0, []byte("x"))
	assert.Equal(t, InvalidFragment, outcome)
}

func TestDefragmenterEnforcesPerPathLimit(t *testing.T) {
	d := NewDefragmenter(time.Minute, 16, 2)
	defer d.Stop()

	_, outcome := d.Submit(1, 77, 0, 2, []byte("a"))
	assert.Equal(t, OK, outcome)
	_, outcome = d.Submit(2, 77, 0, 2, []byte("a"))
	assert.Equal(t, OK, outcome)
	_, outcome = d.Submit(3, 77, 0, 2, []byte("a"))
	assert.Equal(t, TooManyFragmentsForPath, outcome)
}

func TestDefragmenterEnforcesGlobalLimit(t *testing.T) {
	d := NewDefragmenter(time.Minute, 1, 8)
	defer d.Stop()

	_, outcome := d.Submit(1, 1, 0, 2, []byte("a"))
	assert.Equal(t, OK, outcome)
	_, outcome = d.Submit(2, 2, 0, 2, []byte("a"))
	assert.Equal(t, OutOfMemory, outcome)
}
