// Package buffer provides packet-sized buffer recycling and fragment
// reassembly for the VL1 dispatch pipeline.
package buffer

import "sync"

// CellSize is the size of a recycled buffer: large enough to hold the
// largest whole packet or fragment the transport can deliver.
const CellSize = 16384

var cellPool = sync.Pool{
	New: func() any {
		buf := make([]byte, CellSize)
		return &buf
	},
}

// Get returns a zero-length-capped CellSize buffer from the pool,
// sliced down to n bytes. Callers must call Put when done.
func Get(n int) *[]byte {
	buf := cellPool.Get().(*[]byte)
	*buf = (*buf)[:CellSize]
	if n >= 0 && n <= CellSize {
		*buf = (*buf)[:n]
	}
	return buf
}

// Put returns a buffer to the pool for reuse.
func Put(buf *[]byte) {
	if buf == nil || cap(*buf) != CellSize {
		return
	}
	cellPool.Put(buf)
}
