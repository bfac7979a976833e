// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package bufferpool maintains reusable fixed-size transfer buffers.
//
// Pump loops that shuttle framed bytes between streams borrow a Buffer,
// use its backing slice, and Release it when the transfer completes.
package bufferpool

import (
	"sync"
)

// Pool maintains a pool of buffers. It offers a new buffer when one is
// unavailable.
type Pool struct {
	// Size is the size of the buffers in this pool.
	Size int

	base sync.Pool
}

// Get returns a buffer, allocating one if one is not available.
//
// The caller should return the buffer to the pool by calling its Release
// method when done with it.
func (bp *Pool) Get() *Buffer {
	b, ok := bp.base.Get().(*Buffer)
	if !ok {
		b = &Buffer{
			bytes: make([]byte, bp.Size),
		}
	}

	b.pool = bp
	b.size = -1
	return b
}

// Buffer contains a byte buffer that can be released into a Pool for reuse.
//
// A Buffer has exactly one owner. Failure to release a Buffer will not cause
// a memory leak, but will prevent its reuse.
type Buffer struct {
	bytes []byte
	size  int

	pool *Pool
}

// Bytes returns this buffer's byte slice.
func (b *Buffer) Bytes() []byte {
	if b.size >= 0 {
		return b.bytes[:b.size]
	}
	return b.bytes
}

// Len returns the number of bytes in the buffer.
func (b *Buffer) Len() int {
	if b.size >= 0 {
		return b.size
	}
	return len(b.bytes)
}

// Truncate artificially caps the number of bytes returned by Bytes.
func (b *Buffer) Truncate(size int) {
	b.size = size
}

// Release returns the buffer to its buffer pool.
//
// A Buffer must only be released once, and must not be used afterwards.
func (b *Buffer) Release() {
	var pool *Pool
	pool, b.pool = b.pool, nil
	pool.base.Put(b)
}
