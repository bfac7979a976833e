// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package byteslicereader offers R, a slice-backed reader with a movable
// cursor.
//
// R is intended for small staged regions, such as encoded header and footer
// bytes that must be drained across several caller reads. It can be Reset
// onto a new backing slice without reallocating, and repositioned with Seek
// when a stream rewinds into a previously produced region.
package byteslicereader

import (
	"io"

	"github.com/pkg/errors"
)

// R is a slice-backed io.Reader with an explicit cursor.
//
// The zero value is an empty, exhausted reader. R can be copied, creating a
// snapshot of its current state.
type R struct {
	// Buffer is the backing buffer for this reader.
	Buffer []byte

	// pos is the R's position within Buffer.
	pos int64
}

var _ interface {
	io.Reader
	io.ByteReader
	io.Seeker
} = (*R)(nil)

// Reset points r at buf and rewinds its cursor to the beginning.
func (r *R) Reset(buf []byte) {
	r.Buffer = buf
	r.pos = 0
}

func (r *R) remainingSlice() []byte {
	if r.pos >= int64(len(r.Buffer)) {
		return nil
	}
	return r.Buffer[r.pos:]
}

// Remaining returns the number of bytes remaining in the reader, from the
// current position.
func (r *R) Remaining() int { return len(r.remainingSlice()) }

// Read implements io.Reader.
func (r *R) Read(b []byte) (amt int, err error) {
	remaining := r.remainingSlice()
	amt = copy(b, remaining)

	r.pos += int64(amt)
	if r.pos >= int64(len(r.Buffer)) {
		err = io.EOF
	}
	return
}

// ReadByte implements io.ByteReader.
func (r *R) ReadByte() (b byte, err error) {
	if r.pos >= int64(len(r.Buffer)) {
		return 0, io.EOF
	}

	b, r.pos = r.Buffer[r.pos], r.pos+1
	return
}

// Seek implements io.Seeker.
//
// Unlike a general stream, seeking to len(Buffer) is valid; it leaves the
// reader exhausted.
func (r *R) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = r.pos + offset
	case io.SeekEnd:
		newPos = int64(len(r.Buffer)) + offset
	default:
		return r.pos, errors.Errorf("unknown whence value %d", whence)
	}

	if newPos < 0 || newPos > int64(len(r.Buffer)) {
		return r.pos, errors.New("seek outside of bounds")
	}

	r.pos = newPos
	return r.pos, nil
}
