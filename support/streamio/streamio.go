// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package streamio models byte sources with explicit capabilities.
//
// The standard library expresses optional stream capabilities through
// interface upgrades (io.Seeker, io.Closer). Source performs those upgrades
// once, at wrap time, and exposes the result as queryable state, so stream
// code can branch on a capability instead of repeating type assertions.
package streamio

import (
	"io"

	"github.com/pkg/errors"
)

// ErrNotSeekable is returned by Seek and Tell when the wrapped reader does
// not support repositioning.
var ErrNotSeekable = errors.New("streamio: source is not seekable")

// Source is a byte source with an explicit seekability capability.
//
// A Source is created with MakeSource. Its zero value is not usable.
//
// Source is not safe for concurrent use.
type Source struct {
	r io.Reader

	// s is the seeker view of r, or nil if r cannot seek.
	s io.Seeker
}

// MakeSource wraps r in a Source.
//
// If r implements io.Seeker, the returned Source is seekable. The Source
// does not assume ownership of r; Close is a best-effort passthrough.
func MakeSource(r io.Reader) *Source {
	s, _ := r.(io.Seeker)
	return &Source{r: r, s: s}
}

// Read implements io.Reader.
func (src *Source) Read(p []byte) (int, error) { return src.r.Read(p) }

// Seekable returns true if the underlying reader supports Seek.
func (src *Source) Seekable() bool { return src.s != nil }

// Seek implements io.Seeker.
//
// If the Source is not seekable, Seek returns ErrNotSeekable.
func (src *Source) Seek(offset int64, whence int) (int64, error) {
	if src.s == nil {
		return 0, ErrNotSeekable
	}
	return src.s.Seek(offset, whence)
}

// Tell returns the current offset of the underlying reader.
//
// If the Source is not seekable, Tell returns ErrNotSeekable.
func (src *Source) Tell() (int64, error) {
	if src.s == nil {
		return 0, ErrNotSeekable
	}
	return src.s.Seek(0, io.SeekCurrent)
}

// Close closes the underlying reader if it implements io.Closer.
//
// Sources wrapping non-Closer readers return nil.
func (src *Source) Close() error {
	if c, ok := src.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
