// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package message

import (
	"fmt"

	"github.com/pkg/errors"
)

// UnsupportedOperationError is returned when a stream is asked to perform
// an operation it cannot support: seeking on a non-seekable source, or
// seeking beyond the highest offset the stream has produced.
type UnsupportedOperationError struct {
	// Op is the operation that was requested.
	Op string
	// Reason describes why the operation is not supported.
	Reason string
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("unsupported %s: %s", e.Op, e.Reason)
}

// FramingError is returned when a message violates the structural contract
// of the wire format: a bad version, a length or segment count that does
// not match the declared layout, or bytes running out before the declared
// boundary.
type FramingError struct {
	// Reason describes the violated constraint.
	Reason string
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("message framing error: %s", e.Reason)
}

func framingErrorf(format string, args ...interface{}) error {
	framingErrors.Inc()
	return &FramingError{Reason: fmt.Sprintf(format, args...)}
}

// IntegrityError is returned when a computed CRC64 differs from the value
// declared in a segment or message footer. It is distinct from FramingError:
// the message structure was valid, but its content was corrupted.
type IntegrityError struct {
	// Scope identifies the checked region, e.g. "segment 3" or "message".
	Scope string
	// Declared is the CRC64 carried in the footer.
	Declared uint64
	// Computed is the CRC64 accumulated over the received content.
	Computed uint64
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("CRC64 mismatch in %s: declared 0x%016X, computed 0x%016X",
		e.Scope, e.Declared, e.Computed)
}

// IsUnsupportedOperation returns true if err is an UnsupportedOperationError.
func IsUnsupportedOperation(err error) bool {
	_, ok := errors.Cause(err).(*UnsupportedOperationError)
	return ok
}

// IsFramingError returns true if err is a FramingError.
func IsFramingError(err error) bool {
	_, ok := errors.Cause(err).(*FramingError)
	return ok
}

// IsIntegrityError returns true if err is an IntegrityError.
func IsIntegrityError(err error) bool {
	_, ok := errors.Cause(err).(*IntegrityError)
	return ok
}
