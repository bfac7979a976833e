// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package message

import (
	"strings"
)

// Flags is the wire-level feature bitmask carried in the message header.
//
// Only the low bit is currently assigned; the remaining bits are reserved.
// Decoders ignore reserved bits rather than rejecting them.
type Flags uint16

const (
	// FlagNone declares no optional message features.
	FlagNone Flags = 0

	// FlagCRC64 declares that each segment carries a CRC64 footer, and that
	// the message carries a chained CRC64 footer.
	FlagCRC64 Flags = 1 << 0
)

func (f Flags) String() string {
	if f == FlagNone {
		return "NONE"
	}

	var parts []string
	if f&FlagCRC64 != 0 {
		parts = append(parts, "CRC64")
	}
	if rest := f &^ FlagCRC64; rest != 0 {
		parts = append(parts, "RESERVED")
	}
	return strings.Join(parts, "|")
}

// Properties is the decoded form of Flags: one named boolean per assigned
// bit. Stream internals branch on Properties, never on raw bits.
type Properties struct {
	// UseCRC64 is true if segment and message CRC64 footers are present.
	UseCRC64 bool
}

// Properties decodes f into its Properties form.
func (f Flags) Properties() Properties {
	return Properties{
		UseCRC64: f&FlagCRC64 != 0,
	}
}

// Flags re-encodes p into its wire-level bitmask.
func (p Properties) Flags() Flags {
	var f Flags
	if p.UseCRC64 {
		f |= FlagCRC64
	}
	return f
}
