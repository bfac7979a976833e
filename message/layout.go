// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package message

const (
	// Version is the structured message wire format version produced and
	// accepted by this package.
	Version = 1

	// MaxSegmentCount is the largest number of segments a message can
	// declare, bounded by the width of the segment count field.
	MaxSegmentCount = 0xFFFF

	// messageHeaderLength is the fixed size of the message header.
	messageHeaderLength = 13

	// segmentHeaderLength is the fixed size of each segment header.
	segmentHeaderLength = 10

	// crc64Length is the size of a CRC64 footer.
	crc64Length = 8
)

// MessageHeader is the fixed preamble of a structured message.
//
// All multi-byte fields are little-endian. The header occupies exactly
// messageHeaderLength bytes on the wire:
//
//	[0]     version       u8
//	[1:9)   totalLength   u64  (entire framed message, header included)
//	[9:11)  flags         u16
//	[11:13) segmentCount  u16
type MessageHeader struct {
	Version      uint8
	TotalLength  uint64 `struc:",little"`
	Flags        uint16 `struc:",little"`
	SegmentCount uint16 `struc:",little"`
}

// SegmentHeader precedes each segment's content:
//
//	[0:2)  segmentNumber  u16  (1-indexed, strictly sequential)
//	[2:10) segmentLength  u64
type SegmentHeader struct {
	Number uint16 `struc:",little"`
	Length uint64 `struc:",little"`
}

// SegmentCountFor returns the number of segments a payload of the given
// length divides into.
//
// A zero-length payload still occupies exactly one (empty) segment.
func SegmentCountFor(payloadLength, segmentSize int64) int64 {
	if payloadLength == 0 {
		return 1
	}
	return (payloadLength + segmentSize - 1) / segmentSize
}

// FramedLength returns the exact size, in bytes, of the framed message for
// a payload of the given length, segment size, and flags.
//
// The framed size is fully determined by these three values; no payload
// bytes need to be examined.
func FramedLength(payloadLength, segmentSize int64, flags Flags) int64 {
	segments := SegmentCountFor(payloadLength, segmentSize)

	total := int64(messageHeaderLength)
	total += segments * segmentHeaderLength
	total += payloadLength
	if flags.Properties().UseCRC64 {
		total += segments * crc64Length // per-segment footers
		total += crc64Length            // message footer
	}
	return total
}

// framingOverhead returns the non-payload byte count of a message with the
// given segment count and properties.
func framingOverhead(segments int64, props Properties) int64 {
	overhead := int64(messageHeaderLength) + segments*segmentHeaderLength
	if props.UseCRC64 {
		overhead += segments*crc64Length + crc64Length
	}
	return overhead
}
