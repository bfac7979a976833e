// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package message implements the structured message stream codec: a pair of
// streaming transforms that wrap an arbitrary byte payload into a
// self-describing, integrity-checked binary frame, and unwrap it back to the
// original bytes while validating integrity incrementally.
//
// A version-1 structured message has the following layout, with all
// multi-byte integers little-endian:
//
//	Message header (13 bytes):
//	  [0]     version       u8   = 1
//	  [1:9)   totalLength   u64  (entire framed message, header included)
//	  [9:11)  flags         u16  (bit 0 = CRC64 footers present)
//	  [11:13) segmentCount  u16
//
//	Per segment:
//	  [+0:2)        segmentNumber  u16  (1-indexed, sequential)
//	  [+2:10)       segmentLength  u64  = N
//	  [+10:10+N)    content        N bytes
//	  [+10+N:+8)    segmentCrc64   u64  (only if the CRC64 flag is set)
//
//	Message footer (only if the CRC64 flag is set):
//	  messageCrc64  u64  (chained CRC64 over all segment content, in order)
//
// The payload is split into max(1, ceil(payloadLength/segmentSize)) segments;
// a zero-length payload still yields exactly one empty segment. The message
// CRC64 is chained: the seed of each segment's contribution is the
// accumulated value of the segments before it.
//
// EncodeStream produces this frame lazily from a byte source, without
// materializing it; DecodeStream consumes it, yielding only payload bytes
// and validating every structural and integrity constraint as it goes. The
// two streams share the wire layout but have independent state machines and
// no shared mutable state.
//
// Both streams are synchronous and pull-based, and are drop-in substitutable
// for a plain byte stream at a transport boundary. Neither is safe for
// concurrent use without external synchronization.
package message
