// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package message

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/danjacques/gostructmsg/support/byteslicereader"
	"github.com/danjacques/gostructmsg/support/checksum"
	"github.com/danjacques/gostructmsg/support/logging"
	"github.com/danjacques/gostructmsg/support/streamio"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"
)

// encodePhase identifies the region of the framed message that an
// EncodeStream is currently producing.
type encodePhase int

const (
	phaseMessageHeader encodePhase = iota
	phaseSegmentHeader
	phaseSegmentContent
	phaseSegmentFooter
	phaseMessageFooter
	phaseEOF
)

func (p encodePhase) String() string {
	switch p {
	case phaseMessageHeader:
		return "MessageHeader"
	case phaseSegmentHeader:
		return "SegmentHeader"
	case phaseSegmentContent:
		return "SegmentContent"
	case phaseSegmentFooter:
		return "SegmentFooter"
	case phaseMessageFooter:
		return "MessageFooter"
	case phaseEOF:
		return "EOF"
	default:
		return "UNKNOWN"
	}
}

// framePosition is a resolved location within the framed byte space.
type framePosition struct {
	phase   encodePhase
	segment uint16 // 1-indexed; valid in segment phases

	// phaseOffset is the byte offset within the phase's region.
	phaseOffset int64

	// payloadOffset is the count of payload bytes that precede this
	// position's resumption point.
	payloadOffset int64
}

// EncodeStream presents a finite byte source as a readable stream whose
// bytes are the framed structured message. The frame is produced lazily:
// header and footer bytes are staged in a small scratch buffer on phase
// entry, and content bytes are pulled from the source on demand. The full
// frame is never materialized.
//
// EncodeStream must be created with NewEncodeStream.
//
// EncodeStream is not safe for concurrent use.
type EncodeStream struct {
	// Logger, if not nil, receives debug-level phase tracing.
	Logger logging.L

	src           *streamio.Source
	payloadLength int64
	segmentSize   int64
	flags         Flags
	props         Properties
	segmentCount  uint16
	frameLength   int64

	// srcBase is the source offset corresponding to payload byte 0. It is
	// captured at construction time from seekable sources, supporting
	// sources that were already advanced before being wrapped.
	srcBase int64

	phase   encodePhase
	segment uint16

	// contentRemaining is the count of the current segment's content bytes
	// not yet produced.
	contentRemaining int64

	// buf holds the staged bytes of the current header/footer phase;
	// scratch drains it across caller reads.
	buf     bytes.Buffer
	scratch byteslicereader.R

	// offset is the current absolute framed offset; produced is the
	// lifetime high-water mark, the inclusive bound for seek targets.
	offset   int64
	produced int64

	segCRC uint64
	msgCRC uint64

	closed bool
}

var _ io.ReadSeeker = (*EncodeStream)(nil)

// NewEncodeStream creates an EncodeStream framing payloadLength bytes of
// src into segments of at most segmentSize bytes.
//
// src must yield at least payloadLength bytes. If src is seekable, its
// current offset is captured as the position of payload byte 0, and
// backward seeks become available on the returned stream.
//
// The stream does not assume ownership of src.
func NewEncodeStream(src *streamio.Source, payloadLength, segmentSize int64, flags Flags) (*EncodeStream, error) {
	if payloadLength < 0 {
		return nil, errors.Errorf("negative payload length %d", payloadLength)
	}
	if segmentSize < 1 {
		return nil, errors.Errorf("segment size %d must be at least 1", segmentSize)
	}
	segments := SegmentCountFor(payloadLength, segmentSize)
	if segments > MaxSegmentCount {
		return nil, errors.Errorf("payload of %d bytes requires %d segments, exceeding the maximum of %d",
			payloadLength, segments, MaxSegmentCount)
	}

	es := EncodeStream{
		src:           src,
		payloadLength: payloadLength,
		segmentSize:   segmentSize,
		flags:         flags,
		props:         flags.Properties(),
		segmentCount:  uint16(segments),
		frameLength:   FramedLength(payloadLength, segmentSize, flags),
	}

	if src.Seekable() {
		base, err := src.Tell()
		if err != nil {
			return nil, errors.Wrap(err, "capturing source offset")
		}
		es.srcBase = base
	}

	if err := es.stageMessageHeader(); err != nil {
		return nil, err
	}
	return &es, nil
}

// Len returns the total framed length of the message.
//
// Len is computed from the payload length, segment size, and flags; it does
// not depend on reading any source bytes.
func (es *EncodeStream) Len() int64 { return es.frameLength }

// PayloadLength returns the length of the unframed payload.
func (es *EncodeStream) PayloadLength() int64 { return es.payloadLength }

// SegmentCount returns the number of segments in the framed message.
func (es *EncodeStream) SegmentCount() uint16 { return es.segmentCount }

// Flags returns the feature bitmask the stream was created with.
func (es *EncodeStream) Flags() Flags { return es.flags }

// Seekable returns true if the wrapped source supports seeking.
func (es *EncodeStream) Seekable() bool { return es.src.Seekable() }

// Close releases the stream's scratch state.
//
// Close does not close the wrapped source; the stream does not own it.
func (es *EncodeStream) Close() error {
	es.closed = true
	es.scratch.Reset(nil)
	es.buf = bytes.Buffer{}
	return nil
}

// Read produces up to len(p) bytes of framed output, advancing through
// frame phases as needed. Source bytes are pulled only while producing
// segment content.
//
// Read returns io.EOF once the entire frame has been produced.
func (es *EncodeStream) Read(p []byte) (int, error) {
	if es.closed {
		return 0, errors.New("encode stream is closed")
	}

	total := 0
	for len(p) > 0 {
		if es.phase == phaseEOF {
			if total == 0 {
				return 0, io.EOF
			}
			break
		}

		var (
			n   int
			err error
		)
		if es.phase == phaseSegmentContent {
			n, err = es.readContent(p)
		} else {
			n, err = es.readStaged(p)
		}

		total += n
		p = p[n:]
		es.offset += int64(n)
		if es.offset > es.produced {
			es.produced = es.offset
		}

		if err != nil {
			encodedBytes.Add(float64(total))
			return total, err
		}
	}

	encodedBytes.Add(float64(total))
	return total, nil
}

// readStaged drains the scratch buffer of the current header/footer phase,
// advancing to the next phase once it is exhausted.
func (es *EncodeStream) readStaged(p []byte) (int, error) {
	n, _ := es.scratch.Read(p)
	if es.scratch.Remaining() == 0 {
		if err := es.advanceStaged(); err != nil {
			return n, err
		}
	}
	return n, nil
}

// readContent pulls segment content from the source, feeding the checksum
// accumulators, and advances past the segment once its content is complete.
func (es *EncodeStream) readContent(p []byte) (int, error) {
	if es.contentRemaining == 0 {
		return 0, es.finishContent()
	}

	want := int64(len(p))
	if want > es.contentRemaining {
		want = es.contentRemaining
	}

	n, err := es.src.Read(p[:want])
	if n > 0 {
		if es.props.UseCRC64 {
			es.segCRC = checksum.Update(es.segCRC, p[:n])
			es.msgCRC = checksum.Update(es.msgCRC, p[:n])
		}
		es.contentRemaining -= int64(n)
	}

	switch {
	case err == io.EOF && es.contentRemaining > 0:
		return n, errors.Wrapf(io.ErrUnexpectedEOF,
			"source ended with %d bytes of segment %d content unread", es.contentRemaining, es.segment)
	case err != nil && err != io.EOF:
		return n, errors.Wrapf(err, "reading segment %d content", es.segment)
	}

	if es.contentRemaining == 0 {
		return n, es.finishContent()
	}
	return n, nil
}

// advanceStaged moves from a drained header/footer phase to its successor.
func (es *EncodeStream) advanceStaged() error {
	switch es.phase {
	case phaseMessageHeader:
		return es.stageSegmentHeader(1)

	case phaseSegmentHeader:
		es.contentRemaining = es.segmentLength(es.segment)
		es.setPhase(phaseSegmentContent)
		return nil

	case phaseSegmentFooter:
		return es.nextSegmentOrFooter()

	case phaseMessageFooter:
		es.setPhase(phaseEOF)
		encodedMessages.Inc()
		return nil

	default:
		return errors.Errorf("cannot advance from phase %s", es.phase)
	}
}

// finishContent moves past a fully-produced segment content region.
func (es *EncodeStream) finishContent() error {
	if es.props.UseCRC64 {
		es.stageSegmentFooter()
		return nil
	}
	return es.nextSegmentOrFooter()
}

// nextSegmentOrFooter begins the next segment, or the message trailer if
// all segments have been produced.
func (es *EncodeStream) nextSegmentOrFooter() error {
	if es.segment < es.segmentCount {
		return es.stageSegmentHeader(es.segment + 1)
	}
	if es.props.UseCRC64 {
		es.stageMessageFooter()
		return nil
	}
	es.setPhase(phaseEOF)
	encodedMessages.Inc()
	return nil
}

func (es *EncodeStream) setPhase(p encodePhase) {
	logging.Must(es.Logger).Debugf("encode: phase %s -> %s (segment %d, offset %d)",
		es.phase, p, es.segment, es.offset)
	es.phase = p
}

func (es *EncodeStream) stageMessageHeader() error {
	es.buf.Reset()
	h := MessageHeader{
		Version:      Version,
		TotalLength:  uint64(es.frameLength),
		Flags:        uint16(es.flags),
		SegmentCount: es.segmentCount,
	}
	if err := struc.Pack(&es.buf, &h); err != nil {
		return errors.Wrap(err, "packing message header")
	}

	es.scratch.Reset(es.buf.Bytes())
	es.segment = 0
	es.setPhase(phaseMessageHeader)
	return nil
}

func (es *EncodeStream) stageSegmentHeader(number uint16) error {
	es.buf.Reset()
	sh := SegmentHeader{
		Number: number,
		Length: uint64(es.segmentLength(number)),
	}
	if err := struc.Pack(&es.buf, &sh); err != nil {
		return errors.Wrapf(err, "packing segment %d header", number)
	}

	es.scratch.Reset(es.buf.Bytes())
	es.segment = number
	es.segCRC = 0
	es.setPhase(phaseSegmentHeader)
	return nil
}

func (es *EncodeStream) stageSegmentFooter() {
	var b [crc64Length]byte
	binary.LittleEndian.PutUint64(b[:], es.segCRC)
	es.buf.Reset()
	es.buf.Write(b[:])

	es.scratch.Reset(es.buf.Bytes())
	es.setPhase(phaseSegmentFooter)
}

func (es *EncodeStream) stageMessageFooter() {
	var b [crc64Length]byte
	binary.LittleEndian.PutUint64(b[:], es.msgCRC)
	es.buf.Reset()
	es.buf.Write(b[:])

	es.scratch.Reset(es.buf.Bytes())
	es.setPhase(phaseMessageFooter)
}

// segmentLength returns the content length of 1-indexed segment number.
func (es *EncodeStream) segmentLength(number uint16) int64 {
	if es.payloadLength == 0 {
		return 0
	}
	start := int64(number-1) * es.segmentSize
	if remaining := es.payloadLength - start; remaining < es.segmentSize {
		return remaining
	}
	return es.segmentSize
}

// Seek repositions the stream to an absolute framed offset.
//
// Only targets at or before the stream's lifetime high-water mark of
// produced bytes are valid: Seek can rewind, or no-op to the furthest point
// already reached, but can never jump the stream forward over bytes it has
// not yet produced. Invalid targets, and any Seek on a stream wrapping a
// non-seekable source, fail with an UnsupportedOperationError.
//
// On success, the wrapped source is repositioned to the payload offset
// corresponding to the target (relative to the source offset captured at
// construction), and checksum accumulators are rebuilt by re-reading the
// affected payload prefix. Segment content is a deterministic function of
// source bytes, so the re-read reproduces identical checksums; no checksum
// state is cached across seeks.
func (es *EncodeStream) Seek(offset int64, whence int) (int64, error) {
	if es.closed {
		return 0, errors.New("encode stream is closed")
	}
	if !es.src.Seekable() {
		return 0, &UnsupportedOperationError{Op: "seek", Reason: "source is not seekable"}
	}

	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = es.offset + offset
	case io.SeekEnd:
		target = es.frameLength + offset
	default:
		return 0, errors.Errorf("unknown whence value %d", whence)
	}

	if target < 0 {
		return 0, &UnsupportedOperationError{Op: "seek", Reason: "negative target offset"}
	}
	if target > es.produced {
		return 0, &UnsupportedOperationError{
			Op:     "seek",
			Reason: fmt.Sprintf("target offset %d is beyond the %d bytes produced so far", target, es.produced),
		}
	}

	if err := es.restore(target); err != nil {
		return 0, err
	}
	encodeSeeks.Inc()
	return target, nil
}

// restore rewinds stream state to the absolute framed offset target.
func (es *EncodeStream) restore(target int64) error {
	loc := es.locate(target)
	logging.Must(es.Logger).Debugf("encode: restoring offset %d (phase %s, segment %d, phase offset %d)",
		target, loc.phase, loc.segment, loc.phaseOffset)

	// Reposition the source and rebuild the checksum accumulators over the
	// payload prefix that precedes the resumption point.
	if err := es.replayPayload(loc); err != nil {
		return err
	}

	switch loc.phase {
	case phaseMessageHeader:
		if err := es.stageMessageHeader(); err != nil {
			return err
		}

	case phaseSegmentHeader:
		if err := es.stageSegmentHeader(loc.segment); err != nil {
			return err
		}

	case phaseSegmentContent:
		es.segment = loc.segment
		es.contentRemaining = es.segmentLength(loc.segment) - loc.phaseOffset
		es.scratch.Reset(nil)
		es.setPhase(phaseSegmentContent)

	case phaseSegmentFooter:
		es.segment = loc.segment
		es.contentRemaining = 0
		es.stageSegmentFooter()

	case phaseMessageFooter:
		es.stageMessageFooter()

	case phaseEOF:
		es.scratch.Reset(nil)
		es.setPhase(phaseEOF)
	}

	// Header/footer phases resume mid-region.
	if loc.phase != phaseSegmentContent && loc.phase != phaseEOF {
		if _, err := es.scratch.Seek(loc.phaseOffset, io.SeekStart); err != nil {
			return errors.Wrap(err, "positioning scratch cursor")
		}
	}

	es.offset = target
	return nil
}

// replayPayload repositions the source at loc's payload offset. When CRC64
// is enabled, the prefix is streamed back through the accumulators instead
// of being skipped.
func (es *EncodeStream) replayPayload(loc framePosition) error {
	es.segCRC, es.msgCRC = 0, 0

	if _, err := es.src.Seek(es.srcBase, io.SeekStart); err != nil {
		return errors.Wrap(err, "rewinding source")
	}

	if !es.props.UseCRC64 || loc.phase == phaseEOF {
		// No accumulators to rebuild; skip directly to the payload offset.
		if loc.payloadOffset > 0 {
			if _, err := es.src.Seek(es.srcBase+loc.payloadOffset, io.SeekStart); err != nil {
				return errors.Wrap(err, "positioning source")
			}
		}
		return nil
	}

	// segStart is the payload offset where the target segment's content
	// begins; segCRC accumulates only bytes at or after it.
	segStart := int64(0)
	if loc.segment > 0 {
		segStart = int64(loc.segment-1) * es.segmentSize
	}

	buf := make([]byte, 32*1024)
	pos := int64(0)
	for pos < loc.payloadOffset {
		n := int64(len(buf))
		if remaining := loc.payloadOffset - pos; remaining < n {
			n = remaining
		}
		if _, err := io.ReadFull(es.src, buf[:n]); err != nil {
			return errors.Wrap(err, "re-reading payload prefix")
		}

		es.msgCRC = checksum.Update(es.msgCRC, buf[:n])
		if end := pos + n; end > segStart {
			from := segStart - pos
			if from < 0 {
				from = 0
			}
			es.segCRC = checksum.Update(es.segCRC, buf[from:n])
		}
		pos += n
	}
	return nil
}

// locate resolves an absolute framed offset to its phase, segment, and
// intra-phase cursor.
func (es *EncodeStream) locate(target int64) framePosition {
	if target >= es.frameLength {
		return framePosition{phase: phaseEOF, payloadOffset: es.payloadLength}
	}
	if target < messageHeaderLength {
		return framePosition{phase: phaseMessageHeader, phaseOffset: target}
	}

	crcLen := int64(0)
	if es.props.UseCRC64 {
		crcLen = crc64Length

		if footerStart := es.frameLength - crc64Length; target >= footerStart {
			return framePosition{
				phase:         phaseMessageFooter,
				phaseOffset:   target - footerStart,
				payloadOffset: es.payloadLength,
			}
		}
	}

	// All segments but the last span a fixed region, so the target segment
	// falls out of integer division.
	region := segmentHeaderLength + es.segmentSize + crcLen
	idx := (target - messageHeaderLength) / region
	if idx >= int64(es.segmentCount) {
		idx = int64(es.segmentCount) - 1
	}

	number := uint16(idx + 1)
	segLen := es.segmentLength(number)
	segStartPayload := idx * es.segmentSize

	r := target - messageHeaderLength - idx*region
	switch {
	case r < segmentHeaderLength:
		return framePosition{
			phase:         phaseSegmentHeader,
			segment:       number,
			phaseOffset:   r,
			payloadOffset: segStartPayload,
		}

	case r < segmentHeaderLength+segLen:
		contentOffset := r - segmentHeaderLength
		return framePosition{
			phase:         phaseSegmentContent,
			segment:       number,
			phaseOffset:   contentOffset,
			payloadOffset: segStartPayload + contentOffset,
		}

	default:
		return framePosition{
			phase:         phaseSegmentFooter,
			segment:       number,
			phaseOffset:   r - segmentHeaderLength - segLen,
			payloadOffset: segStartPayload + segLen,
		}
	}
}
