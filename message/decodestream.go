// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package message

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/danjacques/gostructmsg/support/checksum"
	"github.com/danjacques/gostructmsg/support/logging"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"
)

// decodeState identifies the frame region a DecodeStream expects next.
// The message header is consumed at construction time.
type decodeState int

const (
	stateSegmentHeader decodeState = iota
	stateSegmentContent
	stateSegmentFooter
	stateMessageFooter
	stateDone
)

func (s decodeState) String() string {
	switch s {
	case stateSegmentHeader:
		return "SegmentHeader"
	case stateSegmentContent:
		return "SegmentContent"
	case stateSegmentFooter:
		return "SegmentFooter"
	case stateMessageFooter:
		return "MessageFooter"
	case stateDone:
		return "Done"
	default:
		return "UNKNOWN"
	}
}

// DecodeStream unwraps a single structured message, exposing only the
// original payload bytes. Every structural constraint of the wire format,
// and (when the message declares CRC64) every integrity constraint, is
// validated inline as bytes are consumed; the first violation fails the
// stream permanently.
//
// DecodeStream must be created with NewDecodeStream.
//
// DecodeStream is not safe for concurrent use.
type DecodeStream struct {
	// Logger, if not nil, receives debug-level state tracing.
	Logger logging.L

	src           io.Reader
	messageLength int64
	props         Properties
	segmentCount  uint16
	payloadLength int64

	state   decodeState
	segment uint16

	// consumed counts framed bytes taken from the source.
	consumed int64

	// payloadSeen counts content bytes accounted for by segment headers.
	payloadSeen int64

	// contentRemaining is the count of the current segment's content bytes
	// not yet yielded.
	contentRemaining int64

	segCRC uint64
	msgCRC uint64

	// err is sticky: once the stream fails or completes, every subsequent
	// Read reports the same result.
	err error
}

var _ io.ReadCloser = (*DecodeStream)(nil)

// NewDecodeStream creates a DecodeStream over a source containing exactly
// one framed message of messageLength total bytes.
//
// The 13-byte message header is read and validated immediately: the
// construction fails with a FramingError if messageLength is not positive,
// the source is empty or truncated, the format version is unsupported, or
// the header's declared total length differs from messageLength.
//
// The stream does not assume ownership of src beyond a best-effort Close
// passthrough.
func NewDecodeStream(src io.Reader, messageLength int64) (*DecodeStream, error) {
	if messageLength <= 0 {
		return nil, framingErrorf("declared message length must be positive, got %d", messageLength)
	}

	var hdr [messageHeaderLength]byte
	switch _, err := io.ReadFull(src, hdr[:]); err {
	case nil:
	case io.EOF:
		return nil, framingErrorf("empty message")
	case io.ErrUnexpectedEOF:
		return nil, framingErrorf("truncated message header")
	default:
		return nil, errors.Wrap(err, "reading message header")
	}

	var h MessageHeader
	if err := struc.Unpack(bytes.NewReader(hdr[:]), &h); err != nil {
		return nil, errors.Wrap(err, "unpacking message header")
	}

	if h.Version != Version {
		return nil, framingErrorf("unsupported message version %d (supported: %d)", h.Version, Version)
	}
	if h.TotalLength != uint64(messageLength) {
		return nil, framingErrorf("message declares total length %d, but %d was given", h.TotalLength, messageLength)
	}
	if h.SegmentCount == 0 {
		return nil, framingErrorf("message declares zero segments")
	}

	props := Flags(h.Flags).Properties()
	payloadLength := messageLength - framingOverhead(int64(h.SegmentCount), props)
	if payloadLength < 0 {
		return nil, framingErrorf("message length %d is too small for %d segments", messageLength, h.SegmentCount)
	}

	ds := DecodeStream{
		src:           src,
		messageLength: messageLength,
		props:         props,
		segmentCount:  h.SegmentCount,
		payloadLength: payloadLength,
		state:         stateSegmentHeader,
		consumed:      messageHeaderLength,
	}
	return &ds, nil
}

// MessageLength returns the total framed length of the message.
func (ds *DecodeStream) MessageLength() int64 { return ds.messageLength }

// PayloadLength returns the length of the unframed payload, derived from
// the validated message header.
func (ds *DecodeStream) PayloadLength() int64 { return ds.payloadLength }

// SegmentCount returns the number of segments the message declares.
func (ds *DecodeStream) SegmentCount() uint16 { return ds.segmentCount }

// Close closes the underlying source if it implements io.Closer.
func (ds *DecodeStream) Close() error {
	if c, ok := ds.src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Read yields up to len(p) payload bytes, consuming and validating framing
// bytes as segment boundaries are crossed. Requests may straddle segment
// boundaries freely.
//
// Read returns io.EOF only after the entire message, including its trailing
// checks, has been consumed and validated.
//
// Integrity semantics: content bytes are handed to the caller as they are
// read, but a segment's CRC64 is only compared when its footer is reached.
// A caller can therefore receive corrupted bytes before the IntegrityError
// surfaces. Error-free completion of the whole read is the integrity
// guarantee, not any individual Read call. On any error the payload bytes
// already yielded must be discarded; there is no partial-success state to
// resume from.
func (ds *DecodeStream) Read(p []byte) (int, error) {
	if ds.err != nil {
		return 0, ds.err
	}

	total := 0
	for len(p) > 0 && ds.state != stateDone {
		switch ds.state {
		case stateSegmentHeader:
			if err := ds.readSegmentHeader(); err != nil {
				decodedBytes.Add(float64(total))
				return total, ds.fail(err)
			}

		case stateSegmentContent:
			n, err := ds.readContent(p)
			total += n
			p = p[n:]
			if err != nil {
				decodedBytes.Add(float64(total))
				return total, ds.fail(err)
			}

		case stateSegmentFooter:
			if err := ds.readSegmentFooter(); err != nil {
				decodedBytes.Add(float64(total))
				return total, ds.fail(err)
			}

		case stateMessageFooter:
			if err := ds.readMessageFooter(); err != nil {
				decodedBytes.Add(float64(total))
				return total, ds.fail(err)
			}
		}
	}

	decodedBytes.Add(float64(total))
	if ds.state == stateDone && total == 0 {
		return 0, ds.fail(io.EOF)
	}
	return total, nil
}

// fail records the stream's terminal result and returns it.
func (ds *DecodeStream) fail(err error) error {
	if err != io.EOF {
		logging.Must(ds.Logger).Debugf("decode: failed in state %s (segment %d, consumed %d): %s",
			ds.state, ds.segment, ds.consumed, err)
	}
	ds.err = err
	return err
}

// readFrame reads an exact framing region from the source, counting it
// against the declared message length.
func (ds *DecodeStream) readFrame(b []byte, what string) error {
	switch _, err := io.ReadFull(ds.src, b); err {
	case nil:
	case io.EOF, io.ErrUnexpectedEOF:
		return framingErrorf("truncated %s: message ended after %d of %d declared bytes",
			what, ds.consumed, ds.messageLength)
	default:
		return errors.Wrapf(err, "reading %s", what)
	}
	ds.consumed += int64(len(b))
	return nil
}

func (ds *DecodeStream) readSegmentHeader() error {
	var raw [segmentHeaderLength]byte
	if err := ds.readFrame(raw[:], "segment header"); err != nil {
		return err
	}

	var sh SegmentHeader
	if err := struc.Unpack(bytes.NewReader(raw[:]), &sh); err != nil {
		return errors.Wrap(err, "unpacking segment header")
	}

	expected := ds.segment + 1
	if sh.Number != expected {
		return framingErrorf("out-of-sequence segment: declared number %d, expected %d", sh.Number, expected)
	}
	if sh.Length > math.MaxInt64 {
		return framingErrorf("segment %d declares unrepresentable length %d", sh.Number, sh.Length)
	}

	length := int64(sh.Length)
	remaining := ds.payloadLength - ds.payloadSeen
	if length > remaining {
		return framingErrorf("segment %d declares %d content bytes, but only %d remain in the message",
			sh.Number, length, remaining)
	}
	if sh.Number == ds.segmentCount && length != remaining {
		return framingErrorf("final segment %d declares %d content bytes, leaving %d unaccounted",
			sh.Number, length, remaining-length)
	}

	ds.segment = expected
	ds.payloadSeen += length
	ds.contentRemaining = length
	ds.segCRC = 0
	ds.state = stateSegmentContent
	logging.Must(ds.Logger).Debugf("decode: segment %d/%d, %d content bytes", ds.segment, ds.segmentCount, length)
	return nil
}

// readContent yields segment content into p, feeding the checksum
// accumulators before the bytes are handed to the caller.
func (ds *DecodeStream) readContent(p []byte) (int, error) {
	if ds.contentRemaining == 0 {
		ds.endOfContent()
		return 0, nil
	}

	want := int64(len(p))
	if want > ds.contentRemaining {
		want = ds.contentRemaining
	}

	n, err := ds.src.Read(p[:want])
	if n > 0 {
		if ds.props.UseCRC64 {
			ds.segCRC = checksum.Update(ds.segCRC, p[:n])
			ds.msgCRC = checksum.Update(ds.msgCRC, p[:n])
		}
		ds.consumed += int64(n)
		ds.contentRemaining -= int64(n)
	}

	switch {
	case err == io.EOF && ds.contentRemaining > 0:
		return n, framingErrorf("truncated segment %d content: message ended after %d of %d declared bytes",
			ds.segment, ds.consumed, ds.messageLength)
	case err != nil && err != io.EOF:
		return n, errors.Wrapf(err, "reading segment %d content", ds.segment)
	}

	if ds.contentRemaining == 0 {
		ds.endOfContent()
	}
	return n, nil
}

func (ds *DecodeStream) endOfContent() {
	if ds.props.UseCRC64 {
		ds.state = stateSegmentFooter
		return
	}
	ds.endOfSegment()
}

func (ds *DecodeStream) endOfSegment() {
	if ds.segment < ds.segmentCount {
		ds.state = stateSegmentHeader
		return
	}
	if ds.props.UseCRC64 {
		ds.state = stateMessageFooter
		return
	}
	ds.finish()
}

func (ds *DecodeStream) readSegmentFooter() error {
	var raw [crc64Length]byte
	if err := ds.readFrame(raw[:], "segment footer"); err != nil {
		return err
	}

	declared := binary.LittleEndian.Uint64(raw[:])
	if declared != ds.segCRC {
		integrityErrors.Inc()
		return &IntegrityError{
			Scope:    fmt.Sprintf("segment %d", ds.segment),
			Declared: declared,
			Computed: ds.segCRC,
		}
	}

	ds.endOfSegment()
	return nil
}

func (ds *DecodeStream) readMessageFooter() error {
	var raw [crc64Length]byte
	if err := ds.readFrame(raw[:], "message footer"); err != nil {
		return err
	}

	declared := binary.LittleEndian.Uint64(raw[:])
	if declared != ds.msgCRC {
		integrityErrors.Inc()
		return &IntegrityError{
			Scope:    "message",
			Declared: declared,
			Computed: ds.msgCRC,
		}
	}

	ds.finish()
	return nil
}

func (ds *DecodeStream) finish() {
	ds.state = stateDone
	decodedMessages.Inc()
	logging.Must(ds.Logger).Debugf("decode: message complete, %d payload bytes", ds.payloadLength)
}
