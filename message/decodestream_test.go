// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package message

import (
	"bytes"
	"encoding/binary"
	"io"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"
)

// decodeOver creates a DecodeStream over an in-memory frame, declaring the
// frame's actual length.
func decodeOver(frame []byte) (*DecodeStream, error) {
	return NewDecodeStream(bytes.NewReader(frame), int64(len(frame)))
}

// closeRecorder is an io.ReadCloser that records whether it was closed.
type closeRecorder struct {
	io.Reader
	closed bool
}

func (c *closeRecorder) Close() error {
	c.closed = true
	return nil
}

var _ = Describe("DecodeStream", func() {
	DescribeTable("round-trips encoded payloads",
		func(payload []byte, segmentSize int64, flags Flags) {
			frame := buildFrame(payload, segmentSize, flags)

			ds, err := decodeOver(frame)
			Expect(err).ToNot(HaveOccurred())
			Expect(ds.PayloadLength()).To(Equal(int64(len(payload))))

			out, err := io.ReadAll(ds)
			Expect(err).ToNot(HaveOccurred())
			Expect(out).To(Equal(append([]byte{}, payload...)))
		},

		Entry("empty payload with CRC64", []byte{}, int64(1), FlagCRC64),
		Entry("empty payload without CRC64", []byte{}, int64(512), FlagNone),
		Entry("one exact segment without CRC64", randomBytes(31, 10), int64(10), FlagNone),
		Entry("two exact segments with CRC64", randomBytes(32, 1024), int64(512), FlagCRC64),
		Entry("partial trailing segment with CRC64", randomBytes(33, 1000), int64(512), FlagCRC64),
		Entry("one byte segments with CRC64", randomBytes(34, 5), int64(1), FlagCRC64),
		Entry("many segments without CRC64", randomBytes(35, 3000), int64(7), FlagNone),
	)

	It("round-trips the encode stream's own output", func() {
		payload := randomBytes(36, 4096+1)
		es := encodeOver(payload, 1024, FlagCRC64)

		frame, err := io.ReadAll(es)
		Expect(err).ToNot(HaveOccurred())

		ds, err := decodeOver(frame)
		Expect(err).ToNot(HaveOccurred())

		out, err := io.ReadAll(ds)
		Expect(err).ToNot(HaveOccurred())
		Expect(out).To(Equal(payload))
	})

	Context("chunk-size independence", func() {
		payload := randomBytes(37, 3000)
		frame := buildFrame(payload, 700, FlagCRC64)

		It("is byte-identical across read partitionings", func() {
			ds, err := decodeOver(frame)
			Expect(err).ToNot(HaveOccurred())
			oneAtATime, err := readInChunks(ds, 1)
			Expect(err).ToNot(HaveOccurred())
			Expect(oneAtATime).To(Equal(payload))

			ds, err = decodeOver(frame)
			Expect(err).ToNot(HaveOccurred())
			ragged, err := readInChunks(ds, 11, 1, 255, 3, 1000)
			Expect(err).ToNot(HaveOccurred())
			Expect(ragged).To(Equal(payload))
		})
	})

	Context("construction failures", func() {
		It("rejects a non-positive declared length", func() {
			_, err := NewDecodeStream(bytes.NewReader(nil), 0)
			Expect(err).To(HaveOccurred())
			Expect(IsFramingError(err)).To(BeTrue())

			_, err = NewDecodeStream(bytes.NewReader(nil), -5)
			Expect(IsFramingError(err)).To(BeTrue())
		})

		It("rejects an empty source", func() {
			_, err := NewDecodeStream(bytes.NewReader(nil), 39)
			Expect(err).To(HaveOccurred())
			Expect(IsFramingError(err)).To(BeTrue())
		})

		It("rejects a truncated header", func() {
			frame := buildFrame(nil, 1, FlagCRC64)
			_, err := NewDecodeStream(bytes.NewReader(frame[:7]), int64(len(frame)))
			Expect(IsFramingError(err)).To(BeTrue())
		})

		It("rejects an unsupported version", func() {
			frame := buildFrame(randomBytes(40, 10), 10, FlagNone)
			frame[0] = 2

			_, err := decodeOver(frame)
			Expect(err).To(HaveOccurred())
			Expect(IsFramingError(err)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("version"))
		})

		It("rejects a declared length that disagrees with the header", func() {
			frame := buildFrame(randomBytes(41, 10), 10, FlagNone)

			_, err := NewDecodeStream(bytes.NewReader(frame), int64(len(frame)+1))
			Expect(IsFramingError(err)).To(BeTrue())
		})

		It("rejects a zero segment count", func() {
			frame := buildFrame(randomBytes(42, 10), 10, FlagNone)
			binary.LittleEndian.PutUint16(frame[11:13], 0)

			_, err := decodeOver(frame)
			Expect(IsFramingError(err)).To(BeTrue())
		})

		It("rejects a segment count too large for the message length", func() {
			frame := buildFrame(randomBytes(43, 4), 4, FlagNone)
			binary.LittleEndian.PutUint16(frame[11:13], 100)

			_, err := decodeOver(frame)
			Expect(IsFramingError(err)).To(BeTrue())
		})
	})

	Context("structural validation", func() {
		It("fails on an out-of-sequence segment number", func() {
			frame := buildFrame(randomBytes(50, 20), 10, FlagNone)
			// Second segment header sits after the first segment's region.
			binary.LittleEndian.PutUint16(frame[13+10+10:], 7)

			ds, err := decodeOver(frame)
			Expect(err).ToNot(HaveOccurred())

			_, err = io.ReadAll(ds)
			Expect(err).To(HaveOccurred())
			Expect(IsFramingError(err)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("out-of-sequence"))
		})

		It("fails before exhausting the message when more segments are declared than present", func() {
			// Two 100-byte segments, but a header claiming four segments of
			// the same total message length.
			frame := buildFrame(randomBytes(51, 200), 100, FlagNone)
			binary.LittleEndian.PutUint16(frame[11:13], 4)

			ds, err := decodeOver(frame)
			Expect(err).ToNot(HaveOccurred())

			out, err := readInChunks(ds, 64)
			Expect(err).To(HaveOccurred())
			Expect(IsFramingError(err)).To(BeTrue())
			// The failure surfaces before the declared byte count runs out.
			Expect(len(out)).To(BeNumerically("<", 200))
		})

		It("fails when a segment claims more content than the message holds", func() {
			frame := buildFrame(randomBytes(52, 20), 10, FlagNone)
			// Inflate the first segment's declared length.
			binary.LittleEndian.PutUint64(frame[13+2:], 1000)

			ds, err := decodeOver(frame)
			Expect(err).ToNot(HaveOccurred())

			_, err = io.ReadAll(ds)
			Expect(IsFramingError(err)).To(BeTrue())
		})

		It("fails when the final segment leaves payload unaccounted", func() {
			frame := buildFrame(randomBytes(53, 20), 10, FlagNone)
			// Shrink the final segment's declared length.
			binary.LittleEndian.PutUint64(frame[13+10+10+2:], 4)

			ds, err := decodeOver(frame)
			Expect(err).ToNot(HaveOccurred())

			_, err = io.ReadAll(ds)
			Expect(IsFramingError(err)).To(BeTrue())
		})

		It("fails when the source ends inside segment content", func() {
			frame := buildFrame(randomBytes(54, 100), 100, FlagNone)

			ds, err := NewDecodeStream(bytes.NewReader(frame[:50]), int64(len(frame)))
			Expect(err).ToNot(HaveOccurred())

			_, err = io.ReadAll(ds)
			Expect(IsFramingError(err)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("truncated"))
		})
	})

	Context("integrity validation", func() {
		payload := randomBytes(60, 1024)

		frameOffsets := struct {
			seg1Footer int64
			msgFooter  int64
		}{
			seg1Footer: 13 + 10 + 512,
			msgFooter:  1081 - 8,
		}

		corrupt := func(offset int64) *DecodeStream {
			frame := buildFrame(payload, 512, FlagCRC64)
			frame[offset] ^= 0x01

			ds, err := decodeOver(frame)
			Expect(err).ToNot(HaveOccurred())
			return ds
		}

		It("fails with IntegrityError on a corrupted segment footer", func() {
			ds := corrupt(frameOffsets.seg1Footer)

			_, err := io.ReadAll(ds)
			Expect(err).To(HaveOccurred())
			Expect(IsIntegrityError(err)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("CRC64 mismatch"))
			Expect(err.Error()).To(ContainSubstring("segment 1"))
		})

		It("fails with IntegrityError on a corrupted message footer", func() {
			ds := corrupt(frameOffsets.msgFooter)

			_, err := io.ReadAll(ds)
			Expect(IsIntegrityError(err)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("message"))
		})

		It("fails with IntegrityError on corrupted content", func() {
			ds := corrupt(13 + 10 + 100) // inside segment 1's content

			_, err := io.ReadAll(ds)
			Expect(IsIntegrityError(err)).To(BeTrue())
		})

		It("yields corrupted bytes before the segment check detects them", func() {
			// Integrity violations surface at the segment boundary, after
			// the affected content has already been handed out. Completion
			// without error is the integrity guarantee, not each read.
			ds := corrupt(13 + 10 + 100)

			head := make([]byte, 256)
			n, err := io.ReadFull(ds, head)
			Expect(err).ToNot(HaveOccurred())
			Expect(n).To(Equal(256))

			_, err = io.ReadAll(ds)
			Expect(IsIntegrityError(err)).To(BeTrue())
		})

		It("distinguishes framing corruption from integrity corruption", func() {
			// A corrupted segment number is structural, not an integrity
			// failure, even with CRC64 enabled.
			frame := buildFrame(payload, 512, FlagCRC64)
			binary.LittleEndian.PutUint16(frame[13:], 9)

			ds, err := decodeOver(frame)
			Expect(err).ToNot(HaveOccurred())

			_, err = io.ReadAll(ds)
			Expect(IsFramingError(err)).To(BeTrue())
			Expect(IsIntegrityError(err)).To(BeFalse())
		})
	})

	Context("terminal behavior", func() {
		It("returns io.EOF repeatedly after completion", func() {
			ds, err := decodeOver(buildFrame(randomBytes(70, 10), 10, FlagCRC64))
			Expect(err).ToNot(HaveOccurred())

			_, err = io.ReadAll(ds)
			Expect(err).ToNot(HaveOccurred())

			buf := make([]byte, 16)
			for i := 0; i < 3; i++ {
				n, err := ds.Read(buf)
				Expect(n).To(Equal(0))
				Expect(err).To(Equal(io.EOF))
			}
		})

		It("repeats the same error once failed", func() {
			frame := buildFrame(randomBytes(71, 100), 100, FlagCRC64)
			frame[len(frame)-1] ^= 0x01

			ds, err := decodeOver(frame)
			Expect(err).ToNot(HaveOccurred())

			_, firstErr := io.ReadAll(ds)
			Expect(IsIntegrityError(firstErr)).To(BeTrue())

			_, repeatErr := ds.Read(make([]byte, 16))
			Expect(repeatErr).To(Equal(firstErr))
		})

		It("passes Close through to a closable source", func() {
			frame := buildFrame(randomBytes(72, 10), 10, FlagNone)
			cr := &closeRecorder{Reader: bytes.NewReader(frame)}

			ds, err := NewDecodeStream(cr, int64(len(frame)))
			Expect(err).ToNot(HaveOccurred())

			Expect(ds.Close()).To(Succeed())
			Expect(cr.closed).To(BeTrue())
		})
	})
})
