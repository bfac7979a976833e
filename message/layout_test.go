// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package message

import (
	"bytes"

	"github.com/lunixbochs/struc"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"
)

var _ = Describe("Layout", func() {
	DescribeTable("FramedLength",
		func(payloadLength, segmentSize int64, flags Flags, expected int64) {
			Expect(FramedLength(payloadLength, segmentSize, flags)).To(Equal(expected))
		},

		// 13 + 10 + 0 + 8 + 8
		Entry("empty payload with CRC64", int64(0), int64(1), FlagCRC64, int64(39)),
		// 13 + 10 + 10
		Entry("single exact segment without CRC64", int64(10), int64(10), FlagNone, int64(33)),
		// 13 + 2*(10+512+8) + 8
		Entry("two exact segments with CRC64", int64(1024), int64(512), FlagCRC64, int64(1081)),
		// 13 + 2*10 + 1000
		Entry("partial trailing segment without CRC64", int64(1000), int64(512), FlagNone, int64(1033)),
		Entry("empty payload without CRC64", int64(0), int64(1024), FlagNone, int64(23)),
	)

	DescribeTable("SegmentCountFor",
		func(payloadLength, segmentSize, expected int64) {
			Expect(SegmentCountFor(payloadLength, segmentSize)).To(Equal(expected))
		},

		Entry("empty payload still has one segment", int64(0), int64(512), int64(1)),
		Entry("payload smaller than a segment", int64(10), int64(512), int64(1)),
		Entry("exact multiple", int64(1024), int64(512), int64(2)),
		Entry("remainder adds a segment", int64(1025), int64(512), int64(3)),
		Entry("one byte segments", int64(5), int64(1), int64(5)),
	)

	Context("MessageHeader", func() {
		It("packs to the exact 13-byte wire layout", func() {
			h := MessageHeader{
				Version:      Version,
				TotalLength:  0x0102030405060708,
				Flags:        uint16(FlagCRC64),
				SegmentCount: 0x1122,
			}

			var buf bytes.Buffer
			Expect(struc.Pack(&buf, &h)).To(Succeed())
			Expect(buf.Bytes()).To(Equal([]byte{
				0x01,                                           // version
				0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01, // totalLength
				0x01, 0x00, // flags
				0x22, 0x11, // segmentCount
			}))
		})

		It("unpacks its own packed form", func() {
			h := MessageHeader{
				Version:      Version,
				TotalLength:  1081,
				Flags:        uint16(FlagCRC64),
				SegmentCount: 2,
			}

			var buf bytes.Buffer
			Expect(struc.Pack(&buf, &h)).To(Succeed())

			var parsed MessageHeader
			Expect(struc.Unpack(bytes.NewReader(buf.Bytes()), &parsed)).To(Succeed())
			Expect(parsed).To(Equal(h))
		})
	})

	Context("SegmentHeader", func() {
		It("packs to the exact 10-byte wire layout", func() {
			sh := SegmentHeader{
				Number: 0x0201,
				Length: 0x1112131415161718,
			}

			var buf bytes.Buffer
			Expect(struc.Pack(&buf, &sh)).To(Succeed())
			Expect(buf.Bytes()).To(Equal([]byte{
				0x01, 0x02, // segmentNumber
				0x18, 0x17, 0x16, 0x15, 0x14, 0x13, 0x12, 0x11, // segmentLength
			}))
		})
	})

	Context("Flags", func() {
		It("decodes into named properties and re-encodes", func() {
			Expect(FlagNone.Properties()).To(Equal(Properties{}))
			Expect(FlagCRC64.Properties()).To(Equal(Properties{UseCRC64: true}))

			Expect(Properties{UseCRC64: true}.Flags()).To(Equal(FlagCRC64))
			Expect(Properties{}.Flags()).To(Equal(FlagNone))
		})

		It("ignores reserved bits when decoding", func() {
			f := Flags(0x8001)
			Expect(f.Properties()).To(Equal(Properties{UseCRC64: true}))
		})

		It("renders as a readable string", func() {
			Expect(FlagNone.String()).To(Equal("NONE"))
			Expect(FlagCRC64.String()).To(Equal("CRC64"))
		})
	})
})
