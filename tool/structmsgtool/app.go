// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package structmsgtool defines the logic for the "structmsg" command-line
// tool.
//
// The tool frames a file into a structured message file ("wrap") and
// recovers the original payload from a framed file ("unwrap"), optionally
// passing the payload through snappy block compression before framing.
//
// This demonstrates how to drive the message package's encode and decode
// streams against ordinary files.
package structmsgtool

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/danjacques/gostructmsg/message"
	"github.com/danjacques/gostructmsg/support/bufferpool"
	"github.com/danjacques/gostructmsg/support/fmtutil"
	"github.com/danjacques/gostructmsg/support/logging"
	"github.com/danjacques/gostructmsg/support/streamio"

	"github.com/golang/snappy"
)

var (
	mode        = flag.String("mode", "wrap", "Operation to perform: wrap or unwrap.")
	inPath      = flag.String("in", "", "Input file path.")
	outPath     = flag.String("out", "", "Output file path.")
	segmentSize = flag.Int64("segment-size", 4*1024*1024, "Segment size for wrapping, in bytes.")
	useCRC64    = flag.Bool("crc64", true, "Include CRC64 segment and message footers.")
	useSnappy   = flag.Bool("snappy", false, "Snappy-compress the payload before framing (and decompress after unframing).")
	verbose     = flag.Bool("verbose", false, "Log frame details and stream phase transitions.")
)

// transferPool supplies buffers for the frame pump loops.
var transferPool = bufferpool.Pool{Size: 64 * 1024}

// Main is the main entry point.
func Main() {
	flag.Parse()

	if *inPath == "" || *outPath == "" {
		log.Fatal("Both -in and -out must be specified.")
	}

	var err error
	switch *mode {
	case "wrap":
		err = wrap()
	case "unwrap":
		err = unwrap()
	default:
		err = fmt.Errorf("unknown mode %q (expected wrap or unwrap)", *mode)
	}
	if err != nil {
		log.Fatalf("%s failed: %s", *mode, err)
	}
}

func streamLogger() logging.L {
	if *verbose {
		return verboseLogger{}
	}
	return nil
}

func wrap() error {
	payload, payloadLength, closer, err := openPayload()
	if err != nil {
		return err
	}
	defer closer()

	flags := message.FlagNone
	if *useCRC64 {
		flags |= message.FlagCRC64
	}

	es, err := message.NewEncodeStream(streamio.MakeSource(payload), payloadLength, *segmentSize, flags)
	if err != nil {
		return err
	}
	defer es.Close()
	es.Logger = streamLogger()

	out, err := os.Create(*outPath)
	if err != nil {
		return err
	}
	defer out.Close()

	written, err := pump(out, es)
	if err != nil {
		return err
	}

	log.Printf("Wrapped %s of payload into %s of framed message (%d segments, flags %s).",
		fmtutil.ByteSize(payloadLength), fmtutil.ByteSize(written), es.SegmentCount(), es.Flags())
	if *verbose {
		dumpHeader(*outPath)
	}
	return nil
}

func unwrap() error {
	in, err := os.Open(*inPath)
	if err != nil {
		return err
	}
	defer in.Close()

	st, err := in.Stat()
	if err != nil {
		return err
	}

	ds, err := message.NewDecodeStream(in, st.Size())
	if err != nil {
		return err
	}
	ds.Logger = streamLogger()

	out, err := os.Create(*outPath)
	if err != nil {
		return err
	}
	defer out.Close()

	var written int64
	if *useSnappy {
		written, err = unwrapSnappy(out, ds)
	} else {
		written, err = pump(out, ds)
	}
	if err != nil {
		return err
	}

	log.Printf("Unwrapped %s of framed message into %s of payload (%d segments).",
		fmtutil.ByteSize(st.Size()), fmtutil.ByteSize(written), ds.SegmentCount())
	return nil
}

// openPayload opens the input payload for wrapping, returning a seekable
// reader and its exact length.
//
// With -snappy, the payload is compressed up front: the frame's header
// declares the exact payload length, so the compressed size must be known
// before framing begins.
func openPayload() (io.Reader, int64, func(), error) {
	f, err := os.Open(*inPath)
	if err != nil {
		return nil, 0, nil, err
	}

	if !*useSnappy {
		st, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, 0, nil, err
		}
		return f, st.Size(), func() { f.Close() }, nil
	}

	raw, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		return nil, 0, nil, err
	}

	compressed := snappy.Encode(nil, raw)
	log.Printf("Compressed payload %s -> %s.", fmtutil.ByteSize(int64(len(raw))), fmtutil.ByteSize(int64(len(compressed))))
	return bytes.NewReader(compressed), int64(len(compressed)), func() {}, nil
}

// unwrapSnappy drains the decode stream and snappy-decompresses the result.
func unwrapSnappy(out io.Writer, ds *message.DecodeStream) (int64, error) {
	compressed, err := io.ReadAll(ds)
	if err != nil {
		return 0, err
	}

	raw, err := snappy.Decode(nil, compressed)
	if err != nil {
		return 0, err
	}

	n, err := out.Write(raw)
	return int64(n), err
}

// pump copies src to dst through a pooled transfer buffer.
func pump(dst io.Writer, src io.Reader) (int64, error) {
	b := transferPool.Get()
	defer b.Release()
	return io.CopyBuffer(dst, src, b.Bytes())
}

// dumpHeader hex-dumps the message header region of a framed file.
func dumpHeader(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	var hdr [13]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		return
	}
	log.Printf("Message header:\n%s", fmtutil.Hex(hdr[:]))
}

// verboseLogger adapts the standard logger to logging.L for -verbose runs.
type verboseLogger struct{}

func (verboseLogger) Error(args ...interface{}) { log.Print(args...) }
func (verboseLogger) Warn(args ...interface{})  { log.Print(args...) }
func (verboseLogger) Info(args ...interface{})  { log.Print(args...) }
func (verboseLogger) Debug(args ...interface{}) { log.Print(args...) }

func (verboseLogger) Errorf(fmt string, args ...interface{}) { log.Printf(fmt, args...) }
func (verboseLogger) Warnf(fmt string, args ...interface{})  { log.Printf(fmt, args...) }
func (verboseLogger) Infof(fmt string, args ...interface{})  { log.Printf(fmt, args...) }
func (verboseLogger) Debugf(fmt string, args ...interface{}) { log.Printf(fmt, args...) }
