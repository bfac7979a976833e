// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package message

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	encodedBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "structmsg_encoded_bytes",
		Help: "Count of framed bytes produced by encode streams.",
	})

	encodedMessages = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "structmsg_encoded_messages",
		Help: "Count of messages encoded to completion.",
	})

	encodeSeeks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "structmsg_encode_seeks",
		Help: "Count of successful encode stream seeks.",
	})

	decodedBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "structmsg_decoded_payload_bytes",
		Help: "Count of payload bytes yielded by decode streams.",
	})

	decodedMessages = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "structmsg_decoded_messages",
		Help: "Count of messages decoded and validated to completion.",
	})

	framingErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "structmsg_framing_errors",
		Help: "Count of structural wire format violations detected.",
	})

	integrityErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "structmsg_integrity_errors",
		Help: "Count of CRC64 mismatches detected.",
	})
)

// RegisterMonitoring registers all of this package's monitoring metrics.
func RegisterMonitoring(reg prometheus.Registerer) {
	reg.MustRegister(
		// Encode
		encodedBytes,
		encodedMessages,
		encodeSeeks,

		// Decode
		decodedBytes,
		decodedMessages,
		framingErrors,
		integrityErrors,
	)
}
