// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package checksum exposes the seedable CRC64 function used by the
// structured message wire format.
//
// The CRC is chainable: feeding data in any number of pieces, passing each
// call's result as the next call's seed, yields the same value as a single
// call over the concatenated data. This property is what allows a message
// checksum to be accumulated across segment boundaries.
package checksum

import (
	"hash/crc64"
)

// Polynomial is the reversed CRC64 polynomial used by the structured message
// format.
const Polynomial = 0x9A6C9329AC4BC9B5

var table = crc64.MakeTable(Polynomial)

// Update returns the CRC64 of data, seeded with seed.
//
// A fresh checksum uses a seed of 0. To continue a checksum across multiple
// buffers, pass the previous Update result as seed.
func Update(seed uint64, data []byte) uint64 {
	return crc64.Update(seed, table, data)
}
