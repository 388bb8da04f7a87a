// serialize.go - Symmetric serialization helpers.
// Copyright (C) 2024  The quillnet authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package wire

import (
	"math"

	"github.com/quillnet/quillnet/core/block"
)

// SerializeBool serializes a bool as a single bit.
func SerializeBool(stream Stream, value *bool) {
	var bit uint32
	if stream.IsWriting() && *value {
		bit = 1
	}
	stream.SerializeBits(&bit, 1)
	if stream.IsReading() {
		*value = bit != 0
	}
}

// SerializeUint16 serializes a uint16 as 16 bits.
func SerializeUint16(stream Stream, value *uint16) {
	bits := uint32(*value)
	stream.SerializeBits(&bits, 16)
	if stream.IsReading() {
		*value = uint16(bits)
	}
}

// SerializeUint32 serializes a uint32 as 32 bits.
func SerializeUint32(stream Stream, value *uint32) {
	stream.SerializeBits(value, 32)
}

// SerializeUint64 serializes a uint64 as two 32 bit words, low first.
func SerializeUint64(stream Stream, value *uint64) {
	var lo, hi uint32
	if stream.IsWriting() {
		lo = uint32(*value & 0xFFFFFFFF)
		hi = uint32(*value >> 32)
	}
	stream.SerializeBits(&lo, 32)
	stream.SerializeBits(&hi, 32)
	if stream.IsReading() {
		*value = uint64(hi)<<32 | uint64(lo)
	}
}

// SerializeInt64 serializes an int64 as two 32 bit words, low first.
func SerializeInt64(stream Stream, value *int64) {
	u := uint64(*value)
	SerializeUint64(stream, &u)
	if stream.IsReading() {
		*value = int64(u)
	}
}

// SerializeFloat32 serializes a float32 through its bit pattern.
func SerializeFloat32(stream Stream, value *float32) {
	bits := math.Float32bits(*value)
	stream.SerializeBits(&bits, 32)
	if stream.IsReading() {
		*value = math.Float32frombits(bits)
	}
}

// SerializeFloat64 serializes a float64 through its bit pattern.
func SerializeFloat64(stream Stream, value *float64) {
	bits := math.Float64bits(*value)
	SerializeUint64(stream, &bits)
	if stream.IsReading() {
		*value = math.Float64frombits(bits)
	}
}

// SerializeCompressedFloat serializes a float quantized onto [min,max]
// at the given resolution.
func SerializeCompressedFloat(stream Stream, value *float32, min, max, res float32) {
	delta := max - min
	values := delta / res
	maxIntegerValue := int32(math.Ceil(float64(values)))
	bitCount := BitsRequired(0, maxIntegerValue)

	var integerValue uint32
	if stream.IsWriting() {
		normalized := (*value - min) / delta
		if normalized < 0 {
			normalized = 0
		} else if normalized > 1 {
			normalized = 1
		}
		integerValue = uint32(math.Floor(float64(normalized)*float64(maxIntegerValue) + 0.5))
	}

	stream.SerializeBits(&integerValue, bitCount)

	if stream.IsReading() {
		normalized := float32(integerValue) / float32(maxIntegerValue)
		*value = normalized*delta + min
	}
}

// SerializeString serializes a length prefixed string bounded by
// maxLength bytes.
func SerializeString(stream Stream, value *string, maxLength int) {
	var length int32
	if stream.IsWriting() {
		if len(*value) > maxLength {
			panic("wire: string exceeds maximum length")
		}
		length = int32(len(*value))
	}
	stream.Align()
	stream.SerializeInteger(&length, 0, int32(maxLength))
	if stream.IsReading() {
		buf := make([]byte, length)
		if length > 0 {
			stream.SerializeBytes(buf)
		}
		*value = string(buf)
		return
	}
	if length > 0 {
		stream.SerializeBytes([]byte(*value))
	}
}

// SerializeBlock serializes an aligned, length prefixed block bounded
// by maxBytes.  On read a buffer of the serialized size is allocated
// and connected to the block.
func SerializeBlock(stream Stream, b *block.Block, maxBytes int) {
	stream.Align()

	var numBytes int32
	if stream.IsWriting() {
		if !b.IsValid() {
			panic("wire: cannot serialize an invalid block")
		}
		numBytes = int32(b.Size())
	}

	stream.SerializeInteger(&numBytes, 1, int32(maxBytes))

	stream.Align()

	if stream.IsReading() {
		if stream.Overflow() {
			return
		}
		b.Connect(make([]byte, numBytes))
	}

	stream.SerializeBytes(b.Data())
}

// SerializeIntRelative delta encodes current against a smaller
// previous value, spending fewer bits the closer together they are.
// The ladder of encodable deltas is 1, <=4, <=16, <=256, <=4096 and
// <=65535, falling back to the full 32 bit value.
func SerializeIntRelative(stream Stream, previous uint32, current *uint32) {
	var difference uint32
	if stream.IsWriting() {
		if previous >= *current {
			panic("wire: SerializeIntRelative needs previous < current")
		}
		difference = *current - previous
	}

	oneBit := false
	if stream.IsWriting() {
		oneBit = difference == 1
	}
	SerializeBool(stream, &oneBit)
	if oneBit {
		if stream.IsReading() {
			*current = previous + 1
		}
		return
	}

	for _, max := range [...]uint32{4, 16, 256, 4096, 65535} {
		inRange := false
		if stream.IsWriting() {
			inRange = difference <= max
		}
		SerializeBool(stream, &inRange)
		if inRange {
			d := int32(difference)
			stream.SerializeInteger(&d, 1, int32(max))
			if stream.IsReading() {
				*current = previous + uint32(d)
			}
			return
		}
	}

	value := *current
	stream.SerializeBits(&value, 32)
	if stream.IsReading() {
		*current = value
	}
}

// SerializeCheck serializes an aligned 32 bit sentinel used to detect
// truncation.  Returns false on read if the sentinel does not match.
func SerializeCheck(stream Stream, magic uint32) bool {
	return stream.Check(magic)
}
