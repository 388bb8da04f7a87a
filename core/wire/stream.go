// stream.go - Serialization streams.
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
	"math/bits"
)

// MaxContexts is the number of opaque context slots carried by a
// stream.  Serializers use well-known slot indices to reach collaborator
// state, such as the channel structure during connection packet
// deserialization.
const MaxContexts = 16

// Context is the fixed array of opaque pointers shared between a
// serializer's caller and the serializers it invokes.
type Context [MaxContexts]interface{}

// Stream is the common surface of the write, read and measure streams.
// Serialize methods are symmetric: the same call sequence must be made
// when writing and when reading, with the stream deciding the
// direction of data flow.  Failures are sticky; callers poll Overflow
// and Aborted after serialization rather than checking every call.
type Stream interface {
	// IsWriting returns true for the write and measure streams.
	IsWriting() bool

	// IsReading returns true for the read stream.
	IsReading() bool

	// SerializeInteger serializes an integer constrained to [min,max]
	// using the minimum number of bits for the range.
	SerializeInteger(value *int32, min, max int32)

	// SerializeBits serializes 1 to 32 raw bits.
	SerializeBits(value *uint32, bitCount int)

	// SerializeBytes serializes a byte slice, aligning to the next byte
	// boundary first.
	SerializeBytes(data []byte)

	// Align pads to the next byte boundary.  Writers emit zero bits,
	// readers skip and validate them.
	Align()

	// AlignBits returns the number of bits Align would consume.
	AlignBits() int

	// Check serializes a 32 bit sentinel after aligning.  On read it
	// returns false if the sentinel does not match, which means the
	// packet is truncated or corrupt and must be discarded.
	Check(magic uint32) bool

	// Flush writes out any buffered partial word.  Only meaningful on
	// the write stream.
	Flush()

	// BitsProcessed returns the number of bits serialized so far.
	BitsProcessed() int

	// BytesProcessed returns BitsProcessed rounded up to whole bytes.
	BytesProcessed() int

	// Overflow returns true once the stream has run out of buffer.
	Overflow() bool

	// Abort marks the stream as aborted by a serializer.
	Abort()

	// Aborted returns true if Abort has been called.
	Aborted() bool

	// SetContext attaches the context slot array.
	SetContext(ctx *Context)

	// Context returns the value in the given context slot, or nil.
	Context(index int) interface{}
}

// Serializer is implemented by anything that can be passed through a
// stream: packets, messages and channel data.
type Serializer interface {
	Serialize(stream Stream)
}

// BitsRequired returns the number of bits needed to represent values
// in [min,max].
func BitsRequired(min, max int32) int {
	if min >= max {
		panic("wire: BitsRequired needs min < max")
	}
	return bits.Len32(uint32(max - min))
}

type streamContext struct {
	ctx *Context
}

func (s *streamContext) SetContext(ctx *Context) {
	s.ctx = ctx
}

func (s *streamContext) Context(index int) interface{} {
	if index < 0 || index >= MaxContexts {
		panic("wire: context index out of range")
	}
	if s.ctx == nil {
		return nil
	}
	return s.ctx[index]
}

// WriteStream serializes values into a byte buffer.
type WriteStream struct {
	streamContext
	writer  *BitWriter
	aborted bool
}

// NewWriteStream creates a write stream over the given buffer.
func NewWriteStream(buffer []byte) *WriteStream {
	return &WriteStream{writer: NewBitWriter(buffer)}
}

func (s *WriteStream) IsWriting() bool { return true }
func (s *WriteStream) IsReading() bool { return false }

func (s *WriteStream) SerializeInteger(value *int32, min, max int32) {
	if min >= max {
		panic("wire: SerializeInteger needs min < max")
	}
	v := *value
	if v < min || v > max {
		panic("wire: SerializeInteger value out of range")
	}
	s.writer.WriteBits(uint32(v-min), BitsRequired(min, max))
}

func (s *WriteStream) SerializeBits(value *uint32, bitCount int) {
	s.writer.WriteBits(*value, bitCount)
}

func (s *WriteStream) SerializeBytes(data []byte) {
	s.Align()
	s.writer.WriteBytes(data)
}

func (s *WriteStream) Align() {
	s.writer.WriteAlign()
}

func (s *WriteStream) AlignBits() int {
	return s.writer.AlignBits()
}

func (s *WriteStream) Check(magic uint32) bool {
	s.Align()
	s.SerializeBits(&magic, 32)
	return true
}

func (s *WriteStream) Flush() {
	s.writer.FlushBits()
}

// Data returns the underlying buffer.
func (s *WriteStream) Data() []byte {
	return s.writer.Data()
}

func (s *WriteStream) BitsProcessed() int {
	return s.writer.BitsWritten()
}

func (s *WriteStream) BytesProcessed() int {
	return s.writer.BytesWritten()
}

func (s *WriteStream) Overflow() bool {
	return s.writer.Overflow()
}

func (s *WriteStream) Abort() {
	s.aborted = true
}

func (s *WriteStream) Aborted() bool {
	return s.aborted
}

// ReadStream deserializes values out of a byte buffer, mirroring the
// call sequence made when writing.
type ReadStream struct {
	streamContext
	reader  *BitReader
	aborted bool

	// A value read outside its permitted range means the buffer does
	// not correspond to what the writer produced; it is folded into
	// the sticky overflow state.
	rangeError bool
}

// NewReadStream creates a read stream over the given buffer.
func NewReadStream(buffer []byte) *ReadStream {
	return &ReadStream{reader: NewBitReader(buffer)}
}

func (s *ReadStream) IsWriting() bool { return false }
func (s *ReadStream) IsReading() bool { return true }

func (s *ReadStream) SerializeInteger(value *int32, min, max int32) {
	if min >= max {
		panic("wire: SerializeInteger needs min < max")
	}
	raw := s.reader.ReadBits(BitsRequired(min, max))
	v := int32(raw) + min
	if v < min || v > max {
		s.rangeError = true
		v = min
	}
	*value = v
}

func (s *ReadStream) SerializeBits(value *uint32, bitCount int) {
	*value = s.reader.ReadBits(bitCount)
}

func (s *ReadStream) SerializeBytes(data []byte) {
	s.Align()
	s.reader.ReadBytes(data)
}

func (s *ReadStream) Align() {
	s.reader.ReadAlign()
}

func (s *ReadStream) AlignBits() int {
	return s.reader.AlignBits()
}

func (s *ReadStream) Check(magic uint32) bool {
	s.Align()
	var value uint32
	s.SerializeBits(&value, 32)
	return value == magic && !s.Overflow()
}

func (s *ReadStream) Flush() {}

func (s *ReadStream) BitsProcessed() int {
	return s.reader.BitsRead()
}

func (s *ReadStream) BytesProcessed() int {
	return (s.reader.BitsRead() + 7) / 8
}

func (s *ReadStream) Overflow() bool {
	return s.reader.Overflow() || s.rangeError
}

func (s *ReadStream) Abort() {
	s.aborted = true
}

func (s *ReadStream) Aborted() bool {
	return s.aborted
}

// MeasureStream counts the bits a serializer would write, without
// producing output.  Alignment is accounted at its worst case of seven
// bits, so a measurement is always an upper bound on the written size.
type MeasureStream struct {
	streamContext
	totalBytes  int
	bitsWritten int
	aborted     bool
}

// NewMeasureStream creates a measure stream with the given byte budget.
func NewMeasureStream(totalBytes int) *MeasureStream {
	return &MeasureStream{totalBytes: totalBytes}
}

func (s *MeasureStream) IsWriting() bool { return true }
func (s *MeasureStream) IsReading() bool { return false }

func (s *MeasureStream) SerializeInteger(value *int32, min, max int32) {
	if min >= max {
		panic("wire: SerializeInteger needs min < max")
	}
	v := *value
	if v < min || v > max {
		panic("wire: SerializeInteger value out of range")
	}
	s.bitsWritten += BitsRequired(min, max)
}

func (s *MeasureStream) SerializeBits(value *uint32, bitCount int) {
	if bitCount <= 0 || bitCount > 32 {
		panic("wire: bits must be in [1,32]")
	}
	s.bitsWritten += bitCount
}

func (s *MeasureStream) SerializeBytes(data []byte) {
	s.Align()
	s.bitsWritten += len(data) * 8
}

func (s *MeasureStream) Align() {
	s.bitsWritten += s.AlignBits()
}

func (s *MeasureStream) AlignBits() int {
	return 7 // worst case
}

func (s *MeasureStream) Check(magic uint32) bool {
	s.Align()
	s.bitsWritten += 32
	return true
}

func (s *MeasureStream) Flush() {}

func (s *MeasureStream) BitsProcessed() int {
	return s.bitsWritten
}

func (s *MeasureStream) BytesProcessed() int {
	return (s.bitsWritten + 7) / 8
}

func (s *MeasureStream) Overflow() bool {
	return s.bitsWritten > s.totalBytes*8
}

func (s *MeasureStream) Abort() {
	s.aborted = true
}

func (s *MeasureStream) Aborted() bool {
	return s.aborted
}
