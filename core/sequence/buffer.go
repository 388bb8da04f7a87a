// buffer.go - Sequence indexed circular buffer.
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

package sequence

// Buffer is a fixed-capacity store indexed by 16 bit sequence number
// with wrap-aware comparison.  A slot holds an entry for sequence s iff
// its exists bit is set and its stamped sequence equals s, which
// detects stale entries left over from earlier trips around the
// sequence space.
type Buffer[T any] struct {
	firstEntry    bool
	sequence      uint16
	size          int
	exists        *BitArray
	entrySequence []uint16
	entries       []T
}

// NewBuffer creates a buffer with capacity size.
func NewBuffer[T any](size int) *Buffer[T] {
	if size <= 0 {
		panic("sequence: buffer size must be positive")
	}
	b := &Buffer[T]{
		size:          size,
		exists:        NewBitArray(size),
		entrySequence: make([]uint16, size),
		entries:       make([]T, size),
	}
	b.Reset()
	return b
}

// Reset clears the exists bits and the first entry flag.  Entry
// payloads are deliberately left in place.
func (b *Buffer[T]) Reset() {
	b.firstEntry = true
	b.sequence = 0
	b.exists.Clear()
	for i := range b.entrySequence {
		b.entrySequence[i] = 0
	}
}

// Insert makes a slot available for the given sequence and returns a
// pointer to its entry, or nil if the sequence is too old to store.
func (b *Buffer[T]) Insert(sequence uint16) *T {
	if b.firstEntry {
		b.sequence = sequence + 1
		b.firstEntry = false
	} else if GreaterThan(sequence+1, b.sequence) {
		b.sequence = sequence + 1
	} else if LessThan(sequence, b.sequence-uint16(b.size)) {
		return nil
	}

	index := int(sequence) % b.size
	b.exists.SetBit(index)
	b.entrySequence[index] = sequence

	return &b.entries[index]
}

// Remove clears the exists bit for the given sequence.  The stamped
// sequence is left intact for diagnostics.
func (b *Buffer[T]) Remove(sequence uint16) {
	b.exists.ClearBit(int(sequence) % b.size)
}

// IsAvailable returns true if the slot the sequence maps to is free.
func (b *Buffer[T]) IsAvailable(sequence uint16) bool {
	return !b.exists.GetBit(int(sequence) % b.size)
}

// Index returns the slot index the sequence maps to.
func (b *Buffer[T]) Index(sequence uint16) int {
	return int(sequence) % b.size
}

// Find returns the entry stored for the sequence, or nil.
func (b *Buffer[T]) Find(sequence uint16) *T {
	index := int(sequence) % b.size
	if b.exists.GetBit(index) && b.entrySequence[index] == sequence {
		return &b.entries[index]
	}
	return nil
}

// At returns the entry in the given slot if one exists, or nil.  Used
// to walk all live entries without knowing their sequences.
func (b *Buffer[T]) At(index int) *T {
	if b.exists.GetBit(index) {
		return &b.entries[index]
	}
	return nil
}

// Sequence returns the most recent sequence plus one, which is the
// sequence the next Insert is expected to use.
func (b *Buffer[T]) Sequence() uint16 {
	return b.sequence
}

// Size returns the buffer capacity.
func (b *Buffer[T]) Size() int {
	return b.size
}

// GenerateAckBits computes the ack header fields from a buffer of
// received packets: ack is the most recent sequence and bit i of
// ackBits signals receipt of packet ack-i.
func GenerateAckBits[T any](received *Buffer[T]) (ack uint16, ackBits uint32) {
	ack = received.Sequence() - 1
	for i := 0; i < 32; i++ {
		if received.Find(ack-uint16(i)) != nil {
			ackBits |= 1 << uint(i)
		}
	}
	return
}
