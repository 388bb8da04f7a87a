// block.go - Owned byte buffer.
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

// Package block provides the contiguous byte buffer passed through the
// messaging layer, with explicit single-owner transfer semantics.
package block

// Block is a contiguous byte buffer with exactly one owner at a time.
// Ownership moves between holders through an explicit Connect and
// Disconnect pair, so a buffer is never referenced from two places that
// both believe they own it.
type Block struct {
	data []byte
}

// New creates a Block owning a freshly allocated buffer of the given
// size.
func New(size int) *Block {
	if size <= 0 {
		panic("block: size must be positive")
	}
	return &Block{data: make([]byte, size)}
}

// Connect takes ownership of an existing buffer.  The previous contents
// of the block, if any, are released first.
func (b *Block) Connect(data []byte) {
	b.data = data
}

// Disconnect relinquishes ownership of the buffer without releasing it,
// returning it so the caller can hand it to a new owner.
func (b *Block) Disconnect() []byte {
	data := b.data
	b.data = nil
	return data
}

// Destroy releases the buffer.
func (b *Block) Destroy() {
	b.data = nil
}

// Data returns the underlying buffer.
func (b *Block) Data() []byte {
	return b.data
}

// Size returns the buffer length in bytes.
func (b *Block) Size() int {
	return len(b.data)
}

// IsValid returns true if the block currently owns a buffer.
func (b *Block) IsValid() bool {
	return b.data != nil
}
