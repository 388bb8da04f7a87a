// message.go - Application messages.
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

// Package message provides polymorphic serializable messages and the
// reference counting factory that creates and destroys them.
package message

import (
	"github.com/quillnet/quillnet/core/block"
	"github.com/quillnet/quillnet/core/wire"
)

const (
	// BlockMessageType is the reserved message type carrying a Block
	// payload.  It must be registered at type index zero.
	BlockMessageType = 0

	// MaxSmallBlockSize is the hard cap on the serialized size of a
	// block carried inline as a small block message.
	MaxSmallBlockSize = 256
)

// Message is a serializable application message.  A message id is
// assigned once by the send channel and never mutated afterwards.
// Messages are reference counted through the Factory: they may be held
// simultaneously by a send queue entry and any number of in-flight
// channel data payloads, and the last release destroys them.
type Message interface {
	wire.Serializer

	// Type returns the factory registered message type.
	Type() int

	// ID returns the channel assigned message id.
	ID() uint16

	// SetID assigns the message id.  Called exactly once, by the send
	// channel.
	SetID(id uint16)

	// IsBlock returns true for block messages.
	IsBlock() bool

	refCounter() *int
}

// Base carries the id and reference count common to every message.
// Concrete message types embed it.
type Base struct {
	id   uint16
	refs int
}

// ID returns the channel assigned message id.
func (m *Base) ID() uint16 {
	return m.id
}

// SetID assigns the message id.
func (m *Base) SetID(id uint16) {
	m.id = id
}

// IsBlock returns false; BlockMessage overrides it.
func (m *Base) IsBlock() bool {
	return false
}

func (m *Base) refCounter() *int {
	return &m.refs
}

// BlockMessage is the reserved message type that carries a Block.  It
// serializes inline as a small block; blocks larger than the reliable
// channel's small block threshold bypass serialization entirely and
// travel as fragments instead.
type BlockMessage struct {
	Base
	blk block.Block
}

// NewBlockMessage creates an empty block message.
func NewBlockMessage() *BlockMessage {
	return &BlockMessage{}
}

// Type returns BlockMessageType.
func (m *BlockMessage) Type() int {
	return BlockMessageType
}

// IsBlock returns true.
func (m *BlockMessage) IsBlock() bool {
	return true
}

// Connect transfers ownership of the block's buffer into the message.
func (m *BlockMessage) Connect(b *block.Block) {
	if !b.IsValid() {
		panic("message: cannot connect an invalid block")
	}
	m.blk.Connect(b.Disconnect())
}

// Block returns the message's block.
func (m *BlockMessage) Block() *block.Block {
	return &m.blk
}

// Serialize reads or writes the block inline, bounded by
// MaxSmallBlockSize.
func (m *BlockMessage) Serialize(stream wire.Stream) {
	wire.SerializeBlock(stream, &m.blk, MaxSmallBlockSize)
}
