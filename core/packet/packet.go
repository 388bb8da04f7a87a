// packet.go - Type tagged packets and their factory.
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

// Package packet provides the polymorphic packet surface shared by the
// connection and the network interface: a type tagged serializable
// packet and the factory that instantiates packets by type when
// deserializing datagrams.
package packet

import (
	"fmt"

	"github.com/quillnet/quillnet/core/wire"
)

// Packet is a single serialized datagram body with a type tag.
type Packet interface {
	wire.Serializer

	// Type returns the factory registered packet type.
	Type() int
}

// Releaser is implemented by packets that hold references which must
// be dropped when the packet is destroyed.
type Releaser interface {
	Release()
}

// Factory creates packets by registered type and tracks the number of
// live packets as a leak check.
type Factory struct {
	creators     []func() Packet
	numAllocated int
}

// NewFactory creates an empty packet factory.
func NewFactory() *Factory {
	return &Factory{}
}

// Register adds a packet type.  Types must be registered densely in
// ascending order.
func (f *Factory) Register(packetType int, create func() Packet) {
	if packetType != len(f.creators) {
		panic(fmt.Sprintf("packet: types must be registered densely, got %d want %d",
			packetType, len(f.creators)))
	}
	if create == nil {
		panic("packet: nil packet creator")
	}
	f.creators = append(f.creators, create)
}

// NumTypes returns the number of registered packet types.
func (f *Factory) NumTypes() int {
	return len(f.creators)
}

// Create instantiates a packet of the given type, or nil if the type
// is not registered.
func (f *Factory) Create(packetType int) Packet {
	if packetType < 0 || packetType >= len(f.creators) {
		return nil
	}
	p := f.creators[packetType]()
	f.numAllocated++
	return p
}

// Destroy releases a packet, dropping any references it holds.
func (f *Factory) Destroy(p Packet) {
	if p == nil {
		return
	}
	if r, ok := p.(Releaser); ok {
		r.Release()
	}
	f.numAllocated--
}

// NumAllocated returns the number of live packets.
func (f *Factory) NumAllocated() int {
	return f.numAllocated
}
