// interface.go - Network interface abstraction.
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

// Package network provides the packet transport under a connection:
// the abstract interface the core drives, and a UDP implementation
// that frames packets with a protocol id and a trailing sentinel.
package network

import (
	"net"

	"github.com/quillnet/quillnet/core/channel"
	"github.com/quillnet/quillnet/core/packet"
)

// Interface enqueues and dequeues serialized packets against
// addresses.  Implementations own serialization; the core hands over
// packet objects and ownership moves with them.
type Interface interface {
	// SendPacket serializes and transmits a packet, taking ownership
	// of it.
	SendPacket(addr *net.UDPAddr, p packet.Packet)

	// ReceivePacket returns the next received packet and its source
	// address, transferring ownership to the caller, or nil when no
	// packet is waiting.  Never blocks.
	ReceivePacket() (packet.Packet, *net.UDPAddr)

	// Update advances the interface's timebase.
	Update(timeBase channel.TimeBase)

	// MaxPacketSize returns the largest serialized packet the
	// interface will carry.
	MaxPacketSize() int

	// PacketFactory returns the factory packets are created and
	// destroyed through.
	PacketFactory() *packet.Factory
}
