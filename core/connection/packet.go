// packet.go - Connection packet wire format.
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

package connection

import (
	"github.com/quillnet/quillnet/core/channel"
	"github.com/quillnet/quillnet/core/wire"
)

// ContextConnection is the stream context slot holding the channel
// structure, which the packet serializer needs to know which channel
// payloads to expect.
const ContextConnection = 0

// Packet is the connection's datagram body: sequence, ack, ack bitmap
// and one optional payload per channel.
type Packet struct {
	packetType int

	Sequence uint16
	Ack      uint16
	AckBits  uint32

	ChannelData [channel.MaxChannels]channel.Data
}

// NewPacket creates an empty connection packet with the given type tag.
func NewPacket(packetType int) *Packet {
	return &Packet{packetType: packetType}
}

// Type returns the packet's type tag.
func (p *Packet) Type() int {
	return p.packetType
}

// Release drops the channel data payloads and the message references
// they hold.  Called exactly once by the packet's owner.
func (p *Packet) Release() {
	for i, data := range p.ChannelData {
		if data != nil {
			data.Release()
			p.ChannelData[i] = nil
		}
	}
}

// Serialize reads or writes the packet body.  The field order
// front-loads rarely changing values to help dictionary compressors.
// The channel structure must be present in the stream context.
func (p *Packet) Serialize(stream wire.Stream) {
	structure, ok := stream.Context(ContextConnection).(*channel.Structure)
	if !ok || structure == nil {
		panic("connection: channel structure missing from stream context")
	}

	numChannels := structure.NumChannels()

	// A full ack bitmap is the steady state, so it collapses to one bit.
	perfect := false
	if stream.IsWriting() {
		perfect = p.AckBits == 0xFFFFFFFF
	}
	wire.SerializeBool(stream, &perfect)
	if perfect {
		p.AckBits = 0xFFFFFFFF
	} else {
		wire.SerializeUint32(stream, &p.AckBits)
	}

	stream.Align()

	for i := 0; i < numChannels; i++ {
		hasData := p.ChannelData[i] != nil
		wire.SerializeBool(stream, &hasData)
		if stream.IsReading() && hasData {
			p.ChannelData[i] = structure.CreateChannelData(i)
		}
	}

	wire.SerializeUint16(stream, &p.Sequence)

	var ackDelta int32
	ackInRange := false
	if stream.IsWriting() {
		if p.Ack < p.Sequence {
			ackDelta = int32(p.Sequence) - int32(p.Ack)
		} else {
			ackDelta = int32(p.Sequence) + 65536 - int32(p.Ack)
		}
		ackInRange = ackDelta <= 128
	}

	wire.SerializeBool(stream, &ackInRange)

	if ackInRange {
		stream.SerializeInteger(&ackDelta, 1, 128)
		if stream.IsReading() {
			p.Ack = p.Sequence - uint16(ackDelta)
		}
	} else {
		wire.SerializeUint16(stream, &p.Ack)
	}

	for i := 0; i < numChannels; i++ {
		if p.ChannelData[i] == nil {
			continue
		}
		stream.Align()
		p.ChannelData[i].Serialize(stream)
		if stream.IsReading() && stream.Overflow() {
			return
		}
	}
}
