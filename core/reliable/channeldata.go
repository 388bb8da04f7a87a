// channeldata.go - Reliable channel wire format.
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

package reliable

import (
	"github.com/quillnet/quillnet/core/message"
	"github.com/quillnet/quillnet/core/wire"
)

// ChannelData is the reliable channel's per-packet payload: either one
// fragment of the large block in flight, or a run of bitpacked
// messages and small blocks.
type ChannelData struct {
	cfg *Config

	LargeBlock bool

	// Large block mode.
	BlockID    uint16
	FragmentID uint16
	BlockSize  uint32
	Fragment   []byte

	// Bitpacked mode.  Messages are reference counted; Release drops
	// the references this payload holds.
	Messages []message.Message
}

// NewChannelData creates an empty payload for the given channel
// configuration, used by the channel structure when deserializing.
func NewChannelData(cfg *Config) *ChannelData {
	return &ChannelData{cfg: cfg}
}

// Release drops the message references held by this payload.
func (d *ChannelData) Release() {
	for i, m := range d.Messages {
		if m != nil {
			d.cfg.MessageFactory.Release(m)
			d.Messages[i] = nil
		}
	}
	d.Messages = nil
	d.Fragment = nil
}

// Serialize reads or writes the payload.
func (d *ChannelData) Serialize(stream wire.Stream) {
	wire.SerializeBool(stream, &d.LargeBlock)

	if d.cfg.Align {
		stream.Align()
	}

	if d.LargeBlock {
		d.serializeFragment(stream)
	} else {
		d.serializeMessages(stream)
	}
}

func (d *ChannelData) serializeFragment(stream wire.Stream) {
	if stream.IsWriting() {
		if d.Fragment == nil {
			panic("reliable: large block payload has no fragment")
		}
	} else {
		d.Fragment = make([]byte, d.cfg.BlockFragmentSize)
	}

	wire.SerializeUint16(stream, &d.BlockID)
	wire.SerializeUint16(stream, &d.FragmentID)
	wire.SerializeUint32(stream, &d.BlockSize)
	stream.SerializeBytes(d.Fragment[:d.cfg.BlockFragmentSize])
}

func (d *ChannelData) serializeMessages(stream wire.Stream) {
	factory := d.cfg.MessageFactory
	maxMessageType := factory.NumTypes() - 1

	numMessages := int32(len(d.Messages))
	if stream.IsWriting() && numMessages == 0 {
		panic("reliable: bitpacked payload has no messages")
	}
	stream.SerializeInteger(&numMessages, 1, int32(d.cfg.MaxMessagesPerPacket))
	if stream.IsReading() {
		if stream.Overflow() {
			return
		}
		d.Messages = make([]message.Message, numMessages)
	}

	messageTypes := make([]int32, numMessages)
	messageIDs := make([]uint16, numMessages)

	if stream.IsWriting() {
		for i, m := range d.Messages {
			messageTypes[i] = int32(m.Type())
			messageIDs[i] = m.ID()
		}
	}

	if d.cfg.Align {
		stream.Align()
	}

	wire.SerializeUint16(stream, &messageIDs[0])

	// Later ids are deltas off their predecessor; a decrease means the
	// id space wrapped, handled by lifting the value past 65535.
	for i := int32(1); i < numMessages; i++ {
		if stream.IsWriting() {
			a := uint32(messageIDs[i-1])
			b := uint32(messageIDs[i])
			if messageIDs[i-1] > messageIDs[i] {
				b += 65536
			}
			wire.SerializeIntRelative(stream, a, &b)
		} else {
			a := uint32(messageIDs[i-1])
			var b uint32
			wire.SerializeIntRelative(stream, a, &b)
			if b >= 65536 {
				b -= 65536
			}
			messageIDs[i] = uint16(b)
		}
	}

	for i := int32(0); i < numMessages; i++ {
		if stream.Overflow() {
			return
		}

		if d.cfg.Align {
			stream.Align()
		}

		if maxMessageType > 0 {
			stream.SerializeInteger(&messageTypes[i], 0, int32(maxMessageType))
		} else {
			messageTypes[i] = 0
		}

		if d.cfg.Align {
			stream.Align()
		}

		if stream.IsReading() {
			if stream.Overflow() {
				return
			}
			m := factory.Create(int(messageTypes[i]))
			m.SetID(messageIDs[i])
			d.Messages[i] = m
		}

		d.Messages[i].Serialize(stream)
	}
}
