// channel.go - Channel interfaces and structure.
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

// Package channel defines the sub-protocols multiplexed inside a
// connection: the channel interface, the per-packet channel data it
// exchanges with the connection packet, and the frozen structure both
// endpoints must agree on.
package channel

import (
	"fmt"

	"github.com/quillnet/quillnet/core/wire"
)

// MaxChannels is the largest number of channels a connection can carry.
const MaxChannels = 8

// MaxChannelName bounds channel names in the structure.
const MaxChannelName = 64

// TimeBase is the caller owned clock driving all channel and
// connection updates.  Time is in seconds.
type TimeBase struct {
	Time      float64
	DeltaTime float64
}

// Data is the per-packet payload a channel contributes to an outgoing
// connection packet, or receives from an incoming one.  Data is owned
// by the packet once assigned; Release drops whatever references it
// holds and is called exactly once by the owner.
type Data interface {
	wire.Serializer

	Release()
}

// Channel is a sub-protocol multiplexed inside a connection.
type Channel interface {
	// Reset returns the channel to its initial state, releasing all
	// queued messages.
	Reset()

	// Error returns the channel's fatal error state, or nil.  Once set
	// the owning connection stops reading and writing packets.
	Error() error

	// SetContext attaches the stream context used when the channel
	// measures or serializes message payloads.
	SetContext(ctx *wire.Context)

	// GetData produces this channel's payload for the outgoing packet
	// with the given sequence, or nil if the channel has nothing to
	// send.
	GetData(sequence uint16) Data

	// ProcessData consumes a received payload carried by the packet
	// with the given sequence.  Returning false discards the whole
	// packet, so the peer never sees it acked and will retry.
	ProcessData(sequence uint16, data Data) bool

	// ProcessAck notifies the channel that the packet with the given
	// sequence was received by the peer.  Idempotent per sequence.
	ProcessAck(sequence uint16)

	// Update advances the channel's timebase.
	Update(timeBase TimeBase)
}

// Adapter is a Channel with every method stubbed out.  Embed it in
// tests or channels that only need part of the surface.
type Adapter struct{}

func (a *Adapter) Reset() {}

func (a *Adapter) Error() error { return nil }

func (a *Adapter) SetContext(ctx *wire.Context) {}

func (a *Adapter) GetData(sequence uint16) Data { return nil }

func (a *Adapter) ProcessData(sequence uint16, data Data) bool { return true }

func (a *Adapter) ProcessAck(sequence uint16) {}

func (a *Adapter) Update(timeBase TimeBase) {}

type structureEntry struct {
	name              string
	createChannel     func() Channel
	createChannelData func() Data
}

// Structure describes the channels carried by a connection.  Both
// endpoints must build structurally identical instances: the wire
// layout of a connection packet depends on the channel count and
// ordering.  It must be locked before use and cannot change afterwards.
type Structure struct {
	locked  bool
	entries []structureEntry
}

// NewStructure creates an empty channel structure.
func NewStructure() *Structure {
	return &Structure{}
}

// AddChannel registers a channel at the next index.
func (s *Structure) AddChannel(name string, createChannel func() Channel, createChannelData func() Data) {
	if s.locked {
		panic("channel: cannot add channels to a locked structure")
	}
	if len(s.entries) == MaxChannels {
		panic("channel: too many channels")
	}
	if len(name) > MaxChannelName {
		panic("channel: channel name too long")
	}
	if createChannel == nil || createChannelData == nil {
		panic("channel: nil channel factory")
	}
	s.entries = append(s.entries, structureEntry{
		name:              name,
		createChannel:     createChannel,
		createChannelData: createChannelData,
	})
}

// Lock freezes the structure.  A structure must be locked before it is
// handed to a connection.
func (s *Structure) Lock() {
	if len(s.entries) == 0 {
		panic("channel: cannot lock an empty structure")
	}
	s.locked = true
}

// IsLocked returns true once Lock has been called.
func (s *Structure) IsLocked() bool {
	return s.locked
}

// NumChannels returns the number of registered channels.
func (s *Structure) NumChannels() int {
	return len(s.entries)
}

// ChannelName returns the name of the channel at the given index.
func (s *Structure) ChannelName(index int) string {
	return s.entry(index).name
}

// CreateChannel instantiates the channel at the given index.
func (s *Structure) CreateChannel(index int) Channel {
	if !s.locked {
		panic("channel: structure must be locked first")
	}
	return s.entry(index).createChannel()
}

// CreateChannelData instantiates an empty channel data for the channel
// at the given index, used when deserializing incoming packets.
func (s *Structure) CreateChannelData(index int) Data {
	if !s.locked {
		panic("channel: structure must be locked first")
	}
	return s.entry(index).createChannelData()
}

func (s *Structure) entry(index int) *structureEntry {
	if index < 0 || index >= len(s.entries) {
		panic(fmt.Sprintf("channel: index %d out of range", index))
	}
	return &s.entries[index]
}
