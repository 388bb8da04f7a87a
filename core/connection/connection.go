// connection.go - Bidirectional packet pipeline.
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

// Package connection multiplexes one or more channels over a single
// stream of datagrams, piggybacking acknowledgement state on every
// outgoing packet.
package connection

import (
	"errors"

	"gopkg.in/op/go-logging.v1"

	"github.com/quillnet/quillnet/core/channel"
	"github.com/quillnet/quillnet/core/log"
	"github.com/quillnet/quillnet/core/packet"
	"github.com/quillnet/quillnet/core/sequence"
	"github.com/quillnet/quillnet/core/wire"
)

// ErrChannel is the connection error state entered when any channel
// reports a fatal error.  All further packet reads and writes become
// no-ops until Reset.
var ErrChannel = errors.New("connection: channel error")

// Connection counters.
const (
	CounterPacketsRead = iota
	CounterPacketsWritten
	CounterPacketsAcked
	CounterPacketsDiscarded
	NumCounters
)

// Config parameterizes a connection.
type Config struct {
	// PacketType is the type tag connection packets carry in the
	// packet factory.
	PacketType int

	// MaxPacketSize is the configured size bound for a serialized
	// connection packet.  The connection stores it but does not check
	// packets against it.
	MaxPacketSize int

	// SlidingWindowSize is the capacity of the sent and received
	// packet sequence buffers.
	SlidingWindowSize int

	// PacketFactory creates connection packets on write.
	PacketFactory *packet.Factory

	// Structure describes the channels multiplexed over the
	// connection.  Must be locked, and structurally identical on both
	// endpoints.
	Structure *channel.Structure

	// Context is plumbed to every channel for message measurement and
	// serialization.
	Context *wire.Context

	// LogBackend supplies the logger.  Optional.
	LogBackend *log.Backend
}

func (cfg *Config) fixup() {
	if cfg.MaxPacketSize == 0 {
		cfg.MaxPacketSize = 1024
	}
	if cfg.SlidingWindowSize == 0 {
		cfg.SlidingWindowSize = 256
	}
	if cfg.LogBackend == nil {
		cfg.LogBackend = log.NewNop()
	}
}

type sentPacketData struct {
	acked bool
}

type receivedPacketData struct{}

// Connection drives the sent and received packet sequence buffers,
// generates acks, and dispatches channel payloads.
type Connection struct {
	cfg Config
	l   *logging.Logger

	err      error
	timeBase channel.TimeBase

	sentPackets     *sequence.Buffer[sentPacketData]
	receivedPackets *sequence.Buffer[receivedPacketData]

	channels []channel.Channel
	counters [NumCounters]uint64
}

// New creates a connection from the given configuration.  A nil packet
// factory or unlocked channel structure is a programming error.
func New(cfg Config) *Connection {
	if cfg.PacketFactory == nil {
		panic("connection: packet factory is required")
	}
	if cfg.Structure == nil || !cfg.Structure.IsLocked() {
		panic("connection: a locked channel structure is required")
	}
	cfg.fixup()

	c := &Connection{
		cfg:             cfg,
		l:               cfg.LogBackend.GetLogger("connection"),
		sentPackets:     sequence.NewBuffer[sentPacketData](cfg.SlidingWindowSize),
		receivedPackets: sequence.NewBuffer[receivedPacketData](cfg.SlidingWindowSize),
	}

	for i := 0; i < cfg.Structure.NumChannels(); i++ {
		ch := cfg.Structure.CreateChannel(i)
		ch.SetContext(cfg.Context)
		c.channels = append(c.channels, ch)
	}

	c.Reset()
	return c
}

// Channel returns the channel at the given index.
func (c *Connection) Channel(index int) channel.Channel {
	return c.channels[index]
}

// Reset returns the connection and all of its channels to their
// initial state, clearing counters and the timebase.
func (c *Connection) Reset() {
	c.err = nil
	c.timeBase = channel.TimeBase{}
	c.sentPackets.Reset()
	c.receivedPackets.Reset()
	for _, ch := range c.channels {
		ch.Reset()
	}
	for i := range c.counters {
		c.counters[i] = 0
	}
}

// Update advances the timebase and checks channels for fatal errors.
func (c *Connection) Update(timeBase channel.TimeBase) {
	if c.err != nil {
		return
	}

	c.timeBase = timeBase

	for i, ch := range c.channels {
		ch.Update(timeBase)
		if chErr := ch.Error(); chErr != nil {
			c.l.Errorf("channel %d error: %v", i, chErr)
			c.err = ErrChannel
			return
		}
	}
}

// Error returns the connection error state, or nil.
func (c *Connection) Error() error {
	return c.err
}

// ChannelError returns the error state of the channel at the given
// index, or nil.
func (c *Connection) ChannelError(index int) error {
	return c.channels[index].Error()
}

// TimeBase returns the current timebase.
func (c *Connection) TimeBase() channel.TimeBase {
	return c.timeBase
}

// WritePacket builds the next outgoing packet: it assigns the next
// sequence, folds in ack state for received packets, and collects a
// payload from every channel that has one.  The caller owns the
// returned packet.  Returns nil in the error state.
func (c *Connection) WritePacket() *Packet {
	if c.err != nil {
		return nil
	}

	p, ok := c.cfg.PacketFactory.Create(c.cfg.PacketType).(*Packet)
	if !ok {
		panic("connection: packet factory built the wrong type for connection packets")
	}

	p.Sequence = c.sentPackets.Sequence()

	p.Ack, p.AckBits = sequence.GenerateAckBits(c.receivedPackets)

	for i, ch := range c.channels {
		p.ChannelData[i] = ch.GetData(p.Sequence)
	}

	entry := c.sentPackets.Insert(p.Sequence)
	entry.acked = false

	c.counters[CounterPacketsWritten]++

	return p
}

// ReadPacket consumes a received packet: acks are processed first, then
// each channel payload is dispatched to its channel.  Returns false if
// the packet was discarded, either because a channel rejected its data
// or because the sequence is a duplicate or too old.
func (c *Connection) ReadPacket(p *Packet) bool {
	if c.err != nil {
		return false
	}
	if p == nil || p.Type() != c.cfg.PacketType {
		panic("connection: wrong packet type")
	}

	c.ProcessAcks(p.Ack, p.AckBits)

	c.counters[CounterPacketsRead]++

	discard := false
	for i, ch := range c.channels {
		if p.ChannelData[i] == nil {
			continue
		}
		if !ch.ProcessData(p.Sequence, p.ChannelData[i]) {
			discard = true
		}
	}

	duplicate := c.receivedPackets.Find(p.Sequence) != nil
	if discard || duplicate || c.receivedPackets.Insert(p.Sequence) == nil {
		c.counters[CounterPacketsDiscarded]++
		c.l.Debugf("discarded packet %d", p.Sequence)
		return false
	}

	return true
}

// ProcessAcks walks the ack bitmap and notifies every channel of each
// newly acked packet.  Acking is idempotent per sequence.
func (c *Connection) ProcessAcks(ack uint16, ackBits uint32) {
	for i := 0; i < 32; i++ {
		if ackBits&1 == 1 {
			seq := ack - uint16(i)
			if entry := c.sentPackets.Find(seq); entry != nil && !entry.acked {
				c.packetAcked(seq)
				entry.acked = true
			}
		}
		ackBits >>= 1
	}
}

func (c *Connection) packetAcked(seq uint16) {
	c.counters[CounterPacketsAcked]++
	for _, ch := range c.channels {
		ch.ProcessAck(seq)
	}
}

// Counter returns the value of the given connection counter.
func (c *Connection) Counter(index int) uint64 {
	return c.counters[index]
}
