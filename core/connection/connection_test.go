// connection_test.go - Connection tests.
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
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quillnet/quillnet/core/channel"
	"github.com/quillnet/quillnet/core/packet"
	"github.com/quillnet/quillnet/core/wire"
)

const connectionPacketType = 0

type stubChannel struct {
	channel.Adapter
	err error
}

func (c *stubChannel) Error() error {
	return c.err
}

type stubData struct{}

func (d *stubData) Serialize(stream wire.Stream) {}
func (d *stubData) Release()                     {}

func newTestStructure() *channel.Structure {
	s := channel.NewStructure()
	s.AddChannel("stub",
		func() channel.Channel { return &stubChannel{} },
		func() channel.Data { return &stubData{} })
	s.Lock()
	return s
}

func newTestConnection(t *testing.T, structure *channel.Structure) (*Connection, *packet.Factory) {
	factory := packet.NewFactory()
	factory.Register(connectionPacketType, func() packet.Packet { return NewPacket(connectionPacketType) })

	ctx := &wire.Context{}
	ctx[ContextConnection] = structure

	conn := New(Config{
		PacketType:    connectionPacketType,
		PacketFactory: factory,
		Structure:     structure,
		Context:       ctx,
	})
	return conn, factory
}

func TestConnectionAckSaturation(t *testing.T) {
	conn, factory := newTestConnection(t, newTestStructure())

	// Feed the connection its own packets until one hundred of them
	// have been acked.
	for conn.Counter(CounterPacketsAcked) < 100 {
		p := conn.WritePacket()
		require.NotNil(t, p)
		conn.ReadPacket(p)
		factory.Destroy(p)
	}

	require.Equal(t, uint64(100), conn.Counter(CounterPacketsAcked))
	require.Equal(t, uint64(101), conn.Counter(CounterPacketsWritten))
	require.Equal(t, uint64(101), conn.Counter(CounterPacketsRead))
	require.Equal(t, uint64(0), conn.Counter(CounterPacketsDiscarded))
	require.Equal(t, 0, factory.NumAllocated())
}

func TestConnectionDuplicateDiscard(t *testing.T) {
	conn, factory := newTestConnection(t, newTestStructure())

	p := conn.WritePacket()
	require.True(t, conn.ReadPacket(p))
	require.False(t, conn.ReadPacket(p))
	require.Equal(t, uint64(1), conn.Counter(CounterPacketsDiscarded))
	factory.Destroy(p)
}

func TestConnectionChannelErrorStops(t *testing.T) {
	structure := channel.NewStructure()
	var ch *stubChannel
	structure.AddChannel("stub",
		func() channel.Channel { ch = &stubChannel{}; return ch },
		func() channel.Data { return &stubData{} })
	structure.Lock()

	conn, _ := newTestConnection(t, structure)

	require.NotNil(t, conn.WritePacket())

	ch.err = errors.New("boom")
	conn.Update(channel.TimeBase{Time: 1})

	require.Equal(t, ErrChannel, conn.Error())
	require.Nil(t, conn.WritePacket())
	require.False(t, conn.ReadPacket(NewPacket(connectionPacketType)))

	conn.Reset()
	ch.err = nil
	require.Nil(t, conn.Error())
	require.NotNil(t, conn.WritePacket())
}

func TestConnectionPacketSerializeRoundTrip(t *testing.T) {
	structure := newTestStructure()

	ctx := &wire.Context{}
	ctx[ContextConnection] = structure

	cases := []struct {
		name     string
		sequence uint16
		ack      uint16
		ackBits  uint32
	}{
		{"zero", 0, 65535, 0},
		{"short ack delta", 100, 96, 0x0000000F},
		{"long ack delta", 1000, 500, 0x12345678},
		{"perfect acks", 7, 6, 0xFFFFFFFF},
		{"ack delta across wrap", 5, 65535, 0x3},
		{"ack equals sequence", 9, 9, 0x1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := NewPacket(connectionPacketType)
			p.Sequence = tc.sequence
			p.Ack = tc.ack
			p.AckBits = tc.ackBits

			buffer := make([]byte, 256)
			w := wire.NewWriteStream(buffer)
			w.SetContext(ctx)
			p.Serialize(w)
			require.True(t, w.Check(0xFFEEDDCC))
			w.Flush()
			require.False(t, w.Overflow())

			decoded := NewPacket(connectionPacketType)
			r := wire.NewReadStream(buffer)
			r.SetContext(ctx)
			decoded.Serialize(r)
			require.True(t, r.Check(0xFFEEDDCC))
			require.False(t, r.Overflow())

			require.Equal(t, tc.sequence, decoded.Sequence)
			require.Equal(t, tc.ack, decoded.Ack)
			require.Equal(t, tc.ackBits, decoded.AckBits)
		})
	}
}

func TestConnectionPacketChannelDataSlots(t *testing.T) {
	structure := newTestStructure()

	ctx := &wire.Context{}
	ctx[ContextConnection] = structure

	p := NewPacket(connectionPacketType)
	p.Sequence = 42
	p.Ack = 41
	p.AckBits = 1
	p.ChannelData[0] = &stubData{}

	buffer := make([]byte, 256)
	w := wire.NewWriteStream(buffer)
	w.SetContext(ctx)
	p.Serialize(w)
	w.Flush()
	require.False(t, w.Overflow())

	decoded := NewPacket(connectionPacketType)
	r := wire.NewReadStream(buffer)
	r.SetContext(ctx)
	decoded.Serialize(r)
	require.False(t, r.Overflow())

	// The reader allocated a channel data for the occupied slot.
	require.NotNil(t, decoded.ChannelData[0])

	p.Release()
	decoded.Release()
	require.Nil(t, decoded.ChannelData[0])
}
