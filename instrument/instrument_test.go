// instrument_test.go - Collector tests.
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

package instrument

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/quillnet/quillnet/core/channel"
	"github.com/quillnet/quillnet/core/connection"
	"github.com/quillnet/quillnet/core/message"
	"github.com/quillnet/quillnet/core/packet"
	"github.com/quillnet/quillnet/core/reliable"
	"github.com/quillnet/quillnet/core/wire"
)

func newTestConnection() (*connection.Connection, *reliable.Channel, *packet.Factory) {
	factory := message.NewFactory()
	factory.Register(message.BlockMessageType, func() message.Message { return message.NewBlockMessage() })

	var ch *reliable.Channel
	structure := channel.NewStructure()
	structure.AddChannel("reliable",
		func() channel.Channel {
			ch = reliable.New(reliable.Config{MessageFactory: factory})
			return ch
		},
		func() channel.Data { return reliable.NewChannelData(ch.Config()) })
	structure.Lock()

	packetFactory := packet.NewFactory()
	packetFactory.Register(0, func() packet.Packet { return connection.NewPacket(0) })

	ctx := &wire.Context{}
	ctx[connection.ContextConnection] = structure

	conn := connection.New(connection.Config{
		PacketFactory: packetFactory,
		Structure:     structure,
		Context:       ctx,
	})
	return conn, ch, packetFactory
}

func TestConnectionCollector(t *testing.T) {
	conn, _, packetFactory := newTestConnection()

	// Generate some traffic so the counters are non-zero.
	for i := 0; i < 10; i++ {
		p := conn.WritePacket()
		conn.ReadPacket(p)
		packetFactory.Destroy(p)
	}

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(NewConnectionCollector(conn)))

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, connection.NumCounters)

	byName := map[string]float64{}
	for _, f := range families {
		byName[f.GetName()] = f.GetMetric()[0].GetCounter().GetValue()
	}
	require.Equal(t, float64(10), byName["quillnet_connection_packets_written_total"])
	require.Equal(t, float64(10), byName["quillnet_connection_packets_read_total"])
	require.Equal(t, float64(9), byName["quillnet_connection_packets_acked_total"])
}

func TestReliableChannelCollector(t *testing.T) {
	_, ch, _ := newTestConnection()

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(NewReliableChannelCollector(ch)))

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, reliable.NumCounters)
}
