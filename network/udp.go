// udp.go - UDP network interface.
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

package network

import (
	"net"
	"sync/atomic"

	"github.com/pkg/errors"
	"gopkg.in/op/go-logging.v1"

	"github.com/quillnet/quillnet/core/channel"
	"github.com/quillnet/quillnet/core/log"
	"github.com/quillnet/quillnet/core/packet"
	"github.com/quillnet/quillnet/core/wire"
	"github.com/quillnet/quillnet/core/worker"
)

// CheckMagic is the sentinel written at the end of every datagram to
// detect truncation.
const CheckMagic = 0x51246234

// UDP interface counters.
const (
	CounterPacketsSent = iota
	CounterPacketsReceived
	CounterProtocolIDMismatch
	CounterSerializeWriteOverflow
	CounterSerializeReadOverflow
	CounterAbortedReads
	CounterSendFailures
	CounterCreatePacketFailures
	CounterPacketTooLargeToSend
	NumCounters
)

// UDPConfig parameterizes a UDP interface.
type UDPConfig struct {
	// Port to bind.  Zero asks the OS for an ephemeral port.
	Port int

	// IPv6 selects an IPv6 socket instead of IPv4.
	IPv6 bool

	// ProtocolID prefixes every datagram; incoming datagrams with a
	// different id are dropped.
	ProtocolID uint64

	// MaxPacketSize bounds serialized packets.
	MaxPacketSize int

	// SendQueueSize and ReceiveQueueSize are the depths of the
	// datagram queues between the core and the socket goroutines.
	SendQueueSize    int
	ReceiveQueueSize int

	// PacketFactory creates packets when deserializing.
	PacketFactory *packet.Factory

	// Context is attached to every serialization stream.
	Context *wire.Context

	// LogBackend supplies the logger.  Optional.
	LogBackend *log.Backend
}

func (cfg *UDPConfig) fixup() {
	if cfg.MaxPacketSize == 0 {
		cfg.MaxPacketSize = 10 * 1024
	}
	if cfg.SendQueueSize == 0 {
		cfg.SendQueueSize = 256
	}
	if cfg.ReceiveQueueSize == 0 {
		cfg.ReceiveQueueSize = 256
	}
	if cfg.LogBackend == nil {
		cfg.LogBackend = log.NewNop()
	}
}

type datagram struct {
	data []byte
	addr *net.UDPAddr
}

// UDP is the UDP network interface.  Serialization happens on the
// caller's goroutine; a pair of worker goroutines pump raw datagrams
// between the queues and the socket, so ReceivePacket never blocks.
type UDP struct {
	worker.Worker

	cfg UDPConfig
	l   *logging.Logger

	conn *net.UDPConn

	sendCh chan datagram
	recvCh chan datagram

	counters [NumCounters]uint64
}

var _ Interface = (*UDP)(nil)

// NewUDP binds a UDP socket and starts its pump goroutines.
func NewUDP(cfg UDPConfig) (*UDP, error) {
	if cfg.PacketFactory == nil {
		panic("network: packet factory is required")
	}
	cfg.fixup()

	netname := "udp4"
	if cfg.IPv6 {
		netname = "udp6"
	}
	conn, err := net.ListenUDP(netname, &net.UDPAddr{Port: cfg.Port})
	if err != nil {
		return nil, errors.Wrap(err, "network: failed to bind socket")
	}

	u := &UDP{
		cfg:    cfg,
		l:      cfg.LogBackend.GetLogger("network/udp"),
		conn:   conn,
		sendCh: make(chan datagram, cfg.SendQueueSize),
		recvCh: make(chan datagram, cfg.ReceiveQueueSize),
	}

	u.Go(u.sendWorker)
	u.Go(u.recvWorker)

	u.l.Debugf("listening on %v", conn.LocalAddr())

	return u, nil
}

// LocalAddr returns the bound socket address.
func (u *UDP) LocalAddr() *net.UDPAddr {
	return u.conn.LocalAddr().(*net.UDPAddr)
}

// Shutdown closes the socket and stops the pump goroutines.
func (u *UDP) Shutdown() {
	u.conn.Close()
	u.Halt()
}

// MaxPacketSize returns the largest serialized packet carried.
func (u *UDP) MaxPacketSize() int {
	return u.cfg.MaxPacketSize
}

// PacketFactory returns the interface's packet factory.
func (u *UDP) PacketFactory() *packet.Factory {
	return u.cfg.PacketFactory
}

// Update is a no-op; the socket is pumped by the worker goroutines.
func (u *UDP) Update(timeBase channel.TimeBase) {}

// SendPacket serializes the packet and queues the datagram for
// transmission.  Ownership of the packet passes to the interface,
// which destroys it before returning.
func (u *UDP) SendPacket(addr *net.UDPAddr, p packet.Packet) {
	defer u.cfg.PacketFactory.Destroy(p)

	buffer := make([]byte, roundUpToWord(u.cfg.MaxPacketSize))
	stream := wire.NewWriteStream(buffer)
	stream.SetContext(u.cfg.Context)

	protocolID := u.cfg.ProtocolID
	wire.SerializeUint64(stream, &protocolID)

	packetType := int32(p.Type())
	u.serializePacketType(stream, &packetType)

	p.Serialize(stream)

	if !stream.Check(CheckMagic) || stream.Overflow() {
		u.bump(CounterSerializeWriteOverflow)
		u.bump(CounterPacketTooLargeToSend)
		u.l.Debugf("dropped outgoing packet type %d: serialize overflow", p.Type())
		return
	}

	stream.Flush()

	payload := buffer[:stream.BytesProcessed()]

	select {
	case u.sendCh <- datagram{data: payload, addr: addr}:
	default:
		u.bump(CounterSendFailures)
	}
}

// ReceivePacket deserializes the next valid queued datagram into a
// packet, or returns nil when none is waiting.
func (u *UDP) ReceivePacket() (packet.Packet, *net.UDPAddr) {
	for {
		var d datagram
		select {
		case d = <-u.recvCh:
		default:
			return nil, nil
		}

		if p := u.parseDatagram(d.data); p != nil {
			return p, d.addr
		}
	}
}

func (u *UDP) parseDatagram(data []byte) packet.Packet {
	if len(data) < 12 {
		u.bump(CounterSerializeReadOverflow)
		return nil
	}

	// The reader consumes whole words, so pad the datagram out.
	buffer := make([]byte, roundUpToWord(len(data)))
	copy(buffer, data)

	stream := wire.NewReadStream(buffer)
	stream.SetContext(u.cfg.Context)

	var protocolID uint64
	wire.SerializeUint64(stream, &protocolID)
	if protocolID != u.cfg.ProtocolID {
		u.bump(CounterProtocolIDMismatch)
		return nil
	}

	var packetType int32
	u.serializePacketType(stream, &packetType)

	p := u.cfg.PacketFactory.Create(int(packetType))
	if p == nil {
		u.bump(CounterCreatePacketFailures)
		return nil
	}

	p.Serialize(stream)

	if stream.Aborted() {
		u.bump(CounterAbortedReads)
		u.cfg.PacketFactory.Destroy(p)
		return nil
	}

	if stream.Overflow() || !stream.Check(CheckMagic) {
		u.bump(CounterSerializeReadOverflow)
		u.cfg.PacketFactory.Destroy(p)
		return nil
	}

	return p
}

func (u *UDP) serializePacketType(stream wire.Stream, packetType *int32) {
	numTypes := u.cfg.PacketFactory.NumTypes()
	if numTypes > 1 {
		stream.SerializeInteger(packetType, 0, int32(numTypes-1))
	} else {
		*packetType = 0
	}
}

func (u *UDP) sendWorker() {
	for {
		select {
		case <-u.HaltCh():
			return
		case d := <-u.sendCh:
			if _, err := u.conn.WriteToUDP(d.data, d.addr); err != nil {
				u.bump(CounterSendFailures)
				u.l.Debugf("send failed: %v", err)
				continue
			}
			u.bump(CounterPacketsSent)
		}
	}
}

func (u *UDP) recvWorker() {
	buffer := make([]byte, u.cfg.MaxPacketSize+1)
	for {
		n, addr, err := u.conn.ReadFromUDP(buffer)
		if err != nil {
			select {
			case <-u.HaltCh():
				return
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				continue
			}
			// Socket closed underneath us.
			return
		}

		if n > u.cfg.MaxPacketSize {
			// Oversized datagrams cannot be valid packets.
			u.bump(CounterSerializeReadOverflow)
			continue
		}

		data := make([]byte, n)
		copy(data, buffer[:n])

		select {
		case u.recvCh <- datagram{data: data, addr: addr}:
			u.bump(CounterPacketsReceived)
		default:
			// Receive queue overflow; the protocol treats loss as
			// normal, so drop.
		}
	}
}

func (u *UDP) bump(counter int) {
	atomic.AddUint64(&u.counters[counter], 1)
}

// Counter returns the value of the given interface counter.
func (u *UDP) Counter(index int) uint64 {
	return atomic.LoadUint64(&u.counters[index])
}

func roundUpToWord(n int) int {
	return (n + 3) &^ 3
}
