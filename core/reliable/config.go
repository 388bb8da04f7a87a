// config.go - Reliable message channel configuration.
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
	"github.com/quillnet/quillnet/core/log"
	"github.com/quillnet/quillnet/core/message"
)

// Config parameterizes a reliable message channel.  Both endpoints
// must agree on every field that affects the wire layout:
// MaxMessagesPerPacket, BlockFragmentSize, Align and the message
// factory's registered types.
type Config struct {
	// ResendRate is the minimum spacing in seconds before an unacked
	// message or fragment is sent again.
	ResendRate float64

	// SendQueueSize, ReceiveQueueSize and SentPacketsSize are the
	// capacities of the three sequence buffers.
	SendQueueSize    int
	ReceiveQueueSize int
	SentPacketsSize  int

	// MaxMessagesPerPacket caps the number of messages packed into a
	// single outgoing packet.
	MaxMessagesPerPacket int

	// MaxMessageSize bounds the measured serialized size of a single
	// non-block message, in bytes.
	MaxMessageSize int

	// MaxSmallBlockSize is the largest block size carried inline;
	// larger blocks are fragmented.
	MaxSmallBlockSize int

	// MaxLargeBlockSize bounds the size of a fragmented block.
	MaxLargeBlockSize int

	// BlockFragmentSize is the fragment payload size in bytes.
	BlockFragmentSize int

	// PacketBudget is the most bytes this channel may contribute to a
	// single packet.
	PacketBudget int

	// GiveUpBits stops packing more messages once the remaining bit
	// budget falls below it.
	GiveUpBits int

	// Align byte-aligns between messages to aid compressibility, at a
	// cost of up to fourteen bits of overhead per message.
	Align bool

	// MessageFactory creates, reference counts and destroys messages.
	MessageFactory *message.Factory

	// LogBackend supplies the logger.  Optional.
	LogBackend *log.Backend
}

func (cfg *Config) fixup() {
	if cfg.ResendRate == 0 {
		cfg.ResendRate = 0.1
	}
	if cfg.SendQueueSize == 0 {
		cfg.SendQueueSize = 1024
	}
	if cfg.ReceiveQueueSize == 0 {
		cfg.ReceiveQueueSize = 256
	}
	if cfg.SentPacketsSize == 0 {
		cfg.SentPacketsSize = 256
	}
	if cfg.MaxMessagesPerPacket == 0 {
		cfg.MaxMessagesPerPacket = 32
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = 64
	}
	if cfg.MaxSmallBlockSize == 0 {
		cfg.MaxSmallBlockSize = 64
	}
	if cfg.MaxLargeBlockSize == 0 {
		cfg.MaxLargeBlockSize = 256 * 1024
	}
	if cfg.BlockFragmentSize == 0 {
		cfg.BlockFragmentSize = 64
	}
	if cfg.PacketBudget == 0 {
		cfg.PacketBudget = 128
	}
	if cfg.GiveUpBits == 0 {
		cfg.GiveUpBits = 64
	}
	if cfg.LogBackend == nil {
		cfg.LogBackend = log.NewNop()
	}
	if cfg.MaxSmallBlockSize > message.MaxSmallBlockSize {
		panic("reliable: MaxSmallBlockSize exceeds the small block message cap")
	}
	if cfg.MessageFactory == nil {
		panic("reliable: message factory is required")
	}
}
