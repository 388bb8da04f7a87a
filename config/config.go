// config.go - Configuration file handling.
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

// Package config handles the TOML configuration surface for the
// protocol tunables: connection, reliable channel, socket and logging.
// Fields that affect the wire layout must be identical on both
// endpoints, so deployments are expected to ship one file to both
// sides.
package config

import (
	"fmt"
	"io/ioutil"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/quillnet/quillnet/core/log"
	"github.com/quillnet/quillnet/core/reliable"
	"github.com/quillnet/quillnet/network"
)

const (
	defaultLogLevel = "NOTICE"

	defaultSlidingWindowSize = 256
	defaultMaxPacketSize     = 1024
)

// Logging is the logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool

	// File specifies the log file, if omitted stdout will be used.
	File string

	// Level specifies the log level.
	Level string
}

func (l *Logging) validate() error {
	lvls := map[string]bool{
		"ERROR": true, "WARNING": true, "NOTICE": true, "INFO": true, "DEBUG": true,
	}
	if !lvls[l.Level] {
		return fmt.Errorf("config: Logging: Level '%v' is invalid", l.Level)
	}
	return nil
}

// NewBackend constructs the logging backend described by this section.
func (l *Logging) NewBackend() (*log.Backend, error) {
	return log.New(l.File, l.Level, l.Disable)
}

// Connection is the connection configuration.
type Connection struct {
	// PacketType is the type tag connection packets carry.
	PacketType int

	// MaxPacketSize is the configured size bound for a serialized
	// connection packet.  The connection stores it but does not check
	// packets against it.
	MaxPacketSize int

	// SlidingWindowSize is the capacity of the sent and received
	// packet windows.
	SlidingWindowSize int
}

func (c *Connection) applyDefaults() {
	if c.MaxPacketSize == 0 {
		c.MaxPacketSize = defaultMaxPacketSize
	}
	if c.SlidingWindowSize == 0 {
		c.SlidingWindowSize = defaultSlidingWindowSize
	}
}

func (c *Connection) validate() error {
	if c.PacketType < 0 {
		return fmt.Errorf("config: Connection: PacketType %d is negative", c.PacketType)
	}
	if c.MaxPacketSize < 64 {
		return fmt.Errorf("config: Connection: MaxPacketSize %d is too small", c.MaxPacketSize)
	}
	if c.SlidingWindowSize <= 0 {
		return fmt.Errorf("config: Connection: SlidingWindowSize %d is invalid", c.SlidingWindowSize)
	}
	return nil
}

// Reliable is the reliable message channel configuration.
type Reliable struct {
	// ResendRate is the minimum spacing in seconds before an unacked
	// message or fragment is resent.
	ResendRate float64

	// SendQueueSize, ReceiveQueueSize and SentPacketsSize size the
	// channel's sequence buffers.
	SendQueueSize    int
	ReceiveQueueSize int
	SentPacketsSize  int

	// MaxMessagesPerPacket caps messages per outgoing packet.
	MaxMessagesPerPacket int

	// MaxMessageSize bounds a single serialized message, in bytes.
	MaxMessageSize int

	// MaxSmallBlockSize is the inline block threshold, in bytes.
	MaxSmallBlockSize int

	// MaxLargeBlockSize bounds fragmented blocks, in bytes.
	MaxLargeBlockSize int

	// BlockFragmentSize is the fragment payload size, in bytes.
	BlockFragmentSize int

	// PacketBudget is the channel's per packet byte budget.
	PacketBudget int

	// GiveUpBits stops message packing below this remaining budget.
	GiveUpBits int

	// Align byte-aligns between messages.
	Align bool
}

func (r *Reliable) validate() error {
	for field, v := range map[string]int{
		"SendQueueSize":        r.SendQueueSize,
		"ReceiveQueueSize":     r.ReceiveQueueSize,
		"SentPacketsSize":      r.SentPacketsSize,
		"MaxMessagesPerPacket": r.MaxMessagesPerPacket,
		"MaxMessageSize":       r.MaxMessageSize,
		"MaxSmallBlockSize":    r.MaxSmallBlockSize,
		"MaxLargeBlockSize":    r.MaxLargeBlockSize,
		"BlockFragmentSize":    r.BlockFragmentSize,
		"PacketBudget":         r.PacketBudget,
		"GiveUpBits":           r.GiveUpBits,
	} {
		if v < 0 {
			return fmt.Errorf("config: Reliable: %s %d is negative", field, v)
		}
	}
	if r.ResendRate < 0 {
		return fmt.Errorf("config: Reliable: ResendRate %v is negative", r.ResendRate)
	}
	return nil
}

// ChannelConfig expands this section into a channel configuration.
// The caller supplies the message factory and log backend.
func (r *Reliable) ChannelConfig() reliable.Config {
	return reliable.Config{
		ResendRate:           r.ResendRate,
		SendQueueSize:        r.SendQueueSize,
		ReceiveQueueSize:     r.ReceiveQueueSize,
		SentPacketsSize:      r.SentPacketsSize,
		MaxMessagesPerPacket: r.MaxMessagesPerPacket,
		MaxMessageSize:       r.MaxMessageSize,
		MaxSmallBlockSize:    r.MaxSmallBlockSize,
		MaxLargeBlockSize:    r.MaxLargeBlockSize,
		BlockFragmentSize:    r.BlockFragmentSize,
		PacketBudget:         r.PacketBudget,
		GiveUpBits:           r.GiveUpBits,
		Align:                r.Align,
	}
}

// Socket is the UDP socket configuration.
type Socket struct {
	// Port to bind.  Zero selects an ephemeral port.
	Port int

	// IPv6 selects an IPv6 socket.
	IPv6 bool

	// ProtocolID prefixes every datagram; mismatches are dropped.
	ProtocolID uint64

	// MaxPacketSize bounds serialized datagrams.
	MaxPacketSize int

	// SendQueueSize and ReceiveQueueSize size the datagram queues.
	SendQueueSize    int
	ReceiveQueueSize int
}

func (s *Socket) validate() error {
	if s.Port < 0 || s.Port > 65535 {
		return fmt.Errorf("config: Socket: Port %d is invalid", s.Port)
	}
	if s.ProtocolID == 0 {
		return fmt.Errorf("config: Socket: ProtocolID must be non-zero")
	}
	for field, v := range map[string]int{
		"MaxPacketSize":    s.MaxPacketSize,
		"SendQueueSize":    s.SendQueueSize,
		"ReceiveQueueSize": s.ReceiveQueueSize,
	} {
		if v < 0 {
			return fmt.Errorf("config: Socket: %s %d is negative", field, v)
		}
	}
	return nil
}

// UDPConfig expands this section into a UDP interface configuration.
// The caller supplies the packet factory, context and log backend.
func (s *Socket) UDPConfig() network.UDPConfig {
	return network.UDPConfig{
		Port:             s.Port,
		IPv6:             s.IPv6,
		ProtocolID:       s.ProtocolID,
		MaxPacketSize:    s.MaxPacketSize,
		SendQueueSize:    s.SendQueueSize,
		ReceiveQueueSize: s.ReceiveQueueSize,
	}
}

// Config is the top level configuration.
type Config struct {
	Logging    *Logging
	Connection *Connection
	Reliable   *Reliable
	Socket     *Socket
}

// FixupAndValidate applies defaults and validates the configuration.
func (cfg *Config) FixupAndValidate() error {
	if cfg.Logging == nil {
		cfg.Logging = &Logging{Level: defaultLogLevel}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaultLogLevel
	}
	if err := cfg.Logging.validate(); err != nil {
		return err
	}

	if cfg.Connection == nil {
		cfg.Connection = &Connection{}
	}
	cfg.Connection.applyDefaults()
	if err := cfg.Connection.validate(); err != nil {
		return err
	}

	if cfg.Reliable == nil {
		cfg.Reliable = &Reliable{}
	}
	if err := cfg.Reliable.validate(); err != nil {
		return err
	}

	if cfg.Socket == nil {
		return fmt.Errorf("config: missing Socket section")
	}
	return cfg.Socket.validate()
}

// Load parses and validates a configuration from a byte buffer.
func Load(b []byte) (*Config, error) {
	cfg := new(Config)
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return nil, errors.Wrap(err, "config: failed to parse")
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("config: document contains unknown keys: %v", undecoded)
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads, parses and validates a configuration file.
func LoadFile(f string) (*Config, error) {
	b, err := ioutil.ReadFile(f)
	if err != nil {
		return nil, errors.Wrap(err, "config: failed to read file")
	}
	return Load(b)
}
