// channel.go - Reliable ordered message channel.
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

// Package reliable implements a channel that delivers variable sized
// application messages reliably and in order, serializing several per
// packet and retransmitting until acknowledged.  Blocks above a small
// size threshold switch the channel into large block mode, where the
// block is fragmented and each fragment individually acked.
package reliable

import (
	"errors"

	"gopkg.in/op/go-logging.v1"

	"github.com/quillnet/quillnet/core/block"
	"github.com/quillnet/quillnet/core/channel"
	"github.com/quillnet/quillnet/core/message"
	"github.com/quillnet/quillnet/core/sequence"
	"github.com/quillnet/quillnet/core/wire"
)

// ErrSendQueueFull is the channel's fatal error state, entered when a
// message is sent while the send queue has no free slot.
var ErrSendQueueFull = errors.New("reliable: send queue full")

// Reliable channel counters.
const (
	CounterMessagesSent = iota
	CounterMessagesWritten
	CounterMessagesRead
	CounterMessagesReceived
	CounterMessagesDiscardedLate
	CounterMessagesDiscardedEarly
	NumCounters
)

const smallBlockOverhead = 8

type sendQueueEntry struct {
	msg          message.Message
	timeLastSent float64
	measuredBits int
	largeBlock   bool
}

type receiveQueueEntry struct {
	msg message.Message
}

type sentPacketEntry struct {
	acked      bool
	largeBlock bool
	blockID    uint16
	fragmentID uint16
	timeSent   float64
	messageIDs []uint16
}

type sendBlockState struct {
	active            bool
	blockID           uint16
	blockSize         int
	numFragments      int
	numAckedFragments int
	ackedFragment     *sequence.BitArray
	timeFragmentSent  []float64
}

func (s *sendBlockState) reset() {
	s.active = false
	s.blockID = 0
	s.blockSize = 0
	s.numFragments = 0
	s.numAckedFragments = 0
}

type receiveBlockState struct {
	active               bool
	blockID              uint16
	blockSize            int
	numFragments         int
	numReceivedFragments int
	receivedFragment     *sequence.BitArray
	blk                  block.Block
}

func (s *receiveBlockState) reset() {
	s.active = false
	s.blockID = 0
	s.blockSize = 0
	s.numFragments = 0
	s.numReceivedFragments = 0
	s.blk.Destroy()
}

// SendBlockStatus reports large block send progress.
type SendBlockStatus struct {
	Sending           bool
	BlockID           uint16
	BlockSize         int
	NumFragments      int
	NumAckedFragments int
}

// ReceiveBlockStatus reports large block receive progress.
type ReceiveBlockStatus struct {
	Receiving            bool
	BlockID              uint16
	BlockSize            int
	NumFragments         int
	NumReceivedFragments int
}

// Channel is the reliable ordered message channel.
type Channel struct {
	cfg Config
	l   *logging.Logger
	ctx *wire.Context
	err error

	sendQueue    *sequence.Buffer[sendQueueEntry]
	sentPackets  *sequence.Buffer[sentPacketEntry]
	receiveQueue *sequence.Buffer[receiveQueueEntry]

	sendMessageID          uint16
	receiveMessageID       uint16
	oldestUnackedMessageID uint16

	messageOverheadBits int
	maxBlockFragments   int

	sendLargeBlock    sendBlockState
	receiveLargeBlock receiveBlockState

	// Flat arena behind the sent packet entries' message id slices, so
	// ack handling is allocation free.
	sentPacketMessageIDs []uint16

	timeBase channel.TimeBase
	counters [NumCounters]uint64
}

var _ channel.Channel = (*Channel)(nil)

// New creates a reliable message channel from the given configuration.
func New(cfg Config) *Channel {
	cfg.fixup()

	c := &Channel{
		cfg:          cfg,
		l:            cfg.LogBackend.GetLogger("reliable"),
		sendQueue:    sequence.NewBuffer[sendQueueEntry](cfg.SendQueueSize),
		sentPackets:  sequence.NewBuffer[sentPacketEntry](cfg.SentPacketsSize),
		receiveQueue: sequence.NewBuffer[receiveQueueEntry](cfg.ReceiveQueueSize),
	}

	maxMessageType := cfg.MessageFactory.NumTypes() - 1
	typeBits := 0
	if maxMessageType > 0 {
		typeBits = wire.BitsRequired(0, int32(maxMessageType))
	}
	alignOverhead := 0
	if cfg.Align {
		alignOverhead = 14
	}
	c.messageOverheadBits = 16 + typeBits + alignOverhead

	c.maxBlockFragments = (cfg.MaxLargeBlockSize + cfg.BlockFragmentSize - 1) / cfg.BlockFragmentSize

	c.sendLargeBlock.ackedFragment = sequence.NewBitArray(c.maxBlockFragments)
	c.sendLargeBlock.timeFragmentSent = make([]float64, c.maxBlockFragments)
	c.receiveLargeBlock.receivedFragment = sequence.NewBitArray(c.maxBlockFragments)

	c.sentPacketMessageIDs = make([]uint16, cfg.MaxMessagesPerPacket*cfg.SendQueueSize)

	c.Reset()
	return c
}

// Config returns the channel's configuration after defaulting.
func (c *Channel) Config() *Config {
	return &c.cfg
}

// SetContext attaches the stream context used for message measurement.
func (c *Channel) SetContext(ctx *wire.Context) {
	c.ctx = ctx
}

// Reset releases every queued message and returns the channel to its
// initial state.
func (c *Channel) Reset() {
	c.err = nil

	c.sendMessageID = 0
	c.receiveMessageID = 0
	c.oldestUnackedMessageID = 0

	for i := 0; i < c.sendQueue.Size(); i++ {
		if entry := c.sendQueue.At(i); entry != nil && entry.msg != nil {
			c.cfg.MessageFactory.Release(entry.msg)
			entry.msg = nil
		}
	}
	for i := 0; i < c.receiveQueue.Size(); i++ {
		if entry := c.receiveQueue.At(i); entry != nil && entry.msg != nil {
			c.cfg.MessageFactory.Release(entry.msg)
			entry.msg = nil
		}
	}

	c.sendQueue.Reset()
	c.sentPackets.Reset()
	c.receiveQueue.Reset()

	for i := range c.counters {
		c.counters[i] = 0
	}

	c.timeBase = channel.TimeBase{}

	c.sendLargeBlock.reset()
	c.receiveLargeBlock.reset()
}

// Error returns the channel's fatal error state, or nil.
func (c *Channel) Error() error {
	return c.err
}

// Update advances the channel's timebase.
func (c *Channel) Update(timeBase channel.TimeBase) {
	c.timeBase = timeBase
}

// CanSendMessage returns true if the send queue has room for another
// message.
func (c *Channel) CanSendMessage() bool {
	return c.sendQueue.IsAvailable(c.sendMessageID)
}

// SendMessage queues a message for delivery, taking ownership of the
// caller's reference.  Sending into a full queue is fatal to the
// channel.
func (c *Channel) SendMessage(msg message.Message) error {
	if !c.CanSendMessage() {
		c.l.Error("send queue overflow")
		c.err = ErrSendQueueFull
		c.cfg.MessageFactory.Release(msg)
		return c.err
	}

	msg.SetID(c.sendMessageID)

	largeBlock := false
	if msg.IsBlock() {
		blockMessage := msg.(*message.BlockMessage)
		if blockMessage.Block().Size() > c.cfg.MaxSmallBlockSize {
			largeBlock = true
		}
	}

	entry := c.sendQueue.Insert(c.sendMessageID)
	entry.msg = msg
	entry.largeBlock = largeBlock
	entry.measuredBits = 0
	entry.timeLastSent = -1

	if !largeBlock {
		measure := wire.NewMeasureStream(maxInt(c.cfg.MaxMessageSize, c.cfg.MaxSmallBlockSize+smallBlockOverhead))
		measure.SetContext(c.ctx)
		msg.Serialize(measure)
		if measure.Overflow() {
			// A non-block message larger than MaxMessageSize is a
			// programming error, not a runtime failure.
			panic("reliable: measured message exceeds maximum message size")
		}
		entry.measuredBits = measure.BitsProcessed() + c.messageOverheadBits
	}

	c.counters[CounterMessagesSent]++

	c.sendMessageID++

	return nil
}

// SendBlock queues a block for delivery, taking ownership of its
// buffer.
func (c *Channel) SendBlock(b *block.Block) error {
	blockMessage := c.cfg.MessageFactory.Create(message.BlockMessageType).(*message.BlockMessage)
	blockMessage.Connect(b)
	return c.SendMessage(blockMessage)
}

// ReceiveMessage returns the next message in id order, or nil if it
// has not arrived yet.  Ownership of the returned message passes to
// the caller, who must release it through the message factory.
func (c *Channel) ReceiveMessage() message.Message {
	entry := c.receiveQueue.Find(c.receiveMessageID)
	if entry == nil {
		return nil
	}

	msg := entry.msg

	c.receiveQueue.Remove(c.receiveMessageID)

	c.counters[CounterMessagesReceived]++

	c.receiveMessageID++

	return msg
}

// GetData builds this channel's payload for the outgoing packet with
// the given sequence.  The first unacked entry in the send queue
// decides the mode: a large block at the head of the queue emits one
// eligible fragment, anything else packs as many eligible messages as
// the packet budget allows.  Returns nil when there is nothing to send.
func (c *Channel) GetData(packetSequence uint16) channel.Data {
	firstEntry := c.sendQueue.Find(c.oldestUnackedMessageID)
	if firstEntry == nil {
		return nil
	}

	if firstEntry.largeBlock {
		return c.getFragmentData(packetSequence, firstEntry)
	}
	return c.getMessageData(packetSequence)
}

func (c *Channel) getFragmentData(packetSequence uint16, firstEntry *sendQueueEntry) channel.Data {
	blockMessage := firstEntry.msg.(*message.BlockMessage)
	blk := blockMessage.Block()

	if !c.sendLargeBlock.active {
		s := &c.sendLargeBlock
		s.active = true
		s.blockID = c.oldestUnackedMessageID
		s.blockSize = blk.Size()
		s.numFragments = (blk.Size() + c.cfg.BlockFragmentSize - 1) / c.cfg.BlockFragmentSize
		s.numAckedFragments = 0
		s.ackedFragment.Clear()
		for i := range s.timeFragmentSent {
			s.timeFragmentSent[i] = -1
		}
		c.l.Debugf("sending block %d in %d fragments", s.blockID, s.numFragments)
	}

	fragmentID := -1
	for i := 0; i < c.sendLargeBlock.numFragments; i++ {
		if !c.sendLargeBlock.ackedFragment.GetBit(i) &&
			c.sendLargeBlock.timeFragmentSent[i]+c.cfg.ResendRate < c.timeBase.Time {
			fragmentID = i
			c.sendLargeBlock.timeFragmentSent[i] = c.timeBase.Time
			break
		}
	}

	if fragmentID == -1 {
		return nil
	}

	data := NewChannelData(&c.cfg)
	data.LargeBlock = true
	data.BlockSize = uint32(blk.Size())
	data.BlockID = c.oldestUnackedMessageID
	data.FragmentID = uint16(fragmentID)
	data.Fragment = make([]byte, c.cfg.BlockFragmentSize)

	fragmentBytes := c.cfg.BlockFragmentSize
	if remainder := blk.Size() % c.cfg.BlockFragmentSize; remainder != 0 && fragmentID == c.sendLargeBlock.numFragments-1 {
		fragmentBytes = remainder
	}
	copy(data.Fragment, blk.Data()[fragmentID*c.cfg.BlockFragmentSize:fragmentID*c.cfg.BlockFragmentSize+fragmentBytes])

	entry := c.sentPackets.Insert(packetSequence)
	entry.acked = false
	entry.largeBlock = true
	entry.blockID = c.oldestUnackedMessageID
	entry.fragmentID = uint16(fragmentID)
	entry.timeSent = c.timeBase.Time
	entry.messageIDs = nil

	return data
}

func (c *Channel) getMessageData(packetSequence uint16) channel.Data {
	availableBits := c.cfg.PacketBudget * 8
	if c.cfg.Align {
		availableBits -= 3 * 8
	}

	messageIDs := make([]uint16, 0, c.cfg.MaxMessagesPerPacket)
	for i := 0; i < c.cfg.ReceiveQueueSize; i++ {
		if availableBits < c.cfg.GiveUpBits {
			break
		}

		messageID := c.oldestUnackedMessageID + uint16(i)
		entry := c.sendQueue.Find(messageID)
		if entry == nil || entry.largeBlock {
			break
		}

		if entry.timeLastSent+c.cfg.ResendRate <= c.timeBase.Time && availableBits >= entry.measuredBits {
			messageIDs = append(messageIDs, messageID)
			entry.timeLastSent = c.timeBase.Time
			availableBits -= entry.measuredBits
		}

		if len(messageIDs) == c.cfg.MaxMessagesPerPacket {
			break
		}
	}

	if len(messageIDs) == 0 {
		return nil
	}

	entry := c.sentPackets.Insert(packetSequence)
	entry.acked = false
	entry.largeBlock = false
	entry.blockID = 0
	entry.fragmentID = 0
	entry.timeSent = c.timeBase.Time
	arenaOffset := c.sentPackets.Index(packetSequence) * c.cfg.MaxMessagesPerPacket
	entry.messageIDs = c.sentPacketMessageIDs[arenaOffset : arenaOffset+len(messageIDs)]
	copy(entry.messageIDs, messageIDs)

	c.counters[CounterMessagesWritten] += uint64(len(messageIDs))

	data := NewChannelData(&c.cfg)
	data.Messages = make([]message.Message, len(messageIDs))
	for i, id := range messageIDs {
		sendEntry := c.sendQueue.Find(id)
		data.Messages[i] = sendEntry.msg
		c.cfg.MessageFactory.AddRef(sendEntry.msg)
	}

	return data
}

// ProcessData consumes a received payload.  Returning false rejects
// the whole packet so its contents are never acked and the sender
// retries.
func (c *Channel) ProcessData(packetSequence uint16, channelData channel.Data) bool {
	data, ok := channelData.(*ChannelData)
	if !ok {
		panic("reliable: wrong channel data type")
	}

	// A large block older than the receive queue's head means the
	// sender has missed acks for fragments we already consumed.  Accept
	// silently; the ack system will catch the sender up.
	if data.LargeBlock && sequence.LessThan(data.BlockID, c.receiveQueue.Sequence()) {
		return true
	}

	// While assembling a large block, bitpacked payloads cannot be
	// processed and must not be acked, or the sender would never
	// resend them.
	if !data.LargeBlock && c.receiveLargeBlock.active {
		return false
	}

	if data.LargeBlock {
		return c.processFragment(data)
	}
	return c.processMessages(data)
}

func (c *Channel) processFragment(data *ChannelData) bool {
	if !c.receiveLargeBlock.active {
		expectedBlockID := c.receiveQueue.Sequence()
		if data.BlockID != expectedBlockID {
			return false
		}

		if int(data.BlockSize) > c.cfg.MaxLargeBlockSize {
			return false
		}

		numFragments := (int(data.BlockSize) + c.cfg.BlockFragmentSize - 1) / c.cfg.BlockFragmentSize
		if numFragments <= 0 || numFragments > c.maxBlockFragments {
			return false
		}

		r := &c.receiveLargeBlock
		r.active = true
		r.numFragments = numFragments
		r.numReceivedFragments = 0
		r.blockID = data.BlockID
		r.blockSize = int(data.BlockSize)
		r.blk.Connect(make([]byte, data.BlockSize))
		r.receivedFragment.Clear()

		c.l.Debugf("receiving block %d (%d bytes)", r.blockID, r.blockSize)
	}

	if data.BlockID != c.receiveLargeBlock.blockID {
		return false
	}
	if int(data.BlockSize) != c.receiveLargeBlock.blockSize {
		return false
	}
	if int(data.FragmentID) >= c.receiveLargeBlock.numFragments {
		return false
	}

	fragmentID := int(data.FragmentID)

	if !c.receiveLargeBlock.receivedFragment.GetBit(fragmentID) {
		c.receiveLargeBlock.receivedFragment.SetBit(fragmentID)

		fragmentBytes := c.cfg.BlockFragmentSize
		if remainder := c.receiveLargeBlock.blockSize % c.cfg.BlockFragmentSize; remainder != 0 && fragmentID == c.receiveLargeBlock.numFragments-1 {
			fragmentBytes = remainder
		}

		start := fragmentID * c.cfg.BlockFragmentSize
		copy(c.receiveLargeBlock.blk.Data()[start:start+fragmentBytes], data.Fragment)

		c.receiveLargeBlock.numReceivedFragments++

		if c.receiveLargeBlock.numReceivedFragments == c.receiveLargeBlock.numFragments {
			blockMessage := c.cfg.MessageFactory.Create(message.BlockMessageType).(*message.BlockMessage)
			blockMessage.Connect(&c.receiveLargeBlock.blk)
			blockMessage.SetID(c.receiveLargeBlock.blockID)

			entry := c.receiveQueue.Insert(c.receiveLargeBlock.blockID)
			entry.msg = blockMessage

			c.receiveLargeBlock.active = false
		}
	}

	return true
}

func (c *Channel) processMessages(data *ChannelData) bool {
	earlyMessage := false

	minMessageID := c.receiveMessageID
	maxMessageID := c.receiveMessageID + uint16(c.cfg.ReceiveQueueSize) - 1

	for _, msg := range data.Messages {
		if msg == nil {
			continue
		}

		messageID := msg.ID()

		switch {
		case sequence.LessThan(messageID, minMessageID):
			c.counters[CounterMessagesDiscardedLate]++
		case sequence.GreaterThan(messageID, maxMessageID):
			c.counters[CounterMessagesDiscardedEarly]++
			earlyMessage = true
		case c.receiveQueue.Find(messageID) == nil:
			entry := c.receiveQueue.Insert(messageID)
			entry.msg = msg
			c.cfg.MessageFactory.AddRef(msg)
		}

		c.counters[CounterMessagesRead]++
	}

	return !earlyMessage
}

// ProcessAck retires the contents of an acked packet: bitpacked
// messages leave the send queue, large block fragments mark their bit
// and the block itself retires once every fragment is acked.
func (c *Channel) ProcessAck(packetSequence uint16) {
	sentPacket := c.sentPackets.Find(packetSequence)
	if sentPacket == nil || sentPacket.acked {
		return
	}

	if !sentPacket.largeBlock {
		for _, messageID := range sentPacket.messageIDs {
			if entry := c.sendQueue.Find(messageID); entry != nil {
				c.cfg.MessageFactory.Release(entry.msg)
				entry.msg = nil
				c.sendQueue.Remove(messageID)
			}
		}
		c.updateOldestUnackedMessageID()
	} else if c.sendLargeBlock.active && c.sendLargeBlock.blockID == sentPacket.blockID {
		fragmentID := int(sentPacket.fragmentID)
		if !c.sendLargeBlock.ackedFragment.GetBit(fragmentID) {
			c.sendLargeBlock.ackedFragment.SetBit(fragmentID)
			c.sendLargeBlock.numAckedFragments++

			if c.sendLargeBlock.numAckedFragments == c.sendLargeBlock.numFragments {
				c.sendLargeBlock.active = false

				if entry := c.sendQueue.Find(sentPacket.blockID); entry != nil {
					c.cfg.MessageFactory.Release(entry.msg)
					entry.msg = nil
					c.sendQueue.Remove(sentPacket.blockID)
				}
				c.updateOldestUnackedMessageID()
			}
		}
	}

	sentPacket.acked = true
}

func (c *Channel) updateOldestUnackedMessageID() {
	stopMessageID := c.sendQueue.Sequence()

	for c.oldestUnackedMessageID != stopMessageID {
		if c.sendQueue.Find(c.oldestUnackedMessageID) != nil {
			break
		}
		c.oldestUnackedMessageID++
	}
}

// Counter returns the value of the given channel counter.
func (c *Channel) Counter(index int) uint64 {
	return c.counters[index]
}

// SendBlockStatus reports the progress of the large block currently
// being sent, if any.
func (c *Channel) SendBlockStatus() SendBlockStatus {
	return SendBlockStatus{
		Sending:           c.sendLargeBlock.active,
		BlockID:           c.sendLargeBlock.blockID,
		BlockSize:         c.sendLargeBlock.blockSize,
		NumFragments:      c.sendLargeBlock.numFragments,
		NumAckedFragments: c.sendLargeBlock.numAckedFragments,
	}
}

// ReceiveBlockStatus reports the progress of the large block currently
// being assembled, if any.
func (c *Channel) ReceiveBlockStatus() ReceiveBlockStatus {
	return ReceiveBlockStatus{
		Receiving:            c.receiveLargeBlock.active,
		BlockID:              c.receiveLargeBlock.blockID,
		BlockSize:            c.receiveLargeBlock.blockSize,
		NumFragments:         c.receiveLargeBlock.numFragments,
		NumReceivedFragments: c.receiveLargeBlock.numReceivedFragments,
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
