// receiver.go - Standalone block fragment receiver.
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

package datablock

import (
	"errors"

	"github.com/quillnet/quillnet/core/block"
	"github.com/quillnet/quillnet/core/sequence"
)

// ErrBlockTooLarge is the receiver's error state when the announced
// block size exceeds the configured maximum.
var ErrBlockTooLarge = errors.New("datablock: block too large")

// AckSender is the outgoing transport the receiver pushes fragment
// acks into.
type AckSender interface {
	SendAck(fragmentID int)
}

// ReceiverConfig parameterizes a block receiver.
type ReceiverConfig struct {
	// FragmentSize is the fragment payload size in bytes.
	FragmentSize int

	// MaxBlockSize bounds the size of the block being received, and
	// therefore the assembly buffer.
	MaxBlockSize int
}

// Receiver assembles a block from fragments, acking every fragment it
// sees, including duplicates.
type Receiver struct {
	cfg ReceiverConfig
	out AckSender

	data                 []byte
	maxFragments         int
	blockSize            int
	numFragments         int
	numReceivedFragments int
	receivedFragment     *sequence.BitArray
	err                  error
	blk                  block.Block
}

// NewReceiver creates a receiver for blocks up to MaxBlockSize.
func NewReceiver(cfg ReceiverConfig, out AckSender) *Receiver {
	if cfg.FragmentSize <= 0 || cfg.FragmentSize > MaxFragmentSize {
		panic("datablock: fragment size out of range")
	}
	if cfg.MaxBlockSize <= 0 {
		panic("datablock: max block size must be positive")
	}
	if out == nil {
		panic("datablock: nil ack sender")
	}

	r := &Receiver{
		cfg:          cfg,
		out:          out,
		data:         make([]byte, cfg.MaxBlockSize),
		maxFragments: (cfg.MaxBlockSize + cfg.FragmentSize - 1) / cfg.FragmentSize,
	}
	r.receivedFragment = sequence.NewBitArray(r.maxFragments)
	r.Clear()
	return r
}

// Clear resets the receiver for a new transfer.
func (r *Receiver) Clear() {
	r.blockSize = 0
	r.numFragments = 0
	r.numReceivedFragments = 0
	r.err = nil
	r.blk.Disconnect()
	r.receivedFragment.Clear()
}

// ProcessFragment validates and consumes one fragment.  Every valid
// fragment is acked regardless of novelty, so lost acks are repaired
// by the sender's retransmission.
func (r *Receiver) ProcessFragment(blockSize, numFragments, fragmentID, fragmentBytes int, fragmentData []byte) {
	if blockSize > r.cfg.MaxBlockSize {
		r.err = ErrBlockTooLarge
		return
	}

	if r.err != nil {
		return
	}

	if r.blockSize == 0 {
		r.blockSize = blockSize
	}
	if r.blockSize != blockSize {
		return
	}

	if numFragments > r.maxFragments {
		return
	}
	if r.numFragments == 0 {
		r.numFragments = numFragments
	}
	if r.numFragments != numFragments {
		return
	}

	if fragmentID < 0 || fragmentID >= r.numFragments {
		return
	}

	start := fragmentID * r.cfg.FragmentSize
	finish := start + fragmentBytes
	if fragmentBytes <= 0 || fragmentBytes > len(fragmentData) || finish > r.blockSize {
		return
	}

	r.out.SendAck(fragmentID)

	if !r.receivedFragment.GetBit(fragmentID) {
		r.receivedFragment.SetBit(fragmentID)
		r.numReceivedFragments++
		copy(r.data[start:finish], fragmentData[:fragmentBytes])
	}
}

// Block returns the completed block, or nil if fragments are still
// outstanding.  The returned block connects to the assembly buffer.
func (r *Receiver) Block() *block.Block {
	if !r.ReceiveCompleted() || r.blockSize == 0 {
		return nil
	}
	r.blk.Disconnect()
	r.blk.Connect(r.data[:r.blockSize])
	return &r.blk
}

// NumFragments returns the announced fragment count, or zero before
// the first fragment arrives.
func (r *Receiver) NumFragments() int {
	return r.numFragments
}

// NumReceivedFragments returns how many distinct fragments have been
// received.
func (r *Receiver) NumReceivedFragments() int {
	return r.numReceivedFragments
}

// ReceiveCompleted returns true once every fragment has arrived.
func (r *Receiver) ReceiveCompleted() bool {
	return r.numFragments > 0 && r.numReceivedFragments == r.numFragments
}

// Error returns the receiver's error state, or nil.
func (r *Receiver) Error() error {
	return r.err
}
