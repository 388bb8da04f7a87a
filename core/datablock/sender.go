// sender.go - Standalone block fragment sender.
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

// Package datablock provides standalone fragment and ack transport for
// a single block, used outside the reliable channel.  It shares the
// large block algorithm but drives its own pacing and uses dedicated
// ack packets rather than piggybacked acks, so the two implementations
// stay separate.
package datablock

import (
	"github.com/quillnet/quillnet/core/block"
	"github.com/quillnet/quillnet/core/channel"
	"github.com/quillnet/quillnet/core/sequence"
)

// MaxFragmentSize bounds the fragment payload size.
const MaxFragmentSize = 1024

// FragmentSender is the outgoing transport the sender pushes fragments
// into.
type FragmentSender interface {
	SendFragment(fragmentID int, fragmentData []byte)
}

// SenderConfig parameterizes a block sender.
type SenderConfig struct {
	// FragmentSize is the fragment payload size in bytes.
	FragmentSize int

	// FragmentsPerSecond paces fragment emission.
	FragmentsPerSecond int
}

// Sender splits a block into fragments and emits unacked fragments
// round-robin at a fixed rate until every fragment has been acked.
type Sender struct {
	cfg SenderConfig
	out FragmentSender

	blk                  *block.Block
	timeBetweenFragments float64
	fragmentIndex        int
	numFragments         int
	numAckedFragments    int
	lastFragmentSendTime float64
	ackedFragment        *sequence.BitArray
}

// NewSender creates a sender over the given block.  The block is
// borrowed: the caller keeps ownership and must keep it alive until
// sending completes.
func NewSender(blk *block.Block, cfg SenderConfig, out FragmentSender) *Sender {
	if !blk.IsValid() {
		panic("datablock: invalid block")
	}
	if cfg.FragmentSize <= 0 || cfg.FragmentSize > MaxFragmentSize {
		panic("datablock: fragment size out of range")
	}
	if cfg.FragmentsPerSecond <= 0 {
		panic("datablock: fragments per second must be positive")
	}
	if out == nil {
		panic("datablock: nil fragment sender")
	}

	s := &Sender{
		cfg:                  cfg,
		out:                  out,
		blk:                  blk,
		timeBetweenFragments: 1.0 / float64(cfg.FragmentsPerSecond),
		numFragments:         (blk.Size() + cfg.FragmentSize - 1) / cfg.FragmentSize,
	}
	s.ackedFragment = sequence.NewBitArray(s.numFragments)
	s.Clear()
	return s
}

// Clear restarts the transfer from scratch.
func (s *Sender) Clear() {
	s.fragmentIndex = 0
	s.numAckedFragments = 0
	s.lastFragmentSendTime = 0
	s.ackedFragment.Clear()
}

// Update emits the next unacked fragment if enough time has passed
// since the last send.
func (s *Sender) Update(timeBase channel.TimeBase) {
	if s.SendCompleted() {
		return
	}

	if s.lastFragmentSendTime+s.timeBetweenFragments > timeBase.Time {
		return
	}

	s.lastFragmentSendTime = timeBase.Time

	for i := 0; i < s.numFragments; i++ {
		if !s.ackedFragment.GetBit(s.fragmentIndex) {
			break
		}
		s.fragmentIndex = (s.fragmentIndex + 1) % s.numFragments
	}

	fragmentBytes := s.cfg.FragmentSize
	if s.fragmentIndex == s.numFragments-1 {
		fragmentBytes = s.blk.Size() - (s.numFragments-1)*s.cfg.FragmentSize
	}

	start := s.fragmentIndex * s.cfg.FragmentSize
	s.out.SendFragment(s.fragmentIndex, s.blk.Data()[start:start+fragmentBytes])

	s.fragmentIndex = (s.fragmentIndex + 1) % s.numFragments
}

// ProcessAck marks a fragment as received by the peer.
func (s *Sender) ProcessAck(fragmentID int) {
	if fragmentID < 0 || fragmentID >= s.numFragments {
		return
	}

	if !s.ackedFragment.GetBit(fragmentID) {
		s.ackedFragment.SetBit(fragmentID)
		s.numAckedFragments++
	}
}

// BlockSize returns the size of the block being sent.
func (s *Sender) BlockSize() int {
	return s.blk.Size()
}

// FragmentSize returns the fragment payload size.
func (s *Sender) FragmentSize() int {
	return s.cfg.FragmentSize
}

// NumFragments returns the total number of fragments.
func (s *Sender) NumFragments() int {
	return s.numFragments
}

// NumAckedFragments returns how many fragments have been acked.
func (s *Sender) NumAckedFragments() int {
	return s.numAckedFragments
}

// SendCompleted returns true once every fragment has been acked.
func (s *Sender) SendCompleted() bool {
	return s.numAckedFragments == s.numFragments
}
