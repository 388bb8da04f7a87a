// channel_test.go - Channel structure tests.
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

package channel

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quillnet/quillnet/core/wire"
)

type stubChannel struct {
	Adapter
}

type stubData struct{}

func (d *stubData) Serialize(stream wire.Stream) {}
func (d *stubData) Release()                     {}

func TestStructure(t *testing.T) {
	s := NewStructure()
	s.AddChannel("messages", func() Channel { return &stubChannel{} }, func() Data { return &stubData{} })
	s.AddChannel("state", func() Channel { return &stubChannel{} }, func() Data { return &stubData{} })

	require.False(t, s.IsLocked())
	s.Lock()
	require.True(t, s.IsLocked())

	require.Equal(t, 2, s.NumChannels())
	require.Equal(t, "messages", s.ChannelName(0))
	require.Equal(t, "state", s.ChannelName(1))

	require.NotNil(t, s.CreateChannel(0))
	require.NotNil(t, s.CreateChannelData(1))
}

func TestStructureFrozenOnceLocked(t *testing.T) {
	s := NewStructure()
	s.AddChannel("only", func() Channel { return &stubChannel{} }, func() Data { return &stubData{} })
	s.Lock()

	require.Panics(t, func() {
		s.AddChannel("more", func() Channel { return &stubChannel{} }, func() Data { return &stubData{} })
	})
}

func TestStructureMustBeLockedBeforeUse(t *testing.T) {
	s := NewStructure()
	s.AddChannel("only", func() Channel { return &stubChannel{} }, func() Data { return &stubData{} })

	require.Panics(t, func() { s.CreateChannel(0) })
	require.Panics(t, func() { s.CreateChannelData(0) })
}

func TestStructureEmptyLockPanics(t *testing.T) {
	require.Panics(t, func() { NewStructure().Lock() })
}
