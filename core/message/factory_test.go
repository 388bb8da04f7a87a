// factory_test.go - Message factory tests.
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

package message

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quillnet/quillnet/core/block"
	"github.com/quillnet/quillnet/core/wire"
)

const testMessageType = 1

type testMessage struct {
	Base
	value uint16
}

func (m *testMessage) Type() int {
	return testMessageType
}

func (m *testMessage) Serialize(stream wire.Stream) {
	wire.SerializeUint16(stream, &m.value)
}

func newTestFactory() *Factory {
	f := NewFactory()
	f.Register(BlockMessageType, func() Message { return NewBlockMessage() })
	f.Register(testMessageType, func() Message { return &testMessage{} })
	return f
}

func TestFactoryCreateRelease(t *testing.T) {
	f := newTestFactory()
	require.Equal(t, 2, f.NumTypes())
	require.Equal(t, 0, f.NumAllocated())

	m := f.Create(testMessageType)
	require.Equal(t, testMessageType, m.Type())
	require.False(t, m.IsBlock())
	require.Equal(t, 1, f.NumAllocated())

	f.AddRef(m)
	f.Release(m)
	require.Equal(t, 1, f.NumAllocated())

	f.Release(m)
	require.Equal(t, 0, f.NumAllocated())
}

func TestFactoryReleaseAfterDestroyPanics(t *testing.T) {
	f := newTestFactory()
	m := f.Create(testMessageType)
	f.Release(m)
	require.Panics(t, func() { f.Release(m) })
	require.Panics(t, func() { f.AddRef(m) })
}

func TestFactoryDenseRegistration(t *testing.T) {
	f := NewFactory()
	require.Panics(t, func() { f.Register(1, func() Message { return &testMessage{} }) })
}

func TestMessageID(t *testing.T) {
	f := newTestFactory()
	m := f.Create(testMessageType)
	m.SetID(12345)
	require.Equal(t, uint16(12345), m.ID())
	f.Release(m)
}

func TestBlockMessageConnect(t *testing.T) {
	f := newTestFactory()

	b := block.New(32)
	for i := range b.Data() {
		b.Data()[i] = byte(i)
	}

	m := f.Create(BlockMessageType).(*BlockMessage)
	require.True(t, m.IsBlock())

	m.Connect(b)
	require.False(t, b.IsValid())
	require.Equal(t, 32, m.Block().Size())

	f.Release(m)
	require.Equal(t, 0, f.NumAllocated())
}

func TestBlockMessageSerializeRoundTrip(t *testing.T) {
	f := newTestFactory()

	b := block.New(48)
	for i := range b.Data() {
		b.Data()[i] = byte(i * 3)
	}
	original := f.Create(BlockMessageType).(*BlockMessage)
	original.Connect(b)

	buffer := make([]byte, 128)
	w := wire.NewWriteStream(buffer)
	original.Serialize(w)
	w.Flush()
	require.False(t, w.Overflow())

	decoded := f.Create(BlockMessageType).(*BlockMessage)
	r := wire.NewReadStream(buffer)
	decoded.Serialize(r)
	require.False(t, r.Overflow())
	require.Equal(t, original.Block().Data(), decoded.Block().Data())

	f.Release(original)
	f.Release(decoded)
	require.Equal(t, 0, f.NumAllocated())
}
