// block_test.go - Block ownership tests.
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

package block

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	b := New(64)
	require.True(t, b.IsValid())
	require.Equal(t, 64, b.Size())
	require.Len(t, b.Data(), 64)
}

func TestConnectDisconnect(t *testing.T) {
	data := []byte{1, 2, 3}

	var a Block
	require.False(t, a.IsValid())

	a.Connect(data)
	require.True(t, a.IsValid())
	require.Equal(t, 3, a.Size())

	// Transfer ownership to another block.
	var b Block
	b.Connect(a.Disconnect())

	require.False(t, a.IsValid())
	require.Equal(t, 0, a.Size())
	require.True(t, b.IsValid())
	require.Equal(t, data, b.Data())
}

func TestDestroy(t *testing.T) {
	b := New(16)
	b.Destroy()
	require.False(t, b.IsValid())
}
