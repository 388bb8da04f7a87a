// factory.go - Message factory.
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
	"fmt"
)

// Factory creates messages by registered type and is the single point
// where they are reference counted and destroyed.  It keeps a count of
// live messages so tests can assert that everything queued was
// eventually released.
type Factory struct {
	creators     []func() Message
	numAllocated int
}

// NewFactory creates an empty message factory.  BlockMessageType must
// be registered first, at type index zero.
func NewFactory() *Factory {
	return &Factory{}
}

// Register adds a message type.  Types must be registered densely in
// ascending order; registering out of order is a programming error.
func (f *Factory) Register(messageType int, create func() Message) {
	if messageType != len(f.creators) {
		panic(fmt.Sprintf("message: types must be registered densely, got %d want %d",
			messageType, len(f.creators)))
	}
	if create == nil {
		panic("message: nil message creator")
	}
	f.creators = append(f.creators, create)
}

// NumTypes returns the number of registered message types.
func (f *Factory) NumTypes() int {
	return len(f.creators)
}

// Create instantiates a message of the given type with a reference
// count of one.
func (f *Factory) Create(messageType int) Message {
	if messageType < 0 || messageType >= len(f.creators) {
		panic(fmt.Sprintf("message: unknown message type %d", messageType))
	}
	m := f.creators[messageType]()
	if m.Type() != messageType {
		panic(fmt.Sprintf("message: creator for type %d built a message of type %d",
			messageType, m.Type()))
	}
	*m.refCounter() = 1
	f.numAllocated++
	return m
}

// AddRef takes an additional reference on a message.
func (f *Factory) AddRef(m Message) {
	refs := m.refCounter()
	if *refs <= 0 {
		panic("message: AddRef on a destroyed message")
	}
	*refs++
}

// Release drops a reference on a message, destroying it when the last
// reference is gone.
func (f *Factory) Release(m Message) {
	refs := m.refCounter()
	if *refs <= 0 {
		panic("message: Release on a destroyed message")
	}
	*refs--
	if *refs == 0 {
		f.numAllocated--
	}
}

// NumAllocated returns the number of live messages.  A non-zero count
// at shutdown means something leaked a reference.
func (f *Factory) NumAllocated() int {
	return f.numAllocated
}
