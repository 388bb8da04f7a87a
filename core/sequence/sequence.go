// sequence.go - 16 bit sequence number arithmetic.
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

// Package sequence provides wrap-aware 16 bit sequence number
// arithmetic and the fixed-capacity sequence-indexed buffer used for
// ack tracking, send queues, sent-packet records and receive queues.
package sequence

import (
	"github.com/lithdew/seq"
)

// GreaterThan returns true iff a is more recent than b, taking
// wraparound of the 16 bit sequence space into account.
func GreaterThan(a, b uint16) bool {
	return seq.GT(a, b)
}

// LessThan returns true iff a is older than b, taking wraparound of
// the 16 bit sequence space into account.  It is the exact dual of
// GreaterThan.
func LessThan(a, b uint16) bool {
	return seq.GT(b, a)
}
