// worker.go - Worker goroutine lifecycle helper.
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

// Package worker provides a simple goroutine worker lifecycle, for
// types that own one or more background goroutines and need ordered
// teardown.
package worker

import (
	"sync"
)

// Worker is a set of managed background goroutines.  The zero value is
// ready for use, and is intended to be embedded in structs that own
// goroutines.
type Worker struct {
	initOnce sync.Once
	haltOnce sync.Once

	ch chan struct{}
	wg sync.WaitGroup
}

func (w *Worker) init() {
	w.initOnce.Do(func() {
		w.ch = make(chan struct{})
	})
}

// Go spawns fn as a tracked goroutine.
func (w *Worker) Go(fn func()) {
	w.init()
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		fn()
	}()
}

// HaltCh returns the channel that is closed when the worker is halted.
// Goroutines spawned with Go MUST select on this channel and return
// when it is closed.
func (w *Worker) HaltCh() <-chan struct{} {
	w.init()
	return w.ch
}

// Halt signals all tracked goroutines to terminate and blocks until
// they have all returned.
func (w *Worker) Halt() {
	w.init()
	w.haltOnce.Do(func() {
		close(w.ch)
	})
	w.wg.Wait()
}
