// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package socketfs

import (
	"gvisor.dev/gvisor/pkg/ilist"
)

// readWaiter is a queued read-ready notification request.
type readWaiter struct {
	ilist.Entry

	h  *FileHandle
	ch chan struct{}
}

// waiterQueue is the FIFO of handles waiting to become readable. It is
// protected by FileSystem.mu.
type waiterQueue struct {
	fs *FileSystem
	l  ilist.List
}

// closedChan is returned for handles that need not wait.
var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// enqueue registers h and returns the channel closed on readiness. A handle
// is queued at most once; repeated calls return the same channel.
func (q *waiterQueue) enqueue(h *FileHandle) <-chan struct{} {
	if h.waiter != nil {
		return h.waiter.ch
	}
	w := &readWaiter{h: h, ch: make(chan struct{})}
	h.waiter = w
	q.l.PushBack(w)
	return w.ch
}

// remove drops w from the queue without notifying.
func (q *waiterQueue) remove(w *readWaiter) {
	q.l.Remove(w)
	w.h.waiter = nil
}

// fire drops w from the queue and notifies it.
func (q *waiterQueue) fire(w *readWaiter) {
	q.remove(w)
	close(w.ch)
	q.fs.stats.Notifications.Increment()
}

// progress notifies every waiter whose file became readable. Waiters that
// are not ready stay queued in order.
func (q *waiterQueue) progress() int {
	fired := 0
	for e := q.l.Front(); e != nil; {
		w := e.(*readWaiter)
		e = e.Next()
		if f := w.h.file; f != nil && !f.ReadReady() {
			continue
		}
		q.fire(w)
		fired++
	}
	return fired
}

// len returns the number of queued waiters.
func (q *waiterQueue) len() int {
	return q.l.Len()
}
