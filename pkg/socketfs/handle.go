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

// Handle is an open file or directory. Handles are created by
// FileSystem.Open and FileSystem.OpenDir and must be released with
// FileSystem.CloseHandle. A handle must not be used by several goroutines at
// once.
type Handle interface {
	// Seek returns the handle's position.
	Seek() int64

	// SetSeek moves the handle's position.
	SetSeek(off int64)

	// closeLocked releases the handle.
	//
	// Preconditions: FileSystem.mu must be locked.
	closeLocked() error
}

// FileHandle is an open file.
type FileHandle struct {
	// Entry links the handle into its file's handle list.
	ilist.Entry

	fs   *FileSystem
	mode OpenMode
	seek int64

	// file is nil once the handle is closed or dissolved.
	file File

	// dir is the socket the file belongs to, if any. The handle holds a
	// reference on it.
	dir *socketDir

	// waiter is non-nil while the handle is in the read-ready queue.
	waiter *readWaiter

	// content is the control buffer; the first contentLen bytes are valid.
	content    [MaxDataLen]byte
	contentLen int

	closed bool
}

var _ Handle = (*FileHandle)(nil)

// Seek implements Handle.Seek.
func (h *FileHandle) Seek() int64 { return h.seek }

// SetSeek implements Handle.SetSeek.
func (h *FileHandle) SetSeek(off int64) { h.seek = off }

// Mode returns the handle's access mode.
func (h *FileHandle) Mode() OpenMode { return h.mode }

// setContent stores s in the control buffer.
func (h *FileHandle) setContent(s string) bool {
	if len(s) > MaxDataLen {
		return false
	}
	h.contentLen = copy(h.content[:], s)
	return true
}

// contentString returns the control buffer.
func (h *FileHandle) contentString() string {
	return string(h.content[:h.contentLen])
}

// dissolve detaches the handle from its file and socket. The caller has
// already unlinked it from the file's handle list. A pending read-ready
// notification fires so that waiters observe ErrInvalidHandle.
//
// Preconditions: FileSystem.mu must be locked.
func (h *FileHandle) dissolve() {
	h.file = nil
	h.dir = nil
	if h.waiter != nil {
		h.fs.waiters.fire(h.waiter)
	}
}

// closeLocked implements Handle.closeLocked.
func (h *FileHandle) closeLocked() error {
	if h.closed {
		return ErrInvalidHandle
	}
	h.closed = true
	if h.waiter != nil {
		h.fs.waiters.remove(h.waiter)
	}
	if h.file != nil {
		h.file.handles().Remove(h)
		h.file = nil
	}
	if d := h.dir; d != nil {
		h.dir = nil
		d.decRef()
	}
	return nil
}

// DirHandle is an open directory. Its position counts entries, not bytes.
type DirHandle struct {
	// Entry links the handle into its socket directory's handle list.
	ilist.Entry

	fs   *FileSystem
	seek int64

	// dir is nil once the handle is closed or dissolved.
	dir Directory

	// sock is set for socket directories; the handle holds a reference.
	sock *socketDir

	closed bool
}

var _ Handle = (*DirHandle)(nil)

// Seek implements Handle.Seek.
func (h *DirHandle) Seek() int64 { return h.seek }

// SetSeek implements Handle.SetSeek.
func (h *DirHandle) SetSeek(off int64) { h.seek = off }

// closeLocked implements Handle.closeLocked.
func (h *DirHandle) closeLocked() error {
	if h.closed {
		return ErrInvalidHandle
	}
	h.closed = true
	h.dir = nil
	if d := h.sock; d != nil {
		h.sock = nil
		d.dirHandles.Remove(h)
		d.decRef()
	}
	return nil
}
