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

// Node is a named entry of the file system.
type Node interface {
	// Name returns the entry name within its directory.
	Name() string

	// Ino returns the inode number.
	Ino() uint64

	// Type returns the directory entry type.
	Type() DirentType

	// Rwx returns the permission bits.
	Rwx() Rwx
}

// File is a leaf node. Implementations may assume the FileSystem lock is held
// for every call.
type File interface {
	Node

	// ReadReady reports whether Read would make progress.
	ReadReady() bool

	// WriteReady reports whether Write would make progress.
	WriteReady() bool

	// Read reads into dst. seek is the handle's position; only files with
	// fixed content honor it. ErrWouldBlock means no data is available yet.
	Read(h *FileHandle, dst []byte, seek int64) (int, error)

	// Write consumes src. ErrWouldBlock means the backend cannot accept data
	// yet.
	Write(h *FileHandle, src []byte, seek int64) (int, error)

	// Size returns the size reported by Stat.
	Size() int64

	// handles returns the list of handles open on the file.
	handles() *ilist.List
}

// Directory is an enumerable node.
type Directory interface {
	Node

	// Entries returns the visible children in enumeration order.
	Entries() []Node
}

// node carries the attributes shared by all nodes.
type node struct {
	name string
	ino  uint64
}

// Name implements Node.Name.
func (n *node) Name() string { return n.name }

// Ino implements Node.Ino.
func (n *node) Ino() uint64 { return n.ino }

// fileBase is embedded by File implementations.
type fileBase struct {
	node

	// hs holds the *FileHandles open on the file. It is not an ownership
	// relation: handles belong to the client.
	hs ilist.List
}

func (f *fileBase) handles() *ilist.List { return &f.hs }

// Size implements File.Size. Files without fixed content are empty.
func (f *fileBase) Size() int64 { return 0 }

// dissolveFile detaches every handle from f.
//
// Preconditions: FileSystem.mu must be locked.
func dissolveFile(fs *FileSystem, f File) {
	l := f.handles()
	for e := l.Front(); e != nil; e = l.Front() {
		h := e.(*FileHandle)
		l.Remove(h)
		h.dissolve()
		fs.stats.DissolvedHandles.Increment()
	}
}
