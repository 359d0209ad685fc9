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

// Package socketfs exposes a BSD-style network stack as a synthetic file
// system.
//
// Every socket is a directory of pseudo-files whose reads and writes drive
// socket operations:
//
//	/tcp/new_socket         open creates a socket; read yields "tcp/<id>\n"
//	/tcp/<id>/accept        "1\n" once a connection is pending
//	/tcp/<id>/accept_socket present after listen; open accepts
//	/tcp/<id>/bind          write "a.b.c.d:port"; write-once
//	/tcp/<id>/connect       write "a.b.c.d:port"; read the outcome
//	/tcp/<id>/data          payload
//	/tcp/<id>/peek          non-consuming payload read
//	/tcp/<id>/listen        write the backlog; write-once
//	/tcp/<id>/local         read "a.b.c.d:port\n"
//	/tcp/<id>/remote        read (and for udp write) the peer address
//
// The same layout exists under /udp. The root also holds the interface status
// files address, netmask, gateway, nameserver and link_state.
//
// None of the operations block. An operation that cannot complete returns
// ErrQueued; the caller waits on the channel returned by NotifyReadReady and
// retries. The backend stack reports progress through the handler installed
// by New, which fires the channels of handles that became ready.
//
// A socket lives as long as any handle refers to it: handles on its files,
// on its directory, or the handle returned by opening new_socket or
// accept_socket. Unlinking /tcp/<id> destroys it early; remaining handles are
// dissolved and report ErrInvalidHandle.
package socketfs

import (
	"errors"
)

const (
	// MaxDataLen is the capacity of a handle's control buffer. Control
	// writes longer than this are rejected.
	MaxDataLen = 32

	// DefaultMaxSockets is the default number of live sockets per protocol.
	DefaultMaxSockets = 128
)

var (
	// ErrWouldBlock is returned by File operations that cannot complete
	// without waiting for the backend.
	ErrWouldBlock = errors.New("operation would block")

	// ErrQueued is returned by FileSystem.Read and FileSystem.Write in place
	// of ErrWouldBlock. The operation should be retried after a read-ready
	// notification.
	ErrQueued = errors.New("operation queued")

	// ErrInvalidHandle is returned for handles that were closed or whose
	// socket was destroyed.
	ErrInvalidHandle = errors.New("invalid handle")

	// ErrClosed is returned by operations on a closed FileSystem.
	ErrClosed = errors.New("file system closed")
)

// OpenMode is the access mode of a file handle.
type OpenMode int

const (
	// ReadOnly opens a file for reading.
	ReadOnly OpenMode = iota

	// WriteOnly opens a file for writing.
	WriteOnly

	// ReadWrite opens a file for reading and writing.
	ReadWrite
)

func (m OpenMode) readable() bool { return m == ReadOnly || m == ReadWrite }
func (m OpenMode) writable() bool { return m == WriteOnly || m == ReadWrite }

// SockOpts are the options applied to every new socket.
type SockOpts struct {
	// ReuseAddress sets SO_REUSEADDR on stream sockets.
	ReuseAddress bool

	// KeepAlive sets SO_KEEPALIVE.
	KeepAlive bool

	// NoDelay sets TCP_NODELAY on stream sockets.
	NoDelay bool
}

// Options configures a FileSystem.
type Options struct {
	// MaxSockets bounds the number of live sockets per protocol. Zero means
	// DefaultMaxSockets.
	MaxSockets int

	// SockOpts are applied to created and accepted sockets.
	SockOpts SockOpts
}
