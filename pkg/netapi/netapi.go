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

// Package netapi defines the capability set a network stack must provide to
// back the socket file system.
//
// Implementations report failures with errno-valued errors from
// gvisor.dev/gvisor/pkg/errors/linuxerr. Four values carry protocol meaning
// rather than failure:
//
//   - linuxerr.EWOULDBLOCK: the operation cannot complete until the stack
//     makes progress (no data, full send buffer, no pending connection).
//   - linuxerr.EINPROGRESS: Connect started an asynchronous connection.
//   - linuxerr.EALREADY: Connect was called while a connection attempt is
//     still in progress.
//   - linuxerr.EISCONN: Connect was called on a connected socket.
//
// Implementations must never invoke the progress handler synchronously from
// within a Socket method or Stack.Create; the handler is expected to take
// locks the caller may already hold.
package netapi

import (
	"errors"

	"golang.org/x/sys/unix"
	gerrors "gvisor.dev/gvisor/pkg/errors"
	"gvisor.dev/gvisor/pkg/errors/linuxerr"
	"gvisor.dev/gvisor/pkg/waiter"

	"github.com/genodelabs/genode-sub006/pkg/sockaddr"
)

// Type is a socket type.
type Type int

const (
	// Stream is a connection-oriented byte stream (TCP).
	Stream Type = iota + 1

	// Datagram is a connectionless message socket (UDP).
	Datagram
)

// String returns the protocol name of t as it appears in paths.
func (t Type) String() string {
	switch t {
	case Stream:
		return "tcp"
	case Datagram:
		return "udp"
	default:
		return "unknown"
	}
}

// Option names a socket option.
type Option int

const (
	// OptReuseAddress is SO_REUSEADDR.
	OptReuseAddress Option = iota + 1

	// OptKeepAlive is SO_KEEPALIVE.
	OptKeepAlive

	// OptNoDelay is TCP_NODELAY.
	OptNoDelay

	// OptError is SO_ERROR. It is read-only; the value is a unix.Errno and
	// reading it clears the pending error.
	OptError
)

// String implements fmt.Stringer.
func (o Option) String() string {
	switch o {
	case OptReuseAddress:
		return "SO_REUSEADDR"
	case OptKeepAlive:
		return "SO_KEEPALIVE"
	case OptNoDelay:
		return "TCP_NODELAY"
	case OptError:
		return "SO_ERROR"
	default:
		return "unknown"
	}
}

// Poll masks reported by Socket.Poll.
const (
	EventIn  = waiter.EventIn
	EventOut = waiter.EventOut
	EventErr = waiter.EventErr
	EventHUp = waiter.EventHUp
)

// Socket is one backend socket. It is owned by exactly one caller, which
// must call Release exactly once.
type Socket interface {
	// Bind assigns a local address.
	Bind(addr sockaddr.Address) error

	// Connect connects to addr. See the package comment for the special
	// errors it returns.
	Connect(addr sockaddr.Address) error

	// Listen marks the socket as accepting connections.
	Listen(backlog int) error

	// Accept returns the next established connection and its peer address,
	// or EWOULDBLOCK if none is pending.
	Accept() (Socket, sockaddr.Address, error)

	// SendMsg sends p. For datagram sockets to, if non-nil, overrides the
	// connected destination. Stream sockets ignore to.
	SendMsg(p []byte, to *sockaddr.Address) (int, error)

	// RecvMsg receives into p and reports the sender. With peek set the data
	// stays queued. A stream socket returns (0, _, nil) at end of stream.
	RecvMsg(p []byte, peek bool) (int, sockaddr.Address, error)

	// LocalAddress returns the bound address (getsockname).
	LocalAddress() (sockaddr.Address, error)

	// PeerAddress returns the connected peer (getpeername).
	PeerAddress() (sockaddr.Address, error)

	// Poll returns the subset of EventIn|EventOut|EventErr|EventHUp that is
	// currently asserted.
	Poll() waiter.EventMask

	// SetSockOpt sets an option.
	SetSockOpt(opt Option, v int) error

	// GetSockOpt returns an option value.
	GetSockOpt(opt Option) (int, error)

	// Release closes the socket.
	Release()
}

// InterfaceConfig is a snapshot of the network interface configuration.
type InterfaceConfig struct {
	Address    [4]byte
	Netmask    [4]byte
	Gateway    [4]byte
	Nameserver [4]byte
	LinkUp     bool
}

// Stack creates sockets and reports progress.
type Stack interface {
	// Create returns a new unbound socket of type t.
	Create(t Type) (Socket, error)

	// SetProgressHandler installs fn to be called whenever the stack made
	// progress that may have changed the readiness of any socket. Passing nil
	// removes the handler.
	SetProgressHandler(fn func())

	// InterfaceConfig returns the current interface configuration.
	InterfaceConfig() InterfaceConfig
}

// IsWouldBlock returns true if err reports that an operation must be retried
// once the stack makes progress.
func IsWouldBlock(err error) bool {
	return errors.Is(err, linuxerr.EWOULDBLOCK)
}

// Errno returns the errno carried by err, or 0 if err carries none.
func Errno(err error) unix.Errno {
	if err == nil {
		return 0
	}
	var e *gerrors.Error
	if errors.As(err, &e) {
		return unix.Errno(e.Errno())
	}
	var u unix.Errno
	if errors.As(err, &u) {
		return u
	}
	return unix.EIO
}
