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

// Package netapitest provides a deterministic in-memory netapi.Stack.
//
// All sockets share one host: a stream connect to any IP reaches the listener
// bound to the destination port (and to that IP or the unspecified address).
// Connections never complete synchronously. Connect reports EINPROGRESS and
// the handshake is resolved, and the progress handler invoked, only by Flush.
package netapitest

import (
	"golang.org/x/sys/unix"
	"gvisor.dev/gvisor/pkg/errors/linuxerr"
	"gvisor.dev/gvisor/pkg/sync"
	"gvisor.dev/gvisor/pkg/waiter"

	"github.com/genodelabs/genode-sub006/pkg/netapi"
	"github.com/genodelabs/genode-sub006/pkg/sockaddr"
)

const (
	// DefaultBufferSize is the default per-connection receive buffer size.
	DefaultBufferSize = 64 << 10

	firstEphemeralPort = 49152
)

type state int

const (
	stateInitial state = iota
	stateConnecting
	stateConnected
	stateListening
	stateError
)

type datagram struct {
	from sockaddr.Address
	data []byte
}

// Stack is an in-memory netapi.Stack.
type Stack struct {
	mu sync.Mutex

	// BufferSize bounds the bytes queued towards one stream receiver. Sends
	// beyond it report EWOULDBLOCK. It must be set before sockets are created.
	BufferSize int

	// CreateErr, if set, is returned by Create.
	CreateErr error

	config   netapi.InterfaceConfig
	handler  func()
	nextPort uint16
	pending  []func()
	live     int
	released int

	streams   map[uint16]*Socket
	datagrams map[uint16]*Socket
}

var _ netapi.Stack = (*Stack)(nil)

// New returns an empty stack with the given interface configuration.
func New(config netapi.InterfaceConfig) *Stack {
	return &Stack{
		BufferSize: DefaultBufferSize,
		config:     config,
		nextPort:   firstEphemeralPort,
		streams:    make(map[uint16]*Socket),
		datagrams:  make(map[uint16]*Socket),
	}
}

// Create implements netapi.Stack.Create.
func (s *Stack) Create(t netapi.Type) (netapi.Socket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CreateErr != nil {
		return nil, s.CreateErr
	}
	if t != netapi.Stream && t != netapi.Datagram {
		return nil, linuxerr.ESOCKTNOSUPPORT
	}
	s.live++
	return &Socket{stack: s, typ: t, opts: make(map[netapi.Option]int)}, nil
}

// SetProgressHandler implements netapi.Stack.SetProgressHandler.
func (s *Stack) SetProgressHandler(fn func()) {
	s.mu.Lock()
	s.handler = fn
	s.mu.Unlock()
}

// InterfaceConfig implements netapi.Stack.InterfaceConfig.
func (s *Stack) InterfaceConfig() netapi.InterfaceConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

// SetInterfaceConfig replaces the interface configuration.
func (s *Stack) SetInterfaceConfig(c netapi.InterfaceConfig) {
	s.mu.Lock()
	s.config = c
	s.mu.Unlock()
}

// Live returns the number of created sockets not yet released.
func (s *Stack) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

// Released returns the number of Release calls that closed a socket.
func (s *Stack) Released() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

// Flush resolves pending connection attempts and then invokes the progress
// handler, outside of the stack lock.
func (s *Stack) Flush() {
	s.mu.Lock()
	for len(s.pending) > 0 {
		p := s.pending
		s.pending = nil
		for _, fn := range p {
			fn()
		}
	}
	handler := s.handler
	s.mu.Unlock()
	if handler != nil {
		handler()
	}
}

// allocPortLocked returns an unused ephemeral port.
//
// Preconditions: s.mu must be locked.
func (s *Stack) allocPortLocked(t netapi.Type) uint16 {
	table := s.tableLocked(t)
	for {
		p := s.nextPort
		s.nextPort++
		if s.nextPort == 0 {
			s.nextPort = firstEphemeralPort
		}
		if _, ok := table[p]; !ok {
			return p
		}
	}
}

// Preconditions: s.mu must be locked.
func (s *Stack) tableLocked(t netapi.Type) map[uint16]*Socket {
	if t == netapi.Stream {
		return s.streams
	}
	return s.datagrams
}

// localIPLocked returns the address reported for sockets bound to the
// unspecified address once they communicate.
//
// Preconditions: s.mu must be locked.
func (s *Stack) localIPLocked(dst [4]byte) [4]byte {
	if dst[0] == 127 {
		return dst
	}
	return s.config.Address
}

// Socket is a netapi.Socket of Stack.
type Socket struct {
	stack *Stack
	typ   netapi.Type

	// All fields below are protected by stack.mu.
	state    state
	bound    bool
	released bool
	local    sockaddr.Address
	peer     sockaddr.Address
	soError  unix.Errno
	backlog  int
	opts     map[netapi.Option]int
	acceptQ  []*Socket
	conn     *Socket
	peerGone bool
	rx       []byte
	dgrams   []datagram
}

var _ netapi.Socket = (*Socket)(nil)

// Preconditions: s.stack.mu must be locked.
func (s *Socket) autoBindLocked() {
	if s.bound {
		return
	}
	s.local.Port = s.stack.allocPortLocked(s.typ)
	s.stack.tableLocked(s.typ)[s.local.Port] = s
	s.bound = true
}

// Bind implements netapi.Socket.Bind.
func (s *Socket) Bind(addr sockaddr.Address) error {
	s.stack.mu.Lock()
	defer s.stack.mu.Unlock()
	if s.released {
		return linuxerr.EBADF
	}
	if s.bound {
		return linuxerr.EINVAL
	}
	if addr.Port == 0 {
		addr.Port = s.stack.allocPortLocked(s.typ)
	}
	table := s.stack.tableLocked(s.typ)
	if other, ok := table[addr.Port]; ok && (s.opts[netapi.OptReuseAddress] == 0 || other.state == stateListening) {
		return linuxerr.EADDRINUSE
	}
	table[addr.Port] = s
	s.local = addr
	s.bound = true
	return nil
}

// Connect implements netapi.Socket.Connect.
func (s *Socket) Connect(addr sockaddr.Address) error {
	s.stack.mu.Lock()
	defer s.stack.mu.Unlock()
	if s.released {
		return linuxerr.EBADF
	}
	if s.typ == netapi.Datagram {
		s.autoBindLocked()
		s.peer = addr
		s.state = stateConnected
		return nil
	}
	switch s.state {
	case stateConnecting:
		return linuxerr.EALREADY
	case stateConnected:
		return linuxerr.EISCONN
	case stateListening, stateError:
		return linuxerr.EINVAL
	}
	s.autoBindLocked()
	s.peer = addr
	s.state = stateConnecting
	s.stack.pending = append(s.stack.pending, s.resolveConnectLocked)
	return linuxerr.EINPROGRESS
}

// resolveConnectLocked completes the handshake started by Connect.
//
// Preconditions: s.stack.mu must be locked.
func (s *Socket) resolveConnectLocked() {
	if s.released || s.state != stateConnecting {
		return
	}
	l, ok := s.stack.streams[s.peer.Port]
	if !ok || l.state != stateListening || (!l.local.Unspecified() && l.local.IP != s.peer.IP) || len(l.acceptQ) >= l.backlog {
		s.state = stateError
		s.soError = unix.ECONNREFUSED
		return
	}
	if s.local.Unspecified() {
		s.local.IP = s.stack.localIPLocked(s.peer.IP)
	}
	server := &Socket{
		stack: s.stack,
		typ:   netapi.Stream,
		state: stateConnected,
		bound: true,
		local: s.peer,
		peer:  s.local,
		opts:  make(map[netapi.Option]int),
		conn:  s,
	}
	s.stack.live++
	s.conn = server
	s.state = stateConnected
	l.acceptQ = append(l.acceptQ, server)
}

// Listen implements netapi.Socket.Listen.
func (s *Socket) Listen(backlog int) error {
	s.stack.mu.Lock()
	defer s.stack.mu.Unlock()
	if s.released {
		return linuxerr.EBADF
	}
	if s.typ != netapi.Stream {
		return linuxerr.EOPNOTSUPP
	}
	if s.state != stateInitial && s.state != stateListening {
		return linuxerr.EINVAL
	}
	s.autoBindLocked()
	if backlog < 1 {
		backlog = 1
	}
	s.backlog = backlog
	s.state = stateListening
	return nil
}

// Accept implements netapi.Socket.Accept.
func (s *Socket) Accept() (netapi.Socket, sockaddr.Address, error) {
	s.stack.mu.Lock()
	defer s.stack.mu.Unlock()
	if s.released {
		return nil, sockaddr.Address{}, linuxerr.EBADF
	}
	if s.state != stateListening {
		return nil, sockaddr.Address{}, linuxerr.EINVAL
	}
	if len(s.acceptQ) == 0 {
		return nil, sockaddr.Address{}, linuxerr.EWOULDBLOCK
	}
	c := s.acceptQ[0]
	s.acceptQ = s.acceptQ[1:]
	return c, c.peer, nil
}

// SendMsg implements netapi.Socket.SendMsg.
func (s *Socket) SendMsg(p []byte, to *sockaddr.Address) (int, error) {
	s.stack.mu.Lock()
	defer s.stack.mu.Unlock()
	if s.released {
		return 0, linuxerr.EBADF
	}
	if s.typ == netapi.Datagram {
		return s.sendDatagramLocked(p, to)
	}
	switch {
	case s.state == stateError:
		return 0, linuxerr.EPIPE
	case s.state != stateConnected:
		return 0, linuxerr.ENOTCONN
	case s.peerGone || s.conn == nil:
		return 0, linuxerr.EPIPE
	}
	room := s.stack.BufferSize - len(s.conn.rx)
	if room <= 0 {
		return 0, linuxerr.EWOULDBLOCK
	}
	if len(p) > room {
		p = p[:room]
	}
	s.conn.rx = append(s.conn.rx, p...)
	return len(p), nil
}

// Preconditions: s.stack.mu must be locked.
func (s *Socket) sendDatagramLocked(p []byte, to *sockaddr.Address) (int, error) {
	var dst sockaddr.Address
	switch {
	case to != nil:
		dst = *to
	case s.state == stateConnected:
		dst = s.peer
	default:
		return 0, linuxerr.EDESTADDRREQ
	}
	s.autoBindLocked()
	r, ok := s.stack.datagrams[dst.Port]
	if !ok || r.released || (!r.local.Unspecified() && r.local.IP != dst.IP) {
		// Nobody listening: the datagram is dropped.
		return len(p), nil
	}
	from := s.local
	if from.Unspecified() {
		from.IP = s.stack.localIPLocked(dst.IP)
	}
	r.dgrams = append(r.dgrams, datagram{from: from, data: append([]byte(nil), p...)})
	return len(p), nil
}

// RecvMsg implements netapi.Socket.RecvMsg.
func (s *Socket) RecvMsg(p []byte, peek bool) (int, sockaddr.Address, error) {
	s.stack.mu.Lock()
	defer s.stack.mu.Unlock()
	if s.released {
		return 0, sockaddr.Address{}, linuxerr.EBADF
	}
	if s.typ == netapi.Datagram {
		if len(s.dgrams) == 0 {
			return 0, sockaddr.Address{}, linuxerr.EWOULDBLOCK
		}
		d := s.dgrams[0]
		n := copy(p, d.data)
		if !peek {
			s.dgrams = s.dgrams[1:]
		}
		return n, d.from, nil
	}
	switch s.state {
	case stateConnected:
	case stateError:
		return 0, sockaddr.Address{}, linuxerr.ECONNRESET
	default:
		return 0, sockaddr.Address{}, linuxerr.ENOTCONN
	}
	if len(s.rx) == 0 {
		if s.peerGone {
			return 0, s.peer, nil
		}
		return 0, sockaddr.Address{}, linuxerr.EWOULDBLOCK
	}
	n := copy(p, s.rx)
	if !peek {
		s.rx = s.rx[n:]
	}
	return n, s.peer, nil
}

// LocalAddress implements netapi.Socket.LocalAddress.
func (s *Socket) LocalAddress() (sockaddr.Address, error) {
	s.stack.mu.Lock()
	defer s.stack.mu.Unlock()
	if s.released {
		return sockaddr.Address{}, linuxerr.EBADF
	}
	return s.local, nil
}

// PeerAddress implements netapi.Socket.PeerAddress.
func (s *Socket) PeerAddress() (sockaddr.Address, error) {
	s.stack.mu.Lock()
	defer s.stack.mu.Unlock()
	if s.released {
		return sockaddr.Address{}, linuxerr.EBADF
	}
	if s.state != stateConnected {
		return sockaddr.Address{}, linuxerr.ENOTCONN
	}
	return s.peer, nil
}

// Poll implements netapi.Socket.Poll.
func (s *Socket) Poll() waiter.EventMask {
	s.stack.mu.Lock()
	defer s.stack.mu.Unlock()
	if s.released {
		return netapi.EventErr | netapi.EventHUp
	}
	if s.typ == netapi.Datagram {
		m := netapi.EventOut
		if len(s.dgrams) > 0 {
			m |= netapi.EventIn
		}
		return m
	}
	var m waiter.EventMask
	switch s.state {
	case stateInitial:
		m = netapi.EventHUp
	case stateListening:
		if len(s.acceptQ) > 0 {
			m |= netapi.EventIn
		}
	case stateConnected:
		if len(s.rx) > 0 {
			m |= netapi.EventIn
		}
		if s.peerGone {
			m |= netapi.EventIn | netapi.EventHUp
		} else if len(s.conn.rx) < s.stack.BufferSize {
			m |= netapi.EventOut
		}
	case stateError:
		m = netapi.EventIn | netapi.EventOut | netapi.EventErr | netapi.EventHUp
	}
	return m
}

// SetSockOpt implements netapi.Socket.SetSockOpt.
func (s *Socket) SetSockOpt(opt netapi.Option, v int) error {
	s.stack.mu.Lock()
	defer s.stack.mu.Unlock()
	if s.released {
		return linuxerr.EBADF
	}
	switch opt {
	case netapi.OptReuseAddress, netapi.OptKeepAlive, netapi.OptNoDelay:
		s.opts[opt] = v
		return nil
	default:
		return linuxerr.ENOPROTOOPT
	}
}

// GetSockOpt implements netapi.Socket.GetSockOpt.
func (s *Socket) GetSockOpt(opt netapi.Option) (int, error) {
	s.stack.mu.Lock()
	defer s.stack.mu.Unlock()
	if s.released {
		return 0, linuxerr.EBADF
	}
	switch opt {
	case netapi.OptError:
		v := s.soError
		s.soError = 0
		return int(v), nil
	case netapi.OptReuseAddress, netapi.OptKeepAlive, netapi.OptNoDelay:
		return s.opts[opt], nil
	default:
		return 0, linuxerr.ENOPROTOOPT
	}
}

// Release implements netapi.Socket.Release.
func (s *Socket) Release() {
	s.stack.mu.Lock()
	defer s.stack.mu.Unlock()
	if s.released {
		panic("netapitest: socket released twice")
	}
	s.released = true
	s.stack.live--
	s.stack.released++
	if s.bound {
		table := s.stack.tableLocked(s.typ)
		if table[s.local.Port] == s {
			delete(table, s.local.Port)
		}
	}
	if s.conn != nil {
		s.conn.peerGone = true
	}
	// Connections that were never accepted go down with the listener.
	for _, c := range s.acceptQ {
		c.released = true
		s.stack.live--
		s.stack.released++
		if c.conn != nil {
			c.conn.peerGone = true
		}
	}
	s.acceptQ = nil
}

// Abort moves a connected stream socket into the error state with errno e,
// as if the peer reset the connection.
func (s *Socket) Abort(e unix.Errno) {
	s.stack.mu.Lock()
	defer s.stack.mu.Unlock()
	s.state = stateError
	s.soError = e
}
