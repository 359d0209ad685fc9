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

package netstack

import (
	"bytes"
	"time"

	"golang.org/x/sys/unix"
	"gvisor.dev/gvisor/pkg/errors/linuxerr"
	"gvisor.dev/gvisor/pkg/log"
	"gvisor.dev/gvisor/pkg/sync"
	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/header"
	"gvisor.dev/gvisor/pkg/waiter"

	"github.com/genodelabs/genode-sub006/pkg/netapi"
	"github.com/genodelabs/genode-sub006/pkg/sockaddr"
)

const allEvents = waiter.ReadableEvents | waiter.WritableEvents | waiter.EventErr | waiter.EventHUp

// endpoint adapts a tcpip.Endpoint to netapi.Socket.
type endpoint struct {
	stack *Stack
	typ   netapi.Type
	ep    tcpip.Endpoint
	wq    *waiter.Queue
	entry waiter.Entry
}

var _ netapi.Socket = (*endpoint)(nil)

func newEndpoint(s *Stack, t netapi.Type, ep tcpip.Endpoint, wq *waiter.Queue) *endpoint {
	e := &endpoint{
		stack: s,
		typ:   t,
		ep:    ep,
		wq:    wq,
	}
	e.entry = waiter.NewFunctionEntry(allEvents, func(waiter.EventMask) {
		s.notify()
	})
	wq.EventRegister(&e.entry)
	return e
}

// toFullAddress converts addr to the netstack representation. The
// unspecified address becomes the empty address, which netstack treats as
// "any".
func toFullAddress(addr sockaddr.Address) tcpip.FullAddress {
	fa := tcpip.FullAddress{NIC: nicID, Port: addr.Port}
	if !addr.Unspecified() {
		fa.Addr = tcpip.AddrFrom4(addr.IP)
	}
	return fa
}

func fromFullAddress(fa tcpip.FullAddress) sockaddr.Address {
	a := sockaddr.Address{Port: fa.Port}
	if fa.Addr.Len() == header.IPv4AddressSize {
		a.IP = fa.Addr.As4()
	}
	return a
}

// Bind implements netapi.Socket.Bind.
func (e *endpoint) Bind(addr sockaddr.Address) error {
	fa := toFullAddress(addr)
	fa.NIC = 0
	if err := e.ep.Bind(fa); err != nil {
		return translateError(err)
	}
	return nil
}

// Connect implements netapi.Socket.Connect.
func (e *endpoint) Connect(addr sockaddr.Address) error {
	err := e.ep.Connect(toFullAddress(addr))
	switch err.(type) {
	case nil:
		return nil
	case *tcpip.ErrConnectStarted:
		log.Debugf("netstack: %s connect to %v started", e.typ, addr)
	}
	return translateError(err)
}

// Listen implements netapi.Socket.Listen.
func (e *endpoint) Listen(backlog int) error {
	if err := e.ep.Listen(backlog); err != nil {
		return translateError(err)
	}
	return nil
}

// Accept implements netapi.Socket.Accept.
func (e *endpoint) Accept() (netapi.Socket, sockaddr.Address, error) {
	var peer tcpip.FullAddress
	ep, wq, err := e.ep.Accept(&peer)
	if err != nil {
		return nil, sockaddr.Address{}, translateError(err)
	}
	return newEndpoint(e.stack, e.typ, ep, wq), fromFullAddress(peer), nil
}

// SendMsg implements netapi.Socket.SendMsg.
func (e *endpoint) SendMsg(p []byte, to *sockaddr.Address) (int, error) {
	var opts tcpip.WriteOptions
	if to != nil && e.typ == netapi.Datagram {
		fa := toFullAddress(*to)
		opts.To = &fa
	}
	var r bytes.Reader
	r.Reset(p)
	n, err := e.ep.Write(&r, opts)
	if err != nil {
		return int(n), translateError(err)
	}
	return int(n), nil
}

// RecvMsg implements netapi.Socket.RecvMsg.
func (e *endpoint) RecvMsg(p []byte, peek bool) (int, sockaddr.Address, error) {
	var b bytes.Buffer
	dst := tcpip.LimitedWriter{
		W: &b,
		N: int64(len(p)),
	}
	res, err := e.ep.Read(&dst, tcpip.ReadOptions{
		Peek:           peek,
		NeedRemoteAddr: true,
	})
	switch err.(type) {
	case nil:
	case *tcpip.ErrClosedForReceive:
		return 0, sockaddr.Address{}, nil
	case *tcpip.ErrBadBuffer:
		if len(p) != 0 {
			return 0, sockaddr.Address{}, translateError(err)
		}
	default:
		return 0, sockaddr.Address{}, translateError(err)
	}
	n := copy(p, b.Bytes())
	return n, fromFullAddress(res.RemoteAddr), nil
}

// LocalAddress implements netapi.Socket.LocalAddress.
func (e *endpoint) LocalAddress() (sockaddr.Address, error) {
	fa, err := e.ep.GetLocalAddress()
	if err != nil {
		return sockaddr.Address{}, translateError(err)
	}
	return fromFullAddress(fa), nil
}

// PeerAddress implements netapi.Socket.PeerAddress.
func (e *endpoint) PeerAddress() (sockaddr.Address, error) {
	fa, err := e.ep.GetRemoteAddress()
	if err != nil {
		return sockaddr.Address{}, translateError(err)
	}
	return fromFullAddress(fa), nil
}

// Poll implements netapi.Socket.Poll.
func (e *endpoint) Poll() waiter.EventMask {
	ready := e.ep.Readiness(allEvents)
	var m waiter.EventMask
	if ready&waiter.ReadableEvents != 0 {
		m |= netapi.EventIn
	}
	if ready&waiter.WritableEvents != 0 {
		m |= netapi.EventOut
	}
	return m | ready&(waiter.EventErr|waiter.EventHUp)
}

// SetSockOpt implements netapi.Socket.SetSockOpt.
func (e *endpoint) SetSockOpt(opt netapi.Option, v int) error {
	so := e.ep.SocketOptions()
	switch opt {
	case netapi.OptReuseAddress:
		so.SetReuseAddress(v != 0)
	case netapi.OptKeepAlive:
		so.SetKeepAlive(v != 0)
	case netapi.OptNoDelay:
		if e.typ != netapi.Stream {
			return linuxerr.ENOPROTOOPT
		}
		so.SetDelayOption(v == 0)
	default:
		return linuxerr.ENOPROTOOPT
	}
	return nil
}

// GetSockOpt implements netapi.Socket.GetSockOpt.
func (e *endpoint) GetSockOpt(opt netapi.Option) (int, error) {
	so := e.ep.SocketOptions()
	switch opt {
	case netapi.OptReuseAddress:
		return boolToInt(so.GetReuseAddress()), nil
	case netapi.OptKeepAlive:
		return boolToInt(so.GetKeepAlive()), nil
	case netapi.OptNoDelay:
		if e.typ != netapi.Stream {
			return 0, linuxerr.ENOPROTOOPT
		}
		return boolToInt(!so.GetDelayOption()), nil
	case netapi.OptError:
		return int(translateErrno(e.ep.LastError())), nil
	default:
		return 0, linuxerr.ENOPROTOOPT
	}
}

// Release implements netapi.Socket.Release.
func (e *endpoint) Release() {
	e.wq.EventUnregister(&e.entry)
	e.ep.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// translateError converts a netstack error to an errno-valued error.
func translateError(err tcpip.Error) error {
	return linuxerr.ErrorFromUnix(translateErrno(err))
}

// translateErrno maps netstack errors to errnos.
func translateErrno(err tcpip.Error) unix.Errno {
	switch err.(type) {
	case nil:
		return 0
	case *tcpip.ErrUnknownProtocol, *tcpip.ErrUnknownNICID, *tcpip.ErrAlreadyBound,
		*tcpip.ErrInvalidEndpointState, *tcpip.ErrInvalidOptionValue, *tcpip.ErrMalformedHeader:
		return unix.EINVAL
	case *tcpip.ErrUnknownDevice:
		return unix.ENODEV
	case *tcpip.ErrUnknownProtocolOption:
		return unix.ENOPROTOOPT
	case *tcpip.ErrDuplicateNICID, *tcpip.ErrDuplicateAddress:
		return unix.EEXIST
	case *tcpip.ErrAlreadyConnecting:
		return unix.EALREADY
	case *tcpip.ErrAlreadyConnected:
		return unix.EISCONN
	case *tcpip.ErrNoPortAvailable:
		return unix.EAGAIN
	case *tcpip.ErrPortInUse:
		return unix.EADDRINUSE
	case *tcpip.ErrBadLocalAddress:
		return unix.EADDRNOTAVAIL
	case *tcpip.ErrClosedForSend, *tcpip.ErrAborted:
		return unix.EPIPE
	case *tcpip.ErrWouldBlock:
		return unix.EWOULDBLOCK
	case *tcpip.ErrConnectionRefused:
		return unix.ECONNREFUSED
	case *tcpip.ErrTimeout:
		return unix.ETIMEDOUT
	case *tcpip.ErrConnectStarted:
		return unix.EINPROGRESS
	case *tcpip.ErrDestinationRequired:
		return unix.EDESTADDRREQ
	case *tcpip.ErrNotSupported:
		return unix.EOPNOTSUPP
	case *tcpip.ErrNotConnected:
		return unix.ENOTCONN
	case *tcpip.ErrConnectionReset:
		return unix.ECONNRESET
	case *tcpip.ErrConnectionAborted:
		return unix.ECONNABORTED
	case *tcpip.ErrNoSuchFile:
		return unix.ENOENT
	case *tcpip.ErrBadBuffer:
		return unix.EFAULT
	case *tcpip.ErrNetworkUnreachable:
		return unix.ENETUNREACH
	case *tcpip.ErrHostUnreachable:
		return unix.EHOSTUNREACH
	case *tcpip.ErrMessageTooLong:
		return unix.EMSGSIZE
	case *tcpip.ErrNoBufferSpace:
		return unix.ENOBUFS
	case *tcpip.ErrBroadcastDisabled:
		return unix.EACCES
	case *tcpip.ErrNotPermitted:
		return unix.EPERM
	case *tcpip.ErrAddressFamilyNotSupported:
		return unix.EAFNOSUPPORT
	default:
		warnUntranslated(err)
		return unix.EIO
	}
}

var (
	untranslatedOnce sync.Once
	untranslatedLog  log.Logger
)

// warnUntranslated reports an error without errno mapping, at most once a
// minute. The logger is created on first use so that it writes to the
// target installed at startup.
func warnUntranslated(err tcpip.Error) {
	untranslatedOnce.Do(func() {
		untranslatedLog = log.BasicRateLimitedLogger(time.Minute)
	})
	untranslatedLog.Warningf("netstack: untranslated error %s", err)
}
