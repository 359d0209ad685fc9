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
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
	"gvisor.dev/gvisor/pkg/errors/linuxerr"
	"gvisor.dev/gvisor/pkg/log"
	"gvisor.dev/gvisor/pkg/waiter"

	"github.com/genodelabs/genode-sub006/pkg/netapi"
	"github.com/genodelabs/genode-sub006/pkg/sockaddr"
)

// Names of the files of a socket directory.
const (
	acceptName       = "accept"
	acceptSocketName = "accept_socket"
	bindName         = "bind"
	connectName      = "connect"
	dataName         = "data"
	peekName         = "peek"
	listenName       = "listen"
	localName        = "local"
	remoteName       = "remote"
)

// Connect outcomes rendered by the connect file.
const (
	connectedStatus = "connected"
	refusedStatus   = "connection refused"
	unknownStatus   = "unknown error"
)

// readContent copies content[seek:] to dst through the handle's control
// buffer.
func readContent(h *FileHandle, dst []byte, seek int64, content string) (int, error) {
	if !h.setContent(content) {
		return 0, fmt.Errorf("content of %d bytes: %w", len(content), linuxerr.EOVERFLOW)
	}
	if seek >= int64(h.contentLen) {
		return 0, nil
	}
	return copy(dst, h.content[seek:h.contentLen]), nil
}

// writeContent stores src in the handle's control buffer and returns it as a
// line with trailing newline and NUL bytes removed.
func writeContent(h *FileHandle, src []byte) (string, error) {
	if !h.setContent(string(src)) {
		return "", fmt.Errorf("control write of %d bytes: %w", len(src), linuxerr.EINVAL)
	}
	return strings.TrimRight(h.contentString(), "\x00\r\n"), nil
}

// sockFile is embedded by the files of a socket directory.
type sockFile struct {
	fileBase
	dir *socketDir
}

// socket returns the backend socket.
func (f *sockFile) socket() netapi.Socket {
	return f.dir.sock
}

// poll returns the backend readiness intersected with mask.
func (f *sockFile) poll(mask waiter.EventMask) bool {
	return f.dir.sock.Poll()&mask != 0
}

const (
	readOrError  = netapi.EventIn | netapi.EventErr
	writeOrError = netapi.EventOut | netapi.EventErr
)

// errNotWritable is returned by Write on read-only files.
func errNotWritable(f File) error {
	return fmt.Errorf("%s is read-only: %w", f.Name(), linuxerr.EBADF)
}

// dataFile transfers payload.
type dataFile struct {
	sockFile
}

// Type implements Node.Type.
func (*dataFile) Type() DirentType { return DirentContinuousFile }

// Rwx implements Node.Rwx.
func (*dataFile) Rwx() Rwx { return RwxReadWrite }

// ReadReady implements File.ReadReady.
func (f *dataFile) ReadReady() bool { return f.poll(readOrError) }

// WriteReady implements File.WriteReady.
func (f *dataFile) WriteReady() bool { return f.poll(writeOrError) }

// Read implements File.Read.
func (f *dataFile) Read(_ *FileHandle, dst []byte, _ int64) (int, error) {
	n, _, err := f.socket().RecvMsg(dst, false)
	if netapi.IsWouldBlock(err) {
		return 0, ErrWouldBlock
	}
	if err != nil {
		return 0, fmt.Errorf("recvmsg: %w", err)
	}
	return n, nil
}

// Write implements File.Write. Datagram sockets send to the staged remote
// address, if any.
func (f *dataFile) Write(_ *FileHandle, src []byte, _ int64) (int, error) {
	var to *sockaddr.Address
	if f.dir.typ() == netapi.Datagram && f.dir.remoteSet {
		to = &f.dir.remote
	}
	n, err := f.socket().SendMsg(src, to)
	if netapi.IsWouldBlock(err) {
		if n > 0 {
			return n, nil
		}
		return 0, ErrWouldBlock
	}
	if err != nil {
		return 0, fmt.Errorf("sendmsg: %w", err)
	}
	return n, nil
}

// peekFile reads payload without consuming it.
type peekFile struct {
	sockFile
}

// Type implements Node.Type.
func (*peekFile) Type() DirentType { return DirentContinuousFile }

// Rwx implements Node.Rwx.
func (*peekFile) Rwx() Rwx { return RwxReadOnly }

// ReadReady implements File.ReadReady.
func (*peekFile) ReadReady() bool { return true }

// WriteReady implements File.WriteReady.
func (*peekFile) WriteReady() bool { return false }

// Read implements File.Read. An empty receive queue reads as zero bytes.
func (f *peekFile) Read(_ *FileHandle, dst []byte, _ int64) (int, error) {
	n, _, err := f.socket().RecvMsg(dst, true)
	if netapi.IsWouldBlock(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("recvmsg: %w", err)
	}
	return n, nil
}

// Write implements File.Write.
func (f *peekFile) Write(*FileHandle, []byte, int64) (int, error) {
	return 0, errNotWritable(f)
}

// controlFile is embedded by the line-oriented files.
type controlFile struct {
	sockFile
}

// Type implements Node.Type.
func (*controlFile) Type() DirentType { return DirentTransactionalFile }

// ReadReady implements File.ReadReady.
func (*controlFile) ReadReady() bool { return true }

// WriteReady implements File.WriteReady.
func (*controlFile) WriteReady() bool { return true }

// bindFile binds the socket to a local address.
type bindFile struct {
	controlFile
}

// Rwx implements Node.Rwx.
func (*bindFile) Rwx() Rwx { return RwxReadWrite }

func (f *bindFile) content() string {
	if !f.dir.bound {
		return ""
	}
	return sockaddr.Format(f.dir.bindAddr)
}

// Size implements File.Size.
func (f *bindFile) Size() int64 { return int64(len(f.content())) }

// Read implements File.Read.
func (f *bindFile) Read(h *FileHandle, dst []byte, seek int64) (int, error) {
	return readContent(h, dst, seek, f.content())
}

// Write implements File.Write.
func (f *bindFile) Write(h *FileHandle, src []byte, _ int64) (int, error) {
	if f.dir.bound {
		return 0, fmt.Errorf("socket %s already bound: %w", f.dir.path(), linuxerr.EINVAL)
	}
	line, err := writeContent(h, src)
	if err != nil {
		return 0, err
	}
	addr, err := sockaddr.Parse(line)
	if err != nil {
		return 0, err
	}
	if err := f.socket().Bind(addr); err != nil {
		return 0, fmt.Errorf("bind %v: %w", addr, err)
	}
	f.dir.bound = true
	f.dir.bindAddr = addr
	log.Debugf("socketfs: %s bound to %v", f.dir.path(), addr)
	return len(src), nil
}

// listenFile puts the socket into the listening state.
type listenFile struct {
	controlFile
}

// Rwx implements Node.Rwx.
func (*listenFile) Rwx() Rwx { return RwxReadWrite }

func (f *listenFile) content() string {
	if !f.dir.listening {
		return ""
	}
	return strconv.Itoa(f.dir.backlog) + "\n"
}

// Size implements File.Size.
func (f *listenFile) Size() int64 { return int64(len(f.content())) }

// Read implements File.Read.
func (f *listenFile) Read(h *FileHandle, dst []byte, seek int64) (int, error) {
	return readContent(h, dst, seek, f.content())
}

// Write implements File.Write.
func (f *listenFile) Write(h *FileHandle, src []byte, _ int64) (int, error) {
	if f.dir.listening {
		return 0, fmt.Errorf("socket %s already listening: %w", f.dir.path(), linuxerr.EINVAL)
	}
	line, err := writeContent(h, src)
	if err != nil {
		return 0, err
	}
	backlog, err := strconv.ParseUint(strings.TrimSpace(line), 10, 16)
	if err != nil {
		return 0, fmt.Errorf("backlog %q: %w", line, linuxerr.EINVAL)
	}
	if err := f.socket().Listen(int(backlog)); err != nil {
		return 0, fmt.Errorf("listen: %w", err)
	}
	f.dir.listen(int(backlog))
	return len(src), nil
}

// connectFile starts a connection and reports its outcome.
type connectFile struct {
	controlFile
}

// Rwx implements Node.Rwx.
func (*connectFile) Rwx() Rwx { return RwxReadWrite }

// ReadReady implements File.ReadReady. The outcome is known once the socket
// is writable or has an error.
func (f *connectFile) ReadReady() bool {
	return f.dir.connectStatus != "" || f.poll(writeOrError)
}

// Size implements File.Size.
func (f *connectFile) Size() int64 { return int64(len(f.dir.connectStatus)) }

// Read implements File.Read.
func (f *connectFile) Read(h *FileHandle, dst []byte, seek int64) (int, error) {
	if f.dir.connectStatus == "" {
		if !f.poll(writeOrError) {
			return 0, ErrWouldBlock
		}
		f.dir.connectStatus = f.status()
		f.dir.connecting = false
		log.Debugf("socketfs: %s connect: %s", f.dir.path(), f.dir.connectStatus)
	}
	return readContent(h, dst, seek, f.dir.connectStatus)
}

// status renders the pending socket error. Reading SO_ERROR clears it, so
// the result is cached by the caller.
func (f *connectFile) status() string {
	v, err := f.socket().GetSockOpt(netapi.OptError)
	switch {
	case err != nil:
		f.dir.fs.warn.Warningf("socketfs: %s: getsockopt(%v): %v", f.dir.path(), netapi.OptError, err)
		return unknownStatus
	case v == 0:
		return connectedStatus
	case unix.Errno(v) == unix.ECONNREFUSED:
		return refusedStatus
	default:
		return unknownStatus
	}
}

// Write implements File.Write.
func (f *connectFile) Write(h *FileHandle, src []byte, _ int64) (int, error) {
	line, err := writeContent(h, src)
	if err != nil {
		return 0, err
	}
	addr, err := sockaddr.Parse(line)
	if err != nil {
		return 0, err
	}
	err = f.socket().Connect(addr)
	switch {
	case err == nil:
	case errors.Is(err, linuxerr.EINPROGRESS):
		f.dir.connecting = true
		f.dir.connectStatus = ""
		log.Debugf("socketfs: %s connecting to %v", f.dir.path(), addr)
		return len(src), nil
	case errors.Is(err, linuxerr.EALREADY):
		return 0, fmt.Errorf("connect %v: %w", addr, err)
	case errors.Is(err, linuxerr.EISCONN):
		if !f.dir.connecting && f.dir.connectStatus == "" {
			return 0, fmt.Errorf("connect %v: %w", addr, err)
		}
	default:
		return 0, fmt.Errorf("connect %v: %w", addr, err)
	}
	f.dir.connect(addr)
	return len(src), nil
}

// localFile reports the local address.
type localFile struct {
	controlFile
}

// Rwx implements Node.Rwx.
func (*localFile) Rwx() Rwx { return RwxReadOnly }

// WriteReady implements File.WriteReady.
func (*localFile) WriteReady() bool { return false }

// Read implements File.Read.
func (f *localFile) Read(h *FileHandle, dst []byte, seek int64) (int, error) {
	addr, err := f.socket().LocalAddress()
	if err != nil {
		return 0, fmt.Errorf("getsockname: %w", err)
	}
	return readContent(h, dst, seek, sockaddr.Format(addr))
}

// Write implements File.Write.
func (f *localFile) Write(*FileHandle, []byte, int64) (int, error) {
	return 0, errNotWritable(f)
}

// remoteFile reports the peer address. On datagram sockets it is the source
// of the next queued datagram, and writing it stages the destination of
// subsequent data writes.
type remoteFile struct {
	controlFile
}

// Rwx implements Node.Rwx.
func (f *remoteFile) Rwx() Rwx {
	if f.dir.typ() == netapi.Datagram {
		return RwxReadWrite
	}
	return RwxReadOnly
}

// ReadReady implements File.ReadReady.
func (f *remoteFile) ReadReady() bool {
	if f.dir.typ() == netapi.Datagram {
		return f.poll(netapi.EventIn)
	}
	return true
}

// WriteReady implements File.WriteReady.
func (f *remoteFile) WriteReady() bool {
	return f.dir.typ() == netapi.Datagram
}

// Read implements File.Read.
func (f *remoteFile) Read(h *FileHandle, dst []byte, seek int64) (int, error) {
	var addr sockaddr.Address
	if f.dir.typ() == netapi.Datagram {
		var b [1]byte
		_, from, err := f.socket().RecvMsg(b[:], true)
		if netapi.IsWouldBlock(err) {
			return 0, ErrWouldBlock
		}
		if err != nil {
			return 0, fmt.Errorf("recvmsg: %w", err)
		}
		addr = from
	} else {
		var err error
		if addr, err = f.socket().PeerAddress(); err != nil {
			return 0, fmt.Errorf("getpeername: %w", err)
		}
	}
	return readContent(h, dst, seek, sockaddr.Format(addr))
}

// Write implements File.Write.
func (f *remoteFile) Write(h *FileHandle, src []byte, _ int64) (int, error) {
	if f.dir.typ() != netapi.Datagram {
		return 0, fmt.Errorf("remote of stream socket %s: %w", f.dir.path(), linuxerr.EOPNOTSUPP)
	}
	line, err := writeContent(h, src)
	if err != nil {
		return 0, err
	}
	addr, err := sockaddr.Parse(line)
	if err != nil {
		return 0, err
	}
	f.dir.remote = addr
	f.dir.remoteSet = true
	return len(src), nil
}

// acceptFile reports pending connections.
type acceptFile struct {
	controlFile
}

// Rwx implements Node.Rwx.
func (*acceptFile) Rwx() Rwx { return RwxReadOnly }

// ReadReady implements File.ReadReady.
func (f *acceptFile) ReadReady() bool { return f.poll(netapi.EventIn) }

// WriteReady implements File.WriteReady.
func (*acceptFile) WriteReady() bool { return false }

// Read implements File.Read.
func (f *acceptFile) Read(h *FileHandle, dst []byte, seek int64) (int, error) {
	if !f.dir.listening || !f.ReadReady() {
		return 0, ErrWouldBlock
	}
	return readContent(h, dst, seek, "1\n")
}

// Write implements File.Write.
func (f *acceptFile) Write(*FileHandle, []byte, int64) (int, error) {
	return 0, errNotWritable(f)
}

// locationFile is the socket's root. Reading it yields the socket path
// relative to the file system root. It is returned by opening new_socket or
// accept_socket and is not listed in the directory.
type locationFile struct {
	controlFile
}

// Rwx implements Node.Rwx.
func (*locationFile) Rwx() Rwx { return RwxReadOnly }

// WriteReady implements File.WriteReady.
func (*locationFile) WriteReady() bool { return false }

// Size implements File.Size.
func (f *locationFile) Size() int64 { return int64(len(f.dir.path()) + 1) }

// Read implements File.Read.
func (f *locationFile) Read(h *FileHandle, dst []byte, seek int64) (int, error) {
	return readContent(h, dst, seek, f.dir.path()+"\n")
}

// Write implements File.Write.
func (f *locationFile) Write(*FileHandle, []byte, int64) (int, error) {
	return 0, errNotWritable(f)
}
