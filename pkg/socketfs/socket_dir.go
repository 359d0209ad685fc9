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
	"fmt"
	"strconv"

	"gvisor.dev/gvisor/pkg/cleanup"
	"gvisor.dev/gvisor/pkg/ilist"
	"gvisor.dev/gvisor/pkg/log"

	"github.com/genodelabs/genode-sub006/pkg/netapi"
	"github.com/genodelabs/genode-sub006/pkg/sockaddr"
)

// socketDir is the directory of one socket. It owns the backend socket and
// releases it exactly once, on destroy.
//
// A socketDir is referenced by every handle on its files, on itself and on
// its location file. The last reference to go away destroys it.
type socketDir struct {
	node

	fs    *FileSystem
	proto *protocolDir
	id    int
	sock  netapi.Socket

	accept   acceptFile
	bind     bindFile
	connectF connectFile
	data     dataFile
	peek     peekFile
	listenF  listenFile
	local    localFile
	remoteF  remoteFile
	location locationFile

	// files lists the visible files in enumeration order.
	files []File

	refs int

	// dirHandles holds the *DirHandles open on the directory.
	dirHandles ilist.List

	destroyed bool

	// remote is the destination of datagram writes, or the address
	// connected to.
	remote    sockaddr.Address
	remoteSet bool

	bound    bool
	bindAddr sockaddr.Address

	listening bool
	backlog   int

	// connecting is set by an in-progress connect until its outcome is
	// read.
	connecting bool

	// connectStatus caches the outcome once read.
	connectStatus string
}

var _ Directory = (*socketDir)(nil)

// newSocketDir wraps sock in a directory registered with proto. On failure
// sock is released.
//
// Preconditions: FileSystem.mu must be locked.
func newSocketDir(proto *protocolDir, sock netapi.Socket) (*socketDir, error) {
	cu := cleanup.Make(sock.Release)
	defer cu.Clean()

	fs := proto.fs
	d := &socketDir{
		fs:    fs,
		proto: proto,
		sock:  sock,
	}
	id, err := proto.adopt(d)
	if err != nil {
		return nil, err
	}
	cu.Add(func() { proto.release(id) })
	d.id = id
	d.node = node{name: strconv.Itoa(id), ino: fs.nextIno()}

	for _, sf := range []struct {
		f    *sockFile
		name string
	}{
		{&d.accept.sockFile, acceptName},
		{&d.bind.sockFile, bindName},
		{&d.connectF.sockFile, connectName},
		{&d.data.sockFile, dataName},
		{&d.peek.sockFile, peekName},
		{&d.listenF.sockFile, listenName},
		{&d.local.sockFile, localName},
		{&d.remoteF.sockFile, remoteName},
		{&d.location.sockFile, ""},
	} {
		sf.f.node = node{name: sf.name, ino: fs.nextIno()}
		sf.f.dir = d
	}
	d.files = []File{&d.accept, &d.bind, &d.connectF, &d.data, &d.peek, &d.listenF, &d.local, &d.remoteF}

	d.applySockOpts(fs.opts.SockOpts)

	cu.Release()
	fs.stats.SocketsCreated.Increment()
	fs.stats.SocketsLive.Increment()
	log.Debugf("socketfs: created %s", d.path())
	return d, nil
}

// applySockOpts sets the default options. Failures are logged; the socket
// stays usable.
func (d *socketDir) applySockOpts(o SockOpts) {
	stream := d.typ() == netapi.Stream
	for _, so := range []struct {
		opt netapi.Option
		on  bool
	}{
		{netapi.OptReuseAddress, o.ReuseAddress && stream},
		{netapi.OptKeepAlive, o.KeepAlive && stream},
		{netapi.OptNoDelay, o.NoDelay && stream},
	} {
		if !so.on {
			continue
		}
		if err := d.sock.SetSockOpt(so.opt, 1); err != nil {
			d.fs.warn.Warningf("socketfs: %s: setsockopt(%v): %v", d.path(), so.opt, err)
		}
	}
}

func (d *socketDir) typ() netapi.Type {
	return d.proto.typ
}

// path returns the directory path without a leading slash.
func (d *socketDir) path() string {
	return d.proto.name + "/" + d.name
}

// Type implements Node.Type.
func (*socketDir) Type() DirentType { return DirentDirectory }

// Rwx implements Node.Rwx.
func (*socketDir) Rwx() Rwx { return RwxDirectory }

// Entries implements Directory.Entries. accept_socket appears once the
// socket listens.
func (d *socketDir) Entries() []Node {
	ns := make([]Node, 0, len(d.files)+1)
	for _, f := range d.files {
		ns = append(ns, f)
	}
	if d.listening {
		ns = append(ns, acceptSocketNode{d})
	}
	return ns
}

// lookup returns the named file.
func (d *socketDir) lookup(name string) (File, bool) {
	for _, f := range d.files {
		if f.Name() == name {
			return f, true
		}
	}
	return nil, false
}

func (d *socketDir) incRef() {
	d.refs++
}

// decRef drops a reference and destroys the directory with the last one.
//
// Preconditions: FileSystem.mu must be locked.
func (d *socketDir) decRef() {
	d.refs--
	if d.refs < 0 {
		panic(fmt.Sprintf("socketfs: negative refcount on %s", d.path()))
	}
	if d.refs == 0 {
		d.destroy()
	}
}

// listen records a successful listen.
func (d *socketDir) listen(backlog int) {
	d.listening = true
	d.backlog = backlog
	log.Debugf("socketfs: %s listening, backlog %d", d.path(), backlog)
}

// connect records a completed connect to addr.
func (d *socketDir) connect(addr sockaddr.Address) {
	d.connecting = false
	d.remote = addr
	d.remoteSet = true
	log.Debugf("socketfs: %s connected to %v", d.path(), addr)
}

// acceptConn accepts a pending connection into a new directory.
//
// Preconditions: FileSystem.mu must be locked.
func (d *socketDir) acceptConn() (*socketDir, error) {
	if !d.listening {
		return nil, fmt.Errorf("accept on %s: %w", d.path(), errNotListening)
	}
	sock, peer, err := d.sock.Accept()
	if err != nil {
		return nil, fmt.Errorf("accept on %s: %w", d.path(), err)
	}
	nd, err := newSocketDir(d.proto, sock)
	if err != nil {
		return nil, err
	}
	nd.remote = peer
	nd.remoteSet = true
	nd.connectStatus = connectedStatus
	d.fs.stats.Accepts.Increment()
	log.Debugf("socketfs: %s accepted %s from %v", d.path(), nd.path(), peer)
	return nd, nil
}

// destroy dissolves all handles and releases the socket and its id.
//
// Preconditions: FileSystem.mu must be locked.
func (d *socketDir) destroy() {
	if d.destroyed {
		return
	}
	d.destroyed = true
	for _, f := range d.files {
		dissolveFile(d.fs, f)
	}
	dissolveFile(d.fs, &d.location)
	for e := d.dirHandles.Front(); e != nil; e = d.dirHandles.Front() {
		h := e.(*DirHandle)
		d.dirHandles.Remove(h)
		h.dir = nil
		h.sock = nil
		d.fs.stats.DissolvedHandles.Increment()
	}
	d.refs = 0
	d.sock.Release()
	d.proto.release(d.id)
	d.fs.stats.SocketsDestroyed.Increment()
	d.fs.stats.SocketsLive.Decrement()
	log.Debugf("socketfs: destroyed %s", d.path())
}

// acceptSocketNode is the accept_socket entry of a listening socket.
type acceptSocketNode struct {
	d *socketDir
}

// Name implements Node.Name.
func (acceptSocketNode) Name() string { return acceptSocketName }

// Ino implements Node.Ino. The entry shares the accept file's inode.
func (n acceptSocketNode) Ino() uint64 { return n.d.accept.ino }

// Type implements Node.Type.
func (acceptSocketNode) Type() DirentType { return DirentTransactionalFile }

// Rwx implements Node.Rwx.
func (acceptSocketNode) Rwx() Rwx { return RwxReadOnly }
