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

	"gvisor.dev/gvisor/pkg/errors/linuxerr"

	"github.com/genodelabs/genode-sub006/pkg/netapi"
)

const newSocketName = "new_socket"

var errNotListening = fmt.Errorf("socket not listening: %w", linuxerr.EINVAL)

// protocolDir is the registry of the sockets of one protocol. Slot i holds
// the socket with id i. A slot is freed only after its socket is destroyed.
type protocolDir struct {
	node

	fs  *FileSystem
	typ netapi.Type

	newSocket newSocketNode

	slots []*socketDir
	live  int
}

var _ Directory = (*protocolDir)(nil)

func newProtocolDir(fs *FileSystem, typ netapi.Type, maxSockets int) *protocolDir {
	p := &protocolDir{
		node:  node{name: typ.String(), ino: fs.nextIno()},
		fs:    fs,
		typ:   typ,
		slots: make([]*socketDir, maxSockets),
	}
	p.newSocket = newSocketNode{node: node{name: newSocketName, ino: fs.nextIno()}, p: p}
	return p
}

// Type implements Node.Type.
func (*protocolDir) Type() DirentType { return DirentDirectory }

// Rwx implements Node.Rwx.
func (*protocolDir) Rwx() Rwx { return RwxDirectory }

// Entries implements Directory.Entries.
func (p *protocolDir) Entries() []Node {
	ns := make([]Node, 0, p.live+1)
	ns = append(ns, &p.newSocket)
	for _, d := range p.slots {
		if d != nil {
			ns = append(ns, d)
		}
	}
	return ns
}

// adopt claims the lowest free slot for d.
func (p *protocolDir) adopt(d *socketDir) (int, error) {
	for id, s := range p.slots {
		if s == nil {
			p.slots[id] = d
			p.live++
			return id, nil
		}
	}
	return 0, fmt.Errorf("%s: %d sockets in use: %w", p.name, len(p.slots), linuxerr.ENFILE)
}

// release frees slot id.
func (p *protocolDir) release(id int) {
	if p.slots[id] == nil {
		panic(fmt.Sprintf("socketfs: releasing free slot %s/%d", p.name, id))
	}
	p.slots[id] = nil
	p.live--
}

// lookup returns the live socket named name.
func (p *protocolDir) lookup(name string) (*socketDir, bool) {
	id, err := strconv.Atoi(name)
	if err != nil || id < 0 || id >= len(p.slots) || strconv.Itoa(id) != name {
		return nil, false
	}
	d := p.slots[id]
	return d, d != nil
}

// create makes a new socket.
//
// Preconditions: FileSystem.mu must be locked.
func (p *protocolDir) create() (*socketDir, error) {
	sock, err := p.fs.stack.Create(p.typ)
	if err != nil {
		return nil, fmt.Errorf("creating %s socket: %w", p.typ, err)
	}
	return newSocketDir(p, sock)
}

// newSocketNode is the new_socket entry.
type newSocketNode struct {
	node
	p *protocolDir
}

// Type implements Node.Type.
func (*newSocketNode) Type() DirentType { return DirentTransactionalFile }

// Rwx implements Node.Rwx.
func (*newSocketNode) Rwx() Rwx { return RwxReadOnly }
