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
	"strings"
	"time"

	"gvisor.dev/gvisor/pkg/errors/linuxerr"
	"gvisor.dev/gvisor/pkg/log"
	"gvisor.dev/gvisor/pkg/sync"

	"github.com/genodelabs/genode-sub006/pkg/netapi"
	"github.com/genodelabs/genode-sub006/pkg/sockaddr"
)

// FileSystem is the socket file system. It is safe for concurrent use.
type FileSystem struct {
	// mu serializes every operation, including progress notifications.
	mu sync.Mutex

	stack netapi.Stack
	opts  Options
	ino   uint64

	root   rootDir
	tcp    *protocolDir
	udp    *protocolDir
	status []*statusFile

	waiters waiterQueue
	stats   Stats
	closed  bool

	// warn reports per-socket backend anomalies without flooding the log.
	warn log.Logger
}

// warnInterval is the minimum interval between backend warnings.
const warnInterval = time.Second

// New returns a file system over stack and installs its progress handler.
func New(stack netapi.Stack, opts Options) *FileSystem {
	if opts.MaxSockets <= 0 {
		opts.MaxSockets = DefaultMaxSockets
	}
	fs := &FileSystem{
		stack: stack,
		opts:  opts,
		warn:  log.BasicRateLimitedLogger(warnInterval),
	}
	fs.waiters.fs = fs
	fs.root = rootDir{fs: fs, node: node{name: "", ino: fs.nextIno()}}
	fs.tcp = newProtocolDir(fs, netapi.Stream, opts.MaxSockets)
	fs.udp = newProtocolDir(fs, netapi.Datagram, opts.MaxSockets)
	for _, sf := range []struct {
		name   string
		render func(netapi.InterfaceConfig) string
	}{
		{"address", func(c netapi.InterfaceConfig) string { return sockaddr.FormatIP(c.Address) }},
		{"netmask", func(c netapi.InterfaceConfig) string { return sockaddr.FormatIP(c.Netmask) }},
		{"gateway", func(c netapi.InterfaceConfig) string { return sockaddr.FormatIP(c.Gateway) }},
		{"nameserver", func(c netapi.InterfaceConfig) string { return sockaddr.FormatIP(c.Nameserver) }},
		{"link_state", func(c netapi.InterfaceConfig) string {
			if c.LinkUp {
				return "up\n"
			}
			return "down\n"
		}},
	} {
		fs.status = append(fs.status, &statusFile{
			fileBase: fileBase{node: node{name: sf.name, ino: fs.nextIno()}},
			fs:       fs,
			render:   sf.render,
		})
	}
	stack.SetProgressHandler(fs.Progress)
	log.Infof("socketfs: ready, %d sockets per protocol", opts.MaxSockets)
	return fs
}

// nextIno allocates an inode number.
func (fs *FileSystem) nextIno() uint64 {
	fs.ino++
	return fs.ino
}

// Stats returns the file system counters.
func (fs *FileSystem) Stats() *Stats {
	return &fs.stats
}

// Close destroys every socket and detaches from the stack. Open handles are
// dissolved; they must still be closed.
func (fs *FileSystem) Close() error {
	fs.stack.SetProgressHandler(nil)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return ErrClosed
	}
	fs.closed = true
	n := 0
	for _, p := range []*protocolDir{fs.tcp, fs.udp} {
		for _, d := range p.slots {
			if d != nil {
				d.destroy()
				n++
			}
		}
	}
	for e := fs.waiters.l.Front(); e != nil; e = fs.waiters.l.Front() {
		fs.waiters.fire(e.(*readWaiter))
	}
	log.Infof("socketfs: closed, destroyed %d sockets", n)
	return nil
}

// Progress notifies handles that became readable. It is called by the stack
// whenever it made progress.
func (fs *FileSystem) Progress() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if n := fs.waiters.progress(); n > 0 {
		log.Debugf("socketfs: progress: %d notified, %d waiting", n, fs.waiters.len())
	}
}

// splitPath splits an absolute or relative path into its components.
func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// resolve looks up path. For nodes inside a socket directory the directory
// is returned too.
//
// Preconditions: fs.mu must be locked.
func (fs *FileSystem) resolve(path string) (Node, *socketDir, error) {
	notFound := fmt.Errorf("%s: %w", path, linuxerr.ENOENT)
	parts := splitPath(path)
	if len(parts) == 0 {
		return &fs.root, nil, nil
	}
	var p *protocolDir
	switch parts[0] {
	case fs.tcp.name:
		p = fs.tcp
	case fs.udp.name:
		p = fs.udp
	default:
		if len(parts) == 1 {
			for _, sf := range fs.status {
				if sf.name == parts[0] {
					return sf, nil, nil
				}
			}
		}
		return nil, nil, notFound
	}
	if len(parts) == 1 {
		return p, nil, nil
	}
	if parts[1] == newSocketName {
		if len(parts) != 2 {
			return nil, nil, notFound
		}
		return &p.newSocket, nil, nil
	}
	d, ok := p.lookup(parts[1])
	if !ok {
		return nil, nil, notFound
	}
	switch len(parts) {
	case 2:
		return d, d, nil
	case 3:
		if parts[2] == acceptSocketName && d.listening {
			return acceptSocketNode{d}, d, nil
		}
		if f, ok := d.lookup(parts[2]); ok {
			return f, d, nil
		}
	}
	return nil, nil, notFound
}

// Open opens the file at path. Opening new_socket creates a socket and
// opening accept_socket accepts a connection; both return a handle whose
// read yields the new socket's path.
func (fs *FileSystem) Open(path string, mode OpenMode) (*FileHandle, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return nil, ErrClosed
	}
	n, d, err := fs.resolve(path)
	if err != nil {
		return nil, err
	}
	switch n := n.(type) {
	case *newSocketNode:
		if mode.writable() {
			return nil, fmt.Errorf("open %s: %w", path, linuxerr.EACCES)
		}
		nd, err := n.p.create()
		if err != nil {
			return nil, err
		}
		return fs.newFileHandle(&nd.location, nd, mode), nil
	case acceptSocketNode:
		if mode.writable() {
			return nil, fmt.Errorf("open %s: %w", path, linuxerr.EACCES)
		}
		nd, err := n.d.acceptConn()
		if err != nil {
			return nil, err
		}
		return fs.newFileHandle(&nd.location, nd, mode), nil
	case File:
		if (mode.readable() && n.Rwx()&RwxReadable == 0) || (mode.writable() && n.Rwx()&RwxWritable == 0) {
			return nil, fmt.Errorf("open %s: %w", path, linuxerr.EACCES)
		}
		return fs.newFileHandle(n, d, mode), nil
	default:
		return nil, fmt.Errorf("open %s: %w", path, linuxerr.EISDIR)
	}
}

// Preconditions: fs.mu must be locked.
func (fs *FileSystem) newFileHandle(f File, d *socketDir, mode OpenMode) *FileHandle {
	h := &FileHandle{
		fs:   fs,
		mode: mode,
		file: f,
		dir:  d,
	}
	f.handles().PushBack(h)
	if d != nil {
		d.incRef()
	}
	return h
}

// OpenDir opens the directory at path for enumeration. A handle on a socket
// directory keeps the socket alive.
func (fs *FileSystem) OpenDir(path string) (*DirHandle, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return nil, ErrClosed
	}
	n, d, err := fs.resolve(path)
	if err != nil {
		return nil, err
	}
	dir, ok := n.(Directory)
	if !ok {
		return nil, fmt.Errorf("opendir %s: %w", path, linuxerr.ENOTDIR)
	}
	h := &DirHandle{fs: fs, dir: dir}
	if d != nil {
		h.sock = d
		d.dirHandles.PushBack(h)
		d.incRef()
	}
	return h, nil
}

// CloseHandle releases h. Closing the last handle of a socket destroys it.
func (fs *FileSystem) CloseHandle(h Handle) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return h.closeLocked()
}

// Stat describes a node.
type Stat struct {
	Ino  uint64
	Type DirentType
	Rwx  Rwx
	Size int64
}

// Stat returns the attributes of the node at path.
func (fs *FileSystem) Stat(path string) (Stat, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return Stat{}, ErrClosed
	}
	n, _, err := fs.resolve(path)
	if err != nil {
		return Stat{}, err
	}
	st := Stat{
		Ino:  n.Ino(),
		Type: n.Type(),
		Rwx:  n.Rwx(),
	}
	if f, ok := n.(File); ok {
		st.Size = f.Size()
	}
	return st, nil
}

// Unlink destroys the socket directory at path. Nothing else can be
// removed.
func (fs *FileSystem) Unlink(path string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return ErrClosed
	}
	n, _, err := fs.resolve(path)
	if err != nil {
		return err
	}
	d, ok := n.(*socketDir)
	if !ok {
		return fmt.Errorf("unlink %s: %w", path, linuxerr.EPERM)
	}
	d.destroy()
	return nil
}

// Rename always fails: nodes are not renameable.
func (fs *FileSystem) Rename(from, to string) error {
	return fmt.Errorf("rename %s to %s: %w", from, to, linuxerr.EPERM)
}

// Read reads from h into dst. On a file handle the data comes from the file
// and the position advances by the bytes read. On a directory handle dst
// receives binary dirents; the position counts entries.
//
// ErrQueued means no data is available yet.
func (fs *FileSystem) Read(h Handle, dst []byte) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return 0, ErrClosed
	}
	switch h := h.(type) {
	case *FileHandle:
		if h.closed || h.file == nil {
			return 0, ErrInvalidHandle
		}
		if h.seek < 0 {
			return 0, fmt.Errorf("read at offset %d: %w", h.seek, linuxerr.EINVAL)
		}
		if !h.mode.readable() {
			return 0, fmt.Errorf("read of write-only handle: %w", linuxerr.EBADF)
		}
		n, err := h.file.Read(h, dst, h.seek)
		if errors.Is(err, ErrWouldBlock) {
			fs.stats.Queued.Increment()
			return 0, ErrQueued
		}
		if err != nil {
			return 0, err
		}
		h.seek += int64(n)
		return n, nil
	case *DirHandle:
		if h.closed || h.dir == nil {
			return 0, ErrInvalidHandle
		}
		if h.seek < 0 {
			return 0, fmt.Errorf("readdir at entry %d: %w", h.seek, linuxerr.EINVAL)
		}
		return readDirents(h, dst)
	default:
		return 0, ErrInvalidHandle
	}
}

// readDirents fills dst with the entries following the handle's position.
// Past the last entry a single DirentEnd entry is produced.
//
// Preconditions: FileSystem.mu must be locked.
func readDirents(h *DirHandle, dst []byte) (int, error) {
	if len(dst) < DirentSize {
		return 0, fmt.Errorf("readdir buffer of %d bytes: %w", len(dst), linuxerr.EINVAL)
	}
	entries := h.dir.Entries()
	n := 0
	for len(dst)-n >= DirentSize {
		var d Dirent
		if h.seek < int64(len(entries)) {
			d = direntOf(entries[h.seek])
		}
		b, err := d.MarshalBinary()
		if err != nil {
			return n, err
		}
		n += copy(dst[n:], b)
		if d.Type == DirentEnd {
			break
		}
		h.seek++
	}
	return n, nil
}

// ReadDir returns the entries of the directory at path.
func (fs *FileSystem) ReadDir(path string) ([]Dirent, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return nil, ErrClosed
	}
	n, _, err := fs.resolve(path)
	if err != nil {
		return nil, err
	}
	dir, ok := n.(Directory)
	if !ok {
		return nil, fmt.Errorf("readdir %s: %w", path, linuxerr.ENOTDIR)
	}
	var ds []Dirent
	for _, e := range dir.Entries() {
		ds = append(ds, direntOf(e))
	}
	return ds, nil
}

// Write writes src to h. ErrQueued means the file cannot accept data yet.
// Writes do not move the handle's position.
func (fs *FileSystem) Write(h Handle, src []byte) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return 0, ErrClosed
	}
	fh, ok := h.(*FileHandle)
	if !ok {
		if dh, ok := h.(*DirHandle); ok && !dh.closed {
			return 0, fmt.Errorf("write to directory: %w", linuxerr.EISDIR)
		}
		return 0, ErrInvalidHandle
	}
	if fh.closed || fh.file == nil {
		return 0, ErrInvalidHandle
	}
	if !fh.mode.writable() {
		return 0, fmt.Errorf("write to read-only handle: %w", linuxerr.EBADF)
	}
	n, err := fh.file.Write(fh, src, fh.seek)
	if errors.Is(err, ErrWouldBlock) {
		fs.stats.Queued.Increment()
		return 0, ErrQueued
	}
	return n, err
}

// ReadReady reports whether a read on h would make progress. Invalid
// handles are ready, as is every handle after Close: reading them fails at
// once.
func (fs *FileSystem) ReadReady(h Handle) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fh, ok := h.(*FileHandle)
	if !ok || fs.closed || fh.closed || fh.file == nil {
		return true
	}
	return fh.file.ReadReady()
}

// WriteReady reports whether a write on h would make progress.
func (fs *FileSystem) WriteReady(h Handle) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fh, ok := h.(*FileHandle)
	if !ok || fs.closed || fh.closed || fh.file == nil {
		return true
	}
	return fh.file.WriteReady()
}

// NotifyReadReady returns a channel that is closed once h is readable. If h
// is readable already, or invalid, the channel is closed on return. The
// channel of a handle that is not ready is closed exactly once, by the first
// progress that finds it ready, by dissolution or by Close. Closing the
// handle abandons it. After Close the channel is closed on return.
func (fs *FileSystem) NotifyReadReady(h *FileHandle) <-chan struct{} {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed || h.closed || h.file == nil || h.file.ReadReady() {
		return closedChan
	}
	return fs.waiters.enqueue(h)
}

// rootDir is the file system root.
type rootDir struct {
	node
	fs *FileSystem
}

// Type implements Node.Type.
func (*rootDir) Type() DirentType { return DirentDirectory }

// Rwx implements Node.Rwx.
func (*rootDir) Rwx() Rwx { return RwxDirectory }

// Entries implements Directory.Entries.
func (r *rootDir) Entries() []Node {
	ns := []Node{r.fs.tcp, r.fs.udp}
	for _, sf := range r.fs.status {
		ns = append(ns, sf)
	}
	return ns
}

// statusFile renders a value of the interface configuration. The value is
// queried on every read.
type statusFile struct {
	fileBase
	fs     *FileSystem
	render func(netapi.InterfaceConfig) string
}

// Type implements Node.Type.
func (*statusFile) Type() DirentType { return DirentTransactionalFile }

// Rwx implements Node.Rwx.
func (*statusFile) Rwx() Rwx { return RwxReadOnly }

// ReadReady implements File.ReadReady.
func (*statusFile) ReadReady() bool { return true }

// WriteReady implements File.WriteReady.
func (*statusFile) WriteReady() bool { return false }

// Size implements File.Size.
func (f *statusFile) Size() int64 {
	return int64(len(f.render(f.fs.stack.InterfaceConfig())))
}

// Read implements File.Read.
func (f *statusFile) Read(h *FileHandle, dst []byte, seek int64) (int, error) {
	return readContent(h, dst, seek, f.render(f.fs.stack.InterfaceConfig()))
}

// Write implements File.Write.
func (f *statusFile) Write(*FileHandle, []byte, int64) (int, error) {
	return 0, errNotWritable(f)
}
