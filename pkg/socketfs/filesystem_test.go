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
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sys/unix"
	"gvisor.dev/gvisor/pkg/errors/linuxerr"

	"github.com/genodelabs/genode-sub006/pkg/netapi"
	"github.com/genodelabs/genode-sub006/pkg/netapi/netapitest"
)

var testConfig = netapi.InterfaceConfig{
	Address:    [4]byte{10, 0, 0, 2},
	Netmask:    [4]byte{255, 255, 255, 0},
	Gateway:    [4]byte{10, 0, 0, 1},
	Nameserver: [4]byte{8, 8, 8, 8},
	LinkUp:     true,
}

func newTestFS(t *testing.T, opts Options) (*FileSystem, *netapitest.Stack) {
	t.Helper()
	stack := netapitest.New(testConfig)
	fs := New(stack, opts)
	t.Cleanup(func() {
		if err := fs.Close(); err != nil && !errors.Is(err, ErrClosed) {
			t.Errorf("Close() failed: %v", err)
		}
		if stack.Live() != 0 {
			t.Errorf("%d sockets alive after Close()", stack.Live())
		}
	})
	return fs, stack
}

func mustOpen(t *testing.T, fs *FileSystem, path string, mode OpenMode) *FileHandle {
	t.Helper()
	h, err := fs.Open(path, mode)
	if err != nil {
		t.Fatalf("Open(%q) failed: %v", path, err)
	}
	return h
}

func mustClose(t *testing.T, fs *FileSystem, h Handle) {
	t.Helper()
	if err := fs.CloseHandle(h); err != nil {
		t.Fatalf("CloseHandle() failed: %v", err)
	}
}

// readAll reads h from position zero.
func readAll(fs *FileSystem, h *FileHandle) (string, error) {
	h.SetSeek(0)
	buf := make([]byte, 64)
	n, err := fs.Read(h, buf)
	return string(buf[:n]), err
}

func mustRead(t *testing.T, fs *FileSystem, h *FileHandle) string {
	t.Helper()
	s, err := readAll(fs, h)
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	return s
}

func mustWrite(t *testing.T, fs *FileSystem, h *FileHandle, s string) {
	t.Helper()
	n, err := fs.Write(h, []byte(s))
	if err != nil {
		t.Fatalf("Write(%q) failed: %v", s, err)
	}
	if n != len(s) {
		t.Fatalf("Write(%q) = %d, want: %d", s, n, len(s))
	}
}

// newSocket opens new_socket of proto and returns the handle and the socket
// directory path.
func newSocket(t *testing.T, fs *FileSystem, proto string) (*FileHandle, string) {
	t.Helper()
	h := mustOpen(t, fs, "/"+proto+"/new_socket", ReadOnly)
	return h, "/" + strings.TrimSuffix(mustRead(t, fs, h), "\n")
}

// listener creates a tcp socket listening on addr.
func listener(t *testing.T, fs *FileSystem, addr string) (*FileHandle, string) {
	t.Helper()
	h, dir := newSocket(t, fs, "tcp")
	b := mustOpen(t, fs, dir+"/bind", WriteOnly)
	mustWrite(t, fs, b, addr+"\n")
	mustClose(t, fs, b)
	l := mustOpen(t, fs, dir+"/listen", WriteOnly)
	mustWrite(t, fs, l, "4")
	mustClose(t, fs, l)
	return h, dir
}

func TestNewSocketBindListen(t *testing.T) {
	fs, _ := newTestFS(t, Options{})

	h := mustOpen(t, fs, "/tcp/new_socket", ReadOnly)
	if got := mustRead(t, fs, h); got != "tcp/0\n" {
		t.Fatalf("new_socket read = %q, want: %q", got, "tcp/0\n")
	}

	b := mustOpen(t, fs, "/tcp/0/bind", ReadWrite)
	mustWrite(t, fs, b, "0.0.0.0:9000\n")
	if got := mustRead(t, fs, b); got != "0.0.0.0:9000\n" {
		t.Errorf("bind read = %q, want: %q", got, "0.0.0.0:9000\n")
	}

	if _, err := fs.Open("/tcp/0/accept_socket", ReadOnly); !errors.Is(err, linuxerr.ENOENT) {
		t.Errorf("Open(accept_socket) before listen = %v, want: ENOENT", err)
	}
	l := mustOpen(t, fs, "/tcp/0/listen", ReadWrite)
	mustWrite(t, fs, l, "5")
	if got := mustRead(t, fs, l); got != "5\n" {
		t.Errorf("listen read = %q, want: %q", got, "5\n")
	}

	ds, err := fs.ReadDir("/tcp/0")
	if err != nil {
		t.Fatalf("ReadDir() failed: %v", err)
	}
	var names []string
	for _, d := range ds {
		names = append(names, d.Name)
	}
	want := []string{"accept", "bind", "connect", "data", "peek", "listen", "local", "remote", "accept_socket"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("ReadDir(/tcp/0) mismatch (-want +got):\n%s", diff)
	}

	// No connection is pending yet.
	if _, err := fs.Open("/tcp/0/accept_socket", ReadOnly); !netapi.IsWouldBlock(err) {
		t.Errorf("Open(accept_socket) = %v, want: EWOULDBLOCK", err)
	}
	a := mustOpen(t, fs, "/tcp/0/accept", ReadOnly)
	if _, err := readAll(fs, a); err != ErrQueued {
		t.Errorf("accept read = %v, want: %v", err, ErrQueued)
	}
}

func TestWriteOnce(t *testing.T) {
	fs, _ := newTestFS(t, Options{})
	_, dir := newSocket(t, fs, "tcp")

	for _, tc := range []struct {
		file   string
		first  string
		second string
	}{
		{"bind", "10.0.0.2:80", "10.0.0.2:81"},
		{"listen", "3", "3"},
	} {
		h := mustOpen(t, fs, dir+"/"+tc.file, WriteOnly)
		mustWrite(t, fs, h, tc.first)
		if _, err := fs.Write(h, []byte(tc.second)); !errors.Is(err, linuxerr.EINVAL) {
			t.Errorf("second write to %s = %v, want: EINVAL", tc.file, err)
		}
		mustClose(t, fs, h)

		// A fresh handle is rejected too.
		h = mustOpen(t, fs, dir+"/"+tc.file, WriteOnly)
		if _, err := fs.Write(h, []byte(tc.second)); !errors.Is(err, linuxerr.EINVAL) {
			t.Errorf("write to %s on new handle = %v, want: EINVAL", tc.file, err)
		}
		mustClose(t, fs, h)
	}
}

func TestControlWriteErrors(t *testing.T) {
	fs, _ := newTestFS(t, Options{})
	_, dir := newSocket(t, fs, "tcp")

	for _, tc := range []struct {
		name string
		file string
		data string
	}{
		{"malformed address", "bind", "10.0.0:80"},
		{"missing port", "bind", "10.0.0.2"},
		{"port out of range", "connect", "10.0.0.2:70000"},
		{"overlong", "bind", strings.Repeat("1", MaxDataLen+1)},
		{"bad backlog", "listen", "many"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := mustOpen(t, fs, dir+"/"+tc.file, WriteOnly)
			defer mustClose(t, fs, h)
			if _, err := fs.Write(h, []byte(tc.data)); !errors.Is(err, linuxerr.EINVAL) {
				t.Errorf("Write(%q) to %s = %v, want: EINVAL", tc.data, tc.file, err)
			}
		})
	}
}

func TestConnect(t *testing.T) {
	fs, stack := newTestFS(t, Options{})
	listener(t, fs, "10.0.0.5:80")
	_, dir := newSocket(t, fs, "tcp")

	c := mustOpen(t, fs, dir+"/connect", ReadWrite)
	mustWrite(t, fs, c, "10.0.0.5:80\n")
	if _, err := readAll(fs, c); err != ErrQueued {
		t.Fatalf("connect read before resolution = %v, want: %v", err, ErrQueued)
	}
	if _, err := fs.Write(c, []byte("10.0.0.5:80\n")); !errors.Is(err, linuxerr.EALREADY) {
		t.Errorf("second connect = %v, want: EALREADY", err)
	}

	ch := fs.NotifyReadReady(c)
	select {
	case <-ch:
		t.Fatalf("notification fired before resolution")
	default:
	}
	stack.Flush()
	select {
	case <-ch:
	default:
		t.Fatalf("notification not fired after resolution")
	}

	if got := mustRead(t, fs, c); got != "connected" {
		t.Errorf("connect read = %q, want: %q", got, "connected")
	}
	// The outcome stays readable although the socket error was consumed.
	if got := mustRead(t, fs, c); got != "connected" {
		t.Errorf("second connect read = %q, want: %q", got, "connected")
	}
	// Connecting again after an observed in-progress connect is accepted.
	mustWrite(t, fs, c, "10.0.0.5:80\n")

	r := mustOpen(t, fs, dir+"/remote", ReadOnly)
	if got := mustRead(t, fs, r); got != "10.0.0.5:80\n" {
		t.Errorf("remote read = %q, want: %q", got, "10.0.0.5:80\n")
	}
	l := mustOpen(t, fs, dir+"/local", ReadOnly)
	if got := mustRead(t, fs, l); got != "10.0.0.2:49152\n" {
		t.Errorf("local read = %q, want: %q", got, "10.0.0.2:49152\n")
	}
}

func TestConnectRefused(t *testing.T) {
	fs, stack := newTestFS(t, Options{})
	_, dir := newSocket(t, fs, "tcp")
	c := mustOpen(t, fs, dir+"/connect", ReadWrite)
	mustWrite(t, fs, c, "10.0.0.9:80")
	stack.Flush()
	if got := mustRead(t, fs, c); got != "connection refused" {
		t.Errorf("connect read = %q, want: %q", got, "connection refused")
	}
}

func TestConnectAbortedIsUnknown(t *testing.T) {
	fs, stack := newTestFS(t, Options{})
	listener(t, fs, "10.0.0.5:80")
	h, dir := newSocket(t, fs, "tcp")
	c := mustOpen(t, fs, dir+"/connect", ReadWrite)
	mustWrite(t, fs, c, "10.0.0.5:80")
	stack.Flush()
	h.dir.sock.(*netapitest.Socket).Abort(unix.ETIMEDOUT)
	if got := mustRead(t, fs, c); got != "unknown error" {
		t.Errorf("connect read = %q, want: %q", got, "unknown error")
	}
}

func TestDatagramConnect(t *testing.T) {
	fs, stack := newTestFS(t, Options{})
	_, dir := newSocket(t, fs, "udp")
	c := mustOpen(t, fs, dir+"/connect", ReadWrite)
	// Datagram connects complete at once.
	mustWrite(t, fs, c, "10.0.0.7:53")
	stack.Flush()
	if got := mustRead(t, fs, c); got != "connected" {
		t.Errorf("connect read = %q, want: %q", got, "connected")
	}
}

// TestAccept checks that accepted connections get their own directory that
// survives the listener.
func TestAccept(t *testing.T) {
	fs, stack := newTestFS(t, Options{})
	lh, ldir := listener(t, fs, "10.0.0.2:8080")

	ch, cdir := newSocket(t, fs, "tcp")
	c := mustOpen(t, fs, cdir+"/connect", WriteOnly)
	mustWrite(t, fs, c, "10.0.0.2:8080")

	acc := mustOpen(t, fs, ldir+"/accept", ReadOnly)
	notify := fs.NotifyReadReady(acc)
	stack.Flush()
	<-notify
	if got := mustRead(t, fs, acc); got != "1\n" {
		t.Errorf("accept read = %q, want: %q", got, "1\n")
	}

	ah := mustOpen(t, fs, ldir+"/accept_socket", ReadOnly)
	adir := "/" + strings.TrimSuffix(mustRead(t, fs, ah), "\n")
	if adir == ldir || adir == cdir {
		t.Fatalf("accepted socket %s reuses an existing id", adir)
	}
	if got := fs.Stats().Accepts.Value(); got != 1 {
		t.Errorf("Accepts = %d, want: 1", got)
	}

	remote := mustOpen(t, fs, adir+"/remote", ReadOnly)
	local := mustOpen(t, fs, cdir+"/local", ReadOnly)
	if got, want := mustRead(t, fs, remote), mustRead(t, fs, local); got != want {
		t.Errorf("accepted remote = %q, want: %q", got, want)
	}

	// Closing every listener handle leaves the connection intact.
	mustClose(t, fs, acc)
	mustClose(t, fs, lh)
	if _, err := fs.Stat(ldir); !errors.Is(err, linuxerr.ENOENT) {
		t.Errorf("Stat(%s) after close = %v, want: ENOENT", ldir, err)
	}

	cd := mustOpen(t, fs, cdir+"/data", WriteOnly)
	ad := mustOpen(t, fs, adir+"/data", ReadOnly)
	mustWrite(t, fs, cd, "ping")
	if got := mustRead(t, fs, ad); got != "ping" {
		t.Errorf("data read = %q, want: %q", got, "ping")
	}
	mustClose(t, fs, ch)
	mustClose(t, fs, c)
	mustClose(t, fs, cd)
	mustClose(t, fs, local)
}

// TestDataWouldBlock checks that a queued read loses no data.
func TestDataWouldBlock(t *testing.T) {
	fs, stack := newTestFS(t, Options{})
	_, ldir := listener(t, fs, "10.0.0.2:7")
	_, cdir := newSocket(t, fs, "tcp")
	c := mustOpen(t, fs, cdir+"/connect", WriteOnly)
	mustWrite(t, fs, c, "10.0.0.2:7")
	stack.Flush()
	ah := mustOpen(t, fs, ldir+"/accept_socket", ReadOnly)
	adir := "/" + strings.TrimSuffix(mustRead(t, fs, ah), "\n")

	cd := mustOpen(t, fs, cdir+"/data", WriteOnly)
	ad := mustOpen(t, fs, adir+"/data", ReadOnly)
	peek := mustOpen(t, fs, adir+"/peek", ReadOnly)

	var got []string
	for _, chunk := range []string{"hello ", "world"} {
		if _, err := readAll(fs, ad); err != ErrQueued {
			t.Fatalf("data read on empty socket = %v, want: %v", err, ErrQueued)
		}
		if s := mustRead(t, fs, peek); s != "" {
			t.Errorf("peek on empty socket = %q, want: empty", s)
		}
		notify := fs.NotifyReadReady(ad)
		mustWrite(t, fs, cd, chunk)
		stack.Flush()
		<-notify
		if s := mustRead(t, fs, peek); s != chunk {
			t.Errorf("peek = %q, want: %q", s, chunk)
		}
		got = append(got, mustRead(t, fs, ad))
	}
	if diff := cmp.Diff([]string{"hello ", "world"}, got); diff != "" {
		t.Errorf("data reads mismatch (-want +got):\n%s", diff)
	}
	if fs.Stats().Queued.Value() != 2 {
		t.Errorf("Queued = %d, want: 2", fs.Stats().Queued.Value())
	}
}

func TestDataWriteWouldBlock(t *testing.T) {
	fs, stack := newTestFS(t, Options{})
	stack.BufferSize = 4
	_, ldir := listener(t, fs, "10.0.0.2:7")
	_, cdir := newSocket(t, fs, "tcp")
	c := mustOpen(t, fs, cdir+"/connect", WriteOnly)
	mustWrite(t, fs, c, "10.0.0.2:7")
	stack.Flush()
	mustOpen(t, fs, ldir+"/accept_socket", ReadOnly)

	cd := mustOpen(t, fs, cdir+"/data", WriteOnly)
	if n, err := fs.Write(cd, []byte("abcdef")); err != nil || n != 4 {
		t.Errorf("Write() = %d, %v, want: 4, nil", n, err)
	}
	if fs.WriteReady(cd) {
		t.Errorf("WriteReady() = true on full socket")
	}
	if _, err := fs.Write(cd, []byte("ef")); err != ErrQueued {
		t.Errorf("Write() on full socket = %v, want: %v", err, ErrQueued)
	}
}

func TestDatagram(t *testing.T) {
	fs, stack := newTestFS(t, Options{})
	_, rdir := newSocket(t, fs, "udp")
	b := mustOpen(t, fs, rdir+"/bind", WriteOnly)
	mustWrite(t, fs, b, "10.0.0.2:53")

	_, sdir := newSocket(t, fs, "udp")
	sd := mustOpen(t, fs, sdir+"/data", WriteOnly)
	payload := strings.Repeat("x", 100)
	if _, err := fs.Write(sd, []byte(payload)); !errors.Is(err, linuxerr.EDESTADDRREQ) {
		t.Errorf("data write without destination = %v, want: EDESTADDRREQ", err)
	}

	sr := mustOpen(t, fs, sdir+"/remote", WriteOnly)
	mustWrite(t, fs, sr, "10.0.0.2:53\n")
	mustWrite(t, fs, sd, payload)

	rr := mustOpen(t, fs, rdir+"/remote", ReadOnly)
	stack.Flush()
	if !fs.ReadReady(rr) {
		t.Fatalf("remote not ready with a queued datagram")
	}
	if got := mustRead(t, fs, rr); got != "10.0.0.2:49152\n" {
		t.Errorf("remote read = %q, want: %q", got, "10.0.0.2:49152\n")
	}
	rd := mustOpen(t, fs, rdir+"/data", ReadOnly)
	buf := make([]byte, 200)
	n, err := fs.Read(rd, buf)
	if err != nil || string(buf[:n]) != payload {
		t.Errorf("data read = %d bytes, %v, want: %d bytes", n, err, len(payload))
	}
	if _, err := readAll(fs, rr); err != ErrQueued {
		t.Errorf("remote read without datagram = %v, want: %v", err, ErrQueued)
	}
}

func TestStreamRemoteNotWritable(t *testing.T) {
	fs, _ := newTestFS(t, Options{})
	_, dir := newSocket(t, fs, "tcp")
	if _, err := fs.Open(dir+"/remote", WriteOnly); !errors.Is(err, linuxerr.EACCES) {
		t.Errorf("Open(remote, WriteOnly) = %v, want: EACCES", err)
	}
	if _, err := fs.Open(dir+"/local", ReadWrite); !errors.Is(err, linuxerr.EACCES) {
		t.Errorf("Open(local, ReadWrite) = %v, want: EACCES", err)
	}
}

func TestIDAllocation(t *testing.T) {
	fs, stack := newTestFS(t, Options{MaxSockets: 3})
	var hs []*FileHandle
	for i, want := range []string{"/tcp/0", "/tcp/1", "/tcp/2"} {
		h, dir := newSocket(t, fs, "tcp")
		if dir != want {
			t.Errorf("socket %d at %s, want: %s", i, dir, want)
		}
		hs = append(hs, h)
	}
	if _, err := fs.Open("/tcp/new_socket", ReadOnly); !errors.Is(err, linuxerr.ENFILE) {
		t.Fatalf("Open(new_socket) on full table = %v, want: ENFILE", err)
	}
	if stack.Live() != 3 {
		t.Errorf("Live() = %d after exhaustion, want: 3", stack.Live())
	}

	// udp has its own table.
	if _, dir := newSocket(t, fs, "udp"); dir != "/udp/0" {
		t.Errorf("udp socket at %s, want: /udp/0", dir)
	}

	// The id becomes free once the socket is gone.
	d := mustOpen(t, fs, "/tcp/1/data", ReadOnly)
	mustClose(t, fs, hs[1])
	if _, err := fs.Stat("/tcp/1"); err != nil {
		t.Errorf("Stat(/tcp/1) with open data handle = %v", err)
	}
	mustClose(t, fs, d)
	if _, err := fs.Stat("/tcp/1"); !errors.Is(err, linuxerr.ENOENT) {
		t.Errorf("Stat(/tcp/1) after last close = %v, want: ENOENT", err)
	}
	if _, dir := newSocket(t, fs, "tcp"); dir != "/tcp/1" {
		t.Errorf("socket reusing freed id at %s, want: /tcp/1", dir)
	}
}

func TestCreateFailure(t *testing.T) {
	fs, stack := newTestFS(t, Options{})
	stack.CreateErr = linuxerr.ENOBUFS
	if _, err := fs.Open("/tcp/new_socket", ReadOnly); !errors.Is(err, linuxerr.ENOBUFS) {
		t.Errorf("Open(new_socket) = %v, want: ENOBUFS", err)
	}
	if ds, _ := fs.ReadDir("/tcp"); len(ds) != 1 {
		t.Errorf("ReadDir(/tcp) = %v, want only new_socket", ds)
	}
}

// TestDissolve checks that handles outliving their socket fail cleanly.
func TestDissolve(t *testing.T) {
	fs, stack := newTestFS(t, Options{})
	_, dir := newSocket(t, fs, "tcp")
	data := mustOpen(t, fs, dir+"/data", ReadWrite)
	bind := mustOpen(t, fs, dir+"/bind", ReadWrite)
	dh, err := fs.OpenDir(dir)
	if err != nil {
		t.Fatalf("OpenDir(%s) failed: %v", dir, err)
	}
	notify := fs.NotifyReadReady(data)

	if err := fs.Unlink(dir); err != nil {
		t.Fatalf("Unlink(%s) failed: %v", dir, err)
	}
	if stack.Live() != 0 {
		t.Errorf("Live() = %d after unlink, want: 0", stack.Live())
	}
	select {
	case <-notify:
	default:
		t.Errorf("waiter of dissolved handle not notified")
	}
	if _, err := readAll(fs, data); err != ErrInvalidHandle {
		t.Errorf("Read() on dissolved handle = %v, want: %v", err, ErrInvalidHandle)
	}
	if _, err := fs.Write(bind, []byte("10.0.0.2:1")); err != ErrInvalidHandle {
		t.Errorf("Write() on dissolved handle = %v, want: %v", err, ErrInvalidHandle)
	}
	if _, err := fs.Read(dh, make([]byte, DirentSize)); err != ErrInvalidHandle {
		t.Errorf("Read() on dissolved directory handle = %v, want: %v", err, ErrInvalidHandle)
	}
	if !fs.ReadReady(data) {
		t.Errorf("ReadReady() = false on dissolved handle")
	}
	if got := fs.Stats().DissolvedHandles.Value(); got != 4 {
		t.Errorf("DissolvedHandles = %d, want: 4", got)
	}
	for _, h := range []Handle{data, bind, dh} {
		mustClose(t, fs, h)
		if err := fs.CloseHandle(h); err != ErrInvalidHandle {
			t.Errorf("second CloseHandle() = %v, want: %v", err, ErrInvalidHandle)
		}
	}

	// The id is free again.
	if _, got := newSocket(t, fs, "tcp"); got != dir {
		t.Errorf("new socket at %s, want: %s", got, dir)
	}
}

// TestNotifyOnce checks that a waiter is queued once and fires once.
func TestNotifyOnce(t *testing.T) {
	fs, stack := newTestFS(t, Options{})
	_, ldir := listener(t, fs, "10.0.0.2:80")
	acc := mustOpen(t, fs, ldir+"/accept", ReadOnly)

	ch1 := fs.NotifyReadReady(acc)
	ch2 := fs.NotifyReadReady(acc)
	if ch1 != ch2 {
		t.Errorf("NotifyReadReady() returned distinct channels for one handle")
	}
	// Progress without readiness keeps the waiter.
	stack.Flush()
	select {
	case <-ch1:
		t.Fatalf("notification fired without a pending connection")
	default:
	}

	_, cdir := newSocket(t, fs, "tcp")
	c := mustOpen(t, fs, cdir+"/connect", WriteOnly)
	mustWrite(t, fs, c, "10.0.0.2:80")
	stack.Flush()
	<-ch1
	stack.Flush()
	fs.Progress()
	if got := fs.Stats().Notifications.Value(); got != 1 {
		t.Errorf("Notifications = %d, want: 1", got)
	}
	if ch := fs.NotifyReadReady(acc); ch == ch1 {
		t.Errorf("ready handle was queued again")
	}
}

func TestCloseHandleDequeues(t *testing.T) {
	fs, stack := newTestFS(t, Options{})
	_, ldir := listener(t, fs, "10.0.0.2:80")
	acc := mustOpen(t, fs, ldir+"/accept", ReadOnly)
	fs.NotifyReadReady(acc)
	mustClose(t, fs, acc)

	_, cdir := newSocket(t, fs, "tcp")
	c := mustOpen(t, fs, cdir+"/connect", WriteOnly)
	mustWrite(t, fs, c, "10.0.0.2:80")
	stack.Flush()
	if got := fs.Stats().Notifications.Value(); got != 0 {
		t.Errorf("Notifications = %d for a closed handle, want: 0", got)
	}
}

func TestStatusFiles(t *testing.T) {
	fs, stack := newTestFS(t, Options{})
	for _, tc := range []struct {
		path string
		want string
	}{
		{"/address", "10.0.0.2\n"},
		{"/netmask", "255.255.255.0\n"},
		{"/gateway", "10.0.0.1\n"},
		{"/nameserver", "8.8.8.8\n"},
		{"/link_state", "up\n"},
	} {
		h := mustOpen(t, fs, tc.path, ReadOnly)
		if got := mustRead(t, fs, h); got != tc.want {
			t.Errorf("%s read = %q, want: %q", tc.path, got, tc.want)
		}
		mustClose(t, fs, h)
	}

	h := mustOpen(t, fs, "/link_state", ReadOnly)
	c := testConfig
	c.LinkUp = false
	stack.SetInterfaceConfig(c)
	if got := mustRead(t, fs, h); got != "down\n" {
		t.Errorf("/link_state read = %q, want: %q", got, "down\n")
	}

	// Reads continue at the handle's position.
	h.SetSeek(2)
	buf := make([]byte, 8)
	if n, err := fs.Read(h, buf); err != nil || string(buf[:n]) != "wn\n" {
		t.Errorf("Read() at 2 = %q, %v, want: %q", buf[:n], err, "wn\n")
	}
	if n, err := fs.Read(h, buf); err != nil || n != 0 {
		t.Errorf("Read() at end = %d, %v, want: 0, nil", n, err)
	}

	if _, err := fs.Open("/address", WriteOnly); !errors.Is(err, linuxerr.EACCES) {
		t.Errorf("Open(/address, WriteOnly) = %v, want: EACCES", err)
	}
}

func TestReadDirents(t *testing.T) {
	fs, _ := newTestFS(t, Options{})
	newSocket(t, fs, "udp")

	dh, err := fs.OpenDir("/")
	if err != nil {
		t.Fatalf("OpenDir(/) failed: %v", err)
	}
	defer mustClose(t, fs, dh)

	// Read two entries at a time.
	var names []string
	for i := 0; i < 10; i++ {
		buf := make([]byte, 2*DirentSize)
		n, err := fs.Read(dh, buf)
		if err != nil {
			t.Fatalf("Read() failed: %v", err)
		}
		ds, err := DecodeDirents(buf[:n])
		if err != nil {
			t.Fatalf("DecodeDirents() failed: %v", err)
		}
		if len(ds) == 0 {
			break
		}
		for _, d := range ds {
			names = append(names, d.Name)
		}
	}
	want := []string{"tcp", "udp", "address", "netmask", "gateway", "nameserver", "link_state"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("root entries mismatch (-want +got):\n%s", diff)
	}

	ds, err := fs.ReadDir("/udp")
	if err != nil {
		t.Fatalf("ReadDir(/udp) failed: %v", err)
	}
	got := make(map[string]DirentType)
	for _, d := range ds {
		got[d.Name] = d.Type
	}
	wantTypes := map[string]DirentType{"new_socket": DirentTransactionalFile, "0": DirentDirectory}
	if diff := cmp.Diff(wantTypes, got); diff != "" {
		t.Errorf("/udp entries mismatch (-want +got):\n%s", diff)
	}

	if _, err := fs.Read(dh, make([]byte, DirentSize-1)); !errors.Is(err, linuxerr.EINVAL) {
		t.Errorf("Read() with short buffer = %v, want: EINVAL", err)
	}
	if _, err := fs.Write(dh, []byte("x")); !errors.Is(err, linuxerr.EISDIR) {
		t.Errorf("Write() to directory = %v, want: EISDIR", err)
	}
}

func TestStat(t *testing.T) {
	fs, _ := newTestFS(t, Options{})
	_, dir := newSocket(t, fs, "tcp")
	b := mustOpen(t, fs, dir+"/bind", WriteOnly)
	mustWrite(t, fs, b, "10.0.0.2:80")

	for _, tc := range []struct {
		path string
		typ  DirentType
		rwx  Rwx
		size int64
	}{
		{"/", DirentDirectory, RwxDirectory, 0},
		{"/tcp", DirentDirectory, RwxDirectory, 0},
		{"/tcp/new_socket", DirentTransactionalFile, RwxReadOnly, 0},
		{dir, DirentDirectory, RwxDirectory, 0},
		{dir + "/bind", DirentTransactionalFile, RwxReadWrite, int64(len("10.0.0.2:80\n"))},
		{dir + "/data", DirentContinuousFile, RwxReadWrite, 0},
		{dir + "/local", DirentTransactionalFile, RwxReadOnly, 0},
		{"/address", DirentTransactionalFile, RwxReadOnly, int64(len("10.0.0.2\n"))},
	} {
		st, err := fs.Stat(tc.path)
		if err != nil {
			t.Errorf("Stat(%s) failed: %v", tc.path, err)
			continue
		}
		if st.Type != tc.typ || st.Rwx != tc.rwx || st.Size != tc.size {
			t.Errorf("Stat(%s) = %+v, want type %v rwx %v size %d", tc.path, st, tc.typ, tc.rwx, tc.size)
		}
		if st.Ino == 0 {
			t.Errorf("Stat(%s) has no inode number", tc.path)
		}
	}
	for _, path := range []string{"/nope", "/tcp/7", "/tcp/0/nope", "/tcp/new_socket/x", "/tcp/00"} {
		if _, err := fs.Stat(path); !errors.Is(err, linuxerr.ENOENT) {
			t.Errorf("Stat(%s) = %v, want: ENOENT", path, err)
		}
	}
}

func TestUnlinkRename(t *testing.T) {
	fs, _ := newTestFS(t, Options{})
	_, dir := newSocket(t, fs, "tcp")
	for _, path := range []string{"/address", "/tcp", "/tcp/new_socket", dir + "/data"} {
		if err := fs.Unlink(path); !errors.Is(err, linuxerr.EPERM) {
			t.Errorf("Unlink(%s) = %v, want: EPERM", path, err)
		}
	}
	if err := fs.Rename(dir, "/tcp/9"); !errors.Is(err, linuxerr.EPERM) {
		t.Errorf("Rename() = %v, want: EPERM", err)
	}
	if _, err := fs.Open(dir, ReadOnly); !errors.Is(err, linuxerr.EISDIR) {
		t.Errorf("Open(%s) = %v, want: EISDIR", dir, err)
	}
	if _, err := fs.OpenDir(dir + "/data"); !errors.Is(err, linuxerr.ENOTDIR) {
		t.Errorf("OpenDir(data) = %v, want: ENOTDIR", err)
	}
}

func TestDefaultSockOpts(t *testing.T) {
	fs, _ := newTestFS(t, Options{SockOpts: SockOpts{ReuseAddress: true, NoDelay: true}})
	h, _ := newSocket(t, fs, "tcp")
	sock := h.dir.sock
	for _, tc := range []struct {
		opt  netapi.Option
		want int
	}{
		{netapi.OptReuseAddress, 1},
		{netapi.OptKeepAlive, 0},
		{netapi.OptNoDelay, 1},
	} {
		if got, err := sock.GetSockOpt(tc.opt); err != nil || got != tc.want {
			t.Errorf("GetSockOpt(%v) = %d, %v, want: %d, nil", tc.opt, got, err, tc.want)
		}
	}
}

func TestClose(t *testing.T) {
	fs, stack := newTestFS(t, Options{})
	h, dir := newSocket(t, fs, "tcp")
	newSocket(t, fs, "udp")
	data := mustOpen(t, fs, dir+"/data", ReadOnly)
	notify := fs.NotifyReadReady(data)

	if err := fs.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	<-notify
	if stack.Live() != 0 || stack.Released() != 2 {
		t.Errorf("Live() = %d, Released() = %d, want: 0, 2", stack.Live(), stack.Released())
	}
	if _, err := fs.Open("/tcp/new_socket", ReadOnly); err != ErrClosed {
		t.Errorf("Open() after Close() = %v, want: %v", err, ErrClosed)
	}
	if err := fs.Close(); err != ErrClosed {
		t.Errorf("second Close() = %v, want: %v", err, ErrClosed)
	}
	if _, err := readAll(fs, h); err != ErrClosed {
		t.Errorf("Read() after Close() = %v, want: %v", err, ErrClosed)
	}
	mustClose(t, fs, h)
	mustClose(t, fs, data)
	snap := fs.Stats().Snapshot()
	if snap.SocketsCreated != 2 || snap.SocketsDestroyed != 2 || snap.SocketsLive != 0 {
		t.Errorf("Stats = %+v, want 2 created, 2 destroyed, 0 live", snap)
	}
}

func TestClosedFileSystemRejectsIO(t *testing.T) {
	fs, _ := newTestFS(t, Options{})
	status := mustOpen(t, fs, "/address", ReadOnly)
	_, dir := newSocket(t, fs, "udp")
	remote := mustOpen(t, fs, dir+"/remote", ReadWrite)
	root, err := fs.OpenDir("/")
	if err != nil {
		t.Fatalf("OpenDir(/) failed: %v", err)
	}

	if err := fs.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if _, err := readAll(fs, status); err != ErrClosed {
		t.Errorf("status Read() after Close() = %v, want: %v", err, ErrClosed)
	}
	if _, err := fs.Read(root, make([]byte, DirentSize)); err != ErrClosed {
		t.Errorf("readdir after Close() = %v, want: %v", err, ErrClosed)
	}
	if _, err := fs.Write(remote, []byte("10.0.0.3:53")); err != ErrClosed {
		t.Errorf("Write() after Close() = %v, want: %v", err, ErrClosed)
	}
	select {
	case <-fs.NotifyReadReady(status):
	default:
		t.Errorf("NotifyReadReady() after Close() returned an open channel")
	}
	if !fs.ReadReady(status) || !fs.WriteReady(remote) {
		t.Errorf("handles not ready after Close()")
	}
	if got := fs.waiters.len(); got != 0 {
		t.Errorf("%d waiters queued after Close(), want: 0", got)
	}
	mustClose(t, fs, status)
	mustClose(t, fs, remote)
	mustClose(t, fs, root)
}

func TestNegativeSeek(t *testing.T) {
	fs, _ := newTestFS(t, Options{})
	status := mustOpen(t, fs, "/link_state", ReadOnly)
	loc, _ := newSocket(t, fs, "tcp")
	root, err := fs.OpenDir("/")
	if err != nil {
		t.Fatalf("OpenDir(/) failed: %v", err)
	}
	for _, tc := range []struct {
		name string
		h    Handle
	}{
		{"status file", status},
		{"location file", loc},
		{"directory", root},
	} {
		tc.h.SetSeek(-1)
		if _, err := fs.Read(tc.h, make([]byte, DirentSize)); !errors.Is(err, linuxerr.EINVAL) {
			t.Errorf("%s: Read() at -1 = %v, want: EINVAL", tc.name, err)
		}
		tc.h.SetSeek(0)
		if _, err := fs.Read(tc.h, make([]byte, DirentSize)); err != nil {
			t.Errorf("%s: Read() at 0 failed: %v", tc.name, err)
		}
	}
	mustClose(t, fs, status)
	mustClose(t, fs, root)
}
