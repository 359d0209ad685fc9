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

package cmd

import (
	"bytes"
	"context"
	"flag"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/multierr"

	"github.com/genodelabs/genode-sub006/pkg/netapi/netapitest"
	"github.com/genodelabs/genode-sub006/pkg/socketfs"
	"github.com/genodelabs/genode-sub006/sockfs/config"
)

func newTestEnv(t *testing.T, backend config.BackendType) *env {
	t.Helper()
	f := flag.NewFlagSet("test", flag.ContinueOnError)
	config.RegisterFlags(f)
	conf, err := config.NewFromFlags(f)
	if err != nil {
		t.Fatalf("NewFromFlags(): %v", err)
	}
	conf.Backend = backend
	e, err := newEnv(context.Background(), conf)
	if err != nil {
		t.Fatalf("newEnv(): %v", err)
	}
	t.Cleanup(func() {
		if err := e.Close(); err != nil {
			t.Errorf("Close(): %v", err)
		}
	})
	return e
}

func TestEchoRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		name    string
		backend config.BackendType
	}{
		{name: "fake", backend: config.BackendFake},
		{name: "netstack", backend: config.BackendNetstack},
	} {
		t.Run(tc.name, func(t *testing.T) {
			e := newTestEnv(t, tc.backend)
			got, err := echoRoundTrip(context.Background(), e, 7, "hello world")
			if err != nil {
				t.Fatalf("echoRoundTrip(): %v", err)
			}
			if want := "hello world"; got != want {
				t.Errorf("echoRoundTrip()=%q, want: %q", got, want)
			}
			s := e.fs.Stats().Snapshot()
			if want := uint64(3); s.SocketsCreated != want {
				t.Errorf("SocketsCreated=%d, want: %d", s.SocketsCreated, want)
			}
			if want := uint64(3); s.SocketsDestroyed != want {
				t.Errorf("SocketsDestroyed=%d, want: %d", s.SocketsDestroyed, want)
			}
			if want := uint64(1); s.Accepts != want {
				t.Errorf("Accepts=%d, want: %d", s.Accepts, want)
			}
		})
	}
}

func TestCatFile(t *testing.T) {
	e := newTestEnv(t, config.BackendFake)
	for path, want := range map[string]string{
		"/address":    "10.0.2.15\n",
		"/netmask":    "255.255.255.0\n",
		"/gateway":    "10.0.2.2\n",
		"/nameserver": "10.0.2.3\n",
		"/link_state": "up\n",
	} {
		got, err := catFile(context.Background(), e, path)
		if err != nil {
			t.Errorf("catFile(%q): %v", path, err)
			continue
		}
		if got != want {
			t.Errorf("catFile(%q)=%q, want: %q", path, got, want)
		}
	}
	if _, err := catFile(context.Background(), e, "/tcp"); err == nil {
		t.Errorf("catFile(/tcp) succeeded, want error")
	}
}

func TestListDir(t *testing.T) {
	e := newTestEnv(t, config.BackendFake)
	var out bytes.Buffer
	if err := listDir(e.fs, &out, "/", false); err != nil {
		t.Fatalf("listDir(): %v", err)
	}
	var names []string
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if lines[0] != "/:" {
		t.Errorf("header=%q, want: %q", lines[0], "/:")
	}
	for _, l := range lines[1:] {
		fields := strings.Fields(l)
		names = append(names, fields[len(fields)-1])
	}
	want := []string{"tcp", "udp", "address", "netmask", "gateway", "nameserver", "link_state"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("listing mismatch (-want +got):\n%s", diff)
	}

	out.Reset()
	if err := listDir(e.fs, &out, "/udp", true); err != nil {
		t.Fatalf("listDir(/udp): %v", err)
	}
	if !strings.Contains(out.String(), "new_socket") {
		t.Errorf("listing of /udp lacks new_socket:\n%s", out.String())
	}
}

func TestScript(t *testing.T) {
	const script = `
# A listening TCP socket.
open s /tcp/new_socket r
read s
open b /$s/bind
write b 0.0.0.0:80
expect b '0.0.0.0:80\n'
open l /$s/listen rw
write l 5
expect l '5\n'
stat /$s/accept_socket
flush
close l
close b
close s
stat /tcp/0
`
	e := newTestEnv(t, config.BackendFake)
	var out bytes.Buffer
	err := runScript(context.Background(), e, strings.NewReader(script), &out, false)
	if err == nil || !strings.Contains(err.Error(), "line 16") {
		t.Fatalf("runScript()=%v, want failure of the last stat", err)
	}
	if want := "s: \"tcp/0\\n\"\n"; !strings.HasPrefix(out.String(), want) {
		t.Errorf("output=%q, want prefix: %q", out.String(), want)
	}
	if !strings.Contains(out.String(), "/tcp/0/accept_socket: ino") {
		t.Errorf("output lacks stat of accept_socket:\n%s", out.String())
	}
	if got, want := e.fs.Stats().Snapshot().SocketsLive, uint64(0); got != want {
		t.Errorf("SocketsLive=%d, want: %d", got, want)
	}
}

func TestScriptErrors(t *testing.T) {
	const script = `
bogus
open x /address r
open x /address r
read y
seek x nowhere
seek x -1
expect x '10.0.2.15\n'
"unterminated
`
	for _, tc := range []struct {
		name      string
		keepGoing bool
		want      int
	}{
		{name: "stop", keepGoing: false, want: 1},
		{name: "keep-going", keepGoing: true, want: 6},
	} {
		t.Run(tc.name, func(t *testing.T) {
			e := newTestEnv(t, config.BackendFake)
			err := runScript(context.Background(), e, strings.NewReader(script), &bytes.Buffer{}, tc.keepGoing)
			if got := len(multierr.Errors(err)); got != tc.want {
				t.Errorf("runScript() returned %d errors, want: %d: %v", got, tc.want, err)
			}
		})
	}
}

func TestScriptClosesHandles(t *testing.T) {
	e := newTestEnv(t, config.BackendFake)
	script := "open s /udp/new_socket r\nopen d /udp/0 r\n"
	if err := runScript(context.Background(), e, strings.NewReader(script), &bytes.Buffer{}, false); err == nil {
		t.Errorf("opening a directory as a file succeeded")
	}
	ds, err := e.fs.ReadDir("/udp")
	if err != nil {
		t.Fatalf("ReadDir(): %v", err)
	}
	for _, d := range ds {
		if d.Type == socketfs.DirentDirectory {
			t.Errorf("socket %s outlived the script", d.Name)
		}
	}
}

func TestWriteGivesUpWhileQueued(t *testing.T) {
	e := newTestEnv(t, config.BackendFake)
	s := &session{ctx: context.Background(), e: e}
	defer s.close()

	server, err := s.newSocket("tcp")
	if err != nil {
		t.Fatalf("newSocket(): %v", err)
	}
	for _, c := range []struct{ path, line string }{
		{server + "/bind", "0.0.0.0:9\n"},
		{server + "/listen", "1\n"},
	} {
		if err := s.control(c.path, c.line); err != nil {
			t.Fatalf("writing %s: %v", c.path, err)
		}
	}
	client, err := s.newSocket("tcp")
	if err != nil {
		t.Fatalf("newSocket(): %v", err)
	}
	if err := s.control(client+"/connect", "10.0.2.15:9\n"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if st, err := s.status(client + "/connect"); err != nil || st != "connected" {
		t.Fatalf("connect status = %q, %v, want: connected", st, err)
	}
	data, err := s.open(client+"/data", socketfs.ReadWrite)
	if err != nil {
		t.Fatalf("open data: %v", err)
	}

	// Nobody reads the other end, so the write stays queued past the
	// receive buffer.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err = e.write(ctx, data, make([]byte, netapitest.DefaultBufferSize+1))
	if err == nil || !strings.Contains(err.Error(), "write readiness") {
		t.Errorf("write() = %v, want a write readiness timeout", err)
	}
}
