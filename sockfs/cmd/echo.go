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
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/subcommands"
	"gvisor.dev/gvisor/pkg/log"

	"github.com/genodelabs/genode-sub006/pkg/sockaddr"
	"github.com/genodelabs/genode-sub006/pkg/socketfs"
	"github.com/genodelabs/genode-sub006/sockfs/config"
)

// Echo implements subcommands.Command for the "echo" command.
type Echo struct {
	port    uint
	message string
	stats   bool
}

// Name implements subcommands.Command.Name.
func (*Echo) Name() string {
	return "echo"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Echo) Synopsis() string {
	return "send a message over a TCP connection made entirely of file operations"
}

// Usage implements subcommands.Command.Usage.
func (*Echo) Usage() string {
	return `echo [flags] - connect two TCP sockets through the file system and echo a message.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (ec *Echo) SetFlags(f *flag.FlagSet) {
	f.UintVar(&ec.port, "port", 7, "port the listening socket binds to.")
	f.StringVar(&ec.message, "message", "hello", "message to echo.")
	f.BoolVar(&ec.stats, "stats", false, "print file system counters when done.")
}

// Execute implements subcommands.Command.Execute.
func (ec *Echo) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 || ec.port == 0 || ec.port > 0xffff {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	e, err := newEnv(ctx, conf)
	if err != nil {
		Fatalf("%v", err)
	}
	defer e.Close()
	got, err := echoRoundTrip(ctx, e, uint16(ec.port), ec.message)
	if err != nil {
		Fatalf("echo: %v", err)
	}
	fmt.Fprintln(os.Stdout, got)
	if ec.stats {
		printStats(os.Stdout, e.fs.Stats().Snapshot())
	}
	return subcommands.ExitSuccess
}

// session tracks the handles opened during a round trip.
type session struct {
	ctx     context.Context
	e       *env
	handles []socketfs.Handle
}

func (s *session) open(path string, mode socketfs.OpenMode) (*socketfs.FileHandle, error) {
	h, err := s.e.fs.Open(path, mode)
	if err != nil {
		return nil, err
	}
	s.handles = append(s.handles, h)
	return h, nil
}

// newSocket opens new_socket of proto and returns the socket directory. The
// location handle stays open so the socket lives until the session ends.
func (s *session) newSocket(proto string) (string, error) {
	return s.location("/" + proto + "/new_socket")
}

func (s *session) location(path string) (string, error) {
	h, err := s.open(path, socketfs.ReadOnly)
	if err != nil {
		return "", err
	}
	loc, err := s.e.readString(s.ctx, h)
	if err != nil {
		return "", err
	}
	return "/" + strings.TrimSpace(loc), nil
}

func (s *session) control(path, line string) error {
	h, err := s.open(path, socketfs.WriteOnly)
	if err != nil {
		return err
	}
	return s.e.write(s.ctx, h, []byte(line))
}

func (s *session) status(path string) (string, error) {
	h, err := s.open(path, socketfs.ReadOnly)
	if err != nil {
		return "", err
	}
	return s.e.readString(s.ctx, h)
}

// readFull reads n bytes from the data file h.
func (s *session) readFull(h *socketfs.FileHandle, n int) ([]byte, error) {
	buf := make([]byte, n)
	for off := 0; off < n; {
		m, err := s.e.read(s.ctx, h, buf[off:])
		if err != nil {
			return nil, err
		}
		if m == 0 {
			return nil, fmt.Errorf("connection closed after %d of %d bytes", off, n)
		}
		off += m
	}
	return buf, nil
}

func (s *session) close() {
	for _, h := range s.handles {
		s.e.fs.CloseHandle(h)
	}
}

// echoRoundTrip sets up a listening socket on port, connects a second socket
// to it at the interface address, accepts the connection and sends message
// there and back. It returns what the client received.
func echoRoundTrip(ctx context.Context, e *env, port uint16, message string) (string, error) {
	s := &session{ctx: ctx, e: e}
	defer s.close()

	ipText, err := catFile(ctx, e, "/address")
	if err != nil {
		return "", err
	}
	ip, err := sockaddr.ParseIP(ipText)
	if err != nil {
		return "", err
	}

	server, err := s.newSocket("tcp")
	if err != nil {
		return "", fmt.Errorf("creating listener: %w", err)
	}
	if err := s.control(server+"/bind", sockaddr.Format(sockaddr.Address{Port: port})); err != nil {
		return "", fmt.Errorf("bind: %w", err)
	}
	if err := s.control(server+"/listen", "4\n"); err != nil {
		return "", fmt.Errorf("listen: %w", err)
	}

	client, err := s.newSocket("tcp")
	if err != nil {
		return "", fmt.Errorf("creating client: %w", err)
	}
	target := sockaddr.Address{IP: ip, Port: port}
	if err := s.control(client+"/connect", sockaddr.Format(target)); err != nil {
		return "", fmt.Errorf("connect: %w", err)
	}
	log.Debugf("echo: %s connecting from %s to %v", client, server, target)

	ready, err := s.open(server+"/accept", socketfs.ReadOnly)
	if err != nil {
		return "", err
	}
	if err := e.waitReadable(ctx, ready); err != nil {
		return "", fmt.Errorf("accept: %w", err)
	}
	conn, err := s.location(server + "/accept_socket")
	if err != nil {
		return "", fmt.Errorf("accept: %w", err)
	}

	st, err := s.status(client + "/connect")
	if err != nil {
		return "", err
	}
	if st != "connected" {
		return "", fmt.Errorf("connect: %s", st)
	}
	remote, err := s.status(conn + "/remote")
	if err != nil {
		return "", err
	}
	log.Debugf("echo: accepted %s from %s", conn, strings.TrimSpace(remote))

	clientData, err := s.open(client+"/data", socketfs.ReadWrite)
	if err != nil {
		return "", err
	}
	connData, err := s.open(conn+"/data", socketfs.ReadWrite)
	if err != nil {
		return "", err
	}
	if err := e.write(ctx, clientData, []byte(message)); err != nil {
		return "", fmt.Errorf("sending: %w", err)
	}
	got, err := s.readFull(connData, len(message))
	if err != nil {
		return "", fmt.Errorf("receiving: %w", err)
	}
	if err := e.write(ctx, connData, got); err != nil {
		return "", fmt.Errorf("echoing: %w", err)
	}
	back, err := s.readFull(clientData, len(message))
	if err != nil {
		return "", fmt.Errorf("receiving echo: %w", err)
	}
	return string(back), nil
}
