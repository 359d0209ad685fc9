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

package netapi

import (
	"fmt"
	"testing"

	"golang.org/x/sys/unix"
	"gvisor.dev/gvisor/pkg/errors/linuxerr"
)

func TestIsWouldBlock(t *testing.T) {
	for _, tc := range []struct {
		err  error
		want bool
	}{
		{err: nil, want: false},
		{err: linuxerr.EAGAIN, want: true},
		{err: linuxerr.EWOULDBLOCK, want: true},
		{err: fmt.Errorf("recv: %w", linuxerr.EWOULDBLOCK), want: true},
		{err: linuxerr.EINPROGRESS, want: false},
	} {
		if got := IsWouldBlock(tc.err); got != tc.want {
			t.Errorf("IsWouldBlock(%v) = %v, want: %v", tc.err, got, tc.want)
		}
	}
}

func TestErrno(t *testing.T) {
	for _, tc := range []struct {
		err  error
		want unix.Errno
	}{
		{err: nil, want: 0},
		{err: linuxerr.ECONNREFUSED, want: unix.ECONNREFUSED},
		{err: fmt.Errorf("connect: %w", linuxerr.EALREADY), want: unix.EALREADY},
		{err: unix.EPIPE, want: unix.EPIPE},
		{err: fmt.Errorf("opaque"), want: unix.EIO},
	} {
		if got := Errno(tc.err); got != tc.want {
			t.Errorf("Errno(%v) = %v, want: %v", tc.err, got, tc.want)
		}
	}
}

func TestTypeString(t *testing.T) {
	if got, want := Stream.String(), "tcp"; got != want {
		t.Errorf("Stream.String() = %q, want: %q", got, want)
	}
	if got, want := Datagram.String(), "udp"; got != want {
		t.Errorf("Datagram.String() = %q, want: %q", got, want)
	}
}
