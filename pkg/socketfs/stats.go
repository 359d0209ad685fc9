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
	"gvisor.dev/gvisor/pkg/tcpip"
)

// Stats are the counters of a FileSystem.
type Stats struct {
	// SocketsCreated counts sockets created through new_socket or
	// accept_socket.
	SocketsCreated tcpip.StatCounter

	// SocketsDestroyed counts destroyed socket directories.
	SocketsDestroyed tcpip.StatCounter

	// SocketsLive is the number of live socket directories.
	SocketsLive tcpip.StatCounter

	// Accepts counts accepted connections.
	Accepts tcpip.StatCounter

	// Queued counts reads and writes answered with ErrQueued.
	Queued tcpip.StatCounter

	// Notifications counts fired read-ready notifications.
	Notifications tcpip.StatCounter

	// DissolvedHandles counts handles detached from destroyed sockets.
	DissolvedHandles tcpip.StatCounter
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	SocketsCreated   uint64
	SocketsDestroyed uint64
	SocketsLive      uint64
	Accepts          uint64
	Queued           uint64
	Notifications    uint64
	DissolvedHandles uint64
}

// Snapshot returns the current counter values.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		SocketsCreated:   s.SocketsCreated.Value(),
		SocketsDestroyed: s.SocketsDestroyed.Value(),
		SocketsLive:      s.SocketsLive.Value(),
		Accepts:          s.Accepts.Value(),
		Queued:           s.Queued.Value(),
		Notifications:    s.Notifications.Value(),
		DissolvedHandles: s.DissolvedHandles.Value(),
	}
}
