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

// Package sockaddr converts IPv4 socket addresses to and from the text form
// used by the socket file system.
//
// The text form is "a.b.c.d:port" with decimal octets and port, no leading
// zeros, and a terminating newline when formatted. Parsing accepts the same
// form with or without the trailing newline.
package sockaddr

import (
	"fmt"
	"net/netip"
	"strings"

	"gvisor.dev/gvisor/pkg/errors/linuxerr"
)

// Address is an IPv4 socket address. IP holds the address in network byte
// order: IP[0] is the first octet printed.
type Address struct {
	IP   [4]byte
	Port uint16
}

// Any is the unspecified address 0.0.0.0:0.
var Any Address

// New returns the address a.b.c.d:port.
func New(a, b, c, d byte, port uint16) Address {
	return Address{IP: [4]byte{a, b, c, d}, Port: port}
}

// FromUint32 builds an address from a 32-bit IPv4 address whose most
// significant byte is the first octet.
func FromUint32(ip uint32, port uint16) Address {
	return Address{
		IP:   [4]byte{byte(ip >> 24), byte(ip >> 16), byte(ip >> 8), byte(ip)},
		Port: port,
	}
}

// Uint32 returns the address as a 32-bit value, first octet most significant.
func (a Address) Uint32() uint32 {
	return uint32(a.IP[0])<<24 | uint32(a.IP[1])<<16 | uint32(a.IP[2])<<8 | uint32(a.IP[3])
}

// Unspecified returns true if the IP part is 0.0.0.0.
func (a Address) Unspecified() bool {
	return a.IP == [4]byte{}
}

// String implements fmt.Stringer. It returns the text form without newline.
func (a Address) String() string {
	return fmt.Sprintf("%d.%d.%d.%d:%d", a.IP[0], a.IP[1], a.IP[2], a.IP[3], a.Port)
}

// Format returns the text form of a, newline terminated.
func Format(a Address) string {
	return a.String() + "\n"
}

// FormatIP returns the dotted-quad form of ip, newline terminated.
func FormatIP(ip [4]byte) string {
	return fmt.Sprintf("%d.%d.%d.%d\n", ip[0], ip[1], ip[2], ip[3])
}

// trim strips the line terminator and any NUL padding left by a fixed-size
// content buffer.
func trim(s string) string {
	s = strings.TrimRight(s, "\x00")
	s = strings.TrimSuffix(s, "\n")
	return strings.TrimSuffix(s, "\r")
}

// Parse parses "a.b.c.d:port", optionally newline terminated.
func Parse(s string) (Address, error) {
	ap, err := netip.ParseAddrPort(trim(s))
	if err != nil || !ap.Addr().Is4() {
		return Address{}, fmt.Errorf("malformed socket address %q: %w", s, linuxerr.EINVAL)
	}
	return Address{IP: ap.Addr().As4(), Port: ap.Port()}, nil
}

// ParseIP parses "a.b.c.d", optionally newline terminated.
func ParseIP(s string) ([4]byte, error) {
	ip, err := netip.ParseAddr(trim(s))
	if err != nil || !ip.Is4() {
		return [4]byte{}, fmt.Errorf("malformed IPv4 address %q: %w", s, linuxerr.EINVAL)
	}
	return ip.As4(), nil
}

// PrefixMask returns the netmask for an IPv4 prefix length.
func PrefixMask(prefixLen int) [4]byte {
	if prefixLen <= 0 {
		return [4]byte{}
	}
	if prefixLen > 32 {
		prefixLen = 32
	}
	return FromUint32(^uint32(0)<<(32-prefixLen), 0).IP
}
