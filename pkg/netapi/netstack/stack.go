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

// Package netstack implements netapi.Stack on top of the gVisor userspace
// network stack.
//
// The stack owns one NIC. Endpoint readiness changes are observed through
// waiter.Queue entries and coalesced into a single pending kick; Run delivers
// kicks to the progress handler from its own goroutine, so the handler never
// runs inside an endpoint call.
package netstack

import (
	"context"
	"fmt"

	"gvisor.dev/gvisor/pkg/log"
	"gvisor.dev/gvisor/pkg/sync"
	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/header"
	"gvisor.dev/gvisor/pkg/tcpip/link/loopback"
	"gvisor.dev/gvisor/pkg/tcpip/network/ipv4"
	"gvisor.dev/gvisor/pkg/tcpip/stack"
	"gvisor.dev/gvisor/pkg/tcpip/transport/tcp"
	"gvisor.dev/gvisor/pkg/tcpip/transport/udp"
	"gvisor.dev/gvisor/pkg/waiter"

	"github.com/genodelabs/genode-sub006/pkg/netapi"
	"github.com/genodelabs/genode-sub006/pkg/sockaddr"
)

const nicID tcpip.NICID = 1

// Options configures the stack's interface.
type Options struct {
	// Address is the interface address.
	Address [4]byte

	// PrefixLen is the length of the on-link subnet prefix.
	PrefixLen int

	// Gateway is the default router. The zero address installs no default
	// route.
	Gateway [4]byte

	// Nameserver is reported through the interface configuration only.
	Nameserver [4]byte

	// LinkDown starts the NIC disabled.
	LinkDown bool
}

// Stack is a netapi.Stack backed by a gVisor stack.Stack.
type Stack struct {
	stack *stack.Stack
	opts  Options

	// kick has capacity one; a pending value means progress not yet
	// reported.
	kick chan struct{}

	mu      sync.Mutex
	handler func()
}

var _ netapi.Stack = (*Stack)(nil)

// New creates a stack with a loopback NIC configured per opts.
func New(opts Options) (*Stack, error) {
	s := stack.New(stack.Options{
		NetworkProtocols:   []stack.NetworkProtocolFactory{ipv4.NewProtocol},
		TransportProtocols: []stack.TransportProtocolFactory{tcp.NewProtocol, udp.NewProtocol},
		HandleLocal:        true,
	})
	if err := s.CreateNIC(nicID, loopback.New()); err != nil {
		s.Close()
		return nil, fmt.Errorf("creating NIC: %s", err)
	}
	addr := tcpip.AddressWithPrefix{
		Address:   tcpip.AddrFrom4(opts.Address),
		PrefixLen: opts.PrefixLen,
	}
	protoAddr := tcpip.ProtocolAddress{
		Protocol:          ipv4.ProtocolNumber,
		AddressWithPrefix: addr,
	}
	if err := s.AddProtocolAddress(nicID, protoAddr, stack.AddressProperties{}); err != nil {
		s.Close()
		return nil, fmt.Errorf("adding address %v: %s", addr, err)
	}
	routes := []tcpip.Route{{Destination: addr.Subnet(), NIC: nicID}}
	if opts.Gateway != ([4]byte{}) {
		routes = append(routes, tcpip.Route{
			Destination: header.IPv4EmptySubnet,
			Gateway:     tcpip.AddrFrom4(opts.Gateway),
			NIC:         nicID,
		})
	}
	s.SetRouteTable(routes)
	if opts.LinkDown {
		if err := s.DisableNIC(nicID); err != nil {
			s.Close()
			return nil, fmt.Errorf("disabling NIC: %s", err)
		}
	}
	log.Infof("netstack: NIC %d up=%t address %v gateway %v", nicID, !opts.LinkDown, addr, tcpip.AddrFrom4(opts.Gateway))
	return &Stack{
		stack: s,
		opts:  opts,
		kick:  make(chan struct{}, 1),
	}, nil
}

// Close tears down the stack. Sockets must have been released.
func (s *Stack) Close() {
	s.stack.Close()
	s.stack.Wait()
}

// Run delivers progress notifications to the handler until ctx is done.
func (s *Stack) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.kick:
			s.mu.Lock()
			handler := s.handler
			s.mu.Unlock()
			if handler != nil {
				handler()
			}
		}
	}
}

// notify records that progress was made. It never blocks.
func (s *Stack) notify() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// SetProgressHandler implements netapi.Stack.SetProgressHandler.
func (s *Stack) SetProgressHandler(fn func()) {
	s.mu.Lock()
	s.handler = fn
	s.mu.Unlock()
}

// InterfaceConfig implements netapi.Stack.InterfaceConfig.
func (s *Stack) InterfaceConfig() netapi.InterfaceConfig {
	c := netapi.InterfaceConfig{
		Nameserver: s.opts.Nameserver,
		LinkUp:     s.stack.CheckNIC(nicID),
	}
	if a, err := s.stack.GetMainNICAddress(nicID, ipv4.ProtocolNumber); err == nil && a.Address.Len() == header.IPv4AddressSize {
		c.Address = a.Address.As4()
		c.Netmask = sockaddr.PrefixMask(a.PrefixLen)
	}
	for _, r := range s.stack.GetRouteTable() {
		if r.Destination.Prefix() == 0 && r.Gateway.Len() == header.IPv4AddressSize {
			c.Gateway = r.Gateway.As4()
			break
		}
	}
	return c
}

// SetLinkUp enables or disables the NIC.
func (s *Stack) SetLinkUp(up bool) error {
	var err tcpip.Error
	if up {
		err = s.stack.EnableNIC(nicID)
	} else {
		err = s.stack.DisableNIC(nicID)
	}
	if err != nil {
		return translateError(err)
	}
	s.notify()
	return nil
}

// Create implements netapi.Stack.Create.
func (s *Stack) Create(t netapi.Type) (netapi.Socket, error) {
	var proto tcpip.TransportProtocolNumber
	switch t {
	case netapi.Stream:
		proto = tcp.ProtocolNumber
	case netapi.Datagram:
		proto = udp.ProtocolNumber
	default:
		return nil, translateError(&tcpip.ErrUnknownProtocol{})
	}
	wq := &waiter.Queue{}
	ep, err := s.stack.NewEndpoint(proto, ipv4.ProtocolNumber, wq)
	if err != nil {
		return nil, translateError(err)
	}
	return newEndpoint(s, t, ep, wq), nil
}
