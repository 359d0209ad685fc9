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

// Package config provides basic infrastructure to set configuration settings
// for sockfs. Each setting is a field of Config tagged with the flag that
// sets it; a TOML file may provide values for flags not given on the command
// line.
package config

import (
	"fmt"
	"reflect"
	"strings"

	"gvisor.dev/gvisor/pkg/log"

	"github.com/genodelabs/genode-sub006/pkg/netapi"
	"github.com/genodelabs/genode-sub006/pkg/netapi/netstack"
	"github.com/genodelabs/genode-sub006/pkg/sockaddr"
	"github.com/genodelabs/genode-sub006/pkg/socketfs"
)

// Config holds configuration that is not part of the command arguments.
type Config struct {
	// LogFilename is the filename to log to, if not empty.
	LogFilename string `flag:"log"`

	// LogFormat is the log format: text or json.
	LogFormat string `flag:"log-format"`

	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug"`

	// Backend selects the network stack.
	Backend BackendType `flag:"backend"`

	// Address is the interface address.
	Address string `flag:"address"`

	// PrefixLen is the length of the interface's subnet prefix.
	PrefixLen int `flag:"prefix-len"`

	// Gateway is the default router. Empty means none.
	Gateway string `flag:"gateway"`

	// Nameserver is reported through /nameserver.
	Nameserver string `flag:"nameserver"`

	// LinkDown starts the interface with its link down.
	LinkDown bool `flag:"link-down"`

	// MaxSockets is the number of live sockets per protocol.
	MaxSockets int `flag:"max-sockets"`

	// ReuseAddress sets SO_REUSEADDR on new stream sockets.
	ReuseAddress bool `flag:"reuse-address"`

	// KeepAlive sets SO_KEEPALIVE on new stream sockets.
	KeepAlive bool `flag:"keep-alive"`

	// NoDelay sets TCP_NODELAY on new stream sockets.
	NoDelay bool `flag:"no-delay"`
}

func (c *Config) validate() error {
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q, must be 'text' or 'json'", c.LogFormat)
	}
	if _, err := sockaddr.ParseIP(c.Address); err != nil {
		return fmt.Errorf("address: %w", err)
	}
	for name, ip := range map[string]string{"gateway": c.Gateway, "nameserver": c.Nameserver} {
		if ip == "" {
			continue
		}
		if _, err := sockaddr.ParseIP(ip); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if c.PrefixLen < 0 || c.PrefixLen > 32 {
		return fmt.Errorf("prefix-len %d out of range [0, 32]", c.PrefixLen)
	}
	if c.MaxSockets <= 0 {
		return fmt.Errorf("max-sockets must be positive, got %d", c.MaxSockets)
	}
	return nil
}

// ip parses an address field; empty means the unspecified address. Fields are
// checked by validate.
func ip(s string) [4]byte {
	if s == "" {
		return [4]byte{}
	}
	a, _ := sockaddr.ParseIP(s)
	return a
}

// InterfaceConfig returns the interface configuration described by c.
func (c *Config) InterfaceConfig() netapi.InterfaceConfig {
	return netapi.InterfaceConfig{
		Address:    ip(c.Address),
		Netmask:    sockaddr.PrefixMask(c.PrefixLen),
		Gateway:    ip(c.Gateway),
		Nameserver: ip(c.Nameserver),
		LinkUp:     !c.LinkDown,
	}
}

// NetstackOptions returns the options of the gVisor backend.
func (c *Config) NetstackOptions() netstack.Options {
	ic := c.InterfaceConfig()
	return netstack.Options{
		Address:    ic.Address,
		PrefixLen:  c.PrefixLen,
		Gateway:    ic.Gateway,
		Nameserver: ic.Nameserver,
		LinkDown:   c.LinkDown,
	}
}

// FSOptions returns the file system options.
func (c *Config) FSOptions() socketfs.Options {
	return socketfs.Options{
		MaxSockets: c.MaxSockets,
		SockOpts: socketfs.SockOpts{
			ReuseAddress: c.ReuseAddress,
			KeepAlive:    c.KeepAlive,
			NoDelay:      c.NoDelay,
		},
	}
}

// Log logs important aspects of the configuration.
func (c *Config) Log() {
	log.Infof("Config:")
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		if name, ok := f.Tag.Lookup("flag"); ok {
			log.Infof("  %s%s: %s", name, strings.Repeat(" ", 14-min(len(name), 14)), getVal(obj.Field(i)))
		}
	}
}

// BackendType selects the network stack.
type BackendType int

const (
	// BackendNetstack is the gVisor userspace network stack.
	BackendNetstack BackendType = iota

	// BackendFake is the deterministic in-memory stack.
	BackendFake
)

func backendTypePtr(v BackendType) *BackendType {
	return &v
}

// Set implements flag.Value.
func (b *BackendType) Set(v string) error {
	switch v {
	case "netstack":
		*b = BackendNetstack
	case "fake":
		*b = BackendFake
	default:
		return fmt.Errorf("invalid backend type %q", v)
	}
	return nil
}

// Get implements flag.Getter.
func (b *BackendType) Get() any {
	return *b
}

// String implements flag.Value.
func (b BackendType) String() string {
	switch b {
	case BackendNetstack:
		return "netstack"
	case BackendFake:
		return "fake"
	}
	panic(fmt.Sprintf("Invalid backend type %d", b))
}
