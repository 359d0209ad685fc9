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

package config

import (
	"flag"
	"fmt"
	"reflect"
	"sort"
	"strconv"

	"github.com/BurntSushi/toml"
)

// RegisterFlags registers flags used to populate Config.
func RegisterFlags(flagSet *flag.FlagSet) {
	// Debugging flags.
	flagSet.String("log", "", "file path where internal debug information is written, default is stderr.")
	flagSet.String("log-format", "text", "log format: text (default) or json.")
	flagSet.Bool("debug", false, "enable debug logging.")

	// Network flags.
	flagSet.Var(backendTypePtr(BackendNetstack), "backend", "network stack: netstack (default) or fake.")
	flagSet.String("address", "10.0.2.15", "interface address.")
	flagSet.Int("prefix-len", 24, "length of the interface subnet prefix.")
	flagSet.String("gateway", "10.0.2.2", "default router; empty for none.")
	flagSet.String("nameserver", "10.0.2.3", "name server reported by /nameserver.")
	flagSet.Bool("link-down", false, "start with the link down.")

	// File system flags.
	flagSet.Int("max-sockets", 128, "maximum number of live sockets per protocol.")
	flagSet.Bool("reuse-address", true, "set SO_REUSEADDR on new stream sockets.")
	flagSet.Bool("keep-alive", false, "set SO_KEEPALIVE on new stream sockets.")
	flagSet.Bool("no-delay", false, "set TCP_NODELAY on new stream sockets.")
}

// NewFromFlags creates a new Config with values coming from command line
// flags.
func NewFromFlags(flagSet *flag.FlagSet) (*Config, error) {
	conf := &Config{}

	obj := reflect.ValueOf(conf).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		name, ok := f.Tag.Lookup("flag")
		if !ok {
			// No flag set for this field.
			continue
		}
		fl := flagSet.Lookup(name)
		if fl == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		x := reflect.ValueOf(fl.Value.(flag.Getter).Get())
		obj.Field(i).Set(x)
	}

	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// ToFlags returns a slice of flags that correspond to the given Config. Flags
// at their default value are omitted.
func (c *Config) ToFlags() []string {
	var rv []string

	flagSet := flag.NewFlagSet("tmp", flag.ContinueOnError)
	RegisterFlags(flagSet)

	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		name, ok := f.Tag.Lookup("flag")
		if !ok {
			// No flag set for this field.
			continue
		}
		val := getVal(obj.Field(i))

		fl := flagSet.Lookup(name)
		if fl == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		if val == fl.DefValue {
			continue
		}
		rv = append(rv, fmt.Sprintf("--%s=%s", fl.Name, val))
	}
	return rv
}

func getVal(field reflect.Value) string {
	if str, ok := field.Addr().Interface().(fmt.Stringer); ok {
		return str.String()
	}
	switch field.Kind() {
	case reflect.Bool:
		return strconv.FormatBool(field.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(field.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(field.Uint(), 10)
	case reflect.String:
		return field.String()
	default:
		panic("unknown type " + field.Kind().String())
	}
}

// File is the layout of a configuration file. Keys of the flags table are
// flag names:
//
//	[flags]
//	backend = "fake"
//	max-sockets = 16
//	debug = true
type File struct {
	Flags map[string]any `toml:"flags"`
}

// LoadFile reads a configuration file.
func LoadFile(path string) (*File, error) {
	var f File
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("loading config file %q: %w", path, err)
	}
	return &f, nil
}

// Apply sets the flags named in the file. Flags already set on flagSet take
// precedence and are left untouched.
func (f *File) Apply(flagSet *flag.FlagSet) error {
	set := make(map[string]bool)
	flagSet.Visit(func(fl *flag.Flag) { set[fl.Name] = true })

	names := make([]string, 0, len(f.Flags))
	for name := range f.Flags {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if set[name] {
			continue
		}
		fl := flagSet.Lookup(name)
		if fl == nil {
			return fmt.Errorf("config file: unknown flag %q", name)
		}
		val := fmt.Sprint(f.Flags[name])
		if err := fl.Value.Set(val); err != nil {
			return fmt.Errorf("config file: error setting flag %s=%q: %w", name, val, err)
		}
	}
	return nil
}
