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

	"github.com/google/subcommands"

	"github.com/genodelabs/genode-sub006/pkg/socketfs"
	"github.com/genodelabs/genode-sub006/sockfs/config"
)

// Cat implements subcommands.Command for the "cat" command.
type Cat struct{}

// Name implements subcommands.Command.Name.
func (*Cat) Name() string {
	return "cat"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Cat) Synopsis() string {
	return "print status files, e.g. /address or /link_state"
}

// Usage implements subcommands.Command.Usage.
func (*Cat) Usage() string {
	return `cat [flags] <path>... - print the content of files.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Cat) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Cat) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	e, err := newEnv(ctx, conf)
	if err != nil {
		Fatalf("%v", err)
	}
	defer e.Close()
	for _, p := range f.Args() {
		s, err := catFile(ctx, e, p)
		if err != nil {
			Fatalf("%v", err)
		}
		fmt.Fprint(os.Stdout, s)
	}
	return subcommands.ExitSuccess
}

// catFile returns the content of the file at path.
func catFile(ctx context.Context, e *env, path string) (string, error) {
	h, err := e.fs.Open(path, socketfs.ReadOnly)
	if err != nil {
		return "", err
	}
	defer e.fs.CloseHandle(h)
	s, err := e.readString(ctx, h)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return s, nil
}
