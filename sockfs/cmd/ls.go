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
	"io"
	"os"
	"path"

	"github.com/google/subcommands"

	"github.com/genodelabs/genode-sub006/pkg/socketfs"
	"github.com/genodelabs/genode-sub006/sockfs/config"
)

// List implements subcommands.Command for the "ls" command.
type List struct {
	recursive bool
}

// Name implements subcommands.Command.Name.
func (*List) Name() string {
	return "ls"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*List) Synopsis() string {
	return "list directories of a fresh socket file system"
}

// Usage implements subcommands.Command.Usage.
func (*List) Usage() string {
	return `ls [flags] [path...] - list directory entries.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (l *List) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&l.recursive, "R", false, "list subdirectories recursively.")
}

// Execute implements subcommands.Command.Execute.
func (l *List) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	conf := args[0].(*config.Config)
	paths := f.Args()
	if len(paths) == 0 {
		paths = []string{"/"}
	}

	e, err := newEnv(ctx, conf)
	if err != nil {
		Fatalf("%v", err)
	}
	defer e.Close()
	for _, p := range paths {
		if err := listDir(e.fs, os.Stdout, p, l.recursive); err != nil {
			Fatalf("%v", err)
		}
	}
	return subcommands.ExitSuccess
}

// listDir writes one line per entry of the directory at dir. Entries are
// read as binary dirents through a directory handle.
func listDir(fs *socketfs.FileSystem, w io.Writer, dir string, recursive bool) error {
	h, err := fs.OpenDir(dir)
	if err != nil {
		return err
	}
	defer fs.CloseHandle(h)

	fmt.Fprintf(w, "%s:\n", dir)
	var subdirs []string
	buf := make([]byte, 8*socketfs.DirentSize)
	for {
		n, err := fs.Read(h, buf)
		if err != nil {
			return fmt.Errorf("reading %s: %w", dir, err)
		}
		ds, err := socketfs.DecodeDirents(buf[:n])
		if err != nil {
			return fmt.Errorf("decoding %s: %w", dir, err)
		}
		if len(ds) == 0 {
			break
		}
		for _, d := range ds {
			fmt.Fprintf(w, "%s %-13s %4d %s\n", d.Rwx, d.Type, d.Fileno, d.Name)
			if d.Type == socketfs.DirentDirectory {
				subdirs = append(subdirs, path.Join(dir, d.Name))
			}
		}
	}
	if !recursive {
		return nil
	}
	for _, sub := range subdirs {
		if err := listDir(fs, w, sub, true); err != nil {
			return err
		}
	}
	return nil
}
