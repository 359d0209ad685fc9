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
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/google/shlex"
	"github.com/google/subcommands"
	"go.uber.org/multierr"
	"gvisor.dev/gvisor/pkg/log"

	"github.com/genodelabs/genode-sub006/pkg/socketfs"
	"github.com/genodelabs/genode-sub006/sockfs/config"
)

// Script implements subcommands.Command for the "script" command.
type Script struct {
	keepGoing bool
	stats     bool
}

// Name implements subcommands.Command.Name.
func (*Script) Name() string {
	return "script"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Script) Synopsis() string {
	return "run file operations from a script against a socket file system"
}

// Usage implements subcommands.Command.Usage.
func (*Script) Usage() string {
	return `script [flags] <file|-> - run a script of file operations.

Each line holds one command; '#' starts a comment. Arguments are split like
shell words. "$name" expands to the last content read from handle name with
surrounding space removed, and "\n" inside arguments is a newline.

  open <name> <path> [r|w|rw]   open a file (default rw)
  opendir <name> <path>         open a directory
  read <name>                   read at the handle position, waiting if queued
  expect <name> <text>          read from the start and compare with text
  write <name> <text>           write text, waiting if queued
  seek <name> <offset>          move the handle position
  wait <name>                   wait until the handle is readable
  close <name>                  close a handle
  cat <path>                    print a file
  ls <path>                     list a directory
  stat <path>                   print the attributes of a node
  unlink <path>                 destroy a socket directory
  flush                         let the network stack progress
  stats                         print the file system counters
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Script) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&s.keepGoing, "keep-going", false, "continue after failed commands and report all errors.")
	f.BoolVar(&s.stats, "stats", false, "print file system counters when done.")
}

// Execute implements subcommands.Command.Execute.
func (s *Script) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	var in io.Reader = os.Stdin
	if name := f.Arg(0); name != "-" {
		file, err := os.Open(name)
		if err != nil {
			Fatalf("opening script: %v", err)
		}
		defer file.Close()
		in = file
	}

	e, err := newEnv(ctx, conf)
	if err != nil {
		Fatalf("%v", err)
	}
	runErr := runScript(ctx, e, in, os.Stdout, s.keepGoing)
	if s.stats {
		printStats(os.Stdout, e.fs.Stats().Snapshot())
	}
	if err := multierr.Append(runErr, e.Close()); err != nil {
		for _, err := range multierr.Errors(err) {
			fmt.Fprintf(ErrorLogger, "sockfs: %v\n", err)
		}
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// interpreter holds the state of a running script.
type interpreter struct {
	e       *env
	w       io.Writer
	handles map[string]socketfs.Handle
	last    map[string]string
}

var unescaper = strings.NewReplacer(`\n`, "\n")

// runScript executes the commands read from r. Unless keepGoing is set it
// stops at the first failure. Handles left open are closed.
func runScript(ctx context.Context, e *env, r io.Reader, w io.Writer, keepGoing bool) error {
	in := &interpreter{
		e:       e,
		w:       w,
		handles: make(map[string]socketfs.Handle),
		last:    make(map[string]string),
	}
	defer func() {
		for name, h := range in.handles {
			if err := e.fs.CloseHandle(h); err != nil {
				log.Debugf("script: closing %s: %v", name, err)
			}
		}
	}()

	var errs error
	scanner := bufio.NewScanner(r)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		words, err := shlex.Split(line)
		if err != nil {
			err = fmt.Errorf("line %d: %w", lineNo, err)
		} else {
			for i := range words {
				words[i] = unescaper.Replace(os.Expand(words[i], in.lookup))
			}
			log.Debugf("script: line %d: %q", lineNo, words)
			if err = in.exec(ctx, words); err != nil {
				err = fmt.Errorf("line %d: %s: %w", lineNo, words[0], err)
			}
		}
		if err != nil {
			if !keepGoing {
				return err
			}
			errs = multierr.Append(errs, err)
		}
	}
	return multierr.Append(errs, scanner.Err())
}

func (in *interpreter) lookup(name string) string {
	return strings.TrimSpace(in.last[name])
}

func (in *interpreter) handle(name string) (socketfs.Handle, error) {
	h, ok := in.handles[name]
	if !ok {
		return nil, fmt.Errorf("no handle %q", name)
	}
	return h, nil
}

func (in *interpreter) fileHandle(name string) (*socketfs.FileHandle, error) {
	h, err := in.handle(name)
	if err != nil {
		return nil, err
	}
	fh, ok := h.(*socketfs.FileHandle)
	if !ok {
		return nil, fmt.Errorf("%q is a directory handle", name)
	}
	return fh, nil
}

// nargs maps commands to their number of arguments.
var nargs = map[string][2]int{
	"open":    {2, 3},
	"opendir": {2, 2},
	"read":    {1, 1},
	"expect":  {2, 2},
	"write":   {2, 2},
	"seek":    {2, 2},
	"wait":    {1, 1},
	"close":   {1, 1},
	"cat":     {1, 1},
	"ls":      {1, 1},
	"stat":    {1, 1},
	"unlink":  {1, 1},
	"flush":   {0, 0},
	"stats":   {0, 0},
}

func (in *interpreter) exec(ctx context.Context, words []string) error {
	cmd, args := words[0], words[1:]
	n, ok := nargs[cmd]
	if !ok {
		return fmt.Errorf("unknown command")
	}
	if len(args) < n[0] || len(args) > n[1] {
		return fmt.Errorf("want %d to %d arguments, got %d", n[0], n[1], len(args))
	}
	fs := in.e.fs

	switch cmd {
	case "open":
		mode := socketfs.ReadWrite
		if len(args) == 3 {
			switch args[2] {
			case "r":
				mode = socketfs.ReadOnly
			case "w":
				mode = socketfs.WriteOnly
			case "rw":
			default:
				return fmt.Errorf("invalid mode %q", args[2])
			}
		}
		return in.open(args[0], func() (socketfs.Handle, error) { return fs.Open(args[1], mode) })

	case "opendir":
		return in.open(args[0], func() (socketfs.Handle, error) { return fs.OpenDir(args[1]) })

	case "read":
		h, err := in.fileHandle(args[0])
		if err != nil {
			return err
		}
		buf := make([]byte, 4096)
		n, err := in.e.read(ctx, h, buf)
		if err != nil {
			return err
		}
		in.last[args[0]] = string(buf[:n])
		fmt.Fprintf(in.w, "%s: %q\n", args[0], buf[:n])

	case "expect":
		h, err := in.fileHandle(args[0])
		if err != nil {
			return err
		}
		got, err := in.e.readString(ctx, h)
		if err != nil {
			return err
		}
		in.last[args[0]] = got
		if got != args[1] {
			return fmt.Errorf("%s: got %q, want %q", args[0], got, args[1])
		}

	case "write":
		h, err := in.fileHandle(args[0])
		if err != nil {
			return err
		}
		return in.e.write(ctx, h, []byte(args[1]))

	case "seek":
		h, err := in.handle(args[0])
		if err != nil {
			return err
		}
		off, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return err
		}
		if off < 0 {
			return fmt.Errorf("negative offset %d", off)
		}
		h.SetSeek(off)

	case "wait":
		h, err := in.fileHandle(args[0])
		if err != nil {
			return err
		}
		return in.e.waitReadable(ctx, h)

	case "close":
		h, err := in.handle(args[0])
		if err != nil {
			return err
		}
		delete(in.handles, args[0])
		return fs.CloseHandle(h)

	case "cat":
		s, err := catFile(ctx, in.e, args[0])
		if err != nil {
			return err
		}
		fmt.Fprint(in.w, s)

	case "ls":
		return listDir(fs, in.w, args[0], false)

	case "stat":
		st, err := fs.Stat(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(in.w, "%s: ino %d %v %v size %d\n", args[0], st.Ino, st.Type, st.Rwx, st.Size)

	case "unlink":
		return fs.Unlink(args[0])

	case "flush":
		in.e.kick()

	case "stats":
		printStats(in.w, fs.Stats().Snapshot())
	}
	return nil
}

// open stores the handle returned by fn under name.
func (in *interpreter) open(name string, fn func() (socketfs.Handle, error)) error {
	if _, ok := in.handles[name]; ok {
		return fmt.Errorf("handle %q already open", name)
	}
	h, err := fn()
	if err != nil {
		return err
	}
	in.handles[name] = h
	return nil
}
