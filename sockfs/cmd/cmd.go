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

// Package cmd holds implementations of the sockfs commands.
package cmd

import (
	"fmt"
	"io"
	"os"
	"reflect"

	"gvisor.dev/gvisor/pkg/log"

	"github.com/genodelabs/genode-sub006/pkg/socketfs"
)

// ErrorLogger is where error messages should be written to. These messages
// are consumed by the user running the command.
var ErrorLogger io.Writer = os.Stderr

// Fatalf logs to stderr and exits with a failure status code.
func Fatalf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Warningf("FATAL ERROR: %s", msg)
	fmt.Fprintf(ErrorLogger, "sockfs: %s\n", msg)
	os.Exit(128)
}

// printStats writes the counters of a file system, one per line.
func printStats(w io.Writer, s socketfs.StatsSnapshot) {
	v := reflect.ValueOf(s)
	for i := 0; i < v.NumField(); i++ {
		fmt.Fprintf(w, "%-18s %d\n", v.Type().Field(i).Name, v.Field(i).Uint())
	}
}
