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
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/gvisor/pkg/errors/linuxerr"
)

func TestDirentLayout(t *testing.T) {
	d := Dirent{Fileno: 0x0102030405060708, Type: DirentContinuousFile, Rwx: RwxReadWrite, Name: "data"}
	b, err := d.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary() failed: %v", err)
	}
	if len(b) != DirentSize {
		t.Fatalf("MarshalBinary() = %d bytes, want: %d", len(b), DirentSize)
	}
	if got := binary.LittleEndian.Uint64(b[0:]); got != d.Fileno {
		t.Errorf("fileno = %#x, want: %#x", got, d.Fileno)
	}
	if got := binary.LittleEndian.Uint32(b[8:]); got != uint32(DirentContinuousFile) {
		t.Errorf("type = %d, want: %d", got, DirentContinuousFile)
	}
	if got := binary.LittleEndian.Uint32(b[12:]); got != uint32(RwxReadWrite) {
		t.Errorf("rwx = %d, want: %d", got, RwxReadWrite)
	}
	if got := string(b[16:20]); got != "data" || b[20] != 0 {
		t.Errorf("name = %q, want: NUL terminated %q", b[16:21], "data")
	}

	var got Dirent
	if err := got.UnmarshalBinary(b); err != nil {
		t.Fatalf("UnmarshalBinary() failed: %v", err)
	}
	if diff := cmp.Diff(d, got); diff != "" {
		t.Errorf("UnmarshalBinary() mismatch (-want +got):\n%s", diff)
	}
}

func TestDirentErrors(t *testing.T) {
	if _, err := (Dirent{Name: strings.Repeat("n", MaxNameLen)}).MarshalBinary(); !errors.Is(err, linuxerr.ENAMETOOLONG) {
		t.Errorf("MarshalBinary() with long name = %v, want: ENAMETOOLONG", err)
	}
	var d Dirent
	if err := d.UnmarshalBinary(make([]byte, DirentSize-1)); !errors.Is(err, linuxerr.EINVAL) {
		t.Errorf("UnmarshalBinary() of short buffer = %v, want: EINVAL", err)
	}
}

func TestDecodeDirents(t *testing.T) {
	var buf []byte
	want := []Dirent{
		{Fileno: 1, Type: DirentDirectory, Rwx: RwxDirectory, Name: "tcp"},
		{Fileno: 2, Type: DirentTransactionalFile, Rwx: RwxReadOnly, Name: "address"},
	}
	for _, d := range append(want, Dirent{}, Dirent{Fileno: 9, Name: "after-end"}) {
		b, err := d.MarshalBinary()
		if err != nil {
			t.Fatalf("MarshalBinary() failed: %v", err)
		}
		buf = append(buf, b...)
	}
	got, err := DecodeDirents(buf)
	if err != nil {
		t.Fatalf("DecodeDirents() failed: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("DecodeDirents() mismatch (-want +got):\n%s", diff)
	}
}

func TestRwxString(t *testing.T) {
	for _, tc := range []struct {
		rwx  Rwx
		want string
	}{
		{0, "---"},
		{RwxReadOnly, "r--"},
		{RwxWriteOnly, "-w-"},
		{RwxReadWrite, "rw-"},
		{RwxDirectory, "r-x"},
	} {
		if got := tc.rwx.String(); got != tc.want {
			t.Errorf("Rwx(%d).String() = %q, want: %q", tc.rwx, got, tc.want)
		}
	}
}
