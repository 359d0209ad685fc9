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
	"bytes"
	"encoding/binary"
	"fmt"

	"gvisor.dev/gvisor/pkg/errors/linuxerr"
)

// DirentType is the type of a directory entry.
type DirentType uint32

// Directory entry types. End terminates an enumeration.
const (
	DirentEnd DirentType = iota
	DirentDirectory
	DirentSymlink
	DirentContinuousFile
	DirentTransactionalFile
)

// String implements fmt.Stringer.
func (t DirentType) String() string {
	switch t {
	case DirentEnd:
		return "end"
	case DirentDirectory:
		return "directory"
	case DirentSymlink:
		return "symlink"
	case DirentContinuousFile:
		return "continuous"
	case DirentTransactionalFile:
		return "transactional"
	default:
		return fmt.Sprintf("DirentType(%d)", uint32(t))
	}
}

// Rwx holds permission bits.
type Rwx uint32

// Permission bits.
const (
	RwxExecutable Rwx = 1 << iota
	RwxWritable
	RwxReadable

	RwxReadOnly  = RwxReadable
	RwxWriteOnly = RwxWritable
	RwxReadWrite = RwxReadable | RwxWritable
	RwxDirectory = RwxReadable | RwxExecutable
)

// String renders the bits as "rwx" with dashes for unset bits.
func (r Rwx) String() string {
	b := []byte("---")
	if r&RwxReadable != 0 {
		b[0] = 'r'
	}
	if r&RwxWritable != 0 {
		b[1] = 'w'
	}
	if r&RwxExecutable != 0 {
		b[2] = 'x'
	}
	return string(b)
}

const (
	// MaxNameLen is the size of the name field of a binary dirent,
	// including the terminating NUL.
	MaxNameLen = 256

	// DirentSize is the size of a binary dirent.
	DirentSize = 8 + 4 + 4 + MaxNameLen
)

// Dirent is a directory entry.
type Dirent struct {
	Fileno uint64
	Type   DirentType
	Rwx    Rwx
	Name   string
}

// direntLayout is the binary form of Dirent.
type direntLayout struct {
	Fileno uint64
	Type   uint32
	Rwx    uint32
	Name   [MaxNameLen]byte
}

// MarshalBinary encodes d in the fixed little-endian layout.
func (d Dirent) MarshalBinary() ([]byte, error) {
	if len(d.Name) >= MaxNameLen {
		return nil, fmt.Errorf("dirent name %q: %w", d.Name, linuxerr.ENAMETOOLONG)
	}
	l := direntLayout{
		Fileno: d.Fileno,
		Type:   uint32(d.Type),
		Rwx:    uint32(d.Rwx),
	}
	copy(l.Name[:], d.Name)
	var buf bytes.Buffer
	buf.Grow(DirentSize)
	if err := binary.Write(&buf, binary.LittleEndian, &l); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a dirent produced by MarshalBinary.
func (d *Dirent) UnmarshalBinary(b []byte) error {
	if len(b) < DirentSize {
		return fmt.Errorf("dirent of %d bytes: %w", len(b), linuxerr.EINVAL)
	}
	var l direntLayout
	if err := binary.Read(bytes.NewReader(b[:DirentSize]), binary.LittleEndian, &l); err != nil {
		return err
	}
	name := l.Name[:]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	*d = Dirent{
		Fileno: l.Fileno,
		Type:   DirentType(l.Type),
		Rwx:    Rwx(l.Rwx),
		Name:   string(name),
	}
	return nil
}

// DecodeDirents decodes consecutive binary dirents from b, stopping at the
// first DirentEnd entry.
func DecodeDirents(b []byte) ([]Dirent, error) {
	var ds []Dirent
	for len(b) >= DirentSize {
		var d Dirent
		if err := d.UnmarshalBinary(b); err != nil {
			return nil, err
		}
		if d.Type == DirentEnd {
			break
		}
		ds = append(ds, d)
		b = b[DirentSize:]
	}
	return ds, nil
}

func direntOf(n Node) Dirent {
	return Dirent{
		Fileno: n.Ino(),
		Type:   n.Type(),
		Rwx:    n.Rwx(),
		Name:   n.Name(),
	}
}
