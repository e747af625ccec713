// Copyright 2026 Acnodal Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package protocol

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the length of the fixed header that prefixes every
// message exchanged with the kernel module and between daemons.
const HeaderSize = 16

// Magic identifies the protocol. Anything else is a stranger.
var Magic = [4]byte{'j', 'o', 'o', 'l'}

// Stateness tells whether the translator build is stateless (SIIT)
// or stateful (NAT64).
type Stateness byte

const (
	Stateless Stateness = 's'
	Stateful  Stateness = 'n'
)

// LocalStateness is the only stateness this daemon talks to.
const LocalStateness = Stateful

func (s Stateness) String() string {
	switch s {
	case Stateless:
		return "SIIT"
	case Stateful:
		return "NAT64"
	}
	return fmt.Sprintf("unknown(%q)", byte(s))
}

// Castness tells whether a kernel message carries sessions for every
// peer (multicast) or answers a request we sent (unicast).
type Castness byte

const (
	Multicast Castness = 'm'
	Unicast   Castness = 'u'
)

// Mode is the coarse category of a message.
type Mode uint16

const (
	ModeInstance  Mode = 1 << 0
	ModeAddress   Mode = 1 << 1
	ModeStats     Mode = 1 << 2
	ModeGlobal    Mode = 1 << 3
	ModePool6     Mode = 1 << 4
	ModePool4     Mode = 1 << 5
	ModeBlacklist Mode = 1 << 6
	ModeEAMT      Mode = 1 << 7
	ModeSession   Mode = 1 << 8
	ModeBIB       Mode = 1 << 9
	ModeJoold     Mode = 1 << 10
)

// Operation is what the message asks for within its Mode.
type Operation uint16

const (
	OpForeach   Operation = 1 << 0
	OpAdd       Operation = 1 << 1
	OpUpdate    Operation = 1 << 2
	OpRemove    Operation = 1 << 3
	OpFlush     Operation = 1 << 4
	OpAdvertise Operation = 1 << 5
	OpTest      Operation = 1 << 6
	OpAck       Operation = 1 << 7
)

// FlagError marks a unicast response whose payload is an error report.
const FlagError uint8 = 1 << 0

// Header is the decoded form of the fixed request header.
//
// Wire layout, multi-byte fields big-endian:
//
//	0  magic[4]
//	4  stateness
//	5  castness
//	6  flags
//	7  reserved
//	8  version (major<<24 | minor<<16 | rev<<8 | dev)
//	12 mode
//	14 operation
type Header struct {
	Magic     [4]byte
	Stateness Stateness
	Castness  Castness
	Flags     uint8
	Version   Version
	Mode      Mode
	Operation Operation
}

// NewHeader returns a header stamped with the local magic, stateness
// and version. Castness defaults to unicast, which is what every
// daemon-originated request is.
func NewHeader(mode Mode, op Operation) Header {
	return Header{
		Magic:     Magic,
		Stateness: LocalStateness,
		Castness:  Unicast,
		Version:   LocalVersion,
		Mode:      mode,
		Operation: op,
	}
}

// Marshal encodes h into a fresh HeaderSize byte slice.
func (h Header) Marshal() []byte {
	b := make([]byte, HeaderSize)
	h.put(b)
	return b
}

func (h Header) put(b []byte) {
	copy(b[0:4], h.Magic[:])
	b[4] = byte(h.Stateness)
	b[5] = byte(h.Castness)
	b[6] = h.Flags
	b[7] = 0
	binary.BigEndian.PutUint32(b[8:12], h.Version.Uint32())
	binary.BigEndian.PutUint16(b[12:14], uint16(h.Mode))
	binary.BigEndian.PutUint16(b[14:16], uint16(h.Operation))
}

// ParseHeader decodes the header at the start of b. It only checks
// the length; Validate is the one that judges the contents.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes, need %d", ErrTruncatedHeader, len(b), HeaderSize)
	}

	var h Header
	copy(h.Magic[:], b[0:4])
	h.Stateness = Stateness(b[4])
	h.Castness = Castness(b[5])
	h.Flags = b[6]
	h.Version = VersionFromUint32(binary.BigEndian.Uint32(b[8:12]))
	h.Mode = Mode(binary.BigEndian.Uint16(b[12:14]))
	h.Operation = Operation(binary.BigEndian.Uint16(b[14:16]))
	return h, nil
}
