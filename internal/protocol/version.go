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

import "fmt"

// Version is a four component build version. Daemons and kernel
// modules only talk to each other when their versions are identical.
type Version struct {
	Major    uint8
	Minor    uint8
	Revision uint8
	Dev      uint8
}

// LocalVersion is the version of this build.
var LocalVersion = Version{Major: 4, Minor: 1, Revision: 6, Dev: 0}

// VersionFromUint32 unpacks the wire representation of a version.
func VersionFromUint32(v uint32) Version {
	return Version{
		Major:    uint8(v >> 24),
		Minor:    uint8(v >> 16),
		Revision: uint8(v >> 8),
		Dev:      uint8(v),
	}
}

// Uint32 packs v the way it travels on the wire.
func (v Version) Uint32() uint32 {
	return uint32(v.Major)<<24 | uint32(v.Minor)<<16 | uint32(v.Revision)<<8 | uint32(v.Dev)
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", v.Major, v.Minor, v.Revision, v.Dev)
}
