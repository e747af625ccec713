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
	"bytes"
	"errors"
	"fmt"
)

// Validation failures. Validate wraps these with a message naming
// the parties involved; use errors.Is to classify.
var (
	ErrTruncatedHeader   = errors.New("truncated header")
	ErrBadMagic          = errors.New("bad magic")
	ErrStatenessMismatch = errors.New("stateness mismatch")
	ErrVersionMismatch   = errors.New("version mismatch")
	ErrEmptyPayload      = errors.New("empty payload")
	ErrUnknownCastness   = errors.New("unknown castness")
)

// Validate checks the header at the start of b against the local
// build: length, magic, stateness and version, in that order. sender
// and receiver only feed the error message.
func Validate(b []byte, sender, receiver string) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: message from the %s is smaller than the header (%d < %d bytes)",
			ErrTruncatedHeader, sender, len(b), HeaderSize)
	}

	h, err := ParseHeader(b)
	if err != nil {
		return Header{}, err
	}

	if !bytes.Equal(h.Magic[:], Magic[:]) {
		return h, fmt.Errorf("%w: the %s sent a message that lacks the %q magic text",
			ErrBadMagic, sender, string(Magic[:]))
	}

	switch h.Stateness {
	case LocalStateness:
	case Stateless:
		return h, fmt.Errorf("%w: the %s is %s but the %s is %s, please match us correctly",
			ErrStatenessMismatch, sender, h.Stateness, receiver, LocalStateness)
	default:
		return h, fmt.Errorf("%w: the %s sent a message with an unknown stateness %q",
			ErrStatenessMismatch, sender, byte(h.Stateness))
	}

	if h.Version != LocalVersion {
		behind := receiver
		if h.Version.Uint32() < LocalVersion.Uint32() {
			behind = sender
		}
		return h, fmt.Errorf("%w: the %s's version is %s but the %s is %s, please update the %s",
			ErrVersionMismatch, sender, h.Version, receiver, LocalVersion, behind)
	}

	return h, nil
}
