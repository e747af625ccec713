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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validMessage(payload ...byte) []byte {
	h := NewHeader(ModeJoold, OpAdd)
	h.Castness = Multicast
	return append(h.Marshal(), payload...)
}

func TestValidateAcceptsLocalHeader(t *testing.T) {
	h, err := Validate(validMessage(1, 2, 3), "kernel module", "daemon")
	require.NoError(t, err)
	assert.Equal(t, Multicast, h.Castness)
	assert.Equal(t, ModeJoold, h.Mode)
	assert.Equal(t, OpAdd, h.Operation)
	assert.Equal(t, LocalVersion, h.Version)
}

func TestValidateTruncated(t *testing.T) {
	msg := validMessage()
	for n := 0; n < HeaderSize; n++ {
		_, err := Validate(msg[:n], "kernel module", "daemon")
		assert.True(t, errors.Is(err, ErrTruncatedHeader), "length %d", n)
	}
}

func TestValidateBadMagic(t *testing.T) {
	msg := validMessage()
	copy(msg[0:4], "looj")

	_, err := Validate(msg, "kernel module", "daemon")
	assert.True(t, errors.Is(err, ErrBadMagic))
	assert.Contains(t, err.Error(), "kernel module")
}

func TestValidateStateness(t *testing.T) {
	msg := validMessage()
	msg[4] = byte(Stateless)

	_, err := Validate(msg, "joold peer", "local joold")
	require.True(t, errors.Is(err, ErrStatenessMismatch))
	assert.Contains(t, err.Error(), "joold peer is SIIT")
	assert.Contains(t, err.Error(), "local joold is NAT64")

	msg[4] = 'x'
	_, err = Validate(msg, "joold peer", "local joold")
	require.True(t, errors.Is(err, ErrStatenessMismatch))
	assert.Contains(t, err.Error(), "unknown stateness")
}

func TestValidateVersionMismatch(t *testing.T) {
	older := NewHeader(ModeJoold, OpAck)
	older.Version = Version{Major: 4}

	_, err := Validate(older.Marshal(), "kernel module", "joold daemon")
	require.True(t, errors.Is(err, ErrVersionMismatch))
	assert.Contains(t, err.Error(), "4.0.0.0")
	assert.Contains(t, err.Error(), LocalVersion.String())
	assert.Contains(t, err.Error(), "please update the kernel module")

	newer := NewHeader(ModeJoold, OpAck)
	newer.Version = Version{Major: 5}

	_, err = Validate(newer.Marshal(), "kernel module", "joold daemon")
	require.True(t, errors.Is(err, ErrVersionMismatch))
	assert.Contains(t, err.Error(), "please update the joold daemon")
}

// TestValidateOrder checks that the first failing check wins.
func TestValidateOrder(t *testing.T) {
	msg := validMessage()
	copy(msg[0:4], "looj")
	msg[4] = byte(Stateless)
	msg[8] = 9

	_, err := Validate(msg, "a", "b")
	assert.True(t, errors.Is(err, ErrBadMagic))

	copy(msg[0:4], "jool")
	_, err = Validate(msg, "a", "b")
	assert.True(t, errors.Is(err, ErrStatenessMismatch))

	msg[4] = byte(Stateful)
	_, err = Validate(msg, "a", "b")
	assert.True(t, errors.Is(err, ErrVersionMismatch))
}

// TestValidateIff flips single header bytes and checks that the
// message is accepted only while magic, stateness and version are
// intact.
func TestValidateIff(t *testing.T) {
	base := validMessage(0xaa, 0xbb)

	for i := 0; i < len(base); i++ {
		msg := append([]byte(nil), base...)
		msg[i] ^= 0xff

		_, err := Validate(msg, "a", "b")
		contract := i < 5 || (i >= 8 && i < 12)
		if contract {
			assert.Error(t, err, "byte %d", i)
		} else {
			assert.NoError(t, err, "byte %d", i)
		}
	}
}

func TestValidateDoesNotMutate(t *testing.T) {
	msg := validMessage(7, 8, 9)
	orig := append([]byte(nil), msg...)

	_, _ = Validate(msg, "a", "b")
	assert.Equal(t, orig, msg)
}
