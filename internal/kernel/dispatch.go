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

package kernel

import (
	"errors"
	"fmt"

	"github.com/mdlayher/netlink"

	"github.com/weihaitong/Jool/internal/logging"
	"github.com/weihaitong/Jool/internal/protocol"
)

// dispatch handles one message from the module. Nothing here is
// fatal: a bad message is logged and dropped.
func (c *Channel) dispatch(m netlink.Message, fwd Forwarder) {
	logging.Debug(c.logger, "op", "dispatch", "bytes", len(m.Data), "msg", "received a packet from kernelspace")

	if m.Header.Type != netlink.HeaderType(c.family.ID) {
		logging.Debug(c.logger, "op", "dispatch", "type", m.Header.Type, "msg", "ignoring message from another family")
		return
	}
	messagesReceived.Inc()

	data, err := extractData(m)
	if err != nil {
		messagesDropped.WithLabelValues(dropReason(err)).Inc()
		logging.Error(c.logger, "op", "dispatch", "error", err, "msg", "dropping request from kernelspace")
		return
	}

	hdr, err := protocol.Validate(data, "kernel module", "joold daemon")
	if err != nil {
		messagesDropped.WithLabelValues(dropReason(err)).Inc()
		logging.Error(c.logger, "op", "dispatch", "error", err, "msg", "dropping request from kernelspace")
		return
	}

	switch hdr.Castness {
	case protocol.Multicast:
		fwd.Send(data)
		sessionsForwarded.Inc()
		c.SendAck()

	case protocol.Unicast:
		resp, err := protocol.ParseResponse(data)
		if err != nil {
			responses.WithLabelValues("error").Inc()
			logging.Error(c.logger, "op", "dispatch", "mode", resp.Header.Mode, "operation", resp.Header.Operation, "error", err, "msg", "the kernel module reported an error")
			return
		}
		responses.WithLabelValues("success").Inc()
		logging.Debug(c.logger, "op", "dispatch", "mode", resp.Header.Mode, "operation", resp.Header.Operation, "bytes", len(resp.Payload), "msg", "the kernel module accepted the request")

	default:
		err := fmt.Errorf("%w: %q", protocol.ErrUnknownCastness, byte(hdr.Castness))
		messagesDropped.WithLabelValues(dropReason(err)).Inc()
		logging.Error(c.logger, "op", "dispatch", "error", err, "msg", "packet sent by the module has unknown castness")
	}
}

// extractData returns the DATA attribute of a generic netlink
// message.
func extractData(m netlink.Message) ([]byte, error) {
	if len(m.Data) < genlHeaderLen {
		return nil, fmt.Errorf("%w: message is shorter than a generic netlink header", protocol.ErrEmptyPayload)
	}

	ad, err := netlink.NewAttributeDecoder(m.Data[genlHeaderLen:])
	if err != nil {
		return nil, fmt.Errorf("parsing attributes: %w", err)
	}

	var data []byte
	found := false
	for ad.Next() {
		if ad.Type() == attrData {
			data = ad.Bytes()
			found = true
		}
	}
	if err := ad.Err(); err != nil {
		return nil, fmt.Errorf("parsing attributes: %w", err)
	}

	if !found {
		return nil, fmt.Errorf("%w: the request from kernelspace lacks a DATA attribute", protocol.ErrEmptyPayload)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: the request from kernelspace has zero bytes", protocol.ErrEmptyPayload)
	}
	return data, nil
}

func dropReason(err error) string {
	for _, r := range []struct {
		err    error
		reason string
	}{
		{protocol.ErrEmptyPayload, "empty_payload"},
		{protocol.ErrTruncatedHeader, "truncated_header"},
		{protocol.ErrBadMagic, "bad_magic"},
		{protocol.ErrStatenessMismatch, "stateness_mismatch"},
		{protocol.ErrVersionMismatch, "version_mismatch"},
		{protocol.ErrUnknownCastness, "unknown_castness"},
	} {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return "malformed"
}
