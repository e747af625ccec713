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
	"encoding/binary"
	"fmt"
)

// Response is a unicast answer from the kernel module to a request
// this daemon sent earlier.
type Response struct {
	Header  Header
	Payload []byte
}

// ResponseError is the error a kernel module reports in a unicast
// response.
type ResponseError struct {
	Code    uint16
	Message string
}

func (e *ResponseError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("kernel module error %d", e.Code)
	}
	return fmt.Sprintf("kernel module error %d: %s", e.Code, e.Message)
}

// ParseResponse splits a unicast message into header and payload. If
// the header is flagged as an error the returned error is a
// *ResponseError carrying what the module said.
func ParseResponse(b []byte) (Response, error) {
	h, err := ParseHeader(b)
	if err != nil {
		return Response{}, err
	}
	r := Response{Header: h, Payload: b[HeaderSize:]}

	if h.Flags&FlagError == 0 {
		return r, nil
	}

	if len(r.Payload) < 2 {
		return r, fmt.Errorf("%w: error response lacks an error code", ErrTruncatedHeader)
	}
	msg := r.Payload[2:]
	if i := bytes.IndexByte(msg, 0); i >= 0 {
		msg = msg[:i]
	}
	return r, &ResponseError{
		Code:    binary.BigEndian.Uint16(r.Payload[0:2]),
		Message: string(msg),
	}
}
