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
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/mdlayher/netlink"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weihaitong/Jool/internal/protocol"
)

var testFamily = Family{ID: 0x1e, Version: 2, Group: 7}

// fakeConn stands in for the generic netlink socket. Receive blocks
// until a message or error is queued, a read deadline is set or the
// conn is closed.
type fakeConn struct {
	mu      sync.Mutex
	sent    []netlink.Message
	joined  []uint32
	joinErr error
	sendErr error
	closes  int

	inbox     chan []netlink.Message
	errs      chan error
	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbox: make(chan []netlink.Message, 16),
		errs:  make(chan error, 16),
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

func (f *fakeConn) Send(m netlink.Message) (netlink.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return netlink.Message{}, f.sendErr
	}
	f.sent = append(f.sent, m)
	return m, nil
}

func (f *fakeConn) Receive() ([]netlink.Message, error) {
	select {
	case msgs := <-f.inbox:
		return msgs, nil
	case err := <-f.errs:
		return nil, err
	case <-f.wake:
		return nil, os.ErrDeadlineExceeded
	case <-f.done:
		return nil, net.ErrClosed
	}
}

func (f *fakeConn) JoinGroup(group uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.joinErr != nil {
		return f.joinErr
	}
	f.joined = append(f.joined, group)
	return nil
}

func (f *fakeConn) SetReadDeadline(t time.Time) error {
	select {
	case f.wake <- struct{}{}:
	default:
	}
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.done) })
	return nil
}

func (f *fakeConn) sentMessages() []netlink.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]netlink.Message(nil), f.sent...)
}

func (f *fakeConn) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

// forwarder records what the kernel channel hands to the peers.
type forwarder struct {
	mu   sync.Mutex
	sent [][]byte
}

func (f *forwarder) Send(b []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, append([]byte(nil), b...))
}

func (f *forwarder) payloads() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent...)
}

// recorder is a go-kit logger that keeps every record.
type recorder struct {
	mu      sync.Mutex
	records []map[string]interface{}
}

func (r *recorder) Log(keyvals ...interface{}) error {
	rec := map[string]interface{}{}
	for i := 0; i+1 < len(keyvals); i += 2 {
		rec[fmt.Sprint(keyvals[i])] = keyvals[i+1]
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *recorder) errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for _, rec := range r.records {
		if fmt.Sprint(rec["level"]) != "error" {
			continue
		}
		err, _ := rec["error"].(error)
		errs = append(errs, err)
	}
	return errs
}

func newTestChannel(t *testing.T) (*Channel, *fakeConn, *recorder) {
	t.Helper()
	conn := newFakeConn()
	rec := &recorder{}
	c := New(Config{
		Logger: rec,
		Dial:   func() (Conn, error) { return conn, nil },
		Resolve: func(family, group string) (Family, error) {
			return testFamily, nil
		},
	})
	require.NoError(t, c.Setup())
	return c, conn, rec
}

// kernelMessage builds what the module would send: a generic netlink
// message with b in its DATA attribute.
func kernelMessage(t *testing.T, b []byte) netlink.Message {
	t.Helper()
	ae := netlink.NewAttributeEncoder()
	ae.Bytes(attrData, b)
	attrs, err := ae.Encode()
	require.NoError(t, err)
	return netlink.Message{
		Header: netlink.Header{Type: netlink.HeaderType(testFamily.ID)},
		Data:   append([]byte{genlCommand, testFamily.Version, 0, 0}, attrs...),
	}
}

func sessionMessage(castness protocol.Castness, payload ...byte) []byte {
	h := protocol.NewHeader(protocol.ModeJoold, protocol.OpAdd)
	h.Castness = castness
	return append(h.Marshal(), payload...)
}

func TestSetupJoinsGroup(t *testing.T) {
	var gotFamily, gotGroup string
	conn := newFakeConn()
	c := New(Config{
		Dial: func() (Conn, error) { return conn, nil },
		Resolve: func(family, group string) (Family, error) {
			gotFamily, gotGroup = family, group
			return testFamily, nil
		},
	})

	require.NoError(t, c.Setup())
	assert.Equal(t, DefaultFamily, gotFamily)
	assert.Equal(t, DefaultGroup, gotGroup)
	assert.Equal(t, []uint32{testFamily.Group}, conn.joined)
	assert.Equal(t, 0, conn.closeCount())
}

func TestSetupRollback(t *testing.T) {
	t.Run("dial fails", func(t *testing.T) {
		c := New(Config{
			Dial: func() (Conn, error) { return nil, errors.New("no netlink here") },
		})
		assert.Error(t, c.Setup())
	})

	t.Run("resolve fails", func(t *testing.T) {
		conn := newFakeConn()
		c := New(Config{
			Dial: func() (Conn, error) { return conn, nil },
			Resolve: func(family, group string) (Family, error) {
				return Family{}, errors.New("module not loaded")
			},
		})
		assert.Error(t, c.Setup())
		assert.Equal(t, 1, conn.closeCount())
	})

	t.Run("join fails", func(t *testing.T) {
		conn := newFakeConn()
		conn.joinErr = errors.New("permission denied")
		c := New(Config{
			Dial: func() (Conn, error) { return conn, nil },
			Resolve: func(family, group string) (Family, error) {
				return testFamily, nil
			},
		})
		assert.Error(t, c.Setup())
		assert.Equal(t, 1, conn.closeCount())
	})
}

func TestDispatchMulticast(t *testing.T) {
	c, conn, _ := newTestChannel(t)
	fwd := &forwarder{}

	data := sessionMessage(protocol.Multicast, 1, 2, 3, 4, 5)
	c.dispatch(kernelMessage(t, data), fwd)

	require.Len(t, fwd.payloads(), 1)
	assert.Equal(t, data, fwd.payloads()[0])

	sent := conn.sentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, netlink.HeaderType(testFamily.ID), sent[0].Header.Type)

	ack, err := extractData(sent[0])
	require.NoError(t, err)
	hdr, err := protocol.ParseHeader(ack)
	require.NoError(t, err)
	assert.Len(t, ack, protocol.HeaderSize)
	assert.Equal(t, protocol.ModeJoold, hdr.Mode)
	assert.Equal(t, protocol.OpAck, hdr.Operation)
}

func TestDispatchUnicast(t *testing.T) {
	c, conn, rec := newTestChannel(t)
	fwd := &forwarder{}

	c.dispatch(kernelMessage(t, sessionMessage(protocol.Unicast)), fwd)
	assert.Empty(t, fwd.payloads())
	assert.Empty(t, conn.sentMessages())
	assert.Empty(t, rec.errors())

	// A failed request is still only logged.
	h := protocol.NewHeader(protocol.ModeJoold, protocol.OpTest)
	h.Flags = protocol.FlagError
	failed := append(h.Marshal(), 0, 1)
	failed = append(failed, "nope"...)
	c.dispatch(kernelMessage(t, failed), fwd)

	assert.Empty(t, fwd.payloads())
	assert.Empty(t, conn.sentMessages())
	errs := rec.errors()
	require.Len(t, errs, 1)
	var rerr *protocol.ResponseError
	require.True(t, errors.As(errs[0], &rerr))
	assert.Equal(t, "nope", rerr.Message)
}

func TestDispatchUnknownCastness(t *testing.T) {
	c, conn, rec := newTestChannel(t)
	fwd := &forwarder{}

	c.dispatch(kernelMessage(t, sessionMessage('x', 9, 9)), fwd)

	assert.Empty(t, fwd.payloads())
	assert.Empty(t, conn.sentMessages())
	errs := rec.errors()
	require.Len(t, errs, 1)
	assert.True(t, errors.Is(errs[0], protocol.ErrUnknownCastness))
}

func TestDispatchEmptyPayload(t *testing.T) {
	c, conn, rec := newTestChannel(t)
	fwd := &forwarder{}

	// Zero bytes never reach the validator, which would have called
	// them a truncated header.
	c.dispatch(kernelMessage(t, []byte{}), fwd)

	// No DATA attribute at all.
	c.dispatch(netlink.Message{
		Header: netlink.Header{Type: netlink.HeaderType(testFamily.ID)},
		Data:   []byte{genlCommand, testFamily.Version, 0, 0},
	}, fwd)

	assert.Empty(t, fwd.payloads())
	assert.Empty(t, conn.sentMessages())
	errs := rec.errors()
	require.Len(t, errs, 2)
	for _, err := range errs {
		assert.True(t, errors.Is(err, protocol.ErrEmptyPayload))
		assert.False(t, errors.Is(err, protocol.ErrTruncatedHeader))
	}
}

func TestDispatchInvalid(t *testing.T) {
	c, conn, rec := newTestChannel(t)
	fwd := &forwarder{}

	bad := sessionMessage(protocol.Multicast, 1)
	copy(bad, "looj")
	c.dispatch(kernelMessage(t, bad), fwd)

	stateless := sessionMessage(protocol.Multicast, 1)
	stateless[4] = byte(protocol.Stateless)
	c.dispatch(kernelMessage(t, stateless), fwd)

	c.dispatch(kernelMessage(t, []byte{'j', 'o'}), fwd)

	assert.Empty(t, fwd.payloads())
	assert.Empty(t, conn.sentMessages())
	errs := rec.errors()
	require.Len(t, errs, 3)
	assert.True(t, errors.Is(errs[0], protocol.ErrBadMagic))
	assert.True(t, errors.Is(errs[1], protocol.ErrStatenessMismatch))
	assert.True(t, errors.Is(errs[2], protocol.ErrTruncatedHeader))
}

func TestDispatchIgnoresOtherFamilies(t *testing.T) {
	c, conn, rec := newTestChannel(t)
	fwd := &forwarder{}

	m := kernelMessage(t, sessionMessage(protocol.Multicast, 1))
	m.Header.Type = netlink.Error
	c.dispatch(m, fwd)

	assert.Empty(t, fwd.payloads())
	assert.Empty(t, conn.sentMessages())
	assert.Empty(t, rec.errors())
}

func TestSend(t *testing.T) {
	c, conn, rec := newTestChannel(t)

	good := sessionMessage(protocol.Multicast, 4, 2)
	c.Send(good)

	old := protocol.NewHeader(protocol.ModeJoold, protocol.OpAdd)
	old.Version = protocol.Version{Major: 4}
	c.Send(old.Marshal())

	sent := conn.sentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, netlink.Request, sent[0].Header.Flags)
	assert.Equal(t, byte(genlCommand), sent[0].Data[0])
	assert.Equal(t, testFamily.Version, sent[0].Data[1])

	data, err := extractData(sent[0])
	require.NoError(t, err)
	assert.Equal(t, good, data)

	errs := rec.errors()
	require.Len(t, errs, 1)
	assert.True(t, errors.Is(errs[0], protocol.ErrVersionMismatch))
}

func TestSendBeforeSetup(t *testing.T) {
	rec := &recorder{}
	c := New(Config{Logger: rec})
	c.Send(sessionMessage(protocol.Multicast, 1))

	errs := rec.errors()
	require.Len(t, errs, 1)
	assert.True(t, errors.Is(errs[0], ErrNotSetUp))
}

func TestAcksCountedOnlyWhenSent(t *testing.T) {
	c, conn, _ := newTestChannel(t)

	before := testutil.ToFloat64(acksSent)
	c.SendAck()
	assert.Equal(t, before+1, testutil.ToFloat64(acksSent))
	require.Len(t, conn.sentMessages(), 1)

	conn.mu.Lock()
	conn.sendErr = errors.New("no buffer space available")
	conn.mu.Unlock()
	errsBefore := testutil.ToFloat64(sendErrors)
	c.SendAck()
	assert.Equal(t, before+1, testutil.ToFloat64(acksSent))
	assert.Equal(t, errsBefore+1, testutil.ToFloat64(sendErrors))

	notSetUp := New(Config{Logger: &recorder{}})
	notSetUp.SendAck()
	assert.Equal(t, before+1, testutil.ToFloat64(acksSent))
}

func listen(c *Channel, ctx context.Context, fwd Forwarder) chan error {
	res := make(chan error, 1)
	go func() { res <- c.Listen(ctx, fwd) }()
	return res
}

func TestListenDispatchesUntilCancelled(t *testing.T) {
	c, conn, _ := newTestChannel(t)
	fwd := &forwarder{}
	ctx, cancel := context.WithCancel(context.Background())
	res := listen(c, ctx, fwd)

	data := sessionMessage(protocol.Multicast, 7)
	conn.inbox <- []netlink.Message{kernelMessage(t, data)}
	require.Eventually(t, func() bool { return len(fwd.payloads()) == 1 }, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-res:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Listen did not honor cancellation")
	}
	assert.Equal(t, 0, conn.closeCount())
}

func TestListenRetriesReceiveErrors(t *testing.T) {
	c, conn, rec := newTestChannel(t)
	fwd := &forwarder{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	res := listen(c, ctx, fwd)

	conn.errs <- errors.New("no buffer space available")
	conn.errs <- errors.New("no buffer space available")
	require.Eventually(t, func() bool { return len(rec.errors()) == 2 }, time.Second, time.Millisecond)

	conn.inbox <- []netlink.Message{kernelMessage(t, sessionMessage(protocol.Multicast, 1))}
	require.Eventually(t, func() bool { return len(fwd.payloads()) == 1 }, time.Second, time.Millisecond)

	cancel()
	assert.NoError(t, <-res)
}

func TestListenStopsOnTeardown(t *testing.T) {
	c, conn, _ := newTestChannel(t)
	res := listen(c, context.Background(), &forwarder{})

	c.Teardown()
	c.Teardown()

	select {
	case err := <-res:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Listen kept running after teardown")
	}
	assert.Equal(t, 1, conn.closeCount())
}

func TestListenReportsForeignClose(t *testing.T) {
	c, conn, _ := newTestChannel(t)
	res := listen(c, context.Background(), &forwarder{})

	conn.Close()

	select {
	case err := <-res:
		assert.True(t, errors.Is(err, ErrClosed))
	case <-time.After(time.Second):
		t.Fatal("Listen kept running on a closed socket")
	}
}

func TestListenNotSetUp(t *testing.T) {
	c := New(Config{})
	assert.True(t, errors.Is(c.Listen(context.Background(), &forwarder{}), ErrNotSetUp))
}
