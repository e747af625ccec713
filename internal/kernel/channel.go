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
	"time"

	"github.com/go-kit/kit/log"
	"github.com/mdlayher/netlink"
	vnl "github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/weihaitong/Jool/internal/logging"
	"github.com/weihaitong/Jool/internal/protocol"
)

const (
	// DefaultFamily is the generic netlink family the module registers.
	DefaultFamily = "Jool"
	// DefaultGroup is the multicast group the module sends sessions to.
	DefaultGroup = "joold"

	// genlCommand is the generic netlink command of relay messages.
	genlCommand = 1
	// attrData carries header and payload.
	attrData = 1

	genlHeaderLen = 4
)

var (
	// ErrNotSetUp is returned by Listen when Setup didn't succeed.
	ErrNotSetUp = errors.New("kernel channel is not set up")
	// ErrClosed is returned by Listen when the socket was closed by
	// someone other than Teardown.
	ErrClosed = errors.New("kernel socket closed")
)

// Conn is the part of *netlink.Conn the channel uses.
type Conn interface {
	Send(m netlink.Message) (netlink.Message, error)
	Receive() ([]netlink.Message, error)
	JoinGroup(group uint32) error
	SetReadDeadline(t time.Time) error
	Close() error
}

// Family identifies the module's generic netlink family and the
// multicast group sessions are published to.
type Family struct {
	ID      uint16
	Version uint8
	Group   uint32
}

// Forwarder receives the session data the module multicasts. The
// peer channel is the real one.
type Forwarder interface {
	Send(b []byte)
}

// Config configures a Channel. Only Logger is needed in production;
// Dial and Resolve exist so tests don't need a kernel module.
type Config struct {
	Family string
	Group  string
	// RetryDelay is slept after a failed receive. Zero retries at
	// once.
	RetryDelay time.Duration
	Logger     log.Logger

	Dial    func() (Conn, error)
	Resolve func(family, group string) (Family, error)
}

// Channel is the daemon's end of the generic netlink socket.
type Channel struct {
	familyName string
	groupName  string
	retryDelay time.Duration
	logger     log.Logger
	dial       func() (Conn, error)
	resolve    func(family, group string) (Family, error)

	conn   Conn
	family Family

	sendMu   sync.Mutex
	closed   chan struct{}
	teardown sync.Once
}

// New returns a Channel that is ready to be Setup.
func New(cfg Config) *Channel {
	c := &Channel{
		familyName: cfg.Family,
		groupName:  cfg.Group,
		retryDelay: cfg.RetryDelay,
		logger:     cfg.Logger,
		dial:       cfg.Dial,
		resolve:    cfg.Resolve,
		closed:     make(chan struct{}),
	}
	if c.familyName == "" {
		c.familyName = DefaultFamily
	}
	if c.groupName == "" {
		c.groupName = DefaultGroup
	}
	if c.logger == nil {
		c.logger = logging.Nop()
	}
	c.logger = log.With(c.logger, "component", "kernel")
	if c.dial == nil {
		c.dial = dialGeneric
	}
	if c.resolve == nil {
		c.resolve = resolveFamily
	}
	return c
}

func dialGeneric() (Conn, error) {
	return netlink.Dial(unix.NETLINK_GENERIC, nil)
}

func resolveFamily(family, group string) (Family, error) {
	f, err := vnl.GenlFamilyGet(family)
	if err != nil {
		return Family{}, fmt.Errorf("resolving generic netlink family %q: %w", family, err)
	}
	for _, g := range f.Groups {
		if g.Name == group {
			return Family{ID: f.ID, Version: uint8(f.Version), Group: g.ID}, nil
		}
	}
	return Family{}, fmt.Errorf("generic netlink family %q has no multicast group %q: %w", family, group, unix.ENOENT)
}

// Setup opens the socket, resolves the module's family and joins its
// multicast group. On failure nothing is left open.
func (c *Channel) Setup() error {
	conn, err := c.dial()
	if err != nil {
		logging.Error(c.logger, "op", "setup", "error", err, "msg", "can't open the generic netlink socket")
		return fmt.Errorf("opening generic netlink socket: %w", err)
	}

	family, err := c.resolve(c.familyName, c.groupName)
	if err != nil {
		conn.Close()
		logging.Error(c.logger, "op", "setup", "family", c.familyName, "group", c.groupName, "error", err, "msg", "unable to resolve the netlink multicast group")
		return err
	}

	if err := conn.JoinGroup(family.Group); err != nil {
		conn.Close()
		logging.Error(c.logger, "op", "setup", "group", c.groupName, "error", err, "msg", "can't register to the netlink multicast group")
		return fmt.Errorf("joining netlink multicast group %q: %w", c.groupName, err)
	}

	c.conn = conn
	c.family = family
	logging.Info(c.logger, "op", "setup", "family", c.familyName, "family-id", family.ID, "group", c.groupName, "group-id", family.Group, "msg", "joined the kernel module's multicast group")
	return nil
}

// Teardown closes the socket. Safe to call more than once; a pending
// Listen returns.
func (c *Channel) Teardown() {
	c.teardown.Do(func() {
		close(c.closed)
		if c.conn == nil {
			return
		}
		if err := c.conn.Close(); err != nil {
			logging.Error(c.logger, "op", "teardown", "error", err, "msg", "closing the generic netlink socket")
			return
		}
		logging.Info(c.logger, "op", "teardown", "msg", "generic netlink socket closed")
	})
}

func (c *Channel) tornDown() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Send pushes a message relayed by a peer into the module. Messages
// that don't validate are dropped. Failures are logged and counted;
// the caller never learns about them.
func (c *Channel) Send(b []byte) {
	c.validateAndSend(b)
}

// SendAck tells the module that the last batch of sessions was
// relayed, so it can send the next one.
func (c *Channel) SendAck() {
	if c.validateAndSend(protocol.NewHeader(protocol.ModeJoold, protocol.OpAck).Marshal()) {
		acksSent.Inc()
	}
}

func (c *Channel) validateAndSend(b []byte) bool {
	if _, err := protocol.Validate(b, "joold peer", "local joold"); err != nil {
		messagesDropped.WithLabelValues(dropReason(err)).Inc()
		logging.Error(c.logger, "op", "send", "error", err, "msg", "dropping message from peer")
		return false
	}
	return c.send(b)
}

// send reports whether b reached the socket.
func (c *Channel) send(b []byte) bool {
	if c.conn == nil {
		sendErrors.Inc()
		logging.Error(c.logger, "op", "send", "error", ErrNotSetUp)
		return false
	}

	msg, err := c.message(b)
	if err != nil {
		sendErrors.Inc()
		logging.Error(c.logger, "op", "send", "error", err, "msg", "encoding netlink message")
		return false
	}

	c.sendMu.Lock()
	sent, err := c.conn.Send(msg)
	c.sendMu.Unlock()
	if err != nil {
		sendErrors.Inc()
		logging.Error(c.logger, "op", "send", "bytes", len(b), "error", err, "msg", "sending to the kernel module")
		return false
	}
	messagesSent.Inc()
	logging.Debug(c.logger, "op", "send", "bytes", len(b), "seq", sent.Header.Sequence)
	return true
}

// message wraps b in a generic netlink request addressed to the
// module's family.
func (c *Channel) message(b []byte) (netlink.Message, error) {
	ae := netlink.NewAttributeEncoder()
	ae.Bytes(attrData, b)
	attrs, err := ae.Encode()
	if err != nil {
		return netlink.Message{}, err
	}

	data := make([]byte, genlHeaderLen, genlHeaderLen+len(attrs))
	data[0] = genlCommand
	data[1] = c.family.Version
	data = append(data, attrs...)

	return netlink.Message{
		Header: netlink.Header{
			Type:  netlink.HeaderType(c.family.ID),
			Flags: netlink.Request,
		},
		Data: data,
	}, nil
}

// Listen receives messages from the module until ctx is done or the
// socket is closed, dispatching each one. Receive errors are logged
// and retried.
//
// Cancelling ctx sets an immediate read deadline so that the blocking
// receive returns; Listen then returns nil. It also returns nil when
// Teardown closed the socket, and ErrClosed if somebody else did.
func (c *Channel) Listen(ctx context.Context, fwd Forwarder) error {
	if c.conn == nil {
		return ErrNotSetUp
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			if err := c.conn.SetReadDeadline(time.Now()); err != nil {
				logging.Debug(c.logger, "op", "listen", "error", err, "msg", "can't interrupt receive")
			}
		case <-done:
		}
	}()

	logging.Info(c.logger, "op", "listen", "msg", "listening to the kernel module")
	for ctx.Err() == nil {
		msgs, err := c.conn.Receive()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if c.tornDown() {
				logging.Info(c.logger, "op", "listen", "msg", "socket torn down, stopping")
				return nil
			}
			if isClosed(err) {
				logging.Error(c.logger, "op", "listen", "error", err, "msg", "socket closed under us")
				return fmt.Errorf("%w: %v", ErrClosed, err)
			}

			receiveErrors.Inc()
			logging.Error(c.logger, "op", "listen", "error", err, "msg", "error receiving packet from kernelspace")
			c.pause(ctx)
			continue
		}

		for _, m := range msgs {
			c.dispatch(m, fwd)
		}
	}

	logging.Info(c.logger, "op", "listen", "msg", "cancelled, stopping")
	return nil
}

func (c *Channel) pause(ctx context.Context) {
	if c.retryDelay <= 0 {
		return
	}
	t := time.NewTimer(c.retryDelay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	case <-c.closed:
	}
}

func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrClosed) || errors.Is(err, unix.EBADF)
}
