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

// Package peer relays session data between daemons. The payloads are
// opaque here; whatever framing exists belongs to the transport.
package peer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/go-kit/kit/log"
	"golang.org/x/sys/unix"

	"github.com/weihaitong/Jool/internal/config"
	"github.com/weihaitong/Jool/internal/logging"
)

var (
	// ErrNotSetUp is returned by Listen when Setup didn't succeed.
	ErrNotSetUp = errors.New("peer channel is not set up")
	// ErrClosed is returned by Listen when the transport was closed
	// by someone other than Teardown.
	ErrClosed = errors.New("peer transport closed")
)

// transport is one way of reaching the other daemons.
type transport interface {
	open() error
	// receive blocks until a payload arrives, interrupt is called or
	// the transport is closed.
	receive() ([]byte, error)
	send(b []byte) error
	interrupt()
	close() error
	String() string
}

// Sink receives what peers relayed to us. The kernel channel is the
// real one.
type Sink interface {
	Send(b []byte)
}

// Channel is the daemon's end of the peer transport.
type Channel struct {
	args   []string
	logger log.Logger

	newTransport func(cfg *config.Peer, logger log.Logger) (transport, error)

	tr       transport
	closed   chan struct{}
	teardown sync.Once
}

// New returns a Channel that is ready to be Setup. args are the
// process arguments; the first one, if any, is the path of the peer
// configuration file.
func New(args []string, logger log.Logger) *Channel {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Channel{
		args:         args,
		logger:       log.With(logger, "component", "peer"),
		newTransport: newTransport,
		closed:       make(chan struct{}),
	}
}

func newTransport(cfg *config.Peer, logger log.Logger) (transport, error) {
	switch cfg.Transport {
	case config.Multicast:
		return newMulticast(cfg.Multicast, logger), nil
	case config.Gossip:
		return newGossip(cfg.Gossip, logger), nil
	}
	return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
}

// Setup loads the configuration and opens the transport.
func (c *Channel) Setup() error {
	path := ""
	if len(c.args) > 0 {
		path = c.args[0]
	}
	if len(c.args) > 1 {
		logging.Warn(c.logger, "op", "setup", "ignored", c.args[1:], "msg", "ignoring extra arguments")
	}

	cfg, err := config.Load(path)
	if err != nil {
		logging.Error(c.logger, "op", "setup", "path", path, "error", err, "msg", "can't load the peer configuration")
		return fmt.Errorf("%w: %v", unix.EINVAL, err)
	}

	tr, err := c.newTransport(cfg, c.logger)
	if err != nil {
		return err
	}
	if err := tr.open(); err != nil {
		logging.Error(c.logger, "op", "setup", "transport", tr, "error", err, "msg", "can't open the peer transport")
		return fmt.Errorf("opening %s transport: %w", cfg.Transport, err)
	}

	c.tr = tr
	logging.Info(c.logger, "op", "setup", "transport", tr, "msg", "peer transport ready")
	return nil
}

// Teardown closes the transport. Safe to call more than once; a
// pending Listen returns.
func (c *Channel) Teardown() {
	c.teardown.Do(func() {
		close(c.closed)
		if c.tr == nil {
			return
		}
		if err := c.tr.close(); err != nil {
			logging.Error(c.logger, "op", "teardown", "error", err, "msg", "closing the peer transport")
			return
		}
		logging.Info(c.logger, "op", "teardown", "msg", "peer transport closed")
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

// Send relays b to the other daemons. Best effort: failures are
// logged and counted.
func (c *Channel) Send(b []byte) {
	if c.tr == nil {
		sendErrors.Inc()
		logging.Error(c.logger, "op", "send", "error", ErrNotSetUp)
		return
	}
	if err := c.tr.send(b); err != nil {
		sendErrors.Inc()
		logging.Error(c.logger, "op", "send", "bytes", len(b), "error", err, "msg", "relaying to peers")
		return
	}
	packetsSent.Inc()
	logging.Debug(c.logger, "op", "send", "bytes", len(b))
}

// Listen hands everything peers send to sink until ctx is done or the
// transport is closed. Receive errors are logged and retried.
func (c *Channel) Listen(ctx context.Context, sink Sink) error {
	if c.tr == nil {
		return ErrNotSetUp
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			c.tr.interrupt()
		case <-done:
		}
	}()

	logging.Info(c.logger, "op", "listen", "transport", c.tr, "msg", "listening to peers")
	for ctx.Err() == nil {
		b, err := c.tr.receive()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if c.tornDown() {
				logging.Info(c.logger, "op", "listen", "msg", "transport torn down, stopping")
				return nil
			}
			if isClosed(err) {
				logging.Error(c.logger, "op", "listen", "error", err, "msg", "transport closed under us")
				return fmt.Errorf("%w: %v", ErrClosed, err)
			}
			receiveErrors.Inc()
			logging.Error(c.logger, "op", "listen", "error", err, "msg", "error receiving from peers")
			continue
		}

		packetsReceived.Inc()
		logging.Debug(c.logger, "op", "listen", "bytes", len(b), "msg", "received a packet from a peer")
		sink.Send(b)
	}

	logging.Info(c.logger, "op", "listen", "msg", "cancelled, stopping")
	return nil
}

func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrClosed) || errors.Is(err, unix.EBADF)
}
