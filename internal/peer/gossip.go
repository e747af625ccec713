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

package peer

import (
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/google/uuid"
	"github.com/hashicorp/memberlist"

	"github.com/weihaitong/Jool/internal/config"
	"github.com/weihaitong/Jool/internal/logging"
)

// gossip relays sessions to the members of a memberlist cluster.
// Small payloads go out as best-effort UDP, the rest over the
// member's TCP stream.
type gossip struct {
	cfg    config.GossipConfig
	logger log.Logger

	mlist   *memberlist.Memberlist
	udpSize int

	msgs      chan []byte
	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newGossip(cfg config.GossipConfig, logger log.Logger) *gossip {
	if cfg.QueueSize < 1 {
		cfg.QueueSize = config.DefaultQueueSize
	}
	return &gossip{
		cfg:    cfg,
		logger: log.With(logger, "transport", "gossip"),
		msgs:   make(chan []byte, cfg.QueueSize),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (g *gossip) String() string {
	return fmt.Sprintf("gossip %s:%d", g.cfg.BindAddr, g.cfg.BindPort)
}

func nodeName(configured string) string {
	if configured != "" {
		return configured
	}
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "joold-" + uuid.New().String()
}

func (g *gossip) open() error {
	mconfig := memberlist.DefaultLANConfig()
	mconfig.Name = nodeName(g.cfg.NodeName)
	mconfig.BindAddr = g.cfg.BindAddr
	mconfig.BindPort = g.cfg.BindPort
	mconfig.AdvertisePort = g.cfg.BindPort
	if g.cfg.SecretKey != "" {
		mconfig.SecretKey = []byte(g.cfg.SecretKey)
	}
	mconfig.Delegate = g
	mconfig.Events = &memberEvents{logger: g.logger}
	mconfig.Logger = logging.StdLogger(g.logger, "memberlist")

	mlist, err := memberlist.Create(mconfig)
	if err != nil {
		return err
	}
	g.mlist = mlist
	g.udpSize = mconfig.UDPBufferSize

	if len(g.cfg.Peers) > 0 {
		// The first daemon up has nobody to join yet; the others will
		// join it.
		n, err := mlist.Join(g.cfg.Peers)
		logging.Info(g.logger, "op", "setup", "msg", "memberlist join", "joined", n, "error", err)
	}
	memberCount.Set(float64(mlist.NumMembers()))
	logging.Info(g.logger, "op", "setup", "node", mconfig.Name, "port", mlist.LocalNode().Port, "msg", "gossip transport up")
	return nil
}

func (g *gossip) send(b []byte) error {
	local := g.mlist.LocalNode().Name
	var firstErr error
	for _, n := range g.mlist.Members() {
		if n.Name == local {
			continue
		}
		var err error
		if len(b) <= g.udpSize {
			err = g.mlist.SendBestEffort(n, b)
		} else {
			err = g.mlist.SendReliable(n, b)
		}
		if err != nil {
			logging.Debug(g.logger, "op", "send", "node", n.Name, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("sending to %s: %w", n.Name, err)
			}
		}
	}
	return firstErr
}

func (g *gossip) receive() ([]byte, error) {
	select {
	case b := <-g.msgs:
		return b, nil
	case <-g.wake:
		return nil, os.ErrDeadlineExceeded
	case <-g.done:
		return nil, net.ErrClosed
	}
}

func (g *gossip) interrupt() {
	select {
	case g.wake <- struct{}{}:
	default:
	}
}

func (g *gossip) close() error {
	var err error
	g.closeOnce.Do(func() {
		close(g.done)
		timeout := time.Duration(g.cfg.LeaveTimeout)
		if timeout <= 0 {
			timeout = config.DefaultLeaveTimeout
		}
		err = g.mlist.Leave(timeout)
		g.mlist.Shutdown()
		logging.Info(g.logger, "op", "shutdown", "msg", "memberlist shut down", "error", err)
	})
	return err
}

// NodeMeta implements memberlist.Delegate.
func (g *gossip) NodeMeta(limit int) []byte {
	return nil
}

// NotifyMsg implements memberlist.Delegate. memberlist reuses b, so
// it is copied before it is queued.
func (g *gossip) NotifyMsg(b []byte) {
	if len(b) == 0 {
		return
	}
	msg := append([]byte(nil), b...)
	select {
	case g.msgs <- msg:
	case <-g.done:
	default:
		gossipDropped.Inc()
		logging.Warn(g.logger, "op", "receive", "bytes", len(b), "msg", "receive queue full, dropping message")
	}
}

// GetBroadcasts implements memberlist.Delegate. Sessions are sent
// directly, never piggybacked on gossip.
func (g *gossip) GetBroadcasts(overhead, limit int) [][]byte {
	return nil
}

// LocalState implements memberlist.Delegate. Session state lives in
// the kernel, there's nothing to push or pull.
func (g *gossip) LocalState(join bool) []byte {
	return nil
}

// MergeRemoteState implements memberlist.Delegate.
func (g *gossip) MergeRemoteState(buf []byte, join bool) {}

// memberEvents logs cluster membership changes.
type memberEvents struct {
	logger log.Logger
	mu     sync.Mutex
	count  int
}

func (e *memberEvents) changed(delta int, ev string, n *memberlist.Node) {
	e.mu.Lock()
	e.count += delta
	count := e.count
	e.mu.Unlock()
	memberCount.Set(float64(count))
	logging.Info(e.logger, "msg", "Node event", "node addr", n.Addr, "node name", n.Name, "node event", ev, "members", count)
}

func (e *memberEvents) NotifyJoin(n *memberlist.Node) {
	e.changed(1, "NodeJoin", n)
}

func (e *memberEvents) NotifyLeave(n *memberlist.Node) {
	e.changed(-1, "NodeLeave", n)
}

func (e *memberEvents) NotifyUpdate(n *memberlist.Node) {
	e.changed(0, "NodeUpdate", n)
}
