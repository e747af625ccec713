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

package relay

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-kit/kit/log"

	"github.com/weihaitong/Jool/internal/kernel"
	"github.com/weihaitong/Jool/internal/logging"
	"github.com/weihaitong/Jool/internal/peer"
)

// DefaultCancelTimeout is how long a relay gets to honor cancellation
// before the channels are closed under it.
const DefaultCancelTimeout = 2 * time.Second

// KernelChannel is the daemon's view of *kernel.Channel.
type KernelChannel interface {
	Setup() error
	Teardown()
	Send(b []byte)
	Listen(ctx context.Context, fwd kernel.Forwarder) error
}

// PeerChannel is the daemon's view of *peer.Channel.
type PeerChannel interface {
	Setup() error
	Teardown()
	Send(b []byte)
	Listen(ctx context.Context, sink peer.Sink) error
}

// State is where the daemon is in its lifecycle.
type State int32

const (
	New State = iota
	ChannelsUp
	Relaying
	ShuttingDown
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case New:
		return "new"
	case ChannelsUp:
		return "channels-up"
	case Relaying:
		return "relaying"
	case ShuttingDown:
		return "shutting-down"
	case Done:
		return "done"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// SetupError is a failure to bring the daemon up. Everything already
// set up has been torn down by the time it is returned.
type SetupError struct {
	Op  string
	Err error
}

func (e *SetupError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

// Code is the process exit code for e.
func (e *SetupError) Code() int {
	return ExitCode(e.Err)
}

// ExitCode maps the result of Run to a process exit code: 0 for nil,
// the errno when the error carries one, 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var errno syscall.Errno
	if errors.As(err, &errno) && errno != 0 {
		return int(errno)
	}
	return 1
}

// Config configures a Daemon.
type Config struct {
	Kernel KernelChannel
	Peer   PeerChannel
	Logger log.Logger
	// CancelTimeout bounds the wait for a cancelled relay. Zero means
	// DefaultCancelTimeout.
	CancelTimeout time.Duration
}

// Daemon relays sessions between the kernel module and the peers.
type Daemon struct {
	kernel        KernelChannel
	peer          PeerChannel
	logger        log.Logger
	cancelTimeout time.Duration
	state         int32

	// start launches a relay. Replaced in tests.
	start func(ctx context.Context, name string, run func(context.Context) error) (*task, error)
}

// NewDaemon returns a Daemon in the New state.
func NewDaemon(cfg Config) *Daemon {
	d := &Daemon{
		kernel:        cfg.Kernel,
		peer:          cfg.Peer,
		logger:        cfg.Logger,
		cancelTimeout: cfg.CancelTimeout,
		start:         goTask,
	}
	if d.logger == nil {
		d.logger = logging.Nop()
	}
	d.logger = log.With(d.logger, "component", "relay")
	if d.cancelTimeout <= 0 {
		d.cancelTimeout = DefaultCancelTimeout
	}
	stateGauge(New)
	return d
}

// State returns the current lifecycle state.
func (d *Daemon) State() State {
	return State(atomic.LoadInt32(&d.state))
}

func (d *Daemon) setState(s State) {
	atomic.StoreInt32(&d.state, int32(s))
	stateGauge(s)
	logging.Debug(d.logger, "op", "state", "state", s)
}

// Run brings both channels up, relays until either direction stops or
// ctx is done, and tears everything down. It returns nil after a clean
// run, a *SetupError if the daemon never got to relay, or the error
// that stopped the first relay to end.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.peer.Setup(); err != nil {
		d.setState(Failed)
		return &SetupError{Op: "peer channel setup", Err: err}
	}
	if err := d.kernel.Setup(); err != nil {
		d.peer.Teardown()
		d.setState(Failed)
		return &SetupError{Op: "kernel channel setup", Err: err}
	}
	d.setState(ChannelsUp)

	toPeers, err := d.start(ctx, "kernel-to-peers", func(ctx context.Context) error {
		return d.kernel.Listen(ctx, d.peer)
	})
	if err != nil {
		logging.Error(d.logger, "op", "startup", "task", "kernel-to-peers", "error", err, "msg", "module-to-network relay initialization failed")
		d.teardown()
		d.setState(Failed)
		return &SetupError{Op: "starting kernel-to-peers relay", Err: err}
	}

	toKernel, err := d.start(ctx, "peers-to-kernel", func(ctx context.Context) error {
		return d.peer.Listen(ctx, d.kernel)
	})
	if err != nil {
		logging.Error(d.logger, "op", "startup", "task", "peers-to-kernel", "error", err, "msg", "network-to-module relay initialization failed")
		d.stop(toPeers)
		d.teardown()
		d.setState(Failed)
		return &SetupError{Op: "starting peers-to-kernel relay", Err: err}
	}

	d.setState(Relaying)
	logging.Info(d.logger, "op", "startup", "msg", "relaying sessions")

	var result error
	select {
	case <-toPeers.done:
		result = toPeers.err
		d.ended(toPeers)
		d.stop(toKernel)
	case <-toKernel.done:
		result = toKernel.err
		d.ended(toKernel)
		d.stop(toPeers)
	case <-ctx.Done():
		logging.Info(d.logger, "op", "shutdown", "msg", "shutdown requested")
		d.stop(toPeers)
		d.stop(toKernel)
	}

	d.setState(ShuttingDown)
	d.teardown()

	if result != nil {
		d.setState(Failed)
		return result
	}
	d.setState(Done)
	logging.Info(d.logger, "op", "shutdown", "msg", "relay stopped cleanly")
	return nil
}

func (d *Daemon) ended(t *task) {
	taskExits.WithLabelValues(t.name).Inc()
	if t.err != nil {
		logging.Error(d.logger, "op", "relay", "task", t.name, "error", t.err, "msg", "relay stopped")
		return
	}
	logging.Info(d.logger, "op", "relay", "task", t.name, "msg", "relay stopped")
}

// teardown closes both channels, kernel first so no more sessions
// arrive while the peer transport goes away.
func (d *Daemon) teardown() {
	d.kernel.Teardown()
	d.peer.Teardown()
}

// stop cancels t and waits for it, but not forever: a relay that
// doesn't honor cancellation is left to the channel teardown that
// follows.
func (d *Daemon) stop(t *task) {
	t.cancel()

	timer := time.NewTimer(d.cancelTimeout)
	defer timer.Stop()
	select {
	case <-t.done:
		d.ended(t)
	case <-timer.C:
		logging.Warn(d.logger, "op", "shutdown", "task", t.name, "timeout", d.cancelTimeout, "msg", "relay did not honor cancellation, closing the channels anyway")
	}
}
