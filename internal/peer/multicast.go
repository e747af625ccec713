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
	"context"
	"fmt"
	"net"
	"strconv"
	"syscall"
	"time"

	"github.com/go-kit/kit/log"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
	"golang.org/x/sys/unix"

	"github.com/weihaitong/Jool/internal/config"
	"github.com/weihaitong/Jool/internal/logging"
)

// maxDatagram is the largest UDP payload.
const maxDatagram = 65535

// multicast relays sessions as UDP datagrams sent to a multicast
// group every daemon has joined.
type multicast struct {
	cfg    config.MulticastConfig
	logger log.Logger

	group *net.UDPAddr
	conn  net.PacketConn
	buf   []byte
}

func newMulticast(cfg config.MulticastConfig, logger log.Logger) *multicast {
	return &multicast{
		cfg:    cfg,
		logger: log.With(logger, "transport", "multicast"),
		buf:    make([]byte, maxDatagram),
	}
}

func (m *multicast) String() string {
	if m.group != nil {
		return "multicast " + m.group.String()
	}
	return "multicast " + net.JoinHostPort(m.cfg.Address, strconv.Itoa(m.cfg.Port))
}

func (m *multicast) open() error {
	ip := net.ParseIP(m.cfg.Address)
	if ip == nil || !ip.IsMulticast() {
		return fmt.Errorf("%q is not a multicast address", m.cfg.Address)
	}
	m.group = &net.UDPAddr{IP: ip, Port: m.cfg.Port}

	in, err := lookupInterface(m.cfg.InInterface)
	if err != nil {
		return err
	}
	out, err := lookupInterface(m.cfg.OutInterface)
	if err != nil {
		return err
	}

	network := "udp6"
	if ip.To4() != nil {
		network = "udp4"
	}
	lc := net.ListenConfig{Control: m.control}
	conn, err := lc.ListenPacket(context.Background(), network, fmt.Sprintf(":%d", m.cfg.Port))
	if err != nil {
		return err
	}

	if ip.To4() != nil {
		err = m.setup4(ipv4.NewPacketConn(conn), in, out)
	} else {
		err = m.setup6(ipv6.NewPacketConn(conn), in, out)
	}
	if err != nil {
		conn.Close()
		return err
	}

	m.conn = conn
	logging.Info(m.logger, "op", "setup", "group", m.group, "in-interface", m.cfg.InInterface, "out-interface", m.cfg.OutInterface, "ttl", m.cfg.TTL, "msg", "joined multicast group")
	return nil
}

func (m *multicast) setup4(p *ipv4.PacketConn, in, out *net.Interface) error {
	if err := p.JoinGroup(in, &net.UDPAddr{IP: m.group.IP}); err != nil {
		return fmt.Errorf("joining group %s: %w", m.group.IP, err)
	}
	if out != nil {
		if err := p.SetMulticastInterface(out); err != nil {
			return fmt.Errorf("selecting outgoing interface %s: %w", out.Name, err)
		}
	}
	if err := p.SetMulticastTTL(m.cfg.TTL); err != nil {
		return fmt.Errorf("setting multicast TTL: %w", err)
	}
	// Our own sessions are already in our kernel.
	return p.SetMulticastLoopback(false)
}

func (m *multicast) setup6(p *ipv6.PacketConn, in, out *net.Interface) error {
	if err := p.JoinGroup(in, &net.UDPAddr{IP: m.group.IP}); err != nil {
		return fmt.Errorf("joining group %s: %w", m.group.IP, err)
	}
	if out != nil {
		if err := p.SetMulticastInterface(out); err != nil {
			return fmt.Errorf("selecting outgoing interface %s: %w", out.Name, err)
		}
	}
	if err := p.SetMulticastHopLimit(m.cfg.TTL); err != nil {
		return fmt.Errorf("setting multicast hop limit: %w", err)
	}
	return p.SetMulticastLoopback(false)
}

// control sets SO_REUSEADDR before bind when asked to, so the group
// port can be shared with other listeners on the host. They don't
// hear our own datagrams since multicast loopback is off.
func (m *multicast) control(network, address string, rc syscall.RawConn) error {
	if !m.cfg.ReuseAddr {
		return nil
	}
	var serr error
	if err := rc.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	}); err != nil {
		return err
	}
	return serr
}

func lookupInterface(name string) (*net.Interface, error) {
	if name == "" {
		return nil, nil
	}
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return nil, fmt.Errorf("looking up interface %q: %w", name, err)
	}
	return ifi, nil
}

func (m *multicast) send(b []byte) error {
	_, err := m.conn.WriteTo(b, m.group)
	return err
}

func (m *multicast) receive() ([]byte, error) {
	n, src, err := m.conn.ReadFrom(m.buf)
	if err != nil {
		return nil, err
	}
	logging.Debug(m.logger, "op", "receive", "from", src, "bytes", n)
	return append([]byte(nil), m.buf[:n]...), nil
}

func (m *multicast) interrupt() {
	if err := m.conn.SetReadDeadline(time.Now()); err != nil {
		logging.Debug(m.logger, "op", "interrupt", "error", err)
	}
}

func (m *multicast) close() error {
	return m.conn.Close()
}
