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

// Package config loads the peer transport configuration: which
// transport relays sessions between daemons and how to reach the
// other daemons through it.
package config

import (
	"fmt"
	"net"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Transports
const (
	Multicast = "multicast"
	Gossip    = "gossip"
)

// Defaults
const (
	DefaultMulticastAddress = "ff08::db8:64:64"
	DefaultMulticastPort    = 6400
	DefaultTTL              = 1
	DefaultGossipPort       = 7946
	DefaultQueueSize        = 256
	DefaultLeaveTimeout     = time.Second
)

// Peer is the parsed peer configuration.
type Peer struct {
	Transport string          `toml:"transport"`
	Multicast MulticastConfig `toml:"multicast"`
	Gossip    GossipConfig    `toml:"gossip"`
}

// MulticastConfig configures the UDP multicast transport.
type MulticastConfig struct {
	// Address is the IPv4 or IPv6 multicast group.
	Address string `toml:"address"`
	Port    int    `toml:"port"`
	// InInterface is where the group is joined. Empty lets the kernel
	// choose.
	InInterface string `toml:"in-interface"`
	// OutInterface is where packets to the group leave through.
	OutInterface string `toml:"out-interface"`
	ReuseAddr    bool   `toml:"reuseaddr"`
	// TTL is the IPv4 TTL or IPv6 hop limit of outgoing packets.
	TTL int `toml:"ttl"`
}

// GossipConfig configures the memberlist transport.
type GossipConfig struct {
	// NodeName must be unique in the cluster. Empty leaves the choice
	// to the gossip transport.
	NodeName string   `toml:"node-name"`
	BindAddr string   `toml:"bind-addr"`
	BindPort int      `toml:"bind-port"`
	Peers    []string `toml:"peers"`
	// SecretKey encrypts gossip when set; 16, 24 or 32 bytes.
	SecretKey string `toml:"secret-key"`
	// QueueSize bounds the messages waiting to be pushed into the
	// kernel. Overflow is dropped.
	QueueSize    int      `toml:"queue-size"`
	LeaveTimeout Duration `toml:"leave-timeout"`
}

// Duration lets TOML strings like "500ms" land in a time.Duration.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	t, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(t)
	return nil
}

// Default returns the configuration used when no file is given.
func Default() *Peer {
	return &Peer{
		Transport: Multicast,
		Multicast: MulticastConfig{
			Address: DefaultMulticastAddress,
			Port:    DefaultMulticastPort,
			TTL:     DefaultTTL,
		},
		Gossip: GossipConfig{
			BindAddr:     "0.0.0.0",
			BindPort:     DefaultGossipPort,
			QueueSize:    DefaultQueueSize,
			LeaveTimeout: Duration(DefaultLeaveTimeout),
		},
	}
}

// Load reads the configuration at path. An empty path returns the
// defaults.
func Load(path string) (*Peer, error) {
	if path == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	cfg, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return cfg, nil
}

// Parse decodes raw over the defaults and validates the result. Keys
// that don't belong to the configuration are an error.
func Parse(raw []byte) (*Peer, error) {
	cfg := Default()
	md, err := toml.Decode(string(raw), cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("unknown configuration keys: %s", strings.Join(keys, ", "))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings of the selected transport.
func (p *Peer) Validate() error {
	switch p.Transport {
	case Multicast:
		return p.Multicast.validate()
	case Gossip:
		return p.Gossip.validate()
	}
	return fmt.Errorf("unknown transport %q, want %q or %q", p.Transport, Multicast, Gossip)
}

func (m *MulticastConfig) validate() error {
	ip := net.ParseIP(m.Address)
	if ip == nil {
		return fmt.Errorf("multicast address %q is not an IP address", m.Address)
	}
	if !ip.IsMulticast() {
		return fmt.Errorf("address %q is not a multicast address", m.Address)
	}
	if m.Port < 1 || m.Port > 65535 {
		return fmt.Errorf("multicast port %d out of range", m.Port)
	}
	if m.TTL < 1 || m.TTL > 255 {
		return fmt.Errorf("multicast TTL %d out of range", m.TTL)
	}
	return nil
}

func (g *GossipConfig) validate() error {
	if g.BindPort < 0 || g.BindPort > 65535 {
		return fmt.Errorf("gossip port %d out of range", g.BindPort)
	}
	if net.ParseIP(g.BindAddr) == nil {
		return fmt.Errorf("gossip bind address %q is not an IP address", g.BindAddr)
	}
	switch len(g.SecretKey) {
	case 0, 16, 24, 32:
	default:
		return fmt.Errorf("gossip secret key must be 16, 24 or 32 bytes long, got %d", len(g.SecretKey))
	}
	if g.QueueSize < 1 {
		return fmt.Errorf("gossip queue size must be positive, got %d", g.QueueSize)
	}
	return nil
}
