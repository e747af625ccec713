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
	"github.com/prometheus/client_golang/prometheus"

	"github.com/weihaitong/Jool/internal/metrics"
)

const subsystem = "peer"

var (
	packetsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: subsystem,
		Name:      "packets_sent_total",
		Help:      "Total number of session packets relayed to peers",
	})

	sendErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: subsystem,
		Name:      "send_errors_total",
		Help:      "Total number of failed sends to peers",
	})

	packetsReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: subsystem,
		Name:      "packets_received_total",
		Help:      "Total number of session packets received from peers",
	})

	receiveErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: subsystem,
		Name:      "receive_errors_total",
		Help:      "Total number of failed receives from peers",
	})

	// gossipDropped counts gossip messages dropped because the
	// receive queue was full.
	gossipDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: subsystem,
		Name:      "gossip_dropped_total",
		Help:      "Total number of gossip messages dropped on a full receive queue",
	})

	// memberCount tracks the members of the gossip cluster, this node
	// included.
	memberCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metrics.Namespace,
		Subsystem: subsystem,
		Name:      "gossip_member_count",
		Help:      "Current number of members in the gossip cluster",
	})
)

func init() {
	prometheus.MustRegister(packetsSent)
	prometheus.MustRegister(sendErrors)
	prometheus.MustRegister(packetsReceived)
	prometheus.MustRegister(receiveErrors)
	prometheus.MustRegister(gossipDropped)
	prometheus.MustRegister(memberCount)
}
