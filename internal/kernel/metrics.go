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
	"github.com/prometheus/client_golang/prometheus"

	"github.com/weihaitong/Jool/internal/metrics"
)

const subsystem = "kernel"

var (
	// messagesReceived counts messages from the module's family.
	messagesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: subsystem,
		Name:      "messages_received_total",
		Help:      "Total number of messages received from the kernel module",
	})

	// messagesDropped counts messages that failed validation in either
	// direction.
	// Labels: reason
	messagesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: subsystem,
		Name:      "messages_dropped_total",
		Help:      "Total number of messages dropped because they failed validation",
	}, []string{"reason"})

	sessionsForwarded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: subsystem,
		Name:      "sessions_forwarded_total",
		Help:      "Total number of multicast session messages handed to the peer channel",
	})

	acksSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: subsystem,
		Name:      "acks_sent_total",
		Help:      "Total number of acknowledgements sent to the kernel module",
	})

	// responses counts unicast responses by outcome.
	// Labels: result (success, error)
	responses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: subsystem,
		Name:      "responses_total",
		Help:      "Total number of unicast responses received from the kernel module",
	}, []string{"result"})

	messagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: subsystem,
		Name:      "messages_sent_total",
		Help:      "Total number of messages sent to the kernel module",
	})

	sendErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: subsystem,
		Name:      "send_errors_total",
		Help:      "Total number of failed sends to the kernel module",
	})

	receiveErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: subsystem,
		Name:      "receive_errors_total",
		Help:      "Total number of failed receives from the kernel module",
	})
)

func init() {
	prometheus.MustRegister(messagesReceived)
	prometheus.MustRegister(messagesDropped)
	prometheus.MustRegister(sessionsForwarded)
	prometheus.MustRegister(acksSent)
	prometheus.MustRegister(responses)
	prometheus.MustRegister(messagesSent)
	prometheus.MustRegister(sendErrors)
	prometheus.MustRegister(receiveErrors)
}
