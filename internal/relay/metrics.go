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
	"github.com/prometheus/client_golang/prometheus"

	"github.com/weihaitong/Jool/internal/metrics"
)

const subsystem = "relay"

var (
	// state is 1 for the state the daemon is in, 0 for the others.
	// Labels: state
	state = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metrics.Namespace,
		Subsystem: subsystem,
		Name:      "state",
		Help:      "1 for the current lifecycle state of the daemon, 0 otherwise",
	}, []string{"state"})

	// taskExits counts relay goroutines that ended.
	// Labels: task
	taskExits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: subsystem,
		Name:      "task_exits_total",
		Help:      "Total number of relay goroutines that ended",
	}, []string{"task"})
)

func init() {
	prometheus.MustRegister(state)
	prometheus.MustRegister(taskExits)
}

func stateGauge(current State) {
	for s := New; s <= Failed; s++ {
		v := 0.0
		if s == current {
			v = 1
		}
		state.WithLabelValues(s.String()).Set(v)
	}
}
