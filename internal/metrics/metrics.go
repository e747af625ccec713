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

// Package metrics holds what every metrics.go in this module shares:
// the prometheus namespace and the HTTP endpoint that exposes it.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/go-kit/kit/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/weihaitong/Jool/internal/logging"
)

// Namespace prefixes every metric exported by the daemon.
const Namespace = "joold"

// Handler serves the default prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Run runs the metrics server. It only returns if the listener
// fails, which is logged; the daemon keeps relaying without metrics.
func Run(logger log.Logger, host string, port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	addr := fmt.Sprintf("%s:%d", host, port)
	logging.Info(logger, "op", "metrics", "addr", addr, "msg", "serving metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		logging.Error(logger, "op", "metrics", "addr", addr, "error", err, "msg", "metrics server stopped")
	}
}
