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

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/weihaitong/Jool/internal/kernel"
	"github.com/weihaitong/Jool/internal/logging"
	"github.com/weihaitong/Jool/internal/metrics"
	"github.com/weihaitong/Jool/internal/peer"
	"github.com/weihaitong/Jool/internal/relay"
)

// parseDurationEnv parses a duration from an environment variable, returning
// the default if the env var is not set or cannot be parsed.
func parseDurationEnv(envVar string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(envVar)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}

func parseBoolEnv(envVar string) bool {
	b, _ := strconv.ParseBool(os.Getenv(envVar))
	return b
}

func parseIntEnv(envVar string, defaultVal int) int {
	i, err := strconv.Atoi(os.Getenv(envVar))
	if err != nil {
		return defaultVal
	}
	return i
}

func stringEnv(envVar string, defaultVal string) string {
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	return defaultVal
}

func main() {
	var (
		family        = flag.String("family", stringEnv("JOOLD_FAMILY", kernel.DefaultFamily), "generic netlink family of the kernel module")
		group         = flag.String("group", stringEnv("JOOLD_GROUP", kernel.DefaultGroup), "generic netlink multicast group sessions are published to")
		debug         = flag.Bool("debug", parseBoolEnv("JOOLD_DEBUG"), "log debug messages")
		syslog        = flag.Bool("syslog", parseBoolEnv("JOOLD_SYSLOG"), "log to syslog instead of stdout")
		host          = flag.String("metrics-host", os.Getenv("JOOLD_METRICS_HOST"), "HTTP host address for Prometheus metrics")
		port          = flag.Int("metrics-port", parseIntEnv("JOOLD_METRICS_PORT", 0), "HTTP listening port for Prometheus metrics, 0 disables them")
		cancelTimeout = flag.Duration("cancel-timeout", parseDurationEnv("JOOLD_CANCEL_TIMEOUT", relay.DefaultCancelTimeout), "how long a relay gets to stop before its channel is closed")
		retryDelay    = flag.Duration("retry-delay", parseDurationEnv("JOOLD_RETRY_DELAY", 0), "pause after a failed kernel receive")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] [peer-config.toml]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	logger := logging.Init(logging.Options{Debug: *debug, Syslog: *syslog})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		c1 := make(chan os.Signal, 1)
		signal.Notify(c1, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
		<-c1
		logging.Info(logger, "op", "shutdown", "msg", "signal received, initiating shutdown")
		signal.Stop(c1)
		cancel()
	}()

	if *port > 0 {
		go metrics.Run(logger, *host, *port)
	}

	daemon := relay.NewDaemon(relay.Config{
		Kernel: kernel.New(kernel.Config{
			Family:     *family,
			Group:      *group,
			RetryDelay: *retryDelay,
			Logger:     logger,
		}),
		Peer:          peer.New(flag.Args(), logger),
		Logger:        logger,
		CancelTimeout: *cancelTimeout,
	})

	if err := daemon.Run(ctx); err != nil {
		code := relay.ExitCode(err)
		logging.Error(logger, "op", "run", "error", err, "msg", "joold stopped")
		fmt.Fprintf(os.Stderr, "joold error: %d\n", code)
		cancel()
		os.Exit(code)
	}
	logging.Info(logger, "op", "shutdown", "msg", "joold stopped")
}
