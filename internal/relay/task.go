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

import "context"

// task is one relay direction running in its own goroutine.
type task struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
	// err is only valid after done is closed.
	err error
}

func goTask(ctx context.Context, name string, run func(context.Context) error) (*task, error) {
	ctx, cancel := context.WithCancel(ctx)
	t := &task{
		name:   name,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(t.done)
		t.err = run(ctx)
	}()
	return t, nil
}
