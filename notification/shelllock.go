/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package notification

import (
	"context"
	"sync"

	"github.com/foodcat/catsync/model"
)

// ShellLock follows the worker status so the application can refuse to exit
// while a reconciliation is running.
type ShellLock struct {
	mu     sync.Mutex
	status model.WorkerStatus
	idle   chan struct{}
}

func NewShellLock() *ShellLock {
	idle := make(chan struct{})
	close(idle)
	return &ShellLock{status: model.WorkerWaiting, idle: idle}
}

// Set records a worker status change.
func (l *ShellLock) Set(status model.WorkerStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if status == l.status {
		return
	}
	l.status = status
	if status == model.WorkerOngoing {
		l.idle = make(chan struct{})
		return
	}
	close(l.idle)
}

func (l *ShellLock) Status() model.WorkerStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// CanClose is false while the worker is ONGOING.
func (l *ShellLock) CanClose() bool {
	return l.Status() == model.WorkerWaiting
}

// WaitIdle blocks until the worker is WAITING or ctx is done.
func (l *ShellLock) WaitIdle(ctx context.Context) error {
	for {
		l.mu.Lock()
		if l.status == model.WorkerWaiting {
			l.mu.Unlock()
			return nil
		}
		idle := l.idle
		l.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Run applies every status from sub until it ends or ctx is done.
func (l *ShellLock) Run(ctx context.Context, sub *Subscription[model.WorkerStatus]) {
	for {
		select {
		case <-ctx.Done():
			return
		case status, ok := <-sub.C():
			if !ok {
				return
			}
			l.Set(status)
		}
	}
}
