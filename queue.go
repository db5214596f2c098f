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

package catsync

import (
	"sync"

	"github.com/foodcat/catsync/dcf"
	"github.com/foodcat/catsync/model"
)

type eventKind int

const (
	eventStatus eventKind = iota + 1
	eventRetry
	eventForcedEdit
	eventImportDone
)

// forcedEditCommand is a user-initiated forced edit awaiting the worker.
type forcedEditCommand struct {
	code   string
	user   string
	level  model.Level
	result chan error
}

// workerEvent is one unit of work for the worker loop. Exactly one payload is
// set, matching kind.
type workerEvent struct {
	kind       eventKind
	update     dcf.StatusUpdate
	requestID  string
	forcedEdit *forcedEditCommand
	imported   *ImportResult
}

// eventQueue is an unbounded FIFO safe for concurrent producers. The worker
// drains it with TryDequeue and parks on Wait. The signal channel has a
// buffer of one so signals coalesce.
type eventQueue struct {
	mu     sync.Mutex
	events []workerEvent
	signal chan struct{}
}

func newEventQueue(capacity int) *eventQueue {
	return &eventQueue{
		events: make([]workerEvent, 0, capacity),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends e and wakes the waiter. It never blocks on the consumer.
func (q *eventQueue) Enqueue(e workerEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.events = append(q.events, e)

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *eventQueue) TryDequeue() (workerEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return workerEvent{}, false
	}
	e := q.events[0]
	q.events[0] = workerEvent{}
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return e, true
}

func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}
