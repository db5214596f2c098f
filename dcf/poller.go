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

package dcf

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/foodcat/catsync/model"
)

// StatusUpdate is one observed status change of a DCF request.
type StatusUpdate struct {
	RequestID  string
	Report     StatusReport
	ReceivedAt time.Time
}

// Sink receives status updates. Deliver must not block.
type Sink interface {
	Deliver(update StatusUpdate)
}

type SinkFunc func(update StatusUpdate)

func (f SinkFunc) Deliver(update StatusUpdate) { f(update) }

// TimeoutMacroOperation marks the synthetic report produced when polling gives up.
const TimeoutMacroOperation = "timeout"

type tracking struct {
	cancel context.CancelFunc
}

// Poller runs one polling goroutine per tracked request and forwards every
// status change to its sink.
type Poller struct {
	client   Client
	sink     Sink
	interval time.Duration
	timeout  time.Duration

	mu      sync.Mutex
	tracked map[string]*tracking
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewPoller(client Client, sink Sink, interval, timeout time.Duration) *Poller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		client:   client,
		sink:     sink,
		interval: interval,
		timeout:  timeout,
		tracked:  make(map[string]*tracking),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Track starts polling requestID. last is the status already known locally;
// only statuses different from it are delivered. It returns false when the id
// is already tracked or the poller is stopped.
func (p *Poller) Track(requestID string, env model.Environment, last model.Status) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return false
	}
	if _, ok := p.tracked[requestID]; ok {
		return false
	}
	ctx, cancel := context.WithCancel(p.ctx)
	t := &tracking{cancel: cancel}
	p.tracked[requestID] = t
	p.wg.Add(1)
	go p.run(ctx, t, requestID, env, last)
	return true
}

// Tracked returns the ids currently polled, sorted.
func (p *Poller) Tracked() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.tracked))
	for id := range p.tracked {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stop cancels all pollers and waits for them to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	p.cancel()
	p.wg.Wait()
}

func (p *Poller) run(ctx context.Context, t *tracking, requestID string, env model.Environment, last model.Status) {
	defer p.wg.Done()
	defer func() {
		p.mu.Lock()
		if p.tracked[requestID] == t {
			delete(p.tracked, requestID)
		}
		p.mu.Unlock()
		t.cancel()
	}()

	log := logrus.WithFields(logrus.Fields{"request_id": requestID, "environment": env})
	deadline := time.Now().Add(p.timeout)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		report, err := p.client.PollStatus(ctx, env, requestID)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			log.Warnf("failed to poll dcf status: %v", err)
		case report.Status != last:
			last = report.Status
			p.sink.Deliver(StatusUpdate{RequestID: requestID, Report: report, ReceivedAt: time.Now().UTC()})
			if report.Status.IsTerminal() {
				return
			}
		}

		if p.timeout > 0 && time.Now().After(deadline) {
			log.Warn("gave up polling dcf request")
			p.sink.Deliver(StatusUpdate{
				RequestID: requestID,
				Report: StatusReport{
					Status:   model.StatusError,
					Response: model.ResponseError,
					Log:      &model.PendingLog{MacroOperation: TimeoutMacroOperation},
				},
				ReceivedAt: time.Now().UTC(),
			})
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
