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
	"fmt"
	"sync"

	"github.com/foodcat/catsync/model"
)

// FakeClient is an in-memory DCF used by tests and local development.
// Request ids are assigned as DCF-0001, DCF-0002, ... in submission order.
type FakeClient struct {
	mu          sync.Mutex
	seq         int
	rejections  map[model.RequestType]error
	answers     map[model.RequestType]StatusReport
	scripts     map[string][]StatusReport
	polls       map[string]int
	submissions []Submission
	catalogues  map[string]CatalogueSnapshot
}

func NewFakeClient() *FakeClient {
	return &FakeClient{
		rejections: make(map[model.RequestType]error),
		answers:    make(map[model.RequestType]StatusReport),
		scripts:    make(map[string][]StatusReport),
		polls:      make(map[string]int),
		catalogues: make(map[string]CatalogueSnapshot),
	}
}

// Reject makes every submission of type t fail with err.
func (f *FakeClient) Reject(t model.RequestType, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.rejections, t)
		return
	}
	f.rejections[t] = err
}

// Answer makes every accepted submission of type t come back with report
// instead of WAITING.
func (f *FakeClient) Answer(t model.RequestType, report StatusReport) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers[t] = report
}

// Script sets the reports returned by successive polls of id. The last
// report keeps being returned once the script is exhausted.
func (f *FakeClient) Script(id string, reports ...StatusReport) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[id] = reports
	f.polls[id] = 0
}

// NextID returns the id the next accepted submission will get.
func (f *FakeClient) NextID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fakeID(f.seq + 1)
}

func (f *FakeClient) SetCatalogue(snapshot CatalogueSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.catalogues[snapshot.Code] = snapshot
}

func (f *FakeClient) Submissions() []Submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Submission, len(f.submissions))
	copy(out, f.submissions)
	return out
}

func (f *FakeClient) Submit(ctx context.Context, sub Submission) (Ticket, error) {
	if err := ctx.Err(); err != nil {
		return Ticket{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.rejections[sub.Type]; ok {
		return Ticket{}, err
	}
	f.seq++
	sub.Data = sub.Data.Clone()
	f.submissions = append(f.submissions, sub)
	ticket := Ticket{RequestID: fakeID(f.seq), Status: model.StatusWaiting}
	if answer, ok := f.answers[sub.Type]; ok {
		ticket.Status, ticket.Response, ticket.Log = answer.Status, answer.Response, answer.Log
	}
	return ticket, nil
}

func (f *FakeClient) PollStatus(ctx context.Context, _ model.Environment, requestID string) (StatusReport, error) {
	if err := ctx.Err(); err != nil {
		return StatusReport{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	script := f.scripts[requestID]
	if len(script) == 0 {
		return StatusReport{Status: model.StatusWaiting}, nil
	}
	i := f.polls[requestID]
	if i >= len(script) {
		i = len(script) - 1
	} else {
		f.polls[requestID] = i + 1
	}
	return script[i], nil
}

func (f *FakeClient) DownloadCatalogue(ctx context.Context, _ model.Environment, code string, version model.Version) (CatalogueSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return CatalogueSnapshot{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if snap, ok := f.catalogues[code]; ok {
		return snap, nil
	}
	return CatalogueSnapshot{Code: code, Version: version}, nil
}

func fakeID(n int) string {
	return fmt.Sprintf("DCF-%04d", n)
}
