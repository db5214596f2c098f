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

	"github.com/foodcat/catsync/model"
)

type slotKey struct {
	code   string
	family model.RequestFamily
}

// tracker holds the outstanding request slots, one per catalogue and request
// family. A slot is claimed before submission and bound to the DCF id once
// the request is accepted.
type tracker struct {
	mu    sync.Mutex
	slots map[slotKey]string
}

func newTracker() *tracker {
	return &tracker{slots: make(map[slotKey]string)}
}

// claim reserves the slot. It fails when a request already holds it.
func (t *tracker) claim(code string, family model.RequestFamily) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := slotKey{code, family}
	if _, ok := t.slots[key]; ok {
		return false
	}
	t.slots[key] = ""
	return true
}

func (t *tracker) bind(code string, family model.RequestFamily, requestID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.slots[slotKey{code, family}] = requestID
}

func (t *tracker) release(code string, family model.RequestFamily) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.slots, slotKey{code, family})
}

// releaseRequest frees the slot bound to requestID, if any.
func (t *tracker) releaseRequest(requestID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, id := range t.slots {
		if id == requestID {
			delete(t.slots, key)
			return
		}
	}
}

// outstanding returns the request id holding the slot. The id is empty while
// the submission is still in flight.
func (t *tracker) outstanding(code string, family model.RequestFamily) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.slots[slotKey{code, family}]
	return id, ok
}

func (t *tracker) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots)
}
