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

// Package notification fans engine events out to their consumers: the
// console, the shell lock and the outbound webhook queue.
package notification

import (
	"context"
	"errors"
	"sync"
)

var ErrBrokerClosed = errors.New("broker closed")

// Broker delivers every published value to each subscriber in subscription
// order. A subscriber whose buffer is full blocks the publisher until it
// catches up, closes its subscription, or the publish context ends.
type Broker[T any] struct {
	mu     sync.RWMutex
	subs   []*Subscription[T]
	closed bool
}

type Subscription[T any] struct {
	broker *Broker[T]
	ch     chan T
	done   chan struct{}
	once   sync.Once
}

func NewBroker[T any]() *Broker[T] {
	return &Broker[T]{}
}

// Subscribe registers a new subscriber with the given buffer size.
func (b *Broker[T]) Subscribe(buffer int) *Subscription[T] {
	if buffer < 0 {
		buffer = 0
	}
	s := &Subscription[T]{
		broker: b,
		ch:     make(chan T, buffer),
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.once.Do(func() { close(s.done) })
		close(s.ch)
		return s
	}
	b.subs = append(b.subs, s)
	return s
}

// Publish hands v to every current subscriber.
func (b *Broker[T]) Publish(ctx context.Context, v T) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBrokerClosed
	}
	for _, s := range b.subs {
		select {
		case s.ch <- v:
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Len returns the number of live subscriptions.
func (b *Broker[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close ends every subscription. Further publishes fail with ErrBrokerClosed.
func (b *Broker[T]) Close() {
	b.mu.RLock()
	subs := append([]*Subscription[T](nil), b.subs...)
	b.mu.RUnlock()
	for _, s := range subs {
		s.stop()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, s := range b.subs {
		close(s.ch)
	}
	b.subs = nil
}

// C is the delivery channel. It is closed once the subscription ends.
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Done is closed as soon as Close is called.
func (s *Subscription[T]) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription[T]) stop() {
	s.once.Do(func() { close(s.done) })
}

// Close detaches the subscription. Values already buffered stay readable.
func (s *Subscription[T]) Close() {
	s.stop()

	b := s.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub == s {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			close(s.ch)
			return
		}
	}
}
