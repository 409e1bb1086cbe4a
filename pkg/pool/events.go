// Copyright 2025 BMAD Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pool

import (
	"sync"
	"time"
)

// EventKind identifies an agent lifecycle event.
type EventKind string

const (
	EventStarted   EventKind = "STARTED"
	EventInvoked   EventKind = "INVOKED"
	EventCompleted EventKind = "COMPLETED"
	EventCancelled EventKind = "CANCELLED"
	EventFailed    EventKind = "FAILED"
)

// Event is one agent lifecycle notification. Events for a single agent
// are delivered in lifecycle order; ordering across agents is not
// guaranteed.
type Event struct {
	Kind      EventKind
	AgentID   string
	AgentName string
	Timestamp time.Time

	// Cost is the cumulative cost for the agent at emission time.
	Cost float64

	// Err is set on FAILED events.
	Err error
}

// eventBus fans events out to subscribers. Slow subscribers drop
// events rather than block the pool.
type eventBus struct {
	mu   sync.RWMutex
	subs []chan Event
}

func (b *eventBus) subscribe(buffer int) <-chan Event {
	ch := make(chan Event, buffer)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

func (b *eventBus) emit(ev Event) {
	ev.Timestamp = time.Now()
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (b *eventBus) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
