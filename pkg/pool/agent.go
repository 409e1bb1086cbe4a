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

	"github.com/bmad-labs/bmad/pkg/agent"
	"github.com/bmad-labs/bmad/pkg/llms"
)

// State is the agent lifecycle state. Transitions follow
// Started -> Invoked (repeatable) -> Completed, with Failed reachable
// from Invoked and terminating in Completed on destroy.
type State string

const (
	StateStarted   State = "started"
	StateInvoked   State = "invoked"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
	StateFailed    State = "failed"
)

// Agent is one persona-backed agent owned by the pool. Callers hold
// ids; the pool owns the object.
type Agent struct {
	ID      string
	Name    string
	Persona *agent.Persona
	Context agent.Context

	provider llms.Provider

	mu            sync.Mutex
	state         State
	estimatedCost float64
	lastActivity  time.Time
}

// State returns the current lifecycle state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// EstimatedCost returns the agent's accumulated cost. Cost is
// monotonically non-decreasing.
func (a *Agent) EstimatedCost() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.estimatedCost
}

// LastActivity returns the time of the agent's last state change.
func (a *Agent) LastActivity() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastActivity
}

func (a *Agent) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.lastActivity = time.Now()
	a.mu.Unlock()
}

func (a *Agent) addCost(cost float64) float64 {
	a.mu.Lock()
	a.estimatedCost += cost
	total := a.estimatedCost
	a.mu.Unlock()
	return total
}

// terminal reports whether the agent can no longer be invoked.
func (a *Agent) terminal() bool {
	s := a.State()
	return s == StateCompleted || s == StateCancelled
}
