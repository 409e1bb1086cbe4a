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

// Package graph builds the story dependency graph produced during
// solutioning. The graph is a DAG; analysis derives the critical path,
// bottleneck stories, and groups that can be implemented in parallel.
package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
)

// EdgeType distinguishes hard blockers from soft orderings.
type EdgeType string

const (
	EdgeHard EdgeType = "hard"
	EdgeSoft EdgeType = "soft"
)

var (
	ErrUnknownNode   = errors.New("unknown node")
	ErrDuplicateNode = errors.New("duplicate node")
	ErrCycle         = errors.New("dependency cycle")
)

// Edge says From must complete before To can start.
type Edge struct {
	From      string   `json:"from"`
	To        string   `json:"to"`
	Type      EdgeType `json:"type"`
	Blocking  bool     `json:"blocking"`
	Reasoning string   `json:"reasoning,omitempty"`
}

// Graph is the dependency graph for one solutioning run. Analysis
// fields are populated by Analyze.
type Graph struct {
	Nodes          []string   `json:"nodes"`
	Edges          []Edge     `json:"edges"`
	CriticalPath   []string   `json:"critical_path,omitempty"`
	Bottlenecks    []string   `json:"bottlenecks,omitempty"`
	Parallelizable [][]string `json:"parallelizable,omitempty"`

	// BottleneckThreshold is the minimum number of directly blocked
	// stories for a node to count as a bottleneck.
	BottleneckThreshold int `json:"-"`

	nodeSet map[string]bool
}

// defaultBottleneckThreshold flags nodes blocking four or more others.
const defaultBottleneckThreshold = 4

// New creates a graph over the given story ids.
func New(nodes ...string) (*Graph, error) {
	g := &Graph{
		BottleneckThreshold: defaultBottleneckThreshold,
		nodeSet:             make(map[string]bool, len(nodes)),
	}
	for _, n := range nodes {
		if g.nodeSet[n] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateNode, n)
		}
		g.nodeSet[n] = true
		g.Nodes = append(g.Nodes, n)
	}
	return g, nil
}

// AddEdge records a dependency. Both endpoints must be known nodes and
// the edge must not close a cycle.
func (g *Graph) AddEdge(e Edge) error {
	if !g.nodeSet[e.From] {
		return fmt.Errorf("%w: %s", ErrUnknownNode, e.From)
	}
	if !g.nodeSet[e.To] {
		return fmt.Errorf("%w: %s", ErrUnknownNode, e.To)
	}
	if e.Type == "" {
		e.Type = EdgeHard
	}

	g.Edges = append(g.Edges, e)
	if _, err := g.topoOrder(); err != nil {
		g.Edges = g.Edges[:len(g.Edges)-1]
		return fmt.Errorf("edge %s -> %s: %w", e.From, e.To, err)
	}
	return nil
}

// successors maps each node to the nodes it blocks.
func (g *Graph) successors() map[string][]string {
	out := make(map[string][]string, len(g.Nodes))
	for _, e := range g.Edges {
		out[e.From] = append(out[e.From], e.To)
	}
	return out
}

// topoOrder returns a topological order via Kahn's algorithm, or
// ErrCycle.
func (g *Graph) topoOrder() ([]string, error) {
	indegree := make(map[string]int, len(g.Nodes))
	for _, n := range g.Nodes {
		indegree[n] = 0
	}
	succ := g.successors()
	for _, e := range g.Edges {
		indegree[e.To]++
	}

	var queue []string
	for _, n := range g.Nodes {
		if indegree[n] == 0 {
			queue = append(queue, n)
		}
	}
	sort.Strings(queue)

	var order []string
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)

		var freed []string
		for _, next := range succ[n] {
			indegree[next]--
			if indegree[next] == 0 {
				freed = append(freed, next)
			}
		}
		sort.Strings(freed)
		queue = append(queue, freed...)
	}

	if len(order) != len(g.Nodes) {
		return nil, ErrCycle
	}
	return order, nil
}

// Analyze populates the critical path, bottlenecks, and parallelizable
// groups. It fails on a cyclic graph.
func (g *Graph) Analyze() error {
	order, err := g.topoOrder()
	if err != nil {
		return err
	}

	g.CriticalPath = g.criticalPath(order)
	g.Bottlenecks = g.bottlenecks()
	g.Parallelizable = g.parallelGroups()
	return nil
}

// criticalPath finds the longest dependency chain by walking nodes in
// topological order.
func (g *Graph) criticalPath(order []string) []string {
	succ := g.successors()

	// Longest path ending at each node, built over predecessors.
	best := make(map[string]int, len(order))
	prev := make(map[string]string, len(order))
	for _, n := range order {
		for _, next := range succ[n] {
			if best[n]+1 > best[next] {
				best[next] = best[n] + 1
				prev[next] = n
			}
		}
	}

	end := ""
	for _, n := range order {
		if end == "" || best[n] > best[end] {
			end = n
		}
	}
	if end == "" {
		return nil
	}

	var path []string
	for n := end; ; {
		path = append([]string{n}, path...)
		p, ok := prev[n]
		if !ok {
			break
		}
		n = p
	}
	return path
}

// bottlenecks lists nodes whose out-degree meets the threshold,
// sorted by severity then id.
func (g *Graph) bottlenecks() []string {
	threshold := g.BottleneckThreshold
	if threshold <= 0 {
		threshold = defaultBottleneckThreshold
	}

	outDegree := make(map[string]int)
	for _, e := range g.Edges {
		outDegree[e.From]++
	}

	var out []string
	for n, d := range outDegree {
		if d >= threshold {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if outDegree[out[i]] != outDegree[out[j]] {
			return outDegree[out[i]] > outDegree[out[j]]
		}
		return out[i] < out[j]
	})
	return out
}

// parallelGroups layers the DAG: each group holds stories whose
// dependencies are all satisfied by earlier layers. Only groups with
// two or more stories are parallelizable.
func (g *Graph) parallelGroups() [][]string {
	indegree := make(map[string]int, len(g.Nodes))
	for _, n := range g.Nodes {
		indegree[n] = 0
	}
	succ := g.successors()
	for _, e := range g.Edges {
		indegree[e.To]++
	}

	remaining := len(g.Nodes)
	var layer []string
	for _, n := range g.Nodes {
		if indegree[n] == 0 {
			layer = append(layer, n)
		}
	}

	var groups [][]string
	for remaining > 0 && len(layer) > 0 {
		sort.Strings(layer)
		if len(layer) > 1 {
			groups = append(groups, layer)
		}
		remaining -= len(layer)

		var next []string
		for _, n := range layer {
			for _, s := range succ[n] {
				indegree[s]--
				if indegree[s] == 0 {
					next = append(next, s)
				}
			}
		}
		layer = next
	}
	return groups
}

// BlockedBy returns the direct dependencies of a story.
func (g *Graph) BlockedBy(node string) []string {
	var out []string
	for _, e := range g.Edges {
		if e.To == node {
			out = append(out, e.From)
		}
	}
	sort.Strings(out)
	return out
}

// Save writes the graph as JSON, typically docs/dependency-graph.json.
func (g *Graph) Save(path string) error {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize dependency graph: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write dependency graph: %w", err)
	}
	return nil
}

// Load reads a graph from JSON and revalidates it.
func Load(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dependency graph: %w", err)
	}

	var g Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("failed to parse dependency graph: %w", err)
	}
	g.BottleneckThreshold = defaultBottleneckThreshold

	g.nodeSet = make(map[string]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		if g.nodeSet[n] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateNode, n)
		}
		g.nodeSet[n] = true
	}
	for _, e := range g.Edges {
		if !g.nodeSet[e.From] || !g.nodeSet[e.To] {
			return nil, fmt.Errorf("%w: edge %s -> %s", ErrUnknownNode, e.From, e.To)
		}
	}
	if _, err := g.topoOrder(); err != nil {
		return nil, err
	}
	return &g, nil
}
