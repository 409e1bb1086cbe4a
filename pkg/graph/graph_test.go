package graph

import (
	"errors"
	"path/filepath"
	"reflect"
	"testing"
)

func buildGraph(t *testing.T, nodes []string, edges []Edge) *Graph {
	t.Helper()
	g, err := New(nodes...)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range edges {
		if err := g.AddEdge(e); err != nil {
			t.Fatalf("AddEdge(%s -> %s): %v", e.From, e.To, err)
		}
	}
	return g
}

func TestAddEdgeUnknownNode(t *testing.T) {
	g, _ := New("story-1")
	err := g.AddEdge(Edge{From: "story-1", To: "story-9"})
	if !errors.Is(err, ErrUnknownNode) {
		t.Errorf("err = %v, want ErrUnknownNode", err)
	}
}

func TestDuplicateNode(t *testing.T) {
	if _, err := New("story-1", "story-1"); !errors.Is(err, ErrDuplicateNode) {
		t.Errorf("err = %v, want ErrDuplicateNode", err)
	}
}

func TestCycleRejected(t *testing.T) {
	g := buildGraph(t, []string{"a", "b", "c"}, []Edge{
		{From: "a", To: "b"},
		{From: "b", To: "c"},
	})

	err := g.AddEdge(Edge{From: "c", To: "a"})
	if !errors.Is(err, ErrCycle) {
		t.Fatalf("err = %v, want ErrCycle", err)
	}
	// The rejected edge must not linger.
	if len(g.Edges) != 2 {
		t.Errorf("edges = %d, want 2", len(g.Edges))
	}
	if err := g.Analyze(); err != nil {
		t.Errorf("graph should still analyze cleanly: %v", err)
	}
}

func TestSelfLoopRejected(t *testing.T) {
	g, _ := New("a")
	if err := g.AddEdge(Edge{From: "a", To: "a"}); !errors.Is(err, ErrCycle) {
		t.Errorf("err = %v, want ErrCycle", err)
	}
}

func TestCriticalPath(t *testing.T) {
	// a -> b -> d -> e is the longest chain; c is a side branch.
	g := buildGraph(t, []string{"a", "b", "c", "d", "e"}, []Edge{
		{From: "a", To: "b"},
		{From: "a", To: "c"},
		{From: "b", To: "d"},
		{From: "d", To: "e"},
	})
	if err := g.Analyze(); err != nil {
		t.Fatal(err)
	}

	want := []string{"a", "b", "d", "e"}
	if !reflect.DeepEqual(g.CriticalPath, want) {
		t.Errorf("critical path = %v, want %v", g.CriticalPath, want)
	}
}

func TestCriticalPathIsTopological(t *testing.T) {
	g := buildGraph(t, []string{"auth", "db", "api", "ui", "deploy"}, []Edge{
		{From: "db", To: "auth"},
		{From: "auth", To: "api"},
		{From: "api", To: "ui"},
		{From: "ui", To: "deploy"},
	})
	if err := g.Analyze(); err != nil {
		t.Fatal(err)
	}

	pos := make(map[string]int)
	for i, n := range g.CriticalPath {
		pos[n] = i
	}
	for _, e := range g.Edges {
		pi, iOK := pos[e.From]
		pj, jOK := pos[e.To]
		if iOK && jOK && pi >= pj {
			t.Errorf("critical path violates edge %s -> %s: %v", e.From, e.To, g.CriticalPath)
		}
	}
}

func TestBottlenecks(t *testing.T) {
	nodes := []string{"core", "a", "b", "c", "d", "e"}
	g := buildGraph(t, nodes, []Edge{
		{From: "core", To: "a"},
		{From: "core", To: "b"},
		{From: "core", To: "c"},
		{From: "core", To: "d"},
		{From: "a", To: "e"},
	})
	if err := g.Analyze(); err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(g.Bottlenecks, []string{"core"}) {
		t.Errorf("bottlenecks = %v, want [core]", g.Bottlenecks)
	}
}

func TestBottleneckThresholdConfigurable(t *testing.T) {
	g := buildGraph(t, []string{"hub", "x", "y"}, []Edge{
		{From: "hub", To: "x"},
		{From: "hub", To: "y"},
	})
	g.BottleneckThreshold = 2
	if err := g.Analyze(); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(g.Bottlenecks, []string{"hub"}) {
		t.Errorf("bottlenecks = %v, want [hub]", g.Bottlenecks)
	}
}

func TestParallelGroups(t *testing.T) {
	// b and c only depend on a, so they form a parallel group.
	g := buildGraph(t, []string{"a", "b", "c", "d"}, []Edge{
		{From: "a", To: "b"},
		{From: "a", To: "c"},
		{From: "b", To: "d"},
		{From: "c", To: "d"},
	})
	if err := g.Analyze(); err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(g.Parallelizable, [][]string{{"b", "c"}}) {
		t.Errorf("parallelizable = %v, want [[b c]]", g.Parallelizable)
	}
}

func TestBlockedBy(t *testing.T) {
	g := buildGraph(t, []string{"a", "b", "c"}, []Edge{
		{From: "a", To: "c"},
		{From: "b", To: "c"},
	})
	if !reflect.DeepEqual(g.BlockedBy("c"), []string{"a", "b"}) {
		t.Errorf("blocked by = %v", g.BlockedBy("c"))
	}
	if g.BlockedBy("a") != nil {
		t.Errorf("a should have no blockers")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	g := buildGraph(t, []string{"a", "b", "c"}, []Edge{
		{From: "a", To: "b", Type: EdgeHard, Blocking: true, Reasoning: "schema first"},
		{From: "b", To: "c", Type: EdgeSoft},
	})
	if err := g.Analyze(); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "dependency-graph.json")
	if err := g.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(loaded.Nodes, g.Nodes) || len(loaded.Edges) != 2 {
		t.Errorf("loaded graph differs: %+v", loaded)
	}
	if loaded.Edges[0].Reasoning != "schema first" {
		t.Errorf("edge reasoning lost: %+v", loaded.Edges[0])
	}
	// Loaded graphs keep working.
	if err := loaded.AddEdge(Edge{From: "a", To: "c"}); err != nil {
		t.Errorf("AddEdge on loaded graph: %v", err)
	}
}

func TestLoadRejectsCyclicFile(t *testing.T) {
	g := &Graph{
		Nodes: []string{"a", "b"},
		Edges: []Edge{{From: "a", To: "b"}, {From: "b", To: "a"}},
	}
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := g.Save(path); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); !errors.Is(err, ErrCycle) {
		t.Errorf("err = %v, want ErrCycle", err)
	}
}
