// SPDX-License-Identifier: MPL-2.0

package dag

import (
	"errors"
	"slices"
	"testing"
)

func TestTopologicalSort_EmptyGraph(t *testing.T) {
	t.Parallel()

	order, err := New().TopologicalSort()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order != nil {
		t.Errorf("expected nil, got %v", order)
	}
}

func TestTopologicalSort_LinearChain(t *testing.T) {
	t.Parallel()

	g := New()
	g.AddEdge("auth-core", "payments")
	g.AddEdge("payments", "invoices")

	order, err := g.TopologicalSort()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := []string{"auth-core", "payments", "invoices"}
	if !slices.Equal(order, expected) {
		t.Errorf("expected %v, got %v", expected, order)
	}
}

func TestTopologicalSort_DiamondIsDeterministic(t *testing.T) {
	t.Parallel()

	build := func() *Graph {
		g := New()
		g.AddEdge("core", "billing")
		g.AddEdge("core", "audit")
		g.AddEdge("billing", "reports")
		g.AddEdge("audit", "reports")
		return g
	}

	first, err := build().TopologicalSort()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := []string{"core", "billing", "audit", "reports"}
	if !slices.Equal(first, expected) {
		t.Errorf("expected %v, got %v", expected, first)
	}
	for range 5 {
		again, _ := build().TopologicalSort()
		if !slices.Equal(again, first) {
			t.Fatalf("order changed between runs: %v vs %v", first, again)
		}
	}
}

func TestTopologicalSort_DuplicateEdges(t *testing.T) {
	t.Parallel()

	g := New()
	g.AddEdge("a", "b")
	g.AddEdge("a", "b")

	order, err := g.TopologicalSort()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(order, []string{"a", "b"}) {
		t.Errorf("got %v", order)
	}
	if got := g.Dependents("a"); !slices.Equal(got, []string{"b"}) {
		t.Errorf("Dependents(a) = %v", got)
	}
}

func TestTopologicalSort_CycleReportsPath(t *testing.T) {
	t.Parallel()

	g := New()
	g.AddNode("standalone")
	g.AddEdge("a", "b")
	g.AddEdge("b", "c")
	g.AddEdge("c", "a")
	g.AddEdge("c", "d")

	_, err := g.TopologicalSort()
	if !errors.Is(err, ErrCycle) {
		t.Fatalf("expected ErrCycle, got %v", err)
	}

	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected *CycleError, got %T", err)
	}
	expected := []string{"a", "b", "c", "a"}
	if !slices.Equal(cycleErr.Cycle, expected) {
		t.Errorf("cycle = %v, want %v", cycleErr.Cycle, expected)
	}
	if cycleErr.Error() != "dependency cycle detected: a -> b -> c -> a" {
		t.Errorf("message = %q", cycleErr.Error())
	}
}

func TestTopologicalSort_SelfLoop(t *testing.T) {
	t.Parallel()

	g := New()
	g.AddEdge("a", "a")

	var cycleErr *CycleError
	if _, err := g.TopologicalSort(); !errors.As(err, &cycleErr) {
		t.Fatalf("expected *CycleError, got %v", err)
	}
	if !slices.Equal(cycleErr.Cycle, []string{"a", "a"}) {
		t.Errorf("cycle = %v", cycleErr.Cycle)
	}
}
