package topology

import (
	"testing"
)

func TestWeightsExcludesDestinationMembers(t *testing.T) {
	topo := makeTwoNodeTopology(t)

	weights := Weights(topo, 50, []int{0, 1, 4}, []int{1, 2}, false)

	if _, ok := weights[1]; ok {
		t.Error("candidate already in destination must be excluded")
	}
	if _, ok := weights[0]; !ok {
		t.Error("candidate 0 missing from result")
	}
	if _, ok := weights[4]; !ok {
		t.Error("candidate 4 missing from result")
	}
}

func TestWeightsAveragesDistances(t *testing.T) {
	topo := makeTwoNodeTopology(t)

	// Candidate 0 vs refs {1, 4}: (10 + 21) / 2
	weights := Weights(topo, 50, []int{0}, []int{1, 4}, false)
	if got, want := weights[0], 15.5; got != want {
		t.Errorf("weight = %v, want %v", got, want)
	}
}

func TestWeightsCeilingExclusion(t *testing.T) {
	topo := makeTwoNodeTopology(t)

	// With ceiling 21 and excludeBeyond, the remote ref does not count.
	weights := Weights(topo, 21, []int{0}, []int{1, 4}, true)
	if got, want := weights[0], 10.0; got != want {
		t.Errorf("weight = %v, want %v", got, want)
	}
}

func TestWeightsNoCountedDistances(t *testing.T) {
	topo := makeTwoNodeTopology(t)

	// Every reference is at or beyond the ceiling: weight defaults to 0.
	weights := Weights(topo, 10, []int{0}, []int{4, 5}, true)
	if got := weights[0]; got != 0 {
		t.Errorf("weight = %v, want 0", got)
	}
}

func TestWeightsEmptySets(t *testing.T) {
	topo := makeTwoNodeTopology(t)

	if got := Weights(topo, 50, nil, []int{1}, false); len(got) != 0 {
		t.Errorf("empty from must give empty result, got %v", got)
	}
	// Empty to: no distances counted, every candidate at weight 0.
	weights := Weights(topo, 50, []int{0, 4}, nil, false)
	if weights[0] != 0 || weights[4] != 0 {
		t.Errorf("empty to must give zero weights, got %v", weights)
	}
}

func TestRankClosestOrdersByAffinity(t *testing.T) {
	topo := makeTwoNodeTopology(t)

	// Refs on node 1: node-1 candidates must rank before node-0 ones.
	ranked := RankClosest(topo, 50, []int{0, 5, 1, 6}, []int{4, 7}, false)
	want := []int{5, 6, 0, 1}
	if len(ranked) != len(want) {
		t.Fatalf("ranked = %v, want %v", ranked, want)
	}
	for i := range want {
		if ranked[i] != want[i] {
			t.Fatalf("ranked = %v, want %v", ranked, want)
		}
	}
}

func TestRankClosestTiesKeepInputOrder(t *testing.T) {
	topo := makeTwoNodeTopology(t)

	// All candidates local to the refs: every weight identical.
	ranked := RankClosest(topo, 50, []int{2, 0, 3}, []int{1}, false)
	want := []int{2, 0, 3}
	for i := range want {
		if ranked[i] != want[i] {
			t.Fatalf("ranked = %v, want %v", ranked, want)
		}
	}
}
