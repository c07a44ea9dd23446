package topology

import "sort"

// Weights computes, for every candidate core in from, the average topology
// distance to the reference cores in to. A candidate that is itself a member
// of to is excluded from the result entirely: it already belongs to the
// destination and is not a transfer candidate. When excludeBeyond is set,
// reference cores at distance >= ceiling are not counted. A candidate with
// no counted distances gets weight 0 so that unconstrained cores rank first.
func Weights(t *Topology, ceiling int, from, to []int, excludeBeyond bool) map[int]float64 {
	weights := make(map[int]float64, len(from))

	for _, candidate := range from {
		total := 0
		count := 0
		member := false

		for _, ref := range to {
			if ref == candidate {
				member = true
				break
			}
			d := t.Distance(candidate, ref)
			if excludeBeyond && d >= ceiling {
				continue
			}
			total += d
			count++
		}

		if member {
			continue
		}
		if count == 0 {
			weights[candidate] = 0
		} else {
			weights[candidate] = float64(total) / float64(count)
		}
	}

	return weights
}

// RankClosest returns the candidates of from ordered by ascending average
// distance to the cores in to, candidates already in to removed. Ties keep
// the input order.
func RankClosest(t *Topology, ceiling int, from, to []int, excludeBeyond bool) []int {
	weights := Weights(t, ceiling, from, to, excludeBeyond)

	ranked := make([]int, 0, len(weights))
	for _, candidate := range from {
		if _, ok := weights[candidate]; ok {
			ranked = append(ranked, candidate)
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return weights[ranked[i]] < weights[ranked[j]]
	})

	return ranked
}
