package ranking

import (
	"math/rand/v2"
	"slices"

	"github.com/spigell/jobmatch/internal/embedding"
)

const (
	maxClusters   = 5
	maxIterations = 20
)

// ClusterCount is min(5, n/3).
func ClusterCount(n int) int {
	return min(maxClusters, n/3)
}

// KMeans groups unit vectors into k clusters by cosine and returns the
// cluster index of every vector. Centroids are seeded k-means++ style from
// rng. Iteration stops when assignments are stable or after 20 rounds; a
// cluster that loses all members keeps its centroid.
func KMeans(vectors [][]float32, k int, rng *rand.Rand) []int {
	assign := make([]int, len(vectors))
	if k <= 1 || len(vectors) <= k {
		for i := range assign {
			assign[i] = min(i, max(k-1, 0))
		}
		return assign
	}

	centroids := seed(vectors, k, rng)
	for i := range assign {
		assign[i] = -1
	}
	for iter := 0; iter < maxIterations; iter++ {
		changed := false
		for i, v := range vectors {
			best, bestSim := 0, -2.0
			for c, centroid := range centroids {
				if sim := RawCosine(v, centroid); sim > bestSim {
					best, bestSim = c, sim
				}
			}
			if assign[i] != best {
				assign[i] = best
				changed = true
			}
		}
		if !changed {
			break
		}

		for c := range centroids {
			sum := make([]float32, len(centroids[c]))
			members := 0
			for i, v := range vectors {
				if assign[i] != c {
					continue
				}
				members++
				for d := range sum {
					sum[d] += v[d]
				}
			}
			if members == 0 {
				continue
			}
			centroids[c] = unit(sum)
		}
	}
	return assign
}

// seed picks the first centroid uniformly and every next one with
// probability proportional to its squared distance from the closest centroid
// chosen so far.
func seed(vectors [][]float32, k int, rng *rand.Rand) [][]float32 {
	centroids := [][]float32{unit(vectors[rng.IntN(len(vectors))])}
	dist := make([]float64, len(vectors))
	for len(centroids) < k {
		last := centroids[len(centroids)-1]
		total := 0.0
		for i, v := range vectors {
			d := max(0, 2-2*RawCosine(v, last))
			if len(centroids) == 1 || d < dist[i] {
				dist[i] = d
			}
			total += dist[i]
		}
		if total == 0 {
			centroids = append(centroids, unit(vectors[rng.IntN(len(vectors))]))
			continue
		}

		r := rng.Float64() * total
		pick, cum := len(vectors)-1, 0.0
		for i, d := range dist {
			cum += d
			if r < cum {
				pick = i
				break
			}
		}
		centroids = append(centroids, unit(vectors[pick]))
	}
	return centroids
}

func unit(v []float32) []float32 {
	if out, ok := embedding.Normalize(v); ok {
		return out
	}
	return slices.Clone(v)
}

// representatives walks clusters round-robin, best cluster first, taking the
// next best member from each until limit indexes are picked. order lists the
// candidate indexes best first; assign maps an index to its cluster.
func representatives(order []int, assign []int, limit int) []int {
	var clusters []int
	members := map[int][]int{}
	for _, idx := range order {
		c := assign[idx]
		if _, ok := members[c]; !ok {
			clusters = append(clusters, c)
		}
		members[c] = append(members[c], idx)
	}

	picked := make([]int, 0, min(limit, len(order)))
	for round := 0; len(picked) < limit; round++ {
		progressed := false
		for _, c := range clusters {
			if round < len(members[c]) && len(picked) < limit {
				picked = append(picked, members[c][round])
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}
	return picked
}
