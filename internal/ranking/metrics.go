// Package ranking scores job embeddings against a candidate query, applies
// personalization and re-ranking, and diversifies the result set.
package ranking

import (
	"fmt"
	"math"

	"github.com/spigell/jobmatch/internal/embedding"
)

type Metric string

const (
	MetricCosine        Metric = "cosine"
	MetricEuclidean     Metric = "euclidean"
	MetricManhattan     Metric = "manhattan"
	MetricClusterCosine Metric = "cluster_cosine"
	MetricHybrid        Metric = "hybrid"
)

func ParseMetric(s string) (Metric, error) {
	switch m := Metric(s); m {
	case MetricCosine, MetricEuclidean, MetricManhattan, MetricClusterCosine, MetricHybrid:
		return m, nil
	case "":
		return MetricClusterCosine, nil
	default:
		return "", fmt.Errorf("unknown similarity metric %q", s)
	}
}

// Similarity scores a and b with the metric. Results are in [0,1]; vectors of
// different length score 0.
func (m Metric) Similarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	switch m {
	case MetricCosine:
		return Cosine(a, b)
	case MetricEuclidean:
		return Euclidean(a, b)
	case MetricManhattan:
		return Manhattan(a, b)
	case MetricHybrid:
		return Hybrid(a, b)
	default:
		return ClusterCosine(a, b)
	}
}

// RawCosine is the cosine in [-1,1]. Zero vectors score 0.
func RawCosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / math.Sqrt(na*nb)
}

// Cosine clamps RawCosine to [0,1].
func Cosine(a, b []float32) float64 {
	return clamp01(RawCosine(a, b))
}

// Euclidean is 1 - d/(|a|+|b|), where |a|+|b| bounds the distance.
func Euclidean(a, b []float32) float64 {
	var d, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		d += (x - y) * (x - y)
		na += x * x
		nb += y * y
	}
	maxDist := math.Sqrt(na) + math.Sqrt(nb)
	if maxDist == 0 {
		return 0
	}
	return clamp01(1 - math.Sqrt(d)/maxDist)
}

// Manhattan is 1 - L1(a-b)/(L1(a)+L1(b)).
func Manhattan(a, b []float32) float64 {
	var d, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		d += math.Abs(x - y)
		na += math.Abs(x)
		nb += math.Abs(y)
	}
	if na+nb == 0 {
		return 0
	}
	return clamp01(1 - d/(na+nb))
}

const (
	globalShare  = 0.7
	clusterShare = 0.3
	sigmoidK     = 8.0
	sigmoidMid   = 0.5
	sigmoidFloor = 0.3
)

// ClusterCosine blends the global cosine with weighted per-slice cosines and
// sharpens the blend with a sigmoid. Blends under 0.3 score 0. Vectors that
// are not laid out in concept slices fall back to Cosine.
func ClusterCosine(a, b []float32) float64 {
	global := Cosine(a, b)
	if len(a) != embedding.Dim {
		return global
	}

	var weighted, weights float64
	for i, c := range embedding.Clusters {
		lo, hi := embedding.Offset(i), embedding.Offset(i)+embedding.ClusterDim
		if isZero(a[lo:hi]) && isZero(b[lo:hi]) {
			continue
		}
		weighted += c.Weight * Cosine(a[lo:hi], b[lo:hi])
		weights += c.Weight
	}

	blend := global
	if weights > 0 {
		blend = globalShare*global + clusterShare*weighted/weights
	}
	if blend < sigmoidFloor {
		return 0
	}
	return 1 / (1 + math.Exp(-sigmoidK*(blend-sigmoidMid)))
}

// activeEpsilon is the magnitude above which a dimension counts as active.
const activeEpsilon = 1e-6

// Hybrid is 0.5 cosine + 0.3 euclidean + 0.2 Jaccard over active dimensions.
func Hybrid(a, b []float32) float64 {
	var inter, union int
	for i := range a {
		x := math.Abs(float64(a[i])) > activeEpsilon
		y := math.Abs(float64(b[i])) > activeEpsilon
		if x && y {
			inter++
		}
		if x || y {
			union++
		}
	}
	jaccard := 0.0
	if union > 0 {
		jaccard = float64(inter) / float64(union)
	}
	return clamp01(0.5*Cosine(a, b) + 0.3*Euclidean(a, b) + 0.2*jaccard)
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
