package ranking

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spigell/jobmatch/internal/embedding"
)

func TestMetricsOnSimpleVectors(t *testing.T) {
	t.Parallel()

	x := []float32{1, 0}
	y := []float32{0, 1}
	neg := []float32{-1, 0}

	assert.InDelta(t, 1, Cosine(x, x), 1e-9)
	assert.InDelta(t, 0, Cosine(x, y), 1e-9)
	assert.InDelta(t, 0, Cosine(x, neg), 1e-9)
	assert.InDelta(t, -1, RawCosine(x, neg), 1e-9)

	assert.InDelta(t, 1, Euclidean(x, x), 1e-9)
	assert.InDelta(t, 1-math.Sqrt2/2, Euclidean(x, y), 1e-9)
	assert.InDelta(t, 0, Euclidean(x, neg), 1e-9)

	assert.InDelta(t, 1, Manhattan(x, x), 1e-9)
	assert.InDelta(t, 0, Manhattan(x, y), 1e-9)

	assert.InDelta(t, 1, Hybrid(x, x), 1e-9)
	assert.InDelta(t, 0.3*(1-math.Sqrt2/2), Hybrid(x, y), 1e-9)

	assert.Zero(t, MetricCosine.Similarity(x, []float32{1, 0, 0}))
	assert.Zero(t, Cosine([]float32{0, 0}, x))
}

func TestClusterCosine(t *testing.T) {
	t.Parallel()

	a, err := embedding.Local("senior machine learning engineer pytorch aws")
	require.NoError(t, err)

	assert.InDelta(t, 1/(1+math.Exp(-4)), ClusterCosine(a, a), 1e-6)

	orthogonal := make([]float32, embedding.Dim)
	other := make([]float32, embedding.Dim)
	orthogonal[0], other[1] = 1, 1
	assert.Zero(t, ClusterCosine(orthogonal, other), "blends under the floor score zero")

	short := []float32{1, 1}
	assert.InDelta(t, 1, ClusterCosine(short, short), 1e-9)
}

func TestClusterCosineSeparatesRelatedPostings(t *testing.T) {
	t.Parallel()

	query, err := embedding.Local("senior machine learning engineer pytorch aws")
	require.NoError(t, err)
	related, err := embedding.Local("ML engineer, PyTorch, AWS, 6 years")
	require.NoError(t, err)
	unrelated, err := embedding.Local("Pastry chef for a French bakery, croissants and bread")
	require.NoError(t, err)

	assert.Greater(t, ClusterCosine(query, related), 0.9)
	assert.Zero(t, ClusterCosine(query, unrelated))
}

func TestParseMetric(t *testing.T) {
	t.Parallel()

	m, err := ParseMetric("")
	require.NoError(t, err)
	assert.Equal(t, MetricClusterCosine, m)

	m, err = ParseMetric("hybrid")
	require.NoError(t, err)
	assert.Equal(t, MetricHybrid, m)

	_, err = ParseMetric("dot")
	assert.Error(t, err)
}

func TestKMeansSeparatesGroups(t *testing.T) {
	t.Parallel()

	e0 := []float32{1, 0, 0, 0}
	e1 := []float32{0, 1, 0, 0}
	vectors := [][]float32{e0, e0, e0, e1, e1, e1}

	for seed := uint64(0); seed < 5; seed++ {
		assign := KMeans(vectors, 2, rand.New(rand.NewPCG(seed, 1)))
		assert.Equal(t, assign[0], assign[1])
		assert.Equal(t, assign[0], assign[2])
		assert.Equal(t, assign[3], assign[4])
		assert.Equal(t, assign[3], assign[5])
		assert.NotEqual(t, assign[0], assign[3], "seed %d", seed)
	}

	assert.Equal(t, []int{0, 1}, KMeans([][]float32{e0, e1}, 2, rand.New(rand.NewPCG(1, 1))))
	assert.Equal(t, []int{0, 0, 0}, KMeans([][]float32{e0, e1, e0}, 1, rand.New(rand.NewPCG(1, 1))))
}

func TestClusterCountAndRepresentatives(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1, ClusterCount(5))
	assert.Equal(t, 4, ClusterCount(12))
	assert.Equal(t, 5, ClusterCount(30))

	order := []int{0, 1, 2, 3, 4}
	assign := []int{0, 0, 1, 1, 2}
	assert.Equal(t, []int{0, 2, 4, 1}, representatives(order, assign, 4))
	assert.Equal(t, []int{0, 2, 4, 1, 3}, representatives(order, assign, 10))
}
