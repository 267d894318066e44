package embedding

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	return dot / math.Sqrt(na*nb)
}

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func TestLocalIsDeterministicUnitVector(t *testing.T) {
	t.Parallel()

	a, err := Local("Senior ML Engineer building LLM agents")
	require.NoError(t, err)
	b, err := Local("Senior ML Engineer building LLM agents")
	require.NoError(t, err)

	require.Len(t, a, Dim)
	assert.Equal(t, a, b)
	assert.InDelta(t, 1.0, norm(a), 1e-5)
}

func TestLocalSimilarity(t *testing.T) {
	t.Parallel()

	query, err := Local("senior machine learning engineer pytorch aws")
	require.NoError(t, err)
	related, err := Local("ML engineer, PyTorch, AWS, 6 years")
	require.NoError(t, err)
	unrelated, err := Local("Pastry chef for a French bakery, croissants and bread")
	require.NoError(t, err)

	assert.Greater(t, cosine(query, related), 0.6)
	assert.Less(t, cosine(query, unrelated), 0.3)
}

func TestLocalRejectsEmptyText(t *testing.T) {
	t.Parallel()

	for _, text := range []string{"", "   ", "the and of 42"} {
		_, err := Local(text)
		assert.Error(t, err, text)
	}
}

func TestTermsExpandAliasesAndPreferPhrases(t *testing.T) {
	t.Parallel()

	got := terms("ML with k8s and deep learning, ML again")
	texts := make([]string, 0, len(got))
	for _, tm := range got {
		texts = append(texts, tm.text)
	}
	assert.Equal(t, []string{"machine learning", "deep learning", "kubernetes", "again"}, texts)
	assert.True(t, got[0].phrase)
	assert.False(t, got[2].phrase)
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	out, ok := Normalize([]float32{3, 4})
	require.True(t, ok)
	assert.InDelta(t, 0.6, out[0], 1e-6)
	assert.InDelta(t, 0.8, out[1], 1e-6)

	_, ok = Normalize([]float32{0, 0})
	assert.False(t, ok)
	_, ok = Normalize([]float32{float32(math.NaN()), 1})
	assert.False(t, ok)
}
