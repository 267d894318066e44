package embedding

import (
	"errors"
	"hash/fnv"
	"math"
	"strconv"
	"strings"

	"github.com/spigell/jobmatch/internal/normalize"
)

const (
	// Dim is the dimension of every vector the engine stores.
	Dim = 512
	// ClusterDim is the width of each concept slice.
	ClusterDim = Dim / 8

	hashesPerTerm = 4
	decay         = 0.1
	phraseBoost   = 1.5
)

// Cluster is a concept group that owns a contiguous slice of the vector.
type Cluster struct {
	Name     string
	Weight   float64
	Keywords []string
}

// Offset returns the first dimension of cluster i.
func Offset(i int) int { return i * ClusterDim }

// Clusters are laid out in vector order.
var Clusters = []Cluster{
	{Name: "technical", Weight: 1.2, Keywords: []string{
		"machine learning", "deep learning", "neural network", "neural networks", "algorithms",
		"statistics", "mathematics", "modeling", "natural language processing", "computer vision",
		"reinforcement learning", "data science", "optimization",
	}},
	{Name: "infrastructure", Weight: 1.0, Keywords: []string{
		"aws", "gcp", "azure", "kubernetes", "docker", "cloud", "distributed systems", "mlops",
		"terraform", "infrastructure", "deployment", "scalability", "microservices",
	}},
	{Name: "applications", Weight: 1.1, Keywords: []string{
		"recommendation", "recommender", "search", "chatbots", "chatbot", "fraud", "forecasting",
		"ranking", "robotics", "autonomous", "speech recognition", "personalization",
	}},
	{Name: "industry", Weight: 0.8, Keywords: []string{
		"fintech", "healthcare", "finance", "e commerce", "ecommerce", "biotech", "automotive",
		"gaming", "retail", "insurance", "education", "banking",
	}},
	{Name: "experience", Weight: 0.9, Keywords: []string{
		"senior", "junior", "lead", "principal", "staff", "years", "experience", "mid level",
		"entry level", "intern", "graduate",
	}},
	{Name: "emerging", Weight: 1.0, Keywords: []string{
		"large language model", "generative ai", "artificial intelligence", "transformers",
		"diffusion", "agents", "retrieval augmented generation", "prompt engineering",
		"multimodal", "foundation models",
	}},
	{Name: "tooling", Weight: 1.0, Keywords: []string{
		"pytorch", "tensorflow", "scikit learn", "keras", "jax", "hugging face", "langchain",
		"mlflow", "spark", "airflow", "sql", "python",
	}},
	{Name: "soft", Weight: 0.6, Keywords: []string{
		"communication", "leadership", "teamwork", "collaboration", "mentoring",
		"problem solving", "stakeholder", "agile",
	}},
}

var aliases = map[string][]string{
	"ml":   {"machine", "learning"},
	"ai":   {"artificial", "intelligence"},
	"nlp":  {"natural", "language", "processing"},
	"llm":  {"large", "language", "model"},
	"llms": {"large", "language", "model"},
	"cv":   {"computer", "vision"},
	"k8s":  {"kubernetes"},
}

var stopwords = map[string]bool{
	"the": true, "and": true, "or": true, "an": true, "of": true, "to": true, "in": true,
	"for": true, "with": true, "on": true, "at": true, "by": true, "from": true, "is": true,
	"are": true, "be": true, "as": true, "we": true, "you": true, "our": true, "your": true,
	"will": true, "this": true, "that": true, "it": true, "its": true, "us": true, "who": true,
	"have": true, "has": true, "into": true, "such": true, "all": true, "can": true, "not": true,
	// JobText labels
	"job": true, "title": true, "company": true, "location": true, "seniority": true, "type": true,
	"specializations": true, "required": true, "skills": true, "salary": true, "description": true,
}

const maxPhraseWords = 4

var phrases = map[string]bool{}

func init() {
	add := func(p string) {
		words := words(p)
		if len(words) > 1 && len(words) <= maxPhraseWords {
			phrases[strings.Join(words, " ")] = true
		}
	}
	for _, t := range normalize.Terms() {
		add(t.Name)
		for _, a := range t.Aliases {
			add(a)
		}
	}
	for _, c := range Clusters {
		for _, kw := range c.Keywords {
			add(kw)
		}
	}
	for _, expansion := range aliases {
		add(strings.Join(expansion, " "))
	}
}

// words lowercases s and splits it on anything but letters, digits, '+' and '#'.
func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r == '+' || r == '#' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r > 127)
	})
}

type term struct {
	text   string
	phrase bool
}

// terms returns phrases in order of appearance followed by the remaining
// tokens, each once.
func terms(text string) []term {
	var expanded []string
	for _, w := range words(text) {
		if exp, ok := aliases[w]; ok {
			expanded = append(expanded, exp...)
			continue
		}
		expanded = append(expanded, w)
	}

	var phraseTerms, tokenTerms []term
	seen := map[string]bool{}

	for i := 0; i < len(expanded); {
		matched := 0
		for n := min(maxPhraseWords, len(expanded)-i); n > 1; n-- {
			candidate := strings.Join(expanded[i:i+n], " ")
			if phrases[candidate] {
				if !seen[candidate] {
					seen[candidate] = true
					phraseTerms = append(phraseTerms, term{text: candidate, phrase: true})
				}
				matched = n
				break
			}
		}
		if matched > 0 {
			i += matched
			continue
		}

		w := expanded[i]
		i++
		if len(w) < 2 || stopwords[w] || isNumber(w) || seen[w] {
			continue
		}
		seen[w] = true
		tokenTerms = append(tokenTerms, term{text: w})
	}

	return append(phraseTerms, tokenTerms...)
}

func isNumber(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

// Local computes a deterministic embedding without any network call.
func Local(text string) ([]float32, error) {
	ts := terms(text)
	if len(ts) == 0 {
		return nil, errors.New("text has no embeddable terms")
	}

	vec := make([]float64, Dim)
	present := make(map[string]bool, len(ts))
	for i, t := range ts {
		present[t.text] = true

		w := math.Exp(-decay * float64(i))
		if t.phrase {
			w *= phraseBoost
		}
		for k := 0; k < hashesPerTerm; k++ {
			h := fnv.New64a()
			_, _ = h.Write([]byte(t.text))
			_, _ = h.Write([]byte{'#', byte('0' + k)})
			sum := h.Sum64()

			sign := 1.0
			if sum>>63 == 1 {
				sign = -1
			}
			vec[sum%Dim] += sign * w / 2
		}
	}

	for ci, c := range Clusters {
		count := 0
		for _, kw := range c.Keywords {
			if present[strings.Join(words(kw), " ")] {
				count++
			}
		}
		if count == 0 {
			continue
		}
		boost := math.Min(1, 0.5+0.25*float64(count)) / 8
		for d := Offset(ci); d < Offset(ci)+ClusterDim; d++ {
			vec[d] += boost
		}
	}

	return normalize64(vec), nil
}

func normalize64(vec []float64) []float32 {
	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	out := make([]float32, len(vec))
	if sum == 0 {
		return out
	}
	norm := math.Sqrt(sum)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out
}

// Normalize scales vec to unit length. It reports false for zero, NaN or
// infinite vectors.
func Normalize(vec []float32) ([]float32, bool) {
	var sum float64
	for _, v := range vec {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, false
		}
		sum += f * f
	}
	if sum == 0 {
		return nil, false
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out, true
}
