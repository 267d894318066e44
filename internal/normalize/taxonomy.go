package normalize

import (
	"sort"
	"strings"
)

type Category string

const (
	CategoryCoreAI         Category = "core_ai"
	CategoryFrameworks     Category = "frameworks"
	CategoryCloud          Category = "cloud_mlops"
	CategoryConversational Category = "conversational_ai"
	CategoryData           Category = "data_tooling"
	CategorySoft           Category = "soft_skills"
)

// Weight is the importance of a category when scoring skill overlap.
func (c Category) Weight() float64 {
	switch c {
	case CategoryCoreAI:
		return 1.0
	case CategoryFrameworks:
		return 0.9
	case CategoryCloud, CategoryConversational:
		return 0.8
	case CategoryData:
		return 0.7
	case CategorySoft:
		return 0.4
	default:
		return 0.5
	}
}

// Term is one taxonomy entry. Name is the canonical lowercase form.
type Term struct {
	Name     string
	Category Category
	Aliases  []string
}

var taxonomy = []Term{
	{Name: "machine learning", Category: CategoryCoreAI, Aliases: []string{"ml"}},
	{Name: "deep learning", Category: CategoryCoreAI, Aliases: []string{"neural networks", "neural network"}},
	{Name: "natural language processing", Category: CategoryCoreAI, Aliases: []string{"nlp"}},
	{Name: "computer vision", Category: CategoryCoreAI},
	{Name: "large language models", Category: CategoryCoreAI, Aliases: []string{"llm", "llms", "large language model"}},
	{Name: "generative ai", Category: CategoryCoreAI, Aliases: []string{"genai", "gen ai"}},
	{Name: "reinforcement learning", Category: CategoryCoreAI},
	{Name: "retrieval augmented generation", Category: CategoryCoreAI, Aliases: []string{"rag", "retrieval-augmented generation"}},
	{Name: "data science", Category: CategoryCoreAI},
	{Name: "artificial intelligence", Category: CategoryCoreAI, Aliases: []string{"ai"}},

	{Name: "python", Category: CategoryFrameworks},
	{Name: "pytorch", Category: CategoryFrameworks, Aliases: []string{"torch"}},
	{Name: "tensorflow", Category: CategoryFrameworks, Aliases: []string{"tf"}},
	{Name: "keras", Category: CategoryFrameworks},
	{Name: "jax", Category: CategoryFrameworks},
	{Name: "scikit-learn", Category: CategoryFrameworks, Aliases: []string{"sklearn", "scikit"}},
	{Name: "hugging face", Category: CategoryFrameworks, Aliases: []string{"huggingface", "transformers"}},
	{Name: "langchain", Category: CategoryFrameworks},
	{Name: "llamaindex", Category: CategoryFrameworks, Aliases: []string{"llama index"}},
	{Name: "xgboost", Category: CategoryFrameworks},

	{Name: "aws", Category: CategoryCloud, Aliases: []string{"amazon web services"}},
	{Name: "gcp", Category: CategoryCloud, Aliases: []string{"google cloud"}},
	{Name: "azure", Category: CategoryCloud},
	{Name: "kubernetes", Category: CategoryCloud, Aliases: []string{"k8s"}},
	{Name: "docker", Category: CategoryCloud},
	{Name: "terraform", Category: CategoryCloud},
	{Name: "mlops", Category: CategoryCloud},
	{Name: "mlflow", Category: CategoryCloud},
	{Name: "kubeflow", Category: CategoryCloud},
	{Name: "sagemaker", Category: CategoryCloud},
	{Name: "vertex ai", Category: CategoryCloud},

	{Name: "dialogflow", Category: CategoryConversational},
	{Name: "rasa", Category: CategoryConversational},
	{Name: "amazon lex", Category: CategoryConversational},
	{Name: "bot framework", Category: CategoryConversational},
	{Name: "openai", Category: CategoryConversational, Aliases: []string{"gpt", "chatgpt"}},
	{Name: "chatbots", Category: CategoryConversational, Aliases: []string{"chatbot", "conversational ai"}},
	{Name: "speech recognition", Category: CategoryConversational, Aliases: []string{"asr"}},

	{Name: "sql", Category: CategoryData},
	{Name: "postgresql", Category: CategoryData, Aliases: []string{"postgres"}},
	{Name: "spark", Category: CategoryData, Aliases: []string{"pyspark"}},
	{Name: "kafka", Category: CategoryData},
	{Name: "airflow", Category: CategoryData},
	{Name: "pinecone", Category: CategoryData},
	{Name: "weaviate", Category: CategoryData},
	{Name: "qdrant", Category: CategoryData},
	{Name: "milvus", Category: CategoryData},
	{Name: "faiss", Category: CategoryData},
	{Name: "chroma", Category: CategoryData, Aliases: []string{"chromadb"}},
	{Name: "pgvector", Category: CategoryData},
	{Name: "vector databases", Category: CategoryData, Aliases: []string{"vector database", "vector db"}},

	{Name: "communication", Category: CategorySoft},
	{Name: "leadership", Category: CategorySoft},
	{Name: "teamwork", Category: CategorySoft},
	{Name: "collaboration", Category: CategorySoft},
	{Name: "mentoring", Category: CategorySoft, Aliases: []string{"mentorship"}},
	{Name: "problem solving", Category: CategorySoft, Aliases: []string{"problem-solving"}},
	{Name: "agile", Category: CategorySoft, Aliases: []string{"scrum"}},
}

type phrase struct {
	text string
	term *Term
}

var (
	byName  = map[string]*Term{}
	phrases []phrase
)

func init() {
	for i := range taxonomy {
		t := &taxonomy[i]
		byName[t.Name] = t
		phrases = append(phrases, phrase{text: fold(t.Name), term: t})
		for _, alias := range t.Aliases {
			byName[alias] = t
			phrases = append(phrases, phrase{text: fold(alias), term: t})
		}
	}
	// Longer phrases first so "vertex ai" wins over "ai".
	sort.SliceStable(phrases, func(i, j int) bool { return len(phrases[i].text) > len(phrases[j].text) })
}

// fold lowercases s and turns every rune that is not a letter, digit, '+' or
// '#' into a single space, padded on both sides for whole-word lookups.
func fold(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte(' ')
	space := true
	for _, r := range strings.ToLower(s) {
		keep := r == '+' || r == '#' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r > 127
		if keep {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	if !space {
		b.WriteByte(' ')
	}
	return b.String()
}

// Lookup resolves a skill name or alias to its taxonomy term.
func Lookup(skill string) (Term, bool) {
	key := strings.ToLower(strings.TrimSpace(skill))
	if t, ok := byName[key]; ok {
		return *t, true
	}
	if t, ok := byName[strings.TrimSpace(fold(key))]; ok {
		return *t, true
	}
	return Term{}, false
}

// CategoryOf returns the category of a skill, if the taxonomy knows it.
func CategoryOf(skill string) (Category, bool) {
	t, ok := Lookup(skill)
	return t.Category, ok
}

// Canonical maps a skill to its taxonomy name, or a trimmed lowercase form
// when the taxonomy does not know it.
func Canonical(skill string) string {
	if t, ok := Lookup(skill); ok {
		return t.Name
	}
	return strings.Join(strings.Fields(strings.ToLower(skill)), " ")
}

// Match returns the taxonomy terms mentioned in text, in taxonomy order.
// A span consumed by a longer phrase is not matched again by a shorter one.
func Match(text string) []Term {
	folded := fold(text)
	seen := make(map[string]bool)
	for _, p := range phrases {
		if seen[p.term.Name] {
			// still blank out the span so shorter phrases cannot reuse it
			folded = strings.ReplaceAll(folded, p.text, " ")
			continue
		}
		if strings.Contains(folded, p.text) {
			seen[p.term.Name] = true
			folded = strings.ReplaceAll(folded, p.text, " ")
		}
	}

	out := make([]Term, 0, len(seen))
	for _, t := range taxonomy {
		if seen[t.Name] {
			out = append(out, t)
		}
	}
	return out
}

// Terms returns a copy of the full taxonomy.
func Terms() []Term {
	out := make([]Term, len(taxonomy))
	copy(out, taxonomy)
	return out
}
