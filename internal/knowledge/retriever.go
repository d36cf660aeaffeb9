// Package knowledge ranks the built-in help articles against a user query.
package knowledge

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"loopsync/backend/internal/models"
	"loopsync/backend/pkg/cache"
	"loopsync/backend/pkg/logger"
)

//go:embed corpus.yaml
var corpusYAML []byte

// tagBoost weights a document tag found in the query
const tagBoost = 2

// relevantLimit is the number of articles injected into a prompt
const relevantLimit = 2

// LoadCorpus parses a YAML list of knowledge documents
func LoadCorpus(data []byte) ([]models.KnowledgeDoc, error) {
	var docs []models.KnowledgeDoc
	if err := yaml.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("parse knowledge corpus: %w", err)
	}
	return docs, nil
}

// DefaultCorpus returns the embedded help articles
func DefaultCorpus() ([]models.KnowledgeDoc, error) {
	return LoadCorpus(corpusYAML)
}

// Retriever scores documents by keyword overlap. The corpus is read-only after construction.
type Retriever struct {
	docs      []models.KnowledgeDoc
	haystacks []string
	tags      [][]string
	cache     *cache.Cache[string]
	log       *logger.Logger
}

// NewRetriever builds a retriever over docs. A nil cache disables memoisation.
func NewRetriever(docs []models.KnowledgeDoc, c *cache.Cache[string], log *logger.Logger) *Retriever {
	r := &Retriever{
		docs:      make([]models.KnowledgeDoc, len(docs)),
		haystacks: make([]string, len(docs)),
		tags:      make([][]string, len(docs)),
		cache:     c,
		log:       log.WithComponent("knowledge"),
	}
	copy(r.docs, docs)

	for i, d := range r.docs {
		lowerTags := make([]string, 0, len(d.Tags))
		for _, t := range d.Tags {
			lowerTags = append(lowerTags, strings.ToLower(t))
		}
		r.tags[i] = lowerTags
		r.haystacks[i] = strings.ToLower(d.Title + " " + d.Content + " " + strings.Join(d.Tags, " "))
	}
	return r
}

// Docs returns a copy of the corpus
func (r *Retriever) Docs() []models.KnowledgeDoc {
	out := make([]models.KnowledgeDoc, len(r.docs))
	copy(out, r.docs)
	return out
}

type scored struct {
	idx   int
	score int
}

// Search returns up to limit documents with a positive score, best first.
// Equal scores keep corpus order.
func (r *Retriever) Search(query string, limit int) []models.KnowledgeDoc {
	lowerQuery := strings.ToLower(query)
	words := queryWords(lowerQuery)

	var hits []scored
	for i, hay := range r.haystacks {
		score := 0
		for _, w := range words {
			if strings.Contains(hay, w) {
				score++
			}
		}
		for _, tag := range r.tags[i] {
			if tag != "" && strings.Contains(lowerQuery, tag) {
				score += tagBoost
			}
		}
		if score > 0 {
			hits = append(hits, scored{idx: i, score: score})
		}
	}

	sort.SliceStable(hits, func(a, b int) bool { return hits[a].score > hits[b].score })

	if limit >= 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]models.KnowledgeDoc, 0, len(hits))
	for _, h := range hits {
		out = append(out, r.docs[h.idx])
	}
	return out
}

// RelevantKnowledge renders the two best matching articles, or "" when nothing matches
func (r *Retriever) RelevantKnowledge(query string) string {
	key := strings.Join(queryWords(strings.ToLower(query)), " ")
	if r.cache != nil {
		if v, ok := r.cache.Get(key); ok {
			return v
		}
	}

	docs := r.Search(query, relevantLimit)
	text := render(docs)
	r.log.Debug("Knowledge lookup", "matches", len(docs))

	if r.cache != nil {
		r.cache.Set(key, text)
	}
	return text
}

func render(docs []models.KnowledgeDoc) string {
	if len(docs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("RELEVANT KNOWLEDGE BASE ARTICLES:\n")
	for _, d := range docs {
		fmt.Fprintf(&b, "\n### %s (%s)\n%s\n", d.Title, d.Category, d.Content)
	}
	return b.String()
}

// queryWords splits on whitespace and trims surrounding punctuation so
// "burnout?" still matches "burnout".
// queryWords splits on whitespace only; punctuation stays part of the word.
func queryWords(lowerQuery string) []string {
	return strings.Fields(lowerQuery)
}
