package knowledge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loopsync/backend/internal/models"
	"loopsync/backend/pkg/cache"
	"loopsync/backend/pkg/logger"
)

func newTestRetriever(t *testing.T) *Retriever {
	t.Helper()
	docs, err := DefaultCorpus()
	require.NoError(t, err)
	require.NotEmpty(t, docs)
	return NewRetriever(docs, cache.New[string](cache.Options{}), logger.Nop())
}

func TestDefaultCorpusParses(t *testing.T) {
	docs, err := DefaultCorpus()
	require.NoError(t, err)
	ids := map[string]bool{}
	for _, d := range docs {
		assert.NotEmpty(t, d.Title)
		assert.NotEmpty(t, d.Content)
		assert.False(t, d.LastUpdated.IsZero())
		assert.False(t, ids[d.ID], "duplicate id %s", d.ID)
		ids[d.ID] = true
	}
}

func TestSearchBurnoutRanksFirst(t *testing.T) {
	r := newTestRetriever(t)
	got := r.Search("burnout stress workload", 3)
	require.NotEmpty(t, got)
	assert.Equal(t, "Responding to Burnout Feedback", got[0].Title)
	assert.LessOrEqual(t, len(got), 3)
}

func TestSearchExcludesZeroScores(t *testing.T) {
	r := newTestRetriever(t)
	assert.Empty(t, r.Search("zzzz qqqq", 5))
	assert.Empty(t, r.Search("", 5))
}

func TestSearchStableTies(t *testing.T) {
	docs := []models.KnowledgeDoc{
		{ID: "a", Title: "First", Content: "widget"},
		{ID: "b", Title: "Second", Content: "widget"},
		{ID: "c", Title: "Third", Content: "widget", Tags: []string{"widget"}},
	}
	r := NewRetriever(docs, nil, logger.Nop())
	got := r.Search("widget", 3)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{got[0].ID, got[1].ID, got[2].ID})
}

func TestSearchKeepsPunctuationInWords(t *testing.T) {
	docs := []models.KnowledgeDoc{{ID: "a", Title: "Widgets", Content: "widget care"}}
	r := NewRetriever(docs, nil, logger.Nop())

	assert.Len(t, r.Search("widget", 1), 1)
	assert.Empty(t, r.Search("widget?", 1))
}

func TestRelevantKnowledge(t *testing.T) {
	r := newTestRetriever(t)

	text := r.RelevantKnowledge("How should we respond to burnout?")
	assert.Contains(t, text, "Responding to Burnout Feedback")
	assert.Contains(t, text, "best-practice")

	// cached value is returned for the normalised query
	assert.Equal(t, text, r.RelevantKnowledge("how  should we respond to BURNOUT?"))

	assert.Equal(t, "", r.RelevantKnowledge("zzzz"))
}
