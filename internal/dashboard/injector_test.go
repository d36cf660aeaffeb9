package dashboard

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loopsync/backend/internal/models"
)

func newDefaultInjector(t *testing.T) *Injector {
	t.Helper()
	src, err := DefaultSource()
	require.NoError(t, err)
	return NewInjector(src)
}

func TestBand(t *testing.T) {
	assert.Equal(t, "at risk", Band(69))
	assert.Equal(t, "healthy", Band(70))
	assert.Equal(t, "healthy", Band(84))
	assert.Equal(t, "excellent", Band(85))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 100))
	long := strings.Repeat("x", 120)
	got := Truncate(long, 100)
	assert.Equal(t, strings.Repeat("x", 100)+"...", got)
}

func TestDashboardContext(t *testing.T) {
	text := newDefaultInjector(t).DashboardContext()

	assert.Contains(t, text, "Culture pulse: 76/100")
	assert.Contains(t, text, "7-day history: 79, 78, 78, 77, 77, 76, 76")
	assert.Contains(t, text, "Engineering: 64/100 (-6, at risk)")
	assert.Contains(t, text, "Marketing: 88/100 (+3, excellent)")
	assert.Contains(t, text, "Burnout risk rising in Engineering")
	assert.Contains(t, text, "Signals: late-night commits")
	assert.NotContains(t, text, "Onboarding confusion", "resolved alerts are not listed")
	assert.Contains(t, text, "- Pending: 3")
	assert.Contains(t, text, "- In progress: 1")
	assert.Contains(t, text, "- Completed: 1")
	assert.NotContains(t, text, "Pager alerts every night", "only the five most recent feedback items")
	assert.Contains(t, text, "...", "long feedback is truncated")
}

func TestContextForQueryBurnout(t *testing.T) {
	text := newDefaultInjector(t).ContextForQuery("What's our burnout risk?")

	assert.Contains(t, text, "BURNOUT AND WORKLOAD CONTEXT")
	assert.Contains(t, text, "Engineering department score: 64/100")
	assert.Contains(t, text, "overwhelmed by the number of parallel projects")
	assert.Contains(t, text, "Pager alerts every night")
	assert.NotContains(t, text, "recognition shout-outs")
	assert.NotContains(t, text, "ACTION ITEM CONTEXT")
}

func TestContextForQueryIntentOrder(t *testing.T) {
	inj := newDefaultInjector(t)

	assert.Contains(t, inj.ContextForQuery("any open alerts for the team?"), "RISK CONTEXT")
	assert.Contains(t, inj.ContextForQuery("How is each department doing"), "TEAM AND DEPARTMENT CONTEXT")
	action := inj.ContextForQuery("show me the task list")
	assert.Contains(t, action, "ACTION ITEM CONTEXT")
	assert.Contains(t, action, "Reinstate weekly 1:1s [pending]")
	assert.NotContains(t, action, "Publish sales territory map")

	assert.Equal(t, inj.DashboardContext(), inj.ContextForQuery("hello"))
}

func TestInjectorEmptySnapshot(t *testing.T) {
	inj := NewInjector(NewStaticSource(models.DashboardSnapshot{}))
	text := inj.DashboardContext()
	assert.Contains(t, text, "Active risk alerts:\n- none")
	assert.Contains(t, inj.ContextForQuery("stress"), "Stress-related feedback:\n- none")
}

func TestMostRecentOrdersByTimestamp(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	items := []models.FeedbackItem{
		{ID: "old", Timestamp: base},
		{ID: "new", Timestamp: base.Add(2 * time.Hour)},
		{ID: "mid", Timestamp: base.Add(time.Hour)},
	}
	got := mostRecent(items, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "new", got[0].ID)
	assert.Equal(t, "mid", got[1].ID)
}
