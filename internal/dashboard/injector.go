// Package dashboard renders dashboard metrics into prompt context for the assistant.
package dashboard

import (
	"fmt"
	"sort"
	"strings"

	"loopsync/backend/internal/models"
)

const (
	atRiskBelow      = 70
	excellentAtLeast = 85
	recentFeedback   = 5
	feedbackPreview  = 100
	focusDepartment  = "Engineering"
)

// Band classifies a department score
func Band(score int) string {
	switch {
	case score < atRiskBelow:
		return "at risk"
	case score >= excellentAtLeast:
		return "excellent"
	default:
		return "healthy"
	}
}

type intent int

const (
	intentNone intent = iota
	intentBurnout
	intentRisk
	intentTeam
	intentAction
)

// Checked in order; only the first matching group is used.
var intentGroups = []struct {
	intent   intent
	keywords []string
}{
	{intentBurnout, []string{"burnout", "stress", "workload"}},
	{intentRisk, []string{"risk", "alert"}},
	{intentTeam, []string{"team", "department"}},
	{intentAction, []string{"action", "task"}},
}

// Injector formats the current snapshot as plain text for the system prompt
type Injector struct {
	source Source
}

// NewInjector creates an injector reading from source
func NewInjector(source Source) *Injector {
	return &Injector{source: source}
}

// DashboardContext renders the full dashboard report
func (i *Injector) DashboardContext() string {
	snap := i.source.Snapshot()

	var b strings.Builder
	b.WriteString("CURRENT DASHBOARD DATA:\n\n")
	writePulse(&b, snap.CulturePulse)

	b.WriteString("\nDepartment health:\n")
	for _, d := range snap.Departments {
		writeDepartment(&b, d)
	}

	b.WriteString("\nActive risk alerts:\n")
	writeAlerts(&b, activeAlerts(snap.RiskAlerts))

	b.WriteString("\nAction items:\n")
	writeActionCounts(&b, snap.ActionItems)

	b.WriteString("\nRecent feedback:\n")
	writeFeedback(&b, mostRecent(snap.RecentFeedback, recentFeedback))

	return b.String()
}

// ContextForQuery renders a focused report for the first intent the query
// matches, or the full report when none matches.
func (i *Injector) ContextForQuery(query string) string {
	switch detectIntent(query) {
	case intentBurnout:
		return i.burnoutContext()
	case intentRisk:
		return i.riskContext()
	case intentTeam:
		return i.teamContext()
	case intentAction:
		return i.actionContext()
	default:
		return i.DashboardContext()
	}
}

func detectIntent(query string) intent {
	q := strings.ToLower(query)
	for _, g := range intentGroups {
		for _, kw := range g.keywords {
			if strings.Contains(q, kw) {
				return g.intent
			}
		}
	}
	return intentNone
}

func (i *Injector) burnoutContext() string {
	snap := i.source.Snapshot()

	var b strings.Builder
	b.WriteString("BURNOUT AND WORKLOAD CONTEXT:\n\n")
	for _, d := range snap.Departments {
		if d.Name == focusDepartment {
			fmt.Fprintf(&b, "%s department score: %d/100 (%s, %s from last period)\n",
				d.Name, d.Score, Band(d.Score), signed(d.Change))
		}
	}

	var atRisk []string
	for _, d := range snap.Departments {
		if d.Score < atRiskBelow {
			atRisk = append(atRisk, fmt.Sprintf("%s (%d)", d.Name, d.Score))
		}
	}
	if len(atRisk) > 0 {
		fmt.Fprintf(&b, "Departments at risk: %s\n", strings.Join(atRisk, ", "))
	}

	var related []models.RiskAlert
	for _, a := range activeAlerts(snap.RiskAlerts) {
		text := strings.ToLower(a.Title + " " + a.Description)
		if strings.Contains(text, "burnout") || strings.Contains(text, "workload") || strings.Contains(text, "stress") {
			related = append(related, a)
		}
	}
	if len(related) > 0 {
		b.WriteString("\nRelated alerts:\n")
		writeAlerts(&b, related)
	}

	b.WriteString("\nStress-related feedback:\n")
	var stressed []models.FeedbackItem
	for _, f := range snap.RecentFeedback {
		if mentionsStress(f) {
			stressed = append(stressed, f)
		}
	}
	writeFeedback(&b, stressed)

	return b.String()
}

func mentionsStress(f models.FeedbackItem) bool {
	for _, t := range f.Tags {
		t = strings.ToLower(t)
		if strings.Contains(t, "stress") || strings.Contains(t, "overwhelm") {
			return true
		}
	}
	msg := strings.ToLower(f.Message)
	return strings.Contains(msg, "stress") || strings.Contains(msg, "overwhelm")
}

func (i *Injector) riskContext() string {
	snap := i.source.Snapshot()

	var b strings.Builder
	b.WriteString("RISK CONTEXT:\n\n")
	active := activeAlerts(snap.RiskAlerts)
	fmt.Fprintf(&b, "Active risk alerts: %d\n", len(active))
	writeAlerts(&b, active)

	b.WriteString("\nDepartments at risk:\n")
	n := 0
	for _, d := range snap.Departments {
		if d.Score < atRiskBelow {
			writeDepartment(&b, d)
			n++
		}
	}
	if n == 0 {
		b.WriteString("- none\n")
	}
	return b.String()
}

func (i *Injector) teamContext() string {
	snap := i.source.Snapshot()

	var b strings.Builder
	b.WriteString("TEAM AND DEPARTMENT CONTEXT:\n\n")
	writePulse(&b, snap.CulturePulse)
	b.WriteString("\nDepartment health:\n")

	depts := make([]models.DepartmentHealth, len(snap.Departments))
	copy(depts, snap.Departments)
	sort.SliceStable(depts, func(a, c int) bool { return depts[a].Score > depts[c].Score })
	for _, d := range depts {
		writeDepartment(&b, d)
	}
	return b.String()
}

func (i *Injector) actionContext() string {
	snap := i.source.Snapshot()

	var b strings.Builder
	b.WriteString("ACTION ITEM CONTEXT:\n\n")
	writeActionCounts(&b, snap.ActionItems)
	b.WriteString("\nOpen items:\n")
	open := 0
	for _, a := range snap.ActionItems {
		if a.Status == models.ActionCompleted {
			continue
		}
		open++
		fmt.Fprintf(&b, "- %s [%s] owner: %s, department: %s", a.Title, a.Status, a.Owner, a.Department)
		if !a.DueDate.IsZero() {
			fmt.Fprintf(&b, ", due %s", a.DueDate.Format("2006-01-02"))
		}
		b.WriteString("\n")
	}
	if open == 0 {
		b.WriteString("- none\n")
	}
	return b.String()
}

func writePulse(b *strings.Builder, p models.CulturePulse) {
	fmt.Fprintf(b, "Culture pulse: %d/100 (trend %s)\n", p.Score, signed(p.Trend))
	if len(p.History) > 0 {
		h := p.History
		if len(h) > 7 {
			h = h[len(h)-7:]
		}
		parts := make([]string, len(h))
		for i, v := range h {
			parts[i] = fmt.Sprint(v)
		}
		fmt.Fprintf(b, "7-day history: %s\n", strings.Join(parts, ", "))
	}
}

func writeDepartment(b *strings.Builder, d models.DepartmentHealth) {
	fmt.Fprintf(b, "- %s: %d/100 (%s, %s)\n", d.Name, d.Score, signed(d.Change), Band(d.Score))
}

func writeAlerts(b *strings.Builder, alerts []models.RiskAlert) {
	if len(alerts) == 0 {
		b.WriteString("- none\n")
		return
	}
	for _, a := range alerts {
		fmt.Fprintf(b, "- [%s] %s (%s): %s\n", strings.ToUpper(a.Severity), a.Title, a.Department, a.Description)
		if len(a.Signals) > 0 {
			fmt.Fprintf(b, "  Signals: %s\n", strings.Join(a.Signals, ", "))
		}
	}
}

func writeActionCounts(b *strings.Builder, items []models.ActionItem) {
	counts := map[string]int{}
	for _, a := range items {
		counts[a.Status]++
	}
	fmt.Fprintf(b, "- Pending: %d\n- In progress: %d\n- Completed: %d\n",
		counts[models.ActionPending], counts[models.ActionInProgress], counts[models.ActionCompleted])
}

func writeFeedback(b *strings.Builder, items []models.FeedbackItem) {
	if len(items) == 0 {
		b.WriteString("- none\n")
		return
	}
	for _, f := range items {
		fmt.Fprintf(b, "- (%s, %s) \"%s\"\n", f.Department, f.Sentiment, Truncate(f.Message, feedbackPreview))
	}
}

func activeAlerts(alerts []models.RiskAlert) []models.RiskAlert {
	var out []models.RiskAlert
	for _, a := range alerts {
		if a.Status != "resolved" {
			out = append(out, a)
		}
	}
	return out
}

// mostRecent returns up to n items, newest first
func mostRecent(items []models.FeedbackItem, n int) []models.FeedbackItem {
	sorted := make([]models.FeedbackItem, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(a, c int) bool { return sorted[a].Timestamp.After(sorted[c].Timestamp) })
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

// Truncate shortens s to limit runes, appending "..." when it was longer
func Truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}

func signed(n int) string {
	if n > 0 {
		return fmt.Sprintf("+%d", n)
	}
	return fmt.Sprint(n)
}
