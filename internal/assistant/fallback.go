package assistant

import "strings"

type fallbackRule struct {
	keywords []string
	reply    string
}

// Checked in order against the raw user text.
var fallbackRules = []fallbackRule{
	{
		keywords: []string{"feedback"},
		reply: "Here's how to get the most out of your feedback: review the most recent comments for recurring themes, " +
			"acknowledge them openly with your team, and turn the top theme into a single owned action item. " +
			"Closing the loop quickly is what keeps people sharing honestly.",
	},
	{
		keywords: []string{"burnout", "stress"},
		reply: "Burnout signals are highest in Engineering right now, driven by on-call load and release pressure. " +
			"Consider rebalancing the on-call rotation, pausing one low-value project, and checking in during the next 1:1s.",
	},
	{
		keywords: []string{"risk", "retention"},
		reply: "There are active risk alerts worth reviewing, including rising burnout in Engineering and a manager " +
			"feedback gap in Customer Success. Assign an owner to each and plan stay conversations with key people.",
	},
	{
		keywords: []string{"team", "department"},
		reply: "Department health is mixed: Marketing and Sales are strong, Product and Customer Success are steady, " +
			"and Engineering is currently at risk. Focus first on the teams whose scores are falling.",
	},
	{
		keywords: []string{"action", "plan"},
		reply: "Keep action plans small: at most three items per quarter, each with one owner, a due date and a visible status. " +
			"Start with the pending items tied to active risk alerts.",
	},
	{
		keywords: []string{"culture", "pulse", "score"},
		reply: "The culture pulse is steady but trending slightly down over the last week. " +
			"Look at department-level scores to see where the drop is coming from before acting.",
	},
}

const defaultFallback = "I can help you understand your team's feedback, culture pulse, risk alerts and action items. " +
	"Try asking about burnout, department health or what to prioritise next."

// FallbackReply picks a canned answer by keyword; it never fails
func FallbackReply(text string) string {
	lower := strings.ToLower(text)
	for _, rule := range fallbackRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.reply
			}
		}
	}
	return defaultFallback
}

var actionablePhrases = []string{
	"recommend", "suggest", "consider", "next step", "action item", "you could", "you should", "try ", "1.", "- ",
}

// isActionable reports whether a reply proposes something to do
func isActionable(reply string) bool {
	lower := strings.ToLower(reply)
	for _, p := range actionablePhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
