package guardrails

import (
	"regexp"

	"loopsync/backend/internal/models"
)

type bannedPattern struct {
	category string
	re       *regexp.Regexp
}

type sensitivePattern struct {
	category string
	re       *regexp.Regexp
	warning  string
}

// Checked in order; the first match blocks the message.
var bannedPatterns = []bannedPattern{
	{"profanity", regexp.MustCompile(`(?i)\b(fuck\w*|shit\w*|bitch\w*|asshole\w*|bastard\w*|cunt\w*|dickhead\w*)\b`)},
	{"credentials", regexp.MustCompile(`(?i)\b(password|passwd|pwd)\s*[:=]\s*\S+`)},
	{"credentials", regexp.MustCompile(`(?i)\b(api[_\s-]?key|secret[_\s-]?key|access[_\s-]?token|private[_\s-]?key)\b`)},
	{"credentials", regexp.MustCompile(`\bsk-[A-Za-z0-9]{16,}\b`)},
	{"pii", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{"pii", regexp.MustCompile(`\b(?:\d{4}[ -]?){3}\d{4}\b`)},
	{"pii", regexp.MustCompile(`(?i)\b(social security number|credit card number|bank account number)\b`)},
	{"security", regexp.MustCompile(`(?i)\b(hack\w*|exploit\w*|jailbreak\w*|malware|ransomware|phishing|keylogger|backdoor|ddos)\b`)},
	{"security", regexp.MustCompile(`(?i)\b(sql\s+injection|bypass\s+(the\s+)?(security|authentication|login|filter)|privilege\s+escalation)\b`)},
	{"security", regexp.MustCompile(`(?i)\bignore\s+(all\s+)?(previous|prior|above)\s+instructions\b`)},
	{"violence", regexp.MustCompile(`(?i)\b(kill|murder|shoot|stab|beat\s+up|hurt)\s+(him|her|them|someone|somebody|my\s+(boss|manager|coworker|colleague|team))\b`)},
	{"violence", regexp.MustCompile(`(?i)\b(bomb|explosive|gun|firearm|weapon)s?\b`)},
}

// Disjoint from bannedPatterns; a match warns but never blocks.
var sensitivePatterns = []sensitivePattern{
	{
		category: "self-harm",
		re:       regexp.MustCompile(`(?i)\b(suicid\w*|self[\s-]?harm\w*|kill\s+myself|end\s+my\s+life|hurt\s+myself|want\s+to\s+die)\b`),
		warning:  "This conversation touches on personal safety. If you or someone you know is in crisis, please contact your Employee Assistance Program or local emergency services right away.",
	},
	{
		category: "harassment",
		re:       regexp.MustCompile(`(?i)\b(harass\w*|discriminat\w*|racis\w*|sexis\w*|bully\w*|hostile\s+work\s+environment|retaliat\w*)\b`),
		warning:  "Reports of harassment or discrimination should be escalated to HR through the formal reporting process.",
	},
	{
		category: "illegal",
		re:       regexp.MustCompile(`(?i)\b(illegal\w*|fraud\w*|embezzl\w*|brib\w*|theft|steal\w*|kickback\w*)\b`),
		warning:  "Potential illegal activity should be reported to Compliance or Legal rather than handled through the dashboard.",
	},
	{
		category: "legal-hr",
		re:       regexp.MustCompile(`(?i)\b(lawsuit\w*|sue|suing|lawyer\w*|attorney\w*|wrongful\w*|terminat\w*|fire\s+(him|her|them|someone)|whistleblow\w*|medical\s+leave|disabilit\w*)\b`),
		warning:  "This topic may have legal or HR implications. Please consult HR or Legal before acting on it.",
	},
}

const (
	bannedReason     = "Your message contains content that isn't allowed in this workspace."
	bannedSuggestion = "Please rephrase your question and focus on team feedback, engagement or culture insights."
)

// CheckBannedContent blocks text matching any banned pattern. SanitizedInput
// carries a placeholder naming the category; it is the only form of a blocked
// message that may be stored.
func CheckBannedContent(text string) models.GuardrailDecision {
	category := bannedCategory(text)
	if category == "" {
		return models.Allow()
	}
	return models.GuardrailDecision{
		Allowed:        false,
		Reason:         bannedReason,
		Suggestion:     bannedSuggestion,
		Severity:       models.SeverityHigh,
		SanitizedInput: RedactedPlaceholder(category),
	}
}

// RedactedPlaceholder stands in for blocked text in the conversation log
func RedactedPlaceholder(category string) string {
	return "[blocked: " + category + "]"
}

// CheckSensitiveContent allows text but attaches a warning when it touches a sensitive topic
func CheckSensitiveContent(text string) models.GuardrailDecision {
	for _, p := range sensitivePatterns {
		if p.re.MatchString(text) {
			return models.GuardrailDecision{
				Allowed:  true,
				Warning:  p.warning,
				Severity: models.SeverityMedium,
			}
		}
	}
	return models.Allow()
}

// bannedCategory returns the category of the first banned match
func bannedCategory(text string) string {
	for _, p := range bannedPatterns {
		if p.re.MatchString(text) {
			return p.category
		}
	}
	return ""
}
