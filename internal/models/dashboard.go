package models

import "time"

// CulturePulse is the organisation-wide engagement score
type CulturePulse struct {
	Score   int   `json:"score" yaml:"score"`
	Trend   int   `json:"trend" yaml:"trend"`
	History []int `json:"history" yaml:"history"`
}

// DepartmentHealth is a per-department health score
type DepartmentHealth struct {
	Name   string `json:"name" yaml:"name"`
	Score  int    `json:"score" yaml:"score"`
	Change int    `json:"change" yaml:"change"`
}

// RiskAlert flags a detected risk pattern
type RiskAlert struct {
	ID          string   `json:"id" yaml:"id"`
	Title       string   `json:"title" yaml:"title"`
	Severity    string   `json:"severity" yaml:"severity"`
	Department  string   `json:"department" yaml:"department"`
	Description string   `json:"description" yaml:"description"`
	Signals     []string `json:"signals" yaml:"signals"`
	Status      string   `json:"status" yaml:"status"`
}

// Action item statuses
const (
	ActionPending    = "pending"
	ActionInProgress = "in-progress"
	ActionCompleted  = "completed"
)

// ActionItem is a follow-up task created from feedback
type ActionItem struct {
	ID         string    `json:"id" yaml:"id"`
	Title      string    `json:"title" yaml:"title"`
	Status     string    `json:"status" yaml:"status"`
	Owner      string    `json:"owner" yaml:"owner"`
	Department string    `json:"department" yaml:"department"`
	DueDate    time.Time `json:"dueDate" yaml:"dueDate"`
}

// FeedbackItem is a single piece of employee feedback
type FeedbackItem struct {
	ID         string    `json:"id" yaml:"id"`
	Message    string    `json:"message" yaml:"message"`
	Sentiment  string    `json:"sentiment" yaml:"sentiment"`
	Department string    `json:"department" yaml:"department"`
	Tags       []string  `json:"tags" yaml:"tags"`
	Timestamp  time.Time `json:"timestamp" yaml:"timestamp"`
}

// DashboardSnapshot is the read model the assistant reasons over
type DashboardSnapshot struct {
	CulturePulse   CulturePulse       `json:"culturePulse" yaml:"culturePulse"`
	Departments    []DepartmentHealth `json:"departments" yaml:"departments"`
	RiskAlerts     []RiskAlert        `json:"riskAlerts" yaml:"riskAlerts"`
	ActionItems    []ActionItem       `json:"actionItems" yaml:"actionItems"`
	RecentFeedback []FeedbackItem     `json:"recentFeedback" yaml:"recentFeedback"`
}
