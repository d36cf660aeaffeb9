package models

import "time"

// ConversationSession groups one user's consecutive messages
type ConversationSession struct {
	ID            string        `json:"id"`
	UserID        string        `json:"userId"`
	StartTime     time.Time     `json:"startTime"`
	EndTime       *time.Time    `json:"endTime,omitempty"`
	Messages      []ChatMessage `json:"messages"`
	TotalMessages int           `json:"totalMessages"`
	Topics        []string      `json:"topics"`
}

// TopicCount is a topic with its session frequency
type TopicCount struct {
	Topic string `json:"topic"`
	Count int    `json:"count"`
}

// HourCount is an hour of day (0-23) with its message volume
type HourCount struct {
	Hour  int `json:"hour"`
	Count int `json:"count"`
}

// AnalyticsMetrics is derived from the conversation store on every request
type AnalyticsMetrics struct {
	TotalMessages             int          `json:"totalMessages"`
	TotalSessions             int          `json:"totalSessions"`
	AverageMessagesPerSession float64      `json:"averageMessagesPerSession"`
	AverageResponseTime       float64      `json:"averageResponseTime"`
	BlockedMessages           int          `json:"blockedMessages"`
	WarningMessages           int          `json:"warningMessages"`
	TopTopics                 []TopicCount `json:"topTopics"`
	PeakHours                 []HourCount  `json:"peakHours"`
}

// EmptyAnalytics returns the zero-valued metrics shape with non-nil slices
func EmptyAnalytics() AnalyticsMetrics {
	return AnalyticsMetrics{
		TopTopics: []TopicCount{},
		PeakHours: []HourCount{},
	}
}

// TimeRange bounds an analytics query; zero ends are open
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the range
func (r TimeRange) Contains(t time.Time) bool {
	if !r.Start.IsZero() && t.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && t.After(r.End) {
		return false
	}
	return true
}
