// Package conversation keeps the in-memory chat log, groups it into sessions
// and derives analytics from it.
package conversation

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"loopsync/backend/internal/models"
	"loopsync/backend/pkg/logger"
)

// topicVocabulary is matched by substring against session content
var topicVocabulary = []string{
	"burnout", "stress", "retention", "compensation", "culture", "feedback",
	"action", "risk", "team", "manager", "harassment", "workload",
}

const (
	topTopicsLimit = 10
	peakHoursLimit = 3
)

// Options configures a Store
type Options struct {
	// SessionWindow is how long after its start a session keeps absorbing messages
	SessionWindow time.Duration
	Retention     time.Duration
	SweepInterval time.Duration
	Clock         func() time.Time
}

// DefaultOptions returns a one hour session window and 30 day retention swept hourly
func DefaultOptions() Options {
	return Options{
		SessionWindow: time.Hour,
		Retention:     30 * 24 * time.Hour,
		SweepInterval: time.Hour,
	}
}

type entry struct {
	userID  string
	message models.ChatMessage
}

// Store is the process-local conversation log
type Store struct {
	mu       sync.RWMutex
	messages []entry
	sessions map[string][]*models.ConversationSession

	opts Options
	now  func() time.Time
	log  *logger.Logger

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewStore creates an empty store
func NewStore(opts Options, log *logger.Logger) *Store {
	def := DefaultOptions()
	if opts.SessionWindow <= 0 {
		opts.SessionWindow = def.SessionWindow
	}
	if opts.Retention <= 0 {
		opts.Retention = def.Retention
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = def.SweepInterval
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Store{
		sessions: make(map[string][]*models.ConversationSession),
		opts:     opts,
		now:      opts.Clock,
		log:      log.WithComponent("conversation"),
	}
}

// Save appends a message for userID and attaches it to the user's active session
func (s *Store) Save(userID string, role models.Role, content string, meta *models.Metadata) models.ChatMessage {
	now := s.now()
	msg := models.ChatMessage{
		ID:        models.NewMessageID(role, now),
		Role:      role,
		Content:   content,
		Timestamp: now,
	}
	if meta != nil {
		m := *meta
		msg.Metadata = &m
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = append(s.messages, entry{userID: userID, message: msg})

	sess := s.activeSession(userID, now)
	if sess == nil {
		sess = &models.ConversationSession{
			ID:        "session-" + uuid.NewString(),
			UserID:    userID,
			StartTime: now,
		}
		s.sessions[userID] = append(s.sessions[userID], sess)
	}
	sess.Messages = append(sess.Messages, msg)
	sess.TotalMessages++
	end := now
	sess.EndTime = &end
	sess.Topics = extractTopics(sess.Messages)

	return msg
}

// activeSession returns the user's latest session if it started within the
// session window. Caller holds mu.
func (s *Store) activeSession(userID string, now time.Time) *models.ConversationSession {
	list := s.sessions[userID]
	if len(list) == 0 {
		return nil
	}
	latest := list[len(list)-1]
	if now.Sub(latest.StartTime) <= s.opts.SessionWindow {
		return latest
	}
	return nil
}

func extractTopics(messages []models.ChatMessage) []string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(strings.ToLower(m.Content))
		b.WriteByte(' ')
	}
	content := b.String()

	topics := []string{}
	for _, t := range topicVocabulary {
		if strings.Contains(content, t) {
			topics = append(topics, t)
		}
	}
	return topics
}

// History returns the user's most recent limit messages in chronological order
func (s *Store) History(userID string, limit int) []models.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.ChatMessage{}
	if limit <= 0 {
		return out
	}
	for i := len(s.messages) - 1; i >= 0 && len(out) < limit; i-- {
		if s.messages[i].userID == userID {
			out = append(out, s.messages[i].message)
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Sessions returns copies of the user's sessions, oldest first
func (s *Store) Sessions(userID string) []models.ConversationSession {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.ConversationSession, 0, len(s.sessions[userID]))
	for _, sess := range s.sessions[userID] {
		c := *sess
		c.Messages = append([]models.ChatMessage(nil), sess.Messages...)
		c.Topics = append([]string(nil), sess.Topics...)
		out = append(out, c)
	}
	return out
}

// Analytics recomputes metrics over messages inside tr; nil means all time
func (s *Store) Analytics(tr *models.TimeRange) models.AnalyticsMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	metrics := models.EmptyAnalytics()

	var (
		responseTotal int64
		responseCount int
		hours         [24]int
	)
	for _, e := range s.messages {
		m := e.message
		if tr != nil && !tr.Contains(m.Timestamp) {
			continue
		}
		metrics.TotalMessages++
		hours[m.Timestamp.UTC().Hour()]++

		if m.Metadata == nil {
			continue
		}
		if m.Metadata.ResponseTime > 0 {
			responseTotal += m.Metadata.ResponseTime
			responseCount++
		}
		if m.Metadata.Blocked {
			metrics.BlockedMessages++
		}
		if m.Metadata.Warning != "" || m.Metadata.SensitiveWarning != "" {
			metrics.WarningMessages++
		}
	}

	topicCounts := map[string]int{}
	for _, list := range s.sessions {
		for _, sess := range list {
			if tr != nil && !sessionInRange(sess, tr) {
				continue
			}
			metrics.TotalSessions++
			for _, t := range sess.Topics {
				topicCounts[t]++
			}
		}
	}

	if metrics.TotalSessions > 0 {
		metrics.AverageMessagesPerSession = float64(metrics.TotalMessages) / float64(metrics.TotalSessions)
	}
	if responseCount > 0 {
		metrics.AverageResponseTime = float64(responseTotal) / float64(responseCount)
	}

	for _, t := range topicVocabulary {
		if c := topicCounts[t]; c > 0 {
			metrics.TopTopics = append(metrics.TopTopics, models.TopicCount{Topic: t, Count: c})
		}
	}
	sort.SliceStable(metrics.TopTopics, func(i, j int) bool {
		return metrics.TopTopics[i].Count > metrics.TopTopics[j].Count
	})
	if len(metrics.TopTopics) > topTopicsLimit {
		metrics.TopTopics = metrics.TopTopics[:topTopicsLimit]
	}

	for h, c := range hours {
		if c > 0 {
			metrics.PeakHours = append(metrics.PeakHours, models.HourCount{Hour: h, Count: c})
		}
	}
	sort.SliceStable(metrics.PeakHours, func(i, j int) bool {
		return metrics.PeakHours[i].Count > metrics.PeakHours[j].Count
	})
	if len(metrics.PeakHours) > peakHoursLimit {
		metrics.PeakHours = metrics.PeakHours[:peakHoursLimit]
	}

	return metrics
}

// sessionInRange reports whether any of the session's messages fall inside tr
func sessionInRange(sess *models.ConversationSession, tr *models.TimeRange) bool {
	for _, m := range sess.Messages {
		if tr.Contains(m.Timestamp) {
			return true
		}
	}
	return false
}

// Cleanup drops messages and sessions older than the retention period and
// returns the number of messages removed.
func (s *Store) Cleanup() int {
	cutoff := s.now().Add(-s.opts.Retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.messages[:0]
	removed := 0
	for _, e := range s.messages {
		if e.message.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(s.messages); i++ {
		s.messages[i] = entry{}
	}
	s.messages = kept

	for userID, list := range s.sessions {
		live := list[:0]
		for _, sess := range list {
			last := sess.StartTime
			if sess.EndTime != nil {
				last = *sess.EndTime
			}
			if last.Before(cutoff) {
				continue
			}
			live = append(live, sess)
		}
		if len(live) == 0 {
			delete(s.sessions, userID)
		} else {
			s.sessions[userID] = live
		}
	}
	return removed
}

// Start launches the retention sweep. Calling Start twice is a no-op.
func (s *Store) Start(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.sweepLoop(ctx, s.done)
}

// Stop halts the retention sweep and waits for it to exit
func (s *Store) Stop() {
	s.runMu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Store) sweepLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := s.Cleanup(); removed > 0 {
				s.log.Info("Removed expired conversation messages", "removed", removed)
			}
		}
	}
}
