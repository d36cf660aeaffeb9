package models

import "time"

// KnowledgeCategory classifies help articles
type KnowledgeCategory string

const (
	CategoryPolicy       KnowledgeCategory = "policy"
	CategoryBestPractice KnowledgeCategory = "best-practice"
	CategoryFAQ          KnowledgeCategory = "faq"
	CategoryGuide        KnowledgeCategory = "guide"
)

// KnowledgeDoc is a static help article available to the assistant
type KnowledgeDoc struct {
	ID          string            `json:"id" yaml:"id"`
	Title       string            `json:"title" yaml:"title"`
	Content     string            `json:"content" yaml:"content"`
	Category    KnowledgeCategory `json:"category" yaml:"category"`
	Tags        []string          `json:"tags" yaml:"tags"`
	LastUpdated time.Time         `json:"lastUpdated" yaml:"lastUpdated"`
}
