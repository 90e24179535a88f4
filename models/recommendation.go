package models

// Recommendation is a transient ranked suggestion, never persisted
type Recommendation struct {
	Grant           Grant    `json:"grant"`
	Score           float64  `json:"score"`
	MatchedKeywords []string `json:"matched_keywords"`
}
