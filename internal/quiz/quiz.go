// Package quiz maps quiz scores to result patterns.
package quiz

import (
	"fmt"
	"slices"
)

// Pattern is a result screen shown for scores in [MinScore, MaxScore].
type Pattern struct {
	Category string `json:"category"`
	Title    string `json:"title"`
	MinScore int    `json:"min_score"`
	MaxScore int    `json:"max_score"`
}

// Contains reports whether score falls in the pattern's inclusive range.
func (p Pattern) Contains(score int) bool {
	return score >= p.MinScore && score <= p.MaxScore
}

// Match returns the first pattern, in the given order, whose range contains
// score. Overlapping ranges resolve to the earlier pattern.
func Match(score int, patterns []Pattern) (Pattern, bool) {
	i := slices.IndexFunc(patterns, func(p Pattern) bool { return p.Contains(score) })
	if i < 0 {
		return Pattern{}, false
	}
	return patterns[i], true
}

// Validate checks that every pattern has a category and a non-inverted range.
func Validate(patterns []Pattern) error {
	for i, p := range patterns {
		if p.Category == "" {
			return fmt.Errorf("pattern %d: category is required", i)
		}
		if p.MaxScore < p.MinScore {
			return fmt.Errorf("pattern %d (%s): max score %d is below min score %d", i, p.Category, p.MaxScore, p.MinScore)
		}
	}
	return nil
}

// Session holds the answers of one in-progress quiz.
type Session struct {
	ID      string
	Answers map[string]int
}

func NewSession(id string) *Session {
	return &Session{ID: id, Answers: make(map[string]int)}
}

// Answer records the points for a question, replacing any earlier answer.
func (s *Session) Answer(questionID string, points int) {
	s.Answers[questionID] = points
}

// Score is the sum of all answered points.
func (s *Session) Score() int {
	total := 0
	for _, points := range s.Answers {
		total += points
	}
	return total
}

// Result matches the session's score against patterns.
func (s *Session) Result(patterns []Pattern) (Pattern, bool) {
	return Match(s.Score(), patterns)
}
