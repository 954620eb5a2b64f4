// Package pipeline defines the boundary with the content generation
// collaborators: article fetching, candidate generation, scoring, and
// refinement. The job service drives these stages; their implementations
// (third-party APIs, model calls, rendering) live outside this module.
package pipeline

import "context"

// Article is a fetched source article.
type Article struct {
	Title     string
	URL       string
	Source    string
	Summary   string
	Published string
}

// Candidate is a generated candidate post before scoring.
type Candidate struct {
	Title   string
	Content string
	Topic   string
	Sources []string
}

// Score is the weighted score breakdown of a candidate.
type Score struct {
	Relevance   float64
	Originality float64
	Depth       float64
	Clarity     float64
	Engagement  float64
	Total       float64
	Reasoning   string
}

// ScoredCandidate pairs a candidate with its score.
type ScoredCandidate struct {
	Candidate Candidate
	Score     Score
}

// Fetcher retrieves articles for the given topics from the given sources.
// An unavailable source yields no articles and a logged warning, never an
// error; the returned sequence may be empty.
type Fetcher interface {
	FetchAll(ctx context.Context, topics, sources []string, maxResults int) ([]Article, error)
}

// Generator produces candidate posts from fetched articles.
type Generator interface {
	GenerateCandidates(ctx context.Context, articles []Article, numCandidates int) ([]Candidate, error)
}

// Scorer scores candidates and returns them ordered by total score
// descending.
type Scorer interface {
	ScoreCandidates(ctx context.Context, candidates []Candidate) ([]ScoredCandidate, error)
}

// Refiner produces the final markdown (with front-matter) for the winning
// candidate.
type Refiner interface {
	RefineWinner(ctx context.Context, winner ScoredCandidate) (string, error)
}

// Pipeline bundles the four stage collaborators.
type Pipeline struct {
	Fetcher   Fetcher
	Generator Generator
	Scorer    Scorer
	Refiner   Refiner
}
