// Package static is the built-in offline implementation of the pipeline
// collaborators. It synthesizes deterministic articles, candidates, and
// markdown so the orchestration core can run end to end without any
// external fetch or model services wired in.
package static

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/blogsmith/blogsmith/internal/config"
	"github.com/blogsmith/blogsmith/internal/pipeline"
)

// New builds a pipeline whose scorer applies the configured weights.
func New(weights config.ScoringWeights, logger *slog.Logger) pipeline.Pipeline {
	return pipeline.Pipeline{
		Fetcher:   &Fetcher{logger: logger},
		Generator: &Generator{},
		Scorer:    &Scorer{weights: weights},
		Refiner:   &Refiner{},
	}
}

// Fetcher synthesizes a small article set per topic/source pair.
type Fetcher struct {
	logger *slog.Logger
}

// FetchAll returns deterministic articles. An empty source list yields an
// empty sequence with a warning, never an error.
func (f *Fetcher) FetchAll(ctx context.Context, topics, sources []string, maxResults int) ([]pipeline.Article, error) {
	if len(sources) == 0 {
		f.logger.Warn("No sources configured, nothing to fetch")
		return nil, nil
	}

	var articles []pipeline.Article
	for _, topic := range topics {
		for _, source := range sources {
			if len(articles) >= maxResults {
				return articles, nil
			}
			articles = append(articles, pipeline.Article{
				Title:     fmt.Sprintf("%s roundup from %s", titleCase(topic), source),
				URL:       fmt.Sprintf("https://%s/articles/%s", source, strings.ReplaceAll(topic, " ", "-")),
				Source:    source,
				Summary:   fmt.Sprintf("Recent developments in %s collected from %s.", topic, source),
				Published: time.Now().UTC().Format(time.RFC3339),
			})
		}
	}
	return articles, nil
}

// Generator assembles candidate posts from the fetched articles.
type Generator struct{}

// GenerateCandidates produces up to numCandidates drafts, each built from
// a rotating slice of the source articles.
func (g *Generator) GenerateCandidates(ctx context.Context, articles []pipeline.Article, numCandidates int) ([]pipeline.Candidate, error) {
	if len(articles) == 0 {
		return nil, nil
	}

	candidates := make([]pipeline.Candidate, 0, numCandidates)
	for i := 0; i < numCandidates; i++ {
		lead := articles[i%len(articles)]

		var body strings.Builder
		fmt.Fprintf(&body, "## Overview\n\n%s\n\n## Highlights\n\n", lead.Summary)
		sources := make([]string, 0, len(articles))
		for _, a := range articles {
			fmt.Fprintf(&body, "- %s (%s)\n", a.Title, a.Source)
			sources = append(sources, a.URL)
		}

		candidates = append(candidates, pipeline.Candidate{
			Title:   fmt.Sprintf("%s, take %d", lead.Title, i+1),
			Content: body.String(),
			Topic:   topicFromURL(lead.URL),
			Sources: sources,
		})
	}
	return candidates, nil
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func topicFromURL(url string) string {
	parts := strings.Split(url, "/")
	return strings.ReplaceAll(parts[len(parts)-1], "-", " ")
}

// Scorer ranks candidates with the configured dimension weights.
type Scorer struct {
	weights config.ScoringWeights
}

// ScoreCandidates scores each candidate on a 0..1 scale per dimension and
// returns them ordered by weighted total, best first.
func (s *Scorer) ScoreCandidates(ctx context.Context, candidates []pipeline.Candidate) ([]pipeline.ScoredCandidate, error) {
	scored := make([]pipeline.ScoredCandidate, 0, len(candidates))
	for _, c := range candidates {
		score := s.score(c)
		scored = append(scored, pipeline.ScoredCandidate{Candidate: c, Score: score})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score.Total > scored[j].Score.Total
	})
	return scored, nil
}

func (s *Scorer) score(c pipeline.Candidate) pipeline.Score {
	words := len(strings.Fields(c.Content))

	sc := pipeline.Score{
		Relevance:   clamp(float64(len(c.Sources)) / 5.0),
		Originality: jitter(c.Title),
		Depth:       clamp(float64(words) / 400.0),
		Clarity:     clamp(1.0 - float64(len(c.Title))/120.0),
		Engagement:  jitter(c.Content),
	}
	sc.Total = sc.Relevance*s.weights.Relevance +
		sc.Originality*s.weights.Originality +
		sc.Depth*s.weights.Depth +
		sc.Clarity*s.weights.Clarity +
		sc.Engagement*s.weights.Engagement
	sc.Reasoning = fmt.Sprintf("%d words across %d sources", words, len(c.Sources))
	return sc
}

// jitter derives a stable pseudo-score from the text so equal-length
// candidates still rank deterministically.
func jitter(text string) float64 {
	h := fnv.New32a()
	h.Write([]byte(text))
	return 0.5 + float64(h.Sum32()%500)/1000.0
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Refiner renders the winning candidate as markdown with front-matter.
type Refiner struct{}

// RefineWinner produces the final document: YAML front-matter carrying
// topic, score, and sources, followed by the candidate body.
func (r *Refiner) RefineWinner(ctx context.Context, winner pipeline.ScoredCandidate) (string, error) {
	var b strings.Builder
	b.WriteString("---\n")
	fmt.Fprintf(&b, "title: %q\n", winner.Candidate.Title)
	fmt.Fprintf(&b, "topic: %q\n", winner.Candidate.Topic)
	fmt.Fprintf(&b, "score: %.3f\n", winner.Score.Total)
	fmt.Fprintf(&b, "date: %s\n", time.Now().UTC().Format("2006-01-02"))
	if len(winner.Candidate.Sources) > 0 {
		b.WriteString("sources:\n")
		for _, src := range winner.Candidate.Sources {
			fmt.Fprintf(&b, "  - %s\n", src)
		}
	}
	b.WriteString("---\n\n")
	fmt.Fprintf(&b, "# %s\n\n", winner.Candidate.Title)
	b.WriteString(winner.Candidate.Content)
	return b.String(), nil
}
