package workflow

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// QualityPipelineName is the workflow name of the response-quality pipeline.
const QualityPipelineName = "response_quality"

// Quality flags attached by the scoring nodes.
const (
	FlagTooShort   = "too_short"
	FlagLowOverall = "low_overall"
)

// QualityState carries one agent response through rules-based scoring.
type QualityState struct {
	Status

	SessionID     string `json:"session_id"`
	Query         string `json:"query"`
	Response      string `json:"response"`
	SourceContext string `json:"source_context,omitempty"`

	Relevance   float64  `json:"relevance"`
	Accuracy    float64  `json:"accuracy"`
	Helpfulness float64  `json:"helpfulness"`
	Overall     float64  `json:"overall"`
	Flags       []string `json:"flags,omitempty"`
	NeedsReview bool     `json:"needs_review"`
}

// QualityReview is the persisted outcome of a scoring run.
type QualityReview struct {
	SessionID   string   `json:"session_id"`
	Query       string   `json:"query"`
	Response    string   `json:"response"`
	Relevance   float64  `json:"relevance"`
	Accuracy    float64  `json:"accuracy"`
	Helpfulness float64  `json:"helpfulness"`
	Overall     float64  `json:"overall"`
	Flags       []string `json:"flags,omitempty"`
	NeedsReview bool     `json:"needs_review"`
}

// ReviewStore persists quality reviews for the moderation queue.
type ReviewStore interface {
	SaveQualityReview(ctx context.Context, review *QualityReview) error
}

// QualityConfig tunes the scoring pipeline.
type QualityConfig struct {
	// ReviewThreshold is the overall score below which a response is
	// flagged low_overall. Default 0.6.
	ReviewThreshold float64
}

// DefaultQualityConfig returns the scoring defaults.
func DefaultQualityConfig() *QualityConfig {
	return &QualityConfig{ReviewThreshold: 0.6}
}

// Overall score weights: relevance 40%, accuracy 30%, helpfulness 30%.
const (
	relevanceWeight   = 0.4
	accuracyWeight    = 0.3
	helpfulnessWeight = 0.3
)

// minHelpfulLength is the response length below which helpfulness is zero
// and the too_short flag is set.
const minHelpfulLength = 20

// citationMarker matches inline citation markers of the form [1], [2], ...
var citationMarker = regexp.MustCompile(`\[\d+\]`)

// NewQualityPipeline builds the response-quality pipeline. A nil store
// skips review persistence; a nil or zero config falls back to defaults.
func NewQualityPipeline(config *QualityConfig, store ReviewStore, logger *zap.Logger) *Pipeline[QualityState] {
	if config == nil {
		config = DefaultQualityConfig()
	}
	threshold := config.ReviewThreshold
	if threshold <= 0 {
		threshold = DefaultQualityConfig().ReviewThreshold
	}

	nodes := []Node[QualityState]{
		{Name: "score_relevance", Run: scoreRelevance},
		{Name: "score_accuracy", Run: scoreAccuracy},
		{Name: "score_helpfulness", Run: scoreHelpfulness},
		{Name: "aggregate", Run: aggregateScores(threshold)},
		{Name: "persist_review", Run: persistReview(store)},
	}
	return NewPipeline(QualityPipelineName, logger, nodes)
}

// scoreRelevance measures the fraction of significant query terms (longer
// than two characters, lowercased, deduplicated) present in the response.
func scoreRelevance(_ context.Context, s QualityState) (Update[QualityState], error) {
	response := strings.ToLower(s.Response)

	seen := make(map[string]bool)
	total := 0
	matched := 0
	for _, term := range strings.Fields(strings.ToLower(s.Query)) {
		term = strings.Trim(term, ".,!?;:\"'")
		if len(term) <= 2 || seen[term] {
			continue
		}
		seen[term] = true
		total++
		if strings.Contains(response, term) {
			matched++
		}
	}

	relevance := 0.0
	if total > 0 {
		relevance = float64(matched) / float64(total)
	}
	return func(s *QualityState) { s.Relevance = relevance }, nil
}

// scoreAccuracy rewards grounding: source context contributes a 0.4 base
// and each citation marker adds 0.2, capped at 1.0. Two markers with
// source context present therefore score 0.8.
func scoreAccuracy(_ context.Context, s QualityState) (Update[QualityState], error) {
	markers := len(citationMarker.FindAllString(s.Response, -1))

	accuracy := 0.2 * float64(markers)
	if strings.TrimSpace(s.SourceContext) != "" {
		accuracy += 0.4
	}
	if accuracy > 1 {
		accuracy = 1
	}
	return func(s *QualityState) { s.Accuracy = accuracy }, nil
}

// scoreHelpfulness applies length and structure heuristics. Responses
// under 20 characters score zero and are flagged too_short.
func scoreHelpfulness(_ context.Context, s QualityState) (Update[QualityState], error) {
	response := strings.TrimSpace(s.Response)

	if len(response) < minHelpfulLength {
		return func(s *QualityState) {
			s.Helpfulness = 0
			s.Flags = append(s.Flags, FlagTooShort)
		}, nil
	}

	score := 0.5
	if len(response) >= 100 {
		score += 0.2
	}
	if strings.Contains(response, "\n") {
		score += 0.15
	}
	if hasListStructure(response) {
		score += 0.15
	}
	if score > 1 {
		score = 1
	}
	return func(s *QualityState) { s.Helpfulness = score }, nil
}

// hasListStructure reports whether any line reads like a bullet or a
// numbered step.
func hasListStructure(response string) bool {
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* ") {
			return true
		}
		if len(line) > 1 && line[0] >= '1' && line[0] <= '9' && (line[1] == '.' || line[1] == ')') {
			return true
		}
	}
	return false
}

// aggregateScores combines the three axes into the weighted overall score
// and decides review: any flag, including a sub-threshold overall, sets
// NeedsReview.
func aggregateScores(threshold float64) func(context.Context, QualityState) (Update[QualityState], error) {
	return func(_ context.Context, s QualityState) (Update[QualityState], error) {
		overall := relevanceWeight*s.Relevance + accuracyWeight*s.Accuracy + helpfulnessWeight*s.Helpfulness

		flagLow := overall < threshold
		return func(s *QualityState) {
			s.Overall = overall
			if flagLow {
				s.Flags = append(s.Flags, FlagLowOverall)
			}
			s.NeedsReview = len(s.Flags) > 0
		}, nil
	}
}

// persistReview writes the review row; the write is load-bearing for the
// moderation queue so a failure fails the node.
func persistReview(store ReviewStore) func(context.Context, QualityState) (Update[QualityState], error) {
	return func(ctx context.Context, s QualityState) (Update[QualityState], error) {
		if store == nil {
			return nil, nil
		}
		review := &QualityReview{
			SessionID:   s.SessionID,
			Query:       s.Query,
			Response:    s.Response,
			Relevance:   s.Relevance,
			Accuracy:    s.Accuracy,
			Helpfulness: s.Helpfulness,
			Overall:     s.Overall,
			Flags:       s.Flags,
			NeedsReview: s.NeedsReview,
		}
		if err := store.SaveQualityReview(ctx, review); err != nil {
			return nil, fmt.Errorf("save quality review: %w", err)
		}
		return nil, nil
	}
}
