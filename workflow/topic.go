package workflow

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// LearningPipelineName is the workflow name of the learning-signal pipeline.
const LearningPipelineName = "learning_signal"

// LearningState carries one learning interaction through topic detection,
// mastery assessment, recommendation and persistence.
type LearningState struct {
	Status

	AgentID   string `json:"agent_id"`
	StudentID string `json:"student_id"`
	Input     string `json:"input"`

	Topic          string  `json:"topic,omitempty"`
	Confidence     float64 `json:"confidence"`
	PriorMastery   float64 `json:"prior_mastery"`
	Mastery        float64 `json:"mastery"`
	Recommendation string  `json:"recommendation,omitempty"`
}

// MasteryStore is the persistence surface the learning pipeline needs: a
// per-(agent, student, topic) mastery scalar with last-write-wins upsert.
type MasteryStore interface {
	// GetMastery returns the stored mastery and whether a row exists.
	GetMastery(ctx context.Context, agentID, studentID, topic string) (float64, bool, error)
	// UpsertMastery writes the mastery keyed by (agentID, studentID, topic),
	// replacing any existing row.
	UpsertMastery(ctx context.Context, agentID, studentID, topic string, mastery float64) error
}

// topicKeywords is the fixed keyword table topic detection scores against.
// Order matters: ties are broken by the first-declared topic.
var topicKeywords = []struct {
	topic    string
	keywords []string
}{
	{"algebra", []string{"equation", "variable", "solve", "quadratic", "polynomial", "algebra", "factor"}},
	{"geometry", []string{"triangle", "angle", "circle", "area", "perimeter", "geometry", "shape"}},
	{"fractions", []string{"fraction", "numerator", "denominator", "half", "quarter", "decimal"}},
	{"statistics", []string{"average", "mean", "median", "probability", "data", "graph"}},
	{"arithmetic", []string{"add", "subtract", "multiply", "divide", "sum", "difference"}},
}

// mastery update constants: each observed interaction nudges mastery with
// diminishing returns as it approaches 1.0.
const (
	masteryGainRate = 0.05
	masteryGainMin  = 0.01
)

// NewLearningPipeline builds the learning-signal pipeline. A nil store is
// allowed: mastery then starts from zero and nothing is persisted, which
// keeps the pipeline usable for pure classification.
func NewLearningPipeline(store MasteryStore, logger *zap.Logger) *Pipeline[LearningState] {
	nodes := []Node[LearningState]{
		{Name: "detect_topic", Run: detectTopic},
		{Name: "assess_mastery", Run: assessMastery(store)},
		{Name: "recommend", Run: recommendNextStep},
		{Name: "persist_progress", Run: persistProgress(store)},
	}
	return NewPipeline(LearningPipelineName, logger, nodes)
}

// detectTopic classifies the free-text input against the keyword table.
// The best match wins; confidence saturates below 1.0 as hit count grows.
func detectTopic(_ context.Context, s LearningState) (Update[LearningState], error) {
	input := strings.ToLower(s.Input)

	bestTopic := ""
	bestHits := 0
	for _, entry := range topicKeywords {
		hits := 0
		for _, kw := range entry.keywords {
			if strings.Contains(input, kw) {
				hits++
			}
		}
		if hits > bestHits {
			bestTopic = entry.topic
			bestHits = hits
		}
	}

	if bestHits == 0 {
		return func(s *LearningState) {
			s.Topic = ""
			s.Confidence = 0
		}, nil
	}

	confidence := float64(bestHits) / float64(bestHits+1)
	return func(s *LearningState) {
		s.Topic = bestTopic
		s.Confidence = confidence
	}, nil
}

// assessMastery loads the current mastery for the detected topic (a
// missing row reads as 0.0) and applies a diminishing-returns gain:
// delta = max(0.01, 0.05 × (1 − current)), clamped to 1.0.
func assessMastery(store MasteryStore) func(context.Context, LearningState) (Update[LearningState], error) {
	return func(ctx context.Context, s LearningState) (Update[LearningState], error) {
		if s.Topic == "" {
			return nil, nil
		}

		current := 0.0
		if store != nil {
			value, found, err := store.GetMastery(ctx, s.AgentID, s.StudentID, s.Topic)
			if err != nil {
				return nil, fmt.Errorf("load mastery for topic %s: %w", s.Topic, err)
			}
			if found {
				current = value
			}
		}

		delta := masteryGainRate * (1 - current)
		if delta < masteryGainMin {
			delta = masteryGainMin
		}
		next := current + delta
		if next > 1 {
			next = 1
		}

		return func(s *LearningState) {
			s.PriorMastery = current
			s.Mastery = next
		}, nil
	}
}

// recommendNextStep maps the updated mastery onto a next-step suggestion.
func recommendNextStep(_ context.Context, s LearningState) (Update[LearningState], error) {
	if s.Topic == "" {
		return nil, nil
	}

	var recommendation string
	switch {
	case s.Mastery < 0.3:
		recommendation = fmt.Sprintf("review the fundamentals of %s", s.Topic)
	case s.Mastery < 0.7:
		recommendation = fmt.Sprintf("practice more %s problems", s.Topic)
	default:
		recommendation = fmt.Sprintf("ready to advance beyond %s", s.Topic)
	}

	return func(s *LearningState) {
		s.Recommendation = recommendation
	}, nil
}

// persistProgress upserts the mastery row. The write is idempotent and
// last-write-wins, so concurrent runs touching the same key stay safe.
func persistProgress(store MasteryStore) func(context.Context, LearningState) (Update[LearningState], error) {
	return func(ctx context.Context, s LearningState) (Update[LearningState], error) {
		if s.Topic == "" || store == nil {
			return nil, nil
		}
		if err := store.UpsertMastery(ctx, s.AgentID, s.StudentID, s.Topic, s.Mastery); err != nil {
			return nil, fmt.Errorf("upsert mastery for topic %s: %w", s.Topic, err)
		}
		return nil, nil
	}
}
