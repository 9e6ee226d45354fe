package bus

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/agentbus/envelope"
	"github.com/BaSui01/agentbus/types"
)

// FeedbackSink persists feedback envelopes to the durable store.
// Implemented by the persistence layer.
type FeedbackSink interface {
	SaveFeedbackEnvelope(ctx context.Context, env *envelope.Envelope) error
}

// FeedbackTransport routes feedback.submitted envelopes into a durable sink.
type FeedbackTransport struct {
	sink   FeedbackSink
	logger *zap.Logger
}

// NewFeedbackTransport creates the database-backed feedback delivery strategy.
func NewFeedbackTransport(sink FeedbackSink, logger *zap.Logger) (*FeedbackTransport, error) {
	if sink == nil {
		return nil, types.NewError(types.ErrConfig, "feedback transport requires a sink").WithComponent("bus")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FeedbackTransport{
		sink:   sink,
		logger: logger.With(zap.String("component", "bus"), zap.String("transport", "feedback")),
	}, nil
}

func (t *FeedbackTransport) Name() string { return "feedback" }

// Deliver persists one feedback.submitted envelope. Other message types
// are rejected so that routing mistakes surface instead of writing noise.
func (t *FeedbackTransport) Deliver(ctx context.Context, env *envelope.Envelope) *PublishResult {
	result := &PublishResult{DeliveredTo: []string{}}
	if env == nil {
		result.Errors = append(result.Errors, "envelope is nil")
		return result
	}
	result.MessageID = env.ID

	if env.Type != types.TypeFeedbackSubmitted {
		result.Errors = append(result.Errors,
			fmt.Sprintf("feedback transport does not accept type %q", env.Type))
		return result
	}

	if err := t.sink.SaveFeedbackEnvelope(ctx, env); err != nil {
		t.logger.Warn("feedback persistence failed",
			zap.String("message_id", env.ID),
			zap.Error(err))
		result.Errors = append(result.Errors, fmt.Sprintf("save feedback: %v", err))
		return result
	}

	result.Success = true
	result.DeliveredTo = append(result.DeliveredTo, t.Name())
	return result
}

func (t *FeedbackTransport) Close() error { return nil }

// Handler adapts the transport into a bus subscription handler so the
// sink receives every feedback.submitted publish.
func (t *FeedbackTransport) Handler() Handler {
	return func(ctx context.Context, env *envelope.Envelope) error {
		res := t.Deliver(ctx, env)
		if !res.Success {
			return types.NewError(types.ErrTransport,
				fmt.Sprintf("feedback delivery failed: %v", res.Errors)).WithComponent("bus")
		}
		return nil
	}
}

var _ Transport = (*FeedbackTransport)(nil)
