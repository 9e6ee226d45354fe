package bus

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentbus/envelope"
	"github.com/BaSui01/agentbus/types"
)

type fakeFeedbackSink struct {
	mu      sync.Mutex
	saved   []*envelope.Envelope
	saveErr error
}

func (s *fakeFeedbackSink) SaveFeedbackEnvelope(_ context.Context, env *envelope.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, env)
	return nil
}

func (s *fakeFeedbackSink) savedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

func feedbackEnvelope() *envelope.Envelope {
	return envelope.New(testTo, testFrom, types.TypeFeedbackSubmitted, map[string]any{
		"session_id": "S-9",
		"rating":     "thumbs_up",
		"comment":    "clear explanation",
	})
}

func TestNewFeedbackTransport_NilSink(t *testing.T) {
	_, err := NewFeedbackTransport(nil, zap.NewNop())
	assert.Error(t, err)
}

func TestFeedbackTransport_DeliverSavesEnvelope(t *testing.T) {
	sink := &fakeFeedbackSink{}
	transport, err := NewFeedbackTransport(sink, zap.NewNop())
	require.NoError(t, err)
	defer transport.Close()

	env := feedbackEnvelope()
	result := transport.Deliver(context.Background(), env)

	assert.True(t, result.Success)
	assert.Equal(t, env.ID, result.MessageID)
	assert.Equal(t, 1, sink.savedCount())
}

func TestFeedbackTransport_RejectsOtherTypes(t *testing.T) {
	sink := &fakeFeedbackSink{}
	transport, err := NewFeedbackTransport(sink, zap.NewNop())
	require.NoError(t, err)

	result := transport.Deliver(context.Background(), taskEnvelope())

	assert.False(t, result.Success)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, 0, sink.savedCount())
}

func TestFeedbackTransport_SinkFailure(t *testing.T) {
	sink := &fakeFeedbackSink{saveErr: errors.New("database down")}
	transport, err := NewFeedbackTransport(sink, zap.NewNop())
	require.NoError(t, err)

	result := transport.Deliver(context.Background(), feedbackEnvelope())

	assert.False(t, result.Success)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "database down")
}

func TestFeedbackTransport_HandlerAdapter(t *testing.T) {
	sink := &fakeFeedbackSink{}
	transport, err := NewFeedbackTransport(sink, zap.NewNop())
	require.NoError(t, err)

	b := newTestBus()
	defer b.Close()

	_, err = b.Subscribe(types.TypeFeedbackSubmitted.String(), transport.Handler())
	require.NoError(t, err)

	result := b.Publish(context.Background(), feedbackEnvelope())

	assert.True(t, result.Success)
	assert.Len(t, result.DeliveredTo, 1)
	assert.Equal(t, 1, sink.savedCount())
}

func TestFeedbackTransport_HandlerSurfacesSinkError(t *testing.T) {
	sink := &fakeFeedbackSink{saveErr: errors.New("database down")}
	transport, err := NewFeedbackTransport(sink, zap.NewNop())
	require.NoError(t, err)

	handler := transport.Handler()
	err = handler(context.Background(), feedbackEnvelope())

	require.Error(t, err)
	var typedErr *types.Error
	require.ErrorAs(t, err, &typedErr)
	assert.Equal(t, types.ErrTransport, typedErr.Code)
}
