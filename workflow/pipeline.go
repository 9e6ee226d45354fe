package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/agentbus/internal/metrics"
	"github.com/BaSui01/agentbus/types"
)

// StepError is the terminal step cursor written when a node or checkpoint
// write fails and the remaining pipeline is skipped.
const StepError = "error"

// Status is the execution cursor every pipeline state embeds: the name of
// the last completed step, a completion flag and the accumulated error
// messages. A run always ends with Completed set, success or not.
type Status struct {
	Step      string   `json:"step"`
	Completed bool     `json:"completed"`
	Errors    []string `json:"errors,omitempty"`
}

func (s *Status) status() *Status { return s }

// Stateful is satisfied by any state struct embedding Status; the engine
// uses it to drive the cursor without knowing the concrete state type.
type Stateful interface{ status() *Status }

// Update is a node's partial-state return: a write function applied to a
// copy of the accumulated state. A nil Update means "no change".
type Update[S any] func(*S)

// Apply is the named merge reducer: copy the current state value, apply
// the update to the copy, return the copy. Later writes win; fields the
// update does not touch keep their accumulated values. It is the only
// path by which node output reaches pipeline state.
func Apply[S any](current S, update Update[S]) S {
	next := current
	if update != nil {
		update(&next)
	}
	return next
}

// Node is one named step of a pipeline. Run receives the accumulated
// state by value and returns a partial update; returning an error aborts
// the remaining pipeline for that run.
type Node[S any] struct {
	Name string
	Run  func(ctx context.Context, state S) (Update[S], error)
}

// Checkpointer persists pipeline state after each node. Unlike audit
// records this write is load-bearing: a failure stops the run and is
// returned to the caller.
type Checkpointer interface {
	CheckpointState(ctx context.Context, workflowID, threadID string, state any) error
}

// Recorder appends fail-soft audit events; implementations log failures
// internally and never return them.
type Recorder interface {
	RecordEvent(ctx context.Context, workflowID, eventType string, payload map[string]any)
}

// Pipeline is a fixed, named sequence of nodes run strictly in order over
// a typed state. Configure with the chainable With* methods before Run.
type Pipeline[S any] struct {
	name         string
	nodes        []Node[S]
	logger       *zap.Logger
	checkpointer Checkpointer
	recorder     Recorder
	metrics      *metrics.Collector
}

// NewPipeline creates a linear pipeline over the given nodes.
func NewPipeline[S any](name string, logger *zap.Logger, nodes []Node[S]) *Pipeline[S] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline[S]{
		name:   name,
		nodes:  nodes,
		logger: logger.With(zap.String("component", "pipeline"), zap.String("workflow", name)),
	}
}

// WithCheckpointer enables per-node state checkpointing.
func (p *Pipeline[S]) WithCheckpointer(cp Checkpointer) *Pipeline[S] {
	p.checkpointer = cp
	return p
}

// WithRecorder enables fail-soft audit events for run outcomes.
func (p *Pipeline[S]) WithRecorder(r Recorder) *Pipeline[S] {
	p.recorder = r
	return p
}

// WithMetrics enables run and node instrumentation.
func (p *Pipeline[S]) WithMetrics(m *metrics.Collector) *Pipeline[S] {
	p.metrics = m
	return p
}

// Name returns the pipeline name.
func (p *Pipeline[S]) Name() string { return p.name }

// Nodes returns the node names in execution order.
func (p *Pipeline[S]) Nodes() []string {
	names := make([]string, len(p.nodes))
	for i, n := range p.nodes {
		names[i] = n.Name
	}
	return names
}

// RunOption configures a single pipeline run.
type RunOption func(*runOptions)

type runOptions struct {
	runID    string
	threadID string
}

// WithRunID fixes the workflow id of the run; the default is
// "<pipeline>_<uuid>".
func WithRunID(id string) RunOption {
	return func(o *runOptions) {
		if id != "" {
			o.runID = id
		}
	}
}

// WithThread tags the run's checkpoints with a conversation thread id.
func WithThread(threadID string) RunOption {
	return func(o *runOptions) { o.threadID = threadID }
}

// Run executes the nodes strictly in declaration order, merging each
// node's partial update over the accumulated state via Apply.
//
// A run always returns a terminal state with Completed = true. A node
// error is captured into the state's Errors list (Step becomes "error")
// and is NOT returned; callers inspect the state. A checkpoint write
// failure stops the run the same way but IS returned, and a context
// cancellation between nodes stops the run and returns ctx.Err().
func (p *Pipeline[S]) Run(ctx context.Context, initial S, opts ...RunOption) (S, error) {
	ro := runOptions{runID: p.name + "_" + uuid.NewString()}
	for _, opt := range opts {
		opt(&ro)
	}

	state := initial
	st := statusOf(&state)
	if st == nil {
		return state, types.NewError(types.ErrWorkflowNode,
			fmt.Sprintf("state type %T must embed workflow.Status", state)).
			WithComponent("workflow")
	}

	started := time.Now()
	p.logger.Info("starting pipeline run",
		zap.String("run_id", ro.runID),
		zap.Int("nodes", len(p.nodes)),
	)

	for _, node := range p.nodes {
		select {
		case <-ctx.Done():
			p.fail(ctx, &state, ro, fmt.Sprintf("run cancelled before node %s: %v", node.Name, ctx.Err()))
			p.observeRun(started, "cancelled")
			return state, ctx.Err()
		default:
		}

		nodeStart := time.Now()
		update, err := node.Run(ctx, state)
		p.observeNode(node.Name, nodeStart)

		if err != nil {
			p.logger.Error("pipeline node failed",
				zap.String("run_id", ro.runID),
				zap.String("node", node.Name),
				zap.Error(err),
			)
			p.fail(ctx, &state, ro, fmt.Sprintf("node %s: %v", node.Name, err))
			p.observeRun(started, "failed")
			return state, nil
		}

		state = Apply(state, update)
		st = statusOf(&state)
		st.Step = node.Name

		if p.checkpointer != nil {
			if cpErr := p.checkpointer.CheckpointState(ctx, ro.runID, ro.threadID, state); cpErr != nil {
				p.logger.Error("checkpoint write failed",
					zap.String("run_id", ro.runID),
					zap.String("node", node.Name),
					zap.Error(cpErr),
				)
				p.fail(ctx, &state, ro, fmt.Sprintf("checkpoint after node %s: %v", node.Name, cpErr))
				p.observeRun(started, "failed")
				return state, types.NewError(types.ErrPersistence, "checkpoint write failed").
					WithComponent("workflow").
					WithCause(cpErr)
			}
		}

		p.logger.Debug("pipeline node completed",
			zap.String("run_id", ro.runID),
			zap.String("node", node.Name),
			zap.Duration("duration", time.Since(nodeStart)),
		)
	}

	st.Completed = true
	p.observeRun(started, "completed")
	p.recordEvent(ctx, ro.runID, "workflow.completed", map[string]any{
		"workflow": p.name,
		"step":     st.Step,
	})
	p.logger.Info("pipeline run completed",
		zap.String("run_id", ro.runID),
		zap.String("final_step", st.Step),
		zap.Duration("duration", time.Since(started)),
	)
	return state, nil
}

// fail writes the terminal error shape onto the state: the message joins
// the Errors list, the cursor moves to "error" and the run is complete.
func (p *Pipeline[S]) fail(ctx context.Context, state *S, ro runOptions, msg string) {
	st := statusOf(state)
	st.Errors = append(st.Errors, msg)
	st.Step = StepError
	st.Completed = true
	p.recordEvent(ctx, ro.runID, "workflow.failed", map[string]any{
		"workflow": p.name,
		"error":    msg,
	})
}

func (p *Pipeline[S]) recordEvent(ctx context.Context, runID, eventType string, payload map[string]any) {
	if p.recorder == nil {
		return
	}
	p.recorder.RecordEvent(ctx, runID, eventType, payload)
}

func (p *Pipeline[S]) observeRun(started time.Time, status string) {
	if p.metrics == nil {
		return
	}
	p.metrics.RecordWorkflowRun(p.name, status, time.Since(started))
}

func (p *Pipeline[S]) observeNode(node string, started time.Time) {
	if p.metrics == nil {
		return
	}
	p.metrics.RecordWorkflowNode(p.name, node, time.Since(started))
}

// statusOf extracts the embedded Status from a state pointer, or nil when
// the state type does not embed one.
func statusOf[S any](state *S) *Status {
	if st, ok := any(state).(Stateful); ok {
		return st.status()
	}
	return nil
}
