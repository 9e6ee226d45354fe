package persistence

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentbus/workflow"
)

var _ workflow.Recorder = (*Store)(nil)

// Audit appends are fire-and-forget: a failed write is logged and counted,
// never returned. Reporting must not block or break the message path.

// RecordTask appends a task lifecycle transition.
func (s *Store) RecordTask(ctx context.Context, taskID, workflowID, agentID, status, detail string) {
	s.auditInsert(ctx, "task", &TaskRecord{
		TaskID:     taskID,
		WorkflowID: workflowID,
		AgentID:    agentID,
		Status:     status,
		Detail:     detail,
	})
}

// RecordAgentResult appends the outcome of one agent execution.
func (s *Store) RecordAgentResult(ctx context.Context, agentID, taskID string, success bool, output, errMsg string, duration time.Duration) {
	s.auditInsert(ctx, "agent_result", &AgentResult{
		AgentID:    agentID,
		TaskID:     taskID,
		Success:    success,
		Output:     output,
		Error:      errMsg,
		DurationMS: duration.Milliseconds(),
	})
}

// RecordEvent appends a workflow lifecycle event. Satisfies
// workflow.Recorder.
func (s *Store) RecordEvent(ctx context.Context, workflowID, eventType string, payload map[string]any) {
	raw, ok := s.auditMarshal("event", payload)
	if !ok {
		return
	}
	s.auditInsert(ctx, "event", &Event{
		WorkflowID: workflowID,
		EventType:  eventType,
		Payload:    raw,
	})
}

// RecordMetric appends a numeric sample.
func (s *Store) RecordMetric(ctx context.Context, name string, value float64, labels map[string]string) {
	raw, ok := s.auditMarshal("metric", labels)
	if !ok {
		return
	}
	s.auditInsert(ctx, "metric", &Metric{
		Name:   name,
		Value:  value,
		Labels: raw,
	})
}

// AppendLog mirrors a structured log line into the database.
func (s *Store) AppendLog(ctx context.Context, level, source, message string, fields map[string]any) {
	raw, ok := s.auditMarshal("log", fields)
	if !ok {
		return
	}
	s.auditInsert(ctx, "log", &LogEntry{
		Level:   level,
		Source:  source,
		Message: message,
		Fields:  raw,
	})
}

// auditMarshal serializes an optional JSON column. nil and empty maps
// produce an empty string rather than "null" / "{}" noise.
func (s *Store) auditMarshal(kind string, v any) (string, bool) {
	switch m := v.(type) {
	case map[string]any:
		if len(m) == 0 {
			return "", true
		}
	case map[string]string:
		if len(m) == 0 {
			return "", true
		}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn("audit payload marshal failed",
			zap.String("kind", kind),
			zap.Error(err))
		s.observeAudit(kind, "failed")
		return "", false
	}
	return string(raw), true
}

func (s *Store) auditInsert(ctx context.Context, kind string, record any) {
	if err := s.db(ctx).Create(record).Error; err != nil {
		s.logger.Warn("audit write failed",
			zap.String("kind", kind),
			zap.Error(err))
		s.observeAudit(kind, "failed")
		return
	}
	s.observeAudit(kind, "ok")
}

func (s *Store) observeAudit(kind, status string) {
	if s.metrics != nil {
		s.metrics.RecordAuditWrite(kind, status)
	}
}
