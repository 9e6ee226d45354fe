// Package types provides core types used across the agentbus orchestration core.
// This package has ZERO dependencies on other agentbus packages to avoid circular imports.
// All other packages should import types from here.
package types

// MessageType identifies the payload family of an envelope.
//
// The enumeration is closed: senders and receivers agree on exactly this set,
// and the envelope validator rejects anything else with UNKNOWN_TYPE.
type MessageType string

// Request / response message types
const (
	TypeRequestChat    MessageType = "request.chat"
	TypeRequestAction  MessageType = "request.action"
	TypeResponseChat   MessageType = "response.chat"
	TypeResponseAction MessageType = "response.action"
)

// Task lifecycle message types
const (
	TypeTaskAssigned  MessageType = "task.assigned"
	TypeTaskStarted   MessageType = "task.started"
	TypeTaskCompleted MessageType = "task.completed"
	TypeTaskBlocked   MessageType = "task.blocked"
	TypeTaskHandoff   MessageType = "task.handoff"
)

// Session lifecycle message types
const (
	TypeSessionStarted MessageType = "session.started"
	TypeSessionEnded   MessageType = "session.ended"
	TypeSessionUpdated MessageType = "session.updated"
)

// Feedback and optimization message types
const (
	TypeFeedbackSubmitted     MessageType = "feedback.submitted"
	TypeFeedbackProcessed     MessageType = "feedback.processed"
	TypeOptimizationStarted   MessageType = "optimization.started"
	TypeOptimizationCompleted MessageType = "optimization.completed"
	TypeOptimizationFailed    MessageType = "optimization.failed"
)

// Knowledge base message types
const (
	TypeKnowledgeUploaded MessageType = "knowledge.uploaded"
	TypeKnowledgeEmbedded MessageType = "knowledge.embedded"
	TypeKnowledgeDeleted  MessageType = "knowledge.deleted"
)

// System message types
const (
	TypeSystemHealth MessageType = "system.health"
	TypeSystemError  MessageType = "system.error"
	TypeSystemMetric MessageType = "system.metric"
)

// allMessageTypes preserves declaration order; the validator and the payload
// schema table iterate it, so order here is the canonical order.
var allMessageTypes = []MessageType{
	TypeRequestChat,
	TypeRequestAction,
	TypeResponseChat,
	TypeResponseAction,
	TypeTaskAssigned,
	TypeTaskStarted,
	TypeTaskCompleted,
	TypeTaskBlocked,
	TypeTaskHandoff,
	TypeSessionStarted,
	TypeSessionEnded,
	TypeSessionUpdated,
	TypeFeedbackSubmitted,
	TypeFeedbackProcessed,
	TypeOptimizationStarted,
	TypeOptimizationCompleted,
	TypeOptimizationFailed,
	TypeKnowledgeUploaded,
	TypeKnowledgeEmbedded,
	TypeKnowledgeDeleted,
	TypeSystemHealth,
	TypeSystemError,
	TypeSystemMetric,
}

var messageTypeSet = func() map[MessageType]struct{} {
	m := make(map[MessageType]struct{}, len(allMessageTypes))
	for _, t := range allMessageTypes {
		m[t] = struct{}{}
	}
	return m
}()

// AllMessageTypes returns every known message type in declaration order.
// The returned slice is a copy and safe to mutate.
func AllMessageTypes() []MessageType {
	out := make([]MessageType, len(allMessageTypes))
	copy(out, allMessageTypes)
	return out
}

// Valid reports whether t is one of the closed set of message types.
func (t MessageType) Valid() bool {
	_, ok := messageTypeSet[t]
	return ok
}

// String implements fmt.Stringer.
func (t MessageType) String() string { return string(t) }

// Family returns the dotted prefix of the type, e.g. "task" for
// "task.assigned". Unknown types return the raw value.
func (t MessageType) Family() string {
	for i := 0; i < len(t); i++ {
		if t[i] == '.' {
			return string(t[:i])
		}
	}
	return string(t)
}
