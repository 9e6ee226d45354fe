package persistence

import (
	"encoding/json"
	"time"
)

// Checkpoint is one serialized workflow state. Versions are allocated per
// workflow inside a transaction; the composite unique index backs that up
// at the schema level.
type Checkpoint struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	WorkflowID string    `gorm:"size:255;not null;uniqueIndex:idx_workflow_version" json:"workflow_id"`
	Version    int       `gorm:"not null;uniqueIndex:idx_workflow_version" json:"version"`
	ThreadID   string    `gorm:"size:255;index:idx_checkpoint_thread" json:"thread_id,omitempty"`
	State      string    `gorm:"type:text;not null" json:"state"` // JSON 序列化的工作流状态
	CreatedAt  time.Time `json:"created_at"`
}

func (Checkpoint) TableName() string {
	return "checkpoints"
}

// DecodeState unmarshals the stored state into v.
func (c *Checkpoint) DecodeState(v any) error {
	return json.Unmarshal([]byte(c.State), v)
}

// TaskRecord is an append-only audit row for task lifecycle transitions.
// It is written fail-soft and never read back by the orchestration path.
type TaskRecord struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	TaskID     string    `gorm:"size:255;not null;index:idx_task" json:"task_id"`
	WorkflowID string    `gorm:"size:255;index:idx_task_workflow" json:"workflow_id,omitempty"`
	AgentID    string    `gorm:"size:255" json:"agent_id,omitempty"`
	Status     string    `gorm:"size:64;not null" json:"status"`
	Detail     string    `gorm:"type:text" json:"detail,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func (TaskRecord) TableName() string {
	return "tasks"
}

// AgentResult is an append-only audit row for one agent execution.
type AgentResult struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	AgentID    string    `gorm:"size:255;not null;index:idx_result_agent" json:"agent_id"`
	TaskID     string    `gorm:"size:255;index:idx_result_task" json:"task_id,omitempty"`
	Success    bool      `gorm:"not null" json:"success"`
	Output     string    `gorm:"type:text" json:"output,omitempty"`
	Error      string    `gorm:"type:text" json:"error,omitempty"`
	DurationMS int64     `gorm:"default:0" json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

func (AgentResult) TableName() string {
	return "agent_results"
}

// Event is an append-only audit row for workflow lifecycle events.
type Event struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	WorkflowID string    `gorm:"size:255;index:idx_event_workflow" json:"workflow_id,omitempty"`
	EventType  string    `gorm:"size:128;not null;index:idx_event_type" json:"event_type"`
	Payload    string    `gorm:"type:text" json:"payload,omitempty"` // JSON 对象
	CreatedAt  time.Time `json:"created_at"`
}

func (Event) TableName() string {
	return "events"
}

// Metric is an append-only numeric sample reported through system.metric
// envelopes or internal instrumentation.
type Metric struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:128;not null;index:idx_metric_name" json:"name"`
	Value     float64   `gorm:"not null" json:"value"`
	Labels    string    `gorm:"type:text" json:"labels,omitempty"` // JSON 对象
	CreatedAt time.Time `json:"created_at"`
}

func (Metric) TableName() string {
	return "metrics"
}

// LogEntry is an append-only structured log line mirrored into the database
// for offline inspection.
type LogEntry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Level     string    `gorm:"size:16;not null" json:"level"`
	Source    string    `gorm:"size:128;index:idx_log_source" json:"source,omitempty"`
	Message   string    `gorm:"type:text;not null" json:"message"`
	Fields    string    `gorm:"type:text" json:"fields,omitempty"` // JSON 对象
	CreatedAt time.Time `json:"created_at"`
}

func (LogEntry) TableName() string {
	return "log_entries"
}

// BreakerState is the persisted form of a circuit breaker snapshot, one row
// per target, replaced on every state transition.
type BreakerState struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	Target        string     `gorm:"size:255;not null;uniqueIndex" json:"target"`
	State         string     `gorm:"size:32;not null" json:"state"` // closed / open / half_open
	FailureCount  int64      `gorm:"default:0" json:"failure_count"`
	SuccessCount  int64      `gorm:"default:0" json:"success_count"`
	TotalRequests int64      `gorm:"default:0" json:"total_requests"`
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (BreakerState) TableName() string {
	return "breaker_states"
}

// MasteryRecord tracks a student's mastery of one topic under one agent.
// Rows are replaced last-write-wins through an upsert on the composite key.
type MasteryRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	AgentID   string    `gorm:"size:255;not null;uniqueIndex:idx_mastery_key" json:"agent_id"`
	StudentID string    `gorm:"size:255;not null;uniqueIndex:idx_mastery_key" json:"student_id"`
	Topic     string    `gorm:"size:128;not null;uniqueIndex:idx_mastery_key" json:"topic"`
	Mastery   float64   `gorm:"not null;default:0" json:"mastery"` // [0.0, 1.0]
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (MasteryRecord) TableName() string {
	return "mastery"
}

// FeedbackRecord stores one feedback.submitted envelope. MessageID carries
// the envelope id; the unique index makes at-least-once redelivery
// idempotent.
type FeedbackRecord struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	MessageID   string    `gorm:"size:64;not null;uniqueIndex" json:"message_id"`
	SessionID   string    `gorm:"size:255;not null;index:idx_feedback_session" json:"session_id"`
	FromAgent   string    `gorm:"size:255" json:"from_agent,omitempty"`
	Rating      string    `gorm:"size:32" json:"rating,omitempty"` // thumbs_up / thumbs_down
	RatingValue int       `gorm:"default:0" json:"rating_value,omitempty"`
	Comment     string    `gorm:"type:text" json:"comment,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func (FeedbackRecord) TableName() string {
	return "feedback"
}

// QualityReviewRecord stores one scored response for the moderation queue.
type QualityReviewRecord struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	SessionID   string    `gorm:"size:255;not null;index:idx_review_session" json:"session_id"`
	Query       string    `gorm:"type:text" json:"query,omitempty"`
	Response    string    `gorm:"type:text" json:"response,omitempty"`
	Relevance   float64   `gorm:"not null" json:"relevance"`
	Accuracy    float64   `gorm:"not null" json:"accuracy"`
	Helpfulness float64   `gorm:"not null" json:"helpfulness"`
	Overall     float64   `gorm:"not null" json:"overall"`
	Flags       string    `gorm:"size:255" json:"flags,omitempty"` // 逗号分隔
	NeedsReview bool      `gorm:"index:idx_review_pending" json:"needs_review"`
	CreatedAt   time.Time `json:"created_at"`
}

func (QualityReviewRecord) TableName() string {
	return "quality_reviews"
}

// allModels returns every record type registered with AutoMigrate, in
// dependency-free order.
func allModels() []any {
	return []any{
		&Checkpoint{},
		&TaskRecord{},
		&AgentResult{},
		&Event{},
		&Metric{},
		&LogEntry{},
		&BreakerState{},
		&MasteryRecord{},
		&FeedbackRecord{},
		&QualityReviewRecord{},
	}
}
