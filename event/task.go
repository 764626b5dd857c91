package event

import (
	"encoding/json"
	"fmt"
)

// TaskType discriminates LLM task and result records.
type TaskType string

// LLM task types.
const (
	TaskKnowledge TaskType = "knowledge"
	TaskGenerate  TaskType = "generate"
)

// Result statuses. There is no queued "pending" status: pending is what a
// polling client observes while no result record exists yet.
const (
	StatusDone  = "done"
	StatusError = "error"
)

// Task is the body published to llm.tasks. Created by the dispatcher with a
// fresh request id and never mutated afterward.
type Task struct {
	RequestID string   `json:"request_id"`
	Type      TaskType `json:"type"`

	// knowledge fields
	Question string `json:"question,omitempty"`
	Role     string `json:"role,omitempty"`

	// generate fields
	EntityType string `json:"entity_type,omitempty"`
	Prompt     string `json:"prompt,omitempty"`
}

// Encode serializes the task for queue publication.
func (t Task) Encode() ([]byte, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encode task %s: %w", t.RequestID, err)
	}
	return data, nil
}

// DecodeTask parses an llm.tasks message body.
func DecodeTask(data []byte) (Task, error) {
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return Task{}, fmt.Errorf("decode task: %w", err)
	}
	if t.RequestID == "" || t.Type == "" {
		return Task{}, fmt.Errorf("decode task: request_id and type required")
	}
	return t, nil
}

// Result is the body published to llm.results. A given request id is
// completed exactly once by the worker and read many times by polling.
type Result struct {
	RequestID string   `json:"request_id"`
	Status    string   `json:"status"`
	Type      TaskType `json:"type,omitempty"`

	// knowledge outcome
	Answer string `json:"answer,omitempty"`
	Role   string `json:"role,omitempty"`

	// generate outcome: a ready-to-submit create payload, never written to
	// the graph by the worker.
	EntityType string         `json:"entity_type,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`

	Error string `json:"error,omitempty"`
}

// Encode serializes the result for queue publication.
func (r Result) Encode() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode result %s: %w", r.RequestID, err)
	}
	return data, nil
}

// DecodeResult parses an llm.results message body.
func DecodeResult(data []byte) (Result, error) {
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return Result{}, fmt.Errorf("decode result: %w", err)
	}
	if r.RequestID == "" {
		return Result{}, fmt.Errorf("decode result: missing request_id")
	}
	return r, nil
}
