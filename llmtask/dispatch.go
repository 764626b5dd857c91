package llmtask

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/EKaterinaTR/winm/errors"
	"github.com/EKaterinaTR/winm/event"
)

// Publisher publishes a message to a durable queue subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// DefaultRole is the persona used when a knowledge request names none.
const DefaultRole = "narrator"

// Dispatcher accepts LLM requests, assigns request ids and publishes tasks.
// It never waits for results; clients poll the result store by request id.
type Dispatcher struct {
	queue  Publisher
	logger *slog.Logger
}

// NewDispatcher creates a task dispatcher.
func NewDispatcher(queue Publisher, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{queue: queue, logger: logger}
}

// SubmitKnowledge queues a knowledge question and returns its request id.
func (d *Dispatcher) SubmitKnowledge(ctx context.Context, question, role string) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", errors.Validation(nil, "Dispatcher", "SubmitKnowledge", "question cannot be empty")
	}
	if strings.TrimSpace(role) == "" {
		role = DefaultRole
	}
	return d.submit(ctx, event.Task{
		RequestID: uuid.NewString(),
		Type:      event.TaskKnowledge,
		Question:  strings.TrimSpace(question),
		Role:      strings.TrimSpace(role),
	})
}

// SubmitGenerate queues an entity generation request and returns its
// request id. The prompt is an optional free-text brief and may be empty.
func (d *Dispatcher) SubmitGenerate(ctx context.Context, entityType, prompt string) (string, error) {
	if _, ok := generateSchemas[strings.ToLower(strings.TrimSpace(entityType))]; !ok {
		return "", errors.Validation(nil, "Dispatcher", "SubmitGenerate",
			"unknown entity type "+entityType)
	}
	return d.submit(ctx, event.Task{
		RequestID:  uuid.NewString(),
		Type:       event.TaskGenerate,
		EntityType: strings.ToLower(strings.TrimSpace(entityType)),
		Prompt:     strings.TrimSpace(prompt),
	})
}

func (d *Dispatcher) submit(ctx context.Context, task event.Task) (string, error) {
	data, err := task.Encode()
	if err != nil {
		return "", errors.Upstream(err, "Dispatcher", "submit", "encode task")
	}
	if err := d.queue.Publish(ctx, event.SubjectLLMTasks, data); err != nil {
		return "", err
	}
	d.logger.Info("Queued LLM task", "request_id", task.RequestID, "type", task.Type)
	return task.RequestID, nil
}
