package llmtask

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/EKaterinaTR/winm/errors"
	"github.com/EKaterinaTR/winm/event"
	"github.com/EKaterinaTR/winm/graphstore"
	"github.com/EKaterinaTR/winm/metric"
)

// Knowledge loop bounds.
const (
	// maxChatCalls is the total completion budget per knowledge task: the
	// initial call plus up to three search follow-ups.
	maxChatCalls = 4
	// searchHitLimit caps graph hits fed back into the prompt.
	searchHitLimit = 5
	// snippetLimit truncates each hit's snippet in the prompt, in runes.
	snippetLimit = 200
)

// exhaustedAnswer is returned when the model keeps searching past its budget.
const exhaustedAnswer = "I could not find a definitive answer in the world graph within the search budget."

// emptyQueryAnswer terminates a knowledge task whose model asked to search
// without saying for what. Another round cannot recover the missing query.
const emptyQueryAnswer = "The model requested a graph search without a query."

// Reply protocol prefixes, matched case-insensitively.
const (
	prefixSearch = "SEARCH:"
	prefixAnswer = "ANSWER:"
)

// generateSchemas maps an entity type to the JSON fields the model must
// produce. The worker never writes these to the graph; the payload goes back
// to the client, who may submit it as a regular create command.
var generateSchemas = map[string]string{
	"location":  `{"name": string, "description": string}`,
	"character": `{"name": string, "description": string}`,
	"concept":   `{"name": string, "description": string}`,
	"scene":     `{"title": string, "description": string, "location_id": string, "character_ids": [string]}`,
}

// Searcher is the read-only graph access the worker needs.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]graphstore.SearchHit, error)
}

// Worker consumes llm.tasks and publishes exactly one result per task to
// llm.results. Model and graph failures become error results rather than
// redeliveries: retrying an expensive completion on the same input is not
// worth it, and the client gets a terminal status to react to.
type Worker struct {
	backend Backend
	graph   Searcher
	queue   Publisher
	metrics *metric.Metrics
	logger  *slog.Logger
}

// NewWorker creates a task worker.
func NewWorker(backend Backend, graph Searcher, queue Publisher, metrics *metric.Metrics, logger *slog.Logger) *Worker {
	return &Worker{backend: backend, graph: graph, queue: queue, metrics: metrics, logger: logger}
}

// Handle processes one llm.tasks message. Malformed bodies are terminated;
// everything else completes with a published result.
func (w *Worker) Handle(ctx context.Context, data []byte) error {
	task, err := event.DecodeTask(data)
	if err != nil {
		w.logger.Error("Dropping malformed task", "error", err)
		return err
	}

	var result event.Result
	switch task.Type {
	case event.TaskKnowledge:
		result = w.answerQuestion(ctx, task)
	case event.TaskGenerate:
		result = w.generateEntity(ctx, task)
	default:
		result = event.Result{
			RequestID: task.RequestID,
			Status:    event.StatusError,
			Type:      task.Type,
			Error:     "unknown task type " + string(task.Type),
		}
	}

	if err := w.publishResult(ctx, result); err != nil {
		return err
	}
	if w.metrics != nil {
		w.metrics.TasksProcessed.WithLabelValues(string(task.Type), result.Status).Inc()
	}
	w.logger.Info("Completed LLM task",
		"request_id", task.RequestID, "type", task.Type, "status", result.Status)
	return nil
}

// answerQuestion drives the bounded search-and-answer loop. The model replies
// either "SEARCH: <query>" to consult the graph or "ANSWER: <text>" to
// finish; a reply with neither prefix is taken as the answer itself.
func (w *Worker) answerQuestion(ctx context.Context, task event.Task) event.Result {
	system := fmt.Sprintf(
		"You are %s answering questions about a fictional narrative world. "+
			"You may consult the world graph by replying exactly 'SEARCH: <query>'. "+
			"When you know the answer, reply exactly 'ANSWER: <answer>'.", task.Role)

	// gathered accumulates every search result so far; each follow-up call
	// sees the full context, not just the last round's hits.
	var gathered strings.Builder
	prompt := task.Question
	for call := 0; call < maxChatCalls; call++ {
		reply, err := w.backend.Chat(ctx, system, prompt)
		if err != nil {
			return errorResult(task, err)
		}
		reply = strings.TrimSpace(reply)

		switch {
		case hasPrefixFold(reply, prefixAnswer):
			return doneResult(task, strings.TrimSpace(reply[len(prefixAnswer):]))
		case hasPrefixFold(reply, prefixSearch):
			query := strings.TrimSpace(reply[len(prefixSearch):])
			if query == "" {
				return doneResult(task, emptyQueryAnswer)
			}
			facts, err := w.searchFacts(ctx, query)
			if err != nil {
				return errorResult(task, err)
			}
			fmt.Fprintf(&gathered, "Graph search results for %q:\n%s\n", query, facts)
			prompt = fmt.Sprintf("%sOriginal question: %s", gathered.String(), task.Question)
		default:
			// No protocol prefix: the model answered in free form.
			return doneResult(task, reply)
		}
	}
	return doneResult(task, exhaustedAnswer)
}

// searchFacts runs one graph search and formats the hits for the next prompt.
func (w *Worker) searchFacts(ctx context.Context, query string) (string, error) {
	hits, err := w.graph.Search(ctx, query, searchHitLimit)
	if err != nil {
		return "", err
	}
	if len(hits) == 0 {
		return "(no results)\n", nil
	}

	var b strings.Builder
	for _, hit := range hits {
		snippet := []rune(hit.Snippet)
		if len(snippet) > snippetLimit {
			snippet = snippet[:snippetLimit]
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", hit.Type, hit.Name, string(snippet))
	}
	return b.String(), nil
}

// generateEntity asks the model for a create payload matching the entity
// type's schema. The payload is handed back verbatim: nothing is written to
// the graph until the client submits it through the command path.
func (w *Worker) generateEntity(ctx context.Context, task event.Task) event.Result {
	schema, ok := generateSchemas[task.EntityType]
	if !ok {
		return errorResult(task, fmt.Errorf("unknown entity type %q", task.EntityType))
	}

	system := "You invent entities for a fictional narrative world. " +
		"Reply with a single JSON object and nothing else."
	prompt := fmt.Sprintf("Create a %s matching this JSON shape: %s\n\nBrief: %s",
		task.EntityType, schema, task.Prompt)

	reply, err := w.backend.Chat(ctx, system, prompt)
	if err != nil {
		return errorResult(task, err)
	}

	payload, err := extractJSON(reply)
	if err != nil {
		return errorResult(task, err)
	}

	return event.Result{
		RequestID:  task.RequestID,
		Status:     event.StatusDone,
		Type:       task.Type,
		EntityType: task.EntityType,
		Payload:    payload,
	}
}

// extractJSON pulls the first JSON object out of a model reply that may wrap
// it in markdown fences or prose.
func extractJSON(reply string) (map[string]any, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON object in model reply")
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(reply[start:end+1]), &payload); err != nil {
		return nil, fmt.Errorf("parse model reply: %w", err)
	}
	return payload, nil
}

func (w *Worker) publishResult(ctx context.Context, result event.Result) error {
	data, err := result.Encode()
	if err != nil {
		return errors.Upstream(err, "Worker", "publishResult", "encode result")
	}
	return w.queue.Publish(ctx, event.SubjectLLMResults, data)
}

func doneResult(task event.Task, answer string) event.Result {
	return event.Result{
		RequestID: task.RequestID,
		Status:    event.StatusDone,
		Type:      task.Type,
		Answer:    answer,
		Role:      task.Role,
	}
}

func errorResult(task event.Task, err error) event.Result {
	return event.Result{
		RequestID: task.RequestID,
		Status:    event.StatusError,
		Type:      task.Type,
		Role:      task.Role,
		Error:     err.Error(),
	}
}

// hasPrefixFold reports whether s starts with prefix, ignoring case.
func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
