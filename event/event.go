// Package event defines the durable message schemas shared by the API tier,
// the graph projector and the LLM task worker. Events, tasks and results are
// transient records owned by the queue they transit; no component holds a
// reference to another's internal state.
package event

import (
	"encoding/json"
	"fmt"
)

// Queue subjects. Each is backed by a durable JetStream stream.
const (
	SubjectGraphTasks = "graph.tasks"
	SubjectLLMTasks   = "llm.tasks"
	SubjectLLMResults = "llm.results"
)

// Stream names backing the queue subjects.
const (
	StreamGraphTasks = "GRAPH_TASKS"
	StreamLLMTasks   = "LLM_TASKS"
	StreamLLMResults = "LLM_RESULTS"
)

// Kind identifies a graph update event. The enum is closed: the projector
// terminates messages carrying any other value.
type Kind string

// Graph update event kinds.
const (
	LocationCreate  Kind = "location.create"
	LocationUpdate  Kind = "location.update"
	CharacterCreate Kind = "character.create"
	CharacterUpdate Kind = "character.update"
	SceneCreate     Kind = "scene.create"
	SceneUpdate     Kind = "scene.update"
	ConceptCreate   Kind = "concept.create"
	ConceptUpdate   Kind = "concept.update"
)

// Valid reports whether k is a member of the closed event kind enum.
func (k Kind) Valid() bool {
	switch k {
	case LocationCreate, LocationUpdate,
		CharacterCreate, CharacterUpdate,
		SceneCreate, SceneUpdate,
		ConceptCreate, ConceptUpdate:
		return true
	}
	return false
}

// Payload carries the entity fields of a graph update event. Pointer fields
// distinguish "absent" from "set to zero value": an update event includes
// only the fields present in the caller's input, and the projector applies
// exactly those. CharacterIDs is a pointer so that an explicit empty list
// (replace all FEATURES edges with none) survives the round trip.
type Payload struct {
	ID           string    `json:"id"`
	Name         *string   `json:"name,omitempty"`
	Title        *string   `json:"title,omitempty"`
	Description  *string   `json:"description,omitempty"`
	LocationID   *string   `json:"location_id,omitempty"`
	CharacterIDs *[]string `json:"character_ids,omitempty"`
}

// Event is the body published to graph.tasks.
type Event struct {
	Type    Kind    `json:"type"`
	Payload Payload `json:"payload"`
}

// Encode serializes the event for queue publication.
func (e Event) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode event %s: %w", e.Type, err)
	}
	return data, nil
}

// DecodeEvent parses a graph.tasks message body.
func DecodeEvent(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if e.Type == "" {
		return Event{}, fmt.Errorf("decode event: missing type")
	}
	return e, nil
}

// Str returns a pointer to s, for building payloads with present fields.
func Str(s string) *string { return &s }

// Strs returns a pointer to ids, for building payloads with a present
// character id list.
func Strs(ids []string) *[]string { return &ids }
