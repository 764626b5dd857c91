// Package command turns inbound create/update requests into normalized,
// uniqueness-checked graph events, or rejects them synchronously. One
// generic handler serves every resource; per-resource behavior is a plain
// descriptor value, so dispatch stays data-driven.
//
// The uniqueness check and the event publish are not atomic: two concurrent
// creates with the same normalized name can both pass validation and both be
// projected. This is an accepted tradeoff of decoupling the write from the
// check; closing it would require a uniqueness constraint inside the graph
// store itself.
package command

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/EKaterinaTR/winm/errors"
	"github.com/EKaterinaTR/winm/event"
	"github.com/EKaterinaTR/winm/graphstore"
	"github.com/EKaterinaTR/winm/metric"
)

// Publisher publishes a message to a durable queue subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Resource describes one command-handled entity kind. Values, not types:
// the handler is parameterized by these descriptors.
type Resource struct {
	Label      string     // graph node label
	Singular   string     // for client-facing error messages
	CreateKind event.Kind // event published on create
	UpdateKind event.Kind // event published on update
	UsesTitle  bool       // scenes: uniqueness on title, relationship fields accepted
}

// The four command-handled resources.
var (
	Locations  = Resource{Label: graphstore.LabelLocation, Singular: "Location", CreateKind: event.LocationCreate, UpdateKind: event.LocationUpdate}
	Characters = Resource{Label: graphstore.LabelCharacter, Singular: "Character", CreateKind: event.CharacterCreate, UpdateKind: event.CharacterUpdate}
	Concepts   = Resource{Label: graphstore.LabelConcept, Singular: "Concept", CreateKind: event.ConceptCreate, UpdateKind: event.ConceptUpdate}
	Scenes     = Resource{Label: graphstore.LabelScene, Singular: "Scene", CreateKind: event.SceneCreate, UpdateKind: event.SceneUpdate, UsesTitle: true}
)

// CreateInput is the body of a create command. Name is used by
// Location/Character/Concept, Title by Scene; the relationship fields are
// scene-only and pass through unvalidated (existence is enforced lazily by
// the projector).
type CreateInput struct {
	Name         string   `json:"name"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	LocationID   string   `json:"location_id"`
	CharacterIDs []string `json:"character_ids"`
}

// UpdateInput is the body of an update command. Pointer fields distinguish
// absent from zero: only present fields end up in the event payload.
type UpdateInput struct {
	Name         *string   `json:"name"`
	Title        *string   `json:"title"`
	Description  *string   `json:"description"`
	LocationID   *string   `json:"location_id"`
	CharacterIDs *[]string `json:"character_ids"`
}

// Handler validates commands and publishes graph events.
type Handler struct {
	store   graphstore.Store
	queue   Publisher
	metrics *metric.Metrics
	logger  *slog.Logger
}

// NewHandler creates a command handler.
func NewHandler(store graphstore.Store, queue Publisher, metrics *metric.Metrics, logger *slog.Logger) *Handler {
	return &Handler{store: store, queue: queue, metrics: metrics, logger: logger}
}

// Create validates a create command and publishes the create event. The
// returned payload is what the caller sees under an "accepted" status: the
// write itself happens asynchronously in the projector.
func (h *Handler) Create(ctx context.Context, res Resource, in CreateInput) (event.Payload, error) {
	raw := in.Name
	if res.UsesTitle {
		raw = in.Title
	}

	trimmed := strings.TrimSpace(raw)
	norm := graphstore.Normalize(raw)
	if norm == "" {
		return event.Payload{}, errors.Validation(errors.ErrEmptyName, "Command", "Create",
			nameWord(res)+" cannot be empty after trimming")
	}

	existing, err := h.store.FindByName(ctx, res.Label, norm, "")
	if err != nil {
		return event.Payload{}, err
	}
	if existing != nil {
		return event.Payload{}, errors.Conflict(errors.ErrNameTaken, "Command", "Create",
			res.Singular+" with this "+strings.ToLower(nameWord(res))+" already exists")
	}

	payload := event.Payload{
		ID:          uuid.NewString(),
		Description: event.Str(in.Description),
	}
	if res.UsesTitle {
		payload.Title = event.Str(trimmed)
		payload.LocationID = event.Str(in.LocationID)
		ids := in.CharacterIDs
		if ids == nil {
			ids = []string{}
		}
		payload.CharacterIDs = event.Strs(ids)
	} else {
		payload.Name = event.Str(trimmed)
	}

	if err := h.publish(ctx, res.CreateKind, payload); err != nil {
		return event.Payload{}, err
	}
	return payload, nil
}

// Update validates an update command and publishes the update event. Only
// fields present in the input are included in the payload; self-rename is
// allowed because the uniqueness query excludes the target id.
func (h *Handler) Update(ctx context.Context, res Resource, id string, in UpdateInput) (event.Payload, error) {
	payload := event.Payload{ID: id}
	present := false

	namePtr := in.Name
	if res.UsesTitle {
		namePtr = in.Title
	}
	if namePtr != nil {
		trimmed := strings.TrimSpace(*namePtr)
		norm := graphstore.Normalize(*namePtr)
		if norm == "" {
			return event.Payload{}, errors.Validation(errors.ErrEmptyName, "Command", "Update",
				nameWord(res)+" cannot be empty after trimming")
		}
		existing, err := h.store.FindByName(ctx, res.Label, norm, id)
		if err != nil {
			return event.Payload{}, err
		}
		if existing != nil {
			return event.Payload{}, errors.Conflict(errors.ErrNameTaken, "Command", "Update",
				res.Singular+" with this "+strings.ToLower(nameWord(res))+" already exists")
		}
		if res.UsesTitle {
			payload.Title = event.Str(trimmed)
		} else {
			payload.Name = event.Str(trimmed)
		}
		present = true
	}

	if in.Description != nil {
		payload.Description = in.Description
		present = true
	}
	if res.UsesTitle {
		if in.LocationID != nil {
			payload.LocationID = in.LocationID
			present = true
		}
		if in.CharacterIDs != nil {
			payload.CharacterIDs = in.CharacterIDs
			present = true
		}
	}

	if !present {
		return event.Payload{}, errors.Validation(errors.ErrNothingToUpdate, "Command", "Update",
			"at least one field must be provided")
	}

	if err := h.publish(ctx, res.UpdateKind, payload); err != nil {
		return event.Payload{}, err
	}
	return payload, nil
}

// publish encodes and publishes exactly one event, before the command
// returns to the caller.
func (h *Handler) publish(ctx context.Context, kind event.Kind, payload event.Payload) error {
	data, err := event.Event{Type: kind, Payload: payload}.Encode()
	if err != nil {
		return errors.Upstream(err, "Command", "publish", "encode event")
	}
	if err := h.queue.Publish(ctx, event.SubjectGraphTasks, data); err != nil {
		return err
	}
	if h.metrics != nil {
		h.metrics.EventsPublished.WithLabelValues(string(kind)).Inc()
	}
	h.logger.Info("Published graph event", "event_type", kind, "id", payload.ID)
	return nil
}

func nameWord(res Resource) string {
	if res.UsesTitle {
		return "Title"
	}
	return "Name"
}
