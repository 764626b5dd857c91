// Package projector consumes graph update events and applies them to the
// graph store. It is the only writer of graph state. Applying is idempotent:
// creates are upserts keyed by entity id, updates set exactly the fields the
// event carries, and relationship updates replace the full edge set, so a
// redelivered event converges to the same graph.
package projector

import (
	"context"
	"log/slog"
	"strings"

	"github.com/EKaterinaTR/winm/errors"
	"github.com/EKaterinaTR/winm/event"
	"github.com/EKaterinaTR/winm/graphstore"
	"github.com/EKaterinaTR/winm/metric"
)

// Projector applies graph update events to the store.
type Projector struct {
	store    graphstore.Store
	exporter *Exporter
	metrics  *metric.Metrics
	logger   *slog.Logger
}

// New creates a projector. exporter may be nil to disable the event journal.
func New(store graphstore.Store, exporter *Exporter, metrics *metric.Metrics, logger *slog.Logger) *Projector {
	return &Projector{store: store, exporter: exporter, metrics: metrics, logger: logger}
}

// Handle processes one graph.tasks message. A non-nil return terminates the
// message: malformed bodies and unknown event types are unprocessable and
// redelivery would not help.
func (p *Projector) Handle(ctx context.Context, data []byte) error {
	ev, err := event.DecodeEvent(data)
	if err != nil {
		p.count("unknown", "error")
		p.logger.Error("Dropping malformed event", "error", err)
		return err
	}
	if !ev.Type.Valid() {
		p.count(string(ev.Type), "error")
		p.logger.Error("Dropping event of unknown type", "event_type", ev.Type)
		return errors.Validation(nil, "Projector", "Handle", "unknown event type "+string(ev.Type))
	}

	if err := p.apply(ctx, ev); err != nil {
		p.count(string(ev.Type), "error")
		return err
	}
	p.count(string(ev.Type), "success")
	p.logger.Info("Projected event", "event_type", ev.Type, "id", ev.Payload.ID)

	if p.exporter != nil {
		if err := p.exporter.Append(ev); err != nil {
			// The journal is a convenience export, not the source of truth.
			p.logger.Warn("Event journal append failed", "error", err)
		}
	}
	return nil
}

func (p *Projector) apply(ctx context.Context, ev event.Event) error {
	label, create := kindTarget(ev.Type)

	node, err := p.store.Get(ctx, label, ev.Payload.ID)
	switch {
	case err == nil:
	case errors.IsNotFound(err):
		if !create {
			// Update for an entity that was never created. Acking keeps the
			// queue moving; the graph stays consistent either way.
			p.logger.Warn("Update for missing entity, skipping",
				"event_type", ev.Type, "id", ev.Payload.ID)
			return nil
		}
		node = &graphstore.Node{ID: ev.Payload.ID, Label: label}
	default:
		return err
	}

	applyFields(node, ev.Payload)
	if label == graphstore.LabelScene {
		if err := p.applySceneEdges(ctx, node, ev.Payload); err != nil {
			return err
		}
	}
	return p.store.Put(ctx, node)
}

// applyFields sets exactly the fields present in the payload, trimming
// name and title the same way the validator does.
func applyFields(node *graphstore.Node, payload event.Payload) {
	if payload.Name != nil {
		node.Name = strings.TrimSpace(*payload.Name)
	}
	if payload.Title != nil {
		node.Title = strings.TrimSpace(*payload.Title)
	}
	if payload.Description != nil {
		node.Description = *payload.Description
	}
}

// applySceneEdges replaces scene relationships for the fields present in the
// payload. Targets that do not exist in the graph are dropped rather than
// dangling: a scene can only point at entities that have been projected.
func (p *Projector) applySceneEdges(ctx context.Context, node *graphstore.Node, payload event.Payload) error {
	if payload.LocationID != nil {
		targets := []string{}
		if *payload.LocationID != "" {
			ok, err := p.exists(ctx, graphstore.LabelLocation, *payload.LocationID)
			if err != nil {
				return err
			}
			if ok {
				targets = append(targets, *payload.LocationID)
			} else {
				p.logger.Warn("Scene points at missing location, dropping edge",
					"scene_id", node.ID, "location_id", *payload.LocationID)
			}
		}
		node.ReplaceEdges(graphstore.EdgeTakesPlaceIn, targets)
	}

	if payload.CharacterIDs != nil {
		targets := []string{}
		for _, id := range *payload.CharacterIDs {
			ok, err := p.exists(ctx, graphstore.LabelCharacter, id)
			if err != nil {
				return err
			}
			if ok {
				targets = append(targets, id)
			} else {
				p.logger.Warn("Scene features missing character, dropping edge",
					"scene_id", node.ID, "character_id", id)
			}
		}
		node.ReplaceEdges(graphstore.EdgeFeatures, targets)
	}
	return nil
}

func (p *Projector) exists(ctx context.Context, label, id string) (bool, error) {
	_, err := p.store.Get(ctx, label, id)
	if err == nil {
		return true, nil
	}
	if errors.IsNotFound(err) {
		return false, nil
	}
	return false, err
}

func (p *Projector) count(eventType, status string) {
	if p.metrics != nil {
		p.metrics.EventsProjected.WithLabelValues(eventType, status).Inc()
	}
}

// kindTarget maps an event kind to its node label and create/update mode.
func kindTarget(kind event.Kind) (label string, create bool) {
	switch kind {
	case event.LocationCreate:
		return graphstore.LabelLocation, true
	case event.LocationUpdate:
		return graphstore.LabelLocation, false
	case event.CharacterCreate:
		return graphstore.LabelCharacter, true
	case event.CharacterUpdate:
		return graphstore.LabelCharacter, false
	case event.SceneCreate:
		return graphstore.LabelScene, true
	case event.SceneUpdate:
		return graphstore.LabelScene, false
	case event.ConceptCreate:
		return graphstore.LabelConcept, true
	case event.ConceptUpdate:
		return graphstore.LabelConcept, false
	}
	return "", false
}
