package projector

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EKaterinaTR/winm/event"
	"github.com/EKaterinaTR/winm/graphstore"
)

func newProjector(t *testing.T) (*Projector, *graphstore.Memory) {
	t.Helper()
	store := graphstore.NewMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store, nil, nil, logger), store
}

func handle(t *testing.T, p *Projector, ev event.Event) error {
	t.Helper()
	data, err := ev.Encode()
	require.NoError(t, err)
	return p.Handle(context.Background(), data)
}

func TestHandle_CreateIsIdempotent(t *testing.T) {
	p, store := newProjector(t)

	ev := event.Event{Type: event.LocationCreate, Payload: event.Payload{
		ID:          "loc-1",
		Name:        event.Str("Tavern"),
		Description: event.Str("smoky"),
	}}

	require.NoError(t, handle(t, p, ev))
	require.NoError(t, handle(t, p, ev)) // redelivery

	assert.Equal(t, 1, store.Len())
	node, err := store.Get(context.Background(), graphstore.LabelLocation, "loc-1")
	require.NoError(t, err)
	assert.Equal(t, "Tavern", node.Name)
	assert.Equal(t, "smoky", node.Description)
}

func TestHandle_UpdateSetsOnlyPresentFields(t *testing.T) {
	p, store := newProjector(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, &graphstore.Node{
		ID: "ch-1", Label: graphstore.LabelCharacter, Name: "Mira", Description: "innkeeper",
	}))

	require.NoError(t, handle(t, p, event.Event{Type: event.CharacterUpdate, Payload: event.Payload{
		ID:   "ch-1",
		Name: event.Str("  Mira the Bold  "),
	}}))

	node, err := store.Get(ctx, graphstore.LabelCharacter, "ch-1")
	require.NoError(t, err)
	assert.Equal(t, "Mira the Bold", node.Name) // trimmed at write time
	assert.Equal(t, "innkeeper", node.Description)
}

func TestHandle_UpdateForMissingEntityIsNoOp(t *testing.T) {
	p, store := newProjector(t)

	err := handle(t, p, event.Event{Type: event.LocationUpdate, Payload: event.Payload{
		ID: "ghost", Name: event.Str("Nowhere"),
	}})
	assert.NoError(t, err) // acked, not terminated
	assert.Equal(t, 0, store.Len())
}

func TestHandle_MalformedAndUnknownAreTerminated(t *testing.T) {
	p, _ := newProjector(t)

	assert.Error(t, p.Handle(context.Background(), []byte("{not json")))
	assert.Error(t, handle(t, p, event.Event{Type: "weather.create", Payload: event.Payload{ID: "x"}}))
}

func TestHandle_SceneCreateLinksExistingTargetsOnly(t *testing.T) {
	p, store := newProjector(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, &graphstore.Node{ID: "loc-1", Label: graphstore.LabelLocation, Name: "Tavern"}))
	require.NoError(t, store.Put(ctx, &graphstore.Node{ID: "ch-1", Label: graphstore.LabelCharacter, Name: "Mira"}))

	require.NoError(t, handle(t, p, event.Event{Type: event.SceneCreate, Payload: event.Payload{
		ID:           "sc-1",
		Title:        event.Str("Opening Night"),
		LocationID:   event.Str("loc-1"),
		CharacterIDs: event.Strs([]string{"ch-1", "ch-missing"}),
	}}))

	scene, err := store.Get(ctx, graphstore.LabelScene, "sc-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"loc-1"}, scene.EdgeTargets(graphstore.EdgeTakesPlaceIn))
	assert.Equal(t, []string{"ch-1"}, scene.EdgeTargets(graphstore.EdgeFeatures))
}

func TestHandle_SceneUpdateReplacesEdges(t *testing.T) {
	p, store := newProjector(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, &graphstore.Node{ID: "loc-1", Label: graphstore.LabelLocation, Name: "Tavern"}))
	require.NoError(t, store.Put(ctx, &graphstore.Node{ID: "loc-2", Label: graphstore.LabelLocation, Name: "Docks"}))
	require.NoError(t, store.Put(ctx, &graphstore.Node{ID: "ch-1", Label: graphstore.LabelCharacter, Name: "Mira"}))
	require.NoError(t, store.Put(ctx, &graphstore.Node{ID: "sc-1", Label: graphstore.LabelScene, Title: "Opening Night",
		Edges: []graphstore.Edge{
			{Type: graphstore.EdgeTakesPlaceIn, TargetID: "loc-1"},
			{Type: graphstore.EdgeFeatures, TargetID: "ch-1"},
		}}))

	// Move the scene and clear its cast. The empty character list means
	// "remove all", not "leave unchanged".
	require.NoError(t, handle(t, p, event.Event{Type: event.SceneUpdate, Payload: event.Payload{
		ID:           "sc-1",
		LocationID:   event.Str("loc-2"),
		CharacterIDs: event.Strs([]string{}),
	}}))

	scene, err := store.Get(ctx, graphstore.LabelScene, "sc-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"loc-2"}, scene.EdgeTargets(graphstore.EdgeTakesPlaceIn))
	assert.Empty(t, scene.EdgeTargets(graphstore.EdgeFeatures))
	assert.Equal(t, "Opening Night", scene.Title) // untouched
}

func TestHandle_SceneUpdateWithoutRelationshipFieldsKeepsEdges(t *testing.T) {
	p, store := newProjector(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, &graphstore.Node{ID: "sc-1", Label: graphstore.LabelScene, Title: "Opening Night",
		Edges: []graphstore.Edge{{Type: graphstore.EdgeFeatures, TargetID: "ch-1"}}}))

	require.NoError(t, handle(t, p, event.Event{Type: event.SceneUpdate, Payload: event.Payload{
		ID:          "sc-1",
		Description: event.Str("a fresh start"),
	}}))

	scene, err := store.Get(ctx, graphstore.LabelScene, "sc-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"ch-1"}, scene.EdgeTargets(graphstore.EdgeFeatures))
	assert.Equal(t, "a fresh start", scene.Description)
}

func TestExporter_AppendsJSONL(t *testing.T) {
	dir := t.TempDir()
	exporter, err := NewExporter(dir)
	require.NoError(t, err)
	require.NotNil(t, exporter)

	store := graphstore.NewMemory()
	p := New(store, exporter, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	require.NoError(t, handle(t, p, event.Event{Type: event.LocationCreate, Payload: event.Payload{
		ID: "loc-1", Name: event.Str("Tavern"),
	}}))
	require.NoError(t, handle(t, p, event.Event{Type: event.ConceptCreate, Payload: event.Payload{
		ID: "co-1", Name: event.Str("Honor"),
	}}))

	f, err := os.Open(filepath.Join(dir, "events.jsonl"))
	require.NoError(t, err)
	defer f.Close()

	var lines []struct {
		Event event.Event `json:"event"`
	}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var line struct {
			Event event.Event `json:"event"`
		}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		lines = append(lines, line)
	}
	require.NoError(t, scanner.Err())

	require.Len(t, lines, 2)
	assert.Equal(t, event.LocationCreate, lines[0].Event.Type)
	assert.Equal(t, "co-1", lines[1].Event.Payload.ID)
}

func TestNewExporter_EmptyDirDisables(t *testing.T) {
	exporter, err := NewExporter("")
	require.NoError(t, err)
	assert.Nil(t, exporter)
}
