// Package winm is the World-in-Motion narrative knowledge service: a small
// event-driven system that maintains a property graph of locations,
// characters, scenes and concepts, and answers questions about that world
// through a language model.
//
// # Architecture
//
// Three binaries share this module:
//
//   - cmd/winm-api: the REST gateway. Validates create/update commands
//     synchronously (normalization, uniqueness), publishes graph events and
//     LLM tasks, serves reads and search from the graph store, and holds
//     completed LLM results for polling.
//   - cmd/winm-projector: the sole writer of graph state. Consumes graph
//     events in delivery order and applies them idempotently to the store.
//   - cmd/winm-worker: consumes LLM tasks, drives the model through a
//     bounded search-and-answer loop against the graph, and publishes
//     exactly one result per task.
//
// All communication between tiers flows through durable JetStream streams
// (graph.tasks, llm.tasks, llm.results); the graph itself lives in a
// JetStream KV bucket. Losing the queue never loses accepted writes, and a
// consumer restart resumes from its durable position.
//
// # Error handling
//
// Components classify failures with the errors package: validation and
// conflict errors surface to clients synchronously, upstream failures become
// error results, and transport failures are retried indefinitely at a fixed
// interval without caller involvement.
package winm
