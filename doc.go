// Package cartograph is an operational control plane for architecture maps.
//
// # Overview
//
// Cartograph turns a drawn architecture map into a live operational surface:
// every component on a map carries a state machine driven by health-check
// reports, declared actions can be invoked as tracked one-in-flight commands,
// and the whole map can be captured, diffed and synced against a declarative
// definition.
//
// The platform consists of three main components:
//   - API Server: REST API and WebSocket status stream
//   - Agents: remote processes that run checks and actions and report back
//   - Storage Layer: embedded sqlite for definitions, state and audit
//
// # Architecture
//
//	┌─────────────────┐
//	│  Map consumers  │
//	│  (REST / WS)    │
//	└────────┬────────┘
//	         │
//	┌────────▼────────┐       ┌─────────────────┐
//	│  API Server     │◄──────┤  Remote Agents  │
//	│  (Echo REST)    │       │  (checks, acks) │
//	└────────┬────────┘       └─────────────────┘
//	         │
//	┌────────▼────────┐
//	│  Storage Layer  │
//	│  (sqlite)       │
//	└─────────────────┘
//
// # Core Features
//
// Component state machines:
//   - Per-component sequential event processing, parallel across components
//   - Status precedence: transitional > override > forced failure > checks
//   - Bounded transition history and staleness sweeps
//
// Command orchestration:
//   - One in-flight command per component, timeouts and cancellation
//   - Idempotent invocation within a configurable window
//   - Durable audit trail of every command
//
// Snapshots and definition sync:
//   - Immutable point-in-time captures with per-map retention
//   - added/removed/modified/unchanged diffs against YAML definitions
//   - Export and import of author-facing map definitions
//
// # Getting Started
//
//	cartograph server --config config.yaml
//	cartograph user create admin --password <pw> --roles admin
//	cartograph token agent probe-eu-1
//
// The full HTTP surface is registered in internal/api/server.go.
package cartograph
