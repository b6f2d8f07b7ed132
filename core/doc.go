// Package core provides the foundational domain types and interfaces shared by
// every Colloquy component. It defines:
//
//   - AgentHandle (the opaque send/receive contract of a conversational agent)
//   - Exchanges and Interjections (the append-only dialogue record)
//   - DialogueState and DialogueConfig (scheduler state and enumerated options)
//   - Events and their payloads (the spectator wire contract)
//   - Snapshots (the persisted, replayable session document)
//   - The error taxonomy and the uniform Result envelope
//   - Collaborator interfaces for rate limiting, memory context and storage
//
// The package keeps implementation concerns (scheduling, persistence,
// providers) out of scope and exposes small interfaces so that backends can be
// swapped without touching the orchestration core.
package core
