// Package core provides the foundational domain types and interfaces used by
// agentrun. It defines:
//
//   - Messages and ToolCalls (the units of a conversation)
//   - MemorySnapshot (the serialisable chat transcript plus model-facing history)
//   - Session (durable conversation identity, memory and metadata)
//   - StorageAdapter and KnowledgeRetriever (pluggable backends)
//   - ToolContext (the constrained surface handed to tool functions)
//   - ToolCallLimiter (the per-run bound on tool dispatches)
//
// The package keeps implementation concerns (persistence, prompt assembly,
// model transports) out of scope, exposing small interfaces so custom
// backends can be plugged in.
package core
