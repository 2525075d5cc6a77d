// Package memory holds the in-process conversation memory of one session.
//
// A Store keeps two lists with different purposes: the chat history (what
// the user said and what the agent answered) and the model-facing messages
// of the latest run (system prompt, history window, tool turns). The core
// package defines the serialisable MemorySnapshot; Store wraps it with
// concurrency-safe accessors, the load merge rule and the chat/tool-call
// views used by prompts and built-in tools.
package memory
