// Package agent contains the run engine: an Agent owns one session and turns
// user messages into answers by driving a model through a bounded
// tool-calling protocol.
//
// A run moves through a fixed sequence of states:
//
//	INIT -> LOADING_SESSION -> BUILDING_PROMPT -> AWAITING_MODEL
//	     -> (EXECUTING_TOOLS -> AWAITING_MODEL)* -> FINALIZING -> COMPLETED | FAILED
//
// LOADING_SESSION merges the persisted session (when a StorageAdapter is
// configured) into the in-memory one. BUILDING_PROMPT composes the system
// message, the history window and the user prompt via the prompt package.
// Tool calls requested by one model turn run concurrently through the tool
// package and their results are appended in request order. The per-run
// ToolCallLimit bounds dispatched calls; once a call is refused the agent
// forces one final turn with tool use disabled.
//
// Only FINALIZING mutates memory and storage, so a failed or abandoned run
// leaves the session as it was. Model transport failures are the only
// errors that fail a run; tool errors, parse errors of structured output and
// storage errors are logged and degrade gracefully.
package agent
